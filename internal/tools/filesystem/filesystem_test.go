package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fixedResolver resolves a fixed set of references, standing in for the
// project index.
type fixedResolver map[string]string

func (r fixedResolver) Resolve(reference string) (string, bool) {
	path, ok := r[reference]
	return path, ok
}

func writeTestFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestReadFileFullContents(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "notes.txt", "one\ntwo\nthree\n")

	res := readFileImpl(root, "notes.txt", 1, -1, nil)
	if !res.Success {
		t.Fatalf("read failed: %s", res.Error)
	}
	payload := res.Result.(map[string]any)
	if payload["content"] != "one\ntwo\nthree" {
		t.Errorf("content = %q", payload["content"])
	}
	if payload["total_lines"] != 3 {
		t.Errorf("total_lines = %v, want 3", payload["total_lines"])
	}
}

func TestReadFileLineRange(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "notes.txt", "one\ntwo\nthree\nfour\n")

	res := readFileImpl(root, "notes.txt", 2, 3, nil)
	if !res.Success {
		t.Fatalf("read failed: %s", res.Error)
	}
	payload := res.Result.(map[string]any)
	if payload["content"] != "two\nthree" {
		t.Errorf("content = %q, want lines 2-3", payload["content"])
	}

	// end_line past the end clamps.
	res = readFileImpl(root, "notes.txt", 4, 99, nil)
	if !res.Success {
		t.Fatalf("read failed: %s", res.Error)
	}
	if got := res.Result.(map[string]any)["content"]; got != "four" {
		t.Errorf("content = %q, want four", got)
	}

	// start past the end fails.
	if res := readFileImpl(root, "notes.txt", 5, -1, nil); res.Success {
		t.Error("start_line beyond EOF should fail")
	}
	// inverted range fails.
	if res := readFileImpl(root, "notes.txt", 3, 2, nil); res.Success {
		t.Error("inverted range should fail")
	}
}

func TestReadFileFailures(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "blob.bin", "PNG\x00\x01\x02")
	if err := os.MkdirAll(filepath.Join(root, "subdir"), 0755); err != nil {
		t.Fatal(err)
	}

	if res := readFileImpl(root, "missing.txt", 1, -1, nil); res.Success {
		t.Error("missing file should fail")
	}
	if res := readFileImpl(root, "subdir", 1, -1, nil); res.Success || !strings.Contains(res.Error, "directory") {
		t.Errorf("directory read should fail with a directory error, got %+v", res)
	}
	if res := readFileImpl(root, "blob.bin", 1, -1, nil); res.Success || !strings.Contains(res.Error, "binary") {
		t.Errorf("binary read should fail with a binary error, got %+v", res)
	}
	if res := readFileImpl(root, "../outside.txt", 1, -1, nil); res.Success {
		t.Error("path escape should fail")
	}
}

func TestReadFileResolvesReference(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "README.md", "# hi\n")

	resolver := fixedResolver{"the readme": "README.md"}
	res := readFileImpl(root, "the readme", 1, -1, resolver)
	if !res.Success {
		t.Fatalf("resolver read failed: %s", res.Error)
	}
	payload := res.Result.(map[string]any)
	if payload["path"] != "README.md" {
		t.Errorf("path = %v, want README.md", payload["path"])
	}

	// Unresolvable references keep the not-found failure.
	if res := readFileImpl(root, "the changelog", 1, -1, resolver); res.Success {
		t.Error("unresolvable reference should fail")
	}
}

func TestWriteFileCreatesParents(t *testing.T) {
	root := t.TempDir()

	res := writeFileImpl(root, "deep/nested/out.txt", "hello")
	if !res.Success {
		t.Fatalf("write failed: %s", res.Error)
	}

	data, err := os.ReadFile(filepath.Join(root, "deep/nested/out.txt"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("content = %q", data)
	}
	if res.Result.(map[string]any)["bytes_written"] != 5 {
		t.Errorf("bytes_written = %v, want 5", res.Result.(map[string]any)["bytes_written"])
	}
}

func TestWriteFileReplaces(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "f.txt", "old old old")

	if res := writeFileImpl(root, "f.txt", "new"); !res.Success {
		t.Fatalf("write failed: %s", res.Error)
	}
	data, _ := os.ReadFile(filepath.Join(root, "f.txt"))
	if string(data) != "new" {
		t.Errorf("content = %q, want full replacement", data)
	}

	// No orphaned temp files left behind.
	entries, _ := os.ReadDir(root)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".write_file-") {
			t.Errorf("temp file %s left behind", e.Name())
		}
	}
}

func TestWriteFileRejectsEscape(t *testing.T) {
	root := t.TempDir()
	if res := writeFileImpl(root, "../escape.txt", "x"); res.Success {
		t.Error("path escape should fail")
	}
}

func TestWriteFileRejectsDirectoryTarget(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "pkg"), 0755); err != nil {
		t.Fatal(err)
	}
	if res := writeFileImpl(root, "pkg", "x"); res.Success {
		t.Error("writing over a directory should fail")
	}
}

func TestEditFileSingleReplacement(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "main.go", "package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n")

	res := editFileImpl(root, "main.go", `println("hi")`, `println("bye")`, false)
	if !res.Success {
		t.Fatalf("edit failed: %s", res.Error)
	}
	if res.Result.(map[string]any)["replacements"] != 1 {
		t.Errorf("replacements = %v, want 1", res.Result.(map[string]any)["replacements"])
	}
	data, _ := os.ReadFile(filepath.Join(root, "main.go"))
	if !strings.Contains(string(data), `println("bye")`) {
		t.Errorf("edit not applied: %s", data)
	}
}

func TestEditFileAmbiguousWithoutReplaceAll(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "f.txt", "x = 1\nx = 1\n")

	res := editFileImpl(root, "f.txt", "x = 1", "x = 2", false)
	if res.Success {
		t.Fatal("ambiguous edit should fail")
	}
	if !strings.Contains(res.Error, "2 times") {
		t.Errorf("error should report the count, got %q", res.Error)
	}

	res = editFileImpl(root, "f.txt", "x = 1", "x = 2", true)
	if !res.Success {
		t.Fatalf("replace_all edit failed: %s", res.Error)
	}
	if res.Result.(map[string]any)["replacements"] != 2 {
		t.Errorf("replacements = %v, want 2", res.Result.(map[string]any)["replacements"])
	}
}

func TestEditFileMissingText(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "f.txt", "func main() {\n    doWork()\n}\n")

	res := editFileImpl(root, "f.txt", "absent text", "x", false)
	if res.Success || !strings.Contains(res.Error, "not found") {
		t.Errorf("missing old_text should fail with not found, got %+v", res)
	}

	// Same text with different whitespace gets the hint.
	res = editFileImpl(root, "f.txt", "func main() {\n\tdoWork()\n}", "x", false)
	if res.Success {
		t.Fatal("whitespace-mismatched old_text should fail")
	}
	if !strings.Contains(res.Error, "whitespace") {
		t.Errorf("error should hint at whitespace, got %q", res.Error)
	}
}

func TestEditFileIdenticalTexts(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "f.txt", "same\n")

	if res := editFileImpl(root, "f.txt", "same", "same", false); res.Success {
		t.Error("identical old_text and new_text should fail")
	}
}

func TestToolWrappers(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "a.txt", "alpha\nbeta\n")
	ctx := context.Background()

	read := NewReadFileTool(root, nil)
	res := read.Fn(ctx, map[string]any{"file_path": "a.txt", "start_line": float64(2)})
	if !res.Success {
		t.Fatalf("read_file: %s", res.Error)
	}
	if res.Result.(map[string]any)["content"] != "beta" {
		t.Errorf("content = %v", res.Result.(map[string]any)["content"])
	}

	write := NewWriteFileTool(root)
	if res := write.Fn(ctx, map[string]any{"file_path": "b.txt", "content": "x"}); !res.Success {
		t.Fatalf("write_file: %s", res.Error)
	}

	edit := NewEditFileTool(root)
	if res := edit.Fn(ctx, map[string]any{"file_path": "b.txt", "old_text": "x", "new_text": "y"}); !res.Success {
		t.Fatalf("edit_file: %s", res.Error)
	}
	data, _ := os.ReadFile(filepath.Join(root, "b.txt"))
	if string(data) != "y" {
		t.Errorf("b.txt = %q, want y", data)
	}
}
