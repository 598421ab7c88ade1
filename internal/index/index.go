// Package index maintains an in-memory search index over the project tree so
// conversational file references ("the readme", "el archivo html") can be
// resolved to real paths.
package index

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	gitignore "github.com/sabhiram/go-gitignore"
)

// contentHeadBytes caps how much of each file is indexed for full-text
// matching. Path and name resolution never needs more.
const contentHeadBytes = 4096

// DefaultIgnorePatterns are directories and files skipped regardless of
// .gitignore contents.
var DefaultIgnorePatterns = []string{
	".git",
	".iabuilder",
	"node_modules",
	"dist",
	"build",
	"vendor",
	"__pycache__",
	"coverage",
	".next",
	".cache",
	"target",
	".idea",
	".vscode",
	".DS_Store",
}

// fillerWords are dropped from a reference before matching, so "the readme"
// and "el archivo html" reduce to the terms that identify a file.
var fillerWords = map[string]bool{
	"the": true, "a": true, "an": true, "this": true, "that": true,
	"file": true, "files": true, "of": true, "in": true,
	"project": true, "repo": true, "repository": true,
	"open": true, "read": true, "show": true, "me": true, "please": true,
	"el": true, "la": true, "los": true, "las": true,
	"un": true, "una": true, "de": true, "del": true,
	"archivo": true, "archivos": true, "fichero": true, "ficheros": true,
	"abre": true, "lee": true, "muestra": true, "por": true, "favor": true,
}

// Entry is one indexed file.
type Entry struct {
	Path string // relative to the project root, forward slashes
	Name string // base name
	Ext  string // lowercased extension without the dot, "" when none
	Size int64
}

// Index is an in-memory bleve index over the project's files. All methods
// are safe for concurrent use once New returns.
type Index struct {
	root   string
	ignore gitignore.IgnoreParser
	idx    bleve.Index

	mu      sync.RWMutex
	entries map[string]Entry

	watch *watcher
}

// New scans root and builds the index. The scan respects the root
// .gitignore plus DefaultIgnorePatterns.
func New(root string) (*Index, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}

	patterns := make([]string, 0, len(DefaultIgnorePatterns)+16)
	patterns = append(patterns, DefaultIgnorePatterns...)
	patterns = append(patterns, readGitignoreLines(filepath.Join(abs, ".gitignore"))...)

	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create search index: %w", err)
	}

	ix := &Index{
		root:    abs,
		ignore:  gitignore.CompileIgnoreLines(patterns...),
		idx:     idx,
		entries: make(map[string]Entry),
	}

	if err := ix.scan(); err != nil {
		idx.Close()
		return nil, err
	}
	return ix, nil
}

// buildIndexMapping maps one document per file: stored keyword path,
// analyzed name and content head, keyword extension.
func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	pathField := bleve.NewTextFieldMapping()
	pathField.Analyzer = keyword.Name
	pathField.Store = true
	pathField.Index = true
	doc.AddFieldMappingsAt("path", pathField)

	nameField := bleve.NewTextFieldMapping()
	nameField.Analyzer = standard.Name
	nameField.Store = false
	nameField.Index = true
	doc.AddFieldMappingsAt("name", nameField)

	extField := bleve.NewTextFieldMapping()
	extField.Analyzer = keyword.Name
	extField.Store = false
	extField.Index = true
	doc.AddFieldMappingsAt("ext", extField)

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = standard.Name
	contentField.Store = false
	contentField.Index = true
	doc.AddFieldMappingsAt("content", contentField)

	indexMapping.DefaultMapping = doc
	return indexMapping
}

// scan walks the tree once and batch-indexes every regular file that the
// ignore rules admit.
func (ix *Index) scan() error {
	batch := ix.idx.NewBatch()

	filepath.WalkDir(ix.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, rerr := filepath.Rel(ix.root, path)
		if rerr != nil || rel == "." {
			return nil
		}
		if ix.ignore.MatchesPath(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}
		entry := newEntry(rel, info.Size())
		if berr := batch.Index(entry.Path, ix.document(entry)); berr != nil {
			return nil
		}
		ix.entries[entry.Path] = entry
		return nil
	})

	if err := ix.idx.Batch(batch); err != nil {
		return fmt.Errorf("failed to populate search index: %w", err)
	}
	return nil
}

func newEntry(rel string, size int64) Entry {
	rel = filepath.ToSlash(rel)
	return Entry{
		Path: rel,
		Name: filepath.Base(rel),
		Ext:  strings.TrimPrefix(strings.ToLower(filepath.Ext(rel)), "."),
		Size: size,
	}
}

// document builds the bleve document for an entry. Binary files contribute
// no content field.
func (ix *Index) document(e Entry) map[string]any {
	doc := map[string]any{
		"path": e.Path,
		"name": e.Name,
		"ext":  e.Ext,
	}
	if head := readTextHead(filepath.Join(ix.root, e.Path)); head != "" {
		doc["content"] = head
	}
	return doc
}

// readTextHead returns up to contentHeadBytes of a file, or "" when the
// head looks binary.
func readTextHead(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	buf := make([]byte, contentHeadBytes)
	n, _ := io.ReadFull(f, buf)
	if n == 0 {
		return ""
	}
	head := buf[:n]
	if bytes.IndexByte(head, 0) >= 0 {
		return ""
	}
	return string(head)
}

// readGitignoreLines loads non-comment patterns from a .gitignore file.
func readGitignoreLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// Len returns the number of indexed files.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Resolve maps a conversational file reference to a relative path. It tries,
// in order: an exact relative path, a base-name match, an extension
// reference, and finally a full-text search. Ties go to the shortest path.
func (ix *Index) Resolve(reference string) (string, bool) {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return "", false
	}

	ix.mu.RLock()
	if path, ok := ix.lookupPath(ref); ok {
		ix.mu.RUnlock()
		return path, true
	}

	tokens := meaningfulTokens(ref)
	if len(tokens) == 0 {
		ix.mu.RUnlock()
		return "", false
	}

	if len(tokens) == 1 {
		if path, ok := ix.lookupName(tokens[0]); ok {
			ix.mu.RUnlock()
			return path, true
		}
		if path, ok := ix.lookupExt(tokens[0]); ok {
			ix.mu.RUnlock()
			return path, true
		}
	}
	ix.mu.RUnlock()

	return ix.searchTopHit(strings.Join(tokens, " "))
}

// lookupPath matches a reference given as a relative path, case-insensitively.
// The caller holds ix.mu, as for lookupName and lookupExt.
func (ix *Index) lookupPath(ref string) (string, bool) {
	clean := filepath.ToSlash(filepath.Clean(ref))
	clean = strings.TrimPrefix(clean, "./")
	if _, ok := ix.entries[clean]; ok {
		return clean, true
	}
	lower := strings.ToLower(clean)
	for path := range ix.entries {
		if strings.ToLower(path) == lower {
			return path, true
		}
	}
	return "", false
}

// lookupName matches a single token against base names, with and without
// their extension, so "readme" finds README.md and "main.go" finds
// src/main.go.
func (ix *Index) lookupName(token string) (string, bool) {
	var exact, stem []string
	for path, e := range ix.entries {
		name := strings.ToLower(e.Name)
		if name == token {
			exact = append(exact, path)
			continue
		}
		if strings.TrimSuffix(name, filepath.Ext(name)) == token {
			stem = append(stem, path)
		}
	}
	if p, ok := shortest(exact); ok {
		return p, true
	}
	return shortest(stem)
}

// lookupExt matches a single token naming an extension that exists in the
// tree ("html" for index.html).
func (ix *Index) lookupExt(token string) (string, bool) {
	token = strings.TrimPrefix(token, ".")
	var matches []string
	for path, e := range ix.entries {
		if e.Ext != "" && e.Ext == token {
			matches = append(matches, path)
		}
	}
	return shortest(matches)
}

// searchTopHit runs a bleve match query and returns the best-scoring path.
func (ix *Index) searchTopHit(query string) (string, bool) {
	req := bleve.NewSearchRequest(bleve.NewMatchQuery(query))
	req.Size = 5
	req.Fields = []string{"path"}

	res, err := ix.idx.Search(req)
	if err != nil || len(res.Hits) == 0 {
		return "", false
	}

	hit := res.Hits[0].ID
	ix.mu.RLock()
	_, ok := ix.entries[hit]
	ix.mu.RUnlock()
	return hit, ok
}

// shortest picks the shortest path, breaking length ties lexicographically.
func shortest(paths []string) (string, bool) {
	if len(paths) == 0 {
		return "", false
	}
	sort.Slice(paths, func(i, j int) bool {
		if len(paths[i]) != len(paths[j]) {
			return len(paths[i]) < len(paths[j])
		}
		return paths[i] < paths[j]
	})
	return paths[0], true
}

// meaningfulTokens lowercases and splits a reference, dropping filler words.
func meaningfulTokens(ref string) []string {
	fields := strings.FieldsFunc(strings.ToLower(ref), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '"' || r == '\''
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if f == "" || fillerWords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// reindex refreshes a set of relative paths after filesystem changes:
// missing files are dropped, present ones re-indexed.
func (ix *Index) reindex(paths []string) {
	for _, rel := range paths {
		rel = filepath.ToSlash(rel)
		full := filepath.Join(ix.root, rel)

		st, err := os.Stat(full)
		if err != nil || st.IsDir() {
			ix.mu.Lock()
			_, existed := ix.entries[rel]
			delete(ix.entries, rel)
			ix.mu.Unlock()
			if existed {
				ix.idx.Delete(rel)
			}
			continue
		}

		entry := newEntry(rel, st.Size())
		if err := ix.idx.Index(entry.Path, ix.document(entry)); err != nil {
			continue
		}
		ix.mu.Lock()
		ix.entries[entry.Path] = entry
		ix.mu.Unlock()
	}
}

// Close stops the watcher, if started, and releases the index.
func (ix *Index) Close() error {
	if ix.watch != nil {
		ix.watch.stop()
		ix.watch = nil
	}
	return ix.idx.Close()
}
