package engine

import (
	"context"
	"reflect"
	"strings"
	"testing"
)

const echoSchema = `{
	"type": "object",
	"properties": {
		"text": {"type": "string"}
	},
	"required": ["text"]
}`

func echoTool() Tool {
	return Tool{
		Name:        "echo",
		Description: "Echoes text back.",
		SchemaJSON:  echoSchema,
		Fn: func(ctx context.Context, args map[string]any) ToolResult {
			return Success(map[string]any{"echoed": args["text"]}, "echoed")
		},
	}
}

func TestRegisterValidation(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Register(Tool{SchemaJSON: "{}", Fn: func(context.Context, map[string]any) ToolResult { return ToolResult{} }}); err == nil {
		t.Error("nameless tool should be rejected")
	}
	if err := reg.Register(Tool{Name: "x", SchemaJSON: "{}"}); err == nil {
		t.Error("tool without implementation should be rejected")
	}
	if err := reg.Register(Tool{Name: "x", SchemaJSON: "{nope", Fn: func(context.Context, map[string]any) ToolResult { return ToolResult{} }}); err == nil {
		t.Error("tool with malformed schema should be rejected")
	}
	if err := reg.Register(echoTool()); err != nil {
		t.Errorf("valid tool rejected: %v", err)
	}
}

func TestRegistrationOrder(t *testing.T) {
	reg := NewRegistry()
	noop := func(context.Context, map[string]any) ToolResult { return ToolResult{Success: true} }

	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := reg.Register(Tool{Name: name, SchemaJSON: "{}", Fn: noop}); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}
	// Re-registering must not duplicate or reorder.
	if err := reg.Register(Tool{Name: "alpha", SchemaJSON: "{}", Fn: noop}); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	want := []string{"zeta", "alpha", "mid"}
	if got := reg.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names = %v, want %v", got, want)
	}

	schemas := reg.Schemas()
	if len(schemas) != 3 || schemas[0].Name != "zeta" || schemas[2].Name != "mid" {
		t.Errorf("Schemas order wrong: %+v", schemas)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(echoTool()); err != nil {
		t.Fatal(err)
	}

	res := reg.Execute(context.Background(), "delete_everything", "{}")
	if res.Success {
		t.Fatal("unknown tool should fail")
	}
	if !strings.Contains(res.Error, "Tool 'delete_everything' not found") {
		t.Errorf("error = %q", res.Error)
	}
	if !strings.Contains(res.Error, "Available: echo") {
		t.Errorf("error should list available tools: %q", res.Error)
	}
}

func TestExecuteDecodeError(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(echoTool()); err != nil {
		t.Fatal(err)
	}

	res := reg.Execute(context.Background(), "echo", `{"text": `)
	if res.Success || res.ErrorType != "json_decode_error" {
		t.Errorf("res = %+v, want json_decode_error", res)
	}
}

func TestExecuteValidationError(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(echoTool()); err != nil {
		t.Fatal(err)
	}

	tests := []string{
		`{}`,            // missing required field
		`{"text": 42}`,  // wrong type
		`{"text": nul}`, // decode error has its own type; this one is malformed
	}

	res := reg.Execute(context.Background(), "echo", tests[0])
	if res.ErrorType != "validation_error" {
		t.Errorf("missing field: ErrorType = %q, want validation_error", res.ErrorType)
	}
	res = reg.Execute(context.Background(), "echo", tests[1])
	if res.ErrorType != "validation_error" {
		t.Errorf("wrong type: ErrorType = %q, want validation_error", res.ErrorType)
	}
	res = reg.Execute(context.Background(), "echo", tests[2])
	if res.ErrorType != "json_decode_error" {
		t.Errorf("malformed: ErrorType = %q, want json_decode_error", res.ErrorType)
	}
}

func TestExecuteEmptyArguments(t *testing.T) {
	reg := NewRegistry()
	ran := false
	reg.Register(Tool{
		Name:       "noargs",
		SchemaJSON: `{"type": "object"}`,
		Fn: func(ctx context.Context, args map[string]any) ToolResult {
			ran = true
			return Success(nil, "done")
		},
	})

	for _, argsJSON := range []string{"", "null", "{}"} {
		ran = false
		res := reg.Execute(context.Background(), "noargs", argsJSON)
		if !res.Success || !ran {
			t.Errorf("args %q: res = %+v, ran = %v", argsJSON, res, ran)
		}
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	reg := NewRegistry()
	reg.Register(Tool{
		Name:       "boom",
		SchemaJSON: `{"type": "object"}`,
		Fn: func(ctx context.Context, args map[string]any) ToolResult {
			panic("kaboom")
		},
	})

	res := reg.Execute(context.Background(), "boom", "{}")
	if res.Success {
		t.Fatal("panicking tool should report failure")
	}
	if !strings.Contains(res.Error, "kaboom") {
		t.Errorf("error = %q, want panic payload", res.Error)
	}
}

func TestExecuteRunsTool(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(echoTool()); err != nil {
		t.Fatal(err)
	}

	res := reg.Execute(context.Background(), "echo", `{"text": "hi"}`)
	if !res.Success {
		t.Fatalf("res = %+v", res)
	}
	payload, ok := res.Result.(map[string]any)
	if !ok || payload["echoed"] != "hi" {
		t.Errorf("payload = %+v", res.Result)
	}
}

func TestToolResultJSON(t *testing.T) {
	res := Success(map[string]any{"n": 1}, "one")
	got := res.JSON()
	for _, want := range []string{`"success":true`, `"n":1`, `"summary":"one"`} {
		if !strings.Contains(got, want) {
			t.Errorf("JSON = %s, missing %s", got, want)
		}
	}

	fail := Failuref("file %s missing", "a.txt")
	got = fail.JSON()
	if !strings.Contains(got, `"success":false`) || !strings.Contains(got, "a.txt missing") {
		t.Errorf("JSON = %s", got)
	}
	if strings.Contains(got, `"result"`) {
		t.Error("empty result should be omitted")
	}
}
