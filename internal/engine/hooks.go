package engine

import "time"

// Hooks are optional observation points the REPL wires up for rendering.
// Any field may be nil. The agent never writes to stdout itself; everything
// user-visible flows through here.
type Hooks struct {
	// OnChunk receives streamed text deltas as they arrive.
	OnChunk func(chunk string)
	// OnNotice receives short out-of-band messages (iteration cap reached,
	// request cancelled, ...).
	OnNotice func(msg string)
	// OnToolCall fires before a tool is dispatched.
	OnToolCall func(name, args string)
	// OnToolResult fires after a tool finishes.
	OnToolResult func(name string, result ToolResult)
	// OnRetry fires before each retry sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

func (h Hooks) chunk(s string) {
	if h.OnChunk != nil {
		h.OnChunk(s)
	}
}

func (h Hooks) notice(msg string) {
	if h.OnNotice != nil {
		h.OnNotice(msg)
	}
}

func (h Hooks) toolCall(name, args string) {
	if h.OnToolCall != nil {
		h.OnToolCall(name, args)
	}
}

func (h Hooks) toolResult(name string, result ToolResult) {
	if h.OnToolResult != nil {
		h.OnToolResult(name, result)
	}
}

func (h Hooks) retry(attempt int, delay time.Duration, err error) {
	if h.OnRetry != nil {
		h.OnRetry(attempt, delay, err)
	}
}
