package providers

import (
	"sort"
	"strings"

	"github.com/iabuilder/iabuilder/internal/engine"
)

// streamAccumulator assembles one ChatResponse from streaming deltas. Tool
// call fragments are merged strictly by index slot: several providers omit
// the id after a call's first fragment and at least one repeats ids across
// different calls, so the index is the only trustworthy correlator. Within
// a slot id, type and name are last-write-wins and arguments concatenate in
// arrival order.
type streamAccumulator struct {
	content strings.Builder
	slots   map[int]*toolCallSlot
	finish  string
	usage   *engine.Usage
}

type toolCallSlot struct {
	id   string
	typ  string
	name string
	args strings.Builder
}

func newStreamAccumulator() *streamAccumulator {
	return &streamAccumulator{slots: make(map[int]*toolCallSlot)}
}

func (a *streamAccumulator) addContent(delta string) {
	a.content.WriteString(delta)
}

func (a *streamAccumulator) addToolCallDelta(index int, id, typ, name, args string) {
	slot, ok := a.slots[index]
	if !ok {
		slot = &toolCallSlot{}
		a.slots[index] = slot
	}
	if id != "" {
		slot.id = id
	}
	if typ != "" {
		slot.typ = typ
	}
	if name != "" {
		slot.name = name
	}
	slot.args.WriteString(args)
}

func (a *streamAccumulator) setFinish(reason string) {
	if reason != "" {
		a.finish = reason
	}
}

func (a *streamAccumulator) setUsage(u engine.Usage) {
	a.usage = &u
}

// response builds the assembled ChatResponse. Slots come out in index
// order; a slot that never received a name is dropped as noise. When the
// provider signalled no finish reason it defaults to "tool_calls" if calls
// are present, else "stop".
func (a *streamAccumulator) response() engine.ChatResponse {
	indexes := make([]int, 0, len(a.slots))
	for idx := range a.slots {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	var calls []engine.ToolCall
	for _, idx := range indexes {
		slot := a.slots[idx]
		if slot.name == "" {
			continue
		}
		typ := slot.typ
		if typ == "" {
			typ = "function"
		}
		calls = append(calls, engine.ToolCall{
			ID:   slot.id,
			Type: typ,
			Function: engine.FunctionCall{
				Name:      slot.name,
				Arguments: slot.args.String(),
			},
		})
	}

	finish := a.finish
	if finish == "" {
		if len(calls) > 0 {
			finish = engine.FinishToolCalls
		} else {
			finish = engine.FinishStop
		}
	}

	return engine.ChatResponse{
		Content:      a.content.String(),
		ToolCalls:    calls,
		FinishReason: finish,
		Usage:        a.usage,
	}
}

// cancelled finalises the accumulator for a caller abort: whatever content
// arrived is kept and the finish reason marks the cut.
func (a *streamAccumulator) cancelled() engine.ChatResponse {
	resp := a.response()
	resp.FinishReason = engine.FinishCancelled
	return resp
}
