package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iabuilder/iabuilder/internal/engine"
)

const (
	// toolResultLimit caps tool output when folded into plain text for
	// models without native tool messages.
	toolResultLimit = 2000
	// argDisplayLimit caps the argument echo in the "Ejecuté" rendering.
	argDisplayLimit = 200
	// estCharsPerToken is the heuristic used for the compression trigger.
	estCharsPerToken = 4
)

// Conversation owns the message log for one session and is its exclusive
// mutator. Every append normalises tool calls into the canonical shape,
// consults the compressor and persists the updated log.
type Conversation struct {
	sessionID    string
	createdAt    time.Time
	lastUpdated  time.Time
	compressions int
	messages     []engine.Message
	store        *Store      // nil disables persistence
	compressor   *Compressor // nil disables compression
	provider     string
	model        string
}

// NewConversation starts an empty conversation with a fresh timestamp id.
// store and compressor may each be nil.
func NewConversation(store *Store, compressor *Compressor, provider, model string) *Conversation {
	now := time.Now()
	return &Conversation{
		sessionID:   NewSessionID(now),
		createdAt:   now,
		lastUpdated: now,
		store:       store,
		compressor:  compressor,
		provider:    provider,
		model:       model,
	}
}

// Resume rebuilds a conversation from a stored session, keeping its id so
// subsequent appends land in the same file.
func Resume(store *Store, compressor *Compressor, sess *Session) *Conversation {
	return &Conversation{
		sessionID:    sess.SessionID,
		createdAt:    sess.Metadata.CreatedAt,
		lastUpdated:  sess.Metadata.LastUpdated,
		compressions: sess.Metadata.CompressionCount,
		messages:     append([]engine.Message(nil), sess.Messages...),
		store:        store,
		compressor:   compressor,
		provider:     sess.Metadata.Provider,
		model:        sess.Metadata.Model,
	}
}

func (c *Conversation) SessionID() string { return c.sessionID }
func (c *Conversation) Len() int          { return len(c.messages) }
func (c *Conversation) Compressions() int { return c.compressions }

// Messages returns a copy of the log.
func (c *Conversation) Messages() []engine.Message {
	out := make([]engine.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// SetModelInfo updates the metadata recorded in the session file after a
// model or provider switch.
func (c *Conversation) SetModelInfo(provider, model string) {
	c.provider = provider
	c.model = model
}

// Append adds one message to the log. The compressor runs before insertion
// so an incoming message is never summarised away in the same call that
// delivered it. A compression failure does not lose the message: the append
// and persist still happen, and the error is reported afterwards.
func (c *Conversation) Append(msg engine.Message) error {
	var compressErr error
	if c.compressor != nil && c.compressor.ShouldCompress(c.EstimatedTokens()) {
		_, compressErr = c.compressor.Compress(c)
	}

	normalizeMessage(&msg)
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	c.messages = append(c.messages, msg)
	c.lastUpdated = msg.Timestamp

	if err := c.persist(); err != nil {
		return err
	}
	return compressErr
}

// Compress runs compression unconditionally (the /compress command).
// It reports whether anything was folded.
func (c *Conversation) Compress() (bool, error) {
	if c.compressor == nil {
		return false, nil
	}
	return c.compressor.Compress(c)
}

// EstimatedTokens applies the 4-chars-per-token heuristic across message
// content and JSON-encoded tool call arguments.
func (c *Conversation) EstimatedTokens() int {
	chars := 0
	for _, m := range c.messages {
		chars += len(m.Content)
		for _, tc := range m.ToolCalls {
			chars += len(tc.Function.Name) + len(tc.Function.Arguments)
		}
	}
	return chars / estCharsPerToken
}

// MessagesForAPI renders the log for the wire. With convertToolsToText the
// tool traffic is folded into plain text: assistant tool calls become
// "Ejecuté name(args)" lines and each tool result becomes a user message
// prefixed "[Resultado de name]:", truncated at 2000 characters. This is
// the universal fallback for models without native tool message support.
func (c *Conversation) MessagesForAPI(convertToolsToText bool) []engine.Message {
	out := make([]engine.Message, 0, len(c.messages))
	for _, m := range c.messages {
		if !convertToolsToText {
			out = append(out, m)
			continue
		}

		switch {
		case m.Role == engine.RoleAssistant && len(m.ToolCalls) > 0:
			var b strings.Builder
			for i, tc := range m.ToolCalls {
				if i > 0 {
					b.WriteString("\n")
				}
				fmt.Fprintf(&b, "Ejecuté %s(%s)", tc.Function.Name, truncateRunes(strings.TrimSpace(tc.Function.Arguments), argDisplayLimit))
			}
			if strings.TrimSpace(m.Content) != "" {
				b.WriteString("\n")
				b.WriteString(m.Content)
			}
			out = append(out, engine.Message{
				Role:      engine.RoleAssistant,
				Content:   b.String(),
				Timestamp: m.Timestamp,
			})

		case m.Role == engine.RoleTool:
			out = append(out, engine.Message{
				Role:      engine.RoleUser,
				Content:   fmt.Sprintf("[Resultado de %s]: %s", m.ToolName, truncateRunes(m.Content, toolResultLimit)),
				Timestamp: m.Timestamp,
			})

		default:
			out = append(out, m)
		}
	}
	return out
}

func (c *Conversation) persist() error {
	if c.store == nil {
		return nil
	}
	return c.store.Save(c.snapshot())
}

func (c *Conversation) snapshot() *Session {
	msgs := make([]engine.Message, len(c.messages))
	copy(msgs, c.messages)
	return &Session{
		SessionID: c.sessionID,
		Metadata: Metadata{
			CreatedAt:        c.createdAt,
			LastUpdated:      c.lastUpdated,
			Provider:         c.provider,
			Model:            c.model,
			MessageCount:     len(c.messages),
			CompressionCount: c.compressions,
		},
		Messages: msgs,
	}
}

// normalizeMessage forces tool calls into the canonical
// {id, type:"function", function:{name, arguments}} shape no matter which
// provider produced them.
func normalizeMessage(msg *engine.Message) {
	for i := range msg.ToolCalls {
		tc := &msg.ToolCalls[i]
		if tc.ID == "" {
			tc.ID = "call_" + uuid.NewString()
		}
		tc.Type = "function"
		if strings.TrimSpace(tc.Function.Arguments) == "" {
			tc.Function.Arguments = "{}"
		}
	}
}

// truncateRunes cuts s to at most n characters (not bytes).
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
