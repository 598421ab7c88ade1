package session

import (
	"time"

	"github.com/iabuilder/iabuilder/internal/engine"
)

// Metadata is the session file header: enough to list sessions without
// loading their messages.
type Metadata struct {
	CreatedAt        time.Time `json:"created_at"`
	LastUpdated      time.Time `json:"last_updated"`
	Provider         string    `json:"provider,omitempty"`
	Model            string    `json:"model,omitempty"`
	MessageCount     int       `json:"message_count"`
	CompressionCount int       `json:"compression_count,omitempty"`
}

// Session is the on-disk shape of one conversation.
type Session struct {
	SessionID string           `json:"session_id"`
	Metadata  Metadata         `json:"metadata"`
	Messages  []engine.Message `json:"messages"`
}

// NewSessionID derives the timestamp id sessions are keyed by.
func NewSessionID(t time.Time) string {
	return t.Format("20060102_150405")
}
