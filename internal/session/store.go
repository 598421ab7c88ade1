package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Store persists sessions as pretty-printed JSON files under the history
// directory, one file per session.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir (typically ~/.iabuilder/history).
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the file a session id persists to.
func (s *Store) Path(id string) string {
	return filepath.Join(s.dir, fmt.Sprintf("session_%s.json", id))
}

// Save writes the session to disk, creating the directory on first use.
func (s *Store) Save(sess *Session) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create history directory: %w", err)
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	if err := os.WriteFile(s.Path(sess.SessionID), data, 0644); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}

	return nil
}

// Load reads one session back.
func (s *Store) Load(id string) (*Session, error) {
	data, err := os.ReadFile(s.Path(id))
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}

	return &sess, nil
}

// ListEntry is a session header for listings.
type ListEntry struct {
	SessionID string
	Metadata  Metadata
}

// List returns the headers of all stored sessions, newest first. Unreadable
// or malformed files are skipped rather than failing the whole listing.
func (s *Store) List() ([]ListEntry, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return []ListEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list history directory: %w", err)
	}

	var sessions []ListEntry
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "session_") || !strings.HasSuffix(name, ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}

		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			continue
		}

		sessions = append(sessions, ListEntry{SessionID: sess.SessionID, Metadata: sess.Metadata})
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Metadata.LastUpdated.After(sessions[j].Metadata.LastUpdated)
	})

	return sessions, nil
}
