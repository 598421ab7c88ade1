package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/iabuilder/iabuilder/internal/engine"
)

const (
	// DefaultCompressionThreshold is the estimated-token level that
	// triggers compression on append.
	DefaultCompressionThreshold = 50000
	// DefaultMaxTokens caps how high the threshold may be configured.
	DefaultMaxTokens = 150000
	// DefaultKeepRecent is how many trailing messages survive verbatim.
	DefaultKeepRecent = 20

	decisionLimit = 10
	keyFileLimit  = 10
)

// decisionKeywords mark assistant messages worth carrying into the summary.
var decisionKeywords = []string{
	"completed", "finished", "created", "modified", "updated", "fixed", "implemented",
}

// Compressor folds the older part of a conversation into one synthetic
// system message once the estimated token load crosses the threshold. The
// replaced messages are archived to a side file first, so the operation is
// reversible.
type Compressor struct {
	Threshold  int
	MaxTokens  int
	KeepRecent int
	resumeDir  string
}

// NewCompressor returns a compressor with the default thresholds, writing
// archives under resumeDir.
func NewCompressor(resumeDir string) *Compressor {
	return &Compressor{
		Threshold:  DefaultCompressionThreshold,
		MaxTokens:  DefaultMaxTokens,
		KeepRecent: DefaultKeepRecent,
		resumeDir:  resumeDir,
	}
}

// ShouldCompress reports whether a log of the given estimated size needs
// compressing. Thresholds configured above MaxTokens are clamped down.
func (cp *Compressor) ShouldCompress(estimatedTokens int) bool {
	threshold := cp.Threshold
	if threshold <= 0 {
		threshold = DefaultCompressionThreshold
	}
	if cp.MaxTokens > 0 && threshold > cp.MaxTokens {
		threshold = cp.MaxTokens
	}
	return estimatedTokens > threshold
}

// Archive is the side file written before messages are replaced. Messages
// carries the full replaced head so compression can be undone.
type Archive struct {
	SessionID          string           `json:"session_id"`
	CompressedAt       time.Time        `json:"compressed_at"`
	OriginalStats      ArchiveStats     `json:"original_stats"`
	ToolUsage          map[string]int   `json:"tool_usage"`
	ImportantDecisions []string         `json:"important_decisions"`
	KeyFiles           []string         `json:"key_files"`
	SummaryText        string           `json:"summary_text"`
	Messages           []engine.Message `json:"messages"`
}

// ArchiveStats records what the replaced head looked like.
type ArchiveStats struct {
	MessageCount    int `json:"message_count"`
	EstimatedTokens int `json:"estimated_tokens"`
}

// ArchivePath returns where a session's compression archive lives.
func (cp *Compressor) ArchivePath(sessionID string) string {
	return filepath.Join(cp.resumeDir, fmt.Sprintf("%s_compressed.json", sessionID))
}

// Compress replaces everything but the trailing KeepRecent messages with a
// single synthetic system message summarising what was removed. The cut is
// moved back over leading tool results so every kept result still follows
// the assistant message that requested it. Running it again on an already
// compressed log keeps the same invariants. Reports whether anything was
// folded.
func (cp *Compressor) Compress(c *Conversation) (bool, error) {
	keep := cp.KeepRecent
	if keep <= 0 {
		keep = DefaultKeepRecent
	}
	if len(c.messages) <= keep {
		return false, nil
	}

	cut := len(c.messages) - keep
	for cut > 0 && c.messages[cut].Role == engine.RoleTool {
		cut--
	}
	if cut == 0 {
		return false, nil
	}

	head := c.messages[:cut]
	stats := summariseHead(head)
	summaryText := buildSummaryText(c.sessionID, stats)

	archive := Archive{
		SessionID:    c.sessionID,
		CompressedAt: time.Now(),
		OriginalStats: ArchiveStats{
			MessageCount:    stats.messageCount,
			EstimatedTokens: stats.estimatedTokens,
		},
		ToolUsage:          stats.toolUsage,
		ImportantDecisions: stats.decisions,
		KeyFiles:           stats.keyFiles,
		SummaryText:        summaryText,
		Messages:           append([]engine.Message(nil), head...),
	}
	if err := cp.writeArchive(&archive); err != nil {
		return false, err
	}

	tail := c.messages[cut:]
	compressed := make([]engine.Message, 0, len(tail)+1)
	compressed = append(compressed, engine.Message{
		Role:      engine.RoleSystem,
		Content:   summaryText,
		Timestamp: time.Now(),
	})
	compressed = append(compressed, tail...)

	c.messages = compressed
	c.compressions++

	return true, c.persist()
}

func (cp *Compressor) writeArchive(a *Archive) error {
	if err := os.MkdirAll(cp.resumeDir, 0755); err != nil {
		return fmt.Errorf("create resume directory: %w", err)
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal compression archive: %w", err)
	}
	if err := os.WriteFile(cp.ArchivePath(a.SessionID), data, 0644); err != nil {
		return fmt.Errorf("write compression archive: %w", err)
	}
	return nil
}

type headStats struct {
	messageCount    int
	estimatedTokens int
	toolUsage       map[string]int
	decisions       []string
	keyFiles        []string
}

// summariseHead gathers the facts the synthetic message reports: counts, a
// tool usage histogram, the most-touched files and the last few assistant
// messages that read like outcomes.
func summariseHead(head []engine.Message) headStats {
	st := headStats{
		messageCount: len(head),
		toolUsage:    map[string]int{},
	}

	chars := 0
	fileCounts := map[string]int{}

	for _, m := range head {
		chars += len(m.Content)
		for _, tc := range m.ToolCalls {
			chars += len(tc.Function.Name) + len(tc.Function.Arguments)
			st.toolUsage[tc.Function.Name]++
			if path := filePathFromArgs(tc.Function.Arguments); path != "" {
				fileCounts[path]++
			}
		}
		if m.Role == engine.RoleAssistant && isDecision(m.Content) {
			st.decisions = append(st.decisions, snippet(m.Content, 160))
		}
	}

	st.estimatedTokens = chars / estCharsPerToken
	if len(st.decisions) > decisionLimit {
		st.decisions = st.decisions[len(st.decisions)-decisionLimit:]
	}
	st.keyFiles = topFiles(fileCounts, keyFileLimit)
	return st
}

func buildSummaryText(sessionID string, st headStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Earlier conversation compressed: %d messages (~%d tokens) archived to resume/%s_compressed.json.\n",
		st.messageCount, st.estimatedTokens, sessionID)

	if len(st.toolUsage) > 0 {
		names := make([]string, 0, len(st.toolUsage))
		for name := range st.toolUsage {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s: %d", name, st.toolUsage[name]))
		}
		fmt.Fprintf(&b, "Tool usage: %s.\n", strings.Join(parts, ", "))
	}

	if len(st.keyFiles) > 0 {
		fmt.Fprintf(&b, "Key files: %s.\n", strings.Join(st.keyFiles, ", "))
	}

	if len(st.decisions) > 0 {
		b.WriteString("Recent outcomes:\n")
		for _, d := range st.decisions {
			fmt.Fprintf(&b, "- %s\n", d)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func isDecision(content string) bool {
	lower := strings.ToLower(content)
	for _, kw := range decisionKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// filePathFromArgs extracts the file_path argument when present.
func filePathFromArgs(argsJSON string) string {
	var args map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return ""
	}
	if p, ok := args["file_path"].(string); ok {
		return p
	}
	return ""
}

func topFiles(counts map[string]int, limit int) []string {
	files := make([]string, 0, len(counts))
	for f := range counts {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool {
		if counts[files[i]] != counts[files[j]] {
			return counts[files[i]] > counts[files[j]]
		}
		return files[i] < files[j]
	})
	if len(files) > limit {
		files = files[:limit]
	}
	return files
}

// snippet returns the first line of content, cut to at most n characters.
func snippet(content string, n int) string {
	line := strings.TrimSpace(content)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	return truncateRunes(line, n)
}
