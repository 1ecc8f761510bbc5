// Package history keeps the append-only record of approval decisions. Two
// generations of records coexist: structured entries, and a legacy free-text
// line format still present in older persisted sessions.
package history

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/segmentio/ksuid"

	"aegis/internal/safety"
)

// Entry is one structured approval-history record.
type Entry struct {
	ID          string                `json:"id"`
	Timestamp   time.Time             `json:"timestamp"`
	Decision    safety.DecisionStatus `json:"decision"`
	Source      string                `json:"source"`
	Summary     string                `json:"summary"`
	RiskLevel   safety.RiskLevel      `json:"risk_level,omitempty"`
	ToolCallIDs []string              `json:"tool_call_ids,omitempty"`
	Metadata    map[string]string     `json:"metadata,omitempty"`
}

// legacyLine matches `[<ISO-8601 timestamp>] <decision phrase>: <summary>`.
// This wire format predates structured entries and must keep parsing.
var legacyLine = regexp.MustCompile(`^\[([^\]]+)\]\s+(pending approval|approved|denied):\s*(.*)$`)

var legacyDecisions = map[string]safety.DecisionStatus{
	"pending approval": safety.StatusFeedback,
	"approved":         safety.StatusApproved,
	"denied":           safety.StatusDenied,
}

// NormalizeLegacy parses one legacy line into a structured entry. It returns
// false when the line does not match the format or its timestamp does not
// parse; malformed lines are skipped, never guessed at.
func NormalizeLegacy(raw string) (Entry, bool) {
	match := legacyLine.FindStringSubmatch(strings.TrimSpace(raw))
	if match == nil {
		return Entry{}, false
	}

	timestamp, err := time.Parse(time.RFC3339, match[1])
	if err != nil {
		return Entry{}, false
	}

	return Entry{
		ID:        legacyID(raw),
		Timestamp: timestamp,
		Decision:  legacyDecisions[match[2]],
		Source:    "legacy",
		Summary:   match[3],
	}, true
}

// legacyID derives a stable id from the line content so normalizing the same
// legacy line twice yields the same entry and merge dedup stays idempotent.
func legacyID(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return "legacy-" + hex.EncodeToString(sum[:10])
}

// Fields carries the inputs for a new structured entry.
type Fields struct {
	Decision    safety.DecisionStatus
	Source      string
	Summary     string
	RiskLevel   safety.RiskLevel
	ToolCallIDs []string
	Metadata    map[string]string
}

// NewEntry builds a structured entry with a generated id and the current
// time.
func NewEntry(fields Fields) Entry {
	return Entry{
		ID:          ksuid.New().String(),
		Timestamp:   time.Now(),
		Decision:    fields.Decision,
		Source:      fields.Source,
		Summary:     fields.Summary,
		RiskLevel:   fields.RiskLevel,
		ToolCallIDs: fields.ToolCallIDs,
		Metadata:    fields.Metadata,
	}
}

// Merge normalizes all legacy lines, concatenates them with the structured
// entries, and deduplicates strictly by id. First occurrence wins, so
// merging a list with itself is idempotent.
func Merge(legacy []string, structured []Entry) []Entry {
	merged := make([]Entry, 0, len(legacy)+len(structured))
	seen := make(map[string]bool, len(legacy)+len(structured))

	for _, raw := range legacy {
		entry, ok := NormalizeLegacy(raw)
		if !ok {
			continue
		}
		if seen[entry.ID] {
			continue
		}
		seen[entry.ID] = true
		merged = append(merged, entry)
	}

	for _, entry := range structured {
		if entry.ID != "" && seen[entry.ID] {
			continue
		}
		if entry.ID != "" {
			seen[entry.ID] = true
		}
		merged = append(merged, entry)
	}

	return merged
}

// FormatLegacy renders an entry back into the legacy line format, for
// surfaces that still consume it.
func FormatLegacy(entry Entry) string {
	phrase := "pending approval"
	switch entry.Decision {
	case safety.StatusApproved:
		phrase = "approved"
	case safety.StatusDenied:
		phrase = "denied"
	}
	return "[" + entry.Timestamp.Format(time.RFC3339) + "] " + phrase + ": " + entry.Summary
}
