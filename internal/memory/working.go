// Package memory derives bounded, turn-by-turn task-state summaries. A
// working-memory snapshot is distinct from full conversation history: it is
// the small rolling context folded into the next turn.
package memory

import (
	"strings"
	"time"
)

// Caps for the rolling queues. Oldest entries are evicted first.
const (
	maxKeyDecisions  = 12
	maxToolOutcomes  = 12
	maxSummaryLength = 200
)

// Message is the slice of a conversation turn the builder needs.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FileChangeSummary counts the batch's filesystem footprint.
type FileChangeSummary struct {
	Modified int `json:"modified"`
	Deleted  int `json:"deleted"`
}

// Snapshot is one working-memory generation. Each snapshot supersedes its
// predecessor; builders never mutate a previous snapshot in place.
type Snapshot struct {
	TaskSummary        string            `json:"task_summary"`
	LatestPlanStep     string            `json:"latest_plan_step,omitempty"`
	FileChanges        FileChangeSummary `json:"file_changes"`
	KeyDecisions       []string          `json:"key_decisions,omitempty"`
	RecentToolOutcomes []string          `json:"recent_tool_outcomes,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
}

// BuildInput carries everything one build folds in.
type BuildInput struct {
	Previous      *Snapshot
	Messages      []Message
	PlanSteps     []string
	PlanIndex     int
	ModifiedFiles []string
	DeletedFiles  []string
	DecisionNote  string
	ToolOutcome   string
}

// BuildSnapshot derives the next working-memory generation. The task summary
// is the latest user-authored message, truncated; the rolling queues carry
// over from the previous snapshot capped at the most recent 12.
func BuildSnapshot(input BuildInput) Snapshot {
	snapshot := Snapshot{
		TaskSummary: latestUserMessage(input.Messages),
		FileChanges: FileChangeSummary{
			Modified: len(input.ModifiedFiles),
			Deleted:  len(input.DeletedFiles),
		},
		CreatedAt: time.Now(),
	}

	if input.PlanIndex >= 0 && input.PlanIndex < len(input.PlanSteps) {
		snapshot.LatestPlanStep = input.PlanSteps[input.PlanIndex]
	}

	if input.Previous != nil {
		// Carried-over queues are re-capped here, not only on append, so an
		// oversized previous snapshot cannot propagate past its own build.
		snapshot.KeyDecisions = append(snapshot.KeyDecisions, newestTail(input.Previous.KeyDecisions, maxKeyDecisions)...)
		snapshot.RecentToolOutcomes = append(snapshot.RecentToolOutcomes, newestTail(input.Previous.RecentToolOutcomes, maxToolOutcomes)...)
		if snapshot.TaskSummary == "" {
			snapshot.TaskSummary = input.Previous.TaskSummary
		}
	}

	if note := strings.TrimSpace(input.DecisionNote); note != "" {
		snapshot.KeyDecisions = appendCapped(snapshot.KeyDecisions, note, maxKeyDecisions)
	}
	if outcome := strings.TrimSpace(input.ToolOutcome); outcome != "" {
		snapshot.RecentToolOutcomes = appendCapped(snapshot.RecentToolOutcomes, outcome, maxToolOutcomes)
	}

	return snapshot
}

func latestUserMessage(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "user" {
			continue
		}
		return truncate(strings.TrimSpace(messages[i].Content), maxSummaryLength)
	}
	return ""
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

// appendCapped appends entry and keeps only the most recent limit entries,
// evicting from the front.
func appendCapped(entries []string, entry string, limit int) []string {
	entries = append(entries, entry)
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries
}

// newestTail returns the most recent limit entries without mutating entries.
func newestTail(entries []string, limit int) []string {
	if len(entries) > limit {
		return entries[len(entries)-limit:]
	}
	return entries
}
