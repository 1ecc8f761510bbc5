// Package replay keeps re-proposed tool calls from executing twice. A call
// is consumed once per turn; when the agent echoes an already-executed call
// back into the next batch, the filter drops it by id.
package replay

import "aegis/internal/safety"

// FilterUnexecuted returns the calls not yet executed. A call is dropped iff
// it carries a non-empty id present in executedIDs; id-less calls are always
// retained (fail-open — losing a call is worse than repeating one the caller
// chose not to tag).
func FilterUnexecuted(calls []safety.ToolCall, executedIDs []string) []safety.ToolCall {
	if len(calls) == 0 {
		return nil
	}

	executed := make(map[string]bool, len(executedIDs))
	for _, id := range executedIDs {
		if id != "" {
			executed[id] = true
		}
	}

	remaining := make([]safety.ToolCall, 0, len(calls))
	for _, call := range calls {
		if call.ID != "" && executed[call.ID] {
			continue
		}
		remaining = append(remaining, call)
	}
	return remaining
}

// MergeExecutedIDs unions two id lists, dropping empty strings and
// duplicates. Order follows first appearance, a then b.
func MergeExecutedIDs(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	merged := make([]string, 0, len(a)+len(b))
	for _, id := range a {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		merged = append(merged, id)
	}
	for _, id := range b {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		merged = append(merged, id)
	}
	return merged
}
