// Package pipeline composes the gate: idempotency filtering, risk
// assessment, decision resolution, transactional execution, and the
// bookkeeping (trace, history, working memory) each batch leaves behind.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"aegis/internal/history"
	"aegis/internal/logging"
	"aegis/internal/memory"
	"aegis/internal/replay"
	"aegis/internal/safety"
	"aegis/internal/trace"
	"aegis/internal/txn"
)

// Executor runs one approved tool call and returns a short outcome summary.
type Executor interface {
	Execute(ctx context.Context, call safety.ToolCall) (string, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, call safety.ToolCall) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, call safety.ToolCall) (string, error) {
	return f(ctx, call)
}

// Gate is the composition root for one agent session's tool-call gating.
type Gate struct {
	classifier *safety.Classifier
	txn        *txn.Manager
	executor   Executor
	collector  *trace.Collector
	logger     logging.Logger
}

func NewGate(classifier *safety.Classifier, txnManager *txn.Manager, executor Executor, collector *trace.Collector, logger logging.Logger) *Gate {
	return &Gate{
		classifier: classifier,
		txn:        txnManager,
		executor:   executor,
		collector:  collector,
		logger:     logging.OrNop(logger),
	}
}

// Request is one tool-call batch plus the session state the gate folds in.
type Request struct {
	Calls       []safety.ToolCall
	ExecutedIDs []string
	Settings    safety.Settings
	Context     safety.Context

	// Working-memory inputs carried through to the snapshot builder.
	Messages  []memory.Message
	Previous  *memory.Snapshot
	PlanSteps []string
	PlanIndex int
}

// Result is everything one gated batch produced.
type Result struct {
	Decision    safety.ApprovalDecision
	Assessment  safety.RiskAssessment
	Outcome     trace.Outcome
	ExecutedIDs []string
	RolledBack  bool
	ExecErr     error
	Outputs     []string
	History     history.Entry
	Memory      memory.Snapshot
	Sample      trace.Sample
}

// Run gates one batch end to end. Already-executed calls are dropped first;
// assessment and resolution see only the remainder. An approved batch runs
// under a filesystem transaction: any call failure rolls back every path the
// batch touched, and none of the batch's ids are marked executed.
func (g *Gate) Run(ctx context.Context, req Request) Result {
	started := time.Now()

	filtered := replay.FilterUnexecuted(req.Calls, req.ExecutedIDs)
	if len(filtered) == 0 {
		g.logger.Debug("batch fully replayed, nothing to execute")
		return Result{
			Decision:    safety.ApprovalDecision{Status: safety.StatusApproved},
			Outcome:     trace.OutcomeExecuted,
			ExecutedIDs: req.ExecutedIDs,
		}
	}

	assessment := g.classifier.Assess(filtered, req.Context)
	decision := safety.ResolveWithAssessment(assessment, req.Settings)

	result := Result{
		Decision:    decision,
		Assessment:  assessment,
		ExecutedIDs: req.ExecutedIDs,
	}

	switch decision.Status {
	case safety.StatusFeedback:
		result.Outcome = trace.OutcomeHeld
	case safety.StatusDenied:
		result.Outcome = trace.OutcomeDenied
	case safety.StatusApproved:
		g.execute(ctx, filtered, req, &result)
	}

	g.finish(ctx, filtered, req, &result, time.Since(started))
	return result
}

func (g *Gate) execute(ctx context.Context, calls []safety.ToolCall, req Request, result *Result) {
	var tx *txn.Transaction
	root := req.Context.WorkingDirectory
	if root != "" {
		var err error
		tx, err = g.txn.Begin(calls, root)
		if err != nil {
			result.Outcome = trace.OutcomeFailed
			result.ExecErr = fmt.Errorf("begin transaction: %w", err)
			return
		}
	}

	var completed []string
	for _, call := range calls {
		output, err := g.executor.Execute(ctx, call)
		if err != nil {
			result.ExecErr = fmt.Errorf("call %s (%s): %w", call.ID, call.Name, err)
			g.logger.Warn("execution failed: %v", result.ExecErr)
			if tx != nil {
				rollback := g.txn.Rollback(tx)
				result.RolledBack = true
				result.Outcome = trace.OutcomeRolledBack
				if rbErr := rollback.Err(); rbErr != nil {
					g.logger.Error("rollback incomplete: %v", rbErr)
					result.ExecErr = fmt.Errorf("%w (rollback: %v)", result.ExecErr, rbErr)
				}
			} else {
				result.Outcome = trace.OutcomeFailed
			}
			// Rolled-back work never counts as executed; the whole batch
			// stays replayable.
			return
		}
		result.Outputs = append(result.Outputs, output)
		completed = append(completed, call.ID)
	}

	result.Outcome = trace.OutcomeExecuted
	result.ExecutedIDs = replay.MergeExecutedIDs(req.ExecutedIDs, completed)
}

// finish records the trace sample, appends the history entry, and builds the
// next working-memory snapshot.
func (g *Gate) finish(ctx context.Context, calls []safety.ToolCall, req Request, result *Result, duration time.Duration) {
	if g.collector != nil {
		result.Sample = g.collector.Record(ctx, trace.Sample{
			BatchSize: len(calls),
			Decision:  result.Decision.Status,
			RiskLevel: result.Assessment.Level,
			Outcome:   result.Outcome,
			Duration:  duration,
		})
	}

	result.History = history.NewEntry(history.Fields{
		Decision:    result.Decision.Status,
		Source:      historySource(result.Decision),
		Summary:     batchSummary(calls, result),
		RiskLevel:   result.Assessment.Level,
		ToolCallIDs: callIDs(calls),
	})

	var modified []string
	for _, call := range calls {
		if path, ok := safety.MutatedPath(call); ok {
			modified = append(modified, path)
		}
	}
	if result.Outcome != trace.OutcomeExecuted {
		modified = nil
	}
	result.Memory = memory.BuildSnapshot(memory.BuildInput{
		Previous:      req.Previous,
		Messages:      req.Messages,
		PlanSteps:     req.PlanSteps,
		PlanIndex:     req.PlanIndex,
		ModifiedFiles: modified,
		DecisionNote:  result.Decision.Note,
		ToolOutcome:   outcomeNote(calls, result),
	})
}

func historySource(decision safety.ApprovalDecision) string {
	if decision.OneTimeApprove {
		return "user_phrase"
	}
	return "gate"
}

func batchSummary(calls []safety.ToolCall, result *Result) string {
	names := make([]string, 0, len(calls))
	for _, call := range calls {
		names = append(names, call.Name)
	}
	summary := fmt.Sprintf("%s batch of %d call(s): %s", result.Outcome, len(calls), strings.Join(names, ", "))
	if result.Decision.Note != "" {
		summary += " | " + result.Decision.Note
	}
	return summary
}

func outcomeNote(calls []safety.ToolCall, result *Result) string {
	if result.ExecErr != nil {
		return fmt.Sprintf("%s: %v", result.Outcome, result.ExecErr)
	}
	return fmt.Sprintf("%s %d call(s)", result.Outcome, len(calls))
}

func callIDs(calls []safety.ToolCall) []string {
	ids := make([]string, 0, len(calls))
	for _, call := range calls {
		if call.ID != "" {
			ids = append(ids, call.ID)
		}
	}
	return ids
}
