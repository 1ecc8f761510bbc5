package toolregistry

import (
	"aegis/internal/logging"
)

type compensation struct {
	step string
	undo func() error
}

// saga tracks completed steps of one server operation so a later failure can
// unwind them in reverse order.
type saga struct {
	logger     logging.Logger
	serverName string
	steps      []compensation
}

func newSaga(logger logging.Logger, serverName string) *saga {
	return &saga{logger: logging.OrNop(logger), serverName: serverName}
}

// completed records a finished step and the action that undoes it.
func (s *saga) completed(step string, undo func() error) {
	s.steps = append(s.steps, compensation{step: step, undo: undo})
}

// fail unwinds completed steps newest-first and returns cause unchanged.
// Compensation failures are logged, never surfaced; the original cause is
// what the caller needs to see.
func (s *saga) fail(cause error) error {
	for i := len(s.steps) - 1; i >= 0; i-- {
		step := s.steps[i]
		if err := step.undo(); err != nil {
			s.logger.Warn("server %s: compensating %s failed: %v", s.serverName, step.step, err)
		}
	}
	s.steps = nil
	return cause
}
