package cbuildbot

import (
	"context"
	"fmt"
)

// Stage is one unit of builder work.
type Stage interface {
	Name() string
	PerformStage(ctx context.Context) error
}

// BoardStage is implemented by stages bound to a single board.
type BoardStage interface {
	Stage
	Board() string
}

// Skipper lets a stage decide at run time that it has nothing to do.
type Skipper interface {
	ShouldSkip(ctx context.Context) (skip bool, reason string)
}

// Forgivable marks stages whose failures are recorded without failing the
// build.
type Forgivable interface {
	Forgivable() bool
}

// StepFailure is returned when a stage fails and the build must stop.
type StepFailure struct {
	Stage string
	Board string
	Err   error
}

func (e *StepFailure) Error() string {
	name := e.Stage
	if e.Board != "" {
		name = fmt.Sprintf("%s [%s]", e.Stage, e.Board)
	}
	return fmt.Sprintf("stage %s failed: %v", name, e.Err)
}

func (e *StepFailure) Unwrap() error { return e.Err }

func boardOf(s Stage) string {
	if bs, ok := s.(BoardStage); ok {
		return bs.Board()
	}
	return ""
}

func isForgivable(s Stage) bool {
	f, ok := s.(Forgivable)
	return ok && f.Forgivable()
}
