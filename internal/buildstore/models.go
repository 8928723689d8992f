package buildstore

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a build.
type Status string

const (
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusAborted Status = "aborted"
)

// ParseStatus maps a stored status string, returning false when unknown.
func ParseStatus(value string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(value))) {
	case StatusRunning:
		return StatusRunning, true
	case StatusPassed:
		return StatusPassed, true
	case StatusFailed:
		return StatusFailed, true
	case StatusAborted:
		return StatusAborted, true
	}
	return "", false
}

// Build is one recorded builder run.
type Build struct {
	ID         int64
	UUID       string
	Builder    string
	Buildroot  string
	Boards     []string
	Status     Status
	Summary    string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Finished reports whether the build has left the running state.
func (b Build) Finished() bool {
	return !b.FinishedAt.IsZero()
}

// Duration is the wall time of a finished build, or zero.
func (b Build) Duration() time.Duration {
	if !b.Finished() {
		return 0
	}
	return b.FinishedAt.Sub(b.StartedAt)
}

// Stage is one recorded stage result. Status holds the cbuildbot result
// name (passed, failed, skipped, forgiven).
type Stage struct {
	ID          int64
	BuildID     int64
	Name        string
	Board       string
	Status      string
	Description string
	StartedAt   time.Time
	Duration    time.Duration
}

func joinBoards(boards []string) string {
	return strings.Join(boards, ",")
}

func splitBoards(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return strings.Split(value, ",")
}
