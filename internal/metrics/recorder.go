package metrics

import "time"

// Recorder receives stage and build observations. Result and outcome values
// are the lower-case cbuildbot result names (passed, failed, skipped, forgiven).
type Recorder interface {
	ObserveStage(stage, result string, d time.Duration)
	ObserveBuild(outcome string, d time.Duration)
}

// Noop discards every observation.
type Noop struct{}

func (Noop) ObserveStage(string, string, time.Duration) {}
func (Noop) ObserveBuild(string, time.Duration)         {}
