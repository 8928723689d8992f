package cbuildbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"chromite/internal/buildstore"
	"chromite/internal/logging"
	"chromite/internal/metrics"
	"chromite/internal/notifications"
	"chromite/internal/services"
)

// StageRecorder persists stage results. *buildstore.Store implements it.
type StageRecorder interface {
	RecordStage(ctx context.Context, stage buildstore.Stage) (int64, error)
}

// RunnerOptions configures a Runner. Nil collaborators are replaced with
// no-op implementations.
type RunnerOptions struct {
	Logger       *slog.Logger
	Store        StageRecorder
	Metrics      metrics.Recorder
	Notifier     notifications.Service
	StageTimeout time.Duration
	MaxParallel  int
}

// Runner executes stages for one BuilderRun.
type Runner struct {
	run     *BuilderRun
	results *Results
	opts    RunnerOptions
}

// NewRunner prepares a runner for run.
func NewRunner(run *BuilderRun, opts RunnerOptions) *Runner {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	if opts.Notifier == nil {
		opts.Notifier = notifications.Noop{}
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 1
	}
	if t := run.Config.StageTimeout(); t > 0 {
		opts.StageTimeout = t
	}
	return &Runner{run: run, results: &Results{}, opts: opts}
}

// Run returns the run being executed.
func (r *Runner) Run() *BuilderRun { return r.run }

// Results returns the results recorded so far.
func (r *Runner) Results() *Results { return r.results }

// Logger returns the runner's base logger.
func (r *Runner) Logger() *slog.Logger { return r.opts.Logger }

// RunStage executes a single stage and records its result. It returns a
// *StepFailure when the stage failed and is not forgivable.
func (r *Runner) RunStage(ctx context.Context, stage Stage) error {
	name := stage.Name()
	board := boardOf(stage)
	ctx = services.WithStage(ctx, name)
	if board != "" {
		ctx = services.WithBoard(ctx, board)
	}
	logger := logging.WithContext(ctx, r.opts.Logger)

	if skip, reason := r.shouldSkip(ctx, stage); skip {
		logger.Info("stage skipped",
			logging.String(logging.FieldEventType, "stage_skip"),
			logging.String("reason", reason))
		r.finish(ctx, Result{Name: name, Board: board, Status: StatusSkipped, Description: reason, Start: time.Now()})
		return nil
	}
	if err := ctx.Err(); err != nil {
		return &StepFailure{Stage: name, Board: board, Err: err}
	}

	logger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))
	start := time.Now()
	err := r.perform(ctx, stage)
	res := Result{Name: name, Board: board, Status: StatusPassed, Start: start, Duration: time.Since(start), Err: err}

	if err == nil {
		logger.Info("stage completed",
			logging.String(logging.FieldEventType, "stage_complete"),
			logging.Duration("stage_duration", res.Duration))
		r.finish(ctx, res)
		return nil
	}

	res.Description = strings.TrimSpace(err.Error())
	if isForgivable(stage) {
		res.Status = StatusForgiven
		logging.WarnWithContext(logger, "stage failed but was forgiven", "stage_forgiven",
			logging.String(logging.FieldImpact, "build continues without this stage's output"),
			logging.Error(err))
		r.finish(ctx, res)
		return nil
	}

	res.Status = StatusFailed
	logger.Error("stage failed",
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.String("outcome", string(services.FailureOutcome(err))),
		logging.Duration("stage_duration", res.Duration),
		logging.Error(err))
	r.finish(ctx, res)
	if nerr := r.opts.Notifier.NotifyStageFailed(ctx, r.notificationBuild(), name, board, err); nerr != nil {
		logger.Debug("stage failure notification failed", logging.Error(nerr))
	}
	return &StepFailure{Stage: name, Board: board, Err: err}
}

// RunParallelStages runs stages concurrently, at most MaxParallel at a time,
// waits for all of them, and joins their failures.
func (r *Runner) RunParallelStages(ctx context.Context, stages ...Stage) error {
	steps := make([]func(context.Context) error, len(stages))
	for i, s := range stages {
		steps[i] = func(ctx context.Context) error { return r.RunStage(ctx, s) }
	}
	return r.RunParallel(ctx, steps...)
}

// RunParallel runs arbitrary steps with the same limits as
// RunParallelStages. A failing step does not cancel its siblings.
func (r *Runner) RunParallel(ctx context.Context, steps ...func(context.Context) error) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(r.opts.MaxParallel)
	for _, step := range steps {
		g.Go(func() error {
			if err := step(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (r *Runner) shouldSkip(ctx context.Context, stage Stage) (bool, string) {
	if r.run.Config.SkipsStage(stage.Name()) {
		return true, "disabled by builder config"
	}
	if s, ok := stage.(Skipper); ok {
		return s.ShouldSkip(ctx)
	}
	return false, ""
}

func (r *Runner) perform(ctx context.Context, stage Stage) (err error) {
	stageCtx := ctx
	timeout := r.opts.StageTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			r.opts.Logger.Error("stage panicked", logging.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic in %s: %v", stage.Name(), p)
		}
	}()

	err = stage.PerformStage(stageCtx)
	if err != nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = services.Wrap(services.ErrTimeout, "cbuildbot", stage.Name(),
			fmt.Sprintf("timed out after %s", timeout), err)
	}
	return err
}

func (r *Runner) finish(ctx context.Context, res Result) {
	r.results.Record(res)
	r.opts.Metrics.ObserveStage(res.Name, string(res.Status), res.Duration)
	if r.opts.Store == nil || r.run.ID == 0 {
		return
	}
	// History must be written even when the build was interrupted.
	recordCtx := context.WithoutCancel(ctx)
	if _, err := r.opts.Store.RecordStage(recordCtx, buildstore.Stage{
		BuildID:     r.run.ID,
		Name:        res.Name,
		Board:       res.Board,
		Status:      string(res.Status),
		Description: res.Description,
		StartedAt:   res.Start,
		Duration:    res.Duration,
	}); err != nil {
		logging.WithContext(ctx, r.opts.Logger).Warn("failed to record stage result", logging.Error(err))
	}
}

func (r *Runner) notificationBuild() notifications.Build {
	return notifications.Build{Builder: r.run.Config.Name, UUID: r.run.UUID, Boards: r.run.Boards()}
}
