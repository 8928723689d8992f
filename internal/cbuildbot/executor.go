package cbuildbot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"chromite/internal/builderconfig"
	"chromite/internal/buildstore"
	"chromite/internal/logging"
	"chromite/internal/metrics"
	"chromite/internal/notifications"
	"chromite/internal/services"
)

// LockFileName is created in the buildroot while a build runs there.
const LockFileName = ".cbuildbot.lock"

// ErrBuildrootLocked is returned when another build holds the buildroot.
var ErrBuildrootLocked = errors.New("buildroot is in use by another build")

// Executor runs whole builds.
type Executor struct {
	Env      Env
	Registry *Registry
	Store    *buildstore.Store
	Metrics  metrics.Recorder
	Notifier notifications.Service
	// Report receives the results table; nil discards it.
	Report io.Writer
}

// Run executes builder with opts and returns the recorded results. The
// returned error is non-nil when any stage failed.
func (e *Executor) Run(ctx context.Context, builder builderconfig.Builder, opts Options) (*Results, error) {
	cfg := e.Env.Config
	factory, err := e.Registry.Lookup(builder.Class)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(opts.Buildroot) == "" {
		opts.Buildroot = cfg.Buildbot.Buildroot
	}
	if err := os.MkdirAll(opts.Buildroot, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "cbuildbot", "prepare buildroot", opts.Buildroot, err)
	}

	lock := flock.New(filepath.Join(opts.Buildroot, LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock buildroot: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrBuildrootLocked, opts.Buildroot)
	}
	defer func() { _ = lock.Unlock() }()

	run := &BuilderRun{
		UUID:    uuid.NewString(),
		Config:  builder,
		Options: opts,
		Attrs:   NewAttrs(),
		Started: time.Now(),
	}

	logger := e.Env.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if e.Store != nil {
		if n, err := e.Store.ResetInflight(ctx, opts.Buildroot); err != nil {
			logger.Warn("failed to reset abandoned builds", logging.Error(err))
		} else if n > 0 {
			logger.Info("marked abandoned builds as aborted", logging.Int64("count", n))
		}
		record, err := e.Store.StartBuild(ctx, run.UUID, builder.Name, opts.Buildroot, run.Boards())
		if err != nil {
			return nil, fmt.Errorf("record build start: %w", err)
		}
		run.ID = record.ID
		ctx = services.WithBuildID(ctx, run.ID)
	}
	ctx = services.WithRequestID(ctx, run.UUID)

	logPath := cfg.BuildLogPath(run.UUID)
	buildLogger, buildLog, err := logging.OpenBuildLog(logger, logPath)
	if err != nil {
		logger.Warn("build log unavailable", logging.Error(err))
		buildLogger = logger
	}
	defer buildLog.Close()
	buildLogger = logging.WithContext(ctx, buildLogger).With(logging.String("builder", builder.Name))

	var stageRecorder StageRecorder
	if e.Store != nil {
		stageRecorder = e.Store
	}
	runner := NewRunner(run, RunnerOptions{
		Logger:       buildLogger,
		Store:        stageRecorder,
		Metrics:      e.Metrics,
		Notifier:     e.Notifier,
		StageTimeout: cfg.StageTimeout(),
		MaxParallel:  cfg.Buildbot.MaxParallel,
	})
	env := e.Env
	env.Logger = buildLogger

	notifier := runner.opts.Notifier
	if err := notifier.NotifyBuildStarted(ctx, runner.notificationBuild()); err != nil {
		buildLogger.Debug("build start notification failed", logging.Error(err))
	}
	buildLogger.Info("build started",
		logging.String(logging.FieldEventType, "build_start"),
		logging.Strings("boards", run.Boards()),
		logging.String("buildroot", opts.Buildroot),
		logging.String("build_log", logPath))

	runErr := factory(runner, env).RunStages(ctx)
	duration := time.Since(run.Started)
	results := runner.Results()

	status := buildstore.StatusPassed
	switch {
	case runErr != nil && ctx.Err() != nil:
		status = buildstore.StatusAborted
	case runErr != nil || !results.Success():
		status = buildstore.StatusFailed
	}
	summary := ""
	if failed := results.Failed(); len(failed) > 0 {
		summary = "failed stages: " + strings.Join(failed, ", ")
	} else if runErr != nil {
		summary = runErr.Error()
	}

	finishCtx := context.WithoutCancel(ctx)
	if e.Store != nil {
		if err := e.Store.FinishBuild(finishCtx, run.ID, status, summary); err != nil {
			buildLogger.Warn("failed to record build result", logging.Error(err))
		}
	}
	runner.opts.Metrics.ObserveBuild(string(status), duration)
	if err := notifier.NotifyBuildCompleted(finishCtx, runner.notificationBuild(), status == buildstore.StatusPassed, duration, results.Failed()); err != nil {
		buildLogger.Debug("build completion notification failed", logging.Error(err))
	}

	if status == buildstore.StatusPassed {
		buildLogger.Info("build completed", logging.String(logging.FieldEventType, "build_complete"),
			logging.Duration("build_duration", duration))
	} else {
		buildLogger.Error("build failed", logging.String(logging.FieldEventType, "build_failure"),
			logging.String("status", string(status)),
			logging.Duration("build_duration", duration),
			logging.Error(runErr))
	}

	if e.Report != nil {
		if err := results.Report(e.Report); err != nil {
			buildLogger.Warn("failed to print results", logging.Error(err))
		}
	}
	if runErr == nil && status != buildstore.StatusPassed {
		runErr = errors.New(summary)
	}
	return results, runErr
}
