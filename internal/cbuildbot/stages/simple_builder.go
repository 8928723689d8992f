package stages

import (
	"context"
	"errors"

	"chromite/internal/cbuildbot"
)

// SimpleClass is the builder_class of SimpleBuilder.
const SimpleClass = "simple"

// Register adds the builders in this package to reg.
func Register(reg *cbuildbot.Registry) {
	reg.Register(SimpleClass, NewSimpleBuilder)
}

// SimpleBuilder builds every board in turn, then runs per-board artifact
// stages in parallel, and always finishes with Report.
type SimpleBuilder struct {
	runner *cbuildbot.Runner
	env    cbuildbot.Env
}

// NewSimpleBuilder is the cbuildbot.Factory for SimpleClass.
func NewSimpleBuilder(runner *cbuildbot.Runner, env cbuildbot.Env) cbuildbot.Builder {
	return &SimpleBuilder{runner: runner, env: env}
}

// RunStages implements cbuildbot.Builder.
func (b *SimpleBuilder) RunStages(ctx context.Context) error {
	err := b.runBuild(ctx)
	// Report runs on a context that survives cancellation of the build.
	reportErr := b.runner.RunStage(context.WithoutCancel(ctx), NewReport(b.runner, b.env))
	return errors.Join(err, reportErr)
}

func (b *SimpleBuilder) runBuild(ctx context.Context) error {
	r, env := b.runner, b.env
	for _, stage := range []cbuildbot.Stage{
		NewCleanUp(r, env),
		NewBuildStart(r, env),
		NewInitSDK(r, env),
		NewUpdateSDK(r, env),
	} {
		if err := r.RunStage(ctx, stage); err != nil {
			return err
		}
	}

	boards := r.Run().Boards()
	for _, board := range boards {
		for _, stage := range []cbuildbot.Stage{
			NewSetupBoard(r, env, board),
			NewBuildPackages(r, env, board),
			NewBuildImage(r, env, board),
		} {
			if err := r.RunStage(ctx, stage); err != nil {
				return err
			}
		}
	}

	steps := make([]func(context.Context) error, 0, len(boards))
	for _, board := range boards {
		steps = append(steps, func(ctx context.Context) error {
			if err := r.RunStage(ctx, NewDebugSymbols(r, env, board)); err != nil {
				return err
			}
			return r.RunStage(ctx, NewArchive(r, env, board))
		})
	}
	return r.RunParallel(ctx, steps...)
}
