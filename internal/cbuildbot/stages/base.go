package stages

import (
	"context"
	"log/slog"

	"chromite/internal/buildtarget"
	"chromite/internal/cbuildbot"
	"chromite/internal/chroot"
	"chromite/internal/logging"
)

// Attr keys shared between stages. Board-scoped keys go through
// cbuildbot.BoardKey.
const (
	AttrChrootVersion  = "chroot_version"
	AttrSysroot        = "sysroot"
	AttrImages         = "images"
	AttrFailedPackages = "failed_packages"
	AttrArchiveURLs    = "archive_urls"
	AttrRevision       = "revision"
)

type base struct {
	runner *cbuildbot.Runner
	env    cbuildbot.Env
}

func newBase(runner *cbuildbot.Runner, env cbuildbot.Env) base {
	return base{runner: runner, env: env}
}

func (b base) run() *cbuildbot.BuilderRun { return b.runner.Run() }

func (b base) sdk() chroot.Chroot { return chroot.FromConfig(b.env.Config) }

func (b base) logger(ctx context.Context) *slog.Logger {
	return logging.WithContext(ctx, b.env.Logger)
}

type boardBase struct {
	base
	board string
}

func newBoardBase(runner *cbuildbot.Runner, env cbuildbot.Env, board string) boardBase {
	return boardBase{base: newBase(runner, env), board: board}
}

// Board implements cbuildbot.BoardStage.
func (b boardBase) Board() string { return b.board }

func (b boardBase) target() buildtarget.BuildTarget {
	return buildtarget.New(b.board, b.run().Config.Profile, "", false)
}

func (b boardBase) key(name string) string {
	return cbuildbot.BoardKey(b.board, name)
}
