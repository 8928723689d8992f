package stages

import (
	"context"
	"fmt"
	"runtime"

	"chromite/internal/cbuildbot"
	"chromite/internal/chroot"
	"chromite/internal/gs"
	"chromite/internal/logging"
	"chromite/internal/services"
)

// DebugSymbols generates breakpad symbols for the board. Symbol failures
// are forgiven.
type DebugSymbols struct{ boardBase }

// NewDebugSymbols constructs the stage for board.
func NewDebugSymbols(runner *cbuildbot.Runner, env cbuildbot.Env, board string) *DebugSymbols {
	return &DebugSymbols{newBoardBase(runner, env, board)}
}

func (s *DebugSymbols) Name() string { return "DebugSymbols" }

func (s *DebugSymbols) Forgivable() bool { return true }

func (s *DebugSymbols) ShouldSkip(context.Context) (bool, string) {
	if !s.run().Config.DebugSymbols {
		return true, "debug symbols are not enabled for this builder"
	}
	return false, ""
}

// SymbolsCommand returns the cros_generate_breakpad_symbols argv. Firmware
// is excluded.
func SymbolsCommand(board string, jobs int, debug bool) []string {
	args := []string{
		"cros_generate_breakpad_symbols",
		"--board=" + board,
		"--jobs", fmt.Sprint(max(1, jobs)),
		"--exclude-dir=firmware",
	}
	if debug {
		args = append(args, "--debug")
	}
	return args
}

func (s *DebugSymbols) PerformStage(ctx context.Context) error {
	argv := SymbolsCommand(s.board, runtime.NumCPU()/2, s.run().Options.Debug)
	if _, err := s.env.Commands.Run(ctx, s.sdk().SDKCommand(argv, chroot.RunOptions{Check: true})); err != nil {
		return services.Wrap(services.ErrExternalTool, "debug_symbols", s.board, "generate breakpad symbols", err)
	}
	return nil
}

// Archive uploads the board's images to
// gs://<archive_bucket>/<builder>/<version>/<board>/.
type Archive struct{ boardBase }

// NewArchive constructs the stage for board.
func NewArchive(runner *cbuildbot.Runner, env cbuildbot.Env, board string) *Archive {
	return &Archive{newBoardBase(runner, env, board)}
}

func (s *Archive) Name() string { return "Archive" }

func (s *Archive) ShouldSkip(context.Context) (bool, string) {
	if !s.run().Config.Archive {
		return true, "archiving is not enabled for this builder"
	}
	return false, ""
}

// ArchiveURL is the upload directory of a run, optionally scoped to a board.
func ArchiveURL(bucket string, run *cbuildbot.BuilderRun, board string) string {
	return gs.Join(bucket, run.Config.Name, run.Version(), board)
}

func (s *Archive) PerformStage(ctx context.Context) error {
	run := s.run()
	images, ok := cbuildbot.AttrValue[map[string]string](run.Attrs, s.key(AttrImages))
	if !ok || len(images) == 0 {
		return services.Wrap(services.ErrNotFound, "archive", s.board, "no images were recorded for this board", nil)
	}
	gsCtx, err := s.openGS(ctx)
	if err != nil {
		return err
	}

	dir := ArchiveURL(s.env.Config.GS.ArchiveBucket, run, s.board)
	var urls []string
	for _, t := range sortedKeys(images) {
		url, err := gsCtx.CopyInto(ctx, images[t], dir, "")
		if err != nil {
			marker := services.Marker(err)
			if marker == nil {
				marker = services.ErrTransient
			}
			return services.Wrap(marker, "archive", s.board, "upload "+t+" image", err)
		}
		urls = append(urls, url)
	}
	run.Attrs.Set(s.key(AttrArchiveURLs), urls)
	s.logger(ctx).Info("images archived", logging.String("archive_url", dir), logging.Int("count", len(urls)))
	return nil
}

func (s *Archive) openGS(ctx context.Context) (*gs.Context, error) {
	if s.env.OpenGS == nil {
		return nil, services.Wrap(services.ErrConfiguration, "archive", "open gs", "no storage configured", nil)
	}
	gsCtx, err := s.env.OpenGS(ctx)
	if err != nil {
		return nil, err
	}
	if s.run().Options.DryRun {
		gsCtx.DryRun = true
	}
	return gsCtx, nil
}
