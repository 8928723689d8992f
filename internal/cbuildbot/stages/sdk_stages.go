package stages

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"

	"chromite/internal/cbuildbot"
	"chromite/internal/chroot"
	"chromite/internal/logging"
	"chromite/internal/services"
)

// CleanUp wipes state left by previous builds: the chroot's /tmp, the
// portage caches, and this version's archive directory.
type CleanUp struct{ base }

// NewCleanUp constructs the stage.
func NewCleanUp(runner *cbuildbot.Runner, env cbuildbot.Env) *CleanUp {
	return &CleanUp{newBase(runner, env)}
}

func (s *CleanUp) Name() string { return "CleanUp" }

func (s *CleanUp) PerformStage(ctx context.Context) error {
	sdk := s.sdk()
	logger := s.logger(ctx)

	if err := os.RemoveAll(s.run().ArchiveDir()); err != nil {
		return services.Wrap(services.ErrConfiguration, "cleanup", "archive dir", s.run().ArchiveDir(), err)
	}
	if !sdk.Exists() {
		logger.Info("no chroot to clean", logging.String("chroot", sdk.Path))
		return nil
	}

	logger.Info("cleaning chroot", logging.String("chroot", sdk.Path))
	if err := os.RemoveAll(sdk.Tmp()); err != nil {
		return services.Wrap(services.ErrConfiguration, "cleanup", "chroot tmp", sdk.Tmp(), err)
	}
	if err := os.MkdirAll(sdk.Tmp(), 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "cleanup", "chroot tmp", sdk.Tmp(), err)
	}
	if err := os.Chmod(sdk.Tmp(), 0o777|os.ModeSticky); err != nil {
		return services.Wrap(services.ErrConfiguration, "cleanup", "chroot tmp", sdk.Tmp(), err)
	}

	caches := []string{sdk.FullPath("var", "cache", "portage")}
	for _, board := range s.run().Boards() {
		caches = append(caches, sdk.FullPath("build", board, "var", "cache", "portage"))
	}
	for _, dir := range caches {
		if err := os.RemoveAll(dir); err != nil {
			return services.Wrap(services.ErrConfiguration, "cleanup", "portage cache", dir, err)
		}
	}
	return nil
}

// InitSDK creates the chroot when it is missing, broken, or configured to
// be replaced.
type InitSDK struct{ base }

// NewInitSDK constructs the stage.
func NewInitSDK(runner *cbuildbot.Runner, env cbuildbot.Env) *InitSDK {
	return &InitSDK{newBase(runner, env)}
}

func (s *InitSDK) Name() string { return "InitSDK" }

func (s *InitSDK) ShouldSkip(context.Context) (bool, string) {
	if chroot.IsInside() {
		return true, "already running inside the SDK"
	}
	return false, ""
}

func (s *InitSDK) PerformStage(ctx context.Context) error {
	sdk := s.sdk()
	logger := s.logger(ctx)
	replace := s.run().Config.ChrootReplace
	exists := sdk.Exists()

	var before string
	if exists && !replace {
		v, err := chrootVersion(sdk)
		if err != nil {
			return err
		}
		if v == "" {
			logging.WarnWithContext(logger, "replacing broken chroot", "chroot_broken",
				logging.String(logging.FieldImpact, "the SDK is recreated from scratch"),
				logging.String("chroot", sdk.Path))
			replace = true
		}
		before = v
	}

	if !exists || replace {
		args := []string{"cros_sdk", "--create"}
		if replace {
			args = append(args, "--replace")
		}
		args = append(args, sdk.EnterArgs()...)
		logger.Info("creating chroot", logging.Bool("replace", replace))
		if _, err := s.env.Commands.Run(ctx, services.Command{
			Args:  args,
			Dir:   s.env.Config.Paths.SourceRoot,
			Check: true,
		}); err != nil {
			return services.Wrap(services.ErrExternalTool, "init_sdk", "cros_sdk --create", "", err)
		}
		before = ""
	}

	after, err := chrootVersion(sdk)
	if err != nil {
		return err
	}
	if before != "" && before != after {
		logger.Info("chroot version changed", logging.String("from", before), logging.String("to", after))
	}
	s.run().Attrs.Set(AttrChrootVersion, after)
	return nil
}

// chrootVersion reads the SDK version stamp, returning "" when absent.
func chrootVersion(sdk chroot.Chroot) (string, error) {
	data, err := os.ReadFile(sdk.FullPath(chroot.VersionFile))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "init_sdk", "read chroot version", "", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// UpdateSDK brings the chroot's host packages and toolchains up to date.
type UpdateSDK struct{ base }

// NewUpdateSDK constructs the stage.
func NewUpdateSDK(runner *cbuildbot.Runner, env cbuildbot.Env) *UpdateSDK {
	return &UpdateSDK{newBase(runner, env)}
}

func (s *UpdateSDK) Name() string { return "UpdateSDK" }

func (s *UpdateSDK) PerformStage(ctx context.Context) error {
	args := []string{"update_chroot"}
	if boards := s.run().Boards(); len(boards) > 0 {
		args = append(args, "--toolchain_boards", strings.Join(boards, ","))
	}
	cmd := s.sdk().SDKCommand(args, chroot.RunOptions{Check: true})
	if _, err := s.env.Commands.Run(ctx, cmd); err != nil {
		return services.Wrap(services.ErrExternalTool, "update_sdk", "update_chroot", "", err)
	}
	return nil
}
