package stages

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chromite/internal/buildtarget"
	"chromite/internal/cbuildbot"
	"chromite/internal/image"
	"chromite/internal/logging"
	"chromite/internal/portage"
	"chromite/internal/services"
	"chromite/internal/sysroot"
)

const acceptLicenses = "@CHROMEOS"

// SetupBoard creates the board sysroot with setup_board.
type SetupBoard struct{ boardBase }

// NewSetupBoard constructs the stage for board.
func NewSetupBoard(runner *cbuildbot.Runner, env cbuildbot.Env, board string) *SetupBoard {
	return &SetupBoard{newBoardBase(runner, env, board)}
}

func (s *SetupBoard) Name() string { return "SetupBoard" }

func (s *SetupBoard) PerformStage(ctx context.Context) error {
	svc := sysroot.New(s.env.Commands, s.sdk(), s.logger(ctx))
	sr, err := svc.Create(ctx, s.target(), sysroot.CreateOptions{
		Replace:        s.run().Config.BoardReplace,
		AcceptLicenses: acceptLicenses,
	})
	if err != nil {
		return err
	}
	s.run().Attrs.Set(s.key(AttrSysroot), sr.Path)
	return nil
}

// BuildPackages installs the board's packages with build_packages.
type BuildPackages struct{ boardBase }

// NewBuildPackages constructs the stage for board.
func NewBuildPackages(runner *cbuildbot.Runner, env cbuildbot.Env, board string) *BuildPackages {
	return &BuildPackages{newBoardBase(runner, env, board)}
}

func (s *BuildPackages) Name() string { return "BuildPackages" }

func (s *BuildPackages) PerformStage(ctx context.Context) error {
	target := s.target()
	root := s.run().Attrs.GetString(s.key(AttrSysroot))
	if root == "" {
		root = target.Root
	}
	svc := sysroot.New(s.env.Commands, s.sdk(), s.logger(ctx))
	err := svc.InstallPackages(ctx, target, buildtarget.NewSysroot(root, &target), sysroot.InstallOptions{
		CompileSource: s.run().Config.CompileSource,
	})
	var installErr *portage.PackageInstallError
	if errors.As(err, &installErr) {
		s.recordFailedPackages(installErr.FailedPackages)
	}
	return err
}

func (s *BuildPackages) recordFailedPackages(pkgs []portage.PackageInfo) {
	if len(pkgs) == 0 {
		return
	}
	names := make([]string, len(pkgs))
	for i, p := range pkgs {
		names[i] = p.CPF()
	}
	s.run().Attrs.Set(s.key(AttrFailedPackages), names)
}

// BuildImage builds the configured image types.
type BuildImage struct{ boardBase }

// NewBuildImage constructs the stage for board.
func NewBuildImage(runner *cbuildbot.Runner, env cbuildbot.Env, board string) *BuildImage {
	return &BuildImage{newBoardBase(runner, env, board)}
}

func (s *BuildImage) Name() string { return "BuildImage" }

func (s *BuildImage) PerformStage(ctx context.Context) error {
	run := s.run()
	cfg := image.DefaultBuildConfig()
	cfg.Version = run.Options.Version

	svc := image.New(s.env.Commands, s.sdk(), s.env.Config.Paths.SourceRoot, s.logger(ctx))
	types := run.Config.ImageTypes()
	res, err := svc.Build(ctx, s.target(), types, cfg)
	if err != nil {
		return err
	}
	if !res.RunSuccess() {
		if len(res.FailedPackages) > 0 {
			names := make([]string, len(res.FailedPackages))
			for i, p := range res.FailedPackages {
				names[i] = p.CPF()
			}
			run.Attrs.Set(s.key(AttrFailedPackages), names)
			return services.Wrap(services.ErrExternalTool, "build_image", s.board,
				"failed packages: "+strings.Join(names, ", "), nil)
		}
		return services.Wrap(services.ErrExternalTool, "build_image", s.board,
			fmt.Sprintf("build-image exited %d", res.ReturnCode), nil)
	}
	if !res.AllBuilt() {
		return services.Wrap(services.ErrNotFound, "build_image", s.board,
			"images not produced: "+strings.Join(res.Missing(), ", "), nil)
	}

	run.Attrs.Set(s.key(AttrImages), res.Images)
	s.logger(ctx).Info("images built", logging.Int("count", len(res.Images)))
	return nil
}
