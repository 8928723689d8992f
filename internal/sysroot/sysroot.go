// Package sysroot creates board sysroots and installs packages into them by
// driving setup_board and build_packages in the SDK.
package sysroot

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"chromite/internal/buildtarget"
	"chromite/internal/chroot"
	"chromite/internal/portage"
	"chromite/internal/services"
)

// DefaultBacktrack bounds the emerge dependency solver.
const DefaultBacktrack = 30

// Service wraps the sysroot tooling.
type Service struct {
	runner services.Runner
	sdk    chroot.Chroot
	logger *slog.Logger
}

// New constructs a Service.
func New(runner services.Runner, sdk chroot.Chroot, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{runner: runner, sdk: sdk, logger: logger}
}

// CreateOptions controls setup_board.
type CreateOptions struct {
	Replace        bool
	UpdateChroot   bool
	UseCQPrebuilts bool
	Backtrack      int
	// AcceptLicenses is an ACCEPT_LICENSE group such as @CHROMEOS.
	AcceptLicenses string
}

// Create builds (or replaces) the sysroot for target.
func (s *Service) Create(ctx context.Context, target buildtarget.BuildTarget, opts CreateOptions) (buildtarget.Sysroot, error) {
	if target.IsHost() {
		return buildtarget.Sysroot{}, services.Wrap(services.ErrValidation, "sysroot", "create", "a build target name is required", nil)
	}
	if err := target.Validate(); err != nil {
		return buildtarget.Sysroot{}, services.Wrap(services.ErrValidation, "sysroot", "create", "", err)
	}

	args := []string{"setup_board", "--board=" + target.Name}
	if target.Profile != "" {
		args = append(args, "--profile="+target.Profile)
	}
	if opts.Replace {
		args = append(args, "--force")
	}
	if target.Public {
		args = append(args, "--public")
	}
	if !opts.UpdateChroot {
		args = append(args, "--skip-chroot-upgrade")
	}
	if opts.UseCQPrebuilts {
		args = append(args, "--use-cq-prebuilts")
	}
	if opts.AcceptLicenses != "" {
		args = append(args, "--accept-licenses="+opts.AcceptLicenses)
	}
	backtrack := opts.Backtrack
	if backtrack <= 0 {
		backtrack = DefaultBacktrack
	}
	args = append(args, "--backtrack="+strconv.Itoa(backtrack))

	s.logger.Info("creating sysroot", slog.String("board", target.Name), slog.Bool("replace", opts.Replace))
	if _, err := s.runner.Run(ctx, s.sdk.SDKCommand(args, chroot.RunOptions{Check: true})); err != nil {
		return buildtarget.Sysroot{}, services.Wrap(services.ErrExternalTool, "sysroot", "setup_board", target.Name, err)
	}
	return buildtarget.NewSysroot(target.Root, &target), nil
}

// InstallOptions controls build_packages.
type InstallOptions struct {
	Packages      []string
	UseFlags      []string
	CompileSource bool
	Workon        bool
	DryRun        bool
	Jobs          int
	Backtrack     int
}

// InstallPackages builds and installs packages into sysroot. Failures that
// can be attributed to packages return a *portage.PackageInstallError.
func (s *Service) InstallPackages(ctx context.Context, target buildtarget.BuildTarget, sr buildtarget.Sysroot, opts InstallOptions) error {
	args := []string{"build_packages", "--board=" + target.Name, "--sysroot=" + sr.Path}
	if opts.CompileSource {
		args = append(args, "--no-usepkg")
	}
	if opts.Workon {
		args = append(args, "--workon")
	}
	if opts.DryRun {
		args = append(args, "--pretend")
	}
	if opts.Jobs > 0 {
		args = append(args, "--jobs="+strconv.Itoa(opts.Jobs))
	}
	backtrack := opts.Backtrack
	if backtrack <= 0 {
		backtrack = DefaultBacktrack
	}
	args = append(args, "--backtrack="+strconv.Itoa(backtrack))
	args = append(args, opts.Packages...)

	hostDir, sdkDir, cleanup, err := s.sdk.SDKTempDir("build-packages-")
	if err != nil {
		return err
	}
	defer cleanup()

	env := map[string]string{
		portage.StatusFileEnv: filepath.Join(sdkDir, "status_file"),
		portage.MetricsDirEnv: sdkDir,
	}
	if len(opts.UseFlags) > 0 {
		env["USE"] = strings.Join(opts.UseFlags, " ")
	}

	s.logger.Info("installing packages",
		slog.String("board", target.Name),
		slog.Int("packages", len(opts.Packages)))
	_, runErr := s.runner.Run(ctx, s.sdk.SDKCommand(args, chroot.RunOptions{ExtraEnv: env, Check: true}))
	if runErr == nil {
		return nil
	}
	var cmdErr *services.RunCommandError
	if !errors.As(runErr, &cmdErr) || cmdErr.ExitCode() < 0 {
		return runErr
	}
	failed, err := portage.CollectFailedPackages(filepath.Join(hostDir, "status_file"), hostDir)
	if err != nil {
		return errors.Join(runErr, err)
	}
	return &portage.PackageInstallError{
		Msg:            "merging board packages failed",
		FailedPackages: failed,
		Cause:          runErr,
	}
}

// FailedPackageLog pairs a failed package with its newest build log. LogPath
// is empty when no log was found.
type FailedPackageLog struct {
	Package portage.PackageInfo
	LogPath string
}

// PackageLogPaths finds the build log for each failed package.
func PackageLogPaths(sr buildtarget.Sysroot, failed []portage.PackageInfo) []FailedPackageLog {
	out := make([]FailedPackageLog, 0, len(failed))
	for _, pkg := range failed {
		entry := FailedPackageLog{Package: pkg}
		if path, err := portage.FindPackageLog(sr, pkg); err == nil {
			entry.LogPath = path
		}
		out = append(out, entry)
	}
	return out
}
