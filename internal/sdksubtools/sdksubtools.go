// Package sdksubtools converts a regular SDK into the subtools SDK, updates
// its packages, and bundles and uploads the exported subtools.
package sdksubtools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"chromite/internal/buildtarget"
	"chromite/internal/chroot"
	"chromite/internal/gs"
	"chromite/internal/portage"
	"chromite/internal/services"
	"chromite/internal/sysroot"
)

const (
	// ChrootVersionFile marks an SDK as a subtools SDK.
	ChrootVersionFile = "/etc/cros_subtools_chroot_version"
	// ExportsConfigDir holds the subtool manifests.
	ExportsConfigDir = "/etc/cros/sdk-packages.d"
	// BundleWorkDir is where subtools are bundled.
	BundleWorkDir = "/var/tmp/cros-subtools"

	// BuildTargetName is the build target the subtools builder runs as.
	BuildTargetName = "amd64-subtools-host"
	// SDKPackage pulls in every package the subtools builder exports.
	SDKPackage = "virtual/target-sdk-subtools"
)

// ExcludePackages are never rebuilt by the subtools builder. They only
// change when a new SDK is published.
var ExcludePackages = []string{
	"dev-embedded/hps-sdk",
	"dev-lang/rust",
	"dev-lang/go",
	"sys-libs/glibc",
	"sys-devel/gcc",
	"sys-devel/binutils",
	"sys-kernel/linux-headers",
	"sys-devel/llvm",
}

// Layout locates the subtools SDK on disk. Production code uses
// DefaultLayout; tests point every field into a temp dir.
type Layout struct {
	// Root is the filesystem root subtool inputs and the package
	// database are resolved against.
	Root           string
	ConfigDir      string
	WorkRoot       string
	VersionFile    string
	SDKVersionFile string
}

// DefaultLayout returns the layout inside a real SDK.
func DefaultLayout() Layout {
	return Layout{
		Root:           "/",
		ConfigDir:      ExportsConfigDir,
		WorkRoot:       BundleWorkDir,
		VersionFile:    ChrootVersionFile,
		SDKVersionFile: chroot.VersionFile,
	}
}

// Buckets are the upload destinations.
type Buckets struct {
	Production string
	Staging    string
}

// Service runs the subtools builder steps.
type Service struct {
	runner  services.Runner
	layout  Layout
	gs      *gs.Context
	buckets Buckets
	logger  *slog.Logger
}

// New constructs a Service.
func New(runner services.Runner, layout Layout, gsctx *gs.Context, buckets Buckets, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{runner: runner, layout: layout, gs: gsctx, buckets: buckets, logger: logger}
}

// Layout returns the paths the service operates on.
func (s *Service) Layout() Layout {
	return s.layout
}

// IsInsideSubtoolsChroot reports whether the SDK was converted.
func (s *Service) IsInsideSubtoolsChroot() bool {
	_, err := os.Stat(s.layout.VersionFile)
	return err == nil
}

func (s *Service) assertInsideSubtoolsChroot() error {
	if !s.IsInsideSubtoolsChroot() {
		return services.Wrap(services.ErrConfiguration, "sdksubtools", "assert", "Not in subtools SDK", nil)
	}
	return nil
}

// SetupBaseSDK converts the running SDK into a subtools SDK. The chroot
// version file is copied, not moved, so regular SDK tooling keeps working.
func (s *Service) SetupBaseSDK(_ context.Context, target buildtarget.BuildTarget, setupChroot bool) error {
	if !s.IsInsideSubtoolsChroot() {
		content, err := os.ReadFile(s.layout.SDKVersionFile)
		if err != nil {
			return services.Wrap(services.ErrConfiguration, "sdksubtools", "setup", "read SDK version file", err)
		}
		if err := os.MkdirAll(filepath.Dir(s.layout.VersionFile), 0o755); err != nil {
			return services.Wrap(services.ErrConfiguration, "sdksubtools", "setup", "create version dir", err)
		}
		if err := os.WriteFile(s.layout.VersionFile, content, 0o644); err != nil {
			return services.Wrap(services.ErrConfiguration, "sdksubtools", "setup", "write subtools version file", err)
		}
	}
	if setupChroot {
		s.logger.Info("setting up subtools SDK", slog.String("root", target.Root))
		if err := os.MkdirAll(s.layout.ConfigDir, 0o755); err != nil {
			return services.Wrap(services.ErrConfiguration, "sdksubtools", "setup", "create exports config dir", err)
		}
	}
	return nil
}

// UpdateCommand returns the parallel_emerge invocation that updates pkgs in
// the subtools SDK.
func UpdateCommand(pkgs []string, jobs int) []string {
	excluded := strings.Join(ExcludePackages, " ")
	argv := []string{
		"sudo", "-E", "parallel_emerge",
		"--update", "--deep", "--newuse", "--with-bdeps=y",
		"--backtrack=" + strconv.Itoa(sysroot.DefaultBacktrack),
	}
	if jobs > 0 {
		argv = append(argv, "--jobs="+strconv.Itoa(jobs))
	}
	argv = append(argv,
		"--useoldpkg-atoms="+excluded,
		"--rebuild-exclude="+excluded,
	)
	return append(argv, pkgs...)
}

// UpdatePackages installs pkgs into the live subtools SDK. A failed merge
// returns *portage.PackageInstallError listing what the die hook recorded.
func (s *Service) UpdatePackages(ctx context.Context, pkgs []string, jobs int) error {
	if err := s.assertInsideSubtoolsChroot(); err != nil {
		return err
	}
	metricsDir, err := os.MkdirTemp("", "subtools-metrics-")
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "sdksubtools", "update", "create metrics dir", err)
	}
	defer os.RemoveAll(metricsDir)

	const reason = "subtools builder SDK packages"
	s.logger.Info("merging packages", slog.String("reason", reason), slog.Any("packages", pkgs))
	_, err = s.runner.Run(ctx, services.Command{
		Args:  UpdateCommand(pkgs, jobs),
		Env:   []string{portage.MetricsDirEnv + "=" + metricsDir},
		Check: true,
	})
	if err == nil {
		s.logger.Info("merge complete", slog.String("reason", reason))
		return nil
	}
	var runErr *services.RunCommandError
	if !errors.As(err, &runErr) {
		return err
	}
	failed, parseErr := portage.ParseDieHookStatusFile(metricsDir)
	if parseErr != nil {
		s.logger.Warn("read die hook status failed", slog.String("error", parseErr.Error()))
	}
	s.logger.Error("merge failed", slog.String("reason", reason), slog.Any("failed_packages", failed))
	return &portage.PackageInstallError{
		Msg:            fmt.Sprintf("Merging %s failed", reason),
		FailedPackages: failed,
		Cause:          err,
	}
}

// BundleAndPrepareUpload bundles every configured subtool and writes upload
// metadata for those passing filter (all when filter is empty). It returns
// the metadata dirs, which UploadPreparedBundles accepts.
func (s *Service) BundleAndPrepareUpload(ctx context.Context, filter []string) ([]string, error) {
	if err := s.assertInsideSubtoolsChroot(); err != nil {
		return nil, err
	}
	installed, err := LoadInstalled(s.layout, s.logger)
	if err != nil {
		return nil, err
	}
	if err := installed.BundleAll(ctx); err != nil {
		return nil, err
	}
	return installed.PrepareUploads(filter)
}

// UploadPreparedBundles uploads previously bundled subtools.
func (s *Service) UploadPreparedBundles(ctx context.Context, useProduction bool, bundles []string) error {
	bucket := s.buckets.Staging
	if useProduction {
		bucket = s.buckets.Production
	}
	if bucket == "" {
		return services.Wrap(services.ErrConfiguration, "sdksubtools", "upload", "no destination bucket configured", nil)
	}
	if s.gs == nil {
		return services.Wrap(services.ErrConfiguration, "sdksubtools", "upload", "no storage configured", nil)
	}
	for _, dir := range bundles {
		if err := s.uploadBundle(ctx, bucket, dir); err != nil {
			return err
		}
	}
	return nil
}
