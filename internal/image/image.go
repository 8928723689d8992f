// Package image builds ChromiumOS disk images with `cros build-image` and
// locates the results.
package image

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"chromite/internal/buildtarget"
	"chromite/internal/chroot"
	"chromite/internal/portage"
	"chromite/internal/services"
)

// Image types accepted by Build.
const (
	TypeBase           = "base"
	TypeDev            = "dev"
	TypeTest           = "test"
	TypeRecovery       = "recovery"
	TypeFactoryInstall = "factory_install"
)

// TypeToName maps image types to the file build-image writes.
var TypeToName = map[string]string{
	TypeBase:           "chromiumos_base_image.bin",
	TypeDev:            "chromiumos_image.bin",
	TypeTest:           "chromiumos_test_image.bin",
	TypeRecovery:       "recovery_image.bin",
	TypeFactoryInstall: "factory_install_shim.bin",
}

// BuildConfig holds `cros build-image` options.
type BuildConfig struct {
	BuilderPath              string
	DiskLayout               string
	EnableRootfsVerification bool
	Replace                  bool
	Version                  string
	BuildAttempt             int
	Symlink                  string
	OutputDirSuffix          string
	Jobs                     int
}

// DefaultBuildConfig returns the defaults build-image uses.
func DefaultBuildConfig() BuildConfig {
	return BuildConfig{EnableRootfsVerification: true, BuildAttempt: 1, Symlink: "latest"}
}

// BuildResult records what a Build produced.
type BuildResult struct {
	Images         map[string]string
	ReturnCode     int
	Ran            bool
	FailedPackages []portage.PackageInfo
	unbuilt        map[string]bool
}

func newBuildResult(types []string) *BuildResult {
	r := &BuildResult{Images: map[string]string{}, unbuilt: map[string]bool{}}
	for _, t := range types {
		r.unbuilt[t] = true
	}
	return r
}

// AllBuilt reports whether every requested image exists.
func (r *BuildResult) AllBuilt() bool { return len(r.unbuilt) == 0 }

// RunSuccess reports a zero exit with no failed packages.
func (r *BuildResult) RunSuccess() bool {
	return r.Ran && r.ReturnCode == 0 && len(r.FailedPackages) == 0
}

func (r *BuildResult) addImage(imageType, path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	r.Images[imageType] = path
	delete(r.unbuilt, imageType)
	return true
}

// Service wraps image building.
type Service struct {
	runner     services.Runner
	sdk        chroot.Chroot
	sourceRoot string
	logger     *slog.Logger
}

// New constructs a Service. sourceRoot is the checkout that holds
// src/build/images.
func New(runner services.Runner, sdk chroot.Chroot, sourceRoot string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{runner: runner, sdk: sdk, sourceRoot: sourceRoot, logger: logger}
}

// ImagesDir returns the host directory build-image writes board images to.
func (s *Service) ImagesDir(board, symlink string) string {
	if symlink == "" {
		symlink = "latest"
	}
	return filepath.Join(s.sourceRoot, "src", "build", "images", board, symlink)
}

// Command returns the build-image argv.
func Command(cfg BuildConfig, board string, types []string) []string {
	args := []string{"cros", "build-image", "--board=" + board}
	if cfg.BuilderPath != "" {
		args = append(args, "--builder-path="+cfg.BuilderPath)
	}
	if !cfg.EnableRootfsVerification {
		args = append(args, "--no-enable-rootfs-verification")
	}
	if cfg.DiskLayout != "" {
		args = append(args, "--disk-layout="+cfg.DiskLayout)
	}
	if cfg.Version != "" {
		args = append(args, "--version="+cfg.Version)
	}
	if cfg.Replace {
		args = append(args, "--replace")
	}
	if cfg.BuildAttempt > 1 {
		args = append(args, "--build-attempt="+strconv.Itoa(cfg.BuildAttempt))
	}
	if cfg.Symlink != "" && cfg.Symlink != "latest" {
		args = append(args, "--symlink="+cfg.Symlink)
	}
	if cfg.OutputDirSuffix != "" {
		args = append(args, "--output-dir-suffix="+cfg.OutputDirSuffix)
	}
	if cfg.Jobs > 0 {
		args = append(args, "--jobs="+strconv.Itoa(cfg.Jobs))
	}
	return append(args, types...)
}

// Build builds the requested image types for target. An unknown image type
// yields ReturnCode EINVAL without running anything. A non-zero exit is
// reported through the result, not as an error.
func (s *Service) Build(ctx context.Context, target buildtarget.BuildTarget, types []string, cfg BuildConfig) (*BuildResult, error) {
	if target.IsHost() {
		return nil, services.Wrap(services.ErrValidation, "image", "build", "a build target name is required", nil)
	}
	result := newBuildResult(types)
	if len(types) == 0 {
		return result, nil
	}
	for _, t := range types {
		if _, ok := TypeToName[t]; !ok {
			s.logger.Error("invalid image type requested", slog.String("image_type", t))
			result.ReturnCode = int(syscall.EINVAL)
			return result, nil
		}
	}

	hostDir, sdkDir, cleanup, err := s.sdk.SDKTempDir("build-image-")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	env := map[string]string{portage.StatusFileEnv: filepath.Join(sdkDir, "status_file")}
	if cfg.Version != "" {
		parts := strings.Split(cfg.Version, ".")
		if len(parts) >= 3 {
			env["CHROMEOS_BUILD"] = parts[0]
			env["CHROMEOS_BRANCH"] = parts[1]
			env["CHROMEOS_PATCH"] = parts[2]
		}
		env["CHROMEOS_VERSION_STRING"] = cfg.Version
	}

	s.logger.Info("building images", slog.String("board", target.Name), slog.Any("image_types", types))
	res, err := s.runner.Run(ctx, s.sdk.SDKCommand(Command(cfg, target.Name, types), chroot.RunOptions{ExtraEnv: env}))
	if err != nil {
		return nil, err
	}
	result.Ran = true
	result.ReturnCode = res.ExitCode

	failed, err := readStatusFile(filepath.Join(hostDir, "status_file"))
	if err != nil {
		return nil, err
	}
	result.FailedPackages = failed
	if result.ReturnCode != 0 {
		return result, nil
	}

	dir := s.ImagesDir(target.Name, cfg.Symlink)
	for _, t := range types {
		path := filepath.Join(dir, TypeToName[t])
		if resolved, err := filepath.EvalSymlinks(path); err == nil {
			path = resolved
		}
		if !result.addImage(t, path) {
			s.logger.Error("image path does not exist", slog.String("image_type", t), slog.String("path", path))
		}
	}
	return result, nil
}

// Missing returns the requested image types that were not produced, sorted.
func (r *BuildResult) Missing() []string {
	out := make([]string, 0, len(r.unbuilt))
	for t := range r.unbuilt {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (r *BuildResult) String() string {
	return fmt.Sprintf("rc=%d images=%d failed_packages=%d", r.ReturnCode, len(r.Images), len(r.FailedPackages))
}

// readStatusFile parses build-image's status file: whitespace separated CPVs.
// A missing file means no failed packages.
func readStatusFile(path string) ([]portage.PackageInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []portage.PackageInfo
	for _, field := range strings.Fields(string(data)) {
		pkg, err := portage.ParseCPV(field)
		if err != nil {
			return nil, err
		}
		out = append(out, pkg)
	}
	return out, nil
}
