package portage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"chromite/internal/buildtarget"
	"chromite/internal/services"
)

// EmergeOptions adjusts an emerge invocation.
type EmergeOptions struct {
	Flags     []string
	ExtraEnv  []string
	Dir       string
	StatusDir string
	OnOutput  func(string)
}

// EmergeArgs builds the emerge argv for target.
func EmergeArgs(target buildtarget.BuildTarget, pkgs []string, flags []string) []string {
	args := []string{target.GetCommand("emerge")}
	args = append(args, flags...)
	args = append(args, pkgs...)
	return args
}

// Emerge installs pkgs into target's sysroot. A failed build returns a
// *PackageInstallError naming the packages recorded in the status files.
func Emerge(ctx context.Context, runner services.Runner, target buildtarget.BuildTarget, pkgs []string, opts EmergeOptions) error {
	statusDir := opts.StatusDir
	cleanup := func() {}
	if statusDir == "" {
		dir, err := os.MkdirTemp("", "emerge-status-")
		if err != nil {
			return services.Wrap(services.ErrConfiguration, "portage", "emerge", "create status dir", err)
		}
		statusDir = dir
		cleanup = func() { _ = os.RemoveAll(dir) }
	}
	defer cleanup()

	statusFile := filepath.Join(statusDir, "emerge-status")
	env := append([]string{
		StatusFileEnv + "=" + statusFile,
		MetricsDirEnv + "=" + statusDir,
	}, opts.ExtraEnv...)

	_, err := runner.Run(ctx, services.Command{
		Args:     EmergeArgs(target, pkgs, opts.Flags),
		Dir:      opts.Dir,
		Env:      env,
		Check:    true,
		OnOutput: opts.OnOutput,
	})
	if err == nil {
		return nil
	}
	var runErr *services.RunCommandError
	if !errors.As(err, &runErr) || runErr.Result == nil || runErr.ExitCode() < 0 {
		return err
	}
	failed, readErr := CollectFailedPackages(statusFile, statusDir)
	if readErr != nil {
		return errors.Join(err, readErr)
	}
	return &PackageInstallError{Msg: "merging board packages failed", FailedPackages: failed, Cause: err}
}

// CollectFailedPackages merges failures from the emerge status file and the
// die hook status file, dropping duplicates.
func CollectFailedPackages(statusFile, metricsDir string) ([]PackageInfo, error) {
	fromStatus, err := ReadStatusFile(statusFile)
	if err != nil {
		return nil, err
	}
	fromHook, err := ParseDieHookStatusFile(metricsDir)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []PackageInfo
	for _, pkg := range append(fromStatus, fromHook...) {
		if seen[pkg.CPF()] {
			continue
		}
		seen[pkg.CPF()] = true
		out = append(out, pkg)
	}
	return out, nil
}

// FindPackageLog returns the newest build log for pkg under the sysroot's
// portage log dir. Log names follow <category>:<pf>:<timestamp>.log.
func FindPackageLog(sysroot buildtarget.Sysroot, pkg PackageInfo) (string, error) {
	pattern := filepath.Join(sysroot.LogDir(), pkg.Category+":"+pkg.PF()+":*.log")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", services.Wrap(services.ErrNotFound, "portage", "find log",
			"no build log for "+pkg.CPF(), nil)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// HasLog reports whether name looks like a portage build log.
func HasLog(name string) bool {
	return strings.HasSuffix(name, ".log") && strings.Count(filepath.Base(name), ":") >= 2
}
