// Package chroot models the ChromiumOS SDK chroot: where it lives, how paths
// map into it, and how commands are run inside it through cros_sdk.
package chroot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"chromite/internal/config"
	"chromite/internal/services"
)

// VersionFile exists only inside an SDK chroot.
const VersionFile = "/etc/cros_chroot_version"

// IsInside reports whether the current process runs inside the SDK. Tests
// replace it.
var IsInside = func() bool {
	_, err := os.Stat(VersionFile)
	return err == nil
}

// Chroot describes an SDK checkout.
type Chroot struct {
	Path       string
	OutPath    string
	CacheDir   string
	ChromeRoot string
	Env        map[string]string
}

// FromConfig returns the chroot configured under paths.
func FromConfig(cfg *config.Config) Chroot {
	return Chroot{
		Path:     cfg.Paths.ChrootPath,
		OutPath:  cfg.Paths.OutPath,
		CacheDir: cfg.Paths.CacheDir,
	}
}

// Tmp is the out-of-chroot directory mounted as /tmp inside the chroot.
func (c Chroot) Tmp() string {
	return filepath.Join(c.OutPath, "tmp")
}

// Exists reports whether the chroot directory is present.
func (c Chroot) Exists() bool {
	if c.Path == "" {
		return false
	}
	info, err := os.Stat(c.Path)
	return err == nil && info.IsDir()
}

// ChrootPath translates an outside path into the path seen inside the chroot.
func (c Chroot) ChrootPath(hostPath string) (string, error) {
	abs, err := filepath.Abs(hostPath)
	if err != nil {
		return "", err
	}
	if rel, ok := within(c.Tmp(), abs); ok {
		return filepath.Join("/tmp", rel), nil
	}
	if rel, ok := within(c.Path, abs); ok {
		return filepath.Join("/", rel), nil
	}
	return "", services.Wrap(services.ErrValidation, "chroot", "translate path",
		fmt.Sprintf("%s is not reachable from inside the chroot", hostPath), nil)
}

// FullPath translates an inside path (or parts of one) into the outside path.
func (c Chroot) FullPath(parts ...string) string {
	inside := filepath.Join(append([]string{"/"}, parts...)...)
	if rel, ok := within("/tmp", inside); ok {
		return filepath.Join(c.Tmp(), rel)
	}
	return filepath.Join(c.Path, inside)
}

// HasPath reports whether the inside path exists.
func (c Chroot) HasPath(parts ...string) bool {
	_, err := os.Stat(c.FullPath(parts...))
	return err == nil
}

// EnterArgs returns the cros_sdk flags selecting this chroot.
func (c Chroot) EnterArgs() []string {
	var args []string
	if c.Path != "" {
		args = append(args, "--chroot", c.Path)
	}
	if c.OutPath != "" {
		args = append(args, "--out-dir", c.OutPath)
	}
	if c.CacheDir != "" {
		args = append(args, "--cache-dir", c.CacheDir)
	}
	if c.ChromeRoot != "" {
		args = append(args, "--chrome-root", c.ChromeRoot)
	}
	return args
}

// RunOptions adjusts a command run inside the chroot.
type RunOptions struct {
	Dir        string
	ExtraEnv   map[string]string
	ChrootArgs []string
	Capture    bool
	Check      bool
	OnOutput   func(string)
}

// Command builds the cros_sdk invocation wrapping argv.
func (c Chroot) Command(argv []string, opts RunOptions) services.Command {
	args := []string{"cros_sdk"}
	args = append(args, c.EnterArgs()...)
	args = append(args, opts.ChrootArgs...)
	args = append(args, envPairs(c.Env, opts.ExtraEnv)...)
	args = append(args, "--")
	args = append(args, argv...)
	return services.Command{
		Args:     args,
		Dir:      opts.Dir,
		Capture:  opts.Capture,
		Check:    opts.Check,
		OnOutput: opts.OnOutput,
	}
}

// Run executes argv inside the chroot.
func (c Chroot) Run(ctx context.Context, runner services.Runner, argv []string, opts RunOptions) (*services.Result, error) {
	return runner.Run(ctx, c.Command(argv, opts))
}

// SDKCommand returns argv as a command that runs in the SDK: directly when
// this process is already inside, otherwise through cros_sdk.
func (c Chroot) SDKCommand(argv []string, opts RunOptions) services.Command {
	if !IsInside() {
		return c.Command(argv, opts)
	}
	return services.Command{
		Args:     append([]string(nil), argv...),
		Dir:      opts.Dir,
		Env:      envPairs(c.Env, opts.ExtraEnv),
		Capture:  opts.Capture,
		Check:    opts.Check,
		OnOutput: opts.OnOutput,
	}
}

// SDKTempDir creates a scratch directory visible from inside the SDK. It
// returns the host path, the same directory as seen inside the SDK, and a
// cleanup func.
func (c Chroot) SDKTempDir(pattern string) (string, string, func(), error) {
	if IsInside() {
		dir, err := os.MkdirTemp("", pattern)
		if err != nil {
			return "", "", nil, services.Wrap(services.ErrConfiguration, "chroot", "tempdir", "create temp dir", err)
		}
		return dir, dir, func() { _ = os.RemoveAll(dir) }, nil
	}
	dir, cleanup, err := c.TempDir(pattern)
	if err != nil {
		return "", "", nil, err
	}
	inside, err := c.ChrootPath(dir)
	if err != nil {
		cleanup()
		return "", "", nil, err
	}
	return dir, inside, cleanup, nil
}

// TempDir creates a directory under Tmp and returns it with a cleanup func.
func (c Chroot) TempDir(pattern string) (string, func(), error) {
	if err := os.MkdirAll(c.Tmp(), 0o777); err != nil {
		return "", nil, services.Wrap(services.ErrConfiguration, "chroot", "tempdir", "create chroot tmp", err)
	}
	dir, err := os.MkdirTemp(c.Tmp(), pattern)
	if err != nil {
		return "", nil, services.Wrap(services.ErrConfiguration, "chroot", "tempdir", "create temp dir", err)
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

func envPairs(maps ...map[string]string) []string {
	merged := map[string]string{}
	for _, m := range maps {
		for k, v := range m {
			merged[k] = v
		}
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+merged[k])
	}
	return pairs
}

func within(root, path string) (string, bool) {
	if root == "" {
		return "", false
	}
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}
