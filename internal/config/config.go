package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains checkout, SDK, and local state locations.
type Paths struct {
	SourceRoot string `toml:"source_root"`
	ChrootPath string `toml:"chroot_path"`
	OutPath    string `toml:"out_path"`
	CacheDir   string `toml:"cache_dir"`
	StateDir   string `toml:"state_dir"`
	LogDir     string `toml:"log_dir"`
}

// GS contains Google Storage settings.
type GS struct {
	CredentialsFile       string `toml:"credentials_file"`
	DryRun                bool   `toml:"dry_run"`
	ArchiveBucket         string `toml:"archive_bucket"`
	SubtoolsBucket        string `toml:"subtools_bucket"`
	SubtoolsStagingBucket string `toml:"subtools_staging_bucket"`
	RequestTimeout        int    `toml:"request_timeout"`
}

// BuildAPI contains Build API dispatch settings.
type BuildAPI struct {
	// Branched reports whether this installation is the branched (checkout)
	// chromite rather than a tip-of-tree copy. ToT installs re-execute
	// endpoints on the branched build_api.
	Branched            bool   `toml:"branched"`
	BranchedChromiteDir string `toml:"branched_chromite_dir"`
	Binary              string `toml:"binary"`
	SocketPath          string `toml:"socket_path"`
}

// Buildbot contains cbuildbot orchestration settings.
type Buildbot struct {
	SiteConfig   string `toml:"site_config"`
	Buildroot    string `toml:"buildroot"`
	StageTimeout int    `toml:"stage_timeout"`
	MaxParallel  int    `toml:"max_parallel"`
	MetricsAddr  string `toml:"metrics_addr"`
}

// Notifications contains ntfy and NATS build event settings.
type Notifications struct {
	NtfyTopic       string `toml:"ntfy_topic"`
	RequestTimeout  int    `toml:"request_timeout"`
	NATSURL         string `toml:"nats_url"`
	NATSSubject     string `toml:"nats_subject"`
	BuildStart      bool   `toml:"build_start"`
	StageFailures   bool   `toml:"stage_failures"`
	BuildCompletion bool   `toml:"build_completion"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for chromite.
//
// Configuration sections by subsystem:
//   - Paths: source checkout, chroot, out dir, and local state
//   - GS: Google Storage credentials, buckets, and dry-run mode
//   - BuildAPI: endpoint dispatch and re-execution
//   - Buildbot: builder site config, stage timeouts, and parallelism
//   - Notifications: ntfy push and NATS event publishing
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	GS            GS            `toml:"gs"`
	BuildAPI      BuildAPI      `toml:"build_api"`
	Buildbot      Buildbot      `toml:"buildbot"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/chromite/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("chromite.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the local state directories. Checkout and chroot
// paths are never created here; cros_sdk owns them.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.CacheDir, c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// BuildStorePath returns the build history database location.
func (c *Config) BuildStorePath() string {
	return filepath.Join(c.Paths.StateDir, "builds.db")
}

// BuildLogPath returns the per-build log file for the build with uuid.
func (c *Config) BuildLogPath(uuid string) string {
	return filepath.Join(c.Paths.LogDir, "builds", uuid+".log")
}

// SDKServerSocket returns the Build API server socket path.
func (c *Config) SDKServerSocket() string {
	if c.BuildAPI.SocketPath != "" {
		return c.BuildAPI.SocketPath
	}
	return filepath.Join(c.Paths.StateDir, "sdk-server.sock")
}

// StageTimeout returns the default per-stage timeout, zero meaning none.
func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.Buildbot.StageTimeout) * time.Second
}

// GSRequestTimeout returns the timeout applied to individual storage calls.
func (c *Config) GSRequestTimeout() time.Duration {
	return time.Duration(c.GS.RequestTimeout) * time.Second
}

// BuildAPIBinary returns the build_api executable used for re-execution.
func (c *Config) BuildAPIBinary() string {
	if strings.TrimSpace(c.BuildAPI.Binary) == "" {
		return defaultBuildAPIBinary
	}
	return c.BuildAPI.Binary
}

// BranchedBuildAPIBinary returns the build_api entry point of the branched checkout.
func (c *Config) BranchedBuildAPIBinary() string {
	return filepath.Join(c.BuildAPI.BranchedChromiteDir, "bin", defaultBuildAPIBinary)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Sample returns the embedded sample configuration.
func Sample() string {
	return sampleConfig
}
