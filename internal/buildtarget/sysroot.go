package buildtarget

import (
	"os"
	"path/filepath"
)

// Sysroot is a Portage-managed root filesystem for a build target.
type Sysroot struct {
	Path        string
	BuildTarget *BuildTarget
}

// NewSysroot returns the sysroot at path. target may be nil.
func NewSysroot(path string, target *BuildTarget) Sysroot {
	return Sysroot{Path: filepath.Clean(path), BuildTarget: target}
}

// Exists reports whether the sysroot directory is present.
func (s Sysroot) Exists() bool {
	info, err := os.Stat(s.Path)
	return err == nil && info.IsDir()
}

// LogDir is where Portage writes per-package build logs.
func (s Sysroot) LogDir() string {
	return filepath.Join(s.Path, "tmp", "portage", "logs")
}

// VDBDir is the installed package database.
func (s Sysroot) VDBDir() string {
	return filepath.Join(s.Path, "var", "db", "pkg")
}

// Join resolves sysroot-relative parts.
func (s Sysroot) Join(parts ...string) string {
	return filepath.Join(append([]string{s.Path}, parts...)...)
}
