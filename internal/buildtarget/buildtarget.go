// Package buildtarget models ChromiumOS build targets (boards) and the
// sysroots Portage installs them into.
package buildtarget

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var validName = regexp.MustCompile(`^[a-zA-Z0-9-_]+$`)

// BuildTarget identifies a board and where its sysroot lives.
type BuildTarget struct {
	Name    string
	Profile string
	Root    string
	Public  bool
}

// New constructs a BuildTarget. An empty buildRoot selects the default
// sysroot for name.
func New(name, profile, buildRoot string, public bool) BuildTarget {
	root := DefaultSysrootPath(name)
	if buildRoot != "" {
		root = filepath.Clean(buildRoot)
	}
	return BuildTarget{Name: name, Profile: profile, Root: root, Public: public}
}

// String returns the target name.
func (b BuildTarget) String() string {
	return b.Name
}

// IsHost reports whether the target refers to the SDK host.
func (b BuildTarget) IsHost() bool {
	return b.Name == ""
}

// GetCommand returns the board wrapper for base, e.g. emerge -> emerge-eve.
func (b BuildTarget) GetCommand(base string) string {
	if b.IsHost() {
		return base
	}
	return base + "-" + b.Name
}

// FullPath turns sysroot-relative parts into an absolute path under Root.
func (b BuildTarget) FullPath(parts ...string) string {
	elems := make([]string, 0, len(parts)+1)
	elems = append(elems, b.Root)
	for _, part := range parts {
		elems = append(elems, strings.TrimLeft(part, string(os.PathSeparator)))
	}
	return filepath.Join(elems...)
}

// Validate checks the target name.
func (b BuildTarget) Validate() error {
	if b.IsHost() {
		return nil
	}
	if !IsValidName(b.Name) {
		return errors.New("invalid build target name: " + b.Name)
	}
	return nil
}

// IsValidName reports whether name is usable as a build target name.
func IsValidName(name string) bool {
	return validName.MatchString(name)
}

// DefaultSysrootPath returns /build/<name>, or / for the host.
func DefaultSysrootPath(name string) string {
	if name == "" {
		return "/"
	}
	return filepath.Join("/build", name)
}

// SDKSysrootPath returns the SDK's own sysroot.
func SDKSysrootPath() string {
	return DefaultSysrootPath("")
}
