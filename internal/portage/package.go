// Package portage wraps the Portage package manager: package identifiers,
// emerge invocations, build logs, and overlay metadata.
package portage

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var versionSuffix = regexp.MustCompile(`-(\d+(?:\.\d+)*[a-z]?(?:_(?:alpha|beta|pre|rc|p)\d*)*)(?:-r(\d+))?$`)

// PackageInfo identifies a package by category, name, and optional version.
type PackageInfo struct {
	Category string `json:"category"`
	Package  string `json:"package_name"`
	Version  string `json:"version,omitempty"`
	Revision int    `json:"revision,omitempty"`
}

// ParseCPV parses cat/pkg, cat/pkg-1.2.3, or cat/pkg-1.2.3-r4. Leading
// dependency operators (=, ~, <, >) are dropped.
func ParseCPV(s string) (PackageInfo, error) {
	raw := strings.TrimSpace(s)
	raw = strings.TrimLeft(raw, "=~<>")
	raw = strings.TrimSuffix(raw, ".ebuild")
	cat, rest, ok := strings.Cut(raw, "/")
	if !ok || cat == "" || rest == "" || strings.Contains(rest, "/") {
		return PackageInfo{}, fmt.Errorf("invalid package atom %q", s)
	}
	info := PackageInfo{Category: cat, Package: rest}
	if m := versionSuffix.FindStringSubmatchIndex(rest); m != nil {
		info.Package = rest[:m[0]]
		info.Version = rest[m[2]:m[3]]
		if m[4] >= 0 {
			rev, err := strconv.Atoi(rest[m[4]:m[5]])
			if err != nil {
				return PackageInfo{}, fmt.Errorf("invalid revision in %q: %w", s, err)
			}
			info.Revision = rev
		}
	}
	if info.Package == "" {
		return PackageInfo{}, fmt.Errorf("invalid package atom %q", s)
	}
	return info, nil
}

// Atom returns cat/pkg.
func (p PackageInfo) Atom() string {
	return p.Category + "/" + p.Package
}

// PVR returns the version with its revision suffix.
func (p PackageInfo) PVR() string {
	if p.Version == "" {
		return ""
	}
	if p.Revision > 0 {
		return fmt.Sprintf("%s-r%d", p.Version, p.Revision)
	}
	return p.Version
}

// PF returns pkg-version[-rN], or the bare package when unversioned.
func (p PackageInfo) PF() string {
	if pvr := p.PVR(); pvr != "" {
		return p.Package + "-" + pvr
	}
	return p.Package
}

// CPF returns cat/pkg-version[-rN].
func (p PackageInfo) CPF() string {
	return p.Category + "/" + p.PF()
}

// IsVersioned reports whether a version is known.
func (p PackageInfo) IsVersioned() bool {
	return p.Version != ""
}

func (p PackageInfo) String() string {
	return p.CPF()
}
