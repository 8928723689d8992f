package sdksubtools

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"chromite/internal/services"
)

const (
	// DefaultDest is where matched files land inside the bundle.
	DefaultDest = "bin"
	// DefaultStripPrefixRegex keeps only the base name.
	DefaultStripPrefixRegex = "^.*/"
	// DefaultMaxFiles caps the files a single path entry may match.
	DefaultMaxFiles = 100
	// DefaultGSPrefix is prepended to subtool names to form package names.
	DefaultGSPrefix = "chromiumos/infra/tools"
)

var nameRe = regexp.MustCompile(`^[a-z0-9_\-]+[a-z0-9_\-\.]*$`)

// ManifestInvalidError reports a subtool manifest that cannot be used.
type ManifestInvalidError struct {
	Path string
	Msg  string
}

func (e *ManifestInvalidError) Error() string {
	if e.Path == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Msg)
}

func (e *ManifestInvalidError) Unwrap() error { return services.ErrValidation }

// StringList decodes from either a YAML scalar or a sequence.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*l = StringList{node.Value}
		return nil
	}
	var items []string
	if err := node.Decode(&items); err != nil {
		return err
	}
	*l = items
	return nil
}

// PathMapping selects files from the SDK and places them in the bundle.
type PathMapping struct {
	// Input holds globs, resolved against the SDK root.
	Input StringList `yaml:"input"`
	// Dest is the bundle-relative directory files are copied into.
	Dest string `yaml:"dest,omitempty"`
	// StripPrefixRegex is removed from each matched path to form its name
	// under Dest.
	StripPrefixRegex string `yaml:"strip_prefix_regex,omitempty"`
	// EbuildFilter restricts matches to files installed by this package.
	EbuildFilter string `yaml:"ebuild_filter,omitempty"`
}

// Manifest is a subtool definition read from the exports config dir.
type Manifest struct {
	Name     string        `yaml:"name"`
	GSPrefix string        `yaml:"gs_prefix,omitempty"`
	MaxFiles int           `yaml:"max_files,omitempty"`
	Paths    []PathMapping `yaml:"paths"`

	stripRes []*regexp.Regexp
}

// ParseManifest decodes and validates a manifest. Unknown fields are errors.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return Manifest{}, &ManifestInvalidError{Msg: fmt.Sprintf("parse: %v", err)}
	}
	if err := m.normalize(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func (m *Manifest) normalize() error {
	if !nameRe.MatchString(m.Name) {
		return &ManifestInvalidError{Msg: fmt.Sprintf("Subtool name must match %q", nameRe.String())}
	}
	if len(m.Paths) == 0 {
		return &ManifestInvalidError{Msg: "At least one path is required"}
	}
	if m.MaxFiles <= 0 {
		m.MaxFiles = DefaultMaxFiles
	}
	if m.GSPrefix == "" {
		m.GSPrefix = DefaultGSPrefix
	}
	m.stripRes = make([]*regexp.Regexp, len(m.Paths))
	for i := range m.Paths {
		p := &m.Paths[i]
		if len(p.Input) == 0 {
			return &ManifestInvalidError{Msg: fmt.Sprintf("paths[%d]: input is required", i)}
		}
		if p.Dest == "" {
			p.Dest = DefaultDest
		}
		if p.StripPrefixRegex == "" {
			p.StripPrefixRegex = DefaultStripPrefixRegex
		}
		re, err := regexp.Compile(p.StripPrefixRegex)
		if err != nil {
			return &ManifestInvalidError{Msg: fmt.Sprintf("paths[%d]: strip_prefix_regex: %v", i, err)}
		}
		m.stripRes[i] = re
	}
	return nil
}

// PackageName is the name the bundle is uploaded under.
func (m Manifest) PackageName() string {
	return m.GSPrefix + "/" + m.Name
}

// LoadManifest reads a manifest file.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, services.Wrap(services.ErrNotFound, "sdksubtools", "load manifest", path, err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		if invalid, ok := err.(*ManifestInvalidError); ok {
			invalid.Path = path
		}
		return Manifest{}, err
	}
	return m, nil
}

// ManifestPaths lists the manifest files under dir in name order.
func ManifestPaths(dir string) ([]string, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)
	return paths, nil
}
