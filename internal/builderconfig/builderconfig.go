// Package builderconfig loads the cbuildbot site configuration: the named
// builders, the boards each one builds, and the optional stages it runs.
package builderconfig

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"chromite/internal/buildtarget"
	"chromite/internal/image"
)

//go:embed default_builders.yaml
var defaultBuilders []byte

// DefaultClass is assumed when builder_class is omitted.
const DefaultClass = "simple"

// ErrUnknownBuilder is returned by Lookup for names not in the site config.
var ErrUnknownBuilder = errors.New("unknown builder")

// Builder is one builder definition.
type Builder struct {
	Name                string   `yaml:"name"`
	Class               string   `yaml:"builder_class"`
	Description         string   `yaml:"description,omitempty"`
	Boards              []string `yaml:"boards"`
	Images              []string `yaml:"images,omitempty"`
	Profile             string   `yaml:"profile,omitempty"`
	DebugSymbols        bool     `yaml:"debug_symbols,omitempty"`
	Archive             bool     `yaml:"archive,omitempty"`
	ChrootReplace       bool     `yaml:"chroot_replace,omitempty"`
	BoardReplace        bool     `yaml:"board_replace,omitempty"`
	CompileSource       bool     `yaml:"compile_source,omitempty"`
	StageTimeoutSeconds int      `yaml:"stage_timeout_seconds,omitempty"`
	SkipStages          []string `yaml:"skip_stages,omitempty"`
}

// StageTimeout returns the per-stage timeout override, zero meaning unset.
func (b Builder) StageTimeout() time.Duration {
	return time.Duration(b.StageTimeoutSeconds) * time.Second
}

// SkipsStage reports whether the builder lists stage in skip_stages.
func (b Builder) SkipsStage(stage string) bool {
	return slices.ContainsFunc(b.SkipStages, func(s string) bool {
		return strings.EqualFold(s, stage)
	})
}

// ImageTypes returns the configured image types, defaulting to base.
func (b Builder) ImageTypes() []string {
	if len(b.Images) == 0 {
		return []string{image.TypeBase}
	}
	return b.Images
}

// SiteConfig is the full set of builders.
type SiteConfig struct {
	Builders []Builder `yaml:"builders"`

	byName map[string]int
}

// Default returns the embedded site config.
func Default() (*SiteConfig, error) {
	return Parse(bytes.NewReader(defaultBuilders))
}

// Load reads a site config file. An empty path loads the embedded default.
func Load(path string) (*SiteConfig, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open site config: %w", err)
	}
	defer f.Close()
	site, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return site, nil
}

// Parse decodes and validates a site config. Unknown keys are rejected.
func Parse(r io.Reader) (*SiteConfig, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var site SiteConfig
	if err := dec.Decode(&site); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse site config: %w", err)
	}
	if err := site.normalize(); err != nil {
		return nil, err
	}
	return &site, nil
}

func (s *SiteConfig) normalize() error {
	s.byName = make(map[string]int, len(s.Builders))
	var problems []string
	for i := range s.Builders {
		b := &s.Builders[i]
		b.Name = strings.TrimSpace(b.Name)
		if b.Class = strings.TrimSpace(b.Class); b.Class == "" {
			b.Class = DefaultClass
		}
		label := b.Name
		if label == "" {
			label = fmt.Sprintf("builders[%d]", i)
			problems = append(problems, label+": name is required")
		} else if _, dup := s.byName[b.Name]; dup {
			problems = append(problems, label+": duplicate builder name")
		} else {
			s.byName[b.Name] = i
		}
		if len(b.Boards) == 0 {
			problems = append(problems, label+": at least one board is required")
		}
		for _, board := range b.Boards {
			if !buildtarget.IsValidName(board) {
				problems = append(problems, fmt.Sprintf("%s: invalid board name %q", label, board))
			}
		}
		for _, t := range b.Images {
			if _, ok := image.TypeToName[t]; !ok {
				problems = append(problems, fmt.Sprintf("%s: unknown image type %q", label, t))
			}
		}
		if b.StageTimeoutSeconds < 0 {
			problems = append(problems, label+": stage_timeout_seconds must be non-negative")
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid site config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Lookup returns the named builder.
func (s *SiteConfig) Lookup(name string) (Builder, error) {
	idx, ok := s.byName[strings.TrimSpace(name)]
	if !ok {
		return Builder{}, fmt.Errorf("%w: %q", ErrUnknownBuilder, name)
	}
	return s.Builders[idx], nil
}

// Names returns the builder names, sorted.
func (s *SiteConfig) Names() []string {
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
