package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"chromite/internal/cbuildbot"
	"chromite/internal/git"
	"chromite/internal/logging"
	"chromite/internal/services"
)

// MetadataFile is written into the run's archive directory.
const MetadataFile = "metadata.json"

// Metadata describes a build for downstream tooling.
type Metadata struct {
	Builder        string                       `json:"builder"`
	BuildID        int64                        `json:"build_id,omitempty"`
	UUID           string                       `json:"uuid"`
	Version        string                       `json:"version"`
	Boards         []string                     `json:"boards"`
	Buildroot      string                       `json:"buildroot"`
	Status         string                       `json:"status"`
	StartTime      time.Time                    `json:"start_time"`
	FinishTime     *time.Time                   `json:"finish_time,omitempty"`
	ChrootVersion  string                       `json:"chroot_version,omitempty"`
	Revision       *git.Revision                `json:"revision,omitempty"`
	Images         map[string]map[string]string `json:"images,omitempty"`
	ArchiveURLs    map[string][]string          `json:"archive_urls,omitempty"`
	FailedPackages map[string][]string          `json:"failed_packages,omitempty"`
	Stages         []StageMetadata              `json:"stages,omitempty"`
}

// StageMetadata is one stage result in metadata.json.
type StageMetadata struct {
	Name            string  `json:"name"`
	Board           string  `json:"board,omitempty"`
	Status          string  `json:"status"`
	Description     string  `json:"description,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// ReadMetadata loads a metadata.json file.
func ReadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &md, nil
}

func collectMetadata(runner *cbuildbot.Runner, status string) *Metadata {
	run := runner.Run()
	md := &Metadata{
		Builder:        run.Config.Name,
		BuildID:        run.ID,
		UUID:           run.UUID,
		Version:        run.Version(),
		Boards:         run.Boards(),
		Buildroot:      run.Options.Buildroot,
		Status:         status,
		StartTime:      run.Started.UTC(),
		ChrootVersion:  run.Attrs.GetString(AttrChrootVersion),
		Images:         map[string]map[string]string{},
		ArchiveURLs:    map[string][]string{},
		FailedPackages: map[string][]string{},
	}
	if rev, ok := cbuildbot.AttrValue[git.Revision](run.Attrs, AttrRevision); ok {
		md.Revision = &rev
	}
	for _, board := range run.Boards() {
		if images, ok := cbuildbot.AttrValue[map[string]string](run.Attrs, cbuildbot.BoardKey(board, AttrImages)); ok {
			md.Images[board] = images
		}
		if urls, ok := cbuildbot.AttrValue[[]string](run.Attrs, cbuildbot.BoardKey(board, AttrArchiveURLs)); ok {
			md.ArchiveURLs[board] = urls
		}
		if pkgs, ok := cbuildbot.AttrValue[[]string](run.Attrs, cbuildbot.BoardKey(board, AttrFailedPackages)); ok {
			md.FailedPackages[board] = pkgs
		}
	}
	for _, res := range runner.Results().All() {
		md.Stages = append(md.Stages, StageMetadata{
			Name:            res.Name,
			Board:           res.Board,
			Status:          string(res.Status),
			Description:     res.Description,
			DurationSeconds: res.Duration.Seconds(),
		})
	}
	return md
}

func writeMetadata(dir string, md *Metadata) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", services.Wrap(services.ErrConfiguration, "metadata", "create archive dir", dir, err)
	}
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	path := filepath.Join(dir, MetadataFile)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", services.Wrap(services.ErrConfiguration, "metadata", "write", path, err)
	}
	return path, nil
}

// BuildStart records the checkout revision and writes the initial
// metadata.json.
type BuildStart struct{ base }

// NewBuildStart constructs the stage.
func NewBuildStart(runner *cbuildbot.Runner, env cbuildbot.Env) *BuildStart {
	return &BuildStart{newBase(runner, env)}
}

func (s *BuildStart) Name() string { return "BuildStart" }

func (s *BuildStart) PerformStage(ctx context.Context) error {
	logger := s.logger(ctx)
	rev, err := git.Describe(filepath.Join(s.env.Config.Paths.SourceRoot, "chromite"))
	switch {
	case err == nil:
		s.run().Attrs.Set(AttrRevision, rev)
		logger.Info("checkout revision", logging.String("commit", rev.Short()), logging.String("branch", rev.Branch))
	case errors.Is(err, git.ErrNotRepository):
		logger.Debug("checkout is not a git repository; revision omitted")
	default:
		logging.WarnWithContext(logger, "could not read checkout revision", "revision_unavailable",
			logging.String(logging.FieldImpact, "metadata will not record the source revision"),
			logging.Error(err))
	}

	path, err := writeMetadata(s.run().ArchiveDir(), collectMetadata(s.runner, "running"))
	if err != nil {
		return err
	}
	logger.Info("build metadata written", logging.String("path", path))
	return nil
}

// Report writes the final metadata.json and, for archiving builders,
// uploads it next to the images. Builders run it even after failures.
type Report struct{ base }

// NewReport constructs the stage.
func NewReport(runner *cbuildbot.Runner, env cbuildbot.Env) *Report {
	return &Report{newBase(runner, env)}
}

func (s *Report) Name() string { return "Report" }

func (s *Report) PerformStage(ctx context.Context) error {
	status := "passed"
	if !s.runner.Results().Success() {
		status = "failed"
	}
	md := collectMetadata(s.runner, status)
	finished := time.Now().UTC()
	md.FinishTime = &finished

	path, err := writeMetadata(s.run().ArchiveDir(), md)
	if err != nil {
		return err
	}
	if !s.run().Config.Archive || s.env.OpenGS == nil {
		return nil
	}

	gsCtx, err := s.env.OpenGS(ctx)
	if err != nil {
		return err
	}
	if s.run().Options.DryRun {
		gsCtx.DryRun = true
	}
	url, err := gsCtx.CopyInto(ctx, path, ArchiveURL(s.env.Config.GS.ArchiveBucket, s.run(), ""), "")
	if err != nil {
		return services.Wrap(services.ErrTransient, "report", "upload metadata", "", err)
	}
	s.logger(ctx).Info("build metadata uploaded", logging.String("url", url))
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
