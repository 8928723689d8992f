package sdksubtools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"chromite/internal/fileutil"
	"chromite/internal/gs"
	"chromite/internal/services"
)

// Installed is the set of subtools configured in an SDK.
type Installed struct {
	Subtools []*Subtool
	logger   *slog.Logger
}

// LoadInstalled reads every manifest in layout.ConfigDir. Duplicate names
// are rejected.
func LoadInstalled(layout Layout, logger *slog.Logger) (*Installed, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	paths, err := ManifestPaths(layout.ConfigDir)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "sdksubtools", "load", "list manifests", err)
	}
	installed := &Installed{logger: logger}
	seen := map[string]string{}
	for _, path := range paths {
		m, err := LoadManifest(path)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[m.Name]; ok {
			return nil, &ManifestInvalidError{Path: path, Msg: fmt.Sprintf("subtool %q already defined in %s", m.Name, prev)}
		}
		seen[m.Name] = path
		installed.Subtools = append(installed.Subtools, NewSubtool(m, path, layout.Root, layout.WorkRoot, logger))
	}
	logger.Info("loaded subtool manifests", slog.Int("count", len(installed.Subtools)), slog.String("dir", layout.ConfigDir))
	return installed, nil
}

// BundleAll bundles every subtool, stopping at the first failure.
func (i *Installed) BundleAll(ctx context.Context) error {
	for _, st := range i.Subtools {
		if err := st.Bundle(ctx); err != nil {
			return fmt.Errorf("bundle %s: %w", st.Manifest.Name, err)
		}
	}
	return nil
}

// PrepareUploads writes upload metadata for subtools named in filter, or all
// of them when filter is empty, and returns their work dirs.
func (i *Installed) PrepareUploads(filter []string) ([]string, error) {
	var dirs []string
	for _, st := range i.Subtools {
		if len(filter) > 0 && !slices.Contains(filter, st.Manifest.Name) {
			continue
		}
		if err := st.PrepareUpload(); err != nil {
			return nil, fmt.Errorf("prepare %s: %w", st.Manifest.Name, err)
		}
		dirs = append(dirs, st.WorkDir)
	}
	return dirs, nil
}

// uploadBundle publishes one prepared bundle under
// <bucket>/<package>/<subtools_hash>/ and points each ref at it. An existing
// instance for the same hash is left alone.
func (s *Service) uploadBundle(ctx context.Context, bucket, dir string) error {
	md, err := ReadUploadMetadata(dir)
	if err != nil {
		return err
	}
	pkg := md.Package
	logger := s.logger.With(slog.String("bundle", dir), slog.String("package", pkg.Package))
	if pkg.Package == "" {
		logger.Warn("package name is empty, skipping upload")
		return nil
	}
	hash := pkg.Tags[subtoolsHashTag]
	if hash == "" {
		return services.Wrap(services.ErrValidation, "sdksubtools", "upload", "upload metadata has no "+subtoolsHashTag, nil)
	}
	instance := gs.Join(bucket, pkg.Package, hash)
	tagsURL := gs.Join(instance, "tags.json")

	exists, err := s.gs.Exists(ctx, tagsURL)
	if err != nil {
		return err
	}
	if exists {
		logger.Info("instance with matching tags already uploaded", slog.String("instance", instance))
		return nil
	}

	archive := filepath.Join(dir, pkg.Archive)
	if _, err := os.Stat(archive); err != nil {
		return services.Wrap(services.ErrNotFound, "sdksubtools", "upload", "bundle archive missing", err)
	}
	if _, err := s.gs.CopyInto(ctx, archive, instance, ""); err != nil {
		return err
	}
	tags, err := jsonBytes(pkg.Tags)
	if err != nil {
		return err
	}
	if err := s.gs.Write(ctx, tagsURL, tags, ""); err != nil {
		return err
	}
	for _, ref := range pkg.Refs {
		if err := s.gs.Write(ctx, gs.Join(bucket, pkg.Package, ref), []byte(instance+"\n"), ""); err != nil {
			return err
		}
	}
	logger.Info("subtool uploaded", slog.String("instance", instance))
	return fileutil.Touch(filepath.Join(dir, uploadedStamp))
}
