package sdksubtools

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"chromite/internal/fileutil"
	"chromite/internal/portage"
	"chromite/internal/services"
)

const (
	// UploadMetadataFile sits in each subtool's work dir once prepared.
	UploadMetadataFile = "subtool_upload.json"
	// UploadMetadataVersion is bumped on incompatible metadata changes.
	UploadMetadataVersion = 1

	bundleDirName   = "bundle"
	bundledStamp    = ".bundled"
	uploadedStamp   = ".uploaded"
	archiveSuffix   = ".tar.zst"
	builderSource   = "sdk_subtools"
	latestRef       = "latest"
	subtoolsHashTag = "subtools_hash"
)

// BundlingError reports a subtool that could not be bundled.
type BundlingError struct {
	Msg string
}

func (e *BundlingError) Error() string { return e.Msg }

func (e *BundlingError) Unwrap() error { return services.ErrValidation }

// PackageMetadata describes the uploaded package instance.
type PackageMetadata struct {
	Package string            `json:"package"`
	Archive string            `json:"archive"`
	Tags    map[string]string `json:"tags"`
	Refs    []string          `json:"refs"`
}

// UploadMetadata is the contents of UploadMetadataFile.
type UploadMetadata struct {
	Version int             `json:"upload_metadata_version"`
	Package PackageMetadata `json:"gs_package"`
}

// Subtool is one manifest plus its bundling state.
type Subtool struct {
	Manifest     Manifest
	ManifestPath string
	// WorkDir holds the bundle, archive, stamps and upload metadata.
	WorkDir string

	root           string
	logger         *slog.Logger
	sourcePackages map[string]portage.PackageInfo
	// contentHashes maps bundle destination paths to file hashes.
	contentHashes map[string]string
}

// NewSubtool binds m to a work dir under workRoot. Inputs are resolved
// against root.
func NewSubtool(m Manifest, manifestPath, root, workRoot string, logger *slog.Logger) *Subtool {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Subtool{
		Manifest:     m,
		ManifestPath: manifestPath,
		WorkDir:      filepath.Join(workRoot, m.Name),
		root:         root,
		logger:       logger.With(slog.String("subtool", m.Name)),
	}
}

// BundleDir is where matched files are copied.
func (s *Subtool) BundleDir() string { return filepath.Join(s.WorkDir, bundleDirName) }

// ArchivePath is the compressed bundle.
func (s *Subtool) ArchivePath() string { return filepath.Join(s.WorkDir, s.Manifest.Name+archiveSuffix) }

// MetadataPath is the upload metadata file.
func (s *Subtool) MetadataPath() string { return filepath.Join(s.WorkDir, UploadMetadataFile) }

// Bundled reports whether the last Bundle call completed.
func (s *Subtool) Bundled() bool { return fileutil.Exists(filepath.Join(s.WorkDir, bundledStamp)) }

// SourcePackages returns the packages the bundle's files came from, sorted.
func (s *Subtool) SourcePackages() []string {
	out := make([]string, 0, len(s.sourcePackages))
	for cpf := range s.sourcePackages {
		out = append(out, cpf)
	}
	sort.Strings(out)
	return out
}

// Hash is the digest over every bundled file's content hash, taken in
// destination path order.
func (s *Subtool) Hash() string {
	dests := make([]string, 0, len(s.contentHashes))
	for dest := range s.contentHashes {
		dests = append(dests, dest)
	}
	sort.Strings(dests)
	h := sha1.New()
	for _, dest := range dests {
		c := s.contentHashes[dest]
		raw, err := hex.DecodeString(c)
		if err != nil {
			raw = []byte(c)
		}
		h.Write(raw)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Bundle collects the subtool's files into a clean bundle dir, then writes
// the archive and the bundled stamp.
func (s *Subtool) Bundle(ctx context.Context) error {
	if err := os.RemoveAll(s.WorkDir); err != nil {
		return services.Wrap(services.ErrConfiguration, "sdksubtools", "bundle", "clean work dir", err)
	}
	if err := os.MkdirAll(s.BundleDir(), 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "sdksubtools", "bundle", "create bundle dir", err)
	}
	s.sourcePackages = map[string]portage.PackageInfo{}
	s.contentHashes = map[string]string{}

	var unattributed []string
	copied := 0
	for i, mapping := range s.Manifest.Paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		files, owners, err := s.match(mapping)
		if err != nil {
			return err
		}
		if len(files) > s.Manifest.MaxFiles {
			return &BundlingError{Msg: fmt.Sprintf("Max file count (%d) exceeded.", s.Manifest.MaxFiles)}
		}
		copied += len(files)
		for _, owner := range owners {
			s.sourcePackages[owner.CPF()] = owner
		}
		if mapping.EbuildFilter == "" {
			unattributed = append(unattributed, files...)
		}
		for _, file := range files {
			if err := s.copyFile(file, mapping, s.Manifest.stripRes[i]); err != nil {
				return err
			}
		}
	}

	if len(unattributed) > 0 {
		owners, err := portage.FindOwners(s.root, unattributed)
		if err != nil {
			return services.Wrap(services.ErrExternalTool, "sdksubtools", "bundle", "query package owners", err)
		}
		for _, owner := range owners {
			s.sourcePackages[owner.CPF()] = owner
		}
	}
	if len(s.sourcePackages) == 0 {
		return &BundlingError{Msg: "Bundle cannot be attributed to at least one package."}
	}
	if err := s.writeLicenses(); err != nil {
		return services.Wrap(services.ErrConfiguration, "sdksubtools", "bundle", "collect licenses", err)
	}

	size, err := WriteArchive(s.BundleDir(), s.ArchivePath())
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "sdksubtools", "bundle", "write archive", err)
	}
	s.logger.Info("subtool bundled",
		slog.Int("files", copied),
		slog.String("archive", s.ArchivePath()),
		slog.String("archive_size", humanize.Bytes(uint64(size))),
	)
	return fileutil.Touch(filepath.Join(s.WorkDir, bundledStamp))
}

// match resolves a mapping's globs, returning host paths and, for filtered
// mappings, the packages that installed them.
func (s *Subtool) match(mapping PathMapping) ([]string, []portage.PackageInfo, error) {
	if mapping.EbuildFilter != "" {
		return s.matchInstalled(mapping)
	}
	var files []string
	for _, input := range mapping.Input {
		matches, err := filepath.Glob(filepath.Join(s.root, input))
		if err != nil {
			return nil, nil, &ManifestInvalidError{Path: s.ManifestPath, Msg: fmt.Sprintf("bad glob %q: %v", input, err)}
		}
		found := 0
		for _, m := range matches {
			if info, err := os.Stat(m); err == nil && !info.IsDir() {
				files = append(files, m)
				found++
			}
		}
		if found == 0 {
			return nil, nil, &BundlingError{Msg: fmt.Sprintf("Input field %s matched no files.", input)}
		}
	}
	return files, nil, nil
}

func (s *Subtool) matchInstalled(mapping PathMapping) ([]string, []portage.PackageInfo, error) {
	pkgs, err := portage.FindInstalled(s.root, mapping.EbuildFilter)
	if err != nil {
		return nil, nil, &ManifestInvalidError{Path: s.ManifestPath, Msg: fmt.Sprintf("ebuild_filter: %v", err)}
	}
	if len(pkgs) == 0 {
		return nil, nil, &BundlingError{Msg: fmt.Sprintf("%s is not installed.", mapping.EbuildFilter)}
	}
	var files []string
	var owners []portage.PackageInfo
	for _, input := range mapping.Input {
		glob := "/" + strings.TrimLeft(input, "/")
		found := 0
		for _, pkg := range pkgs {
			contents, err := pkg.Contents()
			if err != nil {
				return nil, nil, services.Wrap(services.ErrNotFound, "sdksubtools", "bundle", "read package contents", err)
			}
			matched := false
			for _, entry := range contents {
				if entry.Type == "dir" {
					continue
				}
				if ok, _ := path.Match(glob, entry.Path); ok {
					files = append(files, filepath.Join(s.root, entry.Path))
					found++
					matched = true
				}
			}
			if matched {
				owners = append(owners, pkg.Info)
			}
		}
		if found == 0 {
			return nil, nil, &BundlingError{Msg: fmt.Sprintf("Input field %s matched no files.", input)}
		}
	}
	return files, owners, nil
}

func (s *Subtool) copyFile(src string, mapping PathMapping, strip *regexp.Regexp) error {
	rel := "/" + strings.TrimLeft(strings.TrimPrefix(src, s.root), "/")
	name := strip.ReplaceAllString(rel, "")
	if name == "" {
		name = filepath.Base(src)
	}
	dst := filepath.Join(s.BundleDir(), mapping.Dest, name)
	if _, err := os.Lstat(dst); err == nil {
		return &BundlingError{Msg: fmt.Sprintf("%s exists: refusing to copy %s.", dst, src)}
	}
	info, err := os.Stat(src)
	if err != nil {
		return services.Wrap(services.ErrNotFound, "sdksubtools", "bundle", "stat input", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "sdksubtools", "bundle", "create dest dir", err)
	}
	if err := fileutil.CopyFileMode(src, dst, info.Mode().Perm()); err != nil {
		return services.Wrap(services.ErrConfiguration, "sdksubtools", "bundle", "copy input", err)
	}
	hash, err := ContentHash(dst)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "sdksubtools", "bundle", "hash input", err)
	}
	s.contentHashes[dst] = hash
	s.logger.Debug("bundled file", slog.String("src", src), slog.String("dst", dst))
	return nil
}

// PrepareUpload writes the upload metadata for a bundled subtool.
func (s *Subtool) PrepareUpload() error {
	if !s.Bundled() {
		return &BundlingError{Msg: "Bundling incomplete."}
	}
	md := UploadMetadata{
		Version: UploadMetadataVersion,
		Package: PackageMetadata{
			Package: s.Manifest.PackageName(),
			Archive: filepath.Base(s.ArchivePath()),
			Tags: map[string]string{
				"builder_source": builderSource,
				"ebuild_source":  strings.Join(s.SourcePackages(), ","),
				subtoolsHashTag:  s.Hash(),
			},
			Refs: []string{latestRef},
		},
	}
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(s.MetadataPath(), data, 0o644)
}

// ReadUploadMetadata loads the metadata written by PrepareUpload from dir.
func ReadUploadMetadata(dir string) (UploadMetadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, UploadMetadataFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return UploadMetadata{}, services.Wrap(services.ErrNotFound, "sdksubtools", "upload", "missing upload metadata in "+dir, err)
		}
		return UploadMetadata{}, err
	}
	var md UploadMetadata
	if err := json.Unmarshal(data, &md); err != nil {
		return UploadMetadata{}, services.Wrap(services.ErrValidation, "sdksubtools", "upload", "parse upload metadata", err)
	}
	if md.Version != UploadMetadataVersion {
		return UploadMetadata{}, services.Wrap(services.ErrValidation, "sdksubtools", "upload",
			fmt.Sprintf("unsupported upload metadata version %d", md.Version), nil)
	}
	return md, nil
}

func jsonBytes(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
