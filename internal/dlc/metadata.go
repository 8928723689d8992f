package dlc

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
)

var metaEntry = regexp.MustCompile(`^(` + IDPattern + `)/` + Package + `/` + URIPrefix + `$`)

// ArtifactsMetadata describes a published DLC image.
type ArtifactsMetadata struct {
	ImageHash string `json:"image_hash"`
	ImageName string `json:"image_name"`
	URIPath   string `json:"gs_uri_path"`
	ID        string `json:"id"`
}

// GenerateArtifactsMetadataList walks the sysroot's artifacts meta dir and
// returns one entry per DLC whose imageloader.json carries an image digest.
// Incomplete entries are logged and skipped.
func GenerateArtifactsMetadataList(sysrootPath string, logger *slog.Logger) ([]ArtifactsMetadata, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	metaDir := filepath.Join(sysrootPath, BuildDirArtifactsMeta)
	if _, err := os.Stat(metaDir); errors.Is(err, fs.ErrNotExist) {
		logger.Info("dlc artifacts metadata directory missing", slog.String("path", metaDir))
		return []ArtifactsMetadata{}, nil
	}

	out := []ArtifactsMetadata{}
	err := filepath.WalkDir(metaDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(metaDir, path)
		if err != nil {
			return err
		}
		m := metaEntry.FindStringSubmatch(filepath.ToSlash(rel))
		if m == nil {
			return nil
		}
		id := m[1]
		imageloader := filepath.Join(filepath.Dir(path), ImageloaderJSON)
		data, err := os.ReadFile(imageloader)
		if err != nil {
			logger.Error("missing part of metadata from artifacts, skipping generation", slog.String("dlc", id))
			return nil
		}
		var parsed map[string]any
		if err := json.Unmarshal(data, &parsed); err != nil {
			logger.Error("malformed imageloader json, skipping generation", slog.String("dlc", id))
			return nil
		}
		hash, ok := parsed[ImageloaderHashKey].(string)
		if !ok {
			logger.Error("missing digest from imageloader json, skipping generation", slog.String("dlc", id))
			return nil
		}
		uri, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out = append(out, ArtifactsMetadata{
			ImageHash: hash,
			ImageName: Image,
			URIPath:   string(uri),
			ID:        id,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
