package dlc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chromite/internal/gs"
	"chromite/internal/services"
	"chromite/internal/testsupport"
)

func writeMeta(t *testing.T, sysroot, id, imageloader string, withURI bool) {
	t.Helper()
	dir := filepath.Join(sysroot, BuildDirArtifactsMeta, id, Package)
	if imageloader != "" {
		testsupport.WriteText(t, filepath.Join(dir, ImageloaderJSON), imageloader)
	}
	if withURI {
		testsupport.WriteText(t, filepath.Join(dir, URIPrefix), "gs://uri/"+id)
	}
}

func TestGenerateArtifactsMetadataList(t *testing.T) {
	sysroot := t.TempDir()
	writeMeta(t, sysroot, "good-dlc", `{"image-sha256-hash": "abc123"}`, true)
	writeMeta(t, sysroot, "no-loader", "", true)
	writeMeta(t, sysroot, "malformed", `{not json`, true)
	writeMeta(t, sysroot, "no-hash", `{"other": 1}`, true)
	writeMeta(t, sysroot, "no-uri", `{"image-sha256-hash": "def"}`, false)

	got, err := GenerateArtifactsMetadataList(sysroot, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ArtifactsMetadata{
		ImageHash: "abc123",
		ImageName: Image,
		URIPath:   "gs://uri/good-dlc",
		ID:        "good-dlc",
	}, got[0])
}

func TestGenerateArtifactsMetadataListMissingDir(t *testing.T) {
	got, err := GenerateArtifactsMetadataList(t.TempDir(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestEbuildParams(t *testing.T) {
	params := EbuildParams{ID: "sample-dlc", Package: "package", Version: "1.0.0"}
	uri, err := params.URIPath()
	require.NoError(t, err)
	assert.Equal(t, "gs://chromeos-localmirror/dlc-images/sample-dlc/package/1.0.0", uri)

	_, err = EbuildParams{Package: "p", Version: "1"}.URIPath()
	require.ErrorIs(t, err, services.ErrValidation)
	assert.EqualError(t, err, "Missing DLC ID")

	root := t.TempDir()
	params.Scaled = true
	require.NoError(t, params.Store(root))
	loaded, err := LoadEbuildParams(root, "sample-dlc", "package", true)
	require.NoError(t, err)
	assert.Equal(t, params, *loaded)

	missing, err := LoadEbuildParams(root, "sample-dlc", "package", false)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestVerify(t *testing.T) {
	require.NoError(t, EbuildParams{ID: "sample-dlc", FactoryInstall: true, PowerwashSafe: true}.Verify())
	assert.EqualError(t, EbuildParams{ID: "other", FactoryInstall: true}.Verify(),
		"DLC=other is not allowed to be factory installed.")
	assert.EqualError(t, EbuildParams{ID: "other", PowerwashSafe: true}.Verify(),
		"DLC=other is not allowed to be powerwash safe.")
}

func TestValidateIdentifier(t *testing.T) {
	require.NoError(t, ValidateIdentifier("sample-dlc"))
	require.Error(t, ValidateIdentifier(""))
	require.Error(t, ValidateIdentifier("-lead"))
	require.Error(t, ValidateIdentifier("under_score"))
	long := make([]byte, maxIDLength+1)
	for i := range long {
		long[i] = 'a'
	}
	require.Error(t, ValidateIdentifier(string(long)))
}

func TestArtifactsUpload(t *testing.T) {
	dir := t.TempDir()
	image := filepath.Join(dir, Image)
	meta := filepath.Join(dir, "meta.tar")
	require.NoError(t, os.WriteFile(image, []byte("img"), 0o644))
	require.NoError(t, os.WriteFile(meta, []byte("meta"), 0o644))

	_, err := NewArtifacts(filepath.Join(dir, "other.img"), meta, "")
	require.ErrorIs(t, err, services.ErrValidation)

	art, err := NewArtifacts(image, meta, "gs://bucket/dlc/1")
	require.NoError(t, err)
	assert.Equal(t, "b29814cf5792e684cd75d6a7fce7a67a11887e312f87ca2ac2496d81f365ff72", art.ImageHash)
	assert.Equal(t, Image, art.ImageName)

	store := gs.NewMemoryStorage()
	require.NoError(t, art.Upload(context.Background(), gs.NewContext(store, false, 0, nil)))
	assert.Equal(t, []string{"gs://bucket/dlc/1/dlc.img", "gs://bucket/dlc/1/meta.tar"}, store.Objects())
	assert.Equal(t, GSPublicReadACL, store.ACL("gs://bucket/dlc/1/dlc.img"))
}
