package gs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chromite/internal/services"
)

func TestCanonicalizeURL(t *testing.T) {
	cases := map[string]string{
		"https://storage.googleapis.com/bucket/obj":                      "gs://bucket/obj",
		"https://storage.cloud.google.com/bucket/obj":                    "gs://bucket/obj",
		"https://stainless.corp.google.com/browse/bucket/dir/":           "gs://bucket/dir/",
		"https://pantheon.corp.google.com/storage/browser/bucket/a":      "gs://bucket/a",
		"https://commondatastorage.googleapis.com/chromeos-image/x.json": "gs://chromeos-image/x.json",
		"gs://already/canonical":                                         "gs://already/canonical",
		"/local/path":                                                    "/local/path",
	}
	for in, want := range cases {
		got, err := CanonicalizeURL(in, false)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}

	_, err := CanonicalizeURL("/local/path", true)
	require.Error(t, err)
	got, err := CanonicalizeURL("gs://b/o", true)
	require.NoError(t, err)
	assert.Equal(t, "gs://b/o", got)
}

func TestGSURLToHTTP(t *testing.T) {
	got, err := GSURLToHTTP("gs://bucket/file", true, false)
	require.NoError(t, err)
	assert.Equal(t, "https://storage.googleapis.com/bucket/file", got)

	got, err = GSURLToHTTP("gs://bucket/file", false, false)
	require.NoError(t, err)
	assert.Equal(t, "https://storage.cloud.google.com/bucket/file", got)

	got, err = GSURLToHTTP("gs://bucket/dir/", false, false)
	require.NoError(t, err)
	assert.Equal(t, "https://stainless.corp.google.com/browse/bucket/dir/", got)

	_, err = GSURLToHTTP("/not/gs", true, false)
	require.Error(t, err)

	assert.Equal(t, "gs://bucket/sub", GetGSURL("bucket", true, true, "sub"))
	assert.Equal(t, "https://storage.googleapis.com/bucket/sub", GetGSURL("bucket", false, true, "sub"))
}

func TestParseURLAndJoin(t *testing.T) {
	bucket, object, err := ParseURL("gs://b/dir/obj")
	require.NoError(t, err)
	assert.Equal(t, "b", bucket)
	assert.Equal(t, "dir/obj", object)

	_, _, err = ParseURL("gs:///x")
	require.Error(t, err)

	assert.Equal(t, "gs://b/dir/file", Join("gs://b/dir/", "/file"))
}

func TestPredefinedACL(t *testing.T) {
	acl, err := PredefinedACL("public-read")
	require.NoError(t, err)
	assert.Equal(t, "publicRead", acl)
	_, err = PredefinedACL("bogus")
	require.ErrorIs(t, err, services.ErrValidation)
}

func TestContextCopyRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	gsctx := NewContext(store, false, 0, nil)
	dir := t.TempDir()
	local := filepath.Join(dir, "dlc.img")
	require.NoError(t, os.WriteFile(local, []byte("image"), 0o644))

	url, err := gsctx.CopyInto(ctx, local, "gs://bucket/dlc/", "public-read")
	require.NoError(t, err)
	assert.Equal(t, "gs://bucket/dlc/dlc.img", url)
	assert.Equal(t, "public-read", store.ACL(url))

	data, err := gsctx.Cat(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, "image", string(data))

	require.NoError(t, gsctx.Copy(ctx, url, "gs://other/copy.img", ""))
	out := filepath.Join(dir, "down", "copy.img")
	require.NoError(t, gsctx.Copy(ctx, "gs://other/copy.img", out, ""))
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "image", string(got))

	listed, err := gsctx.List(ctx, "gs://bucket/dlc/")
	require.NoError(t, err)
	assert.Equal(t, []string{"gs://bucket/dlc/dlc.img"}, listed)

	require.NoError(t, gsctx.Remove(ctx, "gs://bucket/dlc", true))
	exists, err := gsctx.Exists(ctx, url)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, gsctx.Remove(ctx, "gs://bucket/missing", false))
	_, err = gsctx.Cat(ctx, "gs://bucket/missing")
	require.ErrorIs(t, err, services.ErrNotFound)

	require.Error(t, gsctx.Copy(ctx, local, filepath.Join(dir, "x"), ""))
}

func TestContextDryRun(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	gsctx := NewContext(store, true, 0, nil)
	local := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(local, []byte("x"), 0o644))

	_, err := gsctx.CopyInto(ctx, local, "gs://bucket/dir", "")
	require.NoError(t, err)
	require.NoError(t, gsctx.Write(ctx, "gs://bucket/meta.json", []byte("{}"), ""))
	assert.Empty(t, store.Objects())
}
