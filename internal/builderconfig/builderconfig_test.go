package builderconfig_test

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chromite/internal/builderconfig"
	"chromite/internal/testsupport"
)

func TestDefaultSiteConfigLoads(t *testing.T) {
	site, err := builderconfig.Load("")
	require.NoError(t, err)

	names := site.Names()
	assert.Contains(t, names, "amd64-generic-full")
	assert.True(t, strings.Compare(names[0], names[len(names)-1]) < 0)

	b, err := site.Lookup("eve-release")
	require.NoError(t, err)
	assert.Equal(t, builderconfig.DefaultClass, b.Class)
	assert.Equal(t, []string{"eve"}, b.Boards)
	assert.True(t, b.ChrootReplace)
	assert.Equal(t, 6*time.Hour, b.StageTimeout())

	inc, err := site.Lookup("amd64-generic-incremental")
	require.NoError(t, err)
	assert.True(t, inc.SkipsStage("archive"))
	assert.False(t, inc.SkipsStage("BuildImage"))
}

func TestLookupUnknown(t *testing.T) {
	site, err := builderconfig.Default()
	require.NoError(t, err)
	_, err = site.Lookup("nope")
	require.ErrorIs(t, err, builderconfig.ErrUnknownBuilder)
}

func TestLoadFileDefaultsClassAndImages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "site.yaml")
	testsupport.WriteText(t, path, `
builders:
  - name: betty-smoke
    boards: [betty]
`)
	site, err := builderconfig.Load(path)
	require.NoError(t, err)
	b, err := site.Lookup("betty-smoke")
	require.NoError(t, err)
	assert.Equal(t, "simple", b.Class)
	assert.Equal(t, []string{"base"}, b.ImageTypes())
	assert.Zero(t, b.StageTimeout())
}

func TestParseRejectsInvalidConfigs(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"duplicate", "builders:\n  - {name: a, boards: [eve]}\n  - {name: a, boards: [eve]}\n", "duplicate builder name"},
		{"missing name", "builders:\n  - {boards: [eve]}\n", "builders[0]: name is required"},
		{"no boards", "builders:\n  - {name: a}\n", "at least one board"},
		{"bad board", "builders:\n  - {name: a, boards: ['eve kevin']}\n", `invalid board name "eve kevin"`},
		{"bad image", "builders:\n  - {name: a, boards: [eve], images: [shiny]}\n", `unknown image type "shiny"`},
		{"negative timeout", "builders:\n  - {name: a, boards: [eve], stage_timeout_seconds: -1}\n", "non-negative"},
		{"unknown key", "builders:\n  - {name: a, boards: [eve], colour: blue}\n", "colour"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := builderconfig.Parse(strings.NewReader(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := builderconfig.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
