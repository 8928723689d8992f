package portage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chromite/internal/testsupport"
)

func writeVDB(t *testing.T, root, cpf, contents string) {
	t.Helper()
	testsupport.WriteText(t, filepath.Join(root, VDBPath, cpf, "CONTENTS"), contents)
}

func TestInstalledPackages(t *testing.T) {
	root := t.TempDir()
	writeVDB(t, root, "dev-util/shellcheck-0.9.0-r1",
		"dir /usr\ndir /usr/bin\nobj /usr/bin/shellcheck 0123456789abcdef 1700000000\nsym /usr/bin/sc -> shellcheck 1700000000\n")
	writeVDB(t, root, "dev-util/other-1.0", "obj /usr/bin/other abc 1\n")

	all, err := ListInstalled(root)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "dev-util/other-1.0", all[0].Info.CPF())

	found, err := FindInstalled(root, "dev-util/shellcheck")
	require.NoError(t, err)
	require.Len(t, found, 1)
	contents, err := found[0].Contents()
	require.NoError(t, err)
	assert.Equal(t, []ContentEntry{
		{Type: "dir", Path: "/usr"},
		{Type: "dir", Path: "/usr/bin"},
		{Type: "obj", Path: "/usr/bin/shellcheck"},
		{Type: "sym", Path: "/usr/bin/sc"},
	}, contents)

	none, err := FindInstalled(root, "=dev-util/shellcheck-1.0")
	require.NoError(t, err)
	assert.Empty(t, none)

	owners, err := FindOwners(root, []string{filepath.Join(root, "usr/bin/other"), "/usr/bin/sc", "/usr/bin"})
	require.NoError(t, err)
	require.Len(t, owners, 2)
	assert.Equal(t, "dev-util/other-1.0", owners[0].CPF())
	assert.Equal(t, "dev-util/shellcheck-0.9.0-r1", owners[1].CPF())
}

func TestListInstalledMissingVDB(t *testing.T) {
	all, err := ListInstalled(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, all)
}
