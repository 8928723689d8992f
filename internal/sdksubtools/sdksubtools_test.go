package sdksubtools

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chromite/internal/buildtarget"
	"chromite/internal/gs"
	"chromite/internal/portage"
	"chromite/internal/services"
	"chromite/internal/testsupport"
)

func testLayout(t *testing.T) Layout {
	t.Helper()
	base := t.TempDir()
	root := filepath.Join(base, "root")
	return Layout{
		Root:           root,
		ConfigDir:      filepath.Join(root, "etc/cros/sdk-packages.d"),
		WorkRoot:       filepath.Join(base, "work"),
		VersionFile:    filepath.Join(root, "etc/cros_subtools_chroot_version"),
		SDKVersionFile: filepath.Join(root, "etc/cros_chroot_version"),
	}
}

func convertedLayout(t *testing.T) Layout {
	t.Helper()
	layout := testLayout(t)
	testsupport.WriteText(t, layout.VersionFile, "42\n")
	return layout
}

func writeManifest(t *testing.T, layout Layout, name, body string) {
	t.Helper()
	testsupport.WriteText(t, filepath.Join(layout.ConfigDir, name+".yaml"), body)
}

func writeInstalled(t *testing.T, layout Layout, cpf string, files map[string]string) {
	t.Helper()
	var contents strings.Builder
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		testsupport.WriteText(t, filepath.Join(layout.Root, p), files[p])
		contents.WriteString("obj " + p + " d41d8cd98f00b204e9800998ecf8427e 1700000000\n")
	}
	testsupport.WriteText(t, filepath.Join(layout.Root, portage.VDBPath, cpf, "CONTENTS"), contents.String())
}

func archiveNames(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer zr.Close()
	tr := tar.NewReader(zr)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	return names
}

func TestParseManifestDefaults(t *testing.T) {
	m, err := ParseManifest([]byte("name: shellcheck\npaths:\n  - input: /usr/bin/shellcheck\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxFiles, m.MaxFiles)
	assert.Equal(t, "chromiumos/infra/tools/shellcheck", m.PackageName())
	require.Len(t, m.Paths, 1)
	assert.Equal(t, StringList{"/usr/bin/shellcheck"}, m.Paths[0].Input)
	assert.Equal(t, DefaultDest, m.Paths[0].Dest)
	assert.Equal(t, DefaultStripPrefixRegex, m.Paths[0].StripPrefixRegex)
}

func TestParseManifestRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "bad name", body: "name: Bad/Name\npaths:\n  - input: /x\n", want: "Subtool name must match"},
		{name: "no paths", body: "name: ok\n", want: "At least one path is required"},
		{name: "no input", body: "name: ok\npaths:\n  - dest: bin\n", want: "input is required"},
		{name: "unknown field", body: "name: ok\nflavour: x\npaths:\n  - input: /x\n", want: "parse"},
		{name: "bad regex", body: "name: ok\npaths:\n  - input: /x\n    strip_prefix_regex: '('\n", want: "strip_prefix_regex"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tc.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, services.ErrValidation)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestSetupBaseSDK(t *testing.T) {
	layout := testLayout(t)
	testsupport.WriteText(t, layout.SDKVersionFile, "42\n")
	svc := New(testsupport.NewFakeRunner(), layout, nil, Buckets{}, nil)
	require.False(t, svc.IsInsideSubtoolsChroot())

	target := buildtarget.New(BuildTargetName, "", "/", false)
	require.NoError(t, svc.SetupBaseSDK(context.Background(), target, true))

	assert.True(t, svc.IsInsideSubtoolsChroot())
	got, err := os.ReadFile(layout.VersionFile)
	require.NoError(t, err)
	assert.Equal(t, "42\n", string(got))
	assert.DirExists(t, layout.ConfigDir)
	assert.FileExists(t, layout.SDKVersionFile, "regular SDK marker must be kept")
}

func TestUpdatePackagesRequiresSubtoolsSDK(t *testing.T) {
	runner := testsupport.NewFakeRunner()
	svc := New(runner, testLayout(t), nil, Buckets{}, nil)
	err := svc.UpdatePackages(context.Background(), []string{SDKPackage}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Not in subtools SDK")
	assert.Empty(t, runner.Calls())
}

func TestUpdatePackagesCommand(t *testing.T) {
	runner := testsupport.NewFakeRunner()
	svc := New(runner, convertedLayout(t), nil, Buckets{}, nil)
	require.NoError(t, svc.UpdatePackages(context.Background(), []string{SDKPackage}, 4))

	calls := runner.Calls()
	require.Len(t, calls, 1)
	argv := calls[0].Args
	assert.Equal(t, []string{"sudo", "-E", "parallel_emerge"}, argv[:3])
	assert.Contains(t, argv, "--jobs=4")
	assert.Contains(t, argv, "--useoldpkg-atoms="+strings.Join(ExcludePackages, " "))
	assert.Contains(t, argv, "--rebuild-exclude="+strings.Join(ExcludePackages, " "))
	assert.Equal(t, SDKPackage, argv[len(argv)-1])
	require.Len(t, calls[0].Env, 1)
	assert.True(t, strings.HasPrefix(calls[0].Env[0], portage.MetricsDirEnv+"="))
}

func TestUpdatePackagesFailureReportsPackages(t *testing.T) {
	runner := testsupport.NewFakeRunner()
	runner.On([]string{"sudo"}, func(c services.Command) (*services.Result, error) {
		dir := strings.TrimPrefix(c.Env[0], portage.MetricsDirEnv+"=")
		if err := os.WriteFile(filepath.Join(dir, portage.DieHookStatusFile), []byte("dev-util/foo-1.0-r2 compile\n"), 0o644); err != nil {
			return nil, err
		}
		return &services.Result{Args: c.Args, ExitCode: 1}, nil
	})
	svc := New(runner, convertedLayout(t), nil, Buckets{}, nil)

	err := svc.UpdatePackages(context.Background(), []string{SDKPackage}, 0)
	var installErr *portage.PackageInstallError
	require.True(t, errors.As(err, &installErr))
	assert.Equal(t, "Merging subtools builder SDK packages failed", installErr.Msg)
	require.Len(t, installErr.FailedPackages, 1)
	assert.Equal(t, "dev-util/foo-1.0-r2", installErr.FailedPackages[0].CPF())
}

func TestBundleAndPrepareUpload(t *testing.T) {
	layout := convertedLayout(t)
	writeInstalled(t, layout, "dev-util/shellcheck-0.9.0", map[string]string{
		"/usr/bin/shellcheck": "#!/bin/sh\necho shellcheck\n",
	})
	writeInstalled(t, layout, "dev-util/helper-1.0-r1", map[string]string{
		"/usr/share/helper/data.txt": "data",
		"/usr/share/helper/more.txt": "more",
	})
	writeManifest(t, layout, "shellcheck", `name: shellcheck
paths:
  - input: /usr/bin/shellcheck
  - input: /usr/share/helper/*.txt
    dest: share
    ebuild_filter: dev-util/helper
`)
	testsupport.WriteText(t, filepath.Join(layout.Root, portage.VDBPath, "dev-util/shellcheck-0.9.0", "LICENSE"), "GPL-3\n")
	writeManifest(t, layout, "other", "name: other\npaths:\n  - input: /usr/bin/shellcheck\n")

	svc := New(testsupport.NewFakeRunner(), layout, nil, Buckets{}, nil)
	dirs, err := svc.BundleAndPrepareUpload(context.Background(), []string{"shellcheck"})
	require.NoError(t, err)
	workDir := filepath.Join(layout.WorkRoot, "shellcheck")
	require.Equal(t, []string{workDir}, dirs)

	assert.FileExists(t, filepath.Join(workDir, "bundle/bin/shellcheck"))
	assert.FileExists(t, filepath.Join(workDir, "bundle/share/data.txt"))
	assert.FileExists(t, filepath.Join(workDir, "bundle/share/more.txt"))
	assert.FileExists(t, filepath.Join(workDir, bundledStamp))
	assert.NoFileExists(t, filepath.Join(layout.WorkRoot, "other", UploadMetadataFile), "filtered subtools are bundled but not prepared")
	assert.FileExists(t, filepath.Join(layout.WorkRoot, "other", bundledStamp))

	names := archiveNames(t, filepath.Join(workDir, "shellcheck.tar.zst"))
	assert.Contains(t, names, "bin/shellcheck")
	assert.Contains(t, names, "share/data.txt")
	assert.Contains(t, names, LicenseFile)

	licenses := readZstd(t, filepath.Join(workDir, "bundle", LicenseFile))
	assert.Contains(t, licenses, "<td>dev-util/shellcheck-0.9.0</td><td>GPL-3</td>")
	assert.Contains(t, licenses, "<td>dev-util/helper-1.0-r1</td><td>unknown</td>")

	md, err := ReadUploadMetadata(workDir)
	require.NoError(t, err)
	assert.Equal(t, UploadMetadataVersion, md.Version)
	assert.Equal(t, "chromiumos/infra/tools/shellcheck", md.Package.Package)
	assert.Equal(t, "shellcheck.tar.zst", md.Package.Archive)
	assert.Equal(t, []string{"latest"}, md.Package.Refs)
	assert.Equal(t, "sdk_subtools", md.Package.Tags["builder_source"])
	assert.Equal(t, "dev-util/helper-1.0-r1,dev-util/shellcheck-0.9.0", md.Package.Tags["ebuild_source"])
	assert.Len(t, md.Package.Tags[subtoolsHashTag], 40)
}

func TestBundleHashTracksContents(t *testing.T) {
	layout := convertedLayout(t)
	writeInstalled(t, layout, "dev-util/tool-1.0", map[string]string{"/usr/bin/tool": "v1"})
	m, err := ParseManifest([]byte("name: tool\npaths:\n  - input: /usr/bin/tool\n"))
	require.NoError(t, err)

	st := NewSubtool(m, "", layout.Root, layout.WorkRoot, nil)
	require.NoError(t, st.Bundle(context.Background()))
	first := st.Hash()
	require.NoError(t, st.Bundle(context.Background()))
	assert.Equal(t, first, st.Hash(), "rebundling identical inputs is stable")

	testsupport.WriteText(t, filepath.Join(layout.Root, "usr/bin/tool"), "v2")
	require.NoError(t, st.Bundle(context.Background()))
	assert.NotEqual(t, first, st.Hash())
}

func TestBundleHashFollowsDestinationOrder(t *testing.T) {
	layout := convertedLayout(t)
	writeInstalled(t, layout, "dev-util/tool-1.0", map[string]string{
		"/usr/bin/alpha": "one",
		"/usr/bin/beta":  "two",
	})
	m, err := ParseManifest([]byte("name: tool\npaths:\n  - input: /usr/bin/*\n"))
	require.NoError(t, err)

	st := NewSubtool(m, "", layout.Root, layout.WorkRoot, nil)
	require.NoError(t, st.Bundle(context.Background()))
	first := st.Hash()

	testsupport.WriteText(t, filepath.Join(layout.Root, "usr/bin/alpha"), "two")
	testsupport.WriteText(t, filepath.Join(layout.Root, "usr/bin/beta"), "one")
	require.NoError(t, st.Bundle(context.Background()))
	assert.NotEqual(t, first, st.Hash(), "swapping contents between files changes the hash")
}

func TestBundleMaxFilesAppliesPerPathEntry(t *testing.T) {
	layout := convertedLayout(t)
	writeInstalled(t, layout, "dev-util/first-1.0", map[string]string{
		"/usr/lib/first/a.txt": "a",
		"/usr/lib/first/b.txt": "b",
	})
	writeInstalled(t, layout, "dev-util/second-1.0", map[string]string{
		"/usr/lib/second/c.txt": "c",
		"/usr/lib/second/d.txt": "d",
	})
	m, err := ParseManifest([]byte(`name: pair
max_files: 3
paths:
  - input: /usr/lib/first/*.txt
    ebuild_filter: dev-util/first
  - input: /usr/lib/second/*.txt
    ebuild_filter: dev-util/second
`))
	require.NoError(t, err)

	st := NewSubtool(m, "", layout.Root, layout.WorkRoot, nil)
	require.NoError(t, st.Bundle(context.Background()))
	assert.True(t, st.Bundled())
	assert.Equal(t, []string{"dev-util/first-1.0", "dev-util/second-1.0"}, st.SourcePackages())
}

func readZstd(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer zr.Close()
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	return string(data)
}

func TestBundleErrors(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		want     string
	}{
		{
			name:     "no match",
			manifest: "name: t\npaths:\n  - input: /usr/bin/missing\n",
			want:     "Input field /usr/bin/missing matched no files.",
		},
		{
			name:     "too many files",
			manifest: "name: t\nmax_files: 1\npaths:\n  - input: /usr/bin/*\n",
			want:     "Max file count (1) exceeded.",
		},
		{
			name:     "collision",
			manifest: "name: t\npaths:\n  - input: /usr/bin/tool\n  - input: /opt/bin/tool\n",
			want:     "exists: refusing to copy",
		},
		{
			name:     "unattributed",
			manifest: "name: t\npaths:\n  - input: /opt/bin/tool\n",
			want:     "Bundle cannot be attributed to at least one package.",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			layout := convertedLayout(t)
			writeInstalled(t, layout, "dev-util/tool-1.0", map[string]string{
				"/usr/bin/tool":  "tool",
				"/usr/bin/tool2": "tool2",
			})
			testsupport.WriteText(t, filepath.Join(layout.Root, "opt/bin/tool"), "stray")
			m, err := ParseManifest([]byte(tc.manifest))
			require.NoError(t, err)

			st := NewSubtool(m, "", layout.Root, layout.WorkRoot, nil)
			err = st.Bundle(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
			assert.False(t, st.Bundled())
		})
	}
}

func TestPrepareUploadRequiresBundle(t *testing.T) {
	layout := convertedLayout(t)
	m, err := ParseManifest([]byte("name: tool\npaths:\n  - input: /usr/bin/tool\n"))
	require.NoError(t, err)
	err = NewSubtool(m, "", layout.Root, layout.WorkRoot, nil).PrepareUpload()
	require.Error(t, err)
	assert.Equal(t, "Bundling incomplete.", err.Error())
}

func TestLoadInstalledRejectsDuplicateNames(t *testing.T) {
	layout := convertedLayout(t)
	writeManifest(t, layout, "a", "name: dup\npaths:\n  - input: /x\n")
	writeManifest(t, layout, "b", "name: dup\npaths:\n  - input: /y\n")
	_, err := LoadInstalled(layout, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already defined")
}

func TestUploadPreparedBundles(t *testing.T) {
	layout := convertedLayout(t)
	writeInstalled(t, layout, "dev-util/tool-1.0", map[string]string{"/usr/bin/tool": "tool"})
	writeManifest(t, layout, "tool", "name: tool\npaths:\n  - input: /usr/bin/tool\n")

	mem := gs.NewMemoryStorage()
	gsctx := gs.NewContext(mem, false, 0, nil)
	svc := New(testsupport.NewFakeRunner(), layout, gsctx, Buckets{Production: "gs://prod", Staging: "gs://staging"}, nil)

	ctx := context.Background()
	dirs, err := svc.BundleAndPrepareUpload(ctx, nil)
	require.NoError(t, err)
	require.Len(t, dirs, 1)
	md, err := ReadUploadMetadata(dirs[0])
	require.NoError(t, err)
	hash := md.Package.Tags[subtoolsHashTag]

	require.NoError(t, svc.UploadPreparedBundles(ctx, false, dirs))
	instance := "gs://staging/chromiumos/infra/tools/tool/" + hash
	assert.Equal(t, []string{
		"gs://staging/chromiumos/infra/tools/tool/" + hash + "/tags.json",
		"gs://staging/chromiumos/infra/tools/tool/" + hash + "/tool.tar.zst",
		"gs://staging/chromiumos/infra/tools/tool/latest",
	}, mem.Objects())
	ref, err := gsctx.Cat(ctx, "gs://staging/chromiumos/infra/tools/tool/latest")
	require.NoError(t, err)
	assert.Equal(t, instance+"\n", string(ref))
	assert.FileExists(t, filepath.Join(dirs[0], uploadedStamp))

	// A second upload of the same instance is skipped.
	require.NoError(t, os.Remove(filepath.Join(dirs[0], uploadedStamp)))
	require.NoError(t, svc.UploadPreparedBundles(ctx, false, dirs))
	assert.NoFileExists(t, filepath.Join(dirs[0], uploadedStamp))
}

func TestUploadSkipsEmptyPackage(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteText(t, filepath.Join(dir, UploadMetadataFile), `{"upload_metadata_version": 1, "gs_package": {"package": ""}}`)
	mem := gs.NewMemoryStorage()
	svc := New(testsupport.NewFakeRunner(), testLayout(t), gs.NewContext(mem, false, 0, nil), Buckets{Production: "gs://prod"}, nil)
	require.NoError(t, svc.UploadPreparedBundles(context.Background(), true, []string{dir}))
	assert.Empty(t, mem.Objects())
}

func TestUploadRequiresMetadata(t *testing.T) {
	mem := gs.NewMemoryStorage()
	svc := New(testsupport.NewFakeRunner(), testLayout(t), gs.NewContext(mem, false, 0, nil), Buckets{Staging: "gs://staging"}, nil)
	err := svc.UploadPreparedBundles(context.Background(), false, []string{t.TempDir()})
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrNotFound)
}
