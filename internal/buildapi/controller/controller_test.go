package controller

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chromite/internal/buildapi"
	"chromite/internal/chroot"
	"chromite/internal/config"
	"chromite/internal/dlc"
	"chromite/internal/gs"
	"chromite/internal/image"
	"chromite/internal/portage"
	"chromite/internal/sdksubtools"
	"chromite/internal/services"
	"chromite/internal/testsupport"
)

type fixture struct {
	cfg     *config.Config
	runner  *testsupport.FakeRunner
	router  *buildapi.Router
	e       *endpoints
	storage *gs.MemoryStorage
	layout  sdksubtools.Layout
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithChroot())
	cfg.GS.SubtoolsBucket = "prod-tools"
	cfg.GS.SubtoolsStagingBucket = "staging-tools"

	base := t.TempDir()
	root := filepath.Join(base, "root")
	layout := sdksubtools.Layout{
		Root:           root,
		ConfigDir:      filepath.Join(root, "etc/cros/sdk-packages.d"),
		WorkRoot:       filepath.Join(base, "work"),
		VersionFile:    filepath.Join(root, "etc/cros_subtools_chroot_version"),
		SDKVersionFile: filepath.Join(root, "etc/cros_chroot_version"),
	}
	testsupport.WriteText(t, layout.SDKVersionFile, "42\n")

	f := &fixture{
		cfg:     cfg,
		runner:  testsupport.NewFakeRunner(),
		storage: gs.NewMemoryStorage(),
		layout:  layout,
	}
	env := buildapi.EnvironmentFromConfig(cfg)
	env.Branched = true
	env.InsideChroot = func() bool { return true }
	f.router = buildapi.NewRouter(env, f.runner, nil)
	deps := Deps{
		Config: cfg,
		Runner: f.runner,
		OpenGS: func(context.Context) (*gs.Context, error) {
			return gs.NewContext(f.storage, false, 0, nil), nil
		},
		SubtoolsLayout: &f.layout,
	}
	require.NoError(t, Register(f.router, deps))
	f.e = newEndpoints(f.router, deps)
	return f
}

func call(t *testing.T, ctrl buildapi.Controller, name string, req, resp any, cfg buildapi.Config) (int, error) {
	t.Helper()
	h, ok := ctrl[name]
	require.True(t, ok, "no implementation %s", name)
	return h(context.Background(), req, resp, cfg)
}

func execute() buildapi.Config { return buildapi.NewConfig() }

func withCallType(ct buildapi.CallType) buildapi.Config { return buildapi.Config{CallType: ct} }

func TestRegisterListsEveryMethod(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []string{
		"chromite.api.ApiService/GetVersion",
		"chromite.api.ApiService/MethodGet",
		"chromite.api.DlcService/GenerateDlcArtifactsList",
		"chromite.api.ImageService/Create",
		"chromite.api.SdkSubtoolsService/BuildSdkSubtools",
		"chromite.api.SdkSubtoolsService/UploadSdkSubtools",
		"chromite.api.SysrootService/Create",
		"chromite.api.SysrootService/InstallPackages",
	}, f.router.ListMethods())
}

func TestApiEndpointsThroughRouter(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	in, err := buildapi.MessageHandlerFor(filepath.Join(dir, "in.json"), buildapi.FormatJSON)
	require.NoError(t, err)
	testsupport.WriteText(t, in.Path, "{}")
	out, err := buildapi.MessageHandlerFor(filepath.Join(dir, "out.json"), buildapi.FormatJSON)
	require.NoError(t, err)

	rc, err := f.router.Route(context.Background(), APIService.Name, "GetVersion", execute(), in, []*buildapi.MessageHandler{out}, nil)
	require.NoError(t, err)
	assert.Equal(t, buildapi.ReturnCodeSuccess, rc)
	var version VersionGetResponse
	data, err := os.ReadFile(out.Path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &version))
	assert.Equal(t, Version{Major: 1}, version.Version)

	rc, err = f.router.Route(context.Background(), APIService.Name, "MethodGet", execute(), in, []*buildapi.MessageHandler{out}, nil)
	require.NoError(t, err)
	assert.Equal(t, buildapi.ReturnCodeSuccess, rc)
	var methods MethodGetResponse
	data, err = os.ReadFile(out.Path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &methods))
	assert.Len(t, methods.Methods, len(f.router.ListMethods()))
	assert.Contains(t, methods.Methods, MethodInfo{Method: "chromite.api.SysrootService/Create"})
}

func TestGenerateDlcArtifactsList(t *testing.T) {
	f := newFixture(t)
	ctrl := f.e.dlcController()

	var resp GenerateDlcArtifactsListResponse
	rc, err := call(t, ctrl, "GenerateDlcArtifactsList", &GenerateDlcArtifactsListRequest{}, &resp, withCallType(buildapi.CallTypeMockSuccess))
	require.NoError(t, err)
	assert.Equal(t, buildapi.ReturnCodeSuccess, rc)
	require.Len(t, resp.DlcArtifacts, 1)
	assert.Equal(t, "dlc-1", resp.DlcArtifacts[0].ID)
	assert.Equal(t, "gs://some/uri/prefix/for/dlc-1", resp.DlcArtifacts[0].GSURIPath)

	resp = GenerateDlcArtifactsListResponse{}
	rc, err = call(t, ctrl, "GenerateDlcArtifactsList", &GenerateDlcArtifactsListRequest{}, &resp, withCallType(buildapi.CallTypeMockFailure))
	require.NoError(t, err)
	assert.Equal(t, buildapi.ReturnCodeUnrecoverable, rc)
	assert.Empty(t, resp.DlcArtifacts)

	rc, err = call(t, ctrl, "GenerateDlcArtifactsList", &GenerateDlcArtifactsListRequest{}, &resp, execute())
	assert.Equal(t, buildapi.ReturnCodeInvalidInput, rc)
	require.Error(t, err)
	assert.Equal(t, "sysroot is required.", err.Error())

	sysroot := t.TempDir()
	metaDir := filepath.Join(sysroot, dlc.BuildDirArtifactsMeta, "sample-dlc", dlc.Package)
	testsupport.WriteText(t, filepath.Join(metaDir, dlc.ImageloaderJSON), `{"image-sha256-hash": "abc123"}`)
	testsupport.WriteText(t, filepath.Join(metaDir, dlc.URIPrefix), "gs://uri/sample-dlc")

	resp = GenerateDlcArtifactsListResponse{}
	req := &GenerateDlcArtifactsListRequest{Sysroot: &buildapi.Sysroot{Path: sysroot}}
	rc, err = call(t, ctrl, "GenerateDlcArtifactsList", req, &resp, execute())
	require.NoError(t, err)
	assert.Equal(t, buildapi.ReturnCodeSuccess, rc)
	assert.Equal(t, []DlcArtifactsInfo{{
		ImageHash: "abc123",
		ImageName: dlc.Image,
		GSURIPath: "gs://uri/sample-dlc",
		ID:        "sample-dlc",
	}}, resp.DlcArtifacts)
}

func (f *fixture) installSubtool(t *testing.T) {
	t.Helper()
	testsupport.WriteText(t, filepath.Join(f.layout.Root, "usr/bin/shellcheck"), "#!/bin/sh\n")
	testsupport.WriteText(t, filepath.Join(f.layout.Root, portage.VDBPath, "dev-util/shellcheck-0.9.0", "CONTENTS"),
		"obj /usr/bin/shellcheck d41d8cd98f00b204e9800998ecf8427e 1700000000\n")
	testsupport.WriteText(t, filepath.Join(f.layout.ConfigDir, "shellcheck.yaml"),
		"name: shellcheck\npaths:\n  - input: /usr/bin/shellcheck\n")
}

func TestBuildSdkSubtools(t *testing.T) {
	f := newFixture(t)
	f.installSubtool(t)
	ctrl := f.e.sdkSubtoolsController()

	var resp BuildSdkSubtoolsResponse
	rc, err := call(t, ctrl, "BuildSdkSubtools", &BuildSdkSubtoolsRequest{}, &resp, withCallType(buildapi.CallTypeValidateOnly))
	require.NoError(t, err)
	assert.Equal(t, buildapi.ReturnCodeValidInput, rc)
	assert.NoFileExists(t, f.layout.VersionFile)

	rc, err = call(t, ctrl, "BuildSdkSubtools", &BuildSdkSubtoolsRequest{}, &resp, execute())
	require.NoError(t, err)
	assert.Equal(t, buildapi.ReturnCodeSuccess, rc)
	assert.FileExists(t, f.layout.VersionFile)
	assert.Equal(t, []buildapi.Path{{Path: filepath.Join(f.layout.WorkRoot, "shellcheck"), Location: buildapi.LocationInside}}, resp.BundlePaths)

	calls := f.runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, sdksubtools.SDKPackage, calls[0].Args[len(calls[0].Args)-1])
}

func TestBuildSdkSubtoolsFailures(t *testing.T) {
	cases := []struct {
		name       string
		dieHook    string
		wantRC     int
		wantFailed int
	}{
		{name: "unattributed", wantRC: buildapi.ReturnCodeCompletedUnsuccessfully},
		{name: "packages", dieHook: "dev-util/foo-1.0-r2 compile\n", wantRC: buildapi.ReturnCodeUnsuccessfulResponseAvailable, wantFailed: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.runner.On([]string{"sudo"}, func(c services.Command) (*services.Result, error) {
				if tc.dieHook != "" {
					dir := strings.TrimPrefix(c.Env[0], portage.MetricsDirEnv+"=")
					testsupport.WriteText(t, filepath.Join(dir, portage.DieHookStatusFile), tc.dieHook)
				}
				return &services.Result{Args: c.Args, ExitCode: 1}, nil
			})
			var resp BuildSdkSubtoolsResponse
			rc, err := call(t, f.e.sdkSubtoolsController(), "BuildSdkSubtools", &BuildSdkSubtoolsRequest{}, &resp, execute())
			require.NoError(t, err)
			assert.Equal(t, tc.wantRC, rc)
			assert.Len(t, resp.FailedPackageData, tc.wantFailed)
			assert.Empty(t, resp.BundlePaths)
		})
	}
}

func TestUploadSdkSubtools(t *testing.T) {
	f := newFixture(t)
	f.installSubtool(t)
	ctrl := f.e.sdkSubtoolsController()

	var built BuildSdkSubtoolsResponse
	rc, err := call(t, ctrl, "BuildSdkSubtools", &BuildSdkSubtoolsRequest{}, &built, execute())
	require.NoError(t, err)
	require.Equal(t, buildapi.ReturnCodeSuccess, rc)

	rc, err = call(t, ctrl, "UploadSdkSubtools", &UploadSdkSubtoolsRequest{BundlePaths: built.BundlePaths}, &UploadSdkSubtoolsResponse{}, execute())
	assert.Equal(t, buildapi.ReturnCodeInvalidInput, rc)
	require.Error(t, err)
	assert.Equal(t, "UploadSdkSubtools requires outside-chroot bundle paths.", err.Error())

	outside := make([]buildapi.Path, len(built.BundlePaths))
	for i, p := range built.BundlePaths {
		outside[i] = buildapi.Path{Path: p.Path, Location: buildapi.LocationOutside}
	}
	req := &UploadSdkSubtoolsRequest{BundlePaths: outside}
	rc, err = call(t, ctrl, "UploadSdkSubtools", req, &UploadSdkSubtoolsResponse{}, withCallType(buildapi.CallTypeValidateOnly))
	require.NoError(t, err)
	assert.Equal(t, buildapi.ReturnCodeValidInput, rc)
	assert.Empty(t, f.storage.Objects())

	rc, err = call(t, ctrl, "UploadSdkSubtools", req, &UploadSdkSubtoolsResponse{}, execute())
	require.NoError(t, err)
	assert.Equal(t, buildapi.ReturnCodeSuccess, rc)
	objects := f.storage.Objects()
	require.NotEmpty(t, objects)
	for _, o := range objects {
		assert.True(t, strings.HasPrefix(o, "gs://staging-tools/chromiumos/infra/tools/shellcheck/"), o)
	}
}

func TestSysrootCreate(t *testing.T) {
	f := newFixture(t)
	ctrl := f.e.sysrootController()

	var resp SysrootCreateResponse
	rc, err := call(t, ctrl, "Create", &SysrootCreateRequest{}, &resp, execute())
	assert.Equal(t, buildapi.ReturnCodeInvalidInput, rc)
	require.Error(t, err)
	assert.Equal(t, "build_target.name is required.", err.Error())

	rc, err = call(t, ctrl, "Create", &SysrootCreateRequest{BuildTarget: &buildapi.BuildTarget{Name: "eve"}}, &resp, withCallType(buildapi.CallTypeMockSuccess))
	require.NoError(t, err)
	assert.Equal(t, buildapi.ReturnCodeSuccess, rc)
	assert.Empty(t, f.runner.Calls())

	req := &SysrootCreateRequest{
		BuildTarget: &buildapi.BuildTarget{Name: "eve"},
		Profile:     &buildapi.Profile{Name: "base"},
		Flags:       SysrootCreateFlags{Replace: true, ChrootCurrent: true},
	}
	rc, err = call(t, ctrl, "Create", req, &resp, execute())
	require.NoError(t, err)
	assert.Equal(t, buildapi.ReturnCodeSuccess, rc)
	assert.Equal(t, buildapi.Sysroot{Path: "/build/eve", BuildTarget: &buildapi.BuildTarget{Name: "eve"}}, resp.Sysroot)

	calls := f.runner.Calls()
	require.Len(t, calls, 1)
	args := calls[0].Args
	assert.Contains(t, args, "--board=eve")
	assert.Contains(t, args, "--profile=base")
	assert.Contains(t, args, "--force")
	assert.Contains(t, args, "--accept-licenses=@CHROMEOS")
	assert.Contains(t, args, "--skip-chroot-upgrade")
}

func TestInstallPackages(t *testing.T) {
	f := newFixture(t)
	ctrl := f.e.sysrootController()
	sysrootDir := t.TempDir()
	valid := func() *InstallPackagesRequest {
		return &InstallPackagesRequest{
			Sysroot:  &buildapi.Sysroot{Path: sysrootDir, BuildTarget: &buildapi.BuildTarget{Name: "eve"}},
			Packages: []buildapi.PackageInfo{{Category: "chromeos-base", PackageName: "chromeos"}},
			UseFlags: []buildapi.UseFlag{{Flag: "debug"}},
		}
	}

	var resp InstallPackagesResponse
	rc, err := call(t, ctrl, "InstallPackages", &InstallPackagesRequest{}, &resp, withCallType(buildapi.CallTypeMockFailure))
	require.NoError(t, err)
	assert.Equal(t, buildapi.ReturnCodeUnsuccessfulResponseAvailable, rc)
	require.Len(t, resp.FailedPackageData, 2)
	assert.Equal(t, "bar", resp.FailedPackageData[1].Name.PackageName)

	missing := valid()
	missing.Sysroot.Path = filepath.Join(sysrootDir, "missing")
	rc, err = call(t, ctrl, "InstallPackages", missing, &InstallPackagesResponse{}, execute())
	assert.Equal(t, buildapi.ReturnCodeInvalidInput, rc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sysroot.path path does not exist")

	badPkg := valid()
	badPkg.Packages = append(badPkg.Packages, buildapi.PackageInfo{Category: "dev-libs"})
	rc, _ = call(t, ctrl, "InstallPackages", badPkg, &InstallPackagesResponse{}, execute())
	assert.Equal(t, buildapi.ReturnCodeInvalidInput, rc)
	assert.Empty(t, f.runner.Calls())

	rc, err = call(t, ctrl, "InstallPackages", valid(), &InstallPackagesResponse{}, execute())
	require.NoError(t, err)
	assert.Equal(t, buildapi.ReturnCodeSuccess, rc)
	calls := f.runner.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Args, "--board=eve")
	assert.Contains(t, calls[0].Args, "--sysroot="+sysrootDir)
	assert.Contains(t, calls[0].Args, "USE=debug")
	assert.Equal(t, "chromeos-base/chromeos", calls[0].Args[len(calls[0].Args)-1])
}

func TestInstallPackagesFailure(t *testing.T) {
	f := newFixture(t)
	sdk := chroot.FromConfig(f.cfg)
	sysrootDir := t.TempDir()
	testsupport.WriteText(t, filepath.Join(sysrootDir, "tmp/portage/logs", "chromeos-base:chromeos-1.0-r1:20240101-0000.log"), "log")
	f.runner.On([]string{"cros_sdk"}, func(c services.Command) (*services.Result, error) {
		for _, a := range c.Args {
			if v, ok := strings.CutPrefix(a, portage.StatusFileEnv+"="); ok {
				testsupport.WriteText(t, sdk.FullPath(v), "chromeos-base/chromeos-1.0-r1\n")
			}
		}
		return &services.Result{Args: c.Args, ExitCode: 1}, nil
	})

	var resp InstallPackagesResponse
	req := &InstallPackagesRequest{Sysroot: &buildapi.Sysroot{Path: sysrootDir, BuildTarget: &buildapi.BuildTarget{Name: "eve"}}}
	rc, err := call(t, f.e.sysrootController(), "InstallPackages", req, &resp, execute())
	require.NoError(t, err)
	assert.Equal(t, buildapi.ReturnCodeUnsuccessfulResponseAvailable, rc)
	require.Len(t, resp.FailedPackageData, 1)
	assert.Equal(t, buildapi.PackageInfo{Category: "chromeos-base", PackageName: "chromeos", Version: "1.0-r1"}, resp.FailedPackageData[0].Name)
	assert.Equal(t, buildapi.LocationInside, resp.FailedPackageData[0].LogPath.Location)
	assert.True(t, strings.HasSuffix(resp.FailedPackageData[0].LogPath.Path, "chromeos-base:chromeos-1.0-r1:20240101-0000.log"))
}

func TestImageCreate(t *testing.T) {
	f := newFixture(t)
	ctrl := f.e.imageController()

	var resp CreateImageResult
	rc, err := call(t, ctrl, "Create", &CreateImageRequest{}, &resp, withCallType(buildapi.CallTypeMockSuccess))
	require.NoError(t, err)
	assert.Equal(t, buildapi.ReturnCodeSuccess, rc)
	assert.True(t, resp.Success)

	rc, err = call(t, ctrl, "Create", &CreateImageRequest{}, &CreateImageResult{}, withCallType(buildapi.CallTypeMockFailure))
	require.NoError(t, err)
	assert.Equal(t, buildapi.ReturnCodeCompletedUnsuccessfully, rc)

	rc, _ = call(t, ctrl, "Create", &CreateImageRequest{}, &CreateImageResult{}, execute())
	assert.Equal(t, buildapi.ReturnCodeInvalidInput, rc)

	imagesDir := filepath.Join(f.cfg.Paths.SourceRoot, "src/build/images/eve/latest")
	testsupport.WriteText(t, filepath.Join(imagesDir, image.TypeToName[image.TypeBase]), "img")
	testsupport.WriteText(t, filepath.Join(imagesDir, image.TypeToName[image.TypeTest]), "img")

	resp = CreateImageResult{}
	req := &CreateImageRequest{
		BuildTarget: &buildapi.BuildTarget{Name: "eve"},
		ImageTypes:  []ImageType{ImageTypeBase, ImageTypeTestVM, ImageTypeTest},
	}
	rc, err = call(t, ctrl, "Create", req, &resp, execute())
	require.NoError(t, err)
	assert.Equal(t, buildapi.ReturnCodeSuccess, rc)
	assert.True(t, resp.Success)
	require.Len(t, resp.Images, 2)
	assert.Equal(t, ImageTypeBase, resp.Images[0].Type)
	assert.Equal(t, ImageTypeTest, resp.Images[1].Type)
	assert.Equal(t, "eve", resp.Images[1].BuildTarget.Name)

	calls := f.runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"base", "test"}, calls[0].Args[len(calls[0].Args)-2:])
}

func TestImageCreateFailure(t *testing.T) {
	f := newFixture(t)
	f.runner.Respond([]string{"cros_sdk"}, 1, "")
	rc, err := call(t, f.e.imageController(), "Create", &CreateImageRequest{BuildTarget: &buildapi.BuildTarget{Name: "eve"}}, &CreateImageResult{}, execute())
	require.NoError(t, err)
	assert.Equal(t, buildapi.ReturnCodeCompletedUnsuccessfully, rc)
}

func TestImageTypes(t *testing.T) {
	assert.Equal(t, []string{image.TypeBase}, imageTypes(nil))
	assert.Equal(t, []string{image.TypeBase, image.TypeRecovery}, imageTypes([]ImageType{ImageTypeBaseVM, ImageTypeBase, ImageTypeRecovery, ImageType(99)}))
}

func TestNewRouterRegistersServices(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	r, err := NewRouter(Deps{Config: cfg, Runner: testsupport.NewFakeRunner()})
	require.NoError(t, err)
	assert.Contains(t, r.ListMethods(), "chromite.api.ApiService/MethodGet")
}
