package controller

import (
	"context"
	"errors"

	"chromite/internal/buildapi"
	"chromite/internal/buildtarget"
	"chromite/internal/portage"
	"chromite/internal/sysroot"
)

const sysrootModule = "sysroot"

// acceptedLicenses is passed to setup_board for every sysroot.
const acceptedLicenses = "@CHROMEOS"

type SysrootCreateFlags struct {
	ChrootCurrent  bool `json:"chroot_current,omitempty"`
	Replace        bool `json:"replace,omitempty"`
	UseCQPrebuilts bool `json:"use_cq_prebuilts,omitempty"`
}

type SysrootCreateRequest struct {
	Chroot      *buildapi.Chroot      `json:"chroot,omitempty"`
	BuildTarget *buildapi.BuildTarget `json:"build_target,omitempty"`
	Profile     *buildapi.Profile     `json:"profile,omitempty"`
	Flags       SysrootCreateFlags    `json:"flags"`
}

type SysrootCreateResponse struct {
	Sysroot buildapi.Sysroot `json:"sysroot"`
}

type InstallPackagesFlags struct {
	CompileSource    bool `json:"compile_source,omitempty"`
	ToolchainChanged bool `json:"toolchain_changed,omitempty"`
	DryRun           bool `json:"dryrun,omitempty"`
	Workon           bool `json:"workon,omitempty"`
}

type InstallPackagesRequest struct {
	Chroot   *buildapi.Chroot       `json:"chroot,omitempty"`
	Sysroot  *buildapi.Sysroot      `json:"sysroot,omitempty"`
	Packages []buildapi.PackageInfo `json:"packages,omitempty"`
	UseFlags []buildapi.UseFlag     `json:"use_flags,omitempty"`
	Flags    InstallPackagesFlags   `json:"flags"`
}

type InstallPackagesResponse struct {
	FailedPackageData []buildapi.FailedPackageData `json:"failed_package_data,omitempty"`
}

// SysrootService creates sysroots and installs packages into them.
var SysrootService = buildapi.Service{
	Name:    "chromite.api.SysrootService",
	Options: buildapi.ServiceOptions{Module: sysrootModule, ChrootAssert: buildapi.Inside},
	Methods: []buildapi.Method{
		buildapi.NewMethod[SysrootCreateRequest, SysrootCreateResponse]("Create", buildapi.MethodOptions{}),
		buildapi.NewMethod[InstallPackagesRequest, InstallPackagesResponse]("InstallPackages", buildapi.MethodOptions{}),
	},
}

var fauxFailedPackages = buildapi.Fill(func(_ *InstallPackagesRequest, resp *InstallPackagesResponse, _ buildapi.Config) {
	resp.FailedPackageData = append(resp.FailedPackageData,
		buildapi.FailedPackageData{
			Name:    buildapi.PackageInfo{Category: "category", PackageName: "package", Version: "1.0.0_rc-r1"},
			LogPath: buildapi.Path{Path: "/path/to/package:category-1.0.0_rc-r1:20210609-1337.log", Location: buildapi.LocationInside},
		},
		buildapi.FailedPackageData{
			Name:    buildapi.PackageInfo{Category: "foo", PackageName: "bar", Version: "3.7-r99"},
			LogPath: buildapi.Path{Path: "/path/to/foo:bar-3.7-r99:20210609-1620.log", Location: buildapi.LocationInside},
		},
	)
})

func (e *endpoints) sysrootService() *sysroot.Service {
	return sysroot.New(e.deps.Runner, e.chroot(), e.logger)
}

func (e *endpoints) sysrootController() buildapi.Controller {
	create := buildapi.Impl(func(ctx context.Context, req *SysrootCreateRequest, resp *SysrootCreateResponse, _ buildapi.Config) (int, error) {
		target := req.BuildTarget.Parse()
		if req.Profile != nil && req.Profile.Name != "" {
			target.Profile = req.Profile.Name
		}
		created, err := e.sysrootService().Create(ctx, target, sysroot.CreateOptions{
			Replace:        req.Flags.Replace,
			UpdateChroot:   !req.Flags.ChrootCurrent,
			UseCQPrebuilts: req.Flags.UseCQPrebuilts,
			AcceptLicenses: acceptedLicenses,
		})
		if err != nil {
			return buildapi.ReturnCodeUnrecoverable, err
		}
		resp.Sysroot = buildapi.Sysroot{Path: created.Path, BuildTarget: &buildapi.BuildTarget{Name: target.Name}}
		return buildapi.ReturnCodeSuccess, nil
	})

	install := buildapi.Impl(func(ctx context.Context, req *InstallPackagesRequest, resp *InstallPackagesResponse, _ buildapi.Config) (int, error) {
		target := req.Sysroot.BuildTarget.Parse()
		sr := buildtarget.NewSysroot(req.Sysroot.Path, &target)

		packages := make([]string, 0, len(req.Packages))
		for _, p := range req.Packages {
			pkg, err := p.Portage()
			if err != nil {
				return buildapi.ReturnCodeUnrecoverable, err
			}
			packages = append(packages, pkg.Atom())
		}
		useFlags := make([]string, 0, len(req.UseFlags))
		for _, u := range req.UseFlags {
			useFlags = append(useFlags, u.Flag)
		}

		err := e.sysrootService().InstallPackages(ctx, target, sr, sysroot.InstallOptions{
			Packages:      packages,
			UseFlags:      useFlags,
			CompileSource: req.Flags.CompileSource || req.Flags.ToolchainChanged,
			Workon:        req.Flags.Workon,
			DryRun:        req.Flags.DryRun,
		})
		if err == nil {
			return buildapi.ReturnCodeSuccess, nil
		}
		var installErr *portage.PackageInstallError
		if !errors.As(err, &installErr) {
			return buildapi.ReturnCodeUnrecoverable, err
		}
		if len(installErr.FailedPackages) == 0 {
			return buildapi.ReturnCodeCompletedUnsuccessfully, nil
		}
		resp.FailedPackageData = failedPackageData(sr, installErr.FailedPackages)
		return buildapi.ReturnCodeUnsuccessfulResponseAvailable, nil
	})

	return buildapi.Controller{
		"Create": buildapi.Chain(create,
			buildapi.AllEmpty,
			buildapi.Require("build_target.name"),
			buildapi.ValidationComplete,
		),
		"InstallPackages": buildapi.Chain(install,
			buildapi.EmptySuccess,
			buildapi.Error(fauxFailedPackages),
			buildapi.Require("sysroot.path", "sysroot.build_target.name"),
			buildapi.Exists("sysroot.path"),
			buildapi.RequireEach("packages", []string{"category", "package_name"}, true),
			buildapi.RequireEach("use_flags", []string{"flag"}, true),
			buildapi.ValidationComplete,
		),
	}
}
