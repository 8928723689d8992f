package controller

import (
	"context"
	"errors"

	"chromite/internal/buildapi"
	"chromite/internal/buildtarget"
	"chromite/internal/gs"
	"chromite/internal/portage"
	"chromite/internal/sdksubtools"
)

const sdkSubtoolsModule = "sdk_subtools"

type BuildSdkSubtoolsRequest struct {
	Chroot *buildapi.Chroot `json:"chroot,omitempty"`
}

type BuildSdkSubtoolsResponse struct {
	BundlePaths       []buildapi.Path              `json:"bundle_paths,omitempty"`
	FailedPackageData []buildapi.FailedPackageData `json:"failed_package_data,omitempty"`
}

type UploadSdkSubtoolsRequest struct {
	BundlePaths   []buildapi.Path `json:"bundle_paths,omitempty"`
	UseProduction bool            `json:"use_production,omitempty"`
}

type UploadSdkSubtoolsResponse struct{}

// SDKSubtoolsService builds and uploads subtools bundles.
var SDKSubtoolsService = buildapi.Service{
	Name:    "chromite.api.SdkSubtoolsService",
	Options: buildapi.ServiceOptions{Module: sdkSubtoolsModule},
	Methods: []buildapi.Method{
		buildapi.NewMethod[BuildSdkSubtoolsRequest, BuildSdkSubtoolsResponse]("BuildSdkSubtools",
			buildapi.MethodOptions{ChrootAssert: buildapi.Inside}),
		buildapi.NewMethod[UploadSdkSubtoolsRequest, UploadSdkSubtoolsResponse]("UploadSdkSubtools",
			buildapi.MethodOptions{ChrootAssert: buildapi.Outside}),
	},
}

func (e *endpoints) subtools(gsctx *gs.Context) *sdksubtools.Service {
	layout := sdksubtools.DefaultLayout()
	if e.deps.SubtoolsLayout != nil {
		layout = *e.deps.SubtoolsLayout
	}
	buckets := sdksubtools.Buckets{
		Production: e.deps.Config.GS.SubtoolsBucket,
		Staging:    e.deps.Config.GS.SubtoolsStagingBucket,
	}
	return sdksubtools.New(e.deps.Runner, layout, gsctx, buckets, e.logger)
}

func (e *endpoints) sdkSubtoolsController() buildapi.Controller {
	build := buildapi.Impl(func(ctx context.Context, _ *BuildSdkSubtoolsRequest, resp *BuildSdkSubtoolsResponse, _ buildapi.Config) (int, error) {
		// The router clears the request chroot before entering the SDK, so
		// the build root is always the SDK root.
		target := buildtarget.New(sdksubtools.BuildTargetName, "", "/", false)
		svc := e.subtools(nil)
		if err := svc.SetupBaseSDK(ctx, target, true); err != nil {
			return buildapi.ReturnCodeUnrecoverable, err
		}
		if err := svc.UpdatePackages(ctx, []string{sdksubtools.SDKPackage}, 0); err != nil {
			var installErr *portage.PackageInstallError
			if !errors.As(err, &installErr) {
				return buildapi.ReturnCodeUnrecoverable, err
			}
			if len(installErr.FailedPackages) == 0 {
				return buildapi.ReturnCodeCompletedUnsuccessfully, nil
			}
			host := buildtarget.NewSysroot(svc.Layout().Root, nil)
			resp.FailedPackageData = failedPackageData(host, installErr.FailedPackages)
			return buildapi.ReturnCodeUnsuccessfulResponseAvailable, nil
		}
		bundles, err := svc.BundleAndPrepareUpload(ctx, nil)
		if err != nil {
			return buildapi.ReturnCodeUnrecoverable, err
		}
		for _, b := range bundles {
			resp.BundlePaths = append(resp.BundlePaths, buildapi.Path{Path: b, Location: buildapi.LocationInside})
		}
		return buildapi.ReturnCodeSuccess, nil
	})

	upload := buildapi.Impl(func(ctx context.Context, req *UploadSdkSubtoolsRequest, _ *UploadSdkSubtoolsResponse, cfg buildapi.Config) (int, error) {
		bundles := make([]string, 0, len(req.BundlePaths))
		for _, p := range req.BundlePaths {
			if p.Location != buildapi.LocationOutside {
				return buildapi.ReturnCodeInvalidInput, &buildapi.ValidationError{Msg: "UploadSdkSubtools requires outside-chroot bundle paths."}
			}
			bundles = append(bundles, p.Path)
		}
		if cfg.ValidateOnly() {
			return buildapi.ReturnCodeValidInput, nil
		}
		if e.deps.OpenGS == nil {
			return buildapi.ReturnCodeUnrecoverable, errors.New("no storage configured")
		}
		gsctx, err := e.deps.OpenGS(ctx)
		if err != nil {
			return buildapi.ReturnCodeUnrecoverable, err
		}
		if err := e.subtools(gsctx).UploadPreparedBundles(ctx, req.UseProduction, bundles); err != nil {
			return buildapi.ReturnCodeUnrecoverable, err
		}
		return buildapi.ReturnCodeSuccess, nil
	})

	return buildapi.Controller{
		"BuildSdkSubtools":  buildapi.Chain(build, buildapi.AllEmpty, buildapi.ValidationComplete),
		"UploadSdkSubtools": buildapi.Chain(upload, buildapi.AllEmpty),
	}
}
