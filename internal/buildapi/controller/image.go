package controller

import (
	"context"
	"slices"

	"chromite/internal/buildapi"
	"chromite/internal/buildtarget"
	"chromite/internal/image"
)

const imageModule = "image"

// ImageType is the wire enum for requested images.
type ImageType int

const (
	ImageTypeUndefined ImageType = iota
	ImageTypeBase
	ImageTypeDev
	ImageTypeTest
	ImageTypeBaseVM
	ImageTypeTestVM
	ImageTypeRecovery
	ImageTypeFactory
)

// imageTypeNames maps wire types to the images build-image produces. VM
// types build the image they are converted from.
var imageTypeNames = map[ImageType]string{
	ImageTypeBase:     image.TypeBase,
	ImageTypeDev:      image.TypeDev,
	ImageTypeTest:     image.TypeTest,
	ImageTypeBaseVM:   image.TypeBase,
	ImageTypeTestVM:   image.TypeTest,
	ImageTypeRecovery: image.TypeRecovery,
	ImageTypeFactory:  image.TypeFactoryInstall,
}

var imageTypeByName = map[string]ImageType{
	image.TypeBase:           ImageTypeBase,
	image.TypeDev:            ImageTypeDev,
	image.TypeTest:           ImageTypeTest,
	image.TypeRecovery:       ImageTypeRecovery,
	image.TypeFactoryInstall: ImageTypeFactory,
}

type CreateImageRequest struct {
	Chroot                    *buildapi.Chroot      `json:"chroot,omitempty"`
	BuildTarget               *buildapi.BuildTarget `json:"build_target,omitempty"`
	ImageTypes                []ImageType           `json:"image_types,omitempty"`
	DisableRootfsVerification bool                  `json:"disable_rootfs_verification,omitempty"`
	Version                   string                `json:"version,omitempty"`
	DiskLayout                string                `json:"disk_layout,omitempty"`
	BuilderPath               string                `json:"builder_path,omitempty"`
}

type Image struct {
	Path        string               `json:"path,omitempty"`
	Type        ImageType            `json:"type,omitempty"`
	BuildTarget buildapi.BuildTarget `json:"build_target"`
}

type CreateImageResult struct {
	Success           bool                         `json:"success,omitempty"`
	Images            []Image                      `json:"images,omitempty"`
	FailedPackageData []buildapi.FailedPackageData `json:"failed_package_data,omitempty"`
}

// ImageService builds disk images.
var ImageService = buildapi.Service{
	Name:    "chromite.api.ImageService",
	Options: buildapi.ServiceOptions{Module: imageModule, ChrootAssert: buildapi.Inside},
	Methods: []buildapi.Method{
		buildapi.NewMethod[CreateImageRequest, CreateImageResult]("Create", buildapi.MethodOptions{}),
	},
}

var fauxImageSuccess = buildapi.Fill(func(_ *CreateImageRequest, resp *CreateImageResult, _ buildapi.Config) {
	resp.Success = true
})

// imageTypes converts the requested wire types, defaulting to base and
// dropping duplicates.
func imageTypes(requested []ImageType) []string {
	if len(requested) == 0 {
		return []string{image.TypeBase}
	}
	var out []string
	for _, t := range requested {
		name, ok := imageTypeNames[t]
		if !ok || slices.Contains(out, name) {
			continue
		}
		out = append(out, name)
	}
	return out
}

func (e *endpoints) imageController() buildapi.Controller {
	create := buildapi.Impl(func(ctx context.Context, req *CreateImageRequest, resp *CreateImageResult, _ buildapi.Config) (int, error) {
		target := req.BuildTarget.Parse()
		types := imageTypes(req.ImageTypes)

		cfg := image.DefaultBuildConfig()
		cfg.EnableRootfsVerification = !req.DisableRootfsVerification
		cfg.Version = req.Version
		cfg.DiskLayout = req.DiskLayout
		cfg.BuilderPath = req.BuilderPath

		svc := image.New(e.deps.Runner, e.chroot(), e.deps.Config.Paths.SourceRoot, e.logger)
		result, err := svc.Build(ctx, target, types, cfg)
		if err != nil {
			return buildapi.ReturnCodeUnrecoverable, err
		}
		if !result.RunSuccess() {
			if len(result.FailedPackages) == 0 {
				return buildapi.ReturnCodeCompletedUnsuccessfully, nil
			}
			sr := buildtarget.NewSysroot(target.Root, &target)
			resp.FailedPackageData = failedPackageData(sr, result.FailedPackages)
			return buildapi.ReturnCodeUnsuccessfulResponseAvailable, nil
		}

		resp.Success = result.AllBuilt()
		for _, t := range types {
			path, ok := result.Images[t]
			if !ok {
				continue
			}
			resp.Images = append(resp.Images, Image{
				Path:        path,
				Type:        imageTypeByName[t],
				BuildTarget: buildapi.BuildTarget{Name: target.Name},
			})
		}
		return buildapi.ReturnCodeSuccess, nil
	})

	return buildapi.Controller{
		"Create": buildapi.Chain(create,
			buildapi.Success(fauxImageSuccess),
			buildapi.EmptyCompletedUnsuccessfullyError,
			buildapi.Require("build_target.name"),
			buildapi.ValidationComplete,
		),
	}
}
