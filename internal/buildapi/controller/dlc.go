package controller

import (
	"context"

	"chromite/internal/buildapi"
	"chromite/internal/dlc"
)

const dlcModule = "dlc"

type GenerateDlcArtifactsListRequest struct {
	Chroot  *buildapi.Chroot  `json:"chroot,omitempty"`
	Sysroot *buildapi.Sysroot `json:"sysroot,omitempty"`
}

type DlcArtifactsInfo struct {
	ImageHash string `json:"image_hash,omitempty"`
	ImageName string `json:"image_name,omitempty"`
	GSURIPath string `json:"gs_uri_path,omitempty"`
	ID        string `json:"id,omitempty"`
}

type GenerateDlcArtifactsListResponse struct {
	DlcArtifacts []DlcArtifactsInfo `json:"dlc_artifacts,omitempty"`
}

// DLCService lists DLC artifacts built into a sysroot.
var DLCService = buildapi.Service{
	Name:    "chromite.api.DlcService",
	Options: buildapi.ServiceOptions{Module: dlcModule, ChrootAssert: buildapi.Inside},
	Methods: []buildapi.Method{
		buildapi.NewMethod[GenerateDlcArtifactsListRequest, GenerateDlcArtifactsListResponse]("GenerateDlcArtifactsList", buildapi.MethodOptions{}),
	},
}

var fauxDlcArtifacts = buildapi.Fill(func(_ *GenerateDlcArtifactsListRequest, resp *GenerateDlcArtifactsListResponse, _ buildapi.Config) {
	resp.DlcArtifacts = append(resp.DlcArtifacts, DlcArtifactsInfo{
		ImageHash: "88d54cb6b5bba15a71ffda3ca75446eb453bf7fe393e3595d3bc52beb3b61711",
		ImageName: "dlc.img",
		GSURIPath: "gs://some/uri/prefix/for/dlc-1",
		ID:        "dlc-1",
	})
})

func (e *endpoints) dlcController() buildapi.Controller {
	generate := buildapi.Impl(func(_ context.Context, req *GenerateDlcArtifactsListRequest, resp *GenerateDlcArtifactsListResponse, _ buildapi.Config) (int, error) {
		artifacts, err := dlc.GenerateArtifactsMetadataList(req.Sysroot.Path, e.logger)
		if err != nil {
			return buildapi.ReturnCodeUnrecoverable, err
		}
		for _, a := range artifacts {
			resp.DlcArtifacts = append(resp.DlcArtifacts, DlcArtifactsInfo{
				ImageHash: a.ImageHash,
				ImageName: a.ImageName,
				GSURIPath: a.URIPath,
				ID:        a.ID,
			})
		}
		return buildapi.ReturnCodeSuccess, nil
	})
	return buildapi.Controller{
		"GenerateDlcArtifactsList": buildapi.Chain(generate,
			buildapi.Success(fauxDlcArtifacts),
			buildapi.EmptyError,
			buildapi.Require("sysroot"),
			buildapi.ValidationComplete,
		),
	}
}
