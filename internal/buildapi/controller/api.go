package controller

import (
	"context"

	"chromite/internal/buildapi"
)

const apiModule = "api"

// API version reported by GetVersion.
const (
	VersionMajor = 1
	VersionMinor = 0
	VersionBug   = 0
)

type MethodGetRequest struct{}

type MethodInfo struct {
	Method string `json:"method,omitempty"`
}

type MethodGetResponse struct {
	Methods []MethodInfo `json:"methods,omitempty"`
}

type VersionGetRequest struct{}

type Version struct {
	Major int `json:"major,omitempty"`
	Minor int `json:"minor,omitempty"`
	Bug   int `json:"bug,omitempty"`
}

type VersionGetResponse struct {
	Version Version `json:"version"`
}

// APIService describes the API itself.
var APIService = buildapi.Service{
	Name:    "chromite.api.ApiService",
	Options: buildapi.ServiceOptions{Module: apiModule, ChrootAssert: buildapi.NoAssertion},
	Methods: []buildapi.Method{
		buildapi.NewMethod[MethodGetRequest, MethodGetResponse]("MethodGet", buildapi.MethodOptions{ImplementationName: "GetMethods"}),
		buildapi.NewMethod[VersionGetRequest, VersionGetResponse]("GetVersion", buildapi.MethodOptions{}),
	},
}

func (e *endpoints) apiController() buildapi.Controller {
	getMethods := buildapi.Impl(func(_ context.Context, _ *MethodGetRequest, resp *MethodGetResponse, _ buildapi.Config) (int, error) {
		for _, m := range e.router.ListMethods() {
			resp.Methods = append(resp.Methods, MethodInfo{Method: m})
		}
		return buildapi.ReturnCodeSuccess, nil
	})
	getVersion := buildapi.Impl(func(_ context.Context, _ *VersionGetRequest, resp *VersionGetResponse, _ buildapi.Config) (int, error) {
		resp.Version = Version{Major: VersionMajor, Minor: VersionMinor, Bug: VersionBug}
		return buildapi.ReturnCodeSuccess, nil
	})
	return buildapi.Controller{
		"GetMethods": buildapi.Chain(getMethods, buildapi.AllEmpty, buildapi.ValidationComplete),
		"GetVersion": buildapi.Chain(getVersion, buildapi.AllEmpty, buildapi.ValidationComplete),
	}
}
