// Package controller implements the Build API endpoints and registers them
// with a router.
package controller

import (
	"context"
	"log/slog"

	"chromite/internal/buildapi"
	"chromite/internal/buildtarget"
	"chromite/internal/chroot"
	"chromite/internal/config"
	"chromite/internal/gs"
	"chromite/internal/portage"
	"chromite/internal/sdksubtools"
	"chromite/internal/services"
	"chromite/internal/sysroot"
)

// Deps are the collaborators endpoints are built from.
type Deps struct {
	Config *config.Config
	Runner services.Runner
	// OpenGS returns the storage context uploads use. It is only called by
	// endpoints that talk to Google Storage.
	OpenGS func(ctx context.Context) (*gs.Context, error)
	// SubtoolsLayout overrides the subtools SDK paths.
	SubtoolsLayout *sdksubtools.Layout
	Logger         *slog.Logger
}

type endpoints struct {
	deps   Deps
	router *buildapi.Router
	logger *slog.Logger
}

func newEndpoints(r *buildapi.Router, deps Deps) *endpoints {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &endpoints{deps: deps, router: r, logger: logger}
}

// Services returns every service definition.
func Services() []buildapi.Service {
	return []buildapi.Service{
		APIService,
		DLCService,
		ImageService,
		SDKSubtoolsService,
		SysrootService,
	}
}

// Register adds every service and its controller to r.
func Register(r *buildapi.Router, deps Deps) error {
	for _, svc := range Services() {
		if err := r.Register(svc); err != nil {
			return err
		}
	}
	e := newEndpoints(r, deps)
	r.RegisterController(apiModule, e.apiController())
	r.RegisterController(dlcModule, e.dlcController())
	r.RegisterController(imageModule, e.imageController())
	r.RegisterController(sdkSubtoolsModule, e.sdkSubtoolsController())
	r.RegisterController(sysrootModule, e.sysrootController())
	return nil
}

// NewRouter returns a router for deps.Config with every service registered.
func NewRouter(deps Deps) (*buildapi.Router, error) {
	r := buildapi.NewRouter(buildapi.EnvironmentFromConfig(deps.Config), deps.Runner, deps.Logger)
	if err := Register(r, deps); err != nil {
		return nil, err
	}
	return r, nil
}

func (e *endpoints) chroot() chroot.Chroot {
	return chroot.FromConfig(e.deps.Config)
}

// failedPackageData pairs each failed package with its build log inside
// the SDK.
func failedPackageData(sr buildtarget.Sysroot, failed []portage.PackageInfo) []buildapi.FailedPackageData {
	logs := sysroot.PackageLogPaths(sr, failed)
	out := make([]buildapi.FailedPackageData, 0, len(logs))
	for _, l := range logs {
		data := buildapi.FailedPackageData{Name: buildapi.PackageInfoFrom(l.Package)}
		if l.LogPath != "" {
			data.LogPath = buildapi.Path{Path: l.LogPath, Location: buildapi.LocationInside}
		}
		out = append(out, data)
	}
	return out
}
