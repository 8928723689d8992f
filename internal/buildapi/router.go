package buildapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"chromite/internal/chroot"
	"chromite/internal/config"
	"chromite/internal/fileutil"
	"chromite/internal/services"
)

// Router error kinds. RouterError values unwrap to one of these.
var (
	ErrInvalidSDK                 = errors.New("invalid sdk")
	ErrCrosSDKNotRun              = errors.New("cros_sdk not run")
	ErrUnknownService             = errors.New("unknown service")
	ErrControllerModuleNotDefined = errors.New("controller module not defined")
	ErrServiceControllerNotFound  = errors.New("service controller not found")
	ErrTotSDK                     = errors.New("tot endpoint inside sdk")
	ErrUnknownMethod              = errors.New("unknown method")
	ErrMethodNotFound             = errors.New("method not found")
	ErrChrootAssertion            = errors.New("chroot assertion failed")
)

// RouterError reports a dispatch failure.
type RouterError struct {
	Kind error
	Msg  string
}

func (e *RouterError) Error() string { return e.Msg }

func (e *RouterError) Unwrap() error { return e.Kind }

func routerErr(kind error, format string, args ...any) error {
	return &RouterError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Files written for a call re-executed inside the SDK.
const (
	reexecInputFile  = "input_proto"
	reexecOutputFile = "output_proto"
	reexecConfigFile = "config_proto"
)

// Environment describes the installation the router runs in.
type Environment struct {
	// Branched is set when this build_api belongs to the branched checkout.
	// A tip-of-tree install re-executes most endpoints on the branched one.
	Branched            bool
	BranchedChromiteDir string
	SourceRoot          string
	// DefaultChroot fills fields a request's Chroot leaves unset.
	DefaultChroot chroot.Chroot
	// InsideChroot reports whether the process runs inside the SDK.
	InsideChroot func() bool
}

// EnvironmentFromConfig derives the environment from configuration.
func EnvironmentFromConfig(cfg *config.Config) Environment {
	return Environment{
		Branched:            cfg.BuildAPI.Branched,
		BranchedChromiteDir: cfg.BuildAPI.BranchedChromiteDir,
		SourceRoot:          cfg.Paths.SourceRoot,
		DefaultChroot:       chroot.FromConfig(cfg),
		InsideChroot:        chroot.IsInside,
	}
}

// Router dispatches calls to registered services. Registration must finish
// before the first Route call; routing itself is safe for concurrent use.
type Router struct {
	env         Environment
	runner      services.Runner
	logger      *slog.Logger
	services    map[string]Service
	controllers map[string]Controller
}

// NewRouter returns an empty router.
func NewRouter(env Environment, runner services.Runner, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if env.InsideChroot == nil {
		env.InsideChroot = chroot.IsInside
	}
	return &Router{
		env:         env,
		runner:      runner,
		logger:      logger,
		services:    map[string]Service{},
		controllers: map[string]Controller{},
	}
}

// Register adds a service definition.
func (r *Router) Register(svc Service) error {
	if svc.Options.Module == "" {
		return routerErr(ErrControllerModuleNotDefined, "The module must be defined in the service definition: %s", svc.Name)
	}
	r.services[svc.Name] = svc
	return nil
}

// RegisterController binds the implementations for a module.
func (r *Router) RegisterController(module string, c Controller) {
	r.controllers[module] = c
}

// ListMethods returns the visible service/method names, sorted.
func (r *Router) ListMethods() []string {
	var out []string
	for name, svc := range r.services {
		if svc.Options.Visibility == Hidden {
			continue
		}
		for _, m := range svc.Methods {
			if m.Options.Visibility == Hidden {
				continue
			}
			out = append(out, name+"/"+m.Name)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Router) lookup(service, method string) (Service, Method, error) {
	svc, ok := r.services[service]
	if !ok {
		return Service{}, Method{}, routerErr(ErrUnknownService, "The %s service has not been registered.", service)
	}
	m, ok := svc.method(method)
	if !ok {
		return Service{}, Method{}, routerErr(ErrUnknownMethod, "The %s method has not been defined in the %s service.", method, service)
	}
	return svc, m, nil
}

// NewMessages returns empty request and response messages for a method.
func (r *Router) NewMessages(service, method string) (any, any, error) {
	_, m, err := r.lookup(service, method)
	if err != nil {
		return nil, nil, err
	}
	return m.NewInput(), m.NewOutput(), nil
}

// Route dispatches one call. The request is read through input; the
// response is written through every output handler.
func (r *Router) Route(ctx context.Context, service, method string, cfg Config, input *MessageHandler, outputs []*MessageHandler, configHandler *MessageHandler) (int, error) {
	svc, m, err := r.lookup(service, method)
	if err != nil {
		return ReturnCodeUnrecoverable, err
	}
	logger := r.logger.With(slog.String("service", service), slog.String("method", method), slog.String("call_type", cfg.CallType.String()))

	if cfg.MockInvalid() {
		logger.Info("mock invalid call")
		return ReturnCodeInvalidInput, nil
	}

	if r.needsBranchReexecution(svc.Options, m.Options, cfg) {
		logger.Info("re-executing the endpoint on the branched build_api")
		return r.reexecuteBranched(ctx, logger, service, method, input, outputs, configHandler)
	}

	req := m.NewInput()
	if err := input.ReadInto(req, ""); err != nil {
		return ReturnCodeUnrecoverable, err
	}
	resp := m.NewOutput()

	chrootReexec, err := r.needsChrootReexecution(svc.Options, m.Options, cfg)
	if err != nil {
		return ReturnCodeUnrecoverable, err
	}
	if chrootReexec {
		if !r.env.Branched {
			return ReturnCodeUnrecoverable, routerErr(ErrTotSDK, "Cannot run ToT %s/%s inside the SDK.", service, method)
		}
		logger.Info("re-executing the endpoint inside the chroot")
		return r.reexecuteInside(ctx, logger, service, method, req, resp, cfg, input, outputs, configHandler)
	}

	handler, err := r.implementation(svc, m)
	if err != nil {
		return ReturnCodeUnrecoverable, err
	}
	rc, err := handler(ctx, req, resp, cfg)
	if err != nil {
		return rc, err
	}
	for _, h := range outputs {
		if err := h.WriteFrom(resp, ""); err != nil {
			return ReturnCodeUnrecoverable, err
		}
	}
	return rc, nil
}

func (r *Router) implementation(svc Service, m Method) (Handler, error) {
	name := m.Name
	if m.Options.ImplementationName != "" {
		name = m.Options.ImplementationName
	}
	ctrl, ok := r.controllers[svc.Options.Module]
	if !ok {
		return nil, routerErr(ErrServiceControllerNotFound, "No controller registered for module %s.", svc.Options.Module)
	}
	h, ok := ctrl[name]
	if !ok {
		return nil, routerErr(ErrMethodNotFound, "Module %s has no implementation %s.", svc.Options.Module, name)
	}
	return h, nil
}

func (r *Router) needsBranchReexecution(svcOpts ServiceOptions, methodOpts MethodOptions, cfg Config) bool {
	if !cfg.RunEndpoint() {
		return false
	}
	exec := ExecuteBranched
	switch {
	case methodOpts.BranchedExecution != ExecutionUnset:
		exec = methodOpts.BranchedExecution
	case svcOpts.BranchedExecution != ExecutionUnset:
		exec = svcOpts.BranchedExecution
	}
	if exec == ExecuteNotSpecified || exec == ExecuteBranched {
		return !r.env.Branched
	}
	return false
}

func (r *Router) needsChrootReexecution(svcOpts ServiceOptions, methodOpts MethodOptions, cfg Config) (bool, error) {
	if !cfg.RunEndpoint() {
		return false, nil
	}
	assert := NoAssertion
	switch {
	case methodOpts.ChrootAssert != ChrootAssertUnset:
		assert = methodOpts.ChrootAssert
	case svcOpts.ChrootAssert != ChrootAssertUnset:
		assert = svcOpts.ChrootAssert
	}
	switch assert {
	case Inside:
		return !r.env.InsideChroot(), nil
	case Outside:
		if r.env.InsideChroot() {
			return false, routerErr(ErrChrootAssertion, "This endpoint must be run outside the chroot.")
		}
	}
	return false, nil
}

func (r *Router) reexecuteBranched(ctx context.Context, logger *slog.Logger, service, method string, input *MessageHandler, outputs []*MessageHandler, configHandler *MessageHandler) (int, error) {
	args := []string{
		filepath.Join(r.env.BranchedChromiteDir, "bin", "build_api"),
		service + "/" + method,
		input.InputArg, input.Path,
		"--debug",
	}
	for _, h := range outputs {
		args = append(args, h.OutputArg, h.Path)
	}
	if configHandler != nil && configHandler.Path != "" {
		args = append(args, configHandler.ConfigArg, configHandler.Path)
	}
	res, err := r.runner.Run(ctx, services.Command{Args: args})
	if err != nil {
		return ReturnCodeUnrecoverable, &RouterError{Kind: ErrCrosSDKNotRun, Msg: "Unable to execute the branched BAPI."}
	}
	logger.Info("endpoint execution completed", slog.Int("return_code", res.ExitCode))
	return res.ExitCode, nil
}

func (r *Router) reexecuteInside(ctx context.Context, logger *slog.Logger, service, method string, req, resp any, cfg Config, input *MessageHandler, outputs []*MessageHandler, configHandler *MessageHandler) (int, error) {
	if len(outputs) == 0 {
		return ReturnCodeUnrecoverable, fmt.Errorf("%w: No output file has been specified.", ErrInvalidOutputFile)
	}
	sdk, err := HandleChroot(req, r.env.DefaultChroot, true)
	if err != nil {
		return ReturnCodeUnrecoverable, err
	}
	if !sdk.Exists() {
		return ReturnCodeUnrecoverable, routerErr(ErrInvalidSDK, "Chroot does not exist.")
	}
	if err := os.MkdirAll(sdk.Tmp(), 0o777); err != nil {
		return ReturnCodeUnrecoverable, services.Wrap(services.ErrConfiguration, "buildapi", "reexec", "create chroot tmp", err)
	}
	_ = os.Chmod(sdk.Tmp(), 0o777)

	tempdir, cleanup, err := sdk.TempDir("build-api-")
	if err != nil {
		return ReturnCodeUnrecoverable, err
	}
	defer cleanup()

	restore, err := CopyPathsIn(req, sdk, logger)
	if err != nil {
		return ReturnCodeUnrecoverable, err
	}
	defer restore()

	newInput := filepath.Join(tempdir, reexecInputFile)
	newOutput := filepath.Join(tempdir, reexecOutputFile)
	newConfig := filepath.Join(tempdir, reexecConfigFile)
	chrootInput, err := sdk.ChrootPath(newInput)
	if err != nil {
		return ReturnCodeUnrecoverable, err
	}
	chrootOutput, _ := sdk.ChrootPath(newOutput)
	chrootConfig, _ := sdk.ChrootPath(newConfig)

	if configHandler == nil {
		configHandler = input
	}
	logger.Info("writing input message", slog.String("path", newInput))
	if err := input.WriteFrom(req, newInput); err != nil {
		return ReturnCodeUnrecoverable, err
	}
	if err := fileutil.Touch(newOutput); err != nil {
		return ReturnCodeUnrecoverable, err
	}
	logger.Info("writing config message", slog.String("path", newConfig))
	if err := configHandler.WriteFrom(cfg.Message(true), newConfig); err != nil {
		return ReturnCodeUnrecoverable, err
	}

	// One output is enough inside; the rest are written from it afterwards.
	outputHandler := outputs[0]
	args := []string{
		"build_api",
		service + "/" + method,
		input.InputArg, chrootInput,
		outputHandler.OutputArg, chrootOutput,
		configHandler.ConfigArg, chrootConfig,
		"--debug",
	}
	res, err := sdk.Run(ctx, r.runner, args, chroot.RunOptions{Dir: r.env.SourceRoot})
	if err != nil {
		return ReturnCodeUnrecoverable, &RouterError{Kind: ErrCrosSDKNotRun, Msg: "Unable to enter the chroot."}
	}
	logger.Info("endpoint execution completed", slog.Int("return_code", res.ExitCode))

	if err := outputHandler.ReadInto(resp, newOutput); err != nil {
		return ReturnCodeUnrecoverable, err
	}
	if err := ExtractResults(req, resp, sdk, logger); err != nil {
		return ReturnCodeUnrecoverable, err
	}
	for _, h := range outputs {
		if err := h.WriteFrom(resp, ""); err != nil {
			return ReturnCodeUnrecoverable, err
		}
	}
	return res.ExitCode, nil
}

// ReturnCodeForError maps a dispatch or endpoint error to a process exit
// code.
func ReturnCodeForError(err error) int {
	if err == nil {
		return ReturnCodeSuccess
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return ReturnCodeInvalidInput
	}
	return ReturnCodeUnrecoverable
}
