package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"chromite/internal/buildapi"
	"chromite/internal/buildapi/controller"
	"chromite/internal/config"
	"chromite/internal/gs"
	"chromite/internal/logging"
	"chromite/internal/services"
)

type app struct {
	configPath string
	debug      bool
	inv        buildapi.Invocation

	// runner replaces the exec runner when set.
	runner services.Runner
	// storage replaces Cloud Storage when set.
	storage gs.Storage

	rc int
}

// exitCode maps the call outcome to the process status. Errors raised before
// routing have no return code of their own.
func (a *app) exitCode(err error) int {
	if a.rc != buildapi.ReturnCodeSuccess {
		return a.rc
	}
	if err != nil {
		return buildapi.ReturnCodeUnrecoverable
	}
	return buildapi.ReturnCodeSuccess
}

func newRootCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "build_api <service/method>",
		Short:         "Call a Build API endpoint",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.inv.ServiceMethod = args[0]
			return a.run(cmd)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&a.inv.InputJSON, "input-json", "", "Request message as JSON")
	flags.StringVar(&a.inv.InputBinary, "input-binary", "", "Request message as binary")
	flags.StringVar(&a.inv.OutputJSON, "output-json", "", "Write the response as JSON")
	flags.StringVar(&a.inv.OutputBinary, "output-binary", "", "Write the response as binary")
	flags.StringVar(&a.inv.ConfigJSON, "config-json", "", "Call configuration as JSON")
	flags.StringVar(&a.inv.ConfigBinary, "config-binary", "", "Call configuration as binary")
	flags.StringVarP(&a.configPath, "config", "c", "", "Configuration file path")
	flags.BoolVar(&a.debug, "debug", false, "Enable debug logging")
	return cmd
}

func (a *app) run(cmd *cobra.Command) error {
	cfg, _, _, err := config.Load(strings.TrimSpace(a.configPath))
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	if a.debug {
		cfg.Logging.Level = "debug"
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return err
	}
	logger = logging.NewComponentLogger(logger, "build_api")

	runner := a.runner
	if runner == nil {
		runner = services.NewExecRunner(logger)
	}
	opener := &gs.Opener{
		CredentialsFile: cfg.GS.CredentialsFile,
		DryRun:          cfg.GS.DryRun,
		RequestTimeout:  cfg.GSRequestTimeout(),
		Logger:          logger,
	}
	defer opener.Close()
	openGS := opener.Open
	if a.storage != nil {
		openGS = func(context.Context) (*gs.Context, error) {
			return gs.NewContext(a.storage, cfg.GS.DryRun, cfg.GSRequestTimeout(), logger), nil
		}
	}

	router, err := controller.NewRouter(controller.Deps{
		Config: cfg,
		Runner: runner,
		OpenGS: openGS,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	rc, err := buildapi.Invoke(cmd.Context(), router, a.inv)
	a.rc = rc
	if err != nil {
		logging.ErrorWithContext(logger, "build api call failed", "build_api_call_failed",
			logging.String("method", a.inv.ServiceMethod),
			logging.Int("return_code", rc),
			logging.Error(err))
	}
	return err
}
