package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"chromite/internal/buildapi"
	"chromite/internal/buildapi/controller"
	"chromite/internal/config"
	"chromite/internal/gs"
	"chromite/internal/logging"
	"chromite/internal/services"
)

type commandContext struct {
	configFlag *string
	debugFlag  *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error

	// runner and storage replace the exec runner and Cloud Storage when set.
	runner  services.Runner
	storage gs.Storage

	openerOnce sync.Once
	opener     *gs.Opener
}

func newCommandContext(configFlag *string, debugFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		debugFlag:  debugFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		if c.debugFlag != nil && *c.debugFlag {
			cfg.Logging.Level = "debug"
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		c.logger, c.loggerErr = logging.NewFromConfig(cfg)
	})
	return c.logger, c.loggerErr
}

func (c *commandContext) commandRunner(logger *slog.Logger) services.Runner {
	if c.runner != nil {
		return c.runner
	}
	return services.NewExecRunner(logger)
}

// openGS returns a storage context for the configured buckets. The Cloud
// Storage client is created on first use and shared afterwards.
func (c *commandContext) openGS(ctx context.Context) (*gs.Context, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, err
	}
	if c.storage != nil {
		return gs.NewContext(c.storage, cfg.GS.DryRun, cfg.GSRequestTimeout(), logger), nil
	}
	c.openerOnce.Do(func() {
		c.opener = &gs.Opener{
			CredentialsFile: cfg.GS.CredentialsFile,
			DryRun:          cfg.GS.DryRun,
			RequestTimeout:  cfg.GSRequestTimeout(),
			Logger:          logger,
		}
	})
	return c.opener.Open(ctx)
}

func (c *commandContext) newRouter() (*buildapi.Router, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, err
	}
	return controller.NewRouter(controller.Deps{
		Config: cfg,
		Runner: c.commandRunner(logger),
		OpenGS: c.openGS,
		Logger: logger,
	})
}

// close releases the shared storage client.
func (c *commandContext) close() error {
	if c.opener == nil {
		return nil
	}
	return c.opener.Close()
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
