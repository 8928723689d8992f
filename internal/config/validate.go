package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateGS(); err != nil {
		return err
	}
	if err := c.validateBuildbot(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateGS() error {
	buckets := map[string]string{
		"gs.archive_bucket":          c.GS.ArchiveBucket,
		"gs.subtools_bucket":         c.GS.SubtoolsBucket,
		"gs.subtools_staging_bucket": c.GS.SubtoolsStagingBucket,
	}
	for key, value := range buckets {
		if value == "" {
			return fmt.Errorf("%s must be set", key)
		}
		if !strings.HasPrefix(value, "gs://") || len(value) == len("gs://") {
			return fmt.Errorf("%s must be a gs:// URL, got %q", key, value)
		}
	}
	return nil
}

func (c *Config) validateBuildbot() error {
	if c.Buildbot.StageTimeout < 0 {
		return errors.New("buildbot.stage_timeout must be >= 0")
	}
	if c.Buildbot.MaxParallel < 1 {
		return errors.New("buildbot.max_parallel must be >= 1")
	}
	if c.Buildbot.Buildroot == "" {
		return errors.New("buildbot.buildroot must be set")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.NATSURL != "" && !strings.Contains(c.Notifications.NATSURL, "://") {
		return fmt.Errorf("notifications.nats_url must include a scheme, got %q", c.Notifications.NATSURL)
	}
	if strings.ContainsAny(c.Notifications.NATSSubject, " \t") {
		return fmt.Errorf("notifications.nats_subject must not contain whitespace, got %q", c.Notifications.NATSSubject)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
