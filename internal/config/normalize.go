package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeGS(); err != nil {
		return err
	}
	if err := c.normalizeBuildAPI(); err != nil {
		return err
	}
	if err := c.normalizeBuildbot(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if strings.TrimSpace(c.Paths.SourceRoot) == "" {
		if value, ok := os.LookupEnv("CHROMITE_SOURCE_ROOT"); ok && strings.TrimSpace(value) != "" {
			c.Paths.SourceRoot = value
		} else {
			c.Paths.SourceRoot = defaultSourceRoot
		}
	}
	var err error
	if c.Paths.SourceRoot, err = expandPath(c.Paths.SourceRoot); err != nil {
		return fmt.Errorf("paths.source_root: %w", err)
	}
	if strings.TrimSpace(c.Paths.ChrootPath) == "" {
		c.Paths.ChrootPath = filepath.Join(c.Paths.SourceRoot, "chroot")
	}
	if c.Paths.ChrootPath, err = expandPath(c.Paths.ChrootPath); err != nil {
		return fmt.Errorf("paths.chroot_path: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutPath) == "" {
		c.Paths.OutPath = filepath.Join(c.Paths.SourceRoot, "out")
	}
	if c.Paths.OutPath, err = expandPath(c.Paths.OutPath); err != nil {
		return fmt.Errorf("paths.out_path: %w", err)
	}
	if c.Paths.CacheDir, err = expandPath(c.Paths.CacheDir); err != nil {
		return fmt.Errorf("paths.cache_dir: %w", err)
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeGS() error {
	if c.GS.CredentialsFile == "" {
		if value, ok := os.LookupEnv("GOOGLE_APPLICATION_CREDENTIALS"); ok {
			c.GS.CredentialsFile = value
		}
	}
	var err error
	if c.GS.CredentialsFile, err = expandPath(strings.TrimSpace(c.GS.CredentialsFile)); err != nil {
		return fmt.Errorf("gs.credentials_file: %w", err)
	}
	c.GS.ArchiveBucket = strings.TrimRight(strings.TrimSpace(c.GS.ArchiveBucket), "/")
	c.GS.SubtoolsBucket = strings.TrimRight(strings.TrimSpace(c.GS.SubtoolsBucket), "/")
	c.GS.SubtoolsStagingBucket = strings.TrimRight(strings.TrimSpace(c.GS.SubtoolsStagingBucket), "/")
	if c.GS.RequestTimeout <= 0 {
		c.GS.RequestTimeout = defaultGSRequestTimeout
	}
	return nil
}

func (c *Config) normalizeBuildAPI() error {
	if strings.TrimSpace(c.BuildAPI.BranchedChromiteDir) == "" {
		c.BuildAPI.BranchedChromiteDir = filepath.Join(c.Paths.SourceRoot, "chromite")
	}
	var err error
	if c.BuildAPI.BranchedChromiteDir, err = expandPath(c.BuildAPI.BranchedChromiteDir); err != nil {
		return fmt.Errorf("build_api.branched_chromite_dir: %w", err)
	}
	if c.BuildAPI.SocketPath, err = expandPath(strings.TrimSpace(c.BuildAPI.SocketPath)); err != nil {
		return fmt.Errorf("build_api.socket_path: %w", err)
	}
	c.BuildAPI.Binary = strings.TrimSpace(c.BuildAPI.Binary)
	return nil
}

func (c *Config) normalizeBuildbot() error {
	var err error
	if c.Buildbot.Buildroot, err = expandPath(strings.TrimSpace(c.Buildbot.Buildroot)); err != nil {
		return fmt.Errorf("buildbot.buildroot: %w", err)
	}
	if c.Buildbot.SiteConfig, err = expandPath(strings.TrimSpace(c.Buildbot.SiteConfig)); err != nil {
		return fmt.Errorf("buildbot.site_config: %w", err)
	}
	c.Buildbot.MetricsAddr = strings.TrimSpace(c.Buildbot.MetricsAddr)
	if c.Buildbot.MaxParallel == 0 {
		c.Buildbot.MaxParallel = defaultMaxParallel
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	c.Notifications.NATSURL = strings.TrimSpace(c.Notifications.NATSURL)
	c.Notifications.NATSSubject = strings.TrimSpace(c.Notifications.NATSSubject)
	if c.Notifications.NATSSubject == "" {
		c.Notifications.NATSSubject = defaultNATSSubject
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
