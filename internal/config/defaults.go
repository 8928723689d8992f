package config

const (
	defaultSourceRoot            = "~/chromiumos"
	defaultCacheDir              = "~/.cache/chromite"
	defaultStateDir              = "~/.local/share/chromite"
	defaultLogDir                = "~/.local/share/chromite/logs"
	defaultArchiveBucket         = "gs://chromeos-image-archive"
	defaultSubtoolsBucket        = "gs://chromeos-sdk-subtools"
	defaultSubtoolsStagingBucket = "gs://staging-chromeos-sdk-subtools"
	defaultGSRequestTimeout      = 300
	defaultBuildAPIBinary        = "build_api"
	defaultBuildroot             = "~/cbuild"
	defaultStageTimeout          = 4 * 60 * 60
	defaultMaxParallel           = 4
	defaultNotifyTimeout         = 10
	defaultNATSSubject           = "chromite.builds"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
)

// Default returns a Config populated with repository defaults. Source root
// derived paths are filled in during normalization so that CHROMITE_SOURCE_ROOT
// and an explicit source_root both propagate.
func Default() Config {
	return Config{
		Paths: Paths{
			CacheDir: defaultCacheDir,
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		GS: GS{
			ArchiveBucket:         defaultArchiveBucket,
			SubtoolsBucket:        defaultSubtoolsBucket,
			SubtoolsStagingBucket: defaultSubtoolsStagingBucket,
			RequestTimeout:        defaultGSRequestTimeout,
		},
		BuildAPI: BuildAPI{
			Branched: true,
			Binary:   defaultBuildAPIBinary,
		},
		Buildbot: Buildbot{
			Buildroot:    defaultBuildroot,
			StageTimeout: defaultStageTimeout,
			MaxParallel:  defaultMaxParallel,
		},
		Notifications: Notifications{
			RequestTimeout:  defaultNotifyTimeout,
			NATSSubject:     defaultNATSSubject,
			StageFailures:   true,
			BuildCompletion: true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
