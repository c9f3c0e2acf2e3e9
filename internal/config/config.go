package config

import (
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/sfml-ci/sfboot/internal/env"
)

// DefaultFile is looked up in the current directory when no file is given.
const DefaultFile = "sfboot.toml"

// Config describes all configuration options
type Config struct {
	WorkDir string `env:"WORKDIR" toml:"workdir" usage:"Directory for downloads, sources and the build cache"`
	Staging string `usage:"Staging dir the archives are installed into (default <workdir>/staging)"`
	Project string `default:"." usage:"Directory of the dependent project"`
	Plan    string `usage:"Plan file (default: embedded plan)"`
	DryRun  bool   `env:"DRYRUN" toml:"dryrun" usage:"Log commands without running them"`
	Log     struct {
		Level string `default:"info"`
		JSON  bool   `default:"false" usage:"Output JSON lines instead of pretty console messages"`
	}
	HTTP struct {
		Timeout  time.Duration `default:"10m" usage:"Timeout of a single download"`
		CABundle string        `env:"CABUNDLE" toml:"cabundle" usage:"Extra PEM bundle to trust in addition to the system roots"`
	}
	Publish struct {
		Enabled   bool   `default:"false"`
		Endpoint  string `usage:"S3 endpoint host[:port], without scheme"`
		AccessKey string `env:"ACCESSKEY" toml:"accesskey"`
		SecretKey string `env:"SECRETKEY" toml:"secretkey"`
		Region    string
		Bucket    string
		UseSSL    bool   `env:"USESSL" toml:"usessl" default:"true"`
		Prefix    string `default:"sfboot" usage:"Object key prefix"`
	}
}

var logLevels = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
}

// Loader initializes an empty config object and returns a new Loader for this object.
// Flags are left to the command line layer.
func Loader(files ...string) (*Config, *aconfig.Loader) {
	if len(files) == 0 {
		files = []string{DefaultFile}
	}
	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags: true,
		EnvPrefix: "SFBOOT",
		Files:     files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Load reads defaults, files and the environment, in that order.
func Load(files ...string) (*Config, error) {
	cfg, loader := Loader(files...)
	if err := loader.Load(); err != nil {
		return nil, eris.Wrap(err, "failed to load configuration")
	}
	return cfg, nil
}

// Resolve fills in the directories derived from others and makes them absolute.
func (cfg *Config) Resolve() error {
	if cfg.WorkDir == "" {
		dir, err := env.WorkDir()
		if err != nil {
			return eris.Wrap(err, "failed to determine work dir")
		}
		cfg.WorkDir = dir
	}
	if cfg.Staging == "" {
		cfg.Staging = env.StagingDir(cfg.WorkDir)
	}
	for _, p := range []*string{&cfg.WorkDir, &cfg.Staging, &cfg.Project} {
		abs, err := filepath.Abs(*p)
		if err != nil {
			return eris.Wrapf(err, "invalid path %s", *p)
		}
		*p = abs
	}
	return nil
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	if _, ok := logLevels[cfg.Log.Level]; !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}
	if cfg.HTTP.Timeout <= 0 {
		return eris.Errorf(`Invalid value for http.timeout: %s`, cfg.HTTP.Timeout)
	}
	if cfg.Staging != "" && cfg.Project != "" {
		staging, _ := filepath.Abs(cfg.Staging)
		project, _ := filepath.Abs(cfg.Project)
		if staging == project {
			return eris.New(`staging must not be the project dir`)
		}
	}
	if cfg.Publish.Enabled {
		if cfg.Publish.Endpoint == "" || cfg.Publish.Bucket == "" {
			return eris.New(`publish.endpoint and publish.bucket are required when publishing`)
		}
		if strings.Contains(cfg.Publish.Endpoint, "://") {
			return eris.Errorf(`Invalid value for publish.endpoint: %s (no scheme, use publish.usessl)`, cfg.Publish.Endpoint)
		}
		if _, err := url.Parse("https://" + cfg.Publish.Endpoint); err != nil {
			return eris.Wrapf(err, `Invalid value for publish.endpoint`)
		}
	}
	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}
