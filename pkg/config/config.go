package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/paulschiretz/pgl-mirror/pkg/buildinfo"
	"github.com/paulschiretz/pgl-mirror/pkg/pathmirror"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// ConfigFileName is the name of the configuration file looked up in the
// working directory when no explicit file is given.
const ConfigFileName = "pgl-mirror.yaml"

// EnvPrefix prefixes every environment variable that overrides a config key,
// e.g. PGL_MIRROR_ENGINE_WORKERS.
const EnvPrefix = "PGL_MIRROR"

// ErrConfigExists is returned by Generate when it would overwrite a file.
var ErrConfigExists = errors.New("configuration file already exists")

// EngineConfig tunes the comparison walk and the executor.
type EngineConfig struct {
	Workers       int           `yaml:"workers" mapstructure:"workers"`
	TaskTimeout   time.Duration `yaml:"taskTimeout" mapstructure:"taskTimeout"`
	RetryCount    int           `yaml:"retryCount" mapstructure:"retryCount"`
	RetryWait     time.Duration `yaml:"retryWait" mapstructure:"retryWait"`
	ModTimeWindow time.Duration `yaml:"modTimeWindow" mapstructure:"modTimeWindow"`
	BufferSizeKB  int           `yaml:"bufferSizeKB" mapstructure:"bufferSizeKB"`
}

// Config is the complete configuration of one mirror run.
type Config struct {
	Version string `yaml:"version" mapstructure:"version"`

	Source string `yaml:"source" mapstructure:"source"`
	Target string `yaml:"target" mapstructure:"target"`
	// PreserveSourceDirName mirrors into target/<basename of source>
	// instead of into target itself.
	PreserveSourceDirName bool `yaml:"preserveSourceDirName" mapstructure:"preserveSourceDirName"`

	DryRun       bool   `yaml:"dryRun" mapstructure:"dryRun"`
	LogLevel     string `yaml:"logLevel" mapstructure:"logLevel"`
	LogFile      string `yaml:"logFile" mapstructure:"logFile"`
	Quiet        bool   `yaml:"quiet" mapstructure:"quiet"`
	FailOnErrors bool   `yaml:"failOnErrors" mapstructure:"failOnErrors"`
	Metrics      bool   `yaml:"metrics" mapstructure:"metrics"`
	Manifest     string `yaml:"manifest" mapstructure:"manifest"`

	Engine EngineConfig `yaml:"engine" mapstructure:"engine"`
}

// NewDefault returns a Config with every setting at its default value.
func NewDefault() Config {
	return Config{
		Version:               buildinfo.Version,
		PreserveSourceDirName: true,
		LogLevel:              "info",
		Metrics:               true,
		Engine: EngineConfig{
			Workers:       pathmirror.DefaultWorkers,
			TaskTimeout:   pathmirror.DefaultTaskTimeout,
			RetryCount:    3,
			RetryWait:     time.Second,
			ModTimeWindow: 0, // exact
			BufferSizeKB:  pathmirror.DefaultBufferSize / 1024,
		},
	}
}

// NewViper returns a viper instance that knows every config key, reads
// overrides from PGL_MIRROR_* environment variables and falls back to the
// values of NewDefault.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := NewDefault()
	v.SetDefault("version", d.Version)
	v.SetDefault("source", d.Source)
	v.SetDefault("target", d.Target)
	v.SetDefault("preserveSourceDirName", d.PreserveSourceDirName)
	v.SetDefault("dryRun", d.DryRun)
	v.SetDefault("logLevel", d.LogLevel)
	v.SetDefault("logFile", d.LogFile)
	v.SetDefault("quiet", d.Quiet)
	v.SetDefault("failOnErrors", d.FailOnErrors)
	v.SetDefault("metrics", d.Metrics)
	v.SetDefault("manifest", d.Manifest)
	v.SetDefault("engine.workers", d.Engine.Workers)
	v.SetDefault("engine.taskTimeout", d.Engine.TaskTimeout)
	v.SetDefault("engine.retryCount", d.Engine.RetryCount)
	v.SetDefault("engine.retryWait", d.Engine.RetryWait)
	v.SetDefault("engine.modTimeWindow", d.Engine.ModTimeWindow)
	v.SetDefault("engine.bufferSizeKB", d.Engine.BufferSizeKB)
	return v
}

// Load reads the configuration into a Config. configFile names an explicit
// YAML file, which must exist. When it is empty, ConfigFileName is looked up
// in the working directory and a missing file is not an error.
func Load(v *viper.Viper, configFile string) (Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(strings.TrimSuffix(ConfigFileName, filepath.Ext(ConfigFileName)))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		plog.Info("Loading configuration", "path", v.ConfigFileUsed())
	}

	return Decode(v)
}

// Decode builds a Config from the values v already holds, without reading a
// configuration file.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing configuration: %w", err)
	}

	// NOTE: if cfg.Version differs from the running version a migration step goes here.
	cfg.Version = buildinfo.Version
	return cfg, nil
}

// Generate writes cfg as YAML to path. An existing file is only replaced
// when force is set.
func Generate(path string, cfg Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}
	if err := os.WriteFile(path, data, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	plog.Info("Successfully saved config file", "path", path)
	return nil
}

// Validate checks the configuration and canonicalizes the source and target
// paths. With checkSource set, the source must exist.
func (c *Config) Validate(checkSource bool) error {
	// --- Strict Path Validation (Fail-Fast) ---
	if c.Source == "" {
		return fmt.Errorf("source path cannot be empty")
	}
	if c.Target == "" {
		return fmt.Errorf("target path cannot be empty")
	}

	var err error
	if c.Source, err = canonicalPath(c.Source); err != nil {
		return fmt.Errorf("invalid source path: %w", err)
	}
	if c.Target, err = canonicalPath(c.Target); err != nil {
		return fmt.Errorf("invalid target path: %w", err)
	}

	if checkSource {
		if _, err := os.Stat(c.Source); os.IsNotExist(err) {
			return fmt.Errorf("source path '%s' does not exist", c.Source)
		}
	}

	if c.PreserveSourceDirName && filepath.Dir(c.Source) == c.Source {
		return fmt.Errorf("preserveSourceDirName cannot be used with a filesystem root as source")
	}

	// Files written during the run must stay outside both trees, or the next
	// run would copy or remove them.
	if c.Manifest != "" {
		if c.Manifest, err = canonicalPath(c.Manifest); err != nil {
			return fmt.Errorf("invalid manifest path: %w", err)
		}
		if util.IsSubPath(c.Source, c.Manifest) || util.IsSubPath(c.TargetRoot(), c.Manifest) {
			return fmt.Errorf("manifest %s must not lie inside the source or the target", c.Manifest)
		}
	}
	if c.LogFile != "" {
		if c.LogFile, err = canonicalPath(c.LogFile); err != nil {
			return fmt.Errorf("invalid log file path: %w", err)
		}
		if util.IsSubPath(c.Source, c.LogFile) || util.IsSubPath(c.TargetRoot(), c.LogFile) {
			return fmt.Errorf("log file %s must not lie inside the source or the target", c.LogFile)
		}
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "notice", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logLevel %q: must be one of debug, notice, info, warn, error", c.LogLevel)
	}

	// --- Validate Engine Settings ---
	if c.Engine.Workers < 1 {
		return fmt.Errorf("engine.workers must be at least 1")
	}
	if c.Engine.TaskTimeout <= 0 {
		return fmt.Errorf("engine.taskTimeout must be greater than 0")
	}
	if c.Engine.RetryCount < 0 {
		return fmt.Errorf("engine.retryCount cannot be negative")
	}
	if c.Engine.RetryWait < 0 {
		return fmt.Errorf("engine.retryWait cannot be negative")
	}
	if c.Engine.ModTimeWindow < 0 {
		return fmt.Errorf("engine.modTimeWindow cannot be negative")
	}
	if c.Engine.BufferSizeKB <= 0 {
		return fmt.Errorf("engine.bufferSizeKB must be greater than 0")
	}
	return nil
}

func canonicalPath(path string) (string, error) {
	expanded, err := util.ExpandPath(path)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("could not determine absolute path for %s: %w", expanded, err)
	}
	return abs, nil
}

// TargetRoot returns the directory that is made to mirror the source.
func (c *Config) TargetRoot() string {
	if c.PreserveSourceDirName {
		return filepath.Join(c.Target, filepath.Base(c.Source))
	}
	return c.Target
}

// MirrorPlan translates the engine settings into a mirror plan.
func (c *Config) MirrorPlan() *pathmirror.Plan {
	p := pathmirror.NewPlan()
	p.Workers = c.Engine.Workers
	p.TaskTimeout = c.Engine.TaskTimeout
	p.RetryCount = c.Engine.RetryCount
	p.RetryWait = c.Engine.RetryWait
	p.ModTimeWindow = c.Engine.ModTimeWindow
	p.BufferSize = int64(c.Engine.BufferSizeKB) * 1024
	p.DryRun = c.DryRun
	p.Metrics = c.Metrics
	return p
}

// LogSummary prints a user-friendly summary of the configuration.
func (c *Config) LogSummary() {
	logArgs := []any{
		"log_level", c.LogLevel,
		"source", c.Source,
		"target", c.TargetRoot(),
		"dry_run", c.DryRun,
		"workers", c.Engine.Workers,
		"task_timeout", c.Engine.TaskTimeout,
		"retry", fmt.Sprintf("%d x %s", c.Engine.RetryCount, c.Engine.RetryWait),
		"mod_time_window", c.Engine.ModTimeWindow,
		"buffer_size_kb", c.Engine.BufferSizeKB,
		"metrics", c.Metrics,
	}
	if c.LogFile != "" {
		logArgs = append(logArgs, "log_file", c.LogFile)
	}
	if c.Manifest != "" {
		logArgs = append(logArgs, "manifest", c.Manifest)
	}
	if c.FailOnErrors {
		logArgs = append(logArgs, "fail_on_errors", true)
	}
	plog.Info("Configuration loaded", logArgs...)
}
