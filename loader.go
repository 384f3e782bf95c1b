package beacon

import (
	"os"
	"path/filepath"
	"strings"

	smerrors "github.com/Station-Manager/errors"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Option is an explicit argument applied on top of every other config layer.
type Option func(*loadOptions)

type loadOptions struct {
	base       *LogConfig
	configFile string
	overrides  []func(*LogConfig)
}

// WithConfig uses cfg as the complete configuration. File and environment
// layers are skipped; other options still apply on top.
func WithConfig(cfg *LogConfig) Option {
	return func(o *loadOptions) { o.base = cfg }
}

// WithConfigFile loads a YAML file between the defaults and the environment.
func WithConfigFile(path string) Option {
	return func(o *loadOptions) { o.configFile = path }
}

// WithName sets the logger name.
func WithName(name string) Option {
	return override(func(c *LogConfig) { c.Name = name })
}

// WithLevel sets the logger level.
func WithLevel(level Level) Option {
	return override(func(c *LogConfig) { c.Level = level })
}

// WithFormat sets the default output format for all handlers.
func WithFormat(format Format) Option {
	return override(func(c *LogConfig) { c.Format = format })
}

// WithDebug selects DEBUG when true and INFO otherwise.
func WithDebug(debug bool) Option {
	return override(func(c *LogConfig) {
		if debug {
			c.Level = LevelDebug
		} else {
			c.Level = LevelInfo
		}
	})
}

// WithLogDir enables the file handler writing into dir.
func WithLogDir(dir string) Option {
	return override(func(c *LogConfig) {
		c.File.Enabled = true
		c.File.Directory = dir
	})
}

// WithConsole toggles the console handler.
func WithConsole(enabled bool) Option {
	return override(func(c *LogConfig) { c.Console.Enabled = enabled })
}

// WithModifier applies an arbitrary change to the resolved config.
func WithModifier(fn func(*LogConfig)) Option {
	return override(fn)
}

func override(fn func(*LogConfig)) Option {
	return func(o *loadOptions) { o.overrides = append(o.overrides, fn) }
}

// NewConfig builds a validated config from the defaults and explicit options
// only. The environment is not consulted.
func NewConfig(opts ...Option) (*LogConfig, error) {
	o := collect(opts)
	cfg := o.base.Clone()
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return finish(cfg, o)
}

// LoadConfig resolves a config with the precedence, lowest first: defaults,
// YAML config file, BEACON_LOG_* environment variables, explicit options.
func LoadConfig(opts ...Option) (*LogConfig, error) {
	const op smerrors.Op = "beacon.LoadConfig"
	o := collect(opts)
	if o.base != nil {
		return finish(o.base.Clone(), o)
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, smerrors.New(op).Err(err).Msg(errMsgLoadConfig)
	}

	path := o.configFile
	if path == emptyString {
		path = os.Getenv(EnvLogConfig)
	}
	if path != emptyString {
		if err := k.Load(file.Provider(filepath.Clean(path)), yaml.Parser()); err != nil {
			return nil, smerrors.New(op).Err(err).Msg(errMsgLoadConfig)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, smerrors.New(op).Err(err).Msg(errMsgLoadConfig)
	}
	if dir, ok := os.LookupEnv(EnvLogDir); ok && dir != emptyString {
		if err := k.Set("file.enabled", true); err != nil {
			return nil, smerrors.New(op).Err(err).Msg(errMsgLoadConfig)
		}
	}

	cfg := &LogConfig{}
	if err := k.Unmarshal(emptyString, cfg); err != nil {
		return nil, smerrors.New(op).Err(err).Msg(errMsgLoadConfig)
	}
	return finish(cfg, o)
}

// ConfigFromMap builds a validated config from a nested map laid out like
// the YAML file, e.g. {"level": "debug", "file": {"directory": "/var/log"}}.
func ConfigFromMap(m map[string]any) (*LogConfig, error) {
	const op smerrors.Op = "beacon.ConfigFromMap"
	k := koanf.New(".")
	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, smerrors.New(op).Err(err).Msg(errMsgLoadConfig)
	}
	if err := k.Load(confmap.Provider(m, "."), nil); err != nil {
		return nil, smerrors.New(op).Err(err).Msg(errMsgLoadConfig)
	}
	cfg := &LogConfig{}
	if err := k.Unmarshal(emptyString, cfg); err != nil {
		return nil, smerrors.New(op).Err(err).Msg(errMsgLoadConfig)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envTransformFunc maps BEACON_LOG_* variables onto config paths. Unknown
// variables are ignored.
func envTransformFunc(key string) string {
	switch strings.TrimPrefix(key, envPrefix) {
	case "LEVEL":
		return "level"
	case "FORMAT":
		return "format"
	case "NAME":
		return "name"
	case "DIR":
		return "file.directory"
	default:
		return emptyString
	}
}

func collect(opts []Option) *loadOptions {
	o := &loadOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

func finish(cfg *LogConfig, o *loadOptions) (*LogConfig, error) {
	for _, fn := range o.overrides {
		fn(cfg)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
