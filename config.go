package beacon

import (
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// LogConfig is the complete configuration for one named logger.
type LogConfig struct {
	Level  Level  `koanf:"level" validate:"oneof=DEBUG INFO WARNING ERROR CRITICAL"`
	Format Format `koanf:"format" validate:"oneof=text json structured"`
	Name   string `koanf:"name"`

	Console     ConsoleConfig         `koanf:"console"`
	File        FileHandlerConfig     `koanf:"file"`
	Performance PerformanceConfig     `koanf:"performance"`
	Request     RequestLoggingConfig  `koanf:"request"`
	Training    TrainingLoggingConfig `koanf:"training"`

	IncludeTimestamp bool `koanf:"include_timestamp"`
	IncludeCaller    bool `koanf:"include_caller"`
	CallerSkipFrames int  `koanf:"caller_skip_frames" validate:"gte=0"`

	// MaxLogRate caps DEBUG, INFO and WARNING records per second. Zero
	// disables sampling. ERROR and CRITICAL are never dropped.
	MaxLogRate int `koanf:"max_log_rate" validate:"gte=0"`

	// ShutdownTimeout bounds how long Close waits for in-flight events.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gte=0"`

	// ExtraFields are attached to every record of the logger.
	ExtraFields map[string]any `koanf:"extra_fields"`
}

// ConsoleConfig configures the console handler.
type ConsoleConfig struct {
	Enabled bool `koanf:"enabled"`
	// Level and Format fall back to the logger's when empty.
	Level  Level  `koanf:"level" validate:"omitempty,oneof=DEBUG INFO WARNING ERROR CRITICAL"`
	Format Format `koanf:"format" validate:"omitempty,oneof=text json structured"`
	// Stream is stdout, stderr, or auto (ERROR and above go to stderr).
	Stream string `koanf:"stream" validate:"oneof=stdout stderr auto"`
	// Color is auto, always or never. auto colors only terminals.
	Color string `koanf:"color" validate:"oneof=auto always never"`
}

// FileHandlerConfig configures the rotating file handler.
type FileHandlerConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Directory string `koanf:"directory"`
	// Filename defaults to <logger name>.log inside Directory.
	Filename string `koanf:"filename"`
	Level    Level  `koanf:"level" validate:"omitempty,oneof=DEBUG INFO WARNING ERROR CRITICAL"`
	Format   Format `koanf:"format" validate:"omitempty,oneof=text json structured"`

	MaxBytes    int64 `koanf:"max_bytes" validate:"gt=0"`
	BackupCount int   `koanf:"backup_count" validate:"gte=0"`
	MaxAgeDays  int   `koanf:"max_age_days" validate:"gte=0"`
	Compress    bool  `koanf:"compress"`

	// When enables time based rotation: s, m, h, d or midnight.
	When     string `koanf:"when" validate:"omitempty,oneof=s m h d midnight"`
	Interval int    `koanf:"interval" validate:"gte=0"`
}

// PerformanceConfig configures the performance tracker.
type PerformanceConfig struct {
	Enabled         bool    `koanf:"enabled"`
	TrackMemory     bool    `koanf:"track_memory"`
	TrackCPU        bool    `koanf:"track_cpu"`
	TrackDisk       bool    `koanf:"track_disk"`
	TrackNetwork    bool    `koanf:"track_network"`
	IntervalSeconds float64 `koanf:"interval_seconds" validate:"gte=0"`
	// ThresholdMS suppresses entries for operations faster than this.
	ThresholdMS float64 `koanf:"threshold_ms" validate:"gte=0"`
}

// RequestLoggingConfig configures the HTTP request logger.
type RequestLoggingConfig struct {
	Enabled          bool     `koanf:"enabled"`
	LogHeaders       bool     `koanf:"log_headers"`
	LogBody          bool     `koanf:"log_body"`
	LogQueryParams   bool     `koanf:"log_query_params"`
	LogResponseTime  bool     `koanf:"log_response_time"`
	LogStatusCodes   bool     `koanf:"log_status_codes"`
	SensitiveHeaders []string `koanf:"sensitive_headers"`
}

// TrainingLoggingConfig configures the training event logger.
type TrainingLoggingConfig struct {
	Enabled            bool `koanf:"enabled"`
	LogMetrics         bool `koanf:"log_metrics"`
	LogCheckpoints     bool `koanf:"log_checkpoints"`
	LogValidation      bool `koanf:"log_validation"`
	LogHyperparameters bool `koanf:"log_hyperparameters"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *LogConfig {
	return &LogConfig{
		Level:  LevelInfo,
		Format: FormatText,
		Name:   DefaultName,
		Console: ConsoleConfig{
			Enabled: true,
			Stream:  "stdout",
			Color:   "auto",
		},
		File: FileHandlerConfig{
			Enabled:     false,
			MaxBytes:    10 * megabyte,
			BackupCount: 5,
		},
		Performance: PerformanceConfig{
			Enabled:         true,
			TrackMemory:     true,
			TrackCPU:        true,
			IntervalSeconds: 60,
		},
		Request: RequestLoggingConfig{
			Enabled:          true,
			LogQueryParams:   true,
			LogResponseTime:  true,
			LogStatusCodes:   true,
			SensitiveHeaders: []string{"authorization", "cookie"},
		},
		Training: TrainingLoggingConfig{
			Enabled:            true,
			LogMetrics:         true,
			LogCheckpoints:     true,
			LogValidation:      true,
			LogHyperparameters: true,
		},
		IncludeTimestamp: true,
		CallerSkipFrames: 3,
		ShutdownTimeout:  time.Second,
	}
}

// Clone returns a deep copy of the configuration.
func (c *LogConfig) Clone() *LogConfig {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Request.SensitiveHeaders = slices.Clone(c.Request.SensitiveHeaders)
	cp.ExtraFields = maps.Clone(c.ExtraFields)
	return &cp
}

// normalize canonicalises enum spellings before validation.
func (c *LogConfig) normalize() {
	c.Level = normalizeLevel(c.Level)
	c.Format = normalizeFormat(c.Format)
	if c.Console.Level != emptyLevel {
		c.Console.Level = normalizeLevel(c.Console.Level)
	}
	if c.Console.Format != emptyFormat {
		c.Console.Format = normalizeFormat(c.Console.Format)
	}
	c.Console.Stream = strings.ToLower(strings.TrimSpace(c.Console.Stream))
	c.Console.Color = strings.ToLower(strings.TrimSpace(c.Console.Color))
	if c.File.Level != emptyLevel {
		c.File.Level = normalizeLevel(c.File.Level)
	}
	if c.File.Format != emptyFormat {
		c.File.Format = normalizeFormat(c.File.Format)
	}
	c.File.When = strings.ToLower(strings.TrimSpace(c.File.When))
	for i, h := range c.Request.SensitiveHeaders {
		c.Request.SensitiveHeaders[i] = strings.ToLower(h)
	}
}

func (c *LogConfig) loggerName() string {
	if c.Name == emptyString {
		return DefaultName
	}
	return c.Name
}

func (c *LogConfig) consoleLevel() Level {
	if c.Console.Level == emptyLevel {
		return c.Level
	}
	return c.Console.Level
}

func (c *LogConfig) consoleFormat() Format {
	if c.Console.Format == emptyFormat {
		return c.Format
	}
	return c.Console.Format
}

func (c *LogConfig) fileLevel() Level {
	if c.File.Level == emptyLevel {
		return c.Level
	}
	return c.File.Level
}

func (c *LogConfig) fileFormat() Format {
	if c.File.Format == emptyFormat {
		return c.Format
	}
	return c.File.Format
}

// filePath resolves the log file for this config, or "" when none can be
// derived.
func (c *LogConfig) filePath() string {
	switch {
	case c.File.Filename != emptyString && filepath.IsAbs(c.File.Filename):
		return c.File.Filename
	case c.File.Filename != emptyString && c.File.Directory != emptyString:
		return filepath.Join(c.File.Directory, c.File.Filename)
	case c.File.Filename != emptyString:
		return c.File.Filename
	case c.File.Directory != emptyString:
		return filepath.Join(c.File.Directory, c.loggerName()+".log")
	default:
		return emptyString
	}
}
