package beacon

import (
	"os"

	smerrors "github.com/Station-Manager/errors"
)

// appLogFile is the main application log written by the setup helpers.
const appLogFile = "app.log"

// RotationOptions controls app.log rotation in SetupLogRotation. A non-empty
// When selects timed rotation and disables size rollover.
type RotationOptions struct {
	MaxBytes    int64
	BackupCount int
	When        string
	Interval    int
}

// DefaultRotationOptions rotates at 10 MiB and keeps five backups.
func DefaultRotationOptions() RotationOptions {
	return RotationOptions{MaxBytes: 10 * megabyte, BackupCount: 5, Interval: 1}
}

// Aggregation groups the loggers created by SetupLogAggregation. Loggers
// whose feature is disabled are nil.
type Aggregation struct {
	App         *Logger
	Performance *Logger
	Requests    *Logger
}

// SetupLogRotation configures the "app" logger with an INFO console handler
// and a DEBUG app.log handler in dir.
func (r *Registry) SetupLogRotation(dir string, opts RotationOptions) (*Logger, error) {
	cfg := DefaultConfig()
	cfg.Name = AppLoggerName
	cfg.Level = LevelDebug
	cfg.Console.Level = LevelInfo
	cfg.File = FileHandlerConfig{
		Enabled:     true,
		Directory:   dir,
		Filename:    appLogFile,
		Level:       LevelDebug,
		MaxBytes:    opts.MaxBytes,
		BackupCount: opts.BackupCount,
		When:        opts.When,
		Interval:    opts.Interval,
	}
	if cfg.File.MaxBytes <= 0 {
		cfg.File.MaxBytes = DefaultRotationOptions().MaxBytes
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return r.setup(cfg)
}

// SetupLogAggregation splits output across dedicated files in dir:
//
//   - "app": app.log when cfg.File is enabled, errors.log and the console
//   - "performance": performance.log and errors.log, when performance is enabled
//   - "requests": requests.log and errors.log, when request logging is enabled
//
// All three share one errors.log handler. A nil cfg means DefaultConfig.
func (r *Registry) SetupLogAggregation(dir string, cfg *LogConfig) (*Aggregation, error) {
	const op smerrors.Op = "beacon.SetupLogAggregation"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, smerrors.New(op).Err(err).Msg(errMsgCreateDir)
	}

	base := cfg.Clone()
	if base == nil {
		base = DefaultConfig()
	}

	app := base.Clone()
	app.Name = AppLoggerName
	app.Console.Level = base.consoleLevel()
	app.File.Level = base.fileLevel()
	app.Level = LevelDebug
	if app.File.Enabled {
		app.File.Directory = dir
		app.File.Filename = appLogFile
	}
	if err := validateConfig(app); err != nil {
		return nil, err
	}

	errorsHandler, err := SetupErrorHandler(dir, ErrorLogMaxBytes, ErrorLogBackupCount)
	if err != nil {
		return nil, err
	}
	// The helper's own reference keeps errorsHandler open until every logger
	// below has taken it.
	errorsHandler.retain()
	defer func() { _ = errorsHandler.release() }()

	agg := &Aggregation{}
	if agg.App, err = r.setup(app); err != nil {
		return nil, err
	}
	agg.App.AddHandler(errorsHandler)

	if base.Performance.Enabled {
		h, err := SetupPerformanceHandler(dir, PerformanceLogMaxBytes, PerformanceLogBackupCount)
		if err != nil {
			return nil, err
		}
		if agg.Performance, err = r.dedicatedLogger(PerformanceLoggerName, base, h, errorsHandler); err != nil {
			return nil, err
		}
	}

	if base.Request.Enabled {
		h, err := SetupRequestHandler(dir, RequestLogMaxBytes, RequestLogBackupCount)
		if err != nil {
			return nil, err
		}
		if agg.Requests, err = r.dedicatedLogger(RequestsLoggerName, base, h, errorsHandler); err != nil {
			return nil, err
		}
	}
	return agg, nil
}

// dedicatedLogger returns the named logger without console or file output of
// its own and attaches the given handlers. Handlers it already holds by name
// are closed and skipped.
func (r *Registry) dedicatedLogger(name string, base *LogConfig, handlers ...*Handler) (*Logger, error) {
	cfg := base.Clone()
	cfg.Name = name
	cfg.Level = LevelInfo
	cfg.Console.Enabled = false
	cfg.File.Enabled = false

	l, err := r.GetOrCreate(name, cfg)
	if err != nil {
		for _, h := range handlers {
			if h.refs.Load() == 0 {
				_ = h.Close()
			}
		}
		return nil, err
	}
	for _, h := range handlers {
		if !l.AddHandler(h) && h.refs.Load() == 0 {
			_ = h.Close()
		}
	}
	return l, nil
}

// SetupPerformanceMonitoring configures the "performance" logger, writing
// performance.log in dir when dir is non-empty, and makes the returned
// tracker the registry's tracker.
func (r *Registry) SetupPerformanceMonitoring(cfg PerformanceConfig, dir string) (*PerformanceTracker, error) {
	base := DefaultConfig()
	base.Performance = cfg

	var (
		l   *Logger
		err error
	)
	if dir == emptyString {
		l, err = r.GetOrCreate(PerformanceLoggerName, base)
	} else {
		var h *Handler
		if h, err = SetupPerformanceHandler(dir, PerformanceLogMaxBytes, PerformanceLogBackupCount); err != nil {
			return nil, err
		}
		l, err = r.dedicatedLogger(PerformanceLoggerName, base, h)
	}
	if err != nil {
		return nil, err
	}

	t := NewPerformanceTracker(l, cfg)
	if r.metrics != nil {
		if err := t.RegisterMetrics(r.metrics); err != nil {
			return nil, err
		}
	}
	r.domainMu.Lock()
	r.tracker = t
	r.domainMu.Unlock()
	return t, nil
}

// SetupProductionLogging is SetupLogAggregation with file output enabled and
// the given level and format. Empty level and format default to INFO and
// json.
func (r *Registry) SetupProductionLogging(dir string, level Level, format Format) (*Aggregation, error) {
	cfg := DefaultConfig()
	cfg.Level = LevelInfo
	cfg.Format = FormatJSON
	if level != emptyLevel {
		cfg.Level = level
	}
	if format != emptyFormat {
		cfg.Format = format
	}
	cfg.File.Enabled = true
	cfg.File.Directory = dir
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return r.SetupLogAggregation(dir, cfg)
}

// SetupDevelopmentLogging configures the "app" logger for local work: DEBUG,
// colored text on stdout and caller information.
func (r *Registry) SetupDevelopmentLogging() (*Logger, error) {
	cfg := DefaultConfig()
	cfg.Name = AppLoggerName
	cfg.Level = LevelDebug
	cfg.Format = FormatText
	cfg.IncludeCaller = true
	return r.setup(cfg)
}

// SetupEnvironmentLogging configures a logger from BEACON_LOG_LEVEL,
// BEACON_LOG_FORMAT, BEACON_LOG_NAME and BEACON_LOG_DIR. With a directory,
// DEBUG and above also go to app.log there.
func (r *Registry) SetupEnvironmentLogging() (*Logger, error) {
	cfg, err := LoadConfig(WithModifier(func(c *LogConfig) {
		if c.File.Enabled && c.File.Filename == emptyString {
			c.File.Filename = appLogFile
			c.File.Level = LevelDebug
		}
	}))
	if err != nil {
		return nil, err
	}
	return r.setup(cfg)
}
