package beacon

import (
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"
)

// Registry owns named loggers. An application creates one at its
// composition root and passes it to whatever needs a logger.
type Registry struct {
	mu      sync.RWMutex
	loggers map[string]*Logger
	group   singleflight.Group
	closed  atomic.Bool

	metrics prometheus.Registerer

	domainMu sync.Mutex
	tracker  *PerformanceTracker
	requests *RequestLogger
	training *TrainingLogger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithMetricsRegisterer makes the registry's performance tracker observe
// operation durations into a histogram registered with reg.
func WithMetricsRegisterer(reg prometheus.Registerer) RegistryOption {
	return func(r *Registry) { r.metrics = reg }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{loggers: make(map[string]*Logger)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the named logger or nil.
func (r *Registry) Get(name string) *Logger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loggers[name]
}

// Names lists registered loggers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.loggers))
	for name := range r.loggers {
		names = append(names, name)
	}
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

// GetOrCreate returns the cached logger for name, or validates cfg, builds
// its handlers and caches a new one. A nil cfg means DefaultConfig. The
// config's Name is replaced by name. Concurrent first calls for one name
// build exactly one logger.
func (r *Registry) GetOrCreate(name string, cfg *LogConfig) (*Logger, error) {
	l, _, err := r.getOrCreate(name, cfg)
	return l, err
}

func (r *Registry) getOrCreate(name string, cfg *LogConfig) (*Logger, bool, error) {
	if l := r.Get(name); l != nil {
		return l, false, nil
	}
	if r.closed.Load() {
		return nil, false, ErrRegistryClosed
	}

	created := false
	v, err, _ := r.group.Do(name, func() (any, error) {
		if l := r.Get(name); l != nil {
			return l, nil
		}

		c := cfg.Clone()
		if c == nil {
			c = DefaultConfig()
		}
		c.Name = name
		if err := validateConfig(c); err != nil {
			return nil, err
		}
		handlers, err := NewHandlers(c)
		if err != nil {
			return nil, err
		}
		l := newLogger(c, handlers)

		r.mu.Lock()
		if r.closed.Load() {
			r.mu.Unlock()
			_ = l.Close()
			return nil, ErrRegistryClosed
		}
		r.loggers[name] = l
		r.mu.Unlock()
		created = true
		return l, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*Logger), created, nil
}

// Remove closes and forgets the named logger. Missing names are ignored.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	l := r.loggers[name]
	delete(r.loggers, name)
	r.mu.Unlock()
	if l == nil {
		return nil
	}
	return l.Close()
}

// Close closes every logger. Errors are joined. The registry cannot be used
// afterwards.
func (r *Registry) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.mu.Lock()
	loggers := r.loggers
	r.loggers = make(map[string]*Logger)
	r.mu.Unlock()

	var errs []error
	for _, l := range loggers {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetupLogger resolves a config through LoadConfig (defaults, config file,
// environment, then opts) and returns the named logger. Calling it again
// for an existing name attaches only handlers the logger does not have yet
// and applies the resolved level.
func (r *Registry) SetupLogger(name string, opts ...Option) (*Logger, error) {
	cfg, err := LoadConfig(append(slices.Clone(opts), WithName(name))...)
	if err != nil {
		return nil, err
	}
	return r.setup(cfg)
}

// SetupFromEnv builds the logger described by the BEACON_LOG_* variables.
func (r *Registry) SetupFromEnv() (*Logger, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return r.setup(cfg)
}

// SetupFromMap builds a logger from a nested map laid out like the YAML
// config file.
func (r *Registry) SetupFromMap(m map[string]any) (*Logger, error) {
	cfg, err := ConfigFromMap(m)
	if err != nil {
		return nil, err
	}
	return r.setup(cfg)
}

// SetupStructuredLogging sets up the logger described by cfg, overriding its
// level and format when they are non-empty, and returns a log/slog front
// end for it.
func (r *Registry) SetupStructuredLogging(cfg *LogConfig, level Level, format Format) (*slog.Logger, error) {
	c := cfg.Clone()
	if c == nil {
		c = DefaultConfig()
	}
	if level != emptyLevel {
		c.Level = level
	}
	if format != emptyFormat {
		c.Format = format
	}
	if err := validateConfig(c); err != nil {
		return nil, err
	}
	l, err := r.setup(c)
	if err != nil {
		return nil, err
	}
	return l.Slog(), nil
}

// StructuredLogger returns a log/slog front end for the named logger,
// creating it with defaults when missing.
func (r *Registry) StructuredLogger(name string) (*slog.Logger, error) {
	l, err := r.GetOrCreate(name, nil)
	if err != nil {
		return nil, err
	}
	return l.Slog(), nil
}

// setup is the get-or-create path shared by the Setup functions. cfg must
// already be validated.
func (r *Registry) setup(cfg *LogConfig) (*Logger, error) {
	name := cfg.loggerName()
	l, created, err := r.getOrCreate(name, cfg)
	if err != nil || created {
		return l, err
	}
	if err := attachMissing(l, cfg); err != nil {
		return nil, err
	}
	if err := l.SetLevel(cfg.Level); err != nil {
		return nil, err
	}
	return l, nil
}

// attachMissing adds the console and file handlers cfg asks for when l does
// not already hold a handler with the same name.
func attachMissing(l *Logger, cfg *LogConfig) error {
	if cfg.Console.Enabled && !l.HasHandler(consoleHandlerName) {
		l.AddHandler(NewConsoleHandler(cfg.Console, cfg.consoleLevel(), cfg.consoleFormat()))
	}
	if !cfg.File.Enabled {
		return nil
	}
	path := cfg.filePath()
	if l.HasHandler(filePrefixHandlerName + path) {
		return nil
	}
	h, err := NewFileHandler(emptyString, path, cfg.File, cfg.fileLevel(), cfg.fileFormat())
	if err != nil {
		return err
	}
	if !l.AddHandler(h) {
		return h.Close()
	}
	return nil
}

// Tracker returns the performance tracker bound to the "performance"
// logger, creating both on first use.
func (r *Registry) Tracker() (*PerformanceTracker, error) {
	r.domainMu.Lock()
	defer r.domainMu.Unlock()
	if r.tracker != nil {
		return r.tracker, nil
	}
	l, err := r.GetOrCreate(PerformanceLoggerName, nil)
	if err != nil {
		return nil, err
	}
	t := NewPerformanceTracker(l, l.cfg.Performance)
	if r.metrics != nil {
		if err := t.RegisterMetrics(r.metrics); err != nil {
			return nil, err
		}
	}
	r.tracker = t
	return t, nil
}

// RequestLogger returns the request logger bound to the "requests" logger.
func (r *Registry) RequestLogger() (*RequestLogger, error) {
	r.domainMu.Lock()
	defer r.domainMu.Unlock()
	if r.requests != nil {
		return r.requests, nil
	}
	l, err := r.GetOrCreate(RequestsLoggerName, nil)
	if err != nil {
		return nil, err
	}
	r.requests = NewRequestLogger(l, l.cfg.Request)
	return r.requests, nil
}

// TrainingLogger returns the training logger bound to the "training" logger.
func (r *Registry) TrainingLogger() (*TrainingLogger, error) {
	r.domainMu.Lock()
	defer r.domainMu.Unlock()
	if r.training != nil {
		return r.training, nil
	}
	l, err := r.GetOrCreate(TrainingLoggerName, nil)
	if err != nil {
		return nil, err
	}
	r.training = NewTrainingLogger(l, l.cfg.Training)
	return r.training, nil
}
