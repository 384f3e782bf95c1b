package beacon

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// Logger is a named logger writing to a set of handlers. It is safe for
// concurrent use. Log calls never return errors; handler failures are
// reported through zerolog.ErrorHandler.
type Logger struct {
	name string
	cfg  *LogConfig

	logger   atomic.Pointer[zerolog.Logger]
	handlers *handlerSet

	isInitialized atomic.Bool
	closeOnce     sync.Once
	closeErr      error

	// mu serializes Close against event creation; wg and activeOps count
	// records that have been started but not yet written.
	mu        sync.RWMutex
	wg        sync.WaitGroup
	activeOps atomic.Int64
}

// New builds a standalone logger from cfg. Use a Registry to share loggers by
// name. Unlike registry loggers, a standalone logger must enable at least one
// handler.
func New(cfg *LogConfig) (*Logger, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	cfg = cfg.Clone()
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if !cfg.Console.Enabled && !cfg.File.Enabled {
		return nil, ErrNoHandlers
	}
	handlers, err := NewHandlers(cfg)
	if err != nil {
		return nil, err
	}
	return newLogger(cfg, handlers), nil
}

func newLogger(cfg *LogConfig, handlers []*Handler) *Logger {
	l := &Logger{
		name:     cfg.loggerName(),
		cfg:      cfg,
		handlers: newHandlerSet(handlers),
	}

	ctx := zerolog.New(l.handlers).Level(cfg.Level.zerolog()).With().Str(FieldLogger, l.name)
	if cfg.IncludeTimestamp {
		ctx = ctx.Timestamp()
	}
	if cfg.IncludeCaller {
		ctx = ctx.CallerWithSkipFrameCount(cfg.CallerSkipFrames)
	}
	zl := ctx.Logger()
	if len(cfg.ExtraFields) > 0 {
		zl = zl.Hook(fieldsHook{fields: mergeFields(cfg.ExtraFields)})
	}
	if cfg.MaxLogRate > 0 {
		zl = zl.Sample(newRateSampler(cfg.MaxLogRate))
	}

	l.logger.Store(&zl)
	l.isInitialized.Store(true)
	return l
}

// Name returns the logger's name.
func (l *Logger) Name() string { return l.name }

// Config returns a copy of the configuration the logger was built from.
func (l *Logger) Config() *LogConfig { return l.cfg.Clone() }

// Level returns the current minimum level.
func (l *Logger) Level() Level {
	zl := l.logger.Load()
	if zl == nil {
		return l.cfg.Level
	}
	return levelFromZerolog(zl.GetLevel())
}

// SetLevel changes the minimum level. Handler thresholds are unaffected.
func (l *Logger) SetLevel(level Level) error {
	parsed, err := ParseLevel(string(level))
	if err != nil {
		return err
	}
	l.swap(func(zl zerolog.Logger) zerolog.Logger { return zl.Level(parsed.zerolog()) })
	return nil
}

// Hook installs zerolog hooks on the logger.
func (l *Logger) Hook(hooks ...zerolog.Hook) {
	l.swap(func(zl zerolog.Logger) zerolog.Logger { return zl.Hook(hooks...) })
}

// swap replaces the zerolog.Logger with a compare-and-swap loop.
func (l *Logger) swap(fn func(zerolog.Logger) zerolog.Logger) {
	if !l.isInitialized.Load() {
		return
	}
	for {
		old := l.logger.Load()
		if old == nil {
			return
		}
		next := fn(*old)
		if l.logger.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Debug writes msg at DEBUG. Multiple field maps are merged, later keys
// winning.
func (l *Logger) Debug(msg string, fields ...Fields) {
	l.emit(nil, LevelDebug, msg, mergeFields(fields...))
}

// Info writes msg at INFO.
func (l *Logger) Info(msg string, fields ...Fields) {
	l.emit(nil, LevelInfo, msg, mergeFields(fields...))
}

// Warning writes msg at WARNING.
func (l *Logger) Warning(msg string, fields ...Fields) {
	l.emit(nil, LevelWarning, msg, mergeFields(fields...))
}

// Error writes msg at ERROR.
func (l *Logger) Error(msg string, fields ...Fields) {
	l.emit(nil, LevelError, msg, mergeFields(fields...))
}

// Critical writes msg at CRITICAL. The process keeps running.
func (l *Logger) Critical(msg string, fields ...Fields) {
	l.emit(nil, LevelCritical, msg, mergeFields(fields...))
}

// Log writes msg at level with fields as context.
func (l *Logger) Log(level Level, msg string, fields Fields) {
	l.emit(nil, level, msg, fields)
}

// DebugWith returns a LogEvent for structured Debug-level logging.
func (l *Logger) DebugWith() LogEvent { return l.event(nil, LevelDebug) }

// InfoWith returns a LogEvent for structured Info-level logging.
// Example: logger.InfoWith().Str("user_id", id).Int("count", 5).Msg("User processed")
func (l *Logger) InfoWith() LogEvent { return l.event(nil, LevelInfo) }

// WarnWith returns a LogEvent for structured Warning-level logging.
func (l *Logger) WarnWith() LogEvent { return l.event(nil, LevelWarning) }

// ErrorWith returns a LogEvent for structured Error-level logging.
// Example: logger.ErrorWith().Err(err).Str("operation", "database").Msg("Query failed")
func (l *Logger) ErrorWith() LogEvent { return l.event(nil, LevelError) }

// CriticalWith returns a LogEvent for structured Critical-level logging.
func (l *Logger) CriticalWith() LogEvent { return l.event(nil, LevelCritical) }

// With returns a LogContext for creating a child logger with pre-populated
// fields. The child shares the parent's handlers.
func (l *Logger) With() LogContext {
	if !l.isInitialized.Load() {
		return &noopLogContext{}
	}
	zl := l.logger.Load()
	if zl == nil {
		return &noopLogContext{}
	}
	return &logContext{context: zl.With(), owner: l}
}

// Slog returns a log/slog front end writing through this logger.
func (l *Logger) Slog() *slog.Logger {
	return slog.New(NewSlogHandler(l))
}

// AddHandler attaches h unless a handler with the same name is present. It
// reports whether h was added. A handler may be shared by several loggers;
// it is closed when the last of them lets go of it.
func (l *Logger) AddHandler(h *Handler) bool {
	if h == nil || !l.isInitialized.Load() {
		return false
	}
	return l.handlers.add(h)
}

// RemoveHandler detaches the named handler and closes it unless another
// logger still holds it.
func (l *Logger) RemoveHandler(name string) error {
	h := l.handlers.remove(name)
	if h == nil {
		return fmt.Errorf("handler %q not attached to logger %q", name, l.name)
	}
	return h.release()
}

// HandlerNames lists the attached handlers in attachment order.
func (l *Logger) HandlerNames() []string {
	return l.handlers.names()
}

// HasHandler reports whether a handler with name is attached.
func (l *Logger) HasHandler(name string) bool {
	return slices.Contains(l.handlers.names(), name)
}

// Close waits up to the configured shutdown timeout for in-flight records,
// then closes every handler. Later calls return the first result.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.isInitialized.Store(false)
		l.mu.Unlock()

		if !l.waitForActive(l.cfg.ShutdownTimeout) {
			if zl := l.logger.Load(); zl != nil {
				zl.WithLevel(zerolog.WarnLevel).
					Int64("active_operations", l.activeOps.Load()).
					Msg("Logger shutdown timeout exceeded")
			}
		}
		l.closeErr = l.handlers.closeAll()
	})
	return l.closeErr
}

func (l *Logger) waitForActive(timeout time.Duration) bool {
	if l.activeOps.Load() == 0 {
		return true
	}
	if timeout <= 0 {
		return false
	}
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// handlerSet fans each record out to the attached handlers. Reads are
// lock-free; mutations copy the slice.
type handlerSet struct {
	mu   sync.Mutex
	list atomic.Pointer[[]*Handler]
}

func newHandlerSet(handlers []*Handler) *handlerSet {
	s := &handlerSet{}
	list := slices.Clone(handlers)
	for _, h := range list {
		h.retain()
	}
	s.list.Store(&list)
	return s
}

func (s *handlerSet) snapshot() []*Handler {
	if p := s.list.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *handlerSet) Write(p []byte) (int, error) {
	return s.WriteLevel(zerolog.NoLevel, p)
}

// WriteLevel always reports success to zerolog; per-handler failures are
// reported and do not stop delivery to the remaining handlers.
func (s *handlerSet) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	for _, h := range s.snapshot() {
		if _, err := h.WriteLevel(level, p); err != nil {
			reportError(fmt.Errorf("handler %q: %w", h.Name(), err))
		}
	}
	return len(p), nil
}

func (s *handlerSet) add(h *Handler) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.snapshot()
	for _, existing := range cur {
		if existing.Name() == h.Name() {
			return false
		}
	}
	h.retain()
	next := append(slices.Clone(cur), h)
	s.list.Store(&next)
	return true
}

func (s *handlerSet) remove(name string) *Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.snapshot()
	i := slices.IndexFunc(cur, func(h *Handler) bool { return h.Name() == name })
	if i < 0 {
		return nil
	}
	next := slices.Delete(slices.Clone(cur), i, i+1)
	s.list.Store(&next)
	return cur[i]
}

func (s *handlerSet) names() []string {
	cur := s.snapshot()
	names := make([]string, len(cur))
	for i, h := range cur {
		names[i] = h.Name()
	}
	return names
}

func (s *handlerSet) closeAll() error {
	s.mu.Lock()
	cur := s.snapshot()
	empty := []*Handler{}
	s.list.Store(&empty)
	s.mu.Unlock()

	var errs []error
	for _, h := range cur {
		if err := h.release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
