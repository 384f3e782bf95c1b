package beacon

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"

	smerrors "github.com/Station-Manager/errors"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"gopkg.in/natefinch/lumberjack.v2"
)

// rotationDisabledMB is large enough that lumberjack never rolls over on
// size by itself. rollingFile owns the byte budget.
const rotationDisabledMB = 1 << 20

// Handler is a named sink with its own minimum level and output format. It
// implements zerolog.LevelWriter so a logger can fan records out to several
// handlers.
type Handler struct {
	name   string
	level  Level
	format Format
	path   string

	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer // receives ERROR and above when set

	file    *rollingFile
	rotator *timedRotator
	closed  atomic.Bool

	// refs counts the loggers holding this handler.
	refs atomic.Int32
}

// Name identifies the handler within a logger.
func (h *Handler) Name() string { return h.name }

// Level is the minimum level the handler writes.
func (h *Handler) Level() Level { return h.level }

// Format is the output format of the handler.
func (h *Handler) Format() Format { return h.format }

// Path is the active log file, or "" for non-file handlers.
func (h *Handler) Path() string { return h.path }

// Write writes a record that carries no level.
func (h *Handler) Write(p []byte) (int, error) {
	return h.WriteLevel(zerolog.NoLevel, p)
}

// WriteLevel writes p when level passes the handler's threshold.
func (h *Handler) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if h.closed.Load() {
		return len(p), nil
	}
	if level != zerolog.NoLevel && level < h.level.zerolog() {
		return len(p), nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed.Load() {
		return len(p), nil
	}

	w := h.out
	if h.errOut != nil && level != zerolog.NoLevel && level >= zerolog.ErrorLevel {
		w = h.errOut
	}
	return w.Write(p)
}

// Rotate forces a rollover of a file handler. It is a no-op otherwise.
func (h *Handler) Rotate() error {
	if h.file == nil {
		return nil
	}
	return h.file.Rotate()
}

func (h *Handler) retain() { h.refs.Inc() }

// release drops one logger's reference and closes the handler with the last.
func (h *Handler) release() error {
	if h.refs.Dec() > 0 {
		return nil
	}
	return h.Close()
}

// Close stops rotation and releases the file, whichever loggers still hold
// the handler. It is safe to call more than once.
func (h *Handler) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	if h.rotator != nil {
		h.rotator.stop()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file != nil {
		return h.file.Close()
	}
	return nil
}

// NewWriterHandler builds a handler over an arbitrary writer. Colors are never
// used.
func NewWriterHandler(name string, w io.Writer, level Level, format Format) *Handler {
	return &Handler{
		name:   name,
		level:  normalizeLevel(level),
		format: format,
		out:    newFormatWriter(format, w, false, true),
	}
}

// NewConsoleHandler builds the console handler. With Stream "auto", records
// at ERROR and above go to stderr and the rest to stdout.
func NewConsoleHandler(cc ConsoleConfig, level Level, format Format) *Handler {
	h := &Handler{
		name:   consoleHandlerName,
		level:  normalizeLevel(level),
		format: format,
	}
	switch cc.Stream {
	case "stderr":
		h.out = newFormatWriter(format, os.Stderr, colorEnabled(cc.Color, os.Stderr), true)
	case "auto":
		h.out = newFormatWriter(format, os.Stdout, colorEnabled(cc.Color, os.Stdout), true)
		h.errOut = newFormatWriter(format, os.Stderr, colorEnabled(cc.Color, os.Stderr), true)
	default:
		h.out = newFormatWriter(format, os.Stdout, colorEnabled(cc.Color, os.Stdout), true)
	}
	return h
}

// NewFileHandler builds a rotating file handler for path. The directory is
// created when missing and the file is opened once so that permission
// problems surface here rather than on the first write.
func NewFileHandler(name, path string, fc FileHandlerConfig, level Level, format Format) (*Handler, error) {
	const op smerrors.Op = "beacon.NewFileHandler"
	if path == emptyString {
		return nil, smerrors.New(op).Msg(errMsgNoDirectory)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, smerrors.New(op).Err(err).Msg(errMsgCreateDir)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, smerrors.New(op).Err(err).Msg(errMsgOpenFile)
	}
	_ = f.Close()

	if name == emptyString {
		name = filePrefixHandlerName + path
	}

	rf, err := newRollingFile(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    rotationDisabledMB,
		MaxBackups: fc.BackupCount,
		MaxAge:     fc.MaxAgeDays,
		Compress:   fc.Compress,
		LocalTime:  true,
	}, sizeLimit(fc))
	if err != nil {
		return nil, smerrors.New(op).Err(err).Msg(errMsgOpenFile)
	}

	h := &Handler{
		name:   name,
		level:  normalizeLevel(level),
		format: format,
		path:   path,
		out:    newFormatWriter(format, rf, false, true),
		file:   rf,
	}

	if fc.When != emptyString {
		r, err := newTimedRotator(fc.When, fc.Interval, rf.Rotate)
		if err != nil {
			return nil, smerrors.New(op).Err(err).Msg(errMsgInvalidRotWhen)
		}
		h.rotator = r
		r.start()
	}
	return h, nil
}

// sizeLimit is the byte budget of the active file. Without backups, or with
// time based rotation, size rollover is disabled.
func sizeLimit(fc FileHandlerConfig) int64 {
	if fc.When != emptyString || fc.BackupCount == 0 {
		return 0
	}
	return fc.MaxBytes
}

// NewHandlers builds the console and file handlers enabled by cfg.
func NewHandlers(cfg *LogConfig) ([]*Handler, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	var handlers []*Handler
	if cfg.Console.Enabled {
		handlers = append(handlers, NewConsoleHandler(cfg.Console, cfg.consoleLevel(), cfg.consoleFormat()))
	}
	if cfg.File.Enabled {
		h, err := NewFileHandler(emptyString, cfg.filePath(), cfg.File, cfg.fileLevel(), cfg.fileFormat())
		if err != nil {
			_ = closeHandlers(handlers)
			return nil, err
		}
		handlers = append(handlers, h)
	}
	return handlers, nil
}

// Default rotation limits of the dedicated handlers.
const (
	ErrorLogMaxBytes          = 5 * megabyte
	ErrorLogBackupCount       = 3
	PerformanceLogMaxBytes    = 5 * megabyte
	PerformanceLogBackupCount = 3
	RequestLogMaxBytes        = 10 * megabyte
	RequestLogBackupCount     = 5
)

// SetupErrorHandler returns an ERROR-level structured handler writing
// errors.log in dir.
func SetupErrorHandler(dir string, maxBytes int64, backupCount int) (*Handler, error) {
	return dedicatedHandler(errorsHandlerName, dir, "errors.log", maxBytes, backupCount, LevelError, FormatStructured)
}

// SetupPerformanceHandler returns an INFO-level JSON handler writing
// performance.log in dir.
func SetupPerformanceHandler(dir string, maxBytes int64, backupCount int) (*Handler, error) {
	return dedicatedHandler(performanceHandlerName, dir, "performance.log", maxBytes, backupCount, LevelInfo, FormatJSON)
}

// SetupRequestHandler returns an INFO-level JSON handler writing requests.log
// in dir.
func SetupRequestHandler(dir string, maxBytes int64, backupCount int) (*Handler, error) {
	return dedicatedHandler(requestsHandlerName, dir, "requests.log", maxBytes, backupCount, LevelInfo, FormatJSON)
}

func dedicatedHandler(name, dir, file string, maxBytes int64, backupCount int, level Level, format Format) (*Handler, error) {
	fc := FileHandlerConfig{Enabled: true, MaxBytes: maxBytes, BackupCount: backupCount}
	return NewFileHandler(name, filepath.Join(dir, file), fc, level, format)
}

func colorEnabled(mode string, f *os.File) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	default:
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
}

func closeHandlers(handlers []*Handler) error {
	var errs []error
	for _, h := range handlers {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
