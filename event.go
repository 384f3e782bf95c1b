package beacon

import (
	"net"
	"time"

	"github.com/rs/zerolog"
)

// LogContext provides a fluent interface for building a child logger with
// pre-populated fields.
type LogContext interface {
	Str(key, val string) LogContext
	Strs(key string, vals []string) LogContext
	Int(key string, val int) LogContext
	Int64(key string, val int64) LogContext
	Float64(key string, val float64) LogContext
	Bool(key string, val bool) LogContext
	Time(key string, val time.Time) LogContext
	Err(err error) LogContext
	Fields(fields Fields) LogContext
	// Logger creates and returns the child logger
	Logger() EventLogger
}

// LogEvent is a single record under construction. Nothing is written until
// Msg, Msgf or Send is called.
type LogEvent interface {
	Str(key, val string) LogEvent
	Strs(key string, vals []string) LogEvent
	Stringer(key string, val interface{ String() string }) LogEvent
	Int(key string, val int) LogEvent
	Int64(key string, val int64) LogEvent
	Uint64(key string, val uint64) LogEvent
	Float64(key string, val float64) LogEvent
	Bool(key string, val bool) LogEvent
	Time(key string, val time.Time) LogEvent
	Dur(key string, val time.Duration) LogEvent
	Err(err error) LogEvent
	AnErr(key string, err error) LogEvent
	IPAddr(key string, val net.IP) LogEvent
	// Any encodes val with the same coercion rules as Fields.
	Any(key string, val any) LogEvent
	Fields(fields Fields) LogEvent
	Dict(key string, dict func(LogEvent)) LogEvent
	Msg(msg string)
	Msgf(format string, v ...interface{})
	Send()
}

// logEvent wraps a zerolog.Event; a nil event makes every call a no-op.
// When owner is set the record is counted as in flight on owner until Msg,
// Msgf or Send writes it.
type logEvent struct {
	event *zerolog.Event
	owner *Logger
}

func newLogEvent(e *zerolog.Event) *logEvent {
	return &logEvent{event: e}
}

// newTrackedLogEvent expects the caller to have already counted the event as
// in flight on owner.
func newTrackedLogEvent(e *zerolog.Event, owner *Logger) *logEvent {
	if owner != nil && e == nil {
		owner.release()
		return newLogEvent(nil)
	}
	return &logEvent{event: e, owner: owner}
}

// skipCallerFrames moves the caller field n frames further up the stack, for
// methods that build and write the event on the user's behalf.
func (e *logEvent) skipCallerFrames(n int) *logEvent {
	if e.event != nil {
		e.event.CallerSkipFrame(n)
	}
	return e
}

func (e *logEvent) Str(key, val string) LogEvent {
	if e.event != nil {
		e.event.Str(safeKey(key), val)
	}
	return e
}

func (e *logEvent) Strs(key string, vals []string) LogEvent {
	if e.event != nil {
		e.event.Strs(safeKey(key), vals)
	}
	return e
}

func (e *logEvent) Stringer(key string, val interface{ String() string }) LogEvent {
	if e.event != nil {
		appendField(e.event, safeKey(key), val)
	}
	return e
}

func (e *logEvent) Int(key string, val int) LogEvent {
	if e.event != nil {
		e.event.Int(safeKey(key), val)
	}
	return e
}

func (e *logEvent) Int64(key string, val int64) LogEvent {
	if e.event != nil {
		e.event.Int64(safeKey(key), val)
	}
	return e
}

func (e *logEvent) Uint64(key string, val uint64) LogEvent {
	if e.event != nil {
		e.event.Uint64(safeKey(key), val)
	}
	return e
}

func (e *logEvent) Float64(key string, val float64) LogEvent {
	if e.event != nil {
		appendFloat(e.event, safeKey(key), val)
	}
	return e
}

func (e *logEvent) Bool(key string, val bool) LogEvent {
	if e.event != nil {
		e.event.Bool(safeKey(key), val)
	}
	return e
}

func (e *logEvent) Time(key string, val time.Time) LogEvent {
	if e.event != nil {
		e.event.Time(safeKey(key), val)
	}
	return e
}

func (e *logEvent) Dur(key string, val time.Duration) LogEvent {
	if e.event != nil {
		e.event.Dur(safeKey(key), val)
	}
	return e
}

// Err records err under "error" together with its cause chain.
func (e *logEvent) Err(err error) LogEvent {
	return e.AnErr(zerolog.ErrorFieldName, err)
}

// AnErr records err under key. For a non-nil error the chain is added as
// <key>_chain (outermost first), <key>_root, <key>_history and, when the
// chain carries operations, <key>_ops and <key>_root_op.
func (e *logEvent) AnErr(key string, err error) LogEvent {
	if e.event == nil || err == nil {
		return e
	}
	e.event.Str(key, safeString(err))
	chain, ops, root, rootOp := buildErrorChain(err)
	if len(chain) > 1 {
		e.event.Strs(key+"_chain", chain)
		e.event.Str(key+"_root", root)
		e.event.Str(key+"_history", joinChain(chain))
	}
	if rootOp != emptyString {
		e.event.Strs(key+"_ops", ops)
		e.event.Str(key+"_root_op", rootOp)
	}
	return e
}

func (e *logEvent) IPAddr(key string, val net.IP) LogEvent {
	if e.event != nil {
		e.event.IPAddr(safeKey(key), val)
	}
	return e
}

func (e *logEvent) Any(key string, val any) LogEvent {
	if e.event != nil {
		appendField(e.event, safeKey(key), val)
	}
	return e
}

func (e *logEvent) Fields(fields Fields) LogEvent {
	if e.event != nil {
		appendFields(e.event, fields)
	}
	return e
}

// Dict nests the fields added by dict under key.
func (e *logEvent) Dict(key string, dict func(LogEvent)) LogEvent {
	if e.event != nil {
		d := zerolog.Dict()
		dict(&logEvent{event: d})
		e.event.Dict(safeKey(key), d)
	}
	return e
}

func (e *logEvent) Msg(msg string) {
	defer e.done()
	if e.event != nil {
		e.event.Msg(msg)
	}
}

func (e *logEvent) Msgf(format string, v ...interface{}) {
	defer e.done()
	if e.event != nil {
		e.event.Msgf(format, v...)
	}
}

func (e *logEvent) Send() {
	defer e.done()
	if e.event != nil {
		e.event.Send()
	}
}

// done releases the owner exactly once even if Msg is called twice. The
// zerolog event goes back to its pool on write, so it is dropped here too.
func (e *logEvent) done() {
	owner := e.owner
	e.owner, e.event = nil, nil
	if owner != nil {
		owner.release()
	}
}

// logContext wraps a zerolog.Context derived from its owner.
type logContext struct {
	context zerolog.Context
	owner   *Logger
}

func (c *logContext) Str(key, val string) LogContext {
	c.context = c.context.Str(safeKey(key), val)
	return c
}

func (c *logContext) Strs(key string, vals []string) LogContext {
	c.context = c.context.Strs(safeKey(key), vals)
	return c
}

func (c *logContext) Int(key string, val int) LogContext {
	c.context = c.context.Int(safeKey(key), val)
	return c
}

func (c *logContext) Int64(key string, val int64) LogContext {
	c.context = c.context.Int64(safeKey(key), val)
	return c
}

func (c *logContext) Float64(key string, val float64) LogContext {
	c.context = c.context.Float64(safeKey(key), val)
	return c
}

func (c *logContext) Bool(key string, val bool) LogContext {
	c.context = c.context.Bool(safeKey(key), val)
	return c
}

func (c *logContext) Time(key string, val time.Time) LogContext {
	c.context = c.context.Time(safeKey(key), val)
	return c
}

func (c *logContext) Err(err error) LogContext {
	if err != nil {
		c.context = c.context.Str(zerolog.ErrorFieldName, safeString(err))
	}
	return c
}

// Fields attaches context that follows the same encoding rules as
// per-record fields.
func (c *logContext) Fields(fields Fields) LogContext {
	if len(fields) == 0 {
		return c
	}
	c.context = c.context.Logger().Hook(fieldsHook{fields: mergeFields(fields)}).With()
	return c
}

func (c *logContext) Logger() EventLogger {
	zl := c.context.Logger()
	return &contextLogger{logger: &zl, parent: c.owner}
}

// fieldsHook adds a fixed set of fields to every event.
type fieldsHook struct {
	fields Fields
}

func (h fieldsHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	appendFields(e, h.fields)
}

// contextLogger is a child logger. It shares the parent's handlers and
// lifecycle so closing the parent quiesces every child.
type contextLogger struct {
	logger *zerolog.Logger
	parent *Logger
}

func (cl *contextLogger) DebugWith() LogEvent    { return cl.parent.event(cl.logger, LevelDebug) }
func (cl *contextLogger) InfoWith() LogEvent     { return cl.parent.event(cl.logger, LevelInfo) }
func (cl *contextLogger) WarnWith() LogEvent     { return cl.parent.event(cl.logger, LevelWarning) }
func (cl *contextLogger) ErrorWith() LogEvent    { return cl.parent.event(cl.logger, LevelError) }
func (cl *contextLogger) CriticalWith() LogEvent { return cl.parent.event(cl.logger, LevelCritical) }

func (cl *contextLogger) Log(level Level, msg string, fields Fields) {
	cl.parent.emit(cl.logger, level, msg, fields)
}

func (cl *contextLogger) With() LogContext {
	if cl.parent == nil || !cl.parent.isInitialized.Load() {
		return &noopLogContext{}
	}
	return &logContext{context: cl.logger.With(), owner: cl.parent}
}

// noopLogContext is returned once the owning logger is closed.
type noopLogContext struct{}

func (n *noopLogContext) Str(string, string) LogContext      { return n }
func (n *noopLogContext) Strs(string, []string) LogContext   { return n }
func (n *noopLogContext) Int(string, int) LogContext         { return n }
func (n *noopLogContext) Int64(string, int64) LogContext     { return n }
func (n *noopLogContext) Float64(string, float64) LogContext { return n }
func (n *noopLogContext) Bool(string, bool) LogContext       { return n }
func (n *noopLogContext) Time(string, time.Time) LogContext  { return n }
func (n *noopLogContext) Err(error) LogContext               { return n }
func (n *noopLogContext) Fields(Fields) LogContext           { return n }
func (n *noopLogContext) Logger() EventLogger                { return noopLogger{} }

type noopLogger struct{}

func (noopLogger) DebugWith() LogEvent       { return newLogEvent(nil) }
func (noopLogger) InfoWith() LogEvent        { return newLogEvent(nil) }
func (noopLogger) WarnWith() LogEvent        { return newLogEvent(nil) }
func (noopLogger) ErrorWith() LogEvent       { return newLogEvent(nil) }
func (noopLogger) CriticalWith() LogEvent    { return newLogEvent(nil) }
func (noopLogger) Log(Level, string, Fields) {}
func (noopLogger) With() LogContext          { return &noopLogContext{} }
