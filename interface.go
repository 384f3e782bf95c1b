package beacon

// EventLogger is the structured logging surface shared by named loggers and
// the child loggers created through With. The domain loggers accept it, so
// they can be handed a child logger carrying request or session scope.
type EventLogger interface {
	DebugWith() LogEvent
	InfoWith() LogEvent
	WarnWith() LogEvent
	ErrorWith() LogEvent
	CriticalWith() LogEvent

	// Log writes msg at level with the given context.
	Log(level Level, msg string, fields Fields)

	// With creates a child logger with pre-populated fields.
	// Example: reqLogger := logger.With().Str("request_id", id).Logger()
	With() LogContext
}
