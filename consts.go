package beacon

import "errors"

const (
	// DefaultName is used when no logger name is configured.
	DefaultName = "beacon"

	emptyString = ""
	emptyLevel  = Level("")
	emptyFormat = Format("")

	megabyte = 1024 * 1024

	// ISO-8601 with millisecond precision.
	timestampFormat = "2006-01-02T15:04:05.000Z07:00"
	consoleTimeFmt  = "2006-01-02 15:04:05.000"
)

// Fixed keys present on every record.
const (
	FieldTimestamp = "timestamp"
	FieldLevel     = "level"
	FieldLogger    = "logger"
	FieldMessage   = "message"
	FieldCaller    = "caller"
	FieldContext   = "context"

	// collisionPrefix namespaces context keys that would overwrite a fixed key.
	collisionPrefix = "ctx_"
)

// Environment variables read by LoadConfig.
const (
	EnvLogLevel  = "BEACON_LOG_LEVEL"
	EnvLogFormat = "BEACON_LOG_FORMAT"
	EnvLogDir    = "BEACON_LOG_DIR"
	EnvLogName   = "BEACON_LOG_NAME"
	EnvLogConfig = "BEACON_LOG_CONFIG"

	envPrefix = "BEACON_LOG_"
)

// Well-known logger names used by the domain loggers and aggregation helpers.
const (
	AppLoggerName         = "app"
	PerformanceLoggerName = "performance"
	RequestsLoggerName    = "requests"
	TrainingLoggerName    = "training"
)

const (
	consoleHandlerName     = "console"
	errorsHandlerName      = "errors"
	performanceHandlerName = "performance"
	requestsHandlerName    = "requests"
	filePrefixHandlerName  = "file:"
)

const (
	errMsgCreateDir      = "Failed to create log directory."
	errMsgOpenFile       = "Failed to open log file."
	errMsgNoDirectory    = "File handler requires a directory or filename."
	errMsgLoadConfig     = "Failed to load logging configuration."
	errMsgInvalidRotWhen = "Unsupported rotation schedule."
)

var (
	// ErrNilConfig is returned when a nil *LogConfig is supplied.
	ErrNilConfig = errors.New("beacon: nil config")
	// ErrNoHandlers is returned when a configuration enables no sink at all.
	ErrNoHandlers = errors.New("beacon: no logging handlers enabled")
	// ErrRegistryClosed is returned when creating a logger on a closed registry.
	ErrRegistryClosed = errors.New("beacon: registry closed")
)
