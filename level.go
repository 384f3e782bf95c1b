package beacon

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Level is the minimum severity a logger or handler emits.
type Level string

const (
	LevelDebug    Level = "DEBUG"
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Format selects how a handler renders records.
type Format string

const (
	FormatText       Format = "text"
	FormatJSON       Format = "json"
	FormatStructured Format = "structured"
)

// ParseLevel parses a level name case-insensitively. WARN is accepted as an
// alias for WARNING.
func ParseLevel(s string) (Level, error) {
	l := normalizeLevel(Level(s))
	if !l.valid() {
		return emptyLevel, &ValidationError{Field: "level", Value: s, Rule: "oneof"}
	}
	return l, nil
}

// ParseFormat parses a format name case-insensitively.
func ParseFormat(s string) (Format, error) {
	f := normalizeFormat(Format(s))
	if !f.valid() {
		return emptyFormat, &ValidationError{Field: "format", Value: s, Rule: "oneof"}
	}
	return f, nil
}

func (l Level) String() string { return string(l) }

func (f Format) String() string { return string(f) }

func (l Level) valid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarning, LevelError, LevelCritical:
		return true
	}
	return false
}

func (f Format) valid() bool {
	switch f {
	case FormatText, FormatJSON, FormatStructured:
		return true
	}
	return false
}

func normalizeLevel(l Level) Level {
	u := Level(strings.ToUpper(strings.TrimSpace(string(l))))
	if u == "WARN" {
		return LevelWarning
	}
	return u
}

func normalizeFormat(f Format) Format {
	return Format(strings.ToLower(strings.TrimSpace(string(f))))
}

// zerolog maps a Level onto the backend's level. CRITICAL is carried as
// zerolog's fatal level but is always emitted through WithLevel, so it never
// terminates the process.
func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarning:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelCritical:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

func levelFromZerolog(l zerolog.Level) Level {
	switch l {
	case zerolog.TraceLevel, zerolog.DebugLevel:
		return LevelDebug
	case zerolog.InfoLevel:
		return LevelInfo
	case zerolog.WarnLevel:
		return LevelWarning
	case zerolog.ErrorLevel:
		return LevelError
	default:
		return LevelCritical
	}
}

// levelName renders zerolog levels with the names used in every output format.
func levelName(l zerolog.Level) string {
	switch l {
	case zerolog.TraceLevel:
		return "TRACE"
	case zerolog.DebugLevel:
		return string(LevelDebug)
	case zerolog.InfoLevel:
		return string(LevelInfo)
	case zerolog.WarnLevel:
		return string(LevelWarning)
	case zerolog.ErrorLevel:
		return string(LevelError)
	case zerolog.FatalLevel, zerolog.PanicLevel:
		return string(LevelCritical)
	default:
		return emptyString
	}
}

//nolint:gochecknoinits // field names and level rendering are process-wide zerolog settings
func init() {
	zerolog.TimestampFieldName = FieldTimestamp
	zerolog.LevelFieldName = FieldLevel
	zerolog.MessageFieldName = FieldMessage
	zerolog.ErrorFieldName = "error"
	zerolog.CallerFieldName = FieldCaller
	zerolog.TimeFieldFormat = timestampFormat
	zerolog.DurationFieldUnit = time.Millisecond
	zerolog.LevelFieldMarshalFunc = levelName
}
