package beacon

import (
	"bytes"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

var levelColors = map[string]color.Attribute{
	string(LevelDebug):    color.FgCyan,
	string(LevelInfo):     color.FgGreen,
	string(LevelWarning):  color.FgYellow,
	string(LevelError):    color.FgRed,
	string(LevelCritical): color.FgMagenta,
}

// newFormatWriter wraps out so that the JSON records produced by zerolog are
// rendered in the requested format.
func newFormatWriter(format Format, out io.Writer, colored, withTimestamp bool) io.Writer {
	switch format {
	case FormatText:
		return newTextWriter(out, colored, withTimestamp)
	case FormatStructured:
		return &structuredWriter{out: out}
	default:
		return out
	}
}

// newTextWriter renders "<timestamp> <LEVEL> <logger>: <message> k=v ...".
func newTextWriter(out io.Writer, colored, withTimestamp bool) zerolog.ConsoleWriter {
	w := zerolog.ConsoleWriter{
		Out:           out,
		NoColor:       !colored,
		TimeFormat:    consoleTimeFmt,
		PartsOrder:    []string{FieldTimestamp, FieldLevel, FieldLogger, FieldMessage},
		FieldsExclude: []string{FieldLogger},
		FormatLevel:   levelFormatter(colored),
		FormatPrepare: func(evt map[string]interface{}) error {
			if name, ok := evt[FieldLogger]; ok {
				evt[FieldLogger] = fmt.Sprintf("%v:", name)
			}
			return nil
		},
	}
	if !withTimestamp {
		w.PartsExclude = []string{FieldTimestamp}
	}
	return w
}

func levelFormatter(colored bool) zerolog.Formatter {
	return func(i interface{}) string {
		name, ok := i.(string)
		if !ok {
			name = fmt.Sprint(i)
		}
		attr, known := levelColors[name]
		if !colored || !known {
			return name
		}
		c := color.New(attr, color.Bold)
		c.EnableColor()
		return c.Sprint(name)
	}
}

// structuredEntry is the layout of the structured format: fixed keys first,
// every context key nested under "context".
type structuredEntry struct {
	Timestamp any            `json:"timestamp,omitempty"`
	Level     any            `json:"level"`
	Logger    any            `json:"logger"`
	Message   any            `json:"message"`
	Caller    any            `json:"caller,omitempty"`
	Context   map[string]any `json:"context"`
}

type structuredWriter struct {
	out io.Writer
}

// Write reshapes one record. Records that cannot be decoded are passed
// through unchanged rather than dropped.
func (w *structuredWriter) Write(p []byte) (int, error) {
	rec := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(p))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		return w.out.Write(p)
	}

	entry := structuredEntry{
		Timestamp: rec[FieldTimestamp],
		Level:     rec[FieldLevel],
		Logger:    rec[FieldLogger],
		Message:   rec[FieldMessage],
		Caller:    rec[FieldCaller],
	}
	for k := range reservedKeys {
		delete(rec, k)
	}
	entry.Context = rec

	b, err := json.Marshal(entry)
	if err != nil {
		return w.out.Write(p)
	}
	b = append(b, '\n')
	if _, err = w.out.Write(b); err != nil {
		return 0, err
	}
	return len(p), nil
}
