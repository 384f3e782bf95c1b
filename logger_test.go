package beacon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logEntry map[string]any

// newTestLogger returns a logger whose only handler writes to the returned
// buffer.
func newTestLogger(t testing.TB, level Level, format Format) (*Logger, *bytes.Buffer) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Name = "test"
	cfg.Level = level
	cfg.Format = format
	cfg.Console.Enabled = false
	require.NoError(t, validateConfig(cfg))

	buf := &bytes.Buffer{}
	l := newLogger(cfg, []*Handler{NewWriterHandler("buffer", buf, level, format)})
	t.Cleanup(func() { _ = l.Close() })
	return l, buf
}

func decodeEntries(t testing.TB, buf *bytes.Buffer) []logEntry {
	t.Helper()
	var entries []logEntry
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e logEntry
		require.NoError(t, json.Unmarshal(line, &e), "line: %s", line)
		entries = append(entries, e)
	}
	require.NoError(t, sc.Err())
	return entries
}

func keysOf(e logEntry) []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	return keys
}

func TestLogger_JSONFixedKeys(t *testing.T) {
	l, buf := newTestLogger(t, LevelDebug, FormatJSON)

	l.Info("hello")

	entries := decodeEntries(t, buf)
	require.Len(t, entries, 1)
	assert.ElementsMatch(t, []string{"timestamp", "level", "logger", "message"}, keysOf(entries[0]))
	assert.Equal(t, "INFO", entries[0]["level"])
	assert.Equal(t, "test", entries[0]["logger"])
	assert.Equal(t, "hello", entries[0]["message"])

	ts, ok := entries[0]["timestamp"].(string)
	require.True(t, ok)
	_, err := time.Parse(timestampFormat, ts)
	assert.NoError(t, err)
}

func TestLogger_JSONContextRoundTrip(t *testing.T) {
	l, buf := newTestLogger(t, LevelDebug, FormatJSON)

	l.Info("order placed", Fields{
		"order_id": "o-42",
		"items":    3,
		"total":    19.5,
		"paid":     true,
		"tags":     []string{"a", "b"},
		"nested":   map[string]any{"k": "v"},
	})

	entries := decodeEntries(t, buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "o-42", e["order_id"])
	assert.Equal(t, float64(3), e["items"])
	assert.Equal(t, 19.5, e["total"])
	assert.Equal(t, true, e["paid"])
	assert.Equal(t, []any{"a", "b"}, e["tags"])
	assert.Equal(t, map[string]any{"k": "v"}, e["nested"])
}

func TestLogger_LevelNames(t *testing.T) {
	l, buf := newTestLogger(t, LevelDebug, FormatJSON)

	l.Debug("d")
	l.Info("i")
	l.Warning("w")
	l.Error("e")
	l.Critical("c")

	entries := decodeEntries(t, buf)
	require.Len(t, entries, 5)
	var levels []string
	for _, e := range entries {
		levels = append(levels, e["level"].(string))
	}
	assert.Equal(t, []string{"DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL"}, levels)
}

func TestLogger_CriticalDoesNotExit(t *testing.T) {
	l, buf := newTestLogger(t, LevelInfo, FormatJSON)

	l.CriticalWith().Str("component", "db").Msg("down")
	l.Info("still running")

	entries := decodeEntries(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "CRITICAL", entries[0]["level"])
	assert.Equal(t, "still running", entries[1]["message"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	l, buf := newTestLogger(t, LevelWarning, FormatJSON)

	l.Debug("debug msg")
	l.Info("info msg")
	l.Warning("warn msg")
	l.Error("error msg")

	s := buf.String()
	assert.NotContains(t, s, "debug msg")
	assert.NotContains(t, s, "info msg")
	assert.Contains(t, s, "warn msg")
	assert.Contains(t, s, "error msg")
}

func TestLogger_SetLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Name = "test"
	cfg.Console.Enabled = false
	buf := &bytes.Buffer{}
	l := newLogger(cfg, []*Handler{NewWriterHandler("buffer", buf, LevelDebug, FormatJSON)})
	t.Cleanup(func() { _ = l.Close() })

	assert.Equal(t, LevelInfo, l.Level())
	l.Debug("hidden")

	require.NoError(t, l.SetLevel("debug"))
	assert.Equal(t, LevelDebug, l.Level())
	l.Debug("visible")

	var verr *ValidationError
	require.ErrorAs(t, l.SetLevel("loud"), &verr)
	assert.Equal(t, "level", verr.Field)

	entries := decodeEntries(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "visible", entries[0]["message"])
}

func TestLogger_ReservedKeyCollision(t *testing.T) {
	l, buf := newTestLogger(t, LevelDebug, FormatJSON)

	l.Info("real message", Fields{"message": "fake", "level": "fake", "logger": "fake", "timestamp": "fake"})
	l.InfoWith().Str("message", "fake").Msg("second")

	entries := decodeEntries(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "real message", entries[0]["message"])
	assert.Equal(t, "INFO", entries[0]["level"])
	assert.Equal(t, "test", entries[0]["logger"])
	assert.Equal(t, "fake", entries[0]["ctx_message"])
	assert.Equal(t, "fake", entries[0]["ctx_level"])
	assert.Equal(t, "fake", entries[0]["ctx_logger"])
	assert.Equal(t, "fake", entries[0]["ctx_timestamp"])
	assert.Equal(t, "second", entries[1]["message"])
	assert.Equal(t, "fake", entries[1]["ctx_message"])
}

type panicStringer struct{}

func (panicStringer) String() string { panic("stringer exploded") }

type panicMarshaler struct{}

func (panicMarshaler) MarshalJSON() ([]byte, error) { panic("marshal exploded") }

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func TestLogger_ValueCoercion(t *testing.T) {
	l, buf := newTestLogger(t, LevelDebug, FormatJSON)

	require.NotPanics(t, func() {
		l.Info("coerced", Fields{
			"nan":       math.NaN(),
			"inf":       math.Inf(1),
			"channel":   make(chan int),
			"stringer":  panicStringer{},
			"marshaler": panicMarshaler{},
			"struct":    point{X: 1, Y: 2},
			"duration":  1500 * time.Millisecond,
			"nil":       nil,
		})
	})

	entries := decodeEntries(t, buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "NaN", e["nan"])
	assert.Equal(t, "+Inf", e["inf"])
	assert.IsType(t, "", e["channel"])
	assert.Contains(t, e["stringer"], "PANIC")
	assert.IsType(t, "", e["marshaler"])
	assert.Equal(t, map[string]any{"x": float64(1), "y": float64(2)}, e["struct"])
	assert.Equal(t, float64(1500), e["duration"])
	assert.Contains(t, e, "nil")
	assert.Nil(t, e["nil"])
}

func TestLogger_MultipleFieldMapsMerge(t *testing.T) {
	l, buf := newTestLogger(t, LevelDebug, FormatJSON)

	l.Info("merged", Fields{"a": 1, "b": 1}, Fields{"b": 2})

	entries := decodeEntries(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, float64(1), entries[0]["a"])
	assert.Equal(t, float64(2), entries[0]["b"])
}

func TestLogger_ExtraFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Name = "test"
	cfg.Console.Enabled = false
	cfg.ExtraFields = map[string]any{"service": "billing", "message": "nope"}
	buf := &bytes.Buffer{}
	l := newLogger(cfg, []*Handler{NewWriterHandler("buffer", buf, LevelDebug, FormatJSON)})
	t.Cleanup(func() { _ = l.Close() })

	l.Info("hello")

	entries := decodeEntries(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "billing", entries[0]["service"])
	assert.Equal(t, "nope", entries[0]["ctx_message"])
	assert.Equal(t, "hello", entries[0]["message"])
}

func TestLogger_WithChild(t *testing.T) {
	l, buf := newTestLogger(t, LevelDebug, FormatJSON)

	child := l.With().Str("request_id", "r-1").Fields(Fields{"tenant": "acme"}).Logger()
	child.InfoWith().Int("n", 1).Msg("from child")
	child.Log(LevelWarning, "warned", Fields{"k": "v"})
	l.Info("from parent")

	entries := decodeEntries(t, buf)
	require.Len(t, entries, 3)
	assert.Equal(t, "r-1", entries[0]["request_id"])
	assert.Equal(t, "acme", entries[0]["tenant"])
	assert.Equal(t, float64(1), entries[0]["n"])
	assert.Equal(t, "WARNING", entries[1]["level"])
	assert.Equal(t, "acme", entries[1]["tenant"])
	assert.NotContains(t, entries[2], "request_id")
}

func TestLogger_HandlerManagement(t *testing.T) {
	l, buf := newTestLogger(t, LevelDebug, FormatJSON)
	second := &bytes.Buffer{}

	assert.Equal(t, []string{"buffer"}, l.HandlerNames())
	assert.True(t, l.AddHandler(NewWriterHandler("second", second, LevelError, FormatJSON)))
	assert.False(t, l.AddHandler(NewWriterHandler("second", second, LevelDebug, FormatJSON)))
	assert.Equal(t, []string{"buffer", "second"}, l.HandlerNames())
	assert.True(t, l.HasHandler("second"))

	l.Info("info only")
	l.Error("error too")

	assert.Len(t, decodeEntries(t, buf), 2)
	secondEntries := decodeEntries(t, second)
	require.Len(t, secondEntries, 1)
	assert.Equal(t, "error too", secondEntries[0]["message"])

	require.NoError(t, l.RemoveHandler("second"))
	assert.Error(t, l.RemoveHandler("second"))
	assert.Equal(t, []string{"buffer"}, l.HandlerNames())
}

func TestLogger_CloseIsIdempotentAndSilences(t *testing.T) {
	l, buf := newTestLogger(t, LevelDebug, FormatJSON)

	l.Info("before")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	l.Info("after")
	l.InfoWith().Msg("after fluent")
	l.With().Str("k", "v").Logger().InfoWith().Msg("after child")
	assert.False(t, l.AddHandler(NewWriterHandler("late", &bytes.Buffer{}, LevelDebug, FormatJSON)))

	entries := decodeEntries(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "before", entries[0]["message"])
}

func TestLogger_CloseWaitsForInFlight(t *testing.T) {
	l, buf := newTestLogger(t, LevelDebug, FormatJSON)

	ev := l.InfoWith().Str("k", "v").Int("n", 1)
	assert.Equal(t, int64(1), l.activeOps.Load())

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- l.Close() }()

	time.Sleep(20 * time.Millisecond)
	ev.Msg("in flight")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close() did not return after the in-flight event was written")
	}
	assert.Less(t, time.Since(start), DefaultConfig().ShutdownTimeout/2, "Close returns once the event is written")
	assert.Contains(t, buf.String(), "in flight")
	assert.NotContains(t, buf.String(), "shutdown timeout")
}

func TestLogger_EveryPathReleasesInFlight(t *testing.T) {
	l, buf := newTestLogger(t, LevelDebug, FormatJSON)

	l.Info("plain")
	l.Info("with fields", Fields{"a": 1})
	l.Log(LevelWarning, "direct", Fields{"b": 2})
	l.InfoWith().Str("k", "v").Msg("fluent")
	l.ErrorWith().Err(errors.New("boom")).Any("x", []int{1}).Fields(Fields{"c": 3}).Msgf("n=%d", 1)
	l.DebugWith().Dict("d", func(e LogEvent) { e.Str("inner", "v") }).Send()
	child := l.With().Str("scope", "child").Logger()
	child.Log(LevelInfo, "child", Fields{"d": 4})
	child.InfoWith().Bool("ok", true).Msg("child fluent")
	l.Dump("cfg", map[string]int{"a": 1})
	require.NoError(t, NewPerformanceTracker(l, PerformanceConfig{Enabled: true}).
		Track("op", Fields{"e": 5}, func() error { return nil }))
	NewRequestLogger(l, DefaultConfig().Request).
		LogRequest(RequestInfo{Method: "GET", Path: "/", StatusCode: 200})
	NewTrainingLogger(l, DefaultConfig().Training).LogTrainingEvent("s", "custom", Fields{"f": 6})

	assert.Equal(t, int64(0), l.activeOps.Load())
	assert.Len(t, decodeEntries(t, buf), 12)

	start := time.Now()
	require.NoError(t, l.Close())
	assert.Less(t, time.Since(start), DefaultConfig().ShutdownTimeout/2)
	assert.Len(t, decodeEntries(t, buf), 12, "a clean Close writes no timeout warning")
}

func TestLogger_CloseTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Name = "test"
	cfg.Console.Enabled = false
	cfg.ShutdownTimeout = 20 * time.Millisecond
	l := newLogger(cfg, []*Handler{NewWriterHandler("buffer", &bytes.Buffer{}, LevelDebug, FormatJSON)})

	// Started but never sent.
	_ = l.InfoWith()

	start := time.Now()
	require.NoError(t, l.Close())
	assert.GreaterOrEqual(t, time.Since(start), cfg.ShutdownTimeout)
}

func TestLogger_TrackedEventReleasedOnce(t *testing.T) {
	l, _ := newTestLogger(t, LevelDebug, FormatJSON)

	ev := l.InfoWith()
	assert.Equal(t, int64(1), l.activeOps.Load())
	ev.Msg("first")
	ev.Msg("second")
	assert.Equal(t, int64(0), l.activeOps.Load())

	l.DebugWith().Send()
	l.WarnWith().Msgf("n=%d", 1)
	assert.Equal(t, int64(0), l.activeOps.Load())
}

func TestLogger_DisabledLevelIsNotTracked(t *testing.T) {
	l, _ := newTestLogger(t, LevelError, FormatJSON)

	_ = l.DebugWith()
	_ = l.InfoWith()
	assert.Equal(t, int64(0), l.activeOps.Load())
}

func TestLogger_ConcurrentLogging(t *testing.T) {
	l, buf := newTestLogger(t, LevelDebug, FormatJSON)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				l.Info("concurrent", Fields{"g": g, "i": i})
			}
		}(g)
	}
	wg.Wait()

	assert.Len(t, decodeEntries(t, buf), 400)
}

func TestLogger_Hook(t *testing.T) {
	l, buf := newTestLogger(t, LevelDebug, FormatJSON)

	l.Hook(zerolog.HookFunc(func(e *zerolog.Event, _ zerolog.Level, _ string) {
		e.Str("hooked", "yes")
	}))
	l.Info("with hook")

	entries := decodeEntries(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "yes", entries[0]["hooked"])
}

func TestLogger_Sampling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Name = "test"
	cfg.Console.Enabled = false
	cfg.MaxLogRate = 5
	buf := &bytes.Buffer{}
	l := newLogger(cfg, []*Handler{NewWriterHandler("buffer", buf, LevelDebug, FormatJSON)})
	t.Cleanup(func() { _ = l.Close() })

	for i := 0; i < 100; i++ {
		l.Info("sampled")
	}
	l.Error("never dropped")

	entries := decodeEntries(t, buf)
	assert.Less(t, len(entries), 50)
	assert.Equal(t, "never dropped", entries[len(entries)-1]["message"])
}

func TestLogger_Slog(t *testing.T) {
	l, buf := newTestLogger(t, LevelDebug, FormatJSON)

	sl := l.Slog()
	sl.Info("from slog", "user", "u-1", "count", 3)
	sl.WithGroup("http").With("method", "GET").Warn("grouped")
	sl.Log(context.Background(), LevelSlogCritical, "critical via slog")

	entries := decodeEntries(t, buf)
	require.Len(t, entries, 3)
	assert.Equal(t, "INFO", entries[0]["level"])
	assert.Equal(t, "u-1", entries[0]["user"])
	assert.Equal(t, float64(3), entries[0]["count"])
	assert.Equal(t, "WARNING", entries[1]["level"])
	assert.Equal(t, "GET", entries[1]["http.method"])
	assert.Equal(t, "CRITICAL", entries[2]["level"])
}

func TestLogger_SlogEnabled(t *testing.T) {
	l, _ := newTestLogger(t, LevelWarning, FormatJSON)
	h := NewSlogHandler(l)

	ctx := context.Background()
	assert.False(t, h.Enabled(ctx, -4))
	assert.False(t, h.Enabled(ctx, 0))
	assert.True(t, h.Enabled(ctx, 4))
	assert.True(t, h.Enabled(ctx, 8))
}

func TestLogger_Dump(t *testing.T) {
	l, buf := newTestLogger(t, LevelDebug, FormatJSON)

	type inner struct {
		Port int
		Tags []string
	}
	l.Dump("cfg", inner{Port: 80, Tags: []string{"a"}})

	entries := decodeEntries(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "DEBUG", entries[0]["level"])
	assert.Equal(t, "Dump: cfg", entries[0]["message"])
	assert.Equal(t, float64(80), entries[0]["cfg.Port"])
	assert.Equal(t, "a", entries[0]["cfg.Tags[0]"])
}

func TestNew(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		_, err := New(nil)
		assert.ErrorIs(t, err, ErrNilConfig)
	})

	t.Run("no handlers", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Console.Enabled = false
		_, err := New(cfg)
		assert.ErrorIs(t, err, ErrNoHandlers)
	})

	t.Run("invalid level", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Level = "LOUD"
		_, err := New(cfg)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "level", verr.Field)
	})

	t.Run("file handler", func(t *testing.T) {
		dir := t.TempDir()
		cfg := DefaultConfig()
		cfg.Name = "standalone"
		cfg.Console.Enabled = false
		cfg.File.Enabled = true
		cfg.File.Directory = dir
		cfg.Format = FormatJSON

		l, err := New(cfg)
		require.NoError(t, err)
		l.Info("to file")
		require.NoError(t, l.Close())

		content := readFile(t, dir, "standalone.log")
		assert.True(t, strings.Contains(content, `"message":"to file"`), content)
	})
}

func TestLogger_CallerPointsAtCallSite(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Name = "caller"
	cfg.Level = LevelDebug
	cfg.Format = FormatJSON
	cfg.Console.Enabled = false
	cfg.IncludeCaller = true
	require.NoError(t, validateConfig(cfg))

	buf := &bytes.Buffer{}
	l := newLogger(cfg, []*Handler{NewWriterHandler("buffer", buf, LevelDebug, FormatJSON)})
	t.Cleanup(func() { _ = l.Close() })

	l.Info("plain")
	l.Info("plain with fields", Fields{"a": 1})
	l.Log(LevelWarning, "direct", nil)
	l.InfoWith().Msg("fluent")
	l.InfoWith().Str("b", "x").Int("n", 2).Msg("fluent with fields")
	l.WarnWith().Msgf("formatted %d", 1)
	child := l.With().Str("k", "v").Logger()
	child.Log(LevelInfo, "child", nil)
	child.InfoWith().Str("c", "y").Msg("child fluent")
	l.Dump("d", 1)

	entries := decodeEntries(t, buf)
	require.Len(t, entries, 9)
	for _, e := range entries {
		assert.Contains(t, e["caller"], "logger_test.go", e["message"])
	}
}
