package beacon

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietConfig() *LogConfig {
	cfg := DefaultConfig()
	cfg.Console.Enabled = false
	return cfg
}

func newTestRegistry(t testing.TB, opts ...RegistryOption) *Registry {
	t.Helper()
	r := NewRegistry(opts...)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRegistry_GetOrCreate(t *testing.T) {
	r := newTestRegistry(t)

	a, err := r.GetOrCreate("a", quietConfig())
	require.NoError(t, err)
	again, err := r.GetOrCreate("a", nil)
	require.NoError(t, err)

	assert.Same(t, a, again)
	assert.Equal(t, "a", a.Name())
	assert.Same(t, a, r.Get("a"))
	assert.Nil(t, r.Get("missing"))
	assert.Empty(t, a.HandlerNames())

	_, err = r.GetOrCreate("bad", &LogConfig{Level: "LOUD"})
	require.Error(t, err)
	assert.Nil(t, r.Get("bad"))
}

func TestRegistry_ConfigNameIsOverridden(t *testing.T) {
	r := newTestRegistry(t)
	cfg := quietConfig()
	cfg.Name = "other"

	l, err := r.GetOrCreate("svc", cfg)
	require.NoError(t, err)
	assert.Equal(t, "svc", l.Name())
	assert.Equal(t, "other", cfg.Name, "caller config is not mutated")
}

func TestRegistry_ConcurrentFirstUse(t *testing.T) {
	r := newTestRegistry(t)

	const workers = 32
	got := make([]*Logger, workers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			l, err := r.GetOrCreate("shared", quietConfig())
			assert.NoError(t, err)
			got[i] = l
		}(i)
	}
	close(start)
	wg.Wait()

	for _, l := range got {
		assert.Same(t, got[0], l)
	}
	assert.Equal(t, []string{"shared"}, r.Names())
}

func TestRegistry_SetupLoggerWritesFile(t *testing.T) {
	r := newTestRegistry(t)
	dir := t.TempDir()

	l, err := r.SetupLogger("svc", WithLogDir(dir), WithDebug(true), WithConsole(false))
	require.NoError(t, err)
	assert.Equal(t, LevelDebug, l.Level())

	l.Info("started", Fields{"port": 8080})
	l.Debug("details")

	out := readFile(t, dir, "svc.log")
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "svc: started")
	assert.Contains(t, out, "port=8080")
	assert.Contains(t, out, "DEBUG")
}

func TestRegistry_SetupLoggerIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	dir := t.TempDir()

	first, err := r.SetupLogger("svc", WithLogDir(dir), WithConsole(false))
	require.NoError(t, err)
	names := first.HandlerNames()
	require.Equal(t, []string{"file:" + filepath.Join(dir, "svc.log")}, names)

	second, err := r.SetupLogger("svc", WithLogDir(dir), WithConsole(false), WithLevel(LevelError))
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, names, second.HandlerNames())
	assert.Equal(t, LevelError, second.Level(), "level is re-applied")

	other := t.TempDir()
	third, err := r.SetupLogger("svc", WithLogDir(other), WithConsole(false))
	require.NoError(t, err)
	assert.Len(t, third.HandlerNames(), 2, "a new file path adds a handler")

	first.Error("once")
	assert.Equal(t, 1, bytes.Count([]byte(readFile(t, dir, "svc.log")), []byte("once")))
}

func TestRegistry_SetupLoggerInvalid(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.SetupLogger("svc", WithLevel("LOUD"))
	require.Error(t, err)
	assert.Nil(t, r.Get("svc"))
}

func TestRegistry_SetupFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvLogName, "envsvc")
	t.Setenv(EnvLogLevel, "warning")
	t.Setenv(EnvLogFormat, "json")
	t.Setenv(EnvLogDir, dir)

	r := newTestRegistry(t)
	l, err := r.SetupFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "envsvc", l.Name())
	assert.Equal(t, LevelWarning, l.Level())

	l.Warning("from env")
	out := readFile(t, dir, "envsvc.log")
	assert.Contains(t, out, `"message":"from env"`)
	assert.Contains(t, out, `"level":"WARNING"`)
}

func TestRegistry_SetupFromMap(t *testing.T) {
	r := newTestRegistry(t)

	l, err := r.SetupFromMap(map[string]any{
		"name":    "mapped",
		"level":   "error",
		"console": map[string]any{"enabled": false},
	})
	require.NoError(t, err)
	assert.Equal(t, "mapped", l.Name())
	assert.Equal(t, LevelError, l.Level())
	assert.Empty(t, l.HandlerNames())
}

func TestRegistry_StructuredLogging(t *testing.T) {
	r := newTestRegistry(t)

	cfg := quietConfig()
	cfg.Name = "slogged"
	sl, err := r.SetupStructuredLogging(cfg, LevelDebug, FormatJSON)
	require.NoError(t, err)

	l := r.Get("slogged")
	require.NotNil(t, l)
	assert.Equal(t, LevelDebug, l.Level())
	assert.Equal(t, FormatJSON, l.Config().Format)

	var buf bytes.Buffer
	require.True(t, l.AddHandler(NewWriterHandler("buffer", &buf, LevelDebug, FormatJSON)))
	sl.Debug("via slog", "k", "v")

	entries := decodeEntries(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "v", entries[0]["k"])
	assert.Equal(t, "slogged", entries[0]["logger"])

	_, err = r.SetupStructuredLogging(cfg, "LOUD", emptyFormat)
	require.Error(t, err)

	named, err := r.StructuredLogger("slogged")
	require.NoError(t, err)
	assert.True(t, named.Enabled(context.Background(), -4))
}

func TestRegistry_RemoveAndClose(t *testing.T) {
	r := NewRegistry()

	a, err := r.GetOrCreate("a", quietConfig())
	require.NoError(t, err)
	_, err = r.GetOrCreate("b", quietConfig())
	require.NoError(t, err)

	require.NoError(t, r.Remove("a"))
	require.NoError(t, r.Remove("a"))
	assert.Nil(t, r.Get("a"))
	assert.IsType(t, &noopLogContext{}, a.With(), "removed logger is closed")

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Empty(t, r.Names())

	_, err = r.GetOrCreate("c", nil)
	assert.ErrorIs(t, err, ErrRegistryClosed)
	_, err = r.SetupLogger("c")
	assert.ErrorIs(t, err, ErrRegistryClosed)
}

func TestRegistry_DomainLoggers(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := newTestRegistry(t, WithMetricsRegisterer(reg))

	for _, name := range []string{PerformanceLoggerName, RequestsLoggerName, TrainingLoggerName} {
		_, err := r.GetOrCreate(name, quietConfig())
		require.NoError(t, err)
	}

	tracker, err := r.Tracker()
	require.NoError(t, err)
	again, err := r.Tracker()
	require.NoError(t, err)
	assert.Same(t, tracker, again)

	requests, err := r.RequestLogger()
	require.NoError(t, err)
	requestsAgain, err := r.RequestLogger()
	require.NoError(t, err)
	assert.Same(t, requests, requestsAgain)

	training, err := r.TrainingLogger()
	require.NoError(t, err)
	trainingAgain, err := r.TrainingLogger()
	require.NoError(t, err)
	assert.Same(t, training, trainingAgain)

	var buf bytes.Buffer
	perf := r.Get(PerformanceLoggerName)
	require.True(t, perf.AddHandler(NewWriterHandler("buffer", &buf, LevelDebug, FormatJSON)))

	require.NoError(t, tracker.Track("warmup", nil, func() error { return nil }))
	entries := decodeEntries(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "performance", entries[0]["logger"])

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "beacon_operation_duration_seconds", families[0].GetName())
}
