package beacon

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

// PerformanceTracker writes one entry per timed operation:
//
//	Performance: <operation> took <seconds>s
//
// with operation, duration_ms, duration_seconds and the caller's context.
// Failed operations also carry error and success=false. Nothing is kept in
// memory; aggregate with the optional Prometheus histogram instead.
type PerformanceTracker struct {
	logger    EventLogger
	cfg       PerformanceConfig
	threshold time.Duration
	now       func() time.Time

	histogram atomic.Pointer[prometheus.HistogramVec]
}

// NewPerformanceTracker binds a tracker to l.
func NewPerformanceTracker(l EventLogger, cfg PerformanceConfig) *PerformanceTracker {
	return &PerformanceTracker{
		logger:    l,
		cfg:       cfg,
		threshold: time.Duration(cfg.ThresholdMS * float64(time.Millisecond)),
		now:       time.Now,
	}
}

// RegisterMetrics registers the beacon_operation_duration_seconds histogram
// with reg and observes every finished operation into it. Registering twice
// against the same registry reuses the existing collector.
func (t *PerformanceTracker) RegisterMetrics(reg prometheus.Registerer) error {
	hv := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "beacon",
			Name:      "operation_duration_seconds",
			Help:      "Duration of tracked operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "success"},
	)
	if err := reg.Register(hv); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return err
		}
		existing, ok := are.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return err
		}
		hv = existing
	}
	t.histogram.Store(hv)
	return nil
}

// Span is an operation in progress. Only the first End or EndWithError call
// records it.
type Span struct {
	tracker   *PerformanceTracker
	operation string
	fields    Fields
	start     time.Time
	done      atomic.Bool
}

// Start begins timing operation.
func (t *PerformanceTracker) Start(operation string, fields Fields) *Span {
	return &Span{
		tracker:   t,
		operation: operation,
		fields:    fields,
		start:     t.now(),
	}
}

// End records a successful operation and returns its duration.
func (s *Span) End() time.Duration {
	return s.finish(nil)
}

// EndWithError records the operation as failed when err is non-nil.
func (s *Span) EndWithError(err error) time.Duration {
	return s.finish(err)
}

func (s *Span) finish(err error) time.Duration {
	d := s.tracker.now().Sub(s.start)
	if !s.done.CompareAndSwap(false, true) {
		return d
	}
	s.tracker.record(s.operation, d, s.fields, err)
	return d
}

// Track times fn. A returned error marks the entry as failed and is passed
// back. A panic is recorded as a failure and then re-raised.
func (t *PerformanceTracker) Track(operation string, fields Fields, fn func() error) (err error) {
	span := t.Start(operation, fields)
	defer func() {
		if r := recover(); r != nil {
			span.finish(fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()
	err = fn()
	span.finish(err)
	return err
}

// LogPerformance records an operation timed by the caller.
func (t *PerformanceTracker) LogPerformance(operation string, duration time.Duration, fields Fields) {
	t.record(operation, duration, fields, nil)
}

func (t *PerformanceTracker) record(operation string, d time.Duration, fields Fields, opErr error) {
	if hv := t.histogram.Load(); hv != nil {
		hv.WithLabelValues(operation, strconv.FormatBool(opErr == nil)).Observe(d.Seconds())
	}
	if !t.cfg.Enabled || d < t.threshold {
		return
	}

	seconds := d.Seconds()
	entry := Fields{
		"operation":        operation,
		"duration_ms":      float64(d) / float64(time.Millisecond),
		"duration_seconds": seconds,
	}
	if opErr != nil {
		entry["error"] = safeString(opErr)
		entry["success"] = false
	}
	t.logger.InfoWith().
		Fields(mergeFields(fields, entry)).
		Msgf("Performance: %s took %.3fs", operation, seconds)
}
