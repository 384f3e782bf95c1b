package beacon

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// rollingFile enforces the byte budget of a file handler in front of
// lumberjack, which only rolls over in whole megabytes. lumberjack still
// names, compresses and prunes the backups.
type rollingFile struct {
	mu       sync.Mutex
	lj       *lumberjack.Logger
	maxBytes int64 // 0 disables size rollover
	size     int64
	lastRoll time.Time
}

func newRollingFile(lj *lumberjack.Logger, maxBytes int64) (*rollingFile, error) {
	f := &rollingFile{lj: lj, maxBytes: maxBytes}
	info, err := os.Stat(lj.Filename)
	switch {
	case err == nil:
		f.size = info.Size()
	case !os.IsNotExist(err):
		return nil, err
	}
	return f, nil
}

// Write rolls the file over first when p would take it past maxBytes. A
// single record larger than the budget still goes to a fresh file whole.
func (f *rollingFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.maxBytes > 0 && f.size > 0 && f.size+int64(len(p)) > f.maxBytes {
		if err := f.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := f.lj.Write(p)
	f.size += int64(n)
	return n, err
}

func (f *rollingFile) Rotate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rotate()
}

// rotate never rolls over twice within one millisecond: backups are named
// by millisecond and a second rename onto the same name would replace the
// first backup.
func (f *rollingFile) rotate() error {
	if !f.lastRoll.IsZero() {
		last := f.lastRoll.Truncate(time.Millisecond)
		for time.Now().Truncate(time.Millisecond).Equal(last) {
			time.Sleep(100 * time.Microsecond)
		}
	}
	err := f.lj.Rotate()
	f.lastRoll = time.Now()
	if err != nil {
		return err
	}
	f.size = 0
	return nil
}

func (f *rollingFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lj.Close()
}

// timedRotator rolls a file over on a fixed schedule until stopped.
type timedRotator struct {
	when     string
	interval int
	rotate   func() error
	now      func() time.Time

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newTimedRotator(when string, interval int, rotate func() error) (*timedRotator, error) {
	switch when {
	case "s", "m", "h", "d", "midnight":
	default:
		return nil, fmt.Errorf("unsupported rotation schedule %q", when)
	}
	if interval < 1 {
		interval = 1
	}
	return &timedRotator{
		when:     when,
		interval: interval,
		rotate:   rotate,
		now:      time.Now,
		done:     make(chan struct{}),
	}, nil
}

// next returns the first rollover instant after from.
func (r *timedRotator) next(from time.Time) time.Time {
	n := time.Duration(r.interval)
	switch r.when {
	case "s":
		return from.Add(n * time.Second)
	case "m":
		return from.Add(n * time.Minute)
	case "h":
		return from.Add(n * time.Hour)
	case "d":
		return from.AddDate(0, 0, r.interval)
	default: // midnight
		y, m, d := from.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, from.Location()).AddDate(0, 0, r.interval)
	}
}

func (r *timedRotator) start() {
	r.wg.Add(1)
	go r.run()
}

func (r *timedRotator) run() {
	defer r.wg.Done()
	for {
		now := r.now()
		timer := time.NewTimer(r.next(now).Sub(now))
		select {
		case <-timer.C:
			if err := r.rotate(); err != nil {
				reportError(fmt.Errorf("log rotation failed: %w", err))
			}
		case <-r.done:
			timer.Stop()
			return
		}
	}
}

func (r *timedRotator) stop() {
	r.stopOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}

// reportError surfaces write-path failures without ever returning them to a
// log call site.
func reportError(err error) {
	if zerolog.ErrorHandler != nil {
		zerolog.ErrorHandler(err)
		return
	}
	_, _ = fmt.Fprintf(os.Stderr, "beacon: %v\n", err)
}
