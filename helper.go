package beacon

import (
	stderrs "errors"
	"strings"

	smerrors "github.com/Station-Manager/errors"
	"github.com/rs/zerolog"
)

// buildErrorChain walks an error's cause chain and returns:
//   - chain: outermost -> innermost error messages
//   - ops: operation identifiers for DetailedError links ("" if not available)
//   - root: the innermost error message
//   - rootOp: the innermost operation identifier if available
//
// DetailedError.Cause() is preferred over errors.Unwrap. Depth is capped and
// repeated messages stop the walk.
func buildErrorChain(err error) (chain []string, ops []string, root string, rootOp string) {
	const maxDepth = 50
	visited := 0
	seen := map[string]bool{}

	for err != nil && visited < maxDepth {
		visited++

		if dErr, ok := smerrors.AsDetailedError(err); ok && dErr != nil {
			chain = append(chain, dErr.Error())
			ops = append(ops, string(dErr.Op()))
			err = dErr.Cause()
			continue
		}

		msg := safeString(err)
		if seen[msg] {
			break
		}
		seen[msg] = true
		chain = append(chain, msg)
		ops = append(ops, emptyString)
		err = stderrs.Unwrap(err)
	}

	if len(chain) > 0 {
		root = chain[len(chain)-1]
	}
	if len(ops) > 0 {
		rootOp = ops[len(ops)-1]
	}
	return
}

// joinChain returns a single string for the error chain separated by " -> ".
func joinChain(chain []string) string {
	if len(chain) == 0 {
		return emptyString
	}
	return strings.Join(chain, " -> ")
}

// event creates a record at level on zl, or on the logger's current
// zerolog.Logger when zl is nil. The record is counted as in flight until it
// is written so Close can wait for it. Disabled levels and closed loggers
// yield a no-op event.
func (l *Logger) event(zl *zerolog.Logger, level Level) *logEvent {
	if l == nil || !l.isInitialized.Load() {
		return newLogEvent(nil)
	}

	// Close flips isInitialized under the write lock, so once it starts
	// waiting no new event can be counted.
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.isInitialized.Load() {
		return newLogEvent(nil)
	}

	if zl == nil {
		zl = l.logger.Load()
		if zl == nil {
			return newLogEvent(nil)
		}
	}

	// WithLevel never exits or panics, which keeps CRITICAL non-fatal.
	e := zl.WithLevel(normalizeLevel(level).zerolog())
	if e == nil {
		return newLogEvent(nil)
	}

	l.activeOps.Add(1)
	l.wg.Add(1)
	return newTrackedLogEvent(e, l)
}

// emitSkipFrames is the number of frames emit and its exported wrapper add
// between user code and the event's Msg call.
const emitSkipFrames = 2

// emit writes one record for the Debug..Critical and Log methods. The
// caller field still points at user code.
func (l *Logger) emit(zl *zerolog.Logger, level Level, msg string, fields Fields) {
	l.event(zl, level).skipCallerFrames(emitSkipFrames).Fields(fields).Msg(msg)
}

// release marks one in-flight record as written.
func (l *Logger) release() {
	l.activeOps.Add(-1)
	l.wg.Done()
}
