package beacon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// RequestIDHeader carries the request ID between clients and services.
const RequestIDHeader = "X-Request-ID"

type contextKey string

const requestIDKey contextKey = "request_id"

// ContextWithRequestID returns a new context with the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return emptyString
}

// RequestInfo describes one completed HTTP request. Empty optional fields
// are omitted from the entry.
type RequestInfo struct {
	Method     string
	Path       string
	StatusCode int
	Duration   time.Duration

	UserAgent   string
	IPAddress   string
	Headers     map[string]string
	QueryParams map[string]any
	Body        string

	UserID    string
	SessionID string
	RequestID string

	// Extra is merged into the entry last.
	Extra Fields
}

// RequestLogger writes one entry per HTTP request. The level follows the
// status code: 5xx ERROR, 4xx WARNING, anything else INFO.
type RequestLogger struct {
	logger    EventLogger
	cfg       RequestLoggingConfig
	sensitive []string
	now       func() time.Time
}

// NewRequestLogger binds a request logger to l.
func NewRequestLogger(l EventLogger, cfg RequestLoggingConfig) *RequestLogger {
	sensitive := make([]string, len(cfg.SensitiveHeaders))
	for i, h := range cfg.SensitiveHeaders {
		sensitive[i] = strings.ToLower(h)
	}
	return &RequestLogger{logger: l, cfg: cfg, sensitive: sensitive, now: time.Now}
}

// LogRequest writes "HTTP <METHOD> <path> - <status> (<seconds>s)".
func (rl *RequestLogger) LogRequest(info RequestInfo) {
	if !rl.cfg.Enabled {
		return
	}

	seconds := info.Duration.Seconds()
	fields := Fields{
		"method":           info.Method,
		"path":             info.Path,
		"status_code":      info.StatusCode,
		"duration_ms":      float64(info.Duration) / float64(time.Millisecond),
		"duration_seconds": seconds,
	}
	if rl.cfg.LogHeaders && len(info.Headers) > 0 {
		fields["headers"] = rl.safeHeaders(info.Headers)
	}
	if rl.cfg.LogQueryParams && len(info.QueryParams) > 0 {
		fields["query_params"] = info.QueryParams
	}
	if rl.cfg.LogBody && info.Body != emptyString {
		fields["body"] = info.Body
	}
	setIfPresent(fields, "user_agent", info.UserAgent)
	setIfPresent(fields, "ip_address", info.IPAddress)
	setIfPresent(fields, "user_id", info.UserID)
	setIfPresent(fields, "session_id", info.SessionID)
	setIfPresent(fields, "request_id", info.RequestID)

	msg := fmt.Sprintf("HTTP %s %s - %d (%.3fs)", info.Method, info.Path, info.StatusCode, seconds)
	rl.logger.Log(statusLevel(info.StatusCode), msg, mergeFields(fields, info.Extra))
}

func statusLevel(status int) Level {
	switch {
	case status >= 500:
		return LevelError
	case status >= 400:
		return LevelWarning
	default:
		return LevelInfo
	}
}

// safeHeaders drops sensitive headers, compared case-insensitively.
func (rl *RequestLogger) safeHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if slices.Contains(rl.sensitive, strings.ToLower(k)) {
			continue
		}
		out[k] = v
	}
	return out
}

func setIfPresent(f Fields, key, val string) {
	if val != emptyString {
		f[key] = val
	}
}

// Middleware logs every request served by next. It reuses an incoming
// X-Request-ID or generates one, echoes it on the response and stores it in
// the request context. A panic in next is logged as a 500 and re-raised.
func (rl *RequestLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == emptyString {
			requestID = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, requestID)
		r = r.WithContext(ContextWithRequestID(r.Context(), requestID))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := rl.now()
		defer func() {
			rec := recover()
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			extra := Fields{"bytes_written": ww.BytesWritten()}
			if rec != nil {
				if status < http.StatusInternalServerError {
					status = http.StatusInternalServerError
				}
				extra["panic"] = fmt.Sprint(rec)
			}
			rl.LogRequest(RequestInfo{
				Method:      r.Method,
				Path:        r.URL.Path,
				StatusCode:  status,
				Duration:    rl.now().Sub(start),
				UserAgent:   r.UserAgent(),
				IPAddress:   clientIP(r),
				Headers:     flattenHeader(r.Header),
				QueryParams: queryParams(r),
				RequestID:   requestID,
				Extra:       extra,
			})
			if rec != nil {
				panic(rec)
			}
		}()

		next.ServeHTTP(ww, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func flattenHeader(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}

func queryParams(r *http.Request) map[string]any {
	q := r.URL.Query()
	if len(q) == 0 {
		return nil
	}
	out := make(map[string]any, len(q))
	for k, v := range q {
		if len(v) == 1 {
			out[k] = v[0]
		} else {
			out[k] = v
		}
	}
	return out
}

// LogRequestInfo writes a compact "HTTP request" INFO entry from a loosely
// typed map. Only method, path, status_code, duration, user_agent and
// ip_address are read; missing keys are logged as null.
func LogRequestInfo(l EventLogger, info map[string]any) {
	fields := make(Fields, 6)
	for _, key := range []string{"method", "path", "status_code", "duration", "user_agent", "ip_address"} {
		fields[key] = info[key]
	}
	l.Log(LevelInfo, "HTTP request", fields)
}
