// Package middleware provides the HTTP middleware of the API.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"downloadflow/internal/consts"
	"downloadflow/internal/infrastructure/delivery/http/response"
	"downloadflow/internal/observability"

	"github.com/google/uuid"
)

type contextKey string

// RequestIDKey is the context key of the request id.
const RequestIDKey contextKey = "requestID"

const (
	// HeaderXRequestID carries the request id in both directions.
	HeaderXRequestID = "X-Request-ID"
)

// RequestLog is the request summary written by Logger once the handler returns.
type RequestLog struct {
	ID         string        `json:"id,omitempty"`
	Method     string        `json:"method"`
	URI        string        `json:"uri"`
	Pattern    string        `json:"pattern,omitempty"`
	RemoteAddr string        `json:"remote_addr"`
	Status     int           `json:"status"`
	Bytes      int64         `json:"bytes"`
	Duration   time.Duration `json:"duration"`
}

// RequestIDFrom returns the request id stored by RequestID.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)

	return id
}

// Recoverer turns a handler panic into a 500 response. http.ErrAbortHandler is re-panicked.
// Nothing is written when the handler had already started the response.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := wrap(w)

		defer func() {
			rvr := recover()
			if rvr == nil {
				return
			}

			if rvr == http.ErrAbortHandler { //nolint:errorlint // sentinel compared as the server does
				panic(rvr)
			}

			slog.ErrorContext(r.Context(), "handler panic",
				slog.Any("panic", rvr),
				slog.String("uri", r.RequestURI),
				slog.String("request_id", RequestIDFrom(r.Context())))

			if !rec.wroteHeader {
				response.InternalServerError(rec, consts.RespInternalError, nil, fmt.Errorf("panic: %v", rvr))
			}
		}()

		next.ServeHTTP(rec, r)
	})
}

// RequestID propagates the X-Request-ID header, generating one when missing.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(HeaderXRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), RequestIDKey, reqID)
		w.Header().Set(HeaderXRequestID, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logger logs every finished request at debug level.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := wrap(w)

		next.ServeHTTP(rec, r)

		slog.DebugContext(r.Context(), "http request",
			slog.Any("request", RequestLog{
				ID:         RequestIDFrom(r.Context()),
				Method:     r.Method,
				URI:        r.RequestURI,
				Pattern:    r.Pattern,
				RemoteAddr: r.RemoteAddr,
				Status:     rec.status,
				Bytes:      rec.bytes,
				Duration:   time.Since(start),
			}))
	})
}

// Metrics records the status and duration of every request under its route pattern.
func Metrics(metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := wrap(w)

			next.ServeHTTP(rec, r)

			pattern := r.Pattern
			if pattern == "" {
				pattern = "unmatched"
			}

			metrics.RecordHTTPRequest(r.Method, pattern, rec.status, time.Since(start))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func wrap(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}

	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true

	n, err := s.ResponseWriter.Write(b)
	s.bytes += int64(n)

	return n, err
}

// Unwrap lets http.ResponseController reach Flush on the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
