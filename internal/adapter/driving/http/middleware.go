package httphandler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/opscenter/internal/domain/model"
)

// Headers set by the upstream auth proxy and by this service.
const (
	headerUser          = "X-Ops-User"
	headerRole          = "X-Ops-Role"
	headerRequestID     = "X-Request-ID"
	headerAuditDegraded = "X-Audit-Degraded"

	roleAdmin = "admin"
)

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyPrincipal
)

// statusWriter wraps http.ResponseWriter to capture the response status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader captures the status code and delegates to the embedded writer.
func (sw *statusWriter) WriteHeader(status int) {
	sw.status = status
	sw.ResponseWriter.WriteHeader(status)
}

// requestIDMiddleware propagates a valid incoming X-Request-ID or assigns a new one.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)

		ctx := context.WithValue(r.Context(), ctxKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs each HTTP request with method, path, status, and duration.
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start).Round(time.Microsecond),
			"request_id", requestID(r.Context()),
			"principal", r.Header.Get(headerUser),
		)
	})
}

// recoveryMiddleware recovers from panics in HTTP handlers, logs the error,
// and returns a 500 response.
func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				logger.Error("panic recovered",
					"panic", v,
					"path", r.URL.Path,
					"request_id", requestID(r.Context()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// auditStateMiddleware flags every response while the audit log is degraded.
func auditStateMiddleware(degraded func() bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if degraded() {
			w.Header().Set(headerAuditDegraded, "true")
		}
		next.ServeHTTP(w, r)
	})
}

// requirePrincipal rejects requests without an authenticated user header.
func requirePrincipal(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get(headerUser)
		if user == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		// The system owner sentinel is never a valid user identity.
		if user == model.SystemOwner {
			writeError(w, http.StatusForbidden, "reserved principal")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyPrincipal, user)
		next(w, r.WithContext(ctx))
	}
}

// requireAdmin additionally requires the admin role.
func requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return requirePrincipal(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(headerRole) != roleAdmin {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next(w, r)
	})
}

func principal(ctx context.Context) string {
	p, _ := ctx.Value(ctxKeyPrincipal).(string)
	return p
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}
