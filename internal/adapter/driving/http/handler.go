// Package httphandler is the REST driving adapter for the credential subsystem.
package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ericfisherdev/opscenter/internal/application"
	"github.com/ericfisherdev/opscenter/internal/domain/model"
)

// maxBodyBytes bounds request bodies; a secret plus metadata is far below this.
const maxBodyBytes = 64 << 10

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	creds  *application.CredentialService
	audit  *application.AuditLog
	health *application.HealthService
	logger *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	creds *application.CredentialService,
	audit *application.AuditLog,
	health *application.HealthService,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		creds:  creds,
		audit:  audit,
		health: health,
		logger: logger,
	}
}

// ownerFunc resolves the credential owner a route operates on.
type ownerFunc func(r *http.Request) string

// byokOwner scopes user routes to the authenticated principal.
func byokOwner(r *http.Request) string { return principal(r.Context()) }

// systemOwner scopes admin routes to platform credentials.
func systemOwner(*http.Request) string { return model.SystemOwner }

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with request id, logging, recovery and audit state middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("GET /api/v1/registry", h.Registry)

	// Bring-your-own-key routes, owned by the calling user.
	mux.HandleFunc("GET /api/v1/keys", requirePrincipal(h.listCredentials(byokOwner)))
	mux.HandleFunc("POST /api/v1/keys", requirePrincipal(h.addCredential(byokOwner)))
	mux.HandleFunc("POST /api/v1/keys/{service}/{type}/test", requirePrincipal(h.testCredential(byokOwner)))
	mux.HandleFunc("POST /api/v1/keys/{service}/{type}/rotate", requirePrincipal(h.rotateCredential(byokOwner)))
	mux.HandleFunc("DELETE /api/v1/keys/{service}/{type}", requirePrincipal(h.removeCredential(byokOwner)))

	// Platform credentials and audit review.
	mux.HandleFunc("GET /api/v1/admin/credentials", requireAdmin(h.listCredentials(systemOwner)))
	mux.HandleFunc("POST /api/v1/admin/credentials", requireAdmin(h.addCredential(systemOwner)))
	mux.HandleFunc("POST /api/v1/admin/credentials/{service}/{type}/test", requireAdmin(h.testCredential(systemOwner)))
	mux.HandleFunc("POST /api/v1/admin/credentials/{service}/{type}/rotate", requireAdmin(h.rotateCredential(systemOwner)))
	mux.HandleFunc("DELETE /api/v1/admin/credentials/{service}/{type}", requireAdmin(h.removeCredential(systemOwner)))
	mux.HandleFunc("GET /api/v1/admin/audit", requireAdmin(h.QueryAudit))
	mux.HandleFunc("GET /api/v1/admin/audit/verify", requireAdmin(h.VerifyAudit))

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = auditStateMiddleware(h.audit.Degraded, wrapped)
	wrapped = loggingMiddleware(logger, wrapped)
	wrapped = requestIDMiddleware(wrapped)

	return wrapped
}

// Health reports database reachability and audit log state.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.health.Check(r.Context())

	status := http.StatusOK
	if report.Database != application.HealthOK {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, HealthResponse{
		Status:        report.Status,
		Database:      report.Database,
		AuditDegraded: report.AuditDegraded,
		AuditFailures: report.AuditFailures,
		Time:          report.CheckedAt.Format(time.RFC3339),
	})
}

// Registry returns the service catalog with key format hints.
func (h *Handler) Registry(w http.ResponseWriter, _ *http.Request) {
	services := h.creds.Registry().Services()
	resp := make([]ServiceResponse, 0, len(services))
	for _, s := range services {
		resp = append(resp, toServiceResponse(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listCredentials(owner ownerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		views, err := h.creds.List(r.Context(), owner(r))
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}

		resp := make([]CredentialResponse, 0, len(views))
		for _, v := range views {
			resp = append(resp, toCredentialResponse(v))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (h *Handler) addCredential(owner ownerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body AddCredentialRequest
		if err := decodeBody(w, r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		view, err := h.creds.Add(r.Context(), application.AddRequest{
			Actor:          principal(r.Context()),
			Owner:          owner(r),
			Service:        body.Service,
			CredentialType: body.CredentialType,
			Secret:         body.Secret,
			Label:          body.Label,
			Metadata:       body.Metadata,
		})
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toCredentialResponse(view))
	}
}

func (h *Handler) testCredential(owner ownerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := h.creds.Test(r.Context(), application.TestRequest{
			Actor:          principal(r.Context()),
			Owner:          owner(r),
			Service:        r.PathValue("service"),
			CredentialType: r.PathValue("type"),
		})
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toTestResultResponse(result))
	}
}

func (h *Handler) rotateCredential(owner ownerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body RotateCredentialRequest
		if err := decodeBody(w, r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		view, err := h.creds.Rotate(r.Context(), application.RotateRequest{
			Actor:          principal(r.Context()),
			Owner:          owner(r),
			Service:        r.PathValue("service"),
			CredentialType: r.PathValue("type"),
			Secret:         body.Secret,
			Reason:         body.Reason,
		})
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toCredentialResponse(view))
	}
}

func (h *Handler) removeCredential(owner ownerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h.creds.Remove(r.Context(), application.RemoveRequest{
			Actor:          principal(r.Context()),
			Owner:          owner(r),
			Service:        r.PathValue("service"),
			CredentialType: r.PathValue("type"),
			Reason:         r.URL.Query().Get("reason"),
		})
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// QueryAudit returns one page of audit entries. Filters: actor, action,
// service, credential_id, since, until (RFC 3339), limit, cursor.
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.audit.Page(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to query audit log", "error", err, "request_id", requestID(r.Context()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := AuditPageResponse{
		Entries:    make([]AuditEntryResponse, 0, len(page.Entries)),
		NextCursor: page.NextCursor,
	}
	for _, e := range page.Entries {
		resp.Entries = append(resp.Entries, toAuditEntryResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// VerifyAudit walks the audit hash chain.
func (h *Handler) VerifyAudit(w http.ResponseWriter, r *http.Request) {
	report, err := h.audit.Verify(r.Context())
	if err != nil {
		h.logger.Error("failed to verify audit chain", "error", err, "request_id", requestID(r.Context()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, ChainReportResponse{
		Checked:  report.Checked,
		Intact:   report.Intact,
		BrokenAt: report.BrokenAt,
	})
}

func parseAuditFilter(r *http.Request) (model.AuditFilter, error) {
	q := r.URL.Query()
	filter := model.AuditFilter{
		Actor:        q.Get("actor"),
		Action:       model.AuditAction(q.Get("action")),
		Service:      q.Get("service"),
		CredentialID: q.Get("credential_id"),
	}

	if filter.Action != "" && !filter.Action.Valid() {
		return model.AuditFilter{}, errors.New("invalid action")
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"since", &filter.Since}, {"until", &filter.Until}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return model.AuditFilter{}, errors.New("invalid " + p.name + " timestamp, want RFC 3339")
		}
		*p.dst = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return model.AuditFilter{}, errors.New("invalid limit")
		}
		filter.Limit = n
	}
	if v := q.Get("cursor"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return model.AuditFilter{}, errors.New("invalid cursor")
		}
		filter.Cursor = n
	}
	return filter, nil
}

// writeServiceError maps the credential error taxonomy onto HTTP statuses.
// Crypto failures only ever produce the generic message.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *model.ValidationError
	var rlErr *model.RateLimitError

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error(), Field: verr.Field})
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "credential not found")
	case errors.Is(err, model.ErrConflict):
		writeError(w, http.StatusConflict, "credential already exists")
	case errors.As(err, &rlErr):
		secs := model.RateDecision{RetryAfter: rlErr.RetryAfter}.RetryAfterSeconds()
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded", RetryAfter: secs})
	case errors.Is(err, model.ErrCredentialUnavailable), errors.Is(err, model.ErrCrypto):
		writeError(w, http.StatusInternalServerError, model.ErrCredentialUnavailable.Error())
	case errors.Is(err, model.ErrAuditUnavailable):
		w.Header().Set(headerAuditDegraded, "true")
		writeError(w, http.StatusServiceUnavailable, "audit log unavailable, operation not confirmed")
	default:
		h.logger.Error("credential operation failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", requestID(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
