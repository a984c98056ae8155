package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/ericfisherdev/opscenter/internal/application"
	"github.com/ericfisherdev/opscenter/internal/domain/model"
)

// metadataPolicy strips all markup from metadata values before they are
// rendered by the admin frontend.
var metadataPolicy = bluemonday.StrictPolicy()

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error      string `json:"error"`
	Field      string `json:"field,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// CredentialResponse is the JSON representation of a stored credential. It
// carries the mask only.
type CredentialResponse struct {
	ID             string            `json:"id"`
	Service        string            `json:"service"`
	CredentialType string            `json:"credential_type"`
	Mask           string            `json:"mask"`
	Metadata       map[string]string `json:"metadata"`
	CreatedAt      string            `json:"created_at"`
	UpdatedAt      string            `json:"updated_at"`
	LastTestedAt   *string           `json:"last_tested_at"`
	LastTestStatus string            `json:"last_test_status"`
}

// TestResultResponse is the JSON representation of a provider probe outcome.
type TestResultResponse struct {
	Service        string `json:"service"`
	CredentialType string `json:"credential_type"`
	Status         string `json:"status"`
	Passed         bool   `json:"passed"`
	Message        string `json:"message"`
	TestedAt       string `json:"tested_at"`
	DurationMS     int64  `json:"duration_ms"`
}

// ServiceResponse is one registry catalog entry.
type ServiceResponse struct {
	Name             string   `json:"name"`
	DisplayName      string   `json:"display_name"`
	CredentialTypes  []string `json:"credential_types"`
	KeyFormatHint    string   `json:"key_format_hint,omitempty"`
	RequiredMetadata []string `json:"required_metadata"`
}

// AuditEntryResponse is the JSON representation of an audit entry.
type AuditEntryResponse struct {
	Seq            int64  `json:"seq"`
	ID             string `json:"id"`
	Actor          string `json:"actor"`
	Action         string `json:"action"`
	CredentialID   string `json:"credential_id"`
	Owner          string `json:"owner"`
	Service        string `json:"service"`
	CredentialType string `json:"credential_type"`
	Result         string `json:"result"`
	Detail         string `json:"detail"`
	Timestamp      string `json:"timestamp"`
	Hash           string `json:"hash"`
}

// AuditPageResponse is one page of audit entries.
type AuditPageResponse struct {
	Entries    []AuditEntryResponse `json:"entries"`
	NextCursor int64                `json:"next_cursor,omitempty"`
}

// ChainReportResponse is the result of audit chain verification.
type ChainReportResponse struct {
	Checked  int64 `json:"checked"`
	Intact   bool  `json:"intact"`
	BrokenAt int64 `json:"broken_at,omitempty"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status        string `json:"status"`
	Database      string `json:"database"`
	AuditDegraded bool   `json:"audit_degraded"`
	AuditFailures int64  `json:"audit_failures"`
	Time          string `json:"time"`
}

// AddCredentialRequest is the JSON body for the add endpoints.
type AddCredentialRequest struct {
	Service        string            `json:"service"`
	CredentialType string            `json:"credential_type"`
	Secret         string            `json:"secret"`
	Label          string            `json:"label"`
	Metadata       map[string]string `json:"metadata"`
}

// RotateCredentialRequest is the JSON body for the rotate endpoints.
type RotateCredentialRequest struct {
	Secret string `json:"secret"`
	Reason string `json:"reason"`
}

// toCredentialResponse converts a view to its JSON representation.
// Metadata values are sanitized here, at the rendering boundary.
func toCredentialResponse(v model.CredentialView) CredentialResponse {
	metadata := make(map[string]string, len(v.Metadata))
	for k, val := range v.Metadata {
		metadata[k] = metadataPolicy.Sanitize(val)
	}

	resp := CredentialResponse{
		ID:             v.ID,
		Service:        v.Service,
		CredentialType: v.CredentialType,
		Mask:           v.Mask,
		Metadata:       metadata,
		CreatedAt:      v.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      v.UpdatedAt.UTC().Format(time.RFC3339),
		LastTestStatus: string(v.LastTestStatus),
	}
	if v.LastTestedAt != nil {
		ts := v.LastTestedAt.UTC().Format(time.RFC3339)
		resp.LastTestedAt = &ts
	}
	return resp
}

// toTestResultResponse converts a probe result to its JSON representation.
func toTestResultResponse(r model.ProbeResult) TestResultResponse {
	return TestResultResponse{
		Service:        r.Service,
		CredentialType: r.CredentialType,
		Status:         string(r.Status),
		Passed:         r.Passed(),
		Message:        r.Message,
		TestedAt:       r.TestedAt.UTC().Format(time.RFC3339),
		DurationMS:     r.Duration.Milliseconds(),
	}
}

// toServiceResponse converts a registry entry to its JSON representation.
func toServiceResponse(s application.ServiceSpec) ServiceResponse {
	required := s.RequiredMetadata
	if required == nil {
		required = []string{}
	}
	return ServiceResponse{
		Name:             s.Name,
		DisplayName:      s.DisplayName,
		CredentialTypes:  s.CredentialTypes,
		KeyFormatHint:    s.KeyFormatHint,
		RequiredMetadata: required,
	}
}

// toAuditEntryResponse converts an audit entry to its JSON representation.
func toAuditEntryResponse(e model.AuditEntry) AuditEntryResponse {
	return AuditEntryResponse{
		Seq:            e.Seq,
		ID:             e.ID,
		Actor:          e.Actor,
		Action:         string(e.Action),
		CredentialID:   e.CredentialID,
		Owner:          e.Owner,
		Service:        e.Service,
		CredentialType: e.CredentialType,
		Result:         string(e.Result),
		Detail:         e.Detail,
		Timestamp:      e.Timestamp.UTC().Format(time.RFC3339Nano),
		Hash:           e.Hash,
	}
}
