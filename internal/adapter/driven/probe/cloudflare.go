package probe

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ericfisherdev/opscenter/internal/domain/model"
	"github.com/ericfisherdev/opscenter/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Prober = (*Cloudflare)(nil)

// Cloudflare verifies API tokens with the /user/tokens/verify endpoint.
type Cloudflare struct {
	client  *http.Client
	baseURL string
}

// NewCloudflare creates a Cloudflare token probe.
func NewCloudflare(client *http.Client, baseURL string) *Cloudflare {
	return &Cloudflare{client: client, baseURL: baseURL}
}

type cloudflareVerifyResponse struct {
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Result struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"result"`
}

// Probe passes only when the token exists and its status is "active".
func (p *Cloudflare) Probe(ctx context.Context, in driven.ProbeInput) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/user/tokens/verify", nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+in.Secret)

	status, body, err := do(p.client, req)
	if err != nil {
		return err
	}

	var resp cloudflareVerifyResponse
	if err := decodeJSON(body, &resp); err != nil {
		if status < 200 || status > 299 {
			return rejected(status, "")
		}
		return err
	}

	if !resp.Success {
		reason := ""
		if len(resp.Errors) > 0 {
			reason = fmt.Sprintf("code %d: %s", resp.Errors[0].Code, resp.Errors[0].Message)
		}
		return rejected(status, reason)
	}
	if resp.Result.Status != "active" {
		return fmt.Errorf("%w: token status is %q", model.ErrUpstreamProbe, resp.Result.Status)
	}
	return nil
}
