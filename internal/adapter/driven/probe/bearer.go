package probe

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ericfisherdev/opscenter/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Prober = (*Bearer)(nil)

// Bearer probes APIs that accept "Authorization: Bearer <key>" on a cheap GET
// endpoint (OpenAI /models, OpenRouter /auth/key, Hugging Face /whoami-v2).
type Bearer struct {
	client *http.Client
	url    string
}

// NewBearer creates a Bearer probe against the given endpoint URL.
func NewBearer(client *http.Client, endpoint string) *Bearer {
	return &Bearer{client: client, url: endpoint}
}

// Probe succeeds on any 2xx response.
func (p *Bearer) Probe(ctx context.Context, in driven.ProbeInput) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+in.Secret)
	req.Header.Set("Accept", "application/json")

	status, _, err := do(p.client, req)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return rejected(status, "")
	}
	return nil
}

// Compile-time interface satisfaction check.
var _ driven.Prober = (*Anthropic)(nil)

// Anthropic probes the Anthropic API, which authenticates with x-api-key.
type Anthropic struct {
	client  *http.Client
	baseURL string
}

// NewAnthropic creates an Anthropic probe.
func NewAnthropic(client *http.Client, baseURL string) *Anthropic {
	return &Anthropic{client: client, baseURL: baseURL}
}

// Probe lists models, which requires a valid key and costs no tokens.
func (p *Anthropic) Probe(ctx context.Context, in driven.ProbeInput) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models?limit=1", nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("x-api-key", in.Secret)
	req.Header.Set("anthropic-version", "2023-06-01")

	status, _, err := do(p.client, req)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return rejected(status, "")
	}
	return nil
}
