// Package probe implements provider test probes: one lightweight, read-only
// API call per service that proves a credential is accepted.
package probe

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ericfisherdev/opscenter/internal/domain/model"
	"github.com/ericfisherdev/opscenter/internal/domain/port/driven"
)

// maxBodyBytes bounds how much of a provider response is read.
const maxBodyBytes = 64 << 10

// NewHTTPClient returns the client shared by the plain HTTP probes. The
// per-probe deadline comes from the caller's context.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			// Never forward credential headers to a redirect target.
			return http.ErrUseLastResponse
		},
	}
}

// Endpoints holds provider base URLs. Tests point them at httptest servers.
type Endpoints struct {
	Cloudflare  string
	NameCheap   string
	GitHub      string
	Stripe      string
	OpenAI      string
	Anthropic   string
	OpenRouter  string
	HuggingFace string
}

// DefaultEndpoints returns the production provider URLs.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Cloudflare:  "https://api.cloudflare.com/client/v4",
		NameCheap:   "https://api.namecheap.com/xml.response",
		GitHub:      "https://api.github.com/",
		Stripe:      "https://api.stripe.com",
		OpenAI:      "https://api.openai.com/v1",
		Anthropic:   "https://api.anthropic.com/v1",
		OpenRouter:  "https://openrouter.ai/api/v1",
		HuggingFace: "https://huggingface.co/api",
	}
}

// Defaults wires one prober per registry service.
func Defaults(client *http.Client, ep Endpoints) (map[string]driven.Prober, error) {
	gh, err := NewGitHub(ep.GitHub)
	if err != nil {
		return nil, err
	}

	return map[string]driven.Prober{
		"cloudflare":  NewCloudflare(client, ep.Cloudflare),
		"namecheap":   NewNameCheap(client, ep.NameCheap),
		"github":      gh,
		"stripe":      NewStripe(client, ep.Stripe),
		"openai":      NewBearer(client, ep.OpenAI+"/models"),
		"openrouter":  NewBearer(client, ep.OpenRouter+"/auth/key"),
		"huggingface": NewBearer(client, ep.HuggingFace+"/whoami-v2"),
		"anthropic":   NewAnthropic(client, ep.Anthropic),
	}, nil
}

// rejected builds the error for a provider that answered but refused the credential.
func rejected(status int, reason string) error {
	if reason == "" {
		return fmt.Errorf("%w: provider rejected credential (HTTP %d)", model.ErrUpstreamProbe, status)
	}
	return fmt.Errorf("%w: provider rejected credential (HTTP %d): %s", model.ErrUpstreamProbe, status, reason)
}

// transportError strips the request URL from client errors, since some
// providers take the key as a query parameter. The cause stays wrapped so
// context.DeadlineExceeded remains detectable.
func transportError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%w: %s request: %w", model.ErrUpstreamProbe, ue.Op, ue.Err)
	}
	return fmt.Errorf("%w: %w", model.ErrUpstreamProbe, err)
}

// do sends req and returns the bounded response body.
func do(client *http.Client, req *http.Request) (int, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, transportError(err)
	}
	return resp.StatusCode, body, nil
}

// decodeJSON decodes body into v, reporting malformed provider responses as probe failures.
func decodeJSON(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: malformed provider response", model.ErrUpstreamProbe)
	}
	return nil
}
