package probe

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ericfisherdev/opscenter/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Prober = (*Stripe)(nil)

// Stripe verifies secret and restricted keys by reading the account balance.
type Stripe struct {
	client  *http.Client
	baseURL string
}

// NewStripe creates a Stripe probe.
func NewStripe(client *http.Client, baseURL string) *Stripe {
	return &Stripe{client: client, baseURL: baseURL}
}

type stripeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Probe passes on HTTP 200. Restricted keys without balance read permission
// answer 403, which is reported as a rejection.
func (p *Stripe) Probe(ctx context.Context, in driven.ProbeInput) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/balance", nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	req.SetBasicAuth(in.Secret, "")

	status, body, err := do(p.client, req)
	if err != nil {
		return err
	}
	if status == http.StatusOK {
		return nil
	}

	var resp stripeErrorResponse
	if decodeJSON(body, &resp) == nil && resp.Error.Type != "" {
		return rejected(status, resp.Error.Type)
	}
	return rejected(status, "")
}
