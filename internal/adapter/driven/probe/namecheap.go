package probe

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ericfisherdev/opscenter/internal/domain/model"
	"github.com/ericfisherdev/opscenter/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Prober = (*NameCheap)(nil)

// NameCheap verifies API keys with the read-only users.getBalances command.
// The API needs the account user and whitelisted client IP, which are kept in
// the credential metadata as api_user and client_ip.
type NameCheap struct {
	client  *http.Client
	baseURL string
}

// NewNameCheap creates a NameCheap probe.
func NewNameCheap(client *http.Client, baseURL string) *NameCheap {
	return &NameCheap{client: client, baseURL: baseURL}
}

type nameCheapResponse struct {
	XMLName xml.Name `xml:"ApiResponse"`
	Status  string   `xml:"Status,attr"`
	Errors  []struct {
		Number  string `xml:"Number,attr"`
		Message string `xml:",chardata"`
	} `xml:"Errors>Error"`
}

// Probe passes when the API answers with Status="OK".
func (p *NameCheap) Probe(ctx context.Context, in driven.ProbeInput) error {
	apiUser := in.Metadata["api_user"]
	clientIP := in.Metadata["client_ip"]
	if apiUser == "" || clientIP == "" {
		return fmt.Errorf("%w: api_user and client_ip metadata are required", model.ErrUpstreamProbe)
	}

	q := url.Values{}
	q.Set("ApiUser", apiUser)
	q.Set("ApiKey", in.Secret)
	q.Set("UserName", apiUser)
	q.Set("ClientIp", clientIP)
	q.Set("Command", "namecheap.users.getBalances")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%w: build probe request", model.ErrUpstreamProbe)
	}

	status, body, err := do(p.client, req)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return rejected(status, "")
	}

	var resp nameCheapResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("%w: malformed provider response", model.ErrUpstreamProbe)
	}
	if resp.Status != "OK" {
		reason := ""
		if len(resp.Errors) > 0 {
			reason = fmt.Sprintf("error %s: %s", resp.Errors[0].Number, resp.Errors[0].Message)
		}
		return rejected(status, reason)
	}
	return nil
}
