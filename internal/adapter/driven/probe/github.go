package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/ericfisherdev/opscenter/internal/domain/model"
	"github.com/ericfisherdev/opscenter/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Prober = (*GitHub)(nil)

// GitHub verifies personal access tokens by fetching the authenticated user.
// Requests go through the same transport stack the rest of the platform uses
// for GitHub:
//  1. httpcache (ETag revalidation; GitHub still authenticates every request)
//  2. go-github-ratelimit (secondary rate limit middleware)
//  3. go-github (REST client, token set per probe)
type GitHub struct {
	transport *http.Client
	baseURL   *url.URL
}

// NewGitHub creates a GitHub probe against baseURL ("https://api.github.com/"
// in production).
func NewGitHub(baseURL string) (*GitHub, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing github base URL: %w", err)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	rateLimitClient.Transport = revalidate{next: rateLimitClient.Transport}

	return &GitHub{transport: rateLimitClient, baseURL: u}, nil
}

// revalidate forces the cache layer to check with GitHub on every probe, so
// a revoked token never passes on a cached response.
type revalidate struct {
	next http.RoundTripper
}

func (r revalidate) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Cache-Control", "no-cache")
	return r.next.RoundTrip(req)
}

// Probe passes when GET /user succeeds with the token.
func (p *GitHub) Probe(ctx context.Context, in driven.ProbeInput) error {
	client := gh.NewClient(p.transport).WithAuthToken(in.Secret)
	client.BaseURL = p.baseURL

	user, resp, err := client.Users.Get(ctx, "")
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: %w", model.ErrUpstreamProbe, err)
		}
		var ghErr *gh.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil {
			return rejected(ghErr.Response.StatusCode, ghErr.Message)
		}
		return transportError(err)
	}
	if user.GetLogin() == "" {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return rejected(status, "no authenticated user")
	}
	return nil
}
