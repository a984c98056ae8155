package application

import (
	"fmt"
	"slices"
	"sort"
)

// ServiceSpec describes one external service whose credentials the platform
// can hold.
type ServiceSpec struct {
	Name             string
	DisplayName      string
	CredentialTypes  []string
	KeyFormatHint    string // Client-side hint only; never enforced server-side.
	MaskVisible      int    // Characters kept at each end of the mask.
	RequiredMetadata []string
}

// Registry is the closed catalog of services and their credential types. It
// is immutable after construction and safe for concurrent use.
type Registry struct {
	specs map[string]ServiceSpec
}

// NewRegistry builds a Registry from specs. Later specs with the same name
// replace earlier ones.
func NewRegistry(specs ...ServiceSpec) *Registry {
	r := &Registry{specs: make(map[string]ServiceSpec, len(specs))}
	for _, s := range specs {
		if s.MaskVisible <= 0 {
			s.MaskVisible = 4
		}
		r.specs[s.Name] = s
	}
	return r
}

// DefaultRegistry returns the catalog of services supported out of the box.
func DefaultRegistry() *Registry {
	return NewRegistry(
		ServiceSpec{
			Name:            "cloudflare",
			DisplayName:     "Cloudflare",
			CredentialTypes: []string{"api_token"},
			KeyFormatHint:   "40-character API token",
		},
		ServiceSpec{
			Name:             "namecheap",
			DisplayName:      "Namecheap",
			CredentialTypes:  []string{"api_key"},
			KeyFormatHint:    "32-character hex API key",
			RequiredMetadata: []string{"api_user", "client_ip"},
		},
		ServiceSpec{
			Name:            "github",
			DisplayName:     "GitHub",
			CredentialTypes: []string{"token"},
			KeyFormatHint:   "ghp_... or github_pat_...",
		},
		ServiceSpec{
			Name:            "stripe",
			DisplayName:     "Stripe",
			CredentialTypes: []string{"secret_key", "restricted_key"},
			KeyFormatHint:   "sk_live_... or rk_live_...",
		},
		ServiceSpec{
			Name:            "openai",
			DisplayName:     "OpenAI",
			CredentialTypes: []string{"api_key"},
			KeyFormatHint:   "sk-...",
		},
		ServiceSpec{
			Name:            "anthropic",
			DisplayName:     "Anthropic",
			CredentialTypes: []string{"api_key"},
			KeyFormatHint:   "sk-ant-...",
		},
		ServiceSpec{
			Name:            "openrouter",
			DisplayName:     "OpenRouter",
			CredentialTypes: []string{"api_key"},
			KeyFormatHint:   "sk-or-...",
		},
		ServiceSpec{
			Name:            "huggingface",
			DisplayName:     "Hugging Face",
			CredentialTypes: []string{"api_token"},
			KeyFormatHint:   "hf_...",
		},
	)
}

// IsValidService reports whether service is in the catalog.
func (r *Registry) IsValidService(service string) bool {
	_, ok := r.specs[service]
	return ok
}

// IsValidType reports whether credentialType is allowed for service.
func (r *Registry) IsValidType(service, credentialType string) bool {
	s, ok := r.specs[service]
	return ok && slices.Contains(s.CredentialTypes, credentialType)
}

// KeyFormatHint returns the client-side format hint for service.
func (r *Registry) KeyFormatHint(service string) (string, bool) {
	s, ok := r.specs[service]
	if !ok || s.KeyFormatHint == "" {
		return "", false
	}
	return s.KeyFormatHint, true
}

// Spec returns the full catalog entry for service.
func (r *Registry) Spec(service string) (ServiceSpec, bool) {
	s, ok := r.specs[service]
	return s, ok
}

// Services returns the catalog sorted by service name.
func (r *Registry) Services() []ServiceSpec {
	out := make([]ServiceSpec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// check rejects unknown services and credential types with a ValidationError.
func (r *Registry) check(service, credentialType string) (ServiceSpec, error) {
	s, ok := r.specs[service]
	if !ok {
		return ServiceSpec{}, errValidation("service", fmt.Sprintf("unknown service %q", service))
	}
	if !slices.Contains(s.CredentialTypes, credentialType) {
		return ServiceSpec{}, errValidation("credential_type",
			fmt.Sprintf("credential type %q is not supported for %s", credentialType, service))
	}
	return s, nil
}
