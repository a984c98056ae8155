package driven

import "context"

// ProbeInput is what a provider probe needs to validate a credential. Secret
// is the decrypted plaintext and must not outlive the Probe call.
type ProbeInput struct {
	CredentialType string
	Secret         string
	Metadata       map[string]string
}

// Prober validates a credential against its provider with a lightweight call.
// A nil error means the provider accepted the credential.
type Prober interface {
	Probe(ctx context.Context, in ProbeInput) error
}
