package model

import "time"

// SystemOwner is the owner sentinel for platform-level credentials that do not
// belong to any user (Cloudflare, NameCheap, provider keys used by the backend).
const SystemOwner = "__system__"

// TestStatus is the outcome of the most recent provider probe for a credential.
type TestStatus string

const (
	TestStatusNone    TestStatus = ""
	TestStatusPassed  TestStatus = "passed"
	TestStatusFailed  TestStatus = "failed"
	TestStatusTimeout TestStatus = "timeout"
	TestStatusError   TestStatus = "error" // Credential could not be decrypted for the probe.
)

// Credential is a stored secret for one (owner, service, credential type) tuple.
// Ciphertext is only populated by CredentialStore.Get and GetByTuple; list
// projections leave it empty.
type Credential struct {
	ID             string
	Owner          string
	Service        string
	CredentialType string
	Ciphertext     string
	Mask           string
	Metadata       map[string]string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastTestedAt   *time.Time
	LastTestStatus TestStatus
	Tombstoned     bool
}

// IsSystem reports whether the credential belongs to the platform rather than a user.
func (c Credential) IsSystem() bool {
	return c.Owner == SystemOwner
}

// View returns the display-safe projection of the credential.
func (c Credential) View() CredentialView {
	return CredentialView{
		ID:             c.ID,
		Owner:          c.Owner,
		Service:        c.Service,
		CredentialType: c.CredentialType,
		Mask:           c.Mask,
		Metadata:       c.Metadata,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
		LastTestedAt:   c.LastTestedAt,
		LastTestStatus: c.LastTestStatus,
	}
}

// CredentialView is what leaves the credential subsystem for display. It has
// no field capable of carrying plaintext or ciphertext.
type CredentialView struct {
	ID             string
	Owner          string
	Service        string
	CredentialType string
	Mask           string
	Metadata       map[string]string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastTestedAt   *time.Time
	LastTestStatus TestStatus
}

// CredentialWrite carries an already-encrypted secret into CredentialStore.Put.
type CredentialWrite struct {
	Owner          string
	Service        string
	CredentialType string
	Ciphertext     string
	Mask           string
	Metadata       map[string]string
}

// CredentialFilter narrows CredentialStore.List. Empty fields match everything.
type CredentialFilter struct {
	Owner   string
	Service string
}
