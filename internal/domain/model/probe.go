package model

import "time"

// ProbeResult is the outcome of a Test operation. A failing probe is a result,
// not an error of the credential subsystem.
type ProbeResult struct {
	Service        string
	CredentialType string
	Status         TestStatus
	Message        string
	TestedAt       time.Time
	Duration       time.Duration
}

// Passed reports whether the provider accepted the credential.
func (r ProbeResult) Passed() bool {
	return r.Status == TestStatusPassed
}
