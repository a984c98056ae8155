package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation marks bad input: shape, unknown service or credential type.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when no live credential matches.
	ErrNotFound = errors.New("credential not found")

	// ErrConflict is returned when the uniqueness constraint rejects a write.
	ErrConflict = errors.New("credential already exists")

	// ErrRateLimited is matched by every *RateLimitError.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrCrypto is matched by every *CryptoError.
	ErrCrypto = errors.New("cryptographic operation failed")

	// ErrEncryption and ErrDecryption distinguish the two CryptoError directions.
	ErrEncryption = errors.New("encryption failed")
	ErrDecryption = errors.New("decryption failed")

	// ErrCredentialUnavailable is the only crypto-related error callers ever
	// see. The underlying CryptoError is logged server-side.
	ErrCredentialUnavailable = errors.New("credential system unavailable")

	// ErrAuditUnavailable is returned when an audit entry could not be
	// persisted after retries.
	ErrAuditUnavailable = errors.New("audit log unavailable")

	// ErrUpstreamProbe marks a failed or timed out provider test call.
	ErrUpstreamProbe = errors.New("upstream probe failed")
)

// ValidationError describes which input field was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) true.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// RateLimitError is returned when a sensitive action exceeded its window.
type RateLimitError struct {
	Action     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Action, e.RetryAfter.Round(time.Second))
}

// Is makes errors.Is(err, ErrRateLimited) true.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// CryptoError wraps a cipher failure. Op is ErrEncryption or ErrDecryption.
// Its message never includes plaintext or ciphertext bytes.
type CryptoError struct {
	Op  error
	Err error
}

func (e *CryptoError) Error() string {
	if e.Err == nil {
		return e.Op.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Is matches ErrCrypto and the direction sentinel.
func (e *CryptoError) Is(target error) bool {
	return target == ErrCrypto || target == e.Op
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}
