package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/opscenter/internal/domain/model"
)

// CredentialStore defines the driven port for encrypted credential persistence.
// The store only ever sees ciphertext; encryption happens in the application
// layer through SecretCipher.
type CredentialStore interface {
	// Put inserts the credential or, when a live row for the same
	// (owner, service, credential type) exists, replaces its ciphertext, mask
	// and metadata. The whole operation is one transaction. created is false
	// when an existing row was replaced. Returns model.ErrConflict if the
	// uniqueness constraint rejects the write.
	Put(ctx context.Context, w model.CredentialWrite) (id string, created bool, err error)

	// Get returns the live credential with the given id, ciphertext included.
	// Returns model.ErrNotFound if absent or tombstoned.
	Get(ctx context.Context, id string) (model.Credential, error)

	// GetByTuple returns the live credential for the tuple, ciphertext included.
	// Returns model.ErrNotFound if absent or tombstoned.
	GetByTuple(ctx context.Context, owner, service, credentialType string) (model.Credential, error)

	// List returns live credentials matching the filter without ciphertext,
	// ordered by service then credential type.
	List(ctx context.Context, filter model.CredentialFilter) ([]model.Credential, error)

	// Reseal replaces the ciphertext and mask of the live credential with the
	// given id. Tuple, metadata and id are unchanged. Returns model.ErrNotFound
	// if the row is absent or was tombstoned before the write.
	Reseal(ctx context.Context, id, ciphertext, mask string) error

	// SoftDelete tombstones the credential. Returns false if no live row had that id.
	SoftDelete(ctx context.Context, id string) (bool, error)

	// RecordTest updates only the last-test fields of a live credential.
	RecordTest(ctx context.Context, id string, status model.TestStatus, at time.Time) error
}
