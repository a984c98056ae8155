package driven

import (
	"context"

	"github.com/ericfisherdev/opscenter/internal/domain/model"
)

// AuditStore defines the driven port for the append-only audit table.
// There is intentionally no update or delete operation.
type AuditStore interface {
	// Append assigns Seq, PrevHash and Hash to the entry inside a single write
	// transaction and persists it. chainKey is the HMAC key for the hash chain.
	Append(ctx context.Context, entry model.AuditEntry, chainKey []byte) (model.AuditEntry, error)

	// Page returns one page of entries in ascending Seq order.
	Page(ctx context.Context, filter model.AuditFilter) (model.AuditPage, error)

	// Chain returns up to limit entries with Seq > afterSeq, unfiltered, for
	// hash chain verification.
	Chain(ctx context.Context, afterSeq int64, limit int) ([]model.AuditEntry, error)
}
