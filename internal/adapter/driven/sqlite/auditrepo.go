package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/ericfisherdev/opscenter/internal/domain/model"
	"github.com/ericfisherdev/opscenter/internal/domain/port/driven"
)

const (
	defaultAuditPageSize = 100
	maxAuditPageSize     = 500
)

// Compile-time interface satisfaction check.
var _ driven.AuditStore = (*AuditRepo)(nil)

// AuditRepo is the SQLite implementation of the AuditStore port interface.
// Triggers on audit_entries reject UPDATE and DELETE.
type AuditRepo struct {
	db *DB
}

// NewAuditRepo creates a new AuditRepo.
func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

const auditColumns = `seq, id, actor, action, credential_id, owner, service, credential_type,
	result, detail, created_at, prev_hash, hash`

// Append links the entry to the current chain head and inserts it. Reading the
// head and inserting happen in the same write transaction.
func (r *AuditRepo) Append(ctx context.Context, entry model.AuditEntry, chainKey []byte) (model.AuditEntry, error) {
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	entry.Timestamp = entry.Timestamp.UTC()

	err := r.db.withWriteTx(ctx, func(tx *sql.Tx) error {
		var (
			lastSeq  int64
			lastHash string
		)
		const head = `SELECT seq, hash FROM audit_entries ORDER BY seq DESC LIMIT 1`
		err := tx.QueryRowContext(ctx, head).Scan(&lastSeq, &lastHash)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			lastHash = model.GenesisHash
		case err != nil:
			return fmt.Errorf("read chain head: %w", err)
		}

		entry.Seq = lastSeq + 1
		entry.PrevHash = lastHash
		entry.Hash = entry.ChainHash(chainKey)

		const insert = `INSERT INTO audit_entries (` + auditColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		_, err = tx.ExecContext(ctx, insert,
			entry.Seq, entry.ID, entry.Actor, string(entry.Action), entry.CredentialID,
			entry.Owner, entry.Service, entry.CredentialType, string(entry.Result),
			entry.Detail, entry.Timestamp.Format(model.AuditTimeFormat), entry.PrevHash, entry.Hash,
		)
		if err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("append audit entry %s: %w", entry.Action, err)
	}

	return entry, nil
}

// Page returns one page of entries matching filter in ascending Seq order.
func (r *AuditRepo) Page(ctx context.Context, filter model.AuditFilter) (model.AuditPage, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultAuditPageSize
	}
	if limit > maxAuditPageSize {
		limit = maxAuditPageSize
	}

	where := []string{"seq > ?"}
	args := []any{filter.Cursor}
	if filter.Actor != "" {
		where = append(where, "actor = ?")
		args = append(args, filter.Actor)
	}
	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, string(filter.Action))
	}
	if filter.Service != "" {
		where = append(where, "service = ?")
		args = append(args, filter.Service)
	}
	if filter.CredentialID != "" {
		where = append(where, "credential_id = ?")
		args = append(args, filter.CredentialID)
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(model.AuditTimeFormat))
	}
	if filter.Until != nil {
		where = append(where, "created_at <= ?")
		args = append(args, filter.Until.UTC().Format(model.AuditTimeFormat))
	}

	// Fetch one extra row to learn whether another page exists.
	query := `SELECT ` + auditColumns + ` FROM audit_entries WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY seq LIMIT ?`
	args = append(args, limit+1)

	entries, err := r.query(ctx, query, args...)
	if err != nil {
		return model.AuditPage{}, fmt.Errorf("page audit entries: %w", err)
	}

	page := model.AuditPage{Entries: entries}
	if len(entries) > limit {
		page.Entries = entries[:limit]
		page.NextCursor = page.Entries[limit-1].Seq
	}
	return page, nil
}

// Chain returns up to limit entries after afterSeq regardless of filters.
func (r *AuditRepo) Chain(ctx context.Context, afterSeq int64, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = maxAuditPageSize
	}
	query := `SELECT ` + auditColumns + ` FROM audit_entries WHERE seq > ? ORDER BY seq LIMIT ?`
	entries, err := r.query(ctx, query, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("read audit chain: %w", err)
	}
	return entries, nil
}

func (r *AuditRepo) query(ctx context.Context, query string, args ...any) ([]model.AuditEntry, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []model.AuditEntry{}
	for rows.Next() {
		var (
			e         model.AuditEntry
			action    string
			result    string
			createdAt string
		)
		if err := rows.Scan(
			&e.Seq, &e.ID, &e.Actor, &action, &e.CredentialID, &e.Owner, &e.Service,
			&e.CredentialType, &result, &e.Detail, &createdAt, &e.PrevHash, &e.Hash,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = model.AuditAction(action)
		e.Result = model.AuditResult(result)
		if e.Timestamp, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at for audit entry %d: %w", e.Seq, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
