package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ericfisherdev/opscenter/internal/domain/model"
	"github.com/ericfisherdev/opscenter/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite implementation of the CredentialStore port interface.
// It stores ciphertext produced by the application layer and never sees plaintext.
type CredentialRepo struct {
	db  *DB
	now func() time.Time
}

// NewCredentialRepo creates a new CredentialRepo.
func NewCredentialRepo(db *DB) *CredentialRepo {
	return &CredentialRepo{db: db, now: time.Now}
}

const credentialColumns = `id, owner, service, credential_type, mask, metadata,
	created_at, updated_at, last_tested_at, last_test_status, tombstoned`

// Put inserts or replaces the live credential for the write's tuple in one transaction.
func (r *CredentialRepo) Put(ctx context.Context, w model.CredentialWrite) (string, bool, error) {
	metadata, err := encodeMetadata(w.Metadata)
	if err != nil {
		return "", false, err
	}
	now := formatTime(r.now())

	var (
		id      string
		created bool
	)
	err = r.db.withWriteTx(ctx, func(tx *sql.Tx) error {
		const selectLive = `SELECT id FROM credentials
			WHERE owner = ? AND service = ? AND credential_type = ? AND tombstoned = 0`
		err := tx.QueryRowContext(ctx, selectLive, w.Owner, w.Service, w.CredentialType).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			id = ulid.Make().String()
			created = true
			const insert = `INSERT INTO credentials
				(id, owner, service, credential_type, ciphertext, mask, metadata, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
			_, err = tx.ExecContext(ctx, insert,
				id, w.Owner, w.Service, w.CredentialType, w.Ciphertext, w.Mask, metadata, now, now)
			return err
		case err != nil:
			return err
		}

		const update = `UPDATE credentials
			SET ciphertext = ?, mask = ?, metadata = ?, updated_at = ?
			WHERE id = ?`
		_, err = tx.ExecContext(ctx, update, w.Ciphertext, w.Mask, metadata, now, id)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return "", false, fmt.Errorf("put credential %s/%s: %w", w.Service, w.CredentialType, model.ErrConflict)
		}
		return "", false, fmt.Errorf("put credential %s/%s: %w", w.Service, w.CredentialType, err)
	}

	return id, created, nil
}

// Get returns the live credential with the given id including its ciphertext.
func (r *CredentialRepo) Get(ctx context.Context, id string) (model.Credential, error) {
	query := `SELECT ` + credentialColumns + `, ciphertext FROM credentials WHERE id = ? AND tombstoned = 0`
	cred, err := scanCredentialWithCiphertext(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Credential{}, fmt.Errorf("get credential %q: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Credential{}, fmt.Errorf("get credential %q: %w", id, err)
	}
	return cred, nil
}

// GetByTuple returns the live credential for the tuple including its ciphertext.
func (r *CredentialRepo) GetByTuple(ctx context.Context, owner, service, credentialType string) (model.Credential, error) {
	query := `SELECT ` + credentialColumns + `, ciphertext FROM credentials
		WHERE owner = ? AND service = ? AND credential_type = ? AND tombstoned = 0`
	cred, err := scanCredentialWithCiphertext(r.db.Reader.QueryRowContext(ctx, query, owner, service, credentialType))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Credential{}, fmt.Errorf("get credential %s/%s: %w", service, credentialType, model.ErrNotFound)
	}
	if err != nil {
		return model.Credential{}, fmt.Errorf("get credential %s/%s: %w", service, credentialType, err)
	}
	return cred, nil
}

// List returns live credentials matching filter. Ciphertext is not selected.
func (r *CredentialRepo) List(ctx context.Context, filter model.CredentialFilter) ([]model.Credential, error) {
	var (
		where = []string{"tombstoned = 0"}
		args  []any
	)
	if filter.Owner != "" {
		where = append(where, "owner = ?")
		args = append(args, filter.Owner)
	}
	if filter.Service != "" {
		where = append(where, "service = ?")
		args = append(args, filter.Service)
	}

	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY owner, service, credential_type`

	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	creds := []model.Credential{}
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}

	return creds, nil
}

// Reseal swaps the ciphertext and mask of a live credential in place.
func (r *CredentialRepo) Reseal(ctx context.Context, id, ciphertext, mask string) error {
	const query = `UPDATE credentials SET ciphertext = ?, mask = ?, updated_at = ?
		WHERE id = ? AND tombstoned = 0`
	var n int64
	err := r.db.withWriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, ciphertext, mask, formatTime(r.now()), id)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("reseal credential %q: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("reseal credential %q: %w", id, model.ErrNotFound)
	}
	return nil
}

// SoftDelete tombstones the live credential with the given id.
func (r *CredentialRepo) SoftDelete(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE credentials SET tombstoned = 1, deleted_at = ?, updated_at = ?
		WHERE id = ? AND tombstoned = 0`
	now := formatTime(r.now())
	res, err := r.db.Writer.ExecContext(ctx, query, now, now, id)
	if err != nil {
		return false, fmt.Errorf("soft delete credential %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("soft delete credential %q: %w", id, err)
	}
	return n > 0, nil
}

// RecordTest stores the outcome of the latest provider probe.
func (r *CredentialRepo) RecordTest(ctx context.Context, id string, status model.TestStatus, at time.Time) error {
	const query = `UPDATE credentials SET last_tested_at = ?, last_test_status = ?
		WHERE id = ? AND tombstoned = 0`
	res, err := r.db.Writer.ExecContext(ctx, query, formatTime(at), string(status), id)
	if err != nil {
		return fmt.Errorf("record test for credential %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record test for credential %q: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("record test for credential %q: %w", id, model.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (model.Credential, error) {
	return scanCredentialColumns(row, nil)
}

func scanCredentialWithCiphertext(row rowScanner) (model.Credential, error) {
	var ciphertext string
	cred, err := scanCredentialColumns(row, &ciphertext)
	if err != nil {
		return model.Credential{}, err
	}
	cred.Ciphertext = ciphertext
	return cred, nil
}

func scanCredentialColumns(row rowScanner, ciphertext *string) (model.Credential, error) {
	var (
		cred         model.Credential
		metadata     string
		createdAt    string
		updatedAt    string
		lastTestedAt sql.NullString
		status       string
		tombstoned   int
	)

	dest := []any{
		&cred.ID, &cred.Owner, &cred.Service, &cred.CredentialType, &cred.Mask, &metadata,
		&createdAt, &updatedAt, &lastTestedAt, &status, &tombstoned,
	}
	if ciphertext != nil {
		dest = append(dest, ciphertext)
	}
	if err := row.Scan(dest...); err != nil {
		return model.Credential{}, err
	}

	var err error
	if cred.Metadata, err = decodeMetadata(metadata); err != nil {
		return model.Credential{}, err
	}
	if cred.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Credential{}, fmt.Errorf("parse created_at: %w", err)
	}
	if cred.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.Credential{}, fmt.Errorf("parse updated_at: %w", err)
	}
	if lastTestedAt.Valid {
		t, err := parseTime(lastTestedAt.String)
		if err != nil {
			return model.Credential{}, fmt.Errorf("parse last_tested_at: %w", err)
		}
		cred.LastTestedAt = &t
	}
	cred.LastTestStatus = model.TestStatus(status)
	cred.Tombstoned = tombstoned != 0

	return cred, nil
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(data), nil
}

func decodeMetadata(s string) (map[string]string, error) {
	m := map[string]string{}
	if s == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}
