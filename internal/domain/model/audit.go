package model

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// GenesisHash is the PrevHash of the first audit entry.
var GenesisHash = strings.Repeat("0", 64)

// AuditTimeFormat is the persisted and hashed timestamp layout. It is fixed
// width so stored timestamps compare correctly as text.
const AuditTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// AuditAction is a credential lifecycle event kind.
type AuditAction string

const (
	AuditActionCreate AuditAction = "create"
	AuditActionRead   AuditAction = "read"
	AuditActionTest   AuditAction = "test"
	AuditActionRotate AuditAction = "rotate"
	AuditActionDelete AuditAction = "delete"
)

// Valid reports whether a is one of the known lifecycle actions.
func (a AuditAction) Valid() bool {
	switch a {
	case AuditActionCreate, AuditActionRead, AuditActionTest, AuditActionRotate, AuditActionDelete:
		return true
	}
	return false
}

// AuditResult is the outcome recorded with an audit entry.
type AuditResult string

const (
	AuditResultSuccess AuditResult = "success"
	AuditResultFailure AuditResult = "failure"
)

// AuditEntry is one append-only record of a credential lifecycle event.
// Detail is redacted by the caller and never carries plaintext or ciphertext.
// Seq, PrevHash and Hash are assigned by the AuditStore on append.
type AuditEntry struct {
	Seq            int64
	ID             string
	Actor          string
	Action         AuditAction
	CredentialID   string
	Owner          string
	Service        string
	CredentialType string
	Result         AuditResult
	Detail         string
	Timestamp      time.Time
	PrevHash       string
	Hash           string
}

// AuditFilter selects audit entries. Cursor is the Seq of the last entry of
// the previous page; zero starts from the beginning.
type AuditFilter struct {
	Actor        string
	Action       AuditAction
	Service      string
	CredentialID string
	Since        *time.Time
	Until        *time.Time
	Limit        int
	Cursor       int64
}

// AuditPage is one page of audit entries. NextCursor is zero on the last page.
type AuditPage struct {
	Entries    []AuditEntry
	NextCursor int64
}

// ChainReport is the result of walking the audit hash chain.
type ChainReport struct {
	Checked  int64
	Intact   bool
	BrokenAt int64 // Seq of the first entry whose hash does not verify; zero when intact.
}

// ChainHash computes the HMAC-SHA256 of the entry content chained to PrevHash.
// Hash itself is not part of the input.
func (e AuditEntry) ChainHash(key []byte) string {
	fields := []string{
		strconv.FormatInt(e.Seq, 10),
		e.ID,
		e.Actor,
		string(e.Action),
		e.CredentialID,
		e.Owner,
		e.Service,
		e.CredentialType,
		string(e.Result),
		e.Detail,
		e.Timestamp.UTC().Format(AuditTimeFormat),
		e.PrevHash,
	}

	mac := hmac.New(sha256.New, key)
	for _, f := range fields {
		mac.Write([]byte(strconv.Itoa(len(f))))
		mac.Write([]byte{':'})
		mac.Write([]byte(f))
	}
	return hex.EncodeToString(mac.Sum(nil))
}
