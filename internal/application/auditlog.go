package application

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ericfisherdev/opscenter/internal/domain/model"
	"github.com/ericfisherdev/opscenter/internal/domain/port/driven"
)

const (
	auditAppendAttempts = 3
	verifyBatchSize     = 500
	redactedDetail      = "[detail redacted]"
)

// AuditLog records credential lifecycle events. Writes are retried; once
// retries are exhausted the log reports itself degraded and callers receive
// model.ErrAuditUnavailable, so audit loss is never silent.
type AuditLog struct {
	store         driven.AuditStore
	chainKey      []byte
	logger        *slog.Logger
	retryInterval time.Duration

	failures atomic.Int64
	degraded atomic.Bool
}

// NewAuditLog creates an AuditLog. chainKey is the HMAC key of the hash chain.
func NewAuditLog(store driven.AuditStore, chainKey []byte, logger *slog.Logger) *AuditLog {
	return &AuditLog{
		store:         store,
		chainKey:      chainKey,
		logger:        logger,
		retryInterval: 100 * time.Millisecond,
	}
}

// Record appends entry. secrets are the plaintext, ciphertext and mask the
// calling operation handled; any of them found in a text field is replaced
// before the entry is written.
func (l *AuditLog) Record(ctx context.Context, entry model.AuditEntry, secrets ...string) error {
	if !entry.Action.Valid() {
		return fmt.Errorf("recording audit entry: unknown action %q", entry.Action)
	}
	if entry.Result != model.AuditResultSuccess && entry.Result != model.AuditResultFailure {
		return fmt.Errorf("recording audit entry: unknown result %q", entry.Result)
	}

	if containsAny(entry.Detail, secrets) {
		l.logger.Warn("audit detail contained secret material and was redacted",
			"action", entry.Action, "credential_id", entry.CredentialID)
		entry.Detail = redactedDetail
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = l.retryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, auditAppendAttempts-1), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		_, err := l.store.Append(ctx, entry, l.chainKey)
		if err != nil {
			l.logger.Warn("audit append failed", "attempt", attempt, "action", entry.Action, "error", err)
		}
		return err
	}, policy)
	if err != nil {
		total := l.failures.Add(1)
		l.degraded.Store(true)
		l.logger.Error("audit log degraded: entry not persisted",
			"action", entry.Action,
			"result", entry.Result,
			"actor", entry.Actor,
			"credential_id", entry.CredentialID,
			"service", entry.Service,
			"failures", total,
			"error", err,
		)
		return fmt.Errorf("%w: %w", model.ErrAuditUnavailable, err)
	}

	if l.degraded.CompareAndSwap(true, false) {
		l.logger.Info("audit log recovered", "failures", l.failures.Load())
	}
	return nil
}

// Degraded reports whether the most recent append failed after retries.
func (l *AuditLog) Degraded() bool {
	return l.degraded.Load()
}

// Failures returns how many entries were lost since startup.
func (l *AuditLog) Failures() int64 {
	return l.failures.Load()
}

// Page returns a single page of entries matching filter.
func (l *AuditLog) Page(ctx context.Context, filter model.AuditFilter) (model.AuditPage, error) {
	page, err := l.store.Page(ctx, filter)
	if err != nil {
		return model.AuditPage{}, fmt.Errorf("querying audit log: %w", err)
	}
	return page, nil
}

// Query lazily yields every entry matching filter, fetching a page at a time.
// Ranging over the sequence again restarts from filter.Cursor.
func (l *AuditLog) Query(ctx context.Context, filter model.AuditFilter) iter.Seq2[model.AuditEntry, error] {
	return func(yield func(model.AuditEntry, error) bool) {
		f := filter
		for {
			page, err := l.Page(ctx, f)
			if err != nil {
				yield(model.AuditEntry{}, err)
				return
			}
			for _, e := range page.Entries {
				if !yield(e, nil) {
					return
				}
			}
			if page.NextCursor == 0 {
				return
			}
			f.Cursor = page.NextCursor
		}
	}
}

// Verify walks the whole hash chain and reports the first entry whose link or
// hash does not match.
func (l *AuditLog) Verify(ctx context.Context) (model.ChainReport, error) {
	report := model.ChainReport{Intact: true}
	prev := model.GenesisHash
	var after int64

	for {
		batch, err := l.store.Chain(ctx, after, verifyBatchSize)
		if err != nil {
			return model.ChainReport{}, fmt.Errorf("reading audit chain: %w", err)
		}
		for _, e := range batch {
			report.Checked++
			if e.PrevHash != prev || e.ChainHash(l.chainKey) != e.Hash {
				report.Intact = false
				report.BrokenAt = e.Seq
				l.logger.Error("audit chain broken", "seq", e.Seq, "id", e.ID)
				return report, nil
			}
			prev = e.Hash
			after = e.Seq
		}
		if len(batch) < verifyBatchSize {
			return report, nil
		}
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(s, n) {
			return true
		}
	}
	return false
}
