package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ericfisherdev/opscenter/internal/domain/model"
	"github.com/ericfisherdev/opscenter/internal/domain/port/driven"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Credential store ---

type tupleKey struct{ owner, service, credentialType string }

// mockCredentialStore keeps rows in memory. The mutex plays the role of the
// database write transaction.
type mockCredentialStore struct {
	mu   sync.Mutex
	rows map[string]*model.Credential
	now  func() time.Time

	putErr error
}

func newMockCredentialStore(now func() time.Time) *mockCredentialStore {
	return &mockCredentialStore{rows: make(map[string]*model.Credential), now: now}
}

func (m *mockCredentialStore) live(owner, service, credentialType string) *model.Credential {
	for _, c := range m.rows {
		if !c.Tombstoned && c.Owner == owner && c.Service == service && c.CredentialType == credentialType {
			return c
		}
	}
	return nil
}

func (m *mockCredentialStore) Put(_ context.Context, w model.CredentialWrite) (string, bool, error) {
	if m.putErr != nil {
		return "", false, m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	if c := m.live(w.Owner, w.Service, w.CredentialType); c != nil {
		c.Ciphertext = w.Ciphertext
		c.Mask = w.Mask
		c.Metadata = w.Metadata
		c.UpdatedAt = now
		return c.ID, false, nil
	}

	id := ulid.Make().String()
	m.rows[id] = &model.Credential{
		ID:             id,
		Owner:          w.Owner,
		Service:        w.Service,
		CredentialType: w.CredentialType,
		Ciphertext:     w.Ciphertext,
		Mask:           w.Mask,
		Metadata:       w.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return id, true, nil
}

func (m *mockCredentialStore) Get(_ context.Context, id string) (model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok || c.Tombstoned {
		return model.Credential{}, model.ErrNotFound
	}
	return *c, nil
}

func (m *mockCredentialStore) GetByTuple(_ context.Context, owner, service, credentialType string) (model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.live(owner, service, credentialType)
	if c == nil {
		return model.Credential{}, model.ErrNotFound
	}
	return *c, nil
}

func (m *mockCredentialStore) List(_ context.Context, filter model.CredentialFilter) ([]model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Credential
	for _, c := range m.rows {
		if c.Tombstoned || (filter.Owner != "" && c.Owner != filter.Owner) || (filter.Service != "" && c.Service != filter.Service) {
			continue
		}
		cp := *c
		cp.Ciphertext = ""
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Service != out[j].Service {
			return out[i].Service < out[j].Service
		}
		return out[i].CredentialType < out[j].CredentialType
	})
	return out, nil
}

func (m *mockCredentialStore) Reseal(_ context.Context, id, ciphertext, mask string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok || c.Tombstoned {
		return model.ErrNotFound
	}
	c.Ciphertext = ciphertext
	c.Mask = mask
	c.UpdatedAt = m.now().UTC()
	return nil
}

func (m *mockCredentialStore) SoftDelete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok || c.Tombstoned {
		return false, nil
	}
	c.Tombstoned = true
	return true, nil
}

func (m *mockCredentialStore) RecordTest(_ context.Context, id string, status model.TestStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok || c.Tombstoned {
		return model.ErrNotFound
	}
	c.LastTestStatus = status
	c.LastTestedAt = &at
	return nil
}

// corrupt overwrites the stored ciphertext of the live tuple.
func (m *mockCredentialStore) corrupt(owner, service, credentialType, ciphertext string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.live(owner, service, credentialType); c != nil {
		c.Ciphertext = ciphertext
	}
}

// hookedStore runs callbacks after the wrapped store's writes and lookups
// return, to interleave events between the service's steps.
type hookedStore struct {
	*mockCredentialStore
	afterPut        func()
	afterGetByTuple func(model.Credential)
	afterSoftDelete func()
}

func (h *hookedStore) Put(ctx context.Context, w model.CredentialWrite) (string, bool, error) {
	id, created, err := h.mockCredentialStore.Put(ctx, w)
	if err == nil && h.afterPut != nil {
		h.afterPut()
	}
	return id, created, err
}

func (h *hookedStore) GetByTuple(ctx context.Context, owner, service, credentialType string) (model.Credential, error) {
	c, err := h.mockCredentialStore.GetByTuple(ctx, owner, service, credentialType)
	if err == nil && h.afterGetByTuple != nil {
		h.afterGetByTuple(c)
	}
	return c, err
}

func (h *hookedStore) SoftDelete(ctx context.Context, id string) (bool, error) {
	deleted, err := h.mockCredentialStore.SoftDelete(ctx, id)
	if err == nil && h.afterSoftDelete != nil {
		h.afterSoftDelete()
	}
	return deleted, err
}

func (m *mockCredentialStore) liveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.rows {
		if !c.Tombstoned {
			n++
		}
	}
	return n
}

// --- Audit store ---

var errStoreDown = errors.New("database is locked")

type mockAuditStore struct {
	mu       sync.Mutex
	entries  []model.AuditEntry
	failNext int // Number of upcoming Append calls that fail.
	appends  int
}

func (m *mockAuditStore) Append(ctx context.Context, e model.AuditEntry, chainKey []byte) (model.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appends++
	if err := ctx.Err(); err != nil {
		return model.AuditEntry{}, err
	}
	if m.failNext > 0 {
		m.failNext--
		return model.AuditEntry{}, errStoreDown
	}

	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	e.Seq = int64(len(m.entries) + 1)
	e.PrevHash = model.GenesisHash
	if len(m.entries) > 0 {
		e.PrevHash = m.entries[len(m.entries)-1].Hash
	}
	e.Hash = e.ChainHash(chainKey)
	m.entries = append(m.entries, e)
	return e, nil
}

func (m *mockAuditStore) Page(_ context.Context, f model.AuditFilter) (model.AuditPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	var page model.AuditPage
	for _, e := range m.entries {
		if e.Seq <= f.Cursor || (f.Actor != "" && e.Actor != f.Actor) || (f.Action != "" && e.Action != f.Action) {
			continue
		}
		if len(page.Entries) == limit {
			page.NextCursor = page.Entries[limit-1].Seq
			break
		}
		page.Entries = append(page.Entries, e)
	}
	return page, nil
}

func (m *mockAuditStore) Chain(_ context.Context, afterSeq int64, limit int) ([]model.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AuditEntry
	for _, e := range m.entries {
		if e.Seq > afterSeq && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockAuditStore) all() []model.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.AuditEntry(nil), m.entries...)
}

func (m *mockAuditStore) count(action model.AuditAction, result model.AuditResult) int {
	n := 0
	for _, e := range m.all() {
		if e.Action == action && e.Result == result {
			n++
		}
	}
	return n
}

// --- Prober ---

type mockProber struct {
	mu     sync.Mutex
	err    error
	delay  time.Duration
	calls  int
	inputs []driven.ProbeInput
}

func (m *mockProber) Probe(ctx context.Context, in driven.ProbeInput) error {
	m.mu.Lock()
	m.calls++
	m.inputs = append(m.inputs, in)
	err, delay := m.err, m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// --- Clock ---

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
