package sqlite

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/opscenter/internal/domain/model"
)

var testChainKey = []byte("0123456789abcdef0123456789abcdef")

func auditEntry(actor string, action model.AuditAction, at time.Time) model.AuditEntry {
	return model.AuditEntry{
		Actor:          actor,
		Action:         action,
		CredentialID:   "cred-1",
		Owner:          actor,
		Service:        "cloudflare",
		CredentialType: "api_token",
		Result:         model.AuditResultSuccess,
		Detail:         "mask=cf_1...cdef",
		Timestamp:      at,
	}
}

func TestAuditRepo_AppendChainsHashes(t *testing.T) {
	repo := NewAuditRepo(setupTestDB(t))
	ctx := context.Background()

	first, err := repo.Append(ctx, auditEntry("alice", model.AuditActionCreate, testTime), testChainKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Seq)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, model.GenesisHash, first.PrevHash)
	assert.Equal(t, first.ChainHash(testChainKey), first.Hash)

	second, err := repo.Append(ctx, auditEntry("alice", model.AuditActionTest, testTime.Add(time.Second)), testChainKey)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Seq)
	assert.Equal(t, first.Hash, second.PrevHash)

	chain, err := repo.Chain(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	for _, e := range chain {
		assert.Equal(t, e.ChainHash(testChainKey), e.Hash, "stored entry %d must re-hash identically", e.Seq)
	}
}

func TestAuditRepo_RejectsUpdateAndDelete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAuditRepo(db)
	ctx := context.Background()

	_, err := repo.Append(ctx, auditEntry("alice", model.AuditActionCreate, testTime), testChainKey)
	require.NoError(t, err)

	_, err = db.Writer.ExecContext(ctx, `UPDATE audit_entries SET detail = 'edited'`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	_, err = db.Writer.ExecContext(ctx, `DELETE FROM audit_entries`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")
}

func TestAuditRepo_ConcurrentAppendKeepsChainLinear(t *testing.T) {
	repo := NewAuditRepo(setupTestDB(t))
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.Append(ctx, auditEntry(fmt.Sprintf("actor-%d", i), model.AuditActionRead, testTime), testChainKey)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	chain, err := repo.Chain(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, chain, n)

	prev := model.GenesisHash
	for i, e := range chain {
		assert.Equal(t, int64(i+1), e.Seq)
		assert.Equal(t, prev, e.PrevHash)
		prev = e.Hash
	}
}

func TestAuditRepo_PageFiltersAndCursor(t *testing.T) {
	repo := NewAuditRepo(setupTestDB(t))
	ctx := context.Background()

	for i := range 5 {
		_, err := repo.Append(ctx, auditEntry("alice", model.AuditActionTest, testTime.Add(time.Duration(i)*time.Minute)), testChainKey)
		require.NoError(t, err)
	}
	_, err := repo.Append(ctx, auditEntry("bob", model.AuditActionDelete, testTime.Add(10*time.Minute)), testChainKey)
	require.NoError(t, err)

	page, err := repo.Page(ctx, model.AuditFilter{Actor: "alice", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, int64(2), page.NextCursor)

	page, err = repo.Page(ctx, model.AuditFilter{Actor: "alice", Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, int64(3), page.Entries[0].Seq)

	page, err = repo.Page(ctx, model.AuditFilter{Actor: "alice", Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Zero(t, page.NextCursor)

	page, err = repo.Page(ctx, model.AuditFilter{Action: model.AuditActionDelete})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "bob", page.Entries[0].Actor)

	since := testTime.Add(2 * time.Minute)
	until := testTime.Add(4 * time.Minute)
	page, err = repo.Page(ctx, model.AuditFilter{Since: &since, Until: &until})
	require.NoError(t, err)
	assert.Len(t, page.Entries, 3)

	page, err = repo.Page(ctx, model.AuditFilter{CredentialID: "other"})
	require.NoError(t, err)
	assert.Empty(t, page.Entries)
}
