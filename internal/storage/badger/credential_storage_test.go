package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/campussync/internal/common"
	"github.com/ternarybob/campussync/internal/models"
)

func newTestCredentialStorage(t *testing.T) *CredentialStorage {
	t.Helper()
	logger := arbor.NewNoOpLogger()
	db, err := NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewCredentialStorage(db, logger).(*CredentialStorage)
}

func TestCredentialStorage_SaveAssignsIDAndFinds(t *testing.T) {
	ctx := context.Background()
	store := newTestCredentialStorage(t)

	record := &models.CredentialRecord{Username: "s1234567", EncryptedPassword: "pw-token"}
	require.NoError(t, store.Save(ctx, record))
	assert.Contains(t, record.ID, "cred_")
	assert.False(t, record.CreatedAt.IsZero())

	byID, err := store.FindByID(ctx, record.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "s1234567", byID.Username)
	assert.Equal(t, "pw-token", byID.EncryptedPassword)

	byName, err := store.FindByUsername(ctx, "s1234567")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, record.ID, byName.ID)
}

func TestCredentialStorage_MissingReturnsNil(t *testing.T) {
	ctx := context.Background()
	store := newTestCredentialStorage(t)

	rec, err := store.FindByID(ctx, "cred_missing")
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = store.FindByUsername(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, rec)

	assert.NoError(t, store.Delete(ctx, "cred_missing"))
}

func TestCredentialStorage_SaveKeepsOneRowPerUsername(t *testing.T) {
	ctx := context.Background()
	store := newTestCredentialStorage(t)

	first := &models.CredentialRecord{Username: "alice", EncryptedPassword: "a"}
	require.NoError(t, store.Save(ctx, first))

	second := &models.CredentialRecord{Username: "alice", EncryptedSessionCookie: "c"}
	require.NoError(t, store.Save(ctx, second))
	assert.Equal(t, first.ID, second.ID)

	got, err := store.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "c", got.EncryptedSessionCookie)
	assert.Empty(t, got.EncryptedPassword)
}

func TestCredentialStorage_Delete(t *testing.T) {
	ctx := context.Background()
	store := newTestCredentialStorage(t)

	record := &models.CredentialRecord{Username: "bob", EncryptedPassword: "x"}
	require.NoError(t, store.Save(ctx, record))
	require.NoError(t, store.Delete(ctx, record.ID))

	got, err := store.FindByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCredentialStorage_ListWithPassword(t *testing.T) {
	ctx := context.Background()
	store := newTestCredentialStorage(t)

	base := time.Now().Add(-time.Hour)
	records := []*models.CredentialRecord{
		{Username: "late", EncryptedPassword: "p3", CreatedAt: base.Add(3 * time.Minute)},
		{Username: "cookie-only", EncryptedSessionCookie: "c", CreatedAt: base.Add(2 * time.Minute)},
		{Username: "early", EncryptedPassword: "p1", CreatedAt: base.Add(time.Minute)},
	}
	for _, r := range records {
		require.NoError(t, store.Save(ctx, r))
	}

	listed, err := store.ListWithPassword(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "early", listed[0].Username)
	assert.Equal(t, "late", listed[1].Username)
}
