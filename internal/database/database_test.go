package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"waconsole/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func mutation(id, conv string, kind models.MutationKind, started time.Time) *models.Mutation {
	return &models.Mutation{
		ID:             id,
		Kind:           kind,
		ConversationID: conv,
		State:          models.MutationPending,
		Detail:         "body=hi",
		StartedAt:      started,
	}
}

func TestNew_InvalidPath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)

	_, err = New("../../journal.db")
	assert.ErrorContains(t, err, "directory traversal")
}

func TestNew_EncryptionMisconfigured(t *testing.T) {
	t.Setenv(envEnableEncryption, "true")
	t.Setenv(envEncryptionSecret, "short")

	_, err := New(filepath.Join(t.TempDir(), "journal.db"))
	assert.ErrorContains(t, err, "at least 32 characters")
}

func TestRecordMutation_InsertThenResolve(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	m := mutation("m1", "c1", models.MutationToggleBot, start)
	require.NoError(t, db.RecordMutation(ctx, m))

	got, err := db.GetMutation(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.MutationPending, got.State)
	assert.Equal(t, "c1", got.ConversationID)
	assert.Equal(t, "body=hi", got.Detail)
	assert.True(t, start.Equal(got.StartedAt))
	assert.Nil(t, got.ResolvedAt)

	resolved := start.Add(time.Second)
	m.State = models.MutationRolledBack
	m.Error = "bot api returned 500"
	m.ResolvedAt = &resolved
	require.NoError(t, db.RecordMutation(ctx, m))

	got, err = db.GetMutation(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.MutationRolledBack, got.State)
	assert.Equal(t, "bot api returned 500", got.Error)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, resolved.Equal(*got.ResolvedAt))
}

func TestGetMutation_NotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetMutation(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrMutationNotFound)
}

func TestListMutations_FilterAndOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, db.RecordMutation(ctx, mutation("a", "c1", models.MutationSendText, base)))
	require.NoError(t, db.RecordMutation(ctx, mutation("b", "c2", models.MutationMarkRead, base.Add(time.Minute))))
	require.NoError(t, db.RecordMutation(ctx, mutation("c", "c1", models.MutationSendMedia, base.Add(2*time.Minute))))
	require.NoError(t, db.RecordMutation(ctx, mutation("d", "", models.MutationGlobalBot, base.Add(3*time.Minute))))

	all, err := db.ListMutations(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, []string{"d", "c", "b", "a"}, ids(all))

	c1, err := db.ListMutations(ctx, "c1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, ids(c1))

	limited, err := db.ListMutations(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestCleanupOldMutations_KeepsPending(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	old := time.Now().UTC().AddDate(0, 0, -40)
	resolvedAt := old.Add(time.Second)

	oldConfirmed := mutation("old-confirmed", "c1", models.MutationSendText, old)
	oldConfirmed.State = models.MutationConfirmed
	oldConfirmed.ResolvedAt = &resolvedAt
	require.NoError(t, db.RecordMutation(ctx, oldConfirmed))
	require.NoError(t, db.RecordMutation(ctx, mutation("old-pending", "c1", models.MutationSendText, old)))

	recent := mutation("recent", "c1", models.MutationSendText, time.Now().UTC())
	recent.State = models.MutationConfirmed
	require.NoError(t, db.RecordMutation(ctx, recent))

	deleted, err := db.CleanupOldMutations(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	remaining, err := db.ListMutations(ctx, "", 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"old-pending", "recent"}, ids(remaining))
}

func TestRecordMutation_EncryptedColumns(t *testing.T) {
	t.Setenv(envEnableEncryption, "true")
	t.Setenv(envEncryptionSecret, testSecret)
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.RecordMutation(ctx, mutation("m1", "conv-secret", models.MutationSendText, time.Now())))

	var rawConv, rawDetail string
	require.NoError(t, db.db.QueryRowContext(ctx,
		`SELECT conversation_id, detail FROM mutation_journal WHERE id = ?`, "m1").Scan(&rawConv, &rawDetail))
	assert.NotContains(t, rawConv, "conv-secret")
	assert.False(t, strings.Contains(rawDetail, "body=hi"))

	got, err := db.GetMutation(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "conv-secret", got.ConversationID)
	assert.Equal(t, "body=hi", got.Detail)

	byConv, err := db.ListMutations(ctx, "conv-secret", 10)
	require.NoError(t, err)
	assert.Len(t, byConv, 1)
}

func TestHealthCheck(t *testing.T) {
	db := newTestDB(t)
	assert.NoError(t, db.HealthCheck(context.Background()))
}

func ids(ms []models.Mutation) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}
