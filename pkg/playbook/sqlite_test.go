package playbook

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acelabs/ace-go/pkg/errors"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "playbook.db")
	store, err := NewSQLiteStore(path, StoreOptions{AutoCreateSections: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreApplyAndRead(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	rev, err := store.Apply(ctx, []DeltaOp{
		NewAdd("strategies", "prefer batch writes", map[string]string{"source": "reflection"}),
		NewAdd("pitfalls", "never swallow context cancellation", nil),
	}, ApplyOptions{AppliedBy: "curator", Description: "seed"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev.Seq)

	bullets, err := store.ReadSection(ctx, "strategies")
	require.NoError(t, err)
	require.Len(t, bullets, 1)
	assert.Equal(t, "prefer batch writes", bullets[0].Content)
	assert.Equal(t, "reflection", bullets[0].Metadata["source"])

	_, err = store.ReadSection(ctx, "unknown")
	assert.Equal(t, errors.ResourceNotFound, errors.CodeOf(err))
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "playbook.db")

	store, err := NewSQLiteStore(path, StoreOptions{AutoCreateSections: true})
	require.NoError(t, err)

	rev, err := store.Apply(ctx, []DeltaOp{
		NewAdd("strategies", "prefer batch writes", nil),
	}, ApplyOptions{AppliedBy: "curator"})
	require.NoError(t, err)

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	id := snap.Sections[0].BulletIDs[0]

	_, err = store.Apply(ctx, []DeltaOp{NewTag(id, OutcomeHelpful, "trace-1")}, ApplyOptions{})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path, StoreOptions{AutoCreateSections: true})
	require.NoError(t, err)
	defer reopened.Close()

	snap, err = reopened.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Version)
	assert.Equal(t, 1, snap.Bullets[id].HelpfulCount)

	// TAG idempotency keys survive the reopen.
	skipped, err := reopened.Apply(ctx, []DeltaOp{NewTag(id, OutcomeHelpful, "trace-1")}, ApplyOptions{})
	require.NoError(t, err)
	assert.Empty(t, skipped.Tagged)

	revs, err := reopened.Revisions(ctx)
	require.NoError(t, err)
	require.Len(t, revs, 2)
	assert.Equal(t, rev.Seq, revs[0].Seq)
	assert.Equal(t, "curator", revs[0].AppliedBy)
}

func TestSQLiteStoreConflictDetection(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	_, err := store.Apply(ctx, []DeltaOp{
		NewAdd("strategies", "prefer batch writes", nil),
	}, ApplyOptions{})
	require.NoError(t, err)

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	id := snap.Sections[0].BulletIDs[0]

	_, err = store.Apply(ctx, []DeltaOp{NewUpdate(id, "revised by someone else")}, ApplyOptions{})
	require.NoError(t, err)

	_, err = store.Apply(ctx, []DeltaOp{NewTag(id, OutcomeHelpful, "trace-1")},
		ApplyOptions{BaseVersion: snap.Version})
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
}

func TestSQLiteStoreRollback(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	_, err := store.Apply(ctx, []DeltaOp{
		NewAdd("strategies", "prefer batch writes", nil),
		NewAdd("strategies", "validate inputs early", nil),
	}, ApplyOptions{})
	require.NoError(t, err)

	before, err := store.Snapshot(ctx)
	require.NoError(t, err)
	first := before.Sections[0].BulletIDs[0]

	rev, err := store.Apply(ctx, []DeltaOp{
		NewUpdate(first, "rewritten entirely"),
		NewRemove(before.Sections[0].BulletIDs[1]),
	}, ApplyOptions{})
	require.NoError(t, err)

	rollback, err := store.Rollback(ctx, rev.Seq, false)
	require.NoError(t, err)
	assert.Equal(t, "rollback", rollback.AppliedBy)

	after, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Bullets[first].Content, after.Bullets[first].Content)
	assert.Equal(t, before.Sections[0].BulletIDs, after.SectionByName("strategies").BulletIDs)

	_, err = store.Rollback(ctx, 99, false)
	assert.Equal(t, errors.RevisionNotFound, errors.CodeOf(err))
}

func TestSQLiteStoreRemoveTwiceIsNoop(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	_, err := store.Apply(ctx, []DeltaOp{
		NewAdd("strategies", "prefer batch writes", nil),
	}, ApplyOptions{})
	require.NoError(t, err)

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	id := snap.Sections[0].BulletIDs[0]

	_, err = store.Apply(ctx, []DeltaOp{NewRemove(id)}, ApplyOptions{})
	require.NoError(t, err)

	rev, err := store.Apply(ctx, []DeltaOp{NewRemove(id)}, ApplyOptions{})
	require.NoError(t, err)
	assert.False(t, rev.HasChanges())
}
