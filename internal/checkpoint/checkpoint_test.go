package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_SaveAndLoad(t *testing.T) {
	store := newTestStore(t)

	_, found, err := store.Load("acme/api", "pull_requests")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Save("acme/api", "pull_requests", Cursor{Page: 4}))

	cursor, found, err := store.Load("acme/api", "pull_requests")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 4, cursor.Page)
	assert.False(t, cursor.UpdatedAt.IsZero())
}

func TestStore_ModesAdvanceIndependently(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save("acme/api", "pull_requests", Cursor{Page: 7}))
	require.NoError(t, store.Save("acme/api", "issues", Cursor{Page: 2}))
	require.NoError(t, store.Save("acme/web", "pull_requests", Cursor{Page: 3}))

	cursor, found, err := store.Load("acme/api", "issues")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, cursor.Page)

	cursor, _, _ = store.Load("acme/web", "pull_requests")
	assert.Equal(t, 3, cursor.Page)
}

func TestStore_MonotonicAdvance(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save("acme/api", "issues", Cursor{Page: 5}))

	// A lagging writer cannot roll the cursor back.
	require.NoError(t, store.Save("acme/api", "issues", Cursor{Page: 3}))
	cursor, _, _ := store.Load("acme/api", "issues")
	assert.Equal(t, 5, cursor.Page)

	// Saving the same page again changes nothing.
	require.NoError(t, store.Save("acme/api", "issues", Cursor{Page: 5}))
	cursor, _, _ = store.Load("acme/api", "issues")
	assert.Equal(t, 5, cursor.Page)

	// Advancing still works.
	require.NoError(t, store.Save("acme/api", "issues", Cursor{Page: 6}))
	cursor, _, _ = store.Load("acme/api", "issues")
	assert.Equal(t, 6, cursor.Page)
}

func TestStore_Reset(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save("acme/api", "labels", Cursor{Page: 9}))
	require.NoError(t, store.Reset("acme/api", "labels"))

	_, found, err := store.Load("acme/api", "labels")
	require.NoError(t, err)
	assert.False(t, found)

	// After a reset the cursor can move backward.
	require.NoError(t, store.Save("acme/api", "labels", Cursor{Page: 1}))
	cursor, _, _ := store.Load("acme/api", "labels")
	assert.Equal(t, 1, cursor.Page)
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Save("acme/api", "contributors", Cursor{Page: 12}))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	cursor, found, err := reopened.Load("acme/api", "contributors")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 12, cursor.Page)
}
