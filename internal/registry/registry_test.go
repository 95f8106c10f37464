package registry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	db, err := sqlx.Connect("sqlite3", filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	reg, err := New(db, logger)
	require.NoError(t, err)
	return reg
}

func TestRegistry_AddAndList(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	require.NoError(t, reg.Add(ctx, "acme", "api", []string{"go", "backend"}, 42))
	require.NoError(t, reg.Add(ctx, "acme", "web", nil, 0))

	repos, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, repos, 2)

	assert.Equal(t, "acme/api", repos[0].Key())
	assert.True(t, repos[0].Enabled)
	assert.Equal(t, []string{"go", "backend"}, repos[0].Topics)
	assert.Equal(t, 42, repos[0].Stars)

	t.Run("ReAddUpdatesInPlace", func(t *testing.T) {
		require.NoError(t, reg.Add(ctx, "acme", "api", []string{"go"}, 50))

		repos, err := reg.List(ctx)
		require.NoError(t, err)
		require.Len(t, repos, 2)

		r, err := reg.Get(ctx, "acme", "api")
		require.NoError(t, err)
		assert.Equal(t, 50, r.Stars)
		assert.Equal(t, []string{"go"}, r.Topics)
	})

	t.Run("RejectsEmptyNames", func(t *testing.T) {
		assert.Error(t, reg.Add(ctx, "", "api", nil, 0))
		assert.Error(t, reg.Add(ctx, "acme", "", nil, 0))
	})
}

func TestRegistry_EnableDisable(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	require.NoError(t, reg.Add(ctx, "acme", "api", nil, 0))
	require.NoError(t, reg.Add(ctx, "acme", "web", nil, 0))
	require.NoError(t, reg.SetEnabled(ctx, "acme", "web", false))

	enabled, err := reg.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "acme/api", enabled[0].Key())

	// Disabling forgets nothing.
	r, err := reg.Get(ctx, "acme", "web")
	require.NoError(t, err)
	assert.False(t, r.Enabled)

	t.Run("UnknownRepo", func(t *testing.T) {
		err := reg.SetEnabled(ctx, "acme", "nope", true)
		assert.ErrorIs(t, err, ErrNotRegistered)
	})
}

func TestRegistry_Remove(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	require.NoError(t, reg.Add(ctx, "acme", "api", nil, 0))
	require.NoError(t, reg.Remove(ctx, "acme", "api"))

	_, err := reg.Get(ctx, "acme", "api")
	assert.ErrorIs(t, err, ErrNotRegistered)

	assert.ErrorIs(t, reg.Remove(ctx, "acme", "api"), ErrNotRegistered)
}

func TestRegistry_RunLifecycle(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	require.NoError(t, reg.Add(ctx, "acme", "api", nil, 0))

	require.NoError(t, reg.MarkRunning(ctx, "acme", "api", "run-1"))
	r, err := reg.Get(ctx, "acme", "api")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, r.LastRunStatus)
	assert.Equal(t, "run-1", r.LastRunID)
	require.NotNil(t, r.LastRunAt)

	t.Run("Success", func(t *testing.T) {
		require.NoError(t, reg.MarkCompleted(ctx, "acme", "api", "run-1", ""))
		r, err := reg.Get(ctx, "acme", "api")
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, r.LastRunStatus)
		assert.Empty(t, r.LastError)
	})

	t.Run("Error", func(t *testing.T) {
		require.NoError(t, reg.MarkCompleted(ctx, "acme", "api", "run-2", "pull_requests: fetch page 3: bad gateway"))
		r, err := reg.Get(ctx, "acme", "api")
		require.NoError(t, err)
		assert.Equal(t, StatusError, r.LastRunStatus)
		assert.Contains(t, r.LastError, "page 3")
	})

	t.Run("NewRunClearsError", func(t *testing.T) {
		require.NoError(t, reg.MarkRunning(ctx, "acme", "api", "run-3"))
		r, err := reg.Get(ctx, "acme", "api")
		require.NoError(t, err)
		assert.Equal(t, StatusPending, r.LastRunStatus)
		assert.Empty(t, r.LastError)
	})
}
