package graph

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "graph.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_UpsertNode(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	node := Node{
		ID:   UserNodeID("alice"),
		Type: NodeUser,
		Attrs: Attrs{
			"login": String("alice"),
		},
	}
	require.NoError(t, store.UpsertNode(ctx, node))

	t.Run("ReadBack", func(t *testing.T) {
		got, err := store.GetNode(ctx, "user#alice")
		require.NoError(t, err)
		assert.Equal(t, NodeUser, got.Type)
		assert.Equal(t, "alice", got.Attrs["login"].AsString())
	})

	t.Run("IdempotentRewrite", func(t *testing.T) {
		require.NoError(t, store.UpsertNode(ctx, node))
		require.NoError(t, store.UpsertNode(ctx, node))

		n, err := store.CountNodes(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("LastWriteWins", func(t *testing.T) {
		updated := node
		updated.Attrs = Attrs{"login": String("alice"), "name": String("Alice A")}
		require.NoError(t, store.UpsertNode(ctx, updated))

		got, err := store.GetNode(ctx, "user#alice")
		require.NoError(t, err)
		assert.Equal(t, "Alice A", got.Attrs["name"].AsString())
	})

	t.Run("RejectsUnknownType", func(t *testing.T) {
		err := store.UpsertNode(ctx, Node{ID: "x#1", Type: NodeType("mystery")})
		assert.ErrorIs(t, err, ErrInvalidType)
	})

	t.Run("MissingNode", func(t *testing.T) {
		_, err := store.GetNode(ctx, "user#nobody")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSQLiteStore_UpsertEdge(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	edge := Edge{
		From: UserNodeID("alice"),
		To:   PRNodeID("acme/api", 7),
		Type: EdgeAuthored,
		Props: Attrs{
			"createdAt": Time(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
		},
	}
	require.NoError(t, store.UpsertEdge(ctx, edge))

	t.Run("TripleIsIdempotencyKey", func(t *testing.T) {
		edge.Props["createdAt"] = Time(time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC))
		require.NoError(t, store.UpsertEdge(ctx, edge))

		n, err := store.CountEdges(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		edges, err := store.EdgesFrom(ctx, edge.From, EdgeAuthored)
		require.NoError(t, err)
		require.Len(t, edges, 1)
		assert.Equal(t, 2024, edges[0].Props["createdAt"].AsTime().Year())
		assert.Equal(t, time.April, edges[0].Props["createdAt"].AsTime().Month())
	})

	t.Run("DifferentTypeIsDifferentEdge", func(t *testing.T) {
		reviewed := Edge{From: edge.From, To: edge.To, Type: EdgeReviewed, Props: Attrs{}}
		require.NoError(t, store.UpsertEdge(ctx, reviewed))

		n, err := store.CountEdges(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("RejectsUnknownType", func(t *testing.T) {
		err := store.UpsertEdge(ctx, Edge{From: "a", To: "b", Type: EdgeType("KNOWS")})
		assert.ErrorIs(t, err, ErrInvalidType)
	})
}

func TestSQLiteStore_ReverseTraversal(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	fileID := FileNodeID("acme/api", "src/auth.go")
	pr1 := PRNodeID("acme/api", 1)
	pr2 := PRNodeID("acme/api", 2)

	require.NoError(t, store.UpsertEdge(ctx, Edge{From: pr1, To: fileID, Type: EdgeTouches, Props: Attrs{}}))
	require.NoError(t, store.UpsertEdge(ctx, Edge{From: pr2, To: fileID, Type: EdgeTouches, Props: Attrs{}}))
	require.NoError(t, store.UpsertEdge(ctx, Edge{From: UserNodeID("alice"), To: pr1, Type: EdgeAuthored, Props: Attrs{}}))

	t.Run("EdgesToMatchesEdgesFrom", func(t *testing.T) {
		incoming, err := store.EdgesTo(ctx, fileID, EdgeTouches)
		require.NoError(t, err)
		require.Len(t, incoming, 2)

		for _, e := range incoming {
			outgoing, err := store.EdgesFrom(ctx, e.From, EdgeTouches)
			require.NoError(t, err)
			assert.Contains(t, outgoing, e)
		}
	})

	t.Run("TypeFilter", func(t *testing.T) {
		all, err := store.EdgesTo(ctx, pr1, "")
		require.NoError(t, err)
		assert.Len(t, all, 1)

		none, err := store.EdgesTo(ctx, pr1, EdgeReviewed)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("DeterministicOrder", func(t *testing.T) {
		first, err := store.EdgesTo(ctx, fileID, EdgeTouches)
		require.NoError(t, err)
		second, err := store.EdgesTo(ctx, fileID, EdgeTouches)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})
}

func TestSQLiteStore_NodesByPrefix(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, path := range []string{"src/auth.go", "src/auth_test.go", "docs/auth.md"} {
		require.NoError(t, store.UpsertNode(ctx, Node{
			ID:    FileNodeID("acme/api", path),
			Type:  NodeFile,
			Attrs: Attrs{"path": String(path)},
		}))
	}
	require.NoError(t, store.UpsertNode(ctx, Node{
		ID:    FileNodeID("acme/web", "src/auth.go"),
		Type:  NodeFile,
		Attrs: Attrs{"path": String("src/auth.go")},
	}))

	t.Run("ScopedToRepo", func(t *testing.T) {
		nodes, err := store.NodesByPrefix(ctx, NodeFile, "file#acme/api#")
		require.NoError(t, err)
		assert.Len(t, nodes, 3)
	})

	t.Run("PathPrefix", func(t *testing.T) {
		nodes, err := store.NodesByPrefix(ctx, NodeFile, "file#acme/api#src/")
		require.NoError(t, err)
		require.Len(t, nodes, 2)
		assert.Equal(t, "file#acme/api#src/auth.go", nodes[0].ID)
	})

	t.Run("NoMatches", func(t *testing.T) {
		nodes, err := store.NodesByPrefix(ctx, NodeFile, "file#other/repo#")
		require.NoError(t, err)
		assert.Empty(t, nodes)
	})
}
