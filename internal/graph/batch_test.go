package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore fails a configurable number of times per key, then succeeds.
type flakyStore struct {
	Store
	nodeFailures map[string]int
	edgeFailures map[string]int
	nodes        []Node
	edges        []Edge
}

func newFlakyStore() *flakyStore {
	return &flakyStore{
		nodeFailures: map[string]int{},
		edgeFailures: map[string]int{},
	}
}

func (s *flakyStore) UpsertNode(ctx context.Context, node Node) error {
	if s.nodeFailures[node.ID] > 0 {
		s.nodeFailures[node.ID]--
		return errors.New("transient write failure")
	}
	s.nodes = append(s.nodes, node)
	return nil
}

func (s *flakyStore) GetNode(ctx context.Context, id string) (Node, error) {
	for _, n := range s.nodes {
		if n.ID == id {
			return n, nil
		}
	}
	return Node{}, ErrNotFound
}

func (s *flakyStore) UpsertEdge(ctx context.Context, edge Edge) error {
	key := edge.From + "->" + edge.To
	if s.edgeFailures[key] > 0 {
		s.edgeFailures[key]--
		return errors.New("transient write failure")
	}
	s.edges = append(s.edges, edge)
	return nil
}

func newTestWriter(store Store) *BatchWriter {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	w := NewBatchWriter(store, logger)
	w.backoff = func(int) time.Duration { return 0 }
	return w
}

func TestBatchWriter_NodesBeforeEdges(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	w := newTestWriter(store)

	batch := Batch{
		Edges: []Edge{{From: "user#alice", To: "pr#acme/api#1", Type: EdgeAuthored, Props: Attrs{}}},
		Nodes: []Node{
			{ID: "user#alice", Type: NodeUser, Attrs: Attrs{}},
			{ID: "pr#acme/api#1", Type: NodePullRequest, Attrs: Attrs{}},
		},
	}

	report, err := w.ApplyBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, report.NodesWritten)
	assert.Equal(t, 1, report.EdgesWritten)
	assert.Empty(t, report.Failed)

	// Both nodes landed before the edge did.
	require.Len(t, store.nodes, 2)
	require.Len(t, store.edges, 1)
}

func TestBatchWriter_RetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	store.nodeFailures["user#alice"] = 2 // succeeds on third attempt
	w := newTestWriter(store)

	report, err := w.ApplyBatch(ctx, Batch{
		Nodes: []Node{{ID: "user#alice", Type: NodeUser, Attrs: Attrs{}}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.NodesWritten)
	assert.Empty(t, report.Failed)
}

func TestBatchWriter_CollectsFailuresWithoutAborting(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	store.nodeFailures["user#bob"] = 100 // never succeeds
	w := newTestWriter(store)

	batch := Batch{
		Nodes: []Node{
			{ID: "user#alice", Type: NodeUser, Attrs: Attrs{}},
			{ID: "user#bob", Type: NodeUser, Attrs: Attrs{}},
			{ID: "pr#acme/api#1", Type: NodePullRequest, Attrs: Attrs{}},
		},
		Edges: []Edge{
			{From: "user#alice", To: "pr#acme/api#1", Type: EdgeAuthored, Props: Attrs{}},
			{From: "user#bob", To: "pr#acme/api#1", Type: EdgeAuthored, Props: Attrs{}},
		},
	}

	report, err := w.ApplyBatch(ctx, batch)
	require.NoError(t, err)

	assert.Equal(t, 2, report.NodesWritten)
	assert.Equal(t, 1, report.EdgesWritten)

	// The failed node and the edge that depended on it.
	require.Len(t, report.Failed, 2)
	assert.Equal(t, "user#bob", report.Failed[0].Key)

	// The dangling edge was skipped, not written.
	for _, e := range store.edges {
		assert.NotEqual(t, "user#bob", e.From)
	}
}

func TestBatchWriter_PlaceholderNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	w := newTestWriter(store)

	full := Node{ID: "issue#acme/api#12", Type: NodeIssue, Attrs: Attrs{"title": String("Token expiry bug")}}
	_, err := w.ApplyBatch(ctx, Batch{Nodes: []Node{full}})
	require.NoError(t, err)

	stub := Node{ID: "issue#acme/api#12", Type: NodeIssue, Attrs: Attrs{"number": Int(12)}, Placeholder: true}
	report, err := w.ApplyBatch(ctx, Batch{
		Nodes: []Node{stub},
		Edges: []Edge{{From: "pr#acme/api#7", To: "issue#acme/api#12", Type: EdgeFixes, Props: Attrs{}}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, report.NodesWritten)
	assert.Equal(t, 1, report.EdgesWritten)

	// The full record's attributes survive.
	require.Len(t, store.nodes, 1)
	assert.Equal(t, "Token expiry bug", store.nodes[0].Attrs["title"].AsString())

	t.Run("WritesWhenAbsent", func(t *testing.T) {
		report, err := w.ApplyBatch(ctx, Batch{
			Nodes: []Node{{ID: "issue#acme/api#15", Type: NodeIssue, Attrs: Attrs{"number": Int(15)}, Placeholder: true}},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, report.NodesWritten)
	})
}

func TestBatchWriter_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := newTestWriter(newFlakyStore())
	_, err := w.ApplyBatch(ctx, Batch{
		Nodes: []Node{{ID: "user#alice", Type: NodeUser, Attrs: Attrs{}}},
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBatch_Append(t *testing.T) {
	var b Batch
	assert.True(t, b.Empty())

	b.Append(Batch{Nodes: []Node{{ID: "user#alice", Type: NodeUser}}})
	b.Append(Batch{Edges: []Edge{{From: "a", To: "b", Type: EdgeTouches}}})

	assert.False(t, b.Empty())
	assert.Len(t, b.Nodes, 1)
	assert.Len(t, b.Edges, 1)
}
