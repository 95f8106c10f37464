package graph

import (
	"context"
	"errors"
)

// Common errors
var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidType = errors.New("invalid type")
)

// Store is the adjacency-list graph store: two flat tables (nodes, edges)
// with a reverse index on the edge target. Any backend with partition+sort
// key addressing and one secondary index can implement it.
//
// All writes are idempotent last-write-wins upserts. Forward and reverse
// edge lookups are always consistent because both are served from the same
// edge row through different indexes.
type Store interface {
	UpsertNode(ctx context.Context, node Node) error
	UpsertEdge(ctx context.Context, edge Edge) error

	GetNode(ctx context.Context, id string) (Node, error)

	// EdgesFrom returns outgoing edges. An empty edgeType matches all types.
	EdgesFrom(ctx context.Context, fromID string, edgeType EdgeType) ([]Edge, error)

	// EdgesTo returns incoming edges via the reverse index. An empty
	// edgeType matches all types.
	EdgesTo(ctx context.Context, toID string, edgeType EdgeType) ([]Edge, error)

	// NodesByPrefix returns nodes of the given type whose ID starts with
	// prefix, ordered by ID. The range primitive behind module→file
	// expansion.
	NodesByPrefix(ctx context.Context, nodeType NodeType, prefix string) ([]Node, error)

	// CountNodes and CountEdges support ingestion verification.
	CountNodes(ctx context.Context) (int, error)
	CountEdges(ctx context.Context) (int, error)

	Close() error
}
