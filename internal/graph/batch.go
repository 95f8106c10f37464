package graph

import (
	"context"
	"time"

	"github.com/contribconnect/contribgraph/internal/retry"
	"github.com/sirupsen/logrus"
)

// Batch is a set of node and edge upserts applied as one logical write.
type Batch struct {
	Nodes []Node
	Edges []Edge
}

// Append merges another batch into this one.
func (b *Batch) Append(other Batch) {
	b.Nodes = append(b.Nodes, other.Nodes...)
	b.Edges = append(b.Edges, other.Edges...)
}

// Empty reports whether the batch has no writes.
func (b *Batch) Empty() bool {
	return len(b.Nodes) == 0 && len(b.Edges) == 0
}

// FailedItem records an item that failed after all retries.
type FailedItem struct {
	Key string
	Err error
}

// BatchReport summarizes a batch application. Individual failures are
// reported here, never turned into a batch-level error.
type BatchReport struct {
	NodesWritten int
	EdgesWritten int
	Failed       []FailedItem
}

// BatchWriter applies batches to a Store with per-item retries.
//
// All nodes are written before any edge, so every committed edge references
// endpoint nodes that are already durable. An edge whose endpoint node
// failed all retries is skipped, not written dangling.
type BatchWriter struct {
	store       Store
	logger      *logrus.Logger
	maxAttempts int
	backoff     func(attempt int) time.Duration
}

// NewBatchWriter creates a writer over the given store.
func NewBatchWriter(store Store, logger *logrus.Logger) *BatchWriter {
	return &BatchWriter{
		store:       store,
		logger:      logger,
		maxAttempts: retry.DefaultMaxAttempts,
		backoff:     retry.Backoff,
	}
}

// ApplyBatch upserts all nodes, then all edges. Items failing after
// maxAttempts are collected in the report; the batch continues.
func (w *BatchWriter) ApplyBatch(ctx context.Context, batch Batch) (BatchReport, error) {
	report := BatchReport{}
	failedNodes := make(map[string]bool)

	for _, node := range batch.Nodes {
		node := node

		if node.Placeholder {
			if _, err := w.store.GetNode(ctx, node.ID); err == nil {
				// The full record is already there; a stub must not
				// clobber its attributes.
				continue
			}
		}

		err := w.withRetry(ctx, func() error {
			return w.store.UpsertNode(ctx, node)
		})
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			w.logger.WithError(err).WithField("node", node.ID).Warn("node upsert failed after retries")
			report.Failed = append(report.Failed, FailedItem{Key: node.ID, Err: err})
			failedNodes[node.ID] = true
			continue
		}
		report.NodesWritten++
	}

	for _, edge := range batch.Edges {
		edge := edge
		key := edge.From + "->" + edge.To + ":" + string(edge.Type)

		if failedNodes[edge.From] || failedNodes[edge.To] {
			w.logger.WithField("edge", key).Warn("skipping edge with failed endpoint node")
			report.Failed = append(report.Failed, FailedItem{Key: key, Err: ErrNotFound})
			continue
		}

		err := w.withRetry(ctx, func() error {
			return w.store.UpsertEdge(ctx, edge)
		})
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			w.logger.WithError(err).WithField("edge", key).Warn("edge upsert failed after retries")
			report.Failed = append(report.Failed, FailedItem{Key: key, Err: err})
			continue
		}
		report.EdgesWritten++
	}

	return report, nil
}

func (w *BatchWriter) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < w.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt < w.maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.backoff(attempt)):
			}
		}
	}
	return lastErr
}
