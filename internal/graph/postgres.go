package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// PostgresStore implements Store on PostgreSQL (shared/team backend).
type PostgresStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPostgresStore connects to PostgreSQL and ensures the graph schema.
func NewPostgresStore(dsn string, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &PostgresStore{db: db, logger: logger}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		node_type TEXT NOT NULL,
		attributes TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS edges (
		from_id TEXT NOT NULL,
		to_id TEXT NOT NULL,
		edge_type TEXT NOT NULL,
		properties TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (from_id, to_id, edge_type)
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_type_id ON nodes(node_type, id);
	CREATE INDEX IF NOT EXISTS idx_edges_reverse ON edges(to_id, edge_type, from_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle so sibling stores can share it.
func (s *PostgresStore) DB() *sqlx.DB {
	return s.db
}

func (s *PostgresStore) UpsertNode(ctx context.Context, node Node) error {
	if !node.Type.Valid() {
		return fmt.Errorf("node %s: %w", node.ID, ErrInvalidType)
	}

	attrs, err := json.Marshal(node.Attrs)
	if err != nil {
		return fmt.Errorf("marshal attributes for %s: %w", node.ID, err)
	}

	query := `
		INSERT INTO nodes (id, node_type, attributes, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			node_type = EXCLUDED.node_type,
			attributes = EXCLUDED.attributes,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.ExecContext(ctx, query, node.ID, string(node.Type), string(attrs), time.Now().UTC())
	return err
}

func (s *PostgresStore) UpsertEdge(ctx context.Context, edge Edge) error {
	if !edge.Type.Valid() {
		return fmt.Errorf("edge %s -> %s: %w", edge.From, edge.To, ErrInvalidType)
	}

	props, err := json.Marshal(edge.Props)
	if err != nil {
		return fmt.Errorf("marshal properties for %s -> %s: %w", edge.From, edge.To, err)
	}

	query := `
		INSERT INTO edges (from_id, to_id, edge_type, properties, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (from_id, to_id, edge_type) DO UPDATE SET
			properties = EXCLUDED.properties,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.ExecContext(ctx, query, edge.From, edge.To, string(edge.Type), string(props), time.Now().UTC())
	return err
}

func (s *PostgresStore) GetNode(ctx context.Context, id string) (Node, error) {
	var row nodeRow
	query := `SELECT id, node_type, attributes FROM nodes WHERE id = $1`

	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return Node{}, ErrNotFound
		}
		return Node{}, err
	}

	return row.toNode()
}

func (s *PostgresStore) EdgesFrom(ctx context.Context, fromID string, edgeType EdgeType) ([]Edge, error) {
	if edgeType != "" {
		return s.selectEdges(ctx,
			`SELECT from_id, to_id, edge_type, properties FROM edges
			 WHERE from_id = $1 AND edge_type = $2 ORDER BY to_id, edge_type`,
			fromID, string(edgeType))
	}
	return s.selectEdges(ctx,
		`SELECT from_id, to_id, edge_type, properties FROM edges
		 WHERE from_id = $1 ORDER BY to_id, edge_type`,
		fromID)
}

func (s *PostgresStore) EdgesTo(ctx context.Context, toID string, edgeType EdgeType) ([]Edge, error) {
	if edgeType != "" {
		return s.selectEdges(ctx,
			`SELECT from_id, to_id, edge_type, properties FROM edges
			 WHERE to_id = $1 AND edge_type = $2 ORDER BY from_id, edge_type`,
			toID, string(edgeType))
	}
	return s.selectEdges(ctx,
		`SELECT from_id, to_id, edge_type, properties FROM edges
		 WHERE to_id = $1 ORDER BY from_id, edge_type`,
		toID)
}

func (s *PostgresStore) NodesByPrefix(ctx context.Context, nodeType NodeType, prefix string) ([]Node, error) {
	var rows []nodeRow
	query := `
		SELECT id, node_type, attributes FROM nodes
		WHERE node_type = $1 AND id >= $2 AND id < $3
		ORDER BY id
	`

	if err := s.db.SelectContext(ctx, &rows, query, string(nodeType), prefix, prefix+"\uffff"); err != nil {
		return nil, err
	}

	nodes := make([]Node, 0, len(rows))
	for _, row := range rows {
		node, err := row.toNode()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func (s *PostgresStore) CountNodes(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM nodes`)
	return n, err
}

func (s *PostgresStore) CountEdges(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM edges`)
	return n, err
}

func (s *PostgresStore) selectEdges(ctx context.Context, query string, args ...interface{}) ([]Edge, error) {
	var rows []edgeRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	edges := make([]Edge, 0, len(rows))
	for _, row := range rows {
		edge, err := row.toEdge()
		if err != nil {
			return nil, err
		}
		edges = append(edges, edge)
	}
	return edges, nil
}
