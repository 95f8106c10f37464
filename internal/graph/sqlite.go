package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// SQLiteStore implements Store on SQLite (local/default backend).
type SQLiteStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewSQLiteStore opens (creating if necessary) a SQLite-backed graph store.
func NewSQLiteStore(path string, logger *logrus.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("connect to sqlite: %w", err)
	}

	// WAL mode for concurrent readers during ingestion
	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	store := &SQLiteStore{db: db, logger: logger}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		node_type TEXT NOT NULL,
		attributes TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS edges (
		from_id TEXT NOT NULL,
		to_id TEXT NOT NULL,
		edge_type TEXT NOT NULL,
		properties TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (from_id, to_id, edge_type)
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_type_id ON nodes(node_type, id);
	CREATE INDEX IF NOT EXISTS idx_edges_reverse ON edges(to_id, edge_type, from_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle so sibling stores (the repository
// registry) can share one database file.
func (s *SQLiteStore) DB() *sqlx.DB {
	return s.db
}

func (s *SQLiteStore) UpsertNode(ctx context.Context, node Node) error {
	if !node.Type.Valid() {
		return fmt.Errorf("node %s: %w", node.ID, ErrInvalidType)
	}

	attrs, err := json.Marshal(node.Attrs)
	if err != nil {
		return fmt.Errorf("marshal attributes for %s: %w", node.ID, err)
	}

	query := `
		INSERT OR REPLACE INTO nodes (id, node_type, attributes, updated_at)
		VALUES (?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query, node.ID, string(node.Type), string(attrs), time.Now().UTC())
	return err
}

func (s *SQLiteStore) UpsertEdge(ctx context.Context, edge Edge) error {
	if !edge.Type.Valid() {
		return fmt.Errorf("edge %s -> %s: %w", edge.From, edge.To, ErrInvalidType)
	}

	props, err := json.Marshal(edge.Props)
	if err != nil {
		return fmt.Errorf("marshal properties for %s -> %s: %w", edge.From, edge.To, err)
	}

	query := `
		INSERT OR REPLACE INTO edges (from_id, to_id, edge_type, properties, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query, edge.From, edge.To, string(edge.Type), string(props), time.Now().UTC())
	return err
}

func (s *SQLiteStore) GetNode(ctx context.Context, id string) (Node, error) {
	var row nodeRow
	query := `SELECT id, node_type, attributes FROM nodes WHERE id = ?`

	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return Node{}, ErrNotFound
		}
		return Node{}, err
	}

	return row.toNode()
}

func (s *SQLiteStore) EdgesFrom(ctx context.Context, fromID string, edgeType EdgeType) ([]Edge, error) {
	query := `SELECT from_id, to_id, edge_type, properties FROM edges WHERE from_id = ?`
	args := []interface{}{fromID}

	if edgeType != "" {
		query += ` AND edge_type = ?`
		args = append(args, string(edgeType))
	}
	query += ` ORDER BY to_id, edge_type`

	return s.selectEdges(ctx, query, args...)
}

func (s *SQLiteStore) EdgesTo(ctx context.Context, toID string, edgeType EdgeType) ([]Edge, error) {
	query := `SELECT from_id, to_id, edge_type, properties FROM edges WHERE to_id = ?`
	args := []interface{}{toID}

	if edgeType != "" {
		query += ` AND edge_type = ?`
		args = append(args, string(edgeType))
	}
	query += ` ORDER BY from_id, edge_type`

	return s.selectEdges(ctx, query, args...)
}

func (s *SQLiteStore) NodesByPrefix(ctx context.Context, nodeType NodeType, prefix string) ([]Node, error) {
	var rows []nodeRow
	query := `
		SELECT id, node_type, attributes FROM nodes
		WHERE node_type = ? AND id >= ? AND id < ?
		ORDER BY id
	`

	// Half-open key range covers all IDs with the prefix; U+FFFF sorts
	// after any codepoint appearing in a composite ID.
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

func (s *SQLiteStore) CountNodes(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM nodes`)
	return n, err
}

func (s *SQLiteStore) CountEdges(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM edges`)
	return n, err
}

func (s *SQLiteStore) selectEdges(ctx context.Context, query string, args ...interface{}) ([]Edge, error) {
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

// Row scanning shared by both SQL backends.

type nodeRow struct {
	ID         string `db:"id"`
	NodeType   string `db:"node_type"`
	Attributes string `db:"attributes"`
}

func (r nodeRow) toNode() (Node, error) {
	var attrs Attrs
	if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
		return Node{}, fmt.Errorf("unmarshal attributes for %s: %w", r.ID, err)
	}
	return Node{ID: r.ID, Type: NodeType(r.NodeType), Attrs: attrs}, nil
}

type edgeRow struct {
	FromID     string `db:"from_id"`
	ToID       string `db:"to_id"`
	EdgeType   string `db:"edge_type"`
	Properties string `db:"properties"`
}

func (r edgeRow) toEdge() (Edge, error) {
	var props Attrs
	if err := json.Unmarshal([]byte(r.Properties), &props); err != nil {
		return Edge{}, fmt.Errorf("unmarshal properties for %s -> %s: %w", r.FromID, r.ToID, err)
	}
	return Edge{From: r.FromID, To: r.ToID, Type: EdgeType(r.EdgeType), Props: props}, nil
}
