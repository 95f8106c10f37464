package main

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/contribconnect/contribgraph/internal/cache"
	"github.com/contribconnect/contribgraph/internal/checkpoint"
	"github.com/contribconnect/contribgraph/internal/config"
	"github.com/contribconnect/contribgraph/internal/graph"
	"github.com/contribconnect/contribgraph/internal/query"
	"github.com/contribconnect/contribgraph/internal/registry"
)

// stores bundles everything a command needs, opened together and closed
// together.
type stores struct {
	graph       graph.Store
	registry    *registry.Registry
	checkpoints *checkpoint.Store
	cache       *cache.Client
}

// openStores wires the storage stack from config. The registry shares the
// graph store's database handle.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	var (
		store graph.Store
		db    *sqlx.DB
		err   error
	)

	switch cfg.Storage.Type {
	case "postgres":
		pg, perr := graph.NewPostgresStore(cfg.Storage.PostgresDSN, logger)
		if perr != nil {
			return nil, perr
		}
		store, db = pg, pg.DB()
	default:
		lite, serr := graph.NewSQLiteStore(cfg.Storage.LocalPath, logger)
		if serr != nil {
			return nil, serr
		}
		store, db = lite, lite.DB()
	}

	reg, err := registry.New(db, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	cps, err := checkpoint.Open(cfg.Checkpoint.Path)
	if err != nil {
		store.Close()
		return nil, err
	}

	s := &stores{graph: store, registry: reg, checkpoints: cps}

	if cfg.Cache.Enabled {
		client, err := cache.NewClient(ctx, cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.TTL, logger)
		if err != nil {
			// Cache is an accelerator, not a dependency.
			logger.WithError(err).Warn("redis unavailable, continuing without cache")
		} else {
			s.cache = client
		}
	}

	return s, nil
}

func (s *stores) Close() {
	if s.cache != nil {
		s.cache.Close()
	}
	s.checkpoints.Close()
	s.graph.Close()
}

func (s *stores) queryEngine(cfg *config.Config) *query.Engine {
	rc := query.NewResultCache(s.cache, logger)
	return query.NewEngine(s.graph, rc, logger, cfg.Query.Timeout)
}

// splitRepoArg parses "org/repo".
func splitRepoArg(arg string) (string, string, error) {
	for i := 0; i < len(arg); i++ {
		if arg[i] == '/' {
			org, repo := arg[:i], arg[i+1:]
			if org == "" || repo == "" {
				break
			}
			return org, repo, nil
		}
	}
	return "", "", fmt.Errorf("expected org/repo, got %q", arg)
}
