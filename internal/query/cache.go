package query

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/contribconnect/contribgraph/internal/cache"
)

// ResultCache stores query answers in Redis so repeated lookups skip the
// graph walk entirely. Cache failures degrade to a recompute; they are
// logged and never surfaced to the caller.
type ResultCache struct {
	client *cache.Client
	logger *logrus.Logger
}

// NewResultCache wraps a cache client. Returns nil for a nil client, and
// the engine treats a nil ResultCache as caching disabled.
func NewResultCache(client *cache.Client, logger *logrus.Logger) *ResultCache {
	if client == nil {
		return nil
	}
	return &ResultCache{client: client, logger: logger}
}

// Get loads a cached result into target, reporting whether it was found.
func (c *ResultCache) Get(ctx context.Context, key string, target interface{}) (bool, error) {
	found, err := c.client.Get(ctx, key, target)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Debug("result cache read failed")
		return false, err
	}
	return found, nil
}

// Set stores a result with the cache's default TTL.
func (c *ResultCache) Set(ctx context.Context, key string, value interface{}) {
	if err := c.client.Set(ctx, key, value); err != nil {
		c.logger.WithError(err).WithField("key", key).Debug("result cache write failed")
	}
}

// InvalidateRepo drops every cached answer for one repository, called
// after an ingestion run changes its subgraph.
func (c *ResultCache) InvalidateRepo(ctx context.Context, repoKey string) {
	if _, err := c.client.DeletePattern(ctx, "ccgraph:query:*:"+repoKey+":*"); err != nil {
		c.logger.WithError(err).WithField("repo", repoKey).Warn("result cache invalidation failed")
	}
}
