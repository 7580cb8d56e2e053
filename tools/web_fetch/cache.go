package web_fetch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/mohammad-safakhou/deepresearch/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultCacheTTL = 6 * time.Hour
	cacheKeyPrefix  = "deepresearch:fetch:"
)

// DocFetcher is anything that turns a URL into a document.
type DocFetcher interface {
	Fetch(ctx context.Context, url string) (models.Document, error)
}

// CachedFetcher keeps fetched documents in redis keyed by URL fingerprint.
// Redis failures degrade to an uncached fetch.
type CachedFetcher struct {
	next   DocFetcher
	rdb    redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedFetcher(next DocFetcher, rdb redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *CachedFetcher {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedFetcher{next: next, rdb: rdb, ttl: ttl, logger: logger.Named("fetch_cache")}
}

func (c *CachedFetcher) Fetch(ctx context.Context, url string) (models.Document, error) {
	fp, err := helpers.URLFingerprint(url)
	if err != nil {
		return c.next.Fetch(ctx, url)
	}
	key := cacheKeyPrefix + fp

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var doc models.Document
		if jerr := json.Unmarshal(raw, &doc); jerr == nil {
			return doc, nil
		}
		c.logger.Warn("dropping undecodable cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("cache read failed", zap.String("url", url), zap.Error(err))
	}

	doc, err := c.next.Fetch(ctx, url)
	if err != nil {
		return models.Document{}, err
	}
	if b, jerr := json.Marshal(doc); jerr == nil {
		if serr := c.rdb.Set(ctx, key, b, c.ttl).Err(); serr != nil {
			c.logger.Warn("cache write failed", zap.String("url", url), zap.Error(serr))
		}
	}
	return doc, nil
}
