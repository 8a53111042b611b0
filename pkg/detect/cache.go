package detect

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Store is the assessment cache backend. Both methods must be safe for
// concurrent use; Set is a whole-value replace, so racing writers for the
// same key are harmless (the entries are identical by construction).
type Store interface {
	Get(ctx context.Context, key string) (*HybridAssessment, bool)
	Set(ctx context.Context, key string, assessment *HybridAssessment)
}

// CacheKey derives the cache key from the normalized input, plus the
// conversation ID when conversation context can influence the verdict.
func CacheKey(normalized, conversationID string) string {
	d := xxhash.New()
	_, _ = d.WriteString(normalized)
	if conversationID != "" {
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(conversationID)
	}
	return strconv.FormatUint(d.Sum64(), 16)
}

// LocalStore is the default in-process backend: TTL entries with a
// background janitor, no size accounting.
type LocalStore struct {
	c *gocache.Cache
}

// NewLocalStore builds an in-process store. Expired entries are purged
// every ttl/2, floored at one minute.
func NewLocalStore(ttl time.Duration) *LocalStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	sweep := ttl / 2
	if sweep < time.Minute {
		sweep = time.Minute
	}
	return &LocalStore{c: gocache.New(ttl, sweep)}
}

func (s *LocalStore) Get(_ context.Context, key string) (*HybridAssessment, bool) {
	v, ok := s.c.Get(key)
	if !ok {
		return nil, false
	}
	ha, ok := v.(*HybridAssessment)
	return ha, ok
}

func (s *LocalStore) Set(_ context.Context, key string, assessment *HybridAssessment) {
	s.c.SetDefault(key, assessment)
}

// RedisStore is the distributed backend for multi-node deployments.
// Values are JSON; a corrupt or unreadable entry counts as a miss so the
// caller recomputes and overwrites it.
type RedisStore struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewRedisStore wraps an existing client. The caller owns the client's
// lifecycle.
func NewRedisStore(rdb redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisStore{rdb: rdb, ttl: ttl, prefix: "halberd:assessment:"}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*HybridAssessment, bool) {
	data, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	var ha HybridAssessment
	if err := json.Unmarshal(data, &ha); err != nil {
		return nil, false
	}
	return &ha, true
}

func (s *RedisStore) Set(ctx context.Context, key string, assessment *HybridAssessment) {
	data, err := json.Marshal(assessment)
	if err != nil {
		return
	}
	// Best effort: a failed write just means a recompute later.
	_ = s.rdb.Set(ctx, s.prefix+key, data, s.ttl).Err()
}

// AssessmentCache couples a Store with the compute path. It does not
// deduplicate concurrent computes for the same key; assessments are
// idempotent, so the occasional double compute is cheaper than a
// per-key flight table.
type AssessmentCache struct {
	store Store
}

// NewAssessmentCache wraps a backend store.
func NewAssessmentCache(store Store) *AssessmentCache {
	return &AssessmentCache{store: store}
}

// GetOrCompute returns the cached assessment for key, or runs compute and
// stores its result. The hit return is true only when the value came from
// the cache. Compute errors are passed through without caching.
func (c *AssessmentCache) GetOrCompute(ctx context.Context, key string, compute func() (*HybridAssessment, error)) (*HybridAssessment, bool, error) {
	if cached, ok := c.store.Get(ctx, key); ok {
		return cached, true, nil
	}
	ha, err := compute()
	if err != nil {
		return nil, false, err
	}
	c.store.Set(ctx, key, ha)
	return ha, false, nil
}
