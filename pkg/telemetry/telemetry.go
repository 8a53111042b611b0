// Package telemetry tracks detection-core spend and cache efficiency with
// lock-free counters. One Counters value lives for the life of the
// analyzer; snapshots are cheap and safe to take from any goroutine.
package telemetry

import "sync/atomic"

// Counters accumulates LLM call and cache traffic totals. Cost is stored
// in micro-dollars so the hot path never touches a float under a lock.
type Counters struct {
	llmCalls           atomic.Int64
	escalationFailures atomic.Int64
	cacheHits          atomic.Int64
	cacheMisses        atomic.Int64
	costMicros         atomic.Int64
}

// NewCounters returns a zeroed counter set.
func NewCounters() *Counters {
	return &Counters{}
}

// RecordLLMCall adds one completed LLM call and its estimated cost in
// dollars.
func (c *Counters) RecordLLMCall(costDollars float64) {
	c.llmCalls.Add(1)
	c.costMicros.Add(int64(costDollars * 1e6))
}

// RecordEscalationFailure counts one escalation attempt that produced no
// verdict (provider timeout, transport error, or unparsable response).
// Failed attempts never add cost.
func (c *Counters) RecordEscalationFailure() {
	c.escalationFailures.Add(1)
}

// RecordCacheHit counts one assessment served from cache.
func (c *Counters) RecordCacheHit() {
	c.cacheHits.Add(1)
}

// RecordCacheMiss counts one assessment that had to be computed.
func (c *Counters) RecordCacheMiss() {
	c.cacheMisses.Add(1)
}

// Snapshot is a point-in-time view of the counters. Taken without
// locking, so the fields may be skewed by at most one in-flight update.
type Snapshot struct {
	LLMCalls           int64   `json:"llm_calls"`
	EscalationFailures int64   `json:"escalation_failures"`
	CacheHits          int64   `json:"cache_hits"`
	CacheMisses        int64   `json:"cache_misses"`
	CacheHitRate       float64 `json:"cache_hit_rate"`
	TotalCost          float64 `json:"total_cost"`
}

// Snapshot reads the current totals.
func (c *Counters) Snapshot() Snapshot {
	s := Snapshot{
		LLMCalls:           c.llmCalls.Load(),
		EscalationFailures: c.escalationFailures.Load(),
		CacheHits:          c.cacheHits.Load(),
		CacheMisses:        c.cacheMisses.Load(),
		TotalCost:          float64(c.costMicros.Load()) / 1e6,
	}
	if total := s.CacheHits + s.CacheMisses; total > 0 {
		s.CacheHitRate = float64(s.CacheHits) / float64(total)
	}
	return s
}
