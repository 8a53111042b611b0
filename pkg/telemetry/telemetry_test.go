package telemetry

import (
	"math"
	"sync"
	"testing"
)

func TestCounters_Snapshot(t *testing.T) {
	c := NewCounters()

	c.RecordLLMCall(0.0004)
	c.RecordLLMCall(0.0004)
	c.RecordEscalationFailure()
	c.RecordCacheHit()
	c.RecordCacheMiss()
	c.RecordCacheMiss()
	c.RecordCacheMiss()

	s := c.Snapshot()
	if s.LLMCalls != 2 {
		t.Errorf("LLMCalls = %d, want 2", s.LLMCalls)
	}
	if s.EscalationFailures != 1 {
		t.Errorf("EscalationFailures = %d, want 1", s.EscalationFailures)
	}
	if s.CacheHits != 1 || s.CacheMisses != 3 {
		t.Errorf("hits/misses = %d/%d, want 1/3", s.CacheHits, s.CacheMisses)
	}
	if s.CacheHitRate != 0.25 {
		t.Errorf("hit rate = %.3f, want 0.25", s.CacheHitRate)
	}
	if math.Abs(s.TotalCost-0.0008) > 1e-9 {
		t.Errorf("total cost = %f, want 0.0008", s.TotalCost)
	}
}

func TestCounters_ZeroTraffic(t *testing.T) {
	s := NewCounters().Snapshot()
	if s.CacheHitRate != 0 || s.TotalCost != 0 || s.LLMCalls != 0 || s.EscalationFailures != 0 {
		t.Errorf("zero counters snapshot = %+v", s)
	}
}

func TestCounters_Concurrent(t *testing.T) {
	c := NewCounters()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.RecordLLMCall(0.001)
				c.RecordEscalationFailure()
				c.RecordCacheHit()
				c.RecordCacheMiss()
			}
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	if s.LLMCalls != 10000 {
		t.Errorf("LLMCalls = %d, want 10000", s.LLMCalls)
	}
	if s.EscalationFailures != 10000 {
		t.Errorf("EscalationFailures = %d, want 10000", s.EscalationFailures)
	}
	if s.CacheHits != 10000 || s.CacheMisses != 10000 {
		t.Errorf("hits/misses = %d/%d, want 10000/10000", s.CacheHits, s.CacheMisses)
	}
	if s.CacheHitRate != 0.5 {
		t.Errorf("hit rate = %.3f, want 0.5", s.CacheHitRate)
	}
	if math.Abs(s.TotalCost-10.0) > 1e-6 {
		t.Errorf("total cost = %f, want 10.0", s.TotalCost)
	}
}
