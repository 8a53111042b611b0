package detect

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/halberdsec/halberd/pkg/config"
	"github.com/halberdsec/halberd/pkg/httputil"
	"github.com/halberdsec/halberd/pkg/telemetry"
)

// HybridAnalyzer is the long-lived service object tying the tiers
// together: normalize, rule-score, selectively escalate, combine, cache,
// and track per-conversation risk. Safe for concurrent use. Construct
// with New, release with Close.
type HybridAnalyzer struct {
	cfg *config.Config

	engine   *RuleEngine
	policy   *EscalationPolicy
	combiner *Combiner
	llm      *EscalationClient // nil when the semantic tier is disabled
	cache    *AssessmentCache  // nil when caching is disabled
	tracker  *ConversationTracker
	counters *telemetry.Counters
	llmSem   *httputil.Semaphore

	rdb       *redis.Client // owned only when we created it
	closeOnce sync.Once
}

// Option customizes construction, mainly so tests can inject scripted
// providers and stores.
type Option func(*analyzerOptions)

type analyzerOptions struct {
	provider Provider
	store    Store
	catalog  *Catalog
}

// WithProvider replaces the HTTP chat provider for the escalation tier.
func WithProvider(p Provider) Option {
	return func(o *analyzerOptions) { o.provider = p }
}

// WithCacheStore replaces the cache backend.
func WithCacheStore(s Store) Option {
	return func(o *analyzerOptions) { o.store = s }
}

// WithCatalog replaces the pattern catalog.
func WithCatalog(c *Catalog) Option {
	return func(o *analyzerOptions) { o.catalog = c }
}

// New constructs an analyzer from config. Catalog problems are returned
// as errors so callers fail at startup, never mid-traffic.
func New(cfg *config.Config, opts ...Option) (*HybridAnalyzer, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}

	var o analyzerOptions
	for _, opt := range opts {
		opt(&o)
	}

	catalog := o.catalog
	if catalog == nil {
		if cfg.CatalogPath != "" {
			loaded, err := LoadCatalogFile(cfg.CatalogPath)
			if err != nil {
				return nil, fmt.Errorf("analyzer: %w", err)
			}
			catalog = loaded
		} else {
			catalog = MustBuiltinCatalog()
		}
	}

	policy, err := NewEscalationPolicy(cfg.RuleConfidenceThreshold, cfg.LLMBoostThreshold)
	if err != nil {
		return nil, fmt.Errorf("analyzer: %w", err)
	}

	a := &HybridAnalyzer{
		cfg:      cfg,
		engine:   NewRuleEngine(catalog),
		policy:   policy,
		combiner: NewCombiner(cfg.DecisionThreshold, cfg.OverrideMargin),
		tracker:  NewConversationTracker(cfg.ContextWindowSize, cfg.ConversationTTL),
		counters: telemetry.NewCounters(),
		llmSem:   httputil.NewSemaphore(cfg.MaxConcurrentLLM),
	}

	provider := o.provider
	if provider == nil && cfg.EnableLLMTier && cfg.LLMProvider != config.ProviderNone {
		if base := cfg.ProviderBaseURL(); base != "" {
			provider = NewChatProvider(base, cfg.LLMAPIKey, cfg.LLMModel)
		}
	}
	if provider != nil {
		a.llm = NewEscalationClient(provider, time.Duration(cfg.LLMTimeoutMs)*time.Millisecond)
	}

	store := o.store
	if store == nil && cfg.EnableCache {
		switch cfg.CacheBackend {
		case config.CacheRedis:
			a.rdb = redis.NewClient(&redis.Options{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			store = NewRedisStore(a.rdb, cfg.CacheTTL)
		default:
			store = NewLocalStore(cfg.CacheTTL)
		}
	}
	if store != nil {
		a.cache = NewAssessmentCache(store)
	}

	return a, nil
}

// Analyze runs the full pipeline on one input and blocks until the
// verdict is ready. It fails open: semantic-tier and cache faults degrade
// the verdict, they never surface as errors. The only errors returned are
// the caller's own context ending before a verdict exists.
func (a *HybridAnalyzer) Analyze(ctx context.Context, input, conversationID string) (*HybridAssessment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	normalized, trace := Normalize(input)
	key := CacheKey(normalized, "")

	compute := func() (*HybridAssessment, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return a.assess(ctx, normalized, trace), nil
	}

	var (
		ha  *HybridAssessment
		hit bool
	)
	if a.cache != nil {
		cached, ok, err := a.cache.GetOrCompute(ctx, key, compute)
		if err != nil {
			return nil, err
		}
		ha, hit = cached, ok
		if hit {
			a.counters.RecordCacheHit()
		} else {
			a.counters.RecordCacheMiss()
		}
	} else {
		var err error
		if ha, err = compute(); err != nil {
			return nil, err
		}
	}

	// Cached entries are shared; flip per-call fields on a copy.
	result := ha.shallowCopy()
	result.CacheHit = hit
	result.ProcessingTime = time.Since(start)

	// A caller that gave up gets no say in the conversation record:
	// discard late results instead of polluting the window.
	if conversationID != "" && ctx.Err() == nil {
		a.tracker.Update(conversationID, result)
	}

	return result, nil
}

// assess runs the two detection tiers and combines them.
func (a *HybridAnalyzer) assess(ctx context.Context, normalized string, trace []string) *HybridAssessment {
	rule := a.engine.Evaluate(normalized)
	rule.NormalizeTrace = trace

	var llmA *LLMAssessment
	if a.llm != nil {
		if escalate, reason := a.policy.ShouldEscalate(rule); escalate {
			llmA = a.escalate(ctx, normalized, rule, reason)
		}
	}

	return a.combiner.Combine(rule, llmA)
}

// escalate runs one bounded LLM call. Every failure path returns nil,
// which the combiner treats as "rule verdict stands".
func (a *HybridAnalyzer) escalate(ctx context.Context, normalized string, rule *RuleAssessment, reason string) *LLMAssessment {
	if err := a.llmSem.Acquire(ctx); err != nil {
		a.counters.RecordEscalationFailure()
		return nil
	}
	defer a.llmSem.Release()

	llmA, err := a.llm.Assess(ctx, normalized, rule)
	if err != nil {
		a.counters.RecordEscalationFailure()
		log.Printf("[WARN] escalation (%s) failed, keeping rule verdict: %v", reason, err)
		return nil
	}
	a.counters.RecordLLMCall(llmA.CostEstimate)
	return llmA
}

// AsyncResult is delivered once on the channel returned by AnalyzeAsync.
type AsyncResult struct {
	Assessment *HybridAssessment
	Err        error
}

// AnalyzeAsync runs Analyze in its own goroutine and delivers the result
// on a buffered channel, so an abandoned receiver never leaks the worker.
func (a *HybridAnalyzer) AnalyzeAsync(ctx context.Context, input, conversationID string) <-chan AsyncResult {
	ch := make(chan AsyncResult, 1)
	go func() {
		ha, err := a.Analyze(ctx, input, conversationID)
		ch <- AsyncResult{Assessment: ha, Err: err}
	}()
	return ch
}

// BatchAnalyze runs the inputs in parallel with bounded concurrency and
// returns assessments in input order. Inputs are independent: no
// conversation tracking. The only error is a dead context.
func (a *HybridAnalyzer) BatchAnalyze(ctx context.Context, inputs []string) ([]*HybridAssessment, error) {
	results := make([]*HybridAssessment, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.BatchConcurrency)
	for i, input := range inputs {
		g.Go(func() error {
			ha, err := a.Analyze(gctx, input, "")
			if err != nil {
				return err
			}
			results[i] = ha
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// SetThresholds adjusts the escalation band at runtime. Invalid pairs are
// rejected and the current thresholds stay in effect.
func (a *HybridAnalyzer) SetThresholds(ruleConfidence, llmBoost float64) error {
	return a.policy.SetThresholds(ruleConfidence, llmBoost)
}

// Thresholds returns the current escalation thresholds.
func (a *HybridAnalyzer) Thresholds() (ruleConfidence, llmBoost float64) {
	return a.policy.Thresholds()
}

// PerformanceStats snapshots spend and cache efficiency since startup.
func (a *HybridAnalyzer) PerformanceStats() Stats {
	snap := a.counters.Snapshot()
	stats := Stats{
		TotalLLMCalls:     snap.LLMCalls,
		FailedEscalations: snap.EscalationFailures,
		CacheHitRate:      snap.CacheHitRate,
		TotalCost:         snap.TotalCost,
	}
	if snap.LLMCalls > 0 {
		stats.AvgCostPerCall = snap.TotalCost / float64(snap.LLMCalls)
	}
	return stats
}

// ConversationRisk returns the decayed risk band for a conversation.
// Unknown conversations are RiskNone.
func (a *HybridAnalyzer) ConversationRisk(conversationID string) RiskLevel {
	return a.tracker.Risk(conversationID).RiskLevel
}

// ConversationReport returns the full tracker view for a conversation.
func (a *HybridAnalyzer) ConversationReport(conversationID string) ConversationRiskReport {
	return a.tracker.Risk(conversationID)
}

// EndConversation drops tracked state for a conversation immediately.
func (a *HybridAnalyzer) EndConversation(conversationID string) {
	a.tracker.EndConversation(conversationID)
}

// Close stops background janitors and releases owned connections.
// In-flight LLM calls are abandoned; their late results are discarded.
// Idempotent.
func (a *HybridAnalyzer) Close() {
	a.closeOnce.Do(func() {
		a.tracker.Close()
		if a.rdb != nil {
			_ = a.rdb.Close()
		}
	})
}
