// Package detect implements the hybrid threat-detection core: a fast,
// deterministic rule tier over a declarative pattern catalog, plus a
// selective, cost-aware escalation to an external LLM assessor, unified
// with per-conversation risk tracking, TTL caching, and fail-open error
// handling.
package detect

import (
	"time"
)

// ThreatCategory classifies the kind of manipulation a pattern detects.
type ThreatCategory string

const (
	CategoryPromptInjection        ThreatCategory = "prompt_injection"
	CategoryRoleConfusion          ThreatCategory = "role_confusion"
	CategorySystemPromptExtraction ThreatCategory = "system_prompt_extraction"
	CategoryContextManipulation    ThreatCategory = "context_manipulation"
	CategoryAuthorityClaim         ThreatCategory = "authority_claim"
	CategoryUrgencyManipulation    ThreatCategory = "urgency_manipulation"
	CategorySocialEngineering      ThreatCategory = "social_engineering"
	CategoryInstructionOverride    ThreatCategory = "instruction_override"
)

// knownCategories is used for catalog validation at load time.
var knownCategories = map[ThreatCategory]bool{
	CategoryPromptInjection:        true,
	CategoryRoleConfusion:          true,
	CategorySystemPromptExtraction: true,
	CategoryContextManipulation:    true,
	CategoryAuthorityClaim:         true,
	CategoryUrgencyManipulation:    true,
	CategorySocialEngineering:      true,
	CategoryInstructionOverride:    true,
}

// RiskLevel is a discrete band derived from a confidence score.
// It is never set independently of confidence; always derive it
// through RiskLevelFor.
type RiskLevel string

const (
	RiskNone     RiskLevel = "none"
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskLevelFor maps a confidence score to its risk band.
func RiskLevelFor(confidence float64) RiskLevel {
	switch {
	case confidence < 0.2:
		return RiskNone
	case confidence < 0.4:
		return RiskLow
	case confidence < 0.6:
		return RiskModerate
	case confidence < 0.8:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// PatternScore records how a single catalog pattern scored against an input.
// Every pattern that produced a non-zero score appears in the assessment,
// in catalog declaration order, so the escalation policy can reason about
// near misses without re-running the engine.
type PatternScore struct {
	Name      string         `json:"name"`
	Category  ThreatCategory `json:"category"`
	Score     float64        `json:"score"`
	Threshold float64        `json:"threshold"`
	Fired     bool           `json:"fired"`
}

// RuleAssessment is the output of the deterministic rule tier.
// Immutable once built; safe to share across goroutines.
type RuleAssessment struct {
	ConfidenceScore float64          `json:"confidence_score"`
	ThreatTypes     []ThreatCategory `json:"threat_types,omitempty"`
	PatternScores   []PatternScore   `json:"pattern_scores,omitempty"`
	RiskLevel       RiskLevel        `json:"risk_level"`
	ContextFlags    []string         `json:"context_flags,omitempty"`
	Explanation     string           `json:"explanation"`

	// NormalizeTrace lists the decode transformations applied before
	// evaluation, for audit.
	NormalizeTrace []string `json:"normalize_trace,omitempty"`
}

// MatchedPatterns returns only the patterns that fired, in declaration order.
func (ra *RuleAssessment) MatchedPatterns() []PatternScore {
	var fired []PatternScore
	for _, ps := range ra.PatternScores {
		if ps.Fired {
			fired = append(fired, ps)
		}
	}
	return fired
}

// LLMAssessment is the output of the semantic tier. Present on a
// HybridAssessment only when escalation occurred and succeeded.
type LLMAssessment struct {
	Confidence   float64          `json:"confidence"`
	ThreatTypes  []ThreatCategory `json:"threat_types,omitempty"`
	Reasoning    string           `json:"reasoning"`
	CostEstimate float64          `json:"cost_estimate"`
	LatencyMs    float64          `json:"latency_ms"`
}

// HybridAssessment is the unit of output and of caching: the reconciled
// verdict across both tiers.
type HybridAssessment struct {
	RuleBased *RuleAssessment `json:"rule_based_assessment"`
	LLM       *LLMAssessment  `json:"llm_assessment,omitempty"`

	CombinedConfidence  float64          `json:"combined_confidence"`
	CombinedThreatTypes []ThreatCategory `json:"combined_threat_types,omitempty"`
	CombinedRiskLevel   RiskLevel        `json:"combined_risk_level"`
	IsThreat            bool             `json:"is_threat"`

	CacheHit       bool          `json:"cache_hit"`
	ProcessingTime time.Duration `json:"processing_time_ns"`
	CostEstimate   float64       `json:"cost_estimate"`
}

// shallowCopy returns a copy suitable for returning to a different caller
// (cache hits get CacheHit flipped without mutating the stored entry).
func (ha *HybridAssessment) shallowCopy() *HybridAssessment {
	cp := *ha
	return &cp
}

// Stats is the read-only performance snapshot exposed to external callers.
// FailedEscalations counts attempts that degraded to the rule verdict, so
// a dead provider is visible here even when TotalLLMCalls stays zero.
type Stats struct {
	TotalLLMCalls     int64   `json:"total_llm_calls"`
	FailedEscalations int64   `json:"failed_escalations"`
	CacheHitRate      float64 `json:"cache_hit_rate"`
	TotalCost         float64 `json:"total_cost"`
	AvgCostPerCall    float64 `json:"avg_cost_per_call"`
}
