package detect

import (
	"fmt"
	"sync"
)

// Escalation tuning defaults. All of these are starting values; the
// analyzer exposes SetThresholds for runtime adjustment.
const (
	DefaultRuleConfidenceThreshold = 0.7
	DefaultLLMBoostThreshold       = 0.2

	// nearMissDelta is how close a non-firing pattern must get to its
	// own threshold to count as a near miss.
	nearMissDelta = 0.05

	// partialHighThreshold / partialHighScore: a high-bar pattern
	// (threshold at or above the former) scoring at least the latter
	// without firing suggests a paraphrased attack worth a second look.
	partialHighThreshold = 0.8
	partialHighScore     = 0.5
)

// EscalationPolicy decides whether a rule assessment is ambiguous enough
// to justify an LLM call. Threshold updates are rare; reads dominate, so
// a RWMutex guards the pair.
type EscalationPolicy struct {
	mu             sync.RWMutex
	ruleConfidence float64
	llmBoost       float64
}

// NewEscalationPolicy starts the policy at the given thresholds.
func NewEscalationPolicy(ruleConfidence, llmBoost float64) (*EscalationPolicy, error) {
	p := &EscalationPolicy{}
	if err := p.SetThresholds(ruleConfidence, llmBoost); err != nil {
		return nil, err
	}
	return p, nil
}

// SetThresholds atomically replaces both thresholds. The pair must
// satisfy 0 <= llmBoost < ruleConfidence <= 1; otherwise the current
// values are kept and an error is returned.
func (p *EscalationPolicy) SetThresholds(ruleConfidence, llmBoost float64) error {
	if llmBoost < 0 || ruleConfidence > 1 || llmBoost >= ruleConfidence {
		return fmt.Errorf("escalate: invalid thresholds rule=%.2f llm=%.2f (need 0 <= llm < rule <= 1)",
			ruleConfidence, llmBoost)
	}
	p.mu.Lock()
	p.ruleConfidence = ruleConfidence
	p.llmBoost = llmBoost
	p.mu.Unlock()
	return nil
}

// Thresholds returns the current (ruleConfidence, llmBoost) pair.
func (p *EscalationPolicy) Thresholds() (ruleConfidence, llmBoost float64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ruleConfidence, p.llmBoost
}

// ShouldEscalate reports whether the assessment falls in the ambiguous
// middle where an LLM opinion changes the outcome, along with the
// triggering reason for audit. Clear verdicts at either end stay local:
// confident rule hits need no second opinion, and clean inputs with no
// partial signal are not worth the spend.
func (p *EscalationPolicy) ShouldEscalate(rule *RuleAssessment) (bool, string) {
	p.mu.RLock()
	ruleConf, llmBoost := p.ruleConfidence, p.llmBoost
	p.mu.RUnlock()

	if rule.ConfidenceScore >= ruleConf {
		return false, ""
	}
	if rule.ConfidenceScore >= llmBoost {
		return true, "ambiguous_confidence"
	}

	for _, ps := range rule.PatternScores {
		if ps.Fired {
			continue
		}
		if ps.Score >= ps.Threshold-nearMissDelta {
			return true, "near_miss:" + ps.Name
		}
		if ps.Threshold >= partialHighThreshold && ps.Score >= partialHighScore {
			return true, "partial_high:" + ps.Name
		}
	}
	return false, ""
}
