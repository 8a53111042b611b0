package detect

// Combination defaults. The decision threshold marks the confidence at
// which an assessment is reported as a threat; the override margin is how
// far above the rule score an LLM verdict must land before its threat
// types are considered the primary signal.
const (
	DefaultDecisionThreshold = 0.6
	DefaultOverrideMargin    = 0.15
)

// Combiner reconciles the two tiers into the final verdict. Pure and
// stateless; a zero value is not usable, construct with NewCombiner.
type Combiner struct {
	decisionThreshold float64
	overrideMargin    float64
}

// NewCombiner builds a combiner with the given decision threshold and
// override margin. A threshold outside (0,1] or a margin outside (0,1)
// falls back to its default.
func NewCombiner(decisionThreshold, overrideMargin float64) *Combiner {
	if decisionThreshold <= 0 || decisionThreshold > 1 {
		decisionThreshold = DefaultDecisionThreshold
	}
	if overrideMargin <= 0 || overrideMargin >= 1 {
		overrideMargin = DefaultOverrideMargin
	}
	return &Combiner{
		decisionThreshold: decisionThreshold,
		overrideMargin:    overrideMargin,
	}
}

// Combine merges the rule assessment with an optional LLM assessment into
// a HybridAssessment. With no LLM verdict the rule result passes through
// untouched. With one, the higher confidence wins and the threat type
// sets are unioned, rule-tier types first.
func (c *Combiner) Combine(rule *RuleAssessment, llm *LLMAssessment) *HybridAssessment {
	ha := &HybridAssessment{
		RuleBased: rule,
		LLM:       llm,
	}

	if llm == nil {
		ha.CombinedConfidence = rule.ConfidenceScore
		ha.CombinedThreatTypes = rule.ThreatTypes
	} else {
		ha.CombinedConfidence = rule.ConfidenceScore
		if llm.Confidence > ha.CombinedConfidence {
			ha.CombinedConfidence = llm.Confidence
		}
		ha.CombinedThreatTypes = unionCategories(rule.ThreatTypes, llm.ThreatTypes)
		if llm.Confidence >= rule.ConfidenceScore+c.overrideMargin {
			// The semantic tier sees something the rules mostly missed;
			// lead with its classification.
			ha.CombinedThreatTypes = unionCategories(llm.ThreatTypes, rule.ThreatTypes)
		}
		ha.CostEstimate = llm.CostEstimate
	}

	ha.CombinedRiskLevel = RiskLevelFor(ha.CombinedConfidence)
	ha.IsThreat = ha.CombinedConfidence >= c.decisionThreshold
	return ha
}

// unionCategories concatenates two category lists, keeping first-seen
// order and dropping duplicates.
func unionCategories(a, b []ThreatCategory) []ThreatCategory {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[ThreatCategory]bool, len(a)+len(b))
	out := make([]ThreatCategory, 0, len(a)+len(b))
	for _, cat := range a {
		if !seen[cat] {
			seen[cat] = true
			out = append(out, cat)
		}
	}
	for _, cat := range b {
		if !seen[cat] {
			seen[cat] = true
			out = append(out, cat)
		}
	}
	return out
}
