package detect

import (
	"fmt"
	"strings"
)

// Component weights for the per-pattern match score. When a pattern has
// no keywords the exact component carries the full weight; when it has
// only keywords the coverage and proximity components are renormalized.
const (
	exactComponent     = 0.6
	coverageComponent  = 0.3
	proximityComponent = 0.1

	// ContextFlagMultiCategory marks inputs where two or more distinct
	// threat categories fired at once.
	ContextFlagMultiCategory = "multiple_threat_categories"
	// ContextFlagHighDensity marks inputs with an unusually dense
	// concentration of firing patterns.
	ContextFlagHighDensity = "high_pattern_density"
)

// RuleEngine evaluates normalized input against the pattern catalog.
// It holds no mutable state: Evaluate is pure and safe for unrestricted
// parallel invocation.
type RuleEngine struct {
	catalog *Catalog

	// densityPer100 is the firing-pattern density (per 100 runes) above
	// which the high-density context flag is set.
	densityPer100 float64
}

// NewRuleEngine wraps a validated catalog.
func NewRuleEngine(catalog *Catalog) *RuleEngine {
	return &RuleEngine{catalog: catalog, densityPer100: 2.0}
}

// Evaluate scores the normalized input against every catalog pattern and
// returns a fresh, immutable RuleAssessment. Deterministic: identical
// input always yields an identical assessment, bit for bit.
func (e *RuleEngine) Evaluate(normalized string) *RuleAssessment {
	lower := strings.ToLower(normalized)

	assessment := &RuleAssessment{}
	firedCategories := make(map[ThreatCategory]bool)
	firedCount := 0

	for _, p := range e.catalog.Patterns() {
		score := scorePattern(p, normalized, lower)
		if score == 0 {
			continue
		}

		ps := PatternScore{
			Name:      p.Name,
			Category:  p.Category,
			Score:     score,
			Threshold: p.ConfidenceThreshold,
			Fired:     score >= p.ConfidenceThreshold,
		}
		assessment.PatternScores = append(assessment.PatternScores, ps)

		if ps.Fired {
			firedCount++
			if !firedCategories[p.Category] {
				firedCategories[p.Category] = true
				assessment.ThreatTypes = append(assessment.ThreatTypes, p.Category)
			}
			// Max firing score wins; earlier declaration wins ties.
			if score > assessment.ConfidenceScore {
				assessment.ConfidenceScore = score
			}
		}
	}

	assessment.RiskLevel = RiskLevelFor(assessment.ConfidenceScore)
	assessment.ContextFlags = e.contextFlags(normalized, firedCount, len(firedCategories))
	assessment.Explanation = explain(assessment, firedCount)

	return assessment
}

// contextFlags records behavioral signals independent of any single
// pattern.
func (e *RuleEngine) contextFlags(normalized string, firedCount, categoryCount int) []string {
	var flags []string
	if categoryCount >= 2 {
		flags = append(flags, ContextFlagMultiCategory)
	}
	if firedCount >= 2 {
		runes := len([]rune(normalized))
		if runes > 0 && float64(firedCount)*100/float64(runes) > e.densityPer100 {
			flags = append(flags, ContextFlagHighDensity)
		}
	}
	return flags
}

func explain(a *RuleAssessment, firedCount int) string {
	if firedCount == 0 {
		return "no threat patterns matched"
	}
	strongest := PatternScore{}
	for _, ps := range a.PatternScores {
		if ps.Fired && ps.Score > strongest.Score {
			strongest = ps
		}
	}
	return fmt.Sprintf("%d pattern(s) fired; strongest %s/%s at %.2f",
		firedCount, strongest.Category, strongest.Name, strongest.Score)
}

// scorePattern computes a match score in [0,1] for one pattern: a weighted
// combination of exact phrase/regex match, keyword coverage, and keyword
// proximity, scaled by the pattern weight.
func scorePattern(p *ThreatPattern, normalized, lower string) float64 {
	exact := 0.0
	for _, phrase := range p.Matcher.Phrases {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			exact = 1.0
			break
		}
	}
	if exact == 0 && p.re != nil && p.re.MatchString(normalized) {
		exact = 1.0
	}

	hasExactMatcher := len(p.Matcher.Phrases) > 0 || p.re != nil

	if len(p.kw) == 0 {
		return clamp01(p.Weight * exact)
	}

	coverage, proximity := keywordSignals(p, normalized)

	var raw float64
	if !hasExactMatcher {
		// Keywords-only pattern: renormalize so full coverage plus
		// proximity can still reach the pattern weight.
		raw = 0.75*coverage + 0.25*proximity
	} else {
		raw = exactComponent*exact + coverageComponent*coverage + proximityComponent*proximity
	}
	return clamp01(p.Weight * raw)
}

// keywordSignals returns the fraction of keywords present and whether two
// or more of them co-occur within the pattern's proximity window.
func keywordSignals(p *ThreatPattern, normalized string) (coverage, proximity float64) {
	if len(p.kw) == 0 {
		return 0, 0
	}

	var positions []int
	found := 0
	for _, kwRe := range p.kw {
		loc := kwRe.FindStringIndex(normalized)
		if loc == nil {
			continue
		}
		found++
		positions = append(positions, loc[0])
	}

	coverage = float64(found) / float64(len(p.kw))

	window := p.Matcher.ProximityWindow
	for i := 0; i < len(positions) && proximity == 0; i++ {
		for j := i + 1; j < len(positions); j++ {
			d := positions[i] - positions[j]
			if d < 0 {
				d = -d
			}
			if d <= window {
				proximity = 1.0
				break
			}
		}
	}
	return coverage, proximity
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
