package detect

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// MatcherSpec is a serializable description of how a pattern matches.
// Patterns are plain tagged data; one generic evaluator in the rule
// engine interprets every matcher.
type MatcherSpec struct {
	// Phrases are exact substrings (matched case-insensitively against
	// the normalized input). Any hit counts as an exact match.
	Phrases []string `yaml:"phrases,omitempty" json:"phrases,omitempty"`

	// Keywords are co-occurring indicator words. The fraction present
	// contributes a partial-match component; two or more appearing
	// within ProximityWindow runes of each other contributes a
	// proximity component.
	Keywords []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`

	// Regex is an optional anchor expression; a match counts like an
	// exact phrase hit.
	Regex string `yaml:"regex,omitempty" json:"regex,omitempty"`

	// ProximityWindow is the rune distance within which keyword
	// co-occurrence earns the proximity bonus. Zero means the default
	// (120 runes).
	ProximityWindow int `yaml:"proximity_window,omitempty" json:"proximity_window,omitempty"`
}

// ThreatPattern is one declarative catalog entry. Immutable after load.
type ThreatPattern struct {
	Name                string         `yaml:"name" json:"name"`
	Category            ThreatCategory `yaml:"category" json:"category"`
	Matcher             MatcherSpec    `yaml:"matcher" json:"matcher"`
	Weight              float64        `yaml:"weight" json:"weight"`
	ConfidenceThreshold float64        `yaml:"confidence_threshold" json:"confidence_threshold"`

	re *regexp.Regexp   // compiled once at load
	kw []*regexp.Regexp // word-boundary matchers, one per keyword
}

const defaultProximityWindow = 120

// Catalog holds the ordered pattern set. Declaration order matters: the
// rule engine breaks confidence ties by position.
type Catalog struct {
	patterns []*ThreatPattern
}

// Patterns returns the catalog entries in declaration order. The returned
// slice must not be mutated.
func (c *Catalog) Patterns() []*ThreatPattern {
	return c.patterns
}

// Len returns the number of patterns in the catalog.
func (c *Catalog) Len() int { return len(c.patterns) }

// NewCatalog builds a catalog from pattern definitions, compiling and
// validating each one. A malformed definition is an error: callers are
// expected to fail fast at startup rather than serve traffic with a
// partial catalog.
func NewCatalog(defs []ThreatPattern) (*Catalog, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("catalog: no patterns defined")
	}

	c := &Catalog{patterns: make([]*ThreatPattern, 0, len(defs))}
	seen := make(map[string]bool, len(defs))

	for i := range defs {
		p := defs[i] // copy; catalog owns its entries
		if err := validatePattern(&p); err != nil {
			return nil, fmt.Errorf("catalog: pattern %q: %w", p.Name, err)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("catalog: duplicate pattern name %q", p.Name)
		}
		seen[p.Name] = true

		if p.Matcher.Regex != "" {
			re, err := regexp.Compile(p.Matcher.Regex)
			if err != nil {
				return nil, fmt.Errorf("catalog: pattern %q: bad regex: %w", p.Name, err)
			}
			p.re = re
		}
		if p.Matcher.ProximityWindow == 0 {
			p.Matcher.ProximityWindow = defaultProximityWindow
		}
		// Keyword matchers are word-bounded so "act" never matches "exact".
		p.kw = make([]*regexp.Regexp, len(p.Matcher.Keywords))
		for j, word := range p.Matcher.Keywords {
			kwRe, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
			if err != nil {
				return nil, fmt.Errorf("catalog: pattern %q: keyword %q: %w", p.Name, word, err)
			}
			p.kw[j] = kwRe
		}
		c.patterns = append(c.patterns, &p)
	}

	return c, nil
}

func validatePattern(p *ThreatPattern) error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !knownCategories[p.Category] {
		return fmt.Errorf("unknown category %q", p.Category)
	}
	if p.Weight <= 0 || p.Weight > 1 {
		return fmt.Errorf("weight %.2f out of range (0,1]", p.Weight)
	}
	if p.ConfidenceThreshold <= 0 || p.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold %.2f out of range (0,1]", p.ConfidenceThreshold)
	}
	if len(p.Matcher.Phrases) == 0 && len(p.Matcher.Keywords) == 0 && p.Matcher.Regex == "" {
		return fmt.Errorf("matcher has no phrases, keywords, or regex")
	}
	if p.Matcher.ProximityWindow < 0 {
		return fmt.Errorf("proximity_window must be >= 0")
	}
	return nil
}

// catalogFile is the YAML document shape for external catalogs.
type catalogFile struct {
	Patterns []ThreatPattern `yaml:"patterns"`
}

// LoadCatalogFile reads a YAML pattern catalog from disk. Used to override
// the built-in catalog without recompiling.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}

	var doc catalogFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}

	return NewCatalog(doc.Patterns)
}

// MustBuiltinCatalog returns the built-in catalog, panicking on a
// definition error. The built-in set is covered by tests, so a panic here
// means a broken build, not a runtime condition.
func MustBuiltinCatalog() *Catalog {
	c, err := NewCatalog(builtinPatterns())
	if err != nil {
		panic(fmt.Sprintf("builtin catalog invalid: %v", err))
	}
	return c
}
