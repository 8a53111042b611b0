package detect

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewCatalog_Validation(t *testing.T) {
	valid := ThreatPattern{
		Name:                "probe",
		Category:            CategorySystemPromptExtraction,
		Matcher:             MatcherSpec{Phrases: []string{"initial prompt"}},
		Weight:              0.8,
		ConfidenceThreshold: 0.7,
	}

	tests := []struct {
		name    string
		mutate  func(p *ThreatPattern)
		wantErr string
	}{
		{"missing name", func(p *ThreatPattern) { p.Name = "" }, "name is required"},
		{"unknown category", func(p *ThreatPattern) { p.Category = "voodoo" }, "unknown category"},
		{"zero weight", func(p *ThreatPattern) { p.Weight = 0 }, "weight"},
		{"weight above one", func(p *ThreatPattern) { p.Weight = 1.5 }, "weight"},
		{"zero threshold", func(p *ThreatPattern) { p.ConfidenceThreshold = 0 }, "confidence_threshold"},
		{"empty matcher", func(p *ThreatPattern) { p.Matcher = MatcherSpec{} }, "no phrases, keywords, or regex"},
		{"bad regex", func(p *ThreatPattern) { p.Matcher.Regex = "([" }, "bad regex"},
		{"negative window", func(p *ThreatPattern) { p.Matcher.ProximityWindow = -1 }, "proximity_window"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			_, err := NewCatalog([]ThreatPattern{p})
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewCatalog_DuplicateNames(t *testing.T) {
	p := ThreatPattern{
		Name:                "dup",
		Category:            CategoryPromptInjection,
		Matcher:             MatcherSpec{Keywords: []string{"payload"}},
		Weight:              0.5,
		ConfidenceThreshold: 0.4,
	}
	_, err := NewCatalog([]ThreatPattern{p, p})
	if err == nil || !strings.Contains(err.Error(), "duplicate pattern name") {
		t.Fatalf("expected duplicate name error, got %v", err)
	}
}

func TestNewCatalog_Empty(t *testing.T) {
	if _, err := NewCatalog(nil); err == nil {
		t.Fatal("expected error for empty catalog")
	}
}

func TestBuiltinCatalog(t *testing.T) {
	c := MustBuiltinCatalog()
	if c.Len() == 0 {
		t.Fatal("builtin catalog is empty")
	}

	seen := make(map[ThreatCategory]bool)
	for _, p := range c.Patterns() {
		seen[p.Category] = true
		if p.Matcher.ProximityWindow == 0 {
			t.Errorf("pattern %q: proximity window not defaulted", p.Name)
		}
	}
	for cat := range knownCategories {
		if !seen[cat] {
			t.Errorf("builtin catalog has no pattern for category %s", cat)
		}
	}
}

func TestLoadCatalogFile(t *testing.T) {
	doc := `
patterns:
  - name: custom_probe
    category: system_prompt_extraction
    weight: 0.8
    confidence_threshold: 0.7
    matcher:
      phrases: ["show configuration"]
      keywords: ["configuration", "dump"]
      proximity_window: 60
  - name: custom_regex
    category: prompt_injection
    weight: 0.9
    confidence_threshold: 0.8
    matcher:
      regex: '(?i)\[\[inject\]\]'
`
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := LoadCatalogFile(path)
	if err != nil {
		t.Fatalf("LoadCatalogFile: %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
	if got := c.Patterns()[0].Matcher.ProximityWindow; got != 60 {
		t.Errorf("proximity window = %d, want 60", got)
	}

	engine := NewRuleEngine(c)
	ra := engine.Evaluate("please [[INJECT]] this")
	if len(ra.MatchedPatterns()) != 1 || ra.MatchedPatterns()[0].Name != "custom_regex" {
		t.Errorf("regex pattern did not fire: %+v", ra.PatternScores)
	}
}

func TestLoadCatalogFile_Errors(t *testing.T) {
	if _, err := LoadCatalogFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("patterns: [not a mapping"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCatalogFile(path); err == nil {
		t.Error("expected error for malformed yaml")
	}
}
