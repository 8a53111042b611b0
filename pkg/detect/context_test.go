package detect

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func assessmentWith(confidence float64, cats ...ThreatCategory) *HybridAssessment {
	return &HybridAssessment{
		CombinedConfidence:  confidence,
		CombinedThreatTypes: cats,
		CombinedRiskLevel:   RiskLevelFor(confidence),
	}
}

func TestTracker_UnknownConversation(t *testing.T) {
	tr := NewConversationTracker(15, time.Hour)
	defer tr.Close()

	report := tr.Risk("never-seen")
	if report.RiskLevel != RiskNone || report.Turns != 0 {
		t.Errorf("unknown conversation report = %+v", report)
	}
}

func TestTracker_EscalatingConversation(t *testing.T) {
	tr := NewConversationTracker(15, time.Hour)
	defer tr.Close()

	// Seven turns drifting from small talk to extraction attempts.
	confidences := []float64{0.05, 0.1, 0.15, 0.3, 0.45, 0.6, 0.75}
	cats := [][]ThreatCategory{
		nil, nil, nil,
		{CategorySocialEngineering},
		{CategorySocialEngineering},
		{CategorySystemPromptExtraction},
		{CategorySystemPromptExtraction, CategoryInstructionOverride},
	}
	for i, conf := range confidences {
		tr.Update("conv-7", assessmentWith(conf, cats[i]...))
	}

	report := tr.Risk("conv-7")
	if report.Turns != 7 {
		t.Errorf("turns = %d, want 7", report.Turns)
	}
	if report.RiskLevel != RiskHigh && report.RiskLevel != RiskCritical {
		t.Errorf("risk = %s (aggregate %.3f), want at least high", report.RiskLevel, report.AggregateRisk)
	}
	if !containsString(report.Flags, FlagMonotonicRise) {
		t.Errorf("flags = %v, want %s", report.Flags, FlagMonotonicRise)
	}
	if !containsString(report.Flags, FlagMultiCategories) {
		t.Errorf("flags = %v, want %s", report.Flags, FlagMultiCategories)
	}
}

func TestTracker_RecentTurnsWeighHeavier(t *testing.T) {
	tr := NewConversationTracker(15, time.Hour)
	defer tr.Close()

	// Same turn multiset, opposite order. Rising must outscore falling.
	for _, conf := range []float64{0.9, 0.5, 0.1} {
		tr.Update("falling", assessmentWith(conf))
	}
	for _, conf := range []float64{0.1, 0.5, 0.9} {
		tr.Update("rising", assessmentWith(conf))
	}

	falling := tr.Risk("falling")
	rising := tr.Risk("rising")
	if rising.AggregateRisk <= falling.AggregateRisk {
		t.Errorf("rising %.3f not above falling %.3f", rising.AggregateRisk, falling.AggregateRisk)
	}
}

func TestTracker_WindowBound(t *testing.T) {
	tr := NewConversationTracker(5, time.Hour)
	defer tr.Close()

	for i := 0; i < 20; i++ {
		tr.Update("bounded", assessmentWith(0.1))
	}
	report := tr.Risk("bounded")
	if report.Turns != 5 {
		t.Errorf("turns = %d, want window bound 5", report.Turns)
	}
}

func TestTracker_NoRiseFlagOnFlat(t *testing.T) {
	tr := NewConversationTracker(15, time.Hour)
	defer tr.Close()

	for i := 0; i < 4; i++ {
		tr.Update("flat", assessmentWith(0.3))
	}
	report := tr.Risk("flat")
	if containsString(report.Flags, FlagMonotonicRise) {
		t.Errorf("flat conversation flagged as rising: %v", report.Flags)
	}
}

func TestTracker_EndConversation(t *testing.T) {
	tr := NewConversationTracker(15, time.Hour)
	defer tr.Close()

	tr.Update("ended", assessmentWith(0.8, CategoryInstructionOverride))
	tr.EndConversation("ended")

	report := tr.Risk("ended")
	if report.Turns != 0 || report.RiskLevel != RiskNone {
		t.Errorf("state survived EndConversation: %+v", report)
	}
}

func TestTracker_ExpiredConversationReportsZero(t *testing.T) {
	tr := NewConversationTracker(15, 10*time.Millisecond)
	defer tr.Close()

	tr.Update("stale", assessmentWith(0.9, CategoryPromptInjection))
	time.Sleep(30 * time.Millisecond)

	report := tr.Risk("stale")
	if report.RiskLevel != RiskNone {
		t.Errorf("expired conversation still risky: %+v", report)
	}
}

func TestTracker_ConcurrentConversations(t *testing.T) {
	tr := NewConversationTracker(15, time.Hour)
	defer tr.Close()

	var wg sync.WaitGroup
	for c := 0; c < 20; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			id := fmt.Sprintf("conv-%d", c)
			for i := 0; i < 50; i++ {
				tr.Update(id, assessmentWith(0.4, CategoryUrgencyManipulation))
				_ = tr.Risk(id)
			}
		}(c)
	}
	wg.Wait()

	for c := 0; c < 20; c++ {
		report := tr.Risk(fmt.Sprintf("conv-%d", c))
		if report.Turns != 15 {
			t.Errorf("conv-%d turns = %d, want 15", c, report.Turns)
		}
	}
}

func TestTracker_CloseIdempotent(t *testing.T) {
	tr := NewConversationTracker(15, time.Hour)
	tr.Close()
	tr.Close()
}
