package detect

import (
	"sync"
	"time"
)

// Conversation tracking defaults.
const (
	// DefaultWindowSize bounds the per-conversation turn window.
	DefaultWindowSize = 15

	// DefaultConversationTTL evicts conversations idle longer than this.
	DefaultConversationTTL = 1 * time.Hour

	// defaultSweepInterval is how often the eviction sweep runs.
	defaultSweepInterval = 5 * time.Minute

	// turnDecay discounts older turns in the aggregate: each step back in
	// the window multiplies the turn's contribution by this factor.
	turnDecay = 0.6

	// riseBonus is added to the aggregate when confidence has risen
	// monotonically over the last three or more turns.
	riseBonus = 0.1

	// Aggregate flag names, surfaced in ConversationRisk audit events.
	FlagMonotonicRise   = "monotonic_rise"
	FlagMultiCategories = "multiple_categories"
)

// turnRecord is one analyzed turn in a conversation window.
type turnRecord struct {
	Confidence  float64
	ThreatTypes []ThreatCategory
	At          time.Time
}

// conversationState is the bounded per-conversation window. Guarded by
// its stripe lock in ConversationTracker; never shared outside it.
type conversationState struct {
	turns    []turnRecord
	lastSeen time.Time
}

// ConversationRiskReport is the tracker's read-side output.
type ConversationRiskReport struct {
	ConversationID string           `json:"conversation_id"`
	Turns          int              `json:"turns"`
	AggregateRisk  float64          `json:"aggregate_risk"`
	RiskLevel      RiskLevel        `json:"risk_level"`
	Flags          []string         `json:"flags,omitempty"`
	ThreatTypes    []ThreatCategory `json:"threat_types,omitempty"`
}

// ConversationTracker accumulates per-conversation risk across turns.
// State is striped across a fixed set of shards so updates for different
// conversations do not contend, while turns of one conversation are
// serialized by its shard lock.
type ConversationTracker struct {
	shards [trackerShards]trackerShard

	windowSize int
	maxAge     time.Duration

	stopSweep chan struct{}
	sweepOnce sync.Once
}

const trackerShards = 16

type trackerShard struct {
	mu     sync.Mutex
	states map[string]*conversationState
}

// NewConversationTracker starts a tracker with its eviction sweep running.
// Callers own the returned tracker and must Close it.
func NewConversationTracker(windowSize int, maxAge time.Duration) *ConversationTracker {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	if maxAge <= 0 {
		maxAge = DefaultConversationTTL
	}
	t := &ConversationTracker{
		windowSize: windowSize,
		maxAge:     maxAge,
		stopSweep:  make(chan struct{}),
	}
	for i := range t.shards {
		t.shards[i].states = make(map[string]*conversationState)
	}
	go t.sweepLoop()
	return t
}

func (t *ConversationTracker) shard(conversationID string) *trackerShard {
	// FNV-1a, inlined to avoid an allocation per lookup.
	h := uint32(2166136261)
	for i := 0; i < len(conversationID); i++ {
		h ^= uint32(conversationID[i])
		h *= 16777619
	}
	return &t.shards[h%trackerShards]
}

// Update appends one analyzed turn to the conversation window, trimming
// to the window bound.
func (t *ConversationTracker) Update(conversationID string, assessment *HybridAssessment) {
	if conversationID == "" || assessment == nil {
		return
	}
	s := t.shard(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[conversationID]
	if !ok {
		state = &conversationState{}
		s.states[conversationID] = state
	}
	state.turns = append(state.turns, turnRecord{
		Confidence:  assessment.CombinedConfidence,
		ThreatTypes: assessment.CombinedThreatTypes,
		At:          time.Now(),
	})
	if len(state.turns) > t.windowSize {
		state.turns = state.turns[len(state.turns)-t.windowSize:]
	}
	state.lastSeen = time.Now()
}

// Risk computes the decayed aggregate for a conversation. Unknown or
// expired conversations report zero risk.
func (t *ConversationTracker) Risk(conversationID string) ConversationRiskReport {
	report := ConversationRiskReport{ConversationID: conversationID, RiskLevel: RiskNone}
	if conversationID == "" {
		return report
	}
	s := t.shard(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[conversationID]
	if !ok || time.Since(state.lastSeen) > t.maxAge {
		return report
	}

	report.Turns = len(state.turns)
	report.AggregateRisk = decayedAggregate(state.turns)

	if isMonotonicRise(state.turns) {
		report.Flags = append(report.Flags, FlagMonotonicRise)
		report.AggregateRisk = clamp01(report.AggregateRisk + riseBonus)
	}
	report.ThreatTypes = windowCategories(state.turns)
	if len(report.ThreatTypes) >= 2 {
		report.Flags = append(report.Flags, FlagMultiCategories)
	}

	report.RiskLevel = RiskLevelFor(report.AggregateRisk)
	return report
}

// EndConversation drops a conversation's state immediately.
func (t *ConversationTracker) EndConversation(conversationID string) {
	if conversationID == "" {
		return
	}
	s := t.shard(conversationID)
	s.mu.Lock()
	delete(s.states, conversationID)
	s.mu.Unlock()
}

// Close stops the eviction sweep. Idempotent.
func (t *ConversationTracker) Close() {
	t.sweepOnce.Do(func() {
		close(t.stopSweep)
	})
}

func (t *ConversationTracker) sweepLoop() {
	ticker := time.NewTicker(defaultSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.sweep()
		case <-t.stopSweep:
			return
		}
	}
}

func (t *ConversationTracker) sweep() {
	now := time.Now()
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for id, state := range s.states {
			if now.Sub(state.lastSeen) > t.maxAge {
				delete(s.states, id)
			}
		}
		s.mu.Unlock()
	}
}

// decayedAggregate is a decay-weighted mean over the window with the
// newest turn weighted heaviest.
func decayedAggregate(turns []turnRecord) float64 {
	var sum, weightSum float64
	weight := 1.0
	for i := len(turns) - 1; i >= 0; i-- {
		sum += turns[i].Confidence * weight
		weightSum += weight
		weight *= turnDecay
	}
	if weightSum == 0 {
		return 0
	}
	return sum / weightSum
}

// isMonotonicRise reports whether confidence rose strictly across the
// last three or more turns.
func isMonotonicRise(turns []turnRecord) bool {
	if len(turns) < 3 {
		return false
	}
	last := turns[len(turns)-3:]
	return last[0].Confidence < last[1].Confidence && last[1].Confidence < last[2].Confidence
}

func windowCategories(turns []turnRecord) []ThreatCategory {
	seen := make(map[ThreatCategory]bool)
	var out []ThreatCategory
	for _, turn := range turns {
		for _, cat := range turn.ThreatTypes {
			if !seen[cat] {
				seen[cat] = true
				out = append(out, cat)
			}
		}
	}
	return out
}
