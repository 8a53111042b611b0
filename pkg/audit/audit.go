// Package audit persists one event per analyzed input so verdicts can be
// reviewed after the fact. Two backends: append-only JSONL for single
// nodes, Postgres for fleets. Writes are best effort; the gateway logs
// and continues when a sink fails.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/halberdsec/halberd/pkg/config"
)

// Event is one analyzed input. Raw input text is never stored, only its
// cache key hash, so the audit trail cannot leak prompts.
type Event struct {
	Timestamp      time.Time `json:"timestamp"`
	ConversationID string    `json:"conversation_id,omitempty"`
	InputHash      string    `json:"input_hash"`

	Confidence  float64  `json:"confidence"`
	RiskLevel   string   `json:"risk_level"`
	IsThreat    bool     `json:"is_threat"`
	ThreatTypes []string `json:"threat_types,omitempty"`

	Escalated      bool     `json:"escalated"`
	CacheHit       bool     `json:"cache_hit"`
	NormalizeTrace []string `json:"normalize_trace,omitempty"`
	LatencyMs      float64  `json:"latency_ms"`
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Write(ctx context.Context, ev Event) error
	Close() error
}

// NewSink builds the sink selected by config. The none backend returns a
// discard sink rather than nil so callers never branch.
func NewSink(ctx context.Context, cfg *config.Config) (Sink, error) {
	switch cfg.AuditBackend {
	case config.AuditJSONL:
		return NewJSONLSink(cfg.AuditLogPath)
	case config.AuditPostgres:
		return NewPostgresSink(ctx, cfg.PostgresDSN)
	default:
		return discardSink{}, nil
	}
}

type discardSink struct{}

func (discardSink) Write(context.Context, Event) error { return nil }
func (discardSink) Close() error                       { return nil }

// JSONLSink appends one JSON object per line. A mutex serializes writers
// so lines never interleave.
type JSONLSink struct {
	mu sync.Mutex
	f  *os.File
}

// NewJSONLSink opens (or creates) the log file for appending.
func NewJSONLSink(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	return &JSONLSink{f: f}, nil
}

func (s *JSONLSink) Write(_ context.Context, ev Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("audit: marshal: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("audit: write: %w", err)
	}
	return nil
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// PostgresSink writes events to the halberd_audit_events table, creating
// it if missing.
type PostgresSink struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS halberd_audit_events (
    id              BIGSERIAL PRIMARY KEY,
    ts              TIMESTAMPTZ NOT NULL,
    conversation_id TEXT,
    input_hash      TEXT NOT NULL,
    confidence      DOUBLE PRECISION NOT NULL,
    risk_level      TEXT NOT NULL,
    is_threat       BOOLEAN NOT NULL,
    threat_types    JSONB,
    escalated       BOOLEAN NOT NULL,
    cache_hit       BOOLEAN NOT NULL,
    normalize_trace JSONB,
    latency_ms      DOUBLE PRECISION NOT NULL
)`

const insertEventSQL = `
INSERT INTO halberd_audit_events
    (ts, conversation_id, input_hash, confidence, risk_level, is_threat,
     threat_types, escalated, cache_hit, normalize_trace, latency_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

// NewPostgresSink connects and ensures the table exists.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: ensure table: %w", err)
	}
	return &PostgresSink{pool: pool}, nil
}

func (s *PostgresSink) Write(ctx context.Context, ev Event) error {
	threatTypes, err := json.Marshal(ev.ThreatTypes)
	if err != nil {
		return fmt.Errorf("audit: marshal threat types: %w", err)
	}
	trace, err := json.Marshal(ev.NormalizeTrace)
	if err != nil {
		return fmt.Errorf("audit: marshal trace: %w", err)
	}

	_, err = s.pool.Exec(ctx, insertEventSQL,
		ev.Timestamp, nullable(ev.ConversationID), ev.InputHash,
		ev.Confidence, ev.RiskLevel, ev.IsThreat,
		threatTypes, ev.Escalated, ev.CacheHit, trace, ev.LatencyMs)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
