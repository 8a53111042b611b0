// Package config holds the environment-driven settings for the Halberd
// detection core and its gateway. Everything can be set programmatically
// or through HALBERD_* environment variables.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// LLMProvider selects the escalation backend.
type LLMProvider string

const (
	ProviderNone   LLMProvider = "none"   // rules only, never escalate
	ProviderOpenAI LLMProvider = "openai" // api.openai.com
	ProviderGroq   LLMProvider = "groq"   // api.groq.com (OpenAI-compatible)
	ProviderOllama LLMProvider = "ollama" // local Ollama server
	ProviderCustom LLMProvider = "custom" // any OpenAI-compatible endpoint
)

// CacheBackend selects where assessments are cached.
type CacheBackend string

const (
	CacheLocal CacheBackend = "local" // in-process TTL cache
	CacheRedis CacheBackend = "redis" // shared cache for multi-node deployments
)

// AuditBackend selects where audit events are written.
type AuditBackend string

const (
	AuditNone     AuditBackend = "none"
	AuditJSONL    AuditBackend = "jsonl"
	AuditPostgres AuditBackend = "postgres"
)

// Config holds global settings for the detection core and gateway.
type Config struct {
	// === Detection thresholds (0.0 - 1.0) ===
	RuleConfidenceThreshold float64 // at or above: rule verdict is final, no escalation (default 0.7)
	LLMBoostThreshold       float64 // ambiguous band floor for escalation (default 0.2)
	DecisionThreshold       float64 // combined confidence at or above = threat (default 0.6)
	OverrideMargin          float64 // LLM lead over the rule score before its threat types go first (default 0.15)

	// === Pattern catalog ===
	CatalogPath string // optional YAML catalog replacing the built-in set

	// === LLM escalation tier ===
	EnableLLMTier    bool
	LLMProvider      LLMProvider
	LLMAPIKey        string
	LLMModel         string
	LLMBaseURL       string // custom/self-hosted endpoints
	LLMTimeoutMs     int    // per-call budget (default 5000)
	MaxConcurrentLLM int    // semaphore capacity for in-flight LLM calls

	// === Assessment cache ===
	CacheBackend  CacheBackend
	CacheTTL      time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	EnableCache   bool

	// === Conversation tracking ===
	ContextWindowSize int           // turns kept per conversation (default 15)
	ConversationTTL   time.Duration // idle eviction (default 1h)

	// === Batch analysis ===
	BatchConcurrency int // parallel workers for BatchAnalyze (default 8)

	// === Audit trail ===
	AuditBackend AuditBackend
	AuditLogPath string // jsonl backend
	PostgresDSN  string // postgres backend

	// === Gateway ===
	ListenAddr string
	APIKey     string // gateway auth; required in production
}

// NewDefaultConfig creates a Config with sensible defaults, every one of
// them overridable via environment.
func NewDefaultConfig() *Config {
	return &Config{
		RuleConfidenceThreshold: GetEnvFloat("HALBERD_RULE_CONFIDENCE_THRESHOLD", 0.7),
		LLMBoostThreshold:       GetEnvFloat("HALBERD_LLM_BOOST_THRESHOLD", 0.2),
		DecisionThreshold:       GetEnvFloat("HALBERD_DECISION_THRESHOLD", 0.6),
		OverrideMargin:          GetEnvFloat("HALBERD_OVERRIDE_MARGIN", 0.15),

		CatalogPath: GetEnv("HALBERD_CATALOG_PATH", ""),

		EnableLLMTier:    GetEnvBool("HALBERD_ENABLE_LLM", true),
		LLMProvider:      detectLLMProvider(),
		LLMAPIKey:        GetEnv("HALBERD_LLM_API_KEY", GetEnv("GROQ_API_KEY", os.Getenv("OPENAI_API_KEY"))),
		LLMModel:         GetEnv("HALBERD_LLM_MODEL", "llama-3.1-8b-instant"),
		LLMBaseURL:       GetEnv("HALBERD_LLM_BASE_URL", ""),
		LLMTimeoutMs:     GetEnvInt("HALBERD_LLM_TIMEOUT_MS", 5000),
		MaxConcurrentLLM: clampInt(GetEnvInt("HALBERD_LLM_MAX_CONCURRENT", 8), 1, 256),

		EnableCache:   GetEnvBool("HALBERD_ENABLE_CACHE", true),
		CacheBackend:  CacheBackend(GetEnv("HALBERD_CACHE_BACKEND", "local")),
		CacheTTL:      time.Duration(GetEnvInt("HALBERD_CACHE_TTL_SECONDS", 300)) * time.Second,
		RedisAddr:     GetEnv("HALBERD_REDIS_ADDR", "localhost:6379"),
		RedisPassword: GetEnv("HALBERD_REDIS_PASSWORD", ""),
		RedisDB:       GetEnvInt("HALBERD_REDIS_DB", 0),

		ContextWindowSize: clampInt(GetEnvInt("HALBERD_CONTEXT_WINDOW", 15), 1, 1000),
		ConversationTTL:   time.Duration(GetEnvInt("HALBERD_CONVERSATION_TTL_SECONDS", 3600)) * time.Second,

		BatchConcurrency: clampInt(GetEnvInt("HALBERD_BATCH_CONCURRENCY", 8), 1, 256),

		AuditBackend: AuditBackend(GetEnv("HALBERD_AUDIT_BACKEND", "jsonl")),
		AuditLogPath: GetEnv("HALBERD_AUDIT_LOG", "audit_events.jsonl"),
		PostgresDSN:  GetEnv("HALBERD_POSTGRES_DSN", ""),

		ListenAddr: GetEnv("HALBERD_LISTEN_ADDR", ":8787"),
		APIKey:     GetEnv("HALBERD_API_KEY", ""),
	}
}

// NewHighSecurityConfig biases toward catching more at the cost of false
// positives: lower decision bar, wider escalation band.
func NewHighSecurityConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.DecisionThreshold = 0.5
	cfg.RuleConfidenceThreshold = 0.6
	cfg.LLMBoostThreshold = 0.15
	return cfg
}

// NewHighUsabilityConfig biases toward fewer false positives: higher
// decision bar, narrower escalation band, LLM tier on to arbitrate.
func NewHighUsabilityConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.DecisionThreshold = 0.7
	cfg.LLMBoostThreshold = 0.3
	cfg.EnableLLMTier = true
	return cfg
}

// NewLocalConfig targets air-gapped or privacy-first deployments: local
// Ollama for escalation, local cache, no cloud keys.
func NewLocalConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.LLMProvider = ProviderOllama
	cfg.LLMBaseURL = "http://localhost:11434/v1"
	cfg.LLMModel = "qwen2.5:7b"
	cfg.LLMAPIKey = ""
	cfg.CacheBackend = CacheLocal
	return cfg
}

func detectLLMProvider() LLMProvider {
	if p := os.Getenv("HALBERD_LLM_PROVIDER"); p != "" {
		return LLMProvider(p)
	}
	if os.Getenv("GROQ_API_KEY") != "" {
		return ProviderGroq
	}
	if os.Getenv("OPENAI_API_KEY") != "" {
		return ProviderOpenAI
	}
	return ProviderOllama
}

// ProviderBaseURL resolves the chat completions API root for the
// configured provider, honoring an explicit override.
func (c *Config) ProviderBaseURL() string {
	if c.LLMBaseURL != "" {
		return c.LLMBaseURL
	}
	switch c.LLMProvider {
	case ProviderOpenAI:
		return "https://api.openai.com/v1"
	case ProviderGroq:
		return "https://api.groq.com/openai/v1"
	case ProviderOllama:
		return "http://localhost:11434/v1"
	default:
		return ""
	}
}

// IsProduction reports whether HALBERD_ENV marks a production deployment.
func IsProduction() bool {
	env := strings.ToLower(os.Getenv("HALBERD_ENV"))
	return env == "production" || env == "prod"
}

// Validate checks threshold ordering and backend coherence. In production
// it additionally requires the gateway API key; in development missing
// production-only settings log a warning instead.
func (c *Config) Validate() error {
	if c.LLMBoostThreshold < 0 || c.RuleConfidenceThreshold > 1 ||
		c.LLMBoostThreshold >= c.RuleConfidenceThreshold {
		return fmt.Errorf("thresholds: need 0 <= llm_boost (%.2f) < rule_confidence (%.2f) <= 1",
			c.LLMBoostThreshold, c.RuleConfidenceThreshold)
	}
	if c.DecisionThreshold <= 0 || c.DecisionThreshold > 1 {
		return fmt.Errorf("decision threshold %.2f out of range (0,1]", c.DecisionThreshold)
	}
	if c.OverrideMargin <= 0 || c.OverrideMargin >= 1 {
		return fmt.Errorf("override margin %.2f out of range (0,1)", c.OverrideMargin)
	}

	switch c.CacheBackend {
	case CacheLocal, CacheRedis:
	default:
		return fmt.Errorf("unknown cache backend %q", c.CacheBackend)
	}
	if c.CacheBackend == CacheRedis && c.RedisAddr == "" {
		return fmt.Errorf("redis cache backend requires HALBERD_REDIS_ADDR")
	}

	switch c.AuditBackend {
	case AuditNone, AuditJSONL, AuditPostgres:
	default:
		return fmt.Errorf("unknown audit backend %q", c.AuditBackend)
	}
	if c.AuditBackend == AuditPostgres && c.PostgresDSN == "" {
		return fmt.Errorf("postgres audit backend requires HALBERD_POSTGRES_DSN")
	}

	if c.EnableLLMTier && c.LLMProvider != ProviderNone && c.LLMProvider != ProviderOllama {
		if c.LLMAPIKey == "" {
			log.Printf("[STARTUP] Warning: LLM tier enabled for %s but no API key set; escalations will fail open", c.LLMProvider)
		}
	}

	if IsProduction() && c.APIKey == "" {
		return fmt.Errorf("HALBERD_API_KEY is required in production")
	}
	if !IsProduction() && c.APIKey == "" {
		log.Printf("[STARTUP] Warning: HALBERD_API_KEY not set; gateway runs unauthenticated (dev only)")
	}

	return nil
}

// MustValidate calls Validate and fatally exits on failure. Call at
// startup before serving traffic.
func (c *Config) MustValidate() {
	if err := c.Validate(); err != nil {
		log.Fatalf("[STARTUP] FATAL: configuration validation failed: %v", err)
	}
	log.Println("[STARTUP] Configuration validated successfully")
}

func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// Helper functions for environment variable parsing, exported for use by
// other packages.

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of an environment variable or a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvFloat returns the float64 value of an environment variable or a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultValue
}
