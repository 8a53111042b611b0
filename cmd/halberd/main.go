package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/halberdsec/halberd/pkg/audit"
	"github.com/halberdsec/halberd/pkg/config"
	"github.com/halberdsec/halberd/pkg/detect"
)

const Version = "0.1.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		addr := ""
		if len(os.Args) > 2 {
			addr = os.Args[2]
		}
		runServer(addr)
	case "scan":
		if len(os.Args) < 3 {
			fmt.Println("Usage: halberd scan <text>")
			os.Exit(1)
		}
		runCLIScan(strings.Join(os.Args[2:], " "))
	case "version":
		fmt.Printf("Halberd v%s\n", Version)
		fmt.Println("Hybrid prompt-injection threat detection")
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("Halberd v%s - hybrid prompt-injection threat detection\n\n", Version)
	fmt.Println("Usage:")
	fmt.Println("  halberd serve [addr]   Start the HTTP gateway (default: :8787)")
	fmt.Println("  halberd scan <text>    Analyze text and print the assessment")
	fmt.Println("  halberd version        Show version")
	fmt.Println("")
	fmt.Println("Environment variables (selection):")
	fmt.Println("  HALBERD_LLM_PROVIDER   Escalation backend: openai, groq, ollama, none")
	fmt.Println("  HALBERD_LLM_API_KEY    API key for cloud providers")
	fmt.Println("  HALBERD_CACHE_BACKEND  local (default) or redis")
	fmt.Println("  HALBERD_CATALOG_PATH   YAML catalog replacing the built-in patterns")
	fmt.Println("  HALBERD_API_KEY        Gateway auth key (required in production)")
}

// ============================================================================
// HTTP Gateway Mode
// ============================================================================

type analyzeRequest struct {
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id"`
}

type batchRequest struct {
	Texts []string `json:"texts"`
}

type thresholdsRequest struct {
	RuleConfidence float64 `json:"rule_confidence_threshold"`
	LLMBoost       float64 `json:"llm_boost_threshold"`
}

func runServer(addr string) {
	cfg := config.NewDefaultConfig()
	if addr != "" {
		cfg.ListenAddr = addr
	}
	cfg.MustValidate()

	analyzer, err := detect.New(cfg)
	if err != nil {
		log.Fatalf("[STARTUP] FATAL: %v", err)
	}
	defer analyzer.Close()

	sink, err := audit.NewSink(context.Background(), cfg)
	if err != nil {
		log.Fatalf("[STARTUP] FATAL: audit sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	app := fiber.New(fiber.Config{
		AppName: "Halberd",
	})

	// Auth guard for everything except health.
	app.Use(func(c fiber.Ctx) error {
		if cfg.APIKey == "" || c.Path() == "/health" {
			return c.Next()
		}
		if c.Get("Authorization") != "Bearer "+cfg.APIKey {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}
		return c.Next()
	})

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": Version})
	})

	app.Post("/analyze", func(c fiber.Ctx) error {
		var req analyzeRequest
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
		}
		if req.Text == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "text field is required"})
		}
		if req.ConversationID == "" {
			req.ConversationID = uuid.NewString()
		}

		ha, err := analyzer.Analyze(c.Context(), req.Text, req.ConversationID)
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
		}

		writeAudit(sink, req.ConversationID, req.Text, ha)

		return c.JSON(fiber.Map{
			"conversation_id": req.ConversationID,
			"assessment":      ha,
		})
	})

	app.Post("/analyze/batch", func(c fiber.Ctx) error {
		var req batchRequest
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
		}
		if len(req.Texts) == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "texts field is required"})
		}

		results, err := analyzer.BatchAnalyze(c.Context(), req.Texts)
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
		}
		for i, ha := range results {
			writeAudit(sink, "", req.Texts[i], ha)
		}
		return c.JSON(fiber.Map{"assessments": results})
	})

	app.Get("/stats", func(c fiber.Ctx) error {
		return c.JSON(analyzer.PerformanceStats())
	})

	app.Get("/conversations/:id/risk", func(c fiber.Ctx) error {
		return c.JSON(analyzer.ConversationReport(c.Params("id")))
	})

	app.Delete("/conversations/:id", func(c fiber.Ctx) error {
		analyzer.EndConversation(c.Params("id"))
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Put("/thresholds", func(c fiber.Ctx) error {
		var req thresholdsRequest
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
		}
		if err := analyzer.SetThresholds(req.RuleConfidence, req.LLMBoost); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		rule, boost := analyzer.Thresholds()
		return c.JSON(fiber.Map{
			"rule_confidence_threshold": rule,
			"llm_boost_threshold":       boost,
		})
	})

	// Graceful shutdown so janitors and sinks close cleanly.
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Println("[SHUTDOWN] signal received, draining")
		_ = app.ShutdownWithTimeout(10 * time.Second)
	}()

	log.Printf("[STARTUP] Halberd gateway listening on %s", cfg.ListenAddr)
	log.Printf("[STARTUP] Endpoints: POST /analyze, POST /analyze/batch, GET /stats, GET /conversations/:id/risk, PUT /thresholds")
	if err := app.Listen(cfg.ListenAddr); err != nil {
		log.Fatal(err)
	}
}

// writeAudit records one analyzed input; sink failures are logged, never
// propagated to the caller.
func writeAudit(sink audit.Sink, conversationID, text string, ha *detect.HybridAssessment) {
	ev := audit.Event{
		Timestamp:      time.Now().UTC(),
		ConversationID: conversationID,
		InputHash:      detect.CacheKey(text, ""),
		Confidence:     ha.CombinedConfidence,
		RiskLevel:      string(ha.CombinedRiskLevel),
		IsThreat:       ha.IsThreat,
		Escalated:      ha.LLM != nil,
		CacheHit:       ha.CacheHit,
		LatencyMs:      float64(ha.ProcessingTime.Microseconds()) / 1000,
	}
	for _, t := range ha.CombinedThreatTypes {
		ev.ThreatTypes = append(ev.ThreatTypes, string(t))
	}
	if ha.RuleBased != nil {
		ev.NormalizeTrace = ha.RuleBased.NormalizeTrace
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sink.Write(ctx, ev); err != nil {
		log.Printf("[WARN] audit write failed: %v", err)
	}
}

// ============================================================================
// CLI Mode
// ============================================================================

func runCLIScan(text string) {
	cfg := config.NewDefaultConfig()
	analyzer, err := detect.New(cfg)
	if err != nil {
		log.Fatalf("[FATAL] %v", err)
	}
	defer analyzer.Close()

	ha, err := analyzer.Analyze(context.Background(), text, "")
	if err != nil {
		log.Fatalf("[FATAL] %v", err)
	}

	out, _ := json.MarshalIndent(ha, "", "  ")
	fmt.Println(string(out))
}
