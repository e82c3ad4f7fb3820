package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zombor/receipt-tracker/internal/jobs"
	"github.com/zombor/receipt-tracker/internal/pipeline"
	"github.com/zombor/receipt-tracker/internal/receipt"
	"github.com/zombor/receipt-tracker/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	fs := ff.NewFlagSet("receipt-tracker")
	var (
		port            = fs.IntLong("port", 8080, "HTTP server port")
		dbPath          = fs.StringLong("db", "receipt-tracker.db", "Database file path")
		storagePath     = fs.StringLong("storage", "./receipts", "Storage directory path")
		scannerType     = fs.StringLong("scanner", "gemini", "Model provider: 'gemini' or 'ollama'")
		geminiKey       = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel     = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL       = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel     = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)")
		authUser        = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass        = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		workers         = fs.IntLong("workers", 2, "Concurrent extraction runs")
		queueSize       = fs.IntLong("queue-size", 64, "Uploads that may wait for a worker")
		jobTimeout      = fs.DurationLong("job-timeout", 5*time.Minute, "Time limit for a single extraction run")
		modelRPM        = fs.IntLong("model-rpm", 0, "Extraction runs started per minute (0 = unlimited)")
		claimTTL        = fs.DurationLong("claim-ttl", 10*time.Minute, "Lease held on a receipt while it is extracted (0 disables)")
		noReprompt      = fs.BoolLong("no-reprompt", "Do not retry with a strict JSON prompt when the model output cannot be parsed")
		breakerFailures = fs.IntLong("breaker-failures", 5, "Consecutive model failures before calls are paused")
		breakerTimeout  = fs.DurationLong("breaker-timeout", 30*time.Second, "How long model calls stay paused")
		logLevel        = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		showVersion     = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPT_TRACKER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	slog.Info("Initializing database...", "path", *dbPath)
	db, err := receipt.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize model based on type
	var model scanning.Model
	switch *scannerType {
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini model...", "model", *geminiModel)
		model, err = scanning.NewGemini(ctx, apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama model...", "url", *ollamaURL, "model", *ollamaModel)
		model, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "gemini or ollama")
		os.Exit(1)
	}
	model = scanning.NewBreaker(model, scanning.BreakerSettings{
		ConsecutiveFailures: uint32(max(*breakerFailures, 0)),
		OpenTimeout:         *breakerTimeout,
	}, logger)
	defer model.Close()

	// Initialize storage
	slog.Info("Initializing storage...", "path", *storagePath)
	store, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	attempts := pipeline.DefaultAttempts()
	if *noReprompt {
		attempts = attempts[:1]
	}
	orchestrator := pipeline.NewOrchestrator(db, model, pipeline.NewFetcher(store, nil), logger,
		pipeline.WithAttempts(attempts...),
		pipeline.WithClaimTTL(*claimTTL),
		pipeline.WithMetrics(pipeline.NewMetrics(registry)),
	)

	queue := jobs.NewQueue(orchestrator, logger,
		jobs.WithWorkers(*workers),
		jobs.WithQueueSize(*queueSize),
		jobs.WithJobTimeout(*jobTimeout),
		jobs.WithRateLimit(*modelRPM, 1),
	)

	receiptService := receipt.NewService(db, store, queue, orchestrator)

	basicAuth := receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := receipt.NewServer(receiptService, basicAuth, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf(":%d", *port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			stop()
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version, "model", model.Name())
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	<-ctx.Done()
	slog.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	if err := queue.Shutdown(shutdownCtx); err != nil {
		slog.Error("Queue did not drain", "error", err)
	}
}
