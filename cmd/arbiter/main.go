package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MikeSquared-Agency/arbiter/internal/anthropic"
	"github.com/MikeSquared-Agency/arbiter/internal/api"
	"github.com/MikeSquared-Agency/arbiter/internal/config"
	"github.com/MikeSquared-Agency/arbiter/internal/evaluator"
	"github.com/MikeSquared-Agency/arbiter/internal/gemini"
	"github.com/MikeSquared-Agency/arbiter/internal/hermes"
	"github.com/MikeSquared-Agency/arbiter/internal/ledger"
	"github.com/MikeSquared-Agency/arbiter/internal/lock"
	"github.com/MikeSquared-Agency/arbiter/internal/metrics"
	"github.com/MikeSquared-Agency/arbiter/internal/processor"
	"github.com/MikeSquared-Agency/arbiter/internal/settlement"
	"github.com/MikeSquared-Agency/arbiter/internal/slack"
	"github.com/MikeSquared-Agency/arbiter/internal/store"
	"github.com/MikeSquared-Agency/arbiter/internal/transcripts"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	slog.Info("arbiter starting", "port", cfg.Port, "provider", cfg.LLMProvider)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	n, err := db.Migrate()
	if err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database connected", "migrations_applied", n)

	// Generation service
	gen, model, err := newGenerator(ctx, cfg)
	if err != nil {
		slog.Error("failed to create generation client", "error", err)
		os.Exit(1)
	}
	slog.Info("generation client ready", "provider", cfg.LLMProvider, "model", model)

	validator := evaluator.NewValidator()
	if cfg.EvalStrictBands {
		validator = evaluator.NewValidator(evaluator.WithStrictBands())
	}
	retry := evaluator.DefaultRetryPolicy
	retry.MaxRetries = cfg.EvalMaxRetries
	eval := evaluator.New(gen, slog.Default(),
		evaluator.WithMaxTokens(cfg.EvalMaxTokens),
		evaluator.WithTimeout(cfg.EvalTimeout),
		evaluator.WithRetry(retry),
		evaluator.WithValidator(validator),
	)

	recorder := metrics.New()

	deps := processor.Deps{
		Store:     db,
		Evaluator: eval,
		Metrics:   recorder,
		Model:     model,
	}

	// Settlement lock (optional, single-replica deployments can skip it)
	if cfg.RedisURL != "" {
		locker, err := lock.New(cfg.RedisURL, lock.DefaultTTL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		defer locker.Close()
		if err := locker.Ping(ctx); err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		deps.Locker = locker
		slog.Info("redis lock ready")
	} else {
		slog.Warn("redis not configured, settlements are not locked across replicas")
	}

	// Ledger archive (best effort)
	var ledgerReader api.Ledger
	if cfg.StorageEndpoint != "" {
		lg, err := ledger.New(ledger.Options{
			Endpoint:  cfg.StorageEndpoint,
			AccessKey: cfg.StorageAccessKey,
			SecretKey: cfg.StorageSecretKey,
			Bucket:    cfg.StorageBucket,
			UseSSL:    cfg.StorageUseSSL,
		})
		if err != nil {
			slog.Error("failed to create ledger client", "error", err)
			os.Exit(1)
		}
		if err := lg.EnsureBucket(ctx); err != nil {
			slog.Warn("ledger unavailable, running without archive", "bucket", cfg.StorageBucket, "error", err)
		} else {
			deps.Archiver = lg
			ledgerReader = lg
			slog.Info("ledger ready", "bucket", lg.Bucket())
		}
	}

	if cfg.TranscriptURL != "" {
		deps.Transcripts = transcripts.NewClient(cfg.TranscriptURL)
	}

	// Slack poster (optional, disputes are still held without it)
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		deps.Disputes = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, slog.Default())
		slog.Info("slack poster ready", "channel", cfg.SlackChannel)
	} else {
		slog.Warn("slack not configured, disputes need the API to resolve")
	}

	// NATS/Hermes
	hermesClient, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer hermesClient.Close()
	deps.Publisher = hermesClient
	slog.Info("NATS connected", "url", cfg.NatsURL)

	policy := settlement.Policy{ReleaseThreshold: cfg.ReleaseThreshold}
	proc := processor.New(deps, policy, slog.Default())

	subscriptions := map[string]func(string, []byte){
		hermes.SubjectSessionCompleted: proc.HandleSessionCompleted,
		hermes.SubjectSlackReaction:    proc.HandleReaction,
		hermes.SubjectSlackInteraction: proc.HandleInteraction,
	}
	for subject, handler := range subscriptions {
		if err := hermesClient.Subscribe(subject, handler); err != nil {
			slog.Error("failed to subscribe", "subject", subject, "error", err)
			os.Exit(1)
		}
	}

	// HTTP API
	srv := api.NewServer(api.Options{
		Port:     cfg.Port,
		APIToken: cfg.APIToken,
		Store:    db,
		Settler:  proc,
		Ledger:   ledgerReader,
		Disputes: proc,
		Metrics:  recorder.Handler(),
		Policy:   policy,
	})
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	// Announce registration
	if err := hermesClient.Publish(hermes.SubjectAgentRegistered, map[string]any{
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
		"port":              cfg.Port,
		"release_threshold": cfg.ReleaseThreshold,
		"model":             model,
	}); err != nil {
		slog.Warn("failed to publish registration", "error", err)
	}

	slog.Info("arbiter ready", "port", cfg.Port, "release_threshold", cfg.ReleaseThreshold)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown error", "error", err)
	}
	cancel()
	slog.Info("arbiter stopped")
}

func newGenerator(ctx context.Context, cfg config.Config) (evaluator.Generator, string, error) {
	switch cfg.LLMProvider {
	case config.ProviderGemini:
		c, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, "", err
		}
		return c, c.Model(), nil
	default:
		c := anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
		return c, c.Model(), nil
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
