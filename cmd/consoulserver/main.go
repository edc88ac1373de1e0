// Command consoulserver runs the Consoul conversation gateway: the HTTP
// and WebSocket transports, the provider gateway with its per-provider
// circuit breakers, session storage (Redis with an automatic in-memory
// fallback), and a Prometheus metrics endpoint.
//
// Grounded on cmd/nexus/handlers_serve.go's runServe (config load,
// component construction, signal.NotifyContext-driven graceful
// shutdown), narrowed to this module's environment-variable-only config
// and its own component set.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goatbytes/consoul/internal/approval"
	"github.com/goatbytes/consoul/internal/audit"
	"github.com/goatbytes/consoul/internal/breaker"
	"github.com/goatbytes/consoul/internal/config"
	"github.com/goatbytes/consoul/internal/consoullog"
	"github.com/goatbytes/consoul/internal/conversation"
	"github.com/goatbytes/consoul/internal/locks"
	"github.com/goatbytes/consoul/internal/metrics"
	"github.com/goatbytes/consoul/internal/providers"
	"github.com/goatbytes/consoul/internal/ratelimit"
	"github.com/goatbytes/consoul/internal/sessions"
	"github.com/goatbytes/consoul/internal/toolexec"
	"github.com/goatbytes/consoul/internal/tools"
	"github.com/goatbytes/consoul/internal/tools/analyzer"
	consoulhttp "github.com/goatbytes/consoul/internal/transport/http"
	"github.com/goatbytes/consoul/internal/transport/ws"
	"github.com/goatbytes/consoul/internal/webhooks"
)

func main() {
	cfg := config.Load()

	logger := consoullog.New(consoullog.Config{
		Level:  logLevel(cfg.LogLevel),
		Format: cfg.LogFormat,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("consoulserver exited with an error", "error", err)
		os.Exit(1)
	}
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(ctx context.Context, cfg *config.Config, logger *consoullog.Logger) error {
	collector := metrics.NewPrometheus()

	auditLogger, err := audit.NewLogger(audit.Config{
		Enabled: cfg.AuditOutput != "",
		Output:  cfg.AuditOutput,
		Path:    cfg.AuditPath,
	})
	if err != nil {
		return fmt.Errorf("starting audit logger: %w", err)
	}
	defer func() { _ = auditLogger.Close() }()

	store, err := buildSessionStore(cfg, collector)
	if err != nil {
		return fmt.Errorf("building session store: %w", err)
	}

	providerRegistry := providers.NewRegistry("", time.Hour)
	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.CircuitFailureThreshold,
		SuccessThreshold: cfg.CircuitSuccessThreshold,
		CoolDown:         cfg.CircuitCoolDown,
	}, collector)
	registerProviders(providerRegistry, breakers)

	toolRegistry := tools.NewRegistry()
	for _, def := range toolexec.Definitions() {
		toolRegistry.Register(def)
	}
	executor := toolexec.New(toolexec.Config{Workspace: "."})

	approvals := approval.NewCoordinator(cfg.ApprovalTimeout)

	svc := conversation.New(
		store,
		locks.NewManager(cfg.LockAcquireTimeout),
		toolRegistry,
		providerRegistry,
		approvals,
		executor,
		auditLogger,
		collector,
		logger,
		nil,
		conversation.Config{
			MaxMessages: cfg.SessionMaxMessages,
			LockTimeout: cfg.LockAcquireTimeout,
			Policy:      tools.PolicyBalanced,
			Whitelist:   analyzer.NewWhitelist(nil),
		},
	)

	dispatcher := webhooks.NewDispatcher(webhooks.NewMemoryStore(), nil)

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		Enabled:           cfg.RateLimitPerMinute > 0,
		RequestsPerSecond: float64(cfg.RateLimitPerMinute) / 60,
		BurstSize:         cfg.RateLimitPerMinute,
	})

	wsServer := ws.NewServer(ws.Config{
		Conversation: svc,
		Approvals:    approvals,
		Logger:       logger,
		APIKeys:      cfg.APIKeys,
	})

	httpServer := consoulhttp.NewServer(consoulhttp.Config{
		Conversation:     svc,
		Sessions:         store,
		Breakers:         breakers,
		Webhooks:         dispatcher,
		RateLimiter:      limiter,
		Logger:           logger,
		APIKeys:          cfg.APIKeys,
		ActiveWebSockets: wsServer.ActiveConnections,
	})

	mux := http.NewServeMux()
	mux.Handle("/ws/chat/{session_id}", wsServer)
	mux.Handle("/", httpServer)

	apiSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}

	errCh := make(chan error, 2)
	go func() {
		logger.Info(ctx, "starting API listener", "addr", cfg.HTTPAddr)
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api listener: %w", err)
		}
	}()
	go func() {
		logger.Info(ctx, "starting metrics listener", "addr", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics listener: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	_ = apiSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	return nil
}

func buildSessionStore(cfg *config.Config, observer sessions.Observer) (*sessions.ResilientStore, error) {
	fallback := sessions.NewMemoryStore(cfg.SessionTTL)
	if cfg.RedisAddr == "" {
		return sessions.NewResilientStore(fallback, fallback, cfg.ReconnectInterval, observer), nil
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ttlSeconds := int64(0)
	if cfg.SessionTTL > 0 {
		ttlSeconds = int64(cfg.SessionTTL.Seconds())
	}
	primary := sessions.NewRedisStore(client, cfg.KeyPrefix, ttlSeconds)

	if !cfg.FallbackEnabled {
		return sessions.NewResilientStore(primary, primary, cfg.ReconnectInterval, observer), nil
	}
	return sessions.NewResilientStore(primary, fallback, cfg.ReconnectInterval, observer), nil
}

func registerProviders(registry *providers.Registry, breakers *breaker.Registry) {
	anthropic := providers.NewAnthropicProvider("claude-sonnet-4-5")
	openai := providers.NewOpenAIProvider("gpt-4o")
	gemini := providers.NewGeminiProvider("gemini-1.5-pro")
	ollama := providers.NewOllamaProvider("llama3")

	registry.Register(providers.NewBreakerProvider(anthropic, breakers))
	registry.Register(providers.NewBreakerProvider(openai, breakers))
	registry.Register(providers.NewBreakerProvider(gemini, breakers))
	registry.Register(providers.NewBreakerProvider(ollama, breakers))
}
