// Package server assembles the orchestrator service from configuration.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/opsagent/orchestrator/internal/capability"
	"github.com/opsagent/orchestrator/internal/circuitbreaker"
	"github.com/opsagent/orchestrator/internal/config"
	"github.com/opsagent/orchestrator/internal/health"
	"github.com/opsagent/orchestrator/internal/httpapi"
	"github.com/opsagent/orchestrator/internal/metrics"
	"github.com/opsagent/orchestrator/internal/plan"
	"github.com/opsagent/orchestrator/internal/session"
	"github.com/opsagent/orchestrator/internal/streaming"
	"github.com/opsagent/orchestrator/internal/tools"
	"github.com/opsagent/orchestrator/internal/workflows"
)

// App holds the wired service components.
type App struct {
	Config       *config.Config
	Catalog      *plan.Catalog
	Bus          *streaming.Bus
	Orchestrator *workflows.Orchestrator
	Store        session.Store
	Health       *health.Manager
	Handler      http.Handler

	logger  *zap.Logger
	closers []func()
}

// New wires every component described by cfg.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger, Health: health.NewManager(logger)}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	// 1) Responder catalog, optionally hot-reloaded
	catalog, err := config.LoadCatalog(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	a.Catalog = catalog
	if cfg.Catalog.Watch {
		w := config.NewCatalogWatcher(cfg.Catalog.Path, catalog, logger)
		w.RegisterHandler(func(ev config.ChangeEvent) error {
			metrics.CatalogReloads.WithLabelValues(ev.Action).Inc()
			return nil
		})
		if err := w.Start(); err != nil {
			logger.Warn("Catalog hot reload disabled", zap.Error(err))
		} else {
			a.closers = append(a.closers, w.Stop)
		}
	}
	_ = a.Health.RegisterChecker(health.NewCatalogChecker(catalog))

	// 2) Redis, only when something needs it
	var rw *circuitbreaker.RedisWrapper
	if cfg.Session.Backend == "redis" || cfg.Streaming.RedisRelay {
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		a.closers = append(a.closers, func() { _ = client.Close() })
		rw = circuitbreaker.NewRedisWrapper(client, "orchestrator", logger)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rw.Ping(pingCtx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		_ = a.Health.RegisterChecker(health.NewRedisChecker(rw, cfg.Session.Backend == "redis"))
	}

	// 3) Event bus with optional cross-process relay
	busOpts := []streaming.Option{streaming.WithBacklog(cfg.Streaming.MaxBacklog)}
	if cfg.Streaming.RedisRelay {
		relay := streaming.NewRedisRelay(rw.Client(), cfg.Streaming.MaxBacklog, logger)
		a.closers = append(a.closers, relay.Close)
		busOpts = append(busOpts, streaming.WithSink(relay))
	}
	a.Bus = streaming.NewBus(logger, busOpts...)

	// 4) Capability port and orchestrator
	port, breakers, err := NewPort(cfg.Capability, catalog, logger)
	if err != nil {
		return nil, err
	}
	if breakers != nil {
		_ = a.Health.RegisterChecker(health.NewBreakerChecker("capability_service", breakers))
	}
	a.Orchestrator = workflows.NewOrchestrator(a.Bus, port, catalog, workflows.Options{
		ReviewEnabled:  cfg.Orchestration.ReviewEnabled,
		MaxConcurrency: cfg.Orchestration.MaxConcurrency,
	}, logger)

	// 5) Conversation store
	if cfg.Session.Backend == "redis" {
		a.Store = session.NewRedisStore(rw, session.RedisOptions{
			TTL:        cfg.Session.TTL,
			MaxHistory: cfg.Session.MaxHistory,
			CacheSize:  cfg.Session.CacheSize,
		}, logger)
	} else {
		a.Store = session.NewMemoryStore(cfg.Session.TTL, cfg.Session.MaxHistory)
	}

	// 6) HTTP surface
	a.Handler = httpapi.NewRouter(logger,
		health.NewHTTPHandler(a.Health, logger),
		httpapi.NewStreamingHandler(a.Bus, cfg.Streaming.Heartbeat, logger),
		httpapi.NewConversationHandler(a.Store, a.Orchestrator, logger),
	)

	ok = true
	return a, nil
}

// NewPort builds the configured capability backend. The breaker set is
// returned for health reporting when the backend has one.
func NewPort(cfg config.CapabilityConfig, catalog *plan.Catalog, logger *zap.Logger) (capability.Port, *circuitbreaker.Set, error) {
	switch cfg.Provider {
	case "http":
		p := capability.NewHTTPPort(cfg.BaseURL, catalog, capability.HTTPOptions{
			Timeout:      cfg.Timeout,
			RateLimitRPM: cfg.RateLimitRPM,
			RateBurst:    cfg.RateBurst,
		}, logger)
		return p, p.Breakers(), nil
	case "openai":
		opts := []openai.Option{openai.WithModel(cfg.Model)}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithToken(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err := openai.New(opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("create openai model: %w", err)
		}
		return capability.NewLLMPort(model, catalog, tools.Default(), cfg.MaxToolRounds, logger), nil, nil
	default:
		return nil, nil, errors.New("unknown capability provider " + cfg.Provider)
	}
}

// Close releases background resources in reverse order of creation.
func (a *App) Close() {
	a.Health.Stop()
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
