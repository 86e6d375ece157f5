// Command polygate runs the multi-vendor LLM gateway.
//
// One listener serves the Anthropic Messages, OpenAI Chat Completions, and
// Gemini generateContent dialects, routed onto any mix of OpenAI-compatible
// and job-polling backends.
//
// Configuration is layered: built-in defaults, a YAML file (./config.yaml,
// /etc/polygate/config.yaml, or POLYGATE_CONFIG), then POLYGATE_* environment
// overrides. Run with -config to point at an explicit file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/polygate/polygate/pkg/auth"
	"github.com/polygate/polygate/pkg/auth/apikey"
	"github.com/polygate/polygate/pkg/auth/jwt"
	"github.com/polygate/polygate/pkg/config"
	"github.com/polygate/polygate/pkg/debug"
	"github.com/polygate/polygate/pkg/gateway"
	"github.com/polygate/polygate/pkg/observability"
	"github.com/polygate/polygate/pkg/poll"
	"github.com/polygate/polygate/pkg/provider"
	"github.com/polygate/polygate/pkg/provider/jobapi"
	"github.com/polygate/polygate/pkg/provider/openaicompat"
	"github.com/polygate/polygate/pkg/router"
	"github.com/polygate/polygate/pkg/storage"
	"github.com/polygate/polygate/pkg/storage/memory"
	"github.com/polygate/polygate/pkg/storage/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	logLevel := flag.String("log-level", "info", "log level: trace, debug, info, warn, error")
	flag.Parse()

	debug.Init("", *logLevel)
	logger := slog.Default()

	if err := run(*configPath, logger); err != nil {
		logger.Error("gateway failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Providers and routing.
	rt := router.New(router.Options{
		EWMAAlpha:          cfg.Router.EWMAAlpha,
		DegradedThreshold:  cfg.Router.DegradedThreshold,
		UnhealthyThreshold: cfg.Router.UnhealthyThreshold,
		RecoverySuccesses:  cfg.Router.RecoverySuccesses,
		Cooldown:           cfg.Router.Cooldown,
		Logger:             logger,
	})

	var providers []provider.Provider
	for _, pc := range cfg.Providers {
		p, err := buildProvider(pc, cfg.Poller, logger)
		if err != nil {
			return fmt.Errorf("provider %q: %w", pc.Name, err)
		}
		rt.Register(p, pc.Priority)
		providers = append(providers, p)
		logger.Info("provider registered",
			"name", pc.Name, "type", pc.Type,
			"models", strings.Join(pc.Models, ","), "priority", pc.Priority)
	}
	defer func() {
		for _, p := range providers {
			p.Close()
		}
	}()

	// Exchange store.
	store, err := buildStore(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	// Gateway and routes.
	gw, err := gateway.New(gateway.Config{
		Router:              rt,
		Store:               store,
		DefaultModel:        cfg.Gateway.DefaultModel,
		DefaultSystemPrompt: cfg.Gateway.DefaultSystemPrompt,
		DefaultMaxTokens:    cfg.Gateway.DefaultMaxTokens,
		MaxBodyBytes:        cfg.Server.MaxBodyBytes,
		Logger:              logger,
	})
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	mux := http.NewServeMux()
	gw.Routes(mux)
	if cfg.Observability.Metrics.Enabled {
		mux.Handle("GET "+cfg.Observability.Metrics.Path, promhttp.Handler())
	}

	var handler http.Handler = mux
	handler = observability.MetricsMiddleware(handler)

	authMW, err := buildAuthMiddleware(cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if authMW != nil {
		handler = authMW(handler)
	}

	srv := gateway.NewServer(handler,
		gateway.WithAddr(fmt.Sprintf(":%d", cfg.Server.Port)),
		gateway.WithReadTimeout(cfg.Server.ReadTimeout),
		gateway.WithWriteTimeout(cfg.Server.WriteTimeout),
		gateway.WithLogger(logger),
	)
	return srv.ListenAndServe()
}

// buildProvider constructs the concrete client for one configured endpoint.
func buildProvider(pc config.ProviderConfig, pollCfg config.PollerConfig, logger *slog.Logger) (provider.Provider, error) {
	switch pc.Type {
	case "openai":
		return openaicompat.New(openaicompat.Config{
			Name:      pc.Name,
			BaseURL:   pc.BaseURL,
			APIKey:    pc.APIKey,
			Models:    pc.Models,
			Streaming: pc.Streaming,
			Timeout:   pc.Timeout,
		})
	case "jobapi":
		backend, err := jobapi.New(jobapi.Config{
			BaseURL: pc.BaseURL,
			APIKey:  pc.APIKey,
			Timeout: pc.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return provider.NewPollBased(pc.Name, pc.Models, backend, poll.Options{
			BaseDelay:     pollCfg.BaseDelay,
			GrowthFactor:  pollCfg.GrowthFactor,
			CapDelay:      pollCfg.CapDelay,
			MaxAttempts:   pollCfg.MaxAttempts,
			Budget:        pollCfg.Budget,
			RetryFallback: pollCfg.RetryFallback,
			Logger:        logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", pc.Type)
	}
}

// buildStore constructs the exchange store, or nil when recording is off.
func buildStore(sc config.StorageConfig, logger *slog.Logger) (storage.Store, error) {
	switch sc.Type {
	case "", "none":
		logger.Info("exchange recording disabled")
		return nil, nil
	case "memory":
		logger.Info("storage enabled", "type", "memory", "max_size", sc.MaxSize)
		return memory.New(sc.MaxSize), nil
	case "postgres":
		store, err := postgres.New(context.Background(), postgres.Config{
			DSN:            sc.Postgres.DSN,
			MaxConns:       sc.Postgres.MaxConns,
			MigrateOnStart: sc.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("storage enabled", "type", "postgres")
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", sc.Type)
	}
}

// buildAuthMiddleware wires the configured authenticators, or returns nil
// when auth is disabled.
func buildAuthMiddleware(ac config.AuthConfig) (func(http.Handler) http.Handler, error) {
	switch ac.Type {
	case "", "none":
		return nil, nil
	case "apikey":
		entries := make([]apikey.RawKeyEntry, 0, len(ac.APIKeys))
		for _, k := range ac.APIKeys {
			entries = append(entries, apikey.RawKeyEntry{
				Key: k.Key,
				Identity: auth.Identity{
					Subject: k.Subject,
					Tenant:  k.TenantID,
					Tier:    k.ServiceTier,
				},
			})
		}
		chain := auth.NewChain(auth.Deny, apikey.New(entries))
		return auth.Middleware(chain, nil, auth.DefaultBypassEndpoints), nil
	case "jwt":
		chain := auth.NewChain(auth.Deny, jwt.New(jwt.Config{
			Issuer:   ac.JWT.Issuer,
			Audience: ac.JWT.Audience,
			JWKSURL:  ac.JWT.JWKSURL,
		}))
		return auth.Middleware(chain, nil, auth.DefaultBypassEndpoints), nil
	default:
		return nil, fmt.Errorf("unknown auth type %q", ac.Type)
	}
}

