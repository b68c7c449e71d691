package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"bookchat/internal/ratelimit"
	"bookchat/internal/usertoken"
	"bookchat/internal/util"
	"bookchat/pkg/ai"
	"bookchat/pkg/events"
	"bookchat/pkg/store"
	"bookchat/services/chat/internal/app"
	"bookchat/services/chat/internal/authclient"
	"bookchat/services/chat/internal/bookclient"
	"bookchat/services/chat/internal/config"
	"bookchat/services/chat/internal/server"
)

const defaultInsightCacheTTL = 30 * time.Second

type dependencies struct {
	app          *app.App
	verifier     server.TokenVerifier
	users        server.UserDirectory
	limiter      server.RateLimiter
	trusted      *util.TrustedProxies
	writeTimeout time.Duration

	closers []func() error
}

func (d *dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			slog.Warn("close dependency failed", "err", err)
		}
	}
}

func openStore(cfg config.FileConfig) (store.Store, error) {
	switch cfg.StorageDriver {
	case "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		st, err := store.NewGormStore(cfg.DatabaseURL, store.WithDriver(store.DriverSQLite))
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, nil
	default:
		st, err := store.NewGormStore(cfg.DatabaseURL, store.WithDriver(store.DriverPostgres))
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return st, nil
	}
}

func wire(ctx context.Context, cfg config.FileConfig) (_ *dependencies, err error) {
	deps := &dependencies{}
	defer func() {
		if err != nil {
			deps.Close()
		}
	}()

	completionTimeout, err := config.ParseDuration("completionTimeout", cfg.CompletionTimeout)
	if err != nil {
		return nil, err
	}
	cacheTTL, err := config.ParseDuration("insightCacheTTL", cfg.InsightCacheTTL)
	if err != nil {
		return nil, err
	}
	jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		return nil, err
	}
	// The response has to outlive the model call.
	effective := completionTimeout
	if effective == 0 {
		effective = 60 * time.Second
	}
	deps.writeTimeout = max(30*time.Second, effective+10*time.Second)

	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	deps.closers = append(deps.closers, st.Close)

	var redisClient *redis.Client
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.RedisPassword})
		deps.closers = append(deps.closers, redisClient.Close)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		pingErr := redisClient.Ping(pingCtx).Err()
		cancel()
		if pingErr != nil {
			return nil, fmt.Errorf("ping redis %s: %w", addr, pingErr)
		}
		if cacheTTL == 0 {
			cacheTTL = defaultInsightCacheTTL
		}
		cached, err := store.NewCachedInsightStore(st, redisClient, "", cacheTTL)
		if err != nil {
			return nil, fmt.Errorf("init insight cache: %w", err)
		}
		st = cached
	}

	if cfg.TurnRateLimitPerMinute > 0 {
		limiter, err := ratelimit.NewFixedWindowLimiter(redisClient, "bookchat:ratelimit:turn", cfg.TurnRateLimitPerMinute, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init turn limiter: %w", err)
		}
		deps.limiter = limiter
	}

	publisher, err := events.NewPublisher(events.Config{
		Driver:    cfg.EventsDriver,
		RabbitURL: cfg.RabbitURL,
		Topic:     cfg.EventsTopic,
	}, redisClient)
	if err != nil {
		return nil, fmt.Errorf("init events: %w", err)
	}
	deps.closers = append(deps.closers, publisher.Close)

	generator, err := ai.NewChatGenerator(ctx, ai.GeneratorConfig{
		Provider: cfg.GenerationProvider,
		BaseURL:  cfg.GenerationBaseURL,
		APIKey:   cfg.GenerationAPIKey,
		Model:    cfg.GenerationModel,
	})
	if err != nil {
		return nil, fmt.Errorf("init generator: %w", err)
	}

	verifier, err := usertoken.NewVerifier(ctx, usertoken.Config{
		JWKSURL:    cfg.AuthJWKSURL,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		Leeway:     jwtLeeway,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("init jwks verifier: %w", err)
	}
	deps.verifier = verifier
	if url := strings.TrimSpace(cfg.AuthServiceURL); url != "" {
		deps.users = authclient.NewClient(url)
	}

	var books app.BookCatalog
	if url := strings.TrimSpace(cfg.BookServiceURL); url != "" {
		books = bookclient.NewClient(url)
	}

	if len(cfg.TrustedProxyCIDRs) > 0 {
		trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
		if err != nil {
			return nil, fmt.Errorf("parse trusted proxies: %w", err)
		}
		deps.trusted = trusted
	}

	deps.app, err = app.New(app.Config{
		Store:             st,
		Generator:         generator,
		Provider:          cfg.GenerationProvider,
		Model:             cfg.GenerationModel,
		Books:             books,
		Events:            publisher,
		PersonaTemplate:   cfg.PersonaTemplate,
		HistoryLimit:      cfg.HistoryLimit,
		MaxResponseTokens: cfg.MaxResponseTokens,
		CompletionTimeout: completionTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init app: %w", err)
	}
	return deps, nil
}
