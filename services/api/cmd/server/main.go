package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"eduflow/internal/ratelimit"
	"eduflow/internal/util"
	"eduflow/pkg/ai"
	"eduflow/pkg/store"
	"eduflow/pkg/studygen"
	"eduflow/services/api/internal/app"
	"eduflow/services/api/internal/config"
	"eduflow/services/api/internal/server"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.AppName, cfg.EffectiveLogLevel())
	logger.Info("config loaded", "config", cfg)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.FileConfig, logger *slog.Logger) error {
	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	sessions, err := store.NewJWTSessionStore(cfg.SecretKey, cfg.Algorithm, cfg.AccessTokenTTL())
	if err != nil {
		return fmt.Errorf("init sessions: %w", err)
	}

	textGen, err := newTextGenerator(cfg, logger)
	if err != nil {
		return err
	}

	appCore, err := app.New(app.Config{
		Store:     db,
		Sessions:  sessions,
		Generator: studygen.New(textGen),
	})
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}

	serverCfg := server.Config{
		App:                        appCore,
		AppName:                    cfg.AppName,
		Version:                    cfg.Version,
		Environment:                cfg.Environment,
		AllowedOrigins:             cfg.AllowedOrigins,
		MaxUploadBytes:             cfg.MaxUploadBytes,
		RegisterRateLimitPerMinute: cfg.RegisterRateLimitPerMinute,
		TokenRateLimitPerMinute:    cfg.TokenRateLimitPerMinute,
		TrustedProxyCIDRs:          cfg.TrustedProxyCIDRs,
	}
	if cfg.RedisAddr != "" {
		client, err := ratelimit.NewClient(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		serverCfg.Redis = client
	} else {
		logger.Warn("REDIS_ADDR not set, rate limiting disabled")
	}

	httpServer, err := server.New(serverCfg)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      180 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newTextGenerator picks the LLM backend. Without a Gemini key outside
// production the service still starts and generation requests fail.
func newTextGenerator(cfg config.FileConfig, logger *slog.Logger) (ai.TextGenerator, error) {
	timeout, err := config.ParseGenerationTimeout(cfg.GenerationTimeout)
	if err != nil {
		return nil, err
	}
	switch cfg.GenerationProvider {
	case config.ProviderOpenAICompat:
		return ai.NewOpenAICompatGenerator(cfg.GenerationBaseURL, cfg.GenerationAPIKey, cfg.GenerationModel, timeout), nil
	default:
		if cfg.GeminiAPIKey == "" {
			logger.Warn("GEMINI_API_KEY not set, generation requests will fail")
			return ai.TextGeneratorFunc(func(context.Context, string, string) (string, error) {
				return "", errors.New("gemini api key not configured")
			}), nil
		}
		client, err := ai.NewGeminiClient(cfg.GeminiAPIKey, ai.WithGeminiTimeout(timeout))
		if err != nil {
			return nil, fmt.Errorf("init gemini client: %w", err)
		}
		gen := ai.NewGeminiGenerator(client, cfg.GenerationModel)
		logger.Info("generation backend ready", "provider", config.ProviderGemini, "model", gen.Model())
		return gen, nil
	}
}
