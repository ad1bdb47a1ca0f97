package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"chatgate/internal/app"
	"chatgate/internal/config"
	"chatgate/internal/googletoken"
	"chatgate/internal/llm"
	"chatgate/internal/ratelimit"
	"chatgate/internal/server"
	"chatgate/internal/sessiontoken"
	"chatgate/internal/store"
	"chatgate/internal/util"
)

func main() {
	// Local development keeps secrets in .env; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	accessTTL, err := config.ParseTTL(cfg.AccessTokenTTL, sessiontoken.DefaultAccessTTL)
	if err != nil {
		log.Fatalf("failed to parse access token TTL: %v", err)
	}
	refreshTTL, err := config.ParseTTL(cfg.RefreshTokenTTL, sessiontoken.DefaultRefreshTTL)
	if err != nil {
		log.Fatalf("failed to parse refresh token TTL: %v", err)
	}
	leeway, err := config.ParseTTL(cfg.JWTLeeway, sessiontoken.DefaultLeeway)
	if err != nil {
		log.Fatalf("failed to parse JWT leeway: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	chatStore, err := store.NewGormStore(cfg.DatabaseURL, store.PoolOptions{
		MinConns: cfg.DBPoolMin,
		MaxConns: cfg.DBPoolMax,
	})
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	queryLimiter, err := ratelimit.NewFixedWindowLimiter(redisClient, "chatgate:ratelimit:query", cfg.QueryRateLimitPerMinute, time.Minute)
	if err != nil {
		log.Fatalf("failed to init rate limiter: %v", err)
	}

	tokens, err := sessiontoken.New(sessiontoken.Options{
		Secret:     cfg.JWTSecret,
		AccessTTL:  accessTTL,
		RefreshTTL: refreshTTL,
		Leeway:     leeway,
	})
	if err != nil {
		log.Fatalf("failed to init token service: %v", err)
	}

	identity, err := googletoken.NewVerifier(googletoken.Config{
		ClientID: cfg.GoogleClientID,
		JWKSURL:  cfg.GoogleJWKSURL,
		Leeway:   leeway,
	})
	if err != nil {
		log.Fatalf("failed to init identity verifier: %v", err)
	}

	gemini, err := llm.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		log.Fatalf("failed to init gemini client: %v", err)
	}

	appCore, err := app.New(app.Config{
		Store:    chatStore,
		Tokens:   tokens,
		Identity: identity,
		LLM:      gemini,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:           appCore,
		Tokens:        tokens,
		QueryLimiter:  queryLimiter,
		AllowedOrigin: cfg.AllowedOrigin,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
	if err := chatStore.Close(); err != nil {
		logger.Error("store close error", "err", err)
	}
	if err := redisClient.Close(); err != nil {
		logger.Error("redis close error", "err", err)
	}
	slog.Info("server stopped")
}
