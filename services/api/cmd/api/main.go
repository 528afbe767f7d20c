package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fileinasnap/internal/ratelimit"
	"fileinasnap/internal/usertoken"
	"fileinasnap/internal/util"
	"fileinasnap/pkg/plans"
	"fileinasnap/pkg/storage"
	"fileinasnap/pkg/store"
	"fileinasnap/services/api/internal/app"
	"fileinasnap/services/api/internal/config"
	"fileinasnap/services/api/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(util.LogOptions{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}
	presignExpiry, err := config.ParsePresignExpiry(cfg.PresignExpiry)
	if err != nil {
		log.Fatalf("failed to parse presign expiry: %v", err)
	}

	ctx := context.Background()

	verifierCfg, err := usertoken.ProviderSettings{
		Provider:    usertoken.Provider(cfg.AuthProvider),
		Auth0Domain: cfg.Auth0Domain,
		SupabaseURL: cfg.SupabaseURL,
		JWKSURL:     cfg.JWKSURL,
		Issuer:      cfg.JWTIssuer,
		Audience:    cfg.JWTAudience,
		Leeway:      jwtLeeway,
	}.VerifierConfig()
	if err != nil {
		log.Fatalf("failed to resolve auth provider: %v", err)
	}
	verifierCfg.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	tokenVerifier, err := usertoken.NewVerifier(verifierCfg)
	if err != nil {
		log.Fatalf("failed to init jwks verifier: %v", err)
	}
	prefetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := tokenVerifier.Prefetch(prefetchCtx); err != nil {
		logger.Warn("jwks prefetch failed; keys will be fetched on first request", "jwks_url", verifierCfg.JWKSURL, "err", err)
	}
	cancel()

	metaStore, err := store.NewGormStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init metadata store: %v", err)
	}
	defer metaStore.Close()

	objects, err := newObjectStore(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init object store: %v", err)
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		log.Fatalf("failed to ensure bucket %s: %v", cfg.StorageBucket, err)
	}

	catalog := plans.Default()
	if cfg.PlansFile != "" {
		catalog, err = plans.Load(cfg.PlansFile)
		if err != nil {
			log.Fatalf("failed to load plans: %v", err)
		}
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.RedisAddr != "" {
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "fileinasnap:api:ratelimit", 60, time.Minute)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
		defer limiter.Close()
	}

	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	appCore, err := app.New(app.Config{
		Store:            metaStore,
		Objects:          objects,
		Plans:            catalog,
		PresignExpiry:    presignExpiry,
		MaxUploadBytes:   cfg.MaxUploadBytes,
		AllowedMimeTypes: cfg.AllowedMimeTypes,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                       appCore,
		Tokens:                    tokenVerifier,
		Limiter:                   limiter,
		WriteRateLimitPerMinute:   cfg.WriteRateLimitPerMinute,
		AuthFailureLimitPerMinute: cfg.AuthFailureRateLimitPerMinute,
		EnforcePermissions:        cfg.EnforcePermissions,
		AllowedOrigins:            cfg.CORSAllowedOrigins,
		TrustedProxies:            trustedProxies,
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

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr, "auth_provider", cfg.AuthProvider, "storage_driver", cfg.StorageDriver)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
		}
	case sig := <-quit:
		logger.Info("shutdown signal received", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "err", err)
		}
	}
}

func newObjectStore(ctx context.Context, cfg config.FileConfig) (storage.ObjectStore, error) {
	storageCfg := storage.Config{
		Endpoint:  cfg.StorageEndpoint,
		Region:    cfg.StorageRegion,
		AccessKey: cfg.StorageAccessKey,
		SecretKey: cfg.StorageSecretKey,
		Bucket:    cfg.StorageBucket,
		UseSSL:    cfg.StorageUseSSL,
	}
	if cfg.StorageDriver == "s3" {
		return storage.NewS3Store(ctx, storageCfg)
	}
	return storage.NewMinioStore(storageCfg)
}
