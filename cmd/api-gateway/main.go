package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "github.com/noah-isme/worklog-auth/api/swagger"
	"github.com/noah-isme/worklog-auth/internal/handler"
	"github.com/noah-isme/worklog-auth/internal/middleware"
	"github.com/noah-isme/worklog-auth/internal/repository"
	"github.com/noah-isme/worklog-auth/internal/service"
	"github.com/noah-isme/worklog-auth/pkg/cache"
	"github.com/noah-isme/worklog-auth/pkg/config"
	"github.com/noah-isme/worklog-auth/pkg/database"
	"github.com/noah-isme/worklog-auth/pkg/hash"
	"github.com/noah-isme/worklog-auth/pkg/jobs"
	"github.com/noah-isme/worklog-auth/pkg/logger"
	corsmiddleware "github.com/noah-isme/worklog-auth/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/worklog-auth/pkg/middleware/requestid"
)

// @title Worklog Auth API
// @version 1.0.0
// @description Session, access token and API key authentication.
// @BasePath /
// @schemes http

const (
	warmupTimeout   = 30 * time.Second
	shutdownTimeout = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.IdentityCache.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, identity cache disabled", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	metrics := service.NewMetricsService()
	validate := validator.New()

	users := repository.NewUserRepository(db)
	sessions := repository.NewSessionRepository(db)
	roles := repository.NewRoleRepository(db)
	apiKeyRepo := repository.NewAPIKeyRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, "auth:")

	hasher := hash.NewHasher(cfg.Auth.BcryptCost, cfg.Auth.HashConcurrency)

	ring := service.NewSecretRing(service.SecretRingConfig{
		Rotation: cfg.Auth.SecretRotationInterval,
		MaxAge:   cfg.Auth.AccessTokenMaxAge,
		Logger:   logr,
		Metrics:  metrics,
	})
	if err := ring.Init(); err != nil {
		logr.Fatal("failed to generate signing secret", zap.Error(err))
	}

	registry := service.NewTokenRegistry(cfg.Auth.AccessTokenMaxAge, nil, metrics)
	roleCache := service.NewRoleCache(roles, logr, metrics)
	identities := service.NewIdentityCache(cacheRepo, users, metrics, cfg.IdentityCache.TTL, logr, redisClient != nil)

	apiKeys := service.NewAPIKeyService(apiKeyRepo, identities, roleCache, hasher, validate, logr, metrics, nil)
	reloadQueue := jobs.NewQueue("api_key_reload", apiKeys.HandleJob, jobs.QueueConfig{
		Workers:    1,
		BufferSize: 1,
		Logger:     logr,
	})
	reloadQueue.Start(ctx)
	defer reloadQueue.Stop()
	apiKeys.UseQueue(reloadQueue)

	authSvc := service.NewAuthService(service.AuthDependencies{
		Users:      users,
		Identities: identities,
		Sessions:   sessions,
		Hasher:     hasher,
		Ring:       ring,
		Registry:   registry,
		Roles:      roleCache,
		APIKeys:    apiKeys,
		Validator:  validate,
		Logger:     logr,
		Metrics:    metrics,
	}, service.AuthConfig{
		SessionMaxAge:    cfg.Auth.SessionMaxAge,
		UseCookies:       cfg.Auth.UseCookies,
		CooldownEnabled:  cfg.Auth.CooldownEnabled,
		CooldownSchedule: cfg.Auth.CooldownSchedule,
		ThrottleIdle:     cfg.Auth.ThrottleSweepAfter,
	})

	if err := warmup(ctx, roleCache, apiKeys); err != nil {
		logr.Fatal("failed to warm caches", zap.Error(err))
	}

	scheduler := jobs.NewScheduler(logr)
	if err := schedule(scheduler, cfg, roleCache, apiKeys, authSvc); err != nil {
		logr.Fatal("failed to schedule maintenance", zap.Error(err))
	}
	scheduler.Start()
	defer scheduler.Stop()

	tokens := middleware.TokenTransport{
		UseCookies:   cfg.Auth.UseCookies,
		Secure:       cfg.Auth.CookieSecure,
		Domain:       cfg.Auth.CookieDomain,
		CookieMaxAge: cfg.Auth.SessionMaxAge,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))
	r.Use(middleware.ClientIP(cfg.Auth.TrustProxyIP))

	deps := map[string]handler.Pinger{"postgres": db}
	if redisClient != nil {
		deps["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	metricsHandler := handler.NewMetricsHandler(metrics, deps)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	if cfg.Metrics.Enabled {
		r.GET("/metrics", metricsHandler.Prometheus)
	}

	handler.Routes{
		Auth:         handler.NewAuthHandler(authSvc, tokens),
		APIKeys:      handler.NewAPIKeyHandler(apiKeys),
		Authenticate: middleware.Authenticate(authSvc, tokens),
	}.Register(r.Group(cfg.APIPrefix))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

// warmup loads the role table and the API key set concurrently. Both must
// succeed before the server accepts requests.
func warmup(ctx context.Context, roles *service.RoleCache, apiKeys *service.APIKeyService) error {
	ctx, cancel := context.WithTimeout(ctx, warmupTimeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := roles.Reload(ctx); err != nil {
			return fmt.Errorf("roles: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := apiKeys.Reload(ctx); err != nil {
			return fmt.Errorf("api keys: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func schedule(s *jobs.Scheduler, cfg *config.Config, roles *service.RoleCache, apiKeys *service.APIKeyService, auth *service.AuthService) error {
	tasks := []struct {
		name     string
		interval time.Duration
		task     jobs.Task
	}{
		{"api_keys.reload", cfg.APIKeys.ReloadInterval, apiKeys.Reload},
		{"roles.reload", cfg.Roles.ReloadInterval, roles.Reload},
		{"secrets.rotate", cfg.Auth.AccessTokenMaxAge, auth.RotateSecrets},
		{"throttle.sweep", time.Hour, auth.SweepThrottle},
		{"sessions.purge", time.Hour, auth.PurgeExpiredSessions},
	}
	for _, t := range tasks {
		if err := s.Every(t.name, t.interval, t.task); err != nil {
			return err
		}
	}
	return nil
}
