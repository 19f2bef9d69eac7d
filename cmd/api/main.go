package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"userhub/internal/config"
	"userhub/internal/db"
	apihttp "userhub/internal/http"
	"userhub/internal/query"
	"userhub/internal/repository"
	"userhub/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg)
	defer logger.Sync()

	jwtSvc, err := service.NewJWTService(service.JWTOptions{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL(),
	})
	if err != nil {
		logger.Fatal("jwt config", zap.Error(err))
	}
	passwordSvc, err := service.NewPasswordService(cfg.BcryptCost)
	if err != nil {
		logger.Fatal("password config", zap.Error(err))
	}

	var newStore repository.UserStoreFactory
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory store; data is lost on restart")
		newStore = repository.NewMemoryUserStoreFactory(repository.NewMemoryUserTable())
	default:
		pool, err := db.NewPool(ctx, cfg, logger)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer pool.Close()

		if err := db.Ping(ctx, pool); err != nil {
			logger.Fatal("db ping", zap.Error(err))
		}
		if cfg.DBAutoMigrate {
			if err := db.Migrate(ctx, pool); err != nil {
				logger.Fatal("db migrate", zap.Error(err))
			}
		}
		newStore = repository.NewPgUserStoreFactory(pool)
	}

	limiter := service.NewLoginRateLimiter(cfg.LoginRateWindow(), cfg.LoginRateMaxAttempts)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()

		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed, using in-memory login limiter", zap.Error(err))
		} else {
			limiter = service.NewRedisLoginRateLimiter(redisClient, cfg.LoginRateWindow(), cfg.LoginRateMaxAttempts)
		}
		cancel()
	}

	processor := query.NewProcessor(cfg.DefaultPageSize, cfg.MaxPageSize)
	userSvc := service.NewUserService(logger, newStore, passwordSvc, jwtSvc, limiter, processor)
	userHandler := apihttp.NewUserHandler(logger, userSvc)
	router := apihttp.NewRouter(logger, userHandler, jwtSvc)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("starting server",
		zap.String("port", cfg.HTTPPort),
		zap.String("store", cfg.StoreDriver),
	)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) *zap.Logger {
	if cfg.IsDevelopment() {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	logger, _ := zap.NewProduction()
	return logger
}
