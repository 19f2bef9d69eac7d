package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"userhub/internal/config"
)

// NewPool construye y devuelve un pool de conexiones configurado.
func NewPool(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second
	poolCfg.ConnConfig.ConnectTimeout = 5 * time.Second

	if logger != nil {
		logger.Info("database target", TargetFields(poolCfg)...)
	}

	return pgxpool.NewWithConfig(ctx, poolCfg)
}

// TargetFields describe el destino de conexión sin exponer el password.
func TargetFields(poolCfg *pgxpool.Config) []zap.Field {
	conn := poolCfg.ConnConfig
	return []zap.Field{
		zap.String("host", conn.Host),
		zap.Uint16("port", conn.Port),
		zap.String("database", conn.Database),
		zap.String("user", conn.User),
		zap.Bool("tls", conn.TLSConfig != nil),
	}
}

// Ping verifica conectividad con la base de datos.
func Ping(ctx context.Context, pool *pgxpool.Pool) error {
	return pool.Ping(ctx)
}
