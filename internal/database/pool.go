// Package database 管理 PostgreSQL 连接池与 schema 迁移。
// 直接走 pgxpool 裸写 SQL, 不引入 ORM。
package database

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sea922/codestudio/internal/config"
	"github.com/sea922/codestudio/pkg/logger"
)

// NewPool 按配置建池并 Ping 验证连通性。连接串为空时直接报错,
// 可选的 schema 通过 AfterConnect 设置 search_path。
func NewPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.PostgresConnStr == "" {
		return nil, fmt.Errorf("POSTGRES_CONNECTION_STRING is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MinConns = clampConns(cfg.PostgresPoolMinSize, "PostgresPoolMinSize")
	poolCfg.MaxConns = clampConns(cfg.PostgresPoolMaxSize, "PostgresPoolMaxSize")
	poolCfg.ConnConfig.ConnectTimeout = time.Duration(cfg.PostgresPoolTimeoutSec) * time.Second

	// search_path 经 pgx.Identifier 清洗, 防注入
	if schema := cfg.PostgresSchema; schema != "" && schema != "public" {
		poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", pgx.Identifier{schema}.Sanitize()))
			return err
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info("postgres pool created",
		"min_conns", cfg.PostgresPoolMinSize,
		"max_conns", cfg.PostgresPoolMaxSize,
		"schema", cfg.PostgresSchema,
	)
	return pool, nil
}

// clampConns 把配置值收敛到 pgxpool 接受的 int32 非负区间。
func clampConns(v int, name string) int32 {
	switch {
	case v > math.MaxInt32:
		logger.Warn("pool config overflow, clamped to MaxInt32", "field", name, "value", v)
		return math.MaxInt32
	case v < 0:
		logger.Warn("pool config negative, clamped to 0", "field", name, "value", v)
		return 0
	default:
		return int32(v)
	}
}
