// cmd/migrate — 手动执行数据库迁移 (服务启动时也会自动迁移)。
package main

import (
	"context"
	"flag"

	"github.com/sea922/codestudio/internal/config"
	"github.com/sea922/codestudio/internal/database"
	"github.com/sea922/codestudio/pkg/logger"
)

func main() {
	dir := flag.String("dir", "./migrations", "migrations directory")
	flag.Parse()

	cfg := config.Load()
	logger.Init(cfg.LogLevel)

	if cfg.PostgresConnStr == "" {
		logger.Fatal("POSTGRES_CONNECTION_STRING not set")
	}

	ctx := context.Background()
	pool, err := database.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("database init failed", logger.FieldError, err)
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, *dir); err != nil {
		logger.Fatal("migration failed", logger.FieldError, err)
	}
	logger.Info("migration complete")
}
