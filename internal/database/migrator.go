// migrator.go — 基于 schema_version 表的文件式 SQL 迁移。
package database

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/sea922/codestudio/pkg/errors"
	"github.com/sea922/codestudio/pkg/logger"
)

// Migrate 按文件名顺序执行 dir 下尚未应用的 .sql 脚本。
// 每个脚本在单独事务内执行并写入 schema_version, 失败即中止后续脚本。
// 目录不存在视为无迁移, 直接返回 nil。
func Migrate(ctx context.Context, pool *pgxpool.Pool, dir string) error {
	if pool == nil {
		return apperrors.New("Migrate", "pool is required")
	}

	if err := ensureVersionTable(ctx, pool); err != nil {
		return err
	}

	scripts, err := listScripts(dir)
	if err != nil {
		return err
	}
	if scripts == nil {
		logger.Info("no migrations directory found, skipping")
		return nil
	}

	done, err := appliedVersions(ctx, pool)
	if err != nil {
		return err
	}

	var ran int
	for _, name := range scripts {
		if done[name] {
			continue
		}
		if err := runScript(ctx, pool, filepath.Join(dir, name)); err != nil {
			return err
		}
		logger.Info("migration applied", "version", name)
		ran++
	}
	if ran > 0 {
		logger.Info("migrate: applied pending migrations", logger.FieldCount, ran)
	}
	return nil
}

func ensureVersionTable(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`)
	if err != nil {
		return apperrors.Wrap(err, "Migrate", "create schema_version table")
	}
	return nil
}

// listScripts 返回排序后的 .sql 文件名。目录不存在时返回 (nil, nil)。
func listScripts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.Wrap(err, "Migrate", "read migrations dir")
	}
	scripts := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			scripts = append(scripts, e.Name())
		}
	}
	sort.Strings(scripts)
	return scripts, nil
}

func appliedVersions(ctx context.Context, pool *pgxpool.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, `SELECT version FROM schema_version`)
	if err != nil {
		return nil, apperrors.Wrap(err, "Migrate", "query schema_version")
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, apperrors.Wrap(err, "Migrate", "scan schema_version")
		}
		done[version] = true
	}
	return done, rows.Err()
}

// runScript 在单事务内执行脚本并记录版本。
func runScript(ctx context.Context, pool *pgxpool.Pool, path string) error {
	name := filepath.Base(path)
	body, err := os.ReadFile(path)
	if err != nil {
		return apperrors.Wrapf(err, "Migrate", "read migration %s", name)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return apperrors.Wrapf(err, "Migrate", "begin tx for %s", name)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, string(body)); err != nil {
		return apperrors.Wrapf(err, "Migrate", "exec migration %s", name)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, name); err != nil {
		return apperrors.Wrapf(err, "Migrate", "record migration %s", name)
	}
	if err := tx.Commit(ctx); err != nil {
		return apperrors.Wrapf(err, "Migrate", "commit migration %s", name)
	}
	return nil
}
