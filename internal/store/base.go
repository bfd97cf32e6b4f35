// base.go — store 层共享的连接池基底。
package store

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// BaseStore 持有 pgx 连接池, 各 store 以嵌入方式复用。
// 数据库未配置时应用不构造任何 store, 因此 pool 恒非 nil。
type BaseStore struct{ pool *pgxpool.Pool }

// NewBaseStore 以给定连接池构造基底。
func NewBaseStore(pool *pgxpool.Pool) BaseStore { return BaseStore{pool: pool} }

// Pool 暴露连接池给嵌入方。
func (b BaseStore) Pool() *pgxpool.Pool { return b.pool }
