// preference.go — ui_preferences 表的 JSONB KV 存取。
package store

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/sea922/codestudio/pkg/errors"
)

// PreferenceStore 界面偏好与小块应用状态的 KV 存储。
// MCP 工具校验结果 (mcp_server_tools) 也走这里。
type PreferenceStore struct{ BaseStore }

func NewPreferenceStore(pool *pgxpool.Pool) *PreferenceStore {
	return &PreferenceStore{NewBaseStore(pool)}
}

// GetRaw 取回键对应的原始 JSON, 键不存在返回 (nil, nil)。
// 调用方要解码到具体类型时用这个, 省掉经由 any 的二次转换。
func (s *PreferenceStore) GetRaw(ctx context.Context, key string) (json.RawMessage, error) {
	var val json.RawMessage
	err := s.pool.QueryRow(ctx, "SELECT value FROM ui_preferences WHERE key = $1", key).Scan(&val)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "PreferenceStore.GetRaw", "query preference")
	}
	return val, nil
}

// Get 取回键对应的值并解码成 any, 键不存在返回 (nil, nil)。
func (s *PreferenceStore) Get(ctx context.Context, key string) (any, error) {
	raw, err := s.GetRaw(ctx, key)
	if err != nil || raw == nil {
		return nil, err
	}
	var result any
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, apperrors.Wrap(err, "PreferenceStore.Get", "unmarshal preference")
	}
	return result, nil
}

// Set 序列化 value 并 upsert 到 key。
func (s *PreferenceStore) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return apperrors.Wrap(err, "PreferenceStore.Set", "marshal preference")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO ui_preferences (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = NOW()
	`, key, data)
	if err != nil {
		return apperrors.Wrap(err, "PreferenceStore.Set", "upsert preference")
	}
	return nil
}

// GetAll 取回全部偏好。个别行的值损坏时跳过该行, 不让整个读取失败。
func (s *PreferenceStore) GetAll(ctx context.Context) (map[string]any, error) {
	rows, err := s.pool.Query(ctx, "SELECT key, value FROM ui_preferences")
	if err != nil {
		return nil, apperrors.Wrap(err, "PreferenceStore.GetAll", "query preferences")
	}
	defer rows.Close()

	result := make(map[string]any)
	for rows.Next() {
		var (
			key string
			raw json.RawMessage
		)
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, apperrors.Wrap(err, "PreferenceStore.GetAll", "scan preference")
		}
		var val any
		if err := json.Unmarshal(raw, &val); err != nil {
			continue
		}
		result[key] = val
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "PreferenceStore.GetAll", "iterate preferences")
	}
	return result, nil
}
