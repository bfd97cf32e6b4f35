// session_output.go — claude 会话输出持久化。
//
// 每个 claude 会话一行记录, output 列按行追加 stream-json 原始输出,
// 重启后 Processor.LoadFromStorage 从这里整块回放。
package store

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/sea922/codestudio/pkg/errors"
)

// SessionOutput 单个会话的输出记录。
type SessionOutput struct {
	ID        int64     `db:"id" json:"id"`
	SessionID string    `db:"session_id" json:"session_id"`
	ProjectID string    `db:"project_id" json:"project_id"`
	Output    string    `db:"output" json:"output"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type SessionOutputStore struct{ BaseStore }

func NewSessionOutputStore(pool *pgxpool.Pool) *SessionOutputStore {
	return &SessionOutputStore{NewBaseStore(pool)}
}

// AppendLine 向指定会话的记录追加一行原始输出 (不存在则创建记录)。
func (s *SessionOutputStore) AppendLine(ctx context.Context, sessionID, projectID, raw string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO session_outputs (session_id, project_id, output, updated_at)
		VALUES ($1, $2, $3 || E'\n', NOW())
		ON CONFLICT (session_id) DO UPDATE SET
			output = session_outputs.output || EXCLUDED.output,
			project_id = CASE WHEN session_outputs.project_id = '' THEN EXCLUDED.project_id
			                  ELSE session_outputs.project_id END,
			updated_at = NOW()
	`, sessionID, projectID, raw)
	if err != nil {
		return apperrors.Wrap(err, "SessionOutputStore.AppendLine", "append output")
	}
	return nil
}

// GetSessionOutput 按主键取回整块输出。未找到返回 ErrNotFound。
// 实现 stream.OutputStore。
func (s *SessionOutputStore) GetSessionOutput(ctx context.Context, id int64) (string, error) {
	var output string
	err := s.pool.QueryRow(ctx, "SELECT output FROM session_outputs WHERE id = $1", id).Scan(&output)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return "", apperrors.Wrapf(apperrors.ErrNotFound, "SessionOutputStore.GetSessionOutput", "session output %d", id)
		}
		return "", apperrors.Wrap(err, "SessionOutputStore.GetSessionOutput", "query output")
	}
	return output, nil
}

// GetBySessionID 按 claude 会话 ID 查找记录。未找到返回 nil。
func (s *SessionOutputStore) GetBySessionID(ctx context.Context, sessionID string) (*SessionOutput, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, project_id, output, created_at, updated_at
		FROM session_outputs WHERE session_id = $1
	`, sessionID)
	if err != nil {
		return nil, apperrors.Wrap(err, "SessionOutputStore.GetBySessionID", "query output")
	}
	items, err := pgx.CollectRows(rows, pgx.RowToStructByName[SessionOutput])
	if err != nil {
		return nil, apperrors.Wrap(err, "SessionOutputStore.GetBySessionID", "scan output")
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// List 按更新时间倒序列出最近的会话记录 (不含 output 正文)。
func (s *SessionOutputStore) List(ctx context.Context, limit int) ([]SessionOutput, error) {
	if limit <= 0 || limit > 2000 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, project_id, '' AS output, created_at, updated_at
		FROM session_outputs ORDER BY updated_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "SessionOutputStore.List", "query outputs")
	}
	items, err := pgx.CollectRows(rows, pgx.RowToStructByName[SessionOutput])
	if err != nil {
		return nil, apperrors.Wrap(err, "SessionOutputStore.List", "scan outputs")
	}
	return items, nil
}

// Delete 删除一个会话的输出记录。
func (s *SessionOutputStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM session_outputs WHERE session_id = $1", sessionID)
	if err != nil {
		return apperrors.Wrap(err, "SessionOutputStore.Delete", "delete output")
	}
	return nil
}
