package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	apperrors "github.com/sea922/codestudio/pkg/errors"
)

func TestSessionOutputStore(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	store := NewSessionOutputStore(pool)
	ctx := context.Background()

	pool.Exec(ctx, "DELETE FROM session_outputs WHERE session_id LIKE 'test-%'")

	t.Run("AppendLine_CreatesThenAppends", func(t *testing.T) {
		sid := "test-append"
		if err := store.AppendLine(ctx, sid, "proj-1", `{"kind":"start"}`); err != nil {
			t.Fatalf("first append: %v", err)
		}
		if err := store.AppendLine(ctx, sid, "proj-1", `{"kind":"response"}`); err != nil {
			t.Fatalf("second append: %v", err)
		}

		rec, err := store.GetBySessionID(ctx, sid)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if rec == nil {
			t.Fatal("expected record")
		}
		want := "{\"kind\":\"start\"}\n{\"kind\":\"response\"}\n"
		if rec.Output != want {
			t.Errorf("output = %q, want %q", rec.Output, want)
		}
		if rec.ProjectID != "proj-1" {
			t.Errorf("project_id = %q", rec.ProjectID)
		}
	})

	t.Run("GetSessionOutput_ByPrimaryKey", func(t *testing.T) {
		sid := "test-pk"
		store.AppendLine(ctx, sid, "", `{"kind":"output","content":"hi"}`)

		rec, err := store.GetBySessionID(ctx, sid)
		if err != nil || rec == nil {
			t.Fatalf("get: rec=%v err=%v", rec, err)
		}

		blob, err := store.GetSessionOutput(ctx, rec.ID)
		if err != nil {
			t.Fatalf("get by pk: %v", err)
		}
		if !strings.Contains(blob, `"content":"hi"`) {
			t.Errorf("blob = %q", blob)
		}
	})

	t.Run("GetSessionOutput_Missing", func(t *testing.T) {
		_, err := store.GetSessionOutput(ctx, -1)
		if !errors.Is(err, apperrors.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("GetBySessionID_Missing", func(t *testing.T) {
		rec, err := store.GetBySessionID(ctx, "test-ghost")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec != nil {
			t.Errorf("expected nil, got %+v", rec)
		}
	})

	t.Run("List_NewestFirst", func(t *testing.T) {
		store.AppendLine(ctx, "test-list-a", "", "a")
		store.AppendLine(ctx, "test-list-b", "", "b")

		items, err := store.List(ctx, 50)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(items) == 0 {
			t.Fatal("expected at least one record")
		}
		for _, it := range items {
			if it.Output != "" {
				t.Errorf("List must not carry output bodies, got %q", it.Output)
			}
		}
	})

	t.Run("Delete", func(t *testing.T) {
		sid := "test-delete"
		store.AppendLine(ctx, sid, "", "x")
		if err := store.Delete(ctx, sid); err != nil {
			t.Fatalf("delete: %v", err)
		}
		rec, _ := store.GetBySessionID(ctx, sid)
		if rec != nil {
			t.Error("record should be gone")
		}
	})
}
