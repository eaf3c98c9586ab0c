//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"ai-analysis-pipeline/internal/domain"
	"ai-analysis-pipeline/internal/domain/model"
)

func TestSubjectRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	ctx := context.Background()
	repo := NewSubjectRepo(testPool)
	targets := NewNotificationTargetRepo(testPool)

	t.Run("should update status and report missing subjects", func(t *testing.T) {
		cleanup(t)
		if err := repo.Save(ctx, nil, &model.Subject{ID: "video-1", AccountID: "acct-1"}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if err := repo.UpdateStatus(ctx, nil, "video-1", model.SubjectProcessing); err != nil {
			t.Fatalf("UpdateStatus failed: %v", err)
		}
		s, err := repo.FindByID(ctx, nil, "video-1")
		if err != nil || s.Status != model.SubjectProcessing || s.AccountID != "acct-1" {
			t.Fatalf("unexpected subject %+v (%v)", s, err)
		}
		if err := repo.UpdateStatus(ctx, nil, "ghost", model.SubjectFailed); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("should fail only stale processing subjects", func(t *testing.T) {
		cleanup(t)
		for _, id := range []string{"stale", "fresh", "done"} {
			if err := repo.Save(ctx, nil, &model.Subject{ID: id, AccountID: "acct-1"}); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
		}
		_ = repo.UpdateStatus(ctx, nil, "stale", model.SubjectProcessing)
		_ = repo.UpdateStatus(ctx, nil, "done", model.SubjectComplete)
		if _, err := testPool.Exec(ctx, `UPDATE subjects SET updated_at = NOW() - INTERVAL '2 hours' WHERE id IN ('stale', 'done')`); err != nil {
			t.Fatalf("backdate failed: %v", err)
		}
		_ = repo.UpdateStatus(ctx, nil, "fresh", model.SubjectProcessing)

		ids, err := repo.FailStale(ctx, time.Now().Add(-time.Hour))
		if err != nil {
			t.Fatalf("FailStale failed: %v", err)
		}
		if len(ids) != 1 || ids[0] != "stale" {
			t.Fatalf("expected only 'stale', got %v", ids)
		}
		if s, _ := repo.FindByID(ctx, nil, "fresh"); s.Status != model.SubjectProcessing {
			t.Errorf("fresh subject should stay processing, got %s", s.Status)
		}
	})

	t.Run("should link and resolve telegram chats", func(t *testing.T) {
		cleanup(t)
		if _, err := targets.TelegramChatID(ctx, nil, "acct-1"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if err := targets.Link(ctx, nil, "acct-1", 4242); err != nil {
			t.Fatalf("Link failed: %v", err)
		}
		if err := targets.Link(ctx, nil, "acct-1", 5151); err != nil {
			t.Fatalf("relink failed: %v", err)
		}
		if id, err := targets.TelegramChatID(ctx, nil, "acct-1"); err != nil || id != 5151 {
			t.Errorf("expected 5151, got %d (%v)", id, err)
		}
	})
}
