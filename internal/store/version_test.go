package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/spf13/afero"

	"pageforge/internal/domain"
	"pageforge/internal/domain/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(afero.NewMemMapFs(), "data", logger)
}

func seedSnapshot() models.FileSnapshot {
	return models.FileSnapshot{
		Markup: "<html><body><h1>Hello</h1></body></html>\n",
		Styles: "body { background: white; }\n",
		Script: "console.log('hi');\n",
	}
}

func mustCreate(t *testing.T, s *Store, id string) {
	t.Helper()
	if _, err := s.CreateSession(context.Background(), id, 7, false, seedSnapshot()); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
}

func TestCreateSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "s1")

	sess, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.CurrentVersion != 0 {
		t.Errorf("expected version 0, got %d", sess.CurrentVersion)
	}
	if sess.LastTurn != 0 {
		t.Errorf("expected last turn 0, got %d", sess.LastTurn)
	}

	files, err := s.ReadSnapshot(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if files != seedSnapshot() {
		t.Error("version 0 snapshot does not match the seed")
	}

	if _, err := s.CreateSession(ctx, "s1", 7, false, seedSnapshot()); err == nil {
		t.Error("expected error creating a duplicate session")
	}
}

func TestInitNextVersionIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "s1")

	first, err := s.InitNextVersion(ctx, "s1")
	if err != nil {
		t.Fatalf("InitNextVersion: %v", err)
	}
	if first != 1 {
		t.Fatalf("expected next version 1, got %d", first)
	}

	second, err := s.InitNextVersion(ctx, "s1")
	if err != nil {
		t.Fatalf("InitNextVersion (second): %v", err)
	}
	if second != first {
		t.Errorf("expected the same version on repeat call, got %d then %d", first, second)
	}

	// HEAD must not move until commit.
	sess, _ := s.GetSession(ctx, "s1")
	if sess.CurrentVersion != 0 {
		t.Errorf("InitNextVersion moved HEAD to %d", sess.CurrentVersion)
	}
}

func TestCommitFiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "s1")

	t.Run("requires init", func(t *testing.T) {
		var notInit *domain.NotInitializedError
		_, err := s.CommitFiles(ctx, "s1", seedSnapshot(), 1)
		if !errors.As(err, &notInit) {
			t.Fatalf("expected NotInitializedError, got %v", err)
		}
	})

	t.Run("advances head monotonically", func(t *testing.T) {
		target, err := s.InitNextVersion(ctx, "s1")
		if err != nil {
			t.Fatalf("InitNextVersion: %v", err)
		}
		edited := seedSnapshot().Set(models.FileStyles, "body { background: blue; }\n")
		sess, err := s.CommitFiles(ctx, "s1", edited, target)
		if err != nil {
			t.Fatalf("CommitFiles: %v", err)
		}
		if sess.CurrentVersion != 1 {
			t.Fatalf("expected HEAD 1, got %d", sess.CurrentVersion)
		}

		// Re-committing an old version must not move HEAD back.
		sess, err = s.CommitFiles(ctx, "s1", seedSnapshot(), 0)
		if err != nil {
			t.Fatalf("CommitFiles (old version): %v", err)
		}
		if sess.CurrentVersion != 1 {
			t.Errorf("HEAD regressed to %d", sess.CurrentVersion)
		}
	})
}

func TestReadSnapshotBeyondHead(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "s1")

	var exceeds *domain.VersionExceedsHeadError
	_, err := s.ReadSnapshot(context.Background(), "s1", 3)
	if !errors.As(err, &exceeds) {
		t.Fatalf("expected VersionExceedsHeadError, got %v", err)
	}
}

func TestEditHistoricalFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "s1")

	// Advance HEAD to 2 through two ordinary commits.
	for i := 0; i < 2; i++ {
		target, err := s.InitNextVersion(ctx, "s1")
		if err != nil {
			t.Fatalf("InitNextVersion: %v", err)
		}
		files := seedSnapshot().Set(models.FileMarkup, "<html><body>v</body></html>\n")
		if _, err := s.CommitFiles(ctx, "s1", files, target); err != nil {
			t.Fatalf("CommitFiles: %v", err)
		}
	}

	headBefore, err := s.ReadSnapshot(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("ReadSnapshot(2): %v", err)
	}

	const edited = "body { color: red; }\n"
	if err := s.EditHistoricalFile(ctx, "s1", 0, models.FileStyles, edited); err != nil {
		t.Fatalf("EditHistoricalFile: %v", err)
	}

	v0, err := s.ReadSnapshot(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("ReadSnapshot(0): %v", err)
	}
	if v0.Styles != edited {
		t.Errorf("version 0 styles = %q, want %q", v0.Styles, edited)
	}

	headAfter, err := s.ReadSnapshot(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("ReadSnapshot(2) after edit: %v", err)
	}
	if headAfter != headBefore {
		t.Error("editing version 0 changed the HEAD snapshot")
	}

	if err := s.EditHistoricalFile(ctx, "s1", 5, models.FileStyles, edited); err == nil {
		t.Error("expected error editing beyond HEAD")
	}
}

func TestCloneSubtree(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "src")

	target, _ := s.InitNextVersion(ctx, "src")
	edited := seedSnapshot().Set(models.FileScript, "console.log('v1');\n")
	if _, err := s.CommitFiles(ctx, "src", edited, target); err != nil {
		t.Fatalf("CommitFiles: %v", err)
	}

	t.Run("copies are byte-identical", func(t *testing.T) {
		if err := s.CloneSubtree(ctx, "src", "dst", 1); err != nil {
			t.Fatalf("CloneSubtree: %v", err)
		}
		if _, err := s.AdoptClone(ctx, "dst", 3, false, 1); err != nil {
			t.Fatalf("AdoptClone: %v", err)
		}

		for v := 0; v <= 1; v++ {
			want, err := s.ReadSnapshot(ctx, "src", v)
			if err != nil {
				t.Fatalf("ReadSnapshot(src, %d): %v", v, err)
			}
			got, err := s.ReadSnapshot(ctx, "dst", v)
			if err != nil {
				t.Fatalf("ReadSnapshot(dst, %d): %v", v, err)
			}
			if got != want {
				t.Errorf("version %d differs between source and clone", v)
			}
		}
	})

	t.Run("source is untouched", func(t *testing.T) {
		sess, err := s.GetSession(ctx, "src")
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		if sess.CurrentVersion != 1 {
			t.Errorf("source HEAD moved to %d", sess.CurrentVersion)
		}
	})

	t.Run("rejects cut beyond head", func(t *testing.T) {
		var invalid *domain.CloneSourceInvalidError
		err := s.CloneSubtree(ctx, "src", "dst2", 9)
		if !errors.As(err, &invalid) {
			t.Fatalf("expected CloneSourceInvalidError, got %v", err)
		}
	})
}

func TestSessionHydratesFromDisk(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fs := afero.NewMemMapFs()
	ctx := context.Background()

	s := New(fs, "data", logger)
	mustCreate(t, s, "s1")
	target, _ := s.InitNextVersion(ctx, "s1")
	if _, err := s.CommitFiles(ctx, "s1", seedSnapshot(), target); err != nil {
		t.Fatalf("CommitFiles: %v", err)
	}

	// A fresh store over the same filesystem plays the restart.
	reopened := New(fs, "data", logger)
	sess, err := reopened.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession after reopen: %v", err)
	}
	if sess.CurrentVersion != 1 {
		t.Errorf("expected HEAD 1 after reopen, got %d", sess.CurrentVersion)
	}
}

func TestDeleteSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "s1")

	if err := s.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := s.GetSession(ctx, "s1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not found after delete, got %v", err)
	}
}
