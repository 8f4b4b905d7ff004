package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/codecollab/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "collab.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSQLite_FindProjectMissing(t *testing.T) {
	repo := newTestStore(t)

	p, err := repo.FindProject(context.Background(), "64b7f0c2a1d3e4f5a6b7c8d9")
	if err != nil {
		t.Fatalf("FindProject failed: %v", err)
	}
	if p != nil {
		t.Errorf("Expected nil project, got %+v", p)
	}
}

func TestSQLite_UpsertAndFindProject(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	want := &domain.Project{
		ID:       "64b7f0c2a1d3e4f5a6b7c8d9",
		Name:     "demo",
		Users:    []string{"u1", "u2"},
		FileTree: map[string]string{"index.js": "console.log(1)"},
	}
	if err := repo.UpsertProject(ctx, want); err != nil {
		t.Fatalf("UpsertProject failed: %v", err)
	}

	got, err := repo.FindProject(ctx, want.ID)
	if err != nil || got == nil {
		t.Fatalf("FindProject failed: %v", err)
	}
	if got.Name != "demo" || len(got.Users) != 2 || got.FileTree["index.js"] != "console.log(1)" {
		t.Errorf("Unexpected project: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("Expected created_at to be set")
	}
}

func TestSQLite_SaveFileTree(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	p := &domain.Project{ID: "64b7f0c2a1d3e4f5a6b7c8d9", Name: "demo"}
	if err := repo.UpsertProject(ctx, p); err != nil {
		t.Fatalf("UpsertProject failed: %v", err)
	}

	tree := map[string]string{"a.js": "1", "b.js": "2"}
	if err := repo.SaveFileTree(ctx, p.ID, tree); err != nil {
		t.Fatalf("SaveFileTree failed: %v", err)
	}

	got, err := repo.FindProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("FindProject failed: %v", err)
	}
	if len(got.FileTree) != 2 || got.FileTree["b.js"] != "2" {
		t.Errorf("Unexpected file tree: %v", got.FileTree)
	}
}

func TestSQLite_SaveFileTreeUnknownProject(t *testing.T) {
	repo := newTestStore(t)

	err := repo.SaveFileTree(context.Background(), "000000000000000000000000", map[string]string{})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSQLite_RevokeToken(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	revoked, err := repo.IsRevoked(ctx, "tok")
	if err != nil || revoked {
		t.Fatalf("Expected fresh token not revoked, got %v %v", revoked, err)
	}

	if err := repo.RevokeToken(ctx, "tok", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("RevokeToken failed: %v", err)
	}
	revoked, err = repo.IsRevoked(ctx, "tok")
	if err != nil || !revoked {
		t.Errorf("Expected token to be revoked, got %v %v", revoked, err)
	}

	if err := repo.RevokeToken(ctx, "tok", time.Now().Add(time.Hour)); err != nil {
		t.Errorf("Revoking twice should succeed, got %v", err)
	}
}

func TestSQLite_CleanupRevocations(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.RevokeToken(ctx, "old", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("RevokeToken failed: %v", err)
	}
	if err := repo.RevokeToken(ctx, "live", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("RevokeToken failed: %v", err)
	}

	revoked, _ := repo.IsRevoked(ctx, "old")
	if revoked {
		t.Error("Expired revocation should not be reported")
	}

	n, err := repo.CleanupRevocations(ctx)
	if err != nil {
		t.Fatalf("CleanupRevocations failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 row cleaned, got %d", n)
	}
}

func TestIsConflict(t *testing.T) {
	if !isConflict(errors.New("SQLITE_BUSY: database busy")) {
		t.Error("Expected SQLITE_BUSY to be a conflict")
	}
	if !isConflict(fmt.Errorf("exec: %w", errors.New("database is locked"))) {
		t.Error("Expected locked error to be a conflict")
	}
	if isConflict(nil) || isConflict(errors.New("syntax error")) {
		t.Error("Expected other errors not to be conflicts")
	}
}

func TestWithRetry(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), "test", func() error {
		calls++
		if calls < 2 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Errorf("Expected success on second attempt, got err=%v calls=%d", err, calls)
	}

	calls = 0
	permanent := errors.New("constraint failed")
	err = withRetry(context.Background(), "test", func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Errorf("Expected immediate failure, got err=%v calls=%d", err, calls)
	}
}
