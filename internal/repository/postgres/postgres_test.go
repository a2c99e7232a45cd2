package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/feed/db"
	"github.com/splax/feed/internal/app/migrate"
	"github.com/splax/feed/internal/domain"
	"github.com/splax/feed/internal/repository"
)

// newTestRepository connects to DATABASE_URL and applies the embedded
// migrations. Tests are skipped when it is unset.
func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	runner, err := migrate.New(pool, dsn, db.Source(db.EmbeddedDir), db.EmbeddedDir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("migrate runner: %v", err)
	}
	if err := runner.Ensure(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(pool)
}

func seedUser(t *testing.T, repo *Repository) *domain.User {
	t.Helper()
	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        uuid.NewString() + "@example.com",
		Name:         "Tester",
		PasswordHash: []byte("hash"),
		Status:       domain.DefaultStatus,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := repo.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func newPost(creator *domain.User) *domain.Post {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Post{
		ID:        uuid.NewString(),
		Title:     "Integration",
		Content:   "Stored in postgres",
		ImageURL:  "images/" + creator.ID + "/a.png",
		Creator:   creator.Creator(),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCreatePostLinksCreator(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	user := seedUser(t, repo)

	post := newPost(user)
	if err := repo.CreatePostForUser(ctx, post); err != nil {
		t.Fatalf("create post: %v", err)
	}
	got, err := repo.GetPostByID(ctx, post.ID)
	if err != nil {
		t.Fatalf("get post: %v", err)
	}
	if got.Title != post.Title || got.Creator != user.Creator() || got.Version != 1 {
		t.Fatalf("unexpected post %+v", got)
	}
	loaded, err := repo.GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if len(loaded.PostIDs) != 1 || loaded.PostIDs[0] != post.ID {
		t.Fatalf("post ids = %v", loaded.PostIDs)
	}
}

func TestCreatePostForUnknownUserWritesNothing(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	post := newPost(&domain.User{ID: uuid.NewString(), Name: "Ghost"})

	if err := repo.CreatePostForUser(ctx, post); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := repo.GetPostByID(ctx, post.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("post persisted after failed create: %v", err)
	}
}

func TestUpdatePostChecksVersion(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	post := newPost(seedUser(t, repo))
	if err := repo.CreatePostForUser(ctx, post); err != nil {
		t.Fatalf("create post: %v", err)
	}

	stale := *post
	post.Title = "First writer"
	if err := repo.UpdatePost(ctx, post); err != nil {
		t.Fatalf("update: %v", err)
	}
	if post.Version != 2 {
		t.Fatalf("version = %d, want 2", post.Version)
	}

	stale.Title = "Second writer"
	if err := repo.UpdatePost(ctx, &stale); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	got, _ := repo.GetPostByID(ctx, post.ID)
	if got.Title != "First writer" {
		t.Fatalf("stale write applied: %q", got.Title)
	}

	missing := newPost(&domain.User{ID: "nobody"})
	if err := repo.UpdatePost(ctx, missing); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeletePostUnlinksCreator(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	user := seedUser(t, repo)
	post := newPost(user)
	if err := repo.CreatePostForUser(ctx, post); err != nil {
		t.Fatalf("create post: %v", err)
	}

	if err := repo.DeletePostForUser(ctx, post.ID, user.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.GetPostByID(ctx, post.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("post still present: %v", err)
	}
	loaded, _ := repo.GetUserByID(ctx, user.ID)
	if len(loaded.PostIDs) != 0 {
		t.Fatalf("user still lists %v", loaded.PostIDs)
	}
	if err := repo.DeletePostForUser(ctx, post.ID, user.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("second delete: expected ErrNotFound, got %v", err)
	}
}
