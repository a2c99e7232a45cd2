package repository

import (
	"context"

	"github.com/splax/feed/internal/domain"
)

// UserRepository persists accounts.
type UserRepository interface {
	// CreateUser inserts user, returning ErrConflict when the email is taken.
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	// GetUserByID returns the user with PostIDs in creation order.
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	UpdateUserStatus(ctx context.Context, id, status string) error
}

// PostRepository persists posts together with the owning user's post list.
type PostRepository interface {
	// CreatePostForUser inserts post and appends it to its creator's post list.
	// Returns ErrNotFound when the creator does not exist.
	CreatePostForUser(ctx context.Context, post *domain.Post) error
	// GetPostByID returns the post with its creator resolved.
	GetPostByID(ctx context.Context, id string) (*domain.Post, error)
	// ListPosts returns posts newest first.
	ListPosts(ctx context.Context, limit, offset int) ([]domain.Post, error)
	CountPosts(ctx context.Context) (int, error)
	// UpdatePost writes title, content and image when post.Version matches the
	// stored version, then stores the incremented version back into post.
	// Returns ErrNotFound for a missing post and ErrConflict on version mismatch.
	UpdatePost(ctx context.Context, post *domain.Post) error
	// DeletePostForUser removes the post and its entry in the user's post list.
	DeletePostForUser(ctx context.Context, postID, userID string) error
}
