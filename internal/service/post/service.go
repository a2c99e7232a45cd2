package post

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/splax/feed/internal/apperror"
	"github.com/splax/feed/internal/domain"
	"github.com/splax/feed/internal/repository"
)

// DefaultPageSize is the number of posts returned per feed page.
const DefaultPageSize = 2

const (
	minTitleLength   = 5
	minContentLength = 5
	cleanupTimeout   = 30 * time.Second
)

// ImageStore owns uploaded images. Attachable reports whether userID may
// reference ref from a post; Remove deletes the file behind ref.
type ImageStore interface {
	Attachable(ref, userID string) bool
	Remove(ctx context.Context, ref string) error
}

// Publisher fans events out to live subscribers.
type Publisher interface {
	Publish(event string, payload []byte)
}

// Service manages the post lifecycle.
type Service struct {
	posts    repository.PostRepository
	users    repository.UserRepository
	files    ImageStore
	events   Publisher
	logger   *slog.Logger
	pageSize int

	cleanup sync.WaitGroup
}

// New constructs a Service. A non-positive pageSize selects DefaultPageSize.
func New(posts repository.PostRepository, users repository.UserRepository, files ImageStore, events Publisher, logger *slog.Logger, pageSize int) *Service {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Service{posts: posts, users: users, files: files, events: events, logger: logger, pageSize: pageSize}
}

// CreateInput carries the fields of a new post.
type CreateInput struct {
	Title    string
	Content  string
	ImageRef string
}

// UpdateInput carries replacement fields. An empty ImageRef keeps the stored image.
type UpdateInput struct {
	Title    string
	Content  string
	ImageRef string
}

// Page is one slice of the feed.
type Page struct {
	Posts      []domain.Post `json:"posts"`
	TotalItems int           `json:"totalItems"`
	Page       int           `json:"page"`
	PageSize   int           `json:"pageSize"`
}

// Create publishes a new post for the authenticated caller.
func (s *Service) Create(ctx context.Context, verdict domain.Verdict, in CreateInput) (*domain.Post, domain.Creator, error) {
	if !verdict.Authenticated || verdict.UserID == "" {
		return nil, domain.Creator{}, apperror.Unauthenticated("not authenticated")
	}
	if err := validate(in.Title, in.Content); err != nil {
		return nil, domain.Creator{}, err
	}
	imageRef := strings.TrimSpace(in.ImageRef)
	if imageRef == "" {
		return nil, domain.Creator{}, apperror.MissingImage("no image provided")
	}
	if err := s.checkImage(imageRef, verdict.UserID); err != nil {
		return nil, domain.Creator{}, err
	}

	user, err := s.users.GetUserByID(ctx, verdict.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.Creator{}, apperror.Unauthenticated("user no longer exists")
		}
		return nil, domain.Creator{}, apperror.Internal("load user", err)
	}

	now := time.Now().UTC()
	post := &domain.Post{
		ID:        uuid.NewString(),
		Title:     strings.TrimSpace(in.Title),
		Content:   strings.TrimSpace(in.Content),
		ImageURL:  imageRef,
		Creator:   user.Creator(),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.posts.CreatePostForUser(ctx, post); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.Creator{}, apperror.Unauthenticated("user no longer exists")
		}
		return nil, domain.Creator{}, apperror.Internal("create post", err)
	}
	s.logger.Info("post created", "post_id", post.ID, "user_id", user.ID)
	s.publish(domain.EventPostCreated, *post)
	return post, post.Creator, nil
}

// Get loads a single post.
func (s *Service) Get(ctx context.Context, postID string) (*domain.Post, error) {
	post, err := s.posts.GetPostByID(ctx, postID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.NotFound("could not find post")
		}
		return nil, apperror.Internal("load post", err)
	}
	return post, nil
}

// List returns the requested feed page, newest first. Pages start at 1.
func (s *Service) List(ctx context.Context, page int) (Page, error) {
	if page < 1 {
		page = 1
	}
	total, err := s.posts.CountPosts(ctx)
	if err != nil {
		return Page{}, apperror.Internal("count posts", err)
	}
	posts, err := s.posts.ListPosts(ctx, s.pageSize, (page-1)*s.pageSize)
	if err != nil {
		return Page{}, apperror.Internal("list posts", err)
	}
	if posts == nil {
		posts = []domain.Post{}
	}
	return Page{Posts: posts, TotalItems: total, Page: page, PageSize: s.pageSize}, nil
}

// Update replaces a post's title, content and optionally its image.
func (s *Service) Update(ctx context.Context, userID, postID string, in UpdateInput) (*domain.Post, error) {
	post, err := s.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	if err := AssertOwner(post, userID); err != nil {
		return nil, err
	}
	if err := validate(in.Title, in.Content); err != nil {
		return nil, err
	}

	image := post.ImageURL
	if ref := strings.TrimSpace(in.ImageRef); ref != "" && ref != post.ImageURL {
		if err := s.checkImage(ref, userID); err != nil {
			return nil, err
		}
		image = ref
	}
	if image == "" {
		return nil, apperror.MissingImage("no file picked")
	}

	previous := post.ImageURL
	post.Title = strings.TrimSpace(in.Title)
	post.Content = strings.TrimSpace(in.Content)
	post.ImageURL = image
	post.UpdatedAt = time.Now().UTC()
	if err := s.posts.UpdatePost(ctx, post); err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict):
			return nil, apperror.Conflict("post was modified concurrently")
		case errors.Is(err, repository.ErrNotFound):
			return nil, apperror.NotFound("could not find post")
		}
		return nil, apperror.Internal("update post", err)
	}
	if previous != "" && previous != image {
		s.removeImage(previous)
	}
	s.logger.Info("post updated", "post_id", post.ID, "user_id", userID, "version", post.Version)
	s.publish(domain.EventPostUpdated, *post)
	return post, nil
}

// Delete removes a post owned by userID along with its image.
func (s *Service) Delete(ctx context.Context, userID, postID string) error {
	post, err := s.Get(ctx, postID)
	if err != nil {
		return err
	}
	if err := AssertOwner(post, userID); err != nil {
		return err
	}
	if err := s.posts.DeletePostForUser(ctx, post.ID, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperror.NotFound("could not find post")
		}
		return apperror.Internal("delete post", err)
	}
	if post.ImageURL != "" {
		s.removeImage(post.ImageURL)
	}
	s.logger.Info("post deleted", "post_id", post.ID, "user_id", userID)
	s.publish(domain.EventPostDeleted, *post)
	return nil
}

// Wait blocks until scheduled image removals finish.
func (s *Service) Wait() {
	s.cleanup.Wait()
}

// checkImage rejects references to images uploaded by another user.
func (s *Service) checkImage(ref, userID string) error {
	if s.files == nil || s.files.Attachable(ref, userID) {
		return nil
	}
	return apperror.Forbidden("image belongs to another user")
}

func (s *Service) removeImage(ref string) {
	if s.files == nil {
		return
	}
	s.cleanup.Add(1)
	go func() {
		defer s.cleanup.Done()
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := s.files.Remove(ctx, ref); err != nil {
			s.logger.Warn("image cleanup failed", "image", ref, "error", err)
		}
	}()
}

func (s *Service) publish(event string, post domain.Post) {
	if s.events == nil {
		return
	}
	payload, err := json.Marshal(domain.NewPostEvent(event, post))
	if err != nil {
		s.logger.Error("encode post event", "event", event, "error", err)
		return
	}
	s.events.Publish(event, payload)
}

func validate(title, content string) error {
	var fields []apperror.FieldError
	if len(strings.TrimSpace(title)) < minTitleLength {
		fields = append(fields, apperror.FieldError{Field: "title", Message: "title must be at least 5 characters"})
	}
	if len(strings.TrimSpace(content)) < minContentLength {
		fields = append(fields, apperror.FieldError{Field: "content", Message: "content must be at least 5 characters"})
	}
	if len(fields) > 0 {
		return apperror.Validation("validation failed, entered data is incorrect", fields...)
	}
	return nil
}
