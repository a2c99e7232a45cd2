package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/feed/internal/domain"
	"github.com/splax/feed/internal/repository"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository = (*Repository)(nil)
	_ repository.PostRepository = (*Repository)(nil)
)

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, email, name, password_hash, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`
	_, err := r.pool.Exec(ctx, query, user.ID, user.Email, user.Name, user.PasswordHash, user.Status, user.CreatedAt)
	if isPgError(err, pgUniqueViolation) {
		return repository.ErrConflict
	}
	return err
}

// GetUserByEmail fetches a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT id, email, name, password_hash, status, created_at, updated_at FROM users WHERE email = $1`
	return r.getUser(ctx, query, email)
}

// GetUserByID retrieves a user by identifier, including owned post ids.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT id, email, name, password_hash, status, created_at, updated_at FROM users WHERE id = $1`
	return r.getUser(ctx, query, id)
}

func (r *Repository) getUser(ctx context.Context, query string, arg string) (*domain.User, error) {
	row := r.pool.QueryRow(ctx, query, arg)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Status, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	postIDs, err := r.listUserPostIDs(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	u.PostIDs = postIDs
	return &u, nil
}

func (r *Repository) listUserPostIDs(ctx context.Context, userID string) ([]string, error) {
	const query = `SELECT post_id FROM user_posts WHERE user_id = $1 ORDER BY position`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateUserStatus replaces the user's status text.
func (r *Repository) UpdateUserStatus(ctx context.Context, id, status string) error {
	const query = `UPDATE users SET status = $2, updated_at = $3 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, status, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CreatePostForUser inserts the post and links it to its creator in one transaction.
func (r *Repository) CreatePostForUser(ctx context.Context, post *domain.Post) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const insertPost = `INSERT INTO posts (id, title, content, image_url, creator_id, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := tx.Exec(ctx, insertPost, post.ID, post.Title, post.Content, post.ImageURL, post.Creator.ID, post.Version, post.CreatedAt, post.UpdatedAt); err != nil {
		if isPgError(err, pgForeignKeyViolation) {
			return repository.ErrNotFound
		}
		if isPgError(err, pgUniqueViolation) {
			return repository.ErrConflict
		}
		return err
	}

	const linkPost = `INSERT INTO user_posts (user_id, post_id) VALUES ($1, $2)`
	if _, err := tx.Exec(ctx, linkPost, post.Creator.ID, post.ID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const selectPost = `SELECT p.id, p.title, p.content, p.image_url, p.version, p.created_at, p.updated_at, u.id, u.name
	FROM posts p
	INNER JOIN users u ON u.id = p.creator_id`

func scanPost(row pgx.Row) (domain.Post, error) {
	var p domain.Post
	err := row.Scan(&p.ID, &p.Title, &p.Content, &p.ImageURL, &p.Version, &p.CreatedAt, &p.UpdatedAt, &p.Creator.ID, &p.Creator.Name)
	return p, err
}

// GetPostByID fetches a post with its creator projection.
func (r *Repository) GetPostByID(ctx context.Context, id string) (*domain.Post, error) {
	row := r.pool.QueryRow(ctx, selectPost+` WHERE p.id = $1`, id)
	post, err := scanPost(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &post, nil
}

// ListPosts returns a page of posts ordered newest first.
func (r *Repository) ListPosts(ctx context.Context, limit, offset int) ([]domain.Post, error) {
	rows, err := r.pool.Query(ctx, selectPost+` ORDER BY p.created_at DESC, p.id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := make([]domain.Post, 0, limit)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// CountPosts counts all posts.
func (r *Repository) CountPosts(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(1) FROM posts`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// UpdatePost applies an optimistic update guarded by the post version.
func (r *Repository) UpdatePost(ctx context.Context, post *domain.Post) error {
	const query = `UPDATE posts
		SET title = $2, content = $3, image_url = $4, updated_at = $5, version = version + 1
		WHERE id = $1 AND version = $6
		RETURNING version`
	var version int
	err := r.pool.QueryRow(ctx, query, post.ID, post.Title, post.Content, post.ImageURL, post.UpdatedAt, post.Version).Scan(&version)
	if err == nil {
		post.Version = version
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM posts WHERE id = $1)`, post.ID).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return repository.ErrConflict
	}
	return repository.ErrNotFound
}

// DeletePostForUser removes the post and unlinks it from the user in one transaction.
func (r *Repository) DeletePostForUser(ctx context.Context, postID, userID string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM user_posts WHERE user_id = $1 AND post_id = $2`, userID, postID); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM posts WHERE id = $1`, postID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return tx.Commit(ctx)
}

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
