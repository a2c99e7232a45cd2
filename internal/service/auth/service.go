package auth

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/splax/feed/internal/apperror"
	"github.com/splax/feed/internal/domain"
	"github.com/splax/feed/internal/repository"
	"github.com/splax/feed/pkg/crypto"
	jwtpkg "github.com/splax/feed/pkg/jwt"
)

const minPasswordLength = 5

var errBadCredentials = apperror.Unauthenticated("email or password incorrect")

// Service handles account and session workflows.
type Service struct {
	users  repository.UserRepository
	hasher crypto.Hasher
	tokens *jwtpkg.Signer
	logger *slog.Logger
}

// New constructs a Service.
func New(users repository.UserRepository, hasher crypto.Hasher, tokens *jwtpkg.Signer, logger *slog.Logger) Service {
	return Service{users: users, hasher: hasher, tokens: tokens, logger: logger}
}

// SignupInput carries registration fields.
type SignupInput struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// Session is the result of a successful login.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Signup registers a new user.
func (s Service) Signup(ctx context.Context, in SignupInput) (*domain.User, error) {
	email := normalizeEmail(in.Email)
	name := strings.TrimSpace(in.Name)

	var fields []apperror.FieldError
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		fields = append(fields, apperror.FieldError{Field: "email", Message: "please enter a valid email"})
	}
	switch {
	case len(strings.TrimSpace(in.Password)) < minPasswordLength:
		fields = append(fields, apperror.FieldError{Field: "password", Message: "password must be at least 5 characters"})
	case len(in.Password) > crypto.MaxPasswordBytes:
		fields = append(fields, apperror.FieldError{Field: "password", Message: "password must be at most 72 bytes"})
	}
	if name == "" {
		fields = append(fields, apperror.FieldError{Field: "name", Message: "name is required"})
	}
	if len(fields) > 0 {
		return nil, apperror.Validation("validation failed", fields...)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, apperror.Internal("hash password", err)
	}
	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Status:       domain.DefaultStatus,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperror.Conflict("email address already exists")
		}
		return nil, apperror.Internal("create user", err)
	}
	s.logger.Info("user registered", "user_id", user.ID)
	return user, nil
}

// Login verifies credentials and issues a session token.
func (s Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Session{}, errBadCredentials
		}
		return Session{}, apperror.Internal("load user", err)
	}
	if !s.hasher.Verify(user.PasswordHash, password) {
		s.logger.Info("login rejected", "user_id", user.ID)
		return Session{}, errBadCredentials
	}
	token, expires, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return Session{}, apperror.Internal("issue token", err)
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return Session{Token: token, UserID: user.ID, ExpiresAt: expires}, nil
}

// Authorize validates a bearer token and returns its claims.
func (s Service) Authorize(token string) (*jwtpkg.Claims, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, apperror.InvalidToken(err)
	}
	return claims, nil
}

// Status returns the user's current status line.
func (s Service) Status(ctx context.Context, userID string) (string, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", apperror.NotFound("user not found")
		}
		return "", apperror.Internal("load user", err)
	}
	return user.Status, nil
}

// UpdateStatus replaces the user's status line.
func (s Service) UpdateStatus(ctx context.Context, userID, status string) (string, error) {
	status = strings.TrimSpace(status)
	if status == "" {
		return "", apperror.Validation("validation failed", apperror.FieldError{Field: "status", Message: "status is required"})
	}
	if err := s.users.UpdateUserStatus(ctx, userID, status); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", apperror.NotFound("user not found")
		}
		return "", apperror.Internal("update status", err)
	}
	return status, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
