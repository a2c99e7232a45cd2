package httpx

import (
	"context"
	"sort"
	"sync"

	"github.com/splax/feed/internal/domain"
	"github.com/splax/feed/internal/repository"
)

// memoryStore implements both repositories for router tests.
type memoryStore struct {
	mu      sync.Mutex
	users   map[string]*domain.User
	byEmail map[string]string
	posts   map[string]*domain.Post
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:   map[string]*domain.User{},
		byEmail: map[string]string{},
		posts:   map[string]*domain.Post{},
	}
}

func (m *memoryStore) CreateUser(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[user.Email]; ok {
		return repository.ErrConflict
	}
	clone := *user
	m.users[user.ID] = &clone
	m.byEmail[user.Email] = user.ID
	return nil
}

func (m *memoryStore) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *m.users[id]
	return &clone, nil
}

func (m *memoryStore) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (m *memoryStore) UpdateUserStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Status = status
	return nil
}

func (m *memoryStore) CreatePostForUser(_ context.Context, post *domain.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[post.Creator.ID]
	if !ok {
		return repository.ErrNotFound
	}
	clone := *post
	m.posts[post.ID] = &clone
	u.PostIDs = append(u.PostIDs, post.ID)
	return nil
}

func (m *memoryStore) GetPostByID(_ context.Context, id string) (*domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (m *memoryStore) ListPosts(_ context.Context, limit, offset int) ([]domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]domain.Post, 0, len(m.posts))
	for _, p := range m.posts {
		all = append(all, *p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *memoryStore) CountPosts(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posts), nil
}

func (m *memoryStore) UpdatePost(_ context.Context, post *domain.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.posts[post.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.Version != post.Version {
		return repository.ErrConflict
	}
	stored.Title, stored.Content, stored.ImageURL = post.Title, post.Content, post.ImageURL
	stored.UpdatedAt = post.UpdatedAt
	stored.Version++
	post.Version = stored.Version
	return nil
}

func (m *memoryStore) DeletePostForUser(_ context.Context, postID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[postID]; !ok {
		return repository.ErrNotFound
	}
	delete(m.posts, postID)
	return nil
}
