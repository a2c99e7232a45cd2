package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultBaseURL is used when no API address is configured.
const DefaultBaseURL = "http://localhost:8080"

// Client provides typed access to the feed API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
	Fields  []FieldError
}

// FieldError names one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	msg := fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
	for _, f := range e.Fields {
		msg += fmt.Sprintf("; %s: %s", f.Field, f.Message)
	}
	return msg
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	var reader io.Reader
	contentType := ""
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
		contentType = "application/json"
	}
	return c.send(ctx, method, path, reader, contentType, token, v)
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader, contentType, token string, v any) error {
	if c == nil {
		return errors.New("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return extractError(resp.StatusCode, resp.Body)
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(status int, body io.Reader) APIError {
	apiErr := APIError{Status: status}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return apiErr
	}
	var payload struct {
		Message string       `json:"message"`
		Data    []FieldError `json:"data"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		apiErr.Message = strings.TrimSpace(string(data))
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(payload.Message)
	apiErr.Fields = payload.Data
	return apiErr
}

// Session is returned by Login.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Creator is the public projection of a post's author.
type Creator struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Post mirrors the API post payload.
type Post struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	ImageURL  string    `json:"imageUrl"`
	Creator   Creator   `json:"creator"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Page is one page of the feed.
type Page struct {
	Posts         []Post `json:"posts"`
	TotalItems    int    `json:"totalItems"`
	Page          int    `json:"page"`
	PageSize      int    `json:"pageSize"`
	Authenticated bool   `json:"authenticated"`
}

// Event is a real-time post notification.
type Event struct {
	Event  string `json:"event"`
	Action string `json:"action"`
	Post   Post   `json:"post"`
}

// PostInput describes a post to create or update. When Image is set it is
// uploaded as ImageName; otherwise ImageURL references an existing image.
type PostInput struct {
	Title     string
	Content   string
	ImageURL  string
	Image     io.Reader
	ImageName string
}

// Signup registers an account and returns its id.
func (c *Client) Signup(ctx context.Context, email, name, password string) (string, error) {
	body := map[string]string{"email": email, "name": name, "password": password}
	var resp struct {
		UserID string `json:"userId"`
	}
	if err := c.do(ctx, http.MethodPut, "/auth/signup", body, "", &resp); err != nil {
		return "", err
	}
	return resp.UserID, nil
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	body := map[string]string{"email": email, "password": password}
	var resp Session
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, "", &resp); err != nil {
		return Session{}, err
	}
	return resp, nil
}

// Status returns the caller's status line.
func (c *Client) Status(ctx context.Context, token string) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/auth/status", nil, token, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// SetStatus replaces the caller's status line.
func (c *Client) SetStatus(ctx context.Context, token, status string) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodPatch, "/auth/status", map[string]string{"status": status}, token, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// Posts fetches a page of the feed. The token may be empty.
func (c *Client) Posts(ctx context.Context, token string, page int) (Page, error) {
	path := "/feed/posts"
	if page > 0 {
		path += "?page=" + strconv.Itoa(page)
	}
	var resp Page
	if err := c.do(ctx, http.MethodGet, path, nil, token, &resp); err != nil {
		return Page{}, err
	}
	return resp, nil
}

// Post fetches a single post.
func (c *Client) Post(ctx context.Context, id string) (Post, error) {
	var resp struct {
		Post Post `json:"post"`
	}
	if err := c.do(ctx, http.MethodGet, "/feed/post/"+url.PathEscape(id), nil, "", &resp); err != nil {
		return Post{}, err
	}
	return resp.Post, nil
}

// CreatePost publishes a new post.
func (c *Client) CreatePost(ctx context.Context, token string, in PostInput) (Post, error) {
	return c.writePost(ctx, http.MethodPost, "/feed/post", token, in)
}

// UpdatePost replaces a post's fields. An empty image keeps the current one.
func (c *Client) UpdatePost(ctx context.Context, token, id string, in PostInput) (Post, error) {
	return c.writePost(ctx, http.MethodPut, "/feed/post/"+url.PathEscape(id), token, in)
}

// DeletePost removes a post.
func (c *Client) DeletePost(ctx context.Context, token, id string) error {
	return c.do(ctx, http.MethodDelete, "/feed/post/"+url.PathEscape(id), nil, token, nil)
}

func (c *Client) writePost(ctx context.Context, method, path, token string, in PostInput) (Post, error) {
	var resp struct {
		Post Post `json:"post"`
	}
	if in.Image == nil {
		body := map[string]string{"title": in.Title, "content": in.Content, "imageUrl": in.ImageURL}
		if err := c.do(ctx, method, path, body, token, &resp); err != nil {
			return Post{}, err
		}
		return resp.Post, nil
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("title", in.Title); err != nil {
		return Post{}, err
	}
	if err := mw.WriteField("content", in.Content); err != nil {
		return Post{}, err
	}
	part, err := mw.CreateFormFile("image", in.ImageName)
	if err != nil {
		return Post{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, in.Image); err != nil {
		return Post{}, fmt.Errorf("read image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Post{}, err
	}
	if err := c.send(ctx, method, path, &buf, mw.FormDataContentType(), token, &resp); err != nil {
		return Post{}, err
	}
	return resp.Post, nil
}

// Watch streams post events to fn until ctx is cancelled, the connection
// drops, or fn returns an error.
func (c *Client) Watch(ctx context.Context, token string, fn func(Event) error) error {
	endpoint := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws/posts"
	header := http.Header{}
	if strings.TrimSpace(token) != "" {
		header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}
	conn, resp, err := c.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return extractError(resp.StatusCode, resp.Body)
		}
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var event Event
		if err := conn.ReadJSON(&event); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
}
