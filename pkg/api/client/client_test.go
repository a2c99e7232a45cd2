package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cli, err := New(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return cli
}

func TestNewNormalisesBaseURL(t *testing.T) {
	cli, err := New("localhost:9000/")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if cli.baseURL != "http://localhost:9000" {
		t.Fatalf("baseURL = %q", cli.baseURL)
	}
	cli, _ = New("")
	if cli.baseURL != DefaultBaseURL {
		t.Fatalf("default baseURL = %q", cli.baseURL)
	}
}

func TestLoginAndPosts(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("login method = %s", r.Method)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "a@example.com" {
			t.Errorf("email = %q", body["email"])
		}
		_, _ = io.WriteString(w, `{"token":"tok","userId":"u1"}`)
	})
	mux.HandleFunc("/feed/posts", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "2" {
			t.Errorf("page = %q", r.URL.Query().Get("page"))
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		_, _ = io.WriteString(w, `{"posts":[{"id":"p1","title":"Hello","creator":{"id":"u1","name":"A"}}],"totalItems":3,"page":2,"pageSize":2,"authenticated":true}`)
	})
	cli := newTestClient(t, mux)
	ctx := context.Background()

	session, err := cli.Login(ctx, "a@example.com", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if session.Token != "tok" || session.UserID != "u1" {
		t.Fatalf("session = %+v", session)
	}

	page, err := cli.Posts(ctx, session.Token, 2)
	if err != nil {
		t.Fatalf("posts: %v", err)
	}
	if page.TotalItems != 3 || len(page.Posts) != 1 || page.Posts[0].Creator.Name != "A" || !page.Authenticated {
		t.Fatalf("page = %+v", page)
	}
}

func TestAPIErrorCarriesFields(t *testing.T) {
	cli := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"message":"validation failed","data":[{"field":"title","message":"too short"}],"statusCode":422}`)
	}))

	_, err := cli.CreatePost(context.Background(), "tok", PostInput{Title: "x"})
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusUnprocessableEntity || len(apiErr.Fields) != 1 || apiErr.Fields[0].Field != "title" {
		t.Fatalf("api error = %+v", apiErr)
	}
	if !strings.Contains(apiErr.Error(), "title: too short") {
		t.Fatalf("error text = %q", apiErr.Error())
	}
}

func TestCreatePostUploadsImage(t *testing.T) {
	cli := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "cat.png" || string(data) != "meow" || r.FormValue("title") != "Cat picture" {
			t.Errorf("unexpected upload %q %q %q", header.Filename, data, r.FormValue("title"))
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"post":{"id":"p9","imageUrl":"images/x.png"}}`)
	}))

	post, err := cli.CreatePost(context.Background(), "tok", PostInput{
		Title:     "Cat picture",
		Content:   "A cat",
		Image:     strings.NewReader("meow"),
		ImageName: "cat.png",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if post.ID != "p9" || post.ImageURL != "images/x.png" {
		t.Fatalf("post = %+v", post)
	}
}

func TestWatchDeliversEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	cli := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws/posts" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(Event{Event: "post.created", Action: "create", Post: Post{ID: "p1"}})
		_ = conn.WriteJSON(Event{Event: "post.deleted", Action: "delete", Post: Post{ID: "p1"}})
		// Hold the connection until the client goes away.
		_, _, _ = conn.ReadMessage()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var got []Event
	stopErr := errors.New("done")
	err := cli.Watch(ctx, "", func(ev Event) error {
		got = append(got, ev)
		if len(got) == 2 {
			return stopErr
		}
		return nil
	})
	if !errors.Is(err, stopErr) {
		t.Fatalf("watch returned %v", err)
	}
	if got[0].Action != "create" || got[1].Event != "post.deleted" {
		t.Fatalf("events = %+v", got)
	}
}
