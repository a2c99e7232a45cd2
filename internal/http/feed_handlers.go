package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/splax/feed/internal/apperror"
	"github.com/splax/feed/internal/service/post"
	"github.com/splax/feed/internal/storage"
)

const (
	maxUploadBytes = 10 << 20
	maxFormMemory  = 1 << 20
	maxJSONBytes   = 1 << 20
	imageFormField = "image"
)

// postForm is the decoded body of a create or update request.
type postForm struct {
	Title    string
	Content  string
	ImageRef string
	// uploaded is set when this request stored a new file.
	uploaded string
}

func (r *Router) handleListPosts(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	page, _ := strconv.Atoi(req.URL.Query().Get("page"))
	result, err := r.posts.List(req.Context(), page)
	if err != nil {
		r.writeAppError(w, req, err)
		return
	}
	verdict := verdictFromContext(req.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"message":       "Fetched posts successfully.",
		"posts":         result.Posts,
		"totalItems":    result.TotalItems,
		"page":          result.Page,
		"pageSize":      result.PageSize,
		"authenticated": verdict.Authenticated,
	})
}

func (r *Router) handleCreatePost(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	form, err := r.readPostForm(w, req)
	if err != nil {
		r.writeAppError(w, req, err)
		return
	}
	created, creator, err := r.posts.Create(req.Context(), verdictFromContext(req.Context()), post.CreateInput{
		Title:    form.Title,
		Content:  form.Content,
		ImageRef: form.ImageRef,
	})
	if err != nil {
		r.discardUpload(form)
		r.writeAppError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Post created successfully!",
		"post":    created,
		"creator": creator,
	})
}

func (r *Router) handlePost(w http.ResponseWriter, req *http.Request) {
	postID := strings.TrimPrefix(req.URL.Path, "/feed/post/")
	if postID == "" || strings.Contains(postID, "/") {
		r.notFound(w)
		return
	}
	switch req.Method {
	case http.MethodGet:
		found, err := r.posts.Get(req.Context(), postID)
		if err != nil {
			r.writeAppError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "Post fetched.", "post": found})
	case http.MethodPut:
		r.authedWrite("/feed/post/{id}", func(w http.ResponseWriter, req *http.Request) {
			r.handleUpdatePost(w, req, postID)
		})(w, req)
	case http.MethodDelete:
		r.authedWrite("/feed/post/{id}", func(w http.ResponseWriter, req *http.Request) {
			r.handleDeletePost(w, req, postID)
		})(w, req)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleUpdatePost(w http.ResponseWriter, req *http.Request, postID string) {
	form, err := r.readPostForm(w, req)
	if err != nil {
		r.writeAppError(w, req, err)
		return
	}
	verdict := verdictFromContext(req.Context())
	updated, err := r.posts.Update(req.Context(), verdict.UserID, postID, post.UpdateInput{
		Title:    form.Title,
		Content:  form.Content,
		ImageRef: form.ImageRef,
	})
	if err != nil {
		r.discardUpload(form)
		r.writeAppError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Post updated!", "post": updated})
}

func (r *Router) handleDeletePost(w http.ResponseWriter, req *http.Request, postID string) {
	verdict := verdictFromContext(req.Context())
	if err := r.posts.Delete(req.Context(), verdict.UserID, postID); err != nil {
		r.writeAppError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Deleted post."})
}

// readPostForm accepts either a multipart form with an optional "image" file
// or a JSON body referencing an existing image by URL. Uploads are stored
// under the authenticated caller.
func (r *Router) readPostForm(w http.ResponseWriter, req *http.Request) (postForm, error) {
	if !strings.HasPrefix(req.Header.Get("Content-Type"), "multipart/form-data") {
		req.Body = http.MaxBytesReader(w, req.Body, maxJSONBytes)
		var body struct {
			Title    string `json:"title"`
			Content  string `json:"content"`
			ImageURL string `json:"imageUrl"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			return postForm{}, apperror.Validation("invalid JSON body")
		}
		return postForm{Title: body.Title, Content: body.Content, ImageRef: body.ImageURL}, nil
	}

	req.Body = http.MaxBytesReader(w, req.Body, maxUploadBytes)
	if err := req.ParseMultipartForm(maxFormMemory); err != nil {
		return postForm{}, apperror.Validation("invalid multipart form")
	}
	form := postForm{
		Title:    req.FormValue("title"),
		Content:  req.FormValue("content"),
		ImageRef: req.FormValue(imageFormField),
	}
	file, header, err := req.FormFile(imageFormField)
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return form, nil
	case err != nil:
		return postForm{}, apperror.Validation("invalid image upload")
	}
	defer file.Close()
	if r.images == nil {
		return postForm{}, apperror.Internal("store image", errors.New("image storage not configured"))
	}
	ref, err := r.images.Save(req.Context(), verdictFromContext(req.Context()).UserID, header.Filename, file)
	if err != nil {
		if errors.Is(err, storage.ErrUnsupportedType) {
			return postForm{}, apperror.Validation("validation failed",
				apperror.FieldError{Field: imageFormField, Message: "image must be png, jpg, jpeg, gif or webp"})
		}
		if errors.Is(err, storage.ErrInvalidOwner) {
			return postForm{}, apperror.Unauthenticated("not authenticated")
		}
		return postForm{}, apperror.Internal("store image", err)
	}
	form.ImageRef = ref
	form.uploaded = ref
	return form, nil
}

func (r *Router) discardUpload(form postForm) {
	if form.uploaded == "" || r.images == nil {
		return
	}
	if err := r.images.Remove(context.Background(), form.uploaded); err != nil {
		r.logger.Warn("discard upload failed", "image", form.uploaded, "error", err)
	}
}
