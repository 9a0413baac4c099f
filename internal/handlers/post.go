package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/quillpress/apiserver/internal/auth"
	"github.com/quillpress/apiserver/internal/services"
	"github.com/quillpress/apiserver/internal/storage"
	"github.com/quillpress/apiserver/types"
)

const (
	formFieldImage     = "image"
	maxMultipartMemory = 8 << 20
)

// PostHandler provides HTTP handlers for posts, bookmarks and cover images.
type PostHandler struct {
	posts *services.PostService
}

func NewPostHandler(posts *services.PostService) *PostHandler {
	return &PostHandler{posts: posts}
}

// PostRouter registers post routes on the given router.
func PostRouter(r chi.Router, posts *services.PostService, mw *AuthMiddleware) {
	handler := NewPostHandler(posts)

	r.Get("/", handler.ListPosts)
	r.With(mw.RequireAuth, mw.RequireRole(auth.DefaultRole, auth.AdminRole)).Post("/", handler.CreatePost)
	r.With(mw.RequireAuth).Get("/bookmarks", handler.ListBookmarks)
	r.Route("/{postID}", func(r chi.Router) {
		r.Get("/", handler.GetPost)
		r.Get("/image", handler.GetImage)
		r.With(mw.RequireAuth, mw.RequireRole(auth.AdminRole)).Delete("/", handler.DeletePost)
		r.With(mw.RequireAuth).Post("/bookmark", handler.BookmarkPost)
		r.With(mw.RequireAuth).Put("/image", handler.UploadImage)
	})
}

type PostResponse struct {
	Response
	Post types.Post `json:"post"`
}

type PostListResponse struct {
	Response
	Posts []types.Post `json:"posts"`
}

type BookmarkResponse struct {
	Response
	Created bool `json:"created"`
}

func (h *PostHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	posts, err := h.posts.List(r.Context(), query.Get("category"), query.Get("tag"))
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("list posts")
		writeError(w, http.StatusInternalServerError, "failed to list posts")
		return
	}
	writePosts(w, posts)
}

func (h *PostHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "postID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	post, err := h.posts.Get(r.Context(), id)
	if err != nil {
		h.writePostError(w, r, err, "failed to fetch post")
		return
	}
	writeJSON(w, http.StatusOK, PostResponse{Response: Response{Success: true}, Post: post})
}

func (h *PostHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())

	var req services.CreatePostInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	post, err := h.posts.Create(r.Context(), principal.AccountID, req)
	if err != nil {
		h.writePostError(w, r, err, "failed to create post")
		return
	}
	writeJSON(w, http.StatusCreated, PostResponse{
		Response: Response{Success: true, Message: "post created"},
		Post:     post,
	})
}

func (h *PostHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "postID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.posts.Delete(r.Context(), id); err != nil {
		h.writePostError(w, r, err, "failed to delete post")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PostHandler) BookmarkPost(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	id, err := parseID(r, "postID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.posts.Bookmark(r.Context(), principal.AccountID, id)
	if err != nil {
		h.writePostError(w, r, err, "failed to bookmark post")
		return
	}

	status := http.StatusOK
	message := "already bookmarked"
	if created {
		status = http.StatusCreated
		message = "post bookmarked"
	}
	writeJSON(w, status, BookmarkResponse{Response: Response{Success: true, Message: message}, Created: created})
}

func (h *PostHandler) ListBookmarks(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())

	posts, err := h.posts.Bookmarks(r.Context(), principal.AccountID)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("list bookmarks")
		writeError(w, http.StatusInternalServerError, "failed to list bookmarks")
		return
	}
	writePosts(w, posts)
}

func (h *PostHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	id, err := parseID(r, "postID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, services.MaxImageBytes+(1<<20))
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, _, err := r.FormFile(formFieldImage)
	if err != nil {
		writeError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()

	post, err := h.posts.AttachImage(r.Context(), principal, id, file)
	if err != nil {
		h.writePostError(w, r, err, "failed to store image")
		return
	}
	writeJSON(w, http.StatusOK, PostResponse{Response: Response{Success: true, Message: "image stored"}, Post: post})
}

func (h *PostHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "postID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	body, contentType, err := h.posts.Image(r.Context(), id)
	if err != nil {
		h.writePostError(w, r, err, "failed to load image")
		return
	}
	defer body.Close()
	copyBody(w, contentType, body)
}

func (h *PostHandler) writePostError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var verr *auth.ValidationError
	switch {
	case errors.As(err, &verr):
		writeValidationError(w, verr)
	case services.IsNotFound(err):
		writeError(w, http.StatusNotFound, "post not found")
	case errors.Is(err, services.ErrNoImage), errors.Is(err, storage.ErrObjectNotFound):
		writeError(w, http.StatusNotFound, "image not found")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, services.ErrInvalidImage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrStorageDisabled):
		writeError(w, http.StatusServiceUnavailable, "image storage is not configured")
	default:
		hlog.FromRequest(r).Error().Err(err).Msg(fallback)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func writePosts(w http.ResponseWriter, posts []types.Post) {
	if posts == nil {
		posts = []types.Post{}
	}
	writeJSON(w, http.StatusOK, PostListResponse{Response: Response{Success: true}, Posts: posts})
}
