package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/rs/zerolog"

	"github.com/quillpress/apiserver/internal/auth"
	"github.com/quillpress/apiserver/internal/logging"
	"github.com/quillpress/apiserver/internal/store"
	"github.com/quillpress/apiserver/types"
)

const (
	// LatestPostsLimit is the size of the unfiltered front page listing.
	LatestPostsLimit   = 6
	filteredPostsLimit = 50

	// MaxImageBytes caps cover image uploads.
	MaxImageBytes = 5 << 20

	maxTags      = 10
	maxTagLength = 30
)

var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// PostRepository defines persistence operations for posts and bookmarks.
type PostRepository interface {
	List(ctx context.Context, filter store.PostFilter) ([]types.Post, error)
	Get(ctx context.Context, id int) (types.Post, error)
	Create(ctx context.Context, post types.Post) (types.Post, error)
	SetImage(ctx context.Context, id int, key string) error
	Delete(ctx context.Context, id int) error
	Bookmark(ctx context.Context, accountID, postID int) (bool, error)
	ListBookmarks(ctx context.Context, accountID int) ([]types.Post, error)
}

// ImageStore is the object storage used for cover images.
type ImageStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// CreatePostInput is the payload for a new post.
type CreatePostInput struct {
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle"`
	Content  string   `json:"content"`
	ReadTime string   `json:"read_time"`
	Category string   `json:"category"`
	Featured bool     `json:"featured"`
	Tags     []string `json:"tags"`
}

func (in CreatePostInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.Subtitle, validation.Length(0, 300)),
		validation.Field(&in.Content, validation.Required),
		validation.Field(&in.ReadTime, validation.Length(0, 30)),
		validation.Field(&in.Category, validation.Required, validation.Length(1, 50)),
		validation.Field(&in.Tags, validation.Length(0, maxTags), validation.By(tagLengths)),
	)
}

func tagLengths(value interface{}) error {
	tags, _ := value.([]string)
	for _, tag := range tags {
		if n := len([]rune(tag)); n < 1 || n > maxTagLength {
			return fmt.Errorf("each tag must be between 1 and %d characters", maxTagLength)
		}
	}
	return nil
}

// PostService encapsulates post and bookmark use-cases.
type PostService struct {
	repo   PostRepository
	images ImageStore
	logger zerolog.Logger
}

// NewPostService constructs a PostService. images may be nil, which disables
// cover images.
func NewPostService(repo PostRepository, images ImageStore, logger zerolog.Logger) *PostService {
	return &PostService{
		repo:   repo,
		images: images,
		logger: logging.Component(logger, "posts"),
	}
}

// List returns posts in the category, or else with the tag, or else the
// latest LatestPostsLimit posts.
func (s *PostService) List(ctx context.Context, category, tag string) ([]types.Post, error) {
	filter := store.PostFilter{
		Category: strings.TrimSpace(category),
		Tag:      strings.TrimSpace(tag),
		Limit:    filteredPostsLimit,
	}
	if filter.Category == "" && filter.Tag == "" {
		filter.Limit = LatestPostsLimit
	}
	return s.repo.List(ctx, filter)
}

func (s *PostService) Get(ctx context.Context, id int) (types.Post, error) {
	return s.repo.Get(ctx, id)
}

func (s *PostService) Create(ctx context.Context, authorID int, in CreatePostInput) (types.Post, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Category = strings.TrimSpace(in.Category)
	in.Tags = normalizeTags(in.Tags)
	if err := in.Validate(); err != nil {
		return types.Post{}, auth.NewValidationError(err)
	}

	post, err := s.repo.Create(ctx, types.Post{
		AuthorID: authorID,
		Title:    in.Title,
		Subtitle: strings.TrimSpace(in.Subtitle),
		Content:  in.Content,
		ReadTime: strings.TrimSpace(in.ReadTime),
		Category: in.Category,
		Featured: in.Featured,
		Tags:     in.Tags,
	})
	if err != nil {
		return types.Post{}, err
	}
	s.logger.Info().Int("post_id", post.ID).Int("author_id", authorID).Msg("post created")
	return post, nil
}

// Delete removes the post and, best effort, its cover image.
func (s *PostService) Delete(ctx context.Context, id int) error {
	post, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if post.ImageKey != "" && s.images != nil {
		if err := s.images.Delete(ctx, post.ImageKey); err != nil {
			s.logger.Warn().Err(err).Str("key", post.ImageKey).Msg("orphaned cover image")
		}
	}
	s.logger.Info().Int("post_id", id).Msg("post deleted")
	return nil
}

// Bookmark records the bookmark once per account. It reports whether a new
// bookmark was created.
func (s *PostService) Bookmark(ctx context.Context, accountID, postID int) (bool, error) {
	return s.repo.Bookmark(ctx, accountID, postID)
}

func (s *PostService) Bookmarks(ctx context.Context, accountID int) ([]types.Post, error) {
	return s.repo.ListBookmarks(ctx, accountID)
}

// AttachImage stores a cover image for the post. Only the author or an
// administrator may do so. Keys are content addressed, so re-uploading the
// current image is a no-op.
func (s *PostService) AttachImage(ctx context.Context, actor auth.Principal, postID int, r io.Reader) (types.Post, error) {
	if s.images == nil {
		return types.Post{}, ErrStorageDisabled
	}

	post, err := s.repo.Get(ctx, postID)
	if err != nil {
		return types.Post{}, err
	}
	if post.AuthorID != actor.AccountID && !actor.HasRole(auth.AdminRole) {
		return types.Post{}, auth.ErrForbidden
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxImageBytes+1))
	if err != nil {
		return types.Post{}, fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 {
		return types.Post{}, fmt.Errorf("%w: empty upload", ErrInvalidImage)
	}
	if len(data) > MaxImageBytes {
		return types.Post{}, fmt.Errorf("%w: larger than %d bytes", ErrInvalidImage, MaxImageBytes)
	}

	contentType := http.DetectContentType(data)
	ext, ok := imageExtensions[contentType]
	if !ok {
		return types.Post{}, fmt.Errorf("%w: unsupported type %s", ErrInvalidImage, contentType)
	}

	sum := sha256.Sum256(data)
	key := fmt.Sprintf("posts/%d/%s%s", post.ID, hex.EncodeToString(sum[:]), ext)
	if key == post.ImageKey {
		return post, nil
	}

	if err := s.images.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return types.Post{}, fmt.Errorf("store image: %w", err)
	}
	if err := s.repo.SetImage(ctx, post.ID, key); err != nil {
		return types.Post{}, err
	}

	if post.ImageKey != "" {
		if err := s.images.Delete(ctx, post.ImageKey); err != nil {
			s.logger.Warn().Err(err).Str("key", post.ImageKey).Msg("previous cover image not removed")
		}
	}
	post.ImageKey = key
	return post, nil
}

// Image opens the cover image of the post along with its content type.
func (s *PostService) Image(ctx context.Context, postID int) (io.ReadCloser, string, error) {
	if s.images == nil {
		return nil, "", ErrStorageDisabled
	}
	post, err := s.repo.Get(ctx, postID)
	if err != nil {
		return nil, "", err
	}
	if post.ImageKey == "" {
		return nil, "", ErrNoImage
	}
	r, err := s.images.Get(ctx, post.ImageKey)
	if err != nil {
		return nil, "", err
	}
	return r, contentTypeFor(post.ImageKey), nil
}

func contentTypeFor(key string) string {
	ext := path.Ext(key)
	for contentType, e := range imageExtensions {
		if e == ext {
			return contentType
		}
	}
	return "application/octet-stream"
}

// normalizeTags trims tags and drops blanks and case-insensitive duplicates,
// keeping the first spelling.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// IsNotFound reports whether err means the requested record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
