package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillpress/apiserver/internal/auth"
	"github.com/quillpress/apiserver/internal/store"
	"github.com/quillpress/apiserver/types"
)

type fakePostRepo struct {
	mu         sync.Mutex
	posts      map[int]types.Post
	bookmarks  map[[2]int]bool
	nextID     int
	lastFilter store.PostFilter
}

func newFakePostRepo() *fakePostRepo {
	return &fakePostRepo{posts: map[int]types.Post{}, bookmarks: map[[2]int]bool{}}
}

func (r *fakePostRepo) List(_ context.Context, filter store.PostFilter) ([]types.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastFilter = filter
	var out []types.Post
	for id := r.nextID; id > 0 && len(out) < filter.Limit; id-- {
		if post, ok := r.posts[id]; ok {
			out = append(out, post)
		}
	}
	return out, nil
}

func (r *fakePostRepo) Get(_ context.Context, id int) (types.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	post, ok := r.posts[id]
	if !ok {
		return types.Post{}, store.ErrNotFound
	}
	return post, nil
}

func (r *fakePostRepo) Create(_ context.Context, post types.Post) (types.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	post.ID = r.nextID
	r.posts[post.ID] = post
	return post, nil
}

func (r *fakePostRepo) SetImage(_ context.Context, id int, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	post, ok := r.posts[id]
	if !ok {
		return store.ErrNotFound
	}
	post.ImageKey = key
	r.posts[id] = post
	return nil
}

func (r *fakePostRepo) Delete(_ context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.posts[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.posts, id)
	return nil
}

func (r *fakePostRepo) Bookmark(_ context.Context, accountID, postID int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	post, ok := r.posts[postID]
	if !ok {
		return false, store.ErrNotFound
	}
	key := [2]int{accountID, postID}
	if r.bookmarks[key] {
		return false, nil
	}
	r.bookmarks[key] = true
	post.Bookmarks++
	r.posts[postID] = post
	return true, nil
}

func (r *fakePostRepo) ListBookmarks(_ context.Context, accountID int) ([]types.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.Post
	for key := range r.bookmarks {
		if key[0] == accountID {
			out = append(out, r.posts[key[1]])
		}
	}
	return out, nil
}

type fakeImages struct {
	objects map[string][]byte
	deleted []string
}

func newFakeImages() *fakeImages {
	return &fakeImages{objects: map[string][]byte{}}
}

func (f *fakeImages) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.objects[key] = data
	return nil
}

func (f *fakeImages) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("missing object")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeImages) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func validPost() CreatePostInput {
	return CreatePostInput{
		Title:    "Hello",
		Content:  "First post",
		Category: "Travel",
		Tags:     []string{"go", " Go ", "", "news"},
	}
}

func TestPostServiceCreate(t *testing.T) {
	repo := newFakePostRepo()
	svc := NewPostService(repo, nil, zerolog.Nop())

	post, err := svc.Create(context.Background(), 7, validPost())
	require.NoError(t, err)
	assert.Equal(t, 7, post.AuthorID)
	assert.Equal(t, []string{"go", "news"}, post.Tags)
	assert.Equal(t, "Travel", post.Category)
}

func TestPostServiceCreateValidation(t *testing.T) {
	svc := NewPostService(newFakePostRepo(), nil, zerolog.Nop())

	in := validPost()
	in.Title = "  "
	in.Tags = []string{strings.Repeat("x", 31)}
	_, err := svc.Create(context.Background(), 7, in)

	var verr *auth.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "title")
	assert.Contains(t, verr.Fields, "tags")
}

func TestPostServiceListLimits(t *testing.T) {
	repo := newFakePostRepo()
	svc := NewPostService(repo, nil, zerolog.Nop())
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := svc.Create(ctx, 1, validPost())
		require.NoError(t, err)
	}

	latest, err := svc.List(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, latest, LatestPostsLimit)
	assert.Equal(t, 10, latest[0].ID)

	_, err = svc.List(ctx, " travel ", "")
	require.NoError(t, err)
	assert.Equal(t, "travel", repo.lastFilter.Category)
	assert.Greater(t, repo.lastFilter.Limit, LatestPostsLimit)

	_, err = svc.List(ctx, "", "go")
	require.NoError(t, err)
	assert.Equal(t, "go", repo.lastFilter.Tag)
}

func TestPostServiceBookmarkOncePerAccount(t *testing.T) {
	repo := newFakePostRepo()
	svc := NewPostService(repo, nil, zerolog.Nop())
	ctx := context.Background()
	post, err := svc.Create(ctx, 1, validPost())
	require.NoError(t, err)

	created, err := svc.Bookmark(ctx, 2, post.ID)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = svc.Bookmark(ctx, 2, post.ID)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := svc.Get(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Bookmarks)

	bookmarks, err := svc.Bookmarks(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, bookmarks, 1)

	_, err = svc.Bookmark(ctx, 2, 999)
	assert.True(t, IsNotFound(err))
}

func TestPostServiceAttachImage(t *testing.T) {
	repo := newFakePostRepo()
	images := newFakeImages()
	svc := NewPostService(repo, images, zerolog.Nop())
	ctx := context.Background()

	post, err := svc.Create(ctx, 1, validPost())
	require.NoError(t, err)

	author := auth.Principal{AccountID: 1, Roles: []string{"USER"}, Enabled: true}
	stranger := auth.Principal{AccountID: 2, Roles: []string{"USER"}, Enabled: true}
	admin := auth.Principal{AccountID: 3, Roles: []string{"ADMIN"}, Enabled: true}

	_, err = svc.AttachImage(ctx, stranger, post.ID, bytes.NewReader(pngHeader))
	assert.ErrorIs(t, err, auth.ErrForbidden)

	updated, err := svc.AttachImage(ctx, author, post.ID, bytes.NewReader(pngHeader))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(updated.ImageKey, "posts/1/"))
	assert.True(t, strings.HasSuffix(updated.ImageKey, ".png"))
	assert.Contains(t, images.objects, updated.ImageKey)

	again, err := svc.AttachImage(ctx, admin, post.ID, bytes.NewReader(pngHeader))
	require.NoError(t, err)
	assert.Equal(t, updated.ImageKey, again.ImageKey)
	assert.Empty(t, images.deleted)

	gif := []byte("GIF89a\x01\x00\x01\x00")
	replaced, err := svc.AttachImage(ctx, admin, post.ID, bytes.NewReader(gif))
	require.NoError(t, err)
	assert.NotEqual(t, updated.ImageKey, replaced.ImageKey)
	assert.Equal(t, []string{updated.ImageKey}, images.deleted)

	r, contentType, err := svc.Image(ctx, post.ID)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, "image/gif", contentType)
}

func TestPostServiceAttachImageRejectsBadUploads(t *testing.T) {
	repo := newFakePostRepo()
	svc := NewPostService(repo, newFakeImages(), zerolog.Nop())
	ctx := context.Background()
	post, err := svc.Create(ctx, 1, validPost())
	require.NoError(t, err)
	author := auth.Principal{AccountID: 1, Enabled: true}

	cases := map[string][]byte{
		"empty":     nil,
		"text":      []byte("just some text"),
		"too large": append(append([]byte{}, pngHeader...), make([]byte, MaxImageBytes)...),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.AttachImage(ctx, author, post.ID, bytes.NewReader(data))
			assert.ErrorIs(t, err, ErrInvalidImage)
		})
	}
}

func TestPostServiceWithoutStorage(t *testing.T) {
	svc := NewPostService(newFakePostRepo(), nil, zerolog.Nop())

	_, err := svc.AttachImage(context.Background(), auth.Principal{}, 1, bytes.NewReader(pngHeader))
	assert.ErrorIs(t, err, ErrStorageDisabled)

	_, _, err = svc.Image(context.Background(), 1)
	assert.ErrorIs(t, err, ErrStorageDisabled)
}

func TestPostServiceDeleteRemovesImage(t *testing.T) {
	repo := newFakePostRepo()
	images := newFakeImages()
	svc := NewPostService(repo, images, zerolog.Nop())
	ctx := context.Background()

	post, err := svc.Create(ctx, 1, validPost())
	require.NoError(t, err)
	post, err = svc.AttachImage(ctx, auth.Principal{AccountID: 1, Enabled: true}, post.ID, bytes.NewReader(pngHeader))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, post.ID))
	assert.Equal(t, []string{post.ImageKey}, images.deleted)
	assert.True(t, IsNotFound(svc.Delete(ctx, post.ID)))

	_, _, err = svc.Image(ctx, post.ID)
	assert.True(t, IsNotFound(err))
}
