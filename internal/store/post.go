package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/quillpress/apiserver/types"
)

// PostFilter narrows a post listing. Category takes precedence over Tag.
type PostFilter struct {
	Category string
	Tag      string
	Limit    int
}

// PostRepository handles persistence for posts and bookmarks.
type PostRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) *PostRepository {
	return &PostRepository{db: db}
}

const postColumns = `p.id, p.author_id, p.title, p.subtitle, p.content, p.read_time, p.category, p.featured,
		p.image_key, p.tags, p.likes, p.bookmarks, p.shares, p.created_at, p.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (types.Post, error) {
	var post types.Post
	var tagsJSON []byte
	if err := row.Scan(
		&post.ID,
		&post.AuthorID,
		&post.Title,
		&post.Subtitle,
		&post.Content,
		&post.ReadTime,
		&post.Category,
		&post.Featured,
		&post.ImageKey,
		&tagsJSON,
		&post.Likes,
		&post.Bookmarks,
		&post.Shares,
		&post.CreatedAt,
		&post.UpdatedAt,
	); err != nil {
		return types.Post{}, err
	}
	_ = json.Unmarshal(tagsJSON, &post.Tags)
	return post, nil
}

// List returns the newest posts matching filter.
func (r *PostRepository) List(ctx context.Context, filter PostFilter) ([]types.Post, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 20
	}

	var (
		rows *sql.Rows
		err  error
	)
	switch {
	case strings.TrimSpace(filter.Category) != "":
		query := `SELECT ` + postColumns + `
			FROM posts p
			WHERE lower(p.category) = lower($1)
			ORDER BY p.created_at DESC, p.id DESC
			LIMIT $2`
		rows, err = r.db.QueryContext(ctx, query, strings.TrimSpace(filter.Category), limit)
	case strings.TrimSpace(filter.Tag) != "":
		query := `SELECT ` + postColumns + `
			FROM posts p
			WHERE EXISTS (
				SELECT 1 FROM jsonb_array_elements_text(p.tags) AS t(name)
				WHERE lower(t.name) = lower($1))
			ORDER BY p.created_at DESC, p.id DESC
			LIMIT $2`
		rows, err = r.db.QueryContext(ctx, query, strings.TrimSpace(filter.Tag), limit)
	default:
		query := `SELECT ` + postColumns + `
			FROM posts p
			ORDER BY p.created_at DESC, p.id DESC
			LIMIT $1`
		rows, err = r.db.QueryContext(ctx, query, limit)
	}
	if err != nil {
		return nil, err
	}
	return collectPosts(rows, limit)
}

func collectPosts(rows *sql.Rows, capacity int) ([]types.Post, error) {
	defer rows.Close()

	posts := make([]types.Post, 0, capacity)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return posts, nil
}

func (r *PostRepository) Get(ctx context.Context, id int) (types.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts p WHERE p.id = $1`
	post, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Post{}, ErrNotFound
		}
		return types.Post{}, err
	}
	return post, nil
}

func (r *PostRepository) Create(ctx context.Context, post types.Post) (types.Post, error) {
	now := time.Now()
	post.CreatedAt = now
	post.UpdatedAt = now
	if post.Tags == nil {
		post.Tags = []string{}
	}

	tagsJSON, err := json.Marshal(post.Tags)
	if err != nil {
		return types.Post{}, err
	}

	const query = `
		INSERT INTO posts (author_id, title, subtitle, content, read_time, category, featured, image_key, tags,
			likes, bookmarks, shares, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, 0, 0, $10, $11)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		post.AuthorID,
		post.Title,
		post.Subtitle,
		post.Content,
		post.ReadTime,
		post.Category,
		post.Featured,
		post.ImageKey,
		tagsJSON,
		post.CreatedAt,
		post.UpdatedAt,
	).Scan(&post.ID); err != nil {
		return types.Post{}, err
	}
	return post, nil
}

// SetImage records the object key of the post's cover image.
func (r *PostRepository) SetImage(ctx context.Context, id int, key string) error {
	const query = `UPDATE posts SET image_key = $1, updated_at = $2 WHERE id = $3`
	return execAffectingOne(ctx, r.db, query, key, time.Now(), id)
}

func (r *PostRepository) Delete(ctx context.Context, id int) error {
	const query = `DELETE FROM posts WHERE id = $1`
	return execAffectingOne(ctx, r.db, query, id)
}

// Bookmark links the post to the account and bumps its counter. It reports
// false when the bookmark already existed.
func (r *PostRepository) Bookmark(ctx context.Context, accountID, postID int) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO bookmarks (account_id, post_id, created_at)
		SELECT $1, id, $3 FROM posts WHERE id = $2
		ON CONFLICT (account_id, post_id) DO NOTHING`, accountID, postID, time.Now())
	if err != nil {
		return false, err
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	if inserted == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM posts WHERE id = $1)`, postID).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, ErrNotFound
		}
		return false, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `UPDATE posts SET bookmarks = bookmarks + 1 WHERE id = $1`, postID); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// ListBookmarks returns the posts bookmarked by the account, newest bookmark first.
func (r *PostRepository) ListBookmarks(ctx context.Context, accountID int) ([]types.Post, error) {
	query := `SELECT ` + postColumns + `
		FROM posts p
		JOIN bookmarks b ON b.post_id = p.id
		WHERE b.account_id = $1
		ORDER BY b.created_at DESC, p.id DESC`
	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	return collectPosts(rows, 0)
}
