package types

import "time"

// Post is a blog article written by an account.
type Post struct {
	// ID is the unique identifier of the post.
	ID int `json:"id" db:"id"`

	// AuthorID references the account that wrote the post.
	AuthorID int `json:"author_id" db:"author_id"`

	Title    string `json:"title" db:"title"`
	Subtitle string `json:"subtitle" db:"subtitle"`
	Content  string `json:"content" db:"content"`
	ReadTime string `json:"read_time" db:"read_time"`
	Category string `json:"category" db:"category"`
	Featured bool   `json:"featured" db:"featured"`

	// ImageKey is the object storage key of the cover image, if any.
	ImageKey string `json:"image_key,omitempty" db:"image_key"`

	// Tags are free-form labels, matched case-insensitively.
	Tags []string `json:"tags" db:"tags"`

	Likes     int `json:"likes" db:"likes"`
	Bookmarks int `json:"bookmarks" db:"bookmarks"`
	Shares    int `json:"shares" db:"shares"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
