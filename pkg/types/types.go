package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// User is a member of the social network, keyed by ID in a Dataset.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Post is a single post. AuthorName is copied from the owning User when the
// post is merged into a Dataset.
type Post struct {
	ID         string `json:"id"`
	UserID     string `json:"userId"`
	Content    string `json:"content"`
	AuthorName string `json:"authorName"`
}

// Comment is a single comment on a post.
type Comment struct {
	ID      string `json:"id"`
	PostID  string `json:"postId"`
	Content string `json:"content"`
}

// Dataset is one internally consistent snapshot of users, posts and comments
// produced by a single fetch run.
//
// A post ID with no entry in Comments means its comments were never fetched
// or the fetch failed. An entry holding an empty slice means the post was
// fetched and has zero comments.
type Dataset struct {
	Users     map[string]User      `json:"users"`
	UserOrder []string             `json:"userOrder"` // iteration order of the users mapping
	Posts     []Post               `json:"posts"`
	Comments  map[string][]Comment `json:"commentsByPost"`
}

// NewDataset returns an empty Dataset with initialized maps.
func NewDataset() *Dataset {
	return &Dataset{
		Users:    make(map[string]User),
		Posts:    []Post{},
		Comments: make(map[string][]Comment),
	}
}

// CommentCount returns the number of comments recorded for postID. Posts whose
// comments are absent count as zero.
func (d *Dataset) CommentCount(postID string) int {
	if d == nil {
		return 0
	}
	return len(d.Comments[postID])
}

// HasComments reports whether comments for postID were fetched successfully.
func (d *Dataset) HasComments(postID string) bool {
	if d == nil {
		return false
	}
	_, ok := d.Comments[postID]
	return ok
}

// UserRanking is one row of the top users ranking.
type UserRanking struct {
	UserID        string `json:"userId"`
	UserName      string `json:"userName"`
	TotalComments int    `json:"totalComments"`
}

// PostRanking is a post together with its comment count.
type PostRanking struct {
	Post
	CommentCount int `json:"commentCount"`
}

// Snapshot is a Dataset as published to readers, tagged with the run that
// produced it.
type Snapshot struct {
	Dataset   *Dataset
	Seq       uint64
	RunID     string
	FetchedAt time.Time
}

// ID is an identifier that the API may encode either as a JSON string or as a
// JSON number. Both decode to the same string form.
type ID string

// UnmarshalJSON implements json.Unmarshaler to accept string, number and null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("unrecognized type for id field: %s", data)
	}
	*id = ID(n.String())
	return nil
}

// UserEntry is the value side of the users mapping. The API returns either a
// bare name string or an object carrying a name field.
type UserEntry struct {
	Name string
}

// UnmarshalJSON implements json.Unmarshaler for both accepted shapes.
func (u *UserEntry) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &u.Name)
	}

	var obj struct {
		Name *string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("unrecognized user entry: %s", data)
	}
	if obj.Name == nil {
		return fmt.Errorf("user entry has no name: %s", data)
	}
	u.Name = *obj.Name
	return nil
}

// PostPayload is a post as returned by the posts endpoint. UserID is decoded
// but the owner is taken from the request path.
type PostPayload struct {
	ID      ID     `json:"id"`
	UserID  ID     `json:"userId"`
	Content string `json:"content"`
}

// CommentPayload is a comment as returned by the comments endpoint.
type CommentPayload struct {
	ID      ID     `json:"id"`
	PostID  ID     `json:"postId"`
	Content string `json:"content"`
}
