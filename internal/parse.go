package internal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	pkgerrs "github.com/jamesprial/go-social-analytics/pkg/errors"
	"github.com/jamesprial/go-social-analytics/pkg/types"
)

// Parser decodes the analytics API response envelopes.
type Parser struct{}

// NewParser creates a new parser instance
func NewParser() *Parser {
	return &Parser{}
}

// ParseUsers decodes a {"users": {...}} envelope. It returns the users keyed by
// ID together with the iteration order of the mapping: canonical integer keys
// ascending first, then every other key in document order.
func (p *Parser) ParseUsers(path string, raw []byte) (map[string]types.User, []string, error) {
	var envelope struct {
		Users json.RawMessage `json:"users"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, nil, &pkgerrs.MalformedResponseError{Path: path, Err: err}
	}
	if len(envelope.Users) == 0 || bytes.Equal(bytes.TrimSpace(envelope.Users), []byte("null")) {
		return nil, nil, &pkgerrs.MalformedResponseError{Path: path, Message: "response has no users field"}
	}

	dec := json.NewDecoder(bytes.NewReader(envelope.Users))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, &pkgerrs.MalformedResponseError{Path: path, Err: err}
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, &pkgerrs.MalformedResponseError{Path: path, Message: "users field is not an object"}
	}

	users := make(map[string]types.User)
	var order []string
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, nil, &pkgerrs.MalformedResponseError{Path: path, Err: err}
		}
		id, _ := keyTok.(string)

		var entry types.UserEntry
		if err := dec.Decode(&entry); err != nil {
			return nil, nil, &pkgerrs.MalformedResponseError{Path: path, Message: fmt.Sprintf("user %q", id), Err: err}
		}

		if _, seen := users[id]; !seen {
			order = append(order, id)
		}
		users[id] = types.User{ID: id, Name: entry.Name}
	}

	return users, iterationOrder(order), nil
}

// iterationOrder orders keys the way a JavaScript object iterates them:
// array-index keys ascending, then the remaining keys in insertion order.
func iterationOrder(keys []string) []string {
	var indexKeys, otherKeys []string
	for _, k := range keys {
		if isArrayIndex(k) {
			indexKeys = append(indexKeys, k)
		} else {
			otherKeys = append(otherKeys, k)
		}
	}
	sort.SliceStable(indexKeys, func(i, j int) bool {
		a, _ := strconv.ParseUint(indexKeys[i], 10, 32)
		b, _ := strconv.ParseUint(indexKeys[j], 10, 32)
		return a < b
	})
	return append(indexKeys, otherKeys...)
}

// isArrayIndex reports whether k is a canonical unsigned integer below 2^32-1.
func isArrayIndex(k string) bool {
	if k == "" || (len(k) > 1 && k[0] == '0') {
		return false
	}
	n, err := strconv.ParseUint(k, 10, 32)
	if err != nil {
		return false
	}
	return n < 1<<32-1
}

// ParsePosts decodes a {"posts": [...]} envelope for ownerID. A missing or
// null posts field means the user has no posts. Entries without an id cannot
// be addressed later and are dropped.
func (p *Parser) ParsePosts(path, ownerID string, raw []byte) ([]types.Post, error) {
	var envelope struct {
		Posts *[]types.PostPayload `json:"posts"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &pkgerrs.MalformedResponseError{Path: path, Err: err}
	}
	if envelope.Posts == nil {
		return []types.Post{}, nil
	}

	posts := make([]types.Post, 0, len(*envelope.Posts))
	for _, payload := range *envelope.Posts {
		if payload.ID == "" {
			continue
		}
		posts = append(posts, types.Post{
			ID:      string(payload.ID),
			UserID:  ownerID,
			Content: payload.Content,
		})
	}
	return posts, nil
}

// ParseComments decodes a {"comments": [...]} envelope for postID. Unlike
// posts, a missing comments field is malformed: the post's count would
// otherwise be recorded as a confirmed zero.
func (p *Parser) ParseComments(path, postID string, raw []byte) ([]types.Comment, error) {
	var envelope struct {
		Comments *[]types.CommentPayload `json:"comments"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &pkgerrs.MalformedResponseError{Path: path, Err: err}
	}
	if envelope.Comments == nil {
		return nil, &pkgerrs.MalformedResponseError{Path: path, Message: "response has no comments field"}
	}

	comments := make([]types.Comment, 0, len(*envelope.Comments))
	for _, payload := range *envelope.Comments {
		comments = append(comments, types.Comment{
			ID:      string(payload.ID),
			PostID:  postID,
			Content: payload.Content,
		})
	}
	return comments, nil
}
