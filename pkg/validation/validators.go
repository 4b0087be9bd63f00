// Package validation checks that an assembled dataset is internally
// consistent.
package validation

import (
	"fmt"
	"strings"

	"github.com/jamesprial/go-social-analytics/pkg/types"
)

// ValidateUser validates a User's fields
func ValidateUser(u *types.User) error {
	if u == nil {
		return fmt.Errorf("user is nil")
	}
	if u.ID == "" {
		return fmt.Errorf("user ID is required")
	}
	return nil
}

// ValidatePost validates a Post's fields
func ValidatePost(p *types.Post) error {
	if p == nil {
		return fmt.Errorf("post is nil")
	}

	var errs []error
	if p.ID == "" {
		errs = append(errs, fmt.Errorf("ID is required"))
	}
	if p.UserID == "" {
		errs = append(errs, fmt.Errorf("UserID is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("post validation failed: %w", joinValidationErrors(errs))
	}
	return nil
}

// ValidateComment validates a Comment belonging to postID
func ValidateComment(c *types.Comment, postID string) error {
	if c == nil {
		return fmt.Errorf("comment is nil")
	}
	if c.PostID != postID {
		return fmt.Errorf("comment %q is filed under post %q but belongs to %q", c.ID, postID, c.PostID)
	}
	return nil
}

// ValidateDataset checks the cross references of ds:
//   - UserOrder lists every key of Users exactly once
//   - every post has a unique ID and is owned by a known user
//   - AuthorName matches the owner's name
//   - every Comments key is a post of ds and its comments point back to it
func ValidateDataset(ds *types.Dataset) error {
	if ds == nil {
		return fmt.Errorf("dataset is nil")
	}

	var errs []error

	if len(ds.UserOrder) != len(ds.Users) {
		errs = append(errs, fmt.Errorf("UserOrder has %d entries for %d users", len(ds.UserOrder), len(ds.Users)))
	}
	ordered := make(map[string]bool, len(ds.UserOrder))
	for _, id := range ds.UserOrder {
		if ordered[id] {
			errs = append(errs, fmt.Errorf("user %q appears twice in UserOrder", id))
		}
		ordered[id] = true
		if _, ok := ds.Users[id]; !ok {
			errs = append(errs, fmt.Errorf("UserOrder names unknown user %q", id))
		}
	}
	for id, u := range ds.Users {
		if err := ValidateUser(&u); err != nil {
			errs = append(errs, fmt.Errorf("user %q: %w", id, err))
		} else if u.ID != id {
			errs = append(errs, fmt.Errorf("user keyed %q has ID %q", id, u.ID))
		}
	}

	posts := make(map[string]bool, len(ds.Posts))
	for i := range ds.Posts {
		p := &ds.Posts[i]
		if err := ValidatePost(p); err != nil {
			errs = append(errs, fmt.Errorf("post %d: %w", i, err))
			continue
		}
		if posts[p.ID] {
			errs = append(errs, fmt.Errorf("post %q appears more than once", p.ID))
		}
		posts[p.ID] = true

		owner, ok := ds.Users[p.UserID]
		if !ok {
			errs = append(errs, fmt.Errorf("post %q is owned by unknown user %q", p.ID, p.UserID))
		} else if p.AuthorName != owner.Name {
			errs = append(errs, fmt.Errorf("post %q has author %q, owner is named %q", p.ID, p.AuthorName, owner.Name))
		}
	}

	for postID, comments := range ds.Comments {
		if !posts[postID] {
			errs = append(errs, fmt.Errorf("comments recorded for unknown post %q", postID))
			continue
		}
		for i := range comments {
			if err := ValidateComment(&comments[i], postID); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("dataset validation failed: %w", joinValidationErrors(errs))
	}
	return nil
}

// joinValidationErrors combines multiple errors into a single error message
func joinValidationErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}

	var msgs []string
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
