package types

import (
	"encoding/json"
	"testing"
)

func TestID_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      ID
		wantError bool
	}{
		{name: "string", input: `"abc"`, want: "abc"},
		{name: "integer", input: `42`, want: "42"},
		{name: "large integer", input: `1234567890123`, want: "1234567890123"},
		{name: "null", input: `null`, want: ""},
		{name: "boolean", input: `true`, wantError: true},
		{name: "object", input: `{"id":1}`, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var id ID
			err := json.Unmarshal([]byte(tt.input), &id)

			if (err != nil) != tt.wantError {
				t.Fatalf("ID.UnmarshalJSON() error = %v, wantError %v", err, tt.wantError)
			}
			if !tt.wantError && id != tt.want {
				t.Errorf("ID.UnmarshalJSON() = %q, want %q", id, tt.want)
			}
		})
	}
}

func TestUserEntry_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      string
		wantError bool
	}{
		{name: "bare string", input: `"Alice"`, want: "Alice"},
		{name: "object with name", input: `{"name":"Bob","email":"b@example.com"}`, want: "Bob"},
		{name: "object with empty name", input: `{"name":""}`, want: ""},
		{name: "object without name", input: `{"email":"x"}`, wantError: true},
		{name: "number", input: `7`, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var u UserEntry
			err := json.Unmarshal([]byte(tt.input), &u)

			if (err != nil) != tt.wantError {
				t.Fatalf("UserEntry.UnmarshalJSON() error = %v, wantError %v", err, tt.wantError)
			}
			if !tt.wantError && u.Name != tt.want {
				t.Errorf("UserEntry.UnmarshalJSON() = %q, want %q", u.Name, tt.want)
			}
		})
	}
}

func TestPostPayload_NumericIDs(t *testing.T) {
	var p PostPayload
	if err := json.Unmarshal([]byte(`{"id":150,"userId":1,"content":"hi"}`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.ID != "150" || p.UserID != "1" {
		t.Errorf("expected numeric ids to decode as strings, got %q/%q", p.ID, p.UserID)
	}
	if p.Content != "hi" {
		t.Errorf("unexpected content %q", p.Content)
	}
}

func TestDataset_CommentCount(t *testing.T) {
	ds := NewDataset()
	ds.Comments["fetched"] = []Comment{{ID: "c1"}, {ID: "c2"}}
	ds.Comments["empty"] = []Comment{}

	tests := []struct {
		postID      string
		wantCount   int
		wantFetched bool
	}{
		{"fetched", 2, true},
		{"empty", 0, true},
		{"absent", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.postID, func(t *testing.T) {
			if got := ds.CommentCount(tt.postID); got != tt.wantCount {
				t.Errorf("CommentCount(%q) = %d, want %d", tt.postID, got, tt.wantCount)
			}
			if got := ds.HasComments(tt.postID); got != tt.wantFetched {
				t.Errorf("HasComments(%q) = %v, want %v", tt.postID, got, tt.wantFetched)
			}
		})
	}

	var nilDS *Dataset
	if nilDS.CommentCount("x") != 0 || nilDS.HasComments("x") {
		t.Error("nil dataset should report no comments")
	}
}
