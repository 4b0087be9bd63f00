package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	analytics "github.com/jamesprial/go-social-analytics"
	"github.com/jamesprial/go-social-analytics/pkg/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeBackend struct {
	mu         sync.Mutex
	state      analytics.State
	searchErr  error
	lastLimit  int
	lastQuery  string
	refreshErr error
	refreshed  chan struct{}
	gate       chan struct{}
	refreshes  atomic.Int32
}

func newFakeBackend() *fakeBackend {
	fetched := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &fakeBackend{
		state: analytics.State{
			Users: map[string]types.User{
				"1": {ID: "1", Name: "alice"},
				"2": {ID: "2", Name: "bob"},
			},
			UserOrder: []string{"1", "2"},
			Posts: []types.Post{
				{ID: "10", UserID: "1", Content: "hello", AuthorName: "alice"},
				{ID: "20", UserID: "2", Content: "world", AuthorName: "bob"},
			},
			CommentsByPost: map[string][]types.Comment{
				"10": {{ID: "100", PostID: "10", Content: "hi"}},
			},
			Ready:     true,
			FetchedAt: fetched,
			RunID:     "run-1",
		},
		refreshed: make(chan struct{}, 16),
	}
}

func (f *fakeBackend) State() analytics.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeBackend) Refresh(ctx context.Context) error {
	f.refreshes.Add(1)
	defer func() { f.refreshed <- struct{}{} }()
	if f.gate != nil {
		<-f.gate
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return f.refreshErr
}

func (f *fakeBackend) TopUsers(limit int) []types.UserRanking {
	f.record("", limit)
	rows := []types.UserRanking{
		{UserID: "1", UserName: "alice", TotalComments: 1},
		{UserID: "2", UserName: "bob", TotalComments: 0},
	}
	if limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

func (f *fakeBackend) TrendingPosts(limit int) []types.PostRanking {
	f.record("", limit)
	rows := f.Feed()
	if limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

func (f *fakeBackend) Feed() []types.PostRanking {
	st := f.State()
	rows := make([]types.PostRanking, 0, len(st.Posts))
	for _, p := range st.Posts {
		rows = append(rows, types.PostRanking{Post: p, CommentCount: len(st.CommentsByPost[p.ID])})
	}
	return rows
}

func (f *fakeBackend) SearchPosts(query string, limit int) ([]analytics.SearchResult, error) {
	f.record(query, limit)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	post := f.State().Posts[0]
	return []analytics.SearchResult{{PostRanking: types.PostRanking{Post: post, CommentCount: 1}, Score: 1.5}}, nil
}

func (f *fakeBackend) record(query string, limit int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = query
	f.lastLimit = limit
}

func do(t *testing.T, s *Server, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var body map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	s := New(newFakeBackend(), nil)
	rec, body := do(t, s, http.MethodGet, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestState(t *testing.T) {
	backend := newFakeBackend()
	s := New(backend, nil)

	rec, body := do(t, s, http.MethodGet, "/api/state")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []any{"1", "2"}, body["userOrder"])
	assert.Len(t, body["posts"], 2)
	assert.Equal(t, false, body["loading"])
	assert.Equal(t, true, body["ready"])
	assert.Nil(t, body["error"])
	assert.Equal(t, "2026-01-02T03:04:05Z", body["fetchedAt"])
	assert.Equal(t, "run-1", body["runId"])

	comments := body["commentsByPost"].(map[string]any)
	assert.Contains(t, comments, "10")
	assert.NotContains(t, comments, "20")
}

func TestStateWithError(t *testing.T) {
	backend := newFakeBackend()
	backend.state = analytics.State{Loading: true, Err: errors.New("users endpoint down")}
	s := New(backend, nil)

	rec, body := do(t, s, http.MethodGet, "/api/state")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, true, body["loading"])
	assert.Equal(t, false, body["ready"])
	assert.Equal(t, "users endpoint down", body["error"])
	assert.Nil(t, body["fetchedAt"])
	assert.NotContains(t, body, "runId")
}

func TestRefresh(t *testing.T) {
	backend := newFakeBackend()
	backend.refreshErr = errors.New("boom")
	s := New(backend, nil)

	rec, body := do(t, s, http.MethodPost, "/api/refresh")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "refreshing", body["status"])

	select {
	case <-backend.refreshed:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh was not started")
	}
}

func TestRefreshCoalescesConcurrentRequests(t *testing.T) {
	backend := newFakeBackend()
	backend.gate = make(chan struct{})
	s := New(backend, nil)

	for i := 0; i < 5; i++ {
		rec, body := do(t, s, http.MethodPost, "/api/refresh")
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "refreshing", body["status"])
	}

	close(backend.gate)
	select {
	case <-backend.refreshed:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh was not started")
	}
	assert.Equal(t, int32(1), backend.refreshes.Load(), "requests during a running refresh join it")

	// Once settled, the next request starts a new run.
	require.Eventually(t, func() bool {
		do(t, s, http.MethodPost, "/api/refresh")
		return backend.refreshes.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
	<-backend.refreshed
}

func TestRefreshRejectsGet(t *testing.T) {
	s := New(newFakeBackend(), nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/refresh", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRankings(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		key       string
		wantLen   int
		wantLimit int
	}{
		{name: "top users default", target: "/api/top-users", key: "users", wantLen: 2, wantLimit: 5},
		{name: "top users limited", target: "/api/top-users?limit=1", key: "users", wantLen: 1, wantLimit: 1},
		{name: "trending default", target: "/api/trending-posts", key: "posts", wantLen: 2, wantLimit: 5},
		{name: "trending limited", target: "/api/trending-posts?limit=1", key: "posts", wantLen: 1, wantLimit: 1},
		{name: "max limit", target: "/api/trending-posts?limit=100", key: "posts", wantLen: 2, wantLimit: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend()
			s := New(backend, nil)

			rec, body := do(t, s, http.MethodGet, tt.target)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Len(t, body[tt.key], tt.wantLen)
			assert.Equal(t, tt.wantLimit, backend.lastLimit)
		})
	}
}

func TestRankingRowShape(t *testing.T) {
	s := New(newFakeBackend(), nil)

	_, body := do(t, s, http.MethodGet, "/api/top-users?limit=1")
	row := body["users"].([]any)[0].(map[string]any)
	assert.Equal(t, "1", row["userId"])
	assert.Equal(t, "alice", row["userName"])
	assert.Equal(t, float64(1), row["totalComments"])

	_, body = do(t, s, http.MethodGet, "/api/trending-posts?limit=1")
	post := body["posts"].([]any)[0].(map[string]any)
	assert.Equal(t, "10", post["id"])
	assert.Equal(t, "alice", post["authorName"])
	assert.Equal(t, float64(1), post["commentCount"])
}

func TestInvalidLimit(t *testing.T) {
	targets := []string{
		"/api/top-users?limit=0",
		"/api/top-users?limit=-3",
		"/api/top-users?limit=101",
		"/api/trending-posts?limit=abc",
		"/api/search?q=hello&limit=0",
	}
	for _, target := range targets {
		t.Run(target, func(t *testing.T) {
			s := New(newFakeBackend(), nil)
			rec, body := do(t, s, http.MethodGet, target)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestFeed(t *testing.T) {
	s := New(newFakeBackend(), nil)
	rec, body := do(t, s, http.MethodGet, "/api/feed")
	require.Equal(t, http.StatusOK, rec.Code)

	posts := body["posts"].([]any)
	require.Len(t, posts, 2)
	assert.Equal(t, "10", posts[0].(map[string]any)["id"])
	assert.Equal(t, float64(0), posts[1].(map[string]any)["commentCount"])
}

func TestSearch(t *testing.T) {
	backend := newFakeBackend()
	s := New(backend, nil)

	rec, body := do(t, s, http.MethodGet, "/api/search?q=hello")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", body["query"])
	assert.Equal(t, "hello", backend.lastQuery)
	assert.Equal(t, defaultSearchLimit, backend.lastLimit)

	results := body["results"].([]any)
	require.Len(t, results, 1)
	hit := results[0].(map[string]any)
	assert.Equal(t, "10", hit["id"])
	assert.Equal(t, 1.5, hit["score"])
}

func TestSearchErrors(t *testing.T) {
	t.Run("missing query", func(t *testing.T) {
		s := New(newFakeBackend(), nil)
		rec, body := do(t, s, http.MethodGet, "/api/search")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "q is required", body["error"])
	})

	t.Run("backend error", func(t *testing.T) {
		backend := newFakeBackend()
		backend.searchErr = errors.New("search: bad query")
		s := New(backend, nil)
		rec, body := do(t, s, http.MethodGet, "/api/search?q=content:")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "search: bad query", body["error"])
	})
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	s := New(newFakeBackend(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
