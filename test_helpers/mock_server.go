package test_helpers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jamesprial/go-social-analytics/pkg/types"
)

const (
	// TestClientID and TestClientSecret are the credentials the mock auth endpoint accepts.
	TestClientID     = "test_client_id"
	TestClientSecret = "test_client_secret"

	authPath = "/auth"
)

// MockServer is a fake social API. It issues bearer tokens from /auth,
// rejects resource requests that do not carry a live token, and replays
// configured responses per path.
type MockServer struct {
	server *httptest.Server

	mu         sync.Mutex
	responses  map[string][]*MockResponse
	calls      map[string]int
	requestLog []RequestEntry
	delay      time.Duration

	tokens       map[string]bool
	issued       int
	authFailures []*MockResponse

	inFlight    int
	maxInFlight int
}

// RequestEntry logs incoming requests for debugging.
type RequestEntry struct {
	Method       string
	Path         string
	Headers      http.Header
	Body         string
	Timestamp    time.Time
	ResponseCode int
}

// MockResponse defines a mock API response.
type MockResponse struct {
	Status  int
	Body    string
	Headers map[string]string
	Delay   time.Duration
}

// JSON returns a 200 response with body.
func JSON(body string) *MockResponse {
	return &MockResponse{Status: http.StatusOK, Body: body}
}

// Status returns an error response with the given status code.
func Status(code int) *MockResponse {
	return &MockResponse{Status: code, Body: fmt.Sprintf(`{"error":%q}`, http.StatusText(code))}
}

// NewMockServer starts a mock server with no resources configured.
func NewMockServer() *MockServer {
	ms := &MockServer{
		responses: make(map[string][]*MockResponse),
		calls:     make(map[string]int),
		tokens:    make(map[string]bool),
	}
	ms.server = httptest.NewServer(ms)
	return ms
}

// URL returns the base URL of the mock server.
func (ms *MockServer) URL() string {
	return ms.server.URL
}

// Close shuts down the mock server.
func (ms *MockServer) Close() {
	ms.server.Close()
}

// SetResponse configures the response for a path, replacing any sequence.
func (ms *MockServer) SetResponse(path string, response *MockResponse) {
	ms.SetResponses(path, response)
}

// SetResponses configures a sequence of responses for a path. Each request
// consumes the next response; the last one repeats.
func (ms *MockServer) SetResponses(path string, responses ...*MockResponse) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.responses[path] = responses
}

// SetDelay adds delay to all resource responses.
func (ms *MockServer) SetDelay(delay time.Duration) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.delay = delay
}

// FailAuth makes the next len(responses) token exchanges return the given
// responses instead of a token.
func (ms *MockServer) FailAuth(responses ...*MockResponse) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.authFailures = append(ms.authFailures, responses...)
}

// ExpireTokens revokes every token issued so far.
func (ms *MockServer) ExpireTokens() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.tokens = make(map[string]bool)
}

// SetupDataset configures /users, /users/{id}/posts and /posts/{id}/comments
// from the given data. Users are written in the order given. Posts of users
// missing from posts get an empty list; comments of posts missing from
// comments get an empty list.
func (ms *MockServer) SetupDataset(users []types.User, posts map[string][]types.Post, comments map[string][]types.Comment) {
	var b strings.Builder
	b.WriteString(`{"users":{`)
	for i, u := range users {
		if i > 0 {
			b.WriteByte(',')
		}
		key, _ := json.Marshal(u.ID)
		entry, _ := json.Marshal(map[string]string{"name": u.Name})
		b.Write(key)
		b.WriteByte(':')
		b.Write(entry)
	}
	b.WriteString(`}}`)
	ms.SetResponse("/users", JSON(b.String()))

	for _, u := range users {
		userPosts := posts[u.ID]
		payload := make([]map[string]string, 0, len(userPosts))
		for _, p := range userPosts {
			payload = append(payload, map[string]string{"id": p.ID, "userId": u.ID, "content": p.Content})
			postComments := comments[p.ID]
			cpayload := make([]map[string]string, 0, len(postComments))
			for _, c := range postComments {
				cpayload = append(cpayload, map[string]string{"id": c.ID, "postId": p.ID, "content": c.Content})
			}
			body, _ := json.Marshal(map[string]any{"comments": cpayload})
			ms.SetResponse("/posts/"+url.PathEscape(p.ID)+"/comments", JSON(string(body)))
		}
		body, _ := json.Marshal(map[string]any{"posts": payload})
		ms.SetResponse("/users/"+url.PathEscape(u.ID)+"/posts", JSON(string(body)))
	}
}

// CallCount returns the number of requests received for path.
func (ms *MockServer) CallCount(path string) int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.calls[path]
}

// AuthCount returns the number of token exchanges attempted.
func (ms *MockServer) AuthCount() int {
	return ms.CallCount(authPath)
}

// MaxInFlight returns the peak number of concurrent resource requests.
func (ms *MockServer) MaxInFlight() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.maxInFlight
}

// GetRequestLog returns the request log.
func (ms *MockServer) GetRequestLog() []RequestEntry {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]RequestEntry{}, ms.requestLog...)
}

// ClearLog clears the request log and call counts.
func (ms *MockServer) ClearLog() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.requestLog = ms.requestLog[:0]
	ms.calls = make(map[string]int)
	ms.maxInFlight = 0
}

// ServeHTTP implements http.Handler.
func (ms *MockServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	entry := RequestEntry{
		Method:    r.Method,
		Path:      r.URL.EscapedPath(),
		Headers:   r.Header.Clone(),
		Timestamp: time.Now(),
	}
	if r.Body != nil {
		body, _ := io.ReadAll(io.LimitReader(r.Body, 1024))
		entry.Body = string(body)
	}

	status := ms.serve(w, r, entry)

	entry.ResponseCode = status
	ms.mu.Lock()
	ms.requestLog = append(ms.requestLog, entry)
	ms.mu.Unlock()
}

func (ms *MockServer) serve(w http.ResponseWriter, r *http.Request, entry RequestEntry) int {
	path := entry.Path

	ms.mu.Lock()
	idx := ms.calls[path]
	ms.calls[path]++
	ms.mu.Unlock()

	if path == authPath {
		return ms.serveAuth(w, r, entry.Body)
	}

	ms.mu.Lock()
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	authorized := ms.tokens[token]
	script := ms.responses[path]
	delay := ms.delay
	ms.inFlight++
	if ms.inFlight > ms.maxInFlight {
		ms.maxInFlight = ms.inFlight
	}
	ms.mu.Unlock()
	defer func() {
		ms.mu.Lock()
		ms.inFlight--
		ms.mu.Unlock()
	}()

	if !authorized {
		return write(w, Status(http.StatusUnauthorized))
	}
	if len(script) == 0 {
		return write(w, Status(http.StatusNotFound))
	}
	if idx >= len(script) {
		idx = len(script) - 1
	}
	resp := script[idx]

	if total := delay + resp.Delay; total > 0 {
		select {
		case <-time.After(total):
		case <-r.Context().Done():
			return http.StatusServiceUnavailable
		}
	}
	return write(w, resp)
}

func (ms *MockServer) serveAuth(w http.ResponseWriter, r *http.Request, body string) int {
	if r.Method != http.MethodPost {
		return write(w, Status(http.StatusMethodNotAllowed))
	}

	ms.mu.Lock()
	if len(ms.authFailures) > 0 {
		resp := ms.authFailures[0]
		ms.authFailures = ms.authFailures[1:]
		ms.mu.Unlock()
		return write(w, resp)
	}
	ms.mu.Unlock()

	var creds struct {
		ClientID     string `json:"clientId"`
		ClientSecret string `json:"clientSecret"`
	}
	if err := json.Unmarshal([]byte(body), &creds); err != nil {
		return write(w, Status(http.StatusBadRequest))
	}
	if creds.ClientID != TestClientID || creds.ClientSecret != TestClientSecret {
		return write(w, Status(http.StatusUnauthorized))
	}

	ms.mu.Lock()
	ms.issued++
	token := fmt.Sprintf("token-%d", ms.issued)
	ms.tokens[token] = true
	ms.mu.Unlock()

	return write(w, JSON(fmt.Sprintf(`{"token":%q,"expires_in":300}`, token)))
}

func write(w http.ResponseWriter, resp *MockResponse) int {
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write([]byte(resp.Body))
	return resp.Status
}
