package analytics

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jamesprial/go-social-analytics/internal"
	pkgerrs "github.com/jamesprial/go-social-analytics/pkg/errors"
	"github.com/jamesprial/go-social-analytics/pkg/types"
	"github.com/jamesprial/go-social-analytics/pkg/validation"
)

const (
	// DefaultBaseURL is the default analytics API base URL
	DefaultBaseURL = "http://20.244.56.144/evaluation-service/"
	// DefaultUserAgent is the default user agent string
	DefaultUserAgent = "go-social-analytics/0.1"
	// DefaultTimeout is the default HTTP client timeout
	DefaultTimeout = 30 * time.Second
	// DefaultUserLimit is how many users a refresh covers by default
	DefaultUserLimit = internal.DefaultUserLimit
	// DefaultRankingLimit is the default length of a ranking
	DefaultRankingLimit = 5
)

// RateLimitConfig controls how requests are throttled before reaching the API.
type RateLimitConfig = internal.RateLimitConfig

// Config holds the configuration for the analytics client.
//
// Only ClientID and ClientSecret are required:
//
//	config := &Config{
//		ClientID:     "your-client-id",
//		ClientSecret: "your-client-secret",
//	}
type Config struct {
	// ClientID and ClientSecret are exchanged for a bearer token.
	ClientID     string
	ClientSecret string

	// BaseURL for the API. Defaults to DefaultBaseURL.
	BaseURL string

	// AuthPath is the token endpoint relative to BaseURL. Defaults to "auth".
	AuthPath string

	// UserAgent identifies the application. Defaults to DefaultUserAgent.
	UserAgent string

	// UserLimit is how many users each refresh covers, in mapping order.
	// Defaults to DefaultUserLimit.
	UserLimit int

	// MaxConcurrentComments caps in-flight comment requests for one user.
	// Zero issues one request per post at once.
	MaxConcurrentComments int

	// MaxResponseBytes caps the size of a single response body. Larger
	// responses fail with *errors.ResponseTooLargeError. Defaults to 64 MiB.
	MaxResponseBytes int64

	// RateLimit throttles outgoing requests. Defaults to 600 requests per minute.
	RateLimit *RateLimitConfig

	// HTTPClient to use for requests.
	// Defaults to a client with DefaultTimeout if not specified.
	HTTPClient *http.Client

	// Logger for structured diagnostics.
	// Optional. Nothing is logged if nil.
	Logger *slog.Logger
}

// State is what a rendering layer needs to draw the dashboard: the last
// published dataset plus loading and error indicators.
type State struct {
	Users          map[string]types.User
	UserOrder      []string
	Posts          []types.Post
	CommentsByPost map[string][]types.Comment
	Loading        bool

	// Ready is false until the first refresh has published or failed.
	Ready bool

	// Err is the fatal error of the most recent refresh, if it failed.
	Err       error
	FetchedAt time.Time
	RunID     string
}

// SearchResult is a post matched by SearchPosts.
type SearchResult struct {
	types.PostRanking
	Score float64 `json:"score"`
}

// Client refreshes the dataset from the API and serves rankings over the
// most recently published dataset. It is safe for concurrent use.
type Client struct {
	config       *Config
	session      *internal.Session
	orchestrator *internal.Orchestrator
	store        *internal.Store
	index        *internal.PostIndex
	logger       *slog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewClient validates config, fills in defaults and returns a client holding
// an empty dataset. No request is made until Refresh is called.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, &pkgerrs.ConfigError{Message: "config cannot be nil"}
	}
	cfg := *config

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.UserLimit == 0 {
		cfg.UserLimit = DefaultUserLimit
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	validator := internal.NewValidator()
	if err := validator.ValidateBaseURL(cfg.BaseURL); err != nil {
		return nil, err
	}
	if err := validator.ValidateUserAgent(cfg.UserAgent); err != nil {
		return nil, &pkgerrs.ConfigError{Field: "UserAgent", Message: err.Error()}
	}
	if err := validator.ValidateUserLimit(cfg.UserLimit); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrentComments < 0 {
		return nil, &pkgerrs.ConfigError{Field: "MaxConcurrentComments", Message: "cannot be negative"}
	}
	if cfg.MaxResponseBytes < 0 {
		return nil, &pkgerrs.ConfigError{Field: "MaxResponseBytes", Message: "cannot be negative"}
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}

	creds, err := internal.NewCredentials(cfg.ClientID, cfg.ClientSecret)
	if err != nil {
		return nil, err
	}

	auth, err := internal.NewAuthenticator(cfg.HTTPClient, creds, cfg.UserAgent, cfg.BaseURL, cfg.AuthPath, cfg.Logger)
	if err != nil {
		return nil, err
	}

	fetcher, err := internal.NewClient(cfg.HTTPClient, cfg.BaseURL, cfg.UserAgent, cfg.RateLimit, cfg.Logger)
	if err != nil {
		return nil, err
	}

	fetcher.MaxResponseBytes = cfg.MaxResponseBytes

	index, err := internal.NewPostIndex(cfg.Logger)
	if err != nil {
		return nil, err
	}

	session := internal.NewSession(auth, cfg.Logger)
	orchestrator := internal.NewOrchestrator(session, fetcher, internal.OrchestratorConfig{
		UserLimit:             cfg.UserLimit,
		MaxConcurrentComments: cfg.MaxConcurrentComments,
		Logger:                cfg.Logger,
	})

	return &Client{
		config:       &cfg,
		session:      session,
		orchestrator: orchestrator,
		store:        internal.NewStore(),
		index:        index,
		logger:       cfg.Logger,
	}, nil
}

// Refresh fetches a new dataset and publishes it. The error is the run's
// fatal error, if any; per-user and per-post failures only leave data missing.
//
// Refreshes may overlap. Each takes a sequence number when it starts, and a
// run never replaces the result of a run that started after it.
func (c *Client) Refresh(ctx context.Context) error {
	if c.closed.Load() {
		return &pkgerrs.StateError{Operation: "Refresh", Message: "client is closed"}
	}
	seq := c.store.Begin()
	runID := uuid.NewString()
	logger := c.logger.With("run_id", runID, "seq", seq)

	ds, err := c.orchestrator.Run(ctx, runID)
	if err != nil {
		logger.Error("refresh failed", "error", err)
		if !c.store.Fail(seq, err) {
			logger.Debug("newer refresh already settled, error not recorded")
		}
		return err
	}

	if err := validation.ValidateDataset(ds); err != nil {
		logger.Warn("dataset is inconsistent", "error", err)
	}

	snap := types.Snapshot{Dataset: ds, RunID: runID, FetchedAt: time.Now().UTC()}
	if !c.store.Publish(seq, snap) {
		logger.Info("discarded stale dataset", "posts", len(ds.Posts))
		return nil
	}
	logger.Info("published dataset", "users", len(ds.Users), "posts", len(ds.Posts))

	if err := c.index.Rebuild(seq, ds); err != nil {
		logger.Warn("failed to index posts", "error", err)
	}
	return nil
}

// State returns the current dataset and status.
func (c *Client) State() State {
	snap, err := c.store.Current()
	ds := snap.Dataset
	return State{
		Users:          ds.Users,
		UserOrder:      ds.UserOrder,
		Posts:          ds.Posts,
		CommentsByPost: ds.Comments,
		Loading:        c.store.Loading(),
		Ready:          c.store.IsReady(),
		Err:            err,
		FetchedAt:      snap.FetchedAt,
		RunID:          snap.RunID,
	}
}

// Snapshot returns the last published dataset with its run metadata.
func (c *Client) Snapshot() types.Snapshot {
	snap, _ := c.store.Current()
	return snap
}

// TopUsers ranks users by total comments over the current dataset.
func (c *Client) TopUsers(limit int) []types.UserRanking {
	return TopUsersByComments(c.Snapshot().Dataset, limit)
}

// TrendingPosts ranks posts by comment count over the current dataset.
func (c *Client) TrendingPosts(limit int) []types.PostRanking {
	return TopPostsByComments(c.Snapshot().Dataset, limit)
}

// Feed returns every post of the current dataset in fetch order.
func (c *Client) Feed() []types.PostRanking {
	return Feed(c.Snapshot().Dataset)
}

// SearchPosts runs a full text query over the posts of the current dataset.
// Bare terms match any field; content: and author: restrict the match.
func (c *Client) SearchPosts(query string, limit int) ([]SearchResult, error) {
	if c.closed.Load() {
		return nil, &pkgerrs.StateError{Operation: "SearchPosts", Message: "client is closed"}
	}
	hits, err := c.index.Search(query, limit)
	if err != nil {
		return nil, err
	}

	ds := c.Snapshot().Dataset
	byID := make(map[string]types.Post, len(ds.Posts))
	for _, p := range ds.Posts {
		byID[p.ID] = p
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		post, ok := byID[hit.PostID]
		if !ok {
			continue
		}
		results = append(results, SearchResult{
			PostRanking: types.PostRanking{Post: post, CommentCount: ds.CommentCount(post.ID)},
			Score:       hit.Score,
		})
	}
	return results, nil
}

// WaitReady blocks until the first refresh has published or failed.
func (c *Client) WaitReady(ctx context.Context) error {
	return c.store.WaitReady(ctx)
}

// Close releases the search index. Refresh and SearchPosts fail afterwards;
// the rankings keep serving the last published dataset.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.index.Close()
	})
	return c.closeErr
}
