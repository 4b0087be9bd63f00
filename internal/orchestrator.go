package internal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	pkgerrs "github.com/jamesprial/go-social-analytics/pkg/errors"
	"github.com/jamesprial/go-social-analytics/pkg/types"
)

// DefaultUserLimit is how many users a run selects when no limit is configured.
const DefaultUserLimit = 5

// maxRunAttempts bounds a run to the initial attempt plus one re-authenticated retry.
const maxRunAttempts = 2

// SessionManager owns the bearer token used by a run.
type SessionManager interface {
	Authenticate(ctx context.Context) (string, error)
	Token() (string, bool)
	// Invalidate drops token if it is still the current one and reports
	// whether it did.
	Invalidate(token string) bool
}

// Fetcher retrieves one resource and decodes its JSON body into v.
type Fetcher interface {
	Fetch(ctx context.Context, path, token string, v any) error
}

// OrchestratorConfig tunes a fetch run.
type OrchestratorConfig struct {
	// UserLimit is how many users are selected from the users mapping. Zero means DefaultUserLimit.
	UserLimit int
	// MaxConcurrentComments caps in-flight comment fetches for one user. Zero means one per post.
	MaxConcurrentComments int
	Logger                *slog.Logger
}

// Orchestrator drives the users, posts and comments pipeline and assembles a Dataset.
type Orchestrator struct {
	session   SessionManager
	fetcher   Fetcher
	parser    *Parser
	validator *Validator
	logger    *slog.Logger

	userLimit     int
	maxConcurrent int
}

// NewOrchestrator returns an Orchestrator using session for tokens and fetcher for requests.
func NewOrchestrator(session SessionManager, fetcher Fetcher, cfg OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	limit := cfg.UserLimit
	if limit <= 0 {
		limit = DefaultUserLimit
	}
	return &Orchestrator{
		session:       session,
		fetcher:       fetcher,
		parser:        NewParser(),
		validator:     NewValidator(),
		logger:        logger,
		userLimit:     limit,
		maxConcurrent: cfg.MaxConcurrentComments,
	}
}

// Run performs one fetch run and returns the assembled dataset. An empty
// runID is replaced with a generated one.
//
// If any request is rejected as unauthorized, the token is invalidated, the
// session re-authenticates once and the whole run starts over. A second
// rejection returns an *errors.AuthError. Failures scoped to one user or one
// post are logged and leave that data missing.
func (o *Orchestrator) Run(ctx context.Context, runID string) (*types.Dataset, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := o.logger.With("run_id", runID)
	logger.Info("fetch run started", "user_limit", o.userLimit)

	var lastErr error
	for attempt := 1; attempt <= maxRunAttempts; attempt++ {
		token, ok := o.session.Token()
		if !ok {
			var err error
			token, err = o.session.Authenticate(ctx)
			if err != nil {
				return nil, err
			}
		}

		ds, err := o.attempt(ctx, logger, token)
		if err == nil {
			logger.Info("fetch run completed",
				"attempt", attempt,
				"users", len(ds.Users),
				"posts", len(ds.Posts),
				"posts_with_comments", len(ds.Comments),
			)
			return ds, nil
		}
		if !errors.Is(err, pkgerrs.ErrUnauthorized) {
			return nil, err
		}

		if !o.session.Invalidate(token) {
			logger.Debug("rejected token was already replaced", "attempt", attempt)
		}
		lastErr = err
		logger.Info("token rejected", "attempt", attempt, "error", err)
	}

	return nil, &pkgerrs.AuthError{
		StatusCode: 401,
		Message:    "still unauthorized after re-authenticating",
		Err:        lastErr,
	}
}

// attempt runs the pipeline once with token. It returns early only for
// unauthorized responses, cancellation and failures of the users step.
func (o *Orchestrator) attempt(ctx context.Context, logger *slog.Logger, token string) (*types.Dataset, error) {
	const usersPath = "users"

	var raw json.RawMessage
	if err := o.fetcher.Fetch(ctx, usersPath, token, &raw); err != nil {
		return nil, err
	}
	users, order, err := o.parser.ParseUsers(usersPath, raw)
	if err != nil {
		return nil, err
	}

	ds := types.NewDataset()
	ds.Users = users
	ds.UserOrder = order

	selected := order
	if len(selected) > o.userLimit {
		selected = selected[:o.userLimit]
	}
	if len(selected) == 0 {
		logger.Info("users mapping is empty")
		return ds, nil
	}

	for _, userID := range selected {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		posts, err := o.fetchPosts(ctx, token, userID)
		if err != nil {
			if errors.Is(err, pkgerrs.ErrUnauthorized) {
				return nil, err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			logFailure(logger, err, "skipping user", "user_id", userID)
			continue
		}
		if len(posts) == 0 {
			logger.Debug("user has no posts", "user_id", userID)
			continue
		}

		author := users[userID].Name
		for i := range posts {
			posts[i].AuthorName = author
		}
		ds.Posts = append(ds.Posts, posts...)

		if err := o.fetchComments(ctx, logger, token, posts, ds.Comments); err != nil {
			return nil, err
		}
	}

	return ds, nil
}

func (o *Orchestrator) fetchPosts(ctx context.Context, token, userID string) ([]types.Post, error) {
	if err := o.validator.ValidateResourceID("user", userID); err != nil {
		return nil, &pkgerrs.MalformedResponseError{Path: "users", Message: err.Error()}
	}
	path := "users/" + url.PathEscape(userID) + "/posts"

	var raw json.RawMessage
	if err := o.fetcher.Fetch(ctx, path, token, &raw); err != nil {
		return nil, err
	}
	return o.parser.ParsePosts(path, userID, raw)
}

// fetchComments fetches the comments of every post concurrently and waits
// for the whole batch to settle before merging into dst in post order.
// Posts whose fetch failed get no entry.
func (o *Orchestrator) fetchComments(ctx context.Context, logger *slog.Logger, token string, posts []types.Post, dst map[string][]types.Comment) error {
	results := make([][]types.Comment, len(posts))
	failures := make([]error, len(posts))

	var g errgroup.Group
	if o.maxConcurrent > 0 {
		g.SetLimit(o.maxConcurrent)
	}
	for i, post := range posts {
		g.Go(func() error {
			comments, err := o.fetchPostComments(ctx, token, post.ID)
			if err != nil {
				if errors.Is(err, pkgerrs.ErrUnauthorized) {
					return err
				}
				failures[i] = err
				return nil
			}
			results[i] = comments
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for i, post := range posts {
		if failures[i] != nil {
			logFailure(logger, failures[i], "comments unavailable", "post_id", post.ID, "user_id", post.UserID)
			continue
		}
		dst[post.ID] = results[i]
	}
	return nil
}

func (o *Orchestrator) fetchPostComments(ctx context.Context, token, postID string) ([]types.Comment, error) {
	if err := o.validator.ValidateResourceID("post", postID); err != nil {
		return nil, &pkgerrs.MalformedResponseError{Path: "posts", Message: err.Error()}
	}
	path := "posts/" + url.PathEscape(postID) + "/comments"

	var raw json.RawMessage
	if err := o.fetcher.Fetch(ctx, path, token, &raw); err != nil {
		return nil, err
	}
	return o.parser.ParseComments(path, postID, raw)
}

// logFailure records an isolated failure. Classified per-resource failures
// are expected and logged at Warn; anything else is isolated too but logged
// at Error so it stands out.
func logFailure(logger *slog.Logger, err error, msg string, args ...any) {
	args = append(args, "error", err)
	if pkgerrs.IsIsolatable(err) {
		logger.Warn(msg, args...)
		return
	}
	logger.Error(msg, append(args, "unclassified", true)...)
}
