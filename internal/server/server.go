// Package server exposes the analytics dataset and rankings over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"

	analytics "github.com/jamesprial/go-social-analytics"
	"github.com/jamesprial/go-social-analytics/internal"
	"github.com/jamesprial/go-social-analytics/pkg/types"
)

const (
	defaultSearchLimit = 10
	refreshTimeout     = 2 * time.Minute
	shutdownTimeout    = 5 * time.Second
)

// Backend is what the HTTP layer reads from. *analytics.Client implements it.
type Backend interface {
	State() analytics.State
	Refresh(ctx context.Context) error
	TopUsers(limit int) []types.UserRanking
	TrendingPosts(limit int) []types.PostRanking
	Feed() []types.PostRanking
	SearchPosts(query string, limit int) ([]analytics.SearchResult, error)
}

// Server serves the dashboard API.
type Server struct {
	backend   Backend
	logger    *slog.Logger
	validator *internal.Validator
	engine    *gin.Engine

	refreshes singleflight.Group
}

// StateResponse is the JSON form of analytics.State.
type StateResponse struct {
	Users          map[string]types.User      `json:"users"`
	UserOrder      []string                   `json:"userOrder"`
	Posts          []types.Post               `json:"posts"`
	CommentsByPost map[string][]types.Comment `json:"commentsByPost"`
	Loading        bool                       `json:"loading"`
	Ready          bool                       `json:"ready"`
	Error          *string                    `json:"error"`
	FetchedAt      *time.Time                 `json:"fetchedAt"`
	RunID          string                     `json:"runId,omitempty"`
}

// New builds a Server and its routes. A nil logger discards output.
func New(backend Backend, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		backend:   backend,
		logger:    logger,
		validator: internal.NewValidator(),
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), securityHeaders())

	r.GET("/healthz", s.health)

	api := r.Group("/api")
	api.GET("/state", s.state)
	api.POST("/refresh", s.refresh)
	api.GET("/top-users", s.topUsers)
	api.GET("/trending-posts", s.trendingPosts)
	api.GET("/feed", s.feed)
	api.GET("/search", s.search)

	s.engine = r
	return s
}

// Handler returns the http.Handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) state(c *gin.Context) {
	st := s.backend.State()
	resp := StateResponse{
		Users:          st.Users,
		UserOrder:      st.UserOrder,
		Posts:          st.Posts,
		CommentsByPost: st.CommentsByPost,
		Loading:        st.Loading,
		Ready:          st.Ready,
		RunID:          st.RunID,
	}
	if st.Err != nil {
		msg := st.Err.Error()
		resp.Error = &msg
	}
	if !st.FetchedAt.IsZero() {
		resp.FetchedAt = &st.FetchedAt
	}
	c.JSON(http.StatusOK, resp)
}

// refresh starts a run in the background, unless one started from this
// endpoint is still going, in which case the request joins it. Either way the
// reply is 202.
func (s *Server) refresh(c *gin.Context) {
	s.refreshes.DoChan("refresh", func() (any, error) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic in refresh", "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		if err := s.backend.Refresh(ctx); err != nil {
			s.logger.Warn("background refresh failed", "error", err)
		}
		return nil, nil
	})

	c.JSON(http.StatusAccepted, gin.H{"status": "refreshing"})
}

func (s *Server) topUsers(c *gin.Context) {
	limit, ok := s.limit(c, analytics.DefaultRankingLimit)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": s.backend.TopUsers(limit)})
}

func (s *Server) trendingPosts(c *gin.Context) {
	limit, ok := s.limit(c, analytics.DefaultRankingLimit)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": s.backend.TrendingPosts(limit)})
}

func (s *Server) feed(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"posts": s.backend.Feed()})
}

func (s *Server) search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}
	limit, ok := s.limit(c, defaultSearchLimit)
	if !ok {
		return
	}

	results, err := s.backend.SearchPosts(query, limit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"query": query, "results": results})
}

// limit reads the limit query parameter. On a bad value it writes a 400 and
// returns false.
func (s *Server) limit(c *gin.Context, def int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return 0, false
	}
	if err := s.validator.ValidateRankingLimit(n); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return 0, false
	}
	return n, true
}
