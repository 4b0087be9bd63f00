package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	pkgerrs "github.com/jamesprial/go-social-analytics/pkg/errors"
	"golang.org/x/sync/singleflight"
)

const defaultTokenEndpointPath = "auth"

// maxAuthBodyBytes caps how much of an auth response is read.
const maxAuthBodyBytes = 64 << 10

// authExchangeTimeout bounds a shared token exchange.
const authExchangeTimeout = 30 * time.Second

// Credentials is the static client identifier and secret pair.
type Credentials struct {
	clientID     string
	clientSecret string
}

// NewCredentials validates and returns an immutable credential pair.
func NewCredentials(clientID, clientSecret string) (Credentials, error) {
	if strings.TrimSpace(clientID) == "" {
		return Credentials{}, &pkgerrs.ConfigError{Field: "ClientID", Message: "cannot be empty"}
	}
	if strings.TrimSpace(clientSecret) == "" {
		return Credentials{}, &pkgerrs.ConfigError{Field: "ClientSecret", Message: "cannot be empty"}
	}
	return Credentials{clientID: clientID, clientSecret: clientSecret}, nil
}

// ClientID returns the client identifier.
func (c Credentials) ClientID() string { return c.clientID }

// Authenticator exchanges Credentials for a bearer token.
type Authenticator struct {
	client    *http.Client
	creds     Credentials
	userAgent string
	BaseURL   *url.URL
	tokenURL  *url.URL
	logger    *slog.Logger
}

// NewAuthenticator creates a new authenticator.
// The tokenPath parameter can be an empty string to use the default auth endpoint.
func NewAuthenticator(httpClient *http.Client, creds Credentials, userAgent, baseURL, tokenPath string, logger *slog.Logger) (*Authenticator, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, &pkgerrs.AuthError{Err: fmt.Errorf("failed to parse base URL: %w", err)}
	}
	if !strings.HasSuffix(parsedURL.Path, "/") {
		parsedURL.Path += "/"
	}

	if tokenPath == "" {
		tokenPath = defaultTokenEndpointPath
	}

	resolvedTokenURL, err := parsedURL.Parse(tokenPath)
	if err != nil {
		return nil, &pkgerrs.AuthError{Err: fmt.Errorf("failed to parse token endpoint path: %w", err)}
	}

	return &Authenticator{
		client:    httpClient,
		creds:     creds,
		userAgent: userAgent,
		BaseURL:   parsedURL,
		tokenURL:  resolvedTokenURL,
		logger:    logger,
	}, nil
}

type authRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// tokenResponse accepts either of the two token keys the API has used.
type tokenResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
}

// GetToken posts the credentials to the auth endpoint and returns the token.
func (a *Authenticator) GetToken(ctx context.Context) (string, error) {
	payload, err := json.Marshal(authRequest{ClientID: a.creds.clientID, ClientSecret: a.creds.clientSecret})
	if err != nil {
		return "", &pkgerrs.AuthError{Err: fmt.Errorf("failed to encode credentials: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL.String(), bytes.NewReader(payload))
	if err != nil {
		return "", &pkgerrs.AuthError{Err: fmt.Errorf("failed to create token request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", &pkgerrs.AuthError{Err: fmt.Errorf("failed to execute token request: %w", err)}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxAuthBodyBytes))
	if err != nil {
		return "", &pkgerrs.AuthError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("failed to read response body: %w", err),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &pkgerrs.AuthError{
			StatusCode: resp.StatusCode,
			Body:       string(bodyBytes),
		}
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(bodyBytes, &tokenResp); err != nil {
		return "", &pkgerrs.AuthError{
			StatusCode: resp.StatusCode,
			Body:       string(bodyBytes),
			Err:        fmt.Errorf("failed to unmarshal token response: %w", err),
		}
	}

	token := tokenResp.Token
	if token == "" {
		token = tokenResp.AccessToken
	}
	if token == "" {
		return "", &pkgerrs.AuthError{
			StatusCode: resp.StatusCode,
			Body:       string(bodyBytes),
			Message:    "response carried neither token nor access_token",
		}
	}

	a.logger.Debug("obtained access token", "status", resp.StatusCode)
	return token, nil
}

// TokenSource is anything that can produce a fresh bearer token.
type TokenSource interface {
	GetToken(ctx context.Context) (string, error)
}

// Session owns the single bearer token slot.
//
// At most one token is held at a time. Concurrent Authenticate calls share a
// single exchange with the token source.
type Session struct {
	source TokenSource
	logger *slog.Logger

	mu    sync.RWMutex
	token string

	group singleflight.Group
}

// NewSession returns a Session with no token.
func NewSession(source TokenSource, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Session{source: source, logger: logger}
}

// Authenticate obtains a fresh token and stores it. On failure the stored
// token is cleared and an *errors.AuthError is returned.
//
// Concurrent callers share one exchange. The exchange is detached from the
// cancellation of whichever caller started it; each caller stops waiting
// when its own ctx is done.
func (s *Session) Authenticate(ctx context.Context) (string, error) {
	ch := s.group.DoChan("auth", func() (any, error) {
		exchangeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), authExchangeTimeout)
		defer cancel()

		token, err := s.source.GetToken(exchangeCtx)
		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			s.token = ""
			return "", err
		}
		s.token = token
		return token, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			s.logger.Warn("authentication failed", "error", res.Err)
			return "", asAuthError(res.Err)
		}
		if res.Shared {
			s.logger.Debug("joined in-flight authentication")
		}
		return res.Val.(string), nil
	}
}

// Token returns the current token, if any.
func (s *Session) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// Invalidate clears the stored token if it is still token. A rejection of a
// token that has since been replaced leaves the newer token in place.
func (s *Session) Invalidate(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token == "" || s.token != token {
		return false
	}
	s.token = ""
	return true
}

func asAuthError(err error) error {
	var authErr *pkgerrs.AuthError
	if errors.As(err, &authErr) {
		return err
	}
	return &pkgerrs.AuthError{Err: err}
}
