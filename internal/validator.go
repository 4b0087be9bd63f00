package internal

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	pkgerrs "github.com/jamesprial/go-social-analytics/pkg/errors"
)

const (
	// Identifier constraints for ids that are interpolated into request paths
	maxResourceIDLength = 128

	// Ranking constraints
	MaxRankingLimit = 100

	// Fetch scope constraints
	maxUserLimit = 1000

	// User agent constraints
	maxUserAgentLength = 256
)

// Validator provides validation operations for configuration values and for
// identifiers received from the API before they are used in request paths.
type Validator struct{}

// NewValidator creates a new Validator instance.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateBaseURL checks that raw is an absolute http or https URL.
func (v *Validator) ValidateBaseURL(raw string) error {
	if raw == "" {
		return &pkgerrs.ConfigError{Field: "BaseURL", Message: "cannot be empty"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &pkgerrs.ConfigError{Field: "BaseURL", Message: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &pkgerrs.ConfigError{Field: "BaseURL", Message: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	if u.Host == "" {
		return &pkgerrs.ConfigError{Field: "BaseURL", Message: "missing host"}
	}
	return nil
}

// ValidateUserLimit checks the number of users selected per fetch run.
func (v *Validator) ValidateUserLimit(n int) error {
	if n < 0 {
		return &pkgerrs.ConfigError{Field: "UserLimit", Message: "cannot be negative"}
	}
	if n > maxUserLimit {
		return &pkgerrs.ConfigError{Field: "UserLimit", Message: fmt.Sprintf("cannot exceed %d", maxUserLimit)}
	}
	return nil
}

// ValidateRankingLimit checks a limit requested for a ranking view.
func (v *Validator) ValidateRankingLimit(n int) error {
	if n < 1 {
		return &pkgerrs.ConfigError{Field: "limit", Message: "must be at least 1"}
	}
	if n > MaxRankingLimit {
		return &pkgerrs.ConfigError{Field: "limit", Message: fmt.Sprintf("cannot exceed %d", MaxRankingLimit)}
	}
	return nil
}

// ValidateResourceID checks an id received from the API before it is escaped
// into a request path.
func (v *Validator) ValidateResourceID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s id cannot be empty", kind)
	}
	if len(id) > maxResourceIDLength {
		return fmt.Errorf("%s id too long (max %d characters)", kind, maxResourceIDLength)
	}
	if id == "." || id == ".." {
		return fmt.Errorf("%s id %q is not addressable", kind, id)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return fmt.Errorf("%s id contains control character %U", kind, r)
		}
	}
	return nil
}

// ValidateUserAgent validates the User-Agent string to prevent header injection attacks.
func (v *Validator) ValidateUserAgent(ua string) error {
	if len(ua) == 0 {
		return fmt.Errorf("user agent cannot be empty")
	}

	if strings.ContainsAny(ua, "\r\n") {
		return fmt.Errorf("user agent cannot contain newline characters")
	}

	if len(ua) > maxUserAgentLength {
		return fmt.Errorf("user agent too long (max %d characters)", maxUserAgentLength)
	}

	return nil
}
