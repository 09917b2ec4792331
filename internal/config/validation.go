package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"

	"github.com/dgellow/xpost/internal/envutil"
)

// MinSessionSecretLength is the shortest SESSION_SECRET accepted outside
// development
const MinSessionSecretLength = 32

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

func (e ValidationError) String() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

// Err joins all errors into one, or returns nil
func (v *ValidationResult) Err() error {
	if v.IsValid() {
		return nil
	}
	errs := make([]error, 0, len(v.Errors))
	for _, e := range v.Errors {
		errs = append(errs, errors.New(e.String()))
	}
	return fmt.Errorf("config validation failed: %w", errors.Join(errs...))
}

func (v *ValidationResult) addError(path, format string, args ...any) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *ValidationResult) addWarning(path, format string, args ...any) {
	v.Warnings = append(v.Warnings, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// Validate checks a config for problems. Missing X credentials are only a
// warning: the server starts and login redirects with missing_credentials.
func Validate(cfg Config) *ValidationResult {
	result := &ValidationResult{}

	validateBaseURL(cfg.BaseURL, result)
	validateXConfig(cfg.X, result)
	validateSessionConfig(cfg.Session, result)

	if !cfg.Compose.Enabled() {
		result.addWarning("OPENAI_API_KEY", "not set, post generation is disabled")
	}

	return result
}

func validateBaseURL(raw string, result *ValidationResult) {
	if raw == "" {
		result.addError("APP_URL", "is required. Hint: set it to the public URL of the app, e.g. http://localhost:8080")
		return
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		result.addError("APP_URL", "must be an absolute http(s) URL, got %q", raw)
		return
	}
	if u.Scheme == "http" && !envutil.IsDev() && u.Hostname() != "localhost" && u.Hostname() != "127.0.0.1" {
		result.addWarning("APP_URL", "uses http outside development, the session cookie will not be marked secure")
	}
}

func validateXConfig(x XConfig, result *ValidationResult) {
	switch x.Flow {
	case FlowOAuth2:
		if !x.HasCredentials() {
			result.addWarning("X_CLIENT_ID", "X_CLIENT_ID and X_CLIENT_SECRET are required for the oauth2 flow, login is disabled")
		}
		if len(x.Scopes) == 0 {
			result.addError("X_SCOPES", "at least one scope is required")
		} else if !slices.Contains(x.Scopes, "offline.access") {
			result.addWarning("X_SCOPES", "offline.access is missing, sessions will end when the access token expires")
		}
	case FlowOAuth1a:
		if !x.HasCredentials() {
			result.addWarning("X_API_KEY", "X_API_KEY and X_API_SECRET are required for the oauth1a flow, login is disabled")
		}
		if x.RevokeOnLogout {
			result.addWarning("X_REVOKE_ON_LOGOUT", "ignored for the oauth1a flow")
		}
	default:
		result.addError("X_AUTH_FLOW", "unknown flow %q, must be one of: %s, %s", x.Flow, FlowOAuth2, FlowOAuth1a)
	}

	for name, raw := range map[string]string{
		"X_API_BASE_URL":         x.Endpoints.APIBaseURL,
		"X_AUTHORIZE_URL":        x.Endpoints.AuthorizeURL,
		"X_TOKEN_URL":            x.Endpoints.TokenURL,
		"X_REVOKE_URL":           x.Endpoints.RevokeURL,
		"X_REQUEST_TOKEN_URL":    x.Endpoints.RequestTokenURL,
		"X_OAUTH1_AUTHORIZE_URL": x.Endpoints.OAuth1AuthorizeURL,
		"X_ACCESS_TOKEN_URL":     x.Endpoints.AccessTokenURL,
	} {
		if u, err := url.Parse(raw); err != nil || u.Host == "" {
			result.addError(name, "must be an absolute URL, got %q", raw)
		}
	}
}

func validateSessionConfig(s SessionConfig, result *ValidationResult) {
	secret := string(s.Secret)
	switch {
	case secret == "" && envutil.IsDev():
		result.addWarning("SESSION_SECRET", "not set, using a random per-process secret. Sessions will not survive a restart")
	case secret == "":
		result.addError("SESSION_SECRET", "is required. Hint: generate one with `openssl rand -base64 48`")
	case len(secret) < MinSessionSecretLength && envutil.IsDev():
		result.addWarning("SESSION_SECRET", "shorter than %d characters", MinSessionSecretLength)
	case len(secret) < MinSessionSecretLength:
		result.addError("SESSION_SECRET", "must be at least %d characters", MinSessionSecretLength)
	}

	if s.TTL <= 0 {
		result.addError("SESSION_TTL", "must be positive, got %s", s.TTL)
	}
}
