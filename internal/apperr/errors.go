package apperr

import (
	"errors"
	"fmt"
)

// Login flow errors
var (
	ErrConfiguration      = errors.New("configuration incomplete")
	ErrCSRF               = errors.New("state mismatch")
	ErrFlowExpired        = errors.New("login flow expired")
	ErrAccessDenied       = errors.New("authorization denied")
	ErrInvalidCallback    = errors.New("invalid callback parameters")
	ErrRefreshUnsupported = errors.New("token refresh not supported by this flow")
)

// API errors
var (
	ErrProviderAuth         = errors.New("provider rejected credentials")
	ErrRejectedAfterRefresh = errors.New("provider still rejected the request with renewed credentials")
	ErrValidation           = errors.New("content rejected")
	ErrTransient            = errors.New("provider unavailable")
	ErrSessionExpired       = errors.New("session expired")
	ErrNotAuthenticated     = errors.New("not authenticated")
)

// RedirectCode is the value placed in the error query parameter of the
// post-login redirect. Nothing from the upstream response reaches it.
type RedirectCode string

const (
	CodeAccessDenied       RedirectCode = "access_denied"
	CodeStateMismatch      RedirectCode = "state_mismatch"
	CodeFlowExpired        RedirectCode = "flow_expired"
	CodeMissingCredentials RedirectCode = "missing_credentials"
	CodeMissingParams      RedirectCode = "missing_params"
	CodeLoginFailed        RedirectCode = "login_failed"
	CodeCallbackFailed     RedirectCode = "callback_failed"
)

// RedirectCodeFor classifies a callback error
func RedirectCodeFor(err error) RedirectCode {
	switch {
	case errors.Is(err, ErrAccessDenied):
		return CodeAccessDenied
	case errors.Is(err, ErrCSRF):
		return CodeStateMismatch
	case errors.Is(err, ErrFlowExpired):
		return CodeFlowExpired
	case errors.Is(err, ErrConfiguration):
		return CodeMissingCredentials
	case errors.Is(err, ErrInvalidCallback):
		return CodeMissingParams
	default:
		return CodeCallbackFailed
	}
}

// ProviderError is a classified failure response from the platform API.
// Detail is the platform's own message and is only meant to be shown to the
// user for validation failures.
type ProviderError struct {
	Kind   error
	Status int
	Detail string
}

func (e *ProviderError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%v (status %d): %s", e.Kind, e.Status, e.Detail)
	}
	return fmt.Sprintf("%v (status %d)", e.Kind, e.Status)
}

func (e *ProviderError) Unwrap() error {
	return e.Kind
}

// NewProviderError creates a ProviderError
func NewProviderError(kind error, status int, detail string) *ProviderError {
	return &ProviderError{Kind: kind, Status: status, Detail: detail}
}

// ValidationError is a content problem that the user can fix, either found
// locally before any network call or reported by the platform.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Invalid creates a ValidationError with a formatted message
func Invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// PartialThreadError reports a thread that stopped after Posted posts were
// already published. Those posts must not be submitted again.
type PartialThreadError struct {
	Posted int
	Err    error
}

func (e *PartialThreadError) Error() string {
	return fmt.Sprintf("thread stopped after %d published posts: %v", e.Posted, e.Err)
}

func (e *PartialThreadError) Unwrap() error {
	return e.Err
}

// UserMessage returns the text that may be shown to the end user for err.
// Validation messages are passed through; everything else is generic.
func UserMessage(err error) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	var perr *ProviderError
	if errors.As(err, &perr) && errors.Is(perr.Kind, ErrValidation) && perr.Detail != "" {
		return perr.Detail
	}
	switch {
	case errors.Is(err, ErrSessionExpired):
		return "Your session has expired. Please sign in again."
	case errors.Is(err, ErrNotAuthenticated):
		return "Not authenticated"
	case errors.Is(err, ErrRejectedAfterRefresh):
		return "X refused the request. Please try again later."
	case errors.Is(err, ErrProviderAuth):
		return "X rejected the stored credentials. Please sign in again."
	case errors.Is(err, ErrValidation):
		return "X rejected the post content"
	case errors.Is(err, ErrTransient):
		return "X is unavailable right now. Please try again."
	default:
		return "Request failed"
	}
}
