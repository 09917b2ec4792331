package server

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/dgellow/xpost/internal/apperr"
	"github.com/dgellow/xpost/internal/authflow"
	"github.com/dgellow/xpost/internal/config"
	jsonwriter "github.com/dgellow/xpost/internal/json"
	"github.com/dgellow/xpost/internal/log"
	"github.com/dgellow/xpost/internal/session"
)

// VerifyPath is the page that shows login errors to the user
const VerifyPath = "/verify"

// AuthHandlers serves the login, callback, identity and logout endpoints
type AuthHandlers struct {
	cfg   config.Config
	store session.Store
	flow  authflow.Flow
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(cfg config.Config, store session.Store, flow authflow.Flow) *AuthHandlers {
	return &AuthHandlers{cfg: cfg, store: store, flow: flow}
}

// identityResponse is the body of the identity endpoint
type identityResponse struct {
	User *session.Identity `json:"user"`
}

func (h *AuthHandlers) verifyURL(code apperr.RedirectCode) string {
	q := url.Values{}
	q.Set("error", string(code))
	return h.cfg.AppURL(VerifyPath) + "?" + q.Encode()
}

// LoginHandler starts a login and redirects the browser to X
func (h *AuthHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	flow := string(h.flow.Kind())
	s := h.store.Load(r)

	authURL, err := h.flow.Begin(r.Context(), s)
	switch {
	case errors.Is(err, session.ErrInvalidTransition):
		http.Redirect(w, r, h.cfg.AppURL("/"), http.StatusFound)
		return
	case errors.Is(err, apperr.ErrConfiguration):
		log.LogErrorWithFields("auth", "Login unavailable, X credentials are not configured", map[string]any{
			"flow":  flow,
			"error": err,
		})
		logins.WithLabelValues(flow, "begin", "error").Inc()
		http.Redirect(w, r, h.verifyURL(apperr.CodeMissingCredentials), http.StatusFound)
		return
	case err != nil:
		log.LogErrorWithFields("auth", "Failed to start login", map[string]any{
			"flow":  flow,
			"error": err,
		})
		logins.WithLabelValues(flow, "begin", "error").Inc()
		http.Redirect(w, r, h.verifyURL(apperr.CodeLoginFailed), http.StatusFound)
		return
	}

	if err := h.store.Save(w, r, s); err != nil {
		log.LogErrorWithFields("auth", "Failed to save session", map[string]any{
			"error": err,
		})
		logins.WithLabelValues(flow, "begin", "error").Inc()
		http.Redirect(w, r, h.verifyURL(apperr.CodeLoginFailed), http.StatusFound)
		return
	}

	logins.WithLabelValues(flow, "begin", "ok").Inc()
	http.Redirect(w, r, authURL, http.StatusFound)
}

// CallbackHandler completes the login X redirected back from. Errors are
// reported as a fixed code in the redirect, never as upstream text.
func (h *AuthHandlers) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	flow := string(h.flow.Kind())
	s := h.store.Load(r)

	err := h.flow.Complete(r.Context(), s, r.URL.Query())

	// the pending bundle is single use, so the session is written either way
	if serr := h.store.Save(w, r, s); serr != nil {
		log.LogErrorWithFields("auth", "Failed to save session", map[string]any{
			"error": serr,
		})
		if err == nil {
			err = serr
		}
	}

	if err != nil {
		code := apperr.RedirectCodeFor(err)
		log.LogWarnWithFields("auth", "Login callback failed", map[string]any{
			"flow":  flow,
			"code":  string(code),
			"error": err,
		})
		logins.WithLabelValues(flow, "callback", string(code)).Inc()
		http.Redirect(w, r, h.verifyURL(code), http.StatusFound)
		return
	}

	logins.WithLabelValues(flow, "callback", "ok").Inc()
	http.Redirect(w, r, h.cfg.AppURL("/"), http.StatusFound)
}

// MeHandler returns the signed-in identity or null
func (h *AuthHandlers) MeHandler(w http.ResponseWriter, r *http.Request) {
	s := h.store.Load(r)

	var resp identityResponse
	if s.State() == session.Authenticated {
		resp.User = s.Identity()
	}
	_ = jsonwriter.Write(w, resp)
}

// LogoutHandler forgets the session. The token is revoked at X only when
// the flow is configured to do so; a failed revocation does not block the
// local logout.
func (h *AuthHandlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	s := h.store.Load(r)

	if creds := s.Credentials(); creds != nil {
		if err := h.flow.Revoke(r.Context(), *creds); err != nil {
			log.LogWarnWithFields("auth", "Token revocation failed", map[string]any{
				"flow":  string(h.flow.Kind()),
				"error": err,
			})
		}
	}

	if err := h.store.Destroy(w, r, s); err != nil {
		log.LogErrorWithFields("auth", "Failed to destroy session", map[string]any{
			"error": err,
		})
	}

	_ = jsonwriter.Write(w, map[string]bool{"success": true})
}
