package authflow

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/dgellow/xpost/internal/apperr"
	"github.com/dgellow/xpost/internal/config"
	"github.com/dgellow/xpost/internal/ioutil"
	"github.com/dgellow/xpost/internal/log"
	"github.com/dgellow/xpost/internal/oauth1"
	"github.com/dgellow/xpost/internal/platform"
	"github.com/dgellow/xpost/internal/session"
)

// OAuth1Flow is the three-legged OAuth1.0a flow. Access tokens do not
// expire, so there is nothing to refresh.
type OAuth1Flow struct {
	signer          oauth1.Signer
	hasCredentials  bool
	requestTokenURL string
	authorizeURL    string
	accessTokenURL  string
	callbackURL     string
	api             IdentityFetcher
	httpClient      *http.Client
	now             func() time.Time
}

// NewOAuth1Flow creates the OAuth1.0a flow
func NewOAuth1Flow(cfg config.Config, api IdentityFetcher, httpClient *http.Client) *OAuth1Flow {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OAuth1Flow{
		signer: oauth1.Signer{
			ConsumerKey:    cfg.X.ConsumerKey,
			ConsumerSecret: string(cfg.X.ConsumerSecret),
		},
		hasCredentials:  cfg.X.HasCredentials(),
		requestTokenURL: cfg.X.Endpoints.RequestTokenURL,
		authorizeURL:    cfg.X.Endpoints.OAuth1AuthorizeURL,
		accessTokenURL:  cfg.X.Endpoints.AccessTokenURL,
		callbackURL:     cfg.CallbackURL(),
		api:             api,
		httpClient:      httpClient,
		now:             time.Now,
	}
}

func (f *OAuth1Flow) Kind() config.FlowKind { return config.FlowOAuth1a }

func (f *OAuth1Flow) CanRefresh() bool { return false }

func (f *OAuth1Flow) Refresh(context.Context, *session.Session) error {
	return apperr.ErrRefreshUnsupported
}

// Revoke is not offered for OAuth1.0a; logout only clears the session
func (f *OAuth1Flow) Revoke(context.Context, session.Credentials) error {
	return nil
}

func (f *OAuth1Flow) Authorizer(creds session.Credentials) platform.Authorizer {
	return f.signer.WithToken(creds.AccessToken, creds.AccessTokenSecret)
}

// Begin obtains a temporary token pair, signed with the consumer secret
// only, and returns the authorize URL for it
func (f *OAuth1Flow) Begin(ctx context.Context, s *session.Session) (string, error) {
	if !f.hasCredentials {
		return "", fmt.Errorf("%w: X_API_KEY and X_API_SECRET", apperr.ErrConfiguration)
	}
	if s.State() == session.Authenticated {
		return "", session.ErrInvalidTransition
	}

	values, err := f.post(ctx, f.requestTokenURL, f.signer, map[string]string{
		"oauth_callback": f.callbackURL,
	})
	if err != nil {
		return "", fmt.Errorf("requesting temporary token: %w", err)
	}

	token, secret := values.Get("oauth_token"), values.Get("oauth_token_secret")
	if token == "" || secret == "" {
		return "", fmt.Errorf("requesting temporary token: response has no token pair")
	}
	if values.Get("oauth_callback_confirmed") != "true" {
		return "", fmt.Errorf("requesting temporary token: callback not confirmed")
	}

	if err := s.BeginFlow(session.Pending{
		Kind:               config.FlowOAuth1a,
		RequestToken:       token,
		RequestTokenSecret: secret,
		StartedAt:          f.now(),
	}); err != nil {
		return "", err
	}

	u, err := url.Parse(f.authorizeURL)
	if err != nil {
		return "", fmt.Errorf("parsing authorize URL: %w", err)
	}
	q := u.Query()
	q.Set("oauth_token", token)
	u.RawQuery = q.Encode()

	log.LogInfoWithFields("authflow", "Starting OAuth1.0a login", map[string]any{
		"redirect": f.callbackURL,
	})
	return u.String(), nil
}

// Complete checks the returned token against the temporary one and
// exchanges it, with the verifier, for the durable pair
func (f *OAuth1Flow) Complete(ctx context.Context, s *session.Session, query url.Values) error {
	pending := s.TakePending()

	if query.Has("denied") {
		log.LogWarnWithFields("authflow", "Authorization denied", nil)
		return apperr.ErrAccessDenied
	}
	if pending == nil || pending.Kind != config.FlowOAuth1a || pending.RequestToken == "" {
		return fmt.Errorf("%w: no request token in session", apperr.ErrFlowExpired)
	}

	token, verifier := query.Get("oauth_token"), query.Get("oauth_verifier")
	if token == "" || verifier == "" {
		return fmt.Errorf("%w: oauth_token and oauth_verifier are required", apperr.ErrInvalidCallback)
	}
	if token != pending.RequestToken {
		return apperr.ErrCSRF
	}
	if expired(pending, f.now()) {
		return fmt.Errorf("%w: login started %s ago", apperr.ErrFlowExpired, f.now().Sub(pending.StartedAt).Round(time.Second))
	}

	values, err := f.post(ctx, f.accessTokenURL, f.signer.WithToken(pending.RequestToken, pending.RequestTokenSecret), map[string]string{
		"oauth_verifier": verifier,
	})
	if err != nil {
		log.LogErrorWithFields("authflow", "Failed to exchange request token", map[string]any{
			"error": err,
		})
		return fmt.Errorf("exchanging request token: %w", err)
	}

	creds := session.Credentials{
		AccessToken:       values.Get("oauth_token"),
		AccessTokenSecret: values.Get("oauth_token_secret"),
	}
	if creds.AccessToken == "" || creds.AccessTokenSecret == "" {
		return fmt.Errorf("exchanging request token: response has no token pair")
	}

	// The token response carries a minimal identity. The profile endpoint
	// is preferred but not required.
	inline := session.Identity{
		ID:       values.Get("user_id"),
		Username: values.Get("screen_name"),
		Name:     values.Get("screen_name"),
	}
	var preferred *session.Identity
	user, err := f.api.FetchIdentity(ctx, f.Authorizer(creds))
	if err != nil {
		log.LogWarnWithFields("authflow", "Identity lookup failed, using token response fields", map[string]any{
			"error": err,
		})
	} else {
		preferred = identityFromUser(user)
	}

	identity := session.MergeIdentity(preferred, inline)
	if identity.ID == "" {
		return fmt.Errorf("exchanging request token: no user id available")
	}

	s.Authenticate(config.FlowOAuth1a, creds, identity)

	log.LogInfoWithFields("authflow", "OAuth1.0a login completed", map[string]any{
		"user_id":  identity.ID,
		"username": identity.Username,
	})
	return nil
}

// post sends a signed POST to one of the token endpoints and decodes the
// form-encoded response
func (f *OAuth1Flow) post(ctx context.Context, endpoint string, signer oauth1.Signer, extra map[string]string) (url.Values, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if err := signer.Sign(req, extra); err != nil {
		return nil, fmt.Errorf("signing request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer ioutil.DrainAndClose(resp.Body, ioutil.ErrorBodyLimit)

	body, err := ioutil.ReadLimitedBytes(resp.Body, ioutil.ErrorBodyLimit)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.NewProviderError(statusKind(resp.StatusCode), resp.StatusCode, string(body))
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return values, nil
}

func statusKind(status int) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperr.ErrProviderAuth
	default:
		return apperr.ErrTransient
	}
}
