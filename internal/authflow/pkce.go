package authflow

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/dgellow/xpost/internal/apperr"
	"github.com/dgellow/xpost/internal/config"
	"github.com/dgellow/xpost/internal/crypto"
	"github.com/dgellow/xpost/internal/ioutil"
	"github.com/dgellow/xpost/internal/log"
	"github.com/dgellow/xpost/internal/platform"
	"github.com/dgellow/xpost/internal/session"
)

// PKCEFlow is the OAuth2 authorization code flow with a S256 code
// challenge. The client authenticates to the token endpoint with HTTP Basic.
type PKCEFlow struct {
	oauth          oauth2.Config
	hasCredentials bool
	revokeURL      string
	revokeOnLogout bool
	api            IdentityFetcher
	httpClient     *http.Client
	now            func() time.Time

	// X rotates refresh tokens on use, so concurrent requests from one
	// browser must share a single redemption
	refreshes singleflight.Group
}

// NewPKCEFlow creates the OAuth2 flow
func NewPKCEFlow(cfg config.Config, api IdentityFetcher, httpClient *http.Client) *PKCEFlow {
	return &PKCEFlow{
		oauth: oauth2.Config{
			ClientID:     cfg.X.ClientID,
			ClientSecret: string(cfg.X.ClientSecret),
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.X.Endpoints.AuthorizeURL,
				TokenURL:  cfg.X.Endpoints.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
			RedirectURL: cfg.CallbackURL(),
			Scopes:      cfg.X.Scopes,
		},
		hasCredentials: cfg.X.HasCredentials(),
		revokeURL:      cfg.X.Endpoints.RevokeURL,
		revokeOnLogout: cfg.X.RevokeOnLogout,
		api:            api,
		httpClient:     httpClient,
		now:            time.Now,
	}
}

func (f *PKCEFlow) Kind() config.FlowKind { return config.FlowOAuth2 }

func (f *PKCEFlow) CanRefresh() bool { return true }

func (f *PKCEFlow) Authorizer(creds session.Credentials) platform.Authorizer {
	return platform.BearerToken(creds.AccessToken)
}

func (f *PKCEFlow) clientContext(ctx context.Context) context.Context {
	if f.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
}

// Begin generates the code verifier and state, stores both and returns the
// authorization URL
func (f *PKCEFlow) Begin(ctx context.Context, s *session.Session) (string, error) {
	if !f.hasCredentials {
		return "", fmt.Errorf("%w: X_CLIENT_ID and X_CLIENT_SECRET", apperr.ErrConfiguration)
	}
	if s.State() == session.Authenticated {
		return "", session.ErrInvalidTransition
	}

	verifier, err := crypto.CodeVerifier()
	if err != nil {
		return "", fmt.Errorf("generating code verifier: %w", err)
	}
	state, err := crypto.State()
	if err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}

	if err := s.BeginFlow(session.Pending{
		Kind:         config.FlowOAuth2,
		CodeVerifier: verifier,
		State:        state,
		StartedAt:    f.now(),
	}); err != nil {
		return "", err
	}

	authURL := f.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))

	log.LogInfoWithFields("authflow", "Starting OAuth2 login", map[string]any{
		"redirect": f.oauth.RedirectURL,
		"scopes":   strings.Join(f.oauth.Scopes, " "),
	})
	return authURL, nil
}

// Complete validates the callback against the pending secrets, exchanges
// the code and fetches the identity
func (f *PKCEFlow) Complete(ctx context.Context, s *session.Session, query url.Values) error {
	pending := s.TakePending()

	if e := query.Get("error"); e != "" {
		log.LogWarnWithFields("authflow", "Authorization denied", map[string]any{
			"error": e,
		})
		return apperr.ErrAccessDenied
	}
	if pending == nil || pending.Kind != config.FlowOAuth2 || pending.CodeVerifier == "" {
		return fmt.Errorf("%w: no code verifier in session", apperr.ErrFlowExpired)
	}

	code, state := query.Get("code"), query.Get("state")
	if code == "" || state == "" {
		return fmt.Errorf("%w: code and state are required", apperr.ErrInvalidCallback)
	}
	if subtle.ConstantTimeCompare([]byte(state), []byte(pending.State)) != 1 {
		return apperr.ErrCSRF
	}
	if expired(pending, f.now()) {
		return fmt.Errorf("%w: login started %s ago", apperr.ErrFlowExpired, f.now().Sub(pending.StartedAt).Round(time.Second))
	}

	token, err := f.oauth.Exchange(f.clientContext(ctx), code, oauth2.VerifierOption(pending.CodeVerifier))
	if err != nil {
		log.LogErrorWithFields("authflow", "Failed to exchange code for token", map[string]any{
			"error": err,
		})
		return fmt.Errorf("exchanging code: %w", err)
	}

	creds := credentialsFromToken(token)
	user, err := f.api.FetchIdentity(ctx, f.Authorizer(creds))
	if err != nil {
		return fmt.Errorf("fetching identity: %w", err)
	}

	s.Authenticate(config.FlowOAuth2, creds, *identityFromUser(user))

	log.LogInfoWithFields("authflow", "OAuth2 login completed", map[string]any{
		"user_id":  user.ID,
		"username": user.Username,
		"expiry":   creds.Expiry,
	})
	return nil
}

// Refresh renews the access token with the stored refresh token. X rotates
// refresh tokens; the old one is kept only if none is returned.
func (f *PKCEFlow) Refresh(ctx context.Context, s *session.Session) error {
	current := s.Credentials()
	if current == nil || current.RefreshToken == "" {
		return fmt.Errorf("%w: no refresh token", apperr.ErrRefreshUnsupported)
	}

	v, err, shared := f.refreshes.Do(refreshKey(current.RefreshToken), func() (any, error) {
		// no access token, so the source always goes to the token endpoint
		src := f.oauth.TokenSource(f.clientContext(context.WithoutCancel(ctx)), &oauth2.Token{RefreshToken: current.RefreshToken})
		return src.Token()
	})
	if err != nil {
		log.LogErrorWithFields("authflow", "Failed to refresh token", map[string]any{
			"error": err,
		})
		return fmt.Errorf("refreshing token: %w", err)
	}

	token := v.(*oauth2.Token)

	creds := credentialsFromToken(token)
	if creds.RefreshToken == "" {
		creds.RefreshToken = current.RefreshToken
	}
	if err := s.UpdateCredentials(creds); err != nil {
		return err
	}

	log.LogInfoWithFields("authflow", "Token refreshed successfully", map[string]any{
		"expiry":  creds.Expiry,
		"rotated": token.RefreshToken != "" && token.RefreshToken != current.RefreshToken,
		"shared":  shared,
	})
	return nil
}

func refreshKey(refreshToken string) string {
	sum := sha256.Sum256([]byte(refreshToken))
	return hex.EncodeToString(sum[:])
}

// Revoke asks X to invalidate the access token when revocation on logout
// is enabled. Failures are returned for logging only.
func (f *PKCEFlow) Revoke(ctx context.Context, creds session.Credentials) error {
	if !f.revokeOnLogout || creds.AccessToken == "" {
		return nil
	}

	form := url.Values{}
	form.Set("token", creds.AccessToken)
	form.Set("token_type_hint", "access_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(f.oauth.ClientID), url.QueryEscape(f.oauth.ClientSecret))

	client := f.httpClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	defer ioutil.DrainAndClose(resp.Body, ioutil.ErrorBodyLimit)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoking token: status %d: %s", resp.StatusCode, ioutil.ReadLimited(resp.Body, 512))
	}
	return nil
}

func credentialsFromToken(t *oauth2.Token) session.Credentials {
	return session.Credentials{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
	}
}
