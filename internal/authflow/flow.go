// Package authflow runs the login handshake with X and keeps the resulting
// credentials usable. A deployment uses exactly one variant, chosen at
// startup: OAuth2 with PKCE or OAuth1.0a.
package authflow

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/dgellow/xpost/internal/config"
	"github.com/dgellow/xpost/internal/platform"
	"github.com/dgellow/xpost/internal/session"
)

// PendingTTL is how long a started login stays valid
const PendingTTL = 10 * time.Minute

// Flow is one OAuth variant.
//
// Begin moves an anonymous session to awaiting-callback and returns the URL
// the browser must be sent to. Complete consumes the pending secrets,
// whatever the outcome, and on success leaves the session authenticated.
// Neither persists the session; callers save it.
type Flow interface {
	Kind() config.FlowKind
	Begin(ctx context.Context, s *session.Session) (string, error)
	Complete(ctx context.Context, s *session.Session, query url.Values) error

	// CanRefresh reports whether credentials of this flow can be renewed
	// without the user
	CanRefresh() bool
	Refresh(ctx context.Context, s *session.Session) error

	Authorizer(creds session.Credentials) platform.Authorizer

	// Revoke invalidates creds at X. It is a no-op unless enabled.
	Revoke(ctx context.Context, creds session.Credentials) error
}

// IdentityFetcher loads the profile of the credential owner
type IdentityFetcher interface {
	FetchIdentity(ctx context.Context, auth platform.Authorizer) (*platform.User, error)
}

// New returns the flow selected by cfg.X.Flow
func New(cfg config.Config, api IdentityFetcher, httpClient *http.Client) (Flow, error) {
	switch cfg.X.Flow {
	case config.FlowOAuth2:
		return NewPKCEFlow(cfg, api, httpClient), nil
	case config.FlowOAuth1a:
		return NewOAuth1Flow(cfg, api, httpClient), nil
	default:
		return nil, fmt.Errorf("unknown auth flow %q", cfg.X.Flow)
	}
}

func identityFromUser(u *platform.User) *session.Identity {
	if u == nil {
		return nil
	}
	return &session.Identity{
		ID:              u.ID,
		Username:        u.Username,
		Name:            u.Name,
		Description:     u.Description,
		ProfileImageURL: u.ProfileImageURL,
		Followers:       u.PublicMetrics.FollowersCount,
		Following:       u.PublicMetrics.FollowingCount,
		PostCount:       u.PublicMetrics.TweetCount,
		CreatedAt:       u.CreatedAt,
	}
}

func expired(p *session.Pending, now time.Time) bool {
	return !p.StartedAt.IsZero() && now.Sub(p.StartedAt) > PendingTTL
}
