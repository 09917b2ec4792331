// Package session holds the per-browser state of the login flow and the
// durable X credentials. The whole value travels in one encrypted cookie.
package session

import (
	"errors"
	"time"

	"github.com/gorilla/sessions"

	"github.com/dgellow/xpost/internal/config"
)

// SchemaVersion is bumped whenever Data changes incompatibly. Cookies
// carrying any other version load as anonymous.
const SchemaVersion = 1

var (
	// ErrInvalidTransition is returned when starting a login on an
	// authenticated session
	ErrInvalidTransition = errors.New("session: login already completed, log out first")

	// ErrDestroyed is returned when a destroyed session is saved again
	ErrDestroyed = errors.New("session: destroyed")

	// ErrNotAuthenticated is returned when credentials are updated on a
	// session without any
	ErrNotAuthenticated = errors.New("session: not authenticated")
)

// State is derived from which fields are populated
type State int

const (
	Anonymous State = iota
	AwaitingCallback
	Authenticated
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case AwaitingCallback:
		return "awaiting_callback"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Pending is the ephemeral secret bundle of one login attempt. Kind tells
// which fields are populated.
type Pending struct {
	Kind config.FlowKind `json:"kind"`

	// OAuth2
	CodeVerifier string `json:"code_verifier,omitempty"`
	State        string `json:"state,omitempty"`

	// OAuth1a
	RequestToken       string `json:"request_token,omitempty"`
	RequestTokenSecret string `json:"request_token_secret,omitempty"`

	StartedAt time.Time `json:"started_at"`
}

// Credentials are the durable tokens. AccessTokenSecret is only set for
// OAuth1a, RefreshToken and Expiry only for OAuth2.
type Credentials struct {
	AccessToken       string    `json:"access_token"`
	AccessTokenSecret string    `json:"access_token_secret,omitempty"`
	RefreshToken      string    `json:"refresh_token,omitempty"`
	TokenType         string    `json:"token_type,omitempty"`
	Expiry            time.Time `json:"expiry,omitzero"`
}

// Identity is the profile snapshot taken at login
type Identity struct {
	ID              string `json:"id"`
	Username        string `json:"username"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	ProfileImageURL string `json:"profile_image_url,omitempty"`
	Followers       int    `json:"followers_count,omitempty"`
	Following       int    `json:"following_count,omitempty"`
	PostCount       int    `json:"tweet_count,omitempty"`
	CreatedAt       string `json:"created_at,omitempty"`
}

// Data is the serialized form of a session
type Data struct {
	Version     int             `json:"v"`
	Flow        config.FlowKind `json:"flow,omitempty"`
	Pending     *Pending        `json:"pending,omitempty"`
	Credentials *Credentials    `json:"credentials,omitempty"`
	Identity    *Identity       `json:"identity,omitempty"`
}

// Session is one browser's state for the duration of a request. It is not
// safe for concurrent use.
type Session struct {
	data      Data
	raw       *sessions.Session
	destroyed bool
}

// New returns an empty anonymous session
func New() *Session {
	return &Session{data: Data{Version: SchemaVersion}}
}

// State returns the login state
func (s *Session) State() State {
	switch {
	case s.data.Credentials != nil && s.data.Credentials.AccessToken != "":
		return Authenticated
	case s.data.Pending != nil:
		return AwaitingCallback
	default:
		return Anonymous
	}
}

// Flow returns the variant that populated the session
func (s *Session) Flow() config.FlowKind {
	return s.data.Flow
}

// BeginFlow stores the ephemeral secrets of a new login attempt. A previous
// unfinished attempt is replaced.
func (s *Session) BeginFlow(p Pending) error {
	if s.State() == Authenticated {
		return ErrInvalidTransition
	}
	s.data.Flow = p.Kind
	s.data.Pending = &p
	return nil
}

// TakePending returns the ephemeral secrets and removes them from the
// session, so a callback can consume them only once
func (s *Session) TakePending() *Pending {
	p := s.data.Pending
	s.data.Pending = nil
	return p
}

// Authenticate stores durable credentials and the identity snapshot
func (s *Session) Authenticate(flow config.FlowKind, creds Credentials, id Identity) {
	s.data.Flow = flow
	s.data.Pending = nil
	s.data.Credentials = &creds
	s.data.Identity = &id
}

// UpdateCredentials replaces the credentials after a refresh
func (s *Session) UpdateCredentials(creds Credentials) error {
	if s.State() != Authenticated {
		return ErrNotAuthenticated
	}
	s.data.Credentials = &creds
	return nil
}

// Credentials returns a copy of the stored credentials, or nil
func (s *Session) Credentials() *Credentials {
	if s.data.Credentials == nil {
		return nil
	}
	c := *s.data.Credentials
	return &c
}

// Identity returns a copy of the identity snapshot, or nil
func (s *Session) Identity() *Identity {
	if s.data.Identity == nil {
		return nil
	}
	id := *s.data.Identity
	return &id
}

// Destroyed reports whether the session was destroyed during this request
func (s *Session) Destroyed() bool {
	return s.destroyed
}

func (s *Session) reset() {
	s.data = Data{Version: SchemaVersion}
}

// MergeIdentity combines two identity sources field by field. Non-empty
// fields of preferred win; fallback fills the rest. preferred may be nil
// when its source failed.
func MergeIdentity(preferred *Identity, fallback Identity) Identity {
	if preferred == nil {
		return fallback
	}
	out := *preferred
	if out.ID == "" {
		out.ID = fallback.ID
	}
	if out.Username == "" {
		out.Username = fallback.Username
	}
	if out.Name == "" {
		out.Name = fallback.Name
	}
	if out.Description == "" {
		out.Description = fallback.Description
	}
	if out.ProfileImageURL == "" {
		out.ProfileImageURL = fallback.ProfileImageURL
	}
	if out.Followers == 0 {
		out.Followers = fallback.Followers
	}
	if out.Following == 0 {
		out.Following = fallback.Following
	}
	if out.PostCount == 0 {
		out.PostCount = fallback.PostCount
	}
	if out.CreatedAt == "" {
		out.CreatedAt = fallback.CreatedAt
	}
	return out
}
