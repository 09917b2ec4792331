package config

import (
	"encoding/json"
	"strings"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// FlowKind selects which OAuth variant a deployment uses. The two are
// mutually exclusive.
type FlowKind string

const (
	// FlowOAuth2 is the Authorization Code flow with PKCE. Access tokens
	// expire and are refreshed with the offline.access refresh token.
	FlowOAuth2 FlowKind = "oauth2"

	// FlowOAuth1a is the legacy three-legged signed flow. Access tokens do
	// not expire and cannot be refreshed.
	FlowOAuth1a FlowKind = "oauth1a"
)

// Endpoints are the X URLs used by both flows and the API client.
// Overridable so tests and staging can point at fakes.
type Endpoints struct {
	APIBaseURL         string `json:"apiBaseUrl"`
	AuthorizeURL       string `json:"authorizeUrl"`
	TokenURL           string `json:"tokenUrl"`
	RevokeURL          string `json:"revokeUrl"`
	RequestTokenURL    string `json:"requestTokenUrl"`
	OAuth1AuthorizeURL string `json:"oauth1AuthorizeUrl"`
	AccessTokenURL     string `json:"accessTokenUrl"`
}

// DefaultEndpoints returns the production X endpoints
func DefaultEndpoints() Endpoints {
	return Endpoints{
		APIBaseURL:         "https://api.x.com/2",
		AuthorizeURL:       "https://x.com/i/oauth2/authorize",
		TokenURL:           "https://api.x.com/2/oauth2/token",
		RevokeURL:          "https://api.x.com/2/oauth2/revoke",
		RequestTokenURL:    "https://api.x.com/oauth/request_token",
		OAuth1AuthorizeURL: "https://api.x.com/oauth/authorize",
		AccessTokenURL:     "https://api.x.com/oauth/access_token",
	}
}

// DefaultScopes are requested by the OAuth2 flow. offline.access is what
// makes X return a refresh token.
var DefaultScopes = []string{"tweet.read", "tweet.write", "users.read", "offline.access"}

// XConfig holds the platform credentials for the selected flow
type XConfig struct {
	Flow FlowKind `json:"flow"`

	// OAuth2
	ClientID     string   `json:"clientId"`
	ClientSecret Secret   `json:"clientSecret"`
	Scopes       []string `json:"scopes"`

	// OAuth1a
	ConsumerKey    string `json:"consumerKey"`
	ConsumerSecret Secret `json:"consumerSecret"`

	// RevokeOnLogout asks X to revoke the access token on logout in addition
	// to deleting the local session. OAuth2 only.
	RevokeOnLogout bool `json:"revokeOnLogout"`

	Endpoints Endpoints `json:"endpoints"`
}

// HasCredentials reports whether the credentials needed by the selected
// flow are present
func (x XConfig) HasCredentials() bool {
	switch x.Flow {
	case FlowOAuth1a:
		return x.ConsumerKey != "" && x.ConsumerSecret != ""
	default:
		return x.ClientID != "" && x.ClientSecret != ""
	}
}

// SessionConfig configures the encrypted session cookie
type SessionConfig struct {
	Secret Secret        `json:"secret"`
	TTL    time.Duration `json:"ttl"`
}

// ComposeConfig configures the optional AI text generator
type ComposeConfig struct {
	APIKey  Secret `json:"apiKey"`
	Model   string `json:"model"`
	BaseURL string `json:"baseUrl"`
}

// Enabled reports whether an AI provider key is configured
func (c ComposeConfig) Enabled() bool {
	return c.APIKey != ""
}

// Config is built once at process start and passed to constructors
type Config struct {
	BaseURL        string        `json:"baseURL"`
	Addr           string        `json:"addr"`
	AllowedOrigins []string      `json:"allowedOrigins"`
	X              XConfig       `json:"x"`
	Session        SessionConfig `json:"session"`
	Compose        ComposeConfig `json:"compose"`
}

// CallbackURL is the redirect URI registered with X
func (c Config) CallbackURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/api/auth/callback"
}

// AppURL returns the public URL of the application joined with path
func (c Config) AppURL(path string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	if path == "" {
		return base + "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
