package session

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/sessions"
	"golang.org/x/crypto/hkdf"

	"github.com/dgellow/xpost/internal/apperr"
	"github.com/dgellow/xpost/internal/config"
	"github.com/dgellow/xpost/internal/cookie"
	"github.com/dgellow/xpost/internal/crypto"
	"github.com/dgellow/xpost/internal/envutil"
	"github.com/dgellow/xpost/internal/log"
)

const dataKey = "data"

// Store loads and persists sessions
type Store interface {
	// Load never fails: anything that cannot be decoded is an anonymous
	// session
	Load(r *http.Request) *Session
	Save(w http.ResponseWriter, r *http.Request, s *Session) error
	Destroy(w http.ResponseWriter, r *http.Request, s *Session) error
}

// Writer persists a session within one request
type Writer interface {
	Save(s *Session) error
	Destroy(s *Session) error
}

type boundWriter struct {
	store Store
	w     http.ResponseWriter
	r     *http.Request
}

// Bind returns a Writer for the current request
func Bind(store Store, w http.ResponseWriter, r *http.Request) Writer {
	return &boundWriter{store: store, w: w, r: r}
}

func (b *boundWriter) Save(s *Session) error {
	return b.store.Save(b.w, b.r, s)
}

func (b *boundWriter) Destroy(s *Session) error {
	return b.store.Destroy(b.w, b.r, s)
}

// CookieStore keeps the whole session in one cookie, encrypted with
// AES-256-CTR and authenticated with HMAC-SHA256 by securecookie
type CookieStore struct {
	store *sessions.CookieStore
	name  string
}

// NewCookieStore creates a cookie store keyed from cfg.Secret. An empty or
// short secret is a configuration error outside development; in development
// an empty secret is replaced by a random one that lasts for the process.
func NewCookieStore(cfg config.SessionConfig) (*CookieStore, error) {
	secret := string(cfg.Secret)
	switch {
	case secret == "" && envutil.IsDev():
		generated, err := crypto.GenerateSecureToken()
		if err != nil {
			return nil, err
		}
		secret = generated
		log.LogWarnWithFields("session", "SESSION_SECRET not set, using a per-process secret", nil)
	case secret == "":
		return nil, fmt.Errorf("%w: SESSION_SECRET is required", apperr.ErrConfiguration)
	case len(secret) < config.MinSessionSecretLength && !envutil.IsDev():
		return nil, fmt.Errorf("%w: SESSION_SECRET must be at least %d characters", apperr.ErrConfiguration, config.MinSessionSecretLength)
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("%w: session TTL must be positive", apperr.ErrConfiguration)
	}

	hashKey, blockKey, err := deriveKeys(secret)
	if err != nil {
		return nil, err
	}

	store := sessions.NewCookieStore(hashKey, blockKey)
	store.Options = cookie.SessionOptions(cfg.TTL)
	store.MaxAge(store.Options.MaxAge)

	return &CookieStore{store: store, name: cookie.SessionCookie}, nil
}

// deriveKeys expands the secret into independent HMAC and AES keys
func deriveKeys(secret string) (hashKey, blockKey []byte, err error) {
	hashKey = make([]byte, 64)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte("xpost session hmac")), hashKey); err != nil {
		return nil, nil, fmt.Errorf("deriving session hash key: %w", err)
	}
	blockKey = make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte("xpost session aes")), blockKey); err != nil {
		return nil, nil, fmt.Errorf("deriving session block key: %w", err)
	}
	return hashKey, blockKey, nil
}

// Load decodes the session cookie
func (c *CookieStore) Load(r *http.Request) *Session {
	// New skips the per-request registry so every call decodes afresh
	raw, err := c.store.New(r, c.name)
	if err != nil {
		log.LogDebugWithFields("session", "Discarding undecodable session cookie", map[string]any{
			"error": err,
		})
		return &Session{data: Data{Version: SchemaVersion}, raw: raw}
	}

	s := &Session{data: Data{Version: SchemaVersion}, raw: raw}
	if raw.IsNew {
		return s
	}

	blob, ok := raw.Values[dataKey].([]byte)
	if !ok {
		log.LogDebugWithFields("session", "Session cookie has no data", nil)
		return s
	}

	var data Data
	if err := json.Unmarshal(blob, &data); err != nil {
		log.LogDebugWithFields("session", "Discarding malformed session data", map[string]any{
			"error": err,
		})
		return s
	}
	if data.Version != SchemaVersion {
		log.LogDebugWithFields("session", "Discarding session with unknown schema version", map[string]any{
			"version": data.Version,
		})
		return s
	}

	s.data = data
	return s
}

// Save encodes and writes the session cookie
func (c *CookieStore) Save(w http.ResponseWriter, r *http.Request, s *Session) error {
	if s.destroyed {
		return ErrDestroyed
	}

	blob, err := json.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	raw := c.rawSession(s)
	raw.Values = map[any]any{dataKey: blob}
	if err := c.store.Save(r, w, raw); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}

	log.LogTraceWithFields("session", "Session saved", map[string]any{
		"state": s.State().String(),
		"bytes": len(blob),
	})
	return nil
}

// Destroy expires the cookie and wipes s. Saving s afterwards fails.
func (c *CookieStore) Destroy(w http.ResponseWriter, r *http.Request, s *Session) error {
	if s.destroyed {
		return nil
	}

	raw := c.rawSession(s)
	raw.Values = map[any]any{}
	raw.Options.MaxAge = -1
	s.reset()
	s.destroyed = true

	if err := c.store.Save(r, w, raw); err != nil {
		// the expired cookie still has to reach the browser
		cookie.ClearSession(w)
		return fmt.Errorf("destroying session: %w", err)
	}
	return nil
}

func (c *CookieStore) rawSession(s *Session) *sessions.Session {
	if s.raw == nil {
		s.raw = sessions.NewSession(c.store, c.name)
		opts := *c.store.Options
		s.raw.Options = &opts
		s.raw.IsNew = true
	}
	return s.raw
}
