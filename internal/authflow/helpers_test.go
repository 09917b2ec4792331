package authflow

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dgellow/xpost/internal/config"
	"github.com/dgellow/xpost/internal/platform"
)

// fakeX serves the X token endpoints and /2/users/me
type fakeX struct {
	*httptest.Server

	tokenHits        atomic.Int32
	revokeHits       atomic.Int32
	requestTokenHits atomic.Int32
	accessTokenHits  atomic.Int32
	identityHits     atomic.Int32

	mu         sync.Mutex
	tokenForms []map[string]string
	basicUser  string
	basicPass  string
	oauthAuth  []string
	identityAt string

	tokenHandler    http.HandlerFunc
	identityHandler http.HandlerFunc
	requestHandler  http.HandlerFunc
	accessHandler   http.HandlerFunc
}

func newFakeX(t *testing.T, opts ...func(*fakeX)) *fakeX {
	t.Helper()
	f := &fakeX{}
	for _, opt := range opts {
		opt(f)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /2/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenHits.Add(1)
		_ = r.ParseForm()
		form := map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		user, pass, _ := r.BasicAuth()
		f.mu.Lock()
		f.tokenForms = append(f.tokenForms, form)
		f.basicUser, f.basicPass = user, pass
		f.mu.Unlock()

		if f.tokenHandler != nil {
			f.tokenHandler(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token_type":    "bearer",
			"expires_in":    7200,
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"scope":         "tweet.read tweet.write users.read offline.access",
		})
	})
	mux.HandleFunc("POST /2/oauth2/revoke", func(w http.ResponseWriter, r *http.Request) {
		f.revokeHits.Add(1)
		_ = r.ParseForm()
		f.mu.Lock()
		f.tokenForms = append(f.tokenForms, map[string]string{"token": r.PostForm.Get("token")})
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"revoked": true})
	})
	mux.HandleFunc("POST /oauth/request_token", func(w http.ResponseWriter, r *http.Request) {
		f.requestTokenHits.Add(1)
		f.recordOAuth(r)
		if f.requestHandler != nil {
			f.requestHandler(w, r)
			return
		}
		_, _ = w.Write([]byte("oauth_token=req-token&oauth_token_secret=req-secret&oauth_callback_confirmed=true"))
	})
	mux.HandleFunc("POST /oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		f.accessTokenHits.Add(1)
		f.recordOAuth(r)
		if f.accessHandler != nil {
			f.accessHandler(w, r)
			return
		}
		_, _ = w.Write([]byte("oauth_token=acc-token&oauth_token_secret=acc-secret&user_id=6253282&screen_name=twitterapi"))
	})
	mux.HandleFunc("GET /2/users/me", func(w http.ResponseWriter, r *http.Request) {
		f.identityHits.Add(1)
		f.mu.Lock()
		f.identityAt = r.Header.Get("Authorization")
		f.mu.Unlock()
		if f.identityHandler != nil {
			f.identityHandler(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"data": map[string]any{
				"id":          "6253282",
				"username":    "twitterapi",
				"name":        "Twitter API",
				"description": "The Real Twitter API.",
				"public_metrics": map[string]any{
					"followers_count": 100,
				},
			},
		})
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeX) recordOAuth(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.oauthAuth = append(f.oauthAuth, r.Header.Get("Authorization"))
}

func (f *fakeX) lastTokenForm() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tokenForms) == 0 {
		return nil
	}
	return f.tokenForms[len(f.tokenForms)-1]
}

func (f *fakeX) lastOAuthHeader() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.oauthAuth) == 0 {
		return ""
	}
	return f.oauthAuth[len(f.oauthAuth)-1]
}

func (f *fakeX) basicAuth() (string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.basicUser, f.basicPass
}

func (f *fakeX) identityAuthorization() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.identityAt
}

func (f *fakeX) config(flow config.FlowKind) config.Config {
	return config.Config{
		BaseURL: "https://app.example.com",
		X: config.XConfig{
			Flow:           flow,
			ClientID:       "client-id",
			ClientSecret:   "client-secret",
			ConsumerKey:    "consumer-key",
			ConsumerSecret: "consumer-secret",
			Scopes:         config.DefaultScopes,
			Endpoints: config.Endpoints{
				APIBaseURL:         f.URL + "/2",
				AuthorizeURL:       "https://x.com/i/oauth2/authorize",
				TokenURL:           f.URL + "/2/oauth2/token",
				RevokeURL:          f.URL + "/2/oauth2/revoke",
				RequestTokenURL:    f.URL + "/oauth/request_token",
				OAuth1AuthorizeURL: "https://api.x.com/oauth/authorize",
				AccessTokenURL:     f.URL + "/oauth/access_token",
			},
		},
	}
}

func (f *fakeX) api() *platform.Client {
	return platform.NewClient(f.URL+"/2", f.Client())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
