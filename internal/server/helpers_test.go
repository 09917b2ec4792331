package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dgellow/xpost/internal/authflow"
	"github.com/dgellow/xpost/internal/compose"
	"github.com/dgellow/xpost/internal/config"
	"github.com/dgellow/xpost/internal/platform"
	"github.com/dgellow/xpost/internal/publish"
	"github.com/dgellow/xpost/internal/session"
)

const appURL = "https://app.example.com"

// fakeX issues numbered tokens and serves the few v2 endpoints the app uses
type fakeX struct {
	*httptest.Server

	tokenHits    atomic.Int32
	postHits     atomic.Int32
	timelineHits atomic.Int32

	mu             sync.Mutex
	issued         int
	rejected       map[string]bool
	failText       string
	failRefresh    bool
	timelineStatus int
	posts          []string
}

func newFakeX(t *testing.T) *fakeX {
	t.Helper()
	f := &fakeX{rejected: map[string]bool{}}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /2/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenHits.Add(1)
		_ = r.ParseForm()
		f.mu.Lock()
		if f.failRefresh && r.PostForm.Get("grant_type") == "refresh_token" {
			f.mu.Unlock()
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request", "error_description": "Value passed for the token was invalid."})
			return
		}
		f.issued++
		n := f.issued
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"token_type":    "bearer",
			"expires_in":    7200,
			"access_token":  fmt.Sprintf("access-%d", n),
			"refresh_token": fmt.Sprintf("refresh-%d", n),
		})
	})
	mux.HandleFunc("GET /2/users/me", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"data": map[string]any{"id": "6253282", "username": "twitterapi", "name": "Twitter API"},
		})
	})
	mux.HandleFunc("POST /2/tweets", func(w http.ResponseWriter, r *http.Request) {
		f.postHits.Add(1)
		if !f.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"title": "Unauthorized", "status": 401})
			return
		}
		var body struct {
			Text string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failText != "" && body.Text == f.failText {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"title": "Service Unavailable"})
			return
		}
		if slices.Contains(f.posts, body.Text) {
			writeJSON(w, http.StatusForbidden, map[string]any{
				"title":  "Forbidden",
				"detail": "You are not allowed to create a Tweet with duplicate content.",
			})
			return
		}
		f.posts = append(f.posts, body.Text)
		writeJSON(w, http.StatusCreated, map[string]any{
			"data": map[string]any{"id": fmt.Sprintf("%d", 100+len(f.posts)), "text": body.Text},
		})
	})
	mux.HandleFunc("GET /2/users/{id}/tweets", func(w http.ResponseWriter, r *http.Request) {
		f.timelineHits.Add(1)
		f.mu.Lock()
		status := f.timelineStatus
		f.mu.Unlock()
		if status != 0 {
			writeJSON(w, status, map[string]any{"title": "error"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"data": []map[string]any{{"id": "1", "text": "first"}, {"id": "2", "text": "second"}},
		})
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeX) authorized(r *http.Request) bool {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	f.mu.Lock()
	defer f.mu.Unlock()
	return token != "" && !f.rejected[token]
}

func (f *fakeX) reject(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected[token] = true
}

func (f *fakeX) set(fn func(*fakeX)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeX) published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.posts...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func testConfig(x *fakeX) config.Config {
	return config.Config{
		BaseURL: appURL,
		Addr:    ":0",
		X: config.XConfig{
			Flow:         config.FlowOAuth2,
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			Scopes:       config.DefaultScopes,
			Endpoints: config.Endpoints{
				APIBaseURL:   x.URL + "/2",
				AuthorizeURL: "https://x.com/i/oauth2/authorize",
				TokenURL:     x.URL + "/2/oauth2/token",
				RevokeURL:    x.URL + "/2/oauth2/revoke",
			},
		},
		Session: config.SessionConfig{
			Secret: config.Secret(strings.Repeat("s", 48)),
			TTL:    time.Hour,
		},
	}
}

// testApp drives the router like a browser that keeps its cookies
type testApp struct {
	x       *fakeX
	handler http.Handler
	cookies map[string]*http.Cookie
}

func newTestApp(t *testing.T, mutate ...func(*config.Config)) *testApp {
	t.Helper()
	x := newFakeX(t)
	cfg := testConfig(x)
	for _, m := range mutate {
		m(&cfg)
	}

	store, err := session.NewCookieStore(cfg.Session)
	require.NoError(t, err)

	api := platform.NewClient(cfg.X.Endpoints.APIBaseURL, x.Client())
	flow, err := authflow.New(cfg, api, x.Client())
	require.NoError(t, err)

	handler := NewRouter(Routes{
		Auth:           NewAuthHandlers(cfg, store, flow),
		Posts:          NewPostHandlers(store, publish.NewPublisher(flow, api), compose.NewGenerator(cfg.Compose, x.Client())),
		AllowedOrigins: []string{appURL},
	})

	return &testApp{x: x, handler: handler, cookies: map[string]*http.Cookie{}}
}

func (a *testApp) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range a.cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(a.cookies, c.Name)
			continue
		}
		a.cookies[c.Name] = c
	}
	return rec
}

// login runs the redirect round trip and returns the callback response
func (a *testApp) login(t *testing.T) *httptest.ResponseRecorder {
	t.Helper()

	rec := a.do(t, http.MethodGet, "/api/auth/login", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)

	q := url.Values{}
	q.Set("code", "auth-code")
	q.Set("state", loc.Query().Get("state"))
	return a.do(t, http.MethodGet, "/api/auth/callback?"+q.Encode(), nil)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}
