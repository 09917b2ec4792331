package server

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgellow/xpost/internal/config"
	"github.com/dgellow/xpost/internal/cookie"
	"github.com/dgellow/xpost/internal/crypto"
)

func TestLogin_RedirectsToX(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodGet, "/api/auth/login", nil)
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "x.com", loc.Host)

	q := loc.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, appURL+"/api/auth/callback", q.Get("redirect_uri"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("state"))
	assert.Len(t, q.Get("code_challenge"), 43)

	assert.Contains(t, app.cookies, cookie.SessionCookie, "pending secrets are stored in the cookie")
}

func TestLoginCallback_Success(t *testing.T) {
	app := newTestApp(t)

	rec := app.login(t)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, appURL+"/", rec.Header().Get("Location"))
	assert.EqualValues(t, 1, app.x.tokenHits.Load())

	me := decode(t, app.do(t, http.MethodGet, "/api/auth/me", nil))
	user, ok := me["user"].(map[string]any)
	require.True(t, ok, "user should be set: %v", me)
	assert.Equal(t, "twitterapi", user["username"])
	assert.Equal(t, "6253282", user["id"])
}

func TestLogin_AlreadyAuthenticated(t *testing.T) {
	app := newTestApp(t)
	app.login(t)

	rec := app.do(t, http.MethodGet, "/api/auth/login", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, appURL+"/", rec.Header().Get("Location"))
}

func TestLogin_MissingCredentials(t *testing.T) {
	app := newTestApp(t, func(cfg *config.Config) {
		cfg.X.ClientID = ""
		cfg.X.ClientSecret = ""
	})

	rec := app.do(t, http.MethodGet, "/api/auth/login", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, appURL+"/verify?error=missing_credentials", rec.Header().Get("Location"))
	assert.Zero(t, app.x.tokenHits.Load())
}

func TestCallback_Errors(t *testing.T) {
	tests := []struct {
		name     string
		login    bool
		query    func(state string) url.Values
		wantCode string
	}{
		{
			name:  "state mismatch",
			login: true,
			query: func(string) url.Values {
				state, _ := crypto.State()
				return url.Values{"code": {"abc"}, "state": {state}}
			},
			wantCode: "state_mismatch",
		},
		{
			name:     "no pending login",
			login:    false,
			query:    func(string) url.Values { return url.Values{"code": {"abc"}, "state": {"xyz"}} },
			wantCode: "flow_expired",
		},
		{
			name:     "user denied",
			login:    true,
			query:    func(state string) url.Values { return url.Values{"error": {"access_denied"}, "state": {state}} },
			wantCode: "access_denied",
		},
		{
			name:     "missing code",
			login:    true,
			query:    func(state string) url.Values { return url.Values{"state": {state}} },
			wantCode: "missing_params",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t)

			var state string
			if tt.login {
				rec := app.do(t, http.MethodGet, "/api/auth/login", nil)
				loc, err := url.Parse(rec.Header().Get("Location"))
				require.NoError(t, err)
				state = loc.Query().Get("state")
			}

			rec := app.do(t, http.MethodGet, "/api/auth/callback?"+tt.query(state).Encode(), nil)
			assert.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, appURL+"/verify?error="+tt.wantCode, rec.Header().Get("Location"))
			assert.Zero(t, app.x.tokenHits.Load(), "token endpoint must not be called")

			me := decode(t, app.do(t, http.MethodGet, "/api/auth/me", nil))
			assert.Nil(t, me["user"])
		})
	}
}

func TestCallback_PendingIsSingleUse(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodGet, "/api/auth/login", nil)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")

	wrong := url.Values{"code": {"abc"}, "state": {"not-the-state"}}
	rec = app.do(t, http.MethodGet, "/api/auth/callback?"+wrong.Encode(), nil)
	assert.Contains(t, rec.Header().Get("Location"), "error=state_mismatch")

	right := url.Values{"code": {"abc"}, "state": {state}}
	rec = app.do(t, http.MethodGet, "/api/auth/callback?"+right.Encode(), nil)
	assert.Contains(t, rec.Header().Get("Location"), "error=flow_expired")
	assert.Zero(t, app.x.tokenHits.Load())
}

func TestMe_Anonymous(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodGet, "/api/auth/me", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user":null}`, rec.Body.String())
}

func TestMe_TamperedCookie(t *testing.T) {
	app := newTestApp(t)
	app.login(t)

	c := *app.cookies[cookie.SessionCookie]
	c.Value = c.Value[:len(c.Value)-4] + "AAAA"
	app.cookies[cookie.SessionCookie] = &c

	rec := app.do(t, http.MethodGet, "/api/auth/me", nil)
	assert.JSONEq(t, `{"user":null}`, rec.Body.String())
}

func TestLogout(t *testing.T) {
	app := newTestApp(t)
	app.login(t)

	rec := app.do(t, http.MethodPost, "/api/auth/logout", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	assert.NotContains(t, app.cookies, cookie.SessionCookie)

	rec = app.do(t, http.MethodGet, "/api/auth/me", nil)
	assert.JSONEq(t, `{"user":null}`, rec.Body.String())
}

func TestLogout_RequiresPost(t *testing.T) {
	app := newTestApp(t)
	rec := app.do(t, http.MethodGet, "/api/auth/logout", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
