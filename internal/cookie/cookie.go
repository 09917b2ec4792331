package cookie

import (
	"net/http"
	"time"

	"github.com/gorilla/sessions"

	"github.com/dgellow/xpost/internal/envutil"
	"github.com/dgellow/xpost/internal/log"
)

// SessionCookie is the name of the encrypted session cookie
const SessionCookie = "xpost_session"

// SessionOptions returns the attributes of the session cookie. Secure is
// dropped in development so the app works over plain http on localhost.
func SessionOptions(maxAge time.Duration) *sessions.Options {
	secure := !envutil.IsDev()

	log.LogTraceWithFields("cookie", "Session cookie options", map[string]any{
		"maxAge":   maxAge.String(),
		"secure":   secure,
		"sameSite": "Lax",
	})

	return &sessions.Options{
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Clear removes a cookie by setting MaxAge to -1
func Clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

// ClearSession removes the session cookie
func ClearSession(w http.ResponseWriter) {
	Clear(w, SessionCookie)
	log.LogTraceWithFields("cookie", "Session cookie cleared", nil)
}
