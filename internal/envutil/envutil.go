package envutil

import (
	"os"
	"strings"
)

// IsDev checks if we're running in development mode, where the session
// secret may be generated and cookies are not marked secure
func IsDev() bool {
	env := strings.ToLower(os.Getenv("APP_ENV"))
	return env == "development" || env == "dev"
}
