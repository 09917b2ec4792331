package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dgellow/xpost/internal/log"
)

const defaultSessionTTL = 14 * 24 * time.Hour

// Load reads optional dotenv files into the process environment, builds the
// config from it and validates the result. Variables already set in the
// environment win over the files.
func Load(envFiles ...string) (Config, error) {
	if err := LoadEnvFiles(envFiles...); err != nil {
		return Config{}, err
	}

	cfg, err := FromEnv(os.Getenv)
	if err != nil {
		return Config{}, err
	}

	result := Validate(cfg)
	for _, w := range result.Warnings {
		log.LogWarnWithFields("config", w.Message, map[string]any{"path": w.Path})
	}
	if !result.IsValid() {
		return Config{}, result.Err()
	}
	return cfg, nil
}

// LoadEnvFiles reads dotenv files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnvFiles(envFiles ...string) error {
	for _, f := range envFiles {
		if f == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			if os.IsNotExist(err) {
				log.LogDebug("env file %s not found, skipping", f)
				continue
			}
			return fmt.Errorf("loading env file %s: %w", f, err)
		}
	}
	return nil
}

// FromEnv builds a Config from environment lookups. It only fails on values
// that cannot be parsed; completeness is checked by Validate.
func FromEnv(getenv func(string) string) (Config, error) {
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := Config{
		BaseURL:        strings.TrimRight(env("APP_URL", ""), "/"),
		Addr:           env("ADDR", ":8080"),
		AllowedOrigins: splitList(env("ALLOWED_ORIGINS", ""), ","),
		X: XConfig{
			Flow:           FlowKind(strings.ToLower(env("X_AUTH_FLOW", string(FlowOAuth2)))),
			ClientID:       env("X_CLIENT_ID", ""),
			ClientSecret:   Secret(env("X_CLIENT_SECRET", "")),
			ConsumerKey:    env("X_API_KEY", ""),
			ConsumerSecret: Secret(env("X_API_SECRET", "")),
			Scopes:         DefaultScopes,
		},
		Session: SessionConfig{
			Secret: Secret(env("SESSION_SECRET", "")),
			TTL:    defaultSessionTTL,
		},
		Compose: ComposeConfig{
			APIKey:  Secret(env("OPENAI_API_KEY", "")),
			Model:   env("OPENAI_MODEL", "gpt-4o-mini"),
			BaseURL: strings.TrimRight(env("OPENAI_BASE_URL", "https://api.openai.com/v1"), "/"),
		},
	}

	if scopes := env("X_SCOPES", ""); scopes != "" {
		cfg.X.Scopes = strings.Fields(scopes)
	}

	if raw := env("X_REVOKE_ON_LOGOUT", ""); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parsing X_REVOKE_ON_LOGOUT: %w", err)
		}
		cfg.X.RevokeOnLogout = b
	}

	if raw := env("SESSION_TTL", ""); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parsing SESSION_TTL: %w", err)
		}
		cfg.Session.TTL = ttl
	}

	def := DefaultEndpoints()
	cfg.X.Endpoints = Endpoints{
		APIBaseURL:         strings.TrimRight(env("X_API_BASE_URL", def.APIBaseURL), "/"),
		AuthorizeURL:       env("X_AUTHORIZE_URL", def.AuthorizeURL),
		TokenURL:           env("X_TOKEN_URL", def.TokenURL),
		RevokeURL:          env("X_REVOKE_URL", def.RevokeURL),
		RequestTokenURL:    env("X_REQUEST_TOKEN_URL", def.RequestTokenURL),
		OAuth1AuthorizeURL: env("X_OAUTH1_AUTHORIZE_URL", def.OAuth1AuthorizeURL),
		AccessTokenURL:     env("X_ACCESS_TOKEN_URL", def.AccessTokenURL),
	}

	return cfg, nil
}

func splitList(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
