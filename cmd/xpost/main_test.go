package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setEnv(t *testing.T, env map[string]string) {
	t.Helper()
	for _, k := range []string{
		"APP_URL", "APP_ENV", "X_AUTH_FLOW", "X_CLIENT_ID", "X_CLIENT_SECRET",
		"X_API_KEY", "X_API_SECRET", "SESSION_SECRET", "OPENAI_API_KEY",
	} {
		t.Setenv(k, env[k])
	}
}

func TestValidate_Pass(t *testing.T) {
	setEnv(t, map[string]string{
		"APP_URL":         "https://app.example.com",
		"X_CLIENT_ID":     "client-id",
		"X_CLIENT_SECRET": "client-secret",
		"SESSION_SECRET":  strings.Repeat("s", 40),
	})

	var out bytes.Buffer
	require.NoError(t, validate(&out, []string{filepath.Join(t.TempDir(), "missing.env")}))

	report := out.String()
	assert.Contains(t, report, "Auth flow: oauth2")
	assert.Contains(t, report, "Callback URL: https://app.example.com/api/auth/callback")
	assert.Contains(t, report, "X credentials: set")
	assert.Contains(t, report, "AI generation: missing")
	assert.Contains(t, report, "Result: PASS")
	assert.NotContains(t, report, "client-secret")
	assert.NotContains(t, report, strings.Repeat("s", 40))
}

func TestValidate_Fail(t *testing.T) {
	setEnv(t, map[string]string{
		"APP_URL": "https://app.example.com",
	})

	var out bytes.Buffer
	err := validate(&out, nil)
	require.Error(t, err)

	assert.Contains(t, out.String(), "SESSION_SECRET")
	assert.Contains(t, out.String(), "Result: FAIL")
}

func TestRun_Version(t *testing.T) {
	assert.NoError(t, run([]string{"xpost", "version"}))
}
