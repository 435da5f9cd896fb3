package mapproxy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyEnv(envLookup(map[string]string{
		"UPSTREAM_URL":          "https://paste.example",
		"RENTRY_AUTH":           "s3cr3t",
		"REQUIRE_ACCESS_SECRET": "true",
		"ALLOWED_ORIGINS":       "http://localhost:3000, https://maps.example ,",
		"READ_ONLY":             "1",
		"EDIT_ENCODING":         "multipart",
		"CSRF_SOURCE":           "document",
		"HTTP_TIMEOUT":          "5",
	}))
	require.NoError(t, err)

	assert.Equal(t, "https://paste.example", cfg.UpstreamURL)
	assert.Equal(t, "s3cr3t", cfg.AccessSecret)
	assert.True(t, cfg.RequireAccessSecret)
	assert.True(t, cfg.ReadOnly)
	assert.False(t, cfg.LogURLs)
	assert.Equal(t, EncodingMultipart, cfg.EditEncoding)
	assert.Equal(t, TokenSourceDocument, cfg.TokenSource)
	assert.Equal(t, 5, cfg.Timeout)
	assert.Equal(t, []string{
		"http://localhost:3000",
		"https://maps.example",
		"https://lagrange-data.netlify.app",
		"https://yosuzuk.github.io",
	}, cfg.Origins())
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnvErrors(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyEnv(envLookup(map[string]string{
		"READ_ONLY":    "maybe",
		"HTTP_TIMEOUT": "soon",
	}))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "READ_ONLY")
	assert.Contains(t, err.Error(), "HTTP_TIMEOUT")
	assert.Equal(t, 15, cfg.Timeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"relative upstream", func(c *Config) { c.UpstreamURL = "rentry.co" }, "upstream"},
		{"ftp upstream", func(c *Config) { c.UpstreamURL = "ftp://rentry.co" }, "upstream"},
		{"unknown encoding", func(c *Config) { c.EditEncoding = "json" }, "edit_encoding"},
		{"unknown token source", func(c *Config) { c.TokenSource = "header" }, "csrf_source"},
		{"empty cookie name", func(c *Config) { c.CookieName = "" }, "csrf_cookie"},
		{"negative timeout", func(c *Config) { c.Timeout = -1 }, "timeout"},
		{"origin with path", func(c *Config) { c.AllowedOrigins = []string{"https://maps.example/app"} }, "allowed_origins"},
		{"null origin", func(c *Config) { c.AllowedOrigins = []string{"null"} }, "allowed_origins"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	for _, key := range []string{"UPSTREAM_URL", "ALLOWED_ORIGINS", "READ_ONLY", "EDIT_ENCODING", "CSRF_SOURCE", "HTTP_TIMEOUT"} {
		t.Setenv(key, "")
	}

	path := filepath.Join(t.TempDir(), "mapproxy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
upstream: https://paste.example
allowed_origins:
  - https://maps.example
read_only: true
edit_encoding: multipart
timeout: 30
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://paste.example", cfg.UpstreamURL)
	assert.Equal(t, []string{"https://maps.example"}, cfg.AllowedOrigins)
	assert.True(t, cfg.ReadOnly)
	assert.Equal(t, EncodingMultipart, cfg.EditEncoding)
	assert.Equal(t, 30, cfg.Timeout)
	// untouched defaults survive
	assert.Equal(t, "csrftoken", cfg.CookieName)
	assert.Equal(t, TokenSourceCookie, cfg.TokenSource)
}

func TestLoadConfigFileErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timeout: [1, 2"), 0o600))
	_, err = LoadConfig(path)
	assert.ErrorContains(t, err, "syntax error in config file")
}
