package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: DEV
server:
  addr: ":9090"
db:
  host: localhost
  user: caseflow
  password: secret
  name: caseflow
auth:
  okta_domain: "https://dev-123.okta.com/oauth2/default/"
  dev_mode_bypass: true
workflow:
  max_overrides: 5
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "DEV", cfg.Environment)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "localhost", cfg.DB.Host)
	assert.True(t, cfg.Auth.DevModeBypass)
	assert.Equal(t, 5, cfg.Workflow.MaxOverrides)

	// Unset keys fall back to defaults.
	assert.Equal(t, 5432, cfg.DB.Port)
	assert.Equal(t, "disable", cfg.DB.SSLMode)
	assert.Equal(t, "foreclosure_stabilization_v1", cfg.Workflow.ProgramKey)
	assert.Equal(t, 30, cfg.Workflow.DefaultSLADays)

	// Issuer URLs pasted from the Okta console lose their trailing slash.
	assert.Equal(t, "https://dev-123.okta.com/oauth2/default", cfg.Auth.OktaDomain)
}

func TestNormalizeOktaIssuer(t *testing.T) {
	assert.Equal(t, "https://x.okta.com", normalizeOktaIssuer(" https://x.okta.com/ "))
	assert.Equal(t, "", normalizeOktaIssuer(""))
	assert.Equal(t, "https://x.okta.com/oauth2", normalizeOktaIssuer("https://x.okta.com/oauth2"))
}
