package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "embedded", cfg.Bus.URL)
	assert.Equal(t, "live.events", cfg.Bus.SubjectPrefix)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, ":8088", cfg.Web.Addr)
	assert.False(t, cfg.Web.Auth.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
log_level: debug
bus:
  url: nats://127.0.0.1:4222
storage:
  backend: file
  rule_dir: ./my-rules
actions:
  webhook:
    enabled: true
    base_url: http://127.0.0.1:9000/hooks
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.Bus.URL)
	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.Equal(t, "./my-rules", cfg.Storage.RuleDir)
	assert.True(t, cfg.Actions.Webhook.Enabled)
	// 未覆盖的键保留默认值
	assert.Equal(t, "live.events", cfg.Bus.SubjectPrefix)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.Error(t, err)
}

func TestValidateRejectsBadBackend(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	cfg.Storage.Backend = "etcd"
	assert.Error(t, cfg.Validate())
}

func TestValidateAuthRequiresSecrets(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	cfg.Web.Auth.Enabled = true
	assert.Error(t, cfg.Validate())

	cfg.Web.Auth.PasswordHash = "$2a$10$abcdefghijklmnopqrstuv"
	assert.Error(t, cfg.Validate())

	cfg.Web.Auth.JWTSecret = "secret"
	assert.NoError(t, cfg.Validate())
}
