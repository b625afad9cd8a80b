package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func write(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8740", cfg.Listen)
	assert.Equal(t, 20*time.Second, cfg.Submit.Timeout)
	assert.Equal(t, "bolt", cfg.Store.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.Window)
	assert.False(t, cfg.AcceptSimulated)
}

func TestLoadOverridesAndSecrets(t *testing.T) {
	t.Setenv("TEST_SIGNING_KEY", " abcd ")
	t.Setenv("TEST_JWT", "secret")
	path := write(t, `
listen: 0.0.0.0:9000
accept_simulated: true
networks:
  - name: a
    url: ws://127.0.0.1:6006
  - name: b
    url: wss://example.net
submit:
  timeout: 5s
signer:
  key_env: TEST_SIGNING_KEY
auth:
  jwt_secret_env: TEST_JWT
  tokens:
    - user_id: ops
      role: admin
      token_hash: sha256:0000000000000000000000000000000000000000000000000000000000000000
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.True(t, cfg.AcceptSimulated)
	assert.Equal(t, []string{"a", "b"}, cfg.NetworkNames())
	assert.Equal(t, 5*time.Second, cfg.Submit.Timeout)
	assert.Equal(t, uint32(5), cfg.Submit.Breaker.ConsecutiveFailures, "unset nested values keep their defaults")
	assert.Equal(t, "abcd", cfg.Secrets.SigningKey)
	assert.Equal(t, []byte("secret"), cfg.Secrets.JWTSecret)
	require.Len(t, cfg.Auth.Tokens, 1)
	assert.Equal(t, "ops", cfg.Auth.Tokens[0].UserID)
}

func TestLoadRejectsBadNetworks(t *testing.T) {
	for _, body := range []string{
		"networks: [{name: a, url: http://x}]",
		"networks: [{url: ws://x}]",
		"networks: [{name: a, url: ws://x}, {name: a, url: ws://y}]",
	} {
		_, err := Load(write(t, body))
		assert.Error(t, err, body)
	}
}

func TestLoadRejectsBoltIdempotencyOnPostgres(t *testing.T) {
	_, err := Load(write(t, "store: {driver: postgres, postgres_dsn: postgres://x}"))
	assert.Error(t, err)

	_, err = Load(write(t, "store: {driver: postgres}\nidempotency: {driver: redis, redis_addr: localhost:6379}"))
	assert.NoError(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(write(t, "listen: [unclosed"))
	assert.Error(t, err)
}

func TestDefaultYAMLParses(t *testing.T) {
	cfg := Default()
	require.NoError(t, yaml.Unmarshal([]byte(DefaultYAML()), cfg))
	require.NoError(t, cfg.validate())
	assert.Len(t, cfg.Networks, 2)
	assert.Equal(t, time.Second, cfg.NetworkClient.PollInterval)
}
