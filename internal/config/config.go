// Package config loads the service configuration file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/ledgerwatch/internal/alert"
	"github.com/ppiankov/ledgerwatch/internal/idempotency"
	"github.com/ppiankov/ledgerwatch/internal/identity"
	"github.com/ppiankov/ledgerwatch/internal/logging"
	"github.com/ppiankov/ledgerwatch/internal/network"
	"github.com/ppiankov/ledgerwatch/internal/store"
	"github.com/ppiankov/ledgerwatch/internal/submit"
	"github.com/ppiankov/ledgerwatch/internal/telemetry"
)

// Default environment variables holding secrets.
const (
	DefaultSigningKeyEnv = "LEDGERWATCH_SIGNING_KEY"
	DefaultJWTSecretEnv  = "LEDGERWATCH_JWT_SECRET"
)

// SignerConfig names where the signing key comes from.
type SignerConfig struct {
	KeyEnv string `yaml:"key_env"`
}

// AuthConfig configures credential resolution.
type AuthConfig struct {
	JWTSecretEnv string                 `yaml:"jwt_secret_env"`
	Tokens       []identity.TokenConfig `yaml:"tokens"`
}

// Secrets are resolved from the environment once, at load time.
type Secrets struct {
	SigningKey string
	JWTSecret  []byte
}

// Config is the full service configuration.
type Config struct {
	Listen          string `yaml:"listen"`
	GRPCListen      string `yaml:"grpc_listen"`
	PolicyPath      string `yaml:"policy"`
	DenylistPath    string `yaml:"denylist"`
	AuditLog        string `yaml:"audit_log"`
	ApprovalsDir    string `yaml:"approvals_dir"`
	AcceptSimulated bool   `yaml:"accept_simulated"`

	Networks      []network.Endpoint `yaml:"networks"`
	NetworkClient network.Options    `yaml:"network_client"`
	Submit        submit.Config      `yaml:"submit"`

	Store       store.Config        `yaml:"store"`
	Idempotency idempotency.Config  `yaml:"idempotency"`
	Signer      SignerConfig        `yaml:"signer"`
	Auth        AuthConfig          `yaml:"auth"`
	Alerts      []alert.AlertConfig `yaml:"alerts"`
	Log         logging.Config      `yaml:"log"`
	Telemetry   telemetry.Config    `yaml:"telemetry"`

	Secrets Secrets `yaml:"-"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Listen:       "127.0.0.1:8740",
		GRPCListen:   "127.0.0.1:8741",
		PolicyPath:   DefaultDir("policy.yaml"),
		DenylistPath: DefaultDir("denylist.yaml"),
		AuditLog:     DefaultDir("audit.jsonl"),
		ApprovalsDir: DefaultDir("pending"),
		Submit: submit.Config{
			Timeout: submit.DefaultTimeout,
			Breaker: submit.BreakerConfig{ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second, HalfOpenRequests: 1},
		},
		Store:       store.Config{Driver: "bolt", Path: DefaultDir("ledgerwatch.db")},
		Idempotency: idempotency.Config{Driver: "bolt", Window: idempotency.DefaultWindow},
		Signer:      SignerConfig{KeyEnv: DefaultSigningKeyEnv},
		Auth:        AuthConfig{JWTSecretEnv: DefaultJWTSecretEnv},
	}
}

// DefaultDir joins name onto ~/.ledgerwatch.
func DefaultDir(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "ledgerwatch", name)
	}
	return filepath.Join(home, ".ledgerwatch", name)
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return DefaultDir("config.yaml")
}

// Load reads path on top of Default. A missing file yields the defaults.
// Secrets are read from the environment variables the file names.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.Secrets = Secrets{
		SigningKey: strings.TrimSpace(os.Getenv(cfg.Signer.KeyEnv)),
		JWTSecret:  []byte(os.Getenv(cfg.Auth.JWTSecretEnv)),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	seen := make(map[string]bool)
	for i, n := range c.Networks {
		if n.Name == "" {
			return fmt.Errorf("networks[%d]: name is required", i)
		}
		if seen[n.Name] {
			return fmt.Errorf("networks[%d]: duplicate name %q", i, n.Name)
		}
		seen[n.Name] = true
		u, err := url.Parse(n.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return fmt.Errorf("network %s: url must be ws:// or wss://, got %q", n.Name, n.URL)
		}
	}
	switch c.Idempotency.Driver {
	case "", "bolt":
		if c.Store.Driver != "" && c.Store.Driver != "bolt" {
			return fmt.Errorf("idempotency driver bolt needs the bolt store; use redis with %s", c.Store.Driver)
		}
	case "redis":
		if c.Idempotency.RedisAddr == "" {
			return fmt.Errorf("idempotency: redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("idempotency: unknown driver %q", c.Idempotency.Driver)
	}
	return nil
}

// NetworkNames returns the configured network names in order.
func (c *Config) NetworkNames() []string {
	names := make([]string, len(c.Networks))
	for i, n := range c.Networks {
		names[i] = n.Name
	}
	return names
}

// DefaultYAML returns a commented template for init-config.
func DefaultYAML() string {
	return `# ledgerwatch service configuration
listen: 127.0.0.1:8740
grpc_listen: 127.0.0.1:8741

# Networks are tried in parallel; the first success in this order wins.
networks:
  - name: testnet
    url: wss://s.altnet.rippletest.net:51233
  - name: devnet
    url: wss://s.devnet.rippletest.net:51233

network_client:
  poll_interval: 1s
  ledger_offset: 20

submit:
  timeout: 20s
  breaker:
    consecutive_failures: 5
    open_timeout: 30s
    half_open_requests: 1

# Apply holdings for simulated results when no network accepted the
# transaction. Off in production.
accept_simulated: false

store:
  driver: bolt          # bolt | postgres
  # postgres_dsn: postgres://ledgerwatch@localhost/ledgerwatch
  # max_conns: 16

idempotency:
  driver: bolt          # bolt | redis
  # redis_addr: localhost:6379
  window: 24h

# The built-in signer emits canonical JSON blobs for test networks. Live
# rippled endpoints need a signer that produces the binary encoding.
signer:
  key_env: LEDGERWATCH_SIGNING_KEY

auth:
  jwt_secret_env: LEDGERWATCH_JWT_SECRET
  tokens: []
  # - user_id: ops
  #   role: admin
  #   token_hash: sha256:...

alerts: []
  # - url: https://hooks.slack.com/services/...
  #   format: slack
  #   events: [state_diverged, audit_failure, all_networks_failed]

log:
  level: info
  development: false

telemetry:
  otlp_endpoint: ""
`
}
