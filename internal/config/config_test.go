package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  host: "0.0.0.0"

queue:
  add_timeout_ms: 2500
  default_attempts: 5
  concurrency:
    single_email: 25

dispatch:
  batch_size: 50
  batch_delay_ms: 250

domains:
  bounce_base_domain: "bounce.example.net"
  route53:
    enabled: true
    hosted_zone_id: "Z123"

policy:
  environment: production
  allow_unverified_sending: true

transport:
  type: mailgun
  mailgun:
    domain: mg.example.net
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())
	assert.Equal(t, 2500*time.Millisecond, cfg.Queue.AddTimeout())
	assert.Equal(t, 5, cfg.Queue.DefaultAttempts)
	assert.Equal(t, 25, cfg.Queue.Concurrency["single_email"])
	assert.Equal(t, 1, cfg.Queue.Concurrency["campaign_batch"])
	assert.Equal(t, 50, cfg.Dispatch.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Dispatch.BatchDelay())
	assert.Equal(t, "bounce.example.net", cfg.Domains.BounceBaseDomain)
	assert.Equal(t, int64(300), cfg.Domains.Route53.TTL)
	assert.True(t, cfg.Policy.Production())
	assert.True(t, cfg.Policy.AllowUnverifiedSending)
	assert.Equal(t, "mailgun", cfg.Transport.Type)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "mailpipe", cfg.Queue.Prefix)
	assert.Equal(t, 5*time.Second, cfg.Queue.AddTimeout())
	assert.Equal(t, 2*time.Second, cfg.Queue.ProbeTimeout())
	assert.Equal(t, 3, cfg.Queue.DefaultAttempts)
	assert.Equal(t, time.Second, cfg.Queue.BackoffBase())
	assert.Equal(t, 10, cfg.Queue.Concurrency["single_email"])
	assert.Equal(t, 1, cfg.Queue.Concurrency["scheduled_campaign"])
	assert.Equal(t, 100, cfg.Dispatch.BatchSize)
	assert.Equal(t, time.Second, cfg.Dispatch.BatchDelay())
	assert.Equal(t, "development", cfg.Policy.Environment)
	assert.False(t, cfg.Policy.Production())
	assert.False(t, cfg.Policy.AllowUnverifiedSending)
	assert.Equal(t, "log", cfg.Transport.Type)
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoadRejectsUnknownTransport(t *testing.T) {
	_, err := Load(writeConfig(t, "transport:\n  type: carrier-pigeon\n"))
	assert.Error(t, err)
}

func TestLoadRoute53NeedsZone(t *testing.T) {
	_, err := Load(writeConfig(t, "domains:\n  route53:\n    enabled: true\n"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	path := writeConfig(t, "dispatch:\n  batch_size: 10\n")
	t.Setenv("DISPATCH_BATCH_SIZE", "200")
	t.Setenv("ALLOW_UNVERIFIED_SENDING", "true")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("APP_ENV", "production")
	t.Setenv("QUEUE_ADD_TIMEOUT_MS", "not-a-number")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Dispatch.BatchSize)
	assert.True(t, cfg.Policy.AllowUnverifiedSending)
	assert.True(t, cfg.Redis.Enabled())
	assert.True(t, cfg.Policy.Production())
	assert.Equal(t, 5*time.Second, cfg.Queue.AddTimeout())
}

func TestLoadFromEnvWithoutFile(t *testing.T) {
	t.Setenv("TRANSPORT_TYPE", "ses")
	cfg, err := LoadFromEnv("")
	require.NoError(t, err)
	assert.Equal(t, "ses", cfg.Transport.Type)
	assert.Equal(t, 100, cfg.Dispatch.BatchSize)
}
