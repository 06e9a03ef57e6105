package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the pipeline processes.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Queue       QueueConfig       `yaml:"queue"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	Domains     DomainsConfig     `yaml:"domains"`
	Policy      PolicyConfig      `yaml:"policy"`
	Transport   TransportConfig   `yaml:"transport"`
	Logging     LoggingConfig     `yaml:"logging"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        int      `yaml:"port"`
	Host        string   `yaml:"host"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// Addr returns host:port. Containers listen on every interface.
func (c ServerConfig) Addr() string {
	host := c.Host
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		host = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d", host, c.Port)
}

// DatabaseConfig points at Postgres. An empty URL selects the in-memory stores.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig points at the broker. An empty URL and Addr means no broker,
// and the queue runs degraded.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Enabled reports whether a broker address is configured.
func (c RedisConfig) Enabled() bool { return c.URL != "" || c.Addr != "" }

// QueueConfig tunes both queue backends.
type QueueConfig struct {
	Prefix               string         `yaml:"prefix"`
	AddTimeoutMs         int            `yaml:"add_timeout_ms"`
	ProbeTimeoutMs       int            `yaml:"probe_timeout_ms"`
	DefaultAttempts      int            `yaml:"default_attempts"`
	BackoffBaseMs        int            `yaml:"backoff_base_ms"`
	CompletedRetentionHr int            `yaml:"completed_retention_hours"`
	FailedRetentionHr    int            `yaml:"failed_retention_hours"`
	LeaseSeconds         int            `yaml:"lease_seconds"`
	MaxStalls            int            `yaml:"max_stalls"`
	PollIntervalMs       int            `yaml:"poll_interval_ms"`
	Concurrency          map[string]int `yaml:"concurrency"`
}

func (c QueueConfig) AddTimeout() time.Duration   { return ms(c.AddTimeoutMs) }
func (c QueueConfig) ProbeTimeout() time.Duration { return ms(c.ProbeTimeoutMs) }
func (c QueueConfig) BackoffBase() time.Duration  { return ms(c.BackoffBaseMs) }
func (c QueueConfig) PollInterval() time.Duration { return ms(c.PollIntervalMs) }
func (c QueueConfig) Lease() time.Duration        { return time.Duration(c.LeaseSeconds) * time.Second }

// CompletedRetention is how long finished jobs are kept before pruning.
func (c QueueConfig) CompletedRetention() time.Duration {
	return time.Duration(c.CompletedRetentionHr) * time.Hour
}

// FailedRetention is how long exhausted jobs are kept before pruning.
func (c QueueConfig) FailedRetention() time.Duration {
	return time.Duration(c.FailedRetentionHr) * time.Hour
}

// DispatchConfig paces campaign fan-out.
type DispatchConfig struct {
	BatchSize          int    `yaml:"batch_size"`
	BatchDelayMs       int    `yaml:"batch_delay_ms"`
	UnsubscribeBaseURL string `yaml:"unsubscribe_base_url"`
}

func (c DispatchConfig) BatchDelay() time.Duration { return ms(c.BatchDelayMs) }

// DomainsConfig holds the platform values DNS records are checked against.
type DomainsConfig struct {
	BounceBaseDomain string        `yaml:"bounce_base_domain"`
	SPFInclude       string        `yaml:"spf_include"`
	TrackingHost     string        `yaml:"tracking_host"`
	EncryptionKey    string        `yaml:"encryption_key"`
	DNSTimeoutSec    int           `yaml:"dns_timeout_seconds"`
	Route53          Route53Config `yaml:"route53"`
}

func (c DomainsConfig) DNSTimeout() time.Duration {
	return time.Duration(c.DNSTimeoutSec) * time.Second
}

// Route53Config enables publishing records into a hosted zone on create.
type Route53Config struct {
	Enabled      bool   `yaml:"enabled"`
	HostedZoneID string `yaml:"hosted_zone_id"`
	Region       string `yaml:"region"`
	TTL          int64  `yaml:"ttl"`
}

// PolicyConfig holds the send-gate switches.
type PolicyConfig struct {
	Environment            string `yaml:"environment"`
	AllowUnverifiedSending bool   `yaml:"allow_unverified_sending"`
	// Only consulted when no DKIM encryption key is configured.
	AllowWhenSigningUnavailable bool `yaml:"allow_when_signing_unavailable"`
}

// Production reports whether plaintext key storage must be refused.
func (c PolicyConfig) Production() bool {
	return strings.EqualFold(c.Environment, "production") || strings.EqualFold(c.Environment, "prod")
}

// TransportConfig selects and configures the outbound provider.
type TransportConfig struct {
	Type    string        `yaml:"type"` // ses | mailgun | http | log
	SES     SESConfig     `yaml:"ses"`
	Mailgun MailgunConfig `yaml:"mailgun"`
	HTTP    HTTPConfig    `yaml:"http"`
}

// SESConfig holds AWS SES v2 settings.
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	ConfigurationSet string `yaml:"configuration_set"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
}

func (c SESConfig) Timeout() time.Duration { return time.Duration(c.TimeoutSeconds) * time.Second }

// MailgunConfig holds Mailgun API settings.
type MailgunConfig struct {
	Domain  string `yaml:"domain"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// HTTPConfig holds a generic JSON relay endpoint.
type HTTPConfig struct {
	URL            string `yaml:"url"`
	APIKey         string `yaml:"api_key"`
	MaxRetries     int    `yaml:"max_retries"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func (c HTTPConfig) Timeout() time.Duration { return time.Duration(c.TimeoutSeconds) * time.Second }

// LoggingConfig configures internal/pkg/logger.
type LoggingConfig struct {
	Level            string `yaml:"level"`
	DisableRedaction bool   `yaml:"disable_redaction"`
}

// MaintenanceConfig holds cron specs (seconds precision) for worker sweeps.
type MaintenanceConfig struct {
	QueueSweepSpec string `yaml:"queue_sweep_spec"`
	DNSRecheckSpec string `yaml:"dns_recheck_spec"`
	LockTTLSeconds int    `yaml:"lock_ttl_seconds"`
}

func (c MaintenanceConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, cfg.Validate()
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}

	q := &c.Queue
	if q.Prefix == "" {
		q.Prefix = "mailpipe"
	}
	if q.AddTimeoutMs == 0 {
		q.AddTimeoutMs = 5000
	}
	if q.ProbeTimeoutMs == 0 {
		q.ProbeTimeoutMs = 2000
	}
	if q.DefaultAttempts == 0 {
		q.DefaultAttempts = 3
	}
	if q.BackoffBaseMs == 0 {
		q.BackoffBaseMs = 1000
	}
	if q.CompletedRetentionHr == 0 {
		q.CompletedRetentionHr = 24
	}
	if q.FailedRetentionHr == 0 {
		q.FailedRetentionHr = 168
	}
	if q.LeaseSeconds == 0 {
		q.LeaseSeconds = 30
	}
	if q.MaxStalls == 0 {
		q.MaxStalls = 1
	}
	if q.PollIntervalMs == 0 {
		q.PollIntervalMs = 100
	}
	if q.Concurrency == nil {
		q.Concurrency = map[string]int{}
	}
	for kind, n := range map[string]int{"single_email": 10, "campaign_batch": 1, "scheduled_campaign": 1} {
		if q.Concurrency[kind] == 0 {
			q.Concurrency[kind] = n
		}
	}

	if c.Dispatch.BatchSize == 0 {
		c.Dispatch.BatchSize = 100
	}
	if c.Dispatch.BatchDelayMs == 0 {
		c.Dispatch.BatchDelayMs = 1000
	}
	if c.Dispatch.UnsubscribeBaseURL == "" {
		c.Dispatch.UnsubscribeBaseURL = "https://app.mailpipe.io/unsubscribe"
	}

	d := &c.Domains
	if d.BounceBaseDomain == "" {
		d.BounceBaseDomain = "bounces.mailpipe.io"
	}
	if d.SPFInclude == "" {
		d.SPFInclude = "_spf.mailpipe.io"
	}
	if d.TrackingHost == "" {
		d.TrackingHost = "track.mailpipe.io"
	}
	if d.DNSTimeoutSec == 0 {
		d.DNSTimeoutSec = 5
	}
	if d.Route53.TTL == 0 {
		d.Route53.TTL = 300
	}

	if c.Policy.Environment == "" {
		c.Policy.Environment = "development"
	}

	if c.Transport.Type == "" {
		c.Transport.Type = "log"
	}
	if c.Transport.SES.Region == "" {
		c.Transport.SES.Region = "us-west-2"
	}
	if c.Transport.SES.TimeoutSeconds == 0 {
		c.Transport.SES.TimeoutSeconds = 30
	}
	if c.Transport.HTTP.MaxRetries == 0 {
		c.Transport.HTTP.MaxRetries = 3
	}
	if c.Transport.HTTP.TimeoutSeconds == 0 {
		c.Transport.HTTP.TimeoutSeconds = 30
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Maintenance.QueueSweepSpec == "" {
		c.Maintenance.QueueSweepSpec = "*/30 * * * * *"
	}
	if c.Maintenance.DNSRecheckSpec == "" {
		c.Maintenance.DNSRecheckSpec = "0 */15 * * * *"
	}
	if c.Maintenance.LockTTLSeconds == 0 {
		c.Maintenance.LockTTLSeconds = 120
	}
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	if c.Dispatch.BatchSize < 0 || c.Dispatch.BatchDelayMs < 0 {
		return fmt.Errorf("dispatch: batch_size and batch_delay_ms must be non-negative")
	}
	if c.Queue.DefaultAttempts < 1 {
		return fmt.Errorf("queue: default_attempts must be at least 1")
	}
	switch c.Transport.Type {
	case "log", "ses", "mailgun", "http":
	default:
		return fmt.Errorf("transport: unknown type %q", c.Transport.Type)
	}
	if c.Domains.Route53.Enabled && c.Domains.Route53.HostedZoneID == "" {
		return fmt.Errorf("domains.route53: hosted_zone_id is required when enabled")
	}
	return nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file is read first if present. An empty path starts from defaults.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		var err error
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}

	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	flag := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	num("SERVER_PORT", &cfg.Server.Port)
	str("SERVER_HOST", &cfg.Server.Host)
	str("DATABASE_URL", &cfg.Database.URL)
	str("REDIS_URL", &cfg.Redis.URL)
	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	num("QUEUE_ADD_TIMEOUT_MS", &cfg.Queue.AddTimeoutMs)
	num("QUEUE_DEFAULT_ATTEMPTS", &cfg.Queue.DefaultAttempts)
	num("QUEUE_BACKOFF_BASE_MS", &cfg.Queue.BackoffBaseMs)
	num("DISPATCH_BATCH_SIZE", &cfg.Dispatch.BatchSize)
	num("DISPATCH_BATCH_DELAY_MS", &cfg.Dispatch.BatchDelayMs)
	str("BOUNCE_BASE_DOMAIN", &cfg.Domains.BounceBaseDomain)
	str("DKIM_ENCRYPTION_KEY", &cfg.Domains.EncryptionKey)
	str("APP_ENV", &cfg.Policy.Environment)
	flag("ALLOW_UNVERIFIED_SENDING", &cfg.Policy.AllowUnverifiedSending)
	str("TRANSPORT_TYPE", &cfg.Transport.Type)
	str("AWS_SES_ACCESS_KEY", &cfg.Transport.SES.AccessKey)
	str("AWS_SES_SECRET_KEY", &cfg.Transport.SES.SecretKey)
	str("AWS_SES_REGION", &cfg.Transport.SES.Region)
	str("MAILGUN_API_KEY", &cfg.Transport.Mailgun.APIKey)
	str("MAILGUN_DOMAIN", &cfg.Transport.Mailgun.Domain)
	str("MAILGUN_BASE_URL", &cfg.Transport.Mailgun.BaseURL)
	str("RELAY_URL", &cfg.Transport.HTTP.URL)
	str("RELAY_API_KEY", &cfg.Transport.HTTP.APIKey)
	str("LOG_LEVEL", &cfg.Logging.Level)

	return cfg, cfg.Validate()
}
