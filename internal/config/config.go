// Package config loads service configuration from config.yaml, an optional
// .env file and MAILQUEUE_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/sungwon/mailqueue/internal/archive"
	"github.com/sungwon/mailqueue/internal/auth"
	"github.com/sungwon/mailqueue/internal/logger"
	mq "github.com/sungwon/mailqueue/internal/mail"
	"github.com/sungwon/mailqueue/internal/provider"
	"github.com/sungwon/mailqueue/internal/queue"
	"github.com/sungwon/mailqueue/internal/scheduler"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MAILQUEUE"

// Config holds all application configuration.
type Config struct {
	API       APIConfig            `mapstructure:"api"`
	SMTP      SMTPConfig           `mapstructure:"smtp"`
	Database  DatabaseConfig       `mapstructure:"database"`
	Redis     RedisConfig          `mapstructure:"redis"`
	Queue     queue.Config         `mapstructure:"queue"`
	Logging   logger.LoggingConfig `mapstructure:"logging"`
	Delivery  DeliveryConfig       `mapstructure:"delivery"`
	Templates TemplatesConfig      `mapstructure:"templates"`
	Providers ProvidersConfig      `mapstructure:"providers"`
	Scheduler scheduler.Config     `mapstructure:"scheduler"`
	Retention RetentionConfig      `mapstructure:"retention"`
	Auth      AuthConfig           `mapstructure:"auth"`
}

// APIConfig holds REST API server configuration.
type APIConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// SMTPConfig holds the submission ingress configuration.
type SMTPConfig struct {
	Host                 string        `mapstructure:"host"`
	Port                 int           `mapstructure:"port"`
	Domain               string        `mapstructure:"domain"`
	MaxConnections       int           `mapstructure:"max_connections"`
	ReadTimeout          time.Duration `mapstructure:"read_timeout"`
	WriteTimeout         time.Duration `mapstructure:"write_timeout"`
	MaxMessageSize       int64         `mapstructure:"max_message_size"`
	MaxRecipients        int           `mapstructure:"max_recipients"`
	AllowedSenderDomains []string      `mapstructure:"allowed_sender_domains"`
	TLSCertFile          string        `mapstructure:"tls_cert_file"`
	TLSKeyFile           string        `mapstructure:"tls_key_file"`
	// AllowInsecureAuth permits AUTH without TLS. Development only.
	AllowInsecureAuth bool `mapstructure:"allow_insecure_auth"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	PoolMin        int32         `mapstructure:"pool_min"`
	PoolMax        int32         `mapstructure:"pool_max"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// AutoMigrate applies pending migrations at startup.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// RedisConfig holds the Redis connection used by the queue, the scheduler
// lock and rate limiting. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DeliveryConfig is the delivery policy.
type DeliveryConfig struct {
	Backend              string        `mapstructure:"backend"`
	DefaultFrom          string        `mapstructure:"default_from"`
	MaxAttempts          int           `mapstructure:"max_attempts"`
	RetryScheduleSeconds []int         `mapstructure:"retry_schedule_seconds"`
	SendTimeout          time.Duration `mapstructure:"send_timeout"`
	StaleAfter           time.Duration `mapstructure:"stale_after"`
	CleanupBatch         int           `mapstructure:"cleanup_batch"`
	HealthInterval       time.Duration `mapstructure:"health_interval"`
}

// TemplatesConfig configures template loading and rendering.
type TemplatesConfig struct {
	Dir        string `mapstructure:"dir"`
	MaxBytes   int    `mapstructure:"max_bytes"`
	StrictVars bool   `mapstructure:"strict_vars"`
	DeriveText bool   `mapstructure:"derive_text"`
}

// ProviderSettings holds every backend's options. Each backend reads only
// the fields it needs.
type ProviderSettings struct {
	APIKey    string        `mapstructure:"api_key"`
	SecretKey string        `mapstructure:"secret_key"`
	Endpoint  string        `mapstructure:"endpoint"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Region    string        `mapstructure:"region"`
	Domain    string        `mapstructure:"domain"`
	FromName  string        `mapstructure:"from_name"`
	OutputDir string        `mapstructure:"output_dir"`
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	StartTLS  bool          `mapstructure:"starttls"`
}

// ProvidersConfig holds per-backend settings.
type ProvidersConfig struct {
	SMTP      ProviderSettings `mapstructure:"smtp"`
	SendGrid  ProviderSettings `mapstructure:"sendgrid"`
	Mailgun   ProviderSettings `mapstructure:"mailgun"`
	Postmark  ProviderSettings `mapstructure:"postmark"`
	SendPulse ProviderSettings `mapstructure:"sendpulse"`
	SES       ProviderSettings `mapstructure:"ses"`
	Resend    ProviderSettings `mapstructure:"resend"`
	File      ProviderSettings `mapstructure:"file"`
}

// RetentionConfig controls deletion of SENT messages.
type RetentionConfig struct {
	// Days keeps SENT messages this long. Zero disables cleanup.
	Days    int            `mapstructure:"days"`
	Archive archive.Config `mapstructure:"archive"`
}

// Duration returns the retention window.
func (r RetentionConfig) Duration() time.Duration {
	return time.Duration(r.Days) * 24 * time.Hour
}

// AuthConfig holds API and SMTP credentials.
type AuthConfig struct {
	JWT       auth.JWTConfig       `mapstructure:"jwt"`
	RateLimit auth.RateLimitConfig `mapstructure:"rate_limit"`
	// SMTPUsers maps submission usernames to bcrypt hashes.
	SMTPUsers     map[string]string `mapstructure:"smtp_users"`
	WebhookSecret string            `mapstructure:"webhook_secret"`
}

var knownBackends = []string{"stdout", "file", "smtp", "sendgrid", "mailgun", "postmark", "sendpulse", "ses", "resend"}

// Provider returns the provider configuration for the selected backend.
func (c *Config) Provider() provider.ProviderConfig {
	var s ProviderSettings
	switch c.Delivery.Backend {
	case "smtp":
		s = c.Providers.SMTP
	case "sendgrid":
		s = c.Providers.SendGrid
	case "mailgun":
		s = c.Providers.Mailgun
	case "postmark":
		s = c.Providers.Postmark
	case "sendpulse":
		s = c.Providers.SendPulse
	case "ses":
		s = c.Providers.SES
	case "resend":
		s = c.Providers.Resend
	case "file":
		s = c.Providers.File
	}
	timeout := s.Timeout
	if timeout == 0 {
		timeout = c.Delivery.SendTimeout
	}
	return provider.ProviderConfig{
		Type:      c.Delivery.Backend,
		APIKey:    s.APIKey,
		SecretKey: s.SecretKey,
		Endpoint:  s.Endpoint,
		Timeout:   timeout,
		Region:    s.Region,
		Domain:    s.Domain,
		FromName:  s.FromName,
		OutputDir: s.OutputDir,
		Host:      s.Host,
		Port:      s.Port,
		Username:  s.Username,
		Password:  s.Password,
		StartTLS:  s.StartTLS,
	}
}

// SchedulerConfig returns the scheduler configuration with the durations it
// takes from the delivery and retention sections.
func (c *Config) SchedulerConfig() scheduler.Config {
	s := c.Scheduler
	s.StaleAfter = c.Delivery.StaleAfter
	s.Retention = c.Retention.Duration()
	return s
}

// Validate checks settings every binary depends on.
func (c *Config) Validate() error {
	var errs []error

	if err := mq.RetrySchedule(c.Delivery.RetryScheduleSeconds).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("delivery.retry_schedule_seconds: %w", err))
	}
	if c.Delivery.MaxAttempts < 1 {
		errs = append(errs, errors.New("delivery.max_attempts must be at least 1"))
	}
	if c.Delivery.StaleAfter <= c.Delivery.SendTimeout {
		errs = append(errs, fmt.Errorf("delivery.stale_after (%s) must exceed delivery.send_timeout (%s)",
			c.Delivery.StaleAfter, c.Delivery.SendTimeout))
	}
	backend := strings.ToLower(strings.TrimSpace(c.Delivery.Backend))
	c.Delivery.Backend = backend
	if !contains(knownBackends, backend) {
		errs = append(errs, fmt.Errorf("delivery.backend: unknown backend %q", c.Delivery.Backend))
	}
	if backend == "smtp" && c.Providers.SMTP.Host == "" {
		errs = append(errs, errors.New("providers.smtp.host is required for the smtp backend"))
	}
	if c.Templates.MaxBytes <= 0 {
		errs = append(errs, errors.New("templates.max_bytes must be positive"))
	}
	if c.Retention.Days < 0 {
		errs = append(errs, errors.New("retention.days must not be negative"))
	}
	switch c.Retention.Archive.Type {
	case "", archive.TypeNone, archive.TypeLocal, archive.TypeS3:
	default:
		errs = append(errs, fmt.Errorf("retention.archive.type: unknown type %q", c.Retention.Archive.Type))
	}
	switch c.Queue.Type {
	case queue.TypeInline, queue.TypeSQS:
	case queue.TypeRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis queue"))
		}
	default:
		errs = append(errs, fmt.Errorf("queue.type: unknown type %q", c.Queue.Type))
	}
	return errors.Join(errs...)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Load reads configuration from the given config directory path.
// It looks for a file named "config.yaml" in that directory. A .env file in
// the working directory is loaded first when present; real environment
// variables win over it. Variables with prefix MAILQUEUE_ override file
// values, e.g. MAILQUEUE_DATABASE_URL overrides database.url.
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// setDefaults registers every key so environment variables can override
// keys the file omits.
func setDefaults(v *viper.Viper) {
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.read_timeout", 10*time.Second)
	v.SetDefault("api.write_timeout", 30*time.Second)
	v.SetDefault("api.shutdown_timeout", 15*time.Second)
	v.SetDefault("api.cors_origins", []string{})

	v.SetDefault("smtp.host", "0.0.0.0")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.domain", "localhost")
	v.SetDefault("smtp.max_connections", 100)
	v.SetDefault("smtp.read_timeout", 30*time.Second)
	v.SetDefault("smtp.write_timeout", 30*time.Second)
	v.SetDefault("smtp.max_message_size", 10<<20)
	v.SetDefault("smtp.max_recipients", 50)
	v.SetDefault("smtp.allowed_sender_domains", []string{})
	v.SetDefault("smtp.tls_cert_file", "")
	v.SetDefault("smtp.tls_key_file", "")
	v.SetDefault("smtp.allow_insecure_auth", false)

	v.SetDefault("database.url", "")
	v.SetDefault("database.pool_min", 2)
	v.SetDefault("database.pool_max", 10)
	v.SetDefault("database.connect_timeout", 5*time.Second)
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	q := queue.DefaultConfig()
	v.SetDefault("queue.type", q.Type)
	v.SetDefault("queue.stream", q.Stream)
	v.SetDefault("queue.group", q.Group)
	v.SetDefault("queue.worker_count", q.WorkerCount)
	v.SetDefault("queue.block_timeout", q.BlockTimeout)
	v.SetDefault("queue.process_timeout", q.ProcessTimeout)
	v.SetDefault("queue.shutdown_timeout", q.ShutdownTimeout)
	v.SetDefault("queue.max_retries", q.MaxRetries)
	v.SetDefault("queue.sqs_queue_url", "")
	v.SetDefault("queue.sqs_dlq_url", "")
	v.SetDefault("queue.sqs_region", "")
	v.SetDefault("queue.sqs_endpoint", "")
	v.SetDefault("queue.sqs_wait_time", 20)
	v.SetDefault("queue.sqs_visibility_timeout", 30)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output", logger.OutputStdout)
	v.SetDefault("logging.file_path", logger.DefaultLogPath)
	v.SetDefault("logging.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("logging.max_files", logger.DefaultMaxFiles)

	v.SetDefault("delivery.backend", "stdout")
	v.SetDefault("delivery.default_from", "")
	v.SetDefault("delivery.max_attempts", 3)
	v.SetDefault("delivery.retry_schedule_seconds", []int{0, 60, 120})
	v.SetDefault("delivery.send_timeout", 30*time.Second)
	v.SetDefault("delivery.stale_after", 10*time.Minute)
	v.SetDefault("delivery.cleanup_batch", 500)
	v.SetDefault("delivery.health_interval", 30*time.Second)

	v.SetDefault("templates.dir", "templates")
	v.SetDefault("templates.max_bytes", 256000)
	v.SetDefault("templates.strict_vars", false)
	v.SetDefault("templates.derive_text", true)

	for _, name := range knownBackends {
		if name == "stdout" {
			continue
		}
		for _, key := range []string{"api_key", "secret_key", "endpoint", "region", "domain", "from_name", "output_dir", "host", "username", "password"} {
			v.SetDefault("providers."+name+"."+key, "")
		}
		v.SetDefault("providers."+name+".timeout", time.Duration(0))
		v.SetDefault("providers."+name+".port", 0)
		v.SetDefault("providers."+name+".starttls", false)
	}

	s := scheduler.DefaultConfig()
	v.SetDefault("scheduler.due_spec", s.DueSpec)
	v.SetDefault("scheduler.stale_spec", s.StaleSpec)
	v.SetDefault("scheduler.cleanup_spec", s.CleanupSpec)
	v.SetDefault("scheduler.batch_size", s.BatchSize)

	v.SetDefault("retention.days", 30)
	v.SetDefault("retention.archive.type", archive.TypeNone)
	v.SetDefault("retention.archive.path", "archive")
	v.SetDefault("retention.archive.s3_bucket", "")
	v.SetDefault("retention.archive.s3_prefix", "")
	v.SetDefault("retention.archive.s3_endpoint", "")
	v.SetDefault("retention.archive.s3_region", "")

	v.SetDefault("auth.jwt.signing_key", "")
	v.SetDefault("auth.jwt.access_token_expiry", time.Hour)
	v.SetDefault("auth.jwt.issuer", "mailqueue")
	v.SetDefault("auth.jwt.audience", "mailqueue-api")
	v.SetDefault("auth.rate_limit.requests_per_minute", 600)
	v.SetDefault("auth.rate_limit.login_attempts_limit", 5)
	v.SetDefault("auth.rate_limit.login_lockout_duration", 15*time.Minute)
	v.SetDefault("auth.webhook_secret", "")
}
