package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sungwon/mailqueue/internal/queue"
)

func TestLoad_ValidConfigFile(t *testing.T) {
	cfg, err := Load("../../config")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.SMTP.Port != 587 {
		t.Errorf("expected SMTP port 587, got %d", cfg.SMTP.Port)
	}
	if cfg.SMTP.MaxMessageSize != 10485760 {
		t.Errorf("expected max message size 10485760, got %d", cfg.SMTP.MaxMessageSize)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("expected API port 8080, got %d", cfg.API.Port)
	}
	if cfg.Database.ConnectTimeout != 5*time.Second {
		t.Errorf("expected connect timeout 5s, got %v", cfg.Database.ConnectTimeout)
	}
	if cfg.Queue.Type != queue.TypeInline {
		t.Errorf("expected inline queue, got %s", cfg.Queue.Type)
	}
	if cfg.Delivery.MaxAttempts != 3 {
		t.Errorf("expected max attempts 3, got %d", cfg.Delivery.MaxAttempts)
	}
	want := []int{0, 60, 120}
	if len(cfg.Delivery.RetryScheduleSeconds) != len(want) {
		t.Fatalf("expected schedule %v, got %v", want, cfg.Delivery.RetryScheduleSeconds)
	}
	for i := range want {
		if cfg.Delivery.RetryScheduleSeconds[i] != want[i] {
			t.Errorf("schedule[%d]: expected %d, got %d", i, want[i], cfg.Delivery.RetryScheduleSeconds[i])
		}
	}
	if cfg.Templates.MaxBytes != 256000 {
		t.Errorf("expected template max bytes 256000, got %d", cfg.Templates.MaxBytes)
	}
	if cfg.Auth.JWT.AccessTokenExpiry != time.Hour {
		t.Errorf("expected token expiry 1h, got %v", cfg.Auth.JWT.AccessTokenExpiry)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("shipped config should validate: %v", err)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

func TestLoad_DefaultsFillMissingKeys(t *testing.T) {
	dir := writeConfig(t, "api:\n  port: 9000\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.API.Port != 9000 {
		t.Errorf("expected API port 9000, got %d", cfg.API.Port)
	}
	if cfg.API.Host != "0.0.0.0" {
		t.Errorf("expected default API host, got %q", cfg.API.Host)
	}
	if cfg.Delivery.Backend != "stdout" {
		t.Errorf("expected stdout backend, got %q", cfg.Delivery.Backend)
	}
	if cfg.Retention.Days != 30 {
		t.Errorf("expected 30 retention days, got %d", cfg.Retention.Days)
	}
	if cfg.Queue.WorkerCount != queue.DefaultConfig().WorkerCount {
		t.Errorf("expected default worker count, got %d", cfg.Queue.WorkerCount)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := writeConfig(t, "database:\n  url: postgres://file\n")
	t.Setenv("MAILQUEUE_DATABASE_URL", "postgres://env")
	t.Setenv("MAILQUEUE_DELIVERY_MAX_ATTEMPTS", "7")
	t.Setenv("MAILQUEUE_PROVIDERS_SENDGRID_API_KEY", "sg-key")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Database.URL != "postgres://env" {
		t.Errorf("expected env database URL, got %q", cfg.Database.URL)
	}
	if cfg.Delivery.MaxAttempts != 7 {
		t.Errorf("expected max attempts 7, got %d", cfg.Delivery.MaxAttempts)
	}
	if cfg.Providers.SendGrid.APIKey != "sg-key" {
		t.Errorf("expected sendgrid api key from env, got %q", cfg.Providers.SendGrid.APIKey)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := writeConfig(t, "api: [unclosed\n")
	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{
			name:    "schedule must start at zero",
			mutate:  func(c *Config) { c.Delivery.RetryScheduleSeconds = []int{30, 60} },
			wantErr: "retry_schedule_seconds",
		},
		{
			name:    "empty schedule",
			mutate:  func(c *Config) { c.Delivery.RetryScheduleSeconds = nil },
			wantErr: "retry_schedule_seconds",
		},
		{
			name:    "zero attempts",
			mutate:  func(c *Config) { c.Delivery.MaxAttempts = 0 },
			wantErr: "max_attempts",
		},
		{
			name: "stale timeout not above send timeout",
			mutate: func(c *Config) {
				c.Delivery.SendTimeout = time.Minute
				c.Delivery.StaleAfter = time.Minute
			},
			wantErr: "stale_after",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Delivery.Backend = "pigeon" },
			wantErr: "unknown backend",
		},
		{
			name:   "backend is normalized",
			mutate: func(c *Config) { c.Delivery.Backend = " SendGrid " },
		},
		{
			name:    "smtp backend needs host",
			mutate:  func(c *Config) { c.Delivery.Backend = "smtp" },
			wantErr: "providers.smtp.host",
		},
		{
			name:    "template limit",
			mutate:  func(c *Config) { c.Templates.MaxBytes = 0 },
			wantErr: "max_bytes",
		},
		{
			name:    "redis queue needs addr",
			mutate:  func(c *Config) { c.Queue.Type = queue.TypeRedis },
			wantErr: "redis.addr",
		},
		{
			name:    "unknown archive",
			mutate:  func(c *Config) { c.Retention.Archive.Type = "tape" },
			wantErr: "archive.type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestProvider_SelectsBackendSettings(t *testing.T) {
	cfg := validConfig(t)
	cfg.Delivery.Backend = "mailgun"
	cfg.Delivery.SendTimeout = 12 * time.Second
	cfg.Providers.Mailgun = ProviderSettings{APIKey: "mg", Domain: "mg.example.com"}

	p := cfg.Provider()
	if p.Type != "mailgun" || p.APIKey != "mg" || p.Domain != "mg.example.com" {
		t.Fatalf("unexpected provider config: %+v", p)
	}
	if p.Timeout != 12*time.Second {
		t.Errorf("expected timeout to fall back to send timeout, got %v", p.Timeout)
	}
}

func TestSchedulerConfig(t *testing.T) {
	cfg := validConfig(t)
	cfg.Delivery.StaleAfter = 5 * time.Minute
	cfg.Retention.Days = 2

	s := cfg.SchedulerConfig()
	if s.StaleAfter != 5*time.Minute {
		t.Errorf("expected stale after 5m, got %v", s.StaleAfter)
	}
	if s.Retention != 48*time.Hour {
		t.Errorf("expected retention 48h, got %v", s.Retention)
	}
}
