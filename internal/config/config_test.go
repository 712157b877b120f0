package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  base_url: https://pnrr.example.it
auth:
  enabled: true
  api_key: secret
sources:
  path: /etc/pnrr/schools.yaml
fetch:
  user_agent: pnrr-bot/1.0
  max_links_per_source: 15
  pacing_tiers:
    - {from: 0, min_ms: 500, max_ms: 900}
    - {from: 5, min_ms: 1000, max_ms: 2000}
headless:
  enabled: true
  max_parallel: 2
store:
  backend: gcs
  gcs_bucket: pnrr-docs
  fallback_local: true
email:
  enabled: true
  smtp_host: smtp.example.it
  from: noreply@example.it
publish:
  kind: kafka
  kafka:
    brokers: ["k1:9092", "k2:9092"]
run:
  timeout_minutes: 5
logging:
  development: true
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.BaseURL != "https://pnrr.example.it" {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Sources.Path != "/etc/pnrr/schools.yaml" {
		t.Fatalf("unexpected sources path %q", cfg.Sources.Path)
	}
	if len(cfg.Fetch.PacingTiers) != 2 || cfg.Fetch.PacingTiers[1].MaxMs != 2000 {
		t.Fatalf("expected pacing tiers to load: %+v", cfg.Fetch.PacingTiers)
	}
	if cfg.Store.Backend != BackendGCS || cfg.Store.LocalDir != "data" {
		t.Fatalf("expected gcs store with default local dir: %+v", cfg.Store)
	}
	if got := cfg.KafkaBrokers(); len(got) != 2 || got[0] != "k1:9092" {
		t.Fatalf("unexpected brokers %v", got)
	}
	if got := cfg.RunTimeout(); got != 5*time.Minute {
		t.Fatalf("expected run timeout 5m, got %v", got)
	}
	if cfg.Email.SMTPPort != 587 || cfg.Email.SubjectPrefix != "[PNRR] " {
		t.Fatalf("expected email defaults, got %+v", cfg.Email)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Store.Backend != BackendLocal || cfg.Publish.Kind != PublishNone {
		t.Fatalf("unexpected defaults: store=%s publish=%s", cfg.Store.Backend, cfg.Publish.Kind)
	}
	if cfg.Retention() != 180*24*time.Hour {
		t.Fatalf("expected 180 day retention, got %v", cfg.Retention())
	}
	if cfg.CacheTTL() != 30*time.Minute {
		t.Fatalf("expected 30m cache ttl, got %v", cfg.CacheTTL())
	}
	if cfg.Run.SourceConcurrency != 2 || cfg.Run.DetailConcurrency != 3 || cfg.Fetch.MaxLinksPerSource != 10 {
		t.Fatalf("unexpected run defaults: %+v", cfg.Run)
	}
	if cfg.Schedule.Cron != "0 6 * * *" || cfg.Extract.Category != "PNRR Futura" {
		t.Fatalf("unexpected defaults: %+v %+v", cfg.Schedule, cfg.Extract)
	}
	if cfg.PersistsRunHistory() || cfg.UsesMongo() {
		t.Fatalf("postgres and mongo must be opt-in")
	}
	if cfg.Tracing.Enabled || cfg.Tracing.Exporter != "none" {
		t.Fatalf("tracing must be opt-in: %+v", cfg.Tracing)
	}
	if cfg.RequestTimeout() != time.Minute || cfg.ShutdownTimeout() != 15*time.Second {
		t.Fatalf("unexpected server timeouts %v %v", cfg.RequestTimeout(), cfg.ShutdownTimeout())
	}
	if cfg.Headless.PromotionThresh != 2048 {
		t.Fatalf("unexpected promotion threshold %d", cfg.Headless.PromotionThresh)
	}
	if !cfg.Store.FallbackLocal || cfg.Store.LocalDir != "data" {
		t.Fatalf("gcs must fall back to local disk by default: %+v", cfg.Store)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PNRR_SERVER_PORT", "7070")
	t.Setenv("PNRR_DB_DSN", "postgres://localhost/pnrr")
	t.Setenv("PNRR_PUBLISH_KIND", "kafka")
	t.Setenv("PNRR_PUBLISH_KAFKA_BROKERS", "a:9092, b:9092")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected env port, got %d", cfg.Server.Port)
	}
	if !cfg.PersistsRunHistory() {
		t.Fatalf("expected db dsn from env")
	}
	if got := cfg.KafkaBrokers(); len(got) != 2 || got[1] != "b:9092" {
		t.Fatalf("unexpected brokers %v", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "auth without key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "no sources path", mutate: func(c *Config) { c.Sources.Path = " " }, want: "sources.path"},
		{
			name:   "headless missing max parallel",
			mutate: func(c *Config) {
				c.Headless.Enabled = true
				c.Headless.MaxParallel = 0
			},
			want:   "headless.max_parallel",
		},
		{name: "unknown backend", mutate: func(c *Config) { c.Store.Backend = "s3" }, want: "store.backend"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Store.Backend = BackendGCS }, want: "store.gcs_bucket"},
		{name: "email without host", mutate: func(c *Config) { c.Email.Enabled = true }, want: "email.smtp_host"},
		{name: "unknown publisher", mutate: func(c *Config) { c.Publish.Kind = "sqs" }, want: "publish.kind"},
		{name: "pubsub without project", mutate: func(c *Config) { c.Publish.Kind = PublishPubSub }, want: "publish.pubsub.project_id"},
		{name: "rabbitmq without url", mutate: func(c *Config) { c.Publish.Kind = PublishRabbitMQ }, want: "publish.rabbitmq.url"},
		{name: "bad tier", mutate: func(c *Config) { c.Fetch.PacingTiers = []TierConfig{{MinMs: 5, MaxMs: 1}} }, want: "fetch.pacing_tiers[0]"},
		{name: "run timeout", mutate: func(c *Config) { c.Run.TimeoutMinutes = 0 }, want: "run.timeout_minutes"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Fetch.PacingTiers = nil
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate() error = %v, want substring %q", err, tc.want)
			}
		})
	}
}
