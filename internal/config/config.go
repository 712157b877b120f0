// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. PNRR_SERVER_PORT.
const EnvPrefix = "PNRR"

// Store backends.
const (
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// Publisher kinds.
const (
	PublishNone     = "none"
	PublishPubSub   = "pubsub"
	PublishRabbitMQ = "rabbitmq"
	PublishKafka    = "kafka"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Store     StoreConfig     `mapstructure:"store"`
	DB        DBConfig        `mapstructure:"db"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Email     EmailConfig     `mapstructure:"email"`
	Publish   PublishConfig   `mapstructure:"publish"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Run       RunConfig       `mapstructure:"run"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// BaseURL is the public address used in unsubscribe links.
	BaseURL                string `mapstructure:"base_url"`
	RequestTimeoutSeconds  int    `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
	CacheTTLMinutes        int    `mapstructure:"cache_ttl_minutes"`
}

// AuthConfig guards the fetch trigger.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SourcesConfig points at the source catalogue file.
type SourcesConfig struct {
	Path string `mapstructure:"path"`
}

// TierConfig is one pacing band.
type TierConfig struct {
	From  int `mapstructure:"from"`
	MinMs int `mapstructure:"min_ms"`
	MaxMs int `mapstructure:"max_ms"`
}

// FetchConfig governs the plain HTTP fetcher and its pacing.
type FetchConfig struct {
	UserAgent         string       `mapstructure:"user_agent"`
	AcceptLanguage    string       `mapstructure:"accept_language"`
	TimeoutSeconds    int          `mapstructure:"timeout_seconds"`
	RespectRobots     bool         `mapstructure:"respect_robots"`
	MaxBodyBytes      int          `mapstructure:"max_body_bytes"`
	MaxRetries        int          `mapstructure:"max_retries"`
	BackoffMs         int          `mapstructure:"backoff_ms"`
	MaxLinksPerSource int          `mapstructure:"max_links_per_source"`
	PacingTiers       []TierConfig `mapstructure:"pacing_tiers"`
}

// HeadlessConfig configures the headless rendering fallback.
type HeadlessConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	MaxParallel     int     `mapstructure:"max_parallel"`
	NavTimeoutSec   int     `mapstructure:"nav_timeout_seconds"`
	IdleTimeoutSec  int     `mapstructure:"idle_timeout_seconds"`
	SettleMs        int     `mapstructure:"settle_ms"`
	PromotionThresh int     `mapstructure:"promotion_threshold"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
}

// ExtractConfig tunes draft extraction.
type ExtractConfig struct {
	Category       string `mapstructure:"category"`
	MaxAttachments int    `mapstructure:"max_attachments"`
	BodyMaxChars   int    `mapstructure:"body_max_chars"`
	FetchPDFs      bool   `mapstructure:"fetch_pdfs"`
}

// ReconcileConfig sets the retention window.
type ReconcileConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

// StoreConfig selects the document backend and its CAS retry policy.
type StoreConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
	// FallbackLocal reads from and writes to local_dir when GCS fails.
	FallbackLocal bool `mapstructure:"fallback_local"`
	CASAttempts   int  `mapstructure:"cas_attempts"`
	CASBackoffMs  int  `mapstructure:"cas_backoff_ms"`
}

// DBConfig controls the optional Postgres run history and archive.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	ArchiveTable           string `mapstructure:"archive_table"`
}

// MongoConfig enables the MongoDB subscriber and sent-set stores.
type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// NotifyConfig tunes notification messages.
type NotifyConfig struct {
	MaxItems int `mapstructure:"max_items"`
}

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	SMTPHost      string `mapstructure:"smtp_host"`
	SMTPPort      int    `mapstructure:"smtp_port"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	UseTLS        bool   `mapstructure:"use_tls"`
	From          string `mapstructure:"from"`
	ReplyTo       string `mapstructure:"reply_to"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// PublishConfig selects where new-announcement events go.
type PublishConfig struct {
	Kind     string         `mapstructure:"kind"`
	Topic    string         `mapstructure:"topic"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

// PubSubConfig holds Google Cloud Pub/Sub settings.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Ordering  bool   `mapstructure:"ordering"`
}

// RabbitMQConfig holds AMQP settings.
type RabbitMQConfig struct {
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`
	Queue      string `mapstructure:"queue"`
	RoutingKey string `mapstructure:"routing_key"`
}

// KafkaConfig holds Kafka producer settings.
type KafkaConfig struct {
	Brokers             []string `mapstructure:"brokers"`
	WriteTimeoutSeconds int      `mapstructure:"write_timeout_seconds"`
}

// ScheduleConfig drives periodic runs in serve mode.
type ScheduleConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Cron     string `mapstructure:"cron"`
	Timezone string `mapstructure:"timezone"`
}

// RunConfig bounds one ingestion run.
type RunConfig struct {
	TimeoutMinutes    int `mapstructure:"timeout_minutes"`
	SourceConcurrency int `mapstructure:"source_concurrency"`
	DetailConcurrency int `mapstructure:"detail_concurrency"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig enables OpenTelemetry spans.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Exporter    string  `mapstructure:"exporter"`
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from an optional .env file, the config file at path
// (when set) and PNRR_* environment variables, in increasing precedence.
func Load(path string) (Config, error) {
	// A missing .env is the normal case outside development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "")
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("server.cache_ttl_minutes", 30)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("sources.path", "sources.yaml")
	v.SetDefault("fetch.user_agent", "")
	v.SetDefault("fetch.accept_language", "it-IT,it;q=0.9,en;q=0.6")
	v.SetDefault("fetch.timeout_seconds", 20)
	v.SetDefault("fetch.respect_robots", false)
	v.SetDefault("fetch.max_body_bytes", 10<<20)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.backoff_ms", 2000)
	v.SetDefault("fetch.max_links_per_source", 10)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.idle_timeout_seconds", 10)
	v.SetDefault("headless.settle_ms", 1500)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("headless.rps", 0.5)
	v.SetDefault("headless.burst", 1)
	v.SetDefault("extract.category", "PNRR Futura")
	v.SetDefault("extract.max_attachments", 10)
	v.SetDefault("extract.body_max_chars", 5000)
	v.SetDefault("extract.fetch_pdfs", true)
	v.SetDefault("reconcile.retention_days", 180)
	v.SetDefault("store.backend", BackendLocal)
	v.SetDefault("store.local_dir", "data")
	v.SetDefault("store.gcs_bucket", "")
	v.SetDefault("store.gcs_prefix", "")
	v.SetDefault("store.fallback_local", true)
	v.SetDefault("store.cas_attempts", 8)
	v.SetDefault("store.cas_backoff_ms", 200)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("db.archive_table", "announcement_archive")
	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "pnrr")
	v.SetDefault("notify.max_items", 50)
	v.SetDefault("email.enabled", false)
	v.SetDefault("email.smtp_host", "")
	v.SetDefault("email.smtp_port", 587)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.use_tls", true)
	v.SetDefault("email.from", "")
	v.SetDefault("email.reply_to", "")
	v.SetDefault("email.subject_prefix", "[PNRR] ")
	v.SetDefault("publish.kind", PublishNone)
	v.SetDefault("publish.topic", "announcements")
	v.SetDefault("publish.pubsub.project_id", "")
	v.SetDefault("publish.pubsub.ordering", true)
	v.SetDefault("publish.rabbitmq.url", "")
	v.SetDefault("publish.rabbitmq.exchange", "announcements")
	v.SetDefault("publish.rabbitmq.queue", "")
	v.SetDefault("publish.rabbitmq.routing_key", "")
	v.SetDefault("publish.kafka.brokers", []string{})
	v.SetDefault("publish.kafka.write_timeout_seconds", 10)
	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.cron", "0 6 * * *")
	v.SetDefault("schedule.timezone", "Europe/Rome")
	v.SetDefault("run.timeout_minutes", 20)
	v.SetDefault("run.source_concurrency", 2)
	v.SetDefault("run.detail_concurrency", 3)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits. Every violation
// is reported.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0, "server.port must be > 0")
	check(!c.Auth.Enabled || c.Auth.APIKey != "", "auth.api_key must be set when auth is enabled")
	check(strings.TrimSpace(c.Sources.Path) != "", "sources.path is required")
	check(c.Fetch.TimeoutSeconds > 0, "fetch.timeout_seconds must be > 0")
	check(c.Fetch.MaxLinksPerSource > 0, "fetch.max_links_per_source must be > 0")
	for i, tier := range c.Fetch.PacingTiers {
		check(tier.From >= 0 && tier.MinMs >= 0 && tier.MaxMs >= tier.MinMs,
			"fetch.pacing_tiers[%d] must have from >= 0 and 0 <= min_ms <= max_ms", i)
	}
	check(!c.Headless.Enabled || c.Headless.MaxParallel > 0,
		"headless.max_parallel must be > 0 when headless is enabled")
	check(c.Reconcile.RetentionDays > 0, "reconcile.retention_days must be > 0")

	switch c.Store.Backend {
	case BackendLocal:
		check(c.Store.LocalDir != "", "store.local_dir is required for the local backend")
	case BackendGCS:
		check(c.Store.GCSBucket != "", "store.gcs_bucket is required for the gcs backend")
		check(!c.Store.FallbackLocal || c.Store.LocalDir != "", "store.local_dir is required for the local fallback")
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("store.backend %q must be one of local, gcs, memory", c.Store.Backend))
	}

	check(c.Mongo.URI == "" || c.Mongo.Database != "", "mongo.database is required when mongo.uri is set")
	check(!c.Email.Enabled || (c.Email.SMTPHost != "" && c.Email.From != ""),
		"email.smtp_host and email.from must be set when email is enabled")

	switch c.Publish.Kind {
	case PublishNone:
	case PublishPubSub:
		check(c.Publish.PubSub.ProjectID != "", "publish.pubsub.project_id is required")
	case PublishRabbitMQ:
		check(c.Publish.RabbitMQ.URL != "", "publish.rabbitmq.url is required")
	case PublishKafka:
		check(len(c.Publish.Kafka.Brokers) > 0, "publish.kafka.brokers is required")
	default:
		errs = append(errs, fmt.Errorf("publish.kind %q must be one of %s", c.Publish.Kind,
			strings.Join([]string{PublishNone, PublishPubSub, PublishRabbitMQ, PublishKafka}, ", ")))
	}
	check(c.Publish.Kind == PublishNone || c.Publish.Topic != "", "publish.topic is required")
	check(!c.Tracing.Enabled || c.Tracing.Exporter != "gcp" || c.Tracing.ProjectID != "",
		"tracing.project_id is required for the gcp exporter")

	check(!c.Schedule.Enabled || c.Schedule.Cron != "", "schedule.cron is required when the schedule is enabled")
	check(c.Run.TimeoutMinutes > 0, "run.timeout_minutes must be > 0")
	check(c.Run.SourceConcurrency > 0, "run.source_concurrency must be > 0")
	check(c.Run.DetailConcurrency > 0, "run.detail_concurrency must be > 0")

	return errors.Join(errs...)
}

// RunTimeout is the deadline of one ingestion run.
func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.Run.TimeoutMinutes) * time.Minute
}

// Retention is how long unseen announcements are kept.
func (c Config) Retention() time.Duration {
	return time.Duration(c.Reconcile.RetentionDays) * 24 * time.Hour
}

// CacheTTL bounds the in-memory announcements cache.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Server.CacheTTLMinutes) * time.Minute
}

// RequestTimeout bounds API requests other than the fetch trigger.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds the graceful drain. It falls back to 15s.
func (c Config) ShutdownTimeout() time.Duration {
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// PersistsRunHistory reports whether Postgres is configured.
func (c Config) PersistsRunHistory() bool {
	return c.DB.DSN != ""
}

// UsesMongo reports whether subscribers live in MongoDB.
func (c Config) UsesMongo() bool {
	return c.Mongo.URI != ""
}

// KafkaBrokers normalizes brokers given as one comma-separated value.
func (c Config) KafkaBrokers() []string {
	var out []string
	for _, b := range c.Publish.Kafka.Brokers {
		for _, part := range strings.Split(b, ",") {
			if part = strings.TrimSpace(part); part != "" && !slices.Contains(out, part) {
				out = append(out, part)
			}
		}
	}
	return out
}
