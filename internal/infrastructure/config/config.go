package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultDatabasePassword is only filled in outside production, where it is
// rejected.
const DefaultDatabasePassword = "postgres"

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Stripe    StripeConfig    `mapstructure:"stripe"`
	Billing   BillingConfig   `mapstructure:"billing"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Event     EventConfig     `mapstructure:"event"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Port string `mapstructure:"port"`
}

func (a AppConfig) IsProduction() bool { return a.Env == "production" }

// LogConfig.Output is stdout, stderr or a file path.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// DatabaseConfig lifetimes are in minutes.
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime int    `mapstructure:"conn_max_idle_time"`
}

// DSN escapes credentials, so passwords may contain URL metacharacters.
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     d.DBName,
		RawQuery: url.Values{"sslmode": {d.SSLMode}}.Encode(),
	}
	return u.String()
}

// RedisConfig with an empty Host turns Redis off. Idempotency marks and
// patient locks then stay in process and clinical events are ingested
// synchronously.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Addr() string  { return fmt.Sprintf("%s:%d", r.Host, r.Port) }
func (r RedisConfig) Enabled() bool { return r.Host != "" }

type HTTPConfig struct {
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	MaxHeaderBytes   int           `mapstructure:"max_header_bytes"`
	MaxBodySize      int64         `mapstructure:"max_body_size"`
	CORSAllowOrigins []string      `mapstructure:"cors_allow_origins"`
	TrustedProxies   []string      `mapstructure:"trusted_proxies"`
}

// StripeConfig.Timeout applies to each gateway call.
type StripeConfig struct {
	SecretKey         string        `mapstructure:"secret_key"`
	PublishableKey    string        `mapstructure:"publishable_key"`
	WebhookSecret     string        `mapstructure:"webhook_secret"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxNetworkRetries int64         `mapstructure:"max_network_retries"`
}

// BillingConfig tunes the ledger and the reconciliation sweeps.
// DefaultDueDays of 0 leaves new bills without a due date. Payments younger
// than ReconcileMinAge are left for the webhook to settle.
type BillingConfig struct {
	DefaultCurrency      string        `mapstructure:"default_currency"`
	DefaultDueDays       int           `mapstructure:"default_due_days"`
	ReconcileInterval    time.Duration `mapstructure:"reconcile_interval"`
	ReconcileBatch       int           `mapstructure:"reconcile_batch"`
	ReconcileMinAge      time.Duration `mapstructure:"reconcile_min_age"`
	OverdueSweepInterval time.Duration `mapstructure:"overdue_sweep_interval"`
	RecalculateWorkers   int           `mapstructure:"recalculate_workers"`
	IdempotencyTTL       time.Duration `mapstructure:"idempotency_ttl"`
	LockTTL              time.Duration `mapstructure:"lock_ttl"`
}

// QueueConfig.Queues maps an asynq queue name to its priority weight.
type QueueConfig struct {
	Concurrency int            `mapstructure:"concurrency"`
	Queues      map[string]int `mapstructure:"-"`
}

type EventConfig struct {
	BatchSize        int           `mapstructure:"batch_size"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	CleanupRetention time.Duration `mapstructure:"cleanup_retention"`
	CleanupInterval  time.Duration `mapstructure:"cleanup_interval"`
}

// TelemetryConfig.CollectorEndpoint is an OTLP gRPC address. Insecure means
// plaintext and is for development.
type TelemetryConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	CollectorEndpoint string        `mapstructure:"collector_endpoint"`
	SamplingRatio     float64       `mapstructure:"sampling_ratio"`
	ServiceName       string        `mapstructure:"service_name"`
	Insecure          bool          `mapstructure:"insecure"`
	DBTraceEnabled    bool          `mapstructure:"db_trace_enabled"`
	DBLogFullSQL      bool          `mapstructure:"db_log_full_sql"`
	DBSlowQueryThresh time.Duration `mapstructure:"db_slow_query_threshold"`
}

// defaults registers every key with viper. A key must be known for an
// HMS_ variable to reach Unmarshal, so secrets default to "".
var defaults = map[string]any{
	"app.name": "hms-billing",
	"app.env":  "development",
	"app.port": "8080",

	"database.host":               "localhost",
	"database.port":               5432,
	"database.user":               "postgres",
	"database.password":           "",
	"database.dbname":             "hms",
	"database.sslmode":            "disable",
	"database.max_open_conns":     25,
	"database.max_idle_conns":     5,
	"database.conn_max_lifetime":  60,
	"database.conn_max_idle_time": 30,

	"redis.host":     "",
	"redis.port":     6379,
	"redis.password": "",
	"redis.db":       0,

	"log.level":  "info",
	"log.format": "console",
	"log.output": "stdout",

	"http.read_timeout":       15 * time.Second,
	"http.write_timeout":      30 * time.Second,
	"http.idle_timeout":       60 * time.Second,
	"http.max_header_bytes":   1 << 20,
	"http.max_body_size":      1 << 20,
	"http.cors_allow_origins": []string{},
	"http.trusted_proxies":    []string{},

	"stripe.secret_key":          "",
	"stripe.publishable_key":     "",
	"stripe.webhook_secret":      "",
	"stripe.timeout":             10 * time.Second,
	"stripe.max_network_retries": 2,

	"billing.default_currency":       "USD",
	"billing.default_due_days":       0,
	"billing.reconcile_interval":     time.Minute,
	"billing.reconcile_batch":        50,
	"billing.reconcile_min_age":      2 * time.Minute,
	"billing.overdue_sweep_interval": time.Hour,
	"billing.recalculate_workers":    4,
	"billing.idempotency_ttl":        72 * time.Hour,
	"billing.lock_ttl":               10 * time.Second,

	"queue.concurrency": 10,
	"queue.queues":      map[string]any{"critical": 6, "default": 3},

	"event.batch_size":        100,
	"event.poll_interval":     5 * time.Second,
	"event.cleanup_retention": 7 * 24 * time.Hour,
	"event.cleanup_interval":  time.Hour,

	"telemetry.enabled":                 false,
	"telemetry.collector_endpoint":      "localhost:4317",
	"telemetry.sampling_ratio":          1.0,
	"telemetry.service_name":            "",
	"telemetry.insecure":                false,
	"telemetry.db_trace_enabled":        false,
	"telemetry.db_log_full_sql":         false,
	"telemetry.db_slow_query_threshold": 200 * time.Millisecond,
}

// Load reads config.toml from ., ./config or /app when one exists, then lets
// HMS_ variables override it (HMS_DATABASE_PASSWORD sets database.password).
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("toml")
	for _, dir := range []string{".", "./config", "/app"} {
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix("HMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Queue.Queues = parseQueueWeights(v.GetStringMapString("queue.queues"))
	if cfg.Database.Password == "" && !cfg.App.IsProduction() {
		cfg.Database.Password = DefaultDatabasePassword
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// parseQueueWeights drops entries whose weight is not a positive integer.
func parseQueueWeights(raw map[string]string) map[string]int {
	if len(raw) == 0 {
		return nil
	}
	weights := make(map[string]int, len(raw))
	for name, w := range raw {
		if n, err := strconv.Atoi(strings.TrimSpace(w)); err == nil && n > 0 {
			weights[name] = n
		}
	}
	return weights
}

var stripeKeyPrefixes = []string{"sk_test_", "sk_live_", "rk_"}

func (c *Config) validate() error {
	db := c.Database
	switch {
	case db.MaxOpenConns <= 0:
		return errors.New("database.max_open_conns must be positive")
	case db.MaxIdleConns < 0:
		return errors.New("database.max_idle_conns cannot be negative")
	case db.MaxIdleConns > db.MaxOpenConns:
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			db.MaxIdleConns, db.MaxOpenConns)
	case len(c.Billing.DefaultCurrency) != 3:
		return fmt.Errorf("billing.default_currency must be a 3-letter code, got %q", c.Billing.DefaultCurrency)
	case c.Billing.ReconcileBatch <= 0:
		return errors.New("billing.reconcile_batch must be positive")
	case c.Stripe.SecretKey != "" && !hasAnyPrefix(c.Stripe.SecretKey, stripeKeyPrefixes):
		return fmt.Errorf("stripe.secret_key must start with one of %s", strings.Join(stripeKeyPrefixes, ", "))
	case c.Telemetry.SamplingRatio < 0 || c.Telemetry.SamplingRatio > 1:
		return fmt.Errorf("telemetry.sampling_ratio must be within [0, 1], got %g", c.Telemetry.SamplingRatio)
	}
	if c.App.IsProduction() {
		return c.validateProduction()
	}
	return nil
}

// validateProduction rejects the development defaults.
func (c *Config) validateProduction() error {
	switch {
	case c.Database.Password == "" || c.Database.Password == DefaultDatabasePassword:
		return errors.New("database.password must be set to a non-default value in production")
	case c.Database.SSLMode == "disable":
		return errors.New("database.sslmode=disable is not allowed in production")
	case c.Stripe.SecretKey == "":
		return errors.New("stripe.secret_key is required in production")
	case c.Stripe.WebhookSecret == "":
		return errors.New("stripe.webhook_secret is required in production")
	case c.Telemetry.DBLogFullSQL:
		return errors.New("telemetry.db_log_full_sql must stay off in production")
	}
	for _, origin := range c.HTTP.CORSAllowOrigins {
		if origin == "*" {
			return errors.New("http.cors_allow_origins must list origins explicitly in production")
		}
	}
	return nil
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
