package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Ledger       LedgerConfig
	Abuse        AbuseConfig
	Webhooks     WebhooksConfig
	Cron         CronConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Tracing      TracingConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Abuse.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CUSTODY_APP_ENV" required:"true"`
	Port         string `envconfig:"CUSTODY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CUSTODY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CUSTODY_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"CUSTODY_LOG_FORMAT" default:"json"`
	// CORSOrigins is a comma separated allow list for browser operator consoles.
	CORSOrigins []string `envconfig:"CUSTODY_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev) || strings.EqualFold(a.Env, "development")
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"CUSTODY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CUSTODY_DB_DSN"`
	Driver string `envconfig:"CUSTODY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CUSTODY_DB_HOST"`
	LegacyPort     int    `envconfig:"CUSTODY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CUSTODY_DB_USER"`
	LegacyPassword string `envconfig:"CUSTODY_DB_PASSWORD"`
	LegacyName     string `envconfig:"CUSTODY_DB_NAME"`
	LegacySSLMode  string `envconfig:"CUSTODY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CUSTODY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CUSTODY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CUSTODY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CUSTODY_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQueryThreshold logs statements slower than this at warn; 0 disables.
	SlowQueryThreshold time.Duration `envconfig:"CUSTODY_DB_SLOW_QUERY_THRESHOLD" default:"250ms"`
}

// IsSQLite reports whether the embedded driver is selected.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"CUSTODY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CUSTODY_REDIS_ADDR"`
	Password     string        `envconfig:"CUSTODY_REDIS_PASSWORD"`
	DB           int           `envconfig:"CUSTODY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CUSTODY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CUSTODY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CUSTODY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CUSTODY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CUSTODY_REDIS_WRITE_TIMEOUT" default:"5s"`
	// KeyPrefix namespaces every key so environments can share one redis.
	KeyPrefix string `envconfig:"CUSTODY_REDIS_KEY_PREFIX" default:"custody"`
}

type JWTConfig struct {
	Secret            string `envconfig:"CUSTODY_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"CUSTODY_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"CUSTODY_JWT_EXPIRATION_MINUTES" default:"60"`
}

// Expiration returns the operator token lifetime.
func (j JWTConfig) Expiration() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type FeatureFlagsConfig struct {
	AutoMigrate       bool `envconfig:"CUSTODY_AUTO_MIGRATE" default:"false"`
	WebhookRedisGuard bool `envconfig:"CUSTODY_WEBHOOK_REDIS_GUARD" default:"true"`
	PolicyGate        bool `envconfig:"CUSTODY_LEDGER_POLICY_GATE" default:"true"`
}

type LedgerConfig struct {
	LockTimeout   time.Duration `envconfig:"CUSTODY_LEDGER_LOCK_TIMEOUT" default:"5s"`
	RetryAttempts int           `envconfig:"CUSTODY_LEDGER_RETRY_ATTEMPTS" default:"3"`
	RetryBackoff  time.Duration `envconfig:"CUSTODY_LEDGER_RETRY_BACKOFF" default:"50ms"`
}

type AbuseConfig struct {
	DecayPerHour   string        `envconfig:"CUSTODY_ABUSE_DECAY_PER_HOUR" default:"5"`
	Cooldown       time.Duration `envconfig:"CUSTODY_ABUSE_SUSPENSION_COOLDOWN" default:"24h"`
	PermanentAfter int           `envconfig:"CUSTODY_ABUSE_PERMANENT_AFTER" default:"3"`
	ThrottleLimit  int           `envconfig:"CUSTODY_ABUSE_THROTTLE_LIMIT" default:"30"`
	ThrottleWindow time.Duration `envconfig:"CUSTODY_ABUSE_THROTTLE_WINDOW" default:"1m"`
}

func (a AbuseConfig) validate() error {
	if a.PermanentAfter < 1 {
		return fmt.Errorf("%s must be >= 1", EnvAbusePermanentAfter)
	}
	if a.ThrottleLimit < 1 {
		return fmt.Errorf("%s must be >= 1", EnvAbuseThrottleLimit)
	}
	return nil
}

type WebhooksConfig struct {
	// Secrets maps provider name to HMAC secret, e.g. "billing:abc,gateway:def".
	Secrets  map[string]string `envconfig:"CUSTODY_WEBHOOK_SECRETS"`
	GuardTTL time.Duration     `envconfig:"CUSTODY_WEBHOOK_GUARD_TTL" default:"24h"`
	MaxBody  int64             `envconfig:"CUSTODY_WEBHOOK_MAX_BODY_BYTES" default:"1048576"`

	IngressWindow        time.Duration `envconfig:"CUSTODY_WEBHOOK_INGRESS_WINDOW" default:"1m"`
	IngressIPLimit       int           `envconfig:"CUSTODY_WEBHOOK_INGRESS_IP_LIMIT" default:"600"`
	IngressProviderLimit int           `envconfig:"CUSTODY_WEBHOOK_INGRESS_PROVIDER_LIMIT" default:"6000"`
}

// SecretFor returns the configured secret for provider, if any.
func (w WebhooksConfig) SecretFor(provider string) (string, bool) {
	secret, ok := w.Secrets[strings.ToLower(strings.TrimSpace(provider))]
	if !ok || strings.TrimSpace(secret) == "" {
		return "", false
	}
	return secret, true
}

type CronConfig struct {
	Interval            time.Duration `envconfig:"CUSTODY_CRON_INTERVAL" default:"5m"`
	StaleHoldAge        time.Duration `envconfig:"CUSTODY_CRON_STALE_HOLD_AGE" default:"6h"`
	StaleHoldBatch      int           `envconfig:"CUSTODY_CRON_STALE_HOLD_BATCH" default:"200"`
	OutboxRetentionDays int           `envconfig:"CUSTODY_CRON_OUTBOX_RETENTION_DAYS" default:"30"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"CUSTODY_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"CUSTODY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"CUSTODY_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	WalletTopic string `envconfig:"CUSTODY_PUBSUB_WALLET_TOPIC" default:"custody-wallet-events"`
	AbuseTopic  string `envconfig:"CUSTODY_PUBSUB_ABUSE_TOPIC" default:"custody-abuse-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"CUSTODY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"CUSTODY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"CUSTODY_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type TracingConfig struct {
	OTLPEndpoint string  `envconfig:"CUSTODY_OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure     bool    `envconfig:"CUSTODY_OTEL_INSECURE" default:"true"`
	SampleRatio  float64 `envconfig:"CUSTODY_OTEL_SAMPLE_RATIO" default:"1"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		return fmt.Errorf("%s is required when %s=%s", EnvDBDSN, EnvDBDriver, DriverSQLite)
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
