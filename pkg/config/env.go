package config

// EnvPrefix is passed to envconfig; every field carries an explicit tag so
// the prefix only matters for untagged additions.
const EnvPrefix = "CUSTODY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	EnvAppEnv   = "CUSTODY_APP_ENV"
	EnvPort     = "CUSTODY_APP_PORT"
	EnvLogLevel = "CUSTODY_LOG_LEVEL"

	EnvDBDSN    = "CUSTODY_DB_DSN"
	EnvDBDriver = "CUSTODY_DB_DRIVER"
	EnvDBHost   = "CUSTODY_DB_HOST"
	EnvDBUser   = "CUSTODY_DB_USER"
	EnvDBName   = "CUSTODY_DB_NAME"

	EnvRedisURL = "CUSTODY_REDIS_URL"

	EnvJWTSecret  = "CUSTODY_JWT_SECRET"
	EnvJWTIssuer  = "CUSTODY_JWT_ISSUER"
	EnvJWTExpMins = "CUSTODY_JWT_EXPIRATION_MINUTES"

	EnvLedgerLockTimeout = "CUSTODY_LEDGER_LOCK_TIMEOUT"

	EnvAbuseDecayPerHour   = "CUSTODY_ABUSE_DECAY_PER_HOUR"
	EnvAbusePermanentAfter = "CUSTODY_ABUSE_PERMANENT_AFTER"
	EnvAbuseThrottleLimit  = "CUSTODY_ABUSE_THROTTLE_LIMIT"

	EnvWebhookSecrets = "CUSTODY_WEBHOOK_SECRETS"

	EnvPubSubWalletTopic = "CUSTODY_PUBSUB_WALLET_TOPIC"
	EnvPubSubAbuseTopic  = "CUSTODY_PUBSUB_ABUSE_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
