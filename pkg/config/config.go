package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvPrefix namespaces every environment variable the service reads.
	EnvPrefix = "ordersync"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "ORDERSYNC_DB_DSN"
	EnvDBHost = "ORDERSYNC_DB_HOST"
	EnvDBUser = "ORDERSYNC_DB_USER"
	EnvDBName = "ORDERSYNC_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Engine       EngineConfig
	ERP          ERPConfig
	Carrier      CarrierConfig
	Marketplace  MarketplaceConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ORDERSYNC_APP_ENV" required:"true"`
	Port         string `envconfig:"ORDERSYNC_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"ORDERSYNC_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ORDERSYNC_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"ORDERSYNC_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"ORDERSYNC_DB_DSN"`
	Driver string `envconfig:"ORDERSYNC_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ORDERSYNC_DB_HOST"`
	LegacyPort     int    `envconfig:"ORDERSYNC_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ORDERSYNC_DB_USER"`
	LegacyPassword string `envconfig:"ORDERSYNC_DB_PASSWORD"`
	LegacyName     string `envconfig:"ORDERSYNC_DB_NAME"`
	LegacySSLMode  string `envconfig:"ORDERSYNC_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ORDERSYNC_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ORDERSYNC_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ORDERSYNC_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ORDERSYNC_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ORDERSYNC_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ORDERSYNC_REDIS_ADDR"`
	Password     string        `envconfig:"ORDERSYNC_REDIS_PASSWORD"`
	DB           int           `envconfig:"ORDERSYNC_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ORDERSYNC_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ORDERSYNC_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ORDERSYNC_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ORDERSYNC_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ORDERSYNC_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// EngineConfig tunes the sync action engine shared by all three action kinds.
type EngineConfig struct {
	ClaimLockTTL   time.Duration `envconfig:"ORDERSYNC_ENGINE_CLAIM_LOCK_TTL" default:"5m"`
	SweepInterval  time.Duration `envconfig:"ORDERSYNC_ENGINE_SWEEP_INTERVAL" default:"1m"`
	SweepBatchSize int           `envconfig:"ORDERSYNC_ENGINE_SWEEP_BATCH_SIZE" default:"50"`
	PurgeAfterDays int           `envconfig:"ORDERSYNC_ENGINE_PURGE_AFTER_DAYS" default:"90"`
}

// ERPConfig configures the accounting/ERP connector. Token grants use an
// OAuth2 client assertion signed with the configured private key.
type ERPConfig struct {
	BaseURL       string        `envconfig:"ORDERSYNC_ERP_BASE_URL"`
	TokenURL      string        `envconfig:"ORDERSYNC_ERP_TOKEN_URL"`
	ClientID      string        `envconfig:"ORDERSYNC_ERP_CLIENT_ID"`
	PrivateKeyPEM string        `envconfig:"ORDERSYNC_ERP_PRIVATE_KEY_PEM"`
	TokenCacheTTL time.Duration `envconfig:"ORDERSYNC_ERP_TOKEN_CACHE_TTL" default:"50m"`
	Timeout       time.Duration `envconfig:"ORDERSYNC_ERP_TIMEOUT" default:"30s"`
}

type CarrierConfig struct {
	BaseURL string        `envconfig:"ORDERSYNC_CARRIER_BASE_URL"`
	APIKey  string        `envconfig:"ORDERSYNC_CARRIER_API_KEY"`
	Timeout time.Duration `envconfig:"ORDERSYNC_CARRIER_TIMEOUT" default:"30s"`
}

type MarketplaceConfig struct {
	BaseURL            string        `envconfig:"ORDERSYNC_MARKETPLACE_BASE_URL"`
	AccessKey          string        `envconfig:"ORDERSYNC_MARKETPLACE_ACCESS_KEY"`
	SecretKey          string        `envconfig:"ORDERSYNC_MARKETPLACE_SECRET_KEY"`
	CommissionCacheTTL time.Duration `envconfig:"ORDERSYNC_MARKETPLACE_COMMISSION_CACHE_TTL" default:"1h"`
	Timeout            time.Duration `envconfig:"ORDERSYNC_MARKETPLACE_TIMEOUT" default:"30s"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"ORDERSYNC_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"ORDERSYNC_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"ORDERSYNC_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	SyncEventsTopic        string `envconfig:"ORDERSYNC_PUBSUB_SYNC_EVENTS_TOPIC" default:"ordersync-sync-events"`
	SyncEventsSubscription string `envconfig:"ORDERSYNC_PUBSUB_SYNC_EVENTS_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"ORDERSYNC_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"ORDERSYNC_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"ORDERSYNC_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"ORDERSYNC_OUTBOX_RETENTION_DAYS" default:"30"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"ORDERSYNC_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"ORDERSYNC_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
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
