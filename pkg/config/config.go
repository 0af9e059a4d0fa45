package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Password      PasswordConfig
	AuthRateLimit AuthRateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	Wallet        WalletConfig
	Provider      ProviderConfig
	Delivery      DeliveryConfig
	Cron          CronConfig
	Eventing      EventingConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	RabbitMQ      RabbitMQConfig
	Outbox        OutboxConfig
}

const defaultSQLiteDSN = "file:topup.db?_foreign_keys=1"

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = "sqlite"
		if cfg.DB.DSN == "" {
			cfg.DB.DSN = defaultSQLiteDSN
		}
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Delivery.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Eventing.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"TOPUP_APP_ENV" required:"true"`
	Port         string   `envconfig:"TOPUP_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"TOPUP_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"TOPUP_LOG_WARN_STACK" default:"false"`
	FrontendURL  string   `envconfig:"TOPUP_FRONTEND_URL" default:"http://localhost:3000"`
	CORSOrigins  []string `envconfig:"TOPUP_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"TOPUP_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"TOPUP_DB_DSN"`
	Driver string `envconfig:"TOPUP_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"TOPUP_DB_HOST"`
	LegacyPort     int    `envconfig:"TOPUP_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"TOPUP_DB_USER"`
	LegacyPassword string `envconfig:"TOPUP_DB_PASSWORD"`
	LegacyName     string `envconfig:"TOPUP_DB_NAME"`
	LegacySSLMode  string `envconfig:"TOPUP_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TOPUP_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TOPUP_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TOPUP_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TOPUP_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"TOPUP_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"TOPUP_REDIS_URL" required:"true"`
	Address      string        `envconfig:"TOPUP_REDIS_ADDR"`
	Password     string        `envconfig:"TOPUP_REDIS_PASSWORD"`
	DB           int           `envconfig:"TOPUP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TOPUP_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TOPUP_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TOPUP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TOPUP_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TOPUP_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret                 string `envconfig:"TOPUP_JWT_SECRET" required:"true"`
	Issuer                 string `envconfig:"TOPUP_JWT_ISSUER" required:"true"`
	ExpirationMinutes      int    `envconfig:"TOPUP_JWT_EXPIRATION_MINUTES" required:"true"`
	RefreshTokenTTLMinutes int    `envconfig:"TOPUP_REFRESH_TOKEN_TTL_MINUTES" default:"43200"`
}

// RefreshTokenTTL returns the refresh token TTL configured in minutes.
func (j JWTConfig) RefreshTokenTTL() time.Duration {
	if j.RefreshTokenTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.RefreshTokenTTLMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"TOPUP_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"TOPUP_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"TOPUP_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"TOPUP_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"TOPUP_ARGON_KEY_LEN" default:"32"`
}

type AuthRateLimitConfig struct {
	LoginWindow        time.Duration `envconfig:"TOPUP_AUTH_RATE_LIMIT_LOGIN_WINDOW" default:"15m"`
	LoginEmailLimit    int           `envconfig:"TOPUP_AUTH_RATE_LIMIT_LOGIN_EMAIL_LIMIT" default:"5"`
	LoginIPLimit       int           `envconfig:"TOPUP_AUTH_RATE_LIMIT_LOGIN_IP_LIMIT" default:"100"`
	RegisterWindow     time.Duration `envconfig:"TOPUP_AUTH_RATE_LIMIT_REGISTER_WINDOW" default:"15m"`
	RegisterEmailLimit int           `envconfig:"TOPUP_AUTH_RATE_LIMIT_REGISTER_EMAIL_LIMIT" default:"3"`
	RegisterIPLimit    int           `envconfig:"TOPUP_AUTH_RATE_LIMIT_REGISTER_IP_LIMIT" default:"100"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"TOPUP_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"TOPUP_AUTO_MIGRATE" default:"false"`
}

// WalletConfig controls account opening and the currency money is held in.
type WalletConfig struct {
	WelcomeCredit int64  `envconfig:"TOPUP_WALLET_WELCOME_CREDIT" default:"10000"`
	Currency      string `envconfig:"TOPUP_WALLET_CURRENCY" default:"EGP"`
}

// ProviderConfig describes the fulfillment provider the dispatcher talks to.
type ProviderConfig struct {
	BaseURL            string        `envconfig:"TOPUP_PROVIDER_BASE_URL" required:"true"`
	CallbackURL        string        `envconfig:"TOPUP_PROVIDER_CALLBACK_URL" required:"true"`
	WebhookSecret      string        `envconfig:"TOPUP_PROVIDER_WEBHOOK_SECRET" required:"true"`
	APIKey             string        `envconfig:"TOPUP_PROVIDER_API_KEY"`
	Timeout            time.Duration `envconfig:"TOPUP_PROVIDER_TIMEOUT" default:"10s"`
	PendingTimeout     time.Duration `envconfig:"TOPUP_PROVIDER_PENDING_TIMEOUT" default:"90s"`
	StatusQueryEnabled bool          `envconfig:"TOPUP_PROVIDER_STATUS_QUERY_ENABLED" default:"true"`
}

// DeliveryConfig is the retry policy applied to failed delivery attempts.
// MaxProviderErrors caps consecutive dispatches the provider could not take
// before the order fails and is refunded.
type DeliveryConfig struct {
	MaxAttempts       int             `envconfig:"TOPUP_DELIVERY_MAX_ATTEMPTS" default:"3"`
	MaxProviderErrors int             `envconfig:"TOPUP_DELIVERY_MAX_PROVIDER_ERRORS" default:"20"`
	Backoff           []time.Duration `envconfig:"TOPUP_DELIVERY_BACKOFF" default:"5s,20s,60s"`
	LeaseTTL          time.Duration   `envconfig:"TOPUP_DELIVERY_LEASE_TTL" default:"30s"`
	BatchSize         int             `envconfig:"TOPUP_DELIVERY_BATCH_SIZE" default:"50"`
}

func (d DeliveryConfig) validate() error {
	if d.MaxAttempts <= 0 {
		return fmt.Errorf("%s must be positive", EnvDeliveryMaxAttempts)
	}
	if d.MaxProviderErrors <= 0 {
		return fmt.Errorf("%s must be positive", EnvDeliveryMaxOutages)
	}
	if len(d.Backoff) == 0 {
		return fmt.Errorf("%s must list at least one duration", EnvDeliveryBackoff)
	}
	for _, b := range d.Backoff {
		if b <= 0 {
			return fmt.Errorf("%s entries must be positive", EnvDeliveryBackoff)
		}
	}
	return nil
}

type CronConfig struct {
	Interval         time.Duration `envconfig:"TOPUP_CRON_INTERVAL" default:"15s"`
	LockTTL          time.Duration `envconfig:"TOPUP_CRON_LOCK_TTL" default:"60s"`
	OutboxRetainDays int           `envconfig:"TOPUP_CRON_OUTBOX_RETAIN_DAYS" default:"30"`
}

type EventingConfig struct {
	Broker               string        `envconfig:"TOPUP_EVENTING_BROKER" default:"pubsub"`
	OutboxIdempotencyTTL time.Duration `envconfig:"TOPUP_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	WebhookEventTTL      time.Duration `envconfig:"TOPUP_EVENTING_WEBHOOK_EVENT_TTL" default:"72h"`
}

func (e EventingConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(e.Broker)) {
	case BrokerPubSub, BrokerRabbitMQ:
		return nil
	default:
		return fmt.Errorf("%s must be %q or %q", EnvEventingBroker, BrokerPubSub, BrokerRabbitMQ)
	}
}

// UsesRabbitMQ reports whether outbox events are published to RabbitMQ.
func (e EventingConfig) UsesRabbitMQ() bool {
	return strings.EqualFold(strings.TrimSpace(e.Broker), BrokerRabbitMQ)
}

type GCPConfig struct {
	ProjectID string `envconfig:"TOPUP_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	OrdersTopic        string `envconfig:"TOPUP_PUBSUB_ORDERS_TOPIC" default:"topup-order-events"`
	WalletTopic        string `envconfig:"TOPUP_PUBSUB_WALLET_TOPIC" default:"topup-wallet-events"`
	OrdersSubscription string `envconfig:"TOPUP_PUBSUB_ORDERS_SUBSCRIPTION"`
}

type RabbitMQConfig struct {
	URL      string `envconfig:"TOPUP_RABBITMQ_URL"`
	Exchange string `envconfig:"TOPUP_RABBITMQ_EXCHANGE" default:"topup.events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"TOPUP_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"TOPUP_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"TOPUP_OUTBOX_MAX_ATTEMPTS" default:"10"`
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
