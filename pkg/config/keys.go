package config

const EnvPrefix = "TOPUP"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	BrokerPubSub   = "pubsub"
	BrokerRabbitMQ = "rabbitmq"
)

const (
	EnvAppEnv   = "TOPUP_APP_ENV"
	EnvPort     = "TOPUP_APP_PORT"
	EnvLogLevel = "TOPUP_LOG_LEVEL"

	EnvDBDSN  = "TOPUP_DB_DSN"
	EnvDBHost = "TOPUP_DB_HOST"
	EnvDBUser = "TOPUP_DB_USER"
	EnvDBName = "TOPUP_DB_NAME"

	EnvRedisURL = "TOPUP_REDIS_URL"

	EnvJWTSecret              = "TOPUP_JWT_SECRET"
	EnvJWTIssuer              = "TOPUP_JWT_ISSUER"
	EnvJWTExpMins             = "TOPUP_JWT_EXPIRATION_MINUTES"
	EnvRefreshTokenTTLMinutes = "TOPUP_REFRESH_TOKEN_TTL_MINUTES"

	EnvProviderBaseURL       = "TOPUP_PROVIDER_BASE_URL"
	EnvProviderCallbackURL   = "TOPUP_PROVIDER_CALLBACK_URL"
	EnvProviderWebhookSecret = "TOPUP_PROVIDER_WEBHOOK_SECRET"

	EnvDeliveryMaxAttempts = "TOPUP_DELIVERY_MAX_ATTEMPTS"
	EnvDeliveryBackoff     = "TOPUP_DELIVERY_BACKOFF"
	EnvDeliveryMaxOutages  = "TOPUP_DELIVERY_MAX_PROVIDER_ERRORS"

	EnvEventingBroker = "TOPUP_EVENTING_BROKER"
	EnvRabbitMQURL    = "TOPUP_RABBITMQ_URL"
	EnvGCPProjectID   = "TOPUP_GCP_PROJECT_ID"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
