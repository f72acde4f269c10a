package config

// EnvPrefix is handed to envconfig; every field also carries its full variable name.
const EnvPrefix = "DISPATCHLY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "DISPATCHLY_APP_ENV"
	EnvPort     = "DISPATCHLY_APP_PORT"
	EnvLogLevel = "DISPATCHLY_LOG_LEVEL"

	EnvDBDSN  = "DISPATCHLY_DB_DSN"
	EnvDBHost = "DISPATCHLY_DB_HOST"
	EnvDBUser = "DISPATCHLY_DB_USER"
	EnvDBName = "DISPATCHLY_DB_NAME"

	EnvRedisURL = "DISPATCHLY_REDIS_URL"

	EnvJWTSecret = "DISPATCHLY_JWT_SECRET"
	EnvJWTIssuer = "DISPATCHLY_JWT_ISSUER"

	EnvGCPProjectID = "DISPATCHLY_GCP_PROJECT_ID"

	EnvPubSubOrdersTopic       = "DISPATCHLY_PUBSUB_ORDERS_TOPIC"
	EnvPubSubBillingTopic      = "DISPATCHLY_PUBSUB_BILLING_TOPIC"
	EnvPubSubNotificationTopic = "DISPATCHLY_PUBSUB_NOTIFICATION_TOPIC"
	EnvPubSubNotificationSub   = "DISPATCHLY_PUBSUB_NOTIFICATION_SUBSCRIPTION"

	EnvCheckoutAllowedHosts = "DISPATCHLY_CHECKOUT_ALLOWED_HOSTS"

	EnvOrderCompanyMayCancelAccepted = "DISPATCHLY_ORDER_COMPANY_MAY_CANCEL_ACCEPTED"
	EnvOrderDriverMayCancelAccepted  = "DISPATCHLY_ORDER_DRIVER_MAY_CANCEL_ACCEPTED"
)
