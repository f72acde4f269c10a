package config

import (
	"cmp"
	"fmt"
	"net"
	"net/url"
	"strconv"
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
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Stripe       StripeConfig
	Checkout     CheckoutConfig
	OrderPolicy  OrderPolicyConfig
	Cron         CronConfig
}

// Load reads every section from the environment.
func Load() (*Config, error) {
	cfg := new(Config)
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.DB.resolveDSN(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabase reads only the app and database sections, for tools that never
// touch redis, JWT or GCP.
func LoadDatabase() (*Config, error) {
	cfg := new(Config)
	for name, section := range map[string]any{"app": &cfg.App, "db": &cfg.DB} {
		if err := envconfig.Process(EnvPrefix, section); err != nil {
			return nil, fmt.Errorf("config %s: %w", name, err)
		}
	}
	if err := cfg.DB.resolveDSN(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"DISPATCHLY_APP_ENV" required:"true"`
	Port         string `envconfig:"DISPATCHLY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"DISPATCHLY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"DISPATCHLY_LOG_WARN_STACK" default:"false"`

	CORSAllowedOrigins []string `envconfig:"DISPATCHLY_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`

	ReadTimeout     time.Duration `envconfig:"DISPATCHLY_HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"DISPATCHLY_HTTP_WRITE_TIMEOUT" default:"45s"`
	IdleTimeout     time.Duration `envconfig:"DISPATCHLY_HTTP_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"DISPATCHLY_HTTP_SHUTDOWN_TIMEOUT" default:"20s"`
}

func (a AppConfig) IsDev() bool  { return strings.EqualFold(a.Env, AppEnvDev) }
func (a AppConfig) IsProd() bool { return strings.EqualFold(a.Env, AppEnvProd) }

type ServiceConfig struct {
	Kind string `envconfig:"DISPATCHLY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"DISPATCHLY_DB_DSN"`
	Driver string `envconfig:"DISPATCHLY_DB_DRIVER" default:"postgres"`

	// Discrete settings, assembled into DSN when it is not given directly.
	Host     string `envconfig:"DISPATCHLY_DB_HOST"`
	Port     int    `envconfig:"DISPATCHLY_DB_PORT" default:"5432"`
	User     string `envconfig:"DISPATCHLY_DB_USER"`
	Password string `envconfig:"DISPATCHLY_DB_PASSWORD"`
	Name     string `envconfig:"DISPATCHLY_DB_NAME"`
	SSLMode  string `envconfig:"DISPATCHLY_DB_SSLMODE" default:"disable"`

	MaxOpenConns     int           `envconfig:"DISPATCHLY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns     int           `envconfig:"DISPATCHLY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime  time.Duration `envconfig:"DISPATCHLY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime  time.Duration `envconfig:"DISPATCHLY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	StatementTimeout time.Duration `envconfig:"DISPATCHLY_DB_STATEMENT_TIMEOUT" default:"30s"`
	SlowQuery        time.Duration `envconfig:"DISPATCHLY_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"DISPATCHLY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"DISPATCHLY_REDIS_ADDR"`
	Password     string        `envconfig:"DISPATCHLY_REDIS_PASSWORD"`
	DB           int           `envconfig:"DISPATCHLY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"DISPATCHLY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"DISPATCHLY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DISPATCHLY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"DISPATCHLY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"DISPATCHLY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig describes the bearer tokens minted by the identity provider.
type JWTConfig struct {
	Secret            string `envconfig:"DISPATCHLY_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"DISPATCHLY_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"DISPATCHLY_JWT_EXPIRATION_MINUTES" default:"60"`
}

type RateLimitConfig struct {
	CodeWindow time.Duration `envconfig:"DISPATCHLY_RATE_LIMIT_CODE_WINDOW" default:"1m"`
	CodeLimit  int           `envconfig:"DISPATCHLY_RATE_LIMIT_CODE_LIMIT" default:"10"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"DISPATCHLY_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	ConsumerIdempotencyTTL time.Duration `envconfig:"DISPATCHLY_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	WebhookIdempotencyTTL  time.Duration `envconfig:"DISPATCHLY_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"DISPATCHLY_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"DISPATCHLY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"DISPATCHLY_GOOGLE_APPLICATION_CREDENTIALS"`
}

// PubSubConfig names the fact topics and the worker's subscriptions on them.
type PubSubConfig struct {
	OrdersTopic              string `envconfig:"DISPATCHLY_PUBSUB_ORDERS_TOPIC" required:"true"`
	BillingTopic             string `envconfig:"DISPATCHLY_PUBSUB_BILLING_TOPIC" required:"true"`
	NotificationTopic        string `envconfig:"DISPATCHLY_PUBSUB_NOTIFICATION_TOPIC" default:"dl-notification-events"`
	NotificationSubscription string `envconfig:"DISPATCHLY_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
	OrdersSubscription       string `envconfig:"DISPATCHLY_PUBSUB_ORDERS_SUBSCRIPTION" default:"dl-orders-inbox-sub"`
	BillingSubscription      string `envconfig:"DISPATCHLY_PUBSUB_BILLING_SUBSCRIPTION" default:"dl-billing-inbox-sub"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"DISPATCHLY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"DISPATCHLY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"DISPATCHLY_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"DISPATCHLY_OUTBOX_RETENTION_DAYS" default:"30"`
}

type StripeConfig struct {
	APIKey           string        `envconfig:"DISPATCHLY_STRIPE_API_KEY"`
	Secret           string        `envconfig:"DISPATCHLY_STRIPE_SECRET"`
	Env              string        `envconfig:"DISPATCHLY_STRIPE_ENV" default:"test"`
	WebhookTolerance time.Duration `envconfig:"DISPATCHLY_STRIPE_WEBHOOK_TOLERANCE" default:"300s"`
	Timeout          time.Duration `envconfig:"DISPATCHLY_STRIPE_TIMEOUT" default:"30s"`
}

// Environment is the lower-cased Stripe mode, test when unset.
func (s StripeConfig) Environment() string {
	return cmp.Or(strings.ToLower(strings.TrimSpace(s.Env)), "test")
}

// CheckoutConfig restricts the callback URLs a client may hand to the hosted checkout page.
type CheckoutConfig struct {
	AllowedHosts []string `envconfig:"DISPATCHLY_CHECKOUT_ALLOWED_HOSTS" default:"app.dispatchly.io"`
	Currency     string   `envconfig:"DISPATCHLY_CHECKOUT_CURRENCY" default:"usd"`
}

// OrderPolicyConfig decides which party may cancel an order once a driver holds it.
type OrderPolicyConfig struct {
	CompanyMayCancelAccepted bool `envconfig:"DISPATCHLY_ORDER_COMPANY_MAY_CANCEL_ACCEPTED" default:"true"`
	DriverMayCancelAccepted  bool `envconfig:"DISPATCHLY_ORDER_DRIVER_MAY_CANCEL_ACCEPTED" default:"true"`
}

type CronConfig struct {
	Interval              time.Duration `envconfig:"DISPATCHLY_CRON_INTERVAL" default:"5m"`
	CodeBackfillBatchSize int           `envconfig:"DISPATCHLY_CRON_CODE_BACKFILL_BATCH" default:"100"`
	NotificationRetention time.Duration `envconfig:"DISPATCHLY_CRON_NOTIFICATION_RETENTION" default:"2160h"`
}

func (db *DBConfig) resolveDSN() error {
	if db.DSN != "" {
		return nil
	}
	var missing []string
	for _, f := range [...]struct{ env, value string }{
		{EnvDBHost, db.Host},
		{EnvDBUser, db.User},
		{EnvDBName, db.Name},
	} {
		if f.value == "" {
			missing = append(missing, f.env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: set %s or all of %s", EnvDBDSN, strings.Join(missing, ", "))
	}

	dsn := url.URL{
		Scheme: "postgres",
		User:   url.User(db.User),
		Host:   net.JoinHostPort(db.Host, strconv.Itoa(db.Port)),
		Path:   "/" + db.Name,
	}
	if db.Password != "" {
		dsn.User = url.UserPassword(db.User, db.Password)
	}
	if db.SSLMode != "" {
		dsn.RawQuery = url.Values{"sslmode": {db.SSLMode}}.Encode()
	}
	db.DSN = dsn.String()
	return nil
}
