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
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Fees         FeesConfig
	Orders       OrdersConfig
	Promotions   PromotionsConfig
	Cron         CronConfig
	Stripe       StripeConfig
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
	if err := cfg.Fees.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TRADEYARD_APP_ENV" required:"true"`
	Port         string `envconfig:"TRADEYARD_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"TRADEYARD_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TRADEYARD_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"TRADEYARD_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"TRADEYARD_DB_DSN"`
	Driver string `envconfig:"TRADEYARD_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"TRADEYARD_DB_HOST"`
	Port     int    `envconfig:"TRADEYARD_DB_PORT" default:"5432"`
	User     string `envconfig:"TRADEYARD_DB_USER"`
	Password string `envconfig:"TRADEYARD_DB_PASSWORD"`
	Name     string `envconfig:"TRADEYARD_DB_NAME"`
	SSLMode  string `envconfig:"TRADEYARD_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TRADEYARD_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TRADEYARD_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TRADEYARD_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TRADEYARD_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (d *DBConfig) ensureDSN() error {
	if strings.TrimSpace(d.DSN) != "" {
		return nil
	}
	if d.Host == "" || d.User == "" || d.Name == "" {
		return fmt.Errorf("either TRADEYARD_DB_DSN or host/user/name settings are required")
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.Name,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	d.DSN = u.String()
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"TRADEYARD_REDIS_URL" required:"true"`
	Address      string        `envconfig:"TRADEYARD_REDIS_ADDR"`
	Password     string        `envconfig:"TRADEYARD_REDIS_PASSWORD"`
	DB           int           `envconfig:"TRADEYARD_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TRADEYARD_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TRADEYARD_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TRADEYARD_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TRADEYARD_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TRADEYARD_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"TRADEYARD_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"TRADEYARD_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"TRADEYARD_JWT_EXPIRATION_MINUTES" default:"60"`
	SessionTTLMinutes int    `envconfig:"TRADEYARD_SESSION_TTL_MINUTES" default:"43200"`
}

// SessionTTL returns the server-side session TTL configured in minutes.
func (j JWTConfig) SessionTTL() time.Duration {
	if j.SessionTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.SessionTTLMinutes) * time.Minute
}

// FeesConfig controls the platform's cut, frozen onto each order at creation.
type FeesConfig struct {
	PlatformRateBasisPoints int `envconfig:"TRADEYARD_FEE_PLATFORM_BPS" default:"500"`
	MinimumFeeCents         int `envconfig:"TRADEYARD_FEE_MINIMUM_CENTS" default:"50"`
}

func (f FeesConfig) Validate() error {
	if f.PlatformRateBasisPoints < 0 || f.PlatformRateBasisPoints >= 10000 {
		return fmt.Errorf("platform fee basis points must be in [0, 10000)")
	}
	if f.MinimumFeeCents < 0 {
		return fmt.Errorf("minimum fee cents must not be negative")
	}
	return nil
}

type OrdersConfig struct {
	// AutoCompleteAfter is how long a delivered order waits for the buyer
	// before the system confirms completion on their behalf.
	AutoCompleteAfter      time.Duration `envconfig:"TRADEYARD_ORDER_AUTO_COMPLETE_AFTER" default:"72h"`
	VerificationCodeLength int           `envconfig:"TRADEYARD_ORDER_VERIFICATION_CODE_LENGTH" default:"6"`
}

// PromotionsConfig maps plan names to boost durations. Pricing lives in the
// external catalog; only the clock is ours.
type PromotionsConfig struct {
	WeeklyDuration  time.Duration `envconfig:"TRADEYARD_PROMO_WEEKLY_DURATION" default:"168h"`
	MonthlyDuration time.Duration `envconfig:"TRADEYARD_PROMO_MONTHLY_DURATION" default:"720h"`
}

// PlanDuration returns the boost window for a plan name, or false for an
// unknown plan.
func (p PromotionsConfig) PlanDuration(plan string) (time.Duration, bool) {
	switch plan {
	case "weekly":
		return p.WeeklyDuration, true
	case "monthly":
		return p.MonthlyDuration, true
	}
	return 0, false
}

type CronConfig struct {
	Interval time.Duration `envconfig:"TRADEYARD_CRON_INTERVAL" default:"15m"`
	LockKey  string        `envconfig:"TRADEYARD_CRON_LOCK_KEY" default:"cron-worker"`
	LockTTL  time.Duration `envconfig:"TRADEYARD_CRON_LOCK_TTL" default:"20m"`
}

type StripeConfig struct {
	APIKey        string `envconfig:"TRADEYARD_STRIPE_API_KEY" required:"true"`
	WebhookSecret string `envconfig:"TRADEYARD_STRIPE_WEBHOOK_SECRET" required:"true"`
	Env           string `envconfig:"TRADEYARD_STRIPE_ENV" default:"test"`
}

func (s StripeConfig) Environment() string {
	return s.Env
}

type GCPConfig struct {
	ProjectID string `envconfig:"TRADEYARD_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	DomainTopic        string `envconfig:"TRADEYARD_PUBSUB_DOMAIN_TOPIC" default:"domain-events"`
	DomainSubscription string `envconfig:"TRADEYARD_PUBSUB_DOMAIN_SUBSCRIPTION"`
}

type OutboxConfig struct {
	PollInterval time.Duration `envconfig:"TRADEYARD_OUTBOX_POLL_INTERVAL" default:"5s"`
	BatchSize    int           `envconfig:"TRADEYARD_OUTBOX_BATCH_SIZE" default:"100"`
	RetainFor    time.Duration `envconfig:"TRADEYARD_OUTBOX_RETAIN_FOR" default:"168h"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"TRADEYARD_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"TRADEYARD_AUTO_MIGRATE" default:"false"`
}
