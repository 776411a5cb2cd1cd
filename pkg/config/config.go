package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the envconfig prefix shared by every binary.
const EnvPrefix = "campushub"

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

// Bus driver names accepted by BusConfig.Driver.
const (
	BusDriverRabbitMQ = "rabbitmq"
	BusDriverPubSub   = "pubsub"
)

type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Password  PasswordConfig
	RateLimit AuthRateLimitConfig
	Bus       BusConfig
	Outbox    OutboxConfig
	Flags     FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Bus.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CAMPUSHUB_APP_ENV" default:"development"`
	Port         string `envconfig:"CAMPUSHUB_APP_PORT" default:"3000"`
	LogLevel     string `envconfig:"CAMPUSHUB_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CAMPUSHUB_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"CAMPUSHUB_DB_DSN"`

	Host     string `envconfig:"CAMPUSHUB_DB_HOST"`
	Port     int    `envconfig:"CAMPUSHUB_DB_PORT" default:"5432"`
	User     string `envconfig:"CAMPUSHUB_DB_USER"`
	Password string `envconfig:"CAMPUSHUB_DB_PASSWORD"`
	Name     string `envconfig:"CAMPUSHUB_DB_NAME"`
	SSLMode  string `envconfig:"CAMPUSHUB_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CAMPUSHUB_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CAMPUSHUB_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CAMPUSHUB_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CAMPUSHUB_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CAMPUSHUB_REDIS_URL"`
	Address      string        `envconfig:"CAMPUSHUB_REDIS_ADDR" default:"localhost:6379"`
	Password     string        `envconfig:"CAMPUSHUB_REDIS_PASSWORD"`
	DB           int           `envconfig:"CAMPUSHUB_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CAMPUSHUB_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CAMPUSHUB_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CAMPUSHUB_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CAMPUSHUB_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CAMPUSHUB_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret                 string `envconfig:"CAMPUSHUB_JWT_SECRET" required:"true"`
	Issuer                 string `envconfig:"CAMPUSHUB_JWT_ISSUER" default:"campushub"`
	ExpirationMinutes      int    `envconfig:"CAMPUSHUB_JWT_EXPIRATION_MINUTES" default:"15"`
	RefreshTokenTTLMinutes int    `envconfig:"CAMPUSHUB_REFRESH_TOKEN_TTL_MINUTES" default:"43200"`
}

// RefreshTokenTTL returns the refresh token TTL configured in minutes.
func (j JWTConfig) RefreshTokenTTL() time.Duration {
	if j.RefreshTokenTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.RefreshTokenTTLMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"CAMPUSHUB_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"CAMPUSHUB_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"CAMPUSHUB_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"CAMPUSHUB_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"CAMPUSHUB_ARGON_KEY_LEN" default:"32"`
}

type AuthRateLimitConfig struct {
	LoginWindow        time.Duration `envconfig:"CAMPUSHUB_AUTH_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginEmailLimit    int           `envconfig:"CAMPUSHUB_AUTH_RATE_LIMIT_LOGIN_EMAIL_LIMIT" default:"5"`
	LoginIPLimit       int           `envconfig:"CAMPUSHUB_AUTH_RATE_LIMIT_LOGIN_IP_LIMIT" default:"20"`
	RegisterWindow     time.Duration `envconfig:"CAMPUSHUB_AUTH_RATE_LIMIT_REGISTER_WINDOW" default:"5m"`
	RegisterEmailLimit int           `envconfig:"CAMPUSHUB_AUTH_RATE_LIMIT_REGISTER_EMAIL_LIMIT" default:"3"`
	RegisterIPLimit    int           `envconfig:"CAMPUSHUB_AUTH_RATE_LIMIT_REGISTER_IP_LIMIT" default:"20"`
}

// BusConfig controls the message bus client. With Enabled=false every publish
// is a successful no-op and outbox rows simply accumulate as pending.
type BusConfig struct {
	Enabled  bool   `envconfig:"CAMPUSHUB_BUS_ENABLED" default:"false"`
	Driver   string `envconfig:"CAMPUSHUB_BUS_DRIVER" default:"rabbitmq"`
	URL      string `envconfig:"CAMPUSHUB_BUS_URL" default:"amqp://localhost"`
	Exchange string `envconfig:"CAMPUSHUB_BUS_EXCHANGE" default:"campus-hub.events"`

	// Pub/Sub driver only.
	GCPProjectID string `envconfig:"CAMPUSHUB_BUS_GCP_PROJECT_ID"`
	PubSubTopic  string `envconfig:"CAMPUSHUB_BUS_PUBSUB_TOPIC" default:"campushub-events"`
}

func (b BusConfig) validate() error {
	switch b.Driver {
	case BusDriverRabbitMQ, BusDriverPubSub:
	default:
		return fmt.Errorf("unsupported bus driver %q", b.Driver)
	}
	if b.Enabled && b.Driver == BusDriverPubSub && b.GCPProjectID == "" {
		return fmt.Errorf("%s bus driver requires CAMPUSHUB_BUS_GCP_PROJECT_ID", BusDriverPubSub)
	}
	return nil
}

// OutboxConfig tunes the relay. Defaults match the documented backoff policy:
// exponential from BackoffBase capped at BackoffCap, terminal after MaxAttempts.
type OutboxConfig struct {
	RelayEnabled   bool          `envconfig:"CAMPUSHUB_OUTBOX_RELAY_ENABLED" default:"true"`
	PollInterval   time.Duration `envconfig:"CAMPUSHUB_OUTBOX_POLL_INTERVAL" default:"5s"`
	BatchSize      int           `envconfig:"CAMPUSHUB_OUTBOX_BATCH_SIZE" default:"20"`
	MaxAttempts    int           `envconfig:"CAMPUSHUB_OUTBOX_MAX_ATTEMPTS" default:"8"`
	BackoffBase    time.Duration `envconfig:"CAMPUSHUB_OUTBOX_BACKOFF_BASE" default:"2s"`
	BackoffCap     time.Duration `envconfig:"CAMPUSHUB_OUTBOX_BACKOFF_CAP" default:"60s"`
	StaleThreshold time.Duration `envconfig:"CAMPUSHUB_OUTBOX_STALE_THRESHOLD" default:"5m"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"CAMPUSHUB_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"CAMPUSHUB_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	for env, value := range map[string]string{
		"CAMPUSHUB_DB_HOST": db.Host,
		"CAMPUSHUB_DB_USER": db.User,
		"CAMPUSHUB_DB_NAME": db.Name,
	} {
		if value == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("either CAMPUSHUB_DB_DSN or %s are required", strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}
	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
