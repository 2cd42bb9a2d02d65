package app

import (
	"io/fs"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// envPrefix is prepended to every key: HTTP_ADDR is read from RELAY_HTTP_ADDR.
// envconfig falls back to the bare key when the prefixed one is unset, so the
// conventional DATABASE_URL works as is.
const envPrefix = "relay"

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreBadger   = "badger"
	StoreNATS     = "nats"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:"0.0.0.0:3001" validate:"required"`

	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat     string `envconfig:"LOG_FORMAT" default:"json" validate:"oneof=json text"`
	LogFile       string `envconfig:"LOG_FILE"`
	LogMaxSizeMB  int    `envconfig:"LOG_MAX_SIZE_MB" default:"100" validate:"gte=1"`
	LogMaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"5" validate:"gte=0"`
	LogMaxAgeDays int    `envconfig:"LOG_MAX_AGE_DAYS" default:"14" validate:"gte=0"`

	ReadHeaderTimeout time.Duration `envconfig:"HTTP_READ_HEADER_TIMEOUT" default:"5s"`
	IdleTimeout       time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes    int           `envconfig:"HTTP_MAX_HEADER_BYTES" default:"1048576" validate:"gte=1024"`
	ShutdownTimeout   time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	// Origin policy of the WebSocket endpoint ("*" allows any origin).
	AllowedOrigins       []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000"`
	OriginRequired       bool     `envconfig:"ORIGIN_REQUIRED" default:"false"`
	WSInsecureSkipVerify bool     `envconfig:"WS_DEV_INSECURE" default:"false"`

	WSSendQueue         int           `envconfig:"WS_SEND_QUEUE" default:"256" validate:"gte=0"`
	WSWriteTimeout      time.Duration `envconfig:"WS_WRITE_TIMEOUT" default:"5s"`
	WSReadIdleTimeout   time.Duration `envconfig:"WS_READ_IDLE_TIMEOUT" default:"2m"`
	WSHeartbeatInterval time.Duration `envconfig:"WS_HEARTBEAT_INTERVAL" default:"25s"`
	WSRateEvents        int           `envconfig:"WS_RATE_EVENTS" default:"120" validate:"gte=0"`
	WSRateWindow        time.Duration `envconfig:"WS_RATE_WINDOW" default:"10s"`

	// StoreDriver selects persistence. Empty means postgres when DATABASE_URL is set, memory otherwise.
	StoreDriver string `envconfig:"STORE_DRIVER" validate:"omitempty,oneof=memory postgres badger nats"`

	DatabaseURL string `envconfig:"DATABASE_URL" validate:"required_if=StoreDriver postgres"`
	DBSchema    string `envconfig:"DB_SCHEMA" default:"public"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"10" validate:"gte=0"`
	DBMinConns  int32  `envconfig:"DB_MIN_CONNS" default:"0" validate:"gte=0"`

	BadgerPath string `envconfig:"BADGER_PATH"`
	NATSURL    string `envconfig:"NATS_URL" validate:"required_if=StoreDriver nats"`

	// If true, /readyz returns 503 while the store is unreachable or not configured.
	ReadinessRequireStore bool `envconfig:"READINESS_REQUIRE_STORE" default:"false"`

	MembershipLookupTimeout time.Duration `envconfig:"MEMBERSHIP_LOOKUP_TIMEOUT" default:"3s"`
	PresenceWorkers         int           `envconfig:"PRESENCE_WORKERS" default:"16" validate:"gte=1"`
	PresenceTimeout         time.Duration `envconfig:"PRESENCE_TIMEOUT" default:"5s"`
}

// LoadConfig reads an optional .env file, then the environment.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, errors.Wrap(err, "config: load .env")
	}

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "config: environment")
	}
	return cfg.normalize()
}

func (c Config) normalize() (Config, error) {
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	if c.StoreDriver == "" {
		c.StoreDriver = StoreMemory
		if strings.TrimSpace(c.DatabaseURL) != "" {
			c.StoreDriver = StorePostgres
		}
	}
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return Config{}, errors.Wrap(err, "config: invalid")
	}
	if c.DBMinConns > c.DBMaxConns && c.DBMaxConns > 0 {
		return Config{}, errors.Newf("config: DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return c, nil
}
