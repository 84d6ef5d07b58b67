package config

import (
	"errors"
	"fmt"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	BackendBadger = "badger"
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
)

type Config struct {
	Host     string `env:"HOST,default=localhost"`
	Port     int    `env:"PORT,default=9090"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	RateWindow       time.Duration `env:"RATE_WINDOW,default=5s"`
	RateMaxPerWindow int           `env:"RATE_MAX_PER_WINDOW,default=20"`

	AuthTimeout   time.Duration `env:"AUTH_TIMEOUT,default=10s"`
	PingPeriod    time.Duration `env:"PING_PERIOD,default=50s"`
	PongWait      time.Duration `env:"PONG_WAIT,default=60s"`
	WriteWait     time.Duration `env:"WRITE_WAIT,default=10s"`
	SendBuffer    int           `env:"SEND_BUFFER,default=64"`
	MaxFrameBytes int64         `env:"MAX_FRAME_BYTES,default=65536"`
	SearchLimit   int           `env:"SEARCH_LIMIT,default=20"`

	StoreBackend     string `env:"STORE_BACKEND,default=badger"`
	DirectoryBackend string `env:"DIRECTORY_BACKEND,default=badger"`
	BadgerPath       string `env:"BADGER_PATH,default=./data"`

	RedisAddr     string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB,default=0"`

	MongoURI      string `env:"MONGO_URI,default=mongodb://localhost:27017"`
	MongoDatabase string `env:"MONGO_DATABASE,default=blind_relay"`

	JWTSecret    string        `env:"JWT_SECRET"`
	TokenTTL     time.Duration `env:"TOKEN_TTL,default=24h"`
	RequireToken bool          `env:"REQUIRE_TOKEN,default=false"`
}

// Load reads an optional .env file and then the process environment.
func Load(files ...string) (*Config, error) {
	// a missing .env is not an error
	_ = godotenv.Load(files...)

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.RateWindow <= 0 {
		errs = append(errs, errors.New("RATE_WINDOW must be positive"))
	}
	if c.RateMaxPerWindow <= 0 {
		errs = append(errs, errors.New("RATE_MAX_PER_WINDOW must be positive"))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, errors.New("SEND_BUFFER must be positive"))
	}
	if c.SearchLimit <= 0 {
		errs = append(errs, errors.New("SEARCH_LIMIT must be positive"))
	}
	if c.PingPeriod >= c.PongWait {
		errs = append(errs, errors.New("PING_PERIOD must be shorter than PONG_WAIT"))
	}
	switch c.StoreBackend {
	case BackendBadger, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("unsupported STORE_BACKEND %q", c.StoreBackend))
	}
	switch c.DirectoryBackend {
	case BackendBadger, BackendMongo:
	default:
		errs = append(errs, fmt.Errorf("unsupported DIRECTORY_BACKEND %q", c.DirectoryBackend))
	}
	if c.RequireToken && c.JWTSecret == "" {
		errs = append(errs, errors.New("REQUIRE_TOKEN needs JWT_SECRET"))
	}
	return errors.Join(errs...)
}

func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
