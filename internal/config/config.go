package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type AppConfig struct {
	HTTPAddr       string        `env:"HTTP_ADDR" envDefault:":8080"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"localhost:3000"`
	ShutdownGrace  time.Duration `env:"SHUTDOWN_GRACE" envDefault:"10s"`

	JWTSecret    string `env:"JWT_SECRET"`
	JWTAlgorithm string `env:"JWT_ALGORITHM" envDefault:"HS256"`

	BackendURL     string        `env:"BACKEND_URL" envDefault:"http://localhost:4000"`
	BackendTimeout time.Duration `env:"BACKEND_TIMEOUT" envDefault:"10s"`
	BackendRetry   int           `env:"BACKEND_RETRY" envDefault:"3"`

	TextgenURL     string        `env:"TEXTGEN_URL"`
	TextgenAPIKey  string        `env:"TEXTGEN_API_KEY"`
	TextgenModel   string        `env:"TEXTGEN_MODEL"`
	TextgenTimeout time.Duration `env:"TEXTGEN_TIMEOUT" envDefault:"20s"`

	StockfishPath  string        `env:"STOCKFISH_PATH"`
	EngineMaxProcs int           `env:"ENGINE_MAX_PROCS"`
	EngineTimeout  time.Duration `env:"ENGINE_TIMEOUT"`
	EngineThreads  int           `env:"ENGINE_THREADS" envDefault:"1"`
	EngineHashMB   int           `env:"ENGINE_HASH_MB" envDefault:"16"`

	RedisURL        string `env:"REDIS_URL"`
	RelayInstanceID string `env:"RELAY_INSTANCE_ID"`
	FanoutTopic     string `env:"FANOUT_TOPIC" envDefault:"relay:fanout"`
	RegistryShards  int    `env:"REGISTRY_SHARDS" envDefault:"32"`

	WSSendQueue       int           `env:"WS_SEND_QUEUE" envDefault:"64"`
	WSWriteTimeout    time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"5s"`
	WSPingInterval    time.Duration `env:"WS_PING_INTERVAL" envDefault:"30s"`
	WSMaxMessageBytes int64         `env:"WS_MAX_MESSAGE_BYTES" envDefault:"65536"`

	MsgcatDir string `env:"MSGCAT_DIR"`

	Log LogConfig
}

type LogConfig struct {
	Level     string `env:"LOG_LEVEL" envDefault:"info"`
	Format    string `env:"LOG_FORMAT" envDefault:"legacy"`
	ToConsole bool   `env:"LOG_TO_CONSOLE" envDefault:"true"`
	ToFile    bool   `env:"LOG_TO_FILE" envDefault:"false"`
	File      string `env:"LOG_FILE" envDefault:"logs/relay.log"`
	Caller    bool   `env:"LOG_CALLER" envDefault:"false"`
}

// Load reads .env (when present) and then the process environment.
// Variables already set in the environment win over .env entries.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()
	return Parse()
}

// Parse reads configuration from the process environment only.
func Parse() (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) normalize() {
	c.StockfishPath = strings.TrimSpace(c.StockfishPath)
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.BackendURL = strings.TrimRight(strings.TrimSpace(c.BackendURL), "/")
	origins := c.AllowedOrigins[:0]
	for _, o := range c.AllowedOrigins {
		if s := strings.TrimSpace(o); s != "" {
			origins = append(origins, s)
		}
	}
	c.AllowedOrigins = origins
}

func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.BackendURL == "" {
		return errors.New("BACKEND_URL is required")
	}
	if c.WSSendQueue <= 0 {
		return fmt.Errorf("WS_SEND_QUEUE must be > 0: %d", c.WSSendQueue)
	}
	if c.RegistryShards <= 0 {
		return fmt.Errorf("REGISTRY_SHARDS must be > 0: %d", c.RegistryShards)
	}
	if c.EngineMaxProcs < 0 {
		return fmt.Errorf("ENGINE_MAX_PROCS must be >= 0: %d", c.EngineMaxProcs)
	}
	return nil
}
