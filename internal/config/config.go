package config

import (
	"flag"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Env      string         `yaml:"env" env:"ENV" env-default:"local"`
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Chat     ChatConfig     `yaml:"chat"`
}

type HTTPConfig struct {
	Address           string        `yaml:"address" env:"HTTP_ADDRESS" env-default:""`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env-default:"5s"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env-default:"10s"`
	AllowedOrigins    []string      `yaml:"allowed_origins" env:"HTTP_ALLOWED_ORIGINS" env-separator:","`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver" env:"DATABASE_DRIVER" env-default:"memory"`
	DSN             string        `yaml:"dsn" env:"DATABASE_DSN"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env-default:"10"`
	MaxOpenConns    int           `yaml:"max_open_conns" env-default:"25"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env-default:"30m"`
}

// ChatConfig tunes the websocket relay.
type ChatConfig struct {
	HistoryLimit   int           `yaml:"history_limit" env-default:"100"`
	StoreTimeout   time.Duration `yaml:"store_timeout" env-default:"5s"`
	SendBuffer     int           `yaml:"send_buffer" env-default:"64"`
	WriteWait      time.Duration `yaml:"write_wait" env-default:"10s"`
	PongWait       time.Duration `yaml:"pong_wait" env-default:"60s"`
	MaxMessageSize int64         `yaml:"max_message_size" env-default:"16384"`
}

func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		panic("config path is empty")
	}

	return MustLoadPath(configPath)
}

func MustLoadPath(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("cannot read config: " + err.Error())
	}

	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		panic("invalid config: " + err.Error())
	}

	return &cfg
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	if res == "" {
		res = "config/local.yaml"
	}

	return res
}

func (c *Config) setDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverMemory
	}
	if c.Chat.HistoryLimit <= 0 {
		c.Chat.HistoryLimit = 100
	}
	if c.Chat.StoreTimeout <= 0 {
		c.Chat.StoreTimeout = 5 * time.Second
	}
	if c.Chat.SendBuffer <= 0 {
		c.Chat.SendBuffer = 64
	}
	if c.Chat.WriteWait <= 0 {
		c.Chat.WriteWait = 10 * time.Second
	}
	if c.Chat.PongWait <= 0 {
		c.Chat.PongWait = 60 * time.Second
	}
	if c.Chat.MaxMessageSize <= 0 {
		c.Chat.MaxMessageSize = 16384
	}
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverMemory:
		return nil
	case DriverPostgres, DriverSQLite:
		if c.Database.DSN == "" {
			return errDSNRequired
		}
		return nil
	default:
		return errUnknownDriver
	}
}

// PingPeriod is how often the server pings an idle socket. It must stay below PongWait.
func (c ChatConfig) PingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}
