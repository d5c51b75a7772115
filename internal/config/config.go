package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Addr          string        `yaml:"addr"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	IdleTimeout   time.Duration `yaml:"idleTimeout"`
	ShutdownGrace time.Duration `yaml:"shutdownGrace"`
}

type StoreConfig struct {
	Driver   string `yaml:"driver"` // memory, postgres or sqlite
	DSN      string `yaml:"dsn"`
	MaxConns int    `yaml:"maxConns"`
}

type RedisConfig struct {
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	RecentSize int64         `yaml:"recentSize"`
	TTL        time.Duration `yaml:"ttl"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"groupId"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Redis  RedisConfig  `yaml:"redis"`
	Kafka  KafkaConfig  `yaml:"kafka"`
	Log    LogConfig    `yaml:"log"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:          ":8080",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   30 * time.Second,
			ShutdownGrace: 30 * time.Second,
		},
		Store: StoreConfig{Driver: "memory"},
		Redis: RedisConfig{RecentSize: 1000, TTL: time.Hour},
		Kafka: KafkaConfig{Topic: "measurements", GroupID: "energy-service"},
		Log:   LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads filename over the defaults and then applies environment
// overrides. A missing file is not an error.
func Load(filename string) (*Config, error) {
	c := Default()

	buf, err := os.ReadFile(filename)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(buf, c); err != nil {
			return nil, fmt.Errorf("parsing yaml: %w", err)
		}
	}

	c.applyEnv(os.Getenv)
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if port := getenv("PORT"); port != "" {
		c.Server.Addr = ":" + port
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := getenv("STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := getenv("STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Kafka.Brokers = append(c.Kafka.Brokers, b)
			}
		}
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}
