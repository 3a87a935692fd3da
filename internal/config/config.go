package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultMinSecondsPerQuestion is the pace floor used when neither the file nor the
// collaborator supplies one.
const DefaultMinSecondsPerQuestion = 3

type Config struct {
	Server struct {
		Port string `yaml:"port"`
		// AllowedOrigins gates the WebSocket upgrade; empty allows same-origin only.
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	API struct {
		BaseURL string `yaml:"base_url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"api"`
	Auth struct {
		Token   string `yaml:"token"`
		Profile string `yaml:"profile"`
		TTL     string `yaml:"ttl"`
	} `yaml:"auth"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Tracker struct {
		FlushInterval string `yaml:"flush_interval"`
	} `yaml:"tracker"`
	Monitor struct {
		MinSecondsPerQuestion int `yaml:"min_seconds_per_question"`
	} `yaml:"monitor"`
	Review struct {
		TTL string `yaml:"ttl"`
	} `yaml:"review"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load reads YAML config from path, then applies environment overrides.
// A missing file is not an error: the agent can run from env alone.
// A .env file in the working directory is loaded first if present.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Monitor.MinSecondsPerQuestion <= 0 {
		cfg.Monitor.MinSecondsPerQuestion = DefaultMinSecondsPerQuestion
	}
}

func applyEnv(cfg *Config) {
	overrideString(&cfg.API.BaseURL, "QUIZ_API_BASE_URL")
	overrideString(&cfg.Auth.Token, "QUIZ_API_TOKEN")
	overrideString(&cfg.Redis.Addr, "REDIS_ADDR")
	overrideString(&cfg.Redis.Password, "REDIS_PASSWORD")
	overrideString(&cfg.Postgres.URL, "DATABASE_URL")
	overrideString(&cfg.Log.Level, "LOG_LEVEL")
	overrideString(&cfg.Log.Format, "LOG_FORMAT")
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
