package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port         string        `yaml:"port"`
		Host         string        `yaml:"host"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		IdleTimeout  time.Duration `yaml:"idle_timeout"`
	} `yaml:"server"`

	SMTP struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		From     string `yaml:"from"`
	} `yaml:"smtp"`

	// Redis backs the tracking record store. An empty host keeps records in memory.
	Redis struct {
		Host      string `yaml:"host"`
		Port      int    `yaml:"port"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		KeyPrefix string `yaml:"key_prefix"`
	} `yaml:"redis"`

	App struct {
		Env     string `yaml:"env"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"app"`

	Tracking struct {
		DebounceWindow time.Duration `yaml:"debounce_window"`
		HistoryTTL     time.Duration `yaml:"history_ttl"`
		SweepInterval  time.Duration `yaml:"sweep_interval"`
		MaxIDLength    int           `yaml:"max_id_length"`
	} `yaml:"tracking"`

	Poller struct {
		ServerURL      string        `yaml:"server_url"`
		Interval       time.Duration `yaml:"interval"`
		MaxPolls       int           `yaml:"max_polls"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"poller"`

	Notify struct {
		Email string `yaml:"email"`
	} `yaml:"notify"`

	Log struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
}

// Default returns a configuration with every field populated.
func Default() *Config {
	c := &Config{}
	c.Server.Host = "0.0.0.0"
	c.Server.Port = "8000"
	c.Server.ReadTimeout = 10 * time.Second
	c.Server.WriteTimeout = 10 * time.Second
	c.Server.IdleTimeout = 60 * time.Second

	c.SMTP.Port = 587

	c.Redis.Port = 6379
	c.Redis.KeyPrefix = "mailtracker:"

	c.App.Env = "development"

	c.Tracking.DebounceWindow = 5 * time.Second
	c.Tracking.HistoryTTL = 24 * time.Hour
	c.Tracking.SweepInterval = time.Hour
	c.Tracking.MaxIDLength = 128

	c.Poller.ServerURL = "http://localhost:8000"
	c.Poller.Interval = 5 * time.Second
	c.Poller.MaxPolls = 288
	c.Poller.RequestTimeout = 5 * time.Second

	c.Log.Level = "info"
	c.Log.MaxSizeMB = 50
	c.Log.MaxBackups = 3
	c.Log.MaxAgeDays = 14
	return c
}

// LoadConfig reads configPath over the defaults and applies environment
// overrides. A missing file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	config := Default()

	if configPath != "" {
		file, err := os.Open(configPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("open config: %w", err)
		default:
			defer file.Close()
			if err := yaml.NewDecoder(file).Decode(config); err != nil {
				return nil, fmt.Errorf("decode config %s: %w", configPath, err)
			}
		}
	}

	config.overrideWithEnvVars()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) overrideWithEnvVars() {
	if port := GetEnv("PORT", ""); port != "" {
		c.Server.Port = port
	}
	if host := GetEnv("HOST", ""); host != "" {
		c.Server.Host = host
	}

	if env := GetEnv("APP_ENV", ""); env != "" {
		c.App.Env = env
	}
	if baseURL := GetEnv("BASE_URL", ""); baseURL != "" {
		c.App.BaseURL = baseURL
	}

	if smtpHost := GetEnv("SMTP_HOST", ""); smtpHost != "" {
		c.SMTP.Host = smtpHost
	}
	if smtpPort := getEnvInt("SMTP_PORT"); smtpPort > 0 {
		c.SMTP.Port = smtpPort
	}
	if user := GetEnv("SMTP_USERNAME", ""); user != "" {
		c.SMTP.Username = user
	}
	if pass := GetEnv("SMTP_PASSWORD", ""); pass != "" {
		c.SMTP.Password = pass
	}
	if from := GetEnv("SMTP_FROM", ""); from != "" {
		c.SMTP.From = from
	}
	if to := GetEnv("NOTIFY_EMAIL", ""); to != "" {
		c.Notify.Email = to
	}

	if redisHost := GetEnv("REDIS_HOST", ""); redisHost != "" {
		c.Redis.Host = redisHost
	}
	if redisPort := getEnvInt("REDIS_PORT"); redisPort > 0 {
		c.Redis.Port = redisPort
	}
	if pass := GetEnv("REDIS_PASSWORD", ""); pass != "" {
		c.Redis.Password = pass
	}

	if server := GetEnv("TRACKING_SERVER", ""); server != "" {
		c.Poller.ServerURL = server
	}

	if level := GetEnv("LOG_LEVEL", ""); level != "" {
		c.Log.Level = level
	}
	if file := GetEnv("LOG_FILE", ""); file != "" {
		c.Log.File = file
	}
}

// Validate rejects settings the tracker and poller cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("config: server.port is required")
	}
	if c.Tracking.DebounceWindow < 0 {
		return errors.New("config: tracking.debounce_window must not be negative")
	}
	if c.Tracking.HistoryTTL <= 0 || c.Tracking.SweepInterval <= 0 {
		return errors.New("config: tracking.history_ttl and tracking.sweep_interval must be positive")
	}
	if c.Tracking.MaxIDLength <= 0 {
		return errors.New("config: tracking.max_id_length must be positive")
	}
	if c.Poller.Interval <= 0 || c.Poller.MaxPolls <= 0 {
		return errors.New("config: poller.interval and poller.max_polls must be positive")
	}
	if c.Poller.RequestTimeout <= 0 {
		return errors.New("config: poller.request_timeout must be positive")
	}
	return nil
}

// PollingHorizon is how long a poller instance lives before it expires:
// 288 polls at 5s, 24 minutes, with the defaults.
func (c *Config) PollingHorizon() time.Duration {
	return time.Duration(c.Poller.MaxPolls) * c.Poller.Interval
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string) int {
	v, err := strconv.Atoi(GetEnv(key, ""))
	if err != nil {
		return 0
	}
	return v
}

func (c *Config) GetBaseURL(requestHost string) string {
	if c.App.BaseURL != "" {
		return strings.TrimRight(c.App.BaseURL, "/")
	}

	if c.IsProduction() && requestHost != "" {
		// In production, assume HTTPS
		if !strings.HasPrefix(requestHost, "http") {
			return "https://" + requestHost
		}
		return requestHost
	}

	if requestHost != "" {
		return "http://" + requestHost
	}
	return "http://localhost:" + c.Server.Port
}
