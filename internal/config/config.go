package config

import (
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Agent struct {
		Port             string   `yaml:"port" validate:"required"`
		BackendURL       string   `yaml:"backendUrl" validate:"required,url"`
		AllowedOrigins   []string `yaml:"allowedOrigins"`
		SubmitTimeout    string   `yaml:"submitTimeout"`
		LowTimeThreshold int      `yaml:"lowTimeThreshold" validate:"gte=0"`
		Store            string   `yaml:"store" validate:"omitempty,oneof=memory redis"`
		StartOffline     bool     `yaml:"startOffline"`
	} `yaml:"agent"`
	Backend struct {
		Port           string `yaml:"port" validate:"required"`
		MaxUploadBytes int64  `yaml:"maxUploadBytes" validate:"gte=0"`
		SeedFile       string `yaml:"seedFile"`
	} `yaml:"backend"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db" validate:"gte=0"`
		TTL      string `yaml:"ttl"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Activity struct {
		TTL string `yaml:"ttl"`
	} `yaml:"activity"`
	Attendance struct {
		TrackHomework    bool   `yaml:"trackHomework"`
		RejectDuplicates bool   `yaml:"rejectDuplicates"`
		FlushTimeout     string `yaml:"flushTimeout"`
	} `yaml:"attendance"`
	Log struct {
		Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error off"`
	} `yaml:"log"`
	Rollbar struct {
		Token       string `yaml:"token"`
		Environment string `yaml:"environment"`
	} `yaml:"rollbar"`
	Auth struct {
		Secret   string `yaml:"secret"`
		TokenTTL string `yaml:"tokenTTL"`
	} `yaml:"auth"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	cfg := Config{}
	cfg.Agent.Port = "8081"
	cfg.Agent.BackendURL = "http://localhost:8080"
	cfg.Agent.SubmitTimeout = "30s"
	cfg.Agent.LowTimeThreshold = 60
	cfg.Agent.Store = "memory"
	cfg.Backend.Port = "8080"
	cfg.Backend.MaxUploadBytes = 10 << 20
	cfg.Redis.TTL = "168h"
	cfg.Redis.Prefix = "agent:"
	cfg.Activity.TTL = "10m"
	cfg.Attendance.FlushTimeout = "15s"
	cfg.Log.Level = "info"
	cfg.Rollbar.Environment = "development"
	cfg.Auth.TokenTTL = "12h"
	return cfg
}

// Load reads YAML config from path on top of Default. A missing file is not an error.
// BACKEND_URL, JWT_SECRET, POSTGRES_URL and REDIS_ADDR override file values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse %s", path)
		}
	case !os.IsNotExist(err):
		return cfg, errors.Wrapf(err, "read %s", path)
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BACKEND_URL"); v != "" {
		c.Agent.BackendURL = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.Secret = v
	}
	if v := os.Getenv("POSTGRES_URL"); v != "" {
		c.Postgres.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
}

// Validate checks required fields and cross-field rules.
func (c Config) Validate() error {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
	})
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return errors.Errorf("config: %s failed %q", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag())
		}
		return errors.Wrap(err, "config")
	}
	if c.Agent.Store == "redis" && c.Redis.Addr == "" {
		return errors.New("config: agent.store is redis but redis.addr is empty")
	}
	for _, raw := range []string{c.Agent.SubmitTimeout, c.Redis.TTL, c.Activity.TTL, c.Attendance.FlushTimeout, c.Auth.TokenTTL} {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return errors.Wrapf(err, "config: duration %q", raw)
		}
	}
	return nil
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
