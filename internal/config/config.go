// Package config loads the service configuration from YAML and KAMPUS_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"kampus.org/internal/files"
	"kampus.org/internal/identity"
	"kampus.org/internal/store/redisstore"
)

// Config is the root of the configuration file.
type Config struct {
	HTTP     HTTP              `yaml:"http"`
	Database Database          `yaml:"database"`
	Redis    redisstore.Config `yaml:"redis"`
	Auth     Auth              `yaml:"auth"`
	Files    files.S3Config    `yaml:"files"`
	Sweeper  Sweeper           `yaml:"sweeper"`
	Log      Log               `yaml:"log"`
	Catalog  *identity.Catalog `yaml:"catalog"`
}

type HTTP struct {
	Addr                string        `yaml:"addr"`
	ReadTimeout         time.Duration `yaml:"read_timeout"`
	WriteTimeout        time.Duration `yaml:"write_timeout"`
	IdleTimeout         time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes        int64         `yaml:"max_body_bytes"`
	CORSOrigins         []string      `yaml:"cors_origins"`
	ExposeMissingAction bool          `yaml:"expose_missing_action"`
	RateLimit           RateLimit     `yaml:"rate_limit"`
	// TrustedProxies lists the addresses or CIDR ranges whose
	// X-Forwarded-For header names the client.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// ProxyPrefixes parses TrustedProxies; a bare address becomes a host prefix.
func (h HTTP) ProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(h.TrustedProxies))
	for _, spec := range h.TrustedProxies {
		spec = strings.TrimSpace(spec)
		if strings.Contains(spec, "/") {
			p, err := netip.ParsePrefix(spec)
			if err != nil {
				return nil, fmt.Errorf("http.trusted_proxies: %w", err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(spec)
		if err != nil {
			return nil, fmt.Errorf("http.trusted_proxies: %w", err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// RateLimit applies per client IP on the credential endpoints.
type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type Database struct {
	DSN string `yaml:"dsn"`
}

type Auth struct {
	SigningKey string        `yaml:"signing_key"`
	Issuer     string        `yaml:"issuer"`
	AccessTTL  time.Duration `yaml:"access_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
}

// Sweeper configures the scheduled reminder and expiry jobs. Actions is the
// action set of the system principal the jobs run as.
type Sweeper struct {
	Enabled        bool          `yaml:"enabled"`
	ReminderSpec   string        `yaml:"reminder_schedule"`
	ExpirySpec     string        `yaml:"expiry_schedule"`
	ReminderWindow time.Duration `yaml:"reminder_window"`
	Actions        []string      `yaml:"actions"`
}

type Log struct {
	Level string `yaml:"level"`
}

// Default returns a configuration usable for local development.
func Default() Config {
	return Config{
		HTTP: HTTP{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
			RateLimit:       RateLimit{RPS: 5, Burst: 10},
		},
		Auth: Auth{
			Issuer:     "kampus",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
		},
		Files: files.S3Config{MaxAttempts: 3},
		Sweeper: Sweeper{
			ReminderSpec:   "0 8 * * *",
			ExpirySpec:     "15 0 * * *",
			ReminderWindow: 30 * 24 * time.Hour,
			Actions:        SweeperActions(),
		},
		Log: Log{Level: "info"},
	}
}

// Load reads path (when non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ActionCatalog is the configured catalog or the builtin one.
func (c Config) ActionCatalog() identity.Catalog {
	if c.Catalog != nil {
		return *c.Catalog
	}
	return Builtin()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	str("KAMPUS_HTTP_ADDR", &c.HTTP.Addr)
	str("KAMPUS_PG_DSN", &c.Database.DSN)
	str("KAMPUS_REDIS_URL", &c.Redis.URL)
	str("KAMPUS_REDIS_PASSWORD", &c.Redis.Password)
	str("KAMPUS_JWT_SECRET", &c.Auth.SigningKey)
	str("KAMPUS_JWT_ISSUER", &c.Auth.Issuer)
	str("KAMPUS_S3_BUCKET", &c.Files.Bucket)
	str("KAMPUS_S3_REGION", &c.Files.Region)
	str("KAMPUS_S3_ENDPOINT", &c.Files.Endpoint)
	str("KAMPUS_S3_ACCESS_KEY", &c.Files.AccessKey)
	str("KAMPUS_S3_SECRET_KEY", &c.Files.SecretKey)
	str("KAMPUS_LOG_LEVEL", &c.Log.Level)
	if v, ok := lookup("KAMPUS_TRUSTED_PROXIES"); ok {
		c.HTTP.TrustedProxies = splitList(v)
	}

	var errList []error
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errList = append(errList, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errList = append(errList, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	dur("KAMPUS_ACCESS_TTL", &c.Auth.AccessTTL)
	dur("KAMPUS_REFRESH_TTL", &c.Auth.RefreshTTL)
	dur("KAMPUS_REMINDER_WINDOW", &c.Sweeper.ReminderWindow)
	flag("KAMPUS_EXPOSE_MISSING_ACTION", &c.HTTP.ExposeMissingAction)
	flag("KAMPUS_SWEEPER_ENABLED", &c.Sweeper.Enabled)
	flag("KAMPUS_S3_PATH_STYLE", &c.Files.UsePathStyle)
	return errors.Join(errList...)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var problems []error
	if c.HTTP.Addr == "" {
		problems = append(problems, errors.New("http.addr is required"))
	}
	if c.Auth.SigningKey == "" {
		problems = append(problems, errors.New("auth.signing_key (KAMPUS_JWT_SECRET) is required"))
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		problems = append(problems, errors.New("auth ttls must be positive"))
	} else if c.Auth.RefreshTTL < c.Auth.AccessTTL {
		problems = append(problems, errors.New("auth.refresh_ttl must not be shorter than auth.access_ttl"))
	}
	if c.HTTP.RateLimit.RPS < 0 || c.HTTP.RateLimit.Burst < 0 {
		problems = append(problems, errors.New("http.rate_limit must not be negative"))
	}
	if _, err := c.HTTP.ProxyPrefixes(); err != nil {
		problems = append(problems, err)
	}
	if c.Sweeper.ReminderWindow <= 0 {
		problems = append(problems, errors.New("sweeper.reminder_window must be positive"))
	}
	for name, spec := range map[string]string{
		"sweeper.reminder_schedule": c.Sweeper.ReminderSpec,
		"sweeper.expiry_schedule":   c.Sweeper.ExpirySpec,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			problems = append(problems, fmt.Errorf("%s: %w", name, err))
		}
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(problems...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
