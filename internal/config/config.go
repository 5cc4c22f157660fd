package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// DatabaseConfig selects the SQL backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`
}

// RedisConfig points at the shared rate limit store. An empty Addr keeps
// rate limiting in process.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AuthConfig struct {
	JWTSecret     string   `yaml:"jwt_secret"`
	TokenTTLHours int      `yaml:"token_ttl_hours"`
	AdminUserIDs  []string `yaml:"admin_user_ids"`
}

type EntitlementConfig struct {
	ProductKey   string `yaml:"product_key"`
	TrialDays    int    `yaml:"trial_days"`
	TrialCredits int64  `yaml:"trial_credits"`
}

type WebhookConfig struct {
	MetaAppSecret   string `yaml:"meta_app_secret"`
	MetaVerifyToken string `yaml:"meta_verify_token"`
	LeadSecret      string `yaml:"lead_secret"`
	StripeSecret    string `yaml:"stripe_secret"`
}

type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

type SMTPConfig struct {
	Host          string  `yaml:"host"`
	Port          int     `yaml:"port"`
	Username      string  `yaml:"username"`
	Password      string  `yaml:"password"`
	From          string  `yaml:"from"`
	NotifyTo      string  `yaml:"notify_to"`
	RatePerSecond float64 `yaml:"rate_per_second"`
}

type LeadsConfig struct {
	DefaultCountryCode string `yaml:"default_country_code"`
	GeoIPPath          string `yaml:"geoip_path"`
	// ContactTenantID owns leads posted through the public contact form.
	ContactTenantID string `yaml:"contact_tenant_id"`
}

// RateLimitRule is a request budget per identity.
type RateLimitRule struct {
	Limit         int `yaml:"limit"`
	WindowSeconds int `yaml:"window_seconds"`
}

// Window returns the rule window as a duration.
func (r RateLimitRule) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

type RateLimitConfig struct {
	API     RateLimitRule `yaml:"api"`
	Credits RateLimitRule `yaml:"credits"`
	Contact RateLimitRule `yaml:"contact"`
	Webhook RateLimitRule `yaml:"webhook"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	ListenAddr     string   `yaml:"listen_addr"`
	DataDir        string   `yaml:"data_dir"`
	PublicURL      string   `yaml:"public_url"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	// Master secret for encrypting stored credentials. Generated and
	// persisted on first start when empty.
	SecretKey string `yaml:"secret_key"`

	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Auth        AuthConfig        `yaml:"auth"`
	Entitlement EntitlementConfig `yaml:"entitlement"`
	Webhooks    WebhookConfig     `yaml:"webhooks"`
	Google      GoogleConfig      `yaml:"google"`
	SMTP        SMTPConfig        `yaml:"smtp"`
	Leads       LeadsConfig       `yaml:"leads"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Log         LogConfig         `yaml:"log"`
}

// Load reads the YAML file at path (a missing file is fine), then a .env file
// in the working directory, then BOTZ_* and provider environment variables,
// and finally fills defaults and validates.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := strings.TrimSpace(os.Getenv(k)); v != "" {
				*dst = v
				return
			}
		}
	}
	integer := func(dst *int, key string) {
		if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil {
			*dst = v
		}
	}
	list := func(dst *[]string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = splitList(v)
		}
	}

	str(&cfg.ListenAddr, "BOTZ_LISTEN_ADDR")
	str(&cfg.DataDir, "BOTZ_DATA_DIR")
	str(&cfg.PublicURL, "BOTZ_PUBLIC_URL")
	list(&cfg.AllowedOrigins, "BOTZ_ALLOWED_ORIGINS")
	str(&cfg.SecretKey, "BOTZ_SECRET_KEY")

	str(&cfg.Database.Driver, "BOTZ_DATABASE_DRIVER")
	str(&cfg.Database.DSN, "BOTZ_DATABASE_DSN", "DATABASE_URL")

	str(&cfg.Redis.Addr, "BOTZ_REDIS_ADDR", "REDIS_ADDR")
	str(&cfg.Redis.Password, "BOTZ_REDIS_PASSWORD", "REDIS_PASSWORD")
	integer(&cfg.Redis.DB, "BOTZ_REDIS_DB")

	str(&cfg.Auth.JWTSecret, "BOTZ_JWT_SECRET")
	integer(&cfg.Auth.TokenTTLHours, "BOTZ_TOKEN_TTL_HOURS")
	list(&cfg.Auth.AdminUserIDs, "BOTZ_ADMIN_USER_IDS")

	str(&cfg.Entitlement.ProductKey, "BOTZ_PRODUCT_KEY")
	integer(&cfg.Entitlement.TrialDays, "BOTZ_TRIAL_DAYS")
	if v, err := strconv.ParseInt(os.Getenv("BOTZ_TRIAL_CREDITS"), 10, 64); err == nil {
		cfg.Entitlement.TrialCredits = v
	}

	str(&cfg.Webhooks.MetaAppSecret, "BOTZ_META_APP_SECRET", "META_APP_SECRET")
	str(&cfg.Webhooks.MetaVerifyToken, "BOTZ_META_VERIFY_TOKEN", "WHATSAPP_VERIFY_TOKEN")
	str(&cfg.Webhooks.LeadSecret, "BOTZ_LEAD_WEBHOOK_SECRET")
	str(&cfg.Webhooks.StripeSecret, "BOTZ_STRIPE_WEBHOOK_SECRET", "STRIPE_WEBHOOK_SECRET")

	str(&cfg.Google.ClientID, "BOTZ_GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_ID")
	str(&cfg.Google.ClientSecret, "BOTZ_GOOGLE_CLIENT_SECRET", "GOOGLE_CLIENT_SECRET")

	str(&cfg.SMTP.Host, "BOTZ_SMTP_HOST", "SMTP_HOST")
	integer(&cfg.SMTP.Port, "BOTZ_SMTP_PORT")
	str(&cfg.SMTP.Username, "BOTZ_SMTP_USER", "SMTP_USER")
	str(&cfg.SMTP.Password, "BOTZ_SMTP_PASSWORD", "SMTP_PASS")
	str(&cfg.SMTP.From, "BOTZ_SMTP_FROM", "SMTP_FROM")
	str(&cfg.SMTP.NotifyTo, "BOTZ_SMTP_NOTIFY_TO", "CONTACT_TO")

	str(&cfg.Leads.DefaultCountryCode, "BOTZ_DEFAULT_COUNTRY_CODE")
	str(&cfg.Leads.GeoIPPath, "BOTZ_GEOIP_PATH")
	str(&cfg.Leads.ContactTenantID, "BOTZ_CONTACT_TENANT_ID")

	str(&cfg.Log.Level, "BOTZ_LOG_LEVEL")
	str(&cfg.Log.Format, "BOTZ_LOG_FORMAT")
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.DSN == "" {
		cfg.Database.DSN = filepath.Join(cfg.DataDir, "botz.db")
	}
	if cfg.Auth.TokenTTLHours <= 0 {
		cfg.Auth.TokenTTLHours = 24
	}
	if cfg.Entitlement.ProductKey == "" {
		cfg.Entitlement.ProductKey = "agents"
	}
	if cfg.Entitlement.TrialDays <= 0 {
		cfg.Entitlement.TrialDays = 3
	}
	if cfg.Entitlement.TrialCredits <= 0 {
		cfg.Entitlement.TrialCredits = 1000
	}
	if cfg.SMTP.Port == 0 {
		cfg.SMTP.Port = 587
	}
	if cfg.SMTP.RatePerSecond <= 0 {
		cfg.SMTP.RatePerSecond = 1
	}
	if cfg.Leads.DefaultCountryCode == "" {
		cfg.Leads.DefaultCountryCode = "57"
	}
	if cfg.Leads.GeoIPPath == "" {
		cfg.Leads.GeoIPPath = filepath.Join(cfg.DataDir, "GeoLite2-City.mmdb")
	}
	if cfg.Leads.ContactTenantID == "" {
		cfg.Leads.ContactTenantID = "botz"
	}
	cfg.Leads.DefaultCountryCode = strings.TrimPrefix(cfg.Leads.DefaultCountryCode, "+")

	defaultRule(&cfg.RateLimit.API, 120, 60)
	defaultRule(&cfg.RateLimit.Credits, 30, 60)
	defaultRule(&cfg.RateLimit.Contact, 5, 600)
	defaultRule(&cfg.RateLimit.Webhook, 300, 60)

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "auto"
	}
}

func defaultRule(r *RateLimitRule, limit, windowSeconds int) {
	if r.Limit <= 0 {
		r.Limit = limit
	}
	if r.WindowSeconds <= 0 {
		r.WindowSeconds = windowSeconds
	}
}

// Validate reports the first structural problem in cfg.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn must be configured in the config file or BOTZ_DATABASE_DSN")
	}
	for _, r := range c.Leads.DefaultCountryCode {
		if r < '0' || r > '9' {
			return fmt.Errorf("leads.default_country_code must be digits, got %q", c.Leads.DefaultCountryCode)
		}
	}
	return nil
}

// TokenTTL returns the lifetime of issued bearer tokens.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLHours) * time.Hour
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
