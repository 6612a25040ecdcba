package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string `mapstructure:"PORT"`
	Env           string `mapstructure:"ENV"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32  `mapstructure:"DB_MIN_CONNS"`
	DefaultTenant string `mapstructure:"DEFAULT_TENANT"`

	OpenSearchURL      string `mapstructure:"OPENSEARCH_URL"`
	OpenSearchUser     string `mapstructure:"OPENSEARCH_USER"`
	OpenSearchPassword string `mapstructure:"OPENSEARCH_PASSWORD"`
	IndexPrefix        string `mapstructure:"OPENSEARCH_INDEX_PREFIX"`

	AuthSecret string `mapstructure:"AUTH_SECRET"`

	StateTTL        time.Duration `mapstructure:"SEARCH_STATE_TTL"`
	SweepInterval   time.Duration `mapstructure:"SEARCH_SWEEP_INTERVAL"`
	KeyCap          int           `mapstructure:"SEARCH_KEY_CAP"`
	DefaultPageSize int           `mapstructure:"DEFAULT_PAGE_SIZE"`
	MaxPageSize     int           `mapstructure:"MAX_PAGE_SIZE"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("OPENSEARCH_URL", "http://localhost:9200")
	v.SetDefault("OPENSEARCH_INDEX_PREFIX", "clinsearch")
	v.SetDefault("SEARCH_STATE_TTL", "3m")
	v.SetDefault("SEARCH_SWEEP_INTERVAL", "5m")
	v.SetDefault("SEARCH_KEY_CAP", 1000)
	v.SetDefault("DEFAULT_PAGE_SIZE", 50)
	v.SetDefault("MAX_PAGE_SIZE", 500)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("DEFAULT_TENANT")
	v.BindEnv("OPENSEARCH_URL")
	v.BindEnv("OPENSEARCH_USER")
	v.BindEnv("OPENSEARCH_PASSWORD")
	v.BindEnv("OPENSEARCH_INDEX_PREFIX")
	v.BindEnv("AUTH_SECRET")
	v.BindEnv("SEARCH_STATE_TTL")
	v.BindEnv("SEARCH_SWEEP_INTERVAL")
	v.BindEnv("SEARCH_KEY_CAP")
	v.BindEnv("DEFAULT_PAGE_SIZE")
	v.BindEnv("MAX_PAGE_SIZE")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// OpenSearchAddresses splits OPENSEARCH_URL into its comma-separated
// cluster addresses.
func (c *Config) OpenSearchAddresses() []string {
	var addrs []string
	for _, a := range strings.Split(c.OpenSearchURL, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

// Validate checks that the configuration is safe to run. Production
// requires a signing secret so tenant claims on bearer tokens are
// actually verified; page-size and cap settings must be coherent in
// every mode.
func (c *Config) Validate() error {
	if c.IsProduction() && c.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET is required in production")
	}
	if len(c.OpenSearchAddresses()) == 0 {
		return fmt.Errorf("OPENSEARCH_URL must name at least one address")
	}
	if c.KeyCap <= 0 {
		return fmt.Errorf("SEARCH_KEY_CAP must be positive, got %d", c.KeyCap)
	}
	if c.DefaultPageSize <= 0 {
		return fmt.Errorf("DEFAULT_PAGE_SIZE must be positive, got %d", c.DefaultPageSize)
	}
	if c.MaxPageSize < c.DefaultPageSize {
		return fmt.Errorf("MAX_PAGE_SIZE (%d) must be at least DEFAULT_PAGE_SIZE (%d)", c.MaxPageSize, c.DefaultPageSize)
	}
	if c.StateTTL <= 0 {
		return fmt.Errorf("SEARCH_STATE_TTL must be positive, got %s", c.StateTTL)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SEARCH_SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	return nil
}
