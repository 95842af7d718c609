package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"obyra-pricing/internal/logging"
)

// BasePeriodLayout is the YYYY-MM layout used for the CAC base period.
const BasePeriodLayout = "2006-01"

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	CAC       CACConfig       `mapstructure:"cac"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs the exchange-rate refresh cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToSlot     bool          `mapstructure:"align_to_slot"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// ExchangeConfig covers ARS/USD rate resolution.
type ExchangeConfig struct {
	Provider         string        `mapstructure:"provider"`
	BaseCurrency     string        `mapstructure:"base_currency"`
	QuoteCurrency    string        `mapstructure:"quote_currency"`
	Sources          []string      `mapstructure:"sources"`
	DolarAPIURL      string        `mapstructure:"dolarapi_url"`
	BluelyticsURL    string        `mapstructure:"bluelytics_url"`
	FreshnessMinutes int           `mapstructure:"freshness_minutes"`
	FallbackRate     float64       `mapstructure:"fallback_rate"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	UserAgent        string        `mapstructure:"user_agent"`
}

// CACConfig covers construction-cost index resolution.
type CACConfig struct {
	BaseValue      float64       `mapstructure:"base_value"`
	BasePeriod     string        `mapstructure:"base_period"`
	ProviderURL    string        `mapstructure:"provider_url"`
	ValuePattern   string        `mapstructure:"value_pattern"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	FallbackTTL    time.Duration `mapstructure:"fallback_ttl"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RefreshCron    string        `mapstructure:"refresh_cron"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// PricingConfig tunes the stage pricing engine.
type PricingConfig struct {
	CacheSize       int           `mapstructure:"cache_size"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	DefaultTier     string        `mapstructure:"default_tier"`
	DefaultCurrency string        `mapstructure:"default_currency"`
}

// AlertingConfig defines degraded reference-data notifications.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram delivery parameters.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("OBYRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "obyra-pricing")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.align_to_slot", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6f627972))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("exchange.provider", "oficial")
	v.SetDefault("exchange.base_currency", "ARS")
	v.SetDefault("exchange.quote_currency", "USD")
	v.SetDefault("exchange.sources", []string{"dolarapi", "bluelytics"})
	v.SetDefault("exchange.dolarapi_url", "https://dolarapi.com/v1/dolares/oficial")
	v.SetDefault("exchange.bluelytics_url", "https://api.bluelytics.com.ar/v2/latest")
	v.SetDefault("exchange.freshness_minutes", 60)
	v.SetDefault("exchange.fallback_rate", 0.0)
	v.SetDefault("exchange.request_timeout", "5s")
	v.SetDefault("exchange.user_agent", "obyra-pricing/1.0")

	v.SetDefault("cac.base_value", 10000.0)
	v.SetDefault("cac.base_period", "2024-01")
	v.SetDefault("cac.provider_url", "")
	v.SetDefault("cac.value_pattern", `(?i)nivel\s+general[^0-9]{0,40}([0-9][0-9.]*,[0-9]+)`)
	v.SetDefault("cac.cache_ttl", "1h")
	v.SetDefault("cac.fallback_ttl", "5m")
	v.SetDefault("cac.request_timeout", "5s")
	v.SetDefault("cac.refresh_cron", "0 6 * * *")
	v.SetDefault("cac.user_agent", "obyra-pricing/1.0")

	v.SetDefault("pricing.cache_size", 512)
	v.SetDefault("pricing.cache_ttl", "6h")
	v.SetDefault("pricing.default_tier", "standard")
	v.SetDefault("pricing.default_currency", "ARS")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("export.max_data_points", 5000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Exchange.Provider == "" {
		return fmt.Errorf("exchange.provider must be configured")
	}
	if c.Exchange.FreshnessMinutes <= 0 {
		return fmt.Errorf("exchange.freshness_minutes must be greater than zero")
	}
	if c.Exchange.FallbackRate < 0 {
		return fmt.Errorf("exchange.fallback_rate cannot be negative")
	}
	if len(c.Exchange.Sources) == 0 {
		return fmt.Errorf("exchange.sources must list at least one provider")
	}
	if c.CAC.BaseValue <= 0 {
		return fmt.Errorf("cac.base_value must be greater than zero")
	}
	if _, err := c.CAC.BasePeriodDate(); err != nil {
		return err
	}
	if c.CAC.CacheTTL <= 0 {
		return fmt.Errorf("cac.cache_ttl must be greater than zero")
	}
	if c.Pricing.CacheSize <= 0 {
		return fmt.Errorf("pricing.cache_size must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be configured")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be configured")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// Freshness converts the configured freshness window into a duration.
func (e ExchangeConfig) Freshness() time.Duration {
	return time.Duration(e.FreshnessMinutes) * time.Minute
}

// Fallback returns the configured fallback rate, or nil when none is set.
func (e ExchangeConfig) Fallback() *decimal.Decimal {
	if e.FallbackRate <= 0 {
		return nil
	}
	rate := decimal.NewFromFloat(e.FallbackRate)
	return &rate
}

// BasePeriodDate parses the base period into the first day of that month (UTC).
func (c CACConfig) BasePeriodDate() (time.Time, error) {
	period, err := time.Parse(BasePeriodLayout, c.BasePeriod)
	if err != nil {
		return time.Time{}, fmt.Errorf("cac.base_period must use YYYY-MM: %w", err)
	}
	return period.UTC(), nil
}

// BaseValueDecimal returns the CAC base value as a decimal.
func (c CACConfig) BaseValueDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.BaseValue)
}
