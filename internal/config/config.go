package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	Port        string `mapstructure:"port"`
	DatabaseURL string `mapstructure:"db_dsn"`
	StoreDriver string `mapstructure:"store_driver"`
	Timezone    string `mapstructure:"timezone"`
	PhoneRegion string `mapstructure:"phone_region"`

	PrintTimeoutSeconds int    `mapstructure:"print_timeout_seconds"`
	SlipPrinter         string `mapstructure:"slip_printer"`
	SlipPrinterAddr     string `mapstructure:"slip_printer_addr"`
	SlipPrinterURL      string `mapstructure:"slip_printer_url"`
	LabelPrinter        string `mapstructure:"label_printer"`
	LabelPrinterAddr    string `mapstructure:"label_printer_addr"`
	LabelPrinterURL     string `mapstructure:"label_printer_url"`
	PrinterWebhookToken string `mapstructure:"printer_webhook_token"`

	RateLimitPerMinute int `mapstructure:"rate_limit_per_min"`
	RateLimitBurst     int `mapstructure:"rate_limit_burst"`

	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
	LogMaxAgeDays int    `mapstructure:"log_max_age_days"`

	OTLPEndpoint string `mapstructure:"otel_exporter_otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otel_exporter_otlp_insecure"`
}

var defaults = map[string]interface{}{
	"port":                        "8080",
	"db_dsn":                      "",
	"store_driver":                StoreDriverPostgres,
	"timezone":                    "UTC",
	"phone_region":                "BR",
	"print_timeout_seconds":       5,
	"slip_printer":                "log",
	"slip_printer_addr":           "",
	"slip_printer_url":            "",
	"label_printer":               "log",
	"label_printer_addr":          "",
	"label_printer_url":           "",
	"printer_webhook_token":       "",
	"rate_limit_per_min":          120,
	"rate_limit_burst":            30,
	"log_level":                   "info",
	"log_format":                  "json",
	"log_file":                    "",
	"log_max_size_mb":             50,
	"log_max_backups":             5,
	"log_max_age_days":            28,
	"otel_exporter_otlp_endpoint": "",
	"otel_exporter_otlp_insecure": false,
}

// Load reads defaults, then the optional YAML file at path, then the
// environment. Environment variables use the upper-case key, e.g. DB_DSN.
// A missing file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverMemory:
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DB_DSN is required for the postgres store")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %s or %s, got %q", StoreDriverPostgres, StoreDriverMemory, c.StoreDriver)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.PrintTimeoutSeconds <= 0 {
		return errors.New("PRINT_TIMEOUT_SECONDS must be positive")
	}
	return nil
}

func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c Config) PrintTimeout() time.Duration {
	if c.PrintTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.PrintTimeoutSeconds) * time.Second
}
