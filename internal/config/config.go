// Package config loads runtime configuration from .env, an optional YAML
// file and KPG_-prefixed environment variables, in rising precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. KPG_API_BASE.
const EnvPrefix = "KPG"

// Config holds all runtime configuration.
type Config struct {
	APIBase        string        `mapstructure:"api_base"`
	ListenAddr     string        `mapstructure:"listen_addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Policy         PolicyConfig  `mapstructure:"policy"`
	Audit          AuditConfig   `mapstructure:"audit"`
	CORS           CORSConfig    `mapstructure:"cors"`
	Logging        LoggingConfig `mapstructure:"logging"`
}

// PolicyConfig controls policy failure handling.
type PolicyConfig struct {
	// Strict degrades a failed policy check to red instead of amber.
	Strict bool `mapstructure:"strict"`
}

// AuditConfig controls audit submissions.
type AuditConfig struct {
	PreviewLen  int    `mapstructure:"preview_len"`  // code points of tokenised text in the tokenise event
	SigningKey  string `mapstructure:"signing_key"`  // hex secp256k1 key; empty disables signing
	JournalPath string `mapstructure:"journal_path"` // sqlite receipt journal; empty disables it
}

// CORSConfig lists the origins allowed to call the local API.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig selects log level and encoding.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() map[string]any {
	return map[string]any{
		"api_base":             "http://127.0.0.1:8000",
		"listen_addr":          ":8080",
		"request_timeout":      "30s",
		"policy.strict":        true,
		"audit.preview_len":    80,
		"audit.signing_key":    "",
		"audit.journal_path":   "",
		"cors.allowed_origins": []string{"*"},
		"logging.level":        "info",
		"logging.format":       "json",
	}
}

// Load reads .env (if present), then the config file at path (or kpg.yaml
// in the working directory when path is empty), then the environment.
func Load(path string) (*Config, error) {
	// Best-effort: load .env from current directory
	_ = godotenv.Load()

	v := viper.New()
	for k, val := range Defaults() {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("kpg")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.APIBase = strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIBase)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: api_base must be an http(s) URL, got %q", c.APIBase)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr is empty")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.Audit.PreviewLen <= 0 {
		return fmt.Errorf("config: audit.preview_len must be positive, got %d", c.Audit.PreviewLen)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
