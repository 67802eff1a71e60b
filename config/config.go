// Package config loads the server configuration from defaults, an optional
// YAML file, .env files, environment variables and command-line flags.
//
// Precedence, highest first: flags bound to the viper instance, HELLO_*
// environment variables (including ones loaded from .env), the config file,
// then defaults.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix is prepended to every environment variable, so "max-body-bytes"
// is read from HELLO_MAX_BODY_BYTES.
const EnvPrefix = "HELLO"

// Keys understood by Load.
const (
	KeyHost            = "host"
	KeyPort            = "port"
	KeyLogLevel        = "log-level"
	KeyLogFormat       = "log-format"
	KeyMetricsAddr     = "metrics-addr"
	KeyMaxBodyBytes    = "max-body-bytes"
	KeyReadTimeout     = "read-timeout"
	KeyWriteTimeout    = "write-timeout"
	KeyIdleTimeout     = "idle-timeout"
	KeyShutdownTimeout = "shutdown-timeout"
)

// Config holds the server configuration.
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`

	// MetricsAddr is the listen address of the Prometheus endpoint. Empty
	// disables it.
	MetricsAddr string `mapstructure:"metrics-addr"`

	MaxBodyBytes int64 `mapstructure:"max-body-bytes"`

	ReadTimeout     time.Duration `mapstructure:"read-timeout"`
	WriteTimeout    time.Duration `mapstructure:"write-timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle-timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout"`
}

// Default returns the built-in configuration: loopback, port 8080.
func Default() *Config {
	return &Config{
		Host:            "127.0.0.1",
		Port:            8080,
		LogLevel:        "info",
		LogFormat:       "console",
		MaxBodyBytes:    16 * 1024,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// SetDefaults registers every key with v. Keys must be known to viper for
// AutomaticEnv to apply during Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyHost, d.Host)
	v.SetDefault(KeyPort, d.Port)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyLogFormat, d.LogFormat)
	v.SetDefault(KeyMetricsAddr, d.MetricsAddr)
	v.SetDefault(KeyMaxBodyBytes, d.MaxBodyBytes)
	v.SetDefault(KeyReadTimeout, d.ReadTimeout)
	v.SetDefault(KeyWriteTimeout, d.WriteTimeout)
	v.SetDefault(KeyIdleTimeout, d.IdleTimeout)
	v.SetDefault(KeyShutdownTimeout, d.ShutdownTimeout)
}

// Load reads the configuration into a Config and validates it.
//
// cfgFile names an explicit config file, which must exist. When empty, a
// hello.yaml in the working directory is used if present. envFiles are
// loaded with godotenv before the environment is consulted; when none are
// given, ./.env is loaded if it exists. Variables already set in the process
// environment win over .env values.
func Load(v *viper.Viper, cfgFile string, envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	} else {
		v.SetConfigName("hello")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("host must not be empty"))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range 0-65535", c.Port))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log-level: %w", err))
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log-format %q: want console or json", c.LogFormat))
	}
	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			errs = append(errs, fmt.Errorf("metrics-addr: %w", err))
		}
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("max-body-bytes must be positive, got %d", c.MaxBodyBytes))
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.IdleTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown-timeout must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Addr returns the host:port the public listener binds.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
