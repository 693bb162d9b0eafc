// Package config loads the relay configuration from an optional config.yaml
// plus RELAY_-prefixed environment overrides, with workable defaults for
// every key.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration. Durations are expressed in the
// unit of their suffix (Sec/Min) so the yaml stays plain integers.
type Config struct {
	ListenAddr     string   `mapstructure:"listenAddr"`
	AllowedOrigins []string `mapstructure:"allowedOrigins"`

	MaxMessageSize  int64 `mapstructure:"maxMessageSize"`
	ReadBufferSize  int   `mapstructure:"readBufferSize"`
	WriteBufferSize int   `mapstructure:"writeBufferSize"`
	SendQueueSize   int   `mapstructure:"sendQueueSize"`
	WriteWaitSec    int   `mapstructure:"writeWaitSec"`
	PongWaitSec     int   `mapstructure:"pongWaitSec"`

	RateLimitBurst     int `mapstructure:"rateLimitBurst"`
	RateLimitRefillSec int `mapstructure:"rateLimitRefillSec"`

	IdleBudgetMin    int `mapstructure:"idleBudgetMin"`
	IdleHardCapMin   int `mapstructure:"idleHardCapMin"`
	HostExtensionMin int `mapstructure:"hostExtensionMin"`
	GreetingDelaySec int `mapstructure:"greetingDelaySec"`

	ShutdownTimeoutSec int `mapstructure:"shutdownTimeoutSec"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listenAddr", ":8080")
	v.SetDefault("allowedOrigins", []string{"*"})
	v.SetDefault("maxMessageSize", 64*1024)
	v.SetDefault("readBufferSize", 1024)
	v.SetDefault("writeBufferSize", 1024)
	v.SetDefault("sendQueueSize", 256)
	v.SetDefault("writeWaitSec", 10)
	v.SetDefault("pongWaitSec", 60)
	v.SetDefault("rateLimitBurst", 40)
	v.SetDefault("rateLimitRefillSec", 1)
	v.SetDefault("idleBudgetMin", 40)
	v.SetDefault("idleHardCapMin", 180)
	v.SetDefault("hostExtensionMin", 5)
	v.SetDefault("greetingDelaySec", 5)
	v.SetDefault("shutdownTimeoutSec", 10)
}

// Load reads config.yaml from path (when given) and applies environment
// overrides such as RELAY_LISTENADDR. A missing config file is not an error;
// defaults cover every key.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("RELAY")
	v.AutomaticEnv()

	if path != "" {
		v.AddConfigPath(path)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.sanitize()
	return &cfg, nil
}

// sanitize clamps nonsensical values back to the defaults.
func (c *Config) sanitize() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.WriteWaitSec <= 0 {
		c.WriteWaitSec = 10
	}
	if c.PongWaitSec <= 0 {
		c.PongWaitSec = 60
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 40
	}
	if c.RateLimitRefillSec <= 0 {
		c.RateLimitRefillSec = 1
	}
	if c.IdleBudgetMin <= 0 {
		c.IdleBudgetMin = 40
	}
	if c.IdleHardCapMin < c.IdleBudgetMin {
		c.IdleHardCapMin = 180
	}
	if c.HostExtensionMin <= 0 {
		c.HostExtensionMin = 5
	}
	if c.GreetingDelaySec <= 0 {
		c.GreetingDelaySec = 5
	}
	if c.ShutdownTimeoutSec <= 0 {
		c.ShutdownTimeoutSec = 10
	}
}

func (c *Config) WriteWait() time.Duration       { return time.Duration(c.WriteWaitSec) * time.Second }
func (c *Config) PongWait() time.Duration        { return time.Duration(c.PongWaitSec) * time.Second }
func (c *Config) RateLimitRefill() time.Duration { return time.Duration(c.RateLimitRefillSec) * time.Second }
func (c *Config) IdleBudget() time.Duration      { return time.Duration(c.IdleBudgetMin) * time.Minute }
func (c *Config) IdleHardCap() time.Duration     { return time.Duration(c.IdleHardCapMin) * time.Minute }
func (c *Config) HostExtension() time.Duration   { return time.Duration(c.HostExtensionMin) * time.Minute }
func (c *Config) GreetingDelay() time.Duration   { return time.Duration(c.GreetingDelaySec) * time.Second }
func (c *Config) ShutdownTimeout() time.Duration { return time.Duration(c.ShutdownTimeoutSec) * time.Second }
