package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/dkeye/Call/internal/domain"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	Secret     string        `mapstructure:"secret"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`

	Call      CallConfig      `mapstructure:"call"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Quality   QualityConfig   `mapstructure:"quality"`
	Presence  PresenceConfig  `mapstructure:"presence"`
}

// CallConfig tunes the call lifecycle.
type CallConfig struct {
	RingTimeout     time.Duration `mapstructure:"ring_timeout"`
	StalenessWindow time.Duration `mapstructure:"staleness_window"`
}

// ReconnectConfig tunes the exponential backoff scheduler.
type ReconnectConfig struct {
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// QualityConfig tunes adaptive quality sampling.
type QualityConfig struct {
	Enabled    bool                       `mapstructure:"enabled"`
	Interval   time.Duration              `mapstructure:"interval"`
	Thresholds domain.BandwidthThresholds `mapstructure:"thresholds"`
}

// PresenceConfig tunes the local-user heartbeat.
type PresenceConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// AdaptiveQuality maps the config section onto the domain config with the
// stock ladder.
func (c QualityConfig) AdaptiveQuality() domain.AdaptiveQualityConfig {
	q := domain.DefaultAdaptiveQualityConfig()
	q.Enabled = c.Enabled
	if c.Interval > 0 {
		q.Interval = c.Interval
	}
	if c.Thresholds != (domain.BandwidthThresholds{}) {
		q.Thresholds = c.Thresholds
	}
	return q
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")

	v.SetDefault("call.ring_timeout", "30s")
	v.SetDefault("call.staleness_window", "30s")

	v.SetDefault("reconnect.base_delay", "1s")
	v.SetDefault("reconnect.multiplier", 2.0)
	v.SetDefault("reconnect.max_delay", "30s")
	v.SetDefault("reconnect.max_attempts", 5)

	v.SetDefault("quality.enabled", true)
	v.SetDefault("quality.interval", "5s")
	v.SetDefault("quality.thresholds.excellent", 2000)
	v.SetDefault("quality.thresholds.good", 1000)
	v.SetDefault("quality.thresholds.fair", 500)
	v.SetDefault("quality.thresholds.poor", 250)

	v.SetDefault("presence.heartbeat_interval", "30s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
