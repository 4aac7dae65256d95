package config

import (
	"bytes"
	_ "embed"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	HTTP          HTTPConfig          `mapstructure:"http"`
	MySQL         DatabaseConfig      `mapstructure:"mysql"`
	ClickHouse    DatabaseConfig      `mapstructure:"clickhouse"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	WhatsApp      ChannelConfig       `mapstructure:"whatsapp"`
	SMS           ChannelConfig       `mapstructure:"sms"`
	AutoResponder AutoResponderConfig `mapstructure:"auto_responder"`
	BusinessHours BusinessHoursConfig `mapstructure:"business_hours"`
	Retention     RetentionConfig     `mapstructure:"retention"`
	Outbox        OutboxConfig        `mapstructure:"outbox"`
	LogLevel      string              `mapstructure:"log_level"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	EventsTopic  string        `mapstructure:"events_topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// RateLimitConfig is the per-tenant HTTP API limit (Redis fixed window),
// not the per-channel provider budget below.
type RateLimitConfig struct {
	RPS   int `mapstructure:"rps"`
	Burst int `mapstructure:"burst"`
}

// ChannelConfig tunes one dispatcher instance. Every channel gets its own
// token bucket sized to its provider's limits.
type ChannelConfig struct {
	Enabled        bool           `mapstructure:"enabled"`
	DrainInterval  time.Duration  `mapstructure:"drain_interval"`
	BatchSize      int            `mapstructure:"batch_size"`
	RatePerWindow  int            `mapstructure:"rate_per_window"`
	RateWindow     time.Duration  `mapstructure:"rate_window"`
	BaseRetryDelay time.Duration  `mapstructure:"base_retry_delay"`
	MaxRetries     int            `mapstructure:"max_retries"`
	SendTimeout    time.Duration  `mapstructure:"send_timeout"`
	StuckAfter     time.Duration  `mapstructure:"stuck_after"`
	Provider       ProviderConfig `mapstructure:"provider"`
}

type ProviderConfig struct {
	Name          string        `mapstructure:"name"`
	BaseURL       string        `mapstructure:"base_url"`
	Token         string        `mapstructure:"token"`
	PhoneNumberID string        `mapstructure:"phone_number_id"` // WhatsApp only
	Breaker       BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	FailThreshold int           `mapstructure:"fail_threshold"`
	OpenFor       time.Duration `mapstructure:"open_for"`
}

type AutoResponderConfig struct {
	FirstContactWindow time.Duration `mapstructure:"first_contact_window"`
}

type BusinessHoursConfig struct {
	Timezone  string `mapstructure:"timezone"`
	StartHour int    `mapstructure:"start_hour"`
	EndHour   int    `mapstructure:"end_hour"`
	Weekdays  bool   `mapstructure:"weekdays_only"`
}

type RetentionConfig struct {
	MaxAge        time.Duration `mapstructure:"max_age"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type OutboxConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

// Channel returns the config for the named channel.
func (c Config) Channel(name string) ChannelConfig {
	if name == "sms" {
		return c.SMS
	}
	return c.WhatsApp
}

// Load reads embedded defaults, merges user YAML (if provided), and applies
// env overrides (MSGENGINE_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (MSGENGINE_*)
	v.SetEnvPrefix("MSGENGINE")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
