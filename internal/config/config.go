package config

import (
	"strings"

	"github.com/spf13/viper"
	"github.com/worthym330/innovate-calls/internal/core"
)

// DefaultStunServers is the fixed public STUN list used for candidate
// discovery. No TURN: NAT traversal beyond STUN is a known limitation.
var DefaultStunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

type Config struct {
	Env   core.Environment `mapstructure:"env"`
	Relay RelayConfig      `mapstructure:"relay"`
	RTC   RTCConfig        `mapstructure:"rtc"`
}

type RelayConfig struct {
	Address string `mapstructure:"address"`
	// Bus selects message fan-out: "memory", "redis" or "nats".
	Bus           string `mapstructure:"bus"`
	RedisAddr     string `mapstructure:"redis_addr"`
	NatsAddr      string `mapstructure:"nats_addr"`
	DatabaseURL   string `mapstructure:"database_url"`
	SessionSecret string `mapstructure:"session_secret"`
}

type RTCConfig struct {
	StunServers []string `mapstructure:"stun_servers"`
}

// Load reads configuration from the given file (optional) with
// INNOVATE_CALLS_* environment overrides on top of defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("env", string(core.DevelopmentEnv))
	v.SetDefault("relay.address", ":8090")
	v.SetDefault("relay.bus", "memory")
	v.SetDefault("relay.redis_addr", "localhost:6379")
	v.SetDefault("relay.nats_addr", "nats://localhost:4222")
	v.SetDefault("relay.session_secret", "dev-only-secret")
	v.SetDefault("rtc.stun_servers", DefaultStunServers)

	v.SetEnvPrefix("INNOVATE_CALLS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
