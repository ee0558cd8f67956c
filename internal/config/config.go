// Package config loads hivemind settings from defaults, an optional YAML file and HIVEMIND_*
// environment variables, in increasing order of precedence. Command-line flags bound to the
// same viper instance win over all three.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "HIVEMIND"

type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Plugins   PluginsConfig   `mapstructure:"plugins"`
	SNMP      SNMPConfig      `mapstructure:"snmp"`
	RDNS      RDNSConfig      `mapstructure:"rdns"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Agent     AgentConfig     `mapstructure:"agent"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type PluginsConfig struct {
	// File is an optional YAML file of characteristics-backed plugin definitions.
	File string `mapstructure:"file"`
}

type SNMPConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Community string        `mapstructure:"community"`
	Port      uint16        `mapstructure:"port"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type RDNSConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Server  string        `mapstructure:"server"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// Topic is the subscription filter; results go to "<topic of the report>/result".
	Topic string `mapstructure:"topic"`
	QoS   byte   `mapstructure:"qos"`
}

type AgentConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	ARPPath  string        `mapstructure:"arp_path"`
	Interval time.Duration `mapstructure:"interval"`
	// Scope is an optional CIDR; neighbours outside it are not registered.
	Scope string `mapstructure:"scope"`
}

// ScopePrefix parses Scope. An empty scope returns nil.
func (c AgentConfig) ScopePrefix() (*netip.Prefix, error) {
	raw := strings.TrimSpace(c.Scope)
	if raw == "" {
		return nil, nil
	}
	p, err := netip.ParsePrefix(raw)
	if err != nil {
		return nil, fmt.Errorf("agent.scope: %w", err)
	}
	return &p, nil
}

type RateLimitConfig struct {
	// RPS of zero disables the limiter.
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// New returns a viper instance with defaults and environment binding in place.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8081")
	v.SetDefault("log.level", "info")
	v.SetDefault("database.url", "")
	v.SetDefault("plugins.file", "")

	v.SetDefault("snmp.enabled", false)
	v.SetDefault("snmp.community", "public")
	v.SetDefault("snmp.port", 161)
	v.SetDefault("snmp.timeout", "900ms")

	v.SetDefault("rdns.enabled", false)
	v.SetDefault("rdns.server", "")
	v.SetDefault("rdns.timeout", "500ms")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "hivemind-core")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic", "hivemind/register/+")
	v.SetDefault("mqtt.qos", 1)

	v.SetDefault("agent.enabled", false)
	v.SetDefault("agent.arp_path", "/proc/net/arp")
	v.SetDefault("agent.interval", "60s")
	v.SetDefault("agent.scope", "")

	v.SetDefault("ratelimit.rps", 20)
	v.SetDefault("ratelimit.burst", 40)
}

// Load reads the optional config file into v and decodes the merged settings.
func Load(v *viper.Viper, file string) (Config, error) {
	if file = strings.TrimSpace(file); file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.MQTT.Enabled && strings.TrimSpace(c.MQTT.Broker) == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}
	if c.MQTT.Enabled && strings.TrimSpace(c.MQTT.Topic) == "" {
		errs = append(errs, errors.New("mqtt.topic is required when mqtt is enabled"))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	if c.Agent.Enabled && c.Agent.Interval <= 0 {
		errs = append(errs, errors.New("agent.interval must be positive"))
	}
	if _, err := c.Agent.ScopePrefix(); err != nil {
		errs = append(errs, err)
	}
	if c.RateLimit.RPS < 0 {
		errs = append(errs, errors.New("ratelimit.rps must not be negative"))
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst < 1 {
		errs = append(errs, errors.New("ratelimit.burst must be at least 1"))
	}
	return errors.Join(errs...)
}
