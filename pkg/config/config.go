// Package config loads the application configuration file and applies
// defaults, environment expansion and validation. Vendor-specific settings
// stay as free-form maps; each component decodes its own block.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	LogFormat   string          `mapstructure:"log_format"`
	Endpoint    VendorConfig    `mapstructure:"endpoint"`
	Transport   TransportConfig `mapstructure:"transport"`
	Bridge      BridgeConfig    `mapstructure:"bridge"`
	Control     ControlConfig   `mapstructure:"control"`
	Languages   LanguageConfig  `mapstructure:"languages"`
}

// VendorConfig names a translation endpoint provider and carries its
// free-form settings block.
type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type TransportConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type BridgeConfig struct {
	MaxSessions       int `mapstructure:"max_sessions"`
	TeardownTimeoutMS int `mapstructure:"teardown_timeout_ms"`
	QueueCapacity     int `mapstructure:"queue_capacity"`
}

type ControlConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LanguageConfig holds the default call languages; a control-plane start
// request may override them per call.
type LanguageConfig struct {
	Source string `mapstructure:"source"`
	Target string `mapstructure:"target"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("endpoint.provider", "openai")
	v.SetDefault("transport.provider", "twilio")
	v.SetDefault("bridge.max_sessions", 32)
	v.SetDefault("bridge.teardown_timeout_ms", 5000)
	v.SetDefault("bridge.queue_capacity", 256)
	v.SetDefault("control.enabled", true)
	v.SetDefault("control.addr", ":8081")
	v.SetDefault("languages.source", "en")
	v.SetDefault("languages.target", "es")

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Transport.Provider) == "" {
		return fmt.Errorf("transport.provider is required")
	}
	if strings.TrimSpace(c.Endpoint.Provider) == "" {
		return fmt.Errorf("endpoint.provider is required")
	}
	if c.Bridge.MaxSessions <= 0 {
		return fmt.Errorf("bridge.max_sessions must be positive")
	}
	return nil
}

// expandEnvStrings substitutes ${VAR} references so secrets can stay out of
// the config file.
func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Endpoint.Settings = expandSettings(cfg.Endpoint.Settings)
	cfg.Transport.Settings = expandSettings(cfg.Transport.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String {
			for _, key := range v.MapKeys() {
				val := v.MapIndex(key)
				expanded := os.ExpandEnv(val.String())
				v.SetMapIndex(key, reflect.ValueOf(expanded))
			}
		}
	}
}
