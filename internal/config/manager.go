package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Manager handles configuration loading from a YAML file layered under
// environment variables.
type Manager struct {
	v *viper.Viper
}

// NewManager creates a configuration manager with defaults already set.
func NewManager() *Manager {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/eventcenter")
	v.AddConfigPath("$HOME/.eventcenter")

	v.SetEnvPrefix("EVENTCENTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	return &Manager{v: v}
}

type Option func(*Manager)

func WithConfigFile(path string) Option {
	return func(m *Manager) { m.v.SetConfigFile(path) }
}

func WithConfigPath(path string) Option {
	return func(m *Manager) { m.v.AddConfigPath(path) }
}

func NewManagerWithOptions(opts ...Option) *Manager {
	m := NewManager()
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load reads the config file if present; a missing file is not an error.
func (m *Manager) Load() error {
	if err := m.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

func (m *Manager) GetConfig() (*Config, error) {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func (m *Manager) Get(key string) interface{}  { return m.v.Get(key) }
func (m *Manager) GetString(key string) string { return m.v.GetString(key) }
func (m *Manager) GetInt(key string) int       { return m.v.GetInt(key) }
func (m *Manager) GetBool(key string) bool     { return m.v.GetBool(key) }
func (m *Manager) Set(key string, value interface{}) { m.v.Set(key, value) }

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":6000")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.drain_timeout", "25s")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.idle_timeout", "120s")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "eventcenter")
	v.SetDefault("tracing.service_version", "1.0.0")
	v.SetDefault("tracing.endpoint", "")

	v.SetDefault("logger.dev", false)
	v.SetDefault("logger.path", "")

	v.SetDefault("error_tracking.enabled", false)
	v.SetDefault("error_tracking.provider", "noop")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.provider", "prometheus")
	v.SetDefault("metrics.namespace", "eventcenter")

	v.SetDefault("middleware.rate_limit_rps", 50.0)
	v.SetDefault("middleware.rate_limit_burst", 100)

	v.SetDefault("event_center.port", 6000)
	v.SetDefault("event_center.registrants_file_path", "server/registrants.json")
	v.SetDefault("event_center.client_callback_timeout_sec", 10)

	v.SetDefault("event_router.event_center_url", "http://localhost:6000")
	v.SetDefault("event_router.event_center_callback_host", "localhost")
	v.SetDefault("event_router.event_center_callback_port", 7000)
	v.SetDefault("event_router.router_name", "")
	v.SetDefault("event_router.router_channel", "")
}
