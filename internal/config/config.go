package config

import "time"

// Config represents the complete process configuration, loaded by Manager
// from config.yaml plus EVENTCENTER_-prefixed environment variables.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Tracing       TracingConfig       `mapstructure:"tracing"`
	Logger        LoggerConfig        `mapstructure:"logger"`
	ErrorTracking ErrorTrackingConfig `mapstructure:"error_tracking"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Middleware    MiddlewareConfig    `mapstructure:"middleware"`
	EventCenter   EventCenterConfig   `mapstructure:"event_center"`
	EventRouter   EventRouterConfig   `mapstructure:"event_router"`
}

// ServerConfig holds HTTP server lifecycle configuration, shared by the
// broker process and any client's callback listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	DrainTimeout    time.Duration `mapstructure:"drain_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
}

type TracingConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
	Endpoint       string `mapstructure:"endpoint"`
}

type LoggerConfig struct {
	Dev  bool   `mapstructure:"dev"`
	Path string `mapstructure:"path"`
}

type ErrorTrackingConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	Provider         string  `mapstructure:"provider"`
	DSN              string  `mapstructure:"dsn"`
	Environment      string  `mapstructure:"environment"`
	Release          string  `mapstructure:"release"`
	Debug            bool    `mapstructure:"debug"`
	SampleRate       float64 `mapstructure:"sample_rate"`
	TracesSampleRate float64 `mapstructure:"traces_sample_rate"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Provider  string `mapstructure:"provider"`
	Namespace string `mapstructure:"namespace"`
}

type MiddlewareConfig struct {
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// EventCenterConfig configures the broker process (spec.md §6.4).
type EventCenterConfig struct {
	Port                 int    `mapstructure:"port"`
	RegistrantsFilePath  string `mapstructure:"registrants_file_path"`
	CallbackTimeoutSec   int    `mapstructure:"client_callback_timeout_sec"`
}

// EventRouterConfig configures a client process's adapter and router
// (spec.md §6.4).
type EventRouterConfig struct {
	EventCenterURL   string `mapstructure:"event_center_url"`
	CallbackHost     string `mapstructure:"event_center_callback_host"`
	CallbackPort     int    `mapstructure:"event_center_callback_port"`
	RouterName       string `mapstructure:"router_name"`
	RouterChannel    string `mapstructure:"router_channel"`
}
