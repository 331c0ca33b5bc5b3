// Package server hosts the HTTP listener lifecycle shared by the broker's
// EventCenterService and each client's EventCenterAdapter callback
// listener: bind, graceful shutdown with request draining, optional TLS
// and GZIP.
package server

import (
	"context"
	"net/http"
	"time"
)

// Config holds the configuration for a single HTTP server instance.
type Config struct {
	Name string
	Host string
	Port int

	Handler http.Handler

	GZIP bool

	SSLCert string
	SSLKey  string

	SelfSignedSSL bool

	AutoTLS         bool
	AutoTLSDomains  []string
	AutoTLSCacheDir string
	AutoTLSEmail    string

	ShutdownTimeout time.Duration
	DrainTimeout    time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
}

// Instance is a single running (or stopped) HTTP server.
type Instance interface {
	Start() error
	Stop(ctx context.Context) error
	Addr() string
	Name() string
	HealthCheckHandler() http.HandlerFunc
	ReadinessHandler() http.HandlerFunc
	InFlightRequests() int64
	IsShuttingDown() bool
	Wait()
}

// Manager owns the lifecycle of every HTTP instance in a process.
type Manager interface {
	Add(cfg Config) (Instance, error)
	Get(name string) (Instance, error)
	Remove(name string) error
	StartAll() error
	StopAll() error
	StopAllWithContext(ctx context.Context) error
	List() []Instance
	ServeWithGracefulShutdown() error
	RegisterShutdownCallback(cb ShutdownCallback)

	// TriggerShutdown requests the same graceful shutdown sequence
	// ServeWithGracefulShutdown runs on receipt of an OS signal, without
	// requiring one — e.g. from an HTTP handler that wants to stop its own
	// process. Safe to call more than once; later calls are no-ops once a
	// shutdown is already underway.
	TriggerShutdown()
}

// ShutdownCallback runs during graceful shutdown, before instances stop.
type ShutdownCallback func(context.Context) error
