// Command eventcenterd runs the broker process: the registration table,
// its JSON snapshot, and the HTTP surface client routers talk to.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/nimbusevents/eventcenter/internal/config"
	"github.com/nimbusevents/eventcenter/internal/eventcenter"
	"github.com/nimbusevents/eventcenter/internal/eventdispatch"
	"github.com/nimbusevents/eventcenter/internal/middleware"
	"github.com/nimbusevents/eventcenter/internal/obs/errortracking"
	"github.com/nimbusevents/eventcenter/internal/obs/logger"
	"github.com/nimbusevents/eventcenter/internal/obs/metrics"
	"github.com/nimbusevents/eventcenter/internal/obs/tracing"
	"github.com/nimbusevents/eventcenter/internal/server"
)

func main() {
	cfgMgr := config.NewManager()
	if err := cfgMgr.Load(); err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	cfg, err := cfgMgr.GetConfig()
	if err != nil {
		log.Fatalf("failed to get configuration: %v", err)
	}

	logger.Init(cfg.Logger.Dev)
	if cfg.Logger.Path != "" {
		logger.UpdateLoggerPath(cfg.Logger.Path, cfg.Logger.Dev)
	}

	tracker, err := errortracking.NewProviderFromConfig(errortracking.Config{
		Enabled:          cfg.ErrorTracking.Enabled,
		Provider:         cfg.ErrorTracking.Provider,
		DSN:              cfg.ErrorTracking.DSN,
		Environment:      cfg.ErrorTracking.Environment,
		Release:          cfg.ErrorTracking.Release,
		Debug:            cfg.ErrorTracking.Debug,
		SampleRate:       cfg.ErrorTracking.SampleRate,
		TracesSampleRate: cfg.ErrorTracking.TracesSampleRate,
	})
	if err != nil {
		logger.Error("failed to initialize error tracking: %v", err)
		os.Exit(1)
	}
	logger.InitErrorTracking(tracker)
	defer logger.CloseErrorTracking()

	shutdownTracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Endpoint:       cfg.Tracing.Endpoint,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		logger.Error("failed to initialize tracing: %v", err)
		os.Exit(1)
	}
	defer shutdownTracer(context.Background())

	if cfg.Metrics.Enabled && cfg.Metrics.Provider != "noop" {
		metricsCfg := metrics.DefaultConfig()
		metricsCfg.Provider = cfg.Metrics.Provider
		metricsCfg.Namespace = cfg.Metrics.Namespace
		metrics.SetProvider(metrics.NewPrometheusProvider(metricsCfg))
	}

	logger.Info("event center starting on %s", cfg.Server.Addr)

	dispatchMgr := eventdispatch.NewDispatchManager()
	callbackTimeout := time.Duration(cfg.EventCenter.CallbackTimeoutSec) * time.Second
	regMgr := eventcenter.NewRegistrationManager(cfg.EventCenter.RegistrantsFilePath, callbackTimeout, dispatchMgr)
	svc := eventcenter.NewService(regMgr, dispatchMgr)

	r := mux.NewRouter()
	if cfg.Middleware.RateLimitRPS > 0 {
		r.Use(middleware.NewRateLimiter(cfg.Middleware.RateLimitRPS, cfg.Middleware.RateLimitBurst).Middleware)
	}
	r.Use(tracing.Middleware)
	svc.Routes(r)

	mgr := server.NewManager()
	svc.SetShutdownFunc(mgr.TriggerShutdown)

	host, port, err := splitAddr(cfg.Server.Addr)
	if err != nil {
		logger.Error("invalid server address %q: %v", cfg.Server.Addr, err)
		os.Exit(1)
	}
	if _, err := mgr.Add(server.Config{
		Name:            "event-center",
		Host:            host,
		Port:            port,
		Handler:         r,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		DrainTimeout:    cfg.Server.DrainTimeout,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
	}); err != nil {
		logger.Error("failed to add server: %v", err)
		os.Exit(1)
	}

	dispatchMgr.DefaultDispatch().PostEvent(eventcenter.EventCenterStarted, nil)

	if err := mgr.ServeWithGracefulShutdown(); err != nil {
		logger.Error("event center failed: %v", err)
		os.Exit(1)
	}
}

// splitAddr parses a "host:port" or ":port" listen address, matching
// cfg.Server.Addr's form in config.yaml.
func splitAddr(addr string) (string, int, error) {
	if addr == "" {
		return "", 0, nil
	}
	var port int
	if addr[0] == ':' {
		if _, err := fmt.Sscanf(addr, ":%d", &port); err != nil {
			return "", 0, err
		}
		return "", port, nil
	}
	idx := -1
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", 0, fmt.Errorf("missing port in address %q", addr)
	}
	if _, err := fmt.Sscanf(addr[idx+1:], "%d", &port); err != nil {
		return "", 0, err
	}
	return addr[:idx], port, nil
}
