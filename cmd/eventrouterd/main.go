// Command eventrouterd runs a client process: a local event dispatch plus
// a Router that mirrors its subscriptions onto the broker and re-injects
// events the broker delivers back.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/nimbusevents/eventcenter/internal/config"
	"github.com/nimbusevents/eventcenter/internal/eventdispatch"
	"github.com/nimbusevents/eventcenter/internal/eventrouter"
	"github.com/nimbusevents/eventcenter/internal/obs/errortracking"
	"github.com/nimbusevents/eventcenter/internal/obs/logger"
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
		Enabled:  cfg.ErrorTracking.Enabled,
		Provider: cfg.ErrorTracking.Provider,
		DSN:      cfg.ErrorTracking.DSN,
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

	callbackURL := fmt.Sprintf("http://%s:%d%s", cfg.EventRouter.CallbackHost, cfg.EventRouter.CallbackPort, eventrouter.CallbackEndpoint)
	logger.Info("event router starting, callback %s, event center %s", callbackURL, cfg.EventRouter.EventCenterURL)

	dispatchMgr := eventdispatch.NewDispatchManager()
	local := dispatchMgr.DefaultDispatch()

	var router *eventrouter.Router
	adapter := eventrouter.NewAdapter(callbackURL, cfg.EventRouter.EventCenterURL, 10*time.Second, func(channel string, event eventdispatch.Event) {
		router.OnExternalEvent(channel, event)
	})
	router = eventrouter.NewRouter(adapter, local, cfg.EventRouter.RouterChannel, cfg.EventRouter.RouterName, 10*time.Second)

	mgr := server.NewManager()
	if _, err := mgr.Add(server.Config{
		Name:            "event-router-callback",
		Host:            "",
		Port:            cfg.EventRouter.CallbackPort,
		Handler:         adapter.Handler(),
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		DrainTimeout:    cfg.Server.DrainTimeout,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
	}); err != nil {
		logger.Error("failed to add callback server: %v", err)
		os.Exit(1)
	}

	router.Start(context.Background())

	if err := mgr.ServeWithGracefulShutdown(); err != nil {
		logger.Error("event router failed: %v", err)
		os.Exit(1)
	}
}
