package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HerbHall/tagwatch/internal/cloud"
	"github.com/HerbHall/tagwatch/internal/config"
	"github.com/HerbHall/tagwatch/internal/device"
	"github.com/HerbHall/tagwatch/internal/device/gateway"
	"github.com/HerbHall/tagwatch/internal/device/sim"
	"github.com/HerbHall/tagwatch/internal/event"
	"github.com/HerbHall/tagwatch/internal/live"
	"github.com/HerbHall/tagwatch/internal/registry"
	"github.com/HerbHall/tagwatch/internal/server"
	"github.com/HerbHall/tagwatch/internal/telemetry"
	"github.com/HerbHall/tagwatch/internal/version"
	"github.com/HerbHall/tagwatch/pkg/plugin"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Println(version.Info())
		return
	}

	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration (before logger, so log level/format can be configured).
	viperCfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := config.New(viperCfg)

	logger, err := config.NewLogger(viperCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("tagwatch starting", zap.String("version", version.Short()))

	if f := viperCfg.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded",
			zap.String("component", "config"),
			zap.String("source", f),
		)
	} else {
		logger.Warn("no configuration file found, using defaults",
			zap.String("component", "config"),
		)
	}

	bus := event.NewBus(logger.Named("event"))

	engine := telemetry.NewEngine(bus, logger.Named("telemetry"),
		telemetry.WithThreshold(viperCfg.GetFloat64("telemetry.threshold")),
		telemetry.WithVersioner(telemetry.Versioner{
			Version: viperCfg.GetString("telemetry.data_version"),
			Now:     time.Now,
		}),
	)
	logger.Info("telemetry engine created",
		zap.String("component", "telemetry"),
		zap.Float64("threshold", engine.Threshold()),
	)

	reg := registry.New(logger.Named("registry"))

	liveModule := live.New(engine)
	deviceModule := device.New(engine, map[string]device.DriverFactory{
		"sim":     sim.Factory,
		"gateway": gateway.Factory,
	})

	// Register all modules (compile-time composition)
	modules := []plugin.Plugin{
		cloud.New(),
		liveModule,
		deviceModule,
	}
	for _, m := range modules {
		if err := reg.Register(m); err != nil {
			logger.Fatal("failed to register module", zap.Error(err))
		}
	}

	if err := reg.Validate(); err != nil {
		logger.Fatal("module validation failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := reg.InitAll(ctx, func(name string) plugin.Dependencies {
		return plugin.Dependencies{
			Config: cfg.Sub("plugins." + name),
			Logger: logger.Named(name),
			Bus:    bus,
		}
	}); err != nil {
		logger.Fatal("failed to initialize modules", zap.Error(err))
	}

	if err := reg.StartAll(ctx); err != nil {
		logger.Fatal("failed to start modules", zap.Error(err))
	}

	srvCfg := server.ConfigFrom(viperCfg)
	readyCheck := server.ReadinessChecker(deviceModule.Ready)

	var extraRoutes []server.SimpleRouteRegistrar
	if !reg.IsDisabled(liveModule.Info().Name) {
		extraRoutes = append(extraRoutes, liveModule)
	}
	srv := server.New(srvCfg.Addr(), reg, engine, logger.Named("server"), readyCheck, extraRoutes...)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	logger.Info("tagwatch ready", zap.String("addr", srvCfg.Addr()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), srvCfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	reg.StopAll(shutdownCtx)

	logger.Info("tagwatch stopped")
}
