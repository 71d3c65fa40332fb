package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/voxlate/voxlate/pkg/bridge"
	"github.com/voxlate/voxlate/pkg/config"
	"github.com/voxlate/voxlate/pkg/configutil"
	"github.com/voxlate/voxlate/pkg/control"
	"github.com/voxlate/voxlate/pkg/logging"
	"github.com/voxlate/voxlate/pkg/realtime"
	"github.com/voxlate/voxlate/pkg/runner"
	twiliotransport "github.com/voxlate/voxlate/pkg/transports/twilio"
)

func main() {
	var configPath string
	pflag.StringVar(&configPath, "config", "config.yaml", "path to the configuration file")
	pflag.Parse()

	if err := run(configPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger := logging.Init(cfg.LogLevel, cfg.LogFormat)

	var realtimeCfg realtime.Config
	if err := configutil.DecodeSettings(cfg.Endpoint.Settings, &realtimeCfg); err != nil {
		return fmt.Errorf("decode endpoint settings: %w", err)
	}
	if err := configutil.RequireString(realtimeCfg.APIKey, "endpoint.settings.api_key"); err != nil {
		return err
	}

	var twilioCfg twiliotransport.Config
	if err := configutil.DecodeSettings(cfg.Transport.Settings, &twilioCfg); err != nil {
		return fmt.Errorf("decode transport settings: %w", err)
	}
	transport := twiliotransport.New(twilioCfg)

	coordinator := bridge.NewCoordinator(bridge.Config{
		Realtime:        realtimeCfg,
		MaxSessions:     cfg.Bridge.MaxSessions,
		TeardownTimeout: time.Duration(cfg.Bridge.TeardownTimeoutMS) * time.Millisecond,
		SourceLang:      cfg.Languages.Source,
		TargetLang:      cfg.Languages.Target,
	}, transport, logging.NewComponentLogger(logger, "bridge"))

	var controlServer *control.Server
	if cfg.Control.Enabled {
		controlServer = control.NewServer(control.Config{Addr: cfg.Control.Addr}, coordinator, logging.NewComponentLogger(logger, "control"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := coordinator.Start(ctx); err != nil {
		return err
	}
	if controlServer != nil {
		if err := controlServer.Start(ctx); err != nil {
			_ = coordinator.Stop()
			return err
		}
	}

	hooks := runner.Hooks{
		OnStart: func() {
			logger.Info("voxlate_started",
				"environment", cfg.Environment,
				"transport", cfg.Transport.Provider,
				"endpoint", cfg.Endpoint.Provider,
			)
		},
		OnStop: func() {
			if controlServer != nil {
				_ = controlServer.Stop()
			}
			logger.Info("voxlate_stopped")
		},
	}
	lifecycle := runner.NewLifecycleRunner(coordinator, hooks, time.Duration(cfg.Bridge.TeardownTimeoutMS)*time.Millisecond)
	return lifecycle.Run(ctx)
}
