package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/theoremus-urban-solutions/departures/config"
	"github.com/theoremus-urban-solutions/departures/engine"
	"github.com/theoremus-urban-solutions/departures/internal"
	"github.com/theoremus-urban-solutions/departures/server"
)

func main() {
	mode := flag.String("mode", "serve", "serve|oneshot")
	configPath := flag.String("config", "", "config file (defaults to config.yml, ./config/config.yml)")
	routeID := flag.String("route", "", "route id for oneshot mode")
	best := flag.Bool("best", false, "oneshot: print only the best journey")
	flag.Parse()

	if err := run(*mode, *configPath, *routeID, *best); err != nil {
		fmt.Fprintln(os.Stderr, "departured:", err)
		os.Exit(1)
	}
}

func run(mode, configPath, routeID string, best bool) error {
	paths := config.DefaultPaths
	if configPath != "" {
		paths = []string{configPath}
	}
	cfg, err := config.LoadAppConfig(paths...)
	if err != nil {
		return err
	}

	switch mode {
	case "oneshot":
		// stdout carries the result
		logger, err := internal.NewLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
		if err != nil {
			return err
		}
		return oneshot(cfg, logger, routeID, best)
	case "serve":
		logger, err := internal.InitLogging(cfg.Logging.Level, cfg.Logging.Format)
		if err != nil {
			return err
		}
		return serve(cfg, logger)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

func oneshot(cfg *config.AppConfig, logger *slog.Logger, routeID string, best bool) error {
	if routeID == "" {
		return fmt.Errorf("-route is required in oneshot mode")
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := engine.New(ctx, cfg, engine.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	var out any
	if best {
		j, ok, err := e.Best(ctx, routeID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no viable journey for route %s", routeID)
		}
		out = j
	} else {
		js, err := e.FetchRoute(ctx, routeID)
		if err != nil {
			return err
		}
		out = js
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func serve(cfg *config.AppConfig, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := newWaker()
	e, err := engine.New(ctx, cfg, engine.Options{
		Logger:             logger,
		ScheduleBackground: w.schedule,
	})
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	if cfg.Background.Enabled {
		go backgroundLoop(ctx, e, cfg, w, logger)
	}

	srv := server.New(e, cfg.Server, logger)
	return srv.HandleGracefulShutdown(srv.Start())
}
