package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"departures.sydneytransit.org/internal/appconf"
	"departures.sydneytransit.org/internal/clock"
	"departures.sydneytransit.org/internal/departures"
	"departures.sydneytransit.org/internal/logging"
	"departures.sydneytransit.org/internal/metrics"
	"departures.sydneytransit.org/scheddb"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	stopID := flag.String("stop", "", "GTFS stop id to watch")
	flag.Parse()

	cfg, err := appconf.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *stopID == "" {
		return fmt.Errorf("-stop is required")
	}

	logging.LogOperation(logger, "starting_departures_engine",
		slog.String("env", cfg.Env.String()),
		slog.String("dataset", cfg.DatasetPath),
		slog.String("stop_id", *stopID))

	m := metrics.NewWithLogger(logger)

	db, err := scheddb.NewClient(scheddb.NewConfig(cfg.DatasetPath, cfg.Env, cfg.Verbose))
	if err != nil {
		return fmt.Errorf("opening schedule database: %w", err)
	}
	defer logging.SafeCloseWithLogging(db, logger, "schedule_db")

	if cfg.Verbose {
		dump, err := db.DebugDump(context.Background())
		if err != nil {
			logging.LogError(logger, "schedule db dump failed", err)
		} else {
			fmt.Print(dump)
		}
	}

	clk := clock.RealClock{}
	resolver, err := departures.NewStaticScheduleResolver(db, clk, m)
	if err != nil {
		return err
	}

	gateway := departures.NewHTTPGateway(cfg.APIBaseURL, clk, resolver.Timezone(), m)
	arbiter := departures.NewArbiter(gateway, resolver, m)

	window := departures.NewWindow(arbiter, m, func(snap departures.Snapshot) {
		printSnapshot(snap)
	})

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logging.LogError(logger, "metrics listener failed", err)
			}
		}()
	}

	ctx := logging.WithLogger(context.Background(), logger)
	if err := window.Start(ctx, *stopID); err != nil {
		logging.LogError(logger, "initial load failed, continuing with refresh loop", err)
	}
	defer window.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logging.LogOperation(logger, "shutting_down")
	return nil
}

func printSnapshot(snap departures.Snapshot) {
	if snap.IsLoading {
		fmt.Println("loading...")
		return
	}
	if snap.ErrorMessage != "" {
		fmt.Printf("error: %s\n", snap.ErrorMessage)
		return
	}
	source := "live"
	if snap.IsOffline {
		source = "offline schedule"
	}
	fmt.Printf("-- %d departures (%s) --\n", len(snap.Departures), source)
	for _, dep := range snap.Departures {
		line := fmt.Sprintf("%7s  %-6s %-28s %s",
			dep.MinutesUntilText(), dep.RouteShortName, dep.Headsign, dep.DepartureClock())
		if dep.Platform != "" {
			line += "  plat " + dep.Platform
		}
		if delay := dep.DelayText(); delay != "" {
			line += "  " + delay
		}
		fmt.Println(line)
	}
}
