package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"

	"nextmeet/internal/config"
	"nextmeet/internal/coordinator"
	"nextmeet/internal/ics"
	"nextmeet/internal/lifecycle"
	appLog "nextmeet/internal/log"
	"nextmeet/internal/web"
)

const defaultConfigPath = "/etc/nextmeet/config.yaml"

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	debug      bool
}

func main() {
	// A missing .env is the normal case.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		appLog.Error("failed to load .env", err)
	}

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv(os.Getenv)
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.debug {
		conf.LogLevel = "debug"
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	loc, _ := conf.Location()

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", loc.String(),
		"refresh_interval", conf.RefreshInterval,
		"auto_refresh", conf.AutoRefresh,
		"sleep_detection", conf.SleepDetection,
		"calendar_count", len(conf.Calendars),
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	store := ics.NewStore(calendarSources(conf), ics.NewFetcher(conf.CacheDir), loc)

	if flags.once {
		if err := runOnce(ctx, store, loc); err != nil {
			appLog.Error("refresh failed", err)
			os.Exit(1)
		}
		return
	}

	coord, err := coordinator.New(coordinator.Options{
		Source:      store,
		Timer:       coordinator.NewCronTimer(conf.RefreshInterval),
		Location:    loc,
		AutoRefresh: conf.AutoRefresh,
		Metrics:     coordinator.NewMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		appLog.Error("failed to create coordinator", err)
		os.Exit(1)
	}

	coordDone := make(chan struct{})
	go func() {
		defer close(coordDone)
		if err := coord.Run(ctx); err != nil {
			appLog.Error("coordinator exited", err)
			cancel()
		}
	}()

	go func() {
		st, err := coord.RequestAccess(ctx)
		if err != nil {
			appLog.Error("initial access request failed", err)
			return
		}
		appLog.Info("calendar authorization", "status", st.String())
	}()

	go watchLifecycle(ctx, conf.SleepDetection, coord)

	srv := web.NewServer(conf, coord, web.Options{})
	if err := srv.ListenAndServe(ctx); err != nil {
		appLog.Error("HTTP server failed", err, "listen", conf.Listen)
		cancel()
		<-coordDone
		os.Exit(1)
	}

	<-coordDone
	appLog.Info("nextmeet exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	configPath := defaultConfigPath
	if v := os.Getenv("NEXTMEET_CONFIG"); v != "" {
		configPath = v
	}

	flag.StringVar(&cfg.configPath, "config", configPath, "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Request access, refresh once, print the meetings as JSON and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}

func calendarSources(conf *config.Config) []ics.Source {
	return lo.Map(conf.Calendars, func(c config.CalendarConfig, _ int) ics.Source {
		return ics.Source{ID: c.ID, Name: c.Name, URL: c.URL}
	})
}

// runOnce drives a coordinator without a timer through one access request
// and one refresh, then writes the snapshot to stdout.
func runOnce(ctx context.Context, store *ics.Store, loc *time.Location) error {
	coord, err := coordinator.New(coordinator.Options{
		Source:   store,
		Timer:    noTimer{},
		Location: loc,
	})
	if err != nil {
		return err
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = coord.Run(runCtx) }()

	if _, err := coord.RequestAccess(ctx); err != nil {
		return err
	}
	// A grant kicks a background refresh; wait for it instead of racing it.
	err = coord.Refresh(ctx)
	for errors.Is(err, coordinator.ErrRefreshInProgress) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
		err = coord.Refresh(ctx)
	}
	if err != nil {
		return err
	}

	snap, err := coord.Snapshot(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		coordinator.Snapshot
		Today    any    `json:"today"`
		Tomorrow any    `json:"tomorrow"`
		TimeZone string `json:"display_timezone"`
	}{snap, snap.Today(now), snap.Tomorrow(now), loc.String()})
}

type noTimer struct{}

func (noTimer) Arm(func()) {}
func (noTimer) Disarm()    {}
func (noTimer) Stop()      {}

// watchLifecycle forwards system sleep notifications to the coordinator.
func watchLifecycle(ctx context.Context, mode string, coord *coordinator.Coordinator) {
	var w lifecycle.Watcher
	switch mode {
	case config.SleepOff:
		return
	case config.SleepLogind:
		lw, err := lifecycle.NewLogindWatcher()
		if err == nil {
			w = lw
			break
		}
		appLog.Warn("logind unavailable; falling back to clock sleep detection", "err", err)
		fallthrough
	default:
		w = lifecycle.NewClockWatcher(10 * time.Second)
	}

	events := make(chan lifecycle.Event, 4)
	go func() {
		if err := w.Watch(ctx, events); err != nil {
			appLog.Error("lifecycle watcher stopped", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if err := coord.HandleLifecycle(ctx, ev); err != nil && ctx.Err() == nil {
				appLog.Error("lifecycle event dropped", err, "event", ev.String())
			}
		}
	}
}
