package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"fullcal/internal/calendar"
	"fullcal/internal/capture"
	"fullcal/internal/config"
	appLog "fullcal/internal/log"
	"fullcal/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	debug      bool
}

func main() {
	// Subcommands run before flag parsing so their own flag sets apply.
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		hashPasswordCommand(os.Args[2:])
		return
	}

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	appLog.Info("fullcald starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"backfill_days", conf.BackfillDays,
		"sources", len(conf.Sources),
		"auth", conf.Auth != nil,
		"preview", conf.Preview.Enabled,
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

	srv := web.NewServer(conf, flags.debug)
	registerEventHandlers(srv.Calendar())

	// Initial source import so the first page load is not empty.
	srv.Refresh(ctx)

	if flags.once {
		// Single-shot refresh. Capture needs the HTTP server up, so it is
		// skipped here.
		appLog.Info("once mode, exiting after refresh")
		return
	}

	httpSrv := &http.Server{
		Addr:    conf.Listen,
		Handler: srv.Handler(),
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpSrv.ListenAndServe()
	}()
	appLog.Info("HTTP server listening", "addr", conf.Listen)

	// First capture once the server is up, then on the refresh schedule.
	if conf.Preview.Enabled {
		go runCapture(ctx, conf, flags.debug)
	}

	sched := cron.New()
	if _, err := sched.AddFunc(conf.RefreshCron, func() {
		srv.Refresh(context.Background())
		if conf.Preview.Enabled {
			runCapture(context.Background(), conf, flags.debug)
		}
	}); err != nil {
		appLog.Error("invalid refresh cron spec", err, "spec", conf.RefreshCron)
		os.Exit(1)
	}
	sched.Start()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("HTTP server failed", err)
			os.Exit(1)
		}
	}

	// Stop scheduling and let a running refresh finish.
	<-sched.Stop().Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP shutdown failed", err)
	}

	appLog.Info("fullcald exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/fullcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one source refresh and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Debug logging and local cache paths")

	flag.Parse()

	return cfg
}

// registerEventHandlers wires the built-in handlers for the four client
// events. They only log; applications embedding these packages register
// their own.
func registerEventHandlers(cal *calendar.Calendar) {
	cal.OnTimeslotClicked(func(ev calendar.TimeslotClickedEvent) {
		appLog.Info("timeslot clicked", "date", ev.Date, "all_day", ev.AllDay, "from_client", ev.FromClient)
	})
	cal.OnEntryClicked(func(ev calendar.EntryClickedEvent) {
		appLog.Info("entry clicked", "entry", ev.Entry.ID(), "title", ev.Entry.Title())
	})
	cal.OnEntryMoved(func(ev calendar.EntryMovedEvent) {
		appLog.Info("entry moved", "entry", ev.Entry.ID(), "delta", ev.Delta.String())
	})
	cal.OnEntryResized(func(ev calendar.EntryResizedEvent) {
		appLog.Info("entry resized", "entry", ev.Entry.ID(), "delta", ev.Delta.String())
	})
}

func runCapture(ctx context.Context, conf *config.Config, debug bool) {
	url := conf.Preview.URL
	if url == "" {
		url = "http://" + conf.Listen + "/"
	}
	out := web.PreviewPath(conf, debug)

	err := capture.CapturePNG(ctx, capture.Options{
		URL:        url,
		OutputPath: out,
		Width:      conf.Preview.Width,
		Height:     conf.Preview.Height,
		Timeout:    time.Duration(conf.Preview.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		appLog.Error("preview capture failed", err, "url", url)
		return
	}
	appLog.Info("preview captured", "path", out)
}
