package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dgnsrekt/kwitch/internal/api"
	"github.com/dgnsrekt/kwitch/internal/broadcast"
	"github.com/dgnsrekt/kwitch/internal/browser"
	"github.com/dgnsrekt/kwitch/internal/config"
	"github.com/dgnsrekt/kwitch/internal/controller"
	"github.com/dgnsrekt/kwitch/internal/inject"
	"github.com/dgnsrekt/kwitch/internal/journal"
	"github.com/dgnsrekt/kwitch/internal/kick"
	"github.com/dgnsrekt/kwitch/internal/netutil"
	"github.com/dgnsrekt/kwitch/internal/notify"
	"github.com/dgnsrekt/kwitch/internal/scheduler"
	"github.com/dgnsrekt/kwitch/internal/store"
	"github.com/dgnsrekt/kwitch/internal/tabs"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load kwitchd config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("kwitchd config loaded",
		"bind_addr", cfg.BindAddr,
		"port_auto_fallback", cfg.PortAutoFallback,
		"port_candidates", cfg.PortCandidates,
		"db_path", cfg.DBPath,
		"kick_api_base", cfg.KickAPIBase,
		"request_delay_ms", cfg.RequestDelayMS,
		"retain_stale", cfg.RetainStale,
		"cdp_enabled", cfg.CDPEnabled,
		"cdp_url", cfg.CDPURL(),
		"tab_url_filter", cfg.TabURLFilter,
		"launch_browser", cfg.LaunchBrowser,
		"selector_profile", cfg.SelectorProfile,
		"history_dir", cfg.HistoryDir,
		"ntfy", cfg.NtfyEndpoint != "",
		"ntfy_retries", cfg.NtfyRetries,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	os.Exit(run(cfg))
}

func run(cfg *config.Config) int {
	ln, err := netutil.Listen(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		return 1
	}
	bindAddr := ln.Addr().String()

	kv, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open store", "path", cfg.DBPath, "error", err)
		_ = ln.Close()
		return 1
	}
	defer func() {
		if err := kv.Close(); err != nil {
			slog.Debug("store close failed", "error", err)
		}
	}()
	st := store.New(kv)

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	settings, err := st.Settings(rootCtx)
	if err != nil {
		slog.Error("failed to read settings", "error", err)
		_ = ln.Close()
		return 1
	}

	broker := broadcast.NewBroker()
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout()}
	kickClient := kick.NewClient(kick.WithBaseURL(cfg.KickAPIBase), kick.WithHTTPClient(httpClient))

	schedOpts := []scheduler.Option{
		scheduler.WithInterval(time.Duration(settings.PollingIntervalSeconds) * time.Second),
		scheduler.WithRequestDelay(cfg.RequestDelay()),
		scheduler.WithRetainStale(cfg.RetainStale),
	}
	if cfg.HistoryDir != "" {
		history := journal.NewWriter(cfg.HistoryDir, 0, 0)
		defer func() {
			if err := history.Close(); err != nil {
				slog.Debug("journal close failed", "error", err)
			}
		}()
		schedOpts = append(schedOpts, scheduler.WithObserver(history.Observe))
	}
	if cfg.NtfyEndpoint != "" {
		goLive := notify.NewGoLive(cfg.NtfyEndpoint, notify.NewRetryingClient(cfg.NtfyRetries, cfg.HTTPTimeout()))
		defer broker.Subscribe(goLive.Handle)()
		schedOpts = append(schedOpts, scheduler.WithObserver(goLive.ObserveCycle))
	}

	sched := scheduler.New(kickClient, st, broker, schedOpts...)
	svc := controller.NewService(st, sched, broker)

	var launcher *browser.Launcher
	if cfg.CDPEnabled && cfg.LaunchBrowser {
		launcher = browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			ProfileDir: cfg.BrowserProfileDir,
		})
		if err := launcher.Launch(rootCtx); err != nil {
			slog.Error("failed to launch browser", "error", err)
			launcher = nil
		}
	}
	defer func() {
		if launcher != nil && launcher.Running() {
			launcher.Stop()
		}
	}()

	if cfg.CDPEnabled {
		mgr := connectTabs(rootCtx, cfg, broker, svc, settings)
		if mgr != nil {
			defer func() {
				if err := mgr.Close(); err != nil {
					slog.Debug("tabs close failed", "error", err)
				}
			}()
		}
	}

	if err := sched.Start(rootCtx); err != nil {
		slog.Error("failed to start scheduler", "error", err)
		_ = ln.Close()
		return 1
	}
	defer sched.Stop()

	srv := &http.Server{
		Handler:     api.NewServer(svc, broker),
		BaseContext: func(net.Listener) context.Context { return rootCtx },
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("kwitchd listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("kwitchd server failed", "error", err)
			serverErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		slog.Info("kwitchd shutting down", "signal", sig.String())
	case <-serverErr:
		exitCode = 1
	}

	// Event streams hold their requests open until the base context ends.
	cancelRoot()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Shutdown(gctx)
	})
	g.Go(func() error {
		sched.Stop()
		return nil
	})
	if err := g.Wait(); err != nil {
		slog.Error("kwitchd shutdown failed", "error", err)
	}
	return exitCode
}

// connectTabs attaches to the browser. Failure leaves the daemon running
// without panels or activation.
func connectTabs(ctx context.Context, cfg *config.Config, broker *broadcast.Broker, svc *controller.Service, settings store.Settings) *tabs.Manager {
	var profiles inject.ProfileSource = inject.StaticProfile(inject.DefaultProfile())
	if cfg.SelectorProfile != "" {
		p, err := inject.LoadProfile(cfg.SelectorProfile)
		if err != nil {
			slog.Warn("selector profile not loaded, using built-in", "path", cfg.SelectorProfile, "error", err)
			p = inject.DefaultProfile()
		}
		ps := inject.NewProfileStore(p)
		if err := ps.Watch(ctx, cfg.SelectorProfile); err != nil {
			slog.Warn("selector profile watch failed", "path", cfg.SelectorProfile, "error", err)
		}
		profiles = ps
	}

	mgr := tabs.NewManager(broker, svc.Channels, settings, tabs.Options{
		CDPURL:         cfg.CDPURL(),
		TabURLFilter:   cfg.TabURLFilter,
		EvalTimeout:    cfg.EvalTimeout(),
		AnchorAttempts: cfg.AnchorAttempts,
		AnchorInterval: cfg.AnchorInterval(),
		Profiles:       profiles,
		Sink:           svc.Sink,
	})
	if err := mgr.Connect(ctx); err != nil {
		slog.Error("failed to connect to browser, panels disabled", "cdp_url", cfg.CDPURL(), "error", err)
		_ = mgr.Close()
		return nil
	}
	svc.AttachTabs(mgr)
	return mgr
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
