package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/apicapture/internal/api"
	"github.com/dgnsrekt/apicapture/internal/browser"
	"github.com/dgnsrekt/apicapture/internal/capture"
	"github.com/dgnsrekt/apicapture/internal/cdp"
	"github.com/dgnsrekt/apicapture/internal/config"
	"github.com/dgnsrekt/apicapture/internal/export"
	"github.com/dgnsrekt/apicapture/internal/netutil"
	"github.com/dgnsrekt/apicapture/internal/notify"
	"github.com/dgnsrekt/apicapture/internal/relay"
	"github.com/dgnsrekt/apicapture/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load capture config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("capture config loaded",
		"cdp_url", cfg.GetCDPURL(),
		"bind_addr", cfg.BindAddr,
		"url_filter", cfg.URLFilter,
		"match_rules", cfg.MatchRules,
		"tab_url_filter", cfg.TabURLFilter,
		"export_dir", cfg.ExportDir,
		"export_format", cfg.ExportFormat,
		"drain_timeout", cfg.DrainTimeout,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	candidates, err := netutil.ExpandCandidates(cfg.BindAddr, cfg.PortCandidates)
	if err != nil {
		slog.Error("invalid port candidates", "candidates", cfg.PortCandidates, "error", err)
		os.Exit(1)
	}
	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, candidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	var launcher *browser.Launcher
	if cfg.LaunchBrowser {
		launcher = browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			StartURL:   cfg.StartURL,
			ProfileDir: cfg.ProfileDir,
		})
		if err := launcher.Launch(context.Background()); err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer launcher.Stop()
	}

	matcher, err := buildMatcher(cfg)
	if err != nil {
		slog.Error("failed to load match rules", "path", cfg.MatchRules, "error", err)
		os.Exit(1)
	}

	format, err := export.ParseFormat(cfg.ExportFormat)
	if err != nil {
		slog.Error("invalid export format", "error", err)
		os.Exit(1)
	}
	var (
		sink    export.Sink
		exports api.ExportStore
	)
	if format == export.FormatJSONL {
		journal := storage.NewJournalSink(cfg.ExportDir, cfg.JournalMaxMB)
		defer func() {
			if err := journal.Close(); err != nil {
				slog.Debug("journal close failed", "error", err)
			}
		}()
		sink = journal
	} else {
		files, err := storage.NewFileSink(cfg.ExportDir)
		if err != nil {
			slog.Error("failed to create export store", "dir", cfg.ExportDir, "error", err)
			os.Exit(1)
		}
		sink, exports = files, files
	}

	broker := relay.NewBroker()
	var notifier *notify.Notifier
	if cfg.NtfyURL != "" {
		notifier = notify.New(cfg.NtfyURL, &http.Client{Timeout: 10 * time.Second})
	}

	source := cdp.NewSource(cfg.GetCDPURL(), cfg.TabURLFilter, cfg.FetchTimeout)
	defer source.Close()

	engine := capture.NewEngine(source, matcher, export.New(sink, format, cfg.ExportName), capture.Options{
		DrainTimeout: cfg.DrainTimeout,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Listener:     statusListener(broker, notifier),
	})

	srv := &http.Server{Addr: bindAddr, Handler: api.NewServer(engine, exports, broker)}

	go func() {
		slog.Info("capture server listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("capture server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// A running session is stopped so its records still get exported.
	engine.Stop(ctx)
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("capture shutdown failed", "error", err)
	}
}

func buildMatcher(cfg *config.Config) (capture.Matcher, error) {
	if cfg.MatchRules == "" {
		return capture.SubstringMatcher{Needle: cfg.URLFilter}, nil
	}
	rules, err := config.LoadMatchRules(cfg.MatchRules)
	if err != nil {
		return nil, err
	}
	return capture.RuleMatcher{Include: rules.Include, Exclude: rules.Exclude, Methods: rules.Methods}, nil
}

// statusListener forwards engine events to stream clients and, for export
// outcomes, to ntfy. It runs outside the engine lock but must stay quick.
func statusListener(broker *relay.Broker, notifier *notify.Notifier) func(capture.StatusEvent) {
	return func(ev capture.StatusEvent) {
		evt, err := relay.NewEvent(ev.Type, ev)
		if err != nil {
			slog.Debug("status event marshal failed", "type", ev.Type, "error", err)
		} else {
			broker.Publish(evt)
		}

		if notifier == nil || ev.Status.LastExport == nil {
			return
		}
		last := *ev.Status.LastExport
		var send func(context.Context) error
		switch ev.Type {
		case capture.EventExportOK:
			send = func(ctx context.Context) error { return notifier.ExportDelivered(ctx, last.ExportResult) }
		case capture.EventExportFailed:
			send = func(ctx context.Context) error {
				return notifier.ExportFailed(ctx, last.SessionID, last.Records, last.Error)
			}
		default:
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := send(ctx); err != nil {
				slog.Warn("export notification failed", "type", ev.Type, "error", err)
			}
		}()
	}
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
