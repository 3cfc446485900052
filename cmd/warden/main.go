package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgnsrekt/tab_warden/internal/api"
	"github.com/dgnsrekt/tab_warden/internal/blocklist"
	"github.com/dgnsrekt/tab_warden/internal/bridge"
	"github.com/dgnsrekt/tab_warden/internal/config"
	"github.com/dgnsrekt/tab_warden/internal/groups"
	"github.com/dgnsrekt/tab_warden/internal/hub"
	"github.com/dgnsrekt/tab_warden/internal/indicator"
	"github.com/dgnsrekt/tab_warden/internal/messenger"
	"github.com/dgnsrekt/tab_warden/internal/netutil"
	"github.com/dgnsrekt/tab_warden/internal/notify"
	"github.com/dgnsrekt/tab_warden/internal/store"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load warden config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("warden config loaded",
		"bridge_url", cfg.BridgeURL,
		"cdp_url", cfg.CDPURL(),
		"bind_addr", cfg.BindAddr,
		"port_auto_fallback", cfg.PortAutoFallback,
		"data_dir", cfg.DataDir,
		"group_label", cfg.GroupLabel,
		"group_color", cfg.GroupColor,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	bridgeClient := bridge.NewClient(cfg.BridgeURL)
	if err := bridgeClient.Connect(context.Background()); err != nil {
		slog.Error("failed to connect extension bridge", "bridge_url", cfg.BridgeURL, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := bridgeClient.Close(); err != nil {
			slog.Debug("bridge client close failed", "error", err)
		}
	}()

	fileStore, err := store.NewFileStore(cfg.DataDir)
	if err != nil {
		slog.Error("failed to create data store", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	cdpMessenger := messenger.New(cfg.CDPURL(), func(ctx context.Context, tabID int) (string, error) {
		tab, err := bridgeClient.GetTab(ctx, tabID)
		if err != nil {
			return "", err
		}
		return tab.URL, nil
	})
	defer func() {
		if err := cdpMessenger.Close(); err != nil {
			slog.Debug("messenger close failed", "error", err)
		}
	}()

	events := hub.New(bridgeClient)
	machine := indicator.New(cdpMessenger, time.Duration(cfg.IndicatorDebounceMS)*time.Millisecond)
	aggregator := blocklist.New(bridgeClient, time.Duration(cfg.BlocklistCacheMS)*time.Millisecond)

	if cfg.AlertWebhookURL != "" {
		aggregator.AddListener(func(groupID int, old, new blocklist.Category) {
			if !new.Blocked() || old.Priority() >= new.Priority() {
				return
			}
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				alert := notify.Alert{GroupID: groupID, OldCategory: string(old), NewCategory: string(new), OccurredAt: time.Now()}
				if err := notify.Send(ctx, nil, cfg.AlertWebhookURL, alert); err != nil {
					slog.Warn("safety alert delivery failed", "group_id", groupID, "error", err)
				}
			}()
		})
	}

	controller := groups.New(bridgeClient, fileStore, machine, aggregator, events, groups.Options{
		GroupLabel: cfg.GroupLabel,
		GroupColor: cfg.GroupColor,
	})
	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = controller.Start(startCtx)
	startCancel()
	if err != nil {
		slog.Error("failed to start group controller", "error", err)
		os.Exit(1)
	}
	defer controller.Stop()

	srv := &http.Server{Addr: bindAddr, Handler: api.NewServer(controller)}

	go func() {
		slog.Info("warden listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("warden server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("warden shutdown failed", "error", err)
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll("logs", 0o755); err != nil {
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
