package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dvornik/smsmaild/internal/blacklist"
	"github.com/dvornik/smsmaild/internal/config"
	"github.com/dvornik/smsmaild/internal/mailer"
	"github.com/dvornik/smsmaild/internal/modem"
	"github.com/dvornik/smsmaild/internal/poller"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel)
	logger.Info("smsmaild starting",
		"modem", cfg.Modem.ID,
		"poll_interval", cfg.PollInterval(),
		"recipients", len(cfg.SMTP.Recipients),
	)

	bl, err := blacklist.Load(cfg.BlacklistPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	gw := modem.NewMMCLI(cfg.Modem.ID, logger)
	if cfg.Modem.AutoDetect() {
		id, err := gw.DiscoverModem(ctx)
		if err != nil {
			logger.Error("modem auto-detection failed", "error", err)
			os.Exit(1)
		}
		logger.Info("auto-detected modem", "modem", id)
		gw.AdoptModem(id)
	}

	smtp := mailer.NewSMTP(
		cfg.SMTP.Host,
		cfg.SMTP.Port,
		cfg.SMTP.Username,
		cfg.SMTP.Password,
		cfg.SMTP.TLS,
		cfg.SMTP.Sender,
		cfg.SMTP.Recipients,
		logger,
	)

	p := poller.New(gw, bl, smtp, poller.Options{
		Interval:        cfg.PollInterval(),
		DeleteMessages:  cfg.DeleteSMS,
		IgnoreExisting:  cfg.IgnoreExisting,
		SubjectTemplate: cfg.SMTP.Subject,
	}, logger)

	// Force exit on second signal.
	go func() {
		<-ctx.Done()
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Warn("forced shutdown")
		os.Exit(1)
	}()

	p.Run(ctx)
	logger.Info("smsmaild stopped")
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
