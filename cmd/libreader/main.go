package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/bookwaves/libreader/internal/config"
	"github.com/bookwaves/libreader/internal/driver"
	"github.com/bookwaves/libreader/internal/httpapi"
	"github.com/bookwaves/libreader/internal/protocol"
	"github.com/bookwaves/libreader/internal/registry"
	"github.com/bookwaves/libreader/internal/session"
	"github.com/bookwaves/libreader/internal/tag"
)

// notificationQueueCapacity is the bounded event queue's fixed capacity
// (spec §4.6).
const notificationQueueCapacity = 1000

type cliOptions struct {
	ConfigPath string `short:"c" long:"config" description:"path to the YAML config file (overrides CONFIG_FILE_PATH)"`
}

func main() {
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var opts cliOptions
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}
	if opts.ConfigPath != "" {
		os.Setenv(config.EnvFilePathVar, opts.ConfigPath)
	}

	cfg, err := config.Load()
	if err != nil {
		bootLogger.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel, cfg.LogFormat)

	passwords := tag.NewPasswordRegistry(cfg.TagPasswords)
	if warning := passwords.PlaceholderWarnings(tag.KnownFormatKeys); warning != "" {
		log.Warn(warning)
	}

	factory := tag.NewFactory(passwords)
	engine := protocol.NewEngine(factory)
	reg := registry.New(log)

	for _, r := range cfg.Readers {
		readerCfg := session.ReaderConfig{
			Name:     r.Name,
			Address:  r.Address,
			Port:     r.Port,
			Mode:     r.Mode,
			Antennas: r.Antennas,
			Region:   r.Region,
		}
		newDriver := driver.Factory(func() driver.Driver { return driver.NewMockDriver() })
		if _, err := reg.Register(readerCfg, newDriver, notificationQueueCapacity); err != nil {
			log.Error("register reader", "reader", r.Name, "error", err)
			os.Exit(1)
		}
		log.Info("reader registered", "reader", r.Name, "address", r.Address, "port", r.Port, "mode", readerCfg.Mode, "region", readerCfg.Region)
	}

	server := httpapi.New(cfg.HTTPAddr, reg, engine, log, cfg.DefaultTagFormat)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("shutting down", "signal", sig)
		cancel()
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Run(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			log.Error("http server exited", "error", err)
		}
		cancel()
		serveErr = nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := reg.CloseAll(shutdownCtx); err != nil {
		log.Error("close readers", "error", err)
	}
	if serveErr != nil {
		<-serveErr
	}
	log.Info("goodbye")
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
