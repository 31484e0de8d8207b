package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/config"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/daemon"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/logging"
)

// Version is set at build time via ldflags
var Version = "dev"

const pidFileName = "guildd.pid"

func main() {
	if err := run(); err != nil {
		slog.Error("guildd error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	guildDir, err := config.EnsureGuildDir()
	if err != nil {
		return fmt.Errorf("ensure guild dir: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser, err := logging.Setup(logging.Options{
		Level: cfg.LogLevel,
		File:  cfg.LogFile,
	})
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logCloser.Close()

	printBanner(cfg)

	pidPath := filepath.Join(guildDir, pidFileName)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	server, err := daemon.NewServer(context.Background(), daemon.ServerConfig{
		Config: cfg,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		logger.Info("received signal, shutting down", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
		close(done)
	}()

	if err := server.Start(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	logger.Info("guildd stopped")
	return nil
}

func printBanner(cfg *config.Config) {
	figure.NewFigure("GUILD", "", true).Print()
	fmt.Println("======================================================")
	fmt.Printf("Polyglot Guild API (%s) on %s, store=%s\n\n", Version, cfg.Addr(), cfg.Store)
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}
