package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/config"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/daemon"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/logging"
	mcpserver "github.com/RuiYan2022/Polyglot-Guild-2/internal/mcp"
)

// Commands in this file open the configured store directly instead of
// talking to guildd.

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the configured store's schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, closer, err := localSetup(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer closer.Close()

		backend, err := daemon.OpenStore(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer backend.Store.Close()
		fmt.Fprintf(cmd.OutOrStdout(), "%s store is up to date.\n", backend.Kind)
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed [dir]",
	Short: "Load catalog YAML files into the public library",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, closer, err := localSetup(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer closer.Close()

		dir := cfg.CatalogDir
		if len(args) > 0 {
			dir = args[0]
		}
		cfg.CatalogDir = ""

		ctx := cmd.Context()
		app, err := daemon.NewApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer app.Close(context.WithoutCancel(ctx))

		n, err := app.Catalogs.Seed(ctx, dir)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d catalog(s) from %s.\n", n, dir)
		return nil
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the guild tools over MCP (stdio, or HTTP with --http)",
	RunE:  runMCP,
}

func init() {
	mcpCmd.Flags().String("http", "", "Serve MCP over HTTP on this address instead of stdio")
}

func runMCP(cmd *cobra.Command, args []string) error {
	// stdout carries the protocol
	cfg, logger, closer, err := localSetup(os.Stderr)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := daemon.NewApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close(context.WithoutCancel(ctx))

	go func() {
		if err := app.Bus.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("event relay stopped", "error", err)
		}
	}()

	server := mcpserver.NewServer(mcpserver.Config{
		Practice: app.Practice,
		Profiles: app.Roster,
		Version:  version,
	})

	if addr, _ := cmd.Flags().GetString("http"); addr != "" {
		logger.Info("serving MCP over HTTP", "addr", addr)
		return server.ServeHTTP(ctx, addr)
	}
	return server.ServeStdio(ctx)
}

func localSetup(stderr io.Writer) (*config.Config, *slog.Logger, io.Closer, error) {
	if _, err := config.EnsureGuildDir(); err != nil {
		return nil, nil, nil, fmt.Errorf("ensure guild dir: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, closer, err := logging.Setup(logging.Options{
		Level:  cfg.LogLevel,
		File:   cfg.LogFile,
		Stderr: stderr,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("setup logging: %w", err)
	}
	return cfg, logger, closer, nil
}
