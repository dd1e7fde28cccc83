// Package main is the entry point for the daengine binary, one engine worker
// in a distarray cluster.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dacompute/distarray/pkg/engine"
	"github.com/dacompute/distarray/pkg/logging"
	"github.com/dacompute/distarray/pkg/telemetry"
	"github.com/spf13/cobra"
)

const (
	defaultAddr     = "127.0.0.1:9150"
	defaultLogLevel = "info"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "daengine",
		Short: "distarray engine worker",
		Long: `One engine worker in a distarray cluster. The engine owns local array
shards and serves the HTTP API the client side drives.

Engines are normally spawned by dacluster, but a single engine can be run
directly:

  daengine --rank 0 --addr 127.0.0.1:9150 --data-dir /tmp/engine-0`,
		RunE: runEngine,
	}

	rootCmd.Flags().Int("rank", 0, "Engine rank within the cluster")
	rootCmd.Flags().String("addr", defaultAddr, "Address to listen on")
	rootCmd.Flags().String("data-dir", "", "Directory for .dnpy shard files")
	rootCmd.Flags().StringP("log-level", "l", defaultLogLevel, "Log level (debug, info, warn, error)")
	rootCmd.Flags().String("otel-endpoint", "", "OTLP trace collector endpoint (disabled when empty)")

	return rootCmd
}

func runEngine(cmd *cobra.Command, args []string) error {
	rank, err := cmd.Flags().GetInt("rank")
	if err != nil {
		return err
	}
	addr, err := cmd.Flags().GetString("addr")
	if err != nil {
		return err
	}
	dataDir, err := cmd.Flags().GetString("data-dir")
	if err != nil {
		return err
	}
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return err
	}
	otelEndpoint, err := cmd.Flags().GetString("otel-endpoint")
	if err != nil {
		return err
	}

	logger := logging.NewLogger(logging.Config{Level: logLevel})
	slog.SetDefault(logger)

	if dataDir == "" {
		dataDir = fmt.Sprintf("daengine-%d", rank)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName:  "daengine",
		Endpoint:     otelEndpoint,
		Insecure:     true,
		ResourceTags: map[string]string{"engine.rank": fmt.Sprintf("%d", rank)},
	})
	if err != nil {
		logger.Warn("Tracing disabled", "error", err)
		shutdownTelemetry = func(context.Context) error { return nil }
	}

	server := engine.NewServer(engine.Config{
		Rank:    rank,
		Addr:    addr,
		DataDir: dataDir,
		Logger:  logger,
	})
	if err := server.Start(ctx); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received shutdown signal", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", "error", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Error("Error flushing traces", "error", err)
	}

	logger.Info("Engine stopped")
	return nil
}
