// Package main is the entry point for the dacluster binary, the CLI that
// starts and stops a local cluster of distarray engines.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dacompute/distarray/internal/cluster"
	"github.com/dacompute/distarray/pkg/config"
	"github.com/dacompute/distarray/pkg/logging"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dacluster",
		Short: "Manage a local distarray engine cluster",
		Long: `dacluster starts and stops the engine processes a distarray client
connects to.

Examples:
  dacluster start
  dacluster start --engines 8
  dacluster start --config cluster.yaml --foreground
  dacluster status
  dacluster stop`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to cluster configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().IntP("engines", "n", 0, "Number of engines (overrides config)")

	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newStopCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newRestartCmd())

	return rootCmd
}

// loadConfig builds the effective cluster configuration from the config file
// and CLI flag overrides.
func loadConfig(cmd *cobra.Command) (*config.ClusterConfig, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	var cfg *config.ClusterConfig
	if configPath != "" {
		cfg, err = config.LoadClusterConfig(configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.DefaultClusterConfig()
	}

	if engines, err := cmd.Flags().GetInt("engines"); err == nil && engines > 0 {
		cfg.Engines = engines
	}
	if logLevel, err := cmd.Flags().GetString("log-level"); err == nil && logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newManager(cmd *cobra.Command) (*cluster.Manager, *config.ClusterConfig, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.NewLogger(logging.Config{Level: cfg.LogLevel, Pretty: true})
	slog.SetDefault(logger)
	return cluster.NewManager(cfg, logger), cfg, nil
}

func newStartCmd() *cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the engine cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, cfg, err := newManager(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := manager.Start(ctx); err != nil {
				return err
			}
			fmt.Printf("Cluster started: %d engines on %s ports %d-%d\n",
				cfg.Engines, cfg.Host, cfg.BasePort, cfg.BasePort+cfg.Engines-1)

			foreground, _ := cmd.Flags().GetBool("foreground")
			if !foreground {
				return nil
			}
			return superviseForeground(ctx, cmd, manager)
		},
	}
	startCmd.Flags().Bool("foreground", false, "Stay attached: stop the cluster on Ctrl-C and reload the config file on change")
	return startCmd
}

// superviseForeground blocks until a shutdown signal, restarting the cluster
// when the config file changes.
func superviseForeground(ctx context.Context, cmd *cobra.Command, manager *cluster.Manager) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	configPath, _ := cmd.Flags().GetString("config")
	if configPath != "" {
		watcher, err := cluster.NewConfigWatcher(configPath, func(path string) error {
			reloaded, _, err := newManager(cmd)
			if err != nil {
				return err
			}
			return reloaded.Restart(ctx)
		}, slog.Default())
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("Received shutdown signal", "signal", sig.String())

	return manager.Stop(context.Background())
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the engine cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, _, err := newManager(cmd)
			if err != nil {
				return err
			}
			if err := manager.Stop(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Cluster stopped")
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of each engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, _, err := newManager(cmd)
			if err != nil {
				return err
			}
			statuses, err := manager.Status(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%-6s %-8s %-22s %-8s %-8s %s\n", "RANK", "PID", "ADDR", "ALIVE", "HEALTHY", "ARRAYS")
			for _, st := range statuses {
				fmt.Printf("%-6d %-8d %-22s %-8t %-8t %d\n", st.Rank, st.PID, st.Addr, st.Alive, st.Healthy, st.Arrays)
			}
			return nil
		},
	}
}

func newRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the engine cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, cfg, err := newManager(cmd)
			if err != nil {
				return err
			}
			if err := manager.Restart(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("Cluster restarted: %d engines\n", cfg.Engines)
			return nil
		},
	}
}
