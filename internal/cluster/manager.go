package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dacompute/distarray/pkg/client"
	"github.com/dacompute/distarray/pkg/config"
)

// Manager drives a local engine cluster: start, stop and status, with the
// registry file as the source of truth between invocations.
type Manager struct {
	cfg    *config.ClusterConfig
	logger *slog.Logger
}

// EngineStatus is one engine's state as seen from the CLI.
type EngineStatus struct {
	Rank    int
	PID     int
	Addr    string
	Alive   bool
	Healthy bool
	Arrays  int
}

// NewManager creates a cluster manager for the given configuration.
func NewManager(cfg *config.ClusterConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, logger: logger}
}

// Start spawns the configured engines, waits for them all to report healthy
// and records the cluster in the registry file.
func (m *Manager) Start(ctx context.Context) error {
	if reg, err := ReadRegistry(m.cfg.RegistryPath()); err == nil {
		for _, rec := range reg.Engines {
			if ProcessAlive(rec.PID) {
				return fmt.Errorf("engine %d (pid %d) is up: %w", rec.Rank, rec.PID, ErrAlreadyRunning)
			}
		}
		// Every recorded pid is gone; the previous cluster died without
		// cleanup. Drop the stale registry and start fresh.
		m.logger.Warn("Removing stale registry", "path", m.cfg.RegistryPath())
		if err := RemoveRegistry(m.cfg.RegistryPath()); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(m.cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	m.logger.Info("Starting cluster", "engines", m.cfg.Engines, "base_port", m.cfg.BasePort)
	records := make([]EngineRecord, 0, m.cfg.Engines)
	for rank := 0; rank < m.cfg.Engines; rank++ {
		rec, err := SpawnEngine(m.cfg, rank, m.logger)
		if err != nil {
			m.stopRecords(records)
			return err
		}
		records = append(records, rec)
	}

	if err := m.awaitHealthy(ctx, records); err != nil {
		m.stopRecords(records)
		return err
	}

	reg := &Registry{StartedAt: time.Now().UTC(), Engines: records}
	if err := WriteRegistry(m.cfg.RegistryPath(), reg); err != nil {
		m.stopRecords(records)
		return err
	}

	m.logger.Info("Cluster started", "engines", len(records))
	return nil
}

// awaitHealthy polls every engine's health endpoint until all answer or the
// startup timeout expires.
func (m *Manager) awaitHealthy(ctx context.Context, records []EngineRecord) error {
	timeout := time.Duration(m.cfg.StartupTimeoutSeconds) * time.Second
	deadline := time.Now().Add(timeout)

	for _, rec := range records {
		ec := client.NewEngineClient(rec.Addr)
		for {
			probeCtx, cancel := context.WithTimeout(ctx, time.Second)
			_, err := ec.Health(probeCtx)
			cancel()
			if err == nil {
				break
			}
			if !ProcessAlive(rec.PID) {
				return fmt.Errorf("engine %d exited during startup, see %s", rec.Rank, rec.LogFile)
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("engine %d not healthy after %s: %w", rec.Rank, timeout, err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
		}
	}
	return nil
}

// Stop terminates every engine in the registry and removes the registry file.
func (m *Manager) Stop(ctx context.Context) error {
	reg, err := ReadRegistry(m.cfg.RegistryPath())
	if err != nil {
		return err
	}

	m.logger.Info("Stopping cluster", "engines", len(reg.Engines))
	m.stopRecords(reg.Engines)
	if err := RemoveRegistry(m.cfg.RegistryPath()); err != nil {
		return err
	}
	m.logger.Info("Cluster stopped")
	return nil
}

func (m *Manager) stopRecords(records []EngineRecord) {
	timeout := time.Duration(m.cfg.ShutdownTimeoutSeconds) * time.Second
	for _, rec := range records {
		if err := StopProcess(rec.PID, timeout, m.logger); err != nil {
			m.logger.Error("Failed to stop engine", "rank", rec.Rank, "pid", rec.PID, "error", err)
		}
	}
}

// Status probes each registered engine and reports its process and health
// state.
func (m *Manager) Status(ctx context.Context) ([]EngineStatus, error) {
	reg, err := ReadRegistry(m.cfg.RegistryPath())
	if err != nil {
		return nil, err
	}

	statuses := make([]EngineStatus, 0, len(reg.Engines))
	for _, rec := range reg.Engines {
		st := EngineStatus{
			Rank:  rec.Rank,
			PID:   rec.PID,
			Addr:  rec.Addr,
			Alive: ProcessAlive(rec.PID),
		}
		if st.Alive {
			probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			health, err := client.NewEngineClient(rec.Addr).Health(probeCtx)
			cancel()
			if err == nil {
				st.Healthy = true
				st.Arrays = health.Arrays
			}
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// Restart stops the cluster if it is running, then starts it with the current
// configuration.
func (m *Manager) Restart(ctx context.Context) error {
	if err := m.Stop(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	return m.Start(ctx)
}
