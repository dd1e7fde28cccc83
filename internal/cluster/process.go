package cluster

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/dacompute/distarray/pkg/config"
)

// SpawnEngine starts one detached daengine process for the given rank. The
// engine outlives the dacluster invocation; its output goes to a per-rank log
// file under the state directory.
func SpawnEngine(cfg *config.ClusterConfig, rank int, logger *slog.Logger) (EngineRecord, error) {
	dataDir := cfg.EngineDataDir(rank)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return EngineRecord{}, fmt.Errorf("create engine data dir: %w", err)
	}

	logPath := filepath.Join(cfg.StateDir, fmt.Sprintf("engine-%d.log", rank))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return EngineRecord{}, fmt.Errorf("open engine log: %w", err)
	}
	defer logFile.Close()

	addr := cfg.EngineAddr(rank)
	args := []string{
		"--rank", strconv.Itoa(rank),
		"--addr", addr,
		"--data-dir", dataDir,
		"--log-level", cfg.LogLevel,
	}
	if cfg.OTELEndpoint != "" {
		args = append(args, "--otel-endpoint", cfg.OTELEndpoint)
	}

	cmd := exec.Command(cfg.EngineBinary, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	// New session so the engine survives the CLI process and its terminal.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return EngineRecord{}, fmt.Errorf("start engine %d: %w", rank, err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		logger.Warn("Failed to release engine process handle", "rank", rank, "error", err)
	}

	logger.Info("Engine spawned", "rank", rank, "pid", pid, "addr", addr)
	return EngineRecord{
		Rank:    rank,
		PID:     pid,
		Addr:    addr,
		DataDir: dataDir,
		LogFile: logPath,
	}, nil
}

// ProcessAlive reports whether a process with the given pid exists.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	// Signal 0 probes for existence without delivering anything.
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// StopProcess terminates a process: SIGTERM first, SIGKILL after the timeout.
func StopProcess(pid int, timeout time.Duration, logger *slog.Logger) error {
	if !ProcessAlive(pid) {
		return nil
	}

	logger.Info("Stopping process", "pid", pid, "timeout", timeout)
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !ProcessAlive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	logger.Warn("Process did not exit gracefully, forcing kill", "pid", pid)
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}
	return nil
}
