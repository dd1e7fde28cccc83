package cluster

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// EngineRecord describes one running engine process.
type EngineRecord struct {
	Rank    int    `json:"rank"`
	PID     int    `json:"pid"`
	Addr    string `json:"addr"`
	DataDir string `json:"data_dir"`
	LogFile string `json:"log_file"`
}

// Registry is the on-disk record of a running cluster. It is written when the
// cluster starts and removed when it stops, so separate dacluster invocations
// agree on what is running.
type Registry struct {
	StartedAt time.Time      `json:"started_at"`
	Engines   []EngineRecord `json:"engines"`
}

// WriteRegistry persists the registry atomically via a temp file rename.
func WriteRegistry(path string, reg *Registry) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write registry: %w", err)
	}
	return nil
}

// ReadRegistry loads the registry file. A missing file means no cluster is
// running.
func ReadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotRunning
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", filepath.Base(path), err)
	}
	return &reg, nil
}

// RemoveRegistry deletes the registry file, tolerating its absence.
func RemoveRegistry(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove registry: %w", err)
	}
	return nil
}
