package cluster

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dacompute/distarray/pkg/config"
	"github.com/dacompute/distarray/pkg/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClusterConfig(t *testing.T) *config.ClusterConfig {
	t.Helper()
	cfg := config.DefaultClusterConfig()
	cfg.StateDir = t.TempDir()
	cfg.Engines = 2
	cfg.ShutdownTimeoutSeconds = 2
	return cfg
}

func TestRegistryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")

	reg := &Registry{
		StartedAt: time.Now().UTC().Truncate(time.Second),
		Engines: []EngineRecord{
			{Rank: 0, PID: 100, Addr: "127.0.0.1:9150"},
			{Rank: 1, PID: 101, Addr: "127.0.0.1:9151"},
		},
	}
	require.NoError(t, WriteRegistry(path, reg))

	got, err := ReadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, reg.Engines, got.Engines)
	assert.True(t, reg.StartedAt.Equal(got.StartedAt))

	require.NoError(t, RemoveRegistry(path))
	_, err = ReadRegistry(path)
	assert.ErrorIs(t, err, ErrNotRunning)

	// Removing twice is fine.
	assert.NoError(t, RemoveRegistry(path))
}

func TestReadRegistryCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := ReadRegistry(path)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotRunning)
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, ProcessAlive(os.Getpid()))
	assert.False(t, ProcessAlive(-1))
	assert.False(t, ProcessAlive(0))
}

func TestStopProcess(t *testing.T) {
	cmd := exec.Command("sleep", "60")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	defer cmd.Wait()

	require.True(t, ProcessAlive(pid))
	require.NoError(t, StopProcess(pid, 2*time.Second, slog.Default()))

	// The parent must reap before the pid disappears.
	cmd.Wait()
	assert.False(t, ProcessAlive(pid))
}

func TestStopProcessAlreadyGone(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	cmd.Wait()

	assert.NoError(t, StopProcess(pid, time.Second, slog.Default()))
}

func TestSpawnEngineRecord(t *testing.T) {
	cfg := testClusterConfig(t)
	cfg.EngineBinary = "true"

	rec, err := SpawnEngine(cfg, 1, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Rank)
	assert.Equal(t, cfg.EngineAddr(1), rec.Addr)
	assert.Equal(t, cfg.EngineDataDir(1), rec.DataDir)
	assert.DirExists(t, rec.DataDir)
	assert.FileExists(t, rec.LogFile)
}

func TestSpawnEngineMissingBinary(t *testing.T) {
	cfg := testClusterConfig(t)
	cfg.EngineBinary = filepath.Join(t.TempDir(), "no-such-binary")

	_, err := SpawnEngine(cfg, 0, slog.Default())
	assert.Error(t, err)
}

func TestManagerStopWithoutCluster(t *testing.T) {
	m := NewManager(testClusterConfig(t), slog.Default())
	assert.ErrorIs(t, m.Stop(context.Background()), ErrNotRunning)
	_, err := m.Status(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestManagerStatus(t *testing.T) {
	cfg := testClusterConfig(t)

	// A live in-process engine stands in for a spawned one.
	s := engine.NewServer(engine.Config{Rank: 0, DataDir: t.TempDir()})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	u, err := url.Parse(ts.URL)
	require.NoError(t, err)

	reg := &Registry{
		StartedAt: time.Now().UTC(),
		Engines: []EngineRecord{
			{Rank: 0, PID: os.Getpid(), Addr: u.Host},
			{Rank: 1, PID: -1, Addr: "127.0.0.1:1"},
		},
	}
	require.NoError(t, WriteRegistry(cfg.RegistryPath(), reg))

	m := NewManager(cfg, slog.Default())
	statuses, err := m.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	assert.True(t, statuses[0].Alive)
	assert.True(t, statuses[0].Healthy)
	assert.False(t, statuses[1].Alive)
	assert.False(t, statuses[1].Healthy)
}

func TestManagerStopRemovesRegistry(t *testing.T) {
	cfg := testClusterConfig(t)

	cmd := exec.Command("sleep", "60")
	require.NoError(t, cmd.Start())
	defer cmd.Wait()

	reg := &Registry{
		StartedAt: time.Now().UTC(),
		Engines:   []EngineRecord{{Rank: 0, PID: cmd.Process.Pid, Addr: "127.0.0.1:9150"}},
	}
	require.NoError(t, WriteRegistry(cfg.RegistryPath(), reg))

	m := NewManager(cfg, slog.Default())
	require.NoError(t, m.Stop(context.Background()))

	_, err := ReadRegistry(cfg.RegistryPath())
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestManagerStartRefusesLiveCluster(t *testing.T) {
	cfg := testClusterConfig(t)

	reg := &Registry{
		StartedAt: time.Now().UTC(),
		Engines:   []EngineRecord{{Rank: 0, PID: os.Getpid(), Addr: "127.0.0.1:9150"}},
	}
	require.NoError(t, WriteRegistry(cfg.RegistryPath(), reg))

	m := NewManager(cfg, slog.Default())
	assert.ErrorIs(t, m.Start(context.Background()), ErrAlreadyRunning)
}

func TestConfigWatcherTriggersReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engines: 2\n"), 0o644))

	var reloads atomic.Int32
	cw, err := NewConfigWatcher(path, func(string) error {
		reloads.Add(1)
		return nil
	}, slog.Default())
	require.NoError(t, err)
	cw.debounceTime = 50 * time.Millisecond

	require.NoError(t, cw.Start(context.Background()))
	t.Cleanup(func() { cw.Stop() })
	assert.True(t, cw.IsRunning())

	require.NoError(t, os.WriteFile(path, []byte("engines: 3\n"), 0o644))

	assert.Eventually(t, func() bool {
		return reloads.Load() >= 1
	}, 3*time.Second, 20*time.Millisecond)
}

func TestConfigWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engines: 2\n"), 0o644))

	var reloads atomic.Int32
	cw, err := NewConfigWatcher(path, func(string) error {
		reloads.Add(1)
		return nil
	}, slog.Default())
	require.NoError(t, err)
	cw.debounceTime = 50 * time.Millisecond

	require.NoError(t, cw.Start(context.Background()))
	t.Cleanup(func() { cw.Stop() })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x\n"), 0o644))
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(0), reloads.Load())
}
