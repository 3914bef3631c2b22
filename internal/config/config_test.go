package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azargarov/conductor"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":30121", cfg.Server.Addr)
	assert.Equal(t, 100, cfg.Conductor.QueueCapacity)
	assert.Equal(t, 25, cfg.Conductor.PoolCapacity)
	assert.Equal(t, 5, cfg.Conductor.CrossoverFactor)
	assert.Equal(t, 2*time.Second, cfg.Worker.MatchCost)
	assert.Equal(t, 10*time.Second, cfg.Worker.MismatchCost)
	assert.Empty(t, cfg.Validate())
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	v, err := New("")
	require.NoError(t, err)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conductor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
conductor:
  crossover_factor: 3
worker:
  kind: b
  match_cost: 50ms
  mismatch_cost: 250ms
`), 0o600))

	v, err := New(path)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Conductor.CrossoverFactor)
	assert.Equal(t, conductor.KindB, cfg.WorkerKind())
	assert.Equal(t, 50*time.Millisecond, cfg.Worker.MatchCost)
	assert.Equal(t, 250*time.Millisecond, cfg.Worker.MismatchCost)
	// Untouched keys keep their defaults.
	assert.Equal(t, 100, cfg.Conductor.QueueCapacity)

	opts := cfg.Options()
	assert.Equal(t, 3, opts.CrossoverFactor)
	assert.Equal(t, 25, opts.PoolCapacity)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("CONDUCTOR_CONDUCTOR_CROSSOVER_FACTOR", "8")
	t.Setenv("CONDUCTOR_SERVER_ADDR", "127.0.0.1:4000")

	v, err := New("")
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Conductor.CrossoverFactor)
	assert.Equal(t, "127.0.0.1:4000", cfg.Server.Addr)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("CONDUCTOR_WORKER_KIND", "C")
	t.Setenv("CONDUCTOR_CONDUCTOR_QUEUE_CAPACITY", "0")

	v, err := New("")
	require.NoError(t, err)
	_, err = Load(v)
	require.Error(t, err)

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Len(t, verrs, 2)
	assert.Contains(t, err.Error(), "2 validation errors")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad addr", func(c *Config) { c.Server.Addr = "30121" }, "server.addr"},
		{"bad admin addr", func(c *Config) { c.Server.AdminAddr = "nope" }, "server.admin_addr"},
		{"zero pool", func(c *Config) { c.Conductor.PoolCapacity = 0 }, "conductor.pool_capacity"},
		{"negative factor", func(c *Config) { c.Conductor.CrossoverFactor = -1 }, "conductor.crossover_factor"},
		{"cheap mismatch", func(c *Config) { c.Worker.MismatchCost = time.Second }, "worker.mismatch_cost"},
		{"negative tasks", func(c *Config) { c.Client.Tasks = -1 }, "client.tasks"},
		{"no dial attempts", func(c *Config) { c.Dial.Attempts = 0 }, "dial.attempts"},
		{"dial max below initial", func(c *Config) { c.Dial.Max = time.Millisecond }, "dial.max"},
		{"no workers", func(c *Config) { c.Simulate.WorkersA, c.Simulate.WorkersB = 0, 0 }, "simulate.workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			require.Len(t, errs, 1)
			assert.Equal(t, tt.field, errs[0].Field)
		})
	}
}

func TestEmptyAdminAddrAllowed(t *testing.T) {
	cfg := Default()
	cfg.Server.AdminAddr = ""
	assert.Empty(t, cfg.Validate())
}
