package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuselabs/fuseforge/internal/config"
)

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := config.Load("")
		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.Server.Addr)
		assert.Equal(t, 10*time.Minute, cfg.Reconcile.StuckDeadline.Std())
		assert.Empty(t, cfg.Redis.Addr, "memory adapters by default")
	})

	t.Run("YAML Overrides", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
redis:
  addr: "localhost:6379"
reconcile:
  stuckDeadline: 2m
`), 0o600))

		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, ":9090", cfg.Server.Addr)
		assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
		assert.Equal(t, 2*time.Minute, cfg.Reconcile.StuckDeadline.Std())
		// Untouched sections keep their defaults.
		assert.Equal(t, 90*time.Second, cfg.Mint.Timeout.Std())
	})

	t.Run("Env Wins Over File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9090\"\n"), 0o600))
		t.Setenv("FUSEFORGE_ADDR", ":7070")
		t.Setenv("FUSEFORGE_STUCK_DEADLINE", "90s")

		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, ":7070", cfg.Server.Addr)
		assert.Equal(t, 90*time.Second, cfg.Reconcile.StuckDeadline.Std())
	})

	t.Run("Invalid Timeout Rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("mint:\n  timeout: -1s\n"), 0o600))

		_, err := config.Load(path)
		assert.Error(t, err)
	})

	t.Run("Missing File Errors", func(t *testing.T) {
		_, err := config.Load("/nonexistent/config.yaml")
		assert.Error(t, err)
	})
}
