package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	mr := miniredis.RunT(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, env(map[string]string{
			"REDIS_URL":         "redis://" + mr.Addr() + "/0",
			"AGORA_LISTEN_ADDR": "127.0.0.1:0",
		}))
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestRun_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agora.yml")
	require.NoError(t, os.WriteFile(path, []byte(`version: "1.0"
instance: team-a
store:
  driver: sqlite
  sqlite_path: `+filepath.Join(dir, "agora.db")+`
server:
  addr: 127.0.0.1:0
logging:
  output: `+filepath.Join(dir, "agorad.log")+`
`), 0o600))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, run(ctx, env(map[string]string{"AGORA_CONFIG": path})))

	logged, err := os.ReadFile(filepath.Join(dir, "agorad.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logged), "team-a")
}

func TestRun_Failures(t *testing.T) {
	t.Run("missing config file", func(t *testing.T) {
		err := run(context.Background(), env(map[string]string{"AGORA_CONFIG": "/nonexistent/agora.yml"}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config")
	})

	t.Run("unknown store driver", func(t *testing.T) {
		err := run(context.Background(), env(map[string]string{"AGORA_STORE_DRIVER": "postgres"}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid store.driver")
	})

	t.Run("store unreachable", func(t *testing.T) {
		err := run(context.Background(), env(map[string]string{"REDIS_URL": "redis://127.0.0.1:1/0"}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not accessible")
	})
}
