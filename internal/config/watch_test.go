package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
global:
  allow_taskprov: false
`)

	changes := make(chan FileConfig, 4)
	w := NewWatcher(path, 10*time.Millisecond, func(cfg FileConfig) { changes <- cfg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`
global:
  allow_taskprov: true
`), 0o644))

	select {
	case cfg := <-changes:
		assert.True(t, cfg.Global.AllowTaskprov)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcher_DebouncesRapidWrites(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `global: {allow_taskprov: false}`)

	changes := make(chan FileConfig, 8)
	w := NewWatcher(path, 100*time.Millisecond, func(cfg FileConfig) { changes <- cfg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte(`global: {allow_taskprov: true}`), 0o644))
	}

	select {
	case <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	select {
	case <-changes:
		t.Fatal("expected rapid writes to debounce into a single reload")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", `global: {allow_taskprov: false}`)
	w := NewWatcher(path, 0, func(FileConfig) {})

	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
