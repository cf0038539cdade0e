package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dapaggregator/internal/dap"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.False(t, cfg.Global.AllowTaskprov)
	_, ok := cfg.TaskprovConfig()
	assert.False(t, ok)
}

func TestLoad_ParsesGlobalAndTaskprov(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
global:
  allow_taskprov: true
  taskprov_version: v04
taskprov:
  vdaf_verify_key_init: "deadbeef"
  hpke_collector_config: "collector-config-bytes"
  leader_auth_token: "leader-secret"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	global := cfg.GlobalConfig()
	assert.True(t, global.AllowTaskprov)
	assert.Equal(t, dap.VersionDraft04, global.TaskprovVersion)

	tp, ok := cfg.TaskprovConfig()
	require.True(t, ok)
	assert.Equal(t, []byte("deadbeef"), tp.VdafVerifyKeyInit)
	assert.Equal(t, []byte("collector-config-bytes"), tp.CollectorHpke)
	assert.Equal(t, "leader-secret", tp.LeaderToken.String())
}

func TestLoad_ResolvesSecretFiles(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "verify-key.secret", "key-from-file\n")
	writeConfig(t, dir, "leader-token.secret", "token-from-file\n")
	path := writeConfig(t, dir, "config.yaml", `
taskprov:
  vdaf_verify_key_init_file: `+filepath.Join(dir, "verify-key.secret")+`
  leader_auth_token_file: `+filepath.Join(dir, "leader-token.secret")+`
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	tp, ok := cfg.TaskprovConfig()
	require.True(t, ok)
	assert.Equal(t, []byte("key-from-file"), tp.VdafVerifyKeyInit)
	assert.Equal(t, "token-from-file", tp.LeaderToken.String())
}

func TestLoad_InlineValueTakesPrecedenceOverFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "verify-key.secret", "from-file")
	path := writeConfig(t, dir, "config.yaml", `
taskprov:
  vdaf_verify_key_init: "inline-value"
  vdaf_verify_key_init_file: `+filepath.Join(dir, "verify-key.secret")+`
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	tp, ok := cfg.TaskprovConfig()
	require.True(t, ok)
	assert.Equal(t, []byte("inline-value"), tp.VdafVerifyKeyInit)
}

func TestLoad_RejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "global: [this is not a mapping")

	_, err := Load(path)
	assert.Error(t, err)
}
