package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(env(nil))
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Stage)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, map[uint64]string{31337: "http://localhost:8545"}, cfg.SandboxChains)
	assert.Equal(t, []string{"hardhat"}, cfg.DevNodeMarkers)
	assert.Equal(t, StoreMemory, cfg.GrantStore)
	assert.False(t, cfg.GrantEvents)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTPAddr)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Empty(t, cfg.MockCoprocessorKey)
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"STAGE":                "prod",
		"SANDBOX_CHAINS":       "31337=http://localhost:8545, 1337 = http://127.0.0.1:7545",
		"DEV_NODE_MARKERS":     "hardhat,anvil",
		"GRANT_STORE":          "redis",
		"GRANT_EVENTS":         "true",
		"HTTP_TIMEOUT":         "5s",
		"MOCK_COPROCESSOR_KEY": "0x4f3edf983ac636a65a842ce7c78d9aa706d3b113bce9c46f30d7d21715b23b1d",
	}))
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Stage)
	assert.Equal(t, []uint64{1337, 31337}, cfg.SandboxChainIDs())
	assert.Equal(t, "http://127.0.0.1:7545", cfg.SandboxChains[1337])
	assert.Equal(t, []string{"hardhat", "anvil"}, cfg.DevNodeMarkers)
	assert.Equal(t, StoreRedis, cfg.GrantStore)
	assert.True(t, cfg.GrantEvents)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, "0x4f3edf983ac636a65a842ce7c78d9aa706d3b113bce9c46f30d7d21715b23b1d", cfg.MockCoprocessorKey)
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{"store", map[string]string{"GRANT_STORE": "disk"}},
		{"chain entry", map[string]string{"SANDBOX_CHAINS": "31337"}},
		{"chain id", map[string]string{"SANDBOX_CHAINS": "abc=http://x"}},
		{"events flag", map[string]string{"GRANT_EVENTS": "sometimes"}},
		{"http timeout", map[string]string{"HTTP_TIMEOUT": "soon"}},
		{"coprocessor key", map[string]string{"MOCK_COPROCESSOR_KEY": "0x1234"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromEnv(env(tt.vars))
			assert.Error(t, err)
		})
	}
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("HTTP_ADDR=127.0.0.1:9911\n"), 0o600))
	t.Setenv("HTTP_ADDR", "")
	require.NoError(t, os.Unsetenv("HTTP_ADDR"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9911", cfg.HTTPAddr)
}

func TestLoad_MissingFileIsIgnored(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}
