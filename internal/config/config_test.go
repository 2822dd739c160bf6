package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fxnlabs/ocland/fixtures"
	"github.com/fxnlabs/ocland/internal/cl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		config, err := LoadConfig("../../fixtures/tests/config/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, config)

		assert.Equal(t, "127.0.0.1", config.Server.ListenAddress)
		assert.Equal(t, 52000, config.Server.Port)
		assert.Equal(t, 8, config.Server.MaxClients)
		assert.Equal(t, "sim-cpu", config.Server.Backend)
		assert.Equal(t, "ocland test platform", config.Server.Sim.PlatformName)
		assert.Equal(t, 2, config.Server.Sim.CPUDevices)
		assert.Equal(t, uint32(8), config.Server.Sim.ComputeUnits)
		assert.Equal(t, 1024, config.Server.Capacities["mem"])
		assert.Equal(t, "servers.txt", config.Client.ServerList)
		assert.Equal(t, 5*time.Second, config.Client.DialTimeout)
		assert.Equal(t, "debug", config.Logger.Verbosity)
		assert.Equal(t, "/tmp/ocland.log", config.Logger.File)
		assert.True(t, config.Metrics.Enabled)
		assert.Equal(t, ":9200", config.Metrics.ListenAddress)
		assert.Equal(t, 15*time.Second, config.Transfer.AcceptTimeout)
		assert.Equal(t, 50*time.Millisecond, config.Transfer.RetryInterval)
		assert.Equal(t, uint64(1<<20), config.Transfer.MaxLength)
		assert.False(t, config.CompressionEnabled())
		assert.Equal(t, 512, config.Transfer.MinCompressSize)
	})

	t.Run("defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("logger:\n  verbosity: warn\n"), 0o600))

		config, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "warn", config.Logger.Verbosity)
		assert.Equal(t, DefaultPort, config.Server.Port)
		assert.Equal(t, 32, config.Server.MaxClients)
		assert.Equal(t, "sim", config.Server.Backend)
		assert.Equal(t, DefaultServerList, config.Client.ServerList)
		assert.Equal(t, 30*time.Second, config.Transfer.AcceptTimeout)
		assert.True(t, config.CompressionEnabled())
	})

	t.Run("non-existent file", func(t *testing.T) {
		_, err := LoadConfig("non-existent-file.yaml")
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		dir, err := os.Getwd()
		require.NoError(t, err)

		configPath := filepath.Join(dir, "..", "..", "fixtures", "tests", "invalid_config", "config.yaml")
		_, err = LoadConfig(configPath)
		assert.Error(t, err)
	})
}

func TestDefault(t *testing.T) {
	config := Default()
	assert.Equal(t, "0.0.0.0", config.Server.ListenAddress)
	assert.Equal(t, "info", config.Logger.Verbosity)
	assert.Equal(t, uint64(1<<30), config.Transfer.MaxLength)
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"localhost", "localhost:51000"},
		{"10.0.0.2:6000", "10.0.0.2:6000"},
		{"[::1]", "[::1]:51000"},
		{"[::1]:6000", "[::1]:6000"},
		{"fe80::2", "[fe80::2]:51000"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAddress(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"host:", "host:port", "host:70000", ":51000"} {
		t.Run("invalid "+bad, func(t *testing.T) {
			_, err := ParseAddress(bad)
			assert.Error(t, err)
		})
	}
}

func TestLoadServerList(t *testing.T) {
	t.Run("fixture", func(t *testing.T) {
		t.Setenv(ServerListEnv, "")
		servers, err := LoadServerList("../../fixtures/tests/config/servers.txt")
		require.NoError(t, err)
		assert.Equal(t, []string{
			"gpu-node-1:51000",
			"gpu-node-2:52000",
			"[fe80::1]:51000",
			"[::1]:51010",
		}, servers)
	})

	t.Run("environment override", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "servers")
		require.NoError(t, os.WriteFile(path, []byte("127.0.0.1\n"), 0o600))
		t.Setenv(ServerListEnv, path)

		servers, err := LoadServerList("does-not-exist.txt")
		require.NoError(t, err)
		assert.Equal(t, []string{"127.0.0.1:51000"}, servers)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := ParseServerList(strings.NewReader("# nothing here\n\n"))
		assert.ErrorIs(t, err, ErrEmptyServerList)
	})

	t.Run("bad line", func(t *testing.T) {
		_, err := ParseServerList(strings.NewReader("ok\nbad:port\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 2")
	})

	t.Run("missing file", func(t *testing.T) {
		t.Setenv(ServerListEnv, "")
		_, err := LoadServerList(filepath.Join(t.TempDir(), "missing"))
		assert.Error(t, err)
	})
}

func TestServerListPath(t *testing.T) {
	t.Setenv(ServerListEnv, "")
	assert.Equal(t, DefaultServerList, ServerListPath(""))
	assert.Equal(t, "custom.txt", ServerListPath("custom.txt"))
	t.Setenv(ServerListEnv, "/etc/ocland/servers")
	assert.Equal(t, "/etc/ocland/servers", ServerListPath("custom.txt"))
}

func TestCapacities(t *testing.T) {
	t.Run("known kinds", func(t *testing.T) {
		caps, err := Capacities(map[string]int{"mem": 1024, "command_queue": 8})
		require.NoError(t, err)
		assert.Equal(t, 1024, caps[cl.KindMem])
		assert.Equal(t, 8, caps[cl.KindQueue])
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := Capacities(map[string]int{"buffers": 1})
		assert.ErrorContains(t, err, "buffers")
	})

	t.Run("non-positive size", func(t *testing.T) {
		_, err := Capacities(map[string]int{"event": 0})
		assert.Error(t, err)
	})

	t.Run("empty", func(t *testing.T) {
		caps, err := Capacities(nil)
		require.NoError(t, err)
		assert.Empty(t, caps)
	})
}

func TestTemplates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, fixtures.ConfigTemplate, 0o600))
	config, err := LoadConfig(path)
	require.NoError(t, err)
	def := Default()
	assert.Equal(t, def.Server.Port, config.Server.Port)
	assert.Equal(t, def.Server.MaxClients, config.Server.MaxClients)
	assert.Equal(t, def.Client, config.Client)
	assert.Equal(t, def.Logger, config.Logger)
	assert.Equal(t, def.Metrics, config.Metrics)
	assert.Equal(t, def.Transfer.MaxLength, config.Transfer.MaxLength)
	assert.True(t, config.CompressionEnabled())

	servers, err := ParseServerList(bytes.NewReader(fixtures.ServerListTemplate))
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1:51000"}, servers)
}
