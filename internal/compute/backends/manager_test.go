package backends

import (
	"errors"
	"testing"

	"github.com/fxnlabs/ocland/internal/cl"
	"github.com/fxnlabs/ocland/internal/compute"
	"github.com/fxnlabs/ocland/internal/compute/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewManager(t *testing.T) {
	factories := Factories(sim.DefaultOptions())

	t.Run("default backend", func(t *testing.T) {
		m, err := NewManager("", factories, zap.NewNop())
		require.NoError(t, err)
		defer m.Close()

		assert.Equal(t, "sim", m.BackendType())
		rt := m.Runtime()
		require.NotNil(t, rt)
		platforms, err := rt.Platforms()
		require.NoError(t, err)
		assert.Len(t, platforms, 1)
	})

	t.Run("cpu only backend", func(t *testing.T) {
		m, err := NewManager("sim-cpu", factories, zap.NewNop())
		require.NoError(t, err)
		defer m.Close()

		assert.Equal(t, "sim-cpu", m.BackendType())
		platforms, err := m.Runtime().Platforms()
		require.NoError(t, err)
		_, err = m.Runtime().Devices(platforms[0], cl.DeviceTypeGPU)
		assert.ErrorIs(t, err, cl.DeviceNotFound)
	})

	t.Run("unknown backend falls back", func(t *testing.T) {
		m, err := NewManager("cuda", factories, zap.NewNop())
		require.NoError(t, err)
		defer m.Close()
		assert.Equal(t, Fallback, m.BackendType())
	})

	t.Run("failing backend falls back", func(t *testing.T) {
		withBroken := Factories(sim.DefaultOptions())
		withBroken["broken"] = func(*zap.Logger) (compute.Runtime, error) {
			return nil, errors.New("no device")
		}
		m, err := NewManager("broken", withBroken, zap.NewNop())
		require.NoError(t, err)
		defer m.Close()
		assert.Equal(t, Fallback, m.BackendType())
	})

	t.Run("no fallback", func(t *testing.T) {
		_, err := NewManager("cuda", map[string]Factory{}, zap.NewNop())
		assert.Error(t, err)
	})
}

func TestManagerClose(t *testing.T) {
	m, err := NewManager("sim", Factories(sim.DefaultOptions()), nil)
	require.NoError(t, err)
	require.NoError(t, m.Close())
	assert.Nil(t, m.Runtime())
	assert.Equal(t, "none", m.BackendType())
	assert.NoError(t, m.Close())
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"sim", "sim-cpu"}, Names(Factories(sim.DefaultOptions())))
}
