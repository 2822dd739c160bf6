// Package backends selects the compute runtime the daemon forwards calls to.
package backends

import (
	"fmt"
	"sort"
	"sync"

	"github.com/fxnlabs/ocland/internal/compute"
	"github.com/fxnlabs/ocland/internal/compute/sim"
	"go.uber.org/zap"
)

// Fallback is the backend used when the requested one is unknown or fails to
// start.
const Fallback = "sim"

// Factory builds a runtime.
type Factory func(log *zap.Logger) (compute.Runtime, error)

// Factories returns the in-tree backends. "sim" exposes the devices described
// by opts and "sim-cpu" the same platform without GPU devices.
func Factories(opts sim.Options) map[string]Factory {
	cpuOnly := opts
	cpuOnly.GPUDevices = 0
	if cpuOnly.CPUDevices == 0 {
		cpuOnly.CPUDevices = 1
	}
	return map[string]Factory{
		"sim": func(log *zap.Logger) (compute.Runtime, error) {
			return sim.New(opts, log), nil
		},
		"sim-cpu": func(log *zap.Logger) (compute.Runtime, error) {
			return sim.New(cpuOnly, log), nil
		},
	}
}

// Manager owns the selected runtime.
type Manager struct {
	mu      sync.RWMutex
	runtime compute.Runtime
	name    string
	log     *zap.Logger
}

// NewManager starts the backend called preferred, falling back to the sim
// backend when it is unknown or fails.
func NewManager(preferred string, factories map[string]Factory, log *zap.Logger) (*Manager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{log: log.Named("backends")}
	if err := m.detectAndInitialize(preferred, factories); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) detectAndInitialize(preferred string, factories map[string]Factory) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if preferred == "" {
		preferred = Fallback
	}
	if f, ok := factories[preferred]; ok {
		rt, err := f(m.log)
		if err == nil {
			m.runtime, m.name = rt, preferred
			m.log.Info("compute backend selected", zap.String("backend", preferred))
			return nil
		}
		m.log.Warn("compute backend failed to start",
			zap.String("backend", preferred), zap.Error(err))
	} else {
		m.log.Warn("unknown compute backend",
			zap.String("backend", preferred), zap.Strings("available", Names(factories)))
	}

	f, ok := factories[Fallback]
	if !ok {
		return fmt.Errorf("no %q backend to fall back to", Fallback)
	}
	rt, err := f(m.log)
	if err != nil {
		return fmt.Errorf("failed to initialize %s backend: %w", Fallback, err)
	}
	m.runtime, m.name = rt, Fallback
	m.log.Info("compute backend selected", zap.String("backend", Fallback))
	return nil
}

// Names lists the registered backends in order.
func Names(factories map[string]Factory) []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Runtime returns the active runtime, nil after Close.
func (m *Manager) Runtime() compute.Runtime {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runtime
}

// BackendType names the active backend.
func (m *Manager) BackendType() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.runtime == nil {
		return "none"
	}
	return m.name
}

// Close releases the runtime.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runtime == nil {
		return nil
	}
	err := m.runtime.Close()
	m.runtime = nil
	return err
}
