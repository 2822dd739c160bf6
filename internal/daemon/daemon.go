// Package daemon wires the server process: configuration, logging, the
// compute backend, the listener pair and the metrics endpoint.
package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/fxnlabs/ocland/internal/compression"
	"github.com/fxnlabs/ocland/internal/compute/backends"
	"github.com/fxnlabs/ocland/internal/compute/sim"
	"github.com/fxnlabs/ocland/internal/config"
	"github.com/fxnlabs/ocland/internal/logger"
	"github.com/fxnlabs/ocland/internal/metrics"
	"github.com/fxnlabs/ocland/internal/server"
	"github.com/fxnlabs/ocland/internal/store"
	"github.com/fxnlabs/ocland/internal/wire"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// Module provides every daemon component. The caller supplies the
// *config.Config.
var Module = fx.Options(
	fx.Provide(
		NewLogger,
		NewBackends,
		NewServer,
	),
	fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
		return &fxevent.ZapLogger{Logger: log.Named("fx")}
	}),
	fx.Invoke(func(*server.Server) {}),
	fx.Invoke(RegisterMetrics),
)

func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.NewWithFile(cfg.Logger.Verbosity, cfg.Logger.File)
}

func simOptions(cfg *config.Config) sim.Options {
	opts := sim.DefaultOptions()
	s := cfg.Server.Sim
	if s.PlatformName != "" {
		opts.PlatformName = s.PlatformName
	}
	if s.CPUDevices > 0 || s.GPUDevices > 0 {
		opts.CPUDevices, opts.GPUDevices = s.CPUDevices, s.GPUDevices
	}
	if s.ComputeUnits > 0 {
		opts.ComputeUnits = s.ComputeUnits
	}
	if s.GlobalMemSize > 0 {
		opts.GlobalMemSize = s.GlobalMemSize
	}
	if s.LocalMemSize > 0 {
		opts.LocalMemSize = s.LocalMemSize
	}
	return opts
}

// NewBackends selects the compute runtime and releases it on stop.
func NewBackends(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*backends.Manager, error) {
	m, err := backends.NewManager(cfg.Server.Backend, backends.Factories(simOptions(cfg)), log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return m.Close() },
	})
	return m, nil
}

// WireOptions derives the framing shared by daemon and client.
func WireOptions(cfg *config.Config) wire.Options {
	opts := wire.Options{MaxLength: cfg.Transfer.MaxLength}
	if cfg.CompressionEnabled() {
		opts.Codec = compression.NewLZ4Codec(cfg.Transfer.MinCompressSize, cfg.Transfer.MaxLength)
	}
	return opts
}

// NewServer binds the listener pair on start and serves until stop.
func NewServer(lc fx.Lifecycle, cfg *config.Config, mgr *backends.Manager, log *zap.Logger) (*server.Server, error) {
	caps, err := config.Capacities(cfg.Server.Capacities)
	if err != nil {
		return nil, err
	}
	srv := server.New(mgr.Runtime(), server.Options{
		MaxClients:    cfg.Server.MaxClients,
		AcceptTimeout: cfg.Transfer.AcceptTimeout,
		Wire:          WireOptions(cfg),
		Capacities:    store.Capacities(caps),
	}, log)

	done := make(chan error, 1)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := srv.Listen(cfg.Server.ListenAddress, cfg.Server.Port); err != nil {
				return err
			}
			go func() { done <- srv.Serve(context.Background()) }()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			_ = srv.Close()
			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
	return srv, nil
}

// RegisterMetrics serves /metrics when enabled.
func RegisterMetrics(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) {
	if !cfg.Metrics.Enabled {
		return
	}
	log = log.Named("metrics")
	hs := &http.Server{
		Addr:              cfg.Metrics.ListenAddress,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", hs.Addr)
			if err != nil {
				return err
			}
			log.Info("serving metrics", zap.String("address", ln.Addr().String()))
			go func() {
				if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return hs.Shutdown(ctx)
		},
	})
}
