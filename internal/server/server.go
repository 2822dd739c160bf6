// Package server runs the daemon side of the proxy: it accepts client
// sessions, decodes one call per opcode, executes it on a compute runtime and
// writes the result back.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxnlabs/ocland/internal/compute"
	"github.com/fxnlabs/ocland/internal/metrics"
	"github.com/fxnlabs/ocland/internal/notify"
	"github.com/fxnlabs/ocland/internal/store"
	"github.com/fxnlabs/ocland/internal/wire"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxClients bounds concurrent sessions.
const DefaultMaxClients = 32

type Options struct {
	// MaxClients bounds concurrent sessions; further connections are closed
	// right after accept.
	MaxClients int
	// AcceptTimeout bounds the wait for the client side of a detached
	// transfer and for the control half of a session handshake.
	AcceptTimeout time.Duration
	Wire          wire.Options
	Capacities    store.Capacities
}

func (o *Options) applyDefaults() {
	if o.MaxClients <= 0 {
		o.MaxClients = DefaultMaxClients
	}
	if o.AcceptTimeout <= 0 {
		o.AcceptTimeout = 30 * time.Second
	}
}

// Server owns the control and callback listeners.
type Server struct {
	rt   compute.Runtime
	opts Options
	log  *zap.Logger

	ctl net.Listener
	cb  net.Listener
	sem chan struct{}

	nextSession atomic.Uint64

	mu       sync.Mutex
	pending  map[uint64]*notify.Sender
	sessions map[*session]struct{}
	cancel   context.CancelFunc
	closed   bool
	wg       sync.WaitGroup
}

// New returns a server that executes calls on rt. It does not listen yet.
func New(rt compute.Runtime, opts Options, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	opts.applyDefaults()
	return &Server{
		rt:       rt,
		opts:     opts,
		log:      log.Named("server"),
		sem:      make(chan struct{}, opts.MaxClients),
		pending:  make(map[uint64]*notify.Sender),
		sessions: make(map[*session]struct{}),
	}
}

// ListenPair opens the control listener on host:port and the callback
// listener on host:port+1. Port zero picks a free pair.
func ListenPair(host string, port int) (ctl, cb net.Listener, err error) {
	if port != 0 {
		ctl, err = net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			return nil, nil, err
		}
		cb, err = net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port+1)))
		if err != nil {
			ctl.Close()
			return nil, nil, err
		}
		return ctl, cb, nil
	}
	for attempt := 0; attempt < 32; attempt++ {
		ctl, err = net.Listen("tcp", net.JoinHostPort(host, "0"))
		if err != nil {
			return nil, nil, err
		}
		p := ctl.Addr().(*net.TCPAddr).Port
		cb, err = net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(p+1)))
		if err == nil {
			return ctl, cb, nil
		}
		ctl.Close()
	}
	return nil, nil, fmt.Errorf("no free port pair on %s: %w", host, err)
}

// Listen binds the listener pair for host:port.
func (s *Server) Listen(host string, port int) error {
	ctl, cb, err := ListenPair(host, port)
	if err != nil {
		return err
	}
	s.ctl, s.cb = ctl, cb
	s.log.Info("listening",
		zap.String("control", ctl.Addr().String()),
		zap.String("callback", cb.Addr().String()),
		zap.Int("max_clients", s.opts.MaxClients),
		zap.String("runtime", s.rt.Name()))
	return nil
}

// Addr is the control listener address.
func (s *Server) Addr() net.Addr {
	if s.ctl == nil {
		return nil
	}
	return s.ctl.Addr()
}

// Serve accepts sessions until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	if s.ctl == nil || s.cb == nil {
		return errors.New("server: Serve called before Listen")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil
	}
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.acceptLoop(gctx, s.ctl, s.serveControl) })
	g.Go(func() error { return s.acceptLoop(gctx, s.cb, s.serveCallback) })
	g.Go(func() error {
		<-gctx.Done()
		_ = s.ctl.Close()
		_ = s.cb.Close()
		return nil
	})
	err := g.Wait()

	s.closeSessions()
	s.wg.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Close stops accepting, disconnects every session and waits for them.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	} else {
		if s.ctl != nil {
			_ = s.ctl.Close()
		}
		if s.cb != nil {
			_ = s.cb.Close()
		}
	}
	s.closeSessions()
	s.wg.Wait()
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, handle func(context.Context, net.Conn)) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		handle(ctx, c)
	}
}

func (s *Server) serveControl(ctx context.Context, c net.Conn) {
	select {
	case s.sem <- struct{}{}:
	default:
		metrics.RejectedSessions.Inc()
		s.log.Warn("client limit reached, closing connection",
			zap.String("remote", c.RemoteAddr().String()),
			zap.Int("max_clients", s.opts.MaxClients))
		_ = c.Close()
		return
	}

	sess := newSession(ctx, s, wire.NewConn(c, s.opts.Wire))
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
	metrics.ActiveSessions.Inc()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.sem }()
		defer metrics.ActiveSessions.Dec()
		sess.run()
		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
	}()
}

// serveCallback assigns a session id to a new callback stream. The stream
// waits for the control connection presenting that id.
func (s *Server) serveCallback(ctx context.Context, c net.Conn) {
	conn := wire.NewConn(c, s.opts.Wire)
	id := s.nextSession.Add(1)
	conn.PutU64(id)
	if err := conn.Flush(); err != nil {
		s.log.Debug("callback handshake failed", zap.Error(err))
		_ = conn.Close()
		return
	}
	s.mu.Lock()
	s.pending[id] = notify.NewSender(conn)
	s.mu.Unlock()

	time.AfterFunc(s.opts.AcceptTimeout, func() {
		if sender := s.claim(id); sender != nil {
			s.log.Debug("unclaimed callback stream", zap.Uint64("session", id))
			_ = sender.Close()
		}
	})
}

// claim hands the callback stream registered under id to its session.
func (s *Server) claim(id uint64) *notify.Sender {
	s.mu.Lock()
	defer s.mu.Unlock()
	sender := s.pending[id]
	delete(s.pending, id)
	return sender
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sess := range s.sessions {
		sess.close()
	}
	for id, sender := range s.pending {
		_ = sender.Close()
		delete(s.pending, id)
	}
}
