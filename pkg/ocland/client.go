// Package ocland is the client side of the compute API proxy. A Client
// exposes one method per API entry point; each call translates local handles
// into the identifiers of the server that owns the objects, forwards the call
// over that server's control connection and maps the reply back.
package ocland

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/fxnlabs/ocland/internal/cl"
	"github.com/fxnlabs/ocland/internal/compression"
	"github.com/fxnlabs/ocland/internal/config"
	"github.com/fxnlabs/ocland/internal/handles"
	"github.com/fxnlabs/ocland/internal/notify"
	"github.com/fxnlabs/ocland/internal/transfer"
	"github.com/fxnlabs/ocland/internal/wire"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handles held by applications. Each kind has its own table; values never
// collide across kinds.
type (
	Platform     handles.Handle
	Device       handles.Handle
	Context      handles.Handle
	CommandQueue handles.Handle
	Mem          handles.Handle
	Sampler      handles.Handle
	Program      handles.Handle
	Kernel       handles.Handle
	Event        handles.Handle
)

var errClosed = errors.New("connection closed")

// Options configures a Client.
type Options struct {
	// Servers lists daemon addresses as accepted by config.ParseAddress.
	Servers       []string
	DialTimeout   time.Duration
	RetryInterval time.Duration
	Wire          wire.Options
	Capacities    map[cl.Kind]int
	// NoCallbacks skips the callback stream; context notifications are then
	// lost.
	NoCallbacks bool
}

// OptionsFromConfig builds client options from the configuration file and
// the server list it points at. Explicit servers replace the list.
func OptionsFromConfig(cfg *config.Config, servers ...string) (Options, error) {
	if len(servers) == 0 {
		var err error
		servers, err = config.LoadServerList(cfg.Client.ServerList)
		if err != nil {
			return Options{}, err
		}
	}
	caps, err := config.Capacities(cfg.Client.Capacities)
	if err != nil {
		return Options{}, err
	}
	opts := Options{
		Servers:       servers,
		DialTimeout:   cfg.Client.DialTimeout,
		RetryInterval: cfg.Transfer.RetryInterval,
		Wire:          wire.Options{MaxLength: cfg.Transfer.MaxLength},
		Capacities:    caps,
	}
	if cfg.CompressionEnabled() {
		opts.Wire.Codec = compression.NewLZ4Codec(cfg.Transfer.MinCompressSize, cfg.Transfer.MaxLength)
	}
	return opts, nil
}

// Server is one connected daemon. Calls on a server are serialized so the
// requests reach it in the order they were issued.
type Server struct {
	Addr    string
	host    string
	session uint64

	mu   sync.Mutex
	conn *wire.Conn
	cb   *wire.Conn
}

// Client forwards compute API calls to a set of servers.
type Client struct {
	opts Options
	log  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	once      sync.Once
	servers   []*Server
	platforms []Platform

	tables [9]*handles.Table[*Server]

	mu         sync.Mutex
	eventTasks map[Event]*transfer.Task
	queueTasks map[CommandQueue][]*transfer.Task
	elemSizes  map[Mem]uint64
	subDevices map[Device]struct{}
	extraRefs  map[handles.Handle]int

	notes  chan Notification
	wg     sync.WaitGroup
	closed bool
}

// New creates a client. Servers are contacted on the first platform query.
func New(opts Options, log *zap.Logger) *Client {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = transfer.DefaultRetryInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		opts:       opts,
		log:        log.Named("ocland"),
		ctx:        ctx,
		cancel:     cancel,
		eventTasks: make(map[Event]*transfer.Task),
		queueTasks: make(map[CommandQueue][]*transfer.Task),
		elemSizes:  make(map[Mem]uint64),
		subDevices: make(map[Device]struct{}),
		extraRefs:  make(map[handles.Handle]int),
		notes:      make(chan Notification, 64),
	}
	for _, k := range cl.Kinds {
		n, ok := opts.Capacities[k]
		if !ok || n <= 0 {
			n = handles.DefaultCapacity(k)
		}
		c.tables[k] = handles.NewTable[*Server](k, n)
	}
	return c
}

// Servers returns the servers that answered the platform query.
func (c *Client) Servers() []*Server {
	c.init()
	return c.servers
}

// Close cancels the detached transfers, closes every connection and drops
// all handles.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	var errs []error
	for _, srv := range c.servers {
		if err := srv.close(); err != nil {
			errs = append(errs, err)
		}
		for _, t := range c.tables {
			if n := t.RemoveServer(srv); n > 0 {
				c.log.Debug("dropped live handles",
					zap.String("addr", srv.Addr),
					zap.Stringer("kind", t.Kind()),
					zap.Int("count", n),
					zap.Int("left", t.Len()))
			}
		}
	}
	c.wg.Wait()
	close(c.notes)
	return errors.Join(errs...)
}

// init connects to every configured server once and keeps the platforms
// that can serve the client.
func (c *Client) init() {
	c.once.Do(func() {
		servers := make([]*Server, len(c.opts.Servers))
		g, ctx := errgroup.WithContext(c.ctx)
		for i, addr := range c.opts.Servers {
			i, addr := i, addr
			g.Go(func() error {
				dctx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
				defer cancel()
				srv, err := c.dial(dctx, addr)
				if err != nil {
					c.log.Warn("server unavailable", zap.String("addr", addr), zap.Error(err))
					return nil
				}
				servers[i] = srv
				return nil
			})
		}
		_ = g.Wait()

		for _, srv := range servers {
			if srv == nil {
				continue
			}
			platforms, err := c.serverPlatforms(srv)
			if err != nil {
				c.log.Warn("platform query failed", zap.String("addr", srv.Addr), zap.Error(err))
			}
			c.servers = append(c.servers, srv)
			c.platforms = append(c.platforms, platforms...)
			if srv.cb != nil {
				c.wg.Add(1)
				go c.listen(srv)
			}
		}
		c.log.Info("servers connected",
			zap.Int("configured", len(c.opts.Servers)),
			zap.Int("connected", len(c.servers)),
			zap.Int("platforms", len(c.platforms)))
	})
}

// dial opens the callback stream, which hands out the session id, then the
// control connection presenting it.
func (c *Client) dial(ctx context.Context, addr string) (*Server, error) {
	addr, err := config.ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in %s: %w", addr, err)
	}
	srv := &Server{Addr: addr, host: host}

	if !c.opts.NoCallbacks {
		cb, err := wire.Dial(ctx, net.JoinHostPort(host, strconv.Itoa(port+1)), c.opts.Wire)
		if err != nil {
			c.log.Debug("no callback stream", zap.String("addr", addr), zap.Error(err))
		} else {
			_ = cb.SetDeadline(time.Now().Add(c.opts.DialTimeout))
			srv.session = cb.U64()
			if err := cb.Err(); err != nil {
				_ = cb.Close()
				srv.session = 0
			} else {
				_ = cb.SetDeadline(time.Time{})
				srv.cb = cb
			}
		}
	}

	conn, err := wire.Dial(ctx, addr, c.opts.Wire)
	if err != nil {
		if srv.cb != nil {
			_ = srv.cb.Close()
		}
		return nil, err
	}
	conn.PutU64(srv.session)
	if err := conn.Flush(); err != nil {
		_ = conn.Close()
		if srv.cb != nil {
			_ = srv.cb.Close()
		}
		return nil, err
	}
	srv.conn = conn
	return srv, nil
}

// Traffic reports the bytes moved over the control connection.
func (s *Server) Traffic() (sent, received uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return 0, 0
	}
	return s.conn.Traffic()
}

func (s *Server) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.conn != nil {
		err = s.conn.Close()
		s.conn = nil
	}
	if s.cb != nil {
		_ = s.cb.Close()
	}
	return err
}

// exchange sends one request and reads its whole reply, status included.
// A transport failure closes the connection for good.
func (s *Server) exchange(op cl.Opcode, send func(w *wire.Writer), recv func(r *wire.Reader) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return cl.Transport(errClosed)
	}
	w := s.conn.Writer
	w.PutU32(uint32(op))
	if send != nil {
		send(w)
	}
	if err := w.Flush(); err != nil {
		return s.broken(op, err)
	}
	err := recv(s.conn.Reader)
	if rerr := s.conn.Reader.Err(); rerr != nil {
		return s.broken(op, rerr)
	}
	return err
}

// call is exchange for the usual reply shape: status, then the call's
// results when the status is success.
func (s *Server) call(op cl.Opcode, send func(w *wire.Writer), recv func(r *wire.Reader) error) error {
	return s.exchange(op, send, func(r *wire.Reader) error {
		st := cl.Status(r.I32())
		if r.Err() != nil || st != cl.Success {
			return st.Err()
		}
		if recv == nil {
			return nil
		}
		return recv(r)
	})
}

func (s *Server) broken(op cl.Opcode, err error) error {
	_ = s.conn.Close()
	s.conn = nil
	return cl.Transport(fmt.Errorf("%s to %s: %w", op, s.Addr, err))
}

// lookup resolves a handle of kind k.
func (c *Client) lookup(k cl.Kind, h handles.Handle) (*Server, uint64, error) {
	rec, err := c.tables[k].Resolve(h)
	if err != nil {
		return nil, 0, err
	}
	return rec.Server, uint64(rec.Peer), nil
}

// peerOn resolves h and checks that srv owns it. A zero handle is the null
// object and maps to peer id zero.
func (c *Client) peerOn(srv *Server, k cl.Kind, h handles.Handle, invalid cl.Status) (uint64, error) {
	if h == 0 {
		return 0, nil
	}
	rec, ok := c.tables[k].Lookup(h)
	if !ok || rec.Server != srv {
		return 0, invalid
	}
	return uint64(rec.Peer), nil
}

// peersOn resolves a list of handles that must all live on srv.
func peersOn[H ~uint64](c *Client, srv *Server, k cl.Kind, hs []H, invalid cl.Status) ([]uint64, error) {
	out := make([]uint64, len(hs))
	for i, h := range hs {
		if h == 0 {
			return nil, invalid
		}
		p, err := c.peerOn(srv, k, handles.Handle(h), invalid)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// owner resolves a list of handles that must share one server.
func owner[H ~uint64](c *Client, k cl.Kind, hs []H, invalid cl.Status) (*Server, []uint64, error) {
	if len(hs) == 0 {
		return nil, nil, cl.InvalidValue
	}
	srv, _, err := c.lookup(k, handles.Handle(hs[0]))
	if err != nil {
		return nil, nil, invalid
	}
	peers, err := peersOn(c, srv, k, hs, invalid)
	return srv, peers, err
}

// mint records an object the server just created. When the table is full
// the server object is released again.
func (c *Client) mint(k cl.Kind, srv *Server, peer uint64) (handles.Handle, error) {
	h, err := c.tables[k].Insert(srv, handles.PeerID(peer))
	if err != nil {
		if op, ok := releaseOps[k]; ok {
			_ = srv.call(op, func(w *wire.Writer) { w.PutU64(peer) }, nil)
		}
		return 0, fmt.Errorf("%w: %w", cl.OutOfResources, err)
	}
	return h, nil
}

// local maps a peer id in a reply back to a handle. Platforms and devices
// are interned on first sight; other unknown ids map to the null handle.
func (c *Client) local(srv *Server, k cl.Kind, peer uint64) handles.Handle {
	if peer == 0 {
		return 0
	}
	if k == cl.KindPlatform || k == cl.KindDevice {
		h, err := c.tables[k].Intern(srv, handles.PeerID(peer))
		if err != nil {
			return 0
		}
		return h
	}
	h, _ := c.tables[k].Local(srv, handles.PeerID(peer))
	return h
}

var retainOps = map[cl.Kind]cl.Opcode{
	cl.KindDevice:  cl.OpRetainDevice,
	cl.KindContext: cl.OpRetainContext,
	cl.KindQueue:   cl.OpRetainCommandQueue,
	cl.KindMem:     cl.OpRetainMemObject,
	cl.KindSampler: cl.OpRetainSampler,
	cl.KindProgram: cl.OpRetainProgram,
	cl.KindKernel:  cl.OpRetainKernel,
	cl.KindEvent:   cl.OpRetainEvent,
}

var releaseOps = map[cl.Kind]cl.Opcode{
	cl.KindDevice:  cl.OpReleaseDevice,
	cl.KindContext: cl.OpReleaseContext,
	cl.KindQueue:   cl.OpReleaseCommandQueue,
	cl.KindMem:     cl.OpReleaseMemObject,
	cl.KindSampler: cl.OpReleaseSampler,
	cl.KindProgram: cl.OpReleaseProgram,
	cl.KindKernel:  cl.OpReleaseKernel,
	cl.KindEvent:   cl.OpReleaseEvent,
}

func (c *Client) retain(k cl.Kind, h handles.Handle) error {
	srv, peer, err := c.lookup(k, h)
	if err != nil {
		return err
	}
	if err := srv.call(retainOps[k], func(w *wire.Writer) { w.PutU64(peer) }, nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.extraRefs[h]++
	c.mu.Unlock()
	return nil
}

// release forwards a release. The table entry goes away with the last
// reference the client took, once the server reported success. It reports
// whether the handle is gone.
func (c *Client) release(k cl.Kind, h handles.Handle) (bool, error) {
	srv, peer, err := c.lookup(k, h)
	if err != nil {
		return false, err
	}
	if err := srv.call(releaseOps[k], func(w *wire.Writer) { w.PutU64(peer) }, nil); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.extraRefs[h] > 0 {
		c.extraRefs[h]--
		if c.extraRefs[h] == 0 {
			delete(c.extraRefs, h)
		}
		return false, nil
	}
	c.tables[k].Remove(h)
	return true, nil
}

// Notification is a context error reported by a server.
type Notification struct {
	Server      string
	Context     Context
	ErrInfo     string
	PrivateInfo []byte
	SentAt      time.Time
}

// Notifications delivers context errors from every server. The channel is
// closed by Close. Notifications are dropped when nobody reads them.
func (c *Client) Notifications() <-chan Notification {
	return c.notes
}

func (c *Client) listen(srv *Server) {
	defer c.wg.Done()
	for {
		n, err := notify.Receive(srv.cb.Reader)
		if err != nil {
			if c.ctx.Err() == nil {
				c.log.Debug("callback stream closed", zap.String("addr", srv.Addr), zap.Error(err))
			}
			return
		}
		note := Notification{
			Server:      srv.Addr,
			Context:     Context(c.local(srv, cl.KindContext, n.Context)),
			ErrInfo:     n.ErrInfo,
			PrivateInfo: n.PrivateInfo,
			SentAt:      time.Unix(0, n.SentAt),
		}
		c.log.Warn("context error",
			zap.String("addr", srv.Addr),
			zap.Uint64("context", uint64(note.Context)),
			zap.String("info", n.ErrInfo))
		select {
		case c.notes <- note:
		default:
			c.log.Warn("notification dropped", zap.String("addr", srv.Addr))
		}
	}
}
