package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxnlabs/ocland/internal/cl"
	"github.com/fxnlabs/ocland/internal/compute"
	"github.com/fxnlabs/ocland/internal/metrics"
	"github.com/fxnlabs/ocland/internal/notify"
	"github.com/fxnlabs/ocland/internal/store"
	"github.com/fxnlabs/ocland/internal/wire"
	"go.uber.org/zap"
)

// session serves one client connection. Handlers run on the session
// goroutine, one call at a time; detached transfers run on their own
// goroutines bound to ctx.
type session struct {
	srv    *Server
	rt     compute.Runtime
	conn   *wire.Conn
	store  *store.Store
	log    *zap.Logger
	host   string
	ctx    context.Context
	cancel context.CancelFunc

	cbMu sync.Mutex
	cb   *notify.Sender

	// status of the call being handled, for metrics
	status cl.Status

	detached sync.WaitGroup
}

func newSession(parent context.Context, srv *Server, conn *wire.Conn) *session {
	ctx, cancel := context.WithCancel(parent)
	host := ""
	if addr, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		host = addr.IP.String()
	}
	return &session{
		srv:    srv,
		rt:     srv.rt,
		conn:   conn,
		store:  store.New(srv.opts.Capacities),
		log:    srv.log.With(zap.String("remote", conn.RemoteAddr().String())),
		host:   host,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *session) close() {
	s.cancel()
	_ = s.conn.Close()
}

func (s *session) run() {
	defer s.teardown()

	if err := s.handshake(); err != nil {
		s.log.Debug("session handshake failed", zap.Error(err))
		return
	}
	s.log.Info("session started")

	for {
		op := cl.Opcode(s.conn.U32())
		if err := s.conn.Err(); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && s.ctx.Err() == nil {
				s.log.Warn("read failed", zap.Error(err))
			}
			return
		}
		h, ok := handlers[op]
		if !ok {
			s.log.Error("unknown opcode, dropping session", zap.Uint32("opcode", uint32(op)))
			return
		}

		sent, recv := s.conn.Traffic()
		start := time.Now()
		s.status = cl.Success
		err := h(s)
		metrics.CallDuration.WithLabelValues(op.String()).Observe(time.Since(start).Seconds())
		nsent, nrecv := s.conn.Traffic()
		metrics.Bytes.WithLabelValues("sent").Add(float64(nsent - sent))
		metrics.Bytes.WithLabelValues("received").Add(float64(nrecv - recv))
		if err != nil {
			if s.ctx.Err() == nil {
				s.log.Warn("call failed, dropping session", zap.Stringer("opcode", op), zap.Error(err))
			}
			return
		}
		metrics.Calls.WithLabelValues(op.String(), s.status.String()).Inc()
		if s.status != cl.Success {
			s.log.Debug("call returned error", zap.Stringer("opcode", op), zap.Stringer("status", s.status))
		}
	}
}

// handshake reads the callback session id the client was given on the
// callback listener. Zero means no callback stream.
func (s *session) handshake() error {
	_ = s.conn.SetDeadline(time.Now().Add(s.srv.opts.AcceptTimeout))
	id := s.conn.U64()
	if err := s.conn.Err(); err != nil {
		return err
	}
	_ = s.conn.SetDeadline(time.Time{})
	if id == 0 {
		return nil
	}
	cb := s.srv.claim(id)
	if cb == nil {
		s.log.Warn("unknown callback session", zap.Uint64("session", id))
		return nil
	}
	s.cb = cb
	s.log = s.log.With(zap.Uint64("session", id))
	return nil
}

// teardown releases everything the client left behind.
func (s *session) teardown() {
	s.cancel()
	s.detached.Wait()
	_ = s.conn.Close()

	s.cbMu.Lock()
	if s.cb != nil {
		_ = s.cb.Close()
		s.cb = nil
	}
	s.cbMu.Unlock()

	leftovers := s.store.Drain()
	for _, l := range leftovers {
		for i := 0; i < l.Refs; i++ {
			if err := s.rt.Release(l.Obj); err != nil {
				break
			}
		}
	}
	s.log.Info("session ended", zap.Int("leftover_objects", len(leftovers)))
}

// notifyFunc returns the callback that forwards context errors for the
// context whose peer id is stored in id once the context exists.
func (s *session) notifyFunc(id *atomic.Uint64) compute.NotifyFunc {
	return func(errInfo string, private []byte) {
		s.cbMu.Lock()
		defer s.cbMu.Unlock()
		if s.cb == nil {
			s.log.Debug("context notification dropped", zap.String("err_info", errInfo))
			return
		}
		err := s.cb.Send(notify.Notification{Context: id.Load(), ErrInfo: errInfo, PrivateInfo: private})
		if err != nil {
			s.log.Warn("callback stream failed", zap.Error(err))
			return
		}
		metrics.Notifications.Inc()
	}
}

// Replies. Every reply starts with the status; a failing call writes only
// the status.

func (s *session) fail(err error) error {
	st := cl.StatusOf(err)
	if st == cl.Success {
		st = cl.OutOfResources
	}
	s.status = st
	s.conn.PutI32(int32(st))
	return s.conn.Flush()
}

func (s *session) ok() {
	s.status = cl.Success
	s.conn.PutI32(int32(cl.Success))
}

func (s *session) done() error { return s.conn.Flush() }

// succeed replies success with no payload.
func (s *session) succeed(err error) error {
	if err != nil {
		return s.fail(err)
	}
	s.ok()
	return s.done()
}

// Resolution.

func (s *session) resolve(k cl.Kind, id uint64) (compute.Object, error) {
	return s.store.Resolve(k, store.ID(id))
}

// resolveOptional maps id 0 to nil.
func (s *session) resolveOptional(k cl.Kind, id uint64) (compute.Object, error) {
	if id == 0 {
		return nil, nil
	}
	return s.resolve(k, id)
}

func (s *session) resolveAll(k cl.Kind, ids []uint64) ([]compute.Object, error) {
	out := make([]compute.Object, len(ids))
	for i, id := range ids {
		obj, err := s.resolve(k, id)
		if err != nil {
			return nil, err
		}
		out[i] = obj
	}
	return out, nil
}

// insert stores a new object; on failure the runtime reference is dropped.
func (s *session) insert(k cl.Kind, obj compute.Object) (store.ID, error) {
	id, err := s.store.Insert(k, obj)
	if err != nil {
		_ = s.rt.Release(obj)
		return 0, err
	}
	return id, nil
}

// created replies with the id of a newly created object.
func (s *session) created(k cl.Kind, obj compute.Object, err error) error {
	if err != nil {
		return s.fail(err)
	}
	id, err := s.insert(k, obj)
	if err != nil {
		return s.fail(err)
	}
	s.ok()
	s.conn.PutU64(uint64(id))
	return s.done()
}

func readIDs(r *wire.Reader) []uint64 {
	n := r.U32()
	return r.U64s(int(n))
}

func readTriple(r *wire.Reader) [3]uint64 {
	return [3]uint64{r.U64(), r.U64(), r.U64()}
}

// waitList is the event wait list trailer of an enqueue call.
type waitList struct {
	want bool
	ids  []uint64
}

func readWait(r *wire.Reader) waitList {
	want := r.Bool()
	return waitList{want: want, ids: readIDs(r)}
}

func (s *session) events(w waitList) ([]compute.Event, error) {
	evs, err := s.resolveAll(cl.KindEvent, w.ids)
	if err != nil {
		return nil, cl.InvalidEventWaitList
	}
	return evs, nil
}

// keepEvent stores the event of an enqueued command when the client asked
// for it and drops it otherwise.
func (s *session) keepEvent(ev compute.Event, want bool) (store.ID, error) {
	if !want {
		if ev != nil {
			_ = s.rt.Release(ev)
		}
		return 0, nil
	}
	return s.insert(cl.KindEvent, ev)
}

// enqueued replies to a command that moves no payload.
func (s *session) enqueued(want bool, ev compute.Event, err error) error {
	if err != nil {
		return s.fail(err)
	}
	id, err := s.keepEvent(ev, want)
	if err != nil {
		return s.fail(err)
	}
	s.ok()
	if want {
		s.conn.PutU64(uint64(id))
	}
	return s.done()
}
