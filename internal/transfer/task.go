// Package transfer moves bulk payloads either inline on the control
// connection or on a short-lived side connection negotiated per command.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fxnlabs/ocland/internal/cl"
	"github.com/fxnlabs/ocland/internal/wire"
	"go.uber.org/zap"
)

// State tracks a transfer through its negotiation.
type State int32

const (
	Requested State = iota
	AwaitingDecision
	Inline
	Detached
	Complete
	Failed
)

var stateNames = [...]string{"requested", "awaiting_decision", "inline", "detached", "complete", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) && s >= 0 {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Decide resolves a request awaiting its decision: blocking commands move
// their payload inline, the others detach.
func Decide(blocking bool) State {
	if blocking {
		return Inline
	}
	return Detached
}

// Direction of the payload as seen from the client.
type Direction uint8

const (
	Upload Direction = iota
	Download
)

func (d Direction) String() string {
	if d == Upload {
		return "upload"
	}
	return "download"
}

// DefaultRetryInterval is the pause between refused connection attempts.
const DefaultRetryInterval = 10 * time.Millisecond

// DialRetry connects to addr, retrying for as long as the peer refuses the
// connection. Only ctx bounds the retries: a peer that keeps refusing stalls
// the caller until ctx is cancelled.
func DialRetry(ctx context.Context, addr string, opts wire.Options, interval time.Duration) (*wire.Conn, error) {
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	for {
		conn, err := wire.Dial(ctx, addr, opts)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, ctx.Err())
		}
		if !errors.Is(err, syscall.ECONNREFUSED) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial %s: %w", addr, ctx.Err())
		case <-time.After(interval):
		}
	}
}

// Task is one detached transfer running on its own goroutine.
type Task struct {
	Dir  Direction
	Addr string

	state atomic.Int32
	retry time.Duration
	done  chan struct{}
	once  sync.Once
	err   error
	bytes atomic.Uint64
}

// Exchange moves the payload once the side connection is up.
type Exchange func(ctx context.Context, conn *wire.Conn) (int, error)

// Start launches a detached transfer: dial addr, retrying while refused, run
// fn, close. The task stops early when ctx is cancelled.
func Start(ctx context.Context, log *zap.Logger, dir Direction, addr string, opts wire.Options, fn Exchange) *Task {
	return StartWithInterval(ctx, log, dir, addr, opts, DefaultRetryInterval, fn)
}

// StartWithInterval is Start with the pause between refused dials set.
func StartWithInterval(ctx context.Context, log *zap.Logger, dir Direction, addr string, opts wire.Options, interval time.Duration, fn Exchange) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		Dir:   dir,
		Addr:  addr,
		retry: interval,
		done:  make(chan struct{}),
	}
	t.state.Store(int32(Detached))

	go func() {
		defer cancel()
		err := t.run(ctx, opts, fn)
		if err != nil {
			log.Error("detached transfer failed",
				zap.String("direction", dir.String()),
				zap.String("addr", addr),
				zap.Error(err))
		} else {
			log.Debug("detached transfer complete",
				zap.String("direction", dir.String()),
				zap.Uint64("bytes", t.Bytes()))
		}
		t.finish(err)
	}()
	return t
}

func (t *Task) run(ctx context.Context, opts wire.Options, fn Exchange) error {
	conn, err := DialRetry(ctx, t.Addr, opts, t.retry)
	if err != nil {
		return cl.Transport(err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	n, err := fn(ctx, conn)
	t.bytes.Store(uint64(n))
	if err != nil {
		var st cl.Status
		if errors.As(err, &st) {
			return err
		}
		return cl.Transport(err)
	}
	return nil
}

func (t *Task) finish(err error) {
	t.once.Do(func() {
		t.err = err
		if err != nil {
			t.state.Store(int32(Failed))
		} else {
			t.state.Store(int32(Complete))
		}
		close(t.done)
	})
}

// Done is closed when the task finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the failure of a task in state Failed, nil otherwise.
func (t *Task) Err() error {
	if t.State() == Failed {
		return t.err
	}
	return nil
}

// State is Detached while the transfer runs, then Complete or Failed.
func (t *Task) State() State { return State(t.state.Load()) }

// Bytes is the payload size moved by the task.
func (t *Task) Bytes() uint64 { return t.bytes.Load() }

// Wait blocks until the task finished or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Offer is the server side of a detached transfer: an ephemeral listener
// whose port is announced to the client.
type Offer struct {
	ln   net.Listener
	Port uint32
}

// NewOffer listens on an ephemeral port of host.
func NewOffer(host string) (*Offer, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return nil, err
	}
	return &Offer{ln: ln, Port: uint32(ln.Addr().(*net.TCPAddr).Port)}, nil
}

// Accept waits for the single client connection and closes the listener.
func (o *Offer) Accept(ctx context.Context, timeout time.Duration, opts wire.Options) (*wire.Conn, error) {
	defer o.ln.Close()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	stop := context.AfterFunc(ctx, func() { _ = o.ln.Close() })
	defer stop()

	c, err := o.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("accept transfer on port %d: %w", o.Port, ctx.Err())
		}
		return nil, err
	}
	return wire.NewConn(c, opts), nil
}

// Close releases the listener without accepting.
func (o *Offer) Close() error { return o.ln.Close() }
