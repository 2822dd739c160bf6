package sim

import (
	"context"
	"sync"
	"time"

	"github.com/fxnlabs/ocland/internal/cl"
	"github.com/fxnlabs/ocland/internal/compute"
)

type event struct {
	refCount
	ctx     *simContext
	queue   *queue
	cmdType uint32
	user    bool

	mu     sync.Mutex
	status int32
	set    bool
	done   chan struct{}
	// queued, submit, start, end in nanoseconds
	times [4]uint64
}

func newEvent(ctx *simContext, q *queue, cmdType uint32) *event {
	e := &event{
		ctx:     ctx,
		queue:   q,
		cmdType: cmdType,
		status:  cl.Queued,
		done:    make(chan struct{}),
	}
	e.times[0] = now()
	e.init()
	return e
}

func now() uint64 { return uint64(time.Now().UnixNano()) }

func asEvent(o compute.Object) (*event, error) {
	e, ok := o.(*event)
	if !ok || !e.live() {
		return nil, cl.InvalidEvent
	}
	return e, nil
}

// transition moves the event to status. Terminal states (complete or
// negative) close done exactly once and later transitions are ignored.
func (e *event) transition(status int32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminal() {
		return
	}
	e.status = status
	switch {
	case status == cl.Submitted:
		e.times[1] = now()
	case status == cl.Running:
		e.times[2] = now()
	case status <= cl.Complete:
		t := now()
		if e.times[1] == 0 {
			e.times[1] = t
		}
		if e.times[2] == 0 {
			e.times[2] = t
		}
		e.times[3] = t
		close(e.done)
	}
}

func (e *event) terminal() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

func (e *event) Status() int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// wait blocks until the event is terminal and returns its status.
func (e *event) wait(ctx context.Context) (int32, error) {
	select {
	case <-e.done:
		return e.Status(), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// asWaitList resolves a wait list. Every event must be live and belong to c.
func asWaitList(c *simContext, objs []compute.Event) ([]*event, error) {
	out := make([]*event, 0, len(objs))
	for _, o := range objs {
		e, ok := o.(*event)
		if !ok || !e.live() {
			return nil, cl.InvalidEventWaitList
		}
		if e.ctx != c {
			return nil, cl.InvalidContext
		}
		out = append(out, e)
	}
	return out, nil
}

func (rt *Runtime) WaitForEvents(ctx context.Context, objs []compute.Event) error {
	if len(objs) == 0 {
		return cl.InvalidValue
	}
	events := make([]*event, len(objs))
	for i, o := range objs {
		e, err := asEvent(o)
		if err != nil {
			return err
		}
		if i > 0 && e.ctx != events[0].ctx {
			return cl.InvalidContext
		}
		events[i] = e
	}
	failed := false
	for _, e := range events {
		status, err := e.wait(ctx)
		if err != nil {
			return err
		}
		if status < 0 {
			failed = true
		}
	}
	if failed {
		return cl.ExecStatusErrorForEventsInWaitList
	}
	return nil
}

func (rt *Runtime) EventInfo(o compute.Event, param uint32) (compute.Info, error) {
	e, err := asEvent(o)
	if err != nil {
		return compute.Info{}, err
	}
	switch param {
	case cl.EventCommandQueue:
		if e.queue == nil {
			return compute.ObjectsInfo(nil), nil
		}
		return compute.ObjectsInfo(e.queue), nil
	case cl.EventContext:
		return compute.ObjectsInfo(e.ctx), nil
	case cl.EventCommandType:
		return compute.Uint32Info(e.cmdType), nil
	case cl.EventReferenceCount:
		return compute.Uint32Info(e.count()), nil
	case cl.EventCommandExecutionStatus:
		return compute.Int32Info(e.Status()), nil
	}
	return compute.Info{}, cl.InvalidValue
}

func (rt *Runtime) EventProfilingInfo(o compute.Event, param uint32) (compute.Info, error) {
	e, err := asEvent(o)
	if err != nil {
		return compute.Info{}, err
	}
	if e.user || e.queue == nil || e.queue.props&cl.QueueProfilingEnable == 0 || !e.terminal() {
		return compute.Info{}, cl.ProfilingInfoNotAvailable
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch param {
	case cl.ProfilingCommandQueued:
		return compute.Uint64Info(e.times[0]), nil
	case cl.ProfilingCommandSubmit:
		return compute.Uint64Info(e.times[1]), nil
	case cl.ProfilingCommandStart:
		return compute.Uint64Info(e.times[2]), nil
	case cl.ProfilingCommandEnd:
		return compute.Uint64Info(e.times[3]), nil
	}
	return compute.Info{}, cl.InvalidValue
}

func (rt *Runtime) CreateUserEvent(o compute.Context) (compute.Event, error) {
	c, err := asContext(o)
	if err != nil {
		return nil, err
	}
	e := newEvent(c, nil, cl.CommandUser)
	e.user = true
	e.status = cl.Submitted
	return e, nil
}

func (rt *Runtime) SetUserEventStatus(o compute.Event, status int32) error {
	e, err := asEvent(o)
	if err != nil {
		return err
	}
	if !e.user {
		return cl.InvalidEvent
	}
	if status > cl.Complete {
		return cl.InvalidValue
	}
	e.mu.Lock()
	if e.set {
		e.mu.Unlock()
		return cl.InvalidOperation
	}
	e.set = true
	e.mu.Unlock()
	e.transition(status)
	return nil
}
