package sim

import (
	"context"
	"sync"

	"github.com/fxnlabs/ocland/internal/cl"
	"github.com/fxnlabs/ocland/internal/compute"
	"go.uber.org/zap"
)

type command struct {
	ev   *event
	wait []*event
	run  func() error
}

// queue runs its commands in submission order on one worker goroutine.
type queue struct {
	refCount
	rt    *Runtime
	ctx   *simContext
	dev   *device
	props uint64

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*command
	last    *event
	quit    chan struct{}
	stopped bool
	exited  chan struct{}
}

func asQueue(o compute.Object) (*queue, error) {
	q, ok := o.(*queue)
	if !ok || !q.live() {
		return nil, cl.InvalidCommandQueue
	}
	return q, nil
}

func (rt *Runtime) CreateQueue(co compute.Context, do compute.Device, props uint64) (compute.Queue, error) {
	c, err := asContext(co)
	if err != nil {
		return nil, err
	}
	d, err := asDevice(do)
	if err != nil {
		return nil, err
	}
	if !c.has(d) {
		return nil, cl.InvalidDevice
	}
	if props&^(cl.QueueOutOfOrderExecModeEnable|cl.QueueProfilingEnable) != 0 {
		return nil, cl.InvalidValue
	}

	q := &queue{
		rt:     rt,
		ctx:    c,
		dev:    d,
		props:  props,
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	q.init()
	rt.track(q)
	go q.loop()
	return q, nil
}

func (rt *Runtime) QueueInfo(o compute.Queue, param uint32) (compute.Info, error) {
	q, err := asQueue(o)
	if err != nil {
		return compute.Info{}, err
	}
	switch param {
	case cl.QueueContext:
		return compute.ObjectsInfo(q.ctx), nil
	case cl.QueueDevice:
		return compute.ObjectsInfo(q.dev), nil
	case cl.QueueReferenceCount:
		return compute.Uint32Info(q.count()), nil
	case cl.QueueProperties:
		return compute.Uint64Info(q.props), nil
	}
	return compute.Info{}, cl.InvalidValue
}

// submit appends a command and returns its event.
func (q *queue) submit(cmdType uint32, wait []*event, run func() error) (*event, error) {
	ev := newEvent(q.ctx, q, cmdType)
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return nil, cl.InvalidCommandQueue
	}
	q.pending = append(q.pending, &command{ev: ev, wait: wait, run: run})
	q.last = ev
	q.cond.Signal()
	return ev, nil
}

func (q *queue) next() (*command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) == 0 && !q.stopped {
		q.cond.Wait()
	}
	if len(q.pending) == 0 {
		return nil, false
	}
	cmd := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return cmd, true
}

func (q *queue) loop() {
	defer close(q.exited)
	for {
		cmd, ok := q.next()
		if !ok {
			return
		}
		q.execute(cmd)
	}
}

func (q *queue) execute(cmd *command) {
	for _, w := range cmd.wait {
		select {
		case <-w.done:
		case <-q.quit:
			cmd.ev.transition(int32(cl.OutOfResources))
			return
		}
		if w.Status() < 0 {
			cmd.ev.transition(int32(cl.ExecStatusErrorForEventsInWaitList))
			return
		}
	}
	cmd.ev.transition(cl.Submitted)
	cmd.ev.transition(cl.Running)
	if cmd.run != nil {
		q.rt.exec.Lock()
		err := cmd.run()
		q.rt.exec.Unlock()
		if err != nil {
			status := cl.StatusOf(err)
			q.rt.log.Warn("command failed",
				zap.Uint32("command", cmd.ev.cmdType),
				zap.String("device", q.dev.name),
				zap.Error(err))
			cmd.ev.transition(int32(status))
			q.ctx.raise("command failed: "+status.String(), nil)
			return
		}
	}
	cmd.ev.transition(cl.Complete)
}

// stop fails whatever is still blocked and waits for the worker.
func (q *queue) stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		<-q.exited
		return
	}
	q.stopped = true
	close(q.quit)
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.exited
}

func (q *queue) lastEvent() *event {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.last
}

func (rt *Runtime) Flush(o compute.Queue) error {
	_, err := asQueue(o)
	return err
}

func (rt *Runtime) Finish(ctx context.Context, o compute.Queue) error {
	q, err := asQueue(o)
	if err != nil {
		return err
	}
	last := q.lastEvent()
	if last == nil {
		return nil
	}
	_, err = last.wait(ctx)
	return err
}

// enqueue validates the wait list, submits run and blocks when asked to.
func (rt *Runtime) enqueue(q *queue, cmdType uint32, blocking bool, wait []compute.Event, run func() error) (compute.Event, error) {
	events, err := asWaitList(q.ctx, wait)
	if err != nil {
		return nil, err
	}
	ev, err := q.submit(cmdType, events, run)
	if err != nil {
		return nil, err
	}
	if blocking {
		status, _ := ev.wait(context.Background())
		if status < 0 {
			return ev, cl.Status(status)
		}
	}
	return ev, nil
}

func (rt *Runtime) MarkerWithWaitList(o compute.Queue, wait []compute.Event) (compute.Event, error) {
	q, err := asQueue(o)
	if err != nil {
		return nil, err
	}
	return rt.enqueue(q, cl.CommandMarker, false, wait, nil)
}

func (rt *Runtime) BarrierWithWaitList(o compute.Queue, wait []compute.Event) (compute.Event, error) {
	q, err := asQueue(o)
	if err != nil {
		return nil, err
	}
	return rt.enqueue(q, cl.CommandBarrier, false, wait, nil)
}
