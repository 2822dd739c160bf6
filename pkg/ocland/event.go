package ocland

import (
	"github.com/fxnlabs/ocland/internal/cl"
	"github.com/fxnlabs/ocland/internal/handles"
	"github.com/fxnlabs/ocland/internal/transfer"
	"github.com/fxnlabs/ocland/internal/wire"
)

// EventNotifyFunc is the event callback of the API. It cannot run on the
// client.
type EventNotifyFunc func(e Event, status int32)

// track ties a detached transfer to its queue and, when the caller asked for
// one, to the command's event.
func (c *Client) track(q CommandQueue, ev Event, t *transfer.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev != 0 {
		c.eventTasks[ev] = t
	}
	pending := c.queueTasks[q][:0]
	for _, old := range c.queueTasks[q] {
		select {
		case <-old.Done():
		default:
			pending = append(pending, old)
		}
	}
	c.queueTasks[q] = append(pending, t)
}

func (c *Client) eventTask(ev Event) *transfer.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eventTasks[ev]
}

// WaitForEvents blocks until every event completed. An event whose detached
// transfer failed counts as failed.
func (c *Client) WaitForEvents(events []Event) error {
	if len(events) == 0 {
		return cl.InvalidValue
	}
	srv, peers, err := owner(c, cl.KindEvent, events, cl.InvalidEvent)
	if err != nil {
		return err
	}
	failed := false
	for _, ev := range events {
		t := c.eventTask(ev)
		if t == nil {
			continue
		}
		if err := t.Wait(c.ctx); err != nil {
			failed = true
		}
	}
	err = srv.call(cl.OpWaitForEvents, func(w *wire.Writer) {
		w.PutU32(uint32(len(peers)))
		w.PutU64s(peers)
	}, nil)
	if err != nil {
		return err
	}
	if failed {
		return cl.ExecStatusErrorForEventsInWaitList
	}
	return nil
}

// GetEventInfo queries an event. The execution status of a command with a
// detached transfer reflects the transfer: running until the data moved,
// and the transfer's error status if it failed.
func (c *Client) GetEventInfo(e Event, param uint32, size uint64) ([]byte, uint64, error) {
	value, sizeRet, err := c.objectInfo(cl.KindEvent, cl.OpGetEventInfo, handles.Handle(e), param, size)
	if err != nil || param != cl.EventCommandExecutionStatus || value == nil {
		return value, sizeRet, err
	}
	t := c.eventTask(e)
	if t == nil {
		return value, sizeRet, nil
	}
	switch t.State() {
	case transfer.Failed:
		order.PutUint32(value, uint32(int32(cl.StatusOf(t.Err()))))
	case transfer.Complete:
	default:
		if int32(order.Uint32(value)) == cl.Complete {
			order.PutUint32(value, uint32(cl.Running))
		}
	}
	return value, sizeRet, nil
}

func (c *Client) GetEventProfilingInfo(e Event, param uint32, size uint64) ([]byte, uint64, error) {
	return c.objectInfo(cl.KindEvent, cl.OpGetEventProfilingInfo, handles.Handle(e), param, size)
}

func (c *Client) RetainEvent(e Event) error {
	return c.retain(cl.KindEvent, handles.Handle(e))
}

func (c *Client) ReleaseEvent(e Event) error {
	gone, err := c.release(cl.KindEvent, handles.Handle(e))
	if err != nil || !gone {
		return err
	}
	c.mu.Lock()
	delete(c.eventTasks, e)
	c.mu.Unlock()
	return nil
}

func (c *Client) CreateUserEvent(ctx Context) (Event, error) {
	srv, cpeer, err := c.lookup(cl.KindContext, handles.Handle(ctx))
	if err != nil {
		return 0, err
	}
	h, err := c.created(cl.KindEvent, srv, cl.OpCreateUserEvent, func(w *wire.Writer) {
		w.PutU64(cpeer)
	})
	return Event(h), err
}

// SetUserEventStatus completes a user event, or fails it with a negative
// status.
func (c *Client) SetUserEventStatus(e Event, status int32) error {
	if status > cl.Complete {
		return cl.InvalidValue
	}
	srv, peer, err := c.lookup(cl.KindEvent, handles.Handle(e))
	if err != nil {
		return err
	}
	return srv.call(cl.OpSetUserEventStatus, func(w *wire.Writer) {
		w.PutU64(peer)
		w.PutI32(status)
	}, nil)
}

func (c *Client) Flush(q CommandQueue) error {
	srv, peer, err := c.lookup(cl.KindQueue, handles.Handle(q))
	if err != nil {
		return err
	}
	return srv.call(cl.OpFlush, func(w *wire.Writer) { w.PutU64(peer) }, nil)
}

// Finish blocks until every command of q completed, detached transfers
// included. A failed transfer is reported with its status.
func (c *Client) Finish(q CommandQueue) error {
	srv, peer, err := c.lookup(cl.KindQueue, handles.Handle(q))
	if err != nil {
		return err
	}
	if err := srv.call(cl.OpFinish, func(w *wire.Writer) { w.PutU64(peer) }, nil); err != nil {
		return err
	}
	c.mu.Lock()
	tasks := c.queueTasks[q]
	delete(c.queueTasks, q)
	c.mu.Unlock()

	var first error
	for _, t := range tasks {
		if err := t.Wait(c.ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
