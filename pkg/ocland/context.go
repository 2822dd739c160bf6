package ocland

import (
	"github.com/fxnlabs/ocland/internal/cl"
	"github.com/fxnlabs/ocland/internal/handles"
	"github.com/fxnlabs/ocland/internal/wire"
)

// ContextProperty is one (name, value) pair of a context property list. The
// value of cl.ContextPlatform is a Platform handle.
type ContextProperty struct {
	Name  uint64
	Value uint64
}

// NotifyFunc is the context error callback of the API. It cannot run on the
// client; errors arrive on Client.Notifications instead.
type NotifyFunc func(errInfo string, private []byte)

// properties translates a property list for srv. srv may be nil, in which
// case the platform property picks the server.
func (c *Client) properties(srv *Server, props []ContextProperty) (*Server, []uint64, error) {
	raw := make([]uint64, 0, 2*len(props))
	for _, p := range props {
		if p.Name == 0 {
			break
		}
		v := p.Value
		if p.Name == cl.ContextPlatform {
			psrv, peer, err := c.lookup(cl.KindPlatform, handles.Handle(p.Value))
			if err != nil {
				return nil, nil, cl.InvalidPlatform
			}
			if srv != nil && psrv != srv {
				return nil, nil, cl.InvalidPlatform
			}
			srv, v = psrv, peer
		}
		raw = append(raw, p.Name, v)
	}
	return srv, raw, nil
}

func putProperties(w *wire.Writer, raw []uint64) {
	w.PutU32(uint32(len(raw) / 2))
	w.PutU64s(raw)
}

func (c *Client) created(k cl.Kind, srv *Server, op cl.Opcode, send func(w *wire.Writer)) (handles.Handle, error) {
	var peer uint64
	err := srv.call(op, send, func(r *wire.Reader) error {
		peer = r.U64()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return c.mint(k, srv, peer)
}

// CreateContext creates a context on the server owning devices.
func (c *Client) CreateContext(props []ContextProperty, devices []Device, notify NotifyFunc) (Context, error) {
	if notify != nil {
		return 0, cl.OutOfResources
	}
	if len(devices) == 0 {
		return 0, cl.InvalidValue
	}
	srv, dpeers, err := owner(c, cl.KindDevice, devices, cl.InvalidDevice)
	if err != nil {
		return 0, err
	}
	_, raw, err := c.properties(srv, props)
	if err != nil {
		return 0, err
	}
	h, err := c.created(cl.KindContext, srv, cl.OpCreateContext, func(w *wire.Writer) {
		putProperties(w, raw)
		w.PutU32(uint32(len(dpeers)))
		w.PutU64s(dpeers)
	})
	return Context(h), err
}

// CreateContextFromType creates a context on the platform named by props,
// or on the first platform when props names none.
func (c *Client) CreateContextFromType(props []ContextProperty, deviceType uint64, notify NotifyFunc) (Context, error) {
	if notify != nil {
		return 0, cl.OutOfResources
	}
	srv, raw, err := c.properties(nil, props)
	if err != nil {
		return 0, err
	}
	if srv == nil {
		platforms, err := c.GetPlatformIDs()
		if err != nil {
			return 0, cl.InvalidPlatform
		}
		srv, _, _ = c.lookup(cl.KindPlatform, handles.Handle(platforms[0]))
		if srv == nil {
			return 0, cl.InvalidPlatform
		}
	}
	h, err := c.created(cl.KindContext, srv, cl.OpCreateContextFromType, func(w *wire.Writer) {
		putProperties(w, raw)
		w.PutU64(deviceType)
	})
	return Context(h), err
}

func (c *Client) RetainContext(ctx Context) error {
	return c.retain(cl.KindContext, handles.Handle(ctx))
}

func (c *Client) ReleaseContext(ctx Context) error {
	_, err := c.release(cl.KindContext, handles.Handle(ctx))
	return err
}

func (c *Client) GetContextInfo(ctx Context, param uint32, size uint64) ([]byte, uint64, error) {
	return c.objectInfo(cl.KindContext, cl.OpGetContextInfo, handles.Handle(ctx), param, size)
}

func (c *Client) CreateCommandQueue(ctx Context, d Device, props uint64) (CommandQueue, error) {
	srv, cpeer, err := c.lookup(cl.KindContext, handles.Handle(ctx))
	if err != nil {
		return 0, err
	}
	dpeer, err := c.peerOn(srv, cl.KindDevice, handles.Handle(d), cl.InvalidDevice)
	if err != nil || d == 0 {
		return 0, cl.InvalidDevice
	}
	h, err := c.created(cl.KindQueue, srv, cl.OpCreateCommandQueue, func(w *wire.Writer) {
		w.PutU64(cpeer)
		w.PutU64(dpeer)
		w.PutU64(props)
	})
	return CommandQueue(h), err
}

func (c *Client) RetainCommandQueue(q CommandQueue) error {
	return c.retain(cl.KindQueue, handles.Handle(q))
}

func (c *Client) ReleaseCommandQueue(q CommandQueue) error {
	gone, err := c.release(cl.KindQueue, handles.Handle(q))
	if err != nil || !gone {
		return err
	}
	c.mu.Lock()
	delete(c.queueTasks, q)
	c.mu.Unlock()
	return nil
}

func (c *Client) GetCommandQueueInfo(q CommandQueue, param uint32, size uint64) ([]byte, uint64, error) {
	return c.objectInfo(cl.KindQueue, cl.OpGetCommandQueueInfo, handles.Handle(q), param, size)
}
