package ocland

import (
	"encoding/binary"

	"github.com/fxnlabs/ocland/internal/cl"
	"github.com/fxnlabs/ocland/internal/handles"
	"github.com/fxnlabs/ocland/internal/wire"
)

var order = binary.NativeEndian

// Info calls follow the API's size negotiation: size 0 only reports the
// value size, a non-zero size smaller than the value fails with
// CL_INVALID_VALUE, and otherwise the value comes back with its size.

// forwardInfo runs an info call without touching the value. extra writes the
// arguments between the object and the param name.
func (c *Client) forwardInfo(srv *Server, op cl.Opcode, peer uint64, extra func(w *wire.Writer), param uint32, size uint64) ([]byte, uint64, error) {
	var (
		value   []byte
		sizeRet uint64
	)
	err := srv.call(op, func(w *wire.Writer) {
		w.PutU64(peer)
		if extra != nil {
			extra(w)
		}
		w.PutU32(param)
		w.PutU64(size)
	}, func(r *wire.Reader) error {
		sizeRet = r.U64()
		if size > 0 {
			value = r.Raw(sizeRet)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return value, sizeRet, nil
}

// info is forwardInfo with peer ids in the value translated back to local
// handles.
func (c *Client) info(srv *Server, op cl.Opcode, peer uint64, extra func(w *wire.Writer), param uint32, size uint64) ([]byte, uint64, error) {
	value, sizeRet, err := c.forwardInfo(srv, op, peer, extra, param, size)
	if err != nil || value == nil {
		return value, sizeRet, err
	}
	if kind, ok := cl.HandleParam(op, param); ok {
		for i := 0; i+8 <= len(value); i += 8 {
			h := c.local(srv, kind, order.Uint64(value[i:]))
			order.PutUint64(value[i:], uint64(h))
		}
	}
	if op == cl.OpGetContextInfo && param == cl.ContextProperties {
		for i := 0; i+16 <= len(value); i += 16 {
			if order.Uint64(value[i:]) == cl.ContextPlatform {
				h := c.local(srv, cl.KindPlatform, order.Uint64(value[i+8:]))
				order.PutUint64(value[i+8:], uint64(h))
			}
		}
	}
	return value, sizeRet, nil
}

func (c *Client) objectInfo(k cl.Kind, op cl.Opcode, h handles.Handle, param uint32, size uint64) ([]byte, uint64, error) {
	srv, peer, err := c.lookup(k, h)
	if err != nil {
		return nil, 0, err
	}
	return c.info(srv, op, peer, nil, param, size)
}

// pairInfo queries an object together with a second object of kind other on
// the same server. The second handle may be zero.
func (c *Client) pairInfo(k, other cl.Kind, op cl.Opcode, h, second handles.Handle, param uint32, size uint64) ([]byte, uint64, error) {
	srv, peer, err := c.lookup(k, h)
	if err != nil {
		return nil, 0, err
	}
	otherPeer, err := c.peerOn(srv, other, second, other.Invalid())
	if err != nil {
		return nil, 0, err
	}
	return c.info(srv, op, peer, func(w *wire.Writer) { w.PutU64(otherPeer) }, param, size)
}

// Uint32 decodes a cl_uint info value.
func Uint32(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return order.Uint32(b)
}

// Uint64 decodes a cl_ulong or size_t info value.
func Uint64(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return order.Uint64(b)
}
