package server

import (
	"encoding/binary"

	"github.com/fxnlabs/ocland/internal/cl"
	"github.com/fxnlabs/ocland/internal/compute"
	"github.com/fxnlabs/ocland/internal/wire"
)

var order = binary.NativeEndian

// encodeInfo turns an info answer into the bytes the client receives, with
// runtime objects replaced by their peer ids.
func (s *session) encodeInfo(op cl.Opcode, param uint32, info compute.Info) []byte {
	switch {
	case info.Properties != nil:
		if len(info.Properties) == 0 {
			return []byte{}
		}
		out := make([]byte, 0, 16*len(info.Properties)+8)
		for _, p := range info.Properties {
			v := p.Value
			if p.Name == cl.ContextPlatform {
				v = uint64(s.store.IDOf(cl.KindPlatform, p.Platform))
			}
			out = order.AppendUint64(out, p.Name)
			out = order.AppendUint64(out, v)
		}
		return order.AppendUint64(out, 0)
	case info.Objects != nil:
		kind, ok := cl.HandleParam(op, param)
		out := make([]byte, 0, 8*len(info.Objects))
		for _, obj := range info.Objects {
			var id uint64
			if ok {
				id = uint64(s.store.IDOf(kind, obj))
			}
			out = order.AppendUint64(out, id)
		}
		return out
	}
	return info.Value
}

// info replies to an info query: status, u64 size_ret and, when the client
// passed a non-zero size, the value. A size smaller than the value fails with
// CL_INVALID_VALUE. PROGRAM_BINARIES sends u32 n and one blob per device
// instead of the raw value.
func (s *session) info(op cl.Opcode, param uint32, size uint64, info compute.Info, err error) error {
	if err != nil {
		return s.fail(err)
	}
	if info.Blobs != nil {
		sizeRet := uint64(8 * len(info.Blobs))
		if size > 0 && size < sizeRet {
			return s.fail(cl.InvalidValue)
		}
		s.ok()
		s.conn.PutU64(sizeRet)
		if size > 0 {
			s.conn.PutU32(uint32(len(info.Blobs)))
			for _, b := range info.Blobs {
				s.conn.PutBlob(b)
			}
		}
		return s.done()
	}

	val := s.encodeInfo(op, param, info)
	if size > 0 && size < uint64(len(val)) {
		return s.fail(cl.InvalidValue)
	}
	s.ok()
	s.conn.PutU64(uint64(len(val)))
	if size > 0 {
		s.conn.PutRaw(val)
	}
	return s.done()
}

type infoQuery func(rt compute.Runtime, obj compute.Object, param uint32) (compute.Info, error)

// objectInfo handles the "object, u32 param, u64 size" info calls.
func objectInfo(op cl.Opcode, kind cl.Kind, query infoQuery) handler {
	return func(s *session) error {
		r := s.conn.Reader
		id, param, size := r.U64(), r.U32(), r.U64()
		if err := r.Err(); err != nil {
			return err
		}
		obj, err := s.resolve(kind, id)
		if err != nil {
			return s.fail(err)
		}
		info, err := query(s.rt, obj, param)
		return s.info(op, param, size, info, err)
	}
}

// pairInfo handles info calls naming a second object, such as a program's
// build info for one device. A zero second id is passed as nil.
func pairInfo(op cl.Opcode, kind, other cl.Kind, query func(rt compute.Runtime, a, b compute.Object, param uint32) (compute.Info, error)) handler {
	return func(s *session) error {
		r := s.conn.Reader
		id, otherID, param, size := r.U64(), r.U64(), r.U32(), r.U64()
		if err := r.Err(); err != nil {
			return err
		}
		a, err := s.resolve(kind, id)
		if err != nil {
			return s.fail(err)
		}
		b, err := s.resolveOptional(other, otherID)
		if err != nil {
			return s.fail(err)
		}
		info, err := query(s.rt, a, b, param)
		return s.info(op, param, size, info, err)
	}
}

func readInfoArgs(r *wire.Reader) (param uint32, size uint64) {
	return r.U32(), r.U64()
}
