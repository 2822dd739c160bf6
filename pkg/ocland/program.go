package ocland

import (
	"strings"

	"github.com/fxnlabs/ocland/internal/cl"
	"github.com/fxnlabs/ocland/internal/handles"
	"github.com/fxnlabs/ocland/internal/wire"
	"go.uber.org/zap"
)

// BuildNotifyFunc is the build callback of the API. It cannot run on the
// client.
type BuildNotifyFunc func(p Program)

// sourceLength is the length the API assumes for a source string given
// without one: everything before the first NUL.
func sourceLength(s string) int {
	if i := strings.IndexByte(s, 0); i >= 0 {
		return i
	}
	return len(s)
}

// CreateProgramWithSource creates a program from source strings. A missing
// or zero entry in lengths means the string runs up to its first NUL; the
// server always receives explicit lengths.
func (c *Client) CreateProgramWithSource(ctx Context, sources []string, lengths []uint64) (Program, error) {
	srv, cpeer, err := c.lookup(cl.KindContext, handles.Handle(ctx))
	if err != nil {
		return 0, err
	}
	if len(sources) == 0 {
		return 0, cl.InvalidValue
	}
	parts := make([]string, len(sources))
	sizes := make([]uint64, len(sources))
	for i, s := range sources {
		n := uint64(sourceLength(s))
		if i < len(lengths) && lengths[i] != 0 {
			if lengths[i] > uint64(len(s)) {
				return 0, cl.InvalidValue
			}
			n = lengths[i]
		}
		parts[i], sizes[i] = s[:n], n
	}
	h, err := c.created(cl.KindProgram, srv, cl.OpCreateProgramWithSource, func(w *wire.Writer) {
		w.PutU64(cpeer)
		w.PutU32(uint32(len(parts)))
		w.PutU64s(sizes)
		for _, p := range parts {
			w.PutRaw([]byte(p))
		}
	})
	return Program(h), err
}

// CreateProgramWithBinary loads one binary per device. The per-device
// statuses come back even when creation fails.
func (c *Client) CreateProgramWithBinary(ctx Context, devices []Device, binaries [][]byte) (Program, []cl.Status, error) {
	srv, cpeer, err := c.lookup(cl.KindContext, handles.Handle(ctx))
	if err != nil {
		return 0, nil, err
	}
	if len(devices) == 0 || len(binaries) != len(devices) {
		return 0, nil, cl.InvalidValue
	}
	dpeers, err := peersOn(c, srv, cl.KindDevice, devices, cl.InvalidDevice)
	if err != nil {
		return 0, nil, err
	}
	for _, b := range binaries {
		if len(b) == 0 {
			return 0, nil, cl.InvalidValue
		}
	}

	var (
		peer     uint64
		statuses []cl.Status
	)
	err = srv.exchange(cl.OpCreateProgramWithBinary, func(w *wire.Writer) {
		w.PutU64(cpeer)
		w.PutU32(uint32(len(dpeers)))
		w.PutU64s(dpeers)
		for _, b := range binaries {
			w.PutU64(uint64(len(b)))
		}
		for _, b := range binaries {
			w.PutRaw(b)
		}
	}, func(r *wire.Reader) error {
		st := cl.Status(r.I32())
		n := r.U32()
		for i := uint32(0); i < n && r.Err() == nil; i++ {
			statuses = append(statuses, cl.Status(r.I32()))
		}
		if st != cl.Success {
			return st
		}
		peer = r.U64()
		return nil
	})
	if err != nil {
		return 0, statuses, err
	}
	h, err := c.mint(cl.KindProgram, srv, peer)
	return Program(h), statuses, err
}

// CreateProgramWithBuiltInKernels creates a program from the semicolon
// separated kernel names the devices provide.
func (c *Client) CreateProgramWithBuiltInKernels(ctx Context, devices []Device, names string) (Program, error) {
	srv, cpeer, err := c.lookup(cl.KindContext, handles.Handle(ctx))
	if err != nil {
		return 0, err
	}
	if len(devices) == 0 || names == "" {
		return 0, cl.InvalidValue
	}
	dpeers, err := peersOn(c, srv, cl.KindDevice, devices, cl.InvalidDevice)
	if err != nil {
		return 0, err
	}
	h, err := c.created(cl.KindProgram, srv, cl.OpCreateProgramWithBuiltInKernels, func(w *wire.Writer) {
		w.PutU64(cpeer)
		w.PutU32(uint32(len(dpeers)))
		w.PutU64s(dpeers)
		w.PutString(names)
	})
	return Program(h), err
}

func (c *Client) RetainProgram(p Program) error {
	return c.retain(cl.KindProgram, handles.Handle(p))
}

func (c *Client) ReleaseProgram(p Program) error {
	_, err := c.release(cl.KindProgram, handles.Handle(p))
	return err
}

// BuildProgram builds p for devices, or for every device of its context when
// devices is empty.
func (c *Client) BuildProgram(p Program, devices []Device, options string, notify BuildNotifyFunc) error {
	if notify != nil {
		return cl.OutOfResources
	}
	srv, ppeer, err := c.lookup(cl.KindProgram, handles.Handle(p))
	if err != nil {
		return err
	}
	dpeers, err := peersOn(c, srv, cl.KindDevice, devices, cl.InvalidDevice)
	if err != nil {
		return err
	}
	return srv.call(cl.OpBuildProgram, func(w *wire.Writer) {
		w.PutU64(ppeer)
		w.PutU32(uint32(len(dpeers)))
		w.PutU64s(dpeers)
		w.PutString(options)
	}, nil)
}

// CompileProgram compiles p. headers are embedded under headerNames.
func (c *Client) CompileProgram(p Program, devices []Device, options string, headers []Program, headerNames []string, notify BuildNotifyFunc) error {
	if notify != nil {
		return cl.OutOfResources
	}
	srv, ppeer, err := c.lookup(cl.KindProgram, handles.Handle(p))
	if err != nil {
		return err
	}
	if len(headers) != len(headerNames) {
		return cl.InvalidValue
	}
	dpeers, err := peersOn(c, srv, cl.KindDevice, devices, cl.InvalidDevice)
	if err != nil {
		return err
	}
	hpeers, err := peersOn(c, srv, cl.KindProgram, headers, cl.InvalidValue)
	if err != nil {
		return err
	}
	return srv.call(cl.OpCompileProgram, func(w *wire.Writer) {
		w.PutU64(ppeer)
		w.PutU32(uint32(len(dpeers)))
		w.PutU64s(dpeers)
		w.PutString(options)
		w.PutU32(uint32(len(hpeers)))
		w.PutU64s(hpeers)
		for _, name := range headerNames {
			w.PutString(name)
		}
	}, nil)
}

// LinkProgram links compiled programs into a new program.
func (c *Client) LinkProgram(ctx Context, devices []Device, options string, programs []Program, notify BuildNotifyFunc) (Program, error) {
	if notify != nil {
		return 0, cl.OutOfResources
	}
	srv, cpeer, err := c.lookup(cl.KindContext, handles.Handle(ctx))
	if err != nil {
		return 0, err
	}
	if len(programs) == 0 {
		return 0, cl.InvalidValue
	}
	dpeers, err := peersOn(c, srv, cl.KindDevice, devices, cl.InvalidDevice)
	if err != nil {
		return 0, err
	}
	ppeers, err := peersOn(c, srv, cl.KindProgram, programs, cl.InvalidProgram)
	if err != nil {
		return 0, err
	}
	h, err := c.created(cl.KindProgram, srv, cl.OpLinkProgram, func(w *wire.Writer) {
		w.PutU64(cpeer)
		w.PutU32(uint32(len(dpeers)))
		w.PutU64s(dpeers)
		w.PutString(options)
		w.PutU32(uint32(len(ppeers)))
		w.PutU64s(ppeers)
	})
	return Program(h), err
}

// GetProgramInfo queries a program. PROGRAM_BINARIES only reports its size
// here; the binaries themselves come from ProgramBinaries.
func (c *Client) GetProgramInfo(p Program, param uint32, size uint64) ([]byte, uint64, error) {
	if param == cl.ProgramBinaries && size > 0 {
		return nil, 0, cl.InvalidValue
	}
	return c.objectInfo(cl.KindProgram, cl.OpGetProgramInfo, handles.Handle(p), param, size)
}

// ProgramBinaries returns the binary of p for each of its devices, in
// PROGRAM_DEVICES order.
func (c *Client) ProgramBinaries(p Program) ([][]byte, error) {
	srv, ppeer, err := c.lookup(cl.KindProgram, handles.Handle(p))
	if err != nil {
		return nil, err
	}
	_, sizeRet, err := c.forwardInfo(srv, cl.OpGetProgramInfo, ppeer, nil, cl.ProgramBinaries, 0)
	if err != nil || sizeRet == 0 {
		return nil, err
	}
	var out [][]byte
	err = srv.call(cl.OpGetProgramInfo, func(w *wire.Writer) {
		w.PutU64(ppeer)
		w.PutU32(cl.ProgramBinaries)
		w.PutU64(sizeRet)
	}, func(r *wire.Reader) error {
		r.U64()
		n := r.U32()
		for i := uint32(0); i < n && r.Err() == nil; i++ {
			out = append(out, r.Blob())
		}
		return nil
	})
	return out, err
}

func (c *Client) GetProgramBuildInfo(p Program, d Device, param uint32, size uint64) ([]byte, uint64, error) {
	return c.pairInfo(cl.KindProgram, cl.KindDevice, cl.OpGetProgramBuildInfo, handles.Handle(p), handles.Handle(d), param, size)
}

func (c *Client) CreateKernel(p Program, name string) (Kernel, error) {
	srv, ppeer, err := c.lookup(cl.KindProgram, handles.Handle(p))
	if err != nil {
		return 0, err
	}
	if name == "" {
		return 0, cl.InvalidValue
	}
	h, err := c.created(cl.KindKernel, srv, cl.OpCreateKernel, func(w *wire.Writer) {
		w.PutU64(ppeer)
		w.PutString(name)
	})
	return Kernel(h), err
}

// CreateKernelsInProgram creates one kernel per kernel function of p.
func (c *Client) CreateKernelsInProgram(p Program) ([]Kernel, error) {
	srv, ppeer, err := c.lookup(cl.KindProgram, handles.Handle(p))
	if err != nil {
		return nil, err
	}
	var peers []uint64
	err = srv.call(cl.OpCreateKernelsInProgram, func(w *wire.Writer) {
		w.PutU64(ppeer)
		w.PutU32(all)
	}, func(r *wire.Reader) error {
		peers = r.U64s(int(r.U32()))
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]Kernel, 0, len(peers))
	for i, peer := range peers {
		h, err := c.mint(cl.KindKernel, srv, peer)
		if err != nil {
			for _, rest := range peers[i+1:] {
				_ = srv.call(cl.OpReleaseKernel, func(w *wire.Writer) { w.PutU64(rest) }, nil)
			}
			return out, err
		}
		out = append(out, Kernel(h))
	}
	return out, nil
}

func (c *Client) RetainKernel(k Kernel) error {
	return c.retain(cl.KindKernel, handles.Handle(k))
}

func (c *Client) ReleaseKernel(k Kernel) error {
	_, err := c.release(cl.KindKernel, handles.Handle(k))
	return err
}

// SetKernelArg sets argument index of k. A nil value declares size bytes of
// local memory.
//
// An 8-byte value may be a Mem or Sampler handle. It is sent as the
// object's peer id when it names a live mem object of the kernel's server
// and the argument lives in global or constant memory; a failed qualifier
// query counts as global. Samplers are translated on membership alone.
// Anything else travels as plain bytes.
func (c *Client) SetKernelArg(k Kernel, index uint32, size uint64, value []byte) error {
	srv, kpeer, err := c.lookup(cl.KindKernel, handles.Handle(k))
	if err != nil {
		return err
	}
	if value != nil && uint64(len(value)) != size {
		return cl.InvalidArgSize
	}
	if len(value) == 8 {
		value = c.translateArg(srv, k, index, value)
	}
	return srv.call(cl.OpSetKernelArg, func(w *wire.Writer) {
		w.PutU64(kpeer)
		w.PutU32(index)
		w.PutU64(size)
		w.PutBytes(value)
	}, nil)
}

func (c *Client) translateArg(srv *Server, k Kernel, index uint32, value []byte) []byte {
	h := handles.Handle(order.Uint64(value))
	if rec, ok := c.tables[cl.KindMem].Lookup(h); ok && rec.Server == srv {
		qualifier := cl.KernelArgAddressGlobal
		v, _, err := c.GetKernelArgInfo(k, index, cl.KernelArgAddressQualifier, 4)
		if err == nil {
			qualifier = Uint32(v)
		} else {
			c.log.Debug("argument qualifier unknown, assuming global",
				zap.Uint32("index", index), zap.Error(err))
		}
		if qualifier == cl.KernelArgAddressGlobal || qualifier == cl.KernelArgAddressConstant {
			return order.AppendUint64(nil, uint64(rec.Peer))
		}
		return value
	}
	if rec, ok := c.tables[cl.KindSampler].Lookup(h); ok && rec.Server == srv {
		return order.AppendUint64(nil, uint64(rec.Peer))
	}
	return value
}

func (c *Client) GetKernelInfo(k Kernel, param uint32, size uint64) ([]byte, uint64, error) {
	return c.objectInfo(cl.KindKernel, cl.OpGetKernelInfo, handles.Handle(k), param, size)
}

func (c *Client) GetKernelArgInfo(k Kernel, index uint32, param uint32, size uint64) ([]byte, uint64, error) {
	srv, kpeer, err := c.lookup(cl.KindKernel, handles.Handle(k))
	if err != nil {
		return nil, 0, err
	}
	return c.info(srv, cl.OpGetKernelArgInfo, kpeer, func(w *wire.Writer) { w.PutU32(index) }, param, size)
}

func (c *Client) GetKernelWorkGroupInfo(k Kernel, d Device, param uint32, size uint64) ([]byte, uint64, error) {
	return c.pairInfo(cl.KindKernel, cl.KindDevice, cl.OpGetKernelWorkGroupInfo, handles.Handle(k), handles.Handle(d), param, size)
}
