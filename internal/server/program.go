package server

import (
	"github.com/fxnlabs/ocland/internal/cl"
	"github.com/fxnlabs/ocland/internal/compute"
	"github.com/fxnlabs/ocland/internal/store"
)

func handleCreateProgramWithSource(s *session) error {
	r := s.conn.Reader
	cid := r.U64()
	lengths := r.U64s(int(r.U32()))
	sources := make([]string, len(lengths))
	for i, n := range lengths {
		sources[i] = string(r.Raw(n))
	}
	if err := r.Err(); err != nil {
		return err
	}
	c, err := s.resolve(cl.KindContext, cid)
	if err != nil {
		return s.fail(err)
	}
	p, err := s.rt.CreateProgramWithSource(c, sources)
	return s.created(cl.KindProgram, p, err)
}

// handleCreateProgramWithBinary replies status, u32 n and n per-device
// statuses, then the program id on success.
func handleCreateProgramWithBinary(s *session) error {
	r := s.conn.Reader
	cid := r.U64()
	dids := readIDs(r)
	lengths := r.U64s(len(dids))
	binaries := make([][]byte, len(lengths))
	for i, n := range lengths {
		binaries[i] = r.Raw(n)
	}
	if err := r.Err(); err != nil {
		return err
	}

	reply := func(st cl.Status, statuses []cl.Status, id store.ID) error {
		s.status = st
		s.conn.PutI32(int32(st))
		s.conn.PutU32(uint32(len(statuses)))
		for _, bs := range statuses {
			s.conn.PutI32(int32(bs))
		}
		if st == cl.Success {
			s.conn.PutU64(uint64(id))
		}
		return s.done()
	}

	c, err := s.resolve(cl.KindContext, cid)
	if err != nil {
		return reply(cl.StatusOf(err), nil, 0)
	}
	devices, err := s.resolveAll(cl.KindDevice, dids)
	if err != nil {
		return reply(cl.StatusOf(err), nil, 0)
	}
	p, statuses, err := s.rt.CreateProgramWithBinary(c, devices, binaries)
	if err != nil {
		return reply(cl.StatusOf(err), statuses, 0)
	}
	id, err := s.insert(cl.KindProgram, p)
	if err != nil {
		return reply(cl.StatusOf(err), statuses, 0)
	}
	return reply(cl.Success, statuses, id)
}

func handleCreateProgramWithBuiltInKernels(s *session) error {
	r := s.conn.Reader
	cid := r.U64()
	dids := readIDs(r)
	names := r.Str()
	if err := r.Err(); err != nil {
		return err
	}
	c, err := s.resolve(cl.KindContext, cid)
	if err != nil {
		return s.fail(err)
	}
	devices, err := s.resolveAll(cl.KindDevice, dids)
	if err != nil {
		return s.fail(err)
	}
	p, err := s.rt.CreateProgramWithBuiltInKernels(c, devices, names)
	return s.created(cl.KindProgram, p, err)
}

func handleBuildProgram(s *session) error {
	r := s.conn.Reader
	pid := r.U64()
	dids := readIDs(r)
	options := r.Str()
	if err := r.Err(); err != nil {
		return err
	}
	p, err := s.resolve(cl.KindProgram, pid)
	if err != nil {
		return s.fail(err)
	}
	devices, err := s.resolveAll(cl.KindDevice, dids)
	if err != nil {
		return s.fail(err)
	}
	return s.succeed(s.rt.BuildProgram(p, devices, options))
}

func handleCompileProgram(s *session) error {
	r := s.conn.Reader
	pid := r.U64()
	dids := readIDs(r)
	options := r.Str()
	hids := readIDs(r)
	names := make([]string, len(hids))
	for i := range names {
		names[i] = r.Str()
	}
	if err := r.Err(); err != nil {
		return err
	}
	p, err := s.resolve(cl.KindProgram, pid)
	if err != nil {
		return s.fail(err)
	}
	devices, err := s.resolveAll(cl.KindDevice, dids)
	if err != nil {
		return s.fail(err)
	}
	headers, err := s.resolveAll(cl.KindProgram, hids)
	if err != nil {
		return s.fail(cl.InvalidValue)
	}
	return s.succeed(s.rt.CompileProgram(p, devices, options, headers, names))
}

func handleLinkProgram(s *session) error {
	r := s.conn.Reader
	cid := r.U64()
	dids := readIDs(r)
	options := r.Str()
	pids := readIDs(r)
	if err := r.Err(); err != nil {
		return err
	}
	c, err := s.resolve(cl.KindContext, cid)
	if err != nil {
		return s.fail(err)
	}
	devices, err := s.resolveAll(cl.KindDevice, dids)
	if err != nil {
		return s.fail(err)
	}
	programs, err := s.resolveAll(cl.KindProgram, pids)
	if err != nil {
		return s.fail(err)
	}
	p, err := s.rt.LinkProgram(c, devices, options, programs)
	return s.created(cl.KindProgram, p, err)
}

func handleUnloadPlatformCompiler(s *session) error {
	pid := s.conn.U64()
	if err := s.conn.Err(); err != nil {
		return err
	}
	p, err := s.resolve(cl.KindPlatform, pid)
	if err != nil {
		return s.fail(err)
	}
	return s.succeed(s.rt.UnloadPlatformCompiler(p))
}

func handleCreateKernel(s *session) error {
	r := s.conn.Reader
	pid := r.U64()
	name := r.Str()
	if err := r.Err(); err != nil {
		return err
	}
	p, err := s.resolve(cl.KindProgram, pid)
	if err != nil {
		return s.fail(err)
	}
	k, err := s.rt.CreateKernel(p, name)
	return s.created(cl.KindKernel, k, err)
}

// handleCreateKernelsInProgram keeps the first num kernels and drops the
// rest; num zero only reports the count.
func handleCreateKernelsInProgram(s *session) error {
	r := s.conn.Reader
	pid, num := r.U64(), r.U32()
	if err := r.Err(); err != nil {
		return err
	}
	p, err := s.resolve(cl.KindProgram, pid)
	if err != nil {
		return s.fail(err)
	}
	kernels, err := s.rt.CreateKernelsInProgram(p)
	if err != nil {
		return s.fail(err)
	}
	ids := make([]store.ID, 0, len(kernels))
	for i, k := range kernels {
		if uint32(i) >= num {
			_ = s.rt.Release(k)
			continue
		}
		id, err := s.insert(cl.KindKernel, k)
		if err != nil {
			for _, rest := range kernels[i+1:] {
				_ = s.rt.Release(rest)
			}
			return s.fail(err)
		}
		ids = append(ids, id)
	}
	s.ok()
	s.conn.PutU32(uint32(len(kernels)))
	for _, id := range ids {
		s.conn.PutU64(uint64(id))
	}
	return s.done()
}

// kernelArg resolves what the bytes of a kernel argument refer to. A value
// of length zero is local memory. An 8-byte value is a mem object when the
// argument is in global or constant memory, or its qualifier cannot be
// queried, and the value names a live mem object of the session; it is a
// sampler when the argument is a sampler_t naming a live sampler. Anything
// else is passed by value.
func (s *session) kernelArg(k compute.Kernel, index uint32, size uint64, value []byte) compute.KernelArg {
	if len(value) == 0 {
		return compute.KernelArg{Size: size, Local: true}
	}
	arg := compute.KernelArg{Size: size, Value: value}
	if len(value) != 8 {
		return arg
	}
	id := order.Uint64(value)

	qualifier := cl.KernelArgAddressGlobal
	if info, err := s.rt.KernelArgInfo(k, index, cl.KernelArgAddressQualifier); err == nil && len(info.Value) >= 4 {
		qualifier = order.Uint32(info.Value)
	}
	if qualifier == cl.KernelArgAddressGlobal || qualifier == cl.KernelArgAddressConstant {
		if m, err := s.resolve(cl.KindMem, id); err == nil {
			arg.Mem = m
			return arg
		}
	}
	if info, err := s.rt.KernelArgInfo(k, index, cl.KernelArgTypeName); err == nil && cString(info.Value) == "sampler_t" {
		if smp, err := s.resolve(cl.KindSampler, id); err == nil {
			arg.Sampler = smp
		}
	}
	return arg
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func handleSetKernelArg(s *session) error {
	r := s.conn.Reader
	kid, index, size := r.U64(), r.U32(), r.U64()
	value := r.Bytes()
	if err := r.Err(); err != nil {
		return err
	}
	k, err := s.resolve(cl.KindKernel, kid)
	if err != nil {
		return s.fail(err)
	}
	return s.succeed(s.rt.SetKernelArg(k, index, s.kernelArg(k, index, size, value)))
}

func handleGetKernelArgInfo(s *session) error {
	r := s.conn.Reader
	kid, index := r.U64(), r.U32()
	param, size := readInfoArgs(r)
	if err := r.Err(); err != nil {
		return err
	}
	k, err := s.resolve(cl.KindKernel, kid)
	if err != nil {
		return s.fail(err)
	}
	info, err := s.rt.KernelArgInfo(k, index, param)
	return s.info(cl.OpGetKernelArgInfo, param, size, info, err)
}

func handleWaitForEvents(s *session) error {
	ids := readIDs(s.conn.Reader)
	if err := s.conn.Err(); err != nil {
		return err
	}
	events, err := s.resolveAll(cl.KindEvent, ids)
	if err != nil {
		return s.fail(err)
	}
	return s.succeed(s.rt.WaitForEvents(s.ctx, events))
}

func handleCreateUserEvent(s *session) error {
	cid := s.conn.U64()
	if err := s.conn.Err(); err != nil {
		return err
	}
	c, err := s.resolve(cl.KindContext, cid)
	if err != nil {
		return s.fail(err)
	}
	ev, err := s.rt.CreateUserEvent(c)
	return s.created(cl.KindEvent, ev, err)
}

func handleSetUserEventStatus(s *session) error {
	r := s.conn.Reader
	eid, status := r.U64(), r.I32()
	if err := r.Err(); err != nil {
		return err
	}
	ev, err := s.resolve(cl.KindEvent, eid)
	if err != nil {
		return s.fail(err)
	}
	return s.succeed(s.rt.SetUserEventStatus(ev, status))
}

func handleFlush(s *session) error {
	qid := s.conn.U64()
	if err := s.conn.Err(); err != nil {
		return err
	}
	q, err := s.resolve(cl.KindQueue, qid)
	if err != nil {
		return s.fail(err)
	}
	return s.succeed(s.rt.Flush(q))
}

func handleFinish(s *session) error {
	qid := s.conn.U64()
	if err := s.conn.Err(); err != nil {
		return err
	}
	q, err := s.resolve(cl.KindQueue, qid)
	if err != nil {
		return s.fail(err)
	}
	return s.succeed(s.rt.Finish(s.ctx, q))
}
