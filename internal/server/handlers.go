package server

import (
	"sync/atomic"

	"github.com/fxnlabs/ocland/internal/cl"
	"github.com/fxnlabs/ocland/internal/compute"
	"github.com/fxnlabs/ocland/internal/store"
	"github.com/fxnlabs/ocland/internal/wire"
)

// handler decodes one call, runs it and writes the reply. A returned error
// means the connection can no longer be used.
type handler func(s *session) error

var handlers map[cl.Opcode]handler

func init() {
	handlers = map[cl.Opcode]handler{
		cl.OpGetPlatformIDs:   handleGetPlatformIDs,
		cl.OpGetPlatformInfo:  objectInfo(cl.OpGetPlatformInfo, cl.KindPlatform, compute.Runtime.PlatformInfo),
		cl.OpGetDeviceIDs:     handleGetDeviceIDs,
		cl.OpGetDeviceInfo:    objectInfo(cl.OpGetDeviceInfo, cl.KindDevice, compute.Runtime.DeviceInfo),
		cl.OpCreateSubDevices: handleCreateSubDevices,
		cl.OpRetainDevice:     handleRetainDevice,
		cl.OpReleaseDevice:    handleReleaseDevice,

		cl.OpCreateContext:         handleCreateContext,
		cl.OpCreateContextFromType: handleCreateContextFromType,
		cl.OpRetainContext:         retain(cl.KindContext),
		cl.OpReleaseContext:        release(cl.KindContext),
		cl.OpGetContextInfo:        objectInfo(cl.OpGetContextInfo, cl.KindContext, compute.Runtime.ContextInfo),

		cl.OpCreateCommandQueue:  handleCreateCommandQueue,
		cl.OpRetainCommandQueue:  retain(cl.KindQueue),
		cl.OpReleaseCommandQueue: release(cl.KindQueue),
		cl.OpGetCommandQueueInfo: objectInfo(cl.OpGetCommandQueueInfo, cl.KindQueue, compute.Runtime.QueueInfo),

		cl.OpCreateBuffer:             handleCreateBuffer,
		cl.OpCreateSubBuffer:          handleCreateSubBuffer,
		cl.OpCreateImage:              handleCreateImage,
		cl.OpRetainMemObject:          retain(cl.KindMem),
		cl.OpReleaseMemObject:         release(cl.KindMem),
		cl.OpGetSupportedImageFormats: handleGetSupportedImageFormats,
		cl.OpGetMemObjectInfo:         objectInfo(cl.OpGetMemObjectInfo, cl.KindMem, compute.Runtime.MemInfo),
		cl.OpGetImageInfo:             objectInfo(cl.OpGetImageInfo, cl.KindMem, compute.Runtime.ImageInfo),

		cl.OpCreateSampler:  handleCreateSampler,
		cl.OpRetainSampler:  retain(cl.KindSampler),
		cl.OpReleaseSampler: release(cl.KindSampler),
		cl.OpGetSamplerInfo: objectInfo(cl.OpGetSamplerInfo, cl.KindSampler, compute.Runtime.SamplerInfo),

		cl.OpCreateProgramWithSource:         handleCreateProgramWithSource,
		cl.OpCreateProgramWithBinary:         handleCreateProgramWithBinary,
		cl.OpCreateProgramWithBuiltInKernels: handleCreateProgramWithBuiltInKernels,
		cl.OpRetainProgram:                   retain(cl.KindProgram),
		cl.OpReleaseProgram:                  release(cl.KindProgram),
		cl.OpBuildProgram:                    handleBuildProgram,
		cl.OpCompileProgram:                  handleCompileProgram,
		cl.OpLinkProgram:                     handleLinkProgram,
		cl.OpUnloadPlatformCompiler:          handleUnloadPlatformCompiler,
		cl.OpGetProgramInfo:                  objectInfo(cl.OpGetProgramInfo, cl.KindProgram, compute.Runtime.ProgramInfo),
		cl.OpGetProgramBuildInfo:             pairInfo(cl.OpGetProgramBuildInfo, cl.KindProgram, cl.KindDevice, compute.Runtime.ProgramBuildInfo),

		cl.OpCreateKernel:           handleCreateKernel,
		cl.OpCreateKernelsInProgram: handleCreateKernelsInProgram,
		cl.OpRetainKernel:           retain(cl.KindKernel),
		cl.OpReleaseKernel:          release(cl.KindKernel),
		cl.OpSetKernelArg:           handleSetKernelArg,
		cl.OpGetKernelInfo:          objectInfo(cl.OpGetKernelInfo, cl.KindKernel, compute.Runtime.KernelInfo),
		cl.OpGetKernelArgInfo:       handleGetKernelArgInfo,
		cl.OpGetKernelWorkGroupInfo: pairInfo(cl.OpGetKernelWorkGroupInfo, cl.KindKernel, cl.KindDevice, compute.Runtime.KernelWorkGroupInfo),

		cl.OpWaitForEvents:         handleWaitForEvents,
		cl.OpGetEventInfo:          objectInfo(cl.OpGetEventInfo, cl.KindEvent, compute.Runtime.EventInfo),
		cl.OpCreateUserEvent:       handleCreateUserEvent,
		cl.OpRetainEvent:           retain(cl.KindEvent),
		cl.OpReleaseEvent:          release(cl.KindEvent),
		cl.OpSetUserEventStatus:    handleSetUserEventStatus,
		cl.OpGetEventProfilingInfo: objectInfo(cl.OpGetEventProfilingInfo, cl.KindEvent, compute.Runtime.EventProfilingInfo),

		cl.OpFlush:  handleFlush,
		cl.OpFinish: handleFinish,

		cl.OpEnqueueReadBuffer:          handleReadBuffer,
		cl.OpEnqueueReadBufferRect:      handleReadBufferRect,
		cl.OpEnqueueWriteBuffer:         handleWriteBuffer,
		cl.OpEnqueueWriteBufferRect:     handleWriteBufferRect,
		cl.OpEnqueueFillBuffer:          handleFillBuffer,
		cl.OpEnqueueCopyBuffer:          handleCopyBuffer,
		cl.OpEnqueueCopyBufferRect:      handleCopyBufferRect,
		cl.OpEnqueueReadImage:           handleReadImage,
		cl.OpEnqueueWriteImage:          handleWriteImage,
		cl.OpEnqueueFillImage:           handleFillImage,
		cl.OpEnqueueCopyImage:           handleCopyImage,
		cl.OpEnqueueCopyImageToBuffer:   handleCopyImageToBuffer,
		cl.OpEnqueueCopyBufferToImage:   handleCopyBufferToImage,
		cl.OpEnqueueNDRangeKernel:       handleNDRangeKernel,
		cl.OpEnqueueMarkerWithWaitList:  handleMarkerWithWaitList,
		cl.OpEnqueueBarrierWithWaitList: handleBarrierWithWaitList,
		cl.OpEnqueueMigrateMemObjects:   handleMigrateMemObjects,
	}
}

// retain and release keep the store and runtime reference counts in step.
func retain(kind cl.Kind) handler {
	return func(s *session) error {
		id := s.conn.U64()
		if err := s.conn.Err(); err != nil {
			return err
		}
		obj, err := s.resolve(kind, id)
		if err != nil {
			return s.fail(err)
		}
		if err := s.rt.Retain(obj); err != nil {
			return s.fail(err)
		}
		_ = s.store.Retain(kind, store.ID(id))
		return s.succeed(nil)
	}
}

func release(kind cl.Kind) handler {
	return func(s *session) error {
		id := s.conn.U64()
		if err := s.conn.Err(); err != nil {
			return err
		}
		obj, err := s.resolve(kind, id)
		if err != nil {
			return s.fail(err)
		}
		if err := s.rt.Release(obj); err != nil {
			return s.fail(err)
		}
		_, _ = s.store.Release(kind, store.ID(id))
		return s.succeed(nil)
	}
}

// objectList replies u32 n followed by at most limit ids.
func (s *session) objectList(ids []store.ID, limit uint32) error {
	s.ok()
	s.conn.PutU32(uint32(len(ids)))
	for i, id := range ids {
		if uint32(i) >= limit {
			break
		}
		s.conn.PutU64(uint64(id))
	}
	return s.done()
}

func (s *session) intern(kind cl.Kind, objs []compute.Object) ([]store.ID, error) {
	ids := make([]store.ID, len(objs))
	for i, obj := range objs {
		id, err := s.store.Intern(kind, obj)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func handleGetPlatformIDs(s *session) error {
	entries := s.conn.U32()
	if err := s.conn.Err(); err != nil {
		return err
	}
	platforms, err := s.rt.Platforms()
	if err != nil {
		return s.fail(err)
	}
	ids, err := s.intern(cl.KindPlatform, platforms)
	if err != nil {
		return s.fail(err)
	}
	return s.objectList(ids, entries)
}

func handleGetDeviceIDs(s *session) error {
	r := s.conn.Reader
	pid, typ, entries := r.U64(), r.U64(), r.U32()
	if err := r.Err(); err != nil {
		return err
	}
	p, err := s.resolve(cl.KindPlatform, pid)
	if err != nil {
		return s.fail(err)
	}
	devices, err := s.rt.Devices(p, typ)
	if err != nil {
		return s.fail(err)
	}
	ids, err := s.intern(cl.KindDevice, devices)
	if err != nil {
		return s.fail(err)
	}
	return s.objectList(ids, entries)
}

func handleCreateSubDevices(s *session) error {
	r := s.conn.Reader
	did := r.U64()
	props := r.U64s(int(r.U32()))
	entries := r.U32()
	if err := r.Err(); err != nil {
		return err
	}
	d, err := s.resolve(cl.KindDevice, did)
	if err != nil {
		return s.fail(err)
	}
	devices, err := s.rt.CreateSubDevices(d, props)
	if err != nil {
		return s.fail(err)
	}
	if entries == 0 || entries < uint32(len(devices)) {
		for _, sub := range devices {
			_ = s.rt.Release(sub)
		}
		if entries == 0 {
			s.ok()
			s.conn.PutU32(uint32(len(devices)))
			return s.done()
		}
		return s.fail(cl.InvalidValue)
	}
	ids := make([]store.ID, 0, len(devices))
	for i, sub := range devices {
		id, err := s.insert(cl.KindDevice, sub)
		if err != nil {
			for _, rest := range devices[i+1:] {
				_ = s.rt.Release(rest)
			}
			return s.fail(err)
		}
		ids = append(ids, id)
	}
	return s.objectList(ids, entries)
}

// isRootDevice reports whether d was enumerated rather than partitioned.
// Root devices stay interned for the whole session.
func (s *session) isRootDevice(d compute.Device) bool {
	info, err := s.rt.DeviceInfo(d, cl.DeviceParentDevice)
	if err != nil {
		return true
	}
	return len(info.Objects) == 0 || info.Objects[0] == nil
}

func handleRetainDevice(s *session) error {
	id := s.conn.U64()
	if err := s.conn.Err(); err != nil {
		return err
	}
	d, err := s.resolve(cl.KindDevice, id)
	if err != nil {
		return s.fail(err)
	}
	if err := s.rt.Retain(d); err != nil {
		return s.fail(err)
	}
	if !s.isRootDevice(d) {
		_ = s.store.Retain(cl.KindDevice, store.ID(id))
	}
	return s.succeed(nil)
}

func handleReleaseDevice(s *session) error {
	id := s.conn.U64()
	if err := s.conn.Err(); err != nil {
		return err
	}
	d, err := s.resolve(cl.KindDevice, id)
	if err != nil {
		return s.fail(err)
	}
	root := s.isRootDevice(d)
	if err := s.rt.Release(d); err != nil {
		return s.fail(err)
	}
	if !root {
		_, _ = s.store.Release(cl.KindDevice, store.ID(id))
	}
	return s.succeed(nil)
}

// readProperties reads u32 n (name, value) pairs. The platform property
// carries a platform peer id.
func readProperties(r *wire.Reader) []uint64 {
	n := r.U32()
	return r.U64s(int(n) * 2)
}

func (s *session) resolveProperties(raw []uint64) ([]compute.ContextProperty, error) {
	props := make([]compute.ContextProperty, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		p := compute.ContextProperty{Name: raw[i], Value: raw[i+1]}
		if p.Name == cl.ContextPlatform {
			obj, err := s.resolve(cl.KindPlatform, p.Value)
			if err != nil {
				return nil, cl.InvalidPlatform
			}
			p.Platform = obj
			p.Value = 0
		}
		props = append(props, p)
	}
	return props, nil
}

// createContext inserts the new context and wires its notifications to the
// session's callback stream.
func (s *session) createContext(create func(notify compute.NotifyFunc) (compute.Context, error)) error {
	var peer atomic.Uint64
	c, err := create(s.notifyFunc(&peer))
	if err != nil {
		return s.fail(err)
	}
	id, err := s.insert(cl.KindContext, c)
	if err != nil {
		return s.fail(err)
	}
	peer.Store(uint64(id))
	s.ok()
	s.conn.PutU64(uint64(id))
	return s.done()
}

func handleCreateContext(s *session) error {
	r := s.conn.Reader
	raw := readProperties(r)
	dids := readIDs(r)
	if err := r.Err(); err != nil {
		return err
	}
	props, err := s.resolveProperties(raw)
	if err != nil {
		return s.fail(err)
	}
	devices, err := s.resolveAll(cl.KindDevice, dids)
	if err != nil {
		return s.fail(err)
	}
	return s.createContext(func(notify compute.NotifyFunc) (compute.Context, error) {
		return s.rt.CreateContext(props, devices, notify)
	})
}

func handleCreateContextFromType(s *session) error {
	r := s.conn.Reader
	raw := readProperties(r)
	typ := r.U64()
	if err := r.Err(); err != nil {
		return err
	}
	props, err := s.resolveProperties(raw)
	if err != nil {
		return s.fail(err)
	}
	return s.createContext(func(notify compute.NotifyFunc) (compute.Context, error) {
		return s.rt.CreateContextFromType(props, typ, notify)
	})
}

func handleCreateCommandQueue(s *session) error {
	r := s.conn.Reader
	cid, did, props := r.U64(), r.U64(), r.U64()
	if err := r.Err(); err != nil {
		return err
	}
	c, err := s.resolve(cl.KindContext, cid)
	if err != nil {
		return s.fail(err)
	}
	d, err := s.resolve(cl.KindDevice, did)
	if err != nil {
		return s.fail(err)
	}
	q, err := s.rt.CreateQueue(c, d, props)
	return s.created(cl.KindQueue, q, err)
}

func handleCreateBuffer(s *session) error {
	r := s.conn.Reader
	cid, flags, size := r.U64(), r.U64(), r.U64()
	host := r.Blob()
	if err := r.Err(); err != nil {
		return err
	}
	c, err := s.resolve(cl.KindContext, cid)
	if err != nil {
		return s.fail(err)
	}
	if len(host) == 0 {
		host = nil
	}
	m, err := s.rt.CreateBuffer(c, flags, size, host)
	return s.created(cl.KindMem, m, err)
}

func handleCreateSubBuffer(s *session) error {
	r := s.conn.Reader
	mid, flags, typ, origin, size := r.U64(), r.U64(), r.U32(), r.U64(), r.U64()
	if err := r.Err(); err != nil {
		return err
	}
	m, err := s.resolve(cl.KindMem, mid)
	if err != nil {
		return s.fail(err)
	}
	sub, err := s.rt.CreateSubBuffer(m, flags, typ, origin, size)
	return s.created(cl.KindMem, sub, err)
}

func readImageDesc(r *wire.Reader) (compute.ImageDesc, uint64) {
	desc := compute.ImageDesc{
		Type:         r.U32(),
		Width:        r.U64(),
		Height:       r.U64(),
		Depth:        r.U64(),
		ArraySize:    r.U64(),
		RowPitch:     r.U64(),
		SlicePitch:   r.U64(),
		NumMipLevels: r.U32(),
		NumSamples:   r.U32(),
	}
	return desc, r.U64()
}

func handleCreateImage(s *session) error {
	r := s.conn.Reader
	cid, flags := r.U64(), r.U64()
	format := compute.ImageFormat{ChannelOrder: r.U32(), ChannelDataType: r.U32()}
	desc, bufID := readImageDesc(r)
	host := r.Blob()
	if err := r.Err(); err != nil {
		return err
	}
	c, err := s.resolve(cl.KindContext, cid)
	if err != nil {
		return s.fail(err)
	}
	if desc.Buffer, err = s.resolveOptional(cl.KindMem, bufID); err != nil {
		return s.fail(cl.InvalidImageDescriptor)
	}
	if len(host) == 0 {
		host = nil
	}
	img, err := s.rt.CreateImage(c, flags, format, desc, host)
	return s.created(cl.KindMem, img, err)
}

func handleGetSupportedImageFormats(s *session) error {
	r := s.conn.Reader
	cid, flags, typ, entries := r.U64(), r.U64(), r.U32(), r.U32()
	if err := r.Err(); err != nil {
		return err
	}
	c, err := s.resolve(cl.KindContext, cid)
	if err != nil {
		return s.fail(err)
	}
	formats, err := s.rt.SupportedImageFormats(c, flags, typ)
	if err != nil {
		return s.fail(err)
	}
	s.ok()
	s.conn.PutU32(uint32(len(formats)))
	for i, f := range formats {
		if uint32(i) >= entries {
			break
		}
		s.conn.PutU32(f.ChannelOrder)
		s.conn.PutU32(f.ChannelDataType)
	}
	return s.done()
}

func handleCreateSampler(s *session) error {
	r := s.conn.Reader
	cid, normalized, addressing, filter := r.U64(), r.Bool(), r.U32(), r.U32()
	if err := r.Err(); err != nil {
		return err
	}
	c, err := s.resolve(cl.KindContext, cid)
	if err != nil {
		return s.fail(err)
	}
	smp, err := s.rt.CreateSampler(c, normalized, addressing, filter)
	return s.created(cl.KindSampler, smp, err)
}
