package sim

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/fxnlabs/ocland/internal/cl"
	"github.com/fxnlabs/ocland/internal/compute"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	rt  *Runtime
	ctx compute.Context
	q   compute.Queue
	dev compute.Device
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	rt := New(DefaultOptions(), zap.NewNop())
	t.Cleanup(func() { _ = rt.Close() })

	platforms, err := rt.Platforms()
	require.NoError(t, err)
	devices, err := rt.Devices(platforms[0], cl.DeviceTypeCPU)
	require.NoError(t, err)
	ctx, err := rt.CreateContext([]compute.ContextProperty{{Name: cl.ContextPlatform, Platform: platforms[0]}}, devices, nil)
	require.NoError(t, err)
	q, err := rt.CreateQueue(ctx, devices[0], cl.QueueProfilingEnable)
	require.NoError(t, err)
	return fixture{rt: rt, ctx: ctx, q: q, dev: devices[0]}
}

func f32bytes(vs ...float32) []byte {
	out := make([]byte, 4*len(vs))
	for i, v := range vs {
		order.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func f32values(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(order.Uint32(b[4*i:]))
	}
	return out
}

func u32bytes(v uint32) []byte {
	b := make([]byte, 4)
	order.PutUint32(b, v)
	return b
}

func infoString(t *testing.T, query func() (compute.Info, error)) string {
	t.Helper()
	info, err := query()
	require.NoError(t, err)
	return strings.TrimRight(string(info.Value), "\x00")
}

func TestPlatformAndDevices(t *testing.T) {
	rt := New(Options{CPUDevices: 2, GPUDevices: 1}, nil)
	defer rt.Close()

	platforms, err := rt.Platforms()
	require.NoError(t, err)
	require.Len(t, platforms, 1)

	version := infoString(t, func() (compute.Info, error) { return rt.PlatformInfo(platforms[0], cl.PlatformVersion) })
	assert.True(t, strings.HasPrefix(version, "OpenCL 1.2"))

	_, err = rt.PlatformInfo(platforms[0], 0xdead)
	assert.Equal(t, cl.InvalidValue, err)
	_, err = rt.PlatformInfo("nope", cl.PlatformName)
	assert.Equal(t, cl.InvalidPlatform, err)

	t.Run("by type", func(t *testing.T) {
		all, err := rt.Devices(platforms[0], cl.DeviceTypeAll)
		require.NoError(t, err)
		assert.Len(t, all, 3)
		gpus, err := rt.Devices(platforms[0], cl.DeviceTypeGPU)
		require.NoError(t, err)
		assert.Len(t, gpus, 1)
		_, err = rt.Devices(platforms[0], cl.DeviceTypeAccelerator)
		assert.Equal(t, cl.DeviceNotFound, err)
		_, err = rt.Devices(platforms[0], 0)
		assert.Equal(t, cl.InvalidDeviceType, err)
	})

	t.Run("platform of device", func(t *testing.T) {
		devices, _ := rt.Devices(platforms[0], cl.DeviceTypeDefault)
		require.Len(t, devices, 1)
		info, err := rt.DeviceInfo(devices[0], cl.DevicePlatform)
		require.NoError(t, err)
		assert.Equal(t, []compute.Object{platforms[0]}, info.Objects)
	})

	t.Run("sub devices", func(t *testing.T) {
		devices, _ := rt.Devices(platforms[0], cl.DeviceTypeGPU)
		subs, err := rt.CreateSubDevices(devices[0], []uint64{cl.DevicePartitionEqually, 2, 0})
		require.NoError(t, err)
		assert.Len(t, subs, 2)

		parent, err := rt.DeviceInfo(subs[0], cl.DeviceParentDevice)
		require.NoError(t, err)
		assert.Equal(t, []compute.Object{devices[0]}, parent.Objects)

		counts, err := rt.CreateSubDevices(devices[0], []uint64{cl.DevicePartitionByCounts, 1, 3, cl.DevicePartitionByCountsListEnd, 0})
		require.NoError(t, err)
		assert.Len(t, counts, 2)

		_, err = rt.CreateSubDevices(devices[0], []uint64{cl.DevicePartitionByCounts, 4, 4, 0})
		assert.Equal(t, cl.InvalidDevicePartitionCount, err)

		require.NoError(t, rt.Release(subs[0]))
		assert.Equal(t, cl.InvalidDevice, rt.Release(subs[0]))
		// root devices ignore reference counting
		assert.NoError(t, rt.Release(devices[0]))
		assert.NoError(t, rt.Release(devices[0]))
	})
}

func TestContextValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.rt.CreateContext(nil, nil, nil)
	assert.Equal(t, cl.InvalidValue, err)
	_, err = f.rt.CreateContext([]compute.ContextProperty{{Name: 0x9999}}, []compute.Device{f.dev}, nil)
	assert.Equal(t, cl.InvalidProperty, err)
	_, err = f.rt.CreateContext([]compute.ContextProperty{{Name: cl.ContextPlatform, Platform: "x"}}, []compute.Device{f.dev}, nil)
	assert.Equal(t, cl.InvalidPlatform, err)

	info, err := f.rt.ContextInfo(f.ctx, cl.ContextDevices)
	require.NoError(t, err)
	assert.Equal(t, []compute.Object{f.dev}, info.Objects)

	info, err = f.rt.ContextInfo(f.ctx, cl.ContextProperties)
	require.NoError(t, err)
	require.Len(t, info.Properties, 1)
	assert.Equal(t, cl.ContextPlatform, info.Properties[0].Name)

	require.NoError(t, f.rt.Retain(f.ctx))
	require.NoError(t, f.rt.Release(f.ctx))
	info, err = f.rt.ContextInfo(f.ctx, cl.ContextReferenceCount)
	require.NoError(t, err)
	assert.Equal(t, u32bytes(1), info.Value)
}

func TestBufferRoundTrip(t *testing.T) {
	f := newFixture(t)

	host := []byte("0123456789abcdef")
	buf, err := f.rt.CreateBuffer(f.ctx, cl.MemCopyHostPtr, uint64(len(host)), host)
	require.NoError(t, err)

	out := make([]byte, 6)
	_, err = f.rt.ReadBuffer(f.q, buf, true, 4, out, nil)
	require.NoError(t, err)
	assert.Equal(t, "456789", string(out))

	_, err = f.rt.WriteBuffer(f.q, buf, true, 0, []byte("XY"), nil)
	require.NoError(t, err)
	_, err = f.rt.FillBuffer(f.q, buf, []byte("--"), 10, 4, nil)
	require.NoError(t, err)

	all := make([]byte, len(host))
	_, err = f.rt.ReadBuffer(f.q, buf, true, 0, all, nil)
	require.NoError(t, err)
	assert.Equal(t, "XY23456789----ef", string(all))

	t.Run("validation", func(t *testing.T) {
		_, err := f.rt.CreateBuffer(f.ctx, 0, 0, nil)
		assert.Equal(t, cl.InvalidBufferSize, err)
		_, err = f.rt.CreateBuffer(f.ctx, 0, 4, []byte("abcd"))
		assert.Equal(t, cl.InvalidHostPtr, err)
		_, err = f.rt.CreateBuffer(f.ctx, cl.MemReadOnly|cl.MemWriteOnly, 4, nil)
		assert.Equal(t, cl.InvalidValue, err)
		_, err = f.rt.ReadBuffer(f.q, buf, true, 12, make([]byte, 8), nil)
		assert.Equal(t, cl.InvalidValue, err)
		_, err = f.rt.FillBuffer(f.q, buf, []byte("abc"), 0, 3, nil)
		assert.Equal(t, cl.InvalidValue, err)
	})

	t.Run("sub buffer aliases parent", func(t *testing.T) {
		sub, err := f.rt.CreateSubBuffer(buf, 0, cl.BufferCreateTypeRegion, 8, 4)
		require.NoError(t, err)
		_, err = f.rt.WriteBuffer(f.q, sub, true, 0, []byte("subs"), nil)
		require.NoError(t, err)
		_, err = f.rt.ReadBuffer(f.q, buf, true, 0, all, nil)
		require.NoError(t, err)
		assert.Equal(t, "XY234567subs--ef", string(all))

		info, err := f.rt.MemInfo(sub, cl.MemAssociatedMemObject)
		require.NoError(t, err)
		assert.Equal(t, []compute.Object{buf}, info.Objects)

		_, err = f.rt.CopyBuffer(f.q, buf, sub, 6, 0, 4, nil)
		assert.Equal(t, cl.MemCopyOverlap, err)
		_, err = f.rt.CreateSubBuffer(buf, 0, cl.BufferCreateTypeRegion, 14, 4)
		assert.Equal(t, cl.InvalidValue, err)
	})
}

func TestBufferRect(t *testing.T) {
	f := newFixture(t)

	// 4x3 bytes per slice, 2 slices, stored with a row pitch of 4
	buf, err := f.rt.CreateBuffer(f.ctx, 0, 24, nil)
	require.NoError(t, err)
	src := []byte("abcdefghijklmnopqrstuvwx")
	_, err = f.rt.WriteBuffer(f.q, buf, true, 0, src, nil)
	require.NoError(t, err)

	r := compute.Rect{
		BufferOrigin:     [3]uint64{1, 1, 0},
		Region:           [3]uint64{2, 2, 2},
		BufferRowPitch:   4,
		BufferSlicePitch: 12,
	}
	dst := make([]byte, 8)
	_, err = f.rt.ReadBufferRect(f.q, buf, true, r, dst, nil)
	require.NoError(t, err)
	assert.Equal(t, "fgjkrsvw", string(dst))

	r.BufferOrigin = [3]uint64{3, 2, 1}
	_, err = f.rt.ReadBufferRect(f.q, buf, true, r, dst, nil)
	assert.Equal(t, cl.InvalidValue, err)
}

func TestEventsAndWaitLists(t *testing.T) {
	f := newFixture(t)

	buf, err := f.rt.CreateBuffer(f.ctx, 0, 4, nil)
	require.NoError(t, err)
	gate, err := f.rt.CreateUserEvent(f.ctx)
	require.NoError(t, err)

	ev, err := f.rt.WriteBuffer(f.q, buf, false, 0, []byte("gate"), []compute.Event{gate})
	require.NoError(t, err)

	info, err := f.rt.EventInfo(ev, cl.EventCommandExecutionStatus)
	require.NoError(t, err)
	assert.Equal(t, cl.Queued, int32(order.Uint32(info.Value)))

	require.NoError(t, f.rt.SetUserEventStatus(gate, cl.Complete))
	assert.Equal(t, cl.InvalidOperation, f.rt.SetUserEventStatus(gate, cl.Complete))
	require.NoError(t, f.rt.WaitForEvents(context.Background(), []compute.Event{ev}))

	info, err = f.rt.EventProfilingInfo(ev, cl.ProfilingCommandEnd)
	require.NoError(t, err)
	assert.NotZero(t, order.Uint64(info.Value))
	_, err = f.rt.EventProfilingInfo(gate, cl.ProfilingCommandEnd)
	assert.Equal(t, cl.ProfilingInfoNotAvailable, err)

	t.Run("failed user event fails dependents", func(t *testing.T) {
		failing, err := f.rt.CreateUserEvent(f.ctx)
		require.NoError(t, err)
		ev, err := f.rt.WriteBuffer(f.q, buf, false, 0, []byte("fail"), []compute.Event{failing})
		require.NoError(t, err)
		require.NoError(t, f.rt.SetUserEventStatus(failing, int32(cl.OutOfResources)))

		err = f.rt.WaitForEvents(context.Background(), []compute.Event{ev})
		assert.Equal(t, cl.ExecStatusErrorForEventsInWaitList, err)
		info, err := f.rt.EventInfo(ev, cl.EventCommandExecutionStatus)
		require.NoError(t, err)
		assert.Equal(t, int32(cl.ExecStatusErrorForEventsInWaitList), int32(order.Uint32(info.Value)))
	})

	t.Run("wait is bounded by the context", func(t *testing.T) {
		pending, err := f.rt.CreateUserEvent(f.ctx)
		require.NoError(t, err)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, f.rt.WaitForEvents(ctx, []compute.Event{pending}), context.DeadlineExceeded)
	})

	t.Run("invalid status", func(t *testing.T) {
		u, err := f.rt.CreateUserEvent(f.ctx)
		require.NoError(t, err)
		assert.Equal(t, cl.InvalidValue, f.rt.SetUserEventStatus(u, cl.Running))
		assert.Equal(t, cl.InvalidEvent, f.rt.SetUserEventStatus(ev, cl.Complete))
	})

	require.NoError(t, f.rt.Finish(context.Background(), f.q))
}

const saxpySource = `
// y = a*x + y
__kernel void saxpy(const float a, __global const float* x, __global float* y)
{
    size_t i = get_global_id(0);
    y[i] = a * x[i] + y[i];
}

__kernel void scale(__global float* x, const float factor, __local float* scratch)
{
    size_t i = get_global_id(0);
    x[i] *= factor;
}
`

func buildProgram(t *testing.T, f fixture, source string) compute.Program {
	t.Helper()
	p, err := f.rt.CreateProgramWithSource(f.ctx, []string{source})
	require.NoError(t, err)
	require.NoError(t, f.rt.BuildProgram(p, nil, "-cl-fast-relaxed-math -D N=4"))
	return p
}

func TestProgramAndKernels(t *testing.T) {
	f := newFixture(t)
	p := buildProgram(t, f, saxpySource)

	names := infoString(t, func() (compute.Info, error) { return f.rt.ProgramInfo(p, cl.ProgramKernelNames) })
	assert.Equal(t, "saxpy;scale", names)

	k, err := f.rt.CreateKernel(p, "saxpy")
	require.NoError(t, err)
	_, err = f.rt.CreateKernel(p, "missing")
	assert.Equal(t, cl.InvalidKernelName, err)

	t.Run("arg info", func(t *testing.T) {
		info, err := f.rt.KernelArgInfo(k, 1, cl.KernelArgAddressQualifier)
		require.NoError(t, err)
		assert.Equal(t, u32bytes(cl.KernelArgAddressGlobal), info.Value)

		info, err = f.rt.KernelArgInfo(k, 0, cl.KernelArgAddressQualifier)
		require.NoError(t, err)
		assert.Equal(t, u32bytes(cl.KernelArgAddressPrivate), info.Value)

		typeName := infoString(t, func() (compute.Info, error) { return f.rt.KernelArgInfo(k, 1, cl.KernelArgTypeName) })
		assert.Equal(t, "float*", typeName)

		info, err = f.rt.KernelArgInfo(k, 1, cl.KernelArgTypeQualifier)
		require.NoError(t, err)
		assert.Equal(t, cl.KernelArgTypeConst, order.Uint64(info.Value))

		_, err = f.rt.KernelArgInfo(k, 3, cl.KernelArgName)
		assert.Equal(t, cl.InvalidArgIndex, err)
	})

	x, err := f.rt.CreateBuffer(f.ctx, cl.MemCopyHostPtr, 16, f32bytes(1, 2, 3, 4))
	require.NoError(t, err)
	y, err := f.rt.CreateBuffer(f.ctx, cl.MemCopyHostPtr, 16, f32bytes(10, 20, 30, 40))
	require.NoError(t, err)

	_, err = f.rt.NDRangeKernel(f.q, k, nil, []uint64{4}, nil, nil)
	assert.Equal(t, cl.InvalidKernelArgs, err)

	require.NoError(t, f.rt.SetKernelArg(k, 0, compute.KernelArg{Size: 4, Value: f32bytes(2)}))
	require.NoError(t, f.rt.SetKernelArg(k, 1, compute.KernelArg{Size: 8, Mem: x}))
	require.NoError(t, f.rt.SetKernelArg(k, 2, compute.KernelArg{Size: 8, Mem: y}))
	assert.Equal(t, cl.InvalidArgSize, f.rt.SetKernelArg(k, 0, compute.KernelArg{Size: 8, Value: make([]byte, 8)}))
	assert.Equal(t, cl.InvalidMemObject, f.rt.SetKernelArg(k, 1, compute.KernelArg{Size: 8, Value: []byte{1, 0, 0, 0, 0, 0, 0, 0}}))
	assert.Equal(t, cl.InvalidArgIndex, f.rt.SetKernelArg(k, 3, compute.KernelArg{Size: 4, Value: f32bytes(1)}))

	_, err = f.rt.NDRangeKernel(f.q, k, nil, []uint64{4}, []uint64{3}, nil)
	assert.Equal(t, cl.InvalidWorkGroupSize, err)
	_, err = f.rt.NDRangeKernel(f.q, k, nil, nil, nil, nil)
	assert.Equal(t, cl.InvalidWorkDimension, err)

	ev, err := f.rt.NDRangeKernel(f.q, k, nil, []uint64{4}, []uint64{2}, nil)
	require.NoError(t, err)
	require.NoError(t, f.rt.WaitForEvents(context.Background(), []compute.Event{ev}))

	out := make([]byte, 16)
	_, err = f.rt.ReadBuffer(f.q, y, true, 0, out, nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{12, 24, 36, 48}, f32values(out))

	t.Run("local argument", func(t *testing.T) {
		scale, err := f.rt.CreateKernel(p, "scale")
		require.NoError(t, err)
		require.NoError(t, f.rt.SetKernelArg(scale, 0, compute.KernelArg{Size: 8, Mem: x}))
		require.NoError(t, f.rt.SetKernelArg(scale, 1, compute.KernelArg{Size: 4, Value: f32bytes(0.5)}))
		assert.Equal(t, cl.InvalidArgValue, f.rt.SetKernelArg(scale, 2, compute.KernelArg{Size: 8, Mem: y}))
		require.NoError(t, f.rt.SetKernelArg(scale, 2, compute.KernelArg{Size: 64, Local: true}))

		info, err := f.rt.KernelWorkGroupInfo(scale, f.dev, cl.KernelLocalMemSize)
		require.NoError(t, err)
		assert.Equal(t, uint64(64), order.Uint64(info.Value))

		_, err = f.rt.NDRangeKernel(f.q, scale, nil, []uint64{4}, nil, nil)
		require.NoError(t, err)
		require.NoError(t, f.rt.Finish(context.Background(), f.q))
		_, err = f.rt.ReadBuffer(f.q, x, true, 0, out, nil)
		require.NoError(t, err)
		assert.Equal(t, []float32{0.5, 1, 1.5, 2}, f32values(out))
	})

	t.Run("rebuild with attached kernels", func(t *testing.T) {
		assert.Equal(t, cl.InvalidOperation, f.rt.BuildProgram(p, nil, ""))
	})

	t.Run("unknown kernel body", func(t *testing.T) {
		other := buildProgram(t, f, "__kernel void mystery(__global int* a) { a[0] = 1; }")
		k, err := f.rt.CreateKernel(other, "mystery")
		require.NoError(t, err)
		require.NoError(t, f.rt.SetKernelArg(k, 0, compute.KernelArg{Size: 8, Mem: x}))
		_, err = f.rt.NDRangeKernel(f.q, k, nil, []uint64{1}, nil, nil)
		assert.Equal(t, cl.InvalidOperation, err)
	})
}

func TestBuildFailures(t *testing.T) {
	f := newFixture(t)

	p, err := f.rt.CreateProgramWithSource(f.ctx, []string{"#error no luck\n__kernel void k() {}"})
	require.NoError(t, err)
	assert.Equal(t, cl.BuildProgramFailure, f.rt.BuildProgram(p, nil, ""))

	log := infoString(t, func() (compute.Info, error) { return f.rt.ProgramBuildInfo(p, f.dev, cl.ProgramBuildLog) })
	assert.Contains(t, log, "no luck")
	info, err := f.rt.ProgramBuildInfo(p, f.dev, cl.ProgramBuildStatus)
	require.NoError(t, err)
	assert.Equal(t, cl.BuildError, int32(order.Uint32(info.Value)))

	_, err = f.rt.CreateKernel(p, "k")
	assert.Equal(t, cl.InvalidProgramExecutable, err)

	assert.Equal(t, cl.InvalidBuildOptions, f.rt.BuildProgram(p, nil, "--bogus"))

	_, err = f.rt.CreateProgramWithSource(f.ctx, []string{"a", ""})
	assert.Equal(t, cl.InvalidValue, err)
}

func TestBinariesRoundTrip(t *testing.T) {
	f := newFixture(t)
	p := buildProgram(t, f, saxpySource)

	info, err := f.rt.ProgramInfo(p, cl.ProgramBinaries)
	require.NoError(t, err)
	require.Len(t, info.Blobs, 1)

	from, statuses, err := f.rt.CreateProgramWithBinary(f.ctx, []compute.Device{f.dev}, info.Blobs)
	require.NoError(t, err)
	assert.Equal(t, []cl.Status{cl.Success}, statuses)
	require.NoError(t, f.rt.BuildProgram(from, nil, ""))

	k, err := f.rt.CreateKernel(from, "saxpy")
	require.NoError(t, err)
	_, err = f.rt.KernelArgInfo(k, 0, cl.KernelArgAddressQualifier)
	assert.Equal(t, cl.KernelArgInfoNotAvailable, err)

	tampered := append([]byte(nil), info.Blobs[0]...)
	tampered[len(tampered)-2] ^= 0xff
	_, statuses, err = f.rt.CreateProgramWithBinary(f.ctx, []compute.Device{f.dev}, [][]byte{tampered})
	assert.Equal(t, cl.InvalidBinary, err)
	assert.Equal(t, []cl.Status{cl.InvalidBinary}, statuses)
}

func TestCompileAndLink(t *testing.T) {
	f := newFixture(t)

	header, err := f.rt.CreateProgramWithSource(f.ctx, []string{"#define SCALE 2\n"})
	require.NoError(t, err)
	main, err := f.rt.CreateProgramWithSource(f.ctx, []string{"#include \"scale.h\"\n" + saxpySource})
	require.NoError(t, err)

	assert.Equal(t, cl.CompileProgramFailure, f.rt.CompileProgram(main, nil, "", nil, nil))
	require.NoError(t, f.rt.CompileProgram(main, nil, "", []compute.Program{header}, []string{"scale.h"}))

	_, err = f.rt.LinkProgram(f.ctx, nil, "", []compute.Program{header})
	assert.Equal(t, cl.InvalidOperation, err)

	lib, err := f.rt.LinkProgram(f.ctx, nil, "-create-library", []compute.Program{main})
	require.NoError(t, err)
	info, err := f.rt.ProgramBuildInfo(lib, f.dev, cl.ProgramBinaryType)
	require.NoError(t, err)
	assert.Equal(t, u32bytes(cl.ProgramBinaryTypeLibrary), info.Value)

	exe, err := f.rt.LinkProgram(f.ctx, nil, "", []compute.Program{lib})
	require.NoError(t, err)
	_, err = f.rt.CreateKernel(exe, "scale")
	assert.NoError(t, err)

	_, err = f.rt.LinkProgram(f.ctx, nil, "", []compute.Program{main, lib})
	assert.Equal(t, cl.LinkProgramFailure, err)
}

func TestBuiltInKernels(t *testing.T) {
	f := newFixture(t)

	_, err := f.rt.CreateProgramWithBuiltInKernels(f.ctx, []compute.Device{f.dev}, "sgemm;nope")
	assert.Equal(t, cl.InvalidValue, err)

	p, err := f.rt.CreateProgramWithBuiltInKernels(f.ctx, []compute.Device{f.dev}, "sgemm")
	require.NoError(t, err)
	k, err := f.rt.CreateKernel(p, "sgemm")
	require.NoError(t, err)

	// [1 2; 3 4] x [5 6; 7 8]
	a, err := f.rt.CreateBuffer(f.ctx, cl.MemCopyHostPtr, 16, f32bytes(1, 2, 3, 4))
	require.NoError(t, err)
	b, err := f.rt.CreateBuffer(f.ctx, cl.MemCopyHostPtr, 16, f32bytes(5, 6, 7, 8))
	require.NoError(t, err)
	c, err := f.rt.CreateBuffer(f.ctx, 0, 16, nil)
	require.NoError(t, err)

	for i := uint32(0); i < 3; i++ {
		require.NoError(t, f.rt.SetKernelArg(k, i, compute.KernelArg{Size: 4, Value: u32bytes(2)}))
	}
	for i, m := range []compute.Mem{a, b, c} {
		require.NoError(t, f.rt.SetKernelArg(k, uint32(3+i), compute.KernelArg{Size: 8, Mem: m}))
	}
	_, err = f.rt.NDRangeKernel(f.q, k, nil, []uint64{2, 2}, nil, nil)
	require.NoError(t, err)

	out := make([]byte, 16)
	_, err = f.rt.ReadBuffer(f.q, c, true, 0, out, nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{19, 22, 43, 50}, f32values(out))
}

func TestFailedCommandNotifiesContext(t *testing.T) {
	f := newFixture(t)

	notes := make(chan string, 1)
	ctx, err := f.rt.CreateContext(nil, []compute.Device{f.dev}, func(errInfo string, _ []byte) {
		notes <- errInfo
	})
	require.NoError(t, err)
	q, err := f.rt.CreateQueue(ctx, f.dev, 0)
	require.NoError(t, err)

	p, err := f.rt.CreateProgramWithBuiltInKernels(ctx, []compute.Device{f.dev}, "fill")
	require.NoError(t, err)
	k, err := f.rt.CreateKernel(p, "fill")
	require.NoError(t, err)
	small, err := f.rt.CreateBuffer(ctx, 0, 4, nil)
	require.NoError(t, err)
	require.NoError(t, f.rt.SetKernelArg(k, 0, compute.KernelArg{Size: 8, Mem: small}))
	require.NoError(t, f.rt.SetKernelArg(k, 1, compute.KernelArg{Size: 4, Value: u32bytes(7)}))

	// eight work items overrun a one element buffer
	ev, err := f.rt.NDRangeKernel(q, k, nil, []uint64{8}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, cl.ExecStatusErrorForEventsInWaitList, f.rt.WaitForEvents(context.Background(), []compute.Event{ev}))

	select {
	case note := <-notes:
		assert.Contains(t, note, "CL_OUT_OF_RESOURCES")
	case <-time.After(time.Second):
		t.Fatal("no context notification")
	}
}

func TestImages(t *testing.T) {
	f := newFixture(t)
	format := compute.ImageFormat{ChannelOrder: cl.RGBA, ChannelDataType: cl.UNormInt8}

	_, err := f.rt.CreateImage(f.ctx, 0, compute.ImageFormat{ChannelOrder: cl.RGB, ChannelDataType: cl.UNormInt8},
		compute.ImageDesc{Type: cl.MemObjectImage2D, Width: 2, Height: 2}, nil)
	assert.Equal(t, cl.ImageFormatNotSupported, err)
	_, err = f.rt.CreateImage(f.ctx, 0, format, compute.ImageDesc{Type: cl.MemObjectImage2D, Width: 2}, nil)
	assert.Equal(t, cl.InvalidImageSize, err)

	img, err := f.rt.CreateImage(f.ctx, 0, format, compute.ImageDesc{Type: cl.MemObjectImage2D, Width: 4, Height: 3}, nil)
	require.NoError(t, err)

	info, err := f.rt.ImageInfo(img, cl.ImageRowPitch)
	require.NoError(t, err)
	assert.Equal(t, uint64(16), order.Uint64(info.Value))

	var color [16]byte
	copy(color[:], f32bytes(1, 0, 0, 1))
	_, err = f.rt.FillImage(f.q, img, color, [3]uint64{1, 1, 0}, [3]uint64{2, 1, 1}, nil)
	require.NoError(t, err)

	pix := make([]byte, 8)
	_, err = f.rt.ReadImage(f.q, img, true, [3]uint64{1, 1, 0}, [3]uint64{2, 1, 1}, 0, 0, pix, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{255, 0, 0, 255, 255, 0, 0, 255}, pix)

	row := []byte("abcdefghijklmnop")
	_, err = f.rt.WriteImage(f.q, img, true, [3]uint64{0, 2, 0}, [3]uint64{4, 1, 1}, 0, 0, row, nil)
	require.NoError(t, err)

	buf, err := f.rt.CreateBuffer(f.ctx, 0, 16, nil)
	require.NoError(t, err)
	_, err = f.rt.CopyImageToBuffer(f.q, img, buf, [3]uint64{0, 2, 0}, [3]uint64{4, 1, 1}, 0, nil)
	require.NoError(t, err)
	got := make([]byte, 16)
	_, err = f.rt.ReadBuffer(f.q, buf, true, 0, got, nil)
	require.NoError(t, err)
	assert.Equal(t, row, got)

	_, err = f.rt.ReadImage(f.q, img, true, [3]uint64{3, 0, 0}, [3]uint64{2, 1, 1}, 0, 0, pix, nil)
	assert.Equal(t, cl.InvalidValue, err)
}

func TestHalfBits(t *testing.T) {
	assert.Equal(t, uint16(0x3c00), halfBits(1))
	assert.Equal(t, uint16(0xc000), halfBits(-2))
	assert.Equal(t, uint16(0x7c00), halfBits(1e10))
	assert.Equal(t, uint16(0x0001), halfBits(float32(math.Ldexp(1, -24))))
	assert.Equal(t, uint16(0), halfBits(0))
}

func TestSamplers(t *testing.T) {
	f := newFixture(t)
	_, err := f.rt.CreateSampler(f.ctx, false, cl.AddressRepeat, cl.FilterNearest)
	assert.Equal(t, cl.InvalidValue, err)

	s, err := f.rt.CreateSampler(f.ctx, true, cl.AddressClamp, cl.FilterLinear)
	require.NoError(t, err)
	info, err := f.rt.SamplerInfo(s, cl.SamplerFilterMode)
	require.NoError(t, err)
	assert.Equal(t, u32bytes(cl.FilterLinear), info.Value)

	require.NoError(t, f.rt.Release(s))
	_, err = f.rt.SamplerInfo(s, cl.SamplerFilterMode)
	assert.Equal(t, cl.InvalidSampler, err)
}

func TestRegionOverflowRejected(t *testing.T) {
	f := newFixture(t)
	top := uint64(math.MaxUint64)
	buf, err := f.rt.CreateBuffer(f.ctx, 0, 24, nil)
	require.NoError(t, err)
	host := make([]byte, 24)

	rects := map[string]compute.Rect{
		"buffer origin": {BufferOrigin: [3]uint64{top, 0, 0}, Region: [3]uint64{2, 1, 1}},
		"host origin":   {HostOrigin: [3]uint64{top, 0, 0}, Region: [3]uint64{2, 1, 1}},
		"buffer rows":   {BufferOrigin: [3]uint64{0, top, 0}, Region: [3]uint64{2, 1, 1}},
		"host slices":   {HostOrigin: [3]uint64{0, 0, top}, Region: [3]uint64{2, 1, 1}},
		"row pitch":     {BufferOrigin: [3]uint64{0, 2, 0}, Region: [3]uint64{2, 1, 1}, BufferRowPitch: top / 2},
	}
	for name, r := range rects {
		t.Run(name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				_, err := f.rt.ReadBufferRect(f.q, buf, true, r, host, nil)
				assert.Equal(t, cl.InvalidValue, err)
				_, err = f.rt.WriteBufferRect(f.q, buf, true, r, host, nil)
				assert.Equal(t, cl.InvalidValue, err)
				_, err = f.rt.CopyBufferRect(f.q, buf, buf, r, nil)
				assert.Equal(t, cl.InvalidValue, err)
			})
		})
	}

	t.Run("image origin", func(t *testing.T) {
		format := compute.ImageFormat{ChannelOrder: cl.RGBA, ChannelDataType: cl.UNormInt8}
		img, err := f.rt.CreateImage(f.ctx, 0, format, compute.ImageDesc{Type: cl.MemObjectImage2D, Width: 4, Height: 3}, nil)
		require.NoError(t, err)
		assert.NotPanics(t, func() {
			_, err := f.rt.ReadImage(f.q, img, true, [3]uint64{top, 0, 0}, [3]uint64{2, 1, 1}, 0, 0, host, nil)
			assert.Equal(t, cl.InvalidValue, err)
			_, err = f.rt.ReadImage(f.q, img, true, [3]uint64{0, 0, 0}, [3]uint64{2, 2, 1}, top-top%8, 0, host, nil)
			assert.Equal(t, cl.InvalidValue, err)
		})
	})

	// the queue still runs commands afterwards
	_, err = f.rt.ReadBuffer(f.q, buf, true, 0, host, nil)
	assert.NoError(t, err)
}
