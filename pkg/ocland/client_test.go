package ocland

import (
	"bytes"
	"context"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/fxnlabs/ocland/internal/cl"
	"github.com/fxnlabs/ocland/internal/compression"
	"github.com/fxnlabs/ocland/internal/compute"
	"github.com/fxnlabs/ocland/internal/compute/sim"
	"github.com/fxnlabs/ocland/internal/handles"
	"github.com/fxnlabs/ocland/internal/server"
	"github.com/fxnlabs/ocland/internal/transfer"
	"github.com/fxnlabs/ocland/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startDaemon(t *testing.T, opts server.Options) string {
	t.Helper()
	return serveRuntime(t, sim.New(sim.DefaultOptions(), zap.NewNop()), opts)
}

func serveRuntime(t *testing.T, rt compute.Runtime, opts server.Options) string {
	t.Helper()
	srv := server.New(rt, opts, zap.NewNop())
	require.NoError(t, srv.Listen("127.0.0.1", 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = rt.Close()
	})
	return srv.Addr().String()
}

type fixture struct {
	c        *Client
	platform Platform
	device   Device
	ctx      Context
	queue    CommandQueue
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	if len(opts.Servers) == 0 {
		opts.Servers = []string{startDaemon(t, server.Options{Wire: opts.Wire})}
	}
	opts.DialTimeout = 5 * time.Second
	c := New(opts, zap.NewNop())
	t.Cleanup(func() { _ = c.Close() })

	f := &fixture{c: c}
	platforms, err := c.GetPlatformIDs()
	require.NoError(t, err)
	require.Len(t, platforms, 1)
	f.platform = platforms[0]

	devices, err := c.GetDeviceIDs(f.platform, cl.DeviceTypeCPU)
	require.NoError(t, err)
	require.NotEmpty(t, devices)
	f.device = devices[0]

	f.ctx, err = c.CreateContext([]ContextProperty{{Name: cl.ContextPlatform, Value: uint64(f.platform)}}, []Device{f.device}, nil)
	require.NoError(t, err)
	f.queue, err = c.CreateCommandQueue(f.ctx, f.device, 0)
	require.NoError(t, err)
	return f
}

func (f *fixture) buffer(t *testing.T, host []byte) Mem {
	t.Helper()
	m, err := f.c.CreateBuffer(f.ctx, cl.MemReadWrite|cl.MemCopyHostPtr, uint64(len(host)), host)
	require.NoError(t, err)
	return m
}

func (f *fixture) program(t *testing.T, source string) Program {
	t.Helper()
	p, err := f.c.CreateProgramWithSource(f.ctx, []string{source}, nil)
	require.NoError(t, err)
	require.NoError(t, f.c.BuildProgram(p, nil, "", nil))
	return p
}

func floats(vs ...float32) []byte {
	out := make([]byte, 0, 4*len(vs))
	for _, v := range vs {
		out = order.AppendUint32(out, math.Float32bits(v))
	}
	return out
}

func handleBytes[H ~uint64](h H) []byte {
	return order.AppendUint64(nil, uint64(h))
}

const kernels = `__kernel void saxpy(const float a, __global const float* x, __global float* y) {
    size_t i = get_global_id(0);
    y[i] = a * x[i] + y[i];
}
__kernel void scale(__global float* x, const float factor, __local float* scratch) {}
`

func TestSupportedVersion(t *testing.T) {
	tests := []struct {
		version string
		want    bool
	}{
		{"OpenCL 1.2 ocland-sim", true},
		{"OpenCL 2.0", true},
		{"OpenCL 3.0 CUDA 12.4", true},
		{"OpenCL 1.1 Mesa", false},
		{"OpenCL 1.0", false},
		{"1.2", false},
		{"OpenCL x.y", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			assert.Equal(t, tt.want, supportedVersion(tt.version))
		})
	}
}

func TestPlatforms(t *testing.T) {
	f := newFixture(t, Options{})
	c := f.c

	t.Run("name carries the daemon host", func(t *testing.T) {
		_, n, err := c.GetPlatformInfo(f.platform, cl.PlatformName, 0)
		require.NoError(t, err)
		v, got, err := c.GetPlatformInfo(f.platform, cl.PlatformName, n)
		require.NoError(t, err)
		assert.Equal(t, n, got)
		assert.Equal(t, "ocland(127.0.0.1) ocland software platform", String(v))

		_, _, err = c.GetPlatformInfo(f.platform, cl.PlatformName, 4)
		assert.Equal(t, cl.InvalidValue, cl.StatusOf(err))
	})

	t.Run("version is forwarded untouched", func(t *testing.T) {
		v, _, err := c.GetPlatformInfo(f.platform, cl.PlatformVersion, 256)
		require.NoError(t, err)
		assert.Equal(t, "OpenCL 1.2 ocland-sim", String(v))
	})

	t.Run("device platform maps back to the local handle", func(t *testing.T) {
		v, _, err := c.GetDeviceInfo(f.device, cl.DevicePlatform, 8)
		require.NoError(t, err)
		assert.Equal(t, uint64(f.platform), Uint64(v))
	})

	t.Run("device lists are interned", func(t *testing.T) {
		again, err := c.GetDeviceIDs(f.platform, cl.DeviceTypeCPU)
		require.NoError(t, err)
		assert.Equal(t, f.device, again[0])
	})

	t.Run("context devices are local handles", func(t *testing.T) {
		v, _, err := c.GetContextInfo(f.ctx, cl.ContextDevices, 8)
		require.NoError(t, err)
		assert.Equal(t, uint64(f.device), Uint64(v))
	})

	t.Run("root devices survive release", func(t *testing.T) {
		require.NoError(t, c.RetainDevice(f.device))
		require.NoError(t, c.ReleaseDevice(f.device))
		require.NoError(t, c.ReleaseDevice(f.device))
		_, _, err := c.GetDeviceInfo(f.device, cl.DeviceType, 8)
		assert.NoError(t, err)
	})
}

func TestNoServers(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := New(Options{Servers: []string{addr}, DialTimeout: time.Second}, zap.NewNop())
	defer c.Close()
	_, err = c.GetPlatformIDs()
	assert.Equal(t, cl.PlatformNotFoundKHR, cl.StatusOf(err))
}

func TestSaxpy(t *testing.T) {
	f := newFixture(t, Options{})
	c := f.c

	p := f.program(t, kernels)
	k, err := c.CreateKernel(p, "saxpy")
	require.NoError(t, err)

	x := f.buffer(t, floats(1, 2, 3, 4))
	y := f.buffer(t, floats(10, 20, 30, 40))
	require.NoError(t, c.SetKernelArg(k, 0, 4, floats(2)))
	require.NoError(t, c.SetKernelArg(k, 1, 8, handleBytes(x)))
	require.NoError(t, c.SetKernelArg(k, 2, 8, handleBytes(y)))

	var done Event
	require.NoError(t, c.EnqueueNDRangeKernel(f.queue, k, 1, nil, []uint64{4}, nil, nil, &done))
	require.NoError(t, c.WaitForEvents([]Event{done}))

	out := make([]byte, 16)
	require.NoError(t, c.EnqueueReadBuffer(f.queue, y, true, 0, out, nil, nil))
	assert.Equal(t, floats(12, 24, 36, 48), out)

	t.Run("kernel program is the local handle", func(t *testing.T) {
		v, _, err := c.GetKernelInfo(k, cl.KernelProgram, 8)
		require.NoError(t, err)
		assert.Equal(t, uint64(p), Uint64(v))
	})

	t.Run("released handles are gone", func(t *testing.T) {
		require.NoError(t, c.ReleaseEvent(done))
		_, _, err := c.GetEventInfo(done, cl.EventCommandExecutionStatus, 4)
		assert.Equal(t, cl.InvalidEvent, cl.StatusOf(err))
	})
}

// argRecorder keeps the last argument the daemon handed to the runtime for
// each index.
type argRecorder struct {
	compute.Runtime
	mu   sync.Mutex
	args map[uint32]compute.KernelArg
}

func (r *argRecorder) SetKernelArg(k compute.Kernel, index uint32, arg compute.KernelArg) error {
	r.mu.Lock()
	r.args[index] = arg
	r.mu.Unlock()
	return r.Runtime.SetKernelArg(k, index, arg)
}

func (r *argRecorder) arg(index uint32) compute.KernelArg {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.args[index]
}

func TestLocalKernelArgument(t *testing.T) {
	rec := &argRecorder{Runtime: sim.New(sim.DefaultOptions(), zap.NewNop()), args: map[uint32]compute.KernelArg{}}
	f := newFixture(t, Options{Servers: []string{serveRuntime(t, rec, server.Options{})}})
	c := f.c

	k, err := c.CreateKernel(f.program(t, `__kernel void mixed(__global float* x, __constant float* table, __local float* scratch) {}
`), "mixed")
	require.NoError(t, err)
	x := f.buffer(t, floats(1, 2))
	peer, ok := c.tables[cl.KindMem].Peer(handles.Handle(x))
	require.True(t, ok)
	peerBytes := order.AppendUint64(nil, uint64(peer))
	require.NotEqual(t, handleBytes(x), peerBytes)

	t.Run("local argument keeps the raw handle bytes", func(t *testing.T) {
		// the runtime rejects a value for a local argument
		assert.Equal(t, cl.InvalidArgValue, cl.StatusOf(c.SetKernelArg(k, 2, 8, handleBytes(x))))
		got := rec.arg(2)
		assert.Equal(t, handleBytes(x), got.Value)
		assert.Nil(t, got.Mem)
		assert.False(t, got.Local)
	})

	t.Run("global argument travels as the peer id", func(t *testing.T) {
		require.NoError(t, c.SetKernelArg(k, 0, 8, handleBytes(x)))
		got := rec.arg(0)
		assert.Equal(t, peerBytes, got.Value)
		assert.NotNil(t, got.Mem)
	})

	t.Run("constant argument travels as the peer id", func(t *testing.T) {
		require.NoError(t, c.SetKernelArg(k, 1, 8, handleBytes(x)))
		got := rec.arg(1)
		assert.Equal(t, peerBytes, got.Value)
		assert.NotNil(t, got.Mem)
	})

	t.Run("local memory size", func(t *testing.T) {
		require.NoError(t, c.SetKernelArg(k, 2, 64, nil))
		got := rec.arg(2)
		assert.True(t, got.Local)
		assert.Equal(t, uint64(64), got.Size)
		assert.Equal(t, cl.InvalidArgValue, cl.StatusOf(c.SetKernelArg(k, 0, 64, nil)))
	})
}

func TestSourceLengths(t *testing.T) {
	f := newFixture(t, Options{})
	c := f.c
	srv := c.Servers()[0]

	sources := []string{
		"__kernel void a(__global float* x) {}\n",
		"__kernel void b(__global float* x) {}\x00ignored",
		"__kernel void c(__global float* x) {}\n",
	}
	lengths := []uint64{0, 0, 0}
	want := sources[0] + sources[1][:len(sources[1])-len("\x00ignored")] + sources[2]

	sent, _ := srv.Traffic()
	p, err := c.CreateProgramWithSource(f.ctx, sources, lengths)
	require.NoError(t, err)
	after, _ := srv.Traffic()
	// opcode, context, count, three lengths, then the bare source bytes
	assert.Equal(t, uint64(4+8+4+3*8+len(want)), after-sent)

	v, _, err := c.GetProgramInfo(p, cl.ProgramSource, uint64(len(want)+1))
	require.NoError(t, err)
	assert.Equal(t, want, String(v))

	_, err = c.CreateProgramWithSource(f.ctx, sources[:1], []uint64{1 << 20})
	assert.Equal(t, cl.InvalidValue, cl.StatusOf(err))
}

func TestRejectionsStayLocal(t *testing.T) {
	f := newFixture(t, Options{})
	c := f.c
	srv := c.Servers()[0]

	k, err := c.CreateKernel(f.program(t, kernels), "saxpy")
	require.NoError(t, err)
	buf := f.buffer(t, make([]byte, 16))
	var ev Event
	require.NoError(t, c.EnqueueMarkerWithWaitList(f.queue, nil, &ev))

	tests := []struct {
		name string
		call func() error
		want cl.Status
	}{
		{"use host ptr", func() error {
			_, err := c.CreateBuffer(f.ctx, cl.MemUseHostPtr, 16, make([]byte, 16))
			return err
		}, cl.InvalidValue},
		{"empty buffer", func() error {
			_, err := c.CreateBuffer(f.ctx, cl.MemReadWrite, 0, nil)
			return err
		}, cl.InvalidBufferSize},
		{"host data without copy flag", func() error {
			_, err := c.CreateBuffer(f.ctx, cl.MemReadWrite, 16, make([]byte, 16))
			return err
		}, cl.InvalidHostPtr},
		{"context callback", func() error {
			_, err := c.CreateContext(nil, []Device{f.device}, func(string, []byte) {})
			return err
		}, cl.OutOfResources},
		{"build callback", func() error {
			return c.BuildProgram(0, nil, "", func(Program) {})
		}, cl.OutOfResources},
		{"fill pattern does not divide size", func() error {
			return c.EnqueueFillBuffer(f.queue, buf, []byte{1, 2, 3}, 0, 16, nil, nil)
		}, cl.InvalidValue},
		{"zero work dimension", func() error {
			return c.EnqueueNDRangeKernel(f.queue, k, 0, nil, nil, nil, nil, nil)
		}, cl.InvalidWorkDimension},
		{"four work dimensions", func() error {
			return c.EnqueueNDRangeKernel(f.queue, k, 4, nil, []uint64{1, 1, 1, 1}, nil, nil, nil)
		}, cl.InvalidWorkDimension},
		{"global size mismatch", func() error {
			return c.EnqueueNDRangeKernel(f.queue, k, 1, nil, []uint64{4, 4}, nil, nil, nil)
		}, cl.InvalidWorkGroupSize},
		{"argument size mismatch", func() error {
			return c.SetKernelArg(k, 0, 8, floats(1))
		}, cl.InvalidArgSize},
		{"map", func() error {
			_, err := c.EnqueueMapBuffer(f.queue, buf, true, 0, 0, 16, nil, nil)
			return err
		}, cl.MapFailure},
		{"native kernel", func() error {
			return c.EnqueueNativeKernel(f.queue, func([]byte) {}, nil, nil, nil)
		}, cl.InvalidOperation},
		{"gl buffer", func() error {
			_, err := c.CreateFromGLBuffer(f.ctx, cl.MemReadWrite, 1)
			return err
		}, cl.InvalidGLObject},
		{"event callback", func() error {
			return c.SetEventCallback(ev, cl.Complete, func(Event, int32) {})
		}, cl.InvalidEvent},
		{"wait for nothing", func() error {
			return c.EnqueueWaitForEvents(f.queue, nil)
		}, cl.InvalidValue},
		{"positive user event status", func() error {
			return c.SetUserEventStatus(ev, 1)
		}, cl.InvalidValue},
		{"unknown mem object", func() error {
			return c.EnqueueReadBuffer(f.queue, Mem(0xdead), true, 0, make([]byte, 4), nil, nil)
		}, cl.InvalidMemObject},
		{"unknown event in wait list", func() error {
			return c.EnqueueBarrierWithWaitList(f.queue, []Event{Event(0xdead)}, nil)
		}, cl.InvalidEventWaitList},
		{"migrate nothing", func() error {
			return c.EnqueueMigrateMemObjects(f.queue, nil, 0, nil, nil)
		}, cl.InvalidValue},
		{"host too small for rect", func() error {
			rect := Rect{Region: [3]uint64{4, 2, 1}, HostRowPitch: 8}
			return c.EnqueueReadBufferRect(f.queue, buf, true, rect, make([]byte, 8), nil, nil)
		}, cl.InvalidValue},
		{"host origin wraps", func() error {
			rect := Rect{HostOrigin: [3]uint64{math.MaxUint64, 0, 0}, Region: [3]uint64{2, 1, 1}}
			return c.EnqueueReadBufferRect(f.queue, buf, true, rect, make([]byte, 16), nil, nil)
		}, cl.InvalidValue},
		{"buffer origin wraps", func() error {
			rect := Rect{BufferOrigin: [3]uint64{math.MaxUint64, 0, 0}, Region: [3]uint64{2, 1, 1}}
			return c.EnqueueReadBufferRect(f.queue, buf, true, rect, make([]byte, 16), nil, nil)
		}, cl.InvalidValue},
		{"host slice pitch wraps", func() error {
			rect := Rect{HostOrigin: [3]uint64{0, 0, 2}, Region: [3]uint64{2, 1, 1}, HostSlicePitch: math.MaxUint64 - 1}
			return c.EnqueueWriteBufferRect(f.queue, buf, false, rect, make([]byte, 16), nil, nil)
		}, cl.InvalidValue},
		{"compile callback", func() error {
			return c.CompileProgram(0, nil, "", nil, nil, func(Program) {})
		}, cl.OutOfResources},
		{"link callback", func() error {
			_, err := c.LinkProgram(f.ctx, nil, "", nil, func(Program) {})
			return err
		}, cl.OutOfResources},
		{"mem destructor callback", func() error {
			return c.SetMemObjectDestructorCallback(buf, func(Mem) {})
		}, cl.InvalidMemObject},
		{"event callback on submit", func() error {
			return c.SetEventCallback(ev, cl.Submitted, func(Event, int32) {})
		}, cl.InvalidValue},
		{"nil event callback", func() error {
			return c.SetEventCallback(ev, cl.Complete, nil)
		}, cl.InvalidValue},
		{"map image", func() error {
			_, err := c.EnqueueMapImage(f.queue, buf, true, 0, [3]uint64{}, [3]uint64{1, 1, 1}, nil, nil)
			return err
		}, cl.MapFailure},
		{"unmap", func() error {
			return c.EnqueueUnmapMemObject(f.queue, buf, make([]byte, 16), nil, nil)
		}, cl.InvalidValue},
		{"gl texture", func() error {
			_, err := c.CreateFromGLTexture(f.ctx, cl.MemReadWrite, 0x0DE1, 0, 1)
			return err
		}, cl.InvalidGLObject},
		{"gl renderbuffer", func() error {
			_, err := c.CreateFromGLRenderbuffer(f.ctx, cl.MemReadWrite, 1)
			return err
		}, cl.InvalidGLObject},
		{"acquire gl objects", func() error {
			return c.EnqueueAcquireGLObjects(f.queue, []Mem{buf}, nil, nil)
		}, cl.InvalidGLObject},
		{"release gl objects", func() error {
			return c.EnqueueReleaseGLObjects(f.queue, []Mem{buf}, nil, nil)
		}, cl.InvalidGLObject},
		{"gl context info", func() error {
			_, _, err := c.GetGLContextInfoKHR(nil, 0x2006, 8)
			return err
		}, cl.InvalidGLSharegroupReferenceKHR},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 2; i++ {
				sent, received := srv.Traffic()
				assert.NotPanics(t, func() {
					assert.Equal(t, tt.want, cl.StatusOf(tt.call()))
				})
				afterSent, afterReceived := srv.Traffic()
				assert.Equal(t, sent, afterSent)
				assert.Equal(t, received, afterReceived)
			}
		})
	}
}

// cube returns n bytes counting up from zero.
func cube(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i)
	}
	return out
}

func TestBufferRectTransfers(t *testing.T) {
	for _, codec := range []struct {
		name string
		wire wire.Options
	}{
		{"plain", wire.Options{}},
		{"lz4", wire.Options{Codec: compression.NewLZ4Codec(8, 1<<20), MaxLength: 1 << 20}},
	} {
		t.Run(codec.name, func(t *testing.T) {
			f := newFixture(t, Options{Wire: codec.wire})
			c := f.c
			// 4x4x4 bytes, row pitch 4, slice pitch 16
			buf := f.buffer(t, cube(64))

			rect := Rect{
				BufferOrigin:     [3]uint64{1, 1, 1},
				HostOrigin:       [3]uint64{1, 0, 0},
				Region:           [3]uint64{2, 2, 2},
				BufferRowPitch:   4,
				BufferSlicePitch: 16,
				HostRowPitch:     3,
				HostSlicePitch:   6,
			}
			want := make([]byte, 12)
			for z := 0; z < 2; z++ {
				for y := 0; y < 2; y++ {
					for x := 0; x < 2; x++ {
						want[z*6+y*3+1+x] = byte((1+z)*16 + (1+y)*4 + 1 + x)
					}
				}
			}

			inline := make([]byte, 12)
			require.NoError(t, c.EnqueueReadBufferRect(f.queue, buf, true, rect, inline, nil, nil))
			assert.Equal(t, want, inline)

			detached := make([]byte, 12)
			var ev Event
			require.NoError(t, c.EnqueueReadBufferRect(f.queue, buf, false, rect, detached, nil, &ev))
			require.NoError(t, c.WaitForEvents([]Event{ev}))
			assert.Equal(t, inline, detached)

			// write the box back doubled, then read the whole buffer
			src := make([]byte, 12)
			for i, b := range want {
				src[i] = 2 * b
			}
			require.NoError(t, c.EnqueueWriteBufferRect(f.queue, buf, false, rect, src, nil, nil))
			require.NoError(t, c.Finish(f.queue))

			all := make([]byte, 64)
			require.NoError(t, c.EnqueueReadBuffer(f.queue, buf, true, 0, all, nil, nil))
			expect := cube(64)
			for z := 0; z < 2; z++ {
				for y := 0; y < 2; y++ {
					for x := 0; x < 2; x++ {
						i := (1+z)*16 + (1+y)*4 + 1 + x
						expect[i] = 2 * byte(i)
					}
				}
			}
			assert.Equal(t, expect, all)
		})
	}
}

func TestDetachedBufferTransfers(t *testing.T) {
	f := newFixture(t, Options{})
	c := f.c
	buf := f.buffer(t, make([]byte, 1024))

	payload := cube(256)
	var written Event
	require.NoError(t, c.EnqueueWriteBuffer(f.queue, buf, false, 512, payload, nil, &written))

	out := make([]byte, 256)
	var read Event
	require.NoError(t, c.EnqueueReadBuffer(f.queue, buf, false, 512, out, []Event{written}, &read))
	require.NoError(t, c.WaitForEvents([]Event{read}))
	assert.Equal(t, payload, out)

	v, _, err := c.GetEventInfo(read, cl.EventCommandExecutionStatus, 4)
	require.NoError(t, err)
	assert.Equal(t, cl.Complete, int32(Uint32(v)))
}

func TestImageTransfers(t *testing.T) {
	f := newFixture(t, Options{})
	c := f.c

	img, err := c.CreateImage2D(f.ctx, cl.MemReadWrite, ImageFormat{ChannelOrder: cl.RGBA, ChannelDataType: cl.UnsignedInt8}, 4, 4, 0, nil)
	require.NoError(t, err)

	// rows of 16 pixel bytes padded to 20
	src := cube(4*20 - 4)
	var ev Event
	require.NoError(t, c.EnqueueWriteImage(f.queue, img, false, [3]uint64{}, [3]uint64{4, 4, 1}, 20, 0, src, nil, &ev))
	require.NoError(t, c.WaitForEvents([]Event{ev}))

	dst := make([]byte, 16)
	require.NoError(t, c.EnqueueReadImage(f.queue, img, true, [3]uint64{1, 1, 0}, [3]uint64{2, 2, 1}, 0, 0, dst, nil, nil))
	var want []byte
	for y := 1; y <= 2; y++ {
		want = append(want, src[y*20+4:y*20+12]...)
	}
	assert.Equal(t, want, dst)

	t.Run("wrapping row pitch is rejected", func(t *testing.T) {
		assert.NotPanics(t, func() {
			err := c.EnqueueReadImage(f.queue, img, true, [3]uint64{}, [3]uint64{2, 2, 1}, math.MaxUint64-math.MaxUint64%8, 0, dst, nil, nil)
			assert.Equal(t, cl.InvalidValue, cl.StatusOf(err))
			err = c.EnqueueWriteImage(f.queue, img, true, [3]uint64{}, [3]uint64{math.MaxUint64/2 + 1, 1, 1}, 0, 0, src, nil, nil)
			assert.Equal(t, cl.InvalidValue, cl.StatusOf(err))
		})
	})
}

func TestImageFormatList(t *testing.T) {
	f := newFixture(t, Options{})
	formats, err := f.c.GetSupportedImageFormats(f.ctx, cl.MemReadWrite, cl.MemObjectImage2D)
	require.NoError(t, err)
	assert.Contains(t, formats, ImageFormat{ChannelOrder: cl.RGBA, ChannelDataType: cl.UNormInt8})

	t.Run("count larger than the reply", func(t *testing.T) {
		var buf bytes.Buffer
		w := wire.NewWriter(&buf, nil)
		w.PutU32(math.MaxUint32)
		w.PutU32(cl.RGBA)
		w.PutU32(cl.UnsignedInt8)
		w.PutU32(cl.RGBA)
		require.NoError(t, w.Flush())

		r := wire.NewReader(&buf, nil, 0)
		got := readImageFormats(r)
		assert.Equal(t, []ImageFormat{{ChannelOrder: cl.RGBA, ChannelDataType: cl.UnsignedInt8}}, got)
		assert.Error(t, r.Err())
	})
}

func TestFailedDetachedTransferMarksEvent(t *testing.T) {
	f := newFixture(t, Options{})
	c := f.c

	var ev Event
	require.NoError(t, c.EnqueueMarkerWithWaitList(f.queue, nil, &ev))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		if conn, err := ln.Accept(); err == nil {
			_ = conn.Close()
		}
	}()
	task := transfer.Start(context.Background(), zap.NewNop(), transfer.Download, ln.Addr().String(), wire.Options{},
		func(ctx context.Context, conn *wire.Conn) (int, error) {
			return 0, cl.InvalidValue
		})
	c.track(f.queue, ev, task)
	<-task.Done()

	v, _, err := c.GetEventInfo(ev, cl.EventCommandExecutionStatus, 4)
	require.NoError(t, err)
	assert.Equal(t, int32(cl.InvalidValue), int32(Uint32(v)))

	assert.Equal(t, cl.ExecStatusErrorForEventsInWaitList, cl.StatusOf(c.WaitForEvents([]Event{ev})))
	assert.Equal(t, cl.InvalidValue, cl.StatusOf(c.Finish(f.queue)))
	assert.NoError(t, c.Finish(f.queue))
}

func TestNotifications(t *testing.T) {
	f := newFixture(t, Options{})
	c := f.c

	p, err := c.CreateProgramWithBuiltInKernels(f.ctx, []Device{f.device}, "fill")
	require.NoError(t, err)
	k, err := c.CreateKernel(p, "fill")
	require.NoError(t, err)
	small := f.buffer(t, make([]byte, 4))
	require.NoError(t, c.SetKernelArg(k, 0, 8, handleBytes(small)))
	require.NoError(t, c.SetKernelArg(k, 1, 4, []byte{7, 0, 0, 0}))

	// eight work items overrun a one element buffer
	require.NoError(t, c.EnqueueNDRangeKernel(f.queue, k, 1, nil, []uint64{8}, nil, nil, nil))

	select {
	case n := <-c.Notifications():
		assert.Equal(t, f.ctx, n.Context)
		assert.Contains(t, n.ErrInfo, "CL_OUT_OF_RESOURCES")
	case <-time.After(5 * time.Second):
		t.Fatal("no notification")
	}
}
