// Package sim is an in-process software compute runtime. It exposes one
// platform with configurable CPU and GPU devices, runs every command queue on
// its own goroutine and executes a small library of kernels on the host.
package sim

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fxnlabs/ocland/internal/cl"
	"github.com/fxnlabs/ocland/internal/compute"
	"go.uber.org/zap"
)

const (
	platformVersion = "OpenCL 1.2 ocland-sim"
	deviceVersion   = "OpenCL 1.2 ocland-sim"
	driverVersion   = "1.0"
	vendorName      = "fxnlabs"
	vendorID        = 0x6f63

	maxWorkGroupSize = 256
)

// Options configure the simulated hardware.
type Options struct {
	PlatformName  string
	CPUDevices    int
	GPUDevices    int
	ComputeUnits  uint32
	GlobalMemSize uint64
	LocalMemSize  uint64
}

// DefaultOptions describes one CPU and one GPU device.
func DefaultOptions() Options {
	return Options{
		PlatformName:  "ocland software platform",
		CPUDevices:    1,
		GPUDevices:    1,
		ComputeUnits:  4,
		GlobalMemSize: 1 << 30,
		LocalMemSize:  32 << 10,
	}
}

// Runtime implements compute.Runtime in memory.
type Runtime struct {
	log      *zap.Logger
	platform *platform

	// exec serializes command bodies, so memory objects need no locks of
	// their own.
	exec sync.Mutex

	mu     sync.Mutex
	queues map[*queue]struct{}
	closed bool
}

var _ compute.Runtime = (*Runtime)(nil)

// New creates a runtime with the given hardware description.
func New(opts Options, log *zap.Logger) *Runtime {
	if log == nil {
		log = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.PlatformName == "" {
		opts.PlatformName = def.PlatformName
	}
	if opts.CPUDevices == 0 && opts.GPUDevices == 0 {
		opts.CPUDevices, opts.GPUDevices = def.CPUDevices, def.GPUDevices
	}
	if opts.ComputeUnits == 0 {
		opts.ComputeUnits = def.ComputeUnits
	}
	if opts.GlobalMemSize == 0 {
		opts.GlobalMemSize = def.GlobalMemSize
	}
	if opts.LocalMemSize == 0 {
		opts.LocalMemSize = def.LocalMemSize
	}

	rt := &Runtime{log: log.Named("sim"), queues: make(map[*queue]struct{})}
	p := &platform{rt: rt, name: opts.PlatformName}
	for i := 0; i < opts.CPUDevices; i++ {
		p.devices = append(p.devices, newRootDevice(p, cl.DeviceTypeCPU|cl.DeviceTypeDefault*boolBit(i == 0), fmt.Sprintf("sim-cpu-%d", i), opts))
	}
	for i := 0; i < opts.GPUDevices; i++ {
		typ := cl.DeviceTypeGPU
		if opts.CPUDevices == 0 && i == 0 {
			typ |= cl.DeviceTypeDefault
		}
		p.devices = append(p.devices, newRootDevice(p, typ, fmt.Sprintf("sim-gpu-%d", i), opts))
	}
	rt.platform = p
	return rt
}

func boolBit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func (rt *Runtime) Name() string { return "sim" }

// Close stops every queue worker.
func (rt *Runtime) Close() error {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return nil
	}
	rt.closed = true
	queues := make([]*queue, 0, len(rt.queues))
	for q := range rt.queues {
		queues = append(queues, q)
	}
	rt.queues = map[*queue]struct{}{}
	rt.mu.Unlock()

	for _, q := range queues {
		q.stop()
	}
	return nil
}

func (rt *Runtime) track(q *queue) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.queues[q] = struct{}{}
}

func (rt *Runtime) untrack(q *queue) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.queues, q)
}

// refCount is embedded by every reference counted object.
type refCount struct{ n atomic.Int32 }

func (r *refCount) init() { r.n.Store(1) }

func (r *refCount) live() bool { return r.n.Load() > 0 }

func (r *refCount) count() uint32 { return uint32(max(r.n.Load(), 0)) }

func (r *refCount) retain() bool {
	for {
		v := r.n.Load()
		if v <= 0 {
			return false
		}
		if r.n.CompareAndSwap(v, v+1) {
			return true
		}
	}
}

// release reports whether the object was live and whether this was the last
// reference.
func (r *refCount) release() (ok, last bool) {
	for {
		v := r.n.Load()
		if v <= 0 {
			return false, false
		}
		if r.n.CompareAndSwap(v, v-1) {
			return true, v == 1
		}
	}
}

// Retain adds a reference to any object kind.
func (rt *Runtime) Retain(obj compute.Object) error {
	switch o := obj.(type) {
	case *device:
		if o.parent == nil {
			return nil
		}
		if !o.retain() {
			return cl.InvalidDevice
		}
	case *simContext:
		if !o.retain() {
			return cl.InvalidContext
		}
	case *queue:
		if !o.retain() {
			return cl.InvalidCommandQueue
		}
	case *mem:
		if !o.retain() {
			return cl.InvalidMemObject
		}
	case *sampler:
		if !o.retain() {
			return cl.InvalidSampler
		}
	case *program:
		if !o.retain() {
			return cl.InvalidProgram
		}
	case *kernel:
		if !o.retain() {
			return cl.InvalidKernel
		}
	case *event:
		if !o.retain() {
			return cl.InvalidEvent
		}
	default:
		return cl.InvalidValue
	}
	return nil
}

// Release drops a reference from any object kind. Root devices ignore it.
func (rt *Runtime) Release(obj compute.Object) error {
	switch o := obj.(type) {
	case *device:
		if o.parent == nil {
			return nil
		}
		if ok, _ := o.release(); !ok {
			return cl.InvalidDevice
		}
	case *simContext:
		if ok, _ := o.release(); !ok {
			return cl.InvalidContext
		}
	case *queue:
		ok, last := o.release()
		if !ok {
			return cl.InvalidCommandQueue
		}
		if last {
			rt.untrack(o)
			o.stop()
		}
	case *mem:
		if ok, _ := o.release(); !ok {
			return cl.InvalidMemObject
		}
	case *sampler:
		if ok, _ := o.release(); !ok {
			return cl.InvalidSampler
		}
	case *program:
		if ok, _ := o.release(); !ok {
			return cl.InvalidProgram
		}
	case *kernel:
		ok, last := o.release()
		if !ok {
			return cl.InvalidKernel
		}
		if last {
			o.prog.kernelRefs.Add(-1)
		}
	case *event:
		if ok, _ := o.release(); !ok {
			return cl.InvalidEvent
		}
	default:
		return cl.InvalidValue
	}
	return nil
}

type platform struct {
	rt      *Runtime
	name    string
	devices []*device
}

func (rt *Runtime) Platforms() ([]compute.Platform, error) {
	return []compute.Platform{rt.platform}, nil
}

func (rt *Runtime) asPlatform(o compute.Object) (*platform, error) {
	p, ok := o.(*platform)
	if !ok || p != rt.platform {
		return nil, cl.InvalidPlatform
	}
	return p, nil
}

func (rt *Runtime) PlatformInfo(o compute.Platform, param uint32) (compute.Info, error) {
	p, err := rt.asPlatform(o)
	if err != nil {
		return compute.Info{}, err
	}
	switch param {
	case cl.PlatformProfile:
		return compute.StringInfo("FULL_PROFILE"), nil
	case cl.PlatformVersion:
		return compute.StringInfo(platformVersion), nil
	case cl.PlatformName:
		return compute.StringInfo(p.name), nil
	case cl.PlatformVendor:
		return compute.StringInfo(vendorName), nil
	case cl.PlatformExtensions:
		return compute.StringInfo(""), nil
	}
	return compute.Info{}, cl.InvalidValue
}

func (rt *Runtime) UnloadPlatformCompiler(o compute.Platform) error {
	_, err := rt.asPlatform(o)
	return err
}

func (rt *Runtime) Devices(o compute.Platform, deviceType uint64) ([]compute.Device, error) {
	p, err := rt.asPlatform(o)
	if err != nil {
		return nil, err
	}
	if deviceType == 0 || (deviceType != cl.DeviceTypeAll && deviceType&^uint64(0x1F) != 0) {
		return nil, cl.InvalidDeviceType
	}
	var out []compute.Device
	for _, d := range p.devices {
		if d.matches(deviceType) {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		return nil, cl.DeviceNotFound
	}
	return out, nil
}

type device struct {
	refCount
	platform      *platform
	parent        *device
	typ           uint64
	name          string
	computeUnits  uint32
	globalMemSize uint64
	localMemSize  uint64
	partition     []uint64
}

func newRootDevice(p *platform, typ uint64, name string, opts Options) *device {
	d := &device{
		platform:      p,
		typ:           typ,
		name:          name,
		computeUnits:  opts.ComputeUnits,
		globalMemSize: opts.GlobalMemSize,
		localMemSize:  opts.LocalMemSize,
	}
	d.init()
	return d
}

func (d *device) matches(deviceType uint64) bool {
	if deviceType == cl.DeviceTypeAll {
		return true
	}
	return d.typ&deviceType != 0
}

func (d *device) maxAlloc() uint64 { return d.globalMemSize / 4 }

func asDevice(o compute.Object) (*device, error) {
	d, ok := o.(*device)
	if !ok || !d.live() {
		return nil, cl.InvalidDevice
	}
	return d, nil
}

func asDevices(objs []compute.Device) ([]*device, error) {
	out := make([]*device, len(objs))
	for i, o := range objs {
		d, err := asDevice(o)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

const builtinKernelNames = "saxpy;sgemm;vadd;scale;fill;copy"

func (rt *Runtime) DeviceInfo(o compute.Device, param uint32) (compute.Info, error) {
	d, err := asDevice(o)
	if err != nil {
		return compute.Info{}, err
	}
	switch param {
	case cl.DeviceType:
		return compute.Uint64Info(d.typ), nil
	case cl.DeviceVendorID:
		return compute.Uint32Info(vendorID), nil
	case cl.DeviceMaxComputeUnits:
		return compute.Uint32Info(d.computeUnits), nil
	case cl.DeviceMaxWorkItemDimensions:
		return compute.Uint32Info(3), nil
	case cl.DeviceMaxWorkGroupSize:
		return compute.Uint64Info(maxWorkGroupSize), nil
	case cl.DeviceMaxWorkItemSizes:
		return compute.Uint64sInfo(maxWorkGroupSize, maxWorkGroupSize, maxWorkGroupSize), nil
	case cl.DeviceMaxClockFrequency:
		return compute.Uint32Info(1000), nil
	case cl.DeviceAddressBits:
		return compute.Uint32Info(64), nil
	case cl.DeviceMaxMemAllocSize:
		return compute.Uint64Info(d.maxAlloc()), nil
	case cl.DeviceImageSupport, cl.DeviceEndianLittle, cl.DeviceAvailable,
		cl.DeviceCompilerAvailable, cl.DeviceLinkerAvailable, cl.DeviceHostUnifiedMemory:
		return compute.BoolInfo(true), nil
	case cl.DeviceGlobalMemSize:
		return compute.Uint64Info(d.globalMemSize), nil
	case cl.DeviceLocalMemSize:
		return compute.Uint64Info(d.localMemSize), nil
	case cl.DeviceQueueProperties:
		return compute.Uint64Info(cl.QueueOutOfOrderExecModeEnable | cl.QueueProfilingEnable), nil
	case cl.DeviceName:
		return compute.StringInfo(d.name), nil
	case cl.DeviceVendor:
		return compute.StringInfo(vendorName), nil
	case cl.DriverVersion:
		return compute.StringInfo(driverVersion), nil
	case cl.DeviceProfile:
		return compute.StringInfo("FULL_PROFILE"), nil
	case cl.DeviceVersion:
		return compute.StringInfo(deviceVersion), nil
	case cl.DeviceOpenCLCVersion:
		return compute.StringInfo("OpenCL C 1.2"), nil
	case cl.DeviceExtensions:
		return compute.StringInfo(""), nil
	case cl.DeviceBuiltInKernels:
		return compute.StringInfo(builtinKernelNames), nil
	case cl.DevicePlatform:
		return compute.ObjectsInfo(d.platform), nil
	case cl.DeviceParentDevice:
		if d.parent == nil {
			return compute.ObjectsInfo(nil), nil
		}
		return compute.ObjectsInfo(d.parent), nil
	case cl.DevicePartitionMaxSubDevices:
		return compute.Uint32Info(d.computeUnits), nil
	case cl.DevicePartitionProperties:
		return compute.Uint64sInfo(cl.DevicePartitionEqually, cl.DevicePartitionByCounts), nil
	case cl.DevicePartitionType:
		return compute.Uint64sInfo(d.partition...), nil
	case cl.DeviceReferenceCount:
		return compute.Uint32Info(d.count()), nil
	}
	return compute.Info{}, cl.InvalidValue
}

func (rt *Runtime) CreateSubDevices(o compute.Device, props []uint64) ([]compute.Device, error) {
	d, err := asDevice(o)
	if err != nil {
		return nil, err
	}
	if len(props) < 2 {
		return nil, cl.InvalidValue
	}

	var counts []uint32
	switch props[0] {
	case cl.DevicePartitionEqually:
		n := props[1]
		if n == 0 || n > uint64(d.computeUnits) {
			return nil, cl.InvalidValue
		}
		for i := uint64(0); i < uint64(d.computeUnits)/n; i++ {
			counts = append(counts, uint32(n))
		}
	case cl.DevicePartitionByCounts:
		var total uint64
		for _, c := range props[1:] {
			if c == cl.DevicePartitionByCountsListEnd {
				break
			}
			total += c
			counts = append(counts, uint32(c))
		}
		if len(counts) == 0 {
			return nil, cl.InvalidValue
		}
		if len(counts) > int(d.computeUnits) {
			return nil, cl.InvalidDevicePartitionCount
		}
		if total > uint64(d.computeUnits) {
			return nil, cl.InvalidDevicePartitionCount
		}
	case cl.DevicePartitionByAffinityDomain:
		return nil, cl.DevicePartitionFailed
	default:
		return nil, cl.InvalidValue
	}

	partition := append([]uint64(nil), props...)
	out := make([]compute.Device, len(counts))
	for i, c := range counts {
		sub := &device{
			platform:      d.platform,
			parent:        d,
			typ:           d.typ &^ cl.DeviceTypeDefault,
			name:          fmt.Sprintf("%s.%d", d.name, i),
			computeUnits:  c,
			globalMemSize: d.globalMemSize,
			localMemSize:  d.localMemSize,
			partition:     partition,
		}
		sub.init()
		out[i] = sub
	}
	return out, nil
}

func joinNames(names []string) string { return strings.Join(names, ";") }
