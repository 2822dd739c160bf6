// Package compute defines the contract between the daemon and the compute
// runtime that executes the forwarded calls.
package compute

import (
	"context"

	"github.com/fxnlabs/ocland/internal/cl"
)

// Object is an opaque runtime object. Implementations hand out comparable
// values, typically pointers.
type Object = any

type (
	Platform = Object
	Device   = Object
	Context  = Object
	Queue    = Object
	Mem      = Object
	Sampler  = Object
	Program  = Object
	Kernel   = Object
	Event    = Object
)

// ContextProperty is one (name, value) pair of a context property list. The
// platform property carries an object instead of a number.
type ContextProperty struct {
	Name     uint64
	Value    uint64
	Platform Platform
}

// NotifyFunc receives asynchronous context errors.
type NotifyFunc func(errInfo string, private []byte)

// ImageFormat is a channel order and data type pair.
type ImageFormat struct {
	ChannelOrder    uint32
	ChannelDataType uint32
}

// ImageDesc describes the geometry of an image.
type ImageDesc struct {
	Type         uint32
	Width        uint64
	Height       uint64
	Depth        uint64
	ArraySize    uint64
	RowPitch     uint64
	SlicePitch   uint64
	NumMipLevels uint32
	NumSamples   uint32
	Buffer       Mem
}

// KernelArg is a kernel argument after the daemon resolved what it refers to.
// Exactly one of Mem, Sampler, Local or Value is meaningful.
type KernelArg struct {
	Size    uint64
	Value   []byte
	Mem     Mem
	Sampler Sampler
	Local   bool
}

// Rect is a box copy between a buffer and host memory, or between two buffers
// when the host fields describe the destination buffer.
type Rect struct {
	BufferOrigin     [3]uint64
	HostOrigin       [3]uint64
	Region           [3]uint64
	BufferRowPitch   uint64
	BufferSlicePitch uint64
	HostRowPitch     uint64
	HostSlicePitch   uint64
}

// Info is the answer to an info query. Plain values are bytes in host order.
// Object-valued answers (see cl.HandleParam) list the objects instead so the
// daemon can translate them, CONTEXT_PROPERTIES comes back as pairs and
// PROGRAM_BINARIES as one blob per device.
type Info struct {
	Value      []byte
	Objects    []Object
	Properties []ContextProperty
	Blobs      [][]byte
}

// Runtime executes compute API calls. Every method returns a cl.Status error
// on failure. Enqueue methods return the command's event.
type Runtime interface {
	Name() string

	Platforms() ([]Platform, error)
	PlatformInfo(p Platform, param uint32) (Info, error)
	Devices(p Platform, deviceType uint64) ([]Device, error)
	DeviceInfo(d Device, param uint32) (Info, error)
	CreateSubDevices(d Device, props []uint64) ([]Device, error)
	UnloadPlatformCompiler(p Platform) error

	// Retain and Release work on every object kind.
	Retain(obj Object) error
	Release(obj Object) error

	CreateContext(props []ContextProperty, devices []Device, notify NotifyFunc) (Context, error)
	CreateContextFromType(props []ContextProperty, deviceType uint64, notify NotifyFunc) (Context, error)
	ContextInfo(c Context, param uint32) (Info, error)

	CreateQueue(c Context, d Device, props uint64) (Queue, error)
	QueueInfo(q Queue, param uint32) (Info, error)

	CreateBuffer(c Context, flags, size uint64, host []byte) (Mem, error)
	CreateSubBuffer(m Mem, flags uint64, createType uint32, origin, size uint64) (Mem, error)
	CreateImage(c Context, flags uint64, format ImageFormat, desc ImageDesc, host []byte) (Mem, error)
	SupportedImageFormats(c Context, flags uint64, imageType uint32) ([]ImageFormat, error)
	MemInfo(m Mem, param uint32) (Info, error)
	ImageInfo(m Mem, param uint32) (Info, error)

	CreateSampler(c Context, normalized bool, addressing, filter uint32) (Sampler, error)
	SamplerInfo(s Sampler, param uint32) (Info, error)

	CreateProgramWithSource(c Context, sources []string) (Program, error)
	CreateProgramWithBinary(c Context, devices []Device, binaries [][]byte) (Program, []cl.Status, error)
	CreateProgramWithBuiltInKernels(c Context, devices []Device, names string) (Program, error)
	BuildProgram(p Program, devices []Device, options string) error
	CompileProgram(p Program, devices []Device, options string, headers []Program, headerNames []string) error
	LinkProgram(c Context, devices []Device, options string, programs []Program) (Program, error)
	ProgramInfo(p Program, param uint32) (Info, error)
	ProgramBuildInfo(p Program, d Device, param uint32) (Info, error)

	CreateKernel(p Program, name string) (Kernel, error)
	CreateKernelsInProgram(p Program) ([]Kernel, error)
	SetKernelArg(k Kernel, index uint32, arg KernelArg) error
	KernelInfo(k Kernel, param uint32) (Info, error)
	KernelArgInfo(k Kernel, index uint32, param uint32) (Info, error)
	KernelWorkGroupInfo(k Kernel, d Device, param uint32) (Info, error)

	WaitForEvents(ctx context.Context, events []Event) error
	EventInfo(e Event, param uint32) (Info, error)
	EventProfilingInfo(e Event, param uint32) (Info, error)
	CreateUserEvent(c Context) (Event, error)
	SetUserEventStatus(e Event, status int32) error

	Flush(q Queue) error
	Finish(ctx context.Context, q Queue) error

	ReadBuffer(q Queue, m Mem, blocking bool, offset uint64, dst []byte, wait []Event) (Event, error)
	WriteBuffer(q Queue, m Mem, blocking bool, offset uint64, src []byte, wait []Event) (Event, error)
	ReadBufferRect(q Queue, m Mem, blocking bool, r Rect, dst []byte, wait []Event) (Event, error)
	WriteBufferRect(q Queue, m Mem, blocking bool, r Rect, src []byte, wait []Event) (Event, error)
	FillBuffer(q Queue, m Mem, pattern []byte, offset, size uint64, wait []Event) (Event, error)
	CopyBuffer(q Queue, src, dst Mem, srcOffset, dstOffset, size uint64, wait []Event) (Event, error)
	CopyBufferRect(q Queue, src, dst Mem, r Rect, wait []Event) (Event, error)
	ReadImage(q Queue, img Mem, blocking bool, origin, region [3]uint64, rowPitch, slicePitch uint64, dst []byte, wait []Event) (Event, error)
	WriteImage(q Queue, img Mem, blocking bool, origin, region [3]uint64, rowPitch, slicePitch uint64, src []byte, wait []Event) (Event, error)
	FillImage(q Queue, img Mem, color [16]byte, origin, region [3]uint64, wait []Event) (Event, error)
	CopyImage(q Queue, src, dst Mem, srcOrigin, dstOrigin, region [3]uint64, wait []Event) (Event, error)
	CopyImageToBuffer(q Queue, src, dst Mem, srcOrigin, region [3]uint64, dstOffset uint64, wait []Event) (Event, error)
	CopyBufferToImage(q Queue, src, dst Mem, srcOffset uint64, dstOrigin, region [3]uint64, wait []Event) (Event, error)
	NDRangeKernel(q Queue, k Kernel, offset, global, local []uint64, wait []Event) (Event, error)
	MarkerWithWaitList(q Queue, wait []Event) (Event, error)
	BarrierWithWaitList(q Queue, wait []Event) (Event, error)
	MigrateMemObjects(q Queue, mems []Mem, flags uint64, wait []Event) (Event, error)

	// Close releases everything the runtime holds.
	Close() error
}
