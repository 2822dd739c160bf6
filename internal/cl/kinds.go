package cl

// Kind is an object category that owns its own handle table.
type Kind uint8

const (
	KindPlatform Kind = iota
	KindDevice
	KindContext
	KindQueue
	KindMem
	KindSampler
	KindProgram
	KindKernel
	KindEvent
)

// Kinds lists every object category.
var Kinds = []Kind{
	KindPlatform, KindDevice, KindContext, KindQueue, KindMem,
	KindSampler, KindProgram, KindKernel, KindEvent,
}

var kindNames = [...]string{
	KindPlatform: "platform",
	KindDevice:   "device",
	KindContext:  "context",
	KindQueue:    "command_queue",
	KindMem:      "mem",
	KindSampler:  "sampler",
	KindProgram:  "program",
	KindKernel:   "kernel",
	KindEvent:    "event",
}

var kindInvalid = [...]Status{
	KindPlatform: InvalidPlatform,
	KindDevice:   InvalidDevice,
	KindContext:  InvalidContext,
	KindQueue:    InvalidCommandQueue,
	KindMem:      InvalidMemObject,
	KindSampler:  InvalidSampler,
	KindProgram:  InvalidProgram,
	KindKernel:   InvalidKernel,
	KindEvent:    InvalidEvent,
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// ParseKind is the inverse of Kind.String.
func ParseKind(name string) (Kind, bool) {
	for _, k := range Kinds {
		if kindNames[k] == name {
			return k, true
		}
	}
	return 0, false
}

// Invalid is the status reported when a handle of this kind does not resolve.
func (k Kind) Invalid() Status {
	if int(k) < len(kindInvalid) {
		return kindInvalid[k]
	}
	return InvalidValue
}

type infoKey struct {
	op    Opcode
	param uint32
}

var handleParams = map[infoKey]Kind{
	{OpGetDeviceInfo, DevicePlatform}:            KindPlatform,
	{OpGetDeviceInfo, DeviceParentDevice}:        KindDevice,
	{OpGetContextInfo, ContextDevices}:           KindDevice,
	{OpGetCommandQueueInfo, QueueContext}:        KindContext,
	{OpGetCommandQueueInfo, QueueDevice}:         KindDevice,
	{OpGetMemObjectInfo, MemContext}:             KindContext,
	{OpGetMemObjectInfo, MemAssociatedMemObject}: KindMem,
	{OpGetImageInfo, ImageBuffer}:                KindMem,
	{OpGetSamplerInfo, SamplerContext}:           KindContext,
	{OpGetProgramInfo, ProgramContext}:           KindContext,
	{OpGetProgramInfo, ProgramDevices}:           KindDevice,
	{OpGetKernelInfo, KernelContext}:             KindContext,
	{OpGetKernelInfo, KernelProgram}:             KindProgram,
	{OpGetEventInfo, EventCommandQueue}:          KindQueue,
	{OpGetEventInfo, EventContext}:               KindContext,
}

// HandleParam reports whether the value returned by the info query op for
// param is a list of object handles, and of which kind. Such values carry
// peer identifiers on the wire and local handles in the caller's hands.
// CONTEXT_PROPERTIES is handled separately since only some entries are handles.
func HandleParam(op Opcode, param uint32) (Kind, bool) {
	k, ok := handleParams[infoKey{op, param}]
	return k, ok
}
