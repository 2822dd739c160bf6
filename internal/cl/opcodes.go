package cl

import "fmt"

// Opcode identifies one compute API entry point on the control connection.
// Values are part of the wire format; new entries go at the end.
type Opcode uint32

const (
	OpInvalid Opcode = iota

	OpGetPlatformIDs
	OpGetPlatformInfo
	OpGetDeviceIDs
	OpGetDeviceInfo
	OpCreateSubDevices
	OpRetainDevice
	OpReleaseDevice

	OpCreateContext
	OpCreateContextFromType
	OpRetainContext
	OpReleaseContext
	OpGetContextInfo

	OpCreateCommandQueue
	OpRetainCommandQueue
	OpReleaseCommandQueue
	OpGetCommandQueueInfo

	OpCreateBuffer
	OpCreateSubBuffer
	OpCreateImage
	OpRetainMemObject
	OpReleaseMemObject
	OpGetSupportedImageFormats
	OpGetMemObjectInfo
	OpGetImageInfo

	OpCreateSampler
	OpRetainSampler
	OpReleaseSampler
	OpGetSamplerInfo

	OpCreateProgramWithSource
	OpCreateProgramWithBinary
	OpCreateProgramWithBuiltInKernels
	OpRetainProgram
	OpReleaseProgram
	OpBuildProgram
	OpCompileProgram
	OpLinkProgram
	OpUnloadPlatformCompiler
	OpGetProgramInfo
	OpGetProgramBuildInfo

	OpCreateKernel
	OpCreateKernelsInProgram
	OpRetainKernel
	OpReleaseKernel
	OpSetKernelArg
	OpGetKernelInfo
	OpGetKernelArgInfo
	OpGetKernelWorkGroupInfo

	OpWaitForEvents
	OpGetEventInfo
	OpCreateUserEvent
	OpRetainEvent
	OpReleaseEvent
	OpSetUserEventStatus
	OpGetEventProfilingInfo

	OpFlush
	OpFinish

	OpEnqueueReadBuffer
	OpEnqueueReadBufferRect
	OpEnqueueWriteBuffer
	OpEnqueueWriteBufferRect
	OpEnqueueFillBuffer
	OpEnqueueCopyBuffer
	OpEnqueueCopyBufferRect
	OpEnqueueReadImage
	OpEnqueueWriteImage
	OpEnqueueFillImage
	OpEnqueueCopyImage
	OpEnqueueCopyImageToBuffer
	OpEnqueueCopyBufferToImage
	OpEnqueueNDRangeKernel
	OpEnqueueMarkerWithWaitList
	OpEnqueueBarrierWithWaitList
	OpEnqueueMigrateMemObjects

	opCount
)

var opNames = [...]string{
	OpInvalid:                         "Invalid",
	OpGetPlatformIDs:                  "GetPlatformIDs",
	OpGetPlatformInfo:                 "GetPlatformInfo",
	OpGetDeviceIDs:                    "GetDeviceIDs",
	OpGetDeviceInfo:                   "GetDeviceInfo",
	OpCreateSubDevices:                "CreateSubDevices",
	OpRetainDevice:                    "RetainDevice",
	OpReleaseDevice:                   "ReleaseDevice",
	OpCreateContext:                   "CreateContext",
	OpCreateContextFromType:           "CreateContextFromType",
	OpRetainContext:                   "RetainContext",
	OpReleaseContext:                  "ReleaseContext",
	OpGetContextInfo:                  "GetContextInfo",
	OpCreateCommandQueue:              "CreateCommandQueue",
	OpRetainCommandQueue:              "RetainCommandQueue",
	OpReleaseCommandQueue:             "ReleaseCommandQueue",
	OpGetCommandQueueInfo:             "GetCommandQueueInfo",
	OpCreateBuffer:                    "CreateBuffer",
	OpCreateSubBuffer:                 "CreateSubBuffer",
	OpCreateImage:                     "CreateImage",
	OpRetainMemObject:                 "RetainMemObject",
	OpReleaseMemObject:                "ReleaseMemObject",
	OpGetSupportedImageFormats:        "GetSupportedImageFormats",
	OpGetMemObjectInfo:                "GetMemObjectInfo",
	OpGetImageInfo:                    "GetImageInfo",
	OpCreateSampler:                   "CreateSampler",
	OpRetainSampler:                   "RetainSampler",
	OpReleaseSampler:                  "ReleaseSampler",
	OpGetSamplerInfo:                  "GetSamplerInfo",
	OpCreateProgramWithSource:         "CreateProgramWithSource",
	OpCreateProgramWithBinary:         "CreateProgramWithBinary",
	OpCreateProgramWithBuiltInKernels: "CreateProgramWithBuiltInKernels",
	OpRetainProgram:                   "RetainProgram",
	OpReleaseProgram:                  "ReleaseProgram",
	OpBuildProgram:                    "BuildProgram",
	OpCompileProgram:                  "CompileProgram",
	OpLinkProgram:                     "LinkProgram",
	OpUnloadPlatformCompiler:          "UnloadPlatformCompiler",
	OpGetProgramInfo:                  "GetProgramInfo",
	OpGetProgramBuildInfo:             "GetProgramBuildInfo",
	OpCreateKernel:                    "CreateKernel",
	OpCreateKernelsInProgram:          "CreateKernelsInProgram",
	OpRetainKernel:                    "RetainKernel",
	OpReleaseKernel:                   "ReleaseKernel",
	OpSetKernelArg:                    "SetKernelArg",
	OpGetKernelInfo:                   "GetKernelInfo",
	OpGetKernelArgInfo:                "GetKernelArgInfo",
	OpGetKernelWorkGroupInfo:          "GetKernelWorkGroupInfo",
	OpWaitForEvents:                   "WaitForEvents",
	OpGetEventInfo:                    "GetEventInfo",
	OpCreateUserEvent:                 "CreateUserEvent",
	OpRetainEvent:                     "RetainEvent",
	OpReleaseEvent:                    "ReleaseEvent",
	OpSetUserEventStatus:              "SetUserEventStatus",
	OpGetEventProfilingInfo:           "GetEventProfilingInfo",
	OpFlush:                           "Flush",
	OpFinish:                          "Finish",
	OpEnqueueReadBuffer:               "EnqueueReadBuffer",
	OpEnqueueReadBufferRect:           "EnqueueReadBufferRect",
	OpEnqueueWriteBuffer:              "EnqueueWriteBuffer",
	OpEnqueueWriteBufferRect:          "EnqueueWriteBufferRect",
	OpEnqueueFillBuffer:               "EnqueueFillBuffer",
	OpEnqueueCopyBuffer:               "EnqueueCopyBuffer",
	OpEnqueueCopyBufferRect:           "EnqueueCopyBufferRect",
	OpEnqueueReadImage:                "EnqueueReadImage",
	OpEnqueueWriteImage:               "EnqueueWriteImage",
	OpEnqueueFillImage:                "EnqueueFillImage",
	OpEnqueueCopyImage:                "EnqueueCopyImage",
	OpEnqueueCopyImageToBuffer:        "EnqueueCopyImageToBuffer",
	OpEnqueueCopyBufferToImage:        "EnqueueCopyBufferToImage",
	OpEnqueueNDRangeKernel:            "EnqueueNDRangeKernel",
	OpEnqueueMarkerWithWaitList:       "EnqueueMarkerWithWaitList",
	OpEnqueueBarrierWithWaitList:      "EnqueueBarrierWithWaitList",
	OpEnqueueMigrateMemObjects:        "EnqueueMigrateMemObjects",
}

func (op Opcode) String() string {
	if op.Valid() {
		return opNames[op]
	}
	return fmt.Sprintf("Opcode(%d)", uint32(op))
}

// Valid reports whether op names a known entry point.
func (op Opcode) Valid() bool {
	return op > OpInvalid && op < opCount
}

// Opcodes returns every valid opcode in wire order.
func Opcodes() []Opcode {
	ops := make([]Opcode, 0, opCount-1)
	for op := OpInvalid + 1; op < opCount; op++ {
		ops = append(ops, op)
	}
	return ops
}
