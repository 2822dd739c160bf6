package cl

// Boolean values as they travel on the wire.
const (
	False uint32 = 0
	True  uint32 = 1
)

// Device types.
const (
	DeviceTypeDefault     uint64 = 1 << 0
	DeviceTypeCPU         uint64 = 1 << 1
	DeviceTypeGPU         uint64 = 1 << 2
	DeviceTypeAccelerator uint64 = 1 << 3
	DeviceTypeCustom      uint64 = 1 << 4
	DeviceTypeAll         uint64 = 0xFFFFFFFF
)

// Platform info.
const (
	PlatformProfile    uint32 = 0x0900
	PlatformVersion    uint32 = 0x0901
	PlatformName       uint32 = 0x0902
	PlatformVendor     uint32 = 0x0903
	PlatformExtensions uint32 = 0x0904
)

// Device info.
const (
	DeviceType                   uint32 = 0x1000
	DeviceVendorID               uint32 = 0x1001
	DeviceMaxComputeUnits        uint32 = 0x1002
	DeviceMaxWorkItemDimensions  uint32 = 0x1003
	DeviceMaxWorkGroupSize       uint32 = 0x1004
	DeviceMaxWorkItemSizes       uint32 = 0x1005
	DeviceMaxClockFrequency      uint32 = 0x100C
	DeviceAddressBits            uint32 = 0x100D
	DeviceMaxMemAllocSize        uint32 = 0x1010
	DeviceImageSupport           uint32 = 0x1016
	DeviceGlobalMemSize          uint32 = 0x101F
	DeviceLocalMemSize           uint32 = 0x1023
	DeviceEndianLittle           uint32 = 0x1026
	DeviceAvailable              uint32 = 0x1027
	DeviceCompilerAvailable      uint32 = 0x1028
	DeviceQueueProperties        uint32 = 0x102A
	DeviceName                   uint32 = 0x102B
	DeviceVendor                 uint32 = 0x102C
	DriverVersion                uint32 = 0x102D
	DeviceProfile                uint32 = 0x102E
	DeviceVersion                uint32 = 0x102F
	DeviceExtensions             uint32 = 0x1030
	DevicePlatform               uint32 = 0x1031
	DeviceHostUnifiedMemory      uint32 = 0x1035
	DeviceOpenCLCVersion         uint32 = 0x103D
	DeviceLinkerAvailable        uint32 = 0x103E
	DeviceBuiltInKernels         uint32 = 0x103F
	DeviceParentDevice           uint32 = 0x1042
	DevicePartitionMaxSubDevices uint32 = 0x1043
	DevicePartitionProperties    uint32 = 0x1044
	DevicePartitionType          uint32 = 0x1048
	DeviceReferenceCount         uint32 = 0x1047
)

// Device partition properties.
const (
	DevicePartitionEqually          uint64 = 0x1086
	DevicePartitionByCounts         uint64 = 0x1087
	DevicePartitionByCountsListEnd  uint64 = 0x0
	DevicePartitionByAffinityDomain uint64 = 0x1088
)

// Context info and properties.
const (
	ContextReferenceCount uint32 = 0x1080
	ContextDevices        uint32 = 0x1081
	ContextProperties     uint32 = 0x1082
	ContextNumDevices     uint32 = 0x1083
	ContextPlatform       uint64 = 0x1084
)

// Command queue properties and info.
const (
	QueueOutOfOrderExecModeEnable uint64 = 1 << 0
	QueueProfilingEnable          uint64 = 1 << 1

	QueueContext        uint32 = 0x1090
	QueueDevice         uint32 = 0x1091
	QueueReferenceCount uint32 = 0x1092
	QueueProperties     uint32 = 0x1093
)

// Memory flags.
const (
	MemReadWrite     uint64 = 1 << 0
	MemWriteOnly     uint64 = 1 << 1
	MemReadOnly      uint64 = 1 << 2
	MemUseHostPtr    uint64 = 1 << 3
	MemAllocHostPtr  uint64 = 1 << 4
	MemCopyHostPtr   uint64 = 1 << 5
	MemHostWriteOnly uint64 = 1 << 7
	MemHostReadOnly  uint64 = 1 << 8
	MemHostNoAccess  uint64 = 1 << 9
)

// Memory migration flags.
const (
	MigrateMemObjectHost             uint64 = 1 << 0
	MigrateMemObjectContentUndefined uint64 = 1 << 1
)

// Image channel orders.
const (
	R         uint32 = 0x10B0
	A         uint32 = 0x10B1
	RG        uint32 = 0x10B2
	RA        uint32 = 0x10B3
	RGB       uint32 = 0x10B4
	RGBA      uint32 = 0x10B5
	BGRA      uint32 = 0x10B6
	ARGB      uint32 = 0x10B7
	Intensity uint32 = 0x10B8
	Luminance uint32 = 0x10B9
)

// Image channel data types.
const (
	SNormInt8      uint32 = 0x10D0
	SNormInt16     uint32 = 0x10D1
	UNormInt8      uint32 = 0x10D2
	UNormInt16     uint32 = 0x10D3
	UNormShort565  uint32 = 0x10D4
	UNormShort555  uint32 = 0x10D5
	UNormInt101010 uint32 = 0x10D6
	SignedInt8     uint32 = 0x10D7
	SignedInt16    uint32 = 0x10D8
	SignedInt32    uint32 = 0x10D9
	UnsignedInt8   uint32 = 0x10DA
	UnsignedInt16  uint32 = 0x10DB
	UnsignedInt32  uint32 = 0x10DC
	HalfFloat      uint32 = 0x10DD
	Float          uint32 = 0x10DE
)

// Memory object types.
const (
	MemObjectBuffer        uint32 = 0x10F0
	MemObjectImage2D       uint32 = 0x10F1
	MemObjectImage3D       uint32 = 0x10F2
	MemObjectImage2DArray  uint32 = 0x10F3
	MemObjectImage1D       uint32 = 0x10F4
	MemObjectImage1DArray  uint32 = 0x10F5
	MemObjectImage1DBuffer uint32 = 0x10F6
)

// Memory object info.
const (
	MemType                uint32 = 0x1100
	MemFlags               uint32 = 0x1101
	MemSize                uint32 = 0x1102
	MemHostPtr             uint32 = 0x1103
	MemMapCount            uint32 = 0x1104
	MemReferenceCount      uint32 = 0x1105
	MemContext             uint32 = 0x1106
	MemAssociatedMemObject uint32 = 0x1107
	MemOffset              uint32 = 0x1108
)

// Image info.
const (
	ImageFormat       uint32 = 0x1110
	ImageElementSize  uint32 = 0x1111
	ImageRowPitch     uint32 = 0x1112
	ImageSlicePitch   uint32 = 0x1113
	ImageWidth        uint32 = 0x1114
	ImageHeight       uint32 = 0x1115
	ImageDepth        uint32 = 0x1116
	ImageArraySize    uint32 = 0x1117
	ImageBuffer       uint32 = 0x1118
	ImageNumMipLevels uint32 = 0x1119
	ImageNumSamples   uint32 = 0x111A
)

// Sampler addressing and filter modes, and sampler info.
const (
	AddressNone           uint32 = 0x1130
	AddressClampToEdge    uint32 = 0x1131
	AddressClamp          uint32 = 0x1132
	AddressRepeat         uint32 = 0x1133
	AddressMirroredRepeat uint32 = 0x1134

	FilterNearest uint32 = 0x1140
	FilterLinear  uint32 = 0x1141

	SamplerReferenceCount   uint32 = 0x1150
	SamplerContext          uint32 = 0x1151
	SamplerNormalizedCoords uint32 = 0x1152
	SamplerAddressingMode   uint32 = 0x1153
	SamplerFilterMode       uint32 = 0x1154
)

// Program info and build info.
const (
	ProgramReferenceCount uint32 = 0x1160
	ProgramContext        uint32 = 0x1161
	ProgramNumDevices     uint32 = 0x1162
	ProgramDevices        uint32 = 0x1163
	ProgramSource         uint32 = 0x1164
	ProgramBinarySizes    uint32 = 0x1165
	ProgramBinaries       uint32 = 0x1166
	ProgramNumKernels     uint32 = 0x1167
	ProgramKernelNames    uint32 = 0x1168

	ProgramBuildStatus  uint32 = 0x1181
	ProgramBuildOptions uint32 = 0x1182
	ProgramBuildLog     uint32 = 0x1183
	ProgramBinaryType   uint32 = 0x1184
)

// Build status values.
const (
	BuildSuccess    int32 = 0
	BuildNone       int32 = -1
	BuildError      int32 = -2
	BuildInProgress int32 = -3
)

// Program binary types.
const (
	ProgramBinaryTypeNone           uint32 = 0x0
	ProgramBinaryTypeCompiledObject uint32 = 0x1
	ProgramBinaryTypeLibrary        uint32 = 0x2
	ProgramBinaryTypeExecutable     uint32 = 0x4
)

// Kernel info, argument info and work-group info.
const (
	KernelFunctionName   uint32 = 0x1190
	KernelNumArgs        uint32 = 0x1191
	KernelReferenceCount uint32 = 0x1192
	KernelContext        uint32 = 0x1193
	KernelProgram        uint32 = 0x1194
	KernelAttributes     uint32 = 0x1195

	KernelArgAddressQualifier uint32 = 0x1196
	KernelArgAccessQualifier  uint32 = 0x1197
	KernelArgTypeName         uint32 = 0x1198
	KernelArgTypeQualifier    uint32 = 0x1199
	KernelArgName             uint32 = 0x119A

	KernelArgAddressGlobal   uint32 = 0x119B
	KernelArgAddressLocal    uint32 = 0x119C
	KernelArgAddressConstant uint32 = 0x119D
	KernelArgAddressPrivate  uint32 = 0x119E

	KernelArgAccessReadOnly  uint32 = 0x11A0
	KernelArgAccessWriteOnly uint32 = 0x11A1
	KernelArgAccessReadWrite uint32 = 0x11A2
	KernelArgAccessNone      uint32 = 0x11A3

	KernelArgTypeNone     uint64 = 0
	KernelArgTypeConst    uint64 = 1 << 0
	KernelArgTypeRestrict uint64 = 1 << 1
	KernelArgTypeVolatile uint64 = 1 << 2

	KernelWorkGroupSize                  uint32 = 0x11B0
	KernelCompileWorkGroupSize           uint32 = 0x11B1
	KernelLocalMemSize                   uint32 = 0x11B2
	KernelPreferredWorkGroupSizeMultiple uint32 = 0x11B3
	KernelPrivateMemSize                 uint32 = 0x11B4
	KernelGlobalWorkSize                 uint32 = 0x11B5
)

// Event info.
const (
	EventCommandQueue           uint32 = 0x11D0
	EventCommandType            uint32 = 0x11D1
	EventReferenceCount         uint32 = 0x11D2
	EventCommandExecutionStatus uint32 = 0x11D3
	EventContext                uint32 = 0x11D4
)

// Command types.
const (
	CommandNDRangeKernel     uint32 = 0x11F0
	CommandTask              uint32 = 0x11F1
	CommandNativeKernel      uint32 = 0x11F2
	CommandReadBuffer        uint32 = 0x11F3
	CommandWriteBuffer       uint32 = 0x11F4
	CommandCopyBuffer        uint32 = 0x11F5
	CommandReadImage         uint32 = 0x11F6
	CommandWriteImage        uint32 = 0x11F7
	CommandCopyImage         uint32 = 0x11F8
	CommandCopyImageToBuffer uint32 = 0x11F9
	CommandCopyBufferToImage uint32 = 0x11FA
	CommandMapBuffer         uint32 = 0x11FB
	CommandMapImage          uint32 = 0x11FC
	CommandUnmapMemObject    uint32 = 0x11FD
	CommandMarker            uint32 = 0x11FE
	CommandReadBufferRect    uint32 = 0x1201
	CommandWriteBufferRect   uint32 = 0x1202
	CommandCopyBufferRect    uint32 = 0x1203
	CommandUser              uint32 = 0x1204
	CommandBarrier           uint32 = 0x1205
	CommandMigrateMemObjects uint32 = 0x1206
	CommandFillBuffer        uint32 = 0x1207
	CommandFillImage         uint32 = 0x1208
)

// Command execution status. Negative values are error codes.
const (
	Complete  int32 = 0x0
	Running   int32 = 0x1
	Submitted int32 = 0x2
	Queued    int32 = 0x3
)

// Sub-buffer creation type.
const BufferCreateTypeRegion uint32 = 0x1220

// Profiling info.
const (
	ProfilingCommandQueued uint32 = 0x1280
	ProfilingCommandSubmit uint32 = 0x1281
	ProfilingCommandStart  uint32 = 0x1282
	ProfilingCommandEnd    uint32 = 0x1283
)
