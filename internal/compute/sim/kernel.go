package sim

import (
	"errors"
	"regexp"
	"strings"

	"github.com/fxnlabs/ocland/internal/cl"
	"github.com/fxnlabs/ocland/internal/compute"
)

type argDecl struct {
	name     string
	typeName string
	address  uint32
	access   uint32
	typeQual uint64
	// size of a by-value argument, zero when unknown
	size    uint64
	pointer bool
	image   bool
	sampler bool
}

type kernelDecl struct {
	name string
	args []argDecl
}

var (
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineComment  = regexp.MustCompile(`//[^\n]*`)
	kernelHead   = regexp.MustCompile(`(?:\b__kernel|\bkernel)\s+(?:__attribute__\s*\(\(.*?\)\)\s*)?void\s+([A-Za-z_]\w*)\s*\(`)
	identifier   = regexp.MustCompile(`^[A-Za-z_]\w*$`)
)

var errUnbalanced = errors.New("expected ')' in kernel declaration")

func parseKernels(source string) ([]kernelDecl, error) {
	source = lineComment.ReplaceAllString(blockComment.ReplaceAllString(source, " "), " ")
	var out []kernelDecl
	for _, loc := range kernelHead.FindAllStringSubmatchIndex(source, -1) {
		name := source[loc[2]:loc[3]]
		rest := source[loc[1]:]
		end := strings.IndexByte(rest, ')')
		if end < 0 {
			return nil, errUnbalanced
		}
		params := strings.TrimSpace(rest[:end])
		k := kernelDecl{name: name}
		if params != "" && params != "void" {
			for _, p := range strings.Split(params, ",") {
				a, err := parseArg(p)
				if err != nil {
					return nil, err
				}
				k.args = append(k.args, a)
			}
		}
		out = append(out, k)
	}
	return out, nil
}

var scalarSizes = map[string]uint64{
	"char": 1, "uchar": 1, "bool": 1,
	"short": 2, "ushort": 2, "half": 2,
	"int": 4, "uint": 4, "float": 4,
	"long": 8, "ulong": 8, "double": 8, "size_t": 8, "ptrdiff_t": 8, "intptr_t": 8, "uintptr_t": 8,
	"unsigned": 4,
}

func valueSize(typeName string) uint64 {
	base := strings.TrimRight(typeName, "0123456789")
	size, ok := scalarSizes[base]
	if !ok {
		return 0
	}
	switch strings.TrimPrefix(typeName, base) {
	case "":
		return size
	case "2":
		return 2 * size
	case "3", "4":
		return 4 * size
	case "8":
		return 8 * size
	case "16":
		return 16 * size
	}
	return 0
}

func parseArg(decl string) (argDecl, error) {
	decl = strings.ReplaceAll(decl, "*", " * ")
	fields := strings.Fields(decl)
	if len(fields) < 2 {
		return argDecl{}, errors.New("malformed kernel argument '" + strings.TrimSpace(decl) + "'")
	}
	a := argDecl{
		name:    fields[len(fields)-1],
		address: cl.KernelArgAddressPrivate,
		access:  cl.KernelArgAccessNone,
	}
	if !identifier.MatchString(a.name) {
		return argDecl{}, errors.New("malformed kernel argument '" + strings.TrimSpace(decl) + "'")
	}
	var typ []string
	for _, f := range fields[:len(fields)-1] {
		switch strings.TrimPrefix(f, "__") {
		case "global":
			a.address = cl.KernelArgAddressGlobal
		case "local":
			a.address = cl.KernelArgAddressLocal
		case "constant":
			a.address = cl.KernelArgAddressConstant
		case "private":
			a.address = cl.KernelArgAddressPrivate
		case "read_only":
			a.access = cl.KernelArgAccessReadOnly
		case "write_only":
			a.access = cl.KernelArgAccessWriteOnly
		case "read_write":
			a.access = cl.KernelArgAccessReadWrite
		case "const":
			a.typeQual |= cl.KernelArgTypeConst
		case "restrict":
			a.typeQual |= cl.KernelArgTypeRestrict
		case "volatile":
			a.typeQual |= cl.KernelArgTypeVolatile
		case "*":
			a.pointer = true
			typ = append(typ, f)
		default:
			typ = append(typ, f)
		}
	}
	a.typeName = strings.ReplaceAll(strings.Join(typ, " "), " *", "*")
	base := strings.TrimSuffix(a.typeName, "*")
	switch {
	case strings.HasPrefix(base, "image"):
		a.image = true
		a.address = cl.KernelArgAddressGlobal
		if a.access == cl.KernelArgAccessNone {
			a.access = cl.KernelArgAccessReadOnly
		}
	case base == "sampler_t":
		a.sampler = true
		a.size = 8
	case a.pointer:
		a.size = 8
	default:
		// const on a by-value argument is not a type qualifier
		a.typeQual &^= cl.KernelArgTypeConst
		a.size = valueSize(base)
	}
	if !a.pointer {
		a.typeQual &^= cl.KernelArgTypeRestrict
	}
	return a, nil
}

type kernel struct {
	refCount
	prog *program
	decl kernelDecl
	args []compute.KernelArg
	set  []bool
}

func asKernel(o compute.Object) (*kernel, error) {
	k, ok := o.(*kernel)
	if !ok || !k.live() {
		return nil, cl.InvalidKernel
	}
	return k, nil
}

func newKernel(p *program, decl kernelDecl) *kernel {
	k := &kernel{
		prog: p,
		decl: decl,
		args: make([]compute.KernelArg, len(decl.args)),
		set:  make([]bool, len(decl.args)),
	}
	k.init()
	p.kernelRefs.Add(1)
	return k
}

func (rt *Runtime) CreateKernel(o compute.Program, name string) (compute.Kernel, error) {
	p, err := asProgram(o)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, cl.InvalidValue
	}
	if !p.executableFor(nil) {
		return nil, cl.InvalidProgramExecutable
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, decl := range p.kernels {
		if decl.name == name {
			return newKernel(p, decl), nil
		}
	}
	return nil, cl.InvalidKernelName
}

func (rt *Runtime) CreateKernelsInProgram(o compute.Program) ([]compute.Kernel, error) {
	p, err := asProgram(o)
	if err != nil {
		return nil, err
	}
	if !p.executableFor(nil) {
		return nil, cl.InvalidProgramExecutable
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]compute.Kernel, len(p.kernels))
	for i, decl := range p.kernels {
		out[i] = newKernel(p, decl)
	}
	return out, nil
}

func (rt *Runtime) SetKernelArg(o compute.Kernel, index uint32, arg compute.KernelArg) error {
	k, err := asKernel(o)
	if err != nil {
		return err
	}
	if int(index) >= len(k.decl.args) {
		return cl.InvalidArgIndex
	}
	decl := k.decl.args[index]

	switch {
	case decl.address == cl.KernelArgAddressLocal:
		if !arg.Local {
			return cl.InvalidArgValue
		}
		if arg.Size == 0 {
			return cl.InvalidArgSize
		}
	case arg.Local:
		return cl.InvalidArgValue
	case decl.sampler:
		s, err := asSampler(arg.Sampler)
		if err != nil {
			return cl.InvalidSampler
		}
		if s.ctx != k.prog.ctx {
			return cl.InvalidSampler
		}
	case decl.image:
		m, err := asImage(arg.Mem)
		if err != nil || m.ctx != k.prog.ctx {
			return cl.InvalidMemObject
		}
	case decl.pointer:
		if arg.Size != 8 {
			return cl.InvalidArgSize
		}
		if arg.Mem == nil {
			// a NULL buffer is allowed, any other raw value is not
			if !isZero(arg.Value) {
				return cl.InvalidMemObject
			}
			break
		}
		m, err := asBuffer(arg.Mem)
		if err != nil || m.ctx != k.prog.ctx {
			return cl.InvalidMemObject
		}
	default:
		if arg.Mem != nil || arg.Sampler != nil {
			return cl.InvalidArgValue
		}
		if arg.Value == nil {
			return cl.InvalidArgValue
		}
		if uint64(len(arg.Value)) != arg.Size || (decl.size != 0 && arg.Size != decl.size) {
			return cl.InvalidArgSize
		}
		arg.Value = append([]byte(nil), arg.Value...)
	}

	k.prog.mu.Lock()
	k.args[index] = arg
	k.set[index] = true
	k.prog.mu.Unlock()
	return nil
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func (rt *Runtime) KernelInfo(o compute.Kernel, param uint32) (compute.Info, error) {
	k, err := asKernel(o)
	if err != nil {
		return compute.Info{}, err
	}
	switch param {
	case cl.KernelFunctionName:
		return compute.StringInfo(k.decl.name), nil
	case cl.KernelNumArgs:
		return compute.Uint32Info(uint32(len(k.decl.args))), nil
	case cl.KernelReferenceCount:
		return compute.Uint32Info(k.count()), nil
	case cl.KernelContext:
		return compute.ObjectsInfo(k.prog.ctx), nil
	case cl.KernelProgram:
		return compute.ObjectsInfo(k.prog), nil
	case cl.KernelAttributes:
		return compute.StringInfo(""), nil
	}
	return compute.Info{}, cl.InvalidValue
}

func (rt *Runtime) KernelArgInfo(o compute.Kernel, index uint32, param uint32) (compute.Info, error) {
	k, err := asKernel(o)
	if err != nil {
		return compute.Info{}, err
	}
	if int(index) >= len(k.decl.args) {
		return compute.Info{}, cl.InvalidArgIndex
	}
	if k.prog.fromBinary {
		return compute.Info{}, cl.KernelArgInfoNotAvailable
	}
	a := k.decl.args[index]
	switch param {
	case cl.KernelArgAddressQualifier:
		return compute.Uint32Info(a.address), nil
	case cl.KernelArgAccessQualifier:
		return compute.Uint32Info(a.access), nil
	case cl.KernelArgTypeName:
		return compute.StringInfo(a.typeName), nil
	case cl.KernelArgTypeQualifier:
		return compute.Uint64Info(a.typeQual), nil
	case cl.KernelArgName:
		return compute.StringInfo(a.name), nil
	}
	return compute.Info{}, cl.InvalidValue
}

func (rt *Runtime) KernelWorkGroupInfo(o compute.Kernel, do compute.Device, param uint32) (compute.Info, error) {
	k, err := asKernel(o)
	if err != nil {
		return compute.Info{}, err
	}
	var d *device
	if do == nil {
		if len(k.prog.devices) != 1 {
			return compute.Info{}, cl.InvalidDevice
		}
		d = k.prog.devices[0]
	} else if d, err = asDevice(do); err != nil {
		return compute.Info{}, err
	}
	if !k.prog.hasDevice(d) {
		return compute.Info{}, cl.InvalidDevice
	}
	switch param {
	case cl.KernelWorkGroupSize:
		return compute.Uint64Info(maxWorkGroupSize), nil
	case cl.KernelCompileWorkGroupSize:
		return compute.Uint64sInfo(0, 0, 0), nil
	case cl.KernelLocalMemSize:
		var total uint64
		k.prog.mu.Lock()
		for i, a := range k.args {
			if k.set[i] && a.Local {
				total += a.Size
			}
		}
		k.prog.mu.Unlock()
		return compute.Uint64Info(total), nil
	case cl.KernelPreferredWorkGroupSizeMultiple:
		if d.typ&cl.DeviceTypeGPU != 0 {
			return compute.Uint64Info(32), nil
		}
		return compute.Uint64Info(1), nil
	case cl.KernelPrivateMemSize:
		return compute.Uint64Info(0), nil
	}
	return compute.Info{}, cl.InvalidValue
}

func (rt *Runtime) NDRangeKernel(qo compute.Queue, ko compute.Kernel, offset, global, local []uint64, wait []compute.Event) (compute.Event, error) {
	q, err := asQueue(qo)
	if err != nil {
		return nil, err
	}
	k, err := asKernel(ko)
	if err != nil {
		return nil, err
	}
	if k.prog.ctx != q.ctx {
		return nil, cl.InvalidContext
	}
	if !k.prog.executableFor(q.dev) && !(q.dev.parent != nil && k.prog.executableFor(q.dev.parent)) {
		return nil, cl.InvalidProgramExecutable
	}

	nd, err := newNDRange(offset, global, local)
	if err != nil {
		return nil, err
	}

	k.prog.mu.Lock()
	args := append([]compute.KernelArg(nil), k.args...)
	complete := true
	var localMem uint64
	for i, set := range k.set {
		complete = complete && set
		if args[i].Local {
			localMem += args[i].Size
		}
	}
	k.prog.mu.Unlock()
	if !complete {
		return nil, cl.InvalidKernelArgs
	}
	if localMem > q.dev.localMemSize {
		return nil, cl.OutOfResources
	}

	impl, ok := library[k.decl.name]
	if !ok || impl.args != len(args) {
		return nil, cl.InvalidOperation
	}
	return rt.enqueue(q, cl.CommandNDRangeKernel, false, wait, func() error {
		return impl.run(nd, args)
	})
}

// ndrange is a validated launch geometry.
type ndrange struct {
	dims   int
	offset [3]uint64
	global [3]uint64
	local  [3]uint64
}

func newNDRange(offset, global, local []uint64) (ndrange, error) {
	nd := ndrange{dims: len(global)}
	if nd.dims < 1 || nd.dims > 3 {
		return nd, cl.InvalidWorkDimension
	}
	if offset != nil && len(offset) != nd.dims {
		return nd, cl.InvalidGlobalOffset
	}
	if local != nil && len(local) != nd.dims {
		return nd, cl.InvalidWorkGroupSize
	}
	groupSize := uint64(1)
	for i := 0; i < nd.dims; i++ {
		if global[i] == 0 {
			return nd, cl.InvalidGlobalWorkSize
		}
		nd.global[i] = global[i]
		if offset != nil {
			nd.offset[i] = offset[i]
		}
		if local == nil {
			nd.local[i] = 1
			continue
		}
		if local[i] == 0 || global[i]%local[i] != 0 {
			return nd, cl.InvalidWorkGroupSize
		}
		if local[i] > maxWorkGroupSize {
			return nd, cl.InvalidWorkItemSize
		}
		nd.local[i] = local[i]
		groupSize *= local[i]
	}
	if groupSize > maxWorkGroupSize {
		return nd, cl.InvalidWorkGroupSize
	}
	for i := nd.dims; i < 3; i++ {
		nd.global[i], nd.local[i] = 1, 1
	}
	return nd, nil
}
