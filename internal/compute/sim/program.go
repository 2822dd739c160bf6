package sim

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fxnlabs/ocland/internal/cl"
	"github.com/fxnlabs/ocland/internal/compute"
)

// binaryMagic starts every program binary. The layout is magic, u32 binary
// type, keccak256(source), source.
const binaryMagic = "OCLSIM01"

const binaryHeader = len(binaryMagic) + 4 + 32

type build struct {
	status  int32
	options string
	log     string
	binType uint32
}

type program struct {
	refCount
	ctx     *simContext
	devices []*device
	source  string

	// origin of the program, reported by PROGRAM_SOURCE and arg info
	fromBinary bool
	builtin    bool

	mu      sync.Mutex
	builds  map[*device]*build
	kernels []kernelDecl

	kernelRefs atomic.Int32
}

func asProgram(o compute.Object) (*program, error) {
	p, ok := o.(*program)
	if !ok || !p.live() {
		return nil, cl.InvalidProgram
	}
	return p, nil
}

func newProgram(c *simContext, devices []*device, source string) *program {
	p := &program{ctx: c, devices: devices, source: source, builds: make(map[*device]*build)}
	for _, d := range devices {
		p.builds[d] = &build{status: cl.BuildNone}
	}
	p.init()
	return p
}

func (p *program) hasDevice(d *device) bool {
	for _, pd := range p.devices {
		if pd == d {
			return true
		}
	}
	return false
}

// targets resolves the devices a build applies to; none means all of them.
func (p *program) targets(objs []compute.Device) ([]*device, error) {
	if len(objs) == 0 {
		return p.devices, nil
	}
	devs, err := asDevices(objs)
	if err != nil {
		return nil, err
	}
	for _, d := range devs {
		if !p.hasDevice(d) {
			return nil, cl.InvalidDevice
		}
	}
	return devs, nil
}

// executableFor reports whether the program was built into an executable for
// d, or for any device when d is nil.
func (p *program) executableFor(d *device) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for dev, b := range p.builds {
		if (d == nil || dev == d) && b.status == cl.BuildSuccess && b.binType == cl.ProgramBinaryTypeExecutable {
			return true
		}
	}
	return false
}

func contextDevices(c *simContext, objs []compute.Device) ([]*device, error) {
	if len(objs) == 0 {
		return c.devices, nil
	}
	devs, err := asDevices(objs)
	if err != nil {
		return nil, err
	}
	for _, d := range devs {
		if !c.has(d) {
			return nil, cl.InvalidDevice
		}
	}
	return devs, nil
}

func (rt *Runtime) CreateProgramWithSource(co compute.Context, sources []string) (compute.Program, error) {
	c, err := asContext(co)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, cl.InvalidValue
	}
	for _, s := range sources {
		if s == "" {
			return nil, cl.InvalidValue
		}
	}
	return newProgram(c, c.devices, strings.Join(sources, "")), nil
}

func encodeBinary(binType uint32, source string) []byte {
	out := make([]byte, 0, binaryHeader+len(source))
	out = append(out, binaryMagic...)
	out = binary.LittleEndian.AppendUint32(out, binType)
	out = append(out, crypto.Keccak256([]byte(source))...)
	return append(out, source...)
}

func decodeBinary(b []byte) (uint32, string, bool) {
	if len(b) < binaryHeader || string(b[:len(binaryMagic)]) != binaryMagic {
		return 0, "", false
	}
	binType := binary.LittleEndian.Uint32(b[len(binaryMagic):])
	digest := b[len(binaryMagic)+4 : binaryHeader]
	source := b[binaryHeader:]
	if !bytes.Equal(digest, crypto.Keccak256(source)) {
		return 0, "", false
	}
	switch binType {
	case cl.ProgramBinaryTypeCompiledObject, cl.ProgramBinaryTypeLibrary, cl.ProgramBinaryTypeExecutable:
	default:
		return 0, "", false
	}
	return binType, string(source), true
}

func (rt *Runtime) CreateProgramWithBinary(co compute.Context, devices []compute.Device, binaries [][]byte) (compute.Program, []cl.Status, error) {
	c, err := asContext(co)
	if err != nil {
		return nil, nil, err
	}
	if len(devices) == 0 || len(devices) != len(binaries) {
		return nil, nil, cl.InvalidValue
	}
	devs, err := contextDevices(c, devices)
	if err != nil {
		return nil, nil, err
	}

	statuses := make([]cl.Status, len(binaries))
	types := make([]uint32, len(binaries))
	var source string
	failed := false
	for i, b := range binaries {
		if len(b) == 0 {
			return nil, nil, cl.InvalidValue
		}
		binType, src, ok := decodeBinary(b)
		if !ok || (i > 0 && src != source) {
			statuses[i] = cl.InvalidBinary
			failed = true
			continue
		}
		source = src
		types[i] = binType
	}
	if failed {
		return nil, statuses, cl.InvalidBinary
	}

	p := newProgram(c, devs, source)
	p.fromBinary = true
	for i, d := range devs {
		b := p.builds[d]
		b.binType = types[i]
		if types[i] != cl.ProgramBinaryTypeExecutable {
			b.status = cl.BuildSuccess
		}
	}
	return p, statuses, nil
}

func (rt *Runtime) CreateProgramWithBuiltInKernels(co compute.Context, devices []compute.Device, names string) (compute.Program, error) {
	c, err := asContext(co)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 || names == "" {
		return nil, cl.InvalidValue
	}
	devs, err := contextDevices(c, devices)
	if err != nil {
		return nil, err
	}
	var src strings.Builder
	for _, name := range strings.Split(names, ";") {
		decl, ok := builtinSource[strings.TrimSpace(name)]
		if !ok {
			return nil, cl.InvalidValue
		}
		src.WriteString(decl)
	}
	p := newProgram(c, devs, src.String())
	p.builtin = true
	p.kernels, _ = parseKernels(p.source)
	for _, d := range devs {
		p.builds[d] = &build{status: cl.BuildSuccess, binType: cl.ProgramBinaryTypeExecutable}
	}
	return p, nil
}

// checkOptions accepts preprocessor definitions, include paths, -cl-*
// switches and warning controls. extra lists further accepted switches.
func checkOptions(options string, extra ...string) (flags map[string]bool, ok bool) {
	flags = map[string]bool{}
	fields := strings.Fields(options)
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		switch {
		case f == "-D" || f == "-I":
			if i+1 == len(fields) {
				return nil, false
			}
			i++
		case strings.HasPrefix(f, "-D"), strings.HasPrefix(f, "-I"), strings.HasPrefix(f, "-cl-"),
			f == "-w", f == "-Werror":
		default:
			known := false
			for _, e := range extra {
				if f == e {
					known = true
				}
			}
			if !known {
				return nil, false
			}
		}
		flags[f] = true
	}
	return flags, true
}

var errorDirective = regexp.MustCompile(`(?m)^\s*#\s*error\b(.*)$`)

// compile checks source and extracts its kernels, returning a build log on
// failure.
func compile(source string) ([]kernelDecl, string, bool) {
	lines := strings.Split(source, "\n")
	for i, line := range lines {
		if m := errorDirective.FindStringSubmatch(line); m != nil {
			return nil, fmt.Sprintf("<source>:%d: error: %s", i+1, strings.TrimSpace(m[1])), false
		}
	}
	kernels, err := parseKernels(source)
	if err != nil {
		return nil, "<source>: error: " + err.Error(), false
	}
	return kernels, "", true
}

func (rt *Runtime) BuildProgram(o compute.Program, devices []compute.Device, options string) error {
	p, err := asProgram(o)
	if err != nil {
		return err
	}
	devs, err := p.targets(devices)
	if err != nil {
		return err
	}
	if _, ok := checkOptions(options); !ok {
		return cl.InvalidBuildOptions
	}
	if p.kernelRefs.Load() > 0 {
		return cl.InvalidOperation
	}
	if p.builtin {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fromBinary {
		for _, d := range devs {
			if p.builds[d].binType != cl.ProgramBinaryTypeExecutable {
				return cl.InvalidBinary
			}
		}
	}
	kernels, log, ok := compile(p.source)
	for _, d := range devs {
		b := &build{options: options, log: log, status: cl.BuildSuccess, binType: cl.ProgramBinaryTypeExecutable}
		if !ok {
			b.status, b.binType = cl.BuildError, cl.ProgramBinaryTypeNone
		}
		p.builds[d] = b
	}
	if !ok {
		return cl.BuildProgramFailure
	}
	p.kernels = kernels
	return nil
}

var includeDirective = regexp.MustCompile(`(?m)^\s*#\s*include\s*[<"]([^>"]+)[>"]\s*$`)

func (rt *Runtime) CompileProgram(o compute.Program, devices []compute.Device, options string, headers []compute.Program, headerNames []string) error {
	p, err := asProgram(o)
	if err != nil {
		return err
	}
	devs, err := p.targets(devices)
	if err != nil {
		return err
	}
	if len(headers) != len(headerNames) {
		return cl.InvalidValue
	}
	if _, ok := checkOptions(options); !ok {
		return cl.InvalidCompilerOptions
	}
	if p.fromBinary || p.builtin || p.kernelRefs.Load() > 0 {
		return cl.InvalidOperation
	}
	named := make(map[string]string, len(headers))
	for i, h := range headers {
		hp, err := asProgram(h)
		if err != nil {
			return err
		}
		named[headerNames[i]] = hp.source
	}

	var missing string
	expanded := includeDirective.ReplaceAllStringFunc(p.source, func(line string) string {
		name := includeDirective.FindStringSubmatch(line)[1]
		src, ok := named[name]
		if !ok && missing == "" {
			missing = name
		}
		return src
	})

	log := ""
	ok := missing == ""
	if !ok {
		log = fmt.Sprintf("<source>: fatal error: '%s' file not found", missing)
	} else {
		_, log, ok = compile(expanded)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range devs {
		b := &build{options: options, log: log, status: cl.BuildSuccess, binType: cl.ProgramBinaryTypeCompiledObject}
		if !ok {
			b.status, b.binType = cl.BuildError, cl.ProgramBinaryTypeNone
		}
		p.builds[d] = b
	}
	if !ok {
		return cl.CompileProgramFailure
	}
	p.source = expanded
	return nil
}

func (rt *Runtime) LinkProgram(co compute.Context, devices []compute.Device, options string, programs []compute.Program) (compute.Program, error) {
	c, err := asContext(co)
	if err != nil {
		return nil, err
	}
	if len(programs) == 0 {
		return nil, cl.InvalidValue
	}
	flags, ok := checkOptions(options, "-create-library", "-enable-link-options")
	if !ok {
		return nil, cl.InvalidLinkerOptions
	}
	devs, err := contextDevices(c, devices)
	if err != nil {
		return nil, err
	}

	var src strings.Builder
	for _, o := range programs {
		in, err := asProgram(o)
		if err != nil {
			return nil, err
		}
		if in.ctx != c {
			return nil, cl.InvalidContext
		}
		in.mu.Lock()
		linkable := true
		for _, d := range devs {
			b, ok := in.builds[d]
			if !ok || b.status != cl.BuildSuccess ||
				(b.binType != cl.ProgramBinaryTypeCompiledObject && b.binType != cl.ProgramBinaryTypeLibrary) {
				linkable = false
			}
		}
		in.mu.Unlock()
		if !linkable {
			return nil, cl.InvalidOperation
		}
		src.WriteString(in.source)
		src.WriteString("\n")
	}

	out := newProgram(c, devs, src.String())
	binType := cl.ProgramBinaryTypeExecutable
	if flags["-create-library"] {
		binType = cl.ProgramBinaryTypeLibrary
	}
	kernels, log, ok := compile(out.source)
	if ok {
		seen := map[string]bool{}
		for _, k := range kernels {
			if seen[k.name] {
				ok, log = false, fmt.Sprintf("<link>: error: duplicate kernel '%s'", k.name)
				break
			}
			seen[k.name] = true
		}
	}
	for _, d := range devs {
		b := &build{options: options, log: log, status: cl.BuildSuccess, binType: binType}
		if !ok {
			b.status, b.binType = cl.BuildError, cl.ProgramBinaryTypeNone
		}
		out.builds[d] = b
	}
	if !ok {
		return nil, cl.LinkProgramFailure
	}
	out.kernels = kernels
	return out, nil
}

func (rt *Runtime) ProgramInfo(o compute.Program, param uint32) (compute.Info, error) {
	p, err := asProgram(o)
	if err != nil {
		return compute.Info{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch param {
	case cl.ProgramReferenceCount:
		return compute.Uint32Info(p.count()), nil
	case cl.ProgramContext:
		return compute.ObjectsInfo(p.ctx), nil
	case cl.ProgramNumDevices:
		return compute.Uint32Info(uint32(len(p.devices))), nil
	case cl.ProgramDevices:
		objs := make([]compute.Object, len(p.devices))
		for i, d := range p.devices {
			objs[i] = d
		}
		return compute.ObjectsInfo(objs...), nil
	case cl.ProgramSource:
		if p.fromBinary || p.builtin {
			return compute.StringInfo(""), nil
		}
		return compute.StringInfo(p.source), nil
	case cl.ProgramBinarySizes:
		sizes := make([]uint64, len(p.devices))
		for i, b := range p.binaries() {
			sizes[i] = uint64(len(b))
		}
		return compute.Uint64sInfo(sizes...), nil
	case cl.ProgramBinaries:
		return compute.BlobsInfo(p.binaries()), nil
	case cl.ProgramNumKernels:
		if !p.linkedLocked() {
			return compute.Info{}, cl.InvalidProgramExecutable
		}
		return compute.Uint64Info(uint64(len(p.kernels))), nil
	case cl.ProgramKernelNames:
		if !p.linkedLocked() {
			return compute.Info{}, cl.InvalidProgramExecutable
		}
		names := make([]string, len(p.kernels))
		for i, k := range p.kernels {
			names[i] = k.name
		}
		return compute.StringInfo(joinNames(names)), nil
	}
	return compute.Info{}, cl.InvalidValue
}

func (p *program) linkedLocked() bool {
	for _, b := range p.builds {
		if b.status == cl.BuildSuccess && b.binType == cl.ProgramBinaryTypeExecutable {
			return true
		}
	}
	return false
}

// binaries returns one blob per device, empty where nothing was built.
func (p *program) binaries() [][]byte {
	out := make([][]byte, len(p.devices))
	for i, d := range p.devices {
		b := p.builds[d]
		if b.status == cl.BuildSuccess && b.binType != cl.ProgramBinaryTypeNone && !p.builtin {
			out[i] = encodeBinary(b.binType, p.source)
		} else {
			out[i] = []byte{}
		}
	}
	return out
}

func (rt *Runtime) ProgramBuildInfo(o compute.Program, do compute.Device, param uint32) (compute.Info, error) {
	p, err := asProgram(o)
	if err != nil {
		return compute.Info{}, err
	}
	d, err := asDevice(do)
	if err != nil {
		return compute.Info{}, err
	}
	if !p.hasDevice(d) {
		return compute.Info{}, cl.InvalidDevice
	}
	p.mu.Lock()
	b := *p.builds[d]
	p.mu.Unlock()
	switch param {
	case cl.ProgramBuildStatus:
		return compute.Int32Info(b.status), nil
	case cl.ProgramBuildOptions:
		return compute.StringInfo(b.options), nil
	case cl.ProgramBuildLog:
		return compute.StringInfo(b.log), nil
	case cl.ProgramBinaryType:
		return compute.Uint32Info(b.binType), nil
	}
	return compute.Info{}, cl.InvalidValue
}
