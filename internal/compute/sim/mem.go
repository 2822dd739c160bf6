package sim

import (
	"github.com/fxnlabs/ocland/internal/cl"
	"github.com/fxnlabs/ocland/internal/compute"
	"github.com/fxnlabs/ocland/internal/transfer"
)

const (
	accessFlags = cl.MemReadWrite | cl.MemWriteOnly | cl.MemReadOnly
	hostFlags   = cl.MemUseHostPtr | cl.MemAllocHostPtr | cl.MemCopyHostPtr
	hostAccess  = cl.MemHostWriteOnly | cl.MemHostReadOnly | cl.MemHostNoAccess

	maxImage2D = 16384
	maxImage3D = 2048
	maxArray   = 2048
)

// mem is a buffer, a sub-buffer or an image. Sub-buffers and 1D buffer
// images alias the data of their parent.
type mem struct {
	refCount
	ctx    *simContext
	typ    uint32
	flags  uint64
	data   []byte
	parent *mem
	offset uint64

	format compute.ImageFormat
	desc   compute.ImageDesc
	elem   uint64
	dims   [3]uint64
	row    uint64
	slice  uint64
}

func asMem(o compute.Object) (*mem, error) {
	m, ok := o.(*mem)
	if !ok || !m.live() {
		return nil, cl.InvalidMemObject
	}
	return m, nil
}

func asBuffer(o compute.Object) (*mem, error) {
	m, err := asMem(o)
	if err != nil {
		return nil, err
	}
	if m.typ != cl.MemObjectBuffer {
		return nil, cl.InvalidMemObject
	}
	return m, nil
}

func asImage(o compute.Object) (*mem, error) {
	m, err := asMem(o)
	if err != nil {
		return nil, err
	}
	if m.typ == cl.MemObjectBuffer {
		return nil, cl.InvalidMemObject
	}
	return m, nil
}

func (m *mem) size() uint64 { return uint64(len(m.data)) }

// root returns the object owning the storage and the offset of m inside it.
func (m *mem) root() (*mem, uint64) {
	if m.parent == nil || m.typ != cl.MemObjectBuffer {
		return m, 0
	}
	r, off := m.parent.root()
	return r, off + m.offset
}

func (c *simContext) maxAlloc() uint64 {
	var limit uint64
	for _, d := range c.devices {
		if limit == 0 || d.maxAlloc() < limit {
			limit = d.maxAlloc()
		}
	}
	return limit
}

func checkFlags(flags uint64) error {
	if flags&^(accessFlags|hostFlags|hostAccess) != 0 {
		return cl.InvalidValue
	}
	if bits(flags&accessFlags) > 1 || bits(flags&hostAccess) > 1 {
		return cl.InvalidValue
	}
	if flags&cl.MemUseHostPtr != 0 && flags&(cl.MemAllocHostPtr|cl.MemCopyHostPtr) != 0 {
		return cl.InvalidValue
	}
	return nil
}

func bits(v uint64) int {
	n := 0
	for ; v != 0; v &= v - 1 {
		n++
	}
	return n
}

func checkHost(flags uint64, host []byte, need uint64) error {
	withHost := flags&(cl.MemUseHostPtr|cl.MemCopyHostPtr) != 0
	if withHost != (host != nil) {
		return cl.InvalidHostPtr
	}
	if host != nil && uint64(len(host)) < need {
		return cl.InvalidHostPtr
	}
	return nil
}

func (rt *Runtime) CreateBuffer(co compute.Context, flags, size uint64, host []byte) (compute.Mem, error) {
	c, err := asContext(co)
	if err != nil {
		return nil, err
	}
	if err := checkFlags(flags); err != nil {
		return nil, err
	}
	if size == 0 || size > c.maxAlloc() {
		return nil, cl.InvalidBufferSize
	}
	if err := checkHost(flags, host, size); err != nil {
		return nil, err
	}
	if flags&accessFlags == 0 {
		flags |= cl.MemReadWrite
	}
	m := &mem{ctx: c, typ: cl.MemObjectBuffer, flags: flags, data: make([]byte, size)}
	copy(m.data, host)
	m.init()
	return m, nil
}

func (rt *Runtime) CreateSubBuffer(o compute.Mem, flags uint64, createType uint32, origin, size uint64) (compute.Mem, error) {
	p, err := asBuffer(o)
	if err != nil {
		return nil, err
	}
	if p.parent != nil {
		return nil, cl.InvalidMemObject
	}
	if createType != cl.BufferCreateTypeRegion {
		return nil, cl.InvalidValue
	}
	if err := checkFlags(flags); err != nil || flags&hostFlags != 0 {
		return nil, cl.InvalidValue
	}
	if flags&accessFlags == 0 {
		flags |= p.flags & accessFlags
	} else if p.flags&cl.MemWriteOnly != 0 && flags&(cl.MemReadWrite|cl.MemReadOnly) != 0 ||
		p.flags&cl.MemReadOnly != 0 && flags&(cl.MemReadWrite|cl.MemWriteOnly) != 0 {
		return nil, cl.InvalidValue
	}
	if flags&hostAccess == 0 {
		flags |= p.flags & hostAccess
	}
	if size == 0 {
		return nil, cl.InvalidBufferSize
	}
	if origin+size > p.size() || origin+size < origin {
		return nil, cl.InvalidValue
	}
	m := &mem{
		ctx:    p.ctx,
		typ:    cl.MemObjectBuffer,
		flags:  flags,
		data:   p.data[origin : origin+size : origin+size],
		parent: p,
		offset: origin,
	}
	m.init()
	return m, nil
}

var supportedOrders = []uint32{cl.R, cl.RG, cl.RGBA}

var supportedTypes = []uint32{
	cl.UNormInt8, cl.UNormInt16, cl.SNormInt8, cl.SNormInt16,
	cl.SignedInt8, cl.SignedInt16, cl.SignedInt32,
	cl.UnsignedInt8, cl.UnsignedInt16, cl.UnsignedInt32,
	cl.HalfFloat, cl.Float,
}

func supportedFormats() []compute.ImageFormat {
	out := make([]compute.ImageFormat, 0, len(supportedOrders)*len(supportedTypes)+1)
	for _, o := range supportedOrders {
		for _, t := range supportedTypes {
			out = append(out, compute.ImageFormat{ChannelOrder: o, ChannelDataType: t})
		}
	}
	return append(out, compute.ImageFormat{ChannelOrder: cl.BGRA, ChannelDataType: cl.UNormInt8})
}

func formatSupported(f compute.ImageFormat) bool {
	for _, s := range supportedFormats() {
		if s == f {
			return true
		}
	}
	return false
}

func validImageType(t uint32) bool {
	switch t {
	case cl.MemObjectImage1D, cl.MemObjectImage1DBuffer, cl.MemObjectImage1DArray,
		cl.MemObjectImage2D, cl.MemObjectImage2DArray, cl.MemObjectImage3D:
		return true
	}
	return false
}

func (rt *Runtime) SupportedImageFormats(co compute.Context, flags uint64, imageType uint32) ([]compute.ImageFormat, error) {
	if _, err := asContext(co); err != nil {
		return nil, err
	}
	if err := checkFlags(flags); err != nil {
		return nil, err
	}
	if !validImageType(imageType) {
		return nil, cl.InvalidValue
	}
	return supportedFormats(), nil
}

// imageDims returns width, rows and slices of the dense storage.
func imageDims(d compute.ImageDesc) ([3]uint64, error) {
	var dims [3]uint64
	var limit uint64 = maxImage2D
	switch d.Type {
	case cl.MemObjectImage1D, cl.MemObjectImage1DBuffer:
		dims = [3]uint64{d.Width, 1, 1}
	case cl.MemObjectImage1DArray:
		if d.ArraySize == 0 || d.ArraySize > maxArray {
			return dims, cl.InvalidImageSize
		}
		dims = [3]uint64{d.Width, d.ArraySize, 1}
	case cl.MemObjectImage2D:
		dims = [3]uint64{d.Width, d.Height, 1}
	case cl.MemObjectImage2DArray:
		if d.ArraySize == 0 || d.ArraySize > maxArray {
			return dims, cl.InvalidImageSize
		}
		dims = [3]uint64{d.Width, d.Height, d.ArraySize}
	case cl.MemObjectImage3D:
		limit = maxImage3D
		dims = [3]uint64{d.Width, d.Height, d.Depth}
	default:
		return dims, cl.InvalidImageDescriptor
	}
	for _, v := range dims {
		if v == 0 || v > limit {
			return dims, cl.InvalidImageSize
		}
	}
	if d.NumMipLevels != 0 || d.NumSamples != 0 {
		return dims, cl.InvalidImageDescriptor
	}
	return dims, nil
}

func (rt *Runtime) CreateImage(co compute.Context, flags uint64, format compute.ImageFormat, desc compute.ImageDesc, host []byte) (compute.Mem, error) {
	c, err := asContext(co)
	if err != nil {
		return nil, err
	}
	if err := checkFlags(flags); err != nil {
		return nil, err
	}
	elem := compute.ElementSize(format)
	if elem == 0 {
		return nil, cl.InvalidImageFormatDescriptor
	}
	if !formatSupported(format) {
		return nil, cl.ImageFormatNotSupported
	}
	dims, err := imageDims(desc)
	if err != nil {
		return nil, err
	}
	if host == nil && (desc.RowPitch != 0 || desc.SlicePitch != 0) {
		return nil, cl.InvalidImageDescriptor
	}

	dense := transfer.Region{Size: [3]uint64{dims[0] * elem, dims[1], dims[2]}}.Dense()
	m := &mem{
		ctx:    c,
		typ:    desc.Type,
		flags:  flags,
		format: format,
		desc:   desc,
		elem:   elem,
		dims:   dims,
		row:    dense.RowPitch,
		slice:  dense.SlicePitch,
	}
	if m.flags&accessFlags == 0 {
		m.flags |= cl.MemReadWrite
	}
	if dense.DenseSize() > c.maxAlloc() {
		return nil, cl.InvalidImageSize
	}

	if desc.Type == cl.MemObjectImage1DBuffer {
		buf, err := asBuffer(desc.Buffer)
		if err != nil || buf.ctx != c {
			return nil, cl.InvalidImageDescriptor
		}
		if dense.DenseSize() > buf.size() {
			return nil, cl.InvalidImageSize
		}
		if host != nil {
			return nil, cl.InvalidHostPtr
		}
		m.parent = buf
		m.data = buf.data[:dense.DenseSize()]
		m.init()
		return m, nil
	}

	if err := checkHost(flags, host, 0); err != nil {
		return nil, err
	}
	if host != nil {
		hr := transfer.Region{Size: dense.Size, RowPitch: desc.RowPitch, SlicePitch: desc.SlicePitch}
		if desc.Type == cl.MemObjectImage1DArray {
			// array layers of a 1D array advance by the slice pitch
			hr.RowPitch = desc.SlicePitch
			hr.SlicePitch = 0
		}
		m.data, err = hr.Pack(host)
		if err != nil {
			return nil, cl.InvalidHostPtr
		}
	} else {
		m.data = make([]byte, dense.DenseSize())
	}
	m.init()
	return m, nil
}

func (rt *Runtime) MemInfo(o compute.Mem, param uint32) (compute.Info, error) {
	m, err := asMem(o)
	if err != nil {
		return compute.Info{}, err
	}
	switch param {
	case cl.MemType:
		return compute.Uint32Info(m.typ), nil
	case cl.MemFlags:
		return compute.Uint64Info(m.flags), nil
	case cl.MemSize:
		return compute.Uint64Info(m.size()), nil
	case cl.MemHostPtr:
		return compute.Uint64Info(0), nil
	case cl.MemMapCount:
		return compute.Uint32Info(0), nil
	case cl.MemReferenceCount:
		return compute.Uint32Info(m.count()), nil
	case cl.MemContext:
		return compute.ObjectsInfo(m.ctx), nil
	case cl.MemAssociatedMemObject:
		if m.parent == nil {
			return compute.ObjectsInfo(nil), nil
		}
		return compute.ObjectsInfo(m.parent), nil
	case cl.MemOffset:
		return compute.Uint64Info(m.offset), nil
	}
	return compute.Info{}, cl.InvalidValue
}

func (rt *Runtime) ImageInfo(o compute.Mem, param uint32) (compute.Info, error) {
	m, err := asImage(o)
	if err != nil {
		return compute.Info{}, err
	}
	switch param {
	case cl.ImageFormat:
		return compute.ImageFormatInfo(m.format), nil
	case cl.ImageElementSize:
		return compute.Uint64Info(m.elem), nil
	case cl.ImageRowPitch:
		return compute.Uint64Info(m.row), nil
	case cl.ImageSlicePitch:
		switch m.typ {
		case cl.MemObjectImage3D, cl.MemObjectImage2DArray:
			return compute.Uint64Info(m.slice), nil
		case cl.MemObjectImage1DArray:
			return compute.Uint64Info(m.row), nil
		}
		return compute.Uint64Info(0), nil
	case cl.ImageWidth:
		return compute.Uint64Info(m.desc.Width), nil
	case cl.ImageHeight:
		switch m.typ {
		case cl.MemObjectImage2D, cl.MemObjectImage2DArray, cl.MemObjectImage3D:
			return compute.Uint64Info(m.desc.Height), nil
		}
		return compute.Uint64Info(0), nil
	case cl.ImageDepth:
		if m.typ == cl.MemObjectImage3D {
			return compute.Uint64Info(m.desc.Depth), nil
		}
		return compute.Uint64Info(0), nil
	case cl.ImageArraySize:
		if m.typ == cl.MemObjectImage1DArray || m.typ == cl.MemObjectImage2DArray {
			return compute.Uint64Info(m.desc.ArraySize), nil
		}
		return compute.Uint64Info(0), nil
	case cl.ImageBuffer:
		if m.typ == cl.MemObjectImage1DBuffer {
			return compute.ObjectsInfo(m.parent), nil
		}
		return compute.ObjectsInfo(nil), nil
	case cl.ImageNumMipLevels, cl.ImageNumSamples:
		return compute.Uint32Info(0), nil
	}
	return compute.Info{}, cl.InvalidValue
}

type sampler struct {
	refCount
	ctx        *simContext
	normalized bool
	addressing uint32
	filter     uint32
}

func asSampler(o compute.Object) (*sampler, error) {
	s, ok := o.(*sampler)
	if !ok || !s.live() {
		return nil, cl.InvalidSampler
	}
	return s, nil
}

func (rt *Runtime) CreateSampler(co compute.Context, normalized bool, addressing, filter uint32) (compute.Sampler, error) {
	c, err := asContext(co)
	if err != nil {
		return nil, err
	}
	switch addressing {
	case cl.AddressNone, cl.AddressClampToEdge, cl.AddressClamp, cl.AddressRepeat, cl.AddressMirroredRepeat:
	default:
		return nil, cl.InvalidValue
	}
	if filter != cl.FilterNearest && filter != cl.FilterLinear {
		return nil, cl.InvalidValue
	}
	if !normalized && (addressing == cl.AddressRepeat || addressing == cl.AddressMirroredRepeat) {
		return nil, cl.InvalidValue
	}
	s := &sampler{ctx: c, normalized: normalized, addressing: addressing, filter: filter}
	s.init()
	return s, nil
}

func (rt *Runtime) SamplerInfo(o compute.Sampler, param uint32) (compute.Info, error) {
	s, err := asSampler(o)
	if err != nil {
		return compute.Info{}, err
	}
	switch param {
	case cl.SamplerReferenceCount:
		return compute.Uint32Info(s.count()), nil
	case cl.SamplerContext:
		return compute.ObjectsInfo(s.ctx), nil
	case cl.SamplerNormalizedCoords:
		return compute.BoolInfo(s.normalized), nil
	case cl.SamplerAddressingMode:
		return compute.Uint32Info(s.addressing), nil
	case cl.SamplerFilterMode:
		return compute.Uint32Info(s.filter), nil
	}
	return compute.Info{}, cl.InvalidValue
}
