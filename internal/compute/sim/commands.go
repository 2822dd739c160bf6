package sim

import (
	"github.com/fxnlabs/ocland/internal/cl"
	"github.com/fxnlabs/ocland/internal/compute"
	"github.com/fxnlabs/ocland/internal/transfer"
)

// target resolves the queue and a memory object of the same context.
func target(qo compute.Queue, mo compute.Mem, resolve func(compute.Object) (*mem, error)) (*queue, *mem, error) {
	q, err := asQueue(qo)
	if err != nil {
		return nil, nil, err
	}
	m, err := resolve(mo)
	if err != nil {
		return nil, nil, err
	}
	if m.ctx != q.ctx {
		return nil, nil, cl.InvalidContext
	}
	return q, m, nil
}

func checkRange(m *mem, offset, size uint64) error {
	if size == 0 || offset+size > m.size() || offset+size < offset {
		return cl.InvalidValue
	}
	return nil
}

func hostReadable(m *mem) error {
	if m.flags&(cl.MemHostWriteOnly|cl.MemHostNoAccess) != 0 {
		return cl.InvalidOperation
	}
	return nil
}

func hostWritable(m *mem) error {
	if m.flags&(cl.MemHostReadOnly|cl.MemHostNoAccess) != 0 {
		return cl.InvalidOperation
	}
	return nil
}

func (rt *Runtime) ReadBuffer(qo compute.Queue, mo compute.Mem, blocking bool, offset uint64, dst []byte, wait []compute.Event) (compute.Event, error) {
	q, m, err := target(qo, mo, asBuffer)
	if err != nil {
		return nil, err
	}
	if err := checkRange(m, offset, uint64(len(dst))); err != nil {
		return nil, err
	}
	if err := hostReadable(m); err != nil {
		return nil, err
	}
	return rt.enqueue(q, cl.CommandReadBuffer, blocking, wait, func() error {
		copy(dst, m.data[offset:])
		return nil
	})
}

func (rt *Runtime) WriteBuffer(qo compute.Queue, mo compute.Mem, blocking bool, offset uint64, src []byte, wait []compute.Event) (compute.Event, error) {
	q, m, err := target(qo, mo, asBuffer)
	if err != nil {
		return nil, err
	}
	if err := checkRange(m, offset, uint64(len(src))); err != nil {
		return nil, err
	}
	if err := hostWritable(m); err != nil {
		return nil, err
	}
	return rt.enqueue(q, cl.CommandWriteBuffer, blocking, wait, func() error {
		copy(m.data[offset:], src)
		return nil
	})
}

// rectRegions returns the buffer and host sides of r, both normalized and
// bounds checked against their storage.
func rectRegions(r compute.Rect, bufSize, hostSize uint64) (buf, host transfer.Region, err error) {
	buf, err = transfer.Region{Origin: r.BufferOrigin, Size: r.Region, RowPitch: r.BufferRowPitch, SlicePitch: r.BufferSlicePitch}.Normalize()
	if err != nil {
		return buf, host, err
	}
	host, err = transfer.Region{Origin: r.HostOrigin, Size: r.Region, RowPitch: r.HostRowPitch, SlicePitch: r.HostSlicePitch}.Normalize()
	if err != nil {
		return buf, host, err
	}
	if buf.Extent() > bufSize || host.Extent() > hostSize {
		return buf, host, cl.InvalidValue
	}
	return buf, host, nil
}

func (rt *Runtime) ReadBufferRect(qo compute.Queue, mo compute.Mem, blocking bool, r compute.Rect, dst []byte, wait []compute.Event) (compute.Event, error) {
	q, m, err := target(qo, mo, asBuffer)
	if err != nil {
		return nil, err
	}
	br, hr, err := rectRegions(r, m.size(), uint64(len(dst)))
	if err != nil {
		return nil, err
	}
	if err := hostReadable(m); err != nil {
		return nil, err
	}
	return rt.enqueue(q, cl.CommandReadBufferRect, blocking, wait, func() error {
		return transfer.Copy(dst, hr, m.data, br)
	})
}

func (rt *Runtime) WriteBufferRect(qo compute.Queue, mo compute.Mem, blocking bool, r compute.Rect, src []byte, wait []compute.Event) (compute.Event, error) {
	q, m, err := target(qo, mo, asBuffer)
	if err != nil {
		return nil, err
	}
	br, hr, err := rectRegions(r, m.size(), uint64(len(src)))
	if err != nil {
		return nil, err
	}
	if err := hostWritable(m); err != nil {
		return nil, err
	}
	return rt.enqueue(q, cl.CommandWriteBufferRect, blocking, wait, func() error {
		return transfer.Copy(m.data, br, src, hr)
	})
}

func validPattern(n int) bool {
	switch n {
	case 1, 2, 4, 8, 16, 32, 64, 128:
		return true
	}
	return false
}

func (rt *Runtime) FillBuffer(qo compute.Queue, mo compute.Mem, pattern []byte, offset, size uint64, wait []compute.Event) (compute.Event, error) {
	q, m, err := target(qo, mo, asBuffer)
	if err != nil {
		return nil, err
	}
	if !validPattern(len(pattern)) {
		return nil, cl.InvalidValue
	}
	n := uint64(len(pattern))
	if offset%n != 0 || size%n != 0 {
		return nil, cl.InvalidValue
	}
	if err := checkRange(m, offset, size); err != nil {
		return nil, err
	}
	pattern = append([]byte(nil), pattern...)
	return rt.enqueue(q, cl.CommandFillBuffer, false, wait, func() error {
		for at := offset; at < offset+size; at += n {
			copy(m.data[at:at+n], pattern)
		}
		return nil
	})
}

func overlap(aLo, aHi, bLo, bHi uint64) bool { return aLo < bHi && bLo < aHi }

func (rt *Runtime) CopyBuffer(qo compute.Queue, so, do compute.Mem, srcOffset, dstOffset, size uint64, wait []compute.Event) (compute.Event, error) {
	q, src, err := target(qo, so, asBuffer)
	if err != nil {
		return nil, err
	}
	_, dst, err := target(qo, do, asBuffer)
	if err != nil {
		return nil, err
	}
	if err := checkRange(src, srcOffset, size); err != nil {
		return nil, err
	}
	if err := checkRange(dst, dstOffset, size); err != nil {
		return nil, err
	}
	sr, so0 := src.root()
	dr, do0 := dst.root()
	if sr == dr && overlap(so0+srcOffset, so0+srcOffset+size, do0+dstOffset, do0+dstOffset+size) {
		return nil, cl.MemCopyOverlap
	}
	return rt.enqueue(q, cl.CommandCopyBuffer, false, wait, func() error {
		copy(dst.data[dstOffset:dstOffset+size], src.data[srcOffset:srcOffset+size])
		return nil
	})
}

// CopyBufferRect copies between two buffers. The host fields of r describe
// the destination buffer.
func (rt *Runtime) CopyBufferRect(qo compute.Queue, so, do compute.Mem, r compute.Rect, wait []compute.Event) (compute.Event, error) {
	q, src, err := target(qo, so, asBuffer)
	if err != nil {
		return nil, err
	}
	_, dst, err := target(qo, do, asBuffer)
	if err != nil {
		return nil, err
	}
	sreg, dreg, err := rectRegions(r, src.size(), dst.size())
	if err != nil {
		return nil, err
	}
	sr, so0 := src.root()
	dr, do0 := dst.root()
	if sr == dr {
		slo, shi := sreg.Span()
		dlo, dhi := dreg.Span()
		if overlap(so0+slo, so0+shi, do0+dlo, do0+dhi) {
			return nil, cl.MemCopyOverlap
		}
	}
	return rt.enqueue(q, cl.CommandCopyBufferRect, false, wait, func() error {
		return transfer.Copy(dst.data, dreg, src.data, sreg)
	})
}

// box returns the dense storage region of an image box.
func (m *mem) box(origin, region [3]uint64) (transfer.Region, error) {
	for i := 0; i < 3; i++ {
		if region[i] == 0 || region[i] > m.dims[i] || origin[i] > m.dims[i]-region[i] {
			return transfer.Region{}, cl.InvalidValue
		}
	}
	return transfer.Region{
		Origin:     [3]uint64{origin[0] * m.elem, origin[1], origin[2]},
		Size:       [3]uint64{region[0] * m.elem, region[1], region[2]},
		RowPitch:   m.row,
		SlicePitch: m.slice,
	}, nil
}

func imageHost(m *mem, region [3]uint64, rowPitch, slicePitch uint64, hostLen int) (transfer.Region, error) {
	hr, err := transfer.ImageHostRegion(region, m.elem, rowPitch, slicePitch)
	if err != nil {
		return hr, err
	}
	if hr.Extent() > uint64(hostLen) {
		return hr, cl.InvalidValue
	}
	return hr, nil
}

func (rt *Runtime) ReadImage(qo compute.Queue, io compute.Mem, blocking bool, origin, region [3]uint64, rowPitch, slicePitch uint64, dst []byte, wait []compute.Event) (compute.Event, error) {
	q, m, err := target(qo, io, asImage)
	if err != nil {
		return nil, err
	}
	ir, err := m.box(origin, region)
	if err != nil {
		return nil, err
	}
	hr, err := imageHost(m, region, rowPitch, slicePitch, len(dst))
	if err != nil {
		return nil, err
	}
	if err := hostReadable(m); err != nil {
		return nil, err
	}
	return rt.enqueue(q, cl.CommandReadImage, blocking, wait, func() error {
		return transfer.Copy(dst, hr, m.data, ir)
	})
}

func (rt *Runtime) WriteImage(qo compute.Queue, io compute.Mem, blocking bool, origin, region [3]uint64, rowPitch, slicePitch uint64, src []byte, wait []compute.Event) (compute.Event, error) {
	q, m, err := target(qo, io, asImage)
	if err != nil {
		return nil, err
	}
	ir, err := m.box(origin, region)
	if err != nil {
		return nil, err
	}
	hr, err := imageHost(m, region, rowPitch, slicePitch, len(src))
	if err != nil {
		return nil, err
	}
	if err := hostWritable(m); err != nil {
		return nil, err
	}
	return rt.enqueue(q, cl.CommandWriteImage, blocking, wait, func() error {
		return transfer.Copy(m.data, ir, src, hr)
	})
}

func (rt *Runtime) FillImage(qo compute.Queue, io compute.Mem, color [16]byte, origin, region [3]uint64, wait []compute.Event) (compute.Event, error) {
	q, m, err := target(qo, io, asImage)
	if err != nil {
		return nil, err
	}
	ir, err := m.box(origin, region)
	if err != nil {
		return nil, err
	}
	pixel, err := encodePixel(m.format, color)
	if err != nil {
		return nil, err
	}
	return rt.enqueue(q, cl.CommandFillImage, false, wait, func() error {
		row := make([]byte, ir.Size[0])
		for at := 0; at < len(row); at += len(pixel) {
			copy(row[at:], pixel)
		}
		for z := uint64(0); z < ir.Size[2]; z++ {
			for y := uint64(0); y < ir.Size[1]; y++ {
				off := (ir.Origin[2]+z)*ir.SlicePitch + (ir.Origin[1]+y)*ir.RowPitch + ir.Origin[0]
				copy(m.data[off:off+ir.Size[0]], row)
			}
		}
		return nil
	})
}

func (rt *Runtime) CopyImage(qo compute.Queue, so, do compute.Mem, srcOrigin, dstOrigin, region [3]uint64, wait []compute.Event) (compute.Event, error) {
	q, src, err := target(qo, so, asImage)
	if err != nil {
		return nil, err
	}
	_, dst, err := target(qo, do, asImage)
	if err != nil {
		return nil, err
	}
	if src.format != dst.format {
		return nil, cl.ImageFormatMismatch
	}
	sr, err := src.box(srcOrigin, region)
	if err != nil {
		return nil, err
	}
	dr, err := dst.box(dstOrigin, region)
	if err != nil {
		return nil, err
	}
	if src == dst {
		clash := true
		for i := 0; i < 3; i++ {
			if !overlap(srcOrigin[i], srcOrigin[i]+region[i], dstOrigin[i], dstOrigin[i]+region[i]) {
				clash = false
			}
		}
		if clash {
			return nil, cl.MemCopyOverlap
		}
	}
	return rt.enqueue(q, cl.CommandCopyImage, false, wait, func() error {
		return transfer.Copy(dst.data, dr, src.data, sr)
	})
}

func (rt *Runtime) CopyImageToBuffer(qo compute.Queue, so, do compute.Mem, srcOrigin, region [3]uint64, dstOffset uint64, wait []compute.Event) (compute.Event, error) {
	q, src, err := target(qo, so, asImage)
	if err != nil {
		return nil, err
	}
	_, dst, err := target(qo, do, asBuffer)
	if err != nil {
		return nil, err
	}
	sr, err := src.box(srcOrigin, region)
	if err != nil {
		return nil, err
	}
	dr := sr.Dense()
	dr.Origin[0] = dstOffset
	if err := checkRange(dst, dstOffset, dr.DenseSize()); err != nil {
		return nil, err
	}
	return rt.enqueue(q, cl.CommandCopyImageToBuffer, false, wait, func() error {
		return transfer.Copy(dst.data, dr, src.data, sr)
	})
}

func (rt *Runtime) CopyBufferToImage(qo compute.Queue, so, do compute.Mem, srcOffset uint64, dstOrigin, region [3]uint64, wait []compute.Event) (compute.Event, error) {
	q, src, err := target(qo, so, asBuffer)
	if err != nil {
		return nil, err
	}
	_, dst, err := target(qo, do, asImage)
	if err != nil {
		return nil, err
	}
	dr, err := dst.box(dstOrigin, region)
	if err != nil {
		return nil, err
	}
	sr := dr.Dense()
	sr.Origin[0] = srcOffset
	if err := checkRange(src, srcOffset, sr.DenseSize()); err != nil {
		return nil, err
	}
	return rt.enqueue(q, cl.CommandCopyBufferToImage, false, wait, func() error {
		return transfer.Copy(dst.data, dr, src.data, sr)
	})
}

func (rt *Runtime) MigrateMemObjects(qo compute.Queue, mems []compute.Mem, flags uint64, wait []compute.Event) (compute.Event, error) {
	q, err := asQueue(qo)
	if err != nil {
		return nil, err
	}
	if len(mems) == 0 || flags&^(cl.MigrateMemObjectHost|cl.MigrateMemObjectContentUndefined) != 0 {
		return nil, cl.InvalidValue
	}
	for _, mo := range mems {
		if _, _, err := target(qo, mo, asMem); err != nil {
			return nil, err
		}
	}
	return rt.enqueue(q, cl.CommandMigrateMemObjects, false, wait, nil)
}
