package transfer

import (
	"math/bits"

	"github.com/fxnlabs/ocland/internal/cl"
)

// Region describes a 3D box inside pitched host memory. Origin[0] and Size[0]
// are in bytes; the other axes count rows and slices.
type Region struct {
	Origin     [3]uint64
	Size       [3]uint64
	RowPitch   uint64
	SlicePitch uint64
}

// Normalize fills zero pitches with their tight defaults and validates the
// result. A region whose extent does not fit in a uint64 is rejected, so
// offsets computed from a normalized region never wrap.
func (r Region) Normalize() (Region, error) {
	if r.Size[0] == 0 || r.Size[1] == 0 || r.Size[2] == 0 {
		return r, cl.InvalidValue
	}
	var a arith
	if r.RowPitch == 0 {
		r.RowPitch = r.Size[0]
	}
	if r.SlicePitch == 0 {
		r.SlicePitch = a.mul(r.Size[1], r.RowPitch)
	}
	if r.RowPitch < r.Size[0] {
		return r, cl.InvalidValue
	}
	if r.SlicePitch < a.mul(r.Size[1], r.RowPitch) || r.SlicePitch%r.RowPitch != 0 {
		return r, cl.InvalidValue
	}
	if _, ok := r.extent(); !ok || a.overflow {
		return r, cl.InvalidValue
	}
	return r, nil
}

// arith accumulates overflow across a chain of uint64 operations.
type arith struct{ overflow bool }

func (a *arith) add(x, y uint64) uint64 {
	sum, carry := bits.Add64(x, y, 0)
	a.overflow = a.overflow || carry != 0
	return sum
}

func (a *arith) mul(x, y uint64) uint64 {
	hi, lo := bits.Mul64(x, y)
	a.overflow = a.overflow || hi != 0
	return lo
}

// extent is Extent with overflow reported instead of wrapped.
func (r Region) extent() (uint64, bool) {
	if r.Size[0] == 0 || r.Size[1] == 0 || r.Size[2] == 0 {
		return 0, false
	}
	var a arith
	slices := a.mul(a.add(r.Origin[2], r.Size[2]-1), r.SlicePitch)
	rows := a.mul(a.add(r.Origin[1], r.Size[1]-1), r.RowPitch)
	n := a.add(a.add(slices, rows), a.add(r.Origin[0], r.Size[0]))
	return n, !a.overflow
}

// DenseSize is the byte count of the region with no padding.
func (r Region) DenseSize() uint64 {
	return r.Size[0] * r.Size[1] * r.Size[2]
}

// Extent is the smallest host buffer length that contains the region. Only
// meaningful for a normalized region.
func (r Region) Extent() uint64 {
	n, _ := r.extent()
	return n
}

func (r Region) offset(row, slice uint64) uint64 {
	return (r.Origin[2]+slice)*r.SlicePitch + (r.Origin[1]+row)*r.RowPitch + r.Origin[0]
}

// fits reports whether the region lies inside a buffer of n bytes.
func (r Region) fits(n int) bool {
	ext, ok := r.extent()
	return ok && ext <= uint64(n)
}

// Dense returns the tight layout of the same box at the origin, which is how
// regions travel on the wire.
func (r Region) Dense() Region {
	return Region{
		Size:       r.Size,
		RowPitch:   r.Size[0],
		SlicePitch: r.Size[0] * r.Size[1],
	}
}

// Pack gathers the region out of host memory into a dense buffer.
func (r Region) Pack(host []byte) ([]byte, error) {
	r, err := r.Normalize()
	if err != nil {
		return nil, err
	}
	if !r.fits(len(host)) {
		return nil, cl.InvalidValue
	}
	dense := make([]byte, r.DenseSize())
	row := r.Size[0]
	var at uint64
	for z := uint64(0); z < r.Size[2]; z++ {
		for y := uint64(0); y < r.Size[1]; y++ {
			off := r.offset(y, z)
			copy(dense[at:at+row], host[off:off+row])
			at += row
		}
	}
	return dense, nil
}

// Unpack scatters a dense buffer into the region of host memory.
func (r Region) Unpack(dense, host []byte) error {
	r, err := r.Normalize()
	if err != nil {
		return err
	}
	if !r.fits(len(host)) || uint64(len(dense)) != r.DenseSize() {
		return cl.InvalidValue
	}
	row := r.Size[0]
	var at uint64
	for z := uint64(0); z < r.Size[2]; z++ {
		for y := uint64(0); y < r.Size[1]; y++ {
			off := r.offset(y, z)
			copy(host[off:off+row], dense[at:at+row])
			at += row
		}
	}
	return nil
}

// Copy moves the box described by sr out of src into the box described by dr
// in dst. Both regions must have the same size.
func Copy(dst []byte, dr Region, src []byte, sr Region) error {
	if dr.Size != sr.Size {
		return cl.InvalidValue
	}
	dr, err := dr.Normalize()
	if err != nil {
		return err
	}
	if sr, err = sr.Normalize(); err != nil {
		return err
	}
	if !dr.fits(len(dst)) || !sr.fits(len(src)) {
		return cl.InvalidValue
	}
	row := sr.Size[0]
	for z := uint64(0); z < sr.Size[2]; z++ {
		for y := uint64(0); y < sr.Size[1]; y++ {
			do, so := dr.offset(y, z), sr.offset(y, z)
			copy(dst[do:do+row], src[so:so+row])
		}
	}
	return nil
}

// Span returns the first and one-past-last byte offsets the region touches.
func (r Region) Span() (lo, hi uint64) {
	return r.offset(0, 0), r.Extent()
}

// ImageHostRegion describes the host side of an image transfer. The box is
// measured in pixels; host memory always starts at the box origin. The
// result is normalized.
func ImageHostRegion(region [3]uint64, elemSize, rowPitch, slicePitch uint64) (Region, error) {
	hi, width := bits.Mul64(region[0], elemSize)
	if hi != 0 {
		return Region{}, cl.InvalidValue
	}
	return Region{
		Size:       [3]uint64{width, region[1], region[2]},
		RowPitch:   rowPitch,
		SlicePitch: slicePitch,
	}.Normalize()
}
