package ocland

import (
	"github.com/fxnlabs/ocland/internal/cl"
	"github.com/fxnlabs/ocland/internal/handles"
	"github.com/fxnlabs/ocland/internal/wire"
)

// ImageFormat is a channel order and data type pair.
type ImageFormat struct {
	ChannelOrder    uint32
	ChannelDataType uint32
}

// ImageDesc describes the geometry of an image. Buffer names the buffer an
// IMAGE1D_BUFFER image is created from.
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

// checkHostFlags rejects host pointer modes that cannot work across the
// network. Only COPY_HOST_PTR is honored, and it needs host data.
func checkHostFlags(flags uint64, host []byte) error {
	if flags&(cl.MemUseHostPtr|cl.MemAllocHostPtr) != 0 {
		return cl.InvalidValue
	}
	if (len(host) > 0) != (flags&cl.MemCopyHostPtr != 0) {
		return cl.InvalidHostPtr
	}
	return nil
}

// CreateBuffer creates a buffer of size bytes, initialized from host when
// flags carries COPY_HOST_PTR.
func (c *Client) CreateBuffer(ctx Context, flags, size uint64, host []byte) (Mem, error) {
	srv, cpeer, err := c.lookup(cl.KindContext, handles.Handle(ctx))
	if err != nil {
		return 0, err
	}
	if err := checkHostFlags(flags, host); err != nil {
		return 0, err
	}
	if size == 0 {
		return 0, cl.InvalidBufferSize
	}
	if host != nil {
		if uint64(len(host)) < size {
			return 0, cl.InvalidHostPtr
		}
		host = host[:size]
	}
	h, err := c.created(cl.KindMem, srv, cl.OpCreateBuffer, func(w *wire.Writer) {
		w.PutU64(cpeer)
		w.PutU64(flags)
		w.PutU64(size)
		w.PutBlob(host)
	})
	return Mem(h), err
}

// CreateSubBuffer creates a region of m. Only BUFFER_CREATE_TYPE_REGION
// exists.
func (c *Client) CreateSubBuffer(m Mem, flags uint64, createType uint32, origin, size uint64) (Mem, error) {
	srv, mpeer, err := c.lookup(cl.KindMem, handles.Handle(m))
	if err != nil {
		return 0, err
	}
	if flags&(cl.MemUseHostPtr|cl.MemAllocHostPtr|cl.MemCopyHostPtr) != 0 {
		return 0, cl.InvalidValue
	}
	h, err := c.created(cl.KindMem, srv, cl.OpCreateSubBuffer, func(w *wire.Writer) {
		w.PutU64(mpeer)
		w.PutU64(flags)
		w.PutU32(createType)
		w.PutU64(origin)
		w.PutU64(size)
	})
	return Mem(h), err
}

func (c *Client) CreateImage(ctx Context, flags uint64, format ImageFormat, desc ImageDesc, host []byte) (Mem, error) {
	srv, cpeer, err := c.lookup(cl.KindContext, handles.Handle(ctx))
	if err != nil {
		return 0, err
	}
	if err := checkHostFlags(flags, host); err != nil {
		return 0, err
	}
	bpeer, err := c.peerOn(srv, cl.KindMem, handles.Handle(desc.Buffer), cl.InvalidImageDescriptor)
	if err != nil {
		return 0, err
	}
	h, err := c.created(cl.KindMem, srv, cl.OpCreateImage, func(w *wire.Writer) {
		w.PutU64(cpeer)
		w.PutU64(flags)
		w.PutU32(format.ChannelOrder)
		w.PutU32(format.ChannelDataType)
		w.PutU32(desc.Type)
		w.PutU64(desc.Width)
		w.PutU64(desc.Height)
		w.PutU64(desc.Depth)
		w.PutU64(desc.ArraySize)
		w.PutU64(desc.RowPitch)
		w.PutU64(desc.SlicePitch)
		w.PutU32(desc.NumMipLevels)
		w.PutU32(desc.NumSamples)
		w.PutU64(bpeer)
		w.PutBlob(host)
	})
	return Mem(h), err
}

// CreateImage2D is the pre-1.2 entry point for 2D images.
func (c *Client) CreateImage2D(ctx Context, flags uint64, format ImageFormat, width, height, rowPitch uint64, host []byte) (Mem, error) {
	return c.CreateImage(ctx, flags, format, ImageDesc{
		Type:     cl.MemObjectImage2D,
		Width:    width,
		Height:   height,
		RowPitch: rowPitch,
	}, host)
}

// CreateImage3D is the pre-1.2 entry point for 3D images.
func (c *Client) CreateImage3D(ctx Context, flags uint64, format ImageFormat, width, height, depth, rowPitch, slicePitch uint64, host []byte) (Mem, error) {
	return c.CreateImage(ctx, flags, format, ImageDesc{
		Type:       cl.MemObjectImage3D,
		Width:      width,
		Height:     height,
		Depth:      depth,
		RowPitch:   rowPitch,
		SlicePitch: slicePitch,
	}, host)
}

func (c *Client) GetSupportedImageFormats(ctx Context, flags uint64, imageType uint32) ([]ImageFormat, error) {
	srv, cpeer, err := c.lookup(cl.KindContext, handles.Handle(ctx))
	if err != nil {
		return nil, err
	}
	var out []ImageFormat
	err = srv.call(cl.OpGetSupportedImageFormats, func(w *wire.Writer) {
		w.PutU64(cpeer)
		w.PutU64(flags)
		w.PutU32(imageType)
		w.PutU32(all)
	}, func(r *wire.Reader) error {
		out = readImageFormats(r)
		return nil
	})
	return out, err
}

// readImageFormats reads a counted format list. The count comes from the
// peer, so the slice grows with what actually arrives.
func readImageFormats(r *wire.Reader) []ImageFormat {
	var out []ImageFormat
	n := r.U32()
	for i := uint32(0); i < n && r.Err() == nil; i++ {
		f := ImageFormat{ChannelOrder: r.U32(), ChannelDataType: r.U32()}
		if r.Err() != nil {
			break
		}
		out = append(out, f)
	}
	return out
}

func (c *Client) RetainMemObject(m Mem) error {
	return c.retain(cl.KindMem, handles.Handle(m))
}

func (c *Client) ReleaseMemObject(m Mem) error {
	gone, err := c.release(cl.KindMem, handles.Handle(m))
	if err != nil || !gone {
		return err
	}
	c.mu.Lock()
	delete(c.elemSizes, m)
	c.mu.Unlock()
	return nil
}

func (c *Client) GetMemObjectInfo(m Mem, param uint32, size uint64) ([]byte, uint64, error) {
	return c.objectInfo(cl.KindMem, cl.OpGetMemObjectInfo, handles.Handle(m), param, size)
}

func (c *Client) GetImageInfo(m Mem, param uint32, size uint64) ([]byte, uint64, error) {
	return c.objectInfo(cl.KindMem, cl.OpGetImageInfo, handles.Handle(m), param, size)
}

// elementSize returns the pixel size of image m, cached for the life of the
// handle.
func (c *Client) elementSize(m Mem) (uint64, error) {
	c.mu.Lock()
	n, ok := c.elemSizes[m]
	c.mu.Unlock()
	if ok {
		return n, nil
	}
	v, _, err := c.GetImageInfo(m, cl.ImageElementSize, 8)
	if err != nil {
		return 0, err
	}
	n = Uint64(v)
	if n == 0 {
		return 0, cl.InvalidMemObject
	}
	c.mu.Lock()
	c.elemSizes[m] = n
	c.mu.Unlock()
	return n, nil
}

func (c *Client) CreateSampler(ctx Context, normalized bool, addressing, filter uint32) (Sampler, error) {
	srv, cpeer, err := c.lookup(cl.KindContext, handles.Handle(ctx))
	if err != nil {
		return 0, err
	}
	h, err := c.created(cl.KindSampler, srv, cl.OpCreateSampler, func(w *wire.Writer) {
		w.PutU64(cpeer)
		w.PutBool(normalized)
		w.PutU32(addressing)
		w.PutU32(filter)
	})
	return Sampler(h), err
}

func (c *Client) RetainSampler(s Sampler) error {
	return c.retain(cl.KindSampler, handles.Handle(s))
}

func (c *Client) ReleaseSampler(s Sampler) error {
	_, err := c.release(cl.KindSampler, handles.Handle(s))
	return err
}

func (c *Client) GetSamplerInfo(s Sampler, param uint32, size uint64) ([]byte, uint64, error) {
	return c.objectInfo(cl.KindSampler, cl.OpGetSamplerInfo, handles.Handle(s), param, size)
}
