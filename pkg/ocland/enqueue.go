package ocland

import (
	"context"
	"net"
	"strconv"

	"github.com/fxnlabs/ocland/internal/cl"
	"github.com/fxnlabs/ocland/internal/handles"
	"github.com/fxnlabs/ocland/internal/transfer"
	"github.com/fxnlabs/ocland/internal/wire"
)

// Enqueue methods take the command's wait list and an optional event
// pointer; a nil pointer means the caller does not want the event.

// command is the resolved queue, mem objects and wait list of an enqueue
// call. They all live on one server.
type command struct {
	q     CommandQueue
	srv   *Server
	queue uint64
	mems  []uint64
	wait  []uint64
}

func (c *Client) command(q CommandQueue, wait []Event, mems ...Mem) (command, error) {
	srv, qpeer, err := c.lookup(cl.KindQueue, handles.Handle(q))
	if err != nil {
		return command{}, err
	}
	mpeers, err := peersOn(c, srv, cl.KindMem, mems, cl.InvalidMemObject)
	if err != nil {
		return command{}, err
	}
	wpeers, err := peersOn(c, srv, cl.KindEvent, wait, cl.InvalidEventWaitList)
	if err != nil {
		return command{}, err
	}
	return command{q: q, srv: srv, queue: qpeer, mems: mpeers, wait: wpeers}, nil
}

func putWait(w *wire.Writer, want bool, wait []uint64) {
	w.PutBool(want)
	w.PutU32(uint32(len(wait)))
	w.PutU64s(wait)
}

func putTriple(w *wire.Writer, v [3]uint64) {
	w.PutU64(v[0])
	w.PutU64(v[1])
	w.PutU64(v[2])
}

// setEvent mints the handle of a command's event when the caller asked for
// it.
func (c *Client) setEvent(srv *Server, peer uint64, event *Event) (Event, error) {
	if event == nil {
		return 0, nil
	}
	h, err := c.mint(cl.KindEvent, srv, peer)
	if err != nil {
		return 0, err
	}
	*event = Event(h)
	return *event, nil
}

// enqueue forwards a command that moves no payload.
func (c *Client) enqueue(cmd command, op cl.Opcode, event *Event, args func(w *wire.Writer)) error {
	want := event != nil
	var peer uint64
	err := cmd.srv.call(op, func(w *wire.Writer) {
		w.PutU64(cmd.queue)
		if args != nil {
			args(w)
		}
		putWait(w, want, cmd.wait)
	}, func(r *wire.Reader) error {
		if want {
			peer = r.U64()
		}
		return nil
	})
	if err != nil {
		return err
	}
	_, err = c.setEvent(cmd.srv, peer, event)
	return err
}

func (c *Client) sideAddr(srv *Server, port uint32) string {
	return net.JoinHostPort(srv.host, strconv.FormatUint(uint64(port), 10))
}

// read forwards a command that produces size dense bytes. apply moves them
// into the caller's memory. Blocking reads carry the payload in the reply;
// the others get it over a side connection after the call returned.
func (c *Client) read(cmd command, op cl.Opcode, blocking bool, size uint64, event *Event, args func(w *wire.Writer), apply func(dense []byte) error) error {
	want := event != nil
	inline := transfer.Decide(blocking) == transfer.Inline
	var (
		peer     uint64
		port     uint32
		applyErr error
	)
	err := cmd.srv.call(op, func(w *wire.Writer) {
		w.PutU64(cmd.queue)
		args(w)
		putWait(w, want, cmd.wait)
	}, func(r *wire.Reader) error {
		if want {
			peer = r.U64()
		}
		if !inline {
			port = r.U32()
			return nil
		}
		data := r.Blob()
		if r.Err() != nil {
			return nil
		}
		if uint64(len(data)) != size {
			applyErr = cl.InvalidValue
			return nil
		}
		applyErr = apply(data)
		return nil
	})
	if err != nil {
		return err
	}
	ev, err := c.setEvent(cmd.srv, peer, event)
	if err != nil {
		return err
	}
	if inline {
		return applyErr
	}

	task := transfer.StartWithInterval(c.ctx, c.log, transfer.Download, c.sideAddr(cmd.srv, port), c.opts.Wire, c.opts.RetryInterval,
		func(ctx context.Context, conn *wire.Conn) (int, error) {
			data := conn.Blob()
			if err := conn.Err(); err != nil {
				return 0, err
			}
			if uint64(len(data)) != size {
				return len(data), cl.InvalidValue
			}
			return len(data), apply(data)
		})
	c.track(cmd.q, ev, task)
	return nil
}

// write forwards a command that consumes the dense payload.
func (c *Client) write(cmd command, op cl.Opcode, blocking bool, dense []byte, event *Event, args func(w *wire.Writer)) error {
	want := event != nil
	inline := transfer.Decide(blocking) == transfer.Inline
	var (
		peer uint64
		port uint32
	)
	err := cmd.srv.call(op, func(w *wire.Writer) {
		w.PutU64(cmd.queue)
		args(w)
		putWait(w, want, cmd.wait)
		if inline {
			w.PutBlob(dense)
		}
	}, func(r *wire.Reader) error {
		if want {
			peer = r.U64()
		}
		if !inline {
			port = r.U32()
		}
		return nil
	})
	if err != nil {
		return err
	}
	ev, err := c.setEvent(cmd.srv, peer, event)
	if err != nil || inline {
		return err
	}

	task := transfer.StartWithInterval(c.ctx, c.log, transfer.Upload, c.sideAddr(cmd.srv, port), c.opts.Wire, c.opts.RetryInterval,
		func(ctx context.Context, conn *wire.Conn) (int, error) {
			conn.PutBlob(dense)
			if err := conn.Flush(); err != nil {
				return 0, err
			}
			return len(dense), nil
		})
	c.track(cmd.q, ev, task)
	return nil
}

// EnqueueReadBuffer reads len(dst) bytes at offset of m. A non-blocking read
// fills dst once the command's event (or Finish) reports completion.
func (c *Client) EnqueueReadBuffer(q CommandQueue, m Mem, blocking bool, offset uint64, dst []byte, wait []Event, event *Event) error {
	cmd, err := c.command(q, wait, m)
	if err != nil {
		return err
	}
	size := uint64(len(dst))
	return c.read(cmd, cl.OpEnqueueReadBuffer, blocking, size, event, func(w *wire.Writer) {
		w.PutU64(cmd.mems[0])
		w.PutBool(blocking)
		w.PutU64(offset)
		w.PutU64(size)
	}, func(dense []byte) error {
		copy(dst, dense)
		return nil
	})
}

// EnqueueWriteBuffer writes src at offset of m. src is copied before the call
// returns.
func (c *Client) EnqueueWriteBuffer(q CommandQueue, m Mem, blocking bool, offset uint64, src []byte, wait []Event, event *Event) error {
	cmd, err := c.command(q, wait, m)
	if err != nil {
		return err
	}
	dense := append([]byte(nil), src...)
	return c.write(cmd, cl.OpEnqueueWriteBuffer, blocking, dense, event, func(w *wire.Writer) {
		w.PutU64(cmd.mems[0])
		w.PutBool(blocking)
		w.PutU64(offset)
		w.PutU64(uint64(len(dense)))
	})
}

// Rect describes both sides of a rectangular transfer. Origins and pitches
// follow the API: Origin[0] and Region[0] are bytes, zero pitches take their
// tight defaults.
type Rect struct {
	BufferOrigin     [3]uint64
	HostOrigin       [3]uint64
	Region           [3]uint64
	BufferRowPitch   uint64
	BufferSlicePitch uint64
	HostRowPitch     uint64
	HostSlicePitch   uint64
}

func (r Rect) regions() (buffer, host transfer.Region, err error) {
	buffer, err = transfer.Region{
		Origin:     r.BufferOrigin,
		Size:       r.Region,
		RowPitch:   r.BufferRowPitch,
		SlicePitch: r.BufferSlicePitch,
	}.Normalize()
	if err != nil {
		return
	}
	host, err = transfer.Region{
		Origin:     r.HostOrigin,
		Size:       r.Region,
		RowPitch:   r.HostRowPitch,
		SlicePitch: r.HostSlicePitch,
	}.Normalize()
	return
}

func putBufferRegion(w *wire.Writer, b transfer.Region) {
	putTriple(w, b.Origin)
	putTriple(w, b.Size)
	w.PutU64(b.RowPitch)
	w.PutU64(b.SlicePitch)
}

// EnqueueReadBufferRect reads a box of m into the pitched host memory dst.
func (c *Client) EnqueueReadBufferRect(q CommandQueue, m Mem, blocking bool, rect Rect, dst []byte, wait []Event, event *Event) error {
	cmd, err := c.command(q, wait, m)
	if err != nil {
		return err
	}
	buffer, host, err := rect.regions()
	if err != nil {
		return err
	}
	if uint64(len(dst)) < host.Extent() {
		return cl.InvalidValue
	}
	return c.read(cmd, cl.OpEnqueueReadBufferRect, blocking, host.DenseSize(), event, func(w *wire.Writer) {
		w.PutU64(cmd.mems[0])
		w.PutBool(blocking)
		putBufferRegion(w, buffer)
	}, func(dense []byte) error {
		return host.Unpack(dense, dst)
	})
}

// EnqueueWriteBufferRect writes a box of the pitched host memory src into m.
func (c *Client) EnqueueWriteBufferRect(q CommandQueue, m Mem, blocking bool, rect Rect, src []byte, wait []Event, event *Event) error {
	cmd, err := c.command(q, wait, m)
	if err != nil {
		return err
	}
	buffer, host, err := rect.regions()
	if err != nil {
		return err
	}
	dense, err := host.Pack(src)
	if err != nil {
		return err
	}
	return c.write(cmd, cl.OpEnqueueWriteBufferRect, blocking, dense, event, func(w *wire.Writer) {
		w.PutU64(cmd.mems[0])
		w.PutBool(blocking)
		putBufferRegion(w, buffer)
	})
}

// EnqueueReadImage reads a box of pixels into dst, laid out with the given
// pitches.
func (c *Client) EnqueueReadImage(q CommandQueue, image Mem, blocking bool, origin, region [3]uint64, rowPitch, slicePitch uint64, dst []byte, wait []Event, event *Event) error {
	cmd, err := c.command(q, wait, image)
	if err != nil {
		return err
	}
	elem, err := c.elementSize(image)
	if err != nil {
		return err
	}
	host, err := transfer.ImageHostRegion(region, elem, rowPitch, slicePitch)
	if err != nil {
		return err
	}
	if uint64(len(dst)) < host.Extent() {
		return cl.InvalidValue
	}
	return c.read(cmd, cl.OpEnqueueReadImage, blocking, host.DenseSize(), event, func(w *wire.Writer) {
		w.PutU64(cmd.mems[0])
		w.PutBool(blocking)
		putTriple(w, origin)
		putTriple(w, region)
		w.PutU64(elem)
	}, func(dense []byte) error {
		return host.Unpack(dense, dst)
	})
}

func (c *Client) EnqueueWriteImage(q CommandQueue, image Mem, blocking bool, origin, region [3]uint64, rowPitch, slicePitch uint64, src []byte, wait []Event, event *Event) error {
	cmd, err := c.command(q, wait, image)
	if err != nil {
		return err
	}
	elem, err := c.elementSize(image)
	if err != nil {
		return err
	}
	host, err := transfer.ImageHostRegion(region, elem, rowPitch, slicePitch)
	if err != nil {
		return err
	}
	dense, err := host.Pack(src)
	if err != nil {
		return err
	}
	return c.write(cmd, cl.OpEnqueueWriteImage, blocking, dense, event, func(w *wire.Writer) {
		w.PutU64(cmd.mems[0])
		w.PutBool(blocking)
		putTriple(w, origin)
		putTriple(w, region)
		w.PutU64(elem)
	})
}

// EnqueueFillBuffer repeats pattern over size bytes at offset.
func (c *Client) EnqueueFillBuffer(q CommandQueue, m Mem, pattern []byte, offset, size uint64, wait []Event, event *Event) error {
	cmd, err := c.command(q, wait, m)
	if err != nil {
		return err
	}
	n := uint64(len(pattern))
	if n == 0 || offset%n != 0 || size%n != 0 {
		return cl.InvalidValue
	}
	return c.enqueue(cmd, cl.OpEnqueueFillBuffer, event, func(w *wire.Writer) {
		w.PutU64(cmd.mems[0])
		w.PutBytes(pattern)
		w.PutU64(offset)
		w.PutU64(size)
	})
}

// EnqueueFillImage fills a box of pixels with color, given as four 32-bit
// channels.
func (c *Client) EnqueueFillImage(q CommandQueue, image Mem, color [16]byte, origin, region [3]uint64, wait []Event, event *Event) error {
	cmd, err := c.command(q, wait, image)
	if err != nil {
		return err
	}
	return c.enqueue(cmd, cl.OpEnqueueFillImage, event, func(w *wire.Writer) {
		w.PutU64(cmd.mems[0])
		w.PutRaw(color[:])
		putTriple(w, origin)
		putTriple(w, region)
	})
}

func (c *Client) EnqueueCopyBuffer(q CommandQueue, src, dst Mem, srcOffset, dstOffset, size uint64, wait []Event, event *Event) error {
	cmd, err := c.command(q, wait, src, dst)
	if err != nil {
		return err
	}
	return c.enqueue(cmd, cl.OpEnqueueCopyBuffer, event, func(w *wire.Writer) {
		w.PutU64(cmd.mems[0])
		w.PutU64(cmd.mems[1])
		w.PutU64(srcOffset)
		w.PutU64(dstOffset)
		w.PutU64(size)
	})
}

// EnqueueCopyBufferRect copies a box between buffers. The host fields of
// rect describe the destination buffer.
func (c *Client) EnqueueCopyBufferRect(q CommandQueue, src, dst Mem, rect Rect, wait []Event, event *Event) error {
	cmd, err := c.command(q, wait, src, dst)
	if err != nil {
		return err
	}
	from, to, err := rect.regions()
	if err != nil {
		return err
	}
	return c.enqueue(cmd, cl.OpEnqueueCopyBufferRect, event, func(w *wire.Writer) {
		w.PutU64(cmd.mems[0])
		w.PutU64(cmd.mems[1])
		putTriple(w, from.Origin)
		putTriple(w, to.Origin)
		putTriple(w, from.Size)
		w.PutU64(from.RowPitch)
		w.PutU64(from.SlicePitch)
		w.PutU64(to.RowPitch)
		w.PutU64(to.SlicePitch)
	})
}

func (c *Client) EnqueueCopyImage(q CommandQueue, src, dst Mem, srcOrigin, dstOrigin, region [3]uint64, wait []Event, event *Event) error {
	cmd, err := c.command(q, wait, src, dst)
	if err != nil {
		return err
	}
	return c.enqueue(cmd, cl.OpEnqueueCopyImage, event, func(w *wire.Writer) {
		w.PutU64(cmd.mems[0])
		w.PutU64(cmd.mems[1])
		putTriple(w, srcOrigin)
		putTriple(w, dstOrigin)
		putTriple(w, region)
	})
}

func (c *Client) EnqueueCopyImageToBuffer(q CommandQueue, src, dst Mem, srcOrigin, region [3]uint64, dstOffset uint64, wait []Event, event *Event) error {
	cmd, err := c.command(q, wait, src, dst)
	if err != nil {
		return err
	}
	return c.enqueue(cmd, cl.OpEnqueueCopyImageToBuffer, event, func(w *wire.Writer) {
		w.PutU64(cmd.mems[0])
		w.PutU64(cmd.mems[1])
		putTriple(w, srcOrigin)
		putTriple(w, region)
		w.PutU64(dstOffset)
	})
}

func (c *Client) EnqueueCopyBufferToImage(q CommandQueue, src, dst Mem, srcOffset uint64, dstOrigin, region [3]uint64, wait []Event, event *Event) error {
	cmd, err := c.command(q, wait, src, dst)
	if err != nil {
		return err
	}
	return c.enqueue(cmd, cl.OpEnqueueCopyBufferToImage, event, func(w *wire.Writer) {
		w.PutU64(cmd.mems[0])
		w.PutU64(cmd.mems[1])
		w.PutU64(srcOffset)
		putTriple(w, dstOrigin)
		putTriple(w, region)
	})
}

// EnqueueNDRangeKernel runs k over a workDim-dimensional range. offset and
// local may be nil.
func (c *Client) EnqueueNDRangeKernel(q CommandQueue, k Kernel, workDim uint32, offset, global, local []uint64, wait []Event, event *Event) error {
	cmd, err := c.command(q, wait)
	if err != nil {
		return err
	}
	kpeer, err := c.peerOn(cmd.srv, cl.KindKernel, handles.Handle(k), cl.InvalidKernel)
	if err != nil || k == 0 {
		return cl.InvalidKernel
	}
	if workDim < 1 || workDim > 3 {
		return cl.InvalidWorkDimension
	}
	if len(global) != int(workDim) {
		return cl.InvalidWorkGroupSize
	}
	if offset != nil && len(offset) != int(workDim) {
		return cl.InvalidGlobalOffset
	}
	if local != nil && len(local) != int(workDim) {
		return cl.InvalidWorkGroupSize
	}
	return c.enqueue(cmd, cl.OpEnqueueNDRangeKernel, event, func(w *wire.Writer) {
		w.PutU64(kpeer)
		w.PutU32(workDim)
		w.PutBool(offset != nil)
		w.PutBool(local != nil)
		if offset != nil {
			w.PutU64s(offset)
		}
		w.PutU64s(global)
		if local != nil {
			w.PutU64s(local)
		}
	})
}

// EnqueueTask runs k as a single work item.
func (c *Client) EnqueueTask(q CommandQueue, k Kernel, wait []Event, event *Event) error {
	return c.EnqueueNDRangeKernel(q, k, 1, nil, []uint64{1}, []uint64{1}, wait, event)
}

func (c *Client) EnqueueMarkerWithWaitList(q CommandQueue, wait []Event, event *Event) error {
	cmd, err := c.command(q, wait)
	if err != nil {
		return err
	}
	return c.enqueue(cmd, cl.OpEnqueueMarkerWithWaitList, event, nil)
}

func (c *Client) EnqueueBarrierWithWaitList(q CommandQueue, wait []Event, event *Event) error {
	cmd, err := c.command(q, wait)
	if err != nil {
		return err
	}
	return c.enqueue(cmd, cl.OpEnqueueBarrierWithWaitList, event, nil)
}

// EnqueueMarker is the pre-1.2 marker: it completes after every earlier
// command of q.
func (c *Client) EnqueueMarker(q CommandQueue, event *Event) error {
	if event == nil {
		return cl.InvalidValue
	}
	return c.EnqueueMarkerWithWaitList(q, nil, event)
}

func (c *Client) EnqueueBarrier(q CommandQueue) error {
	return c.EnqueueBarrierWithWaitList(q, nil, nil)
}

// EnqueueWaitForEvents makes later commands of q wait for events.
func (c *Client) EnqueueWaitForEvents(q CommandQueue, events []Event) error {
	if len(events) == 0 {
		return cl.InvalidValue
	}
	err := c.EnqueueBarrierWithWaitList(q, events, nil)
	if cl.StatusOf(err) == cl.InvalidEventWaitList {
		return cl.InvalidEvent
	}
	return err
}

// EnqueueMigrateMemObjects moves mems to the device of q, or to the host with
// cl.MigrateMemObjectHost.
func (c *Client) EnqueueMigrateMemObjects(q CommandQueue, mems []Mem, flags uint64, wait []Event, event *Event) error {
	if len(mems) == 0 || flags&^(cl.MigrateMemObjectHost|cl.MigrateMemObjectContentUndefined) != 0 {
		return cl.InvalidValue
	}
	cmd, err := c.command(q, wait, mems...)
	if err != nil {
		return err
	}
	return c.enqueue(cmd, cl.OpEnqueueMigrateMemObjects, event, func(w *wire.Writer) {
		w.PutU32(uint32(len(cmd.mems)))
		w.PutU64s(cmd.mems)
		w.PutU64(flags)
	})
}
