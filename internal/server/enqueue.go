package server

import (
	"math/bits"
	"time"

	"github.com/fxnlabs/ocland/internal/cl"
	"github.com/fxnlabs/ocland/internal/compute"
	"github.com/fxnlabs/ocland/internal/metrics"
	"github.com/fxnlabs/ocland/internal/transfer"
	"github.com/fxnlabs/ocland/internal/wire"
	"go.uber.org/zap"
)

func (s *session) maxLength() uint64 {
	if s.srv.opts.Wire.MaxLength > 0 {
		return s.srv.opts.Wire.MaxLength
	}
	return wire.DefaultMaxLength
}

// denseSize is the byte count of a box of region with rows of elem-sized
// elements, bounded by the wire limit.
func (s *session) denseSize(region [3]uint64, elem uint64) (uint64, error) {
	n := elem
	for _, d := range region {
		hi, lo := bits.Mul64(n, d)
		if hi != 0 {
			return 0, cl.InvalidValue
		}
		n = lo
	}
	if n > s.maxLength() {
		return 0, cl.OutOfResources
	}
	return n, nil
}

// command resolves the queue, the mem objects and the wait list shared by
// every enqueue call.
func (s *session) command(qid uint64, w waitList, mids ...uint64) (compute.Queue, []compute.Mem, []compute.Event, error) {
	q, err := s.resolve(cl.KindQueue, qid)
	if err != nil {
		return nil, nil, nil, err
	}
	mems, err := s.resolveAll(cl.KindMem, mids)
	if err != nil {
		return nil, nil, nil, err
	}
	wait, err := s.events(w)
	if err != nil {
		return nil, nil, nil, err
	}
	return q, mems, wait, nil
}

// detach runs fn on the client's side connection once it arrives. finish
// always runs, with fn's error or the accept error.
func (s *session) detach(o *transfer.Offer, dir transfer.Direction, fn func(conn *wire.Conn) error, finish func(err error)) {
	metrics.DetachedTransfers.WithLabelValues(dir.String(), "started").Inc()
	start := time.Now()
	s.detached.Add(1)
	go func() {
		defer s.detached.Done()
		err := func() error {
			conn, err := o.Accept(s.ctx, s.srv.opts.AcceptTimeout, s.srv.opts.Wire)
			if err != nil {
				return err
			}
			defer conn.Close()
			return fn(conn)
		}()
		metrics.TransferDuration.WithLabelValues(dir.String()).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.DetachedTransfers.WithLabelValues(dir.String(), "failed").Inc()
			s.log.Warn("detached transfer failed",
				zap.String("direction", dir.String()),
				zap.Uint32("port", o.Port),
				zap.Error(err))
		}
		finish(err)
	}()
}

type readFunc func(dst []byte, blocking bool) (compute.Event, error)

// read runs a command that produces size bytes for the client. Blocking
// reads reply with the blob inline; the others announce a port and send the
// blob on the side connection once the command completed.
func (s *session) read(want, blocking bool, size uint64, enqueue readFunc) error {
	staging := make([]byte, size)
	if blocking {
		ev, err := enqueue(staging, true)
		if err != nil {
			return s.fail(err)
		}
		id, err := s.keepEvent(ev, want)
		if err != nil {
			return s.fail(err)
		}
		s.ok()
		if want {
			s.conn.PutU64(uint64(id))
		}
		s.conn.PutBlob(staging)
		return s.done()
	}

	o, err := transfer.NewOffer(s.host)
	if err != nil {
		return s.fail(cl.Transport(err))
	}
	ev, err := enqueue(staging, false)
	if err != nil {
		_ = o.Close()
		return s.fail(err)
	}
	// the transfer holds its own reference until the blob is sent
	if err := s.rt.Retain(ev); err != nil {
		_ = o.Close()
		return s.fail(err)
	}
	id, err := s.keepEvent(ev, want)
	if err != nil {
		_ = s.rt.Release(ev)
		_ = o.Close()
		return s.fail(err)
	}
	s.ok()
	if want {
		s.conn.PutU64(uint64(id))
	}
	s.conn.PutU32(o.Port)
	if err := s.done(); err != nil {
		_ = s.rt.Release(ev)
		_ = o.Close()
		return err
	}

	s.detach(o, transfer.Download, func(conn *wire.Conn) error {
		if err := s.rt.WaitForEvents(s.ctx, []compute.Event{ev}); err != nil {
			return err
		}
		conn.PutBlob(staging)
		return conn.Flush()
	}, func(error) {
		_ = s.rt.Release(ev)
	})
	return nil
}

type writeFunc func(src []byte, blocking bool, wait []compute.Event) (compute.Event, error)

// write runs a command that consumes size bytes from the client. A blocking
// write already carried the blob with its arguments. A detached write is
// gated by a user event that completes once the blob arrived, or fails with
// the transfer's status.
func (s *session) write(q compute.Queue, want, blocking bool, size uint64, blob []byte, wait []compute.Event, enqueue writeFunc) error {
	if blocking {
		if uint64(len(blob)) != size {
			return s.fail(cl.InvalidValue)
		}
		ev, err := enqueue(blob, true, wait)
		return s.enqueued(want, ev, err)
	}

	info, err := s.rt.QueueInfo(q, cl.QueueContext)
	if err != nil || len(info.Objects) == 0 {
		return s.fail(cl.InvalidCommandQueue)
	}
	gate, err := s.rt.CreateUserEvent(info.Objects[0])
	if err != nil {
		return s.fail(err)
	}
	o, err := transfer.NewOffer(s.host)
	if err != nil {
		_ = s.rt.Release(gate)
		return s.fail(cl.Transport(err))
	}
	staging := make([]byte, size)
	ev, err := enqueue(staging, false, append(wait[:len(wait):len(wait)], gate))
	if err != nil {
		_ = s.rt.Release(gate)
		_ = o.Close()
		return s.fail(err)
	}
	id, err := s.keepEvent(ev, want)
	if err != nil {
		_ = s.rt.SetUserEventStatus(gate, int32(cl.OutOfResources))
		_ = s.rt.Release(gate)
		_ = o.Close()
		return s.fail(err)
	}
	s.ok()
	if want {
		s.conn.PutU64(uint64(id))
	}
	s.conn.PutU32(o.Port)
	if err := s.done(); err != nil {
		_ = s.rt.SetUserEventStatus(gate, int32(cl.OutOfResources))
		_ = s.rt.Release(gate)
		_ = o.Close()
		return err
	}

	s.detach(o, transfer.Upload, func(conn *wire.Conn) error {
		data := conn.Blob()
		if err := conn.Err(); err != nil {
			return err
		}
		if len(data) != len(staging) {
			return cl.InvalidValue
		}
		copy(staging, data)
		return nil
	}, func(err error) {
		status := cl.Complete
		if err != nil {
			status = int32(cl.StatusOf(err))
		}
		_ = s.rt.SetUserEventStatus(gate, status)
		_ = s.rt.Release(gate)
	})
	return nil
}

func handleReadBuffer(s *session) error {
	r := s.conn.Reader
	qid, mid, blocking, offset, size := r.U64(), r.U64(), r.Bool(), r.U64(), r.U64()
	w := readWait(r)
	if err := r.Err(); err != nil {
		return err
	}
	q, mems, wait, err := s.command(qid, w, mid)
	if err != nil {
		return s.fail(err)
	}
	if size > s.maxLength() {
		return s.fail(cl.OutOfResources)
	}
	return s.read(w.want, blocking, size, func(dst []byte, blocking bool) (compute.Event, error) {
		return s.rt.ReadBuffer(q, mems[0], blocking, offset, dst, wait)
	})
}

func handleWriteBuffer(s *session) error {
	r := s.conn.Reader
	qid, mid, blocking, offset, size := r.U64(), r.U64(), r.Bool(), r.U64(), r.U64()
	w := readWait(r)
	var blob []byte
	if blocking {
		blob = r.Blob()
	}
	if err := r.Err(); err != nil {
		return err
	}
	q, mems, wait, err := s.command(qid, w, mid)
	if err != nil {
		return s.fail(err)
	}
	if size > s.maxLength() {
		return s.fail(cl.OutOfResources)
	}
	return s.write(q, w.want, blocking, size, blob, wait, func(src []byte, blocking bool, wait []compute.Event) (compute.Event, error) {
		return s.rt.WriteBuffer(q, mems[0], blocking, offset, src, wait)
	})
}

// rectArgs are the buffer side of a rect transfer; the host side travels
// dense.
type rectArgs struct {
	origin, region [3]uint64
	row, slice     uint64
}

func readRect(r *wire.Reader) rectArgs {
	return rectArgs{origin: readTriple(r), region: readTriple(r), row: r.U64(), slice: r.U64()}
}

func (a rectArgs) rect() compute.Rect {
	return compute.Rect{
		BufferOrigin:     a.origin,
		Region:           a.region,
		BufferRowPitch:   a.row,
		BufferSlicePitch: a.slice,
	}
}

func handleReadBufferRect(s *session) error {
	r := s.conn.Reader
	qid, mid, blocking := r.U64(), r.U64(), r.Bool()
	rect := readRect(r)
	w := readWait(r)
	if err := r.Err(); err != nil {
		return err
	}
	q, mems, wait, err := s.command(qid, w, mid)
	if err != nil {
		return s.fail(err)
	}
	size, err := s.denseSize(rect.region, 1)
	if err != nil {
		return s.fail(err)
	}
	return s.read(w.want, blocking, size, func(dst []byte, blocking bool) (compute.Event, error) {
		return s.rt.ReadBufferRect(q, mems[0], blocking, rect.rect(), dst, wait)
	})
}

func handleWriteBufferRect(s *session) error {
	r := s.conn.Reader
	qid, mid, blocking := r.U64(), r.U64(), r.Bool()
	rect := readRect(r)
	w := readWait(r)
	var blob []byte
	if blocking {
		blob = r.Blob()
	}
	if err := r.Err(); err != nil {
		return err
	}
	q, mems, wait, err := s.command(qid, w, mid)
	if err != nil {
		return s.fail(err)
	}
	size, err := s.denseSize(rect.region, 1)
	if err != nil {
		return s.fail(err)
	}
	return s.write(q, w.want, blocking, size, blob, wait, func(src []byte, blocking bool, wait []compute.Event) (compute.Event, error) {
		return s.rt.WriteBufferRect(q, mems[0], blocking, rect.rect(), src, wait)
	})
}

func handleReadImage(s *session) error {
	r := s.conn.Reader
	qid, mid, blocking := r.U64(), r.U64(), r.Bool()
	origin, region, elem := readTriple(r), readTriple(r), r.U64()
	w := readWait(r)
	if err := r.Err(); err != nil {
		return err
	}
	q, mems, wait, err := s.command(qid, w, mid)
	if err != nil {
		return s.fail(err)
	}
	size, err := s.denseSize(region, elem)
	if err != nil {
		return s.fail(err)
	}
	return s.read(w.want, blocking, size, func(dst []byte, blocking bool) (compute.Event, error) {
		return s.rt.ReadImage(q, mems[0], blocking, origin, region, 0, 0, dst, wait)
	})
}

func handleWriteImage(s *session) error {
	r := s.conn.Reader
	qid, mid, blocking := r.U64(), r.U64(), r.Bool()
	origin, region, elem := readTriple(r), readTriple(r), r.U64()
	w := readWait(r)
	var blob []byte
	if blocking {
		blob = r.Blob()
	}
	if err := r.Err(); err != nil {
		return err
	}
	q, mems, wait, err := s.command(qid, w, mid)
	if err != nil {
		return s.fail(err)
	}
	size, err := s.denseSize(region, elem)
	if err != nil {
		return s.fail(err)
	}
	return s.write(q, w.want, blocking, size, blob, wait, func(src []byte, blocking bool, wait []compute.Event) (compute.Event, error) {
		return s.rt.WriteImage(q, mems[0], blocking, origin, region, 0, 0, src, wait)
	})
}

func handleFillBuffer(s *session) error {
	r := s.conn.Reader
	qid, mid := r.U64(), r.U64()
	pattern := r.Bytes()
	offset, size := r.U64(), r.U64()
	w := readWait(r)
	if err := r.Err(); err != nil {
		return err
	}
	q, mems, wait, err := s.command(qid, w, mid)
	if err != nil {
		return s.fail(err)
	}
	ev, err := s.rt.FillBuffer(q, mems[0], pattern, offset, size, wait)
	return s.enqueued(w.want, ev, err)
}

func handleFillImage(s *session) error {
	r := s.conn.Reader
	qid, mid := r.U64(), r.U64()
	var color [16]byte
	copy(color[:], r.Raw(16))
	origin, region := readTriple(r), readTriple(r)
	w := readWait(r)
	if err := r.Err(); err != nil {
		return err
	}
	q, mems, wait, err := s.command(qid, w, mid)
	if err != nil {
		return s.fail(err)
	}
	ev, err := s.rt.FillImage(q, mems[0], color, origin, region, wait)
	return s.enqueued(w.want, ev, err)
}

func handleCopyBuffer(s *session) error {
	r := s.conn.Reader
	qid, src, dst := r.U64(), r.U64(), r.U64()
	srcOffset, dstOffset, size := r.U64(), r.U64(), r.U64()
	w := readWait(r)
	if err := r.Err(); err != nil {
		return err
	}
	q, mems, wait, err := s.command(qid, w, src, dst)
	if err != nil {
		return s.fail(err)
	}
	ev, err := s.rt.CopyBuffer(q, mems[0], mems[1], srcOffset, dstOffset, size, wait)
	return s.enqueued(w.want, ev, err)
}

func handleCopyBufferRect(s *session) error {
	r := s.conn.Reader
	qid, src, dst := r.U64(), r.U64(), r.U64()
	rect := compute.Rect{
		BufferOrigin:     readTriple(r),
		HostOrigin:       readTriple(r),
		Region:           readTriple(r),
		BufferRowPitch:   r.U64(),
		BufferSlicePitch: r.U64(),
		HostRowPitch:     r.U64(),
		HostSlicePitch:   r.U64(),
	}
	w := readWait(r)
	if err := r.Err(); err != nil {
		return err
	}
	q, mems, wait, err := s.command(qid, w, src, dst)
	if err != nil {
		return s.fail(err)
	}
	ev, err := s.rt.CopyBufferRect(q, mems[0], mems[1], rect, wait)
	return s.enqueued(w.want, ev, err)
}

func handleCopyImage(s *session) error {
	r := s.conn.Reader
	qid, src, dst := r.U64(), r.U64(), r.U64()
	srcOrigin, dstOrigin, region := readTriple(r), readTriple(r), readTriple(r)
	w := readWait(r)
	if err := r.Err(); err != nil {
		return err
	}
	q, mems, wait, err := s.command(qid, w, src, dst)
	if err != nil {
		return s.fail(err)
	}
	ev, err := s.rt.CopyImage(q, mems[0], mems[1], srcOrigin, dstOrigin, region, wait)
	return s.enqueued(w.want, ev, err)
}

func handleCopyImageToBuffer(s *session) error {
	r := s.conn.Reader
	qid, src, dst := r.U64(), r.U64(), r.U64()
	srcOrigin, region, dstOffset := readTriple(r), readTriple(r), r.U64()
	w := readWait(r)
	if err := r.Err(); err != nil {
		return err
	}
	q, mems, wait, err := s.command(qid, w, src, dst)
	if err != nil {
		return s.fail(err)
	}
	ev, err := s.rt.CopyImageToBuffer(q, mems[0], mems[1], srcOrigin, region, dstOffset, wait)
	return s.enqueued(w.want, ev, err)
}

func handleCopyBufferToImage(s *session) error {
	r := s.conn.Reader
	qid, src, dst := r.U64(), r.U64(), r.U64()
	srcOffset, dstOrigin, region := r.U64(), readTriple(r), readTriple(r)
	w := readWait(r)
	if err := r.Err(); err != nil {
		return err
	}
	q, mems, wait, err := s.command(qid, w, src, dst)
	if err != nil {
		return s.fail(err)
	}
	ev, err := s.rt.CopyBufferToImage(q, mems[0], mems[1], srcOffset, dstOrigin, region, wait)
	return s.enqueued(w.want, ev, err)
}

func handleNDRangeKernel(s *session) error {
	r := s.conn.Reader
	qid, kid := r.U64(), r.U64()
	dim, hasOffset, hasLocal := r.U32(), r.Bool(), r.Bool()
	if dim > 3 {
		r.Fail(cl.InvalidWorkDimension)
	}
	var offset, local []uint64
	if hasOffset {
		offset = r.U64s(int(dim))
	}
	global := r.U64s(int(dim))
	if hasLocal {
		local = r.U64s(int(dim))
	}
	w := readWait(r)
	if err := r.Err(); err != nil {
		return err
	}
	q, _, wait, err := s.command(qid, w)
	if err != nil {
		return s.fail(err)
	}
	k, err := s.resolve(cl.KindKernel, kid)
	if err != nil {
		return s.fail(err)
	}
	ev, err := s.rt.NDRangeKernel(q, k, offset, global, local, wait)
	return s.enqueued(w.want, ev, err)
}

func handleMarkerWithWaitList(s *session) error {
	r := s.conn.Reader
	qid := r.U64()
	w := readWait(r)
	if err := r.Err(); err != nil {
		return err
	}
	q, _, wait, err := s.command(qid, w)
	if err != nil {
		return s.fail(err)
	}
	ev, err := s.rt.MarkerWithWaitList(q, wait)
	return s.enqueued(w.want, ev, err)
}

func handleBarrierWithWaitList(s *session) error {
	r := s.conn.Reader
	qid := r.U64()
	w := readWait(r)
	if err := r.Err(); err != nil {
		return err
	}
	q, _, wait, err := s.command(qid, w)
	if err != nil {
		return s.fail(err)
	}
	ev, err := s.rt.BarrierWithWaitList(q, wait)
	return s.enqueued(w.want, ev, err)
}

func handleMigrateMemObjects(s *session) error {
	r := s.conn.Reader
	qid := r.U64()
	mids := readIDs(r)
	flags := r.U64()
	w := readWait(r)
	if err := r.Err(); err != nil {
		return err
	}
	q, mems, wait, err := s.command(qid, w, mids...)
	if err != nil {
		return s.fail(err)
	}
	ev, err := s.rt.MigrateMemObjects(q, mems, flags, wait)
	return s.enqueued(w.want, ev, err)
}
