// Package wire implements the byte-level encoding shared by the client and the
// server: host-endian scalars, length-prefixed strings and bulk blobs.
//
// Writes are buffered; Flush marks the end of a message. Reads always fill the
// requested size or fail. Both directions keep the first error they hit and
// turn every later operation into a no-op, so a handler can read or write a
// whole argument list and check the error once.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
)

var order = binary.NativeEndian

var (
	ErrTooLarge = errors.New("wire: length exceeds limit")
	ErrString   = errors.New("wire: string is not NUL terminated")
)

// Codec transforms bulk payloads before they go on the wire.
type Codec interface {
	Encode([]byte) ([]byte, error)
	Decode([]byte) ([]byte, error)
}

// DefaultMaxLength bounds a single length-prefixed field.
const DefaultMaxLength uint64 = 1 << 30

// Writer buffers outgoing fields until Flush.
type Writer struct {
	w     *bufio.Writer
	codec Codec
	err   error
	sent  atomic.Uint64
	buf   [8]byte
}

// NewWriter returns a Writer over w. codec may be nil, in which case blobs
// are sent verbatim.
func NewWriter(w io.Writer, codec Codec) *Writer {
	wr := &Writer{codec: codec}
	wr.w = bufio.NewWriterSize(countingWriter{w: w, n: &wr.sent}, 64*1024)
	return wr
}

type countingWriter struct {
	w io.Writer
	n *atomic.Uint64
}

func (c countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n.Add(uint64(n))
	return n, err
}

func (w *Writer) write(p []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(p)
}

func (w *Writer) PutU32(v uint32) {
	order.PutUint32(w.buf[:4], v)
	w.write(w.buf[:4])
}

func (w *Writer) PutI32(v int32) { w.PutU32(uint32(v)) }

func (w *Writer) PutU64(v uint64) {
	order.PutUint64(w.buf[:8], v)
	w.write(w.buf[:8])
}

func (w *Writer) PutBool(v bool) {
	if v {
		w.PutU32(1)
		return
	}
	w.PutU32(0)
}

// PutU64s writes the elements without a count.
func (w *Writer) PutU64s(vs []uint64) {
	for _, v := range vs {
		w.PutU64(v)
	}
}

// PutRaw writes p without a length prefix.
func (w *Writer) PutRaw(p []byte) { w.write(p) }

// PutBytes writes a u64 length followed by p.
func (w *Writer) PutBytes(p []byte) {
	w.PutU64(uint64(len(p)))
	w.write(p)
}

// PutString writes s with its terminating NUL, the length counting it.
func (w *Writer) PutString(s string) {
	w.PutU64(uint64(len(s) + 1))
	if w.err != nil {
		return
	}
	if _, err := w.w.WriteString(s); err != nil {
		w.err = err
		return
	}
	w.err = w.w.WriteByte(0)
}

// PutBlob encodes p with the codec and writes it length-prefixed.
func (w *Writer) PutBlob(p []byte) {
	if w.err != nil {
		return
	}
	if w.codec != nil {
		enc, err := w.codec.Encode(p)
		if err != nil {
			w.err = fmt.Errorf("wire: encode blob: %w", err)
			return
		}
		p = enc
	}
	w.PutBytes(p)
}

// Flush sends everything buffered and reports the first error seen since the
// Writer was created.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	w.err = w.w.Flush()
	return w.err
}

// WriteErr returns the sticky write error.
func (w *Writer) WriteErr() error { return w.err }

// Sent is the number of bytes handed to the underlying writer.
func (w *Writer) Sent() uint64 { return w.sent.Load() }

// Reader decodes incoming fields.
type Reader struct {
	r      io.Reader
	codec  Codec
	maxLen uint64
	err    error
	recv   atomic.Uint64
	buf    [8]byte
}

// NewReader returns a Reader over r. Length-prefixed fields longer than
// maxLen fail with ErrTooLarge; zero selects DefaultMaxLength.
func NewReader(r io.Reader, codec Codec, maxLen uint64) *Reader {
	if maxLen == 0 {
		maxLen = DefaultMaxLength
	}
	return &Reader{r: bufio.NewReaderSize(r, 64*1024), codec: codec, maxLen: maxLen}
}

func (r *Reader) read(p []byte) bool {
	if r.err != nil {
		return false
	}
	n, err := io.ReadFull(r.r, p)
	r.recv.Add(uint64(n))
	if err != nil {
		r.err = err
		return false
	}
	return true
}

func (r *Reader) U32() uint32 {
	if !r.read(r.buf[:4]) {
		return 0
	}
	return order.Uint32(r.buf[:4])
}

func (r *Reader) I32() int32 { return int32(r.U32()) }

func (r *Reader) U64() uint64 {
	if !r.read(r.buf[:8]) {
		return 0
	}
	return order.Uint64(r.buf[:8])
}

func (r *Reader) Bool() bool { return r.U32() != 0 }

// U64s reads n elements written without a count.
func (r *Reader) U64s(n int) []uint64 {
	if r.err != nil {
		return nil
	}
	if uint64(n)*8 > r.maxLen {
		r.err = fmt.Errorf("%w: %d elements", ErrTooLarge, n)
		return nil
	}
	vs := make([]uint64, n)
	for i := range vs {
		vs[i] = r.U64()
	}
	return vs
}

// Raw reads exactly n bytes without a length prefix.
func (r *Reader) Raw(n uint64) []byte {
	if r.err != nil {
		return nil
	}
	if n > r.maxLen {
		r.err = fmt.Errorf("%w: %d bytes", ErrTooLarge, n)
		return nil
	}
	p := make([]byte, n)
	if !r.read(p) {
		return nil
	}
	return p
}

// Bytes reads a u64 length followed by that many bytes.
func (r *Reader) Bytes() []byte {
	n := r.U64()
	return r.Raw(n)
}

// Str reads a NUL terminated string written by PutString.
func (r *Reader) Str() string {
	p := r.Bytes()
	if r.err != nil {
		return ""
	}
	if len(p) == 0 || p[len(p)-1] != 0 {
		r.err = ErrString
		return ""
	}
	return string(p[:len(p)-1])
}

// Blob reads a length-prefixed payload and decodes it with the codec.
func (r *Reader) Blob() []byte {
	p := r.Bytes()
	if r.err != nil {
		return nil
	}
	if r.codec == nil {
		return p
	}
	dec, err := r.codec.Decode(p)
	if err != nil {
		r.err = fmt.Errorf("wire: decode blob: %w", err)
		return nil
	}
	return dec
}

// Err returns the sticky read error.
func (r *Reader) Err() error { return r.err }

// Received is the number of bytes consumed by reads so far.
func (r *Reader) Received() uint64 { return r.recv.Load() }

// Fail records err as the read error unless one is already set. Handlers use
// it to reject a malformed argument list.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}
