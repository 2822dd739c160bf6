package wire

import (
	"context"
	"net"
	"time"
)

// Conn is a TCP connection with a buffered field Writer and a full-read
// Reader on top. A Conn is not safe for concurrent use by multiple callers;
// the client serializes calls per server and the server runs one goroutine
// per connection.
type Conn struct {
	*Writer
	*Reader
	conn net.Conn
}

// Options configure the framing on a Conn.
type Options struct {
	Codec     Codec
	MaxLength uint64
}

// NewConn wraps c. TCP connections get TCP_NODELAY since messages are
// flushed explicitly.
func NewConn(c net.Conn, opts Options) *Conn {
	if tcp, ok := c.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	return &Conn{
		Writer: NewWriter(c, opts.Codec),
		Reader: NewReader(c, opts.Codec, opts.MaxLength),
		conn:   c,
	}
}

// Dial connects to addr.
func Dial(ctx context.Context, addr string, opts Options) (*Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewConn(c, opts), nil
}

// Err returns the first read or write error.
func (c *Conn) Err() error {
	if err := c.Reader.Err(); err != nil {
		return err
	}
	return c.Writer.WriteErr()
}

func (c *Conn) Close() error { return c.conn.Close() }

func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *Conn) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// SetDeadline sets the read and write deadline on the underlying connection.
func (c *Conn) SetDeadline(t time.Time) error { return c.conn.SetDeadline(t) }

// Traffic returns the bytes sent and received so far.
func (c *Conn) Traffic() (sent, received uint64) {
	return c.Writer.Sent(), c.Reader.Received()
}
