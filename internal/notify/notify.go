// Package notify carries asynchronous context error reports from the daemon
// to the client on the callback stream.
package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/fxnlabs/ocland/internal/wire"
	"github.com/vmihailenco/msgpack/v5"
)

// Notification is one context error report. Context is the peer id of the
// context on the sending daemon.
type Notification struct {
	Context     uint64 `msgpack:"ctx"`
	ErrInfo     string `msgpack:"err"`
	PrivateInfo []byte `msgpack:"priv"`
	SentAt      int64  `msgpack:"sent_at"` // Unix nano
}

// Sender writes notifications to one callback stream. It is safe for
// concurrent use.
type Sender struct {
	mu   sync.Mutex
	conn *wire.Conn
}

func NewSender(conn *wire.Conn) *Sender {
	return &Sender{conn: conn}
}

// Send frames n as a u64 length followed by its msgpack encoding.
func (s *Sender) Send(n Notification) error {
	if n.SentAt == 0 {
		n.SentAt = time.Now().UnixNano()
	}
	data, err := msgpack.Marshal(&n)
	if err != nil {
		return fmt.Errorf("notify: encode: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.PutBytes(data)
	return s.conn.Flush()
}

func (s *Sender) Close() error { return s.conn.Close() }

// Receive reads the next notification.
func Receive(r *wire.Reader) (Notification, error) {
	var n Notification
	data := r.Bytes()
	if err := r.Err(); err != nil {
		return n, err
	}
	if err := msgpack.Unmarshal(data, &n); err != nil {
		return n, fmt.Errorf("notify: decode: %w", err)
	}
	return n, nil
}
