// Package stompy is a client for the local fan-out proxy spec.md §4.B/§6
// describes: "a trivial framed protocol: read_stompy yields one complete
// message body at a time or a 3-code timeout; ack_stompy acknowledges the
// last delivered message." One TCP port per feed (VSTP, TRUST, TD).
//
// The wire format is a 4-byte big-endian length prefix followed by that many
// body bytes; acknowledging the most recently read frame writes a single
// 0x01 byte back on the same connection. This isn't AMQP — the proxy's
// protocol predates any standard broker wire format — so the teacher's
// streadway/amqp client has no home here; what's kept from
// queue/amqp_interface.go is its *shape*: a small Conn interface with a real
// net.Conn implementation and a mock for tests, reimplemented over net.Conn
// instead of amqp.Connection/Channel.
package stompy

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrTimeout is returned by Read when no frame arrived within the deadline —
// the "3-code timeout" of spec.md §4.B/§6.
var ErrTimeout = errors.New("stompy: read timeout")

// Conn abstracts one proxy connection for dependency injection in tests.
type Conn interface {
	Read(timeout time.Duration) ([]byte, error)
	Ack() error
	Close() error
}

// netConn is the real implementation, one TCP connection per feed port.
type netConn struct {
	conn net.Conn
	r    *bufio.Reader
}

// Dial connects to the local proxy at addr (host:port).
func Dial(addr string) (Conn, error) {
	c, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("stompy: dial %s: %w", addr, err)
	}
	return &netConn{conn: c, r: bufio.NewReader(c)}, nil
}

// Read blocks for one frame, up to timeout. Returns ErrTimeout if none
// arrives in time.
func (c *netConn) Read(timeout time.Duration) ([]byte, error) {
	c.conn.SetReadDeadline(time.Now().Add(timeout))
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.r, lenBuf[:]); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("stompy: read length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(c.r, body); err != nil {
		return nil, fmt.Errorf("stompy: read body: %w", err)
	}
	return body, nil
}

// Ack acknowledges the last delivered message with a single 0x01 byte.
func (c *netConn) Ack() error {
	_, err := c.conn.Write([]byte{0x01})
	return err
}

func (c *netConn) Close() error { return c.conn.Close() }

// Consumer drives the read -> process -> commit -> ack loop for one feed,
// matching spec.md §4.B's discipline exactly: "begin DB transaction ->
// process frame -> commit -> ack. On commit failure, rollback and drop the
// connection (no ack). On receive error, drop the connection."
type Consumer struct {
	Addr        string
	ReadTimeout time.Duration // default 128s, spec.md §4.B
	MaxBackoff  time.Duration // capped ~5 minutes, spec.md §4.B

	dial func(addr string) (Conn, error) // overridable for tests
}

// NewConsumer builds a Consumer with spec.md's default timeouts.
func NewConsumer(addr string) *Consumer {
	return &Consumer{
		Addr:        addr,
		ReadTimeout: 128 * time.Second,
		MaxBackoff:  5 * time.Minute,
		dial:        Dial,
	}
}

// Handler processes one frame body inside the caller's transaction boundary
// and returns an error to trigger rollback+no-ack.
type Handler func(frame []byte) error

// Run connects, then repeatedly reads a frame, invokes handle, and acks only
// if handle succeeds. It reconnects with exponential back-off (capped at
// MaxBackoff) on any connection-level error, and returns only when ctx is
// done (SIGTERM/SIGINT/SIGHUP per spec.md §5).
func (c *Consumer) Run(done <-chan struct{}, handle Handler) error {
	for {
		select {
		case <-done:
			return nil
		default:
		}

		conn, err := c.connectWithBackoff(done)
		if err != nil {
			return err
		}
		if conn == nil {
			return nil // done was closed while backing off
		}

		c.drive(conn, done, handle)
	}
}

func (c *Consumer) connectWithBackoff(done <-chan struct{}) (Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0 // retry forever, capped per-step by MaxInterval
	b.MaxInterval = c.MaxBackoff

	for {
		conn, err := c.dial(c.Addr)
		if err == nil {
			return conn, nil
		}
		wait := b.NextBackOff()
		select {
		case <-done:
			return nil, nil
		case <-time.After(wait):
		}
	}
}

// drive reads and dispatches frames until the connection breaks or done
// fires, then returns so Run can reconnect.
func (c *Consumer) drive(conn Conn, done <-chan struct{}, handle Handler) {
	defer conn.Close()
	for {
		select {
		case <-done:
			return
		default:
		}

		frame, err := conn.Read(c.ReadTimeout)
		if errors.Is(err, ErrTimeout) {
			continue
		}
		if err != nil {
			return // receive error: drop the connection, let Run reconnect
		}

		if err := handle(frame); err != nil {
			return // commit failed/rolled back: drop the connection, no ack
		}
		if err := conn.Ack(); err != nil {
			return
		}
	}
}
