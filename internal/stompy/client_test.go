package stompy

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetConnReadFramesAndAcks(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ackCh := make(chan byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		frame := []byte("hello")
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(frame)))
		conn.Write(lenBuf[:])
		conn.Write(frame)
		var ack [1]byte
		conn.Read(ack[:])
		ackCh <- ack[0]
	}()

	conn, err := Dial(ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	body, err := conn.Read(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	require.NoError(t, conn.Ack())
	assert.Equal(t, byte(0x01), <-ackCh)
}

func TestNetConnReadTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(500 * time.Millisecond)
	}()

	conn, err := Dial(ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Read(50 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

type mockConn struct {
	frames  [][]byte
	acked   int
	closed  bool
	readErr error
}

func (m *mockConn) Read(time.Duration) ([]byte, error) {
	if len(m.frames) == 0 {
		if m.readErr != nil {
			return nil, m.readErr
		}
		return nil, ErrTimeout
	}
	f := m.frames[0]
	m.frames = m.frames[1:]
	return f, nil
}
func (m *mockConn) Ack() error   { m.acked++; return nil }
func (m *mockConn) Close() error { m.closed = true; return nil }

func TestConsumerAcksOnlyAfterSuccessfulHandle(t *testing.T) {
	mc := &mockConn{frames: [][]byte{[]byte("a"), []byte("b")}}
	c := NewConsumer("unused")
	c.dial = func(string) (Conn, error) { return mc, nil }

	var processed []string
	done := make(chan struct{})
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(done)
	}()

	c.Run(done, func(frame []byte) error {
		processed = append(processed, string(frame))
		return nil
	})

	assert.Equal(t, []string{"a", "b"}, processed)
	assert.Equal(t, 2, mc.acked)
}

func TestConsumerDoesNotAckOnHandlerError(t *testing.T) {
	mc := &mockConn{frames: [][]byte{[]byte("bad")}}
	c := NewConsumer("unused")
	dialCount := 0
	c.dial = func(string) (Conn, error) {
		dialCount++
		return mc, nil
	}

	done := make(chan struct{})
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(done)
	}()

	c.Run(done, func(frame []byte) error {
		return assert.AnError
	})

	assert.Equal(t, 0, mc.acked, "handler error must never ack")
}
