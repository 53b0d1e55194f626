package session

import (
	"bytes"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

// fakeConn records writes and lets tests shape how writes behave.
type fakeConn struct {
	mu       sync.Mutex
	writes   [][]byte
	maxWrite int
	block    bool
	writeErr error
	closed   bool
	closedCh chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{closedCh: make(chan struct{})}
}

// Read blocks until the connection is closed.
func (c *fakeConn) Read([]byte) (int, error) {
	<-c.closedCh
	return 0, io.EOF
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, net.ErrClosed
	}
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	if c.block {
		return 0, os.ErrDeadlineExceeded
	}

	n := len(p)
	var err error
	if c.maxWrite > 0 && n > c.maxWrite {
		n = c.maxWrite
		err = os.ErrDeadlineExceeded
	}
	c.writes = append(c.writes, append([]byte(nil), p[:n]...))
	return n, err
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.closedCh)
	}
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345}
}

func (c *fakeConn) setBlock(block bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block = block
}

func (c *fakeConn) setWriteErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *fakeConn) written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Join(c.writes, nil)
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

var errBroken = errors.New("connection reset by peer")
