package peer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/sirupsen/logrus"

	"github.com/omochice/toy-chat-client/internal/transport"
)

// handshakeTimeout bounds the WebSocket upgrade of a new connection.
const handshakeTimeout = 5 * time.Second

// Conn is one client connection held by the peer.
type Conn struct {
	raw      net.Conn
	isWS     bool
	wmu      sync.Mutex
	mu       sync.Mutex
	received []byte
	username string
	changed  chan struct{}
	done     chan struct{}
	readErr  error
}

func newConn(raw net.Conn, network transport.Network) (*Conn, error) {
	c := &Conn{
		raw:     raw,
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
	if network == transport.NetworkWebSocket {
		if err := raw.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
			return nil, err
		}
		if _, err := ws.Upgrade(raw); err != nil {
			return nil, err
		}
		if err := raw.SetDeadline(time.Time{}); err != nil {
			return nil, err
		}
		c.isWS = true
	}
	return c, nil
}

// RemoteAddr returns the client address.
func (c *Conn) RemoteAddr() string {
	return c.raw.RemoteAddr().String()
}

// Send writes p to the client.
func (c *Conn) Send(p []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.isWS {
		return wsutil.WriteServerBinary(c.raw, p)
	}
	_, err := c.raw.Write(p)
	return err
}

// Close closes the connection from the peer side.
func (c *Conn) Close() error {
	if c.isWS {
		c.wmu.Lock()
		_ = wsutil.WriteServerMessage(c.raw, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		c.wmu.Unlock()
	}
	return c.raw.Close()
}

// Received returns a copy of every byte received so far.
func (c *Conn) Received() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.received...)
}

// WaitFor blocks until the received bytes contain want.
func (c *Conn) WaitFor(ctx context.Context, want []byte) ([]byte, error) {
	for {
		c.mu.Lock()
		got := append([]byte(nil), c.received...)
		changed := c.changed
		c.mu.Unlock()

		if bytes.Contains(got, want) {
			return got, nil
		}

		select {
		case <-changed:
		case <-c.done:
			got = c.Received()
			if bytes.Contains(got, want) {
				return got, nil
			}
			return got, io.ErrUnexpectedEOF
		case <-ctx.Done():
			return got, ctx.Err()
		}
	}
}

// Username returns the username the client sent first. When the first
// chunk also carries a chat frame ("alice[alice]: hi\n") only the part
// before the frame is taken. A username split across several reads is cut
// at the first one. Empty until the first chunk arrives.
func (c *Conn) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// Done is closed once the client has gone away.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the connection; nil for an orderly
// close by the client.
func (c *Conn) Err() error {
	<-c.done
	return c.readErr
}

// readLoop records every chunk and hands it to fn; first is set for the
// chunk taken as the username.
func (c *Conn) readLoop(fn func(data []byte, first bool), log logrus.FieldLogger) {
	defer close(c.done)
	defer c.raw.Close()

	buf := make([]byte, 4096)
	for {
		data, err := c.read(buf)
		if len(data) > 0 {
			fn(data, c.record(data))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.readErr = err
				log.WithError(err).Debug("Read ended")
			}
			return
		}
	}
}

func (c *Conn) read(buf []byte) ([]byte, error) {
	if !c.isWS {
		n, err := c.raw.Read(buf)
		return buf[:n], err
	}

	data, _, err := wsutil.ReadClientData(c.raw)
	if err != nil {
		var closed wsutil.ClosedError
		if errors.As(err, &closed) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

// record appends data and reports whether it was the first chunk.
func (c *Conn) record(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	first := c.username == ""
	if first {
		c.username, _ = splitIdentity(data)
	}
	c.received = append(c.received, data...)
	close(c.changed)
	c.changed = make(chan struct{})
	return first
}

// splitIdentity separates a leading username from a chat frame that
// arrived in the same chunk. Without such a frame the whole chunk is the
// username.
func splitIdentity(chunk []byte) (string, []byte) {
	for i := 1; i < len(chunk); i++ {
		if chunk[i] != '[' {
			continue
		}
		name := chunk[:i]
		prefix := make([]byte, 0, len(name)+4)
		prefix = append(prefix, '[')
		prefix = append(prefix, name...)
		prefix = append(prefix, "]: "...)
		if bytes.HasPrefix(chunk[i:], prefix) {
			return string(name), chunk[i:]
		}
	}
	return string(chunk), nil
}
