package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/ws"
)

const (
	// controlWriteTimeout bounds a control reply written from Read.
	controlWriteTimeout = 50 * time.Millisecond
	// closeWriteTimeout bounds the close frame written by Close.
	closeWriteTimeout = 100 * time.Millisecond
)

// ErrFrameInFlight is returned when Write is called with a different
// message while an earlier frame is still partially written.
var ErrFrameInFlight = errors.New("websocket frame still in flight")

// WebSocketConn carries the chat byte stream in binary WebSocket frames,
// one frame per message.
//
// Outgoing frames are masked and compiled once, then queued. A write that
// misses its deadline leaves the rest of the frame queued and reports
// would-block; the next Write with the same message continues it. Control
// replies go through the same queue, so frames never interleave.
type WebSocketConn struct {
	conn net.Conn
	r    io.Reader

	wmu      sync.Mutex
	deadline time.Time
	out      []byte
	// frameEnd is the offset in out where the pending data frame ends;
	// zero when no data frame is pending.
	frameEnd     int
	framePayload int
	closed       bool

	mu            sync.Mutex
	readBuffer    []byte
	readBufferPos int
}

// NewWebSocketConn wraps an established client-side WebSocket connection.
// br holds bytes the handshake read past the response, and may be nil.
func NewWebSocketConn(conn net.Conn, br *bufio.Reader) *WebSocketConn {
	var r io.Reader = conn
	if br != nil {
		r = br
	}
	return &WebSocketConn{conn: conn, r: r}
}

func dialWebSocket(ctx context.Context, address, path string) (*WebSocketConn, error) {
	u := url.URL{Scheme: "ws", Host: address, Path: path}
	conn, br, _, err := ws.Dial(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	return NewWebSocketConn(conn, br), nil
}

// Write sends data as a single binary frame. It returns len(data) once the
// whole frame is on the wire, or 0 and the write error otherwise. After a
// would-block error the caller must retry with the same data.
func (wc *WebSocketConn) Write(data []byte) (int, error) {
	wc.wmu.Lock()
	defer wc.wmu.Unlock()

	if wc.closed {
		return 0, net.ErrClosed
	}

	if wc.frameEnd == 0 {
		frame := ws.NewBinaryFrame(append([]byte(nil), data...))
		if err := wc.enqueue(frame); err != nil {
			return 0, err
		}
		wc.frameEnd = len(wc.out)
		wc.framePayload = len(data)
	} else if len(data) != wc.framePayload {
		return 0, ErrFrameInFlight
	}

	err := wc.flush(wc.deadline)
	if wc.frameEnd > 0 {
		return 0, err
	}

	// Control bytes queued behind the frame may still be pending; they go
	// out with the next write.
	n := wc.framePayload
	wc.framePayload = 0
	return n, nil
}

// enqueue masks f and appends its wire bytes to the queue. Callers hold wmu.
func (wc *WebSocketConn) enqueue(f ws.Frame) error {
	bts, err := ws.CompileFrame(ws.MaskFrameInPlace(f))
	if err != nil {
		return fmt.Errorf("compile frame: %w", err)
	}
	wc.out = append(wc.out, bts...)
	return nil
}

// flush writes queued bytes until the queue is empty or deadline passes.
// Callers hold wmu.
func (wc *WebSocketConn) flush(deadline time.Time) error {
	for len(wc.out) > 0 {
		if err := wc.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
		n, err := wc.conn.Write(wc.out)
		wc.consume(n)
		if err != nil {
			return err
		}
	}
	return nil
}

func (wc *WebSocketConn) consume(n int) {
	wc.out = wc.out[n:]
	if len(wc.out) == 0 {
		wc.out = nil
	}
	if wc.frameEnd > 0 {
		wc.frameEnd -= n
		if wc.frameEnd < 0 {
			wc.frameEnd = 0
		}
	}
}

// control queues a control frame and tries to send it briefly.
func (wc *WebSocketConn) control(f ws.Frame) {
	wc.wmu.Lock()
	defer wc.wmu.Unlock()

	if wc.closed {
		return
	}
	if err := wc.enqueue(f); err != nil {
		return
	}
	// A reply that misses the deadline stays queued.
	_ = wc.flush(time.Now().Add(controlWriteTimeout))
}

// Read returns payload bytes of incoming data frames. A close frame from
// the server is reported as io.EOF.
func (wc *WebSocketConn) Read(buf []byte) (int, error) {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	if wc.readBufferPos < len(wc.readBuffer) {
		n := copy(buf, wc.readBuffer[wc.readBufferPos:])
		wc.readBufferPos += n
		if wc.readBufferPos >= len(wc.readBuffer) {
			wc.readBuffer = nil
			wc.readBufferPos = 0
		}
		return n, nil
	}

	data, err := wc.readFrame()
	if err != nil {
		return 0, err
	}

	n := copy(buf, data)
	if n < len(data) {
		wc.readBuffer = data[n:]
		wc.readBufferPos = 0
	}

	return n, nil
}

// readFrame returns the payload of the next non-empty data frame, answering
// control frames on the way.
func (wc *WebSocketConn) readFrame() ([]byte, error) {
	for {
		hdr, err := ws.ReadHeader(wc.r)
		if err != nil {
			return nil, err
		}

		payload := make([]byte, hdr.Length)
		if _, err := io.ReadFull(wc.r, payload); err != nil {
			return nil, err
		}
		if hdr.Masked {
			ws.Cipher(payload, hdr.Mask, 0)
		}

		switch hdr.OpCode {
		case ws.OpPing:
			wc.control(ws.NewPongFrame(payload))
		case ws.OpPong:
		case ws.OpClose:
			wc.control(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
			return nil, io.EOF
		default:
			if len(payload) > 0 {
				return payload, nil
			}
		}
	}
}

// Close sends a close frame and closes the connection. When a write is in
// progress the socket is closed right away, which unblocks that write.
func (wc *WebSocketConn) Close() error {
	if wc.wmu.TryLock() {
		if !wc.closed {
			wc.closed = true
			if err := wc.enqueue(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))); err == nil {
				_ = wc.flush(time.Now().Add(closeWriteTimeout))
			}
		}
		wc.wmu.Unlock()
	}
	return wc.conn.Close()
}

// SetWriteDeadline bounds the following writes. A frame that misses it is
// kept and finished by the next Write.
func (wc *WebSocketConn) SetWriteDeadline(t time.Time) error {
	wc.wmu.Lock()
	defer wc.wmu.Unlock()
	wc.deadline = t
	return nil
}

func (wc *WebSocketConn) RemoteAddr() net.Addr {
	return wc.conn.RemoteAddr()
}
