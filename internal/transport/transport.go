// Package transport dials the remote chat peer.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// Network names a supported transport.
type Network string

const (
	NetworkTCP       Network = "tcp"
	NetworkWebSocket Network = "ws"
)

// ErrUnknownNetwork is returned by Dial for an unsupported network.
var ErrUnknownNetwork = errors.New("unknown network")

// Conn is the remote byte stream used by a chat session.
type Conn interface {
	io.ReadWriteCloser

	// SetWriteDeadline bounds the next writes. A write that misses the
	// deadline returns the number of bytes accepted so far (zero for a
	// WebSocket frame, which is only counted once complete) and an error
	// satisfying IsWouldBlock.
	SetWriteDeadline(t time.Time) error

	// RemoteAddr returns the server address
	RemoteAddr() net.Addr
}

// Options describes where and how to dial.
type Options struct {
	Network Network
	// Address is host:port.
	Address string
	// Path is the request path for WebSocket connections.
	Path string
	// Timeout bounds connection establishment; zero means no limit.
	Timeout time.Duration
}

// Dial connects to the peer described by opts.
func Dial(ctx context.Context, opts Options) (Conn, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	switch opts.Network {
	case NetworkTCP, "":
		return dialTCP(ctx, opts.Address)
	case NetworkWebSocket:
		return dialWebSocket(ctx, opts.Address, opts.Path)
	default:
		return nil, fmt.Errorf("dial %q: %w", opts.Network, ErrUnknownNetwork)
	}
}

// IsWouldBlock reports whether err means the write could not proceed yet
// and should be retried on the next writable readiness.
func IsWouldBlock(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
