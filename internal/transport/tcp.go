package transport

import (
	"context"
	"fmt"
	"net"
)

// TCPConn wraps net.Conn for TCP connections
type TCPConn struct {
	net.Conn
}

// NewTCPConn creates a new TCP connection wrapper
func NewTCPConn(conn net.Conn) *TCPConn {
	return &TCPConn{Conn: conn}
}

func dialTCP(ctx context.Context, address string) (*TCPConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	return NewTCPConn(conn), nil
}
