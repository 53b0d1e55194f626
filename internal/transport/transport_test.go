package transport_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/omochice/toy-chat-client/internal/peer"
	"github.com/omochice/toy-chat-client/internal/transport"
)

func TestMain(m *testing.M) {
	logrus.SetOutput(io.Discard)
	goleak.VerifyTestMain(m)
}

func startPeer(t *testing.T, opts ...peer.Option) *peer.Server {
	t.Helper()
	srv := peer.New("127.0.0.1:0", opts...)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv
}

func TestDial(t *testing.T) {
	networks := []transport.Network{transport.NetworkTCP, transport.NetworkWebSocket}

	for _, network := range networks {
		t.Run(string(network), func(t *testing.T) {
			srv := startPeer(t, peer.WithNetwork(network))

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			conn, err := transport.Dial(ctx, transport.Options{
				Network: network,
				Address: srv.Addr(),
				Path:    "/chat",
			})
			require.NoError(t, err)
			defer conn.Close()

			assert.NotNil(t, conn.RemoteAddr())

			pc, err := srv.Accept(ctx)
			require.NoError(t, err)

			n, err := conn.Write([]byte("alice"))
			require.NoError(t, err)
			assert.Equal(t, 5, n)

			_, err = pc.WaitFor(ctx, []byte("alice"))
			require.NoError(t, err)

			require.NoError(t, pc.Send([]byte("hi\n")))

			buf := make([]byte, 16)
			n, err = conn.Read(buf)
			require.NoError(t, err)
			assert.Equal(t, "hi\n", string(buf[:n]))

			require.NoError(t, pc.Close())
			_, err = conn.Read(buf)
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestWebSocketConn_ShortReadBuffersFrame(t *testing.T) {
	srv := startPeer(t, peer.WithNetwork(transport.NetworkWebSocket))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := transport.Dial(ctx, transport.Options{Network: transport.NetworkWebSocket, Address: srv.Addr()})
	require.NoError(t, err)
	defer conn.Close()

	pc, err := srv.Accept(ctx)
	require.NoError(t, err)
	require.NoError(t, pc.Send([]byte("abcdef")))

	buf := make([]byte, 4)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(buf[:n]))

	n, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ef", string(buf[:n]))
}

func TestWebSocketConn_CloseNotifiesPeer(t *testing.T) {
	srv := startPeer(t, peer.WithNetwork(transport.NetworkWebSocket))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := transport.Dial(ctx, transport.Options{Network: transport.NetworkWebSocket, Address: srv.Addr()})
	require.NoError(t, err)

	pc, err := srv.Accept(ctx)
	require.NoError(t, err)

	require.NoError(t, conn.Close())

	select {
	case <-pc.Done():
	case <-ctx.Done():
		t.Fatal("peer did not see close")
	}
	assert.NoError(t, pc.Err())
}

func TestDial_Failure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	_, err = transport.Dial(context.Background(), transport.Options{Address: addr, Timeout: time.Second})
	assert.Error(t, err)
}

func TestDial_UnknownNetwork(t *testing.T) {
	_, err := transport.Dial(context.Background(), transport.Options{Network: "udp", Address: "127.0.0.1:1"})
	assert.ErrorIs(t, err, transport.ErrUnknownNetwork)
}

func TestIsWouldBlock(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	require.NoError(t, client.SetWriteDeadline(time.Now().Add(20*time.Millisecond)))
	n, err := client.Write([]byte("nobody reads this"))
	assert.Zero(t, n)
	assert.True(t, transport.IsWouldBlock(err))

	assert.False(t, transport.IsWouldBlock(nil))
	assert.False(t, transport.IsWouldBlock(io.ErrClosedPipe))
	assert.False(t, transport.IsWouldBlock(errors.New("boom")))
}

// stalledServer accepts one WebSocket client and reads nothing until
// release is called. After that every data frame is sent on frames.
type stalledServer struct {
	addr    string
	frames  chan []byte
	release func()
}

func startStalledServer(t *testing.T) *stalledServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	released := make(chan struct{})
	var once sync.Once
	s := &stalledServer{
		addr:    ln.Addr().String(),
		frames:  make(chan []byte, 4),
		release: func() { once.Do(func() { close(released) }) },
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		raw, err := ln.Accept()
		if err != nil {
			return
		}
		defer raw.Close()
		if _, err := ws.Upgrade(raw); err != nil {
			return
		}
		<-released
		for {
			data, _, err := wsutil.ReadClientData(raw)
			if err != nil {
				return
			}
			s.frames <- data
		}
	}()

	t.Cleanup(func() {
		s.release()
		ln.Close()
		<-done
	})
	return s
}

func dialStalled(t *testing.T, s *stalledServer) transport.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := transport.Dial(ctx, transport.Options{Network: transport.NetworkWebSocket, Address: s.addr})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketConn_WriteDeadlineOnStalledPeer(t *testing.T) {
	s := startStalledServer(t)
	conn := dialStalled(t, s)

	data := bytes.Repeat([]byte("x"), 64<<20)

	require.NoError(t, conn.SetWriteDeadline(time.Now().Add(50*time.Millisecond)))
	start := time.Now()
	n, err := conn.Write(data)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Zero(t, n)
	assert.True(t, transport.IsWouldBlock(err), "got %v", err)

	// Close must not wait for the unfinished frame.
	closed := make(chan error, 1)
	go func() { closed <- conn.Close() }()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked behind a stalled write")
	}
}

func TestWebSocketConn_CloseDuringBlockedWrite(t *testing.T) {
	s := startStalledServer(t)
	conn := dialStalled(t, s)

	// No deadline: the write blocks until Close releases it.
	written := make(chan error, 1)
	go func() {
		_, err := conn.Write(bytes.Repeat([]byte("x"), 64<<20))
		written <- err
	}()

	time.Sleep(100 * time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- conn.Close() }()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked behind a write in progress")
	}

	select {
	case err := <-written:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("write not released by Close")
	}
}

func TestWebSocketConn_ResumedFrameSentOnce(t *testing.T) {
	s := startStalledServer(t)
	conn := dialStalled(t, s)

	data := make([]byte, 32<<20)
	for i := range data {
		data[i] = byte(i % 251)
	}

	require.NoError(t, conn.SetWriteDeadline(time.Now().Add(50*time.Millisecond)))
	n, err := conn.Write(data)
	require.True(t, transport.IsWouldBlock(err), "got %v", err)
	require.Zero(t, n)

	s.release()

	deadline := time.Now().Add(5 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "frame never completed")
		require.NoError(t, conn.SetWriteDeadline(time.Now().Add(200*time.Millisecond)))
		n, err = conn.Write(data)
		if transport.IsWouldBlock(err) {
			continue
		}
		require.NoError(t, err)
		break
	}
	assert.Equal(t, len(data), n)

	require.NoError(t, conn.SetWriteDeadline(time.Now().Add(time.Second)))
	_, err = conn.Write([]byte("next"))
	require.NoError(t, err)

	select {
	case got := <-s.frames:
		assert.True(t, bytes.Equal(data, got), "first frame differs")
	case <-time.After(5 * time.Second):
		t.Fatal("first frame not received")
	}
	select {
	case got := <-s.frames:
		assert.Equal(t, "next", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("second frame not received")
	}
}

func TestWebSocketConn_WriteRejectsOtherMessageMidFrame(t *testing.T) {
	s := startStalledServer(t)
	conn := dialStalled(t, s)

	require.NoError(t, conn.SetWriteDeadline(time.Now().Add(50*time.Millisecond)))
	_, err := conn.Write(bytes.Repeat([]byte("x"), 64<<20))
	require.True(t, transport.IsWouldBlock(err), "got %v", err)

	_, err = conn.Write([]byte("other"))
	assert.ErrorIs(t, err, transport.ErrFrameInFlight)
}
