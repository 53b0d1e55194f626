// Package peer provides a minimal chat peer that accepts client
// connections, records what they send and can echo it back or relay it to
// the other clients. It speaks the same raw byte stream as the client over
// TCP or WebSocket.
package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/omochice/toy-chat-client/internal/transport"
)

// ErrStopped is returned by Accept after the server stops.
var ErrStopped = errors.New("peer stopped")

// Option configures a Server.
type Option func(*Server)

// WithEcho makes every connection write back whatever it receives.
func WithEcho() Option {
	return func(s *Server) { s.echo = true }
}

// WithRelay forwards everything a client sends after its username to all
// other connected clients.
func WithRelay() Option {
	return func(s *Server) { s.relay = true }
}

// WithNetwork selects the transport the server speaks.
func WithNetwork(network transport.Network) Option {
	return func(s *Server) { s.network = network }
}

// WithLogger sets the logger used for connection events.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Server) { s.log = log }
}

// Server accepts chat client connections.
type Server struct {
	address  string
	network  transport.Network
	echo     bool
	relay    bool
	hub      *Hub
	log      logrus.FieldLogger
	listener net.Listener
	accepted chan *Conn
	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Server listening on address once started.
func New(address string, opts ...Option) *Server {
	s := &Server{
		address:  address,
		network:  transport.NetworkTCP,
		log:      logrus.StandardLogger(),
		accepted: make(chan *Conn, 16),
		quit:     make(chan struct{}),
		hub:      NewHub(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "peer")
	return s
}

// Start begins listening and accepting connections in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start peer: %w", err)
	}
	s.listener = listener

	s.log.WithFields(logrus.Fields{
		"addr":    listener.Addr().String(),
		"network": string(s.network),
		"echo":    s.echo,
		"relay":   s.relay,
	}).Info("Peer listening")

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and every open connection, then waits for
// their goroutines.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		if s.listener != nil {
			s.listener.Close()
		}
		s.hub.CloseAll()
	})
	s.wg.Wait()
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Accept returns the next connection the server accepted.
func (s *Server) Accept(ctx context.Context) (*Conn, error) {
	select {
	case c := <-s.accepted:
		return c, nil
	case <-s.quit:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ConnCount returns the number of open connections.
func (s *Server) ConnCount() int {
	return s.hub.Count()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		raw, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				s.log.WithError(err).Warn("Failed to accept connection")
				continue
			}
		}

		s.wg.Add(1)
		go s.handle(raw)
	}
}

func (s *Server) handle(raw net.Conn) {
	defer s.wg.Done()

	c, err := newConn(raw, s.network)
	if err != nil {
		s.log.WithError(err).Warn("Failed to set up connection")
		raw.Close()
		return
	}

	s.hub.Register(c)

	// Stop may have closed the registered connections before this one
	// joined the hub.
	select {
	case <-s.quit:
		s.hub.Unregister(c)
		raw.Close()
		return
	default:
	}

	log := s.log.WithField("remote_addr", c.RemoteAddr())
	log.Debug("Client connected")

	select {
	case s.accepted <- c:
	default:
		log.Warn("Accept queue full, connection not announced")
	}

	c.readLoop(func(data []byte, first bool) {
		s.deliver(c, data, first, log)
	}, log)

	s.hub.Unregister(c)

	log.Debug("Client disconnected")
}

// deliver acts on one chunk received from c.
func (s *Server) deliver(c *Conn, data []byte, first bool, log logrus.FieldLogger) {
	chat := data
	if first {
		name := c.Username()
		chat = data[len(name):]
		log.WithField("username", name).Info("Client identified")
	}
	if s.echo {
		if err := c.Send(data); err != nil {
			log.WithError(err).Warn("Failed to echo")
		}
	}
	if s.relay && len(chat) > 0 {
		if err := s.hub.Broadcast(c, chat); err != nil {
			log.WithError(err).Warn("Failed to relay")
		}
	}
}
