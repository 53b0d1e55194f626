// Package session runs the client side of a chat connection.
//
// A Session watches two sources, the connection to the peer and the local
// command input, through a poller and reacts to each readiness event on a
// single goroutine. The username is written first, as soon as the
// connection is writable; chat messages typed with "send" follow, one at a
// time.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/omochice/toy-chat-client/internal/command"
	"github.com/omochice/toy-chat-client/internal/poller"
	"github.com/omochice/toy-chat-client/internal/transport"
	"github.com/omochice/toy-chat-client/pkg/protocol"
)

const (
	DefaultBufferSize   = 512
	DefaultWriteTimeout = 50 * time.Millisecond
)

// State is the lifecycle stage of a session.
type State int

const (
	StateHandshaking State = iota
	StateActive
	StateClosed
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// HandshakeState tracks whether the username has been sent.
type HandshakeState int

const (
	HandshakeNotSent HandshakeState = iota
	HandshakeSent
)

// String returns the string representation of HandshakeState
func (h HandshakeState) String() string {
	if h == HandshakeSent {
		return "sent"
	}
	return "not sent"
}

// Config holds the per-session settings.
type Config struct {
	Username string
	// BufferSize caps one outbound message in bytes.
	BufferSize int
	// WriteTimeout bounds a single write attempt; a write still blocked
	// after it is retried on the next writable event.
	WriteTimeout time.Duration
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger used for operational messages.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Session) { s.log = log }
}

// Session is a single client connection driven by readiness events.
type Session struct {
	cfg     Config
	conn    transport.Conn
	input   io.Reader
	console *Console
	log     logrus.FieldLogger
	poller  *poller.Poller
	decoder protocol.Decoder

	state     State
	handshake HandshakeState
	identity  *OutboundBuffer
	outbound  *OutboundBuffer
	// writable mirrors whether the connection is registered for Writable.
	writable bool
	// draining closes the session once the pending message is written.
	draining bool
}

// New creates a Session over an established connection. Local commands are
// read from input line by line; chat text and notices go to output.
func New(conn transport.Conn, input io.Reader, output io.Writer, cfg Config, opts ...Option) (*Session, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	ident := protocol.Identify(cfg.Username)
	data, err := ident.Encode()
	if err != nil {
		return nil, fmt.Errorf("invalid username: %w", err)
	}

	s := &Session{
		cfg:      cfg,
		conn:     conn,
		input:    input,
		console:  NewConsole(output),
		log:      logrus.StandardLogger(),
		poller:   poller.New(),
		identity: NewOutboundBuffer(len(data)),
		outbound: NewOutboundBuffer(cfg.BufferSize),
	}
	for _, opt := range opts {
		opt(s)
	}

	fields := logrus.Fields{"component": "session", "username": cfg.Username}
	if addr := conn.RemoteAddr(); addr != nil {
		fields["remote_addr"] = addr.String()
	}
	s.log = s.log.WithFields(fields)

	if err := s.identity.Store(data); err != nil {
		return nil, err
	}
	return s, nil
}

// State returns the current lifecycle stage.
func (s *Session) State() State {
	return s.state
}

// Handshake returns whether the username has been sent.
func (s *Session) Handshake() HandshakeState {
	return s.handshake
}

// Run drives the session until the user leaves, the input ends, the peer
// closes the connection, ctx is cancelled or an I/O error occurs. Leaving
// and peer close return nil. The connection is closed on return.
func (s *Session) Run(ctx context.Context) error {
	defer s.shutdown()

	if err := s.register(); err != nil {
		s.close()
		return err
	}

	for s.state != StateClosed {
		events, err := s.poller.Poll(ctx)
		if err != nil {
			s.close()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("poll: %w", err)
		}

		for _, ev := range events {
			if err := s.handle(ev); err != nil {
				s.close()
				s.log.WithError(err).Error("Session failed")
				return err
			}
			if s.state == StateClosed {
				break
			}
		}
	}

	return nil
}

func (s *Session) register() error {
	src := poller.NewChunkSource(s.conn, poller.DefaultChunkSize)
	if err := s.poller.Register(poller.TokenConn, src, poller.Readable|poller.Writable); err != nil {
		return fmt.Errorf("register connection: %w", err)
	}
	s.writable = true

	if err := s.poller.Register(poller.TokenInput, poller.NewLineSource(s.input), poller.Readable); err != nil {
		return fmt.Errorf("register input: %w", err)
	}
	return nil
}

func (s *Session) handle(ev poller.Event) error {
	switch ev.Token {
	case poller.TokenConn:
		// Drain what the peer sent before writing to it.
		if ev.Readable {
			if err := s.handleConnReadable(ev.Data, ev.Err); err != nil {
				return err
			}
			if s.state == StateClosed {
				return nil
			}
		}
		if ev.Writable {
			return s.handleConnWritable()
		}
	case poller.TokenInput:
		if ev.Readable {
			return s.handleInput(ev.Data, ev.Err)
		}
	}
	return nil
}

func (s *Session) handleConnReadable(data []byte, readErr error) error {
	if len(data) > 0 {
		s.log.WithField("bytes", len(data)).Debug("Received from server")
		s.console.Incoming(s.decoder.Decode(data))
	}

	switch {
	case readErr == nil:
		return nil
	case errors.Is(readErr, io.EOF):
		if n := s.decoder.Pending(); n > 0 {
			s.log.WithField("bytes", n).Debug("Connection closed inside a multi-byte character")
		}
		s.console.Incoming(s.decoder.Flush())
		s.console.Notice("Connection closed by server.")
		s.log.Info("Connection closed by server")
		s.close()
		return nil
	default:
		return fmt.Errorf("failed to read from server: %w", readErr)
	}
}

func (s *Session) handleConnWritable() error {
	if s.handshake == HandshakeNotSent {
		done, err := s.flush(s.identity)
		if err != nil {
			return err
		}
		if !done {
			return nil
		}
		s.handshake = HandshakeSent
		s.state = StateActive
		s.log.Info("Identified to server")
	}

	if s.outbound.Pending() {
		done, err := s.flush(s.outbound)
		if err != nil {
			return err
		}
		if !done {
			return nil
		}
		s.log.Debug("Message sent")
		if s.draining {
			s.close()
			return nil
		}
	}

	return s.updateInterest()
}

// flush writes as much of b as the connection takes within the write
// timeout. It reports whether b is now empty.
func (s *Session) flush(b *OutboundBuffer) (bool, error) {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return false, fmt.Errorf("set write deadline: %w", err)
	}

	n, err := s.conn.Write(b.Remaining())
	b.Advance(n)
	s.log.WithField("bytes", n).Trace("Wrote to server")

	if err != nil {
		if transport.IsWouldBlock(err) {
			s.log.WithField("remaining", len(b.Remaining())).Debug("Write would block, retrying when writable")
			return false, nil
		}
		return false, fmt.Errorf("failed to write to server: %w", err)
	}
	return !b.Pending(), nil
}

func (s *Session) handleInput(data []byte, readErr error) error {
	if len(data) > 0 {
		if err := s.handleLine(string(data)); err != nil {
			return err
		}
		if s.state == StateClosed {
			return nil
		}
	}

	switch {
	case readErr == nil:
		return nil
	case errors.Is(readErr, io.EOF):
		s.log.Info("Input closed")
		s.deregisterInput()
		s.console.Notice("Disconnecting...")
		if s.outbound.Pending() {
			s.draining = true
			return nil
		}
		s.close()
		return nil
	default:
		s.console.Notice("Failed to read input: %v", readErr)
		s.log.WithError(readErr).Warn("Input unreadable, ignoring it from now on")
		s.deregisterInput()
		return nil
	}
}

func (s *Session) deregisterInput() {
	if err := s.poller.Deregister(poller.TokenInput); err != nil {
		s.log.WithError(err).Debug("Input already deregistered")
	}
}

func (s *Session) handleLine(line string) error {
	cmd, err := command.Parse(line)
	if err != nil {
		s.console.Notice("Invalid command. %s", command.Usage)
		return nil
	}

	switch cmd.Kind {
	case command.KindLeave:
		s.console.Notice("Disconnecting...")
		if s.outbound.Pending() {
			s.log.WithFields(logrus.Fields{
				"bytes":   len(s.outbound.Message()),
				"written": len(s.outbound.Message()) - len(s.outbound.Remaining()),
			}).Info("Discarding unsent message")
		}
		s.close()
		return nil
	case command.KindSend:
		return s.queue(cmd.Text)
	}
	return nil
}

// queue stores a chat message and asks for writable readiness.
func (s *Session) queue(text string) error {
	msg := protocol.Text(s.cfg.Username, text)
	data, err := msg.Encode()
	if err != nil {
		s.console.Notice("Cannot send message: %v", err)
		return nil
	}

	if err := s.outbound.Store(data); err != nil {
		switch {
		case errors.Is(err, ErrMessagePending):
			s.console.Notice("Previous message is still being sent, try again.")
		case errors.Is(err, ErrMessageTooLarge):
			s.console.Notice("Message too long (%d bytes, limit %d).", len(data), s.outbound.Cap())
		}
		s.log.WithError(err).Debug("Message rejected")
		return nil
	}

	return s.updateInterest()
}

// updateInterest watches the connection for writes only while the username
// or a message is waiting to go out.
func (s *Session) updateInterest() error {
	want := s.handshake == HandshakeNotSent || s.outbound.Pending()
	if want == s.writable {
		return nil
	}

	interest := poller.Readable
	if want {
		interest |= poller.Writable
	}
	if err := s.poller.Reregister(poller.TokenConn, interest); err != nil {
		return fmt.Errorf("reregister connection: %w", err)
	}
	s.writable = want
	return nil
}

func (s *Session) close() {
	s.state = StateClosed
}

// canceler is implemented by input readers whose blocked reads can be
// interrupted, such as cancelreader.CancelReader.
type canceler interface {
	Cancel() bool
}

func (s *Session) shutdown() {
	s.poller.Close()

	if err := s.conn.Close(); err != nil {
		s.log.WithError(err).Debug("Close connection")
	}
	if c, ok := s.input.(canceler); ok {
		c.Cancel()
	}

	s.log.Info("Session closed")
}
