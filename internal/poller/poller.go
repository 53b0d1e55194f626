// Package poller reports readiness for the sources a chat session watches.
//
// Each readable source is served by its own pump goroutine that blocks on
// the source and hands every unit it reads to the poller over a single
// channel. Writable interest is a flag: a token holding it is reported
// writable on every poll, so callers add it only while they have bytes to
// send.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultChunkSize is the read size used for connection chunks.
const DefaultChunkSize = 512

var (
	// ErrClosed is returned by operations on a closed Poller.
	ErrClosed = errors.New("poller closed")
	// ErrRegistered is returned when a token is registered twice.
	ErrRegistered = errors.New("token already registered")
	// ErrNotRegistered is returned for a token that was never registered.
	ErrNotRegistered = errors.New("token not registered")
)

// Token identifies a registered source.
type Token int

const (
	TokenConn Token = iota
	TokenInput
)

// String returns the string representation of Token
func (t Token) String() string {
	switch t {
	case TokenConn:
		return "conn"
	case TokenInput:
		return "input"
	default:
		return fmt.Sprintf("token(%d)", int(t))
	}
}

// Interest is the set of readiness kinds a token is watched for.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

// Has reports whether i contains all of other.
func (i Interest) Has(other Interest) bool {
	return i&other == other
}

// Event reports readiness for one token.
type Event struct {
	Token    Token
	Readable bool
	Writable bool
	// Data is the unit read for a readable event.
	Data []byte
	// Err is the error that ended the source, if any. Data may be non-empty
	// at the same time.
	Err error
}

type registration struct {
	interest Interest
	// active is false once the token is deregistered.
	active bool
	// ack releases the pump to read its next unit.
	ack chan struct{}
}

type unit struct {
	token Token
	data  []byte
	err   error
}

// Poller multiplexes readiness of registered sources.
// Poll must be called from a single goroutine.
type Poller struct {
	mu     sync.Mutex
	regs   map[Token]*registration
	order  []Token
	units  chan unit
	ctx    context.Context
	cancel context.CancelFunc
	closed bool

	// held keeps a unit read for a token that currently has no Readable
	// interest. Only Poll touches it.
	held map[Token]unit
}

// New creates a Poller.
func New() *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		regs:   make(map[Token]*registration),
		units:  make(chan unit),
		ctx:    ctx,
		cancel: cancel,
		held:   make(map[Token]unit),
	}
}

// Register watches src under token for the given interest. When src is
// non-nil a pump goroutine starts reading it immediately; src may be nil
// for a write-only token.
func (p *Poller) Register(token Token, src Source, interest Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if _, ok := p.regs[token]; ok {
		return fmt.Errorf("register %s: %w", token, ErrRegistered)
	}

	reg := &registration{
		interest: interest,
		active:   true,
		ack:      make(chan struct{}, 1),
	}
	p.regs[token] = reg
	p.order = append(p.order, token)

	if src != nil {
		go p.pump(token, src, reg.ack)
	}
	return nil
}

// Reregister replaces the interest set of a registered token.
func (p *Poller) Reregister(token Token, interest Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	reg, ok := p.regs[token]
	if !ok || !reg.active {
		return fmt.Errorf("reregister %s: %w", token, ErrNotRegistered)
	}
	reg.interest = interest
	return nil
}

// Deregister stops reporting events for token. Units its pump reads
// afterwards are discarded.
func (p *Poller) Deregister(token Token) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	reg, ok := p.regs[token]
	if !ok || !reg.active {
		return fmt.Errorf("deregister %s: %w", token, ErrNotRegistered)
	}
	reg.active = false
	reg.interest = 0
	return nil
}

// Interest returns the current interest of token. It is meant for
// inspection; the poller itself never needs it.
func (p *Poller) Interest(token Token) (Interest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	reg, ok := p.regs[token]
	if !ok || !reg.active {
		return 0, false
	}
	return reg.interest, true
}

// Poll blocks until at least one event is ready and returns the batch.
// Events are merged per token and ordered by registration. A batch carries
// at most one read unit per token.
func (p *Poller) Poll(ctx context.Context) ([]Event, error) {
	if err := p.ctx.Err(); err != nil {
		return nil, ErrClosed
	}

	batch := make(map[Token]*Event)
	var delivered []Token

	p.takeHeld(batch, &delivered)

	// Collect whatever is already waiting without blocking. Every pump has
	// at most one unit in flight, so this ends.
	for {
		select {
		case u := <-p.units:
			p.accept(batch, u, &delivered)
			continue
		default:
		}
		break
	}

	p.addWritable(batch)

	for len(batch) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.ctx.Done():
			return nil, ErrClosed
		case u := <-p.units:
			p.accept(batch, u, &delivered)
			p.addWritable(batch)
		}
	}

	events := p.flatten(batch)
	p.release(delivered)
	return events, nil
}

// Close stops delivery from every pump. Pumps blocked inside their source
// return once the source is closed by its owner.
func (p *Poller) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	p.cancel()
}

func (p *Poller) takeHeld(batch map[Token]*Event, delivered *[]Token) {
	for token, u := range p.held {
		state := p.stateOf(token)
		switch state {
		case stateGone:
			delete(p.held, token)
			*delivered = append(*delivered, token)
		case stateReading:
			delete(p.held, token)
			p.deliver(batch, u)
			*delivered = append(*delivered, token)
		}
	}
}

// accept routes a unit read by a pump into the batch, holds it until the
// token watches for reads again, or drops it for a deregistered token.
func (p *Poller) accept(batch map[Token]*Event, u unit, delivered *[]Token) {
	switch p.stateOf(u.token) {
	case stateGone:
		*delivered = append(*delivered, u.token)
	case stateIdle:
		p.held[u.token] = u
	case stateReading:
		p.deliver(batch, u)
		*delivered = append(*delivered, u.token)
	}
}

func (p *Poller) deliver(batch map[Token]*Event, u unit) {
	ev := eventFor(batch, u.token)
	ev.Readable = true
	ev.Data = u.data
	ev.Err = u.err
}

type tokenState int

const (
	stateGone tokenState = iota
	stateIdle
	stateReading
)

func (p *Poller) stateOf(token Token) tokenState {
	p.mu.Lock()
	defer p.mu.Unlock()

	reg, ok := p.regs[token]
	switch {
	case !ok || !reg.active:
		return stateGone
	case reg.interest.Has(Readable):
		return stateReading
	default:
		return stateIdle
	}
}

func (p *Poller) addWritable(batch map[Token]*Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for token, reg := range p.regs {
		if reg.active && reg.interest.Has(Writable) {
			eventFor(batch, token).Writable = true
		}
	}
}

func (p *Poller) flatten(batch map[Token]*Event) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	events := make([]Event, 0, len(batch))
	for _, token := range p.order {
		if ev, ok := batch[token]; ok {
			events = append(events, *ev)
		}
	}
	return events
}

// release lets the pumps of delivered tokens read their next unit.
func (p *Poller) release(tokens []Token) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, token := range tokens {
		if reg, ok := p.regs[token]; ok {
			select {
			case reg.ack <- struct{}{}:
			default:
			}
		}
	}
}

func eventFor(batch map[Token]*Event, token Token) *Event {
	ev, ok := batch[token]
	if !ok {
		ev = &Event{Token: token}
		batch[token] = ev
	}
	return ev
}

// pump reads units from src and hands them to Poll one at a time. The next
// unit is not read until Poll has returned the previous one.
func (p *Poller) pump(token Token, src Source, ack <-chan struct{}) {
	for {
		data, err := src.Next()
		if len(data) == 0 && err == nil {
			continue
		}

		select {
		case p.units <- unit{token: token, data: data, err: err}:
		case <-p.ctx.Done():
			return
		}

		if err != nil {
			return
		}

		select {
		case <-ack:
		case <-p.ctx.Done():
			return
		}
	}
}
