package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrClosed is returned when emitting after the terminal packet.
	ErrClosed = errors.New("stream closed")
	// ErrDisconnected is returned once the liveness check reports the consumer is gone.
	ErrDisconnected = errors.New("stream consumer disconnected")
	// ErrOutOfOrder is returned when a packet's step is lower than one already emitted.
	ErrOutOfOrder = errors.New("packet step out of order")
	// ErrTerminalPayload is returned when Emit is used for stop or error payloads.
	ErrTerminalPayload = errors.New("terminal payloads must use Stop or Fail")
)

// NoBranch marks packets that do not belong to a parallel branch.
const NoBranch = -1

// Sink receives packets in emission order.
type Sink interface {
	Write(ctx context.Context, p Packet) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, p Packet) error

func (f SinkFunc) Write(ctx context.Context, p Packet) error { return f(ctx, p) }

// Emitter stamps packets with a sequence number, enforces non-decreasing step
// numbers and guarantees exactly one terminal packet. Safe for concurrent use.
type Emitter struct {
	mu           sync.Mutex
	primary      Sink
	mirrors      []Sink
	alive        func() bool
	logger       *zap.Logger
	seq          int64
	lastStep     int
	emitted      bool
	closed       bool
	disconnected bool
	observer     func(Kind)
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithLiveness installs the caller supplied liveness check polled before each packet.
func WithLiveness(alive func() bool) Option {
	return func(e *Emitter) { e.alive = alive }
}

// WithMirror adds best-effort sinks; their errors are logged, never returned.
func WithMirror(sinks ...Sink) Option {
	return func(e *Emitter) { e.mirrors = append(e.mirrors, sinks...) }
}

// WithObserver registers a callback invoked for every written packet kind.
func WithObserver(fn func(Kind)) Option {
	return func(e *Emitter) { e.observer = fn }
}

// NewEmitter builds an emitter writing to primary.
func NewEmitter(primary Sink, logger *zap.Logger, opts ...Option) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Emitter{primary: primary, logger: logger.Named("stream")}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit writes a non-terminal payload at step.
func (e *Emitter) Emit(ctx context.Context, step int, p Payload) error {
	return e.EmitBranch(ctx, step, NoBranch, p)
}

// EmitBranch writes a non-terminal payload tagged with a parallelization number.
func (e *Emitter) EmitBranch(ctx context.Context, step, branch int, p Payload) error {
	if p.Kind.Terminal() {
		return ErrTerminalPayload
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if !e.connectedLocked() {
		return ErrDisconnected
	}
	if e.emitted && step < e.lastStep {
		return fmt.Errorf("%w: step %d after %d", ErrOutOfOrder, step, e.lastStep)
	}
	return e.writeLocked(ctx, step, branch, p)
}

// Stop emits the overall-stop packet at the last emitted step and closes the stream.
func (e *Emitter) Stop(ctx context.Context, p Payload) error {
	p.Kind = KindOverallStop
	return e.terminate(ctx, p)
}

// Fail emits a terminal error packet and closes the stream.
func (e *Emitter) Fail(ctx context.Context, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return e.terminate(ctx, Payload{Kind: KindError, Error: msg})
}

func (e *Emitter) terminate(ctx context.Context, p Payload) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.closed = true
	return e.writeLocked(ctx, e.lastStep, NoBranch, p)
}

func (e *Emitter) writeLocked(ctx context.Context, step, branch int, p Payload) error {
	e.seq++
	pkt := Packet{Seq: e.seq, Step: step, Branch: branch, Payload: p}
	if err := e.primary.Write(ctx, pkt); err != nil {
		return fmt.Errorf("write packet %d: %w", pkt.Seq, err)
	}
	e.lastStep = step
	e.emitted = true
	for _, m := range e.mirrors {
		if err := m.Write(ctx, pkt); err != nil {
			e.logger.Warn("mirror sink write failed", zap.Int64("seq", pkt.Seq), zap.Error(err))
		}
	}
	if e.observer != nil {
		e.observer(p.Kind)
	}
	return nil
}

// Connected polls the liveness check. Once it reports a disconnect the
// emitter stays disconnected.
func (e *Emitter) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connectedLocked()
}

func (e *Emitter) connectedLocked() bool {
	if e.disconnected {
		return false
	}
	if e.alive != nil && !e.alive() {
		e.disconnected = true
		e.logger.Info("consumer disconnected", zap.Int("last_step", e.lastStep))
	}
	return !e.disconnected
}

// Closed reports whether a terminal packet was written.
func (e *Emitter) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
