package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"postservice/internal/middleware"
	"postservice/internal/observability"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultReconnectInterval is the fixed delay between reconnect attempts.
	DefaultReconnectInterval = 5 * time.Second
	// DefaultDialTimeout bounds a single connection attempt.
	DefaultDialTimeout = 10 * time.Second
)

// ErrNotConnected is returned by HealthCheck while no connection is held.
var ErrNotConnected = errors.New("store: not connected")

// State is a reconnect supervisor state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Option configures a Handle.
type Option func(*Handle)

// WithReconnectInterval sets a constant delay between reconnect attempts.
func WithReconnectInterval(d time.Duration) Option {
	return func(h *Handle) {
		h.policy = backoff.NewConstantBackOff(d)
	}
}

// WithBackOff replaces the reconnect delay policy. A policy returning
// backoff.Stop falls back to DefaultReconnectInterval; retries never end.
func WithBackOff(b backoff.BackOff) Option {
	return func(h *Handle) {
		h.policy = b
	}
}

// WithDialTimeout bounds each connection attempt.
func WithDialTimeout(d time.Duration) Option {
	return func(h *Handle) {
		h.dialTimeout = d
	}
}

// WithLogger sets the logger used for connection lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handle) {
		h.logger = l
	}
}

// Handle owns the single shared connection. Only the supervisor goroutine
// and fault signals replace it; callers re-acquire on every operation.
type Handle struct {
	dialer      Dialer
	policy      backoff.BackOff
	dialTimeout time.Duration
	logger      *slog.Logger

	// ctx is canceled by Close and aborts backoff waits and in-flight dials.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	state  State
	conn   Conn
	gen    uint64
	ready  chan struct{} // closed when state becomes Connected
	closed bool
}

// New creates an idle handle. Call Start to begin connecting in the background.
func New(d Dialer, opts ...Option) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		dialer:      d,
		policy:      backoff.NewConstantBackOff(DefaultReconnectInterval),
		dialTimeout: DefaultDialTimeout,
		logger:      middleware.Logger,
		ctx:         ctx,
		cancel:      cancel,
		ready:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	observability.StoreConnectionState.Set(float64(StateIdle))
	return h
}

// Start initiates the first connection without waiting for it.
func (h *Handle) Start() {
	h.Reconnect()
}

// Reconnect starts a connect sequence if the handle is idle. While a
// sequence is connecting or backing off, or a connection is held, it is a
// no-op.
func (h *Handle) Reconnect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.state != StateIdle {
		return
	}
	h.startLocked(false)
}

// State returns the current supervisor state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Acquire returns the held connection, waiting for the supervisor to
// establish one when the handle is not connected. The connection was live
// when returned; a failure on first use is still possible and is the
// caller's to report.
func (h *Handle) Acquire(ctx context.Context) (Conn, error) {
	for {
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			return nil, ErrClosed
		}
		if h.state == StateConnected {
			conn := h.conn
			h.mu.Unlock()
			return conn, nil
		}
		if h.state == StateIdle {
			h.startLocked(false)
		}
		ready := h.ready
		h.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-h.ctx.Done():
			return nil, ErrClosed
		}
	}
}

// HealthCheck pings the held connection. A failed ping counts as an error
// signal on that connection.
func (h *Handle) HealthCheck(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	if h.state != StateConnected {
		state := h.state
		h.mu.Unlock()
		return fmt.Errorf("%w (%s)", ErrNotConnected, state)
	}
	conn, gen := h.conn, h.gen
	h.mu.Unlock()

	if err := conn.Ping(ctx); err != nil {
		if ctx.Err() == nil {
			h.fault(gen, "ping", err)
		}
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close stops the supervisor and closes the held connection.
func (h *Handle) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conn := h.conn
	h.conn = nil
	h.setStateLocked(StateIdle)
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()

	if conn == nil {
		return nil
	}
	if err := conn.Close(ctx); err != nil {
		return fmt.Errorf("store: close connection: %w", err)
	}
	h.logger.Info("Document store connection closed")
	return nil
}

// startLocked launches the supervisor goroutine. Callers hold h.mu and have
// checked that no other sequence is running.
func (h *Handle) startLocked(delay bool) {
	if delay {
		h.setStateLocked(StateBackoff)
	} else {
		h.setStateLocked(StateConnecting)
	}
	h.wg.Add(1)
	go h.supervise(delay)
}

func (h *Handle) setStateLocked(s State) {
	h.state = s
	observability.StoreConnectionState.Set(float64(s))
}

// supervise dials until a connection is established or the handle closes.
func (h *Handle) supervise(delay bool) {
	defer h.wg.Done()

	for {
		if delay {
			h.mu.Lock()
			wait := h.policy.NextBackOff()
			h.mu.Unlock()
			if wait == backoff.Stop {
				wait = DefaultReconnectInterval
			}

			t := time.NewTimer(wait)
			select {
			case <-h.ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}

			h.mu.Lock()
			if h.closed {
				h.mu.Unlock()
				return
			}
			h.setStateLocked(StateConnecting)
			h.mu.Unlock()
		}
		delay = true

		h.mu.Lock()
		h.gen++
		gen := h.gen
		h.mu.Unlock()

		dialCtx, cancel := context.WithTimeout(h.ctx, h.dialTimeout)
		conn, err := h.dialer.Dial(dialCtx, &lifecycle{h: h, gen: gen})
		cancel()

		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			if conn != nil {
				_ = conn.Close(context.Background())
			}
			return
		}
		if err != nil {
			h.setStateLocked(StateBackoff)
			h.mu.Unlock()
			observability.StoreDialAttempts.WithLabelValues("failure").Inc()
			h.logger.Warn("Document store connection failed, retrying",
				slog.Uint64("generation", gen),
				slog.String("error", err.Error()),
			)
			continue
		}

		h.conn = conn
		h.setStateLocked(StateConnected)
		h.policy.Reset()
		close(h.ready)
		h.mu.Unlock()

		observability.StoreDialAttempts.WithLabelValues("success").Inc()
		h.logger.Info("Connected to document store", slog.Uint64("generation", gen))
		return
	}
}

// fault handles a close or error signal. Signals from anything but the
// current connection are ignored.
func (h *Handle) fault(gen uint64, signal string, cause error) {
	h.mu.Lock()
	if h.closed || gen != h.gen || h.state != StateConnected {
		h.mu.Unlock()
		return
	}
	dead := h.conn
	h.conn = nil
	h.ready = make(chan struct{})
	h.startLocked(true)
	h.mu.Unlock()

	observability.StoreConnectionFaults.WithLabelValues(signal).Inc()
	attrs := []any{slog.String("signal", signal), slog.Uint64("generation", gen)}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}
	h.logger.Warn("Document store connection lost, reconnecting", attrs...)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.dialTimeout)
		defer cancel()
		if err := dead.Close(ctx); err != nil {
			h.logger.Debug("Closing dropped store connection failed", slog.String("error", err.Error()))
		}
	}()
}

// lifecycle binds signals to the generation of the dial that produced them.
type lifecycle struct {
	h   *Handle
	gen uint64
}

func (l *lifecycle) OnClose() {
	l.h.fault(l.gen, "close", nil)
}

func (l *lifecycle) OnError(err error) {
	l.h.fault(l.gen, "error", err)
}
