// Package subscriber keeps a push-channel subscription alive: it dials,
// re-announces its topic, and reconnects with bounded exponential backoff
// until an attempt ceiling is hit.
package subscriber

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-resto-orders/internal/broadcast"
	"github.com/ariefcatur/go-resto-orders/internal/logging"
)

var (
	ErrAttemptsExhausted = errors.New("reconnect attempts exhausted")
	ErrDisconnected      = errors.New("disconnected while dialing")
)

// Conn is an established subscription.
type Conn interface {
	// ReadEvent blocks for the next event. An error means the connection
	// is gone, including a missed heartbeat.
	ReadEvent() (broadcast.Event, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, join broadcast.Join) (Conn, error)
}

type Config struct {
	Join        broadcast.Join
	Base        time.Duration
	Max         time.Duration
	Factor      float64
	MaxAttempts int
	DialTimeout time.Duration
}

type Option func(*Client)

func WithClock(c Clock) Option { return func(cl *Client) { cl.clock = c } }

type Client struct {
	dialer      Dialer
	join        broadcast.Join
	clock       Clock
	maxAttempts int
	dialTimeout time.Duration

	mu        sync.Mutex
	state     State
	attempts  int
	gen       uint64
	timer     Timer
	conn      Conn
	lastDelay time.Duration
	bo        *backoff.ExponentialBackOff
	listeners map[string][]func(broadcast.Event)
}

func New(d Dialer, cfg Config, opts ...Option) *Client {
	if cfg.Base <= 0 {
		cfg.Base = time.Second
	}
	if cfg.Max < cfg.Base {
		cfg.Max = 30 * cfg.Base
	}
	if cfg.Factor < 1 {
		cfg.Factor = 2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.Base
	bo.MaxInterval = cfg.Max
	bo.Multiplier = cfg.Factor
	bo.RandomizationFactor = 0 // delays stay monotone
	bo.Reset()

	c := &Client{
		dialer:      d,
		join:        cfg.Join,
		clock:       realClock{},
		maxAttempts: cfg.MaxAttempts,
		dialTimeout: cfg.DialTimeout,
		bo:          bo,
		listeners:   map[string][]func(broadcast.Event){},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// On registers fn for events named name, including the client's own
// connected and connection_failed events.
func (c *Client) On(name string, fn func(broadcast.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners[name] = append(c.listeners[name], fn)
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// LastDelay is the delay of the most recently scheduled reconnect.
func (c *Client) LastDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastDelay
}

// Connect dials now. It is a no-op while connecting or connected and cancels
// a pending reconnect. Once the attempt ceiling is hit it fails until
// ResetAttempts.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.state == Connecting || c.state == Connected:
		c.mu.Unlock()
		return nil
	case c.state == Failed || c.attempts >= c.maxAttempts:
		c.mu.Unlock()
		return ErrAttemptsExhausted
	}
	gen := c.enter(Connecting)
	c.mu.Unlock()
	return c.dial(ctx, gen)
}

// Disconnect closes the subscription and stops reconnecting until the next
// Connect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.enter(Disconnected)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// ResetAttempts clears the failure count and leaves Failed for Disconnected.
func (c *Client) ResetAttempts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts = 0
	c.bo.Reset()
	if c.state == Failed {
		c.enter(Disconnected)
	}
}

// enter switches state, cancelling the timer and invalidating every callback
// of the previous state. Callers hold mu.
func (c *Client) enter(s State) uint64 {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
	c.state = s
	return c.gen
}

func (c *Client) dial(ctx context.Context, gen uint64) error {
	dctx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	conn, err := c.dialer.Dial(dctx, c.join)
	cancel()

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrDisconnected
	}
	if err != nil {
		failed := c.failLocked()
		attempts := c.attempts
		c.mu.Unlock()

		logging.Warn(ctx, "stream dial failed", zap.Int("attempt", attempts), zap.Error(err))
		if failed {
			c.emit(broadcast.Event{Name: broadcast.EventConnectionFailed, Data: map[string]int{"attempts": attempts}})
		}
		return err
	}

	c.attempts = 0
	c.bo.Reset()
	gen = c.enter(Connected)
	c.conn = conn
	c.mu.Unlock()

	logging.Info(ctx, "stream connected", zap.String("topic", c.join.Topic()))
	// connected reaches listeners before any event read from conn
	c.emit(broadcast.Event{Topic: c.join.Topic(), Name: broadcast.EventConnected})
	go c.read(conn, gen)
	return nil
}

// failLocked records a failed attempt and either schedules the next one or
// enters Failed. It reports whether Failed was entered.
func (c *Client) failLocked() bool {
	c.attempts++
	if c.attempts >= c.maxAttempts {
		c.enter(Failed)
		return true
	}
	c.scheduleLocked()
	return false
}

func (c *Client) scheduleLocked() {
	d := c.bo.NextBackOff()
	gen := c.enter(ReconnectScheduled)
	c.lastDelay = d
	c.timer = c.clock.AfterFunc(d, func() { c.fire(gen) })
}

func (c *Client) fire(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.state != ReconnectScheduled {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	gen = c.enter(Connecting)
	c.mu.Unlock()

	_ = c.dial(context.Background(), gen)
}

func (c *Client) read(conn Conn, gen uint64) {
	for {
		ev, err := conn.ReadEvent()
		if err != nil {
			c.mu.Lock()
			if c.gen != gen {
				c.mu.Unlock()
				return
			}
			c.conn = nil
			c.enter(Disconnected)
			c.scheduleLocked()
			c.mu.Unlock()

			_ = conn.Close()
			logging.Warn(context.Background(), "stream lost, reconnecting", zap.Error(err))
			return
		}
		c.emit(ev)
	}
}

func (c *Client) emit(ev broadcast.Event) {
	c.mu.Lock()
	fns := append([]func(broadcast.Event){}, c.listeners[ev.Name]...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
