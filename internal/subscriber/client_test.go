package subscriber

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-resto-orders/internal/broadcast"
)

// --- Fakes ---

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) last(t *testing.T) *fakeTimer {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		t.Fatal("no timer scheduled")
	}
	return c.timers[len(c.timers)-1]
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

type readResult struct {
	ev  broadcast.Event
	err error
}

type fakeConn struct {
	reads  chan readResult
	done   chan struct{}
	closed sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan readResult, 8), done: make(chan struct{})}
}

func (c *fakeConn) ReadEvent() (broadcast.Event, error) {
	select {
	case r := <-c.reads:
		return r.ev, r.err
	case <-c.done:
		return broadcast.Event{}, errors.New("closed")
	}
}

func (c *fakeConn) Close() error {
	c.closed.Do(func() { close(c.done) })
	return nil
}

type mockDialer struct {
	mu     sync.Mutex
	calls  int
	dialFn func(n int) (Conn, error)
}

func (d *mockDialer) Dial(_ context.Context, _ broadcast.Join) (Conn, error) {
	d.mu.Lock()
	d.calls++
	n := d.calls
	d.mu.Unlock()
	return d.dialFn(n)
}

func (d *mockDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

var errRefused = errors.New("connection refused")

func failing() *mockDialer {
	return &mockDialer{dialFn: func(int) (Conn, error) { return nil, errRefused }}
}

func newClient(d Dialer, clock Clock, attempts int) *Client {
	return New(d, Config{
		Join:        broadcast.Join{Role: broadcast.TopicAdmin},
		Base:        time.Second,
		Max:         8 * time.Second,
		Factor:      2,
		MaxAttempts: attempts,
	}, WithClock(clock))
}

func counter(c *Client, name string) func() int {
	var (
		mu sync.Mutex
		n  int
	)
	c.On(name, func(broadcast.Event) {
		mu.Lock()
		n++
		mu.Unlock()
	})
	return func() int {
		mu.Lock()
		defer mu.Unlock()
		return n
	}
}

func waitState(t *testing.T, c *Client, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", c.State(), want)
}

// --- Tests ---

func TestBackoffIsMonotoneAndFailsOnce(t *testing.T) {
	clock := &fakeClock{}
	c := newClient(failing(), clock, 6)
	failed := counter(c, broadcast.EventConnectionFailed)

	if err := c.Connect(context.Background()); !errors.Is(err, errRefused) {
		t.Fatalf("expected dial error, got %v", err)
	}
	var delays []time.Duration
	for c.State() == ReconnectScheduled {
		tm := clock.last(t)
		delays = append(delays, tm.d)
		tm.f()
	}

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay %d = %s, want %s", i, delays[i], want[i])
		}
		if i > 0 && delays[i] < delays[i-1] {
			t.Errorf("delays must not shrink: %v", delays)
		}
	}
	if c.State() != Failed {
		t.Fatalf("state = %s, want failed", c.State())
	}
	if failed() != 1 {
		t.Errorf("connection_failed emitted %d times", failed())
	}

	if err := c.Connect(context.Background()); !errors.Is(err, ErrAttemptsExhausted) {
		t.Errorf("connect from failed = %v", err)
	}
	if failed() != 1 {
		t.Errorf("connection_failed must not repeat, got %d", failed())
	}
}

func TestDisconnectCancelsScheduledReconnect(t *testing.T) {
	clock := &fakeClock{}
	d := failing()
	c := newClient(d, clock, 5)

	_ = c.Connect(context.Background())
	tm := clock.last(t)

	c.Disconnect()
	if !tm.stopped {
		t.Error("pending timer should be stopped")
	}
	tm.f() // a callback that raced the stop
	if d.Calls() != 1 {
		t.Errorf("stale timer must not dial, calls=%d", d.Calls())
	}
	if c.State() != Disconnected {
		t.Errorf("state = %s", c.State())
	}
}

func TestSuccessResetsAttempts(t *testing.T) {
	clock := &fakeClock{}
	d := &mockDialer{dialFn: func(n int) (Conn, error) {
		if n < 3 {
			return nil, errRefused
		}
		return newFakeConn(), nil
	}}
	c := newClient(d, clock, 5)
	connected := counter(c, broadcast.EventConnected)

	_ = c.Connect(context.Background())
	clock.last(t).f()
	if c.Attempts() != 2 {
		t.Fatalf("attempts = %d", c.Attempts())
	}
	clock.last(t).f()

	if c.State() != Connected {
		t.Fatalf("state = %s", c.State())
	}
	if c.Attempts() != 0 {
		t.Errorf("attempts should reset, got %d", c.Attempts())
	}
	if connected() != 1 {
		t.Errorf("connected emitted %d times", connected())
	}
	c.Disconnect()
}

func TestConnectIsNoopWhileConnected(t *testing.T) {
	d := &mockDialer{dialFn: func(int) (Conn, error) { return newFakeConn(), nil }}
	c := newClient(d, &fakeClock{}, 3)
	defer c.Disconnect()

	for i := 0; i < 3; i++ {
		if err := c.Connect(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if d.Calls() != 1 {
		t.Errorf("expected one dial, got %d", d.Calls())
	}
}

func TestConnectFromScheduledDialsNow(t *testing.T) {
	clock := &fakeClock{}
	d := &mockDialer{dialFn: func(n int) (Conn, error) {
		if n == 1 {
			return nil, errRefused
		}
		return newFakeConn(), nil
	}}
	c := newClient(d, clock, 5)
	defer c.Disconnect()

	_ = c.Connect(context.Background())
	tm := clock.last(t)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !tm.stopped {
		t.Error("scheduled timer should be cancelled")
	}
	if c.State() != Connected {
		t.Errorf("state = %s", c.State())
	}
}

func TestLivenessLostSchedulesReconnect(t *testing.T) {
	clock := &fakeClock{}
	first := newFakeConn()
	d := &mockDialer{dialFn: func(n int) (Conn, error) {
		if n == 1 {
			return first, nil
		}
		return newFakeConn(), nil
	}}
	c := newClient(d, clock, 5)
	defer c.Disconnect()
	connected := counter(c, broadcast.EventConnected)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	first.reads <- readResult{err: errors.New("i/o timeout")}

	waitState(t, c, ReconnectScheduled)
	if clock.last(t).d != time.Second {
		t.Errorf("first reconnect delay = %s", clock.last(t).d)
	}
	clock.last(t).f()
	if c.State() != Connected {
		t.Fatalf("state = %s", c.State())
	}
	if connected() != 2 {
		t.Errorf("connected emitted %d times, want 2", connected())
	}
}

func TestResetAttemptsRearms(t *testing.T) {
	clock := &fakeClock{}
	ok := false
	d := &mockDialer{dialFn: func(int) (Conn, error) {
		if ok {
			return newFakeConn(), nil
		}
		return nil, errRefused
	}}
	c := newClient(d, clock, 1)
	defer c.Disconnect()

	_ = c.Connect(context.Background())
	if c.State() != Failed {
		t.Fatalf("state = %s", c.State())
	}
	if clock.count() != 0 {
		t.Error("no reconnect should be scheduled from failed")
	}

	c.ResetAttempts()
	ok = true
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.State() != Connected {
		t.Errorf("state = %s", c.State())
	}
}

func TestEventsReachListeners(t *testing.T) {
	conn := newFakeConn()
	d := &mockDialer{dialFn: func(int) (Conn, error) { return conn, nil }}
	c := newClient(d, &fakeClock{}, 3)
	defer c.Disconnect()

	got := make(chan broadcast.Event, 1)
	c.On(broadcast.EventNewOrder, func(ev broadcast.Event) { got <- ev })
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	conn.reads <- readResult{ev: broadcast.Event{Topic: broadcast.TopicAdmin, Name: broadcast.EventNewOrder}}

	select {
	case ev := <-got:
		if ev.Topic != broadcast.TopicAdmin {
			t.Errorf("topic = %s", ev.Topic)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestDisconnectDuringDialDiscardsConn(t *testing.T) {
	conn := newFakeConn()
	var c *Client
	d := &mockDialer{dialFn: func(int) (Conn, error) {
		c.Disconnect()
		return conn, nil
	}}
	c = newClient(d, &fakeClock{}, 3)

	if err := c.Connect(context.Background()); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
	select {
	case <-conn.done:
	default:
		t.Error("late connection should be closed")
	}
	if c.State() != Disconnected {
		t.Errorf("state = %s", c.State())
	}
}

func TestConnectedPrecedesStreamEvents(t *testing.T) {
	conn := newFakeConn()
	conn.reads <- readResult{ev: broadcast.Event{Topic: broadcast.TopicAdmin, Name: broadcast.EventNewOrder}}
	d := &mockDialer{dialFn: func(int) (Conn, error) { return conn, nil }}
	c := newClient(d, &fakeClock{}, 3)
	defer c.Disconnect()

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(ev broadcast.Event) {
		mu.Lock()
		order = append(order, ev.Name)
		mu.Unlock()
	}
	done := make(chan struct{})
	c.On(broadcast.EventConnected, func(ev broadcast.Event) {
		time.Sleep(20 * time.Millisecond)
		record(ev)
	})
	c.On(broadcast.EventNewOrder, func(ev broadcast.Event) {
		record(ev)
		close(done)
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != broadcast.EventConnected || order[1] != broadcast.EventNewOrder {
		t.Errorf("listener order = %v, want [connected new_order]", order)
	}
}
