package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"hyperflow/config"
	"hyperflow/internal/events"
	"hyperflow/internal/integrity"
	"hyperflow/internal/reconnect"
)

// fakeConn replays a pre-loaded frame script and then blocks until closed.
type fakeConn struct {
	reads chan Frame

	mu     sync.Mutex
	writes [][]byte
	closed bool
	done   chan struct{}
}

func newFakeConn(frames ...Frame) *fakeConn {
	c := &fakeConn{
		reads: make(chan Frame, len(frames)+1),
		done:  make(chan struct{}),
	}
	for _, f := range frames {
		c.reads <- f
	}
	return c
}

func (c *fakeConn) WriteText(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("write on closed connection")
	}
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) ReadFrame() (Frame, error) {
	select {
	case f := <-c.reads:
		return f, nil
	case <-c.done:
		return Frame{}, errors.New("use of closed network connection")
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

func (c *fakeConn) sentPayloads() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// scriptedTransport returns each outcome once, in order, then fails.
type scriptedTransport struct {
	mu       sync.Mutex
	outcomes []connectOutcome
}

type connectOutcome struct {
	conn Conn
	err  error
}

func (s *scriptedTransport) Connect(ctx context.Context, url string, timeout time.Duration) (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.outcomes) == 0 {
		return nil, errors.New("no more scripted connections")
	}
	out := s.outcomes[0]
	s.outcomes = s.outcomes[1:]
	return out.conn, out.err
}

// failingTransport refuses every dial.
type failingTransport struct{}

func (failingTransport) Connect(context.Context, string, time.Duration) (Conn, error) {
	return nil, errors.New("connection refused")
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.WebSocket.ReconnectDelay = config.Duration(time.Millisecond)
	cfg.Health.CheckInterval = 0
	return cfg
}

func textFrame(s string) Frame {
	return Frame{Opcode: OpText, Payload: []byte(s)}
}

func tradeFrame(coin string, tid int64) Frame {
	return textFrame(fmt.Sprintf(
		`{"channel":"trades","data":[{"coin":"%s","side":"B","px":"43250.5","sz":"0.5","time":%d,"hash":"0x%d","tid":%d,"users":["0xa","0xb"]}]}`,
		coin, time.Now().UnixMilli(), tid, tid,
	))
}

const ackFrame = `{"channel":"subscriptionResponse","data":{"method":"subscribe","subscription":{"type":"trades","coin":"BTC"}}}`

// nextEvent reads one event, skipping raw message notifications which
// interleave with everything else.
func nextEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == events.TypeMessageReceived {
				continue
			}
			return ev
		case <-deadline:
			t.Fatal("timed out waiting for event")
		}
	}
}

func expectEvent(t *testing.T, ch <-chan events.Event, typ events.Type) events.Event {
	t.Helper()
	ev := nextEvent(t, ch)
	if ev.Type != typ {
		t.Fatalf("expected %s, got %s", typ, ev.Type)
	}
	return ev
}

// Full lifecycle: a failed dial, a reconnect, a confirmed subscription, a
// trade, a duplicate that produces no event, and a second trade.
func TestSessionLifecycle(t *testing.T) {
	conn := newFakeConn(
		textFrame(ackFrame),
		tradeFrame("BTC", 5),
		tradeFrame("BTC", 5), // immediate duplicate, must not surface
		tradeFrame("BTC", 7),
	)
	transport := &scriptedTransport{outcomes: []connectOutcome{
		{err: errors.New("dial tcp: i/o timeout")},
		{conn: conn},
	}}

	cfg := testConfig()
	bus := events.NewBus(64)
	sess := New(cfg, transport, bus, integrity.NewTracker(), reconnect.NewController(reconnect.FixedDelay{D: time.Millisecond}, 0))

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	ch := bus.Events()
	expectEvent(t, ch, events.TypeStarting)
	expectEvent(t, ch, events.TypeConnecting)

	ev := expectEvent(t, ch, events.TypeReconnecting)
	if ev.Attempt != 1 {
		t.Errorf("expected attempt 1, got %d", ev.Attempt)
	}

	expectEvent(t, ch, events.TypeConnecting)
	connected := expectEvent(t, ch, events.TypeConnected)
	if connected.SessionID == "" {
		t.Error("connected event missing session id")
	}

	expectEvent(t, ch, events.TypeSubscriptionSent)
	confirmed := expectEvent(t, ch, events.TypeSubscriptionConfirmed)
	if confirmed.SubType != "trades" || confirmed.Coin != "BTC" {
		t.Errorf("unexpected confirmation: %s/%s", confirmed.SubType, confirmed.Coin)
	}

	first := expectEvent(t, ch, events.TypeTradeReceived)
	if first.Trade == nil || first.Trade.Tid != 5 {
		t.Fatalf("unexpected first trade: %+v", first.Trade)
	}

	// The duplicate is swallowed, so the very next trade event carries 7.
	second := expectEvent(t, ch, events.TypeTradeReceived)
	if second.Trade == nil || second.Trade.Tid != 7 {
		t.Fatalf("duplicate leaked or trade lost: %+v", second.Trade)
	}

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("run returned error on shutdown: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop on cancellation")
	}
	expectEvent(t, ch, events.TypeStopping)

	writes := conn.sentPayloads()
	if len(writes) == 0 {
		t.Fatal("no subscription written")
	}
	var sub struct {
		Method       string `json:"method"`
		Subscription struct {
			Type string `json:"type"`
			Coin string `json:"coin"`
		} `json:"subscription"`
	}
	if err := json.Unmarshal(writes[0], &sub); err != nil {
		t.Fatalf("subscription not valid JSON: %v", err)
	}
	if sub.Method != "subscribe" || sub.Subscription.Type != "trades" || sub.Subscription.Coin != "BTC" {
		t.Errorf("unexpected subscription: %s", writes[0])
	}
}

func TestSessionMaxReconnectsExceeded(t *testing.T) {
	cfg := testConfig()
	cfg.WebSocket.MaxReconnects = 2

	bus := events.NewBus(64)
	sess := New(cfg, failingTransport{}, bus, integrity.NewTracker(), reconnect.NewController(reconnect.FixedDelay{D: time.Millisecond}, 2))

	err := sess.Run(context.Background())
	if err == nil {
		t.Fatal("expected terminal error")
	}
	if !errors.Is(err, reconnect.ErrMaxReconnectsExceeded) {
		t.Fatalf("unexpected error: %v", err)
	}

	bus.Close()
	var reconnecting int
	var stopping bool
	for ev := range bus.Events() {
		switch ev.Type {
		case events.TypeReconnecting:
			reconnecting++
		case events.TypeStopping:
			stopping = true
		}
	}
	// Attempts 1 and 2 schedule retries; the third consecutive failure is
	// terminal without another dial.
	if reconnecting != 2 {
		t.Errorf("expected 2 reconnecting events, got %d", reconnecting)
	}
	if !stopping {
		t.Error("expected stopping event before terminal return")
	}
}

func TestSessionServerClose(t *testing.T) {
	first := newFakeConn(
		textFrame(ackFrame),
		Frame{Opcode: OpClose, Payload: []byte("going away")},
	)
	second := newFakeConn(textFrame(ackFrame))
	transport := &scriptedTransport{outcomes: []connectOutcome{
		{conn: first},
		{conn: second},
	}}

	cfg := testConfig()
	bus := events.NewBus(64)
	sess := New(cfg, transport, bus, integrity.NewTracker(), reconnect.NewController(reconnect.FixedDelay{D: time.Millisecond}, 0))

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	ch := bus.Events()
	expectEvent(t, ch, events.TypeStarting)
	expectEvent(t, ch, events.TypeConnecting)
	expectEvent(t, ch, events.TypeConnected)
	expectEvent(t, ch, events.TypeSubscriptionSent)
	expectEvent(t, ch, events.TypeSubscriptionConfirmed)

	disc := expectEvent(t, ch, events.TypeDisconnected)
	if disc.Reason != "going away" {
		t.Errorf("unexpected close reason: %q", disc.Reason)
	}

	// A server close is recoverable: the session reconnects.
	expectEvent(t, ch, events.TypeReconnecting)
	expectEvent(t, ch, events.TypeConnecting)
	expectEvent(t, ch, events.TypeConnected)
	expectEvent(t, ch, events.TypeSubscriptionSent)
	expectEvent(t, ch, events.TypeSubscriptionConfirmed)

	// Reaching the listening state again clears the attempt counter.
	if snap := sess.Snapshot(); snap.Reconnects != 0 {
		t.Errorf("reconnect counter not reset after new session: %d", snap.Reconnects)
	}

	cancel()
	select {
	case <-runErr:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
}

func TestSessionHealthForcedFailure(t *testing.T) {
	// No frames at all: the stream is silent from the start.
	silent := newFakeConn()
	replacement := newFakeConn(textFrame(ackFrame))
	transport := &scriptedTransport{outcomes: []connectOutcome{
		{conn: silent},
		{conn: replacement},
	}}

	cfg := testConfig()
	cfg.Health.CheckInterval = config.Duration(10 * time.Millisecond)

	bus := events.NewBus(64)
	sess := New(cfg, transport, bus, integrity.NewTracker(), reconnect.NewController(reconnect.FixedDelay{D: time.Millisecond}, 0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	ch := bus.Events()
	expectEvent(t, ch, events.TypeStarting)
	expectEvent(t, ch, events.TypeConnecting)
	expectEvent(t, ch, events.TypeConnected)
	expectEvent(t, ch, events.TypeSubscriptionSent)

	expectEvent(t, ch, events.TypeHealthCheckFailed)
	expectEvent(t, ch, events.TypeReconnecting)
	expectEvent(t, ch, events.TypeConnecting)
	expectEvent(t, ch, events.TypeConnected)

	cancel()
	select {
	case <-runErr:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
}

func TestSessionRunTwice(t *testing.T) {
	cfg := testConfig()
	bus := events.NewBus(64)
	sess := New(cfg, failingTransport{}, bus, integrity.NewTracker(), reconnect.NewController(reconnect.FixedDelay{D: time.Hour}, 0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx)

	expectEvent(t, bus.Events(), events.TypeStarting)
	if err := sess.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestSessionSnapshot(t *testing.T) {
	cfg := testConfig()
	bus := events.NewBus(64)
	sess := New(cfg, failingTransport{}, bus, integrity.NewTracker(), reconnect.NewController(reconnect.FixedDelay{D: time.Hour}, 0))

	snap := sess.Snapshot()
	if snap.State != string(StateIdle) {
		t.Errorf("expected idle state, got %s", snap.State)
	}
	if snap.Connected {
		t.Error("fresh session reports connected")
	}
}
