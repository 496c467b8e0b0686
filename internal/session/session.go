// Package session drives the websocket connection lifecycle: connect,
// subscribe, receive, classify, and recover. One Session owns the live
// transport handle; transitions are sequential and never overlap across
// sessions.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"hyperflow/config"
	"hyperflow/internal/classify"
	"hyperflow/internal/events"
	"hyperflow/internal/health"
	"hyperflow/internal/integrity"
	"hyperflow/internal/metrics"
	"hyperflow/internal/reconnect"
	"hyperflow/logger"
	"hyperflow/models"
)

// State labels the session lifecycle position.
type State string

const (
	StateIdle        State = "idle"
	StateConnecting  State = "connecting"
	StateHandshaking State = "handshaking"
	StateSubscribing State = "subscribing"
	StateListening   State = "listening"
	StateClosing     State = "closing"
	StateFailed      State = "failed"
)

// Interval for the application-level keep-alive ping the exchange expects.
const heartbeatInterval = 50 * time.Second

var heartbeatPayload = []byte(`{"method":"ping"}`)

// Snapshot is a point-in-time copy of session state for the health surface.
type Snapshot struct {
	State          string    `json:"state"`
	SessionID      string    `json:"session_id"`
	Connected      bool      `json:"connected"`
	LastMessage    time.Time `json:"last_message"`
	Reconnects     int       `json:"reconnects"`
	TotalMessages  uint64    `json:"total_messages"`
	TotalTrades    uint64    `json:"total_trades"`
	LastDisconnect time.Time `json:"last_disconnect"`
	StartTime      time.Time `json:"start_time"`
}

// Session is the connection state machine.
type Session struct {
	cfg        *config.Config
	transport  Transport
	bus        *events.Bus
	tracker    *integrity.Tracker
	classifier *classify.Classifier
	policy     *reconnect.Controller
	log        *logger.Log

	mu             sync.Mutex
	running        bool
	state          State
	sessionID      string
	connected      bool
	lastMessage    time.Time
	reconnects     int
	totalMessages  uint64
	totalTrades    uint64
	lastDisconnect time.Time
	startTime      time.Time
	conn           Conn

	healthFailed atomic.Bool
}

// New builds a session. The transport is injected so tests can script it.
func New(cfg *config.Config, transport Transport, bus *events.Bus, tracker *integrity.Tracker, policy *reconnect.Controller) *Session {
	return &Session{
		cfg:        cfg,
		transport:  transport,
		bus:        bus,
		tracker:    tracker,
		classifier: classify.New(),
		policy:     policy,
		log:        logger.GetLogger(),
		state:      StateIdle,
	}
}

// Run drives the connect/listen/reconnect loop until the context is
// cancelled or the reconnect budget is exhausted. Only a policy-terminal
// condition returns an error.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.startTime = time.Now()
	s.mu.Unlock()

	log := s.log.WithComponent("session")
	s.publish(ctx, events.Event{Type: events.TypeStarting})

	for {
		err := s.connectAndListen(ctx)

		if ctx.Err() != nil {
			s.setState(StateClosing)
			log.Info("shutdown requested, closing session")
			s.publishFinal(events.Event{Type: events.TypeStopping})
			s.setState(StateIdle)
			return nil
		}

		s.setState(StateFailed)
		log.WithError(err).Warn("session failed")

		attempt := s.incrementReconnects()
		metrics.IncrementReconnect()
		logger.IncrementRetryCount()
		log.LogMetric("session", "reconnect_attempts", attempt, "counter", logger.Fields{
			"coin": s.cfg.Subscription.Coin,
		})

		if perr := s.policy.Check(attempt); perr != nil {
			log.WithFields(logger.Fields{"attempts": attempt}).Error("maximum reconnection attempts reached")
			s.publishFinal(events.Event{Type: events.TypeStopping})
			return fmt.Errorf("session terminated after %d attempts: %w", attempt, perr)
		}

		delay := s.policy.Delay(attempt)
		log.WithFields(logger.Fields{
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warn("reconnecting")
		s.publish(ctx, events.Event{Type: events.TypeReconnecting, Attempt: attempt, Delay: delay})

		if werr := s.policy.Wait(ctx, attempt); werr != nil {
			s.setState(StateClosing)
			s.publishFinal(events.Event{Type: events.TypeStopping})
			s.setState(StateIdle)
			return nil
		}
		s.setState(StateIdle)
	}
}

// connectAndListen performs one full session: dial, subscribe, then pump
// frames until something fails.
func (s *Session) connectAndListen(ctx context.Context) error {
	log := s.log.WithComponent("session")
	wsCfg := s.cfg.WebSocket

	s.setState(StateConnecting)
	s.publish(ctx, events.Event{Type: events.TypeConnecting, URL: wsCfg.URL})

	conn, err := s.transport.Connect(ctx, wsCfg.URL, wsCfg.ConnectTimeout.Std())
	if err != nil {
		return fmt.Errorf("connect %s: %w", wsCfg.URL, err)
	}
	// The dial covers the protocol upgrade as well, so Handshaking is
	// observable only as a transition.
	s.setState(StateHandshaking)

	sessionID := uuid.NewString()
	s.mu.Lock()
	s.conn = conn
	s.sessionID = sessionID
	s.connected = true
	s.lastMessage = time.Now()
	s.mu.Unlock()
	metrics.SetConnected(true)

	defer func() {
		_ = conn.Close()
		s.mu.Lock()
		s.conn = nil
		s.connected = false
		s.lastDisconnect = time.Now()
		s.mu.Unlock()
		metrics.SetConnected(false)
	}()

	log.WithFields(logger.Fields{"url": wsCfg.URL, "session_id": sessionID}).Info("websocket connection established")
	s.publish(ctx, events.Event{Type: events.TypeConnected, SessionID: sessionID, URL: wsCfg.URL})

	s.setState(StateSubscribing)
	sub := models.SubscriptionRequest{
		Method:       "subscribe",
		Subscription: models.Subscription{Type: s.cfg.Subscription.Type, Coin: s.cfg.Subscription.Coin},
	}
	payload, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal subscription: %w", err)
	}
	if err := conn.WriteText(payload); err != nil {
		return fmt.Errorf("send subscription: %w", err)
	}
	log.WithFields(logger.Fields{"subscription": string(payload)}).Info("subscription sent")
	s.publish(ctx, events.Event{Type: events.TypeSubscriptionSent, Payload: string(payload)})

	s.setState(StateListening)
	s.resetReconnects()

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Unblocks the read loop on external shutdown.
	go func() {
		<-sessionCtx.Done()
		_ = conn.Close()
	}()

	s.healthFailed.Store(false)
	if interval := s.cfg.Health.CheckInterval.Std(); interval > 0 {
		mon := health.NewMonitor(interval, s.lastMessageTime, func(reason string) {
			s.healthFailed.Store(true)
			s.publish(sessionCtx, events.Event{Type: events.TypeHealthCheckFailed, Reason: reason})
			_ = conn.Close()
		})
		go mon.Run(sessionCtx)
	}

	go s.heartbeat(sessionCtx, conn)

	return s.readLoop(ctx, conn)
}

func (s *Session) readLoop(ctx context.Context, conn Conn) error {
	log := s.log.WithComponent("session")

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if s.healthFailed.Load() {
				return fmt.Errorf("%w: %v", ErrStreamStale, err)
			}
			return fmt.Errorf("read frame: %w", err)
		}

		s.touch()

		switch frame.Opcode {
		case OpClose:
			log.WithFields(logger.Fields{"reason": string(frame.Payload)}).Info("received close frame")
			s.publish(ctx, events.Event{Type: events.TypeDisconnected, Reason: string(frame.Payload)})
			return ErrConnectionClosed
		case OpPing, OpPong:
			log.WithFields(logger.Fields{"opcode": frame.Opcode.String()}).Debug("control frame")
		case OpBinary:
			log.WithFields(logger.Fields{"bytes": len(frame.Payload)}).Warn("binary messages not supported")
		case OpText:
			s.handlePayload(ctx, frame.Payload)
		}
	}
}

// handlePayload routes one text payload through the classifier, the
// integrity tracker and onto the bus. Message-level problems never
// terminate the session.
func (s *Session) handlePayload(ctx context.Context, payload []byte) {
	log := s.log.WithComponent("session")

	s.mu.Lock()
	s.totalMessages++
	s.mu.Unlock()
	s.tracker.RecordMessage()
	metrics.IncrementMessageReceived()
	logger.IncrementMessageRead(len(payload))

	s.publish(ctx, events.Event{Type: events.TypeMessageReceived, Payload: string(payload)})

	res := s.classifier.Classify(payload)
	switch res.Kind {
	case classify.KindSubscriptionAck:
		log.WithFields(logger.Fields{
			"type": res.Ack.Subscription.Type,
			"coin": res.Ack.Subscription.Coin,
		}).Info("subscription confirmed")
		s.publish(ctx, events.Event{
			Type:    events.TypeSubscriptionConfirmed,
			SubType: res.Ack.Subscription.Type,
			Coin:    res.Ack.Subscription.Coin,
		})

	case classify.KindTrades:
		s.handleTrades(ctx, res.Trades)

	case classify.KindBook:
		log.WithFields(logger.Fields{
			"coin": res.Book.Coin,
			"bids": len(res.Book.Levels[0]),
			"asks": len(res.Book.Levels[1]),
		}).Debug("order book update")

	case classify.KindBbo:
		log.WithFields(logger.Fields{"coin": res.Bbo.Coin}).Debug("bbo update")

	case classify.KindAllMids:
		log.WithFields(logger.Fields{"symbols": len(res.AllMids.Mids)}).Debug("all mids update")

	case classify.KindCandles:
		log.WithFields(logger.Fields{"candles": len(res.Candles)}).Debug("candle update")

	case classify.KindUserEvent:
		s.logUserEvent(res.UserEvent)

	case classify.KindNotification:
		log.WithFields(logger.Fields{"notification": res.Notification.Notification}).Info("system notification")

	case classify.KindKeepAlive:
		log.Debug("keep-alive message")

	case classify.KindUnparsed:
		metrics.IncrementUnparsed()
	}
}

func (s *Session) handleTrades(ctx context.Context, trades []models.Trade) {
	log := s.log.WithComponent("session")

	for _, trade := range trades {
		if !s.tracker.ObserveTimestamp(trade.Time) {
			metrics.IncrementInvalidTimestamp()
			log.WithFields(logger.Fields{
				"coin": trade.Coin,
				"tid":  trade.Tid,
				"time": trade.Time,
			}).Debug("implausible trade timestamp")
		}

		if !s.tracker.RecordTrade(trade.Coin, trade.Tid) {
			metrics.IncrementDuplicateTrade(trade.Coin)
			logger.IncrementDuplicateTrade()
			log.WithFields(logger.Fields{"coin": trade.Coin, "tid": trade.Tid}).Debug("duplicate trade rejected")
			continue
		}

		s.mu.Lock()
		s.totalTrades++
		s.mu.Unlock()
		metrics.IncrementTrade(trade.Coin)
		logger.IncrementTradeRead()

		t := trade
		s.publish(ctx, events.Event{Type: events.TypeTradeReceived, Trade: &t})
	}
}

func (s *Session) logUserEvent(ue *models.UserEvent) {
	log := s.log.WithComponent("session")
	switch {
	case len(ue.Fills) > 0:
		log.WithFields(logger.Fields{"fills": len(ue.Fills)}).Info("user fills")
	case ue.Funding != nil:
		log.WithFields(logger.Fields{"coin": ue.Funding.Coin, "usdc": ue.Funding.Usdc}).Info("funding update")
	case ue.Liquidation != nil:
		log.WithFields(logger.Fields{"lid": ue.Liquidation.Lid}).Warn("liquidation event")
	case len(ue.NonUserCancel) > 0:
		log.WithFields(logger.Fields{"cancels": len(ue.NonUserCancel)}).Info("non-user cancellations")
	}
}

// heartbeat sends the application-level ping the exchange uses to keep idle
// connections open.
func (s *Session) heartbeat(ctx context.Context, conn Conn) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteText(heartbeatPayload); err != nil {
				return
			}
		}
	}
}

func (s *Session) publish(ctx context.Context, ev events.Event) {
	if !s.bus.Publish(ctx, ev) {
		s.log.WithComponent("session").WithFields(logger.Fields{
			"event": string(ev.Type),
		}).Debug("event not delivered")
	}
}

// publishFinal delivers shutdown events even though the run context is
// already cancelled, with a bounded wait so a full bus cannot hang teardown.
func (s *Session) publishFinal(ev events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.publish(ctx, ev)
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()
	if prev != state {
		s.log.WithComponent("session").WithFields(logger.Fields{
			"from": string(prev),
			"to":   string(state),
		}).Debug("state transition")
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastMessage = time.Now()
	s.mu.Unlock()
}

func (s *Session) lastMessageTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMessage
}

func (s *Session) incrementReconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
	return s.reconnects
}

func (s *Session) resetReconnects() {
	s.mu.Lock()
	s.reconnects = 0
	s.mu.Unlock()
}

// Snapshot returns a copy of the session state for health reporting.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:          string(s.state),
		SessionID:      s.sessionID,
		Connected:      s.connected,
		LastMessage:    s.lastMessage,
		Reconnects:     s.reconnects,
		TotalMessages:  s.totalMessages,
		TotalTrades:    s.totalTrades,
		LastDisconnect: s.lastDisconnect,
		StartTime:      s.startTime,
	}
}
