// Package classify turns opaque text payloads from the exchange into typed
// records. Decoding is attempted in a fixed priority order: the enveloped
// channel union first, then the bare-array fallbacks, and finally a generic
// channel-name heuristic. Payloads that fail every path are reported as
// unparsed, never silently dropped.
package classify

import (
	"encoding/json"
	"math"

	"golang.org/x/time/rate"

	"hyperflow/logger"
	"hyperflow/models"
)

// Kind tags the classification outcome.
type Kind int

const (
	KindUnparsed Kind = iota
	KindSubscriptionAck
	KindTrades
	KindBook
	KindBbo
	KindAllMids
	KindCandles
	KindUserEvent
	KindNotification
	KindKeepAlive
)

func (k Kind) String() string {
	switch k {
	case KindSubscriptionAck:
		return "subscription_ack"
	case KindTrades:
		return "trades"
	case KindBook:
		return "book"
	case KindBbo:
		return "bbo"
	case KindAllMids:
		return "all_mids"
	case KindCandles:
		return "candles"
	case KindUserEvent:
		return "user_event"
	case KindNotification:
		return "notification"
	case KindKeepAlive:
		return "keep_alive"
	default:
		return "unparsed"
	}
}

// Result carries the typed records extracted from one payload. Exactly the
// fields matching Kind are populated.
type Result struct {
	Kind    Kind
	Channel string

	Trades       []models.Trade
	Candles      []models.Candle
	Book         *models.Book
	Bbo          *models.Bbo
	AllMids      *models.AllMids
	UserEvent    *models.UserEvent
	Notification *models.Notification
	Ack          *models.SubscriptionAck
}

type envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// Classifier decodes payloads. Unparsed payloads are logged at warn level,
// throttled so a misbehaving server cannot flood the log.
type Classifier struct {
	log     *logger.Log
	limiter *rate.Limiter
}

func New() *Classifier {
	return &Classifier{
		log:     logger.GetLogger(),
		limiter: rate.NewLimiter(rate.Limit(1), 5),
	}
}

// Classify parses one text payload.
func (c *Classifier) Classify(payload []byte) Result {
	var env envelope
	if err := json.Unmarshal(payload, &env); err == nil && env.Channel != "" {
		if res, ok := c.classifyEnvelope(env); ok {
			return res
		}
		// Unknown channel name: inspect the data for recognizable shapes
		// before giving up, per the fallback heuristics.
		if res, ok := c.classifyUnknownChannel(env); ok {
			return res
		}
		return c.unparsed(payload, env.Channel)
	}

	// No envelope. The server occasionally sends bare arrays of trades or
	// candles without the channel wrapper.
	if trades, ok := decodeTrades(payload); ok {
		return Result{Kind: KindTrades, Trades: trades}
	}
	if candles, ok := decodeCandles(payload); ok {
		return Result{Kind: KindCandles, Candles: candles}
	}

	return c.unparsed(payload, "")
}

func (c *Classifier) classifyEnvelope(env envelope) (Result, bool) {
	switch env.Channel {
	case "subscriptionResponse":
		var ack models.SubscriptionAck
		if err := json.Unmarshal(env.Data, &ack); err != nil || ack.Method == "" {
			return Result{}, false
		}
		return Result{Kind: KindSubscriptionAck, Channel: env.Channel, Ack: &ack}, true

	case "trades":
		trades, ok := decodeTrades(env.Data)
		if !ok {
			return Result{}, false
		}
		return Result{Kind: KindTrades, Channel: env.Channel, Trades: trades}, true

	case "l2Book":
		var book models.Book
		if err := json.Unmarshal(env.Data, &book); err != nil || book.Coin == "" {
			return Result{}, false
		}
		return Result{Kind: KindBook, Channel: env.Channel, Book: &book}, true

	case "bbo":
		var bbo models.Bbo
		if err := json.Unmarshal(env.Data, &bbo); err != nil || bbo.Coin == "" {
			return Result{}, false
		}
		return Result{Kind: KindBbo, Channel: env.Channel, Bbo: &bbo}, true

	case "allMids":
		var mids models.AllMids
		if err := json.Unmarshal(env.Data, &mids); err != nil || mids.Mids == nil {
			return Result{}, false
		}
		return Result{Kind: KindAllMids, Channel: env.Channel, AllMids: &mids}, true

	case "candle":
		if candles, ok := decodeCandles(env.Data); ok {
			return Result{Kind: KindCandles, Channel: env.Channel, Candles: candles}, true
		}
		// A single candle object is also valid on this channel.
		var one models.Candle
		if err := json.Unmarshal(env.Data, &one); err == nil && one.Coin != "" {
			return Result{Kind: KindCandles, Channel: env.Channel, Candles: []models.Candle{one}}, true
		}
		return Result{}, false

	case "user", "userEvents":
		var ue models.UserEvent
		if err := json.Unmarshal(env.Data, &ue); err != nil {
			return Result{}, false
		}
		if len(ue.Fills) == 0 && ue.Funding == nil && ue.Liquidation == nil && len(ue.NonUserCancel) == 0 {
			return Result{}, false
		}
		return Result{Kind: KindUserEvent, Channel: env.Channel, UserEvent: &ue}, true

	case "notification":
		var n models.Notification
		if err := json.Unmarshal(env.Data, &n); err != nil || n.Notification == "" {
			return Result{}, false
		}
		return Result{Kind: KindNotification, Channel: env.Channel, Notification: &n}, true

	case "ping", "pong":
		return Result{Kind: KindKeepAlive, Channel: env.Channel}, true
	}

	return Result{}, false
}

// classifyUnknownChannel recognizes at least subscription acknowledgements
// and trade lists delivered under unexpected channel names.
func (c *Classifier) classifyUnknownChannel(env envelope) (Result, bool) {
	if len(env.Data) == 0 {
		return Result{}, false
	}
	var ack models.SubscriptionAck
	if err := json.Unmarshal(env.Data, &ack); err == nil && ack.Method == "subscribe" {
		return Result{Kind: KindSubscriptionAck, Channel: env.Channel, Ack: &ack}, true
	}
	if trades, ok := decodeTrades(env.Data); ok {
		return Result{Kind: KindTrades, Channel: env.Channel, Trades: trades}, true
	}
	return Result{}, false
}

func (c *Classifier) unparsed(payload []byte, channel string) Result {
	logger.IncrementUnparsed()
	if c.limiter.Allow() {
		raw := string(payload)
		if len(raw) > 512 {
			raw = raw[:512]
		}
		c.log.WithComponent("classifier").WithFields(logger.Fields{
			"channel": channel,
			"payload": raw,
		}).Warn("unparsed message")
	}
	return Result{Kind: KindUnparsed, Channel: channel}
}

// decodeTrades accepts a JSON array of trade objects. Every element must
// carry a coin, an identifier and non-negative finite price and size, so
// candle arrays and other shapes do not masquerade as trades.
func decodeTrades(data []byte) ([]models.Trade, bool) {
	var trades []models.Trade
	if err := json.Unmarshal(data, &trades); err != nil || len(trades) == 0 {
		return nil, false
	}
	for _, t := range trades {
		if t.Coin == "" || t.Tid == 0 {
			return nil, false
		}
		if !validAmount(t.Price.Float64()) || !validAmount(t.Size.Float64()) {
			return nil, false
		}
	}
	return trades, true
}

func validAmount(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// decodeCandles accepts a JSON array of candle objects.
func decodeCandles(data []byte) ([]models.Candle, bool) {
	var candles []models.Candle
	if err := json.Unmarshal(data, &candles); err != nil || len(candles) == 0 {
		return nil, false
	}
	for _, c := range candles {
		if c.Coin == "" || c.Interval == "" {
			return nil, false
		}
	}
	return candles, true
}
