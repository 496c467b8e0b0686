// Package models holds the wire shapes exchanged with the Hyperliquid
// websocket endpoint.
//
// Reference: https://hyperliquid.gitbook.io/hyperliquid-docs/for-developers/api/websocket
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// StringFloat decodes numeric fields the exchange serializes as strings
// ("px":"43250.5"). Plain JSON numbers are accepted too.
type StringFloat float64

func (f *StringFloat) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty numeric value")
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid numeric string %q: %w", s, err)
		}
		*f = StringFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = StringFloat(v)
	return nil
}

func (f StringFloat) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatFloat(float64(f), 'f', -1, 64))
}

// Float64 returns the plain float value.
func (f StringFloat) Float64() float64 { return float64(f) }

// SubscriptionRequest is the message sent once per session after the upgrade.
type SubscriptionRequest struct {
	Method       string       `json:"method"`
	Subscription Subscription `json:"subscription"`
}

type Subscription struct {
	Type string `json:"type"`
	Coin string `json:"coin"`
}

// NewTradesSubscription subscribes to the trade feed for one coin.
func NewTradesSubscription(coin string) SubscriptionRequest {
	return SubscriptionRequest{
		Method:       "subscribe",
		Subscription: Subscription{Type: "trades", Coin: coin},
	}
}

// NewL2BookSubscription subscribes to level-2 order book updates.
func NewL2BookSubscription(coin string) SubscriptionRequest {
	return SubscriptionRequest{
		Method:       "subscribe",
		Subscription: Subscription{Type: "l2Book", Coin: coin},
	}
}

// NewBboSubscription subscribes to best-bid-offer updates.
func NewBboSubscription(coin string) SubscriptionRequest {
	return SubscriptionRequest{
		Method:       "subscribe",
		Subscription: Subscription{Type: "bbo", Coin: coin},
	}
}

// NewAllMidsSubscription subscribes to mid prices for every coin.
func NewAllMidsSubscription() SubscriptionRequest {
	return SubscriptionRequest{
		Method:       "subscribe",
		Subscription: Subscription{Type: "allMids", Coin: "*"},
	}
}

// NewCandleSubscription subscribes to candles for one coin and interval.
func NewCandleSubscription(coin, interval string) SubscriptionRequest {
	return SubscriptionRequest{
		Method:       "subscribe",
		Subscription: Subscription{Type: "candle." + interval, Coin: coin},
	}
}

// NewUserEventsSubscription subscribes to events for one user address.
func NewUserEventsSubscription(user string) SubscriptionRequest {
	return SubscriptionRequest{
		Method:       "subscribe",
		Subscription: Subscription{Type: "userEvents", Coin: user},
	}
}

// NewUserFillsSubscription subscribes to fills for one user address.
func NewUserFillsSubscription(user string) SubscriptionRequest {
	return SubscriptionRequest{
		Method:       "subscribe",
		Subscription: Subscription{Type: "userFills", Coin: user},
	}
}

// NewNotificationSubscription subscribes to system notifications.
func NewNotificationSubscription() SubscriptionRequest {
	return SubscriptionRequest{
		Method:       "subscribe",
		Subscription: Subscription{Type: "notification", Coin: "*"},
	}
}

// SubscriptionAck echoes the request back inside a subscriptionResponse
// envelope once the server accepts it.
type SubscriptionAck struct {
	Method       string       `json:"method"`
	Subscription Subscription `json:"subscription"`
}

// Trade is a single fill from the trades channel.
type Trade struct {
	Coin  string      `json:"coin"`
	Side  string      `json:"side"`
	Price StringFloat `json:"px"`
	Size  StringFloat `json:"sz"`
	Time  int64       `json:"time"`
	Hash  string      `json:"hash"`
	Tid   int64       `json:"tid"`
	Users []string    `json:"users"`
}

// Value returns price * size.
func (t Trade) Value() float64 {
	return t.Price.Float64() * t.Size.Float64()
}

// Timestamp converts the millisecond server time to a time.Time in UTC.
func (t Trade) Timestamp() time.Time {
	return time.UnixMilli(t.Time).UTC()
}

// IsBuy reports whether the trade side is a buy after normalization.
func (t Trade) IsBuy() bool {
	switch strings.ToUpper(t.Side) {
	case "B", "BUY":
		return true
	}
	return false
}

// IsSell reports whether the trade side is a sell after normalization.
func (t Trade) IsSell() bool {
	switch strings.ToUpper(t.Side) {
	case "S", "SELL":
		return true
	}
	return false
}

// SideFormatted returns the canonical side label. Anything that is not a
// recognized buy is treated as a sell, matching the upstream two-value space.
func (t Trade) SideFormatted() string {
	if t.IsBuy() {
		return "BUY"
	}
	return "SELL"
}

// BuyerSeller returns the buyer and seller addresses when present.
func (t Trade) BuyerSeller() (buyer, seller string) {
	switch len(t.Users) {
	case 0:
		return "", ""
	case 1:
		return t.Users[0], ""
	default:
		return t.Users[0], t.Users[1]
	}
}

// Level is one price level of the order book.
type Level struct {
	Price  StringFloat `json:"px"`
	Size   StringFloat `json:"sz"`
	Orders int         `json:"n"`
}

// Book is an order book snapshot; Levels[0] holds bids, Levels[1] asks.
type Book struct {
	Coin   string     `json:"coin"`
	Levels [2][]Level `json:"levels"`
	Time   int64      `json:"time"`
}

// Bbo carries the best bid and offer; either side may be absent.
type Bbo struct {
	Coin string    `json:"coin"`
	Time int64     `json:"time"`
	Bbo  [2]*Level `json:"bbo"`
}

// AllMids maps every coin to its current mid price.
type AllMids struct {
	Mids map[string]string `json:"mids"`
}

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime  int64   `json:"t"`
	CloseTime int64   `json:"T"`
	Coin      string  `json:"s"`
	Interval  string  `json:"i"`
	Open      float64 `json:"o"`
	Close     float64 `json:"c"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Volume    float64 `json:"v"`
	Trades    int     `json:"n"`
}

// OpenTimestamp converts the open time to UTC.
func (c Candle) OpenTimestamp() time.Time { return time.UnixMilli(c.OpenTime).UTC() }

// CloseTimestamp converts the close time to UTC.
func (c Candle) CloseTimestamp() time.Time { return time.UnixMilli(c.CloseTime).UTC() }

// UserEvent is the union of account events; exactly one field group is set.
type UserEvent struct {
	Fills         []Fill          `json:"fills,omitempty"`
	Funding       *UserFunding    `json:"funding,omitempty"`
	Liquidation   *Liquidation    `json:"liquidation,omitempty"`
	NonUserCancel []NonUserCancel `json:"non_user_cancel,omitempty"`
}

type Fill struct {
	Coin          string `json:"coin"`
	Price         string `json:"px"`
	Size          string `json:"sz"`
	Side          string `json:"side"`
	Time          int64  `json:"time"`
	StartPosition string `json:"startPosition"`
	Dir           string `json:"dir"`
	ClosedPnl     string `json:"closedPnl"`
	Hash          string `json:"hash"`
	Oid           int64  `json:"oid"`
	Crossed       bool   `json:"crossed"`
	Fee           string `json:"fee"`
	Tid           int64  `json:"tid"`
	FeeToken      string `json:"feeToken"`
	BuilderFee    string `json:"builderFee,omitempty"`
}

type UserFunding struct {
	Time        int64  `json:"time"`
	Coin        string `json:"coin"`
	Usdc        string `json:"usdc"`
	Szi         string `json:"szi"`
	FundingRate string `json:"fundingRate"`
}

type Liquidation struct {
	Lid                    int64  `json:"lid"`
	Liquidator             string `json:"liquidator"`
	LiquidatedUser         string `json:"liquidated_user"`
	LiquidatedNtlPos       string `json:"liquidated_ntl_pos"`
	LiquidatedAccountValue string `json:"liquidated_account_value"`
}

type NonUserCancel struct {
	Coin string `json:"coin"`
	Oid  int64  `json:"oid"`
}

// Notification is a free-form system message.
type Notification struct {
	Notification string `json:"notification"`
}
