// Package events carries lifecycle and data notifications from the session
// worker to presentation and metrics consumers over a bounded bus.
package events

import (
	"time"

	"hyperflow/models"
)

// Type identifies the kind of client event.
type Type string

const (
	TypeStarting              Type = "starting"
	TypeConnecting            Type = "connecting"
	TypeConnected             Type = "connected"
	TypeSubscriptionSent      Type = "subscription_sent"
	TypeSubscriptionConfirmed Type = "subscription_confirmed"
	TypeMessageReceived       Type = "message_received"
	TypeTradeReceived         Type = "trade_received"
	TypeReconnecting          Type = "reconnecting"
	TypeHealthCheckFailed     Type = "health_check_failed"
	TypeDisconnected          Type = "disconnected"
	TypeStopping              Type = "stopping"
)

// Event is the union of client notifications. Type selects which of the
// optional fields carry data.
type Event struct {
	Type Type
	Time time.Time

	// Connecting / Connected
	URL       string
	SessionID string

	// SubscriptionSent / MessageReceived
	Payload string

	// SubscriptionConfirmed
	SubType string
	Coin    string

	// TradeReceived
	Trade *models.Trade

	// Reconnecting
	Attempt int
	Delay   time.Duration

	// HealthCheckFailed / Disconnected
	Reason string
}
