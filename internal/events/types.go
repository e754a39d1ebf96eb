// internal/events/types.go
package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType represents the type of event.
type EventType string

const (
	// Auth events
	AuthStateChanged EventType = "auth.state_changed"

	// Peer events
	PeerConnected EventType = "peer.connected"
	PeerMessage   EventType = "peer.message"

	// Position events
	PositionOpened EventType = "position.opened"
	PositionClosed EventType = "position.closed"

	// Relay events
	CommandFailed EventType = "command.failed"

	// Engine events
	EngineStarted EventType = "engine.started"
	HealthReport  EventType = "engine.health"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// NewBase stamps an event header with the current time.
func NewBase(t EventType) BaseEvent {
	return BaseEvent{EventType: t, EventTime: time.Now()}
}

// AuthStateChangedEvent is emitted on every auth machine transition.
type AuthStateChangedEvent struct {
	BaseEvent
	From string
	To   string
}

// PeerConnectedEvent is emitted when the relay locates the peer chat.
type PeerConnectedEvent struct {
	BaseEvent
	ChatID int64
	Name   string
}

// PeerMessageEvent carries a classified reply from the peer.
type PeerMessageEvent struct {
	BaseEvent
	Kind string
	Text string
}

// PositionOpenedEvent is emitted after a buy was relayed successfully.
type PositionOpenedEvent struct {
	BaseEvent
	PositionID string
	Token      string
	Symbol     string
	Amount     decimal.Decimal
}

// PositionClosedEvent is emitted when a position reaches a terminal state.
type PositionClosedEvent struct {
	BaseEvent
	PositionID string
	Token      string
	Symbol     string
	Status     string
	Profit     decimal.Decimal
	Held       time.Duration
}

// CommandFailedEvent is emitted when a command could not be relayed.
type CommandFailedEvent struct {
	BaseEvent
	Command string
	Error   error
}

// EngineStartedEvent is emitted when the trading loops start.
type EngineStartedEvent struct {
	BaseEvent
	Mode string
}

// HealthReportEvent carries the periodic health summary. Daily is set on the
// report that closes each day of uptime.
type HealthReportEvent struct {
	BaseEvent
	Mode            string
	Uptime          time.Duration
	Trades          int
	WinRate         int
	ActivePositions int
	TotalProfit     decimal.Decimal
	PeerConnected   bool
	Daily           bool
}
