package net

import (
	"encoding/json"
	"errors"
	"fmt"

	"sleipnir/internal/engine"
)

var (
	ErrInvalidMessage  = errors.New("invalid message")
	ErrUnknownEvent    = errors.New("unknown event")
	ErrMissingParams   = errors.New("missing params")
	ErrUnknownPath     = errors.New("unknown path")
	ErrSessionNotFound = errors.New("session not found")
)

// Inbound events on the private path.
const (
	EventInit  = "init"
	EventTrade = "trade"
)

// Public topics a client can subscribe to.
const (
	TopicQuotes = "quotes"
	TopicTrades = "trades"
	TopicLobviz = "lobviz"
)

// Envelope is the JSON frame exchanged with clients. Requests carry an
// event and, for trades, the order parameters; responses carry an event
// and a data payload.
type Envelope struct {
	Event   string          `json:"event"`
	Params  *TradeParams    `json:"params,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// TradeParams is one order operation as submitted on the wire. Side uses
// the engine's signed convention: 1 for bid, -1 for ask.
type TradeParams struct {
	OrderType string  `json:"order_type"`
	Side      int     `json:"side,omitempty"`
	Quantity  float64 `json:"quantity,omitempty"`
	Price     float64 `json:"price,omitempty"`
	ClientID  string  `json:"client_id,omitempty"`
	OrderID   string  `json:"order_id,omitempty"`
}

func (p *TradeParams) side() engine.Side {
	if p.Side >= 0 {
		return engine.Bid
	}
	return engine.Ask
}

// ParseEnvelope decodes an inbound frame.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %s", ErrInvalidMessage, err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event", ErrInvalidMessage)
	}
	return env, nil
}

// BuildMessage wraps a payload into an outbound frame.
func BuildMessage(event string, data any) []byte {
	payload, err := json.Marshal(data)
	if err != nil {
		payload = []byte(fmt.Sprintf("%q", err.Error()))
	}
	raw, _ := json.Marshal(Envelope{Event: event, Data: payload})
	return raw
}

// BuildError wraps an error message into an outbound frame.
func BuildError(message string) []byte {
	raw, _ := json.Marshal(Envelope{Event: "error", Message: message})
	return raw
}
