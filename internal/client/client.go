package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"sleipnir/internal/engine"
	"sleipnir/internal/net"
)

// Callback receives a decoded frame from a subscription.
type Callback func(net.Envelope)

// Client is the SDK side of the websocket protocol: public topic
// subscriptions plus a private trading session. Order parameters are
// validated against the instrument before anything hits the wire.
type Client struct {
	publicURL  string
	privateURL string
	instrument *engine.Instrument

	mu       sync.Mutex
	conn     *websocket.Conn
	clientID string
}

func New(host string, port int, instrument *engine.Instrument) *Client {
	base := fmt.Sprintf("ws://%s:%d", host, port)
	return &Client{
		publicURL:  base + "/public",
		privateURL: base + "/private",
		instrument: instrument,
	}
}

// ClientID returns the id assigned by the server, empty before
// InitTrading.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// InitTrading opens the private session: the server assigns the client
// id and starts streaming execution events, which are delivered to
// onPrivate until the connection dies or ctx is cancelled.
func (c *Client) InitTrading(ctx context.Context, onPrivate Callback) (string, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.privateURL, nil)
	if err != nil {
		return "", fmt.Errorf("dialing %s: %w", c.privateURL, err)
	}
	if err := conn.WriteJSON(net.Envelope{Event: net.EventInit}); err != nil {
		conn.Close()
		return "", err
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return "", fmt.Errorf("reading client id: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.clientID = string(raw)
	c.mu.Unlock()

	go c.readLoop(ctx, conn, onPrivate)
	log.Info().Str("clientID", string(raw)).Msg("trading session initialized")
	return string(raw), nil
}

// Subscribe listens to one public topic, invoking callback per frame.
// The returned cancel closes the subscription connection.
func (c *Client) Subscribe(ctx context.Context, topic string, callback Callback) (func(), error) {
	switch topic {
	case net.TopicQuotes, net.TopicTrades, net.TopicLobviz:
	default:
		return nil, fmt.Errorf("%w: %s", net.ErrUnknownEvent, topic)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.publicURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", c.publicURL, err)
	}
	if err := conn.WriteJSON(net.Envelope{Event: topic}); err != nil {
		conn.Close()
		return nil, err
	}
	go c.readLoop(ctx, conn, callback)
	log.Info().Str("topic", topic).Msg("subscribed")
	return func() { conn.Close() }, nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, callback Callback) {
	defer conn.Close()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("connection closed")
			return
		}
		env, err := net.ParseEnvelope(raw)
		if err != nil {
			log.Error().Err(err).Msg("dropping malformed frame")
			continue
		}
		if callback != nil {
			callback(env)
		}
	}
}

// LimitOrder submits a limit order. side is "Buy" or "Sell".
func (c *Client) LimitOrder(side string, quantity, price float64) error {
	if err := c.validate(quantity, price); err != nil {
		return err
	}
	return c.sendTrade(net.TradeParams{
		OrderType: string(engine.LimitOrder),
		Side:      int(lobSide(side)),
		Quantity:  quantity,
		Price:     price,
	})
}

// MarketOrder submits a market order. side is "Buy" or "Sell"; the
// engine expects the side whose liquidity is consumed, so the sign is
// flipped here: a buy hits the asks.
func (c *Client) MarketOrder(side string, quantity float64) error {
	if !c.instrument.IsValidQuantity(quantity) {
		return fmt.Errorf("%w: %v", engine.ErrInvalidQuantity, quantity)
	}
	return c.sendTrade(net.TradeParams{
		OrderType: string(engine.MarketOrder),
		Side:      int(lobSide(side).Opposite()),
		Quantity:  quantity,
	})
}

// AmendOrder rewrites the price and quantity of a resting order.
func (c *Client) AmendOrder(orderID string, quantity, price float64) error {
	if err := c.validate(quantity, price); err != nil {
		return err
	}
	return c.sendTrade(net.TradeParams{
		OrderType: string(engine.AmendOrder),
		OrderID:   orderID,
		Quantity:  quantity,
		Price:     price,
	})
}

// CancelOrder cancels a resting order by id.
func (c *Client) CancelOrder(orderID string) error {
	return c.sendTrade(net.TradeParams{
		OrderType: string(engine.CancelOrder),
		OrderID:   orderID,
	})
}

func (c *Client) sendTrade(params net.TradeParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("cannot place orders before InitTrading")
	}
	params.ClientID = c.clientID
	log.Debug().Any("params", params).Msg("sending trade")
	return c.conn.WriteJSON(net.Envelope{Event: net.EventTrade, Params: &params})
}

func (c *Client) validate(quantity, price float64) error {
	if !c.instrument.IsValidQuantity(quantity) {
		return fmt.Errorf("%w: %v", engine.ErrInvalidQuantity, quantity)
	}
	if !c.instrument.IsValidPrice(price) {
		return fmt.Errorf("%w: %v", engine.ErrInvalidPrice, price)
	}
	return nil
}

func lobSide(side string) engine.Side {
	if side == "Sell" {
		return engine.Ask
	}
	return engine.Bid
}
