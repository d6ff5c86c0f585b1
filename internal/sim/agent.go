package sim

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"sleipnir/internal/client"
	"sleipnir/internal/engine"
	"sleipnir/internal/net"
)

// Agent emits randomized order flow around a reference price: mostly
// limit orders within ten ticks of the reference, occasionally a market order or
// a cancellation of one of its own resting orders.
type Agent struct {
	client     *client.Client
	instrument *engine.Instrument
	refPrice   float64
	rng        *rand.Rand

	mu     sync.Mutex
	orders []string // ids of our resting orders
}

func NewAgent(c *client.Client, instrument *engine.Instrument, refPrice float64, seed uint64) *Agent {
	return &Agent{
		client:     c,
		instrument: instrument,
		refPrice:   refPrice,
		rng:        rand.New(rand.NewPCG(seed, seed)),
	}
}

// Run initializes the trading session and sends one action per interval
// until ctx is cancelled.
func (a *Agent) Run(ctx context.Context, interval time.Duration) error {
	if _, err := a.client.InitTrading(ctx, a.onPrivate); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.step()
		}
	}
}

func (a *Agent) step() {
	var err error
	switch roll := a.rng.Float64(); {
	case roll < 0.70:
		err = a.client.LimitOrder(a.side(), a.quantity(), a.price())
	case roll < 0.85:
		err = a.client.MarketOrder(a.side(), a.quantity())
	default:
		if id := a.popOrder(); id != "" {
			err = a.client.CancelOrder(id)
		} else {
			err = a.client.LimitOrder(a.side(), a.quantity(), a.price())
		}
	}
	if err != nil {
		log.Error().Err(err).Msg("agent action failed")
	}
}

// onPrivate tracks our resting order ids so cancellations target real
// orders; fills and cancellations drop the id again.
func (a *Agent) onPrivate(env net.Envelope) {
	var data struct {
		Status  string `json:"status"`
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.OrderID == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	switch data.Status {
	case "New order":
		a.orders = append(a.orders, data.OrderID)
	case "Filled", "Cancelled":
		for i, id := range a.orders {
			if id == data.OrderID {
				a.orders = append(a.orders[:i], a.orders[i+1:]...)
				break
			}
		}
	}
}

func (a *Agent) popOrder() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.orders) == 0 {
		return ""
	}
	i := a.rng.IntN(len(a.orders))
	id := a.orders[i]
	a.orders = append(a.orders[:i], a.orders[i+1:]...)
	return id
}

func (a *Agent) side() string {
	if a.rng.Float64() < 0.5 {
		return "Buy"
	}
	return "Sell"
}

// quantity draws a lot-aligned size within the instrument bounds.
func (a *Agent) quantity() float64 {
	ls := a.instrument.LotSize
	steps := int((ls.MaxQty - ls.MinQty) / ls.StepSize)
	q := ls.MinQty + float64(a.rng.IntN(steps+1))*ls.StepSize
	return a.instrument.AdjustQuantity(q)
}

// price draws a tick-aligned level within ten ticks of the reference.
func (a *Agent) price() float64 {
	tick := a.instrument.PriceDetails.TickSize
	offset := float64(a.rng.IntN(21)-10) * tick
	return a.instrument.AdjustPrice(a.refPrice + offset)
}
