package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Fill records one (partial) execution of an order.
type Fill struct {
	OrderID  string    `json:"order_id"`
	Price    float64   `json:"price"`
	Quantity float64   `json:"quantity"`
	Created  time.Time `json:"created"`
}

func (f Fill) String() string {
	return fmt.Sprintf("Fill(price=%v, quantity=%v, created=%v)",
		f.Price, f.Quantity, f.Created.Format(time.RFC3339Nano))
}

// Order is a live order resting in, or on its way into, the book. Orders
// are chained into their price queue through the intrusive oprev/onext
// links and keep a back-reference to the owning queue; the links are
// only ever touched by Queue.
type Order struct {
	OrderID    string
	Owner      string
	Instrument *Instrument
	Side       Side
	Quantity   float64 // original size
	Price      float64
	Remaining  float64 // decreases on fills
	LastFilled float64
	Created    time.Time
	Updated    time.Time

	oprev, onext *Order
	queue        *Queue
}

// NewOrder assigns a fresh id and starts with Remaining = Quantity.
func NewOrder(instrument *Instrument, owner string, side Side, quantity, price float64) *Order {
	now := time.Now()
	return &Order{
		OrderID:    uuid.New().String(),
		Owner:      owner,
		Instrument: instrument,
		Side:       side,
		Quantity:   quantity,
		Price:      price,
		Remaining:  quantity,
		Created:    now,
		Updated:    now,
	}
}

// Filled reports whether the order has been fully executed.
func (o *Order) Filled() bool {
	return o.Remaining == 0
}

// Queue returns the queue the order currently rests in, nil if none.
func (o *Order) Queue() *Queue {
	return o.queue
}

// AddFill executes quantity against the order. Remaining is rounded to
// the instrument's quote precision.
func (o *Order) AddFill(quantity float64) Fill {
	now := time.Now()
	fill := Fill{OrderID: o.OrderID, Price: o.Price, Quantity: quantity, Created: now}
	o.LastFilled = quantity
	o.Remaining = roundTo(o.Remaining-quantity, o.Instrument.Precision.Quote)
	o.Updated = now
	return fill
}

// Update rewrites price and quantity in place. The new quantity becomes
// the remaining quantity: prior partial fills are discarded.
func (o *Order) Update(price, quantity float64) {
	o.Price = price
	o.Quantity = quantity
	o.Remaining = quantity
	o.Updated = time.Now()
}

func (o *Order) attach(q *Queue) {
	o.queue = q
	o.Updated = time.Now()
}

// Infos is the order payload carried by private notifications.
func (o *Order) Infos() map[string]any {
	return map[string]any{
		"order_id":  o.OrderID,
		"side":      o.Side.String(),
		"quantity":  o.Quantity,
		"remaining": o.Remaining,
		"price":     o.Price,
		"created":   o.Created,
		"updated":   o.Updated,
	}
}

func (o *Order) String() string {
	return fmt.Sprintf("Order(order_id=%s, side=%s, quantity=%v, remaining=%v, price=%v)",
		o.OrderID, o.Side, o.Quantity, o.Remaining, o.Price)
}
