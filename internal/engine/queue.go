package engine

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Queue is the strict FIFO of orders resting at one price limit on one
// side. It tracks its aggregate volume and order count and is chained to
// the neighbouring price queues of the same side through qprev/qnext.
type Queue struct {
	Limit    float64
	Side     Side
	Volume   float64
	NbOrders int

	notify          Notifier
	volumePrecision int32

	qprev, qnext *Queue
	ohead, otail *Order
}

func newQueue(limit float64, side Side, notify Notifier, volumePrecision int32) *Queue {
	return &Queue{
		Limit:           limit,
		Side:            side,
		notify:          notify,
		volumePrecision: volumePrecision,
	}
}

// Empty reports whether there is no volume left at this limit.
func (q *Queue) Empty() bool {
	return q.Volume == 0
}

// Head returns the first order in time priority, nil when empty.
func (q *Queue) Head() *Order {
	return q.ohead
}

// Next returns the next-worse queue on the same side.
func (q *Queue) Next() *Queue {
	return q.qnext
}

// Add appends order at the tail of the queue and notifies the owner.
func (q *Queue) Add(order *Order) {
	if q.ohead == nil {
		q.ohead = order
		q.otail = order
	} else {
		order.oprev = q.otail
		order.onext = nil
		q.otail.onext = order
		q.otail = order
	}

	q.Volume = q.rv(q.Volume + order.Quantity)
	q.NbOrders++
	order.attach(q)
	q.emit("New order", order)
	log.Debug().Stringer("order", order).Stringer("queue", q).Msg("order added")
}

// Remove unlinks order from the queue. A live order gives back its
// remaining quantity; a filled order gives back only its last fill, as
// Fill has already deducted everything before the final chunk.
func (q *Queue) Remove(order *Order) {
	q.NbOrders--
	if order.Filled() {
		q.Volume = q.rv(q.Volume - order.LastFilled)
	} else {
		q.Volume = q.rv(q.Volume - order.Remaining)
	}

	switch {
	case order == q.ohead && order == q.otail:
		q.ohead = nil
		q.otail = nil
	case order == q.otail:
		q.otail = order.oprev
		order.oprev.onext = nil
	case order == q.ohead:
		q.ohead = order.onext
		order.onext.oprev = nil
	default:
		order.onext.oprev = order.oprev
		order.oprev.onext = order.onext
	}
	order.oprev = nil
	order.onext = nil
	order.queue = nil

	log.Debug().Stringer("order", order).Stringer("queue", q).Msg("order removed")
}

// Fill executes quantity against order and emits the fill notifications.
// On a partial fill the queue volume shrinks by quantity; on a full fill
// the final chunk is reconciled by Remove instead.
func (q *Queue) Fill(order *Order, quantity float64) {
	fill := order.AddFill(quantity)
	if q.notify != nil {
		q.notify(order.Owner, map[string]any{
			"status": "New Fill",
			"fill":   fill,
		})
	}
	if order.Filled() {
		q.emit("Filled", order)
	} else {
		q.emit("Partial fill", order)
		q.Volume = q.rv(q.Volume - quantity)
	}
}

func (q *Queue) emit(status string, order *Order) {
	if q.notify == nil {
		return
	}
	message := order.Infos()
	message["status"] = status
	q.notify(order.Owner, message)
}

func (q *Queue) rv(volume float64) float64 {
	return roundTo(volume, q.volumePrecision)
}

func (q *Queue) String() string {
	return fmt.Sprintf("Queue(side=%s, limit=%v, volume=%v)", q.Side, q.Limit, q.Volume)
}
