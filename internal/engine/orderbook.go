package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/btree"
)

// Level is one (price, volume) rung of a book snapshot. It marshals as a
// two-element array, which is the shape the public quotes feed carries.
type Level struct {
	Price  float64
	Volume float64
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{l.Price, l.Volume})
}

func (l *Level) UnmarshalJSON(data []byte) error {
	var pair [2]float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	l.Price, l.Volume = pair[0], pair[1]
	return nil
}

// BookState is the ordered snapshot produced by GetState: bids best-first
// descending, asks best-first ascending.
type BookState struct {
	Ts   time.Time `json:"ts"`
	Bids []Level   `json:"bids"`
	Asks []Level   `json:"asks"`
}

// Orderbook is the single-instrument matching core. It owns both sides
// of the book, the price index, the order index and the best pointers,
// and implements the five order operations.
//
// The book is single-writer: all operations, including reads, must run
// in one serial context. The transport layer is responsible for
// funnelling requests into a single goroutine.
type Orderbook struct {
	maxAsk float64 // highest ask present, 0 when no asks
	minBid float64 // lowest bid present, +Inf when no bids

	bestQueue   map[Side]*Queue
	bestVolumes map[Side]float64 // total per-side volume, not best-limit only
	queues      btree.Map[float64, *Queue]
	orders      map[string]*Order

	prevMid *float64 // mid current before the last two-sided recomputation
	currMid *float64

	instrument   *Instrument
	sendPrivate  Notifier
	cancelPolicy CancelPolicy
}

// BookOption configures an Orderbook at construction.
type BookOption func(*Orderbook)

// WithCancelPolicy overrides the cancellation volume accounting.
func WithCancelPolicy(policy CancelPolicy) BookOption {
	return func(b *Orderbook) { b.cancelPolicy = policy }
}

func NewOrderbook(instrument *Instrument, sendPrivate Notifier, opts ...BookOption) *Orderbook {
	b := &Orderbook{
		maxAsk:       0,
		minBid:       math.Inf(1),
		bestQueue:    map[Side]*Queue{Bid: nil, Ask: nil},
		bestVolumes:  map[Side]float64{Bid: 0, Ask: 0},
		orders:       make(map[string]*Order),
		instrument:   instrument,
		sendPrivate:  sendPrivate,
		cancelPolicy: DeductOriginal,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Orderbook) Instrument() *Instrument {
	return b.instrument
}

func (b *Orderbook) tickSize() float64 {
	return b.instrument.PriceDetails.TickSize
}

// MidPrice returns the current mid, false when the book is empty.
func (b *Orderbook) MidPrice() (float64, bool) {
	if b.currMid == nil {
		return 0, false
	}
	return *b.currMid, true
}

// BestQueue returns the most aggressive queue on side, nil when empty.
func (b *Orderbook) BestQueue(side Side) *Queue {
	return b.bestQueue[side]
}

// SideVolume is the total resting volume on side, across all limits.
func (b *Orderbook) SideVolume(side Side) float64 {
	return b.bestVolumes[side]
}

// Order looks up a live resting order by id.
func (b *Orderbook) Order(orderID string) (*Order, bool) {
	order, ok := b.orders[orderID]
	return order, ok
}

// QueueAt looks up the live queue at an exact price limit.
func (b *Orderbook) QueueAt(price float64) (*Queue, bool) {
	return b.queues.Get(price)
}

// NbOrders is the number of live resting orders in the book.
func (b *Orderbook) NbOrders() int {
	return len(b.orders)
}

// Depth is the number of ticks between the best and the worst populated
// limit on side.
func (b *Orderbook) Depth(side Side) int {
	best := b.bestQueue[side]
	if best == nil {
		return 0
	}
	m := b.maxAsk
	if side.IsBid() {
		m = b.minBid
	}
	return int(math.Round(side.Sign() * (best.Limit - m) / b.tickSize()))
}

// InitState preloads the book from aggregate (price, volume) levels. Each
// level becomes volume/unitSize synthetic orders of size unitSize owned
// by "system", so the book can start from exchange data without
// replaying history.
func (b *Orderbook) InitState(unitSize float64, bidState, askState []Level) {
	const owner = "system"
	log.Debug().Msg("initializing the book state")
	for _, lvl := range bidState {
		for range int(lvl.Volume / unitSize) {
			b.insertOrder(NewOrder(b.instrument, owner, Bid, unitSize, lvl.Price))
		}
	}
	for _, lvl := range askState {
		for range int(lvl.Volume / unitSize) {
			b.insertOrder(NewOrder(b.instrument, owner, Ask, unitSize, lvl.Price))
		}
	}
}

// GetState walks both ladders simultaneously and returns the snapshot.
func (b *Orderbook) GetState() BookState {
	state := BookState{Ts: time.Now(), Bids: []Level{}, Asks: []Level{}}
	qb := b.bestQueue[Bid]
	qa := b.bestQueue[Ask]
	for qb != nil || qa != nil {
		if qb != nil {
			state.Bids = append(state.Bids, Level{qb.Limit, qb.Volume})
			qb = qb.qnext
		}
		if qa != nil {
			state.Asks = append(state.Asks, Level{qa.Limit, qa.Volume})
			qa = qa.qnext
		}
	}
	return state
}

// OnLimit places a limit order. A price that crosses or touches the
// opposing best is delegated to OnMarketable instead of resting.
func (b *Orderbook) OnLimit(side Side, quantity, price float64, clientID string) error {
	if err := b.validate(quantity, price); err != nil {
		return err
	}
	best := b.bestQueue[side.Opposite()]
	if best != nil && price*side.Sign() >= best.Limit*side.Sign() {
		log.Warn().Msg("crossing the spread, sending a marketable order instead")
		return b.OnMarketable(side, quantity, price, clientID)
	}
	b.insertOrder(NewOrder(b.instrument, clientID, side, quantity, price))
	return nil
}

// OnMarketable takes liquidity off the far side up to the limit price,
// then rests any leftover quantity at price. When the far side is empty
// on entry the whole order is rejected and nothing rests.
func (b *Orderbook) OnMarketable(side Side, quantity, price float64, clientID string) error {
	if err := b.validate(quantity, price); err != nil {
		return err
	}
	q := b.bestQueue[side.Opposite()]
	if q == nil {
		b.rejectMarket(clientID, "", map[string]any{
			"side": side.String(), "quantity": quantity, "price": price,
		})
		return nil
	}

	for quantity != 0 && side.Sign()*q.Limit <= side.Sign()*price {
		order := q.ohead
		qty := math.Min(quantity, order.Remaining)
		q.Fill(order, qty)
		b.bestVolumes[order.Side] = b.instrument.AdjustQuantity(b.bestVolumes[order.Side] - qty)
		if order.Filled() {
			q.Remove(order)
			delete(b.orders, order.OrderID)
		}
		quantity = b.instrument.AdjustQuantity(quantity - qty)
		if q.Empty() {
			b.deleteQueue(side.Opposite(), q)
		}
		q = b.bestQueue[side.Opposite()]
		if q == nil {
			break
		}
	}

	if quantity != 0 {
		order := NewOrder(b.instrument, clientID, side, quantity, price)
		log.Warn().Stringer("order", order).Msg("no more liquidity on best limits, placing the residual")
		b.insertOrder(order)
	}
	return nil
}

// OnMarket executes a market order by walking the book. side is the side
// whose liquidity is consumed: a buy market order passes Ask. The order
// is rejected upfront when it exceeds the side's total volume.
func (b *Orderbook) OnMarket(side Side, quantity float64, clientID string) error {
	if !b.instrument.IsValidQuantity(quantity) {
		return fmt.Errorf("%w: %v", ErrInvalidQuantity, quantity)
	}
	available := b.bestVolumes[side]
	if quantity > available {
		b.rejectMarket(clientID,
			fmt.Sprintf("quantity %v is greater than available liquidity %v", quantity, available),
			map[string]any{"side": side.String(), "quantity": quantity})
		return nil
	}

	remaining := quantity
	for remaining != 0 {
		q := b.bestQueue[side]
		if q == nil {
			b.rejectMarket(clientID, "", map[string]any{
				"side": side.String(), "quantity": quantity,
			})
			return nil
		}
		order := q.ohead
		qty := math.Min(remaining, order.Remaining)
		q.Fill(order, qty)
		b.bestVolumes[order.Side] = b.instrument.AdjustQuantity(b.bestVolumes[order.Side] - qty)
		if order.Filled() {
			q.Remove(order)
			delete(b.orders, order.OrderID)
		}
		if q.Empty() {
			b.deleteQueue(side, q)
		}
		remaining = b.instrument.AdjustQuantity(remaining - qty)
	}
	log.Info().
		Str("clientID", clientID).
		Stringer("side", side).
		Float64("quantity", quantity).
		Msg("market order executed")
	return nil
}

// OnCancel removes a resting order. The side volume gives back the
// order's original or remaining quantity depending on the cancel policy.
func (b *Orderbook) OnCancel(orderID string) error {
	order, err := b.getOrder(orderID)
	if err != nil {
		return err
	}
	queue := order.queue

	message := order.Infos()
	message["status"] = "Cancelled"
	clientID := order.Owner

	queue.Remove(order)
	deduct := order.Quantity
	if b.cancelPolicy == DeductRemaining {
		deduct = order.Remaining
	}
	b.bestVolumes[order.Side] = b.instrument.AdjustQuantity(b.bestVolumes[order.Side] - deduct)
	if queue.Empty() {
		b.deleteQueue(order.Side, queue)
	}
	delete(b.orders, order.OrderID)
	if b.sendPrivate != nil {
		b.sendPrivate(clientID, message)
	}
	return nil
}

// OnAmend rewrites a resting order's price and quantity. The new quantity
// replaces the remaining quantity outright. An amend whose price crosses
// or touches the opposing best discards the original order and submits a
// fresh marketable order instead.
func (b *Orderbook) OnAmend(orderID string, quantity, price float64) error {
	if err := b.validate(quantity, price); err != nil {
		return err
	}
	order, err := b.getOrder(orderID)
	if err != nil {
		return err
	}
	side := order.Side
	log.Warn().
		Stringer("order", order).
		Float64("quantity", quantity).
		Float64("price", price).
		Msg("amending order")

	queue := order.queue
	queue.Remove(order)
	b.bestVolumes[side] = b.instrument.AdjustQuantity(b.bestVolumes[side] - order.Quantity)

	opposite := b.bestQueue[side.Opposite()]
	marketable := opposite != nil && side.Sign()*price >= side.Sign()*opposite.Limit

	if queue.Empty() && (queue.Limit != price || marketable) {
		b.deleteQueue(side, queue)
	}

	if marketable {
		log.Warn().Msg("amend crosses the far best, submitting a marketable order")
		delete(b.orders, order.OrderID)
		return b.OnMarketable(side, quantity, price, order.Owner)
	}

	var newQueue *Queue
	if queue.Limit != price {
		if q, ok := b.queues.Get(price); ok {
			newQueue = q
		} else {
			newQueue = b.createQueue(side, price)
		}
	} else {
		newQueue = queue
	}

	order.Update(price, quantity)
	newQueue.Add(order)
	b.bestVolumes[side] = b.instrument.AdjustQuantity(b.bestVolumes[side] + quantity)

	message := order.Infos()
	message["status"] = "Amended"
	if b.sendPrivate != nil {
		b.sendPrivate(order.Owner, message)
	}
	return nil
}

func (b *Orderbook) validate(quantity, price float64) error {
	if !b.instrument.IsValidPrice(price) {
		return fmt.Errorf("%w: %v", ErrInvalidPrice, price)
	}
	if !b.instrument.IsValidQuantity(quantity) {
		return fmt.Errorf("%w: %v", ErrInvalidQuantity, quantity)
	}
	return nil
}

func (b *Orderbook) getOrder(orderID string) (*Order, error) {
	order, ok := b.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchOrder, orderID)
	}
	return order, nil
}

func (b *Orderbook) insertOrder(order *Order) {
	b.orders[order.OrderID] = order
	queue, ok := b.queues.Get(order.Price)
	if !ok {
		queue = b.createQueue(order.Side, order.Price)
	}
	queue.Add(order)
	b.bestVolumes[order.Side] = b.instrument.AdjustQuantity(b.bestVolumes[order.Side] + order.Quantity)
}

// createQueue builds the queue at price and splices it into the side
// ladder: at the head when it becomes the new best, otherwise after the
// predecessor found by walking the tick grid.
func (b *Orderbook) createQueue(side Side, price float64) *Queue {
	if side.IsBid() {
		b.minBid = math.Min(price, b.minBid)
	} else {
		b.maxAsk = math.Max(price, b.maxAsk)
	}

	queue := newQueue(price, side, b.sendPrivate, b.instrument.Precision.Quote)

	switch best := b.bestQueue[side]; {
	case best == nil:
		b.bestQueue[side] = queue
		b.updateMid()
	case side.Sign()*price > side.Sign()*best.Limit:
		queue.qprev = nil
		queue.qnext = best
		best.qprev = queue
		b.bestQueue[side] = queue
		b.updateMid()
	default:
		prev := b.findPrevQueue(price, side)
		queue.qprev = prev
		queue.qnext = prev.qnext
		if prev.qnext != nil {
			prev.qnext.qprev = queue
		}
		prev.qnext = queue
	}

	b.queues.Set(price, queue)
	log.Debug().
		Stringer("queue", queue).
		Float64("minBid", b.minBid).
		Float64("maxAsk", b.maxAsk).
		Msg("queue created")
	return queue
}

// findPrevQueue walks the tick grid towards the better prices of side
// until it hits a live queue: that queue precedes limit in the ladder.
// Termination is guaranteed because the side has a best queue at a
// better price than limit.
func (b *Orderbook) findPrevQueue(limit float64, side Side) *Queue {
	current := limit
	for {
		current = b.instrument.AdjustPrice(current + b.tickSize()*side.Sign())
		if queue, ok := b.queues.Get(current); ok {
			return queue
		}
	}
}

// deleteQueue splices queue out of the side ladder, restores the side
// extremum and drops the price from the index.
func (b *Orderbook) deleteQueue(side Side, queue *Queue) {
	if queue == b.bestQueue[side] {
		b.bestQueue[side] = queue.qnext
		if queue.qnext != nil {
			queue.qnext.qprev = nil
		}
		b.updateMid()
	} else {
		queue.qprev.qnext = queue.qnext
		if queue.qnext != nil {
			queue.qnext.qprev = queue.qprev
		}
	}

	if side.IsBid() && queue.Limit == b.minBid {
		if queue.qprev == nil {
			b.minBid = math.Inf(1)
		} else {
			b.minBid = queue.qprev.Limit
		}
	}
	if !side.IsBid() && queue.Limit == b.maxAsk {
		if queue.qprev == nil {
			b.maxAsk = 0
		} else {
			b.maxAsk = queue.qprev.Limit
		}
	}
	b.queues.Delete(queue.Limit)
	log.Debug().Stringer("queue", queue).Msg("queue deleted")
}

// updateMid recomputes the mid price. With both sides populated the mid
// is the adjusted midpoint, nudged half a tick towards the previous
// mid whenever it lands on the tick grid, so it always sits at a
// half-tick and moves towards the tightening side. With one side empty
// the mid hangs half a tick off the surviving best and prevMid is left
// untouched; only a two-sided recomputation sets prevMid, to the mid
// that was current just before it.
func (b *Orderbook) updateMid() {
	bestBid := b.bestQueue[Bid]
	bestAsk := b.bestQueue[Ask]
	if bestBid == nil && bestAsk == nil {
		b.prevMid = nil
		b.currMid = nil
		return
	}

	if bestAsk == nil {
		mid := b.instrument.AdjustPrice(bestBid.Limit + 0.5*b.tickSize())
		b.currMid = &mid
		return
	}
	if bestBid == nil {
		mid := b.instrument.AdjustPrice(bestAsk.Limit - 0.5*b.tickSize())
		b.currMid = &mid
		return
	}

	b.prevMid = b.currMid
	mid := b.instrument.AdjustPrice(0.5 * (bestAsk.Limit + bestBid.Limit))
	if isDivisible(mid, b.tickSize()) {
		halfTick := 0.5 * b.tickSize()
		if b.prevMid != nil && mid < *b.prevMid {
			mid += halfTick
		} else {
			mid -= halfTick
		}
		mid = b.instrument.AdjustPrice(mid)
	}
	b.currMid = &mid
}

func (b *Orderbook) rejectMarket(clientID, reason string, details map[string]any) {
	if reason == "" {
		reason = "No available liquidity in market."
	}
	log.Error().Str("clientID", clientID).Msg(reason)
	if b.sendPrivate == nil {
		return
	}
	message := map[string]any{
		"status":    "rejected",
		"reason":    reason,
		"engine_ts": time.Now(),
	}
	for k, v := range details {
		message[k] = v
	}
	b.sendPrivate(clientID, message)
}

// String renders the ladder tick by tick, worst bid at the top, worst
// ask at the bottom, with the mid between the sides.
func (b *Orderbook) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Orderbook for symbol %s:\n", b.instrument.Symbol)
	fmt.Fprintf(&sb, "Total bid volume %v\tTotal ask volume %v\n\n",
		b.bestVolumes[Bid], b.bestVolumes[Ask])

	writeSide := func(from, to float64) {
		for price := from; price <= to; price = b.instrument.AdjustPrice(price + b.tickSize()) {
			if queue, ok := b.queues.Get(price); ok {
				fmt.Fprintf(&sb, "[V=%-8v N=%-3d]\tP=%-16v |%s\n",
					queue.Volume, queue.NbOrders, price, strings.Repeat("▮", queue.NbOrders))
			} else {
				fmt.Fprintf(&sb, "[V=%-8v N=%-3d]\tP=%-16v |\n", 0, 0, price)
			}
		}
	}

	if bestBid := b.bestQueue[Bid]; bestBid == nil {
		sb.WriteString("|\n")
	} else {
		writeSide(b.minBid, bestBid.Limit)
	}
	if mid, ok := b.MidPrice(); ok {
		fmt.Fprintf(&sb, "%19s\tP=%-16v |%s Mid-price\n", "", mid, strings.Repeat("=", 40))
	} else {
		fmt.Fprintf(&sb, "%s Mid-price\n", strings.Repeat("=", 40))
	}
	if bestAsk := b.bestQueue[Ask]; bestAsk == nil {
		sb.WriteString("|\n")
	} else {
		writeSide(bestAsk.Limit, b.maxAsk)
	}
	return sb.String()
}
