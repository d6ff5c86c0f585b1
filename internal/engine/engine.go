package engine

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Engine routes inbound operations to the book of the requested symbol.
// It is the boundary the transport talks to; everything behind it is
// single-writer and must be driven from one goroutine.
type Engine struct {
	books       map[string]*Orderbook
	sendPrivate Notifier
}

// New builds an engine with one orderbook per instrument. The private
// reporter is attached later with SetReporter, once the transport
// exists; notifications before that are dropped.
func New(instruments []*Instrument, opts ...BookOption) *Engine {
	e := &Engine{books: make(map[string]*Orderbook)}
	for _, instrument := range instruments {
		e.books[instrument.Symbol] = NewOrderbook(instrument, e.notify, opts...)
	}
	return e
}

// SetReporter wires the private notification callback.
func (e *Engine) SetReporter(send Notifier) {
	e.sendPrivate = send
}

func (e *Engine) notify(clientID string, message map[string]any) {
	if e.sendPrivate != nil {
		e.sendPrivate(clientID, message)
	}
}

// Book returns the orderbook for symbol.
func (e *Engine) Book(symbol string) (*Orderbook, error) {
	book, ok := e.books[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return book, nil
}

func (e *Engine) OnLimit(symbol string, side Side, quantity, price float64, clientID string) error {
	book, err := e.Book(symbol)
	if err != nil {
		return err
	}
	return book.OnLimit(side, quantity, price, clientID)
}

func (e *Engine) OnMarketable(symbol string, side Side, quantity, price float64, clientID string) error {
	book, err := e.Book(symbol)
	if err != nil {
		return err
	}
	return book.OnMarketable(side, quantity, price, clientID)
}

func (e *Engine) OnMarket(symbol string, side Side, quantity float64, clientID string) error {
	book, err := e.Book(symbol)
	if err != nil {
		return err
	}
	return book.OnMarket(side, quantity, clientID)
}

func (e *Engine) OnCancel(symbol, orderID string) error {
	book, err := e.Book(symbol)
	if err != nil {
		return err
	}
	return book.OnCancel(orderID)
}

func (e *Engine) OnAmend(symbol, orderID string, quantity, price float64) error {
	book, err := e.Book(symbol)
	if err != nil {
		return err
	}
	return book.OnAmend(orderID, quantity, price)
}

func (e *Engine) GetState(symbol string) (BookState, error) {
	book, err := e.Book(symbol)
	if err != nil {
		return BookState{}, err
	}
	return book.GetState(), nil
}

func (e *Engine) InitState(symbol string, unitSize float64, bidState, askState []Level) error {
	book, err := e.Book(symbol)
	if err != nil {
		return err
	}
	book.InitState(unitSize, bidState, askState)
	return nil
}

// LogBook dumps the ladder of every book at info level.
func (e *Engine) LogBook() {
	for symbol, book := range e.books {
		log.Info().Str("symbol", symbol).Msg("\n" + book.String())
	}
}
