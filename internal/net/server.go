package net

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"sleipnir/internal/config"
	"sleipnir/internal/engine"
	"sleipnir/internal/utils"
)

const (
	maxMessageSize = 4 * 1024
	writeWait      = 10 * time.Second
)

// session is a live websocket connection plus the path it arrived on.
type session struct {
	conn *websocket.Conn
	path string
}

// request is one unit of work for the engine goroutine. Exactly one of
// params, snapshot or lobviz is set: an order operation, a state
// snapshot request or a book render request. Funnelling everything
// through one channel keeps the matching core single-writer.
type request struct {
	clientID string
	params   *TradeParams
	snapshot chan engine.BookState
	lobviz   chan string
}

// Server is the websocket pub/sub front-end. Clients connect on
// /private for trading and their execution feed, or on /public for the
// quotes, trades and lobviz broadcast topics.
type Server struct {
	addr     string
	symbol   string
	engine   *engine.Engine
	cfg      config.ExchangeConfig
	pool     utils.WorkerPool
	upgrader websocket.Upgrader

	mu      sync.Mutex
	public  map[string]*PubSub
	private map[string]*PubSub

	requests chan request
	cancel   context.CancelFunc
}

func NewServer(addr, symbol string, eng *engine.Engine, cfg config.ExchangeConfig) *Server {
	return &Server{
		addr:   addr,
		symbol: symbol,
		engine: eng,
		cfg:    cfg,
		pool:   utils.NewWorkerPool(cfg.Workers),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  maxMessageSize,
			WriteBufferSize: maxMessageSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		public:   make(map[string]*PubSub),
		private:  make(map[string]*PubSub),
		requests: make(chan request, 1),
	}
}

// SendPrivate implements the engine's private notification callback: the
// message is wrapped and published on the owning client's channel. Never
// blocks.
func (s *Server) SendPrivate(clientID string, message map[string]any) {
	s.privateChannel(clientID).Publish(BuildMessage("private", message))
}

func (s *Server) Shutdown() {
	log.Info().Msg("server shutting down")
	if s.cancel != nil {
		s.cancel()
	}
}

// Run serves until ctx is cancelled or a task fails fatally.
func (s *Server) Run(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	t, _ := tomb.WithContext(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/private", s.handleUpgrade)
	mux.HandleFunc("/public", s.handleUpgrade)
	httpSrv := &http.Server{Addr: s.addr, Handler: mux}

	s.pool.Setup(t, s.handleSession)
	t.Go(func() error { return s.requestHandler(t) })
	t.Go(func() error { return s.quotesStream(t) })
	t.Go(func() error { return s.tradesStream(t) })
	t.Go(func() error { return s.lobvizStream(t) })
	t.Go(func() error {
		<-t.Dying()
		return httpSrv.Shutdown(context.Background())
	})
	t.Go(func() error {
		log.Info().Str("addr", s.addr).Msg("server running")
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	return t.Wait()
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("upgrade failed")
		return
	}
	log.Info().
		Str("path", r.URL.Path).
		Str("remote", conn.RemoteAddr().String()).
		Msg("new client connected")
	s.pool.AddTask(&session{conn: conn, path: r.URL.Path})
}

// handleSession is the worker body: it owns one connection for its whole
// lifetime. Connection-level failures end the session, never the server.
func (s *Server) handleSession(t *tomb.Tomb, task any) error {
	sess, ok := task.(*session)
	if !ok {
		return ErrInvalidMessage
	}
	defer sess.conn.Close()
	sess.conn.SetReadLimit(maxMessageSize)

	// Hijacked connections survive the http server's shutdown: close
	// them when the tomb dies so blocked reads unwind.
	done := make(chan struct{})
	defer close(done)
	t.Go(func() error {
		select {
		case <-t.Dying():
			sess.conn.Close()
		case <-done:
		}
		return nil
	})

	switch sess.path {
	case "/private":
		s.privateSession(t, sess.conn)
	case "/public":
		s.publicSession(t, sess.conn)
	default:
		log.Error().Str("path", sess.path).Msg("unknown path")
	}
	return nil
}

// privateSession serves the trading path: an init event assigns the
// client id and starts the private feed; trade events are funnelled to
// the engine goroutine.
func (s *Server) privateSession(t *tomb.Tomb, conn *websocket.Conn) {
	var clientID string
	defer func() {
		if clientID != "" {
			s.dropPrivate(clientID)
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Str("clientID", clientID).Msg("client disconnected")
			return
		}
		env, err := ParseEnvelope(raw)
		if err != nil {
			log.Error().Err(err).Msg("error parsing message")
			s.reportError(conn, clientID, err)
			continue
		}

		switch env.Event {
		case EventInit:
			if clientID != "" {
				continue
			}
			clientID = uuid.New().String()
			if err := conn.WriteMessage(websocket.TextMessage, []byte(clientID)); err != nil {
				return
			}
			feed, cancel := s.privateChannel(clientID).Subscribe()
			t.Go(func() error { return s.pump(t, conn, feed, cancel) })
		case EventTrade:
			if env.Params == nil {
				s.reportError(conn, clientID, ErrMissingParams)
				continue
			}
			if env.Params.ClientID == "" {
				env.Params.ClientID = clientID
			}
			select {
			case <-t.Dying():
				return
			case s.requests <- request{clientID: env.Params.ClientID, params: env.Params}:
			}
		default:
			s.reportError(conn, clientID, ErrUnknownEvent)
		}
	}
}

// publicSession serves one broadcast topic: the first frame names the
// topic, after which the connection only receives.
func (s *Server) publicSession(t *tomb.Tomb, conn *websocket.Conn) {
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return
	}
	env, err := ParseEnvelope(raw)
	if err != nil {
		conn.WriteMessage(websocket.TextMessage, BuildError(err.Error()))
		return
	}
	switch env.Event {
	case TopicQuotes, TopicTrades, TopicLobviz:
	default:
		conn.WriteMessage(websocket.TextMessage, BuildError(ErrUnknownEvent.Error()))
		return
	}
	log.Info().Str("topic", env.Event).Msg("public subscription")

	feed, cancel := s.publicChannel(env.Event).Subscribe()
	defer cancel()
	t.Go(func() error { return s.pump(t, conn, feed, cancel) })

	// Block until the client goes away so the worker keeps owning the
	// connection; the pump exits on the closed conn.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// pump forwards a feed to a connection, pinging on the client timeout.
// All writes after session setup go through here, keeping a single
// writer per connection.
func (s *Server) pump(t *tomb.Tomb, conn *websocket.Conn, feed <-chan []byte, cancel func()) error {
	defer cancel()
	ticker := time.NewTicker(s.cfg.ClientTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-t.Dying():
			return nil
		case message := <-feed:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return nil
			}
		case <-ticker.C:
			if err := conn.WriteControl(
				websocket.PingMessage, nil, time.Now().Add(writeWait),
			); err != nil {
				return nil
			}
		}
	}
}

// requestHandler is the single goroutine allowed to touch the engine.
func (s *Server) requestHandler(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case req := <-s.requests:
			switch {
			case req.snapshot != nil:
				state, err := s.engine.GetState(s.symbol)
				if err != nil {
					return err
				}
				req.snapshot <- state
			case req.lobviz != nil:
				book, err := s.engine.Book(s.symbol)
				if err != nil {
					return err
				}
				req.lobviz <- book.String()
			case req.params != nil:
				if err := s.dispatch(req.params); err != nil {
					log.Error().
						Err(err).
						Str("clientID", req.clientID).
						Msg("error handling trade request")
					s.privateChannel(req.clientID).Publish(BuildError(err.Error()))
				}
			}
		}
	}
}

func (s *Server) dispatch(p *TradeParams) error {
	switch engine.OrderType(p.OrderType) {
	case engine.LimitOrder:
		return s.engine.OnLimit(s.symbol, p.side(), p.Quantity, p.Price, p.ClientID)
	case engine.MarketableOrder:
		return s.engine.OnMarketable(s.symbol, p.side(), p.Quantity, p.Price, p.ClientID)
	case engine.MarketOrder:
		return s.engine.OnMarket(s.symbol, p.side(), p.Quantity, p.ClientID)
	case engine.AmendOrder:
		return s.engine.OnAmend(s.symbol, p.OrderID, p.Quantity, p.Price)
	case engine.CancelOrder:
		return s.engine.OnCancel(s.symbol, p.OrderID)
	default:
		return ErrUnknownEvent
	}
}

func (s *Server) quotesStream(t *tomb.Tomb) error {
	ticker := time.NewTicker(s.cfg.QuotesFreq)
	defer ticker.Stop()
	for {
		select {
		case <-t.Dying():
			return nil
		case <-ticker.C:
			reply := make(chan engine.BookState, 1)
			select {
			case <-t.Dying():
				return nil
			case s.requests <- request{snapshot: reply}:
			}
			select {
			case <-t.Dying():
				return nil
			case state := <-reply:
				s.publicChannel(TopicQuotes).Publish(BuildMessage(TopicQuotes, state))
			}
		}
	}
}

func (s *Server) lobvizStream(t *tomb.Tomb) error {
	ticker := time.NewTicker(s.cfg.QuotesFreq)
	defer ticker.Stop()
	for {
		select {
		case <-t.Dying():
			return nil
		case <-ticker.C:
			reply := make(chan string, 1)
			select {
			case <-t.Dying():
				return nil
			case s.requests <- request{lobviz: reply}:
			}
			select {
			case <-t.Dying():
				return nil
			case lob := <-reply:
				s.publicChannel(TopicLobviz).Publish(
					BuildMessage(TopicLobviz, map[string]any{"lob": lob}))
			}
		}
	}
}

// tradesStream streams the public trade tape. Trade capture is not in
// place yet, so the topic carries a placeholder.
func (s *Server) tradesStream(t *tomb.Tomb) error {
	ticker := time.NewTicker(s.cfg.TradesFreq)
	defer ticker.Stop()
	for {
		select {
		case <-t.Dying():
			return nil
		case <-ticker.C:
			s.publicChannel(TopicTrades).Publish(
				BuildMessage(TopicTrades, "Not yet implemented"))
		}
	}
}

func (s *Server) reportError(conn *websocket.Conn, clientID string, err error) {
	// Before init there is no pump: write directly. After init, route
	// through the private channel so the pump stays the only writer.
	if clientID == "" {
		conn.WriteMessage(websocket.TextMessage, BuildError(err.Error()))
		return
	}
	s.privateChannel(clientID).Publish(BuildError(err.Error()))
}

func (s *Server) publicChannel(topic string) *PubSub {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.public[topic]; !ok {
		s.public[topic] = NewPubSub()
	}
	return s.public[topic]
}

func (s *Server) privateChannel(clientID string) *PubSub {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.private[clientID]; !ok {
		s.private[clientID] = NewPubSub()
	}
	return s.private[clientID]
}

func (s *Server) dropPrivate(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.private, clientID)
	log.Debug().Str("clientID", clientID).Msg("private channel cleaned up")
}
