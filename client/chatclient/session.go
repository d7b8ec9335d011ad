package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"dealerchat-backend/internal/model"

	"github.com/gorilla/websocket"
)

// Handler registration keys for OnEvent. At most one handler per type.
const (
	OnConnected       = "connected"
	OnMessage         = "message"
	OnConnectionError = "connectionError"
	OnDisconnected    = "disconnected"
)

// Credentials authenticate the live channel. Identity must match what the
// token asserts; the server rejects the join handshake otherwise.
type Credentials struct {
	Token    string
	Identity model.Identity
}

type SessionConfig struct {
	URL string // ws:// or wss:// endpoint
	// MaxReconnects caps re-dial attempts after transport loss. Zero means
	// the default of 5; a negative value disables reconnection entirely and
	// the session reports disconnected on the first drop.
	MaxReconnects    int
	BackoffBase      time.Duration
	HandshakeTimeout time.Duration
}

func (c *SessionConfig) defaults() {
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 5
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
}

// Session is one authenticated persistent channel. It owns the connection,
// re-dials with backoff on transport loss (re-issuing the join handshake),
// and dispatches inbound events to registered handlers. It never replays
// missed messages: after a reconnect the consumer re-fetches history and
// merges by message id.
type Session struct {
	cfg   SessionConfig
	creds Credentials

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers map[string]Handler
	waiters  []*echoWaiter

	closed    chan struct{}
	closeOnce sync.Once
	loopDone  chan struct{}
}

type Handler func(event *model.WSEvent)

type echoWaiter struct {
	match func(*model.Message) bool
	ch    chan *model.Message
}

// Connect opens the channel and completes the join handshake. A nil error
// means the session is live; the connected handler only fires on later
// reconnects. Fails with ErrAuth on credential problems and ErrNetwork when
// the transport cannot be established.
func Connect(ctx context.Context, cfg SessionConfig, creds Credentials) (*Session, error) {
	cfg.defaults()

	s := &Session{
		cfg:      cfg,
		creds:    creds,
		handlers: make(map[string]Handler),
		closed:   make(chan struct{}),
		loopDone: make(chan struct{}),
	}

	if err := s.dial(ctx); err != nil {
		return nil, err
	}

	go s.readLoop()
	go s.keepalive()
	return s, nil
}

// OnEvent registers the handler for one event type, replacing any previous
// one. Handlers run on the session's receive goroutine in arrival order.
func (s *Session) OnEvent(eventType string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[eventType] = h
}

// Send writes a message over the live channel without waiting for the store
// acknowledgment. Most callers should go through an Outbox with SendFunc
// instead, so delivery state is tracked.
func (s *Session) Send(targetID, body string) error {
	return s.writeEvent(model.MustEvent(model.EventSend, model.WSSend{
		ConversationTargetID: targetID,
		Body:                 body,
	}))
}

// SendFunc adapts the live channel as an Outbox entry point. The store
// acknowledgment is the server's echo of the stored message back to the
// sender; no echo within the timeout is a transport failure.
func (s *Session) SendFunc(ackTimeout time.Duration) SendFunc {
	return func(ctx context.Context, receiverID, body string) (*model.Message, error) {
		w := &echoWaiter{
			match: func(m *model.Message) bool {
				return m.SenderID == s.creds.Identity.ID && m.Body == body
			},
			ch: make(chan *model.Message, 1),
		}
		s.addWaiter(w)
		defer s.removeWaiter(w)

		if err := s.Send(receiverID, body); err != nil {
			return nil, err
		}

		select {
		case msg := <-w.ch:
			return msg, nil
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrTransport, ctx.Err())
		case <-time.After(ackTimeout):
			return nil, fmt.Errorf("%w: no store acknowledgment", ErrTransport)
		}
	}
}

// Close tears the channel down deterministically. After Close returns, no
// handler runs again. Must not be called from inside a handler.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mu.Lock()
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.mu.Unlock()
		<-s.loopDone
	})
}

func (s *Session) dial(ctx context.Context) error {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	q := u.Query()
	q.Set("token", s.creds.Token)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: %v", ErrAuth, err)
		}
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	// join(identity): the server routes nothing to this session until the
	// handshake completes.
	join := model.MustEvent(model.EventJoin, model.WSJoin{Identity: s.creds.Identity})
	if err := conn.WriteJSON(join); err != nil {
		conn.Close()
		return fmt.Errorf("%w: join: %v", ErrNetwork, err)
	}

	conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	var event model.WSEvent
	if err := conn.ReadJSON(&event); err != nil {
		conn.Close()
		return fmt.Errorf("%w: handshake: %v", ErrNetwork, err)
	}
	conn.SetReadDeadline(time.Time{})

	if event.Type != model.EventConnected {
		conn.Close()
		return fmt.Errorf("%w: join refused", ErrAuth)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return nil
}

func (s *Session) readLoop() {
	defer close(s.loopDone)

	for {
		conn := s.currentConn()
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if s.isClosed() {
				return
			}
			if !s.reconnect() {
				s.dispatch(OnConnectionError, model.MustEvent(model.EventConnectionError,
					model.WSError{Reason: "reconnect attempts exhausted"}))
				s.dispatch(OnDisconnected, &model.WSEvent{Type: "disconnected"})
				return
			}
			// Close may have raced the re-dial; drop the fresh
			// connection instead of reading from it.
			if s.isClosed() {
				if c := s.currentConn(); c != nil {
					_ = c.Close()
				}
				return
			}
			// The consumer reconciles from history; the session only
			// announces that the channel is live again.
			s.dispatch(OnConnected, model.MustEvent(model.EventConnected, s.creds.Identity))
			continue
		}

		var event model.WSEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			continue
		}

		switch event.Type {
		case model.EventNewMessage:
			s.offerToWaiters(&event)
			s.dispatch(OnMessage, &event)
		case model.EventConversationDeleted:
			s.dispatch(OnMessage, &event)
		case model.EventConnected:
			s.dispatch(OnConnected, &event)
		case model.EventConnectionError:
			s.dispatch(OnConnectionError, &event)
		case model.EventPong:
			// keepalive reply, nothing to do
		}
	}
}

// reconnect re-dials with exponential backoff and re-issues the join
// handshake. Auth rejections are not retried.
func (s *Session) reconnect() bool {
	backoff := s.cfg.BackoffBase
	for attempt := 1; attempt <= s.cfg.MaxReconnects; attempt++ {
		select {
		case <-s.closed:
			return false
		case <-time.After(backoff):
		}
		backoff *= 2

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HandshakeTimeout)
		err := s.dial(ctx)
		cancel()
		if err == nil {
			return true
		}
		if !Retryable(err) {
			return false
		}
	}
	return false
}

func (s *Session) keepalive() {
	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			_ = s.writeEvent(model.MustEvent(model.EventPing, nil))
		}
	}
}

func (s *Session) dispatch(handlerType string, event *model.WSEvent) {
	if s.isClosed() {
		return
	}
	s.mu.Lock()
	h := s.handlers[handlerType]
	s.mu.Unlock()
	if h != nil {
		h(event)
	}
}

// offerToWaiters hands one echoed message to the oldest waiter it satisfies.
// Each waiter consumes exactly one echo: concurrent sends with identical
// bodies each get their own acknowledgment in FIFO order instead of the
// first waiter swallowing every echo.
func (s *Session) offerToWaiters(event *model.WSEvent) {
	var msg model.Message
	if err := json.Unmarshal(event.Data, &msg); err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.waiters {
		if !w.match(&msg) {
			continue
		}
		select {
		case w.ch <- &msg:
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		default:
			// Already satisfied but not yet removed; the echo belongs
			// to the next waiter in line.
		}
	}
}

func (s *Session) addWaiter(w *echoWaiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waiters = append(s.waiters, w)
}

func (s *Session) removeWaiter(w *echoWaiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.waiters {
		if cur == w {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

func (s *Session) writeEvent(event *model.WSEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("%w: channel not established", ErrTransport)
	}
	if err := s.conn.WriteJSON(event); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

func (s *Session) currentConn() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
