package synchub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
)

// ============================================================================
// Transport contract
// ============================================================================

// TransportState is a connection-level signal reported by a Transport.
type TransportState string

const (
	TransportConnected    TransportState = "connected"
	TransportDisconnected TransportState = "disconnected"
	TransportReconnecting TransportState = "reconnecting"
)

// Transport is the persistent, auto-reconnecting connection to the server.
//
// Event callbacks for one connection are invoked serially, in the order the
// server sent the events.
type Transport interface {
	// Connect dials the server. ctx bounds the connection's whole lifetime,
	// reconnects included.
	Connect(ctx context.Context) error
	Close() error
	On(event EventType, fn func(payload json.RawMessage)) (off func())
	OnStateChange(fn func(TransportState)) (off func())
	Emit(ctx context.Context, event string, payload any) error
}

var errTransportClosed = errors.New("transport closed")

// ============================================================================
// Configuration
// ============================================================================

// WSConfig configures a WSTransport.
type WSConfig struct {
	// URL is the server base URL; http(s) schemes are mapped to ws(s) and
	// "/ws" is appended.
	URL                  string
	Token                string
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	AckTimeout           time.Duration
	HTTPClient           *http.Client
	Logger               *logrus.Entry
}

func (c *WSConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = 10 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = logrus.WithField("component", "transport")
	}
}

func (c *WSConfig) endpoint() (string, error) {
	u, err := url.Parse(strings.TrimRight(c.URL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	if c.Token != "" {
		q := u.Query()
		q.Set("token", c.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *WSConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts < 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// WSTransport
// ============================================================================

type eventHandler struct {
	fn func(json.RawMessage)
}

type stateHandler struct {
	fn func(TransportState)
}

// WSTransport is a websocket Transport speaking {"type","payload"} envelopes.
type WSTransport struct {
	config WSConfig
	log    *logrus.Entry
	recon  *reconnector

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	cancel context.CancelFunc

	hmu      sync.RWMutex
	handlers map[EventType][]*eventHandler
	states   []*stateHandler

	pendingMu sync.Mutex
	pending   map[string]chan json.RawMessage

	lost     chan struct{}
	lostOnce sync.Once

	wg sync.WaitGroup
}

var _ Transport = (*WSTransport)(nil)

// NewWSTransport creates a disconnected transport.
func NewWSTransport(config WSConfig) *WSTransport {
	config.defaults()
	return &WSTransport{
		config:   config,
		log:      config.Logger,
		recon:    newReconnector(&config),
		handlers: make(map[EventType][]*eventHandler),
		pending:  make(map[string]chan json.RawMessage),
		lost:     make(chan struct{}),
	}
}

// Lost is closed when the connection is gone for good without Close being
// called: it dropped with AutoReconnect off, or every reconnect attempt failed.
func (t *WSTransport) Lost() <-chan struct{} {
	return t.lost
}

func (t *WSTransport) markLost() {
	t.lostOnce.Do(func() { close(t.lost) })
}

func (t *WSTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// On registers fn for event. The returned func removes exactly this registration.
func (t *WSTransport) On(event EventType, fn func(json.RawMessage)) func() {
	h := &eventHandler{fn: fn}
	t.hmu.Lock()
	t.handlers[event] = append(t.handlers[event], h)
	t.hmu.Unlock()

	return func() {
		t.hmu.Lock()
		defer t.hmu.Unlock()
		current := t.handlers[event]
		for i, existing := range current {
			if existing == h {
				t.handlers[event] = append(current[:i:i], current[i+1:]...)
				return
			}
		}
	}
}

// OnStateChange registers fn for connection state changes.
func (t *WSTransport) OnStateChange(fn func(TransportState)) func() {
	h := &stateHandler{fn: fn}
	t.hmu.Lock()
	t.states = append(t.states, h)
	t.hmu.Unlock()

	return func() {
		t.hmu.Lock()
		defer t.hmu.Unlock()
		for i, existing := range t.states {
			if existing == h {
				t.states = append(t.states[:i:i], t.states[i+1:]...)
				return
			}
		}
	}
}

func (t *WSTransport) notify(s TransportState) {
	t.hmu.RLock()
	handlers := append([]*stateHandler(nil), t.states...)
	t.hmu.RUnlock()
	for _, h := range handlers {
		h.fn(s)
	}
}

func (t *WSTransport) dispatch(env Envelope) {
	t.hmu.RLock()
	handlers := append([]*eventHandler(nil), t.handlers[env.Type]...)
	t.hmu.RUnlock()
	if len(handlers) == 0 {
		t.log.WithField("event", string(env.Type)).Debug("no listener for event")
		return
	}
	for _, h := range handlers {
		h.fn(env.Payload)
	}
}

// Connected reports whether a connection is currently open.
func (t *WSTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Connect establishes the connection and starts the read loop.
func (t *WSTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errTransportClosed
	}
	if t.conn != nil {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	conn, err := t.dial(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cancel()
		conn.Close(websocket.StatusNormalClosure, "")
		return errTransportClosed
	}
	t.conn = conn
	t.cancel = cancel
	t.mu.Unlock()
	t.recon.markConnected()

	t.notify(TransportConnected)

	t.wg.Add(1)
	go t.run(runCtx, conn)
	return nil
}

func (t *WSTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := t.config.endpoint()
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if t.config.Token != "" {
		header.Set("Authorization", "Bearer "+t.config.Token)
	}
	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPClient: t.config.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(1 << 20)
	return conn, nil
}

// Close stops reconnecting, closes the connection, and waits for the read
// loop to exit. A closed transport cannot be reconnected.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cancel := t.cancel
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
	t.clearPending()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client close")
		t.notify(TransportDisconnected)
	}
	return nil
}

// Emit sends a fire-and-forget event.
func (t *WSTransport) Emit(ctx context.Context, event string, payload any) error {
	return t.send(ctx, event, payload, "")
}

// EmitWithAck sends an event tagged with a request id and waits for the
// server's reply carrying the same id.
func (t *WSTransport) EmitWithAck(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	requestID := uuid.NewString()
	ch := make(chan json.RawMessage, 1)

	t.pendingMu.Lock()
	t.pending[requestID] = ch
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, requestID)
		t.pendingMu.Unlock()
	}()

	if err := t.send(ctx, event, payload, requestID); err != nil {
		return nil, err
	}

	timer := time.NewTimer(t.config.AckTimeout)
	defer timer.Stop()
	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, ErrNotConnected
		}
		return reply, nil
	case <-timer.C:
		return nil, fmt.Errorf("%s: %w", event, ErrAckTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *WSTransport) send(ctx context.Context, event string, payload any, requestID string) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	data, err := json.Marshal(Envelope{Type: EventType(event), Payload: raw, RequestID: requestID})
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

// resolveAck hands env to a waiting EmitWithAck call, if any.
func (t *WSTransport) resolveAck(env Envelope) bool {
	if env.RequestID == "" {
		return false
	}
	t.pendingMu.Lock()
	ch, ok := t.pending[env.RequestID]
	if ok {
		delete(t.pending, env.RequestID)
	}
	t.pendingMu.Unlock()
	if ok {
		ch <- env.Payload
	}
	return ok
}

func (t *WSTransport) clearPending() {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
}

// ── Connection loop ──────────────────────────────────────

func (t *WSTransport) run(ctx context.Context, conn *websocket.Conn) {
	defer t.wg.Done()

	for {
		err := t.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return
		}

		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
		}
		t.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "")

		t.log.WithError(err).Warn("connection lost")
		t.notify(TransportDisconnected)

		if !t.config.AutoReconnect {
			t.markLost()
			return
		}
		if conn = t.reconnect(ctx); conn == nil {
			if ctx.Err() == nil && !t.isClosed() {
				t.notify(TransportDisconnected)
				t.markLost()
			}
			return
		}
	}
}

func (t *WSTransport) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.log.WithError(err).Debug("dropping malformed frame")
			continue
		}
		if t.resolveAck(env) {
			continue
		}
		t.dispatch(env)
	}
}

func (t *WSTransport) reconnect(ctx context.Context) *websocket.Conn {
	for t.recon.shouldReconnect() {
		delay := t.recon.nextDelay()
		t.log.WithFields(logrus.Fields{"attempt": t.recon.attempt, "delay": delay}).Info("reconnecting")
		t.notify(TransportReconnecting)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		conn, err := t.dial(ctx)
		if err != nil {
			t.log.WithError(err).Warn("reconnect failed")
			continue
		}

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			conn.Close(websocket.StatusNormalClosure, "")
			return nil
		}
		t.conn = conn
		t.mu.Unlock()
		t.recon.markConnected()
		t.notify(TransportConnected)
		return conn
	}
	t.log.WithField("attempts", t.recon.attempt).Error("giving up reconnecting")
	return nil
}
