package synchub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// ConnectionState is the Manager's view of the connection.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
)

const defaultHeartbeatInterval = 30 * time.Second

// Snapshot is a point-in-time view of a Manager.
type Snapshot struct {
	State         ConnectionState `json:"state"`
	ConnectedOnce bool            `json:"connectedOnce"`
	Reconnects    int64           `json:"reconnects"`
	Processed     int64           `json:"processed"`
	Faults        int64           `json:"faults"`
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithHeartbeatInterval sets how often a liveness heartbeat is sent while connected.
func WithHeartbeatInterval(d time.Duration) ManagerOption {
	return func(m *Manager) { m.heartbeat = d }
}

// WithLogger sets the logger.
func WithLogger(log *logrus.Entry) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// WithRegistry replaces DefaultRegistry.
func WithRegistry(r Registry) ManagerOption {
	return func(m *Manager) { m.registry = r }
}

// WithSelfID sets the local user's id, used to keep own messages out of unread counts.
func WithSelfID(id string) ManagerOption {
	return func(m *Manager) { m.selfID = id }
}

// Manager owns the connection lifecycle and is the single entry point of
// every inbound event: it runs the event's handlers against the store, then
// re-publishes the event on the bus.
type Manager struct {
	transport Transport
	store     Store
	index     ContextIndex
	bus       *Bus
	registry  Registry
	selfID    string
	heartbeat time.Duration
	log       *logrus.Entry

	mu            sync.Mutex
	state         ConnectionState
	connectedOnce bool
	started       bool
	stopped       bool
	offs          []func()
	cancel        context.CancelFunc
	wg            sync.WaitGroup

	reconnects atomic.Int64
	processed  atomic.Int64
	faults     atomic.Int64
}

// NewManager wires a manager. The registry is validated against the catalog.
func NewManager(transport Transport, store Store, index ContextIndex, bus *Bus, opts ...ManagerOption) (*Manager, error) {
	if transport == nil || store == nil || index == nil || bus == nil {
		return nil, errors.New("manager: transport, store, index and bus are required")
	}
	m := &Manager{
		transport: transport,
		store:     store,
		index:     index,
		bus:       bus,
		registry:  DefaultRegistry(),
		heartbeat: defaultHeartbeatInterval,
		log:       logrus.WithField("component", "manager"),
		state:     StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.registry.Validate(); err != nil {
		return nil, fmt.Errorf("manager: %w", err)
	}
	if m.heartbeat <= 0 {
		m.heartbeat = defaultHeartbeatInterval
	}
	return m, nil
}

// State returns the current connection state.
func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns the current state and counters.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	s := Snapshot{State: m.state, ConnectedOnce: m.connectedOnce}
	m.mu.Unlock()
	s.Reconnects = m.reconnects.Load()
	s.Processed = m.processed.Load()
	s.Faults = m.faults.Load()
	return s
}

func (m *Manager) setState(s ConnectionState) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()
	if prev != s {
		m.log.WithField("state", string(s)).Info("connection state changed")
	}
}

// Start registers one transport listener per catalog event, starts the
// heartbeat and connects. A Manager can be started once.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("manager already started")
	}
	m.started = true
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.state = StateConnecting

	for _, event := range catalog {
		m.offs = append(m.offs, m.transport.On(event, func(payload json.RawMessage) {
			m.dispatch(runCtx, event, payload)
		}))
	}
	m.offs = append(m.offs, m.transport.OnStateChange(func(s TransportState) {
		m.onTransportState(runCtx, s)
	}))
	m.mu.Unlock()

	m.wg.Add(1)
	go m.heartbeatLoop(runCtx)

	if err := m.transport.Connect(runCtx); err != nil {
		m.setState(StateDisconnected)
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// Stop removes every transport listener, stops the heartbeat and closes the
// transport. Handlers already running are not interrupted.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.started || m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	offs := m.offs
	m.offs = nil
	cancel := m.cancel
	m.mu.Unlock()

	for _, off := range offs {
		off()
	}
	cancel()
	m.wg.Wait()

	err := m.transport.Close()
	m.setState(StateDisconnected)
	if err != nil {
		return fmt.Errorf("close transport: %w", err)
	}
	return nil
}

func (m *Manager) onTransportState(ctx context.Context, s TransportState) {
	switch s {
	case TransportConnected:
		m.mu.Lock()
		reconnect := m.connectedOnce
		m.connectedOnce = true
		m.mu.Unlock()
		m.setState(StateConnected)

		m.resubscribe(ctx)
		if reconnect {
			m.reconnects.Add(1)
			m.log.Info("reconnected, invalidating push-driven caches")
			Reconcile(ctx, m.store)
		}
	case TransportDisconnected:
		m.setState(StateDisconnected)
	case TransportReconnecting:
		m.setState(StateReconnecting)
	}
}

func (m *Manager) resubscribe(ctx context.Context) {
	if err := m.transport.Emit(ctx, ControlSubscribeAll, struct{}{}); err != nil {
		m.log.WithError(err).Warn("subscribe to rooms failed")
	}
	m.sendHeartbeat(ctx)
}

func (m *Manager) sendHeartbeat(ctx context.Context) {
	if err := m.transport.Emit(ctx, ControlHeartbeat, struct{}{}); err != nil {
		m.log.WithError(err).Debug("heartbeat failed")
	}
}

func (m *Manager) heartbeatLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.State() == StateConnected {
				m.sendHeartbeat(ctx)
			}
		}
	}
}

// dispatch runs the handlers of event in order, isolating faults, then
// publishes the event on the bus whatever happened.
func (m *Manager) dispatch(ctx context.Context, event EventType, payload json.RawMessage) {
	log := m.log.WithField("event", string(event))
	env := &Env{Store: m.store, Index: m.index, SelfID: m.selfID, Log: log}

	for i, h := range m.registry.Handlers(event) {
		err := runSafely(fmt.Sprintf("%s handler %d", event, i), func() error {
			return h(ctx, env, payload)
		})
		if err != nil {
			m.faults.Add(1)
			log.WithError(err).Error("handler failed")
		}
	}

	m.processed.Add(1)
	m.bus.Emit(ctx, Envelope{Type: event, Payload: payload})
}
