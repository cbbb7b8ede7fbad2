package network

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Manager states.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StatePaused
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// EventType identifies a connection lifecycle event.
type EventType int

const (
	EventConnected EventType = iota
	EventDisconnected
	EventError
	EventPaused
)

// Event is a connection lifecycle notification fanned out to subscribers.
type Event struct {
	Type   EventType
	Server string
	Err    error
}

// DialFunc opens a session to a server URL. Injected in tests; the default
// dials a WebSocket via Dial.
type DialFunc func(ctx context.Context, url string, log zerolog.Logger) (Session, error)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Endpoints []ServerEndpoint

	// ConnectTimeout is the failover timer: how long one endpoint gets
	// to reach Connected before the manager advances to the next.
	// Defaults to 5s.
	ConnectTimeout time.Duration

	// PauseDuration is the cool-down entered after the whole endpoint
	// list failed FailoverRounds times. Defaults to 60s.
	PauseDuration time.Duration

	// FailoverRounds is how many passes over the endpoint list are made
	// before pausing. Defaults to 2.
	FailoverRounds int

	Logger zerolog.Logger
	Dial   DialFunc
}

// eventBuffer bounds the lifecycle event fan-out channel.
const eventBuffer = 16

// Manager owns at most one live server connection and keeps it alive across
// an ordered list of interchangeable endpoints: bounded-retry failover,
// a cool-down pause once the list is exhausted, and event fan-out.
//
// All transitions are serialized under one mutex; in-flight dials and timer
// callbacks carry a generation number and are discarded when superseded.
type Manager struct {
	cfg ManagerConfig
	log zerolog.Logger

	mu       sync.Mutex
	state    State
	idx      int
	attempts int
	gen      int
	conn     Session
	identity string
	closed   bool

	failoverTimer *time.Timer
	pauseTimer    *time.Timer

	events chan Event
	notifs chan Notification
}

// Compile-time interface check: the manager is the ChainService its
// dependents consume.
var _ ChainService = (*Manager)(nil)

// NewManager creates a Manager over the given endpoints. It starts at rest;
// call Connect to bring a connection up.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.PauseDuration <= 0 {
		cfg.PauseDuration = time.Minute
	}
	if cfg.FailoverRounds <= 0 {
		cfg.FailoverRounds = 2
	}
	if cfg.Dial == nil {
		cfg.Dial = func(ctx context.Context, url string, log zerolog.Logger) (Session, error) {
			return Dial(ctx, url, log)
		}
	}

	return &Manager{
		cfg:    cfg,
		log:    cfg.Logger,
		state:  StateDisconnected,
		events: make(chan Event, eventBuffer),
		notifs: make(chan Notification, notifBuffer),
	}, nil
}

// Connect brings up a connection for the given identity. A call while
// already connected with the same identity is a no-op; anything else tears
// the existing connection down first and supersedes any pending retry.
func (m *Manager) Connect(identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}
	if m.state == StateConnected && m.conn != nil && m.identity == identity {
		return nil
	}

	m.identity = identity
	m.teardownLocked()
	m.attempts = 0
	m.startConnectLocked()
	return nil
}

// Disconnect is the user-initiated teardown: the manager stays at rest and
// schedules no reconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.teardownLocked()
	m.state = StateDisconnected
	m.emitLocked(Event{Type: EventDisconnected})
}

// Close shuts the manager down for good.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.teardownLocked()
	m.state = StateDisconnected
	m.closed = true
	return nil
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Events delivers connection lifecycle events. Slow consumers lose the
// oldest events rather than blocking the state machine.
func (m *Manager) Events() <-chan Event { return m.events }

// Notifications delivers script status events from whichever connection is
// live, across reconnects.
func (m *Manager) Notifications() <-chan Notification { return m.notifs }

// ---------------------------------------------------------------------------
// state machine internals (all *Locked methods require m.mu held)
// ---------------------------------------------------------------------------

// teardownLocked fully dismantles the current connection and timers and
// supersedes in-flight work.
func (m *Manager) teardownLocked() {
	m.gen++
	m.stopTimersLocked()
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
}

// stopTimersLocked clears pending timers so no duplicate retry can race a
// newly armed one.
func (m *Manager) stopTimersLocked() {
	if m.failoverTimer != nil {
		m.failoverTimer.Stop()
		m.failoverTimer = nil
	}
	if m.pauseTimer != nil {
		m.pauseTimer.Stop()
		m.pauseTimer = nil
	}
}

// startConnectLocked begins one connection attempt against the current
// endpoint and arms the failover timer.
func (m *Manager) startConnectLocked() {
	m.state = StateConnecting
	gen := m.gen
	ep := m.cfg.Endpoints[m.idx]

	m.log.Debug().Str("server", ep.URL).Int("attempt", m.attempts).Msg("connecting")

	if m.failoverTimer != nil {
		m.failoverTimer.Stop()
	}
	m.failoverTimer = time.AfterFunc(m.cfg.ConnectTimeout, func() { m.onFailover(gen) })

	go m.dial(gen, ep)
}

// dial runs one connection attempt outside the lock.
func (m *Manager) dial(gen int, ep ServerEndpoint) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	defer cancel()

	s, err := m.cfg.Dial(ctx, ep.URL, m.log)
	if err == nil {
		// Identity handshake before the session counts as connected.
		var serverVersion []string
		err = s.Call(ctx, methodVersion, []string{m.currentIdentity(), protocolVersion}, &serverVersion)
		if err != nil {
			_ = s.Close()
			s = nil
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.closed {
		// Superseded while dialing; a late success must not be applied.
		if s != nil {
			_ = s.Close()
		}
		return
	}

	if err != nil {
		m.log.Warn().Str("server", ep.URL).Err(err).Msg("connection attempt failed")
		m.emitLocked(Event{Type: EventError, Server: ep.URL, Err: err})
		// The failover timer paces the advance to the next endpoint.
		return
	}

	m.stopTimersLocked()
	m.conn = s
	m.state = StateConnected
	m.attempts = 0
	m.log.Info().Str("server", ep.URL).Msg("connected")
	m.emitLocked(Event{Type: EventConnected, Server: ep.URL})

	go m.pump(s)
	go m.watch(gen, s, ep.URL)
}

// onFailover fires when Connected was not reached in time: advance to the
// next endpoint, or pause once the list has been exhausted enough times.
func (m *Manager) onFailover(gen int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.closed || m.state != StateConnecting {
		return
	}

	m.gen++ // supersede the in-flight dial
	m.attempts++

	if m.attempts >= len(m.cfg.Endpoints)*m.cfg.FailoverRounds {
		m.state = StatePaused
		m.log.Warn().Int("attempts", m.attempts).Dur("pause", m.cfg.PauseDuration).Msg("all servers failing, pausing retries")
		m.emitLocked(Event{Type: EventPaused})

		pauseGen := m.gen
		m.pauseTimer = time.AfterFunc(m.cfg.PauseDuration, func() { m.onPauseExpired(pauseGen) })
		return
	}

	m.idx = (m.idx + 1) % len(m.cfg.Endpoints)
	m.startConnectLocked()
}

// onPauseExpired resets the attempt counter and retries from the current
// position.
func (m *Manager) onPauseExpired(gen int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.closed || m.state != StatePaused {
		return
	}
	m.attempts = 0
	m.startConnectLocked()
}

// watch schedules a reconnect when the live session drops unexpectedly.
// Deliberate teardowns bump the generation first, so they are ignored here.
func (m *Manager) watch(gen int, s Session, server string) {
	<-s.Done()

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.closed || m.conn != s {
		return
	}

	m.conn = nil
	m.log.Warn().Str("server", server).Err(s.Err()).Msg("connection dropped")
	m.emitLocked(Event{Type: EventDisconnected, Server: server, Err: s.Err()})

	m.gen++
	m.startConnectLocked()
}

// pump forwards the session's notifications to the manager-owned channel so
// subscribers survive reconnects.
func (m *Manager) pump(s Session) {
	for n := range s.Notifications() {
		select {
		case m.notifs <- n:
		default:
			m.log.Warn().Str("script", n.ScriptID).Msg("status notification dropped, consumer too slow")
		}
	}
}

// emitLocked fans out a lifecycle event without ever blocking the state
// machine.
func (m *Manager) emitLocked(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.log.Debug().Int("type", int(ev.Type)).Msg("event buffer full, dropping")
	}
}

func (m *Manager) currentIdentity() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// live returns the current session or ErrNotConnected.
func (m *Manager) live() (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	if m.state != StateConnected || m.conn == nil {
		return nil, ErrNotConnected
	}
	return m.conn, nil
}

// ---------------------------------------------------------------------------
// ChainService implementation over the live session
// ---------------------------------------------------------------------------

// ListUnspent returns the authoritative unspent set for a script.
func (m *Manager) ListUnspent(ctx context.Context, scriptID string) ([]*UnspentRef, error) {
	s, err := m.live()
	if err != nil {
		return nil, err
	}
	var refs []*UnspentRef
	if err := s.Call(ctx, methodListUnspent, []string{scriptID}, &refs); err != nil {
		return nil, err
	}
	return refs, nil
}

// SubscribeScript registers for push status events on a script.
func (m *Manager) SubscribeScript(ctx context.Context, scriptID string) (string, error) {
	s, err := m.live()
	if err != nil {
		return "", err
	}
	var status *string
	if err := s.Call(ctx, methodSubscribe, []string{scriptID}, &status); err != nil {
		return "", err
	}
	if status == nil {
		// Null status: the server has no history for this script yet.
		return "", nil
	}
	return *status, nil
}

// GetRawTx returns the raw transaction hex for a txid.
func (m *Manager) GetRawTx(ctx context.Context, txid string) (string, error) {
	s, err := m.live()
	if err != nil {
		return "", err
	}
	var raw string
	if err := s.Call(ctx, methodGetTx, []string{txid}, &raw); err != nil {
		return "", err
	}
	return raw, nil
}

// Broadcast submits a raw transaction hex and returns the txid.
func (m *Manager) Broadcast(ctx context.Context, rawTxHex string) (string, error) {
	if _, err := hex.DecodeString(rawTxHex); err != nil {
		return "", fmt.Errorf("%w: raw transaction is not hex: %w", ErrBroadcastRejected, err)
	}
	s, err := m.live()
	if err != nil {
		return "", err
	}
	var txid string
	if err := s.Call(ctx, methodBroadcast, []string{rawTxHex}, &txid); err != nil {
		return "", fmt.Errorf("%w: %w", ErrBroadcastRejected, err)
	}
	return txid, nil
}
