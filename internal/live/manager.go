package live

import (
	"context"
	"errors"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is the lifecycle state of the push connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Status is a snapshot of the connection state.
type Status struct {
	State  State
	UserID string

	// CloseCode and WasClean describe the most recent close, if any.
	CloseCode int
	WasClean  bool

	// Backoff is the pending delay while Reconnecting.
	Backoff time.Duration

	// Attempts counts failed attempts since the last successful open.
	Attempts int

	Err error
}

// Config controls the manager's endpoint and retry timing.
type Config struct {
	// BaseURL is the ws(s)://host:port origin of the push endpoint.
	BaseURL string

	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	BackoffMultiplier float64

	// DialTimeout bounds each connection attempt.
	DialTimeout time.Duration
}

const closeWriteTimeout = time.Second

// Manager owns the single push connection of the active identity. A session
// is started when an identity is set and runs on one goroutine that dials,
// reads and reconnects with backoff until the identity changes, Reconnect
// is called or the manager is closed.
type Manager struct {
	cfg     Config
	dialer  Dialer
	handler FrameHandler

	mu      sync.Mutex
	userID  string
	gen     uint64 // bumped on every teardown; stale sessions compare against it
	cancel  context.CancelFunc
	conn    Conn
	status  Status
	updates chan Status

	wg sync.WaitGroup
}

// New creates an idle Manager.
func New(cfg Config, dialer Dialer, handler FrameHandler) *Manager {
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 2 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &Manager{
		cfg:     cfg,
		dialer:  dialer,
		handler: handler,
		updates: make(chan Status, 1),
	}
}

// URL returns the push endpoint for userID.
func URL(baseURL, userID string) string {
	return strings.TrimRight(baseURL, "/") + "/ws/notifications/" + url.PathEscape(userID) + "/"
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Updates delivers status changes. Only the latest unread status is kept.
func (m *Manager) Updates() <-chan Status {
	return m.updates
}

// SetIdentity binds the connection to userID. An empty ID tears the session
// down. Setting the identity that is already bound does nothing, so a
// session is never duplicated.
func (m *Manager) SetIdentity(userID string) {
	m.mu.Lock()
	if userID == m.userID {
		m.mu.Unlock()
		return
	}
	conn := m.teardownLocked()
	m.userID = userID
	if userID != "" {
		m.startLocked()
	} else {
		m.setStatusLocked(Status{State: StateIdle})
	}
	m.mu.Unlock()

	closeConn(conn)
}

// Reconnect replaces the current session with a fresh one. It is a no-op
// without an identity.
func (m *Manager) Reconnect() {
	m.mu.Lock()
	if m.userID == "" {
		m.mu.Unlock()
		return
	}
	conn := m.teardownLocked()
	m.startLocked()
	m.mu.Unlock()

	closeConn(conn)
}

// Close tears down the session and waits for its goroutine to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	conn := m.teardownLocked()
	m.userID = ""
	m.setStatusLocked(Status{State: StateIdle})
	m.mu.Unlock()

	closeConn(conn)
	m.wg.Wait()
}

func (m *Manager) startLocked() {
	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go m.run(ctx, m.gen, m.userID)
}

// teardownLocked invalidates the running session and returns its socket,
// which the caller closes after releasing the lock.
func (m *Manager) teardownLocked() Conn {
	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	conn := m.conn
	m.conn = nil
	return conn
}

func (m *Manager) run(ctx context.Context, gen uint64, userID string) {
	defer m.wg.Done()

	backoff := Backoff{
		Initial:    m.cfg.BackoffInitial,
		Max:        m.cfg.BackoffMax,
		Multiplier: m.cfg.BackoffMultiplier,
	}
	attempts := 0
	endpoint := URL(m.cfg.BaseURL, userID)

	for {
		if !m.update(gen, Status{State: StateConnecting, UserID: userID, Attempts: attempts}) {
			return
		}

		conn, err := m.dial(ctx, endpoint)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempts++
			log.Printf("live: connecting to %s (attempt %d): %v", endpoint, attempts, err)
			wait := backoff.Next()
			if !m.update(gen, Status{State: StateReconnecting, UserID: userID, Backoff: wait, Attempts: attempts, Err: err}) {
				return
			}
			if !sleep(ctx, wait) {
				return
			}
			continue
		}

		if !m.attach(gen, userID, conn) {
			conn.Close()
			return
		}
		backoff.Reset()
		attempts = 0

		code, err := m.readLoop(gen, conn)
		m.detach(gen, conn)
		if ctx.Err() != nil {
			return
		}

		if code == websocket.CloseNormalClosure {
			conn.Close()
			m.update(gen, Status{State: StateIdle, UserID: userID, CloseCode: code, WasClean: true})
			return
		}

		conn.Close()
		attempts++
		log.Printf("live: connection to %s lost (code %d): %v", endpoint, code, err)
		m.update(gen, Status{State: StateClosed, UserID: userID, CloseCode: code, Err: err})
		wait := backoff.Next()
		if !m.update(gen, Status{State: StateReconnecting, UserID: userID, CloseCode: code, Backoff: wait, Attempts: attempts, Err: err}) {
			return
		}
		if !sleep(ctx, wait) {
			return
		}
	}
}

func (m *Manager) dial(ctx context.Context, endpoint string) (Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()

	conn, err := m.dialer.Dial(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, errors.New("dialer returned no connection")
	}
	return conn, nil
}

// readLoop reads until the connection fails and returns the close code.
func (m *Manager) readLoop(gen uint64, conn Conn) (int, error) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return ce.Code, err
			}
			return websocket.CloseAbnormalClosure, err
		}
		if mt != websocket.TextMessage {
			log.Printf("live: ignoring non-text frame (type %d)", mt)
			continue
		}
		if !m.current(gen) {
			return websocket.CloseGoingAway, errors.New("session superseded")
		}
		m.handler.HandleFrame(data)
	}
}

func (m *Manager) attach(gen uint64, userID string, conn Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return false
	}
	m.conn = conn
	m.setStatusLocked(Status{State: StateOpen, UserID: userID})
	return true
}

func (m *Manager) detach(gen uint64, conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen == m.gen && m.conn == conn {
		m.conn = nil
	}
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

// update stores st if gen is still the live session.
func (m *Manager) update(gen uint64, st Status) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return false
	}
	m.setStatusLocked(st)
	return true
}

func (m *Manager) setStatusLocked(st Status) {
	m.status = st
	select {
	case <-m.updates:
	default:
	}
	m.updates <- st
}

// closeConn sends a normal-closure frame and closes the socket.
func closeConn(conn Conn) {
	if conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout)); err != nil {
		log.Printf("live: sending close frame: %v", err)
	}
	conn.Close()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
