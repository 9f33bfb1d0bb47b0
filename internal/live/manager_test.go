package live

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBackoff = 50 * time.Millisecond

type readResult struct {
	mt   int
	data []byte
	err  error
}

type fakeConn struct {
	in     chan readResult
	closed chan struct{}
	once   sync.Once

	mu          sync.Mutex
	closeFrames int
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan readResult, 8), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case r := <-c.in:
		return r.mt, r.data, r.err
	case <-c.closed:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (c *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	if messageType == websocket.CloseMessage {
		c.mu.Lock()
		c.closeFrames++
		c.mu.Unlock()
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sentCloseFrames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeFrames
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeDialer hands out connections or errors in order and records every
// attempt.
type fakeDialer struct {
	mu      sync.Mutex
	results []func() (Conn, error)
	urls    []string
	times   []time.Time
	conns   []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.urls = append(d.urls, url)
	d.times = append(d.times, time.Now())

	if len(d.results) > 0 {
		next := d.results[0]
		d.results = d.results[1:]
		return next()
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) failNext(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, func() (Conn, error) { return nil, err })
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

type recordingHandler struct {
	mu     sync.Mutex
	frames []string
}

func (h *recordingHandler) HandleFrame(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, string(data))
}

func (h *recordingHandler) got() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.frames))
	copy(out, h.frames)
	return out
}

func newTestManager(d Dialer, h FrameHandler) *Manager {
	return New(Config{
		BaseURL:           "ws://backend.test",
		BackoffInitial:    testBackoff,
		BackoffMax:        testBackoff,
		BackoffMultiplier: 1,
		DialTimeout:       time.Second,
	}, d, h)
}

func waitForState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.Status().State == want }, 2*time.Second, 5*time.Millisecond,
		"state never reached %s", want)
}

func TestURL(t *testing.T) {
	assert.Equal(t, "wss://api.example.com/ws/notifications/42/", URL("wss://api.example.com/", "42"))
	assert.Equal(t, "ws://h/ws/notifications/a%2Fb/", URL("ws://h", "a/b"))
}

func TestOpensAndDeliversTextFrames(t *testing.T) {
	d := &fakeDialer{}
	h := &recordingHandler{}
	m := newTestManager(d, h)
	defer m.Close()

	m.SetIdentity("42")
	waitForState(t, m, StateOpen)
	assert.Equal(t, "42", m.Status().UserID)

	c := d.conn(0)
	c.in <- readResult{mt: websocket.BinaryMessage, data: []byte("bin")}
	c.in <- readResult{mt: websocket.TextMessage, data: []byte(`{"message":"a"}`)}
	c.in <- readResult{mt: websocket.TextMessage, data: []byte(`{"message":"b"}`)}

	require.Eventually(t, func() bool { return len(h.got()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{`{"message":"a"}`, `{"message":"b"}`}, h.got())
	assert.Equal(t, []string{"ws://backend.test/ws/notifications/42/"}, d.urls)
}

func TestReconnectsAfterBackoffOnDialFailure(t *testing.T) {
	d := &fakeDialer{}
	d.failNext(errors.New("connection refused"))
	m := newTestManager(d, &recordingHandler{})
	defer m.Close()

	m.SetIdentity("42")
	waitForState(t, m, StateOpen)

	// Exactly one new attempt, no sooner than the backoff.
	time.Sleep(3 * testBackoff)
	d.mu.Lock()
	defer d.mu.Unlock()
	require.Len(t, d.times, 2)
	assert.GreaterOrEqual(t, d.times[1].Sub(d.times[0]), testBackoff)
}

func TestAbnormalCloseReconnects(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, &recordingHandler{})
	defer m.Close()

	m.SetIdentity("42")
	waitForState(t, m, StateOpen)

	closedAt := time.Now()
	d.conn(0).in <- readResult{err: &websocket.CloseError{Code: websocket.CloseAbnormalClosure}}

	require.Eventually(t, func() bool { return m.Status().State == StateReconnecting }, testBackoff, time.Millisecond)
	assert.Equal(t, testBackoff, m.Status().Backoff)
	assert.Equal(t, websocket.CloseAbnormalClosure, m.Status().CloseCode)

	require.Eventually(t, func() bool { return d.dials() == 2 }, 2*time.Second, 5*time.Millisecond)
	waitForState(t, m, StateOpen)
	assert.Equal(t, 0, m.Status().Attempts)

	// One redial, no sooner than the backoff, and no storm afterwards.
	time.Sleep(3 * testBackoff)
	d.mu.Lock()
	defer d.mu.Unlock()
	require.Len(t, d.times, 2)
	assert.GreaterOrEqual(t, d.times[1].Sub(closedAt), testBackoff)
}

func TestCleanCloseStaysIdle(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, &recordingHandler{})
	defer m.Close()

	m.SetIdentity("42")
	waitForState(t, m, StateOpen)

	d.conn(0).in <- readResult{err: &websocket.CloseError{Code: websocket.CloseNormalClosure}}
	waitForState(t, m, StateIdle)

	st := m.Status()
	assert.True(t, st.WasClean)
	assert.Equal(t, websocket.CloseNormalClosure, st.CloseCode)

	time.Sleep(3 * testBackoff)
	assert.Equal(t, 1, d.dials())

	m.Reconnect()
	require.Eventually(t, func() bool { return d.dials() == 2 }, time.Second, 5*time.Millisecond)
	waitForState(t, m, StateOpen)
}

func TestSameIdentityDoesNotDuplicateSession(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, &recordingHandler{})
	defer m.Close()

	m.SetIdentity("42")
	waitForState(t, m, StateOpen)
	m.SetIdentity("42")

	time.Sleep(3 * testBackoff)
	assert.Equal(t, 1, d.dials())
	assert.False(t, d.conn(0).isClosed())
}

func TestIdentityChangeTearsDownPreviousSession(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, &recordingHandler{})
	defer m.Close()

	m.SetIdentity("1")
	waitForState(t, m, StateOpen)
	m.SetIdentity("2")

	require.Eventually(t, func() bool { return d.dials() == 2 }, time.Second, 5*time.Millisecond)
	waitForState(t, m, StateOpen)

	first := d.conn(0)
	assert.True(t, first.isClosed())
	assert.Equal(t, 1, first.sentCloseFrames())
	assert.Equal(t, "ws://backend.test/ws/notifications/2/", d.urls[1])
	assert.Equal(t, "2", m.Status().UserID)
}

func TestClearingIdentitySendsCloseFrame(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, &recordingHandler{})
	defer m.Close()

	m.SetIdentity("42")
	waitForState(t, m, StateOpen)
	m.SetIdentity("")

	c := d.conn(0)
	assert.True(t, c.isClosed())
	assert.Equal(t, 1, c.sentCloseFrames())
	assert.Equal(t, StateIdle, m.Status().State)

	time.Sleep(3 * testBackoff)
	assert.Equal(t, 1, d.dials())
}

func TestUpdatesKeepsLatestStatus(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, &recordingHandler{})
	defer m.Close()

	m.SetIdentity("42")
	waitForState(t, m, StateOpen)

	select {
	case st := <-m.Updates():
		assert.Equal(t, StateOpen, st.State)
	case <-time.After(time.Second):
		t.Fatal("no status update")
	}
}

func TestReconnectWithoutIdentityIsNoop(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, &recordingHandler{})
	defer m.Close()

	m.Reconnect()
	time.Sleep(2 * testBackoff)
	assert.Equal(t, 0, d.dials())
}
