package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/99designs/keyring"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/zenkoo/internal/credential"
	"github.com/nhle/zenkoo/internal/live"
	"github.com/nhle/zenkoo/internal/model"
	"github.com/nhle/zenkoo/internal/store"
	"github.com/nhle/zenkoo/internal/testutil"
	"github.com/nhle/zenkoo/internal/ui/login"
)

type pushConn struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once
}

func (c *pushConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.frames:
		return websocket.TextMessage, f, nil
	case <-c.closed:
		return 0, nil, errors.New("closed")
	}
}

func (c *pushConn) WriteControl(int, []byte, time.Time) error { return nil }

func (c *pushConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type pushDialer struct {
	mu    sync.Mutex
	urls  []string
	conns []*pushConn
}

func (d *pushDialer) Dial(ctx context.Context, url string, _ http.Header) (live.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &pushConn{frames: make(chan []byte, 8), closed: make(chan struct{})}
	d.urls = append(d.urls, url)
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *pushDialer) last() *pushConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *pushDialer) dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

func backend(t *testing.T, unread *atomic.Int32) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/api/users/profile/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":42,"first_name":"Ada","email":"ada@example.com"}`))
	})
	r.Get("/api/notifications/unread/count/", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]int32{"unread_count": unread.Load()})
	})
	r.Get("/api/notifications/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"count":2,"results":[{"id":2,"message":"second"},{"id":1,"message":"first","is_read":true}]}`))
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func newTestRuntime(t *testing.T, unread *atomic.Int32) (*Runtime, *pushDialer, *store.SQLiteStore) {
	t.Helper()
	return newRuntimeFor(t, backend(t, unread).URL)
}

func accessToken(t *testing.T) string {
	t.Helper()
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": 42,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("k"))
	require.NoError(t, err)
	return access
}

func newRuntimeFor(t *testing.T, baseURL string) (*Runtime, *pushDialer, *store.SQLiteStore) {
	t.Helper()

	cfg, err := model.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	cfg.Server.APIBaseURL = baseURL
	cfg.Server.WSBaseURL = "ws://push.test"
	cfg.Inbox.ExitDelayMs = 0
	cfg.Inbox.ResyncIntervalSec = 0
	cfg.Live.BackoffInitialMs = 20
	cfg.Live.BackoffMaxMs = 20

	tokens := credential.New(keyring.NewArrayKeyring(nil))
	require.NoError(t, tokens.Set(credential.AccessTokenKey, accessToken(t)))

	cache := testutil.NewTestStore(t)
	d := &pushDialer{}
	rt := NewRuntime(cfg, tokens, cache, d)
	t.Cleanup(rt.Close)
	return rt, d, cache
}

// msgPump runs commands in the background and collects their messages,
// standing in for the bubbletea program loop.
type msgPump struct {
	msgs chan tea.Msg
}

func newMsgPump() *msgPump {
	return &msgPump{msgs: make(chan tea.Msg, 256)}
}

func (p *msgPump) run(cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	go func() {
		msg := cmd()
		if batch, ok := msg.(tea.BatchMsg); ok {
			for _, c := range batch {
				p.run(c)
			}
			return
		}
		if msg != nil {
			p.msgs <- msg
		}
	}()
}

// until feeds messages to m until cond holds.
func (p *msgPump) until(t *testing.T, m tea.Model, cond func(Model) bool) tea.Model {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond(m.(Model)) {
		select {
		case msg := <-p.msgs:
			var cmd tea.Cmd
			m, cmd = m.Update(msg)
			p.run(cmd)
		case <-deadline:
			t.Fatal("model did not reach the expected state")
		}
	}
	return m
}

func TestRuntimeEndToEnd(t *testing.T) {
	var unread atomic.Int32
	unread.Store(3)
	rt, d, cache := newTestRuntime(t, &unread)
	ctx := context.Background()

	user, err := rt.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, "42", user.ID)

	require.Eventually(t, func() bool { return rt.Live.Status().State == live.StateOpen }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"ws://push.test/ws/notifications/42/"}, d.dialed())
	require.Eventually(t, func() bool { return rt.Counter.Value() == 3 }, 2*time.Second, 5*time.Millisecond)

	// A push bumps the badge even while the drawer is closed.
	sub := rt.Dispatcher.Hub().Subscribe()
	defer sub.Close()
	d.last().frames <- []byte(`{"message":"BTC +5%","type":"cripto","id":"p1"}`)
	require.Eventually(t, func() bool { return rt.Counter.Value() == 4 }, 2*time.Second, 5*time.Millisecond)
	select {
	case n := <-sub.C():
		assert.Equal(t, "p1", n.ID)
		assert.True(t, n.IsCrypto())
	case <-time.After(time.Second):
		t.Fatal("push not broadcast")
	}
	assert.Equal(t, 0, rt.Inbox.Snapshot().Count)

	require.Eventually(t, func() bool {
		n, ok, err := cache.GetUnreadCount(ctx, "42")
		return err == nil && ok && n == 4
	}, 2*time.Second, 5*time.Millisecond)

	// With the drawer open, pushes land on the first page.
	rt.OpenDrawer()
	require.NoError(t, rt.Inbox.FetchPage(ctx, 1))
	d.last().frames <- []byte(`{"message":"hello","id":"p2"}`)
	require.Eventually(t, func() bool {
		snap := rt.Inbox.Snapshot()
		return snap.Count == 3 && len(snap.Items) == 3 && snap.Items[0].ID == "p2"
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		list, err := cache.GetFirstPage(ctx, "42")
		return err == nil && list != nil && len(list.Results) == 3
	}, 2*time.Second, 5*time.Millisecond)

	rt.CloseDrawer()
	d.last().frames <- []byte(`{"message":"later","id":"p3"}`)
	require.Eventually(t, func() bool { return rt.Counter.Value() == 6 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, rt.Inbox.Snapshot().Count)
}

func TestRuntimeLogoutTearsDown(t *testing.T) {
	var unread atomic.Int32
	unread.Store(2)
	rt, d, cache := newTestRuntime(t, &unread)
	ctx := context.Background()

	_, err := rt.Restore(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		n, ok, err := cache.GetUnreadCount(ctx, "42")
		return err == nil && ok && n == 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, rt.Logout())

	assert.Equal(t, live.StateIdle, rt.Live.Status().State)
	assert.Equal(t, 0, rt.Counter.Value())
	assert.Equal(t, "", rt.Session.UserID())

	_, ok, err := cache.GetUnreadCount(ctx, "42")
	require.NoError(t, err)
	assert.False(t, ok)

	time.Sleep(60 * time.Millisecond)
	assert.Len(t, d.dialed(), 1)
}

func TestRuntimeSeedsFromCache(t *testing.T) {
	var unread atomic.Int32
	unread.Store(1)
	rt, _, _ := newTestRuntime(t, &unread)
	ctx := context.Background()

	require.NoError(t, rt.cache.SaveUnreadCount(ctx, "42", 9))
	require.NoError(t, rt.cache.SaveFirstPage(ctx, "42", model.NotificationList{
		Count:   1,
		Results: []model.Notification{{ID: "cached", Message: "from last run"}},
	}))

	rt.seedFromCache("42")

	assert.Equal(t, 9, rt.Counter.Value())
	snap := rt.Inbox.Snapshot()
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "cached", snap.Items[0].ID)
	assert.False(t, snap.Loaded)
}

func TestModelRendersUnreadCount(t *testing.T) {
	var unread atomic.Int32
	unread.Store(5)
	rt, _, _ := newTestRuntime(t, &unread)

	user, err := rt.Restore(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rt.Counter.Value() == 5 }, 2*time.Second, 5*time.Millisecond)

	var m tea.Model = New(rt)
	m, _ = m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m, _ = m.Update(sessionResultMsg{user: user})
	m, _ = m.Update(runtimeChangedMsg{})

	view := m.View()
	assert.Contains(t, view, "Hello, Ada")
	assert.Contains(t, view, "You have 5 unread notifications.")
	assert.Contains(t, view, "🔔 5")
}

func TestSessionResultAfterLogoutShowsLogin(t *testing.T) {
	var unread atomic.Int32
	rt, _, _ := newTestRuntime(t, &unread)

	var m tea.Model = New(rt)
	m, _ = m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m, _ = m.Update(sessionResultMsg{user: &model.User{ID: "42", FirstName: "Ada"}})

	assert.Equal(t, ViewLogin, m.(Model).currentView)
	assert.Nil(t, m.(Model).user)
}

func TestResyncAuthErrorLogsOutInEverySession(t *testing.T) {
	var expired atomic.Bool
	r := chi.NewRouter()
	r.Post("/api/users/login/", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"access": accessToken(t), "refresh": "r"})
	})
	r.Post("/api/users/refresh/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	r.Get("/api/users/profile/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":42,"first_name":"Ada"}`))
	})
	r.Get("/api/notifications/unread/count/", func(w http.ResponseWriter, _ *http.Request) {
		if expired.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"unread_count":1}`))
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	rt, _, _ := newRuntimeFor(t, srv.URL)
	pump := newMsgPump()

	var m tea.Model = New(rt)
	m, _ = m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	pump.run(m.Init())

	loggedIn := func(m Model) bool { return m.user != nil && m.currentView == ViewHome }
	loggedOut := func(m Model) bool { return m.user == nil && m.currentView == ViewLogin && !m.expiring }

	m = pump.until(t, m, loggedIn)

	expired.Store(true)
	rt.Poller.RefreshTarget(TargetUnread)
	m = pump.until(t, m, loggedOut)
	assert.Equal(t, "", rt.Session.UserID())

	expired.Store(false)
	pump.run(func() tea.Msg { return login.SubmitMsg{Email: "ada@example.com", Password: "pw"} })
	m = pump.until(t, m, loggedIn)

	expired.Store(true)
	rt.Poller.RefreshTarget(TargetUnread)
	m = pump.until(t, m, loggedOut)
	assert.Equal(t, "", rt.Session.UserID())
	assert.Contains(t, m.(Model).notice, "session expired")
}
