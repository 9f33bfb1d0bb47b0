package app

import (
	"context"
	"errors"
	"log"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/nhle/zenkoo/internal/api"
	"github.com/nhle/zenkoo/internal/credential"
	"github.com/nhle/zenkoo/internal/events"
	"github.com/nhle/zenkoo/internal/inbox"
	"github.com/nhle/zenkoo/internal/live"
	"github.com/nhle/zenkoo/internal/model"
	"github.com/nhle/zenkoo/internal/session"
	"github.com/nhle/zenkoo/internal/store"
	appsync "github.com/nhle/zenkoo/internal/sync"
	"github.com/nhle/zenkoo/internal/unread"
)

// Resync target names.
const (
	TargetUnread = "unread count"
	TargetInbox  = "notifications"
)

// cacheTimeout bounds a single cache read or write.
const cacheTimeout = 5 * time.Second

// Runtime wires the notification subsystem together. It is shared by the
// terminal UI and headless mode.
type Runtime struct {
	Config     *model.AppConfig
	ConfigPath string
	API        *api.Client
	Session    *session.Manager
	Live       *live.Manager
	Dispatcher *events.Dispatcher
	Counter    *unread.Counter
	Inbox      *inbox.Store
	Poller     *appsync.Poller

	cache store.Store

	drawerOpen atomic.Bool
	detachMu   gosync.Mutex
	detach     func()

	changes chan struct{}
	stop    chan struct{}
	wg      gosync.WaitGroup
	once    gosync.Once
}

// NewRuntime builds the runtime. cache may be nil to run without a local
// cache.
func NewRuntime(cfg *model.AppConfig, tokens credential.Store, cache store.Store, dialer live.Dialer) *Runtime {
	client := api.NewClient(cfg.Server.APIBaseURL, cfg.Server.APIPrefix, tokens,
		api.WithRateLimit(cfg.Server.RequestsPerSecond, cfg.Server.RequestBurst))

	if dialer == nil {
		dialer = live.NewWebsocketDialer(cfg.Live.DialTimeout())
	}

	r := &Runtime{
		Config:     cfg,
		API:        client,
		Session:    session.New(client, tokens),
		Dispatcher: events.NewDispatcher(events.NewHub()),
		Poller:     appsync.New(),
		cache:      cache,
		changes:    make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
	r.Counter = unread.New(client)
	r.Inbox = inbox.New(client, r.Counter, inbox.Config{
		PageSize:  cfg.Inbox.PageSize,
		ExitDelay: cfg.Inbox.ExitDelay(),
	})

	initial, maxBackoff := cfg.Live.Backoff()
	r.Live = live.New(live.Config{
		BaseURL:           cfg.Server.WSBaseURL,
		BackoffInitial:    initial,
		BackoffMax:        maxBackoff,
		BackoffMultiplier: cfg.Live.BackoffMultiplier,
		DialTimeout:       cfg.Live.DialTimeout(),
	}, dialer, r.Dispatcher)

	// The header badge counts every push, whether or not the drawer is open.
	r.Dispatcher.Register(func(n model.Notification) {
		r.Counter.OnPushEvent(n.ID)
	})

	r.Poller.Register(appsync.Target{
		Name:     TargetUnread,
		Interval: cfg.Inbox.ResyncInterval(),
		Run:      r.Counter.Refresh,
	})
	r.Poller.Register(appsync.Target{
		Name:     TargetInbox,
		Interval: cfg.Inbox.ResyncInterval(),
		Run:      r.resyncInbox,
	})

	r.Session.OnChange(r.onIdentity)

	r.wg.Add(1)
	go r.watch()

	return r
}

// Changes signals after the counter or the store changed. Signals are
// coalesced.
func (r *Runtime) Changes() <-chan struct{} {
	return r.changes
}

// Restore resumes a stored session. It returns session.ErrNoSession when
// the user must log in.
func (r *Runtime) Restore(ctx context.Context) (*model.User, error) {
	return r.Session.Restore(ctx)
}

// Login authenticates and starts the subsystem for the new identity.
func (r *Runtime) Login(ctx context.Context, email, password string) (*model.User, error) {
	return r.Session.Login(ctx, email, password)
}

// Logout clears the identity, the stored tokens and the identity's cache.
func (r *Runtime) Logout() error {
	userID := r.Session.UserID()
	err := r.Session.Logout()
	if r.cache != nil && userID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
		defer cancel()
		if cerr := r.cache.ClearIdentity(ctx, userID); cerr != nil {
			log.Printf("clearing cache for %s: %v", userID, cerr)
		}
	}
	return err
}

// OpenDrawer attaches the store to live pushes. Closing the drawer detaches
// it again.
func (r *Runtime) OpenDrawer() {
	r.detachMu.Lock()
	defer r.detachMu.Unlock()
	if r.detach != nil {
		return
	}
	r.detach = r.Inbox.Attach(r.Dispatcher)
	r.drawerOpen.Store(true)
}

// CloseDrawer detaches the store from live pushes.
func (r *Runtime) CloseDrawer() {
	r.detachMu.Lock()
	defer r.detachMu.Unlock()
	if r.detach == nil {
		return
	}
	r.detach()
	r.detach = nil
	r.drawerOpen.Store(false)
}

// Close shuts everything down. It is safe to call more than once.
func (r *Runtime) Close() {
	r.once.Do(func() {
		r.CloseDrawer()
		r.Poller.Stop()
		r.Live.Close()
		close(r.stop)
		r.wg.Wait()
	})
}

// onIdentity reacts to login, restore and logout.
func (r *Runtime) onIdentity(user *model.User) {
	if user == nil {
		r.Poller.Stop()
		r.Live.SetIdentity("")
		r.Counter.Reset()
		r.Inbox.Reset()
		return
	}

	r.seedFromCache(user.ID)
	r.Live.SetIdentity(user.ID)
	r.Poller.Start()
}

func (r *Runtime) seedFromCache(userID string) {
	if r.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()

	if n, ok, err := r.cache.GetUnreadCount(ctx, userID); err != nil {
		log.Printf("reading cached unread count: %v", err)
	} else if ok {
		r.Counter.Seed(n)
	}

	if list, err := r.cache.GetFirstPage(ctx, userID); err != nil {
		log.Printf("reading cached notifications: %v", err)
	} else if list != nil {
		r.Inbox.Seed(list)
	}
}

// resyncInbox refetches the first page while the drawer shows it. Other
// pages are left alone so the user is not moved.
func (r *Runtime) resyncInbox(ctx context.Context) error {
	if !r.drawerOpen.Load() {
		return nil
	}
	if snap := r.Inbox.Snapshot(); snap.PageIndex != 1 || snap.Loading {
		return nil
	}
	err := r.Inbox.FetchPage(ctx, 1)
	if errors.Is(err, inbox.ErrSuperseded) {
		return nil
	}
	return err
}

// watch persists state changes to the cache and forwards a coalesced
// change signal.
func (r *Runtime) watch() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stop:
			return
		case <-r.Counter.Changes():
			r.persistCount()
		case <-r.Inbox.Changes():
			r.persistFirstPage()
		}

		select {
		case r.changes <- struct{}{}:
		default:
		}
	}
}

func (r *Runtime) persistCount() {
	userID := r.Session.UserID()
	if r.cache == nil || userID == "" || !r.Counter.Known() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()
	if err := r.cache.SaveUnreadCount(ctx, userID, r.Counter.Value()); err != nil {
		log.Printf("caching unread count: %v", err)
	}
}

func (r *Runtime) persistFirstPage() {
	userID := r.Session.UserID()
	if r.cache == nil || userID == "" {
		return
	}
	snap := r.Inbox.Snapshot()
	if !snap.Loaded || snap.Loading || snap.PageIndex != 1 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()
	list := model.NotificationList{Count: snap.Count, Results: snap.Items}
	if err := r.cache.SaveFirstPage(ctx, userID, list); err != nil {
		log.Printf("caching first page: %v", err)
	}
}
