package inbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nhle/zenkoo/internal/api"
	"github.com/nhle/zenkoo/internal/events"
	"github.com/nhle/zenkoo/internal/model"
)

var (
	// ErrSuperseded is returned by FetchPage when a newer request was issued
	// before this one's response arrived. The response is discarded.
	ErrSuperseded = errors.New("page response superseded by a newer request")

	// ErrMarkAllInFlight is returned when MarkAllRead is already running.
	ErrMarkAllInFlight = errors.New("mark all as read already in progress")

	// ErrNotFound is returned for IDs that are not on the current page.
	ErrNotFound = errors.New("notification not on the current page")
)

// Backend is the subset of the REST API the store depends on.
type Backend interface {
	ListNotifications(ctx context.Context, page int) (*model.NotificationList, error)
	MarkRead(ctx context.Context, id string) error
	DeleteNotification(ctx context.Context, id string) error
	DeleteAllNotifications(ctx context.Context) error
}

// Counter is the unread counter the store keeps in sync after mutations.
type Counter interface {
	Refresh(ctx context.Context) error
	OnMarkRead(ctx context.Context, n int)
	OnMarkAllRead(ctx context.Context)
}

// Config holds the store's paging and timing settings.
type Config struct {
	PageSize int

	// ExitDelay is the cosmetic pause between marking an item as exiting
	// and sending its delete.
	ExitDelay time.Duration

	// MarkAllConcurrency bounds the parallel PATCH requests of MarkAllRead.
	MarkAllConcurrency int
}

// Store is the paginated, server-backed view of the user's notifications.
// Every mutating operation re-establishes the paging invariants before it
// releases the lock: len(Items) <= PageSize, and PageIndex never points
// past the last page implied by Count.
type Store struct {
	backend Backend
	counter Counter
	cfg     Config
	sleep   func(context.Context, time.Duration) error

	mu          sync.Mutex
	items       []model.Notification
	count       int
	page        int
	seq         uint64 // staleness token of the latest FetchPage
	loading     bool
	loaded      bool
	markingAll  bool
	pendingRead map[string]struct{}
	exiting     map[string]struct{}
	seenPush    map[string]struct{}

	changes chan struct{}
}

// New creates an empty Store showing page 1.
func New(backend Backend, counter Counter, cfg Config) *Store {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	if cfg.MarkAllConcurrency <= 0 {
		cfg.MarkAllConcurrency = 8
	}
	return &Store{
		backend:     backend,
		counter:     counter,
		cfg:         cfg,
		sleep:       sleepCtx,
		page:        1,
		pendingRead: make(map[string]struct{}),
		exiting:     make(map[string]struct{}),
		seenPush:    make(map[string]struct{}),
		changes:     make(chan struct{}, 1),
	}
}

// Changes signals after every state change. Signals are coalesced; read
// Snapshot for the current state.
func (s *Store) Changes() <-chan struct{} {
	return s.changes
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]model.Notification, len(s.items))
	copy(items, s.items)
	exiting := make(map[string]bool, len(s.exiting))
	for id := range s.exiting {
		exiting[id] = true
	}

	return Snapshot{
		Items:      items,
		Count:      s.count,
		PageIndex:  s.page,
		PageSize:   s.cfg.PageSize,
		Exiting:    exiting,
		Loading:    s.loading,
		Loaded:     s.loaded,
		MarkingAll: s.markingAll,
	}
}

// Attach registers the store with d so live pushes are merged while the
// store is active. Call the returned function on teardown.
func (s *Store) Attach(d *events.Dispatcher) func() {
	return d.Register(func(n model.Notification) {
		s.MergePush(n)
	})
}

// Seed shows a cached first page until the first fetch commits.
func (s *Store) Seed(list *model.NotificationList) {
	if list == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return
	}
	s.page = 1
	s.setItemsLocked(list.Results, list.Count)
	s.notifyLocked()
}

// Reset clears all state, e.g. on logout, and invalidates in-flight fetches.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.items = nil
	s.count = 0
	s.page = 1
	s.loading = false
	s.loaded = false
	s.pendingRead = make(map[string]struct{})
	s.exiting = make(map[string]struct{})
	s.seenPush = make(map[string]struct{})
	s.notifyLocked()
}

// FetchPage loads page (1-based) from the backend and replaces the store's
// contents with it. Only the most recently requested page may commit; an
// older response returns ErrSuperseded. On failure the previous state is
// kept. If the server has fewer pages than requested, the last valid page
// is fetched instead.
func (s *Store) FetchPage(ctx context.Context, page int) error {
	if page < 1 {
		page = 1
	}

	s.mu.Lock()
	s.seq++
	token := s.seq
	s.loading = true
	s.notifyLocked()
	s.mu.Unlock()

	list, err := s.backend.ListNotifications(ctx, page)

	s.mu.Lock()
	if token != s.seq {
		s.mu.Unlock()
		return ErrSuperseded
	}
	s.loading = false

	if err != nil {
		fallback := 0
		if page > 1 && api.IsNotFound(err) {
			fallback = min(page-1, model.LastPage(s.count, s.cfg.PageSize))
		}
		s.notifyLocked()
		s.mu.Unlock()

		if fallback > 0 {
			return s.FetchPage(ctx, fallback)
		}
		log.Printf("fetching notifications page %d: %v", page, err)
		return fmt.Errorf("fetching page %d: %w", page, err)
	}

	if last := model.LastPage(list.Count, s.cfg.PageSize); len(list.Results) == 0 && list.Count > 0 && page > last {
		s.mu.Unlock()
		return s.FetchPage(ctx, last)
	}

	s.page = page
	s.loaded = true
	s.seenPush = make(map[string]struct{})
	s.setItemsLocked(list.Results, list.Count)
	s.notifyLocked()
	s.mu.Unlock()
	return nil
}

// MarkRead optimistically marks id as read and sends the mutation. If the
// server rejects it the local flag is reverted and the error returned,
// unless a fetch in the meantime already reported the record as read.
func (s *Store) MarkRead(ctx context.Context, id string) error {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	if s.items[i].IsRead {
		s.mu.Unlock()
		return nil
	}
	s.items[i].IsRead = true
	s.pendingRead[id] = struct{}{}
	s.notifyLocked()
	s.mu.Unlock()

	err := s.backend.MarkRead(ctx, id)

	s.mu.Lock()
	_, unconfirmed := s.pendingRead[id]
	delete(s.pendingRead, id)
	if err != nil {
		if i := s.indexLocked(id); i >= 0 && unconfirmed {
			s.items[i].IsRead = false
		}
		s.notifyLocked()
		s.mu.Unlock()
		log.Printf("marking notification %s as read: %v", id, err)
		return err
	}
	s.mu.Unlock()

	s.counter.OnMarkRead(ctx, 1)
	return nil
}

// MarkAllRead marks every unread record on the current page as read. One
// PATCH is sent per record, concurrently; the local flags flip once all of
// them have settled. A second call while one is running returns
// ErrMarkAllInFlight without sending anything.
func (s *Store) MarkAllRead(ctx context.Context) error {
	s.mu.Lock()
	if s.markingAll {
		s.mu.Unlock()
		return ErrMarkAllInFlight
	}
	var ids []string
	for _, n := range s.items {
		if !n.IsRead {
			ids = append(ids, n.ID)
		}
	}
	if len(ids) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.markingAll = true
	s.notifyLocked()
	s.mu.Unlock()

	var (
		g        errgroup.Group
		failedMu sync.Mutex
		failed   = make(map[string]error)
	)
	g.SetLimit(s.cfg.MarkAllConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := s.backend.MarkRead(ctx, id); err != nil {
				failedMu.Lock()
				failed[id] = err
				failedMu.Unlock()
				return err
			}
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	marked := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, bad := failed[id]; !bad {
			marked[id] = struct{}{}
		}
	}
	for i := range s.items {
		if _, ok := marked[s.items[i].ID]; ok {
			s.items[i].IsRead = true
		}
	}
	s.markingAll = false
	s.notifyLocked()
	s.mu.Unlock()

	s.counter.OnMarkAllRead(ctx)

	if len(failed) == 0 {
		return nil
	}
	failedIDs := make([]string, 0, len(failed))
	for id := range failed {
		failedIDs = append(failedIDs, id)
	}
	sort.Strings(failedIDs)
	errs := make([]error, 0, len(failedIDs))
	for _, id := range failedIDs {
		errs = append(errs, failed[id])
	}
	log.Printf("mark all as read: %d of %d failed", len(failed), len(ids))
	return errors.Join(errs...)
}

// DeleteOne plays the exit transition for id, deletes it on the server and
// removes it locally. If the current page no longer exists afterwards the
// store steps back to the last valid page and refetches it; if the page is
// short of what the server holds for it, it is refetched to backfill.
func (s *Store) DeleteOne(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.indexLocked(id) < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	if _, busy := s.exiting[id]; busy {
		s.mu.Unlock()
		return nil
	}
	s.exiting[id] = struct{}{}
	s.notifyLocked()
	s.mu.Unlock()

	err := s.sleep(ctx, s.cfg.ExitDelay)
	if err == nil {
		err = s.backend.DeleteNotification(ctx, id)
	}

	s.mu.Lock()
	delete(s.exiting, id)
	if err != nil {
		s.notifyLocked()
		s.mu.Unlock()
		log.Printf("deleting notification %s: %v", id, err)
		return err
	}

	// A fetch that committed while the delete was in flight may or may not
	// reflect it, so the page is refetched in that case.
	refetch := true
	if i := s.indexLocked(id); i >= 0 {
		s.items = append(s.items[:i:i], s.items[i+1:]...)
		if s.count > 0 {
			s.count--
		}
		refetch = false
	}
	delete(s.seenPush, id)
	if s.repageLocked() {
		refetch = true
	}
	page := s.page
	s.notifyLocked()
	s.mu.Unlock()

	_ = s.counter.Refresh(ctx)

	if refetch {
		if err := s.FetchPage(ctx, page); err != nil && !errors.Is(err, ErrSuperseded) {
			return err
		}
	}
	return nil
}

// DeleteAll deletes every notification on the server and resets the store
// to an empty first page.
func (s *Store) DeleteAll(ctx context.Context) error {
	if err := s.backend.DeleteAllNotifications(ctx); err != nil {
		log.Printf("deleting all notifications: %v", err)
		return err
	}

	s.mu.Lock()
	s.seq++
	s.items = nil
	s.count = 0
	s.page = 1
	s.loading = false
	s.loaded = true
	s.pendingRead = make(map[string]struct{})
	s.exiting = make(map[string]struct{})
	s.seenPush = make(map[string]struct{})
	s.notifyLocked()
	s.mu.Unlock()

	_ = s.counter.Refresh(ctx)
	return nil
}

// MergePush adds a live notification. It is prepended when the first page
// is showing; on other pages only the total grows. Pushes whose ID is
// already known are ignored. It reports whether anything changed.
func (s *Store) MergePush(n model.Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(n.ID) >= 0 {
		return false
	}
	if _, seen := s.seenPush[n.ID]; seen {
		return false
	}
	s.seenPush[n.ID] = struct{}{}

	s.count++
	if s.page == 1 {
		s.items = append([]model.Notification{n}, s.items...)
		if len(s.items) > s.cfg.PageSize {
			s.items = s.items[:s.cfg.PageSize]
		}
	}
	s.notifyLocked()
	return true
}

// setItemsLocked replaces the page contents, keeping optimistic read flags
// of mutations that are still in flight. A record the server already
// reports as read is no longer pending.
func (s *Store) setItemsLocked(results []model.Notification, count int) {
	if len(results) > s.cfg.PageSize {
		results = results[:s.cfg.PageSize]
	}
	items := make([]model.Notification, len(results))
	copy(items, results)
	for i := range items {
		if _, pending := s.pendingRead[items[i].ID]; !pending {
			continue
		}
		if items[i].IsRead {
			delete(s.pendingRead, items[i].ID)
		} else {
			items[i].IsRead = true
		}
	}

	s.items = items
	s.count = max(count, (s.page-1)*s.cfg.PageSize+len(items))
}

// repageLocked fixes the page index after the count shrank. It reports
// whether the current page must be refetched.
func (s *Store) repageLocked() bool {
	if s.count <= 0 {
		s.count = 0
		s.page = 1
		s.items = nil
		return false
	}

	if last := model.LastPage(s.count, s.cfg.PageSize); s.page > last {
		s.page = last
		s.items = nil
		return true
	}

	want := min(s.count-(s.page-1)*s.cfg.PageSize, s.cfg.PageSize)
	return len(s.items) < want
}

func (s *Store) indexLocked(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

// notifyLocked signals a state change without blocking.
func (s *Store) notifyLocked() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
