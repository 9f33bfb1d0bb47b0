package inbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nhle/zenkoo/internal/api"
	"github.com/nhle/zenkoo/internal/events"
	"github.com/nhle/zenkoo/internal/model"
)

// fakeBackend is an in-memory notifications API with Django-style paging.
type fakeBackend struct {
	mu       sync.Mutex
	pageSize int
	all      []model.Notification

	listErr   error
	markErr   map[string]error
	deleteErr error

	// listGate blocks ListNotifications for a page until closed.
	listGate    map[int]chan struct{}
	listStarted chan int

	// markGate blocks every MarkRead until closed.
	markGate chan struct{}

	listCalls  []int
	patchCalls []string
}

func newFakeBackend(pageSize, n, unread int) *fakeBackend {
	b := &fakeBackend{
		pageSize: pageSize,
		markErr:  make(map[string]error),
		listGate: make(map[int]chan struct{}),
	}
	for i := 0; i < n; i++ {
		b.all = append(b.all, model.Notification{
			ID:      fmt.Sprintf("n%02d", i+1),
			Message: fmt.Sprintf("notification %d", i+1),
			IsRead:  i >= unread,
		})
	}
	return b
}

func (b *fakeBackend) ListNotifications(ctx context.Context, page int) (*model.NotificationList, error) {
	b.mu.Lock()
	b.listCalls = append(b.listCalls, page)
	gate := b.listGate[page]
	started := b.listStarted
	b.mu.Unlock()

	if gate != nil {
		if started != nil {
			started <- page
		}
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}
	start := (page - 1) * b.pageSize
	if page > 1 && start >= len(b.all) {
		return nil, &api.StatusError{Method: http.MethodGet, Path: "/notifications/", StatusCode: http.StatusNotFound}
	}
	end := min(start+b.pageSize, len(b.all))
	results := make([]model.Notification, end-start)
	copy(results, b.all[start:end])
	return &model.NotificationList{Count: len(b.all), Results: results}, nil
}

func (b *fakeBackend) MarkRead(ctx context.Context, id string) error {
	b.mu.Lock()
	gate := b.markGate
	b.patchCalls = append(b.patchCalls, id)
	b.mu.Unlock()

	if gate != nil {
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.markErr[id]; err != nil {
		return err
	}
	for i := range b.all {
		if b.all[i].ID == id {
			b.all[i].IsRead = true
		}
	}
	return nil
}

func (b *fakeBackend) DeleteNotification(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.deleteErr != nil {
		return b.deleteErr
	}
	for i := range b.all {
		if b.all[i].ID == id {
			b.all = append(b.all[:i], b.all[i+1:]...)
			return nil
		}
	}
	return &api.StatusError{Method: http.MethodDelete, StatusCode: http.StatusNotFound}
}

func (b *fakeBackend) DeleteAllNotifications(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = nil
	return nil
}

func (b *fakeBackend) patches() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.patchCalls))
	copy(out, b.patchCalls)
	return out
}

type mockCounter struct {
	mock.Mock
}

func (m *mockCounter) Refresh(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockCounter) OnMarkRead(ctx context.Context, n int) {
	m.Called(ctx, n)
}

func (m *mockCounter) OnMarkAllRead(ctx context.Context) {
	m.Called(ctx)
}

func newMockCounter() *mockCounter {
	c := new(mockCounter)
	c.On("Refresh", mock.Anything).Return(nil).Maybe()
	c.On("OnMarkRead", mock.Anything, mock.Anything).Maybe()
	c.On("OnMarkAllRead", mock.Anything).Maybe()
	return c
}

func newTestStore(b *fakeBackend, c Counter) *Store {
	return New(b, c, Config{PageSize: b.pageSize})
}

func TestFetchPage(t *testing.T) {
	b := newFakeBackend(10, 11, 3)
	s := newTestStore(b, newMockCounter())

	require.NoError(t, s.FetchPage(context.Background(), 1))

	snap := s.Snapshot()
	assert.Len(t, snap.Items, 10)
	assert.Equal(t, 11, snap.Count)
	assert.Equal(t, 1, snap.PageIndex)
	assert.Equal(t, 2, snap.PageCount())
	assert.Equal(t, 3, snap.UnreadOnPage())
	assert.True(t, snap.Loaded)
	assert.False(t, snap.Loading)
}

func TestFetchFailureKeepsPreviousState(t *testing.T) {
	b := newFakeBackend(10, 4, 1)
	s := newTestStore(b, newMockCounter())
	require.NoError(t, s.FetchPage(context.Background(), 1))
	before := s.Snapshot()

	b.listErr = errors.New("connection refused")
	err := s.FetchPage(context.Background(), 1)
	require.Error(t, err)

	after := s.Snapshot()
	assert.Equal(t, before.Items, after.Items)
	assert.Equal(t, before.Count, after.Count)
	assert.False(t, after.Loading)
}

func TestFetchPastLastPageFallsBack(t *testing.T) {
	b := newFakeBackend(10, 11, 0)
	s := newTestStore(b, newMockCounter())
	require.NoError(t, s.FetchPage(context.Background(), 1))

	require.NoError(t, s.FetchPage(context.Background(), 5))

	snap := s.Snapshot()
	assert.Equal(t, 2, snap.PageIndex)
	assert.Len(t, snap.Items, 1)
}

func TestStaleFetchIsDiscarded(t *testing.T) {
	b := newFakeBackend(10, 15, 0)
	gate := make(chan struct{})
	b.listGate[1] = gate
	b.listStarted = make(chan int, 1)
	s := newTestStore(b, newMockCounter())

	slow := make(chan error, 1)
	go func() { slow <- s.FetchPage(context.Background(), 1) }()
	<-b.listStarted

	require.NoError(t, s.FetchPage(context.Background(), 2))
	close(gate)

	assert.ErrorIs(t, <-slow, ErrSuperseded)
	snap := s.Snapshot()
	assert.Equal(t, 2, snap.PageIndex)
	assert.Len(t, snap.Items, 5)
	assert.Equal(t, "n11", snap.Items[0].ID)
}

func TestMergePushIsIdempotent(t *testing.T) {
	b := newFakeBackend(10, 2, 0)
	s := newTestStore(b, newMockCounter())
	require.NoError(t, s.FetchPage(context.Background(), 1))

	n := model.Notification{ID: "push-1", Message: "new"}
	assert.True(t, s.MergePush(n))
	assert.False(t, s.MergePush(n))
	assert.False(t, s.MergePush(model.Notification{ID: "n01", Message: "dup of fetched"}))

	snap := s.Snapshot()
	assert.Equal(t, 3, snap.Count)
	require.Len(t, snap.Items, 3)
	assert.Equal(t, "push-1", snap.Items[0].ID)
}

func TestMergePushKeepsPageSize(t *testing.T) {
	b := newFakeBackend(10, 10, 0)
	s := newTestStore(b, newMockCounter())
	require.NoError(t, s.FetchPage(context.Background(), 1))

	s.MergePush(model.Notification{ID: "push-1", Message: "new"})

	snap := s.Snapshot()
	assert.Len(t, snap.Items, 10)
	assert.Equal(t, 11, snap.Count)
	assert.Equal(t, 2, snap.PageCount())
	assert.Equal(t, "push-1", snap.Items[0].ID)
}

func TestMergePushOnLaterPageOnlyGrowsCount(t *testing.T) {
	b := newFakeBackend(10, 12, 0)
	s := newTestStore(b, newMockCounter())
	require.NoError(t, s.FetchPage(context.Background(), 2))

	s.MergePush(model.Notification{ID: "push-1", Message: "new"})

	snap := s.Snapshot()
	assert.Equal(t, 13, snap.Count)
	assert.Len(t, snap.Items, 2)
	assert.Equal(t, 2, snap.PageIndex)
}

func TestAttachMergesDispatchedPushes(t *testing.T) {
	b := newFakeBackend(10, 1, 0)
	s := newTestStore(b, newMockCounter())
	require.NoError(t, s.FetchPage(context.Background(), 1))

	d := events.NewDispatcher(nil)
	detach := s.Attach(d)
	d.Dispatch(model.Notification{ID: "p1", Message: "one"})
	detach()
	d.Dispatch(model.Notification{ID: "p2", Message: "two"})

	snap := s.Snapshot()
	assert.Equal(t, 2, snap.Count)
	assert.Equal(t, "p1", snap.Items[0].ID)
}

func TestMarkRead(t *testing.T) {
	b := newFakeBackend(10, 3, 3)
	c := newMockCounter()
	s := newTestStore(b, c)
	require.NoError(t, s.FetchPage(context.Background(), 1))

	require.NoError(t, s.MarkRead(context.Background(), "n02"))

	snap := s.Snapshot()
	assert.True(t, snap.Items[1].IsRead)
	assert.Equal(t, 2, snap.UnreadOnPage())
	c.AssertCalled(t, "OnMarkRead", mock.Anything, 1)
}

func TestMarkReadFailureReverts(t *testing.T) {
	b := newFakeBackend(10, 3, 3)
	b.markErr["n01"] = errors.New("server error")
	c := newMockCounter()
	s := newTestStore(b, c)
	require.NoError(t, s.FetchPage(context.Background(), 1))

	err := s.MarkRead(context.Background(), "n01")
	require.Error(t, err)

	assert.False(t, s.Snapshot().Items[0].IsRead)
	c.AssertNotCalled(t, "OnMarkRead", mock.Anything, mock.Anything)
}

func TestMarkReadFailureKeepsServerConfirmedRead(t *testing.T) {
	b := newFakeBackend(10, 3, 3)
	b.markGate = make(chan struct{})
	b.markErr["n01"] = errors.New("gateway timeout")
	s := newTestStore(b, newMockCounter())
	require.NoError(t, s.FetchPage(context.Background(), 1))

	done := make(chan error, 1)
	go func() { done <- s.MarkRead(context.Background(), "n01") }()
	require.Eventually(t, func() bool { return len(b.patches()) == 1 }, time.Second, time.Millisecond)

	// The write reached the server even though the response will fail.
	b.mu.Lock()
	b.all[0].IsRead = true
	b.mu.Unlock()
	require.NoError(t, s.FetchPage(context.Background(), 1))

	close(b.markGate)
	require.Error(t, <-done)
	assert.True(t, s.Snapshot().Items[0].IsRead)
}

func TestMarkReadUnknownID(t *testing.T) {
	s := newTestStore(newFakeBackend(10, 0, 0), newMockCounter())
	assert.ErrorIs(t, s.MarkRead(context.Background(), "missing"), ErrNotFound)
}

func TestMarkAllReadConcurrent(t *testing.T) {
	b := newFakeBackend(10, 10, 5)
	b.markGate = make(chan struct{})
	c := newMockCounter()
	s := newTestStore(b, c)
	require.NoError(t, s.FetchPage(context.Background(), 1))

	first := make(chan error, 1)
	go func() { first <- s.MarkAllRead(context.Background()) }()

	require.Eventually(t, func() bool { return len(b.patches()) == 5 }, time.Second, 5*time.Millisecond)
	assert.True(t, s.Snapshot().MarkingAll)

	assert.ErrorIs(t, s.MarkAllRead(context.Background()), ErrMarkAllInFlight)

	close(b.markGate)
	require.NoError(t, <-first)

	assert.ElementsMatch(t, []string{"n01", "n02", "n03", "n04", "n05"}, b.patches())
	snap := s.Snapshot()
	assert.Equal(t, 0, snap.UnreadOnPage())
	assert.False(t, snap.MarkingAll)
	c.AssertCalled(t, "OnMarkAllRead", mock.Anything)
}

func TestMarkAllReadWithNothingUnread(t *testing.T) {
	b := newFakeBackend(10, 4, 0)
	s := newTestStore(b, newMockCounter())
	require.NoError(t, s.FetchPage(context.Background(), 1))

	require.NoError(t, s.MarkAllRead(context.Background()))
	assert.Empty(t, b.patches())
}

func TestMarkAllReadPartialFailure(t *testing.T) {
	b := newFakeBackend(10, 3, 3)
	b.markErr["n02"] = errors.New("server error")
	s := newTestStore(b, newMockCounter())
	require.NoError(t, s.FetchPage(context.Background(), 1))

	err := s.MarkAllRead(context.Background())
	require.Error(t, err)

	snap := s.Snapshot()
	assert.True(t, snap.Items[0].IsRead)
	assert.False(t, snap.Items[1].IsRead)
	assert.True(t, snap.Items[2].IsRead)
}

func TestDeleteLastItemOnPageStepsBack(t *testing.T) {
	b := newFakeBackend(10, 11, 0)
	c := newMockCounter()
	s := newTestStore(b, c)
	require.NoError(t, s.FetchPage(context.Background(), 2))
	require.Len(t, s.Snapshot().Items, 1)

	require.NoError(t, s.DeleteOne(context.Background(), "n11"))

	snap := s.Snapshot()
	assert.Equal(t, 1, snap.PageIndex)
	assert.Equal(t, 10, snap.Count)
	assert.Len(t, snap.Items, 10)
	assert.Equal(t, 1, snap.PageCount())
	c.AssertCalled(t, "Refresh", mock.Anything)
}

func TestDeleteBackfillsPage(t *testing.T) {
	b := newFakeBackend(10, 12, 0)
	s := newTestStore(b, newMockCounter())
	require.NoError(t, s.FetchPage(context.Background(), 1))

	require.NoError(t, s.DeleteOne(context.Background(), "n03"))

	snap := s.Snapshot()
	assert.Equal(t, 11, snap.Count)
	assert.Len(t, snap.Items, 10)
	assert.Equal(t, "n11", snap.Items[9].ID)
}

func TestDeleteFailureKeepsItem(t *testing.T) {
	b := newFakeBackend(10, 2, 0)
	b.deleteErr = errors.New("forbidden")
	s := newTestStore(b, newMockCounter())
	require.NoError(t, s.FetchPage(context.Background(), 1))

	require.Error(t, s.DeleteOne(context.Background(), "n01"))

	snap := s.Snapshot()
	assert.Len(t, snap.Items, 2)
	assert.Empty(t, snap.Exiting)
}

func TestDeleteMarksItemExitingDuringDelay(t *testing.T) {
	b := newFakeBackend(10, 2, 0)
	s := newTestStore(b, newMockCounter())
	require.NoError(t, s.FetchPage(context.Background(), 1))

	release := make(chan struct{})
	s.sleep = func(ctx context.Context, d time.Duration) error {
		<-release
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- s.DeleteOne(context.Background(), "n01") }()

	require.Eventually(t, func() bool { return s.Snapshot().Exiting["n01"] }, time.Second, 5*time.Millisecond)
	assert.NoError(t, s.DeleteOne(context.Background(), "n01"))

	close(release)
	require.NoError(t, <-done)
	assert.Len(t, s.Snapshot().Items, 1)
}

func TestDeleteAll(t *testing.T) {
	b := newFakeBackend(10, 25, 4)
	c := newMockCounter()
	s := newTestStore(b, c)
	require.NoError(t, s.FetchPage(context.Background(), 3))

	require.NoError(t, s.DeleteAll(context.Background()))

	snap := s.Snapshot()
	assert.Empty(t, snap.Items)
	assert.Equal(t, 0, snap.Count)
	assert.Equal(t, 1, snap.PageIndex)
	assert.Equal(t, 1, snap.PageCount())
	assert.True(t, snap.Loaded)
	c.AssertCalled(t, "Refresh", mock.Anything)
}

func TestSeedIsIgnoredOnceLoaded(t *testing.T) {
	b := newFakeBackend(10, 2, 0)
	s := newTestStore(b, newMockCounter())

	s.Seed(&model.NotificationList{Count: 1, Results: []model.Notification{{ID: "cached", Message: "old"}}})
	assert.Equal(t, "cached", s.Snapshot().Items[0].ID)
	assert.False(t, s.Snapshot().Loaded)

	require.NoError(t, s.FetchPage(context.Background(), 1))
	s.Seed(&model.NotificationList{Count: 1, Results: []model.Notification{{ID: "cached", Message: "old"}}})

	assert.Equal(t, "n01", s.Snapshot().Items[0].ID)
}

func TestResetClearsState(t *testing.T) {
	b := newFakeBackend(10, 5, 5)
	s := newTestStore(b, newMockCounter())
	require.NoError(t, s.FetchPage(context.Background(), 1))

	s.Reset()

	snap := s.Snapshot()
	assert.Empty(t, snap.Items)
	assert.Equal(t, 0, snap.Count)
	assert.False(t, snap.Loaded)
}
