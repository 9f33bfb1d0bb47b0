package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/zenkoo/internal/api"
)

// SyncState represents the current state of a resync target.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

// SyncStatus holds the sync state for a single target.
type SyncStatus struct {
	Target   string
	State    SyncState
	LastSync time.Time
	Error    error
}

// SyncResultMsg is a tea.Msg sent when a resync run completes.
type SyncResultMsg struct {
	Target    string
	Error     error
	AuthError *AuthErrorMsg

	// Epoch identifies the Start call the run belongs to.
	Epoch uint64
}

// AuthErrorMsg is a tea.Msg sent when a target fails authentication.
type AuthErrorMsg struct {
	Target  string
	Message string
}

// runTimeout is the maximum time allowed for a single run.
const runTimeout = 30 * time.Second

// Target is one periodic resync job, e.g. refreshing the unread counter.
// A zero Interval runs the target only on Start and on explicit refreshes.
type Target struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// targetEntry holds a registered target and its trigger channel.
type targetEntry struct {
	target  Target
	trigger chan struct{}
}

// Poller re-runs its targets on an interval as a backstop for missed push
// events. Each target runs once when the poller starts.
type Poller struct {
	targets  []*targetEntry
	statuses map[string]*SyncStatus
	resultCh chan SyncResultMsg
	stopCh   chan struct{}
	wg       gosync.WaitGroup
	mu       gosync.Mutex
	running  bool
	epoch    uint64
}

// New creates a new Poller.
func New() *Poller {
	return &Poller{
		statuses: make(map[string]*SyncStatus),
		resultCh: make(chan SyncResultMsg, 16),
	}
}

// Register adds a target. Targets registered after Start are picked up by
// the next Start.
func (p *Poller) Register(t Target) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.targets = append(p.targets, &targetEntry{target: t, trigger: make(chan struct{}, 1)})
	p.statuses[t.Name] = &SyncStatus{
		Target: t.Name,
		State:  SyncIdle,
	}
}

// Start launches one goroutine per target and returns a tea.Cmd that
// delivers the next SyncResultMsg. It returns nil if already running.
func (p *Poller) Start() tea.Cmd {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.epoch++
	epoch := p.epoch
	p.stopCh = make(chan struct{})
	targets := make([]*targetEntry, len(p.targets))
	copy(targets, p.targets)
	stopCh := p.stopCh
	p.mu.Unlock()

	for _, entry := range targets {
		p.wg.Add(1)
		go p.poll(entry, epoch, stopCh)
	}

	return p.waitForResult()
}

// Stop halts all polling goroutines and waits for them to exit. Results
// that were not consumed yet are discarded. The poller can be started again
// afterwards.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	close(p.stopCh)
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()

	for {
		select {
		case <-p.resultCh:
		default:
			return
		}
	}
}

// Current reports whether a result with the given epoch belongs to the
// running session. Results from before the last Stop are stale.
func (p *Poller) Current(epoch uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running && epoch == p.epoch
}

// RefreshAll triggers an immediate run of every target.
func (p *Poller) RefreshAll() {
	p.mu.Lock()
	targets := make([]*targetEntry, len(p.targets))
	copy(targets, p.targets)
	p.mu.Unlock()

	for _, entry := range targets {
		select {
		case entry.trigger <- struct{}{}:
		default:
			// A run is already queued.
		}
	}
}

// RefreshTarget triggers an immediate run of the named target.
func (p *Poller) RefreshTarget(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, entry := range p.targets {
		if entry.target.Name != name {
			continue
		}
		select {
		case entry.trigger <- struct{}{}:
		default:
		}
	}
}

// GetStatuses returns the current sync status of all targets in
// registration order.
func (p *Poller) GetStatuses() []SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	statuses := make([]SyncStatus, 0, len(p.targets))
	for _, entry := range p.targets {
		if s, ok := p.statuses[entry.target.Name]; ok {
			statuses = append(statuses, *s)
		}
	}
	return statuses
}

// Results exposes the result channel for consumers outside Bubble Tea.
func (p *Poller) Results() <-chan SyncResultMsg {
	return p.resultCh
}

// poll runs the loop for a single target.
func (p *Poller) poll(entry *targetEntry, epoch uint64, stopCh <-chan struct{}) {
	defer p.wg.Done()

	var tick <-chan time.Time
	if entry.target.Interval > 0 {
		ticker := time.NewTicker(entry.target.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	p.runOnce(entry.target, epoch, stopCh)

	for {
		select {
		case <-stopCh:
			return
		case <-tick:
			p.runOnce(entry.target, epoch, stopCh)
		case <-entry.trigger:
			p.runOnce(entry.target, epoch, stopCh)
		}
	}
}

// runOnce performs a single run and sends a SyncResultMsg.
func (p *Poller) runOnce(t Target, epoch uint64, stopCh <-chan struct{}) {
	p.setStatus(t.Name, SyncRunning, nil)

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := t.Run(ctx); err != nil {
		p.setStatus(t.Name, SyncError, err)

		if api.IsAuthError(err) {
			p.sendResult(SyncResultMsg{
				Target: t.Name,
				Error:  err,
				Epoch:  epoch,
				AuthError: &AuthErrorMsg{
					Target:  t.Name,
					Message: fmt.Sprintf("%s: session expired. Please log in again.", t.Name),
				},
			})
			return
		}

		p.sendResult(SyncResultMsg{Target: t.Name, Error: err, Epoch: epoch})
		return
	}

	p.setStatus(t.Name, SyncIdle, nil)
	p.sendResult(SyncResultMsg{Target: t.Name, Epoch: epoch})
}

// setStatus updates the sync status for a target.
func (p *Poller) setStatus(name string, state SyncState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	status, ok := p.statuses[name]
	if !ok {
		return
	}

	status.State = state
	status.Error = err
	if state == SyncIdle && err == nil {
		status.LastSync = time.Now()
	}
}

// sendResult sends a SyncResultMsg on the result channel without blocking.
func (p *Poller) sendResult(msg SyncResultMsg) {
	select {
	case p.resultCh <- msg:
	default:
		// Drop if channel is full to avoid blocking the poller
	}
}

// waitForResult returns a tea.Cmd that waits for the next result from
// the result channel.
func (p *Poller) waitForResult() tea.Cmd {
	return func() tea.Msg {
		result, ok := <-p.resultCh
		if !ok {
			return nil
		}
		return result
	}
}

// WaitForNextResult returns a tea.Cmd that waits for the next sync result.
// This should be called after processing a SyncResultMsg to continue
// listening for future results.
func (p *Poller) WaitForNextResult() tea.Cmd {
	return p.waitForResult()
}
