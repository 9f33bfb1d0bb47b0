package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/nhle/zenkoo/internal/api"
	"github.com/nhle/zenkoo/internal/credential"
	"github.com/nhle/zenkoo/internal/model"
)

// ErrNoSession is returned by Restore when no usable tokens are stored.
var ErrNoSession = errors.New("no active session")

// Backend is the auth subset of the REST client.
type Backend interface {
	Login(ctx context.Context, email, password string) error
	Profile(ctx context.Context) (*model.User, error)
	Logout() error
}

// Listener is called with the new user after every identity change. A nil
// user means logged out.
type Listener func(user *model.User)

type listenerEntry struct {
	fn Listener
}

// Manager tracks the logged-in user. The current user's ID is the identity
// that drives the push connection.
type Manager struct {
	backend Backend
	tokens  credential.Store

	mu        sync.Mutex
	user      *model.User
	listeners []*listenerEntry
}

// New creates a Manager with no active user.
func New(backend Backend, tokens credential.Store) *Manager {
	return &Manager{backend: backend, tokens: tokens}
}

// Current returns a copy of the logged-in user, or nil.
func (m *Manager) Current() *model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

// UserID returns the current identity, or "" when logged out.
func (m *Manager) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return ""
	}
	return m.user.ID
}

// OnChange registers fn for identity changes and returns a function that
// removes it.
func (m *Manager) OnChange(fn Listener) func() {
	entry := &listenerEntry{fn: fn}
	m.mu.Lock()
	m.listeners = append(m.listeners, entry)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, e := range m.listeners {
				if e == entry {
					m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Restore resumes the session from stored tokens. If the profile cannot be
// fetched for a reason other than authentication, the identity is taken
// from the access token's user_id claim so the push connection can still
// start.
func (m *Manager) Restore(ctx context.Context) (*model.User, error) {
	access, err := m.tokens.Get(credential.AccessTokenKey)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("reading access token: %w", err)
	}

	user, err := m.backend.Profile(ctx)
	if err != nil {
		if api.IsAuthError(err) {
			if logoutErr := m.backend.Logout(); logoutErr != nil {
				log.Printf("clearing rejected tokens: %v", logoutErr)
			}
			return nil, fmt.Errorf("%w: %v", ErrNoSession, err)
		}

		id := api.TokenUserID(access)
		if id == "" {
			return nil, err
		}
		log.Printf("profile unavailable, restoring session for user %s from token: %v", id, err)
		user = &model.User{ID: id}
	}

	m.set(user)
	return m.Current(), nil
}

// Login authenticates and loads the user's profile.
func (m *Manager) Login(ctx context.Context, email, password string) (*model.User, error) {
	if err := m.backend.Login(ctx, email, password); err != nil {
		return nil, err
	}
	user, err := m.backend.Profile(ctx)
	if err != nil {
		return nil, err
	}

	m.set(user)
	return m.Current(), nil
}

// Logout forgets the stored tokens and clears the identity. Listeners are
// notified even if the tokens could not be removed.
func (m *Manager) Logout() error {
	err := m.backend.Logout()
	m.set(nil)
	if err != nil {
		return fmt.Errorf("clearing tokens: %w", err)
	}
	return nil
}

func (m *Manager) set(user *model.User) {
	m.mu.Lock()
	if user != nil {
		u := *user
		m.user = &u
	} else {
		m.user = nil
	}
	listeners := make([]*listenerEntry, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, e := range listeners {
		e.fn(user)
	}
}
