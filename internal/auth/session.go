package auth

import (
	"log"
	"sync"
	"time"
)

// Session holds the storefront's authentication state and tells listeners
// about every transition.
type Session struct {
	mu        sync.RWMutex
	state     State
	listeners map[int]func(State)
	nextID    int
	now       func() time.Time
}

func NewSession() *Session {
	return &Session{
		listeners: make(map[int]func(State)),
		now:       time.Now,
	}
}

// Login stores a new access token. Calling it again with a refreshed token is
// a transition too.
func (s *Session) Login(token string) error {
	if token == "" {
		return ErrEmptyToken
	}
	if exp, ok := TokenExpiry(token); ok && !s.now().Before(exp) {
		return ErrExpiredToken
	}
	s.set(State{Authenticated: true, AccessToken: token})
	log.Println("[Auth] Session authenticated")
	return nil
}

func (s *Session) Logout() {
	s.set(State{})
	log.Println("[Auth] Session ended")
}

func (s *Session) set(next State) {
	s.mu.Lock()
	s.state = next
	listeners := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// AccessToken implements TokenSource
func (s *Session) AccessToken() string {
	return s.State().AccessToken
}

// Active reports whether the current state is usable for backend calls
func (s *Session) Active() bool {
	return s.State().Active(s.now())
}

// Subscribe registers fn for every state transition
func (s *Session) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}
