package session

import (
	"sync"

	"github.com/okazan/clauth/internal/models"
)

// Session is the in-memory pairing of the current access token and the
// cached user. An empty AccessToken means signed out. The access token
// is never written to durable storage.
type Session struct {
	AccessToken string
	User        *models.User
}

// SignedIn reports whether the session holds an access token
func (s Session) SignedIn() bool {
	return s.AccessToken != ""
}

// Store owns the session. All other components read snapshots; nobody
// holds a mutable reference to the stored state.
type Store struct {
	mu      sync.RWMutex
	current Session
}

func NewStore() *Store {
	return &Store{}
}

// Set overwrites the session with the given access token and user.
// Passing a nil user preserves the currently cached one, so token
// rotation never loses the user identity.
func (s *Store) Set(accessToken string, user *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user == nil {
		user = s.current.User
	}
	s.current = Session{AccessToken: accessToken, User: user}
}

// Clear resets the session to the signed-out state
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = Session{}
}

// Snapshot returns a copy of the current session
func (s *Store) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.current
	if snap.User != nil {
		user := *snap.User
		snap.User = &user
	}
	return snap
}
