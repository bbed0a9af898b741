package models

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// SessionDuration is how long an idle session lives (8 hours)
	SessionDuration = 8 * time.Hour
)

// CapturedImage is the last photo a session uploaded.
type CapturedImage struct {
	Data       []byte
	MIME       string
	Width      int
	Height     int
	CapturedAt time.Time
}

// Session is the whole state of one user's interaction. Handlers lock it for
// the duration of an action and change it only through its methods.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu       sync.Mutex
	lastSeen time.Time
	settings *Settings
	image    *CapturedImage
	result   *Reading
}

// NewSession creates a detached session; SessionStore.Create also registers it.
func NewSession(sealer Sealer) *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		lastSeen:  now,
		settings:  NewSettings(sealer),
	}
}

func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// The accessors below assume the caller holds the lock.

func (s *Session) Settings() *Settings { return s.settings }
func (s *Session) Image() *CapturedImage { return s.image }
func (s *Session) Result() *Reading { return s.result }
func (s *Session) SetImage(img *CapturedImage) { s.image = img }

// SetResult replaces the previous result. Only successful analyses end up here.
func (s *Session) SetResult(r *Reading) {
	if r == nil {
		return
	}
	s.result = r
}

func (s *Session) ClearResult() { s.result = nil }

// SessionStore keeps sessions in process memory. Nothing survives a restart.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	sealer          Sealer
	SessionDuration time.Duration
	now             func() time.Time
}

func NewSessionStore(sealer Sealer, duration time.Duration) *SessionStore {
	if duration <= 0 {
		duration = SessionDuration
	}
	return &SessionStore{
		sessions:        make(map[string]*Session),
		sealer:          sealer,
		SessionDuration: duration,
		now:             time.Now,
	}
}

// Create registers a fresh session with default settings.
func (ss *SessionStore) Create() *Session {
	session := NewSession(ss.sealer)
	session.CreatedAt = ss.now()
	session.lastSeen = session.CreatedAt

	ss.mu.Lock()
	ss.sessions[session.ID] = session
	ss.mu.Unlock()
	return session
}

// Get returns a live session and marks it as seen.
func (ss *SessionStore) Get(id string) (*Session, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	session, ok := ss.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	now := ss.now()
	if ss.expired(session, now) {
		delete(ss.sessions, id)
		return nil, ErrSessionExpired
	}
	session.lastSeen = now
	return session, nil
}

func (ss *SessionStore) Delete(id string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if _, ok := ss.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(ss.sessions, id)
	return nil
}

// Sweep drops sessions idle for longer than SessionDuration and returns how
// many were removed.
func (ss *SessionStore) Sweep() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	now := ss.now()
	removed := 0
	for id, session := range ss.sessions {
		if ss.expired(session, now) {
			delete(ss.sessions, id)
			removed++
		}
	}
	return removed
}

func (ss *SessionStore) Len() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.sessions)
}

// lastSeen is only written under ss.mu, so reading it here is safe.
func (ss *SessionStore) expired(s *Session, now time.Time) bool {
	return now.Sub(s.lastSeen) > ss.SessionDuration
}
