package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"image-magic/internal/batch"
)

type Options struct {
	// IdleTTL evicts sessions that have not been touched for this long and
	// have nothing in flight. Zero disables eviction.
	IdleTTL time.Duration
	// NewSession builds the session for a new key.
	NewSession func(key string) *batch.Session
	Logger     zerolog.Logger
}

// Store keeps one batch session per key for the lifetime of the process.
type Store struct {
	mu         sync.Mutex
	sessions   map[string]*batch.Session
	idleTTL    time.Duration
	newSession func(key string) *batch.Session
	logger     zerolog.Logger
}

func NewStore(opts Options) *Store {
	newSession := opts.NewSession
	if newSession == nil {
		newSession = func(string) *batch.Session { return batch.New(batch.Options{}) }
	}

	return &Store{
		sessions:   make(map[string]*batch.Session),
		idleTTL:    opts.IdleTTL,
		newSession: newSession,
		logger:     opts.Logger,
	}
}

// Create opens a session under a fresh random key.
func (s *Store) Create() (string, *batch.Session) {
	key := uuid.NewString()
	return key, s.Get(key)
}

// Get returns the session for key, creating it on first use.
func (s *Store) Get(key string) *batch.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[key]; ok {
		return sess
	}
	sess := s.newSession(key)
	s.sessions[key] = sess
	return sess
}

// Lookup returns the session for key without creating one.
func (s *Store) Lookup(key string) (*batch.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	return sess, ok
}

func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep evicts idle sessions and reports how many were removed.
func (s *Store) Sweep(now time.Time) int {
	if s.idleTTL <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for key, sess := range s.sessions {
		if sess.Running() || now.Sub(sess.LastActivity()) < s.idleTTL {
			continue
		}
		delete(s.sessions, key)
		evicted++
	}
	return evicted
}

// Janitor sweeps every interval until ctx is done.
func (s *Store) Janitor(ctx context.Context, interval time.Duration) {
	if s.idleTTL <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.Sweep(now); n > 0 {
				s.logger.Debug().Int("evicted", n).Int("remaining", s.Len()).Msg("idle sessions evicted")
			}
		}
	}
}
