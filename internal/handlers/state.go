package handlers

import (
	"sync"
	"time"
)

const (
	menuMain  = "main"
	menuTheme = "theme"
	menuStyle = "style"
)

// uiState is the per-chat wizard state. Edit settings live in the batch
// session; this only tracks which menu is open and which message shows it.
type uiState struct {
	Menu      string
	MessageID int
	UpdatedAt time.Time
}

type stateKey struct {
	ChatID int64
	UserID int64
}

type stateStore struct {
	mu sync.Mutex
	m  map[stateKey]*uiState
}

func newStateStore() *stateStore {
	return &stateStore{m: make(map[stateKey]*uiState)}
}

func (s *stateStore) Get(chatID, userID int64) uiState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.getOrCreateLocked(chatID, userID)
}

func (s *stateStore) Update(chatID, userID int64, fn func(*uiState)) uiState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.getOrCreateLocked(chatID, userID)
	if fn != nil {
		fn(st)
	}
	if st.Menu == "" {
		st.Menu = menuMain
	}
	st.UpdatedAt = time.Now()
	return *st
}

func (s *stateStore) getOrCreateLocked(chatID, userID int64) *uiState {
	key := stateKey{ChatID: chatID, UserID: userID}
	if st, ok := s.m[key]; ok {
		return st
	}
	st := &uiState{Menu: menuMain, UpdatedAt: time.Now()}
	s.m[key] = st
	return st
}
