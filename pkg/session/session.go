package session

import (
	"sync"

	"github.com/emberhq/ember/pkg/message"
)

// Session owns the ordered message history for one conversation. All
// mutation goes through the Store so ordering stays append-only; callers
// receive clones and can never reorder or edit stored entries.
type Session struct {
	ID string

	mu         sync.Mutex
	history    []message.Message
	iterations int
	active     bool
}

// Append adds a message to the history.
func (s *Session) Append(msg message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, message.Clone(msg))
}

// History returns a deep-cloned snapshot of the full history.
func (s *Session) History() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return message.CloneAll(s.history)
}

// Len reports the number of stored messages.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// Iterations returns the tool-iteration counter for the current turn.
func (s *Session) Iterations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iterations
}

// BumpIterations increments and returns the tool-iteration counter.
func (s *Session) BumpIterations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iterations++
	return s.iterations
}

// ResetIterations clears the counter at the start of a turn.
func (s *Session) ResetIterations() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iterations = 0
}

// SetActive flags whether a turn is currently running on this session.
func (s *Session) SetActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = active
}

// Active reports whether a turn is currently running on this session.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// replace swaps the stored history. Only the compactor uses it, and only to
// substitute the middle partition; anchor and tail entries are carried over
// untouched.
func (s *Session) replace(history []message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = history
}

// Store hands out sessions keyed by identifier, creating them on first use.
// Retention/destruction is the caller's policy, not the store's.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore builds an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Get returns the session for key, creating it when absent.
func (st *Store) Get(key string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	if sess, ok := st.sessions[key]; ok {
		return sess
	}
	sess := &Session{ID: key}
	st.sessions[key] = sess
	return sess
}

// Len reports how many sessions exist.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
