package orchestrator

import (
	"maps"
	"slices"
)

// Store holds session state for a Repository. Besides the sessions it keeps
// an index of sessions whose acquisition is running, so that shutdown and
// the active-jobs gauge do not walk every session.
//
// Store implementations need not be safe for concurrent use; the Repository
// serializes access.
type Store interface {
	GetSession(id SessionID) (*SessionState, bool)
	SetSession(s *SessionState)
	ListSessionIDs() []SessionID

	// MarkRunning adds id to the running index, or removes it.
	MarkRunning(id SessionID, running bool)
	// RunningSessionIDs returns the indexed sessions in ID order.
	RunningSessionIDs() []SessionID
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	sessions map[SessionID]*SessionState
	running  map[SessionID]struct{}
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[SessionID]*SessionState),
		running:  make(map[SessionID]struct{}),
	}
}

// GetSession implements Store.GetSession.
func (s *InMemoryStore) GetSession(id SessionID) (*SessionState, bool) {
	st, ok := s.sessions[id]
	return st, ok
}

// SetSession implements Store.SetSession. The running index follows the
// stored job state.
func (s *InMemoryStore) SetSession(st *SessionState) {
	s.sessions[st.ID] = st
	s.MarkRunning(st.ID, st.Job.State == JobRunning)
}

// ListSessionIDs implements Store.ListSessionIDs.
func (s *InMemoryStore) ListSessionIDs() []SessionID {
	return slices.Collect(maps.Keys(s.sessions))
}

// MarkRunning implements Store.MarkRunning. Unknown sessions are ignored.
func (s *InMemoryStore) MarkRunning(id SessionID, running bool) {
	if _, ok := s.sessions[id]; !ok || !running {
		delete(s.running, id)
		return
	}
	s.running[id] = struct{}{}
}

// RunningSessionIDs implements Store.RunningSessionIDs.
func (s *InMemoryStore) RunningSessionIDs() []SessionID {
	return slices.Sorted(maps.Keys(s.running))
}
