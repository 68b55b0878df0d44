package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"stream-acquirer/internal/candidate"
	"stream-acquirer/internal/playlist"
)

// Repository defines the concurrency-safe contract for accessing and mutating
// in-memory session state.
type Repository interface {
	// RecordCandidate adds a candidate to the session, creating the session
	// if needed. Duplicate URLs (after normalization) are ignored and reported
	// as added == false. Closed sessions return ErrSessionClosed.
	RecordCandidate(id SessionID, c candidate.VideoCandidate) (added bool, err error)

	// CloseSession stops the session from accepting candidates. Closing an
	// unknown or closed session is a no-op.
	CloseSession(id SessionID) error

	// Snapshot returns a copy of the session. ok is false for unknown sessions.
	Snapshot(id SessionID) (view SessionView, ok bool)

	// BeginJob marks the session's acquisition as running and stores cancel
	// so CancelJob can stop it. It returns ErrSessionNotFound, ErrJobRunning,
	// or ErrNoCandidates, and on success the candidates to acquire.
	BeginJob(id SessionID, jobID string, cancel context.CancelFunc) ([]candidate.VideoCandidate, error)

	// UpdateJob applies fn to the session's job status under the write lock.
	UpdateJob(id SessionID, fn func(*JobStatus)) bool

	// FinishJob records the terminal state and releases the cancel function.
	FinishJob(id SessionID, fn func(*JobStatus)) bool

	// CancelJob invokes the running job's cancel function. It returns
	// ErrJobNotRunning when nothing is running.
	CancelJob(id SessionID) error

	// CancelAll cancels every running job and returns how many were running.
	CancelAll() int

	// SetPlaylist and Playlist store and read the resolved media playlist.
	SetPlaylist(id SessionID, pl *playlist.Playlist) bool
	Playlist(id SessionID) (*playlist.Playlist, bool)

	// ActiveJobCount returns the number of running acquisitions.
	// Used for metrics.
	ActiveJobCount() int

	// SessionCount returns the number of known sessions.
	SessionCount() int
}

var (
	// ErrSessionClosed is returned when reporting a candidate to a closed
	// session.
	ErrSessionClosed = errors.New("session is closed")

	// ErrSessionNotFound is returned for operations on unknown sessions.
	ErrSessionNotFound = errors.New("session not found")

	// ErrJobRunning is returned when starting an acquisition while one runs.
	ErrJobRunning = errors.New("acquisition already running")

	// ErrJobNotRunning is returned when canceling with nothing running.
	ErrJobNotRunning = errors.New("no acquisition running")

	// ErrNoCandidates is returned when starting an acquisition on a session
	// without candidates.
	ErrNoCandidates = errors.New("session has no candidates")
)

// InMemoryRepository is a concurrency-safe in-memory implementation of Repository.
// It uses a Store for persistence; by default that is an InMemoryStore.
type InMemoryRepository struct {
	mu    sync.RWMutex
	store Store
}

// NewInMemoryRepository constructs a new repository with a default in-memory store.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore())
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given Store.
// Useful for testing or for plugging in a different persistence backend.
func NewInMemoryRepositoryWithStore(store Store) *InMemoryRepository {
	return &InMemoryRepository{store: store}
}

// RecordCandidate implements Repository.RecordCandidate.
func (r *InMemoryRepository) RecordCandidate(id SessionID, c candidate.VideoCandidate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.getOrCreateSessionLocked(id)
	if s.Closed {
		return false, ErrSessionClosed
	}
	return s.Candidates.Add(c), nil
}

// CloseSession implements Repository.CloseSession.
func (r *InMemoryRepository) CloseSession(id SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.store.GetSession(id)
	if !ok {
		// Treat closing a non-existent session as a no-op for idempotency.
		return nil
	}
	s.Closed = true
	return nil
}

// Snapshot implements Repository.Snapshot.
func (r *InMemoryRepository) Snapshot(id SessionID) (SessionView, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.store.GetSession(id)
	if !ok {
		return SessionView{}, false
	}
	return SessionView{
		ID:         s.ID,
		Closed:     s.Closed,
		CreatedAt:  s.CreatedAt,
		Candidates: s.Candidates.List(),
		Job:        s.Job,
	}, true
}

// BeginJob implements Repository.BeginJob.
func (r *InMemoryRepository) BeginJob(id SessionID, jobID string, cancel context.CancelFunc) ([]candidate.VideoCandidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.store.GetSession(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.Job.State == JobRunning {
		return nil, ErrJobRunning
	}
	if s.Candidates.Len() == 0 {
		return nil, ErrNoCandidates
	}

	now := time.Now().UTC()
	s.Job = JobStatus{ID: jobID, State: JobRunning, StartedAt: &now}
	s.Playlist = nil
	s.cancel = cancel
	r.store.MarkRunning(id, true)
	return s.Candidates.List(), nil
}

// UpdateJob implements Repository.UpdateJob.
func (r *InMemoryRepository) UpdateJob(id SessionID, fn func(*JobStatus)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.store.GetSession(id)
	if !ok {
		return false
	}
	fn(&s.Job)
	return true
}

// FinishJob implements Repository.FinishJob.
func (r *InMemoryRepository) FinishJob(id SessionID, fn func(*JobStatus)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.store.GetSession(id)
	if !ok {
		return false
	}
	fn(&s.Job)
	now := time.Now().UTC()
	s.Job.FinishedAt = &now
	s.cancel = nil
	r.store.MarkRunning(id, false)
	return true
}

// CancelJob implements Repository.CancelJob.
func (r *InMemoryRepository) CancelJob(id SessionID) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.store.GetSession(id)
	if !ok {
		return ErrSessionNotFound
	}
	if s.Job.State != JobRunning || s.cancel == nil {
		return ErrJobNotRunning
	}
	s.cancel()
	return nil
}

// CancelAll implements Repository.CancelAll.
func (r *InMemoryRepository) CancelAll() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, id := range r.store.RunningSessionIDs() {
		if s, ok := r.store.GetSession(id); ok && s.cancel != nil {
			s.cancel()
			n++
		}
	}
	return n
}

// SetPlaylist implements Repository.SetPlaylist.
func (r *InMemoryRepository) SetPlaylist(id SessionID, pl *playlist.Playlist) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.store.GetSession(id)
	if !ok {
		return false
	}
	s.Playlist = pl
	return true
}

// Playlist implements Repository.Playlist.
func (r *InMemoryRepository) Playlist(id SessionID) (*playlist.Playlist, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.store.GetSession(id)
	if !ok || s.Playlist == nil {
		return nil, false
	}
	return s.Playlist, true
}

// ActiveJobCount implements Repository.ActiveJobCount.
func (r *InMemoryRepository) ActiveJobCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.store.RunningSessionIDs())
}

// SessionCount implements Repository.SessionCount.
func (r *InMemoryRepository) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.store.ListSessionIDs())
}

// getOrCreateSessionLocked returns an existing session or creates a new one.
// Caller must hold r.mu in write mode.
func (r *InMemoryRepository) getOrCreateSessionLocked(id SessionID) *SessionState {
	if s, ok := r.store.GetSession(id); ok {
		return s
	}

	s := &SessionState{
		ID:         id,
		Candidates: candidate.NewSet(),
		CreatedAt:  time.Now().UTC(),
		Job:        JobStatus{State: JobIdle},
	}
	r.store.SetSession(s)
	return s
}
