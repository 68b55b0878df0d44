package orchestrator

import (
	"context"
	"time"

	"stream-acquirer/internal/candidate"
	"stream-acquirer/internal/playlist"
)

// SessionID uniquely identifies a browsing session that reports candidates.
type SessionID string

// JobState is the lifecycle of a session's acquisition.
type JobState string

const (
	JobIdle      JobState = "idle"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobCanceled  JobState = "canceled"
)

// JobStatus is the externally visible state of a session's acquisition.
type JobStatus struct {
	ID           string     `json:"id,omitempty"`
	State        JobState   `json:"state"`
	Stage        string     `json:"stage,omitempty"`
	CandidateURL string     `json:"candidate_url,omitempty"`
	Transport    string     `json:"transport,omitempty"`
	Completed    int        `json:"completed"`
	Failed       int        `json:"failed"`
	Total        int        `json:"total"`
	Bytes        int64      `json:"bytes"`
	OutputPath   string     `json:"output_path,omitempty"`
	Error        string     `json:"error,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// SessionState is the in-memory representation of a session.
type SessionState struct {
	ID         SessionID
	Candidates *candidate.Set
	Closed     bool
	CreatedAt  time.Time
	Job        JobStatus
	// Playlist is the media playlist of the candidate being or last downloaded.
	Playlist *playlist.Playlist

	cancel context.CancelFunc
}

// SessionView is a read-only snapshot of a session, as served by the API.
type SessionView struct {
	ID         SessionID                  `json:"session_id"`
	Closed     bool                       `json:"closed"`
	CreatedAt  time.Time                  `json:"created_at"`
	Candidates []candidate.VideoCandidate `json:"candidates"`
	Job        JobStatus                  `json:"job"`
}

// AcquireRequest is the optional body of POST /sessions/{id}/acquire.
type AcquireRequest struct {
	Quality string            `json:"quality,omitempty"`
	Output  string            `json:"output,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}
