package acquire

import (
	"time"

	"github.com/google/uuid"

	"stream-acquirer/internal/candidate"
	"stream-acquirer/internal/segments"
)

// Stage is a step in a candidate's lifecycle.
type Stage string

const (
	StageScored      Stage = "scored"
	StageSkipped     Stage = "skipped"
	StageResolving   Stage = "resolving"
	StageDownloading Stage = "downloading"
	StageAssembling  Stage = "assembling"
	StageCompleted   Stage = "completed"
	// StageFailed means the acquirer moves on to the next candidate.
	StageFailed Stage = "failed"
)

// CandidateEvent reports a stage transition for one candidate.
type CandidateEvent struct {
	JobID     uuid.UUID
	Candidate candidate.VideoCandidate
	Score     int
	Stage     Stage
	Transport string
	// Job is set from StageDownloading on.
	Job *DownloadJob
	Err error
}

// Hooks receive progress while Acquire runs. They are called from the
// acquiring goroutine and must not block.
type Hooks struct {
	OnCandidate func(CandidateEvent)
	OnProgress  func(segments.Progress)
}

func (h Hooks) candidate(ev CandidateEvent) {
	if h.OnCandidate != nil {
		h.OnCandidate(ev)
	}
}

// Recorder receives candidate and acquisition outcomes, e.g. for metrics.
type Recorder interface {
	ObserveCandidate(outcome string)
	ObserveAcquisition(succeeded bool, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveCandidate(string)                 {}
func (nopRecorder) ObserveAcquisition(bool, time.Duration) {}
