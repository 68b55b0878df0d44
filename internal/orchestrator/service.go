package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"stream-acquirer/internal/acquire"
	"stream-acquirer/internal/candidate"
	"stream-acquirer/internal/segments"
)

// Acquirer is the acquisition entry point the service drives.
type Acquirer interface {
	Acquire(ctx context.Context, candidates []candidate.VideoCandidate, opts acquire.Options) (string, error)
}

// EventRecorder counts reported events, e.g. metrics.Metrics.
type EventRecorder interface {
	IncEvents(result string)
}

// Service turns reported network events into candidates and runs one
// acquisition per session in the background.
type Service struct {
	repo     Repository
	acq      Acquirer
	defaults acquire.Options
	log      *slog.Logger
	events   EventRecorder
	now      func() time.Time

	wg sync.WaitGroup
}

// NewService returns a Service that stores sessions in repo and acquires
// with acq. defaults seeds every acquisition's options; each session writes
// into its own subdirectory of defaults.OutputDir.
func NewService(repo Repository, acq Acquirer, defaults acquire.Options, log *slog.Logger) *Service {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{repo: repo, acq: acq, defaults: defaults, log: log, now: time.Now}
}

// WithEventRecorder sets the recorder for reported events.
func (s *Service) WithEventRecorder(r EventRecorder) *Service {
	s.events = r
	return s
}

// ReportEvent converts ev to a candidate and records it on the session.
// accepted is false when the event does not describe media; err is
// ErrSessionClosed for closed sessions.
func (s *Service) ReportEvent(id SessionID, ev candidate.ObservedEvent) (c candidate.VideoCandidate, accepted bool, err error) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now().UTC()
	}
	c, ok := candidate.FromEvent(ev)
	if !ok {
		s.countEvent("ignored")
		return candidate.VideoCandidate{}, false, nil
	}
	added, err := s.repo.RecordCandidate(id, c)
	if err != nil {
		s.countEvent("rejected")
		return candidate.VideoCandidate{}, false, err
	}
	if added {
		s.countEvent("accepted")
	} else {
		s.countEvent("duplicate")
	}
	return c, true, nil
}

// CloseSession stops the session from accepting events.
func (s *Service) CloseSession(id SessionID) error {
	return s.repo.CloseSession(id)
}

// StartAcquisition launches the session's acquisition in the background and
// returns its initial status.
func (s *Service) StartAcquisition(id SessionID, req AcquireRequest) (JobStatus, error) {
	ctx, cancel := context.WithCancel(context.Background())
	jobID := uuid.NewString()
	cands, err := s.repo.BeginJob(id, jobID, cancel)
	if err != nil {
		cancel()
		return JobStatus{}, err
	}

	opts := s.optionsFor(id, req)
	opts.Hooks = acquire.Hooks{
		OnCandidate: func(ev acquire.CandidateEvent) { s.onCandidate(id, ev) },
		OnProgress:  func(p segments.Progress) { s.onProgress(id, p) },
	}

	log := s.log.With(slog.String("session_id", string(id)), slog.String("job_id", jobID))
	log.Info("acquisition started", slog.Int("candidates", len(cands)))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		out, err := s.acq.Acquire(ctx, cands, opts)
		s.repo.FinishJob(id, func(j *JobStatus) {
			switch {
			case err == nil:
				j.State = JobSucceeded
				j.OutputPath = out
			case errors.Is(err, context.Canceled):
				j.State = JobCanceled
				j.Error = err.Error()
			default:
				j.State = JobFailed
				j.Error = err.Error()
			}
		})
		if err != nil {
			log.Warn("acquisition ended without output", slog.String("error", err.Error()))
			return
		}
		log.Info("acquisition succeeded", slog.String("output", out))
	}()

	view, _ := s.repo.Snapshot(id)
	return view.Job, nil
}

// CancelAcquisition stops the session's running acquisition.
func (s *Service) CancelAcquisition(id SessionID) error {
	return s.repo.CancelJob(id)
}

// Status returns a snapshot of the session.
func (s *Service) Status(id SessionID) (SessionView, bool) {
	return s.repo.Snapshot(id)
}

// Playlist returns the session's resolved media playlist with absolute URIs.
func (s *Service) Playlist(id SessionID) (string, bool, error) {
	pl, ok := s.repo.Playlist(id)
	if !ok {
		return "", false, nil
	}
	m3u8, err := BuildMediaPlaylist(pl)
	return m3u8, true, err
}

// Shutdown cancels running acquisitions and waits for them until ctx ends.
func (s *Service) Shutdown(ctx context.Context) error {
	if n := s.repo.CancelAll(); n > 0 {
		s.log.Info("canceling running acquisitions", slog.Int("count", n))
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) optionsFor(id SessionID, req AcquireRequest) acquire.Options {
	opts := s.defaults
	opts.Headers = maps.Clone(s.defaults.Headers)
	if len(req.Headers) > 0 {
		if opts.Headers == nil {
			opts.Headers = make(map[string]string, len(req.Headers))
		}
		maps.Copy(opts.Headers, req.Headers)
	}
	if req.Quality != "" {
		opts.Quality = req.Quality
	}
	dir := opts.OutputDir
	if dir == "" {
		dir = "."
	}
	opts.OutputDir = filepath.Join(dir, string(id))
	opts.OutputPath = ""
	// Only a file name is accepted from clients.
	if name := filepath.Base(filepath.Clean("/" + req.Output)); req.Output != "" && name != "/" && name != "." {
		opts.OutputPath = filepath.Join(opts.OutputDir, name)
	}
	return opts
}

func (s *Service) onCandidate(id SessionID, ev acquire.CandidateEvent) {
	if ev.Stage == acquire.StageDownloading && ev.Job != nil && ev.Job.Playlist != nil {
		s.repo.SetPlaylist(id, ev.Job.Playlist)
	}
	s.repo.UpdateJob(id, func(j *JobStatus) {
		j.Stage = string(ev.Stage)
		j.CandidateURL = ev.Candidate.URL
		j.Transport = ev.Transport
		if ev.Stage == acquire.StageResolving {
			j.Completed, j.Failed, j.Total, j.Bytes = 0, 0, 0, 0
		}
	})
}

func (s *Service) onProgress(id SessionID, p segments.Progress) {
	s.repo.UpdateJob(id, func(j *JobStatus) {
		j.Completed = p.Completed
		j.Failed = p.Failed
		j.Total = p.Total
		j.Bytes = p.Bytes
	})
}

func (s *Service) countEvent(result string) {
	if s.events != nil {
		s.events.IncEvents(result)
	}
}
