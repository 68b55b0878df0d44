// Package acquire walks ranked video candidates and produces one media file
// from the first candidate that can be resolved, downloaded and assembled.
package acquire

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"stream-acquirer/internal/assembler"
	"stream-acquirer/internal/candidate"
	"stream-acquirer/internal/fetch"
	"stream-acquirer/internal/playlist"
	"stream-acquirer/internal/scoring"
	"stream-acquirer/internal/segments"
)

// Config wires an Acquirer's collaborators.
type Config struct {
	Primary fetch.Fetcher
	// Fallback, when set, gets one more try at candidates that failed to
	// resolve or download over Primary.
	Fallback  fetch.Fetcher
	Scorer    *scoring.Scorer
	Engine    segments.Config
	Assembler *assembler.Assembler
	MaxDepth  int
	Recorder  Recorder
	Logger    *slog.Logger
}

// Options apply to a single Acquire call.
type Options struct {
	// Headers are sent with every request; candidate headers override them.
	Headers map[string]string
	Quality string
	// OutputPath wins over OutputDir.
	OutputPath  string
	OutputDir   string
	StagingRoot string
	KeepStaging bool
	Hooks       Hooks
}

// Acquirer runs acquisitions. Acquire calls are independent and may run
// concurrently.
type Acquirer struct {
	primary   fetch.Fetcher
	fallback  fetch.Fetcher
	scorer    *scoring.Scorer
	engine    *segments.Engine
	assembler *assembler.Assembler
	maxDepth  int
	rec       Recorder
	log       *slog.Logger
}

// New returns an Acquirer. Nil Scorer, Assembler and Recorder take defaults.
func New(cfg Config) (*Acquirer, error) {
	if cfg.Primary == nil {
		return nil, ErrNoTransport
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Scorer == nil {
		cfg.Scorer = scoring.New(scoring.DefaultTables())
	}
	if cfg.Assembler == nil {
		cfg.Assembler = assembler.New(nil, log)
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	if cfg.Engine.Logger == nil {
		cfg.Engine.Logger = log
	}
	return &Acquirer{
		primary:   cfg.Primary,
		fallback:  cfg.Fallback,
		scorer:    cfg.Scorer,
		engine:    segments.NewEngine(cfg.Primary, cfg.Engine),
		assembler: cfg.Assembler,
		maxDepth:  cfg.MaxDepth,
		rec:       cfg.Recorder,
		log:       log,
	}, nil
}

// Acquire ranks candidates and tries them in order until one yields an
// output file, whose path it returns. It fails with *NoViableCandidateError
// when none does, or with the context error when ctx is canceled.
func (a *Acquirer) Acquire(ctx context.Context, candidates []candidate.VideoCandidate, opts Options) (string, error) {
	start := time.Now()
	ranked := a.scorer.Rank(candidates)
	a.log.Info("acquisition started", slog.Int("candidates", len(ranked)))

	noViable := &NoViableCandidateError{}
	for _, sc := range ranked {
		if err := ctx.Err(); err != nil {
			a.rec.ObserveAcquisition(false, time.Since(start))
			return "", err
		}
		ev := CandidateEvent{Candidate: sc.Candidate, Score: sc.Score, Stage: StageScored}
		opts.Hooks.candidate(ev)

		if a.scorer.Skip(sc) {
			noViable.Skipped++
			ev.Stage = StageSkipped
			opts.Hooks.candidate(ev)
			a.rec.ObserveCandidate(string(StageSkipped))
			a.log.Info("candidate skipped",
				slog.String("url", sc.Candidate.URL),
				slog.Int("score", sc.Score),
				slog.Int("floor", a.scorer.Floor()),
				slog.Bool("ad", sc.Ad))
			continue
		}

		out, attempts := a.tryCandidate(ctx, sc, opts)
		if len(attempts) == 0 {
			a.rec.ObserveCandidate(string(StageCompleted))
			a.rec.ObserveAcquisition(true, time.Since(start))
			a.log.Info("acquisition finished",
				slog.String("url", sc.Candidate.URL),
				slog.String("output", out),
				slog.Duration("elapsed", time.Since(start)))
			return out, nil
		}
		if err := ctx.Err(); err != nil {
			a.rec.ObserveAcquisition(false, time.Since(start))
			return "", err
		}
		noViable.Attempts = append(noViable.Attempts, attempts...)
		a.rec.ObserveCandidate(string(StageFailed))
	}

	a.rec.ObserveAcquisition(false, time.Since(start))
	a.log.Warn("acquisition exhausted candidates",
		slog.Int("attempts", len(noViable.Attempts)),
		slog.Int("skipped", noViable.Skipped))
	return "", noViable
}

// tryCandidate attempts sc over the primary and then the fallback transport.
// It returns the output path, or the errors of every try.
func (a *Acquirer) tryCandidate(ctx context.Context, sc scoring.ScoredCandidate, opts Options) (string, []AttemptError) {
	transports := []fetch.Fetcher{a.primary}
	if a.fallback != nil {
		transports = append(transports, a.fallback)
	}

	var attempts []AttemptError
	for _, f := range transports {
		name := fetch.NameOf(f)
		out, job, stage, err := a.attempt(ctx, sc, f, opts)
		ev := CandidateEvent{Candidate: sc.Candidate, Score: sc.Score, Transport: name, Job: job}
		if job != nil {
			ev.JobID = job.ID
		}
		if err == nil {
			ev.Stage = StageCompleted
			opts.Hooks.candidate(ev)
			return out, nil
		}

		ev.Stage, ev.Err = StageFailed, err
		opts.Hooks.candidate(ev)
		attempts = append(attempts, AttemptError{URL: sc.Candidate.URL, Stage: stage, Transport: name, Err: err})
		a.log.Warn("candidate failed",
			slog.String("url", sc.Candidate.URL),
			slog.String("transport", name),
			slog.String("stage", string(stage)),
			slog.String("error", err.Error()))

		// A muxer failure would repeat on any transport.
		if ctx.Err() != nil || assembler.IsAssemblyError(err) {
			break
		}
	}
	return "", attempts
}

// attempt runs one candidate through resolve, download and assemble over f.
// On failure it reports the stage that failed.
func (a *Acquirer) attempt(ctx context.Context, sc scoring.ScoredCandidate, f fetch.Fetcher, opts Options) (string, *DownloadJob, Stage, error) {
	c := sc.Candidate
	name := fetch.NameOf(f)
	job, err := newJob(c, name, opts.StagingRoot)
	if err != nil {
		return "", nil, StageResolving, err
	}
	if !opts.KeepStaging {
		defer func() {
			if err := job.cleanup(); err != nil {
				a.log.Warn("staging cleanup failed", slog.String("dir", job.StagingDir), slog.String("error", err.Error()))
			}
		}()
	}
	log := a.log.With(slog.String("job_id", job.ID.String()), slog.String("transport", name))
	emit := func(stage Stage) {
		opts.Hooks.candidate(CandidateEvent{JobID: job.ID, Candidate: c, Score: sc.Score, Stage: stage, Transport: name, Job: job})
	}
	headers := fetch.Merge(opts.Headers, c.Headers)

	emit(StageResolving)
	var pl *playlist.Playlist
	if c.IsDirect() {
		pl = directPlaylist(c.URL)
	} else {
		r := playlist.NewResolver(f, playlist.ResolverOptions{Quality: opts.Quality, MaxDepth: a.maxDepth, Logger: log})
		if pl, err = r.Resolve(ctx, c.URL, headers); err != nil {
			return "", job, StageResolving, err
		}
	}
	job.Playlist = pl
	job.TotalCount = len(pl.Segments)

	emit(StageDownloading)
	engine := a.engine.WithFetcher(f).WithProgress(opts.Hooks.OnProgress)
	var res *segments.Result
	if c.IsDirect() {
		res, err = engine.DownloadFile(ctx, c.URL, headers, job.StagingDir)
	} else {
		res, err = engine.DownloadAll(ctx, pl, pl.URL, headers, job.StagingDir)
	}
	if err != nil {
		var insufficient *segments.InsufficientSegmentsError
		if errors.As(err, &insufficient) {
			job.SuccessCount = insufficient.Succeeded
		}
		return "", job, StageDownloading, err
	}
	job.Tasks = res.Tasks
	job.SuccessCount = res.SuccessCount

	emit(StageAssembling)
	out := outputPath(opts, res.SuccessCount)
	if err := a.assembler.Assemble(ctx, res.Files, out); err != nil {
		return "", job, StageAssembling, err
	}
	log.Info("candidate assembled",
		slog.String("output", out),
		slog.Int("segments", res.SuccessCount),
		slog.Int("total", res.TotalCount))
	return out, job, StageCompleted, nil
}
