// Package segments downloads the media segments of a playlist with a bounded
// worker pool and per-segment retries.
package segments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"stream-acquirer/internal/fetch"
	"stream-acquirer/internal/playlist"
)

// Defaults applied by NewEngine to zero Config fields.
const (
	DefaultConcurrency      = 4
	DefaultMaxAttempts      = 10
	DefaultBackoffStep      = 300 * time.Millisecond
	DefaultMaxBackoff       = 3 * time.Second
	DefaultSegmentTimeout   = 30 * time.Second
	DefaultDirectTimeout    = time.Hour
	DefaultMinSuccessRatio  = 0.8
	DefaultProgressInterval = 250 * time.Millisecond
)

// Progress is a snapshot of a running download.
type Progress struct {
	Completed      int
	Failed         int
	Total          int
	Bytes          int64
	BytesPerSecond float64
}

// Done reports whether every task has reached a terminal state.
func (p Progress) Done() bool {
	return p.Completed+p.Failed >= p.Total
}

// Recorder receives per-segment outcomes, e.g. for metrics.
type Recorder interface {
	ObserveSegment(succeeded bool, attempts int)
}

// Config tunes an Engine. Zero fields take the package defaults.
type Config struct {
	Concurrency     int
	MaxAttempts     int
	BackoffStep     time.Duration
	MaxBackoff      time.Duration
	SegmentTimeout  time.Duration
	// DirectTimeout bounds one attempt at a single-file download.
	DirectTimeout   time.Duration
	MinSuccessRatio float64
	// ProgressInterval throttles OnProgress. The final snapshot is always
	// delivered.
	ProgressInterval time.Duration
	OnProgress       func(Progress)
	Recorder         Recorder
	Logger           *slog.Logger
}

// Result is the outcome of a download that met the success threshold.
type Result struct {
	// Files holds the successful segments in index order.
	Files        []File
	SuccessCount int
	TotalCount   int
	Tasks        []Task
}

// Complete reports whether every segment was downloaded.
func (r *Result) Complete() bool {
	return r.SuccessCount == r.TotalCount
}

// Engine downloads playlists segment by segment.
type Engine struct {
	fetcher fetch.Fetcher
	cfg     Config
	log     *slog.Logger
}

// NewEngine returns an Engine that fetches with f.
func NewEngine(f fetch.Fetcher, cfg Config) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffStep <= 0 {
		cfg.BackoffStep = DefaultBackoffStep
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.SegmentTimeout <= 0 {
		cfg.SegmentTimeout = DefaultSegmentTimeout
	}
	if cfg.DirectTimeout <= 0 {
		cfg.DirectTimeout = DefaultDirectTimeout
	}
	if cfg.MinSuccessRatio <= 0 || cfg.MinSuccessRatio > 1 {
		cfg.MinSuccessRatio = DefaultMinSuccessRatio
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = DefaultProgressInterval
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{fetcher: f, cfg: cfg, log: log}
}

// WithFetcher returns a copy of e that fetches with f.
func (e *Engine) WithFetcher(f fetch.Fetcher) *Engine {
	c := *e
	c.fetcher = f
	return &c
}

// WithProgress returns a copy of e that reports to fn. A nil fn keeps the
// configured callback.
func (e *Engine) WithProgress(fn func(Progress)) *Engine {
	c := *e
	if fn != nil {
		c.cfg.OnProgress = fn
	}
	return &c
}

// attemptFunc performs one try at a task and returns the bytes written.
type attemptFunc func(ctx context.Context, t Task) (int64, error)

type taskResult struct {
	index    int
	attempts int
	bytes    int64
	err      error
}

// DownloadAll downloads every segment of pl into stagingDir. Relative segment
// URIs are resolved against baseURL. It returns *InsufficientSegmentsError
// when the success ratio is below the configured minimum and the context
// error when ctx is canceled; in-flight fetches are abandoned, not awaited.
func (e *Engine) DownloadAll(ctx context.Context, pl *playlist.Playlist, baseURL string, headers map[string]string, stagingDir string) (*Result, error) {
	tasks := e.buildTasks(pl, baseURL, stagingDir)
	total := len(tasks)
	if total == 0 {
		return nil, &InsufficientSegmentsError{Required: e.cfg.MinSuccessRatio}
	}
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	e.log.Info("segment download started",
		slog.Int("segments", total),
		slog.Int("concurrency", e.cfg.Concurrency),
		slog.String("fetcher", fetch.NameOf(e.fetcher)))

	jobs := make(chan Task)
	// Buffered to total so workers never block on the aggregator.
	results := make(chan taskResult, total)

	g, gctx := errgroup.WithContext(ctx)
	keys := newKeyCache(gctx, e.cfg.SegmentTimeout)
	try := func(ctx context.Context, t Task) (int64, error) {
		return e.attempt(ctx, t, headers, keys, e.cfg.SegmentTimeout)
	}
	g.Go(func() error {
		defer close(jobs)
		// tasks belongs to the aggregator; workers get copies.
		for _, t := range tasks {
			t.State = StateDownloading
			select {
			case jobs <- t:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for w := 0; w < min(e.cfg.Concurrency, total); w++ {
		g.Go(func() error {
			for t := range jobs {
				results <- e.runTask(gctx, t, try)
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	var (
		prog      = Progress{Total: total}
		start     = time.Now()
		speed     = newMeter(start)
		sometimes = rate.Sometimes{Interval: e.cfg.ProgressInterval}
	)
	for done := 0; done < total; {
		select {
		case <-ctx.Done():
			return nil, e.canceled(tasks, ctx.Err())
		case r, ok := <-results:
			if !ok {
				return nil, e.canceled(tasks, context.Cause(ctx))
			}
			done++
			t := &tasks[r.index]
			t.Attempts = r.attempts
			t.Bytes = r.bytes
			t.Err = r.err
			if r.err == nil {
				t.State = StateSucceeded
				prog.Completed++
				prog.Bytes += r.bytes
			} else {
				t.State = StateFailed
				prog.Failed++
				e.log.Warn("segment failed",
					slog.Int("index", t.Index),
					slog.Int("attempts", r.attempts),
					slog.String("error", r.err.Error()))
			}
			if e.cfg.Recorder != nil {
				e.cfg.Recorder.ObserveSegment(r.err == nil, r.attempts)
			}
			prog.BytesPerSecond = speed.observe(prog.Bytes, time.Now())
			if done < total {
				snap := prog
				sometimes.Do(func() { e.report(snap) })
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, e.canceled(tasks, err)
	}
	e.report(prog)

	ratio := float64(prog.Completed) / float64(total)
	e.log.Info("segment download finished",
		slog.Int("succeeded", prog.Completed),
		slog.Int("failed", prog.Failed),
		slog.Int("total", total),
		slog.Duration("elapsed", time.Since(start)))
	if ratio < e.cfg.MinSuccessRatio {
		return nil, &InsufficientSegmentsError{Succeeded: prog.Completed, Total: total, Required: e.cfg.MinSuccessRatio}
	}

	res := &Result{SuccessCount: prog.Completed, TotalCount: total, Tasks: tasks}
	for _, t := range tasks {
		if t.State == StateSucceeded {
			res.Files = append(res.Files, File{Index: t.Index, Path: t.Path})
		}
	}
	return res, nil
}

func (e *Engine) canceled(tasks []Task, cause error) error {
	unfinished := 0
	for _, t := range tasks {
		if !t.State.Terminal() {
			unfinished++
		}
	}
	e.log.Warn("segment download canceled",
		slog.Int("unfinished", unfinished),
		slog.Int("total", len(tasks)))
	return fmt.Errorf("segment download canceled: %w", cause)
}

// DownloadFile downloads one media file into stagingDir. A fetcher that
// implements fetch.Streamer writes straight to disk and a retry resumes the
// partial file; other fetchers buffer the body. Each attempt is bounded by
// DirectTimeout. Failure is reported as *InsufficientSegmentsError wrapping
// the last fetch error.
func (e *Engine) DownloadFile(ctx context.Context, rawURL string, headers map[string]string, stagingDir string) (*Result, error) {
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	t := Task{
		Segment: playlist.Segment{URI: rawURL},
		URL:     rawURL,
		Path:    filepath.Join(stagingDir, fileName(0, 1, rawURL)),
		State:   StateDownloading,
	}
	s, streaming := e.fetcher.(fetch.Streamer)
	e.log.Info("direct download started",
		slog.String("fetcher", fetch.NameOf(e.fetcher)),
		slog.Bool("streaming", streaming))

	var (
		start     = time.Now()
		speed     = newMeter(start)
		sometimes = rate.Sometimes{Interval: e.cfg.ProgressInterval}
	)
	written := func(total int64) {
		sometimes.Do(func() {
			e.report(Progress{Total: 1, Bytes: total, BytesPerSecond: speed.observe(total, time.Now())})
		})
	}
	try := func(ctx context.Context, t Task) (int64, error) {
		if streaming {
			return e.stream(ctx, t, headers, s, written)
		}
		return e.attempt(ctx, t, headers, nil, e.cfg.DirectTimeout)
	}

	r := e.runTask(ctx, t, try)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("direct download canceled: %w", err)
	}
	t.Attempts, t.Bytes, t.Err = r.attempts, r.bytes, r.err
	if e.cfg.Recorder != nil {
		e.cfg.Recorder.ObserveSegment(r.err == nil, r.attempts)
	}
	prog := Progress{Total: 1, Bytes: r.bytes, BytesPerSecond: speed.observe(r.bytes, time.Now())}
	if r.err != nil {
		t.State = StateFailed
		prog.Failed = 1
		e.report(prog)
		return nil, fmt.Errorf("%w: %w", &InsufficientSegmentsError{Total: 1, Required: e.cfg.MinSuccessRatio}, r.err)
	}
	t.State = StateSucceeded
	prog.Completed = 1
	e.report(prog)
	e.log.Info("direct download finished",
		slog.Int64("bytes", r.bytes),
		slog.Int("attempts", r.attempts),
		slog.Duration("elapsed", time.Since(start)))
	return &Result{
		Files:        []File{{Index: 0, Path: t.Path}},
		SuccessCount: 1,
		TotalCount:   1,
		Tasks:        []Task{t},
	}, nil
}

func (e *Engine) report(p Progress) {
	if e.cfg.OnProgress != nil {
		e.cfg.OnProgress(p)
	}
}

func (e *Engine) buildTasks(pl *playlist.Playlist, baseURL, stagingDir string) []Task {
	if pl == nil {
		return nil
	}
	tasks := make([]Task, len(pl.Segments))
	for i, seg := range pl.Segments {
		t := Task{Index: i, Segment: seg, State: StatePending}
		u, err := playlist.ResolveReference(baseURL, seg.URI)
		if err != nil {
			t.Err = fmt.Errorf("resolve segment %q: %w", seg.URI, err)
		}
		t.URL = u
		t.Path = filepath.Join(stagingDir, fileName(i, len(pl.Segments), u))
		tasks[i] = t
	}
	return tasks
}

func (e *Engine) runTask(ctx context.Context, t Task, try attemptFunc) taskResult {
	res := taskResult{index: t.Index}
	if t.Err != nil {
		res.err = t.Err
		return res
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			res.err = err
			return res
		}
		res.attempts = attempt
		n, err := try(ctx, t)
		if err == nil {
			res.bytes = n
			return res
		}
		if ctx.Err() != nil {
			res.err = ctx.Err()
			return res
		}
		lastErr = err
		if attempt == e.cfg.MaxAttempts || !isRetryable(err) {
			break
		}
		e.log.Debug("segment attempt failed",
			slog.Int("index", t.Index),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		if err := waitBackoff(ctx, e.backoffFor(attempt, err)); err != nil {
			res.err = err
			return res
		}
	}
	res.err = fmt.Errorf("segment %d after %d attempts: %w", t.Index, res.attempts, lastErr)
	return res
}

// isRetryable reports whether another attempt could succeed. Attempt
// timeouts and transient statuses are retried.
func isRetryable(err error) bool {
	return !fetch.Permanent(err)
}

func (e *Engine) attempt(ctx context.Context, t Task, headers map[string]string, keys *keyCache, timeout time.Duration) (int64, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := e.fetcher.FetchBinary(actx, t.URL, headers)
	if err != nil {
		return 0, err
	}
	if err := validatePayload(data); err != nil {
		return 0, err
	}

	if k := t.Segment.Key; k.IsAES128() {
		keyURL, err := playlist.ResolveReference(t.URL, k.URI)
		if err != nil {
			return 0, err
		}
		key, err := keys.get(actx, e.fetcher, keyURL, headers)
		if err != nil {
			return 0, fmt.Errorf("fetch key: %w", err)
		}
		if data, err = decryptAES128(data, key, k, t.Segment.Sequence); err != nil {
			return 0, err
		}
	}

	if err := writeAtomic(t.Path, data); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// validatePayload rejects responses that cannot be media: empty bodies and
// HTML pages served in place of segments.
func validatePayload(data []byte) error {
	if len(data) == 0 {
		return errEmptyPayload
	}
	if strings.HasPrefix(http.DetectContentType(data), "text/html") {
		return errHTMLPayload
	}
	return nil
}

// stream writes t.URL into t.Path+".part" through s and renames it into place
// once the whole body has arrived. A failed transfer leaves the partial file
// for the next attempt to resume.
func (e *Engine) stream(ctx context.Context, t Task, headers map[string]string, s fetch.Streamer, written func(int64)) (int64, error) {
	actx, cancel := context.WithTimeout(ctx, e.cfg.DirectTimeout)
	defer cancel()

	tmp := t.Path + ".part"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := s.FetchTo(actx, t.URL, headers, &countingFile{f: f, written: written})
	if err == nil {
		err = validateFile(f, n)
		if err != nil {
			os.Remove(tmp)
		}
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, t.Path); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	return n, nil
}

// validateFile applies validatePayload to the head of a downloaded file.
func validateFile(f *os.File, size int64) error {
	if size == 0 {
		return errEmptyPayload
	}
	head := make([]byte, min(size, 512))
	n, err := f.ReadAt(head, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return validatePayload(head[:n])
}

// countingFile reports the write position to written after every write.
type countingFile struct {
	f       *os.File
	pos     int64
	written func(int64)
}

func (c *countingFile) Write(p []byte) (int, error) {
	n, err := c.f.Write(p)
	c.pos += int64(n)
	c.written(c.pos)
	return n, err
}

func (c *countingFile) Seek(offset int64, whence int) (int64, error) {
	pos, err := c.f.Seek(offset, whence)
	if err == nil {
		c.pos = pos
	}
	return pos, err
}

func (c *countingFile) Truncate(size int64) error {
	return c.f.Truncate(size)
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// backoffFor returns min(attempt*step, max), raised to a server's
// Retry-After but never beyond max.
func (e *Engine) backoffFor(attempt int, err error) time.Duration {
	d := min(time.Duration(attempt)*e.cfg.BackoffStep, e.cfg.MaxBackoff)
	var se *fetch.StatusError
	if errors.As(err, &se) && se.RetryAfter > d {
		d = min(se.RetryAfter, e.cfg.MaxBackoff)
	}
	return d
}

func waitBackoff(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
