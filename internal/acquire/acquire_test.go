package acquire

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stream-acquirer/internal/assembler"
	"stream-acquirer/internal/candidate"
	"stream-acquirer/internal/fetch"
	"stream-acquirer/internal/segments"
)

var tsPayload = []byte{0x47, 0x40, 0x00, 0x10, 0x00, 0x00, 0xb0, 0x0d}

func mediaPlaylist(n int) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-TARGETDURATION:4\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "#EXTINF:4.0,\nseg%d.ts\n", i)
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

const master = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=854x480
480/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2800000,RESOLUTION=1280x720
720/index.m3u8
`

// origin serves a small video site: an ad manifest, a master playlist with
// two variants, and a direct mp4. It counts hits per path.
type origin struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
	// requireHeader, when set, rejects requests missing it.
	requireHeader string
}

func newOrigin(t *testing.T) *origin {
	t.Helper()
	o := &origin{hits: make(map[string]int)}
	o.Server = httptest.NewServer(http.HandlerFunc(o.serve))
	t.Cleanup(o.Close)
	return o
}

func (o *origin) serve(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	o.hits[r.URL.Path]++
	o.mu.Unlock()

	if o.requireHeader != "" && r.Header.Get(o.requireHeader) == "" {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	switch {
	case r.URL.Path == "/ads/preroll.m3u8":
		w.Write([]byte(mediaPlaylist(1)))
	case r.URL.Path == "/video/master.m3u8":
		w.Write([]byte(master))
	case strings.HasSuffix(r.URL.Path, "/index.m3u8"):
		w.Write([]byte(mediaPlaylist(3)))
	case strings.HasSuffix(r.URL.Path, ".ts"), r.URL.Path == "/files/clip.mp4":
		w.Write(tsPayload)
	default:
		http.NotFound(w, r)
	}
}

func (o *origin) hitsFor(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[path]
}

func (o *origin) hitsWithPrefix(prefix string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for p, c := range o.hits {
		if strings.HasPrefix(p, prefix) {
			n += c
		}
	}
	return n
}

// fakeMuxer records invocations and writes the output file unless failing.
type fakeMuxer struct {
	mu    sync.Mutex
	calls int
	lists []string
	fail  bool
}

func (m *fakeMuxer) Run(_ context.Context, args []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	for i, a := range args {
		if a == "-i" && i+1 < len(args) {
			b, _ := os.ReadFile(args[i+1])
			m.lists = append(m.lists, string(b))
		}
	}
	if m.fail {
		return "Conversion failed!", errors.New("exit status 1")
	}
	return "", os.WriteFile(args[len(args)-1], []byte("video"), 0o644)
}

// deniedFetcher fails every request with 403.
type deniedFetcher struct{ calls int }

func (f *deniedFetcher) Name() string { return "denied" }

func (f *deniedFetcher) FetchText(ctx context.Context, url string, h map[string]string) (string, error) {
	b, err := f.FetchBinary(ctx, url, h)
	return string(b), err
}

func (f *deniedFetcher) FetchBinary(context.Context, string, map[string]string) ([]byte, error) {
	f.calls++
	return nil, &fetch.StatusError{StatusCode: http.StatusForbidden}
}

func fastEngine() segments.Config {
	return segments.Config{
		Concurrency: 2,
		MaxAttempts: 2,
		BackoffStep: time.Millisecond,
		MaxBackoff:  time.Millisecond,
	}
}

func newTestAcquirer(t *testing.T, o *origin, m *fakeMuxer, fallback fetch.Fetcher) *Acquirer {
	t.Helper()
	a, err := New(Config{
		Primary:   fetch.NewHTTPFetcherWithClient(o.Client(), fetch.Options{}),
		Fallback:  fallback,
		Engine:    fastEngine(),
		Assembler: assembler.New(m, nil),
	})
	require.NoError(t, err)
	return a
}

type eventLog struct {
	mu     sync.Mutex
	events []CandidateEvent
}

func (l *eventLog) record(ev CandidateEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) stagesFor(url string) []Stage {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Stage
	for _, ev := range l.events {
		if ev.Candidate.URL == url {
			out = append(out, ev.Stage)
		}
	}
	return out
}

func TestAcquire_SkipsAdAndDownloadsCleanCandidate(t *testing.T) {
	o := newOrigin(t)
	m := &fakeMuxer{}
	a := newTestAcquirer(t, o, m, nil)

	adURL := o.URL + "/ads/preroll.m3u8"
	cleanURL := o.URL + "/video/master.m3u8"
	now := time.Now()
	cands := []candidate.VideoCandidate{
		candidate.New(adURL, nil, candidate.SourceDOM, now),
		candidate.New(cleanURL, nil, candidate.SourceNetwork, now),
	}

	events := &eventLog{}
	var finalProgress segments.Progress
	out := filepath.Join(t.TempDir(), "out.mp4")
	staging := t.TempDir()
	got, err := a.Acquire(context.Background(), cands, Options{
		OutputPath:  out,
		StagingRoot: staging,
		Hooks: Hooks{
			OnCandidate: events.record,
			OnProgress:  func(p segments.Progress) { finalProgress = p },
		},
	})
	require.NoError(t, err)
	assert.Equal(t, out, got)
	assert.FileExists(t, out)

	assert.Equal(t, 0, o.hitsFor("/ads/preroll.m3u8"), "ad candidate must never be fetched")
	assert.Equal(t, 1, m.calls, "exactly one assembler invocation")
	assert.Equal(t, 3, o.hitsWithPrefix("/video/720/seg"), "best variant's segments downloaded")
	assert.Equal(t, 0, o.hitsWithPrefix("/video/480/"))

	assert.Equal(t, []Stage{StageScored, StageResolving, StageDownloading, StageAssembling, StageCompleted}, events.stagesFor(cleanURL))
	assert.Empty(t, events.stagesFor(adURL), "ranked last, never reached after success")
	assert.True(t, finalProgress.Done())
	assert.Equal(t, 3, finalProgress.Completed)

	entries, err := os.ReadDir(staging)
	require.NoError(t, err)
	assert.Empty(t, entries, "staging directory removed after success")
}

func TestAcquire_FallbackTransport(t *testing.T) {
	o := newOrigin(t)
	m := &fakeMuxer{}
	denied := &deniedFetcher{}
	alternate := fetch.NewHTTPFetcherWithClient(o.Client(), fetch.Options{Identity: fetch.AlternateIdentity()})

	a, err := New(Config{Primary: denied, Fallback: alternate, Engine: fastEngine(), Assembler: assembler.New(m, nil)})
	require.NoError(t, err)

	events := &eventLog{}
	url := o.URL + "/video/master.m3u8"
	_, err = a.Acquire(context.Background(),
		[]candidate.VideoCandidate{candidate.New(url, nil, "", time.Time{})},
		Options{OutputDir: t.TempDir(), StagingRoot: t.TempDir(), Hooks: Hooks{OnCandidate: events.record}})
	require.NoError(t, err)

	assert.Equal(t, 1, denied.calls)
	var transports []string
	for _, ev := range events.events {
		if ev.Stage == StageFailed || ev.Stage == StageCompleted {
			transports = append(transports, ev.Transport)
		}
	}
	assert.Equal(t, []string{"denied", "http-alternate"}, transports)
}

func TestAcquire_AssemblyFailureIsNotRetriedOnFallback(t *testing.T) {
	o := newOrigin(t)
	m := &fakeMuxer{fail: true}
	fallback := fetch.NewHTTPFetcherWithClient(o.Client(), fetch.Options{Identity: fetch.AlternateIdentity()})
	a := newTestAcquirer(t, o, m, fallback)

	_, err := a.Acquire(context.Background(),
		[]candidate.VideoCandidate{candidate.New(o.URL+"/video/master.m3u8", nil, "", time.Time{})},
		Options{OutputDir: t.TempDir(), StagingRoot: t.TempDir()})

	var nv *NoViableCandidateError
	require.ErrorAs(t, err, &nv)
	require.Len(t, nv.Attempts, 1)
	assert.Equal(t, StageAssembling, nv.Attempts[0].Stage)
	assert.Equal(t, 2, m.calls, "copy then re-encode, once")

	var ae *assembler.AssemblyError
	assert.ErrorAs(t, err, &ae)
}

func TestAcquire_NoViableCandidate(t *testing.T) {
	o := newOrigin(t)
	a := newTestAcquirer(t, o, &fakeMuxer{}, nil)

	cands := []candidate.VideoCandidate{
		candidate.New("https://ads.doubleclick.net/vast/preroll.m3u8", nil, "", time.Time{}),
		candidate.New(o.URL+"/missing/master.m3u8", nil, "", time.Time{}),
		candidate.New(o.URL+"/gone/clip.mp4", nil, "", time.Time{}),
	}
	_, err := a.Acquire(context.Background(), cands, Options{OutputDir: t.TempDir(), StagingRoot: t.TempDir()})

	require.ErrorIs(t, err, ErrNoViableCandidate)
	var nv *NoViableCandidateError
	require.ErrorAs(t, err, &nv)
	assert.Equal(t, 1, nv.Skipped)
	require.Len(t, nv.Attempts, 2)
	assert.Equal(t, StageResolving, nv.Attempts[0].Stage)
	assert.Equal(t, StageDownloading, nv.Attempts[1].Stage)
	assert.Equal(t, 1, o.hitsFor("/gone/clip.mp4"), "a 404 is not retried")
	assert.Equal(t, 1, o.hitsFor("/missing/master.m3u8"))

	var insufficient *segments.InsufficientSegmentsError
	assert.ErrorAs(t, err, &insufficient)
	var se *fetch.StatusError
	assert.ErrorAs(t, err, &se)
}

func TestAcquire_EmptyCandidates(t *testing.T) {
	o := newOrigin(t)
	_, err := newTestAcquirer(t, o, &fakeMuxer{}, nil).Acquire(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, ErrNoViableCandidate)
}

func TestAcquire_DirectFileUsesDefaultOutputName(t *testing.T) {
	o := newOrigin(t)
	m := &fakeMuxer{}
	a := newTestAcquirer(t, o, m, nil)
	outDir := t.TempDir()

	got, err := a.Acquire(context.Background(),
		[]candidate.VideoCandidate{candidate.New(o.URL+"/files/clip.mp4", nil, "", time.Time{})},
		Options{OutputDir: outDir, StagingRoot: t.TempDir()})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(outDir, "downloaded_video_1_segments.mp4"), got)
	assert.Equal(t, 1, o.hitsFor("/files/clip.mp4"))
	require.Len(t, m.lists, 1)
	assert.Equal(t, 1, strings.Count(m.lists[0], "file '"))
}

func TestAcquire_CandidateHeadersOverrideDefaults(t *testing.T) {
	o := newOrigin(t)
	o.requireHeader = "X-Token"
	a := newTestAcquirer(t, o, &fakeMuxer{}, nil)

	c := candidate.New(o.URL+"/video/master.m3u8", map[string]string{"X-Token": "abc"}, "", time.Time{})
	_, err := a.Acquire(context.Background(), []candidate.VideoCandidate{c},
		Options{Headers: map[string]string{"Referer": "https://site.example/"}, OutputDir: t.TempDir(), StagingRoot: t.TempDir()})
	require.NoError(t, err)
}

func TestAcquire_KeepStaging(t *testing.T) {
	o := newOrigin(t)
	a := newTestAcquirer(t, o, &fakeMuxer{}, nil)
	staging := t.TempDir()

	_, err := a.Acquire(context.Background(),
		[]candidate.VideoCandidate{candidate.New(o.URL+"/video/master.m3u8", nil, "", time.Time{})},
		Options{OutputDir: t.TempDir(), StagingRoot: staging, KeepStaging: true})
	require.NoError(t, err)

	entries, err := os.ReadDir(staging)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "acquire-"))
}

func TestAcquire_Canceled(t *testing.T) {
	o := newOrigin(t)
	m := &fakeMuxer{}
	a := newTestAcquirer(t, o, m, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Acquire(ctx,
		[]candidate.VideoCandidate{candidate.New(o.URL+"/video/master.m3u8", nil, "", time.Time{})},
		Options{OutputDir: t.TempDir(), StagingRoot: t.TempDir()})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrNoViableCandidate)
	assert.Zero(t, m.calls)
}

func TestNew_RequiresPrimary(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNoTransport)
}

type countingRecorder struct {
	mu        sync.Mutex
	outcomes  map[string]int
	succeeded []bool
}

func (r *countingRecorder) ObserveCandidate(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[outcome]++
}

func (r *countingRecorder) ObserveAcquisition(ok bool, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.succeeded = append(r.succeeded, ok)
}

func TestAcquire_Recorder(t *testing.T) {
	o := newOrigin(t)
	rec := &countingRecorder{outcomes: make(map[string]int)}
	a, err := New(Config{
		Primary:   fetch.NewHTTPFetcherWithClient(o.Client(), fetch.Options{}),
		Engine:    fastEngine(),
		Assembler: assembler.New(&fakeMuxer{}, nil),
		Recorder:  rec,
	})
	require.NoError(t, err)

	cands := []candidate.VideoCandidate{
		candidate.New(o.URL+"/missing/master.m3u8", nil, "", time.Time{}),
		candidate.New(o.URL+"/video/master.m3u8", nil, "", time.Time{}),
	}
	_, err = a.Acquire(context.Background(), cands, Options{OutputDir: t.TempDir(), StagingRoot: t.TempDir()})
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"failed": 1, "completed": 1}, rec.outcomes)
	assert.Equal(t, []bool{true}, rec.succeeded)
}
