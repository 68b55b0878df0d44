package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stream-acquirer/internal/acquire"
	"stream-acquirer/internal/candidate"
	"stream-acquirer/internal/fetch"
	"stream-acquirer/internal/orchestrator"
	"stream-acquirer/internal/platform/metrics"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadCandidates(t *testing.T) {
	path := writeFile(t, "events.yaml", `
- url: https://cdn.example.com/show/master.m3u8
  headers:
    Referer: https://www.example.com/watch/1
  source: network
- url: https://www.example.com/static/app.css
- url: https://cdn.example.com/show/master.m3u8
- url: https://cdn.example.com/clip.mp4
  method: POST
- url: https://media.example.net/stream?id=7
  resource_type: media
  timestamp: 2026-01-02T03:04:05Z
`)
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	cands, ignored, err := loadCandidates(path, now)
	require.NoError(t, err)
	assert.Equal(t, 2, ignored)
	require.Len(t, cands, 2)

	assert.Equal(t, "https://cdn.example.com/show/master.m3u8", cands[0].URL)
	assert.Equal(t, candidate.KindManifest, cands[0].Kind)
	assert.Equal(t, "https://www.example.com/watch/1", cands[0].Headers["Referer"])
	assert.Equal(t, now, cands[0].Timestamp)

	assert.Equal(t, candidate.KindDirect, cands[1].Kind)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), cands[1].Timestamp.UTC())
}

func TestLoadCandidates_Errors(t *testing.T) {
	_, _, err := loadCandidates(filepath.Join(t.TempDir(), "missing.yaml"), time.Now())
	assert.Error(t, err)

	path := writeFile(t, "bad.yaml", "url: [unterminated")
	_, _, err = loadCandidates(path, time.Now())
	assert.Error(t, err)
}

func TestCandidatesFromArgs(t *testing.T) {
	now := time.Now().UTC()
	cands := candidatesFromArgs([]string{"https://cdn.example.com/a.m3u8", "https://cdn.example.com/b.mp4"}, now)
	require.Len(t, cands, 2)
	assert.Equal(t, SourceCLI, cands[0].Source)
	assert.Equal(t, candidate.KindManifest, cands[0].Kind)
	assert.Equal(t, candidate.KindDirect, cands[1].Kind)
}

func TestRequestHeaders(t *testing.T) {
	got, err := requestHeaders(
		map[string]string{"referer": "https://config.example/", "x-api": "1"},
		"Referer: https://list.example/, Origin: https://list.example",
		[]string{"origin: https://flag.example", "X-Token: abc"},
	)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"Referer": "https://list.example/",
		"Origin":  "https://flag.example",
		"X-Api":   "1",
		"X-Token": "abc",
	}, got)

	_, err = requestHeaders(nil, "", []string{"no colon"})
	assert.Error(t, err)
}

func executeRoot(t *testing.T, args ...string) (*app, string, error) {
	t.Helper()
	a := &app{v: viper.New()}
	root := newRootCmd(a)
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return a, out.String(), err
}

func TestRootCmd_FlagsOverrideConfigFile(t *testing.T) {
	cfg := writeFile(t, "acquirer.yaml", `
download:
  concurrency: 7
  quality: 480p
fetch:
  headers:
    Referer: https://config.example/
log:
  level: error
`)

	a, _, err := executeRoot(t, "--config", cfg, "fetch", "--no-progress", "--concurrency", "3")
	require.ErrorIs(t, err, errNoCandidates)
	require.NotNil(t, a.settings)

	assert.Equal(t, 3, a.settings.Download.Concurrency)
	assert.Equal(t, "480p", a.settings.Download.Quality)
	assert.Equal(t, "error", a.settings.Log.Level)
	assert.Equal(t, "https://config.example/", a.settings.Fetch.Headers["referer"])
}

func TestRootCmd_EnvOverride(t *testing.T) {
	cfg := writeFile(t, "acquirer.yaml", "log:\n  level: error\n")
	t.Setenv("ACQUIRER_DOWNLOAD_QUALITY", "worst")

	a, _, err := executeRoot(t, "--config", cfg, "fetch", "--no-progress")
	require.ErrorIs(t, err, errNoCandidates)
	assert.Equal(t, "worst", a.settings.Download.Quality)
}

func TestRootCmd_MissingConfigFile(t *testing.T) {
	_, _, err := executeRoot(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "fetch")
	assert.ErrorContains(t, err, "read config")
}

func TestRootCmd_EnvFile(t *testing.T) {
	cfg := writeFile(t, "acquirer.yaml", "log:\n  level: error\n")
	env := writeFile(t, "acquirer.env", "ACQUIRER_DOWNLOAD_QUALITY=720p\n")
	t.Cleanup(func() { os.Unsetenv("ACQUIRER_DOWNLOAD_QUALITY") })

	a, _, err := executeRoot(t, "--config", cfg, "--env-file", env, "fetch", "--no-progress")
	require.ErrorIs(t, err, errNoCandidates)
	assert.Equal(t, "720p", a.settings.Download.Quality)

	_, _, err = executeRoot(t, "--config", cfg, "--env-file", filepath.Join(t.TempDir(), "none.env"), "fetch")
	assert.ErrorContains(t, err, "load env file")
}

func TestRootCmd_InvalidSettings(t *testing.T) {
	cfg := writeFile(t, "acquirer.yaml", "download:\n  min_success_ratio: 1.5\n")
	_, _, err := executeRoot(t, "--config", cfg, "fetch")
	assert.ErrorContains(t, err, "min_success_ratio")
}

func TestNewAcquirer(t *testing.T) {
	cfg := writeFile(t, "acquirer.yaml", "log:\n  level: error\n")
	a, _, _ := executeRoot(t, "--config", cfg, "fetch", "--no-progress")
	require.NotNil(t, a.settings)

	acq, err := newAcquirer(a.settings, metrics.New(), a.log)
	require.NoError(t, err)
	assert.NotNil(t, acq)

	_, err = newAcquirer(a.settings, nil, a.log)
	assert.NoError(t, err)
}

func TestFallbackFetcher(t *testing.T) {
	cfg := writeFile(t, "acquirer.yaml", "log:\n  level: error\n")
	a, _, _ := executeRoot(t, "--config", cfg, "fetch", "--no-progress")
	require.NotNil(t, a.settings)
	s := *a.settings

	assert.Equal(t, "http-alternate", fetch.NameOf(fallbackFetcher(&s)))

	s.Fetch.SessionURL = "http://127.0.0.1:9222/fetch"
	assert.Equal(t, "browser-session", fetch.NameOf(fallbackFetcher(&s)))

	s.Fetch.Fallback = false
	assert.Nil(t, fallbackFetcher(&s))
}

type stubAcquirer struct{}

func (stubAcquirer) Acquire(ctx context.Context, _ []candidate.VideoCandidate, _ acquire.Options) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestRouter(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	met := metrics.New()
	repo := orchestrator.NewInMemoryRepository()
	svc := orchestrator.NewService(repo, stubAcquirer{}, acquire.Options{OutputDir: t.TempDir()}, log)
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	r := newRouter(orchestrator.NewHandler(svc, log, met), repo, met, log)

	body := strings.NewReader(`{"url":"https://cdn.example.com/v/master.m3u8","method":"GET","status":200}`)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions/s1/events", body))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions/s1/acquire", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, metrics.MetricsPath, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	scrape := rec.Body.String()
	assert.Contains(t, scrape, `acquirer_events_total{result="accepted"} 1`)
	assert.Contains(t, scrape, "acquirer_requests_total 2")
	assert.Contains(t, scrape, "acquirer_active_jobs 1")
	assert.Contains(t, scrape, "acquirer_sessions 1")
}
