package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("ACQ_TEST_STR", "value")

	assert.Equal(t, "value", GetEnv("ACQ_TEST_STR", "x"))
	assert.Equal(t, "x", GetEnv("ACQ_TEST_UNSET", "x"))
}

func TestLoad_DotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("ACQ_DOTENV_VALUE=from-file\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("ACQ_DOTENV_VALUE") })

	require.NoError(t, Load(path))
	assert.Equal(t, "from-file", os.Getenv("ACQ_DOTENV_VALUE"))
}

func TestLoad_MissingFiles(t *testing.T) {
	t.Chdir(t.TempDir())

	assert.NoError(t, Load(), "absent default file is ignored")
	err := Load("missing.env")
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLoad_KeepsExistingVariables(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultEnvFile), []byte("ACQ_DOTENV_KEEP=file\n"), 0o644))
	t.Setenv("ACQ_DOTENV_KEEP", "process")

	require.NoError(t, Load())
	assert.Equal(t, "process", os.Getenv("ACQ_DOTENV_KEEP"))
}

func TestDecode_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	s, err := Decode(v)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Download.Concurrency)
	assert.Equal(t, 10, s.Download.MaxAttempts)
	assert.InDelta(t, 0.8, s.Download.MinSuccessRatio, 1e-9)
	assert.Equal(t, 3*time.Second, s.Download.MaxBackoff)
	assert.Equal(t, time.Hour, s.Download.DirectTimeout)
	assert.Empty(t, s.Fetch.SessionURL)
	assert.Equal(t, "best", s.Download.Quality)
	assert.Equal(t, "ffmpeg", s.Assembler.FFmpeg)
	assert.Equal(t, 100, s.Scoring.PlayerBonus, "scoring tables seeded with defaults")
	assert.Equal(t, -50, s.Scoring.Floor)
}

func TestDecode_EnvOverrides(t *testing.T) {
	t.Setenv("ACQUIRER_DOWNLOAD_CONCURRENCY", "9")
	t.Setenv("ACQUIRER_DOWNLOAD_SEGMENT_TIMEOUT", "5s")
	t.Setenv("ACQUIRER_LOG_FORMAT", "text")

	v := viper.New()
	SetDefaults(v)
	s, err := Decode(v)
	require.NoError(t, err)
	assert.Equal(t, 9, s.Download.Concurrency)
	assert.Equal(t, 5*time.Second, s.Download.SegmentTimeout)
	assert.Equal(t, "text", s.Log.Format)
}

func TestDecode_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acquirer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
download:
  concurrency: 2
  min_success_ratio: 0.5
scoring:
  floor: -10
  ad_domains: [ads.example.com]
fetch:
  headers:
    Referer: https://site.example/
`), 0o644))

	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	s, err := Decode(v)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Download.Concurrency)
	assert.InDelta(t, 0.5, s.Download.MinSuccessRatio, 1e-9)
	assert.Equal(t, -10, s.Scoring.Floor)
	assert.Equal(t, []string{"ads.example.com"}, s.Scoring.AdDomains)
	assert.Equal(t, 100, s.Scoring.PlayerBonus, "unset table fields keep defaults")
	assert.Equal(t, "https://site.example/", s.Fetch.Headers["referer"])
}

func TestValidate(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	s, err := Decode(v)
	require.NoError(t, err)

	bad := *s
	bad.Download.Concurrency = 0
	bad.Download.MinSuccessRatio = 1.5
	err = bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "download.concurrency")
	assert.Contains(t, err.Error(), "download.min_success_ratio")

	relay := *s
	relay.Fetch.SessionURL = "relay.local/fetch"
	assert.ErrorContains(t, relay.Validate(), "fetch.session_url")
	relay.Fetch.SessionURL = "http://127.0.0.1:9222/fetch"
	assert.NoError(t, relay.Validate())
}

func TestEngineConfig(t *testing.T) {
	s := Settings{Download: DownloadSettings{Concurrency: 3, MaxAttempts: 7, MinSuccessRatio: 0.9, DirectTimeout: 20 * time.Minute}}
	cfg := s.EngineConfig()
	assert.Equal(t, 20*time.Minute, cfg.DirectTimeout)
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, 7, cfg.MaxAttempts)
	assert.InDelta(t, 0.9, cfg.MinSuccessRatio, 1e-9)
}
