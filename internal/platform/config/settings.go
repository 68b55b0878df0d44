package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"stream-acquirer/internal/scoring"
	"stream-acquirer/internal/segments"
)

// EnvPrefix is prepended to every environment override, e.g.
// ACQUIRER_DOWNLOAD_CONCURRENCY.
const EnvPrefix = "ACQUIRER"

// Settings is the full application configuration.
type Settings struct {
	Server    ServerSettings    `mapstructure:"server"`
	Download  DownloadSettings  `mapstructure:"download"`
	Scoring   scoring.Tables    `mapstructure:"scoring"`
	Assembler AssemblerSettings `mapstructure:"assembler"`
	Fetch     FetchSettings     `mapstructure:"fetch"`
	Log       LogSettings       `mapstructure:"log"`
}

// ServerSettings configures the session HTTP API.
type ServerSettings struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DownloadSettings configures the segment engine and acquisition output.
type DownloadSettings struct {
	Concurrency     int           `mapstructure:"concurrency"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	BackoffStep     time.Duration `mapstructure:"backoff_step"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff"`
	SegmentTimeout  time.Duration `mapstructure:"segment_timeout"`
	DirectTimeout   time.Duration `mapstructure:"direct_timeout"`
	MinSuccessRatio float64       `mapstructure:"min_success_ratio"`
	Quality         string        `mapstructure:"quality"`
	OutputDir       string        `mapstructure:"output_dir"`
	StagingRoot     string        `mapstructure:"staging_root"`
	KeepStaging     bool          `mapstructure:"keep_staging"`
}

// AssemblerSettings configures the external muxer.
type AssemblerSettings struct {
	FFmpeg string `mapstructure:"ffmpeg"`
}

// FetchSettings configures the HTTP transports.
type FetchSettings struct {
	Timeout           time.Duration     `mapstructure:"timeout"`
	RequestsPerSecond float64           `mapstructure:"requests_per_second"`
	Burst             int               `mapstructure:"burst"`
	MaxBodyBytes      int64             `mapstructure:"max_body_bytes"`
	Fallback          bool              `mapstructure:"fallback"`
	SessionURL        string            `mapstructure:"session_url"`
	Headers           map[string]string `mapstructure:"headers"`
}

// LogSettings selects the slog level and handler.
type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every default on v and enables ACQUIRER_* overrides.
// The legacy PORT, LOG_LEVEL and LOG_FORMAT variables seed the defaults.
func SetDefaults(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", GetEnv("PORT", "8080"))
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("download.concurrency", segments.DefaultConcurrency)
	v.SetDefault("download.max_attempts", segments.DefaultMaxAttempts)
	v.SetDefault("download.backoff_step", segments.DefaultBackoffStep)
	v.SetDefault("download.max_backoff", segments.DefaultMaxBackoff)
	v.SetDefault("download.segment_timeout", segments.DefaultSegmentTimeout)
	v.SetDefault("download.direct_timeout", segments.DefaultDirectTimeout)
	v.SetDefault("download.min_success_ratio", segments.DefaultMinSuccessRatio)
	v.SetDefault("download.quality", "best")
	v.SetDefault("download.output_dir", ".")
	v.SetDefault("download.staging_root", "")
	v.SetDefault("download.keep_staging", false)

	v.SetDefault("assembler.ffmpeg", "ffmpeg")

	v.SetDefault("fetch.timeout", 60*time.Second)
	v.SetDefault("fetch.requests_per_second", 0.0)
	v.SetDefault("fetch.burst", 4)
	v.SetDefault("fetch.max_body_bytes", int64(512<<20))
	v.SetDefault("fetch.fallback", true)
	v.SetDefault("fetch.session_url", "")

	v.SetDefault("log.level", GetEnv("LOG_LEVEL", "info"))
	v.SetDefault("log.format", GetEnv("LOG_FORMAT", "json"))
}

// Decode unmarshals v into Settings seeded with the default scoring tables,
// then validates the result.
func Decode(v *viper.Viper) (*Settings, error) {
	s := &Settings{Scoring: scoring.DefaultTables()}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("unable to decode configuration: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate rejects settings the engine cannot run with.
func (s *Settings) Validate() error {
	var errs []error
	if s.Server.Port == "" {
		errs = append(errs, errors.New("server.port must be set"))
	}
	if s.Download.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("download.concurrency must be positive, got %d", s.Download.Concurrency))
	}
	if s.Download.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("download.max_attempts must be positive, got %d", s.Download.MaxAttempts))
	}
	if r := s.Download.MinSuccessRatio; r <= 0 || r > 1 {
		errs = append(errs, fmt.Errorf("download.min_success_ratio must be in (0,1], got %g", r))
	}
	if d := s.Download; d.BackoffStep < 0 || d.MaxBackoff < 0 || d.SegmentTimeout < 0 || d.DirectTimeout < 0 {
		errs = append(errs, errors.New("download durations must not be negative"))
	}
	if s.Fetch.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("fetch.requests_per_second must not be negative, got %g", s.Fetch.RequestsPerSecond))
	}
	if raw := s.Fetch.SessionURL; raw != "" {
		if u, err := url.Parse(raw); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("fetch.session_url must be an absolute http(s) URL, got %q", raw))
		}
	}
	return errors.Join(errs...)
}

// EngineConfig maps the download settings onto a segment engine config.
func (s *Settings) EngineConfig() segments.Config {
	d := s.Download
	return segments.Config{
		Concurrency:     d.Concurrency,
		MaxAttempts:     d.MaxAttempts,
		BackoffStep:     d.BackoffStep,
		MaxBackoff:      d.MaxBackoff,
		SegmentTimeout:  d.SegmentTimeout,
		DirectTimeout:   d.DirectTimeout,
		MinSuccessRatio: d.MinSuccessRatio,
	}
}
