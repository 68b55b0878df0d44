package cli

import (
	"log/slog"
	"net/http"
	"net/textproto"

	"stream-acquirer/internal/acquire"
	"stream-acquirer/internal/assembler"
	"stream-acquirer/internal/fetch"
	"stream-acquirer/internal/platform/config"
	"stream-acquirer/internal/platform/metrics"
	"stream-acquirer/internal/scoring"
)

// newAcquirer builds the acquirer from settings. The default identity is the
// primary transport; see fallbackFetcher for the fallback. m may be nil.
func newAcquirer(s *config.Settings, m *metrics.Metrics, log *slog.Logger) (*acquire.Acquirer, error) {
	cfg := acquire.Config{
		Primary:   fetch.NewHTTPFetcher(fetchOptions(s, fetch.DefaultIdentity())),
		Scorer:    scoring.New(s.Scoring),
		Engine:    s.EngineConfig(),
		Assembler: assembler.New(assembler.ExecMuxer{Binary: s.Assembler.FFmpeg}, log),
		Logger:    log,
	}
	if f := fallbackFetcher(s); f != nil {
		cfg.Fallback = f
	}
	if m != nil {
		cfg.Recorder = m
		cfg.Engine.Recorder = m
	}
	return acquire.New(cfg)
}

// fallbackFetcher returns the browser session relay when one is configured,
// otherwise the alternate identity. It returns nil when fallback is disabled.
func fallbackFetcher(s *config.Settings) fetch.Fetcher {
	switch {
	case !s.Fetch.Fallback:
		return nil
	case s.Fetch.SessionURL != "":
		return fetch.NewRelaySession(&http.Client{Timeout: s.Fetch.Timeout}, s.Fetch.SessionURL, s.Fetch.MaxBodyBytes)
	default:
		return fetch.NewHTTPFetcher(fetchOptions(s, fetch.AlternateIdentity()))
	}
}

func fetchOptions(s *config.Settings, id fetch.Identity) fetch.Options {
	return fetch.Options{
		Identity:          id,
		Timeout:           s.Fetch.Timeout,
		RequestsPerSecond: s.Fetch.RequestsPerSecond,
		Burst:             s.Fetch.Burst,
		MaxBodyBytes:      s.Fetch.MaxBodyBytes,
	}
}

// acquireOptions returns the per-acquisition defaults from settings.
func acquireOptions(s *config.Settings) acquire.Options {
	return acquire.Options{
		Headers:     canonicalHeaders(s.Fetch.Headers),
		Quality:     s.Download.Quality,
		OutputDir:   s.Download.OutputDir,
		StagingRoot: s.Download.StagingRoot,
		KeepStaging: s.Download.KeepStaging,
	}
}

// canonicalHeaders rewrites header names to canonical form. Config files
// lowercase map keys, so "referer" from a file and "Referer" from a flag must
// collide.
func canonicalHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[textproto.CanonicalMIMEHeaderKey(k)] = v
	}
	return out
}
