package playlist

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"stream-acquirer/internal/fetch"
)

// DefaultMaxDepth bounds master-to-master nesting.
const DefaultMaxDepth = 5

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	Quality  string
	MaxDepth int
	Logger   *slog.Logger
}

// Resolver fetches a manifest and follows master playlists down to a media
// playlist.
type Resolver struct {
	fetcher  fetch.Fetcher
	quality  string
	maxDepth int
	log      *slog.Logger
}

// NewResolver returns a Resolver that fetches with f.
func NewResolver(f fetch.Fetcher, opts ResolverOptions) *Resolver {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Resolver{fetcher: f, quality: opts.Quality, maxDepth: opts.MaxDepth, log: opts.Logger}
}

// Resolve returns the media playlist reachable from rawURL. The returned
// playlist's URL is the media playlist's own address, which is the base for
// its segment URIs.
func (r *Resolver) Resolve(ctx context.Context, rawURL string, headers map[string]string) (*Playlist, error) {
	return r.resolve(ctx, rawURL, headers, 0)
}

func (r *Resolver) resolve(ctx context.Context, rawURL string, headers map[string]string, depth int) (*Playlist, error) {
	if depth > r.maxDepth {
		return nil, &ParseError{URL: rawURL, Reason: fmt.Sprintf("variant nesting deeper than %d", r.maxDepth)}
	}

	text, err := r.fetcher.FetchText(ctx, rawURL, headers)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return nil, &FetchError{URL: rawURL, Err: ErrEmptyManifest}
	}

	pl, err := Parse(text, rawURL)
	if err != nil {
		return nil, err
	}
	if !pl.IsMaster() {
		r.log.Debug("media playlist resolved",
			slog.String("url", rawURL),
			slog.Int("segments", len(pl.Segments)),
			slog.Float64("duration_seconds", pl.TotalDuration()),
			slog.Int("depth", depth))
		return pl, nil
	}

	v, _ := SelectVariant(pl.Variants, r.quality)
	next, err := ResolveReference(rawURL, v.URI)
	if err != nil {
		return nil, &ParseError{URL: rawURL, Reason: fmt.Sprintf("variant URI %q: %v", v.URI, err)}
	}
	r.log.Debug("variant selected",
		slog.String("url", next),
		slog.String("resolution", v.Resolution()),
		slog.Int("bandwidth", v.Bandwidth),
		slog.Int("variants", len(pl.Variants)))
	return r.resolve(ctx, next, headers, depth+1)
}

// ResolveReference resolves ref against base the way a player would:
// absolute refs are kept, relative ones are joined to base's directory.
func ResolveReference(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	return b.ResolveReference(u).String(), nil
}
