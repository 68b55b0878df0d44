// Package playlist parses HLS manifests and resolves a master playlist down
// to one media playlist.
package playlist

import (
	"errors"
	"fmt"
	"strconv"
)

// Playlist is a parsed manifest. Exactly one of Variants or Segments is set.
type Playlist struct {
	// URL is where the manifest was fetched from and the base for every
	// relative URI inside it.
	URL            string
	Variants       []Variant
	Segments       []Segment
	MediaSequence  int
	TargetDuration int
	Ended          bool
}

// IsMaster reports whether the playlist lists variants.
func (p *Playlist) IsMaster() bool {
	return len(p.Variants) > 0
}

// TotalDuration sums segment durations in seconds.
func (p *Playlist) TotalDuration() float64 {
	total := 0.0
	for _, s := range p.Segments {
		total += s.Duration
	}
	return total
}

// Variant is one #EXT-X-STREAM-INF entry. Zero values mean "not declared".
type Variant struct {
	URI       string
	Bandwidth int
	Width     int
	Height    int
	Codecs    string
}

// HasResolution reports whether the variant declared a RESOLUTION.
func (v Variant) HasResolution() bool {
	return v.Height > 0
}

// Resolution formats the declared resolution as "WxH", or "" when absent.
func (v Variant) Resolution() string {
	if !v.HasResolution() {
		return ""
	}
	return strconv.Itoa(v.Width) + "x" + strconv.Itoa(v.Height)
}

// Segment is one media segment of a media playlist.
type Segment struct {
	URI      string
	Duration float64
	// Sequence is the media sequence number of the segment.
	Sequence int
	Key      *Key
}

// Key describes segment encryption from #EXT-X-KEY.
type Key struct {
	Method string
	URI    string
	IV     []byte
}

const methodAES128 = "AES-128"

// IsAES128 reports whether the key uses whole-segment AES-128 encryption.
func (k *Key) IsAES128() bool {
	return k != nil && k.Method == methodAES128
}

// ErrEmptyManifest is wrapped by FetchError when the response body is blank.
var ErrEmptyManifest = errors.New("empty manifest body")

// FetchError reports that a manifest could not be retrieved.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch manifest %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports a manifest that is neither a usable master nor a
// usable media playlist.
type ParseError struct {
	URL    string
	Reason string
}

func (e *ParseError) Error() string {
	if e.URL == "" {
		return "parse manifest: " + e.Reason
	}
	return fmt.Sprintf("parse manifest %s: %s", e.URL, e.Reason)
}
