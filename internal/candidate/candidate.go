package candidate

import (
	"maps"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/purell"
)

// Kind classifies the resource a candidate URL points at.
type Kind string

const (
	KindUnknown  Kind = ""
	KindManifest Kind = "m3u8"
	KindDirect   Kind = "direct"
)

// Provenance tags for where a candidate was observed. Free-form values are
// allowed; these are the ones the scorer knows about by default.
const (
	SourceDOM     = "dom"
	SourcePage    = "page"
	SourceNetwork = "network"
)

// ManifestExtensions and DirectExtensions drive Classify.
var (
	ManifestExtensions = []string{".m3u8", ".m3u"}
	DirectExtensions   = []string{".mp4", ".m4v", ".webm", ".mkv", ".mov", ".flv", ".ts", ".m4s"}
)

// VideoCandidate is one potential media source discovered during a session.
// Candidates are values; use New to get an independent copy of the headers.
type VideoCandidate struct {
	URL       string            `json:"url" yaml:"url"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Timestamp time.Time         `json:"timestamp" yaml:"timestamp"`
	Domain    string            `json:"domain" yaml:"domain"`
	Source    string            `json:"source" yaml:"source"`
	Kind      Kind              `json:"type,omitempty" yaml:"type,omitempty"`
	Status    int               `json:"status,omitempty" yaml:"status,omitempty"`
}

// New builds a candidate for rawURL, deriving its domain and kind.
func New(rawURL string, headers map[string]string, source string, ts time.Time) VideoCandidate {
	if source == "" {
		source = SourceNetwork
	}
	return VideoCandidate{
		URL:       rawURL,
		Headers:   maps.Clone(headers),
		Timestamp: ts,
		Domain:    Domain(rawURL),
		Source:    source,
		Kind:      Classify(rawURL),
	}
}

// IsDirect reports whether the candidate should bypass manifest resolution.
func (c VideoCandidate) IsDirect() bool {
	return c.Kind == KindDirect
}

// Classify guesses the candidate kind from the URL path, falling back to
// query hints such as "format=m3u8".
func Classify(rawURL string) Kind {
	u, err := url.Parse(rawURL)
	if err != nil {
		return KindUnknown
	}
	ext := strings.ToLower(path.Ext(u.Path))
	for _, e := range ManifestExtensions {
		if ext == e {
			return KindManifest
		}
	}
	for _, e := range DirectExtensions {
		if ext == e {
			return KindDirect
		}
	}
	if strings.Contains(strings.ToLower(u.RawQuery), "m3u8") {
		return KindManifest
	}
	return KindUnknown
}

// Domain returns the lower-cased host of rawURL without port or a leading
// "www.". It returns "" for URLs without a host.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// Key returns the normalized form of rawURL used for deduplication.
// Unparsable URLs are returned unchanged.
func Key(rawURL string) string {
	flags := purell.FlagsSafe | purell.FlagRemoveFragment | purell.FlagSortQuery | purell.FlagRemoveDuplicateSlashes
	n, err := purell.NormalizeURLString(rawURL, flags)
	if err != nil {
		return rawURL
	}
	return n
}
