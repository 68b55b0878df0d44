// Package scoring ranks video candidates by how likely they are to be the
// primary content and pushes advertising below everything else.
package scoring

import (
	"math"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"stream-acquirer/internal/candidate"
)

// Blocked is the score given to ad candidates that fall under the floor.
const Blocked = math.MinInt32

// ScoredCandidate pairs a candidate with its score.
type ScoredCandidate struct {
	Candidate candidate.VideoCandidate
	Score     int
	Ad        bool
	// Order is the candidate's position in the input, used to keep ranking stable.
	Order int
}

// Scorer computes candidate scores. It is safe for concurrent use.
type Scorer struct {
	t   Tables
	now func() time.Time
}

// New returns a Scorer using a private copy of t.
func New(t Tables) *Scorer {
	return NewWithClock(t, time.Now)
}

// NewWithClock is New with an injectable clock for the recency bonus.
func NewWithClock(t Tables, now func() time.Time) *Scorer {
	if now == nil {
		now = time.Now
	}
	return &Scorer{t: t.clone(), now: now}
}

// Floor returns the minimum score a candidate needs to be attempted.
func (s *Scorer) Floor() int {
	return s.t.Floor
}

// Skip reports whether sc scores below the floor.
func (s *Scorer) Skip(sc ScoredCandidate) bool {
	return sc.Score < s.t.Floor
}

// Score returns the additive score for c. Malformed URLs score 0.
func (s *Scorer) Score(c candidate.VideoCandidate) int {
	u, ok := parseHTTPURL(c.URL)
	if !ok {
		return 0
	}
	lower := strings.ToLower(c.URL)
	host := strings.ToLower(u.Hostname())

	score := 0
	if containsAny(lower, s.t.PlayerPatterns) {
		score += s.t.PlayerBonus
	}
	score += s.t.SourceBonus[c.Source]
	score += s.protocolScore(strings.ToLower(u.Path), c.Kind)
	if matchesDomain(host, s.t.GoodDomains) {
		score += s.t.GoodDomainBonus
	}
	if !c.Timestamp.IsZero() {
		if age := s.now().Sub(c.Timestamp); age >= 0 && age <= s.t.RecentWindow {
			score += s.t.RecentBonus
		}
	}
	if len(c.URL) < s.t.ShortURLLength {
		score += s.t.ShortURLBonus
	}

	if s.isAd(host, lower) {
		score -= s.t.AdPenalty
		if score < s.t.Floor {
			return Blocked
		}
	}
	return score
}

// IsAd reports whether c is served from a known ad or tracking source.
func (s *Scorer) IsAd(c candidate.VideoCandidate) bool {
	u, ok := parseHTTPURL(c.URL)
	if !ok {
		return false
	}
	return s.isAd(strings.ToLower(u.Hostname()), strings.ToLower(c.URL))
}

// Rank scores every candidate and sorts them: non-ad before ad, then score
// descending, then discovery order.
func (s *Scorer) Rank(cs []candidate.VideoCandidate) []ScoredCandidate {
	out := make([]ScoredCandidate, 0, len(cs))
	for i, c := range cs {
		out = append(out, ScoredCandidate{
			Candidate: c,
			Score:     s.Score(c),
			Ad:        s.IsAd(c),
			Order:     i,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Ad != out[j].Ad {
			return !out[i].Ad
		}
		return out[i].Score > out[j].Score
	})
	return out
}

func (s *Scorer) isAd(host, lowerURL string) bool {
	return matchesDomain(host, s.t.AdDomains) || containsAny(lowerURL, s.t.AdPatterns)
}

func (s *Scorer) protocolScore(lowerPath string, kind candidate.Kind) int {
	ext := path.Ext(lowerPath)
	switch {
	case ext == ".m3u8" || ext == ".m3u":
		if containsAny(path.Base(lowerPath), s.t.MasterHints) {
			return s.t.MasterBonus
		}
		return s.t.ManifestBonus
	case kind == candidate.KindManifest:
		return s.t.ManifestBonus
	case hasExt(ext, s.t.SegmentExtensions):
		return s.t.SegmentBonus
	case hasExt(ext, s.t.DirectExtensions), kind == candidate.KindDirect:
		return s.t.DirectBonus
	}
	return 0
}

func parseHTTPURL(raw string) (*url.URL, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	return u, true
}

// matchesDomain reports whether host equals or is a subdomain of any entry.
func matchesDomain(host string, domains []string) bool {
	for _, d := range domains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

func hasExt(ext string, exts []string) bool {
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}
