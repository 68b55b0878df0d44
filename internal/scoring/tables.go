package scoring

import (
	"maps"
	"slices"
	"time"

	"stream-acquirer/internal/candidate"
)

// Tables holds every pattern list and weight the Scorer uses. A Scorer keeps
// its own copy, so callers may reuse or modify a Tables value afterwards.
type Tables struct {
	PlayerPatterns []string `mapstructure:"player_patterns" yaml:"player_patterns"`
	PlayerBonus    int      `mapstructure:"player_bonus" yaml:"player_bonus"`

	SourceBonus map[string]int `mapstructure:"source_bonus" yaml:"source_bonus"`

	MasterHints       []string `mapstructure:"master_hints" yaml:"master_hints"`
	MasterBonus       int      `mapstructure:"master_bonus" yaml:"master_bonus"`
	ManifestBonus     int      `mapstructure:"manifest_bonus" yaml:"manifest_bonus"`
	DirectExtensions  []string `mapstructure:"direct_extensions" yaml:"direct_extensions"`
	DirectBonus       int      `mapstructure:"direct_bonus" yaml:"direct_bonus"`
	SegmentExtensions []string `mapstructure:"segment_extensions" yaml:"segment_extensions"`
	SegmentBonus      int      `mapstructure:"segment_bonus" yaml:"segment_bonus"`

	GoodDomains     []string `mapstructure:"good_domains" yaml:"good_domains"`
	GoodDomainBonus int      `mapstructure:"good_domain_bonus" yaml:"good_domain_bonus"`

	AdDomains  []string `mapstructure:"ad_domains" yaml:"ad_domains"`
	AdPatterns []string `mapstructure:"ad_patterns" yaml:"ad_patterns"`
	AdPenalty  int      `mapstructure:"ad_penalty" yaml:"ad_penalty"`

	// Floor is the lowest score still worth attempting.
	Floor int `mapstructure:"floor" yaml:"floor"`

	RecentWindow   time.Duration `mapstructure:"recent_window" yaml:"recent_window"`
	RecentBonus    int           `mapstructure:"recent_bonus" yaml:"recent_bonus"`
	ShortURLLength int           `mapstructure:"short_url_length" yaml:"short_url_length"`
	ShortURLBonus  int           `mapstructure:"short_url_bonus" yaml:"short_url_bonus"`
}

// DefaultTables returns a fresh copy of the built-in scoring tables.
func DefaultTables() Tables {
	return Tables{
		PlayerPatterns: []string{"/embed/", "/embed?", "/player/", "player.", "embed.", "/e/", "jwplayer", "videojs"},
		PlayerBonus:    100,

		SourceBonus: map[string]int{
			candidate.SourceDOM:     30,
			candidate.SourcePage:    20,
			candidate.SourceNetwork: 10,
		},

		MasterHints:       []string{"master", "playlist", "index"},
		MasterBonus:       40,
		ManifestBonus:     30,
		DirectExtensions:  []string{".mp4", ".m4v", ".webm", ".mkv", ".mov", ".flv"},
		DirectBonus:       20,
		SegmentExtensions: []string{".ts", ".m4s", ".aac"},
		SegmentBonus:      5,

		GoodDomains: []string{
			"akamaihd.net", "akamaized.net", "cloudfront.net", "fastly.net",
			"jwplatform.com", "jwpcdn.com", "brightcove.net", "vimeocdn.com",
			"googlevideo.com", "mux.com", "bitmovin.com", "llnwd.net",
		},
		GoodDomainBonus: 25,

		AdDomains: []string{
			"doubleclick.net", "googlesyndication.com", "googleadservices.com",
			"adservice.google.com", "imasdk.googleapis.com", "adnxs.com",
			"amazon-adsystem.com", "taboola.com", "outbrain.com", "criteo.com",
			"popads.net", "propellerads.com", "exoclick.com", "adsterra.com",
			"moatads.com", "scorecardresearch.com", "google-analytics.com",
			"spotxchange.com", "springserve.com", "innovid.com",
		},
		AdPatterns: []string{"/ads/", "/adserver", "/vast", "/vpaid", "preroll", "midroll", "/banner"},
		AdPenalty:  1000,

		Floor: -50,

		RecentWindow:   2 * time.Minute,
		RecentBonus:    5,
		ShortURLLength: 200,
		ShortURLBonus:  5,
	}
}

func (t Tables) clone() Tables {
	c := t
	c.PlayerPatterns = slices.Clone(t.PlayerPatterns)
	c.SourceBonus = maps.Clone(t.SourceBonus)
	c.MasterHints = slices.Clone(t.MasterHints)
	c.DirectExtensions = slices.Clone(t.DirectExtensions)
	c.SegmentExtensions = slices.Clone(t.SegmentExtensions)
	c.GoodDomains = slices.Clone(t.GoodDomains)
	c.AdDomains = slices.Clone(t.AdDomains)
	c.AdPatterns = slices.Clone(t.AdPatterns)
	return c
}
