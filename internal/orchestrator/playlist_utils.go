package orchestrator

import (
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"stream-acquirer/internal/playlist"
)

// BuildMediaPlaylist renders pl as a VOD media playlist whose segment and key
// URIs are absolute, so it can be played from any origin. #EXT-X-ENDLIST is
// always written. A playlist without segments produces a minimal valid
// playlist with media sequence 0.
func BuildMediaPlaylist(pl *playlist.Playlist) (string, error) {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")

	if pl == nil || len(pl.Segments) == 0 {
		b.WriteString("#EXT-X-TARGETDURATION:1\n")
		b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
		b.WriteString("#EXT-X-ENDLIST\n")
		return b.String(), nil
	}

	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", targetDurationFromSegments(pl))
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n\n", pl.Segments[0].Sequence)

	var lastKey *playlist.Key
	for _, seg := range pl.Segments {
		if seg.Key != lastKey {
			line, err := keyLine(pl.URL, seg.Key)
			if err != nil {
				return "", err
			}
			b.WriteString(line)
			lastKey = seg.Key
		}
		uri, err := playlist.ResolveReference(pl.URL, seg.URI)
		if err != nil {
			return "", fmt.Errorf("segment %d: %w", seg.Sequence, err)
		}
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", seg.Duration)
		b.WriteString(uri)
		b.WriteString("\n")
	}

	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String(), nil
}

func keyLine(base string, k *playlist.Key) (string, error) {
	if k == nil {
		return "#EXT-X-KEY:METHOD=NONE\n", nil
	}
	uri, err := playlist.ResolveReference(base, k.URI)
	if err != nil {
		return "", fmt.Errorf("key: %w", err)
	}
	line := fmt.Sprintf("#EXT-X-KEY:METHOD=%s,URI=%q", k.Method, uri)
	if len(k.IV) > 0 {
		line += ",IV=0x" + strings.ToUpper(hex.EncodeToString(k.IV))
	}
	return line + "\n", nil
}

// targetDurationFromSegments returns the HLS #EXT-X-TARGETDURATION value:
// the ceiling of the maximum segment duration, or the declared target when
// that is larger.
func targetDurationFromSegments(pl *playlist.Playlist) int {
	max := 0.0
	for _, seg := range pl.Segments {
		if seg.Duration > max {
			max = seg.Duration
		}
	}
	td := int(math.Ceil(max))
	if pl.TargetDuration > td {
		td = pl.TargetDuration
	}
	if td <= 0 {
		return 1
	}
	return td
}
