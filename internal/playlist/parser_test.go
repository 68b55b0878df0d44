package playlist

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const masterText = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=854x480,CODECS="avc1.4d401e,mp4a.40.2"
480/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080,CODECS="avc1.640028,mp4a.40.2"
1080/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2500000,RESOLUTION=1280x720
720/index.m3u8
`

func mediaText(n int) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-TARGETDURATION:10\n#EXT-X-MEDIA-SEQUENCE:100\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "#EXTINF:9.5,\nseg%03d.ts\n", i)
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

func TestParse_Master(t *testing.T) {
	pl, err := Parse(masterText, "https://cdn.example.com/v/master.m3u8")
	require.NoError(t, err)
	require.True(t, pl.IsMaster())
	assert.Empty(t, pl.Segments)

	want := []Variant{
		{URI: "480/index.m3u8", Bandwidth: 800000, Width: 854, Height: 480, Codecs: "avc1.4d401e,mp4a.40.2"},
		{URI: "1080/index.m3u8", Bandwidth: 5000000, Width: 1920, Height: 1080, Codecs: "avc1.640028,mp4a.40.2"},
		{URI: "720/index.m3u8", Bandwidth: 2500000, Width: 1280, Height: 720},
	}
	if diff := cmp.Diff(want, pl.Variants); diff != "" {
		t.Errorf("variants mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_MediaSegmentsInOrder(t *testing.T) {
	const n = 25
	pl, err := Parse(mediaText(n), "https://cdn.example.com/v/720/index.m3u8")
	require.NoError(t, err)
	require.Len(t, pl.Segments, n)

	for i, s := range pl.Segments {
		assert.Equal(t, fmt.Sprintf("seg%03d.ts", i), s.URI)
		assert.Equal(t, 100+i, s.Sequence)
		assert.InDelta(t, 9.5, s.Duration, 1e-9)
	}
	assert.True(t, pl.Ended)
	assert.Equal(t, 10, pl.TargetDuration)
	assert.InDelta(t, 9.5*n, pl.TotalDuration(), 1e-9)
}

func TestParse_Idempotent(t *testing.T) {
	text := mediaText(7)
	a, err := Parse(text, "https://cdn.example.com/a.m3u8")
	require.NoError(t, err)
	b, err := Parse(text, "https://cdn.example.com/a.m3u8")
	require.NoError(t, err)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("second parse differs (-first +second):\n%s", diff)
	}
}

func TestParse_StreamInfAnywhereMakesMaster(t *testing.T) {
	text := "#EXTM3U\n#EXTINF:4,\nseg.ts\n#EXT-X-STREAM-INF:BANDWIDTH=1\nlow.m3u8\n"
	pl, err := Parse(text, "")
	require.NoError(t, err)
	assert.True(t, pl.IsMaster())
	assert.Nil(t, pl.Segments)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"html_page", "<html><body>blocked</body></html>"},
		{"header_only", "#EXTM3U\n#EXT-X-VERSION:3\n"},
		{"extinf_without_uri", "#EXTM3U\n#EXTINF:4,\n#EXT-X-ENDLIST\n"},
		{"stream_inf_without_uri", "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1\n"},
		{"sample_aes", "#EXTM3U\n#EXT-X-KEY:METHOD=SAMPLE-AES,URI=\"k\"\n#EXTINF:4,\na.ts\n"},
		{"bad_iv", "#EXTM3U\n#EXT-X-KEY:METHOD=AES-128,URI=\"k\",IV=0x12\n#EXTINF:4,\na.ts\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text, "https://cdn.example.com/x.m3u8")
			var pe *ParseError
			require.True(t, errors.As(err, &pe), "got %v", err)
			assert.Equal(t, "https://cdn.example.com/x.m3u8", pe.URL)
		})
	}
}

func TestParse_Keys(t *testing.T) {
	text := `#EXTM3U
#EXT-X-MEDIA-SEQUENCE:7
#EXTINF:4,
clear.ts
#EXT-X-KEY:METHOD=AES-128,URI="https://keys.example.com/k1",IV=0x000102030405060708090A0B0C0D0E0F
#EXTINF:4,
enc1.ts
#EXT-X-KEY:METHOD=AES-128,URI="k2"
#EXTINF:4,
enc2.ts
#EXT-X-KEY:METHOD=NONE
#EXTINF:4,
clear2.ts
`
	pl, err := Parse(text, "https://cdn.example.com/v.m3u8")
	require.NoError(t, err)
	require.Len(t, pl.Segments, 4)

	assert.Nil(t, pl.Segments[0].Key)
	require.True(t, pl.Segments[1].Key.IsAES128())
	assert.Equal(t, "https://keys.example.com/k1", pl.Segments[1].Key.URI)
	assert.Len(t, pl.Segments[1].Key.IV, 16)
	assert.Equal(t, byte(0x0f), pl.Segments[1].Key.IV[15])
	assert.Equal(t, "k2", pl.Segments[2].Key.URI)
	assert.Nil(t, pl.Segments[2].Key.IV)
	assert.Nil(t, pl.Segments[3].Key)
	assert.Equal(t, 9, pl.Segments[2].Sequence)
}

func TestParse_CRLFAndBOM(t *testing.T) {
	text := "\ufeff#EXTM3U\r\n#EXTINF:2.0,title\r\na.ts\r\n#EXTINF:bogus\r\nb.ts\r\n"
	pl, err := Parse(text, "")
	require.NoError(t, err)
	require.Len(t, pl.Segments, 2)
	assert.Equal(t, "a.ts", pl.Segments[0].URI)
	assert.Equal(t, 0.0, pl.Segments[1].Duration)
}

func TestParseAttributes(t *testing.T) {
	got := parseAttributes(`BANDWIDTH=1280000,CODECS="avc1.4d401f,mp4a.40.2",resolution=1280x720,NAME="a=b"`)
	want := map[string]string{
		"BANDWIDTH":  "1280000",
		"CODECS":     "avc1.4d401f,mp4a.40.2",
		"RESOLUTION": "1280x720",
		"NAME":       "a=b",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("attributes mismatch (-want +got):\n%s", diff)
	}
}

func TestParseResolution(t *testing.T) {
	w, h := parseResolution("1920x1080")
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)

	for _, bad := range []string{"", "1080p", "x720", "0x0", "axb"} {
		w, h := parseResolution(bad)
		assert.Zero(t, w, bad)
		assert.Zero(t, h, bad)
	}
}
