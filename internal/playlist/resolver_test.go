package playlist

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stream-acquirer/internal/fetch"
)

func newResolverServer(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestResolver(srv *httptest.Server, quality string) *Resolver {
	return NewResolver(fetch.NewHTTPFetcherWithClient(srv.Client(), fetch.Options{}), ResolverOptions{Quality: quality})
}

func TestResolver_MasterToMediaRebasesURLs(t *testing.T) {
	srv := newResolverServer(t, map[string]string{
		"/show/master.m3u8":     masterText,
		"/show/1080/index.m3u8": mediaText(3),
		"/show/720/index.m3u8":  mediaText(2),
		"/show/480/index.m3u8":  mediaText(1),
	})

	pl, err := newTestResolver(srv, "").Resolve(context.Background(), srv.URL+"/show/master.m3u8?token=abc", nil)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/show/1080/index.m3u8", pl.URL)
	require.Len(t, pl.Segments, 3)

	segURL, err := ResolveReference(pl.URL, pl.Segments[0].URI)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/show/1080/seg000.ts", segURL)
}

func TestResolver_QualityPreference(t *testing.T) {
	srv := newResolverServer(t, map[string]string{
		"/show/master.m3u8":     masterText,
		"/show/1080/index.m3u8": mediaText(3),
		"/show/720/index.m3u8":  mediaText(2),
		"/show/480/index.m3u8":  mediaText(1),
	})

	pl, err := newTestResolver(srv, QualityWorst).Resolve(context.Background(), srv.URL+"/show/master.m3u8", nil)
	require.NoError(t, err)
	assert.Len(t, pl.Segments, 1)

	pl, err = newTestResolver(srv, "720p").Resolve(context.Background(), srv.URL+"/show/master.m3u8", nil)
	require.NoError(t, err)
	assert.Len(t, pl.Segments, 2)
}

func TestResolver_NestedMasters(t *testing.T) {
	srv := newResolverServer(t, map[string]string{
		"/loop/master.m3u8":        "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1\nmaster.m3u8\n",
		"/single/master.m3u8":      "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1\nmedia/index.m3u8\n",
		"/single/media/index.m3u8": mediaText(4),
	})

	t.Run("one_level", func(t *testing.T) {
		pl, err := newTestResolver(srv, "").Resolve(context.Background(), srv.URL+"/single/master.m3u8", nil)
		require.NoError(t, err)
		assert.Len(t, pl.Segments, 4)
	})

	t.Run("depth_capped", func(t *testing.T) {
		_, err := newTestResolver(srv, "").Resolve(context.Background(), srv.URL+"/loop/master.m3u8", nil)
		var pe *ParseError
		require.True(t, errors.As(err, &pe), "got %v", err)
		assert.Contains(t, pe.Reason, "nesting")
	})
}

func TestResolver_FetchErrors(t *testing.T) {
	srv := newResolverServer(t, map[string]string{
		"/empty.m3u8":  "  \n",
		"/broken.m3u8": "<html>captcha</html>",
		"/dangle.m3u8": "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1\nmissing.m3u8\n",
	})
	r := newTestResolver(srv, "")

	t.Run("not_found", func(t *testing.T) {
		_, err := r.Resolve(context.Background(), srv.URL+"/nope.m3u8", nil)
		var fe *FetchError
		require.True(t, errors.As(err, &fe), "got %v", err)
		var se *fetch.StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusNotFound, se.StatusCode)
	})

	t.Run("empty_body", func(t *testing.T) {
		_, err := r.Resolve(context.Background(), srv.URL+"/empty.m3u8", nil)
		assert.ErrorIs(t, err, ErrEmptyManifest)
	})

	t.Run("unparsable", func(t *testing.T) {
		_, err := r.Resolve(context.Background(), srv.URL+"/broken.m3u8", nil)
		var pe *ParseError
		assert.True(t, errors.As(err, &pe), "got %v", err)
	})

	t.Run("variant_not_found", func(t *testing.T) {
		_, err := r.Resolve(context.Background(), srv.URL+"/dangle.m3u8", nil)
		var fe *FetchError
		require.True(t, errors.As(err, &fe), "got %v", err)
		assert.Equal(t, srv.URL+"/missing.m3u8", fe.URL)
	})
}

func TestResolveReference(t *testing.T) {
	tests := []struct {
		base, ref, want string
	}{
		{"https://cdn.example.com/a/b/master.m3u8?x=1", "720/index.m3u8", "https://cdn.example.com/a/b/720/index.m3u8"},
		{"https://cdn.example.com/a/b/master.m3u8", "/root.m3u8", "https://cdn.example.com/root.m3u8"},
		{"https://cdn.example.com/a/b/master.m3u8", "../c/seg.ts", "https://cdn.example.com/a/c/seg.ts"},
		{"https://cdn.example.com/a/master.m3u8", "https://other.example.com/s.ts", "https://other.example.com/s.ts"},
		{"https://cdn.example.com/a/master.m3u8", "//edge.example.com/s.ts", "https://edge.example.com/s.ts"},
	}
	for _, tt := range tests {
		got, err := ResolveReference(tt.base, tt.ref)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
