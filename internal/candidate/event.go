package candidate

import (
	"mime"
	"net/http"
	"strings"
	"time"
)

// ObservedEvent is a network request reported by the browser-automation
// collaborator.
type ObservedEvent struct {
	URL          string            `json:"url" yaml:"url"`
	Method       string            `json:"method,omitempty" yaml:"method,omitempty"`
	Headers      map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Status       int               `json:"status,omitempty" yaml:"status,omitempty"`
	Timestamp    time.Time         `json:"timestamp" yaml:"timestamp"`
	ResourceType string            `json:"resource_type,omitempty" yaml:"resource_type,omitempty"`
	// ContentType is the response Content-Type, when the collaborator saw it.
	ContentType  string            `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	Source       string            `json:"source,omitempty" yaml:"source,omitempty"`
}

// FromEvent converts an observed request into a candidate. It reports false
// for requests that are not media: non-GET methods, error responses, and URLs
// that are neither manifests nor media files by extension or content type
// unless the collaborator tagged the resource as media.
func FromEvent(ev ObservedEvent) (VideoCandidate, bool) {
	if ev.URL == "" {
		return VideoCandidate{}, false
	}
	if ev.Method != "" && !strings.EqualFold(ev.Method, http.MethodGet) {
		return VideoCandidate{}, false
	}
	if ev.Status >= http.StatusBadRequest {
		return VideoCandidate{}, false
	}
	if Domain(ev.URL) == "" {
		return VideoCandidate{}, false
	}

	c := New(ev.URL, ev.Headers, ev.Source, ev.Timestamp)
	c.Status = ev.Status
	if k := KindForContentType(ev.ContentType); k == KindManifest || k != KindUnknown && c.Kind == KindUnknown {
		c.Kind = k
	}
	if c.Kind == KindUnknown {
		if !strings.EqualFold(ev.ResourceType, "media") {
			return VideoCandidate{}, false
		}
		c.Kind = KindDirect
	}
	return c, true
}

var manifestTypes = map[string]bool{
	"application/vnd.apple.mpegurl": true,
	"application/x-mpegurl":         true,
	"audio/mpegurl":                 true,
	"audio/x-mpegurl":               true,
}

// KindForContentType classifies a response by its Content-Type. HLS types are
// manifests and other audio or video types are direct media.
func KindForContentType(contentType string) Kind {
	if contentType == "" {
		return KindUnknown
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return KindUnknown
	}
	switch {
	case manifestTypes[mt]:
		return KindManifest
	case strings.HasPrefix(mt, "video/"), strings.HasPrefix(mt, "audio/"):
		return KindDirect
	}
	return KindUnknown
}
