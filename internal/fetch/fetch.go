// Package fetch provides the interchangeable transports used to retrieve
// manifests and media segments.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Fetcher retrieves text and binary resources. Implementations must honor
// ctx cancellation and return *StatusError for non-2xx responses.
type Fetcher interface {
	FetchText(ctx context.Context, rawURL string, headers map[string]string) (string, error)
	FetchBinary(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error)
}

// Destination is a resumable download target such as *os.File.
type Destination interface {
	io.Writer
	io.Seeker
	Truncate(size int64) error
}

// Streamer is implemented by fetchers that can write a response straight to
// disk instead of buffering it. FetchTo appends to what dst already holds
// when the server supports ranges and returns the final size of dst.
type Streamer interface {
	FetchTo(ctx context.Context, rawURL string, headers map[string]string, dst Destination) (int64, error)
}

// ErrBodyTooLarge is returned when a buffered response exceeds MaxBodyBytes.
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

// Named is implemented by fetchers that can describe themselves in logs.
type Named interface {
	Name() string
}

// NameOf returns f's name, or its type when it does not implement Named.
func NameOf(f Fetcher) string {
	if n, ok := f.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", f)
}

// StatusError reports a response with a non-success status code.
type StatusError struct {
	URL        string
	StatusCode int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: status=%d", e.URL, e.StatusCode)
}

// Permanent reports whether err will not go away on retry: client errors
// other than 408 and 429, oversized bodies and malformed URLs.
func Permanent(err error) bool {
	if errors.Is(err, ErrBodyTooLarge) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusRequestTimeout, http.StatusTooManyRequests:
			return false
		}
		return se.StatusCode >= 400 && se.StatusCode < 500
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Op == "parse" {
		return true
	}
	return false
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

func parseRetryAfter(raw string) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(raw); err == nil {
		d := time.Until(when)
		if d < 0 {
			return 0
		}
		return d
	}
	return 0
}
