package segments

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"stream-acquirer/internal/playlist"
)

// State is the lifecycle state of a segment task.
type State int

const (
	StatePending State = iota
	StateDownloading
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateDownloading:
		return "downloading"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Task tracks the download of one segment. Index is the segment's position in
// the playlist and the only ordering key used for assembly.
type Task struct {
	Index    int
	Segment  playlist.Segment
	URL      string
	Path     string
	Attempts int
	Bytes    int64
	State    State
	Err      error
}

// File is a segment written to the staging directory.
type File struct {
	Index int
	Path  string
}

var mediaExtensions = map[string]bool{
	".ts": true, ".m4s": true, ".mp4": true, ".m4v": true, ".aac": true,
	".m4a": true, ".webm": true, ".mkv": true, ".mov": true, ".flv": true,
}

// fileName returns the zero-padded staging name for a segment so that the
// lexical order of names matches index order.
func fileName(index, total int, segmentURL string) string {
	width := max(5, len(strconv.Itoa(max(total-1, 0))))
	ext := ".ts"
	if i := strings.IndexAny(segmentURL, "?#"); i >= 0 {
		segmentURL = segmentURL[:i]
	}
	if e := strings.ToLower(path.Ext(segmentURL)); mediaExtensions[e] {
		ext = e
	}
	return fmt.Sprintf("segment_%0*d%s", width, index, ext)
}
