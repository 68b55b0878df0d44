package acquire

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"stream-acquirer/internal/candidate"
	"stream-acquirer/internal/playlist"
	"stream-acquirer/internal/segments"
)

// DownloadJob is one attempt at downloading a candidate. Its staging
// directory belongs to it alone.
type DownloadJob struct {
	ID           uuid.UUID
	Candidate    candidate.VideoCandidate
	Transport    string
	Playlist     *playlist.Playlist
	Tasks        []segments.Task
	SuccessCount int
	TotalCount   int
	StagingDir   string
}

func newJob(c candidate.VideoCandidate, transport, stagingRoot string) (*DownloadJob, error) {
	if stagingRoot != "" {
		if err := os.MkdirAll(stagingRoot, 0o755); err != nil {
			return nil, fmt.Errorf("create staging root: %w", err)
		}
	}
	dir, err := os.MkdirTemp(stagingRoot, "acquire-*")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &DownloadJob{
		ID:         uuid.New(),
		Candidate:  c,
		Transport:  transport,
		StagingDir: dir,
	}, nil
}

func (j *DownloadJob) cleanup() error {
	return os.RemoveAll(j.StagingDir)
}

// directPlaylist wraps a single media file as a one-segment playlist.
func directPlaylist(rawURL string) *playlist.Playlist {
	return &playlist.Playlist{
		URL:      rawURL,
		Segments: []playlist.Segment{{URI: rawURL}},
		Ended:    true,
	}
}

// DefaultOutputName is the file name used when no output path is given.
func DefaultOutputName(segmentCount int) string {
	return fmt.Sprintf("downloaded_video_%d_segments.mp4", segmentCount)
}

func outputPath(opts Options, segmentCount int) string {
	if opts.OutputPath != "" {
		return opts.OutputPath
	}
	dir := opts.OutputDir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, DefaultOutputName(segmentCount))
}
