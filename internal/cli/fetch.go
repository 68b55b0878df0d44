package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"stream-acquirer/internal/acquire"
	"stream-acquirer/internal/candidate"
	"stream-acquirer/internal/fetch"
	"stream-acquirer/internal/platform/progress"
	"stream-acquirer/internal/segments"
)

// SourceCLI tags candidates given on the command line.
const SourceCLI = "cli"

var errNoCandidates = errors.New("no candidates: pass URLs or --candidates")

type fetchFlags struct {
	headers    []string
	headerList string
	output     string
	candidates string
	noProgress bool
	noFallback bool
}

func newFetchCmd(a *app) *cobra.Command {
	f := &fetchFlags{}
	cmd := &cobra.Command{
		Use:   "fetch [urls...]",
		Short: "Acquire media from candidate URLs",
		Long: `Rank the given candidate URLs, resolve HLS manifests, download every
segment and assemble the result with ffmpeg. The path of the produced file is
printed on success.

Candidates can also be read from a YAML file of observed events:

  - url: https://cdn.example.com/show/master.m3u8
    headers:
      Referer: https://www.example.com/watch/1
    source: network

Examples:
  acquirer fetch https://cdn.example.com/show/master.m3u8
  acquirer fetch --quality 720p --output show.mp4 https://cdn.example.com/show/master.m3u8
  acquirer fetch --headers "Referer: https://www.example.com/, Origin: https://www.example.com" URL
  acquirer fetch --candidates events.yaml --no-progress`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runFetch(ctx, cmd, a, f, args)
		},
	}

	cmd.Flags().StringArrayVarP(&f.headers, "header", "H", nil, `request header "Name: value" (repeatable)`)
	cmd.Flags().StringVar(&f.headerList, "headers", "", `comma separated headers "Name1: value1, Name2: value2"`)
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "output file (default is downloaded_video_<n>_segments.mp4 in the output dir)")
	cmd.Flags().StringVar(&f.candidates, "candidates", "", "YAML file with observed events to use as candidates")
	cmd.Flags().BoolVar(&f.noProgress, "no-progress", false, "disable progress bars")
	cmd.Flags().BoolVar(&f.noFallback, "no-fallback", false, "do not retry failed candidates over the alternate transport")
	cmd.Flags().String("quality", "best", "variant preference: best, worst or a resolution such as 720p")
	cmd.Flags().Int("concurrency", segments.DefaultConcurrency, "concurrent segment downloads")
	cmd.Flags().String("output-dir", ".", "directory for the output file when --output is not set")
	cmd.Flags().String("staging-dir", "", "directory for segment staging (default is the system temp dir)")
	cmd.Flags().Bool("keep-staging", false, "keep downloaded segments after the run")
	cmd.Flags().String("ffmpeg", "ffmpeg", "ffmpeg binary")
	return cmd
}

func runFetch(ctx context.Context, cmd *cobra.Command, a *app, f *fetchFlags, args []string) error {
	now := time.Now().UTC()
	cands := candidatesFromArgs(args, now)
	if f.candidates != "" {
		loaded, ignored, err := loadCandidates(f.candidates, now)
		if err != nil {
			return err
		}
		if ignored > 0 {
			a.log.Info("ignored non-media events", slog.String("file", f.candidates), slog.Int("count", ignored))
		}
		cands = append(cands, loaded...)
	}
	if len(cands) == 0 {
		return errNoCandidates
	}

	headers, err := requestHeaders(a.settings.Fetch.Headers, f.headerList, f.headers)
	if err != nil {
		return err
	}

	s := *a.settings
	if f.noFallback {
		s.Fetch.Fallback = false
	}
	acq, err := newAcquirer(&s, nil, a.log)
	if err != nil {
		return err
	}

	opts := acquireOptions(&s)
	opts.Headers = headers
	opts.OutputPath = f.output

	var bars *progress.Bars
	if !f.noProgress {
		bars = progress.New(cmd.ErrOrStderr())
		opts.Hooks.OnProgress = bars.Update
	}
	opts.Hooks.OnCandidate = func(ev acquire.CandidateEvent) {
		if ev.Stage == acquire.StageResolving && bars != nil {
			bars.SetName(ev.Candidate.URL)
		}
	}

	out, err := acq.Acquire(ctx, cands, opts)
	if bars != nil {
		bars.Wait()
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

func candidatesFromArgs(urls []string, ts time.Time) []candidate.VideoCandidate {
	out := make([]candidate.VideoCandidate, 0, len(urls))
	for _, u := range urls {
		out = append(out, candidate.New(u, nil, SourceCLI, ts))
	}
	return out
}

// loadCandidates reads a YAML list of observed events and keeps the ones
// that describe media. Events without a timestamp get ts.
func loadCandidates(path string, ts time.Time) (cands []candidate.VideoCandidate, ignored int, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read candidates: %w", err)
	}
	var events []candidate.ObservedEvent
	if err := yaml.Unmarshal(raw, &events); err != nil {
		return nil, 0, fmt.Errorf("parse candidates %s: %w", path, err)
	}

	set := candidate.NewSet()
	for _, ev := range events {
		if ev.Timestamp.IsZero() {
			ev.Timestamp = ts
		}
		c, ok := candidate.FromEvent(ev)
		if !ok {
			ignored++
			continue
		}
		set.Add(c)
	}
	return set.List(), ignored, nil
}

// requestHeaders layers the configured headers, the --headers list and each
// --header flag, later ones winning.
func requestHeaders(base map[string]string, list string, flags []string) (map[string]string, error) {
	single := make(map[string]string, len(flags))
	for _, h := range flags {
		name, value, err := fetch.ParseHeader(h)
		if err != nil {
			return nil, err
		}
		single[name] = value
	}
	return fetch.Merge(canonicalHeaders(base),
		canonicalHeaders(fetch.ParseHeaderList(list)),
		canonicalHeaders(single)), nil
}
