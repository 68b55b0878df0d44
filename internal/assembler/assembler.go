// Package assembler concatenates downloaded segments into one container file
// with an external muxer.
package assembler

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"stream-acquirer/internal/segments"
)

// ListFileName is the concat list written next to the segments.
const ListFileName = "concat.txt"

var formats = map[string]string{
	".mp4": "mp4",
	".m4v": "mp4",
	".mkv": "matroska",
	".ts":  "mpegts",
	".mov": "mov",
}

// Assembler runs the muxer over a segment list.
type Assembler struct {
	muxer Muxer
	log   *slog.Logger
}

// New returns an Assembler. A nil muxer means ExecMuxer with ffmpeg on PATH.
func New(m Muxer, log *slog.Logger) *Assembler {
	if m == nil {
		m = ExecMuxer{}
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Assembler{muxer: m, log: log}
}

// Assemble concatenates files in Index order into outputPath. The stream is
// copied first; when that fails it is re-encoded. outputPath is either
// replaced by a complete file or left untouched.
func (a *Assembler) Assemble(ctx context.Context, files []segments.File, outputPath string) error {
	if len(files) == 0 {
		return ErrNoSegments
	}
	ordered := slices.Clone(files)
	slices.SortStableFunc(ordered, func(x, y segments.File) int { return cmp.Compare(x.Index, y.Index) })

	workDir := filepath.Dir(ordered[0].Path)
	list := filepath.Join(workDir, ListFileName)
	if err := writeList(list, ordered); err != nil {
		return &AssemblyError{ExitCode: -1, Err: fmt.Errorf("write concat list: %w", err)}
	}

	if dir := filepath.Dir(outputPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &AssemblyError{ExitCode: -1, Err: fmt.Errorf("create output dir: %w", err)}
		}
	}
	tmp := filepath.Join(filepath.Dir(outputPath), "."+filepath.Base(outputPath)+".part")
	defer os.Remove(tmp)

	format := formatFor(outputPath)
	var last *AssemblyError
	for _, codec := range [][]string{copyCodecs, encodeCodecs} {
		args := buildArgs(list, tmp, format, codec)
		a.log.Debug("running muxer", slog.String("args", strings.Join(args, " ")))
		diag, err := a.muxer.Run(ctx, args)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			if line, bad := errorLine(diag); bad {
				err = fmt.Errorf("%w: %s", errDiagnostic, line)
			}
		}
		if err == nil {
			if err := os.Rename(tmp, outputPath); err != nil {
				return &AssemblyError{ExitCode: 0, Err: fmt.Errorf("move output into place: %w", err)}
			}
			a.log.Info("assembly finished",
				slog.String("output", outputPath),
				slog.Int("segments", len(ordered)),
				slog.String("codec", codec[1]))
			return nil
		}

		last = &AssemblyError{ExitCode: exitCode(err), Err: err}
		if diag != "" {
			last.Diagnostic = lastLine(diag)
		}
		a.log.Warn("muxer run failed",
			slog.String("codec", codec[1]),
			slog.Int("exit_code", last.ExitCode),
			slog.String("diagnostic", last.Diagnostic))
		os.Remove(tmp)
	}
	return last
}

var (
	copyCodecs   = []string{"-c:v", "copy", "-c:a", "copy"}
	encodeCodecs = []string{"-c:v", "libx264", "-preset", "veryfast", "-c:a", "aac"}
)

func buildArgs(list, output, format string, codecs []string) []string {
	args := []string{
		"-hide_banner", "-nostdin", "-loglevel", "error", "-y",
		"-f", "concat", "-safe", "0", "-i", list,
	}
	args = append(args, codecs...)
	return append(args, "-f", format, output)
}

func formatFor(outputPath string) string {
	if f, ok := formats[strings.ToLower(filepath.Ext(outputPath))]; ok {
		return f
	}
	return "mp4"
}

func writeList(path string, files []segments.File) error {
	var b strings.Builder
	for _, f := range files {
		abs, err := filepath.Abs(f.Path)
		if err != nil {
			return err
		}
		fmt.Fprintf(&b, "file '%s'\n", quote(abs))
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// quote escapes single quotes for the concat demuxer.
func quote(p string) string {
	return strings.ReplaceAll(p, "'", `'\''`)
}

// IsAssemblyError reports whether err came from the muxer stage.
func IsAssemblyError(err error) bool {
	var ae *AssemblyError
	return errors.As(err, &ae) || errors.Is(err, ErrNoSegments)
}
