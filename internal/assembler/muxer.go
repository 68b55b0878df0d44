package assembler

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"
)

// Muxer runs the external muxing tool with args and returns everything it
// wrote to its diagnostic stream.
type Muxer interface {
	Run(ctx context.Context, args []string) (diagnostic string, err error)
}

// ExecMuxer runs an ffmpeg-compatible binary as a subprocess.
type ExecMuxer struct {
	// Binary defaults to "ffmpeg" on PATH.
	Binary string
}

// Run implements Muxer.
func (m ExecMuxer) Run(ctx context.Context, args []string) (string, error) {
	bin := m.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", err
	}
	if err := cmd.Start(); err != nil {
		return "", err
	}

	// The pipe must be drained before Wait closes it.
	var buf bytes.Buffer
	collect(&buf, stderr)

	err = cmd.Wait()
	return buf.String(), err
}

// collect copies r line by line, splitting on '\r' as well as '\n' so
// progress lines do not merge.
func collect(w *bytes.Buffer, r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	sc.Split(scanLines)
	for sc.Scan() {
		w.Write(sc.Bytes())
		w.WriteByte('\n')
	}
}

func dropCR(data []byte) []byte {
	if len(data) > 0 && data[len(data)-1] == '\r' {
		return data[:len(data)-1]
	}
	return data
}

func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			return i + 2, data[:i], nil
		}
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), dropCR(data), nil
	}
	return 0, nil, nil
}

// errorLine returns the last diagnostic line that reports an error, if any.
func errorLine(diagnostic string) (string, bool) {
	lines := strings.Split(strings.TrimSpace(diagnostic), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		l := strings.ToLower(lines[i])
		if strings.Contains(l, "error") || strings.Contains(l, "invalid") ||
			strings.Contains(l, "could not") || strings.Contains(l, "no such file") {
			return strings.TrimSpace(lines[i]), true
		}
	}
	return "", false
}

// lastLine returns the final non-empty diagnostic line.
func lastLine(diagnostic string) string {
	lines := strings.Split(strings.TrimSpace(diagnostic), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
