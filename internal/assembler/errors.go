package assembler

import (
	"errors"
	"fmt"
	"os/exec"
)

// AssemblyError reports that neither the stream-copy nor the re-encode run
// produced an output file.
type AssemblyError struct {
	// ExitCode of the last muxer run, or -1 when it did not exit normally.
	ExitCode   int
	Diagnostic string
	Err        error
}

func (e *AssemblyError) Error() string {
	msg := fmt.Sprintf("assembly failed (exit %d)", e.ExitCode)
	if e.Diagnostic != "" {
		msg += ": " + e.Diagnostic
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AssemblyError) Unwrap() error { return e.Err }

// ErrNoSegments is returned when Assemble is called without files.
var ErrNoSegments = errors.New("no segments to assemble")

var errDiagnostic = errors.New("muxer reported an error")

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
