package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrToolFailure marks a non-zero exit or unexpected termination of an
	// external tool. Partial output never turns a non-zero exit into success.
	ErrToolFailure = errors.New("external tool failure")

	// ErrTimeout marks an operation that exceeded its configured timeout.
	ErrTimeout = errors.New("operation timed out")
)

// stderrExcerptLimit bounds how much tool stderr is preserved in a record's
// error detail.
const stderrExcerptLimit = 2048

// Request is what the coordinator hands an external tool collaborator.
type Request struct {
	Database string
	// Target is where the artifact should be produced.
	Target string
	// Tables restricts the dump to the named tables (partial backups).
	Tables []string
	// Args are passed through to the tool verbatim.
	Args []string
}

// Result is what a collaborator reports back. A non-zero ExitCode is always
// a failure.
type Result struct {
	ExitCode      int
	BytesWritten  int64
	RowsProcessed int64
	Elapsed       time.Duration
	ArtifactPath  string
	StderrExcerpt string
}

// Runner is an external backup tool collaborator. Implementations produce
// the artifact bytes; all catalog bookkeeping stays with the caller.
type Runner interface {
	Name() string
	Run(ctx context.Context, req Request) (Result, error)
}

// execTool runs one external command, capturing exit code, elapsed time and
// a bounded stderr excerpt. A command that could not even start reports exit
// code -1.
func execTool(ctx context.Context, name string, args, env []string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Elapsed:       time.Since(start),
		StderrExcerpt: excerpt(stderr.Bytes()),
	}

	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	} else {
		res.ExitCode = -1
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Exit status is in the result; the caller treats it as failure.
			return res, nil
		}
		return res, fmt.Errorf("%w: start %s: %v", ErrToolFailure, name, err)
	}
	return res, nil
}

// excerpt keeps the tail of stderr, where native dump tools put the actual
// error.
func excerpt(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > stderrExcerptLimit {
		s = "..." + s[len(s)-stderrExcerptLimit:]
	}
	return s
}

// artifactSize measures a produced artifact, following directories for
// directory-format dumps.
func artifactSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	return total, err
}
