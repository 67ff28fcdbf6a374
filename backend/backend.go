package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"
	"querybridge/logging"
)

var log *logrus.Logger

func init() {
	log = logging.GetLogger()
}

// ErrSpawn wraps failures to start the child process (missing executable, permission denied).
var ErrSpawn = errors.New("failed to start program")

// Result is what a finished child process left behind.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Elapsed  time.Duration
}

// Success reports whether the child exited with status 0.
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// Runner spawns one external program per query.
type Runner struct {
	path    string
	timeout time.Duration
}

// NewRunner creates a Runner for the executable at path. A zero timeout lets the child run
// until it exits on its own.
func NewRunner(path string, timeout time.Duration) *Runner {
	return &Runner{
		path:    path,
		timeout: timeout,
	}
}

// Path returns the executable this runner invokes.
func (r *Runner) Path() string {
	return r.path
}

// Run executes the program with query as its only argument and waits for it to exit.
// Cancelling ctx does not stop the child; only the configured timeout does.
// A non-zero exit is reported through Result, not as an error.
func (r *Runner) Run(ctx context.Context, query string) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.path, query)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if r.timeout > 0 {
		cmd.WaitDelay = time.Second
	}

	log.Debugf("Running %s %q", r.path, query)
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrSpawn, r.path, err)
	}

	err := cmd.Wait()
	res := &Result{
		Stdout:  stdout.Bytes(),
		Stderr:  stderr.Bytes(),
		Elapsed: time.Since(start),
	}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return nil, fmt.Errorf("waiting for %s: %w", r.path, err)
	}
	res.ExitCode = exitErr.ExitCode()
	// Only a timeout kill gets a message; any other signal leaves stderr as the child wrote it.
	if r.timeout > 0 && ctx.Err() != nil && len(res.Stderr) == 0 {
		res.Stderr = []byte(fmt.Sprintf("%s: %v", r.path, ctx.Err()))
	}
	return res, nil
}
