package testutil

import (
	"encoding/json"
	"fmt"
	"os"
	"syscall"
	"testing"
	"time"
)

const (
	HelperModeEnv   = "QUERYBRIDGE_HELPER_MODE"
	HelperStdoutEnv = "QUERYBRIDGE_HELPER_STDOUT"
	HelperStderrEnv = "QUERYBRIDGE_HELPER_STDERR"
	HelperCountEnv  = "QUERYBRIDGE_HELPER_COUNT_FILE"
)

// Helper modes.
const (
	// ModeArgs prints the received arguments as a JSON array and exits 0.
	ModeArgs = "args"
	// ModeStdout prints HelperStdoutEnv verbatim and exits 0.
	ModeStdout = "stdout"
	// ModeFail prints HelperStderrEnv verbatim to stderr and exits 1.
	ModeFail = "fail"
	// ModeCount appends one line to HelperCountEnv, then behaves like ModeArgs.
	ModeCount = "count"
	// ModeSleep sleeps for the duration given as the first argument and exits 0.
	ModeSleep = "sleep"
	// ModeKill sends SIGKILL to itself without writing anything.
	ModeKill = "kill"
)

// RunHelperIfRequested turns the current process into a fake example program when
// HelperModeEnv is set. It never returns in that case.
func RunHelperIfRequested() {
	mode := os.Getenv(HelperModeEnv)
	if mode == "" {
		return
	}
	args := os.Args[1:]
	switch mode {
	case ModeCount:
		f, err := os.OpenFile(os.Getenv(HelperCountEnv), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprint(os.Stderr, err)
			os.Exit(2)
		}
		fmt.Fprintln(f, len(args))
		f.Close()
		fallthrough
	case ModeArgs:
		if err := json.NewEncoder(os.Stdout).Encode(args); err != nil {
			os.Exit(2)
		}
		os.Exit(0)
	case ModeStdout:
		fmt.Fprint(os.Stdout, os.Getenv(HelperStdoutEnv))
		os.Exit(0)
	case ModeFail:
		fmt.Fprint(os.Stderr, os.Getenv(HelperStderrEnv))
		os.Exit(1)
	case ModeSleep:
		d, err := time.ParseDuration(args[0])
		if err != nil {
			fmt.Fprint(os.Stderr, err)
			os.Exit(2)
		}
		time.Sleep(d)
		os.Exit(0)
	case ModeKill:
		syscall.Kill(os.Getpid(), syscall.SIGKILL)
		time.Sleep(time.Minute)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "unknown helper mode %q", mode)
		os.Exit(2)
	}
}

// HelperProgram configures the environment so that spawning the returned path runs this
// test binary in the given mode. Children inherit the environment set here.
func HelperProgram(t testing.TB, mode string) string {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("locating test binary: %v", err)
	}
	t.Setenv(HelperModeEnv, mode)
	return exe
}
