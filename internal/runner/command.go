package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ElianF/AutoCommand/internal/model"
)

const (
	// ErrorTag starts the stderr slot of a job which failed to spawn or timed out.
	ErrorTag = "[AUTOCOMMAND_ERROR]"

	defaultShell = "/bin/sh"
	// waitDelay bounds how long output pipes are drained after the deadline.
	waitDelay = 5 * time.Second
)

// Command is a job together with the way it is executed. The job is passed
// verbatim to the shell; capture mode and timing are applied by wiring the
// process streams, not by rewriting the command line.
type Command struct {
	Job       model.Job
	Mode      model.Mode
	Timeout   time.Duration // 0 => no timeout
	StepTime  bool          // timestamp every line of the stdout slot
	TotalTime bool          // append a resource usage report to the stderr slot
	Shell     string        // defaults to /bin/sh
}

// Result is the outcome of a single Command.Run.
type Result struct {
	Job     model.Job
	Started time.Time
	Stopped time.Time
	State   *os.ProcessState
	Stdout  []byte // stdout slot
	Stderr  []byte // stderr slot
	// Err is nil if the process ran and returned, regardless of the exit code.
	// Otherwise it wraps model.ErrSpawn, model.ErrTimeout or the context error
	// when the run was canceled.
	Err error
}

// Terminated reports whether the job should be recorded as terminated.
func (r Result) Terminated() bool {
	return r.Err == nil
}

// Slots returns the bytes to persist. A failed job gets an empty stdout slot
// and an error message in the stderr slot.
func (r Result) Slots() (stdout, stderr []byte) {
	if r.Err == nil {
		return r.Stdout, r.Stderr
	}
	return []byte{}, []byte(ErrorTag + " " + r.Err.Error())
}

func (c Command) Args() []string {
	shell := c.Shell
	if shell == "" {
		shell = defaultShell
	}
	return []string{shell, "-c", string(c.Job)}
}

// Run executes the command and waits for it. The process gets its own process
// group, which is killed as a whole on timeout or when ctx is canceled.
func (c Command) Run(ctx context.Context) Result {
	res := Result{Job: c.Job}

	runCtx := ctx
	if c.Timeout == 0 {
		slog.WarnContext(ctx, "command has no timeout", "job", c.Job)
	} else {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	args := c.Args()
	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Background children of the shell inherit its process group and may hold
	// the output pipes after the shell exited. They are drained until the
	// deadline, then the whole group is killed.
	var killed atomic.Bool
	kill := func() error {
		killed.Store(true)
		err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return err
	}
	cmd.Cancel = kill
	if c.Timeout > 0 {
		cmd.WaitDelay = c.Timeout + waitDelay
	}

	var stdout, stderr bytes.Buffer
	var primary io.Writer = &stdout
	var stamper *lineStamper
	if c.StepTime {
		stamper = newLineStamper(&stdout, time.Now)
		primary = stamper
	}
	switch c.Mode {
	case model.ModeMerge:
		cmd.Stdout = primary
		cmd.Stderr = primary
	case model.ModeSwap:
		cmd.Stdout = &stderr
		cmd.Stderr = primary
	default:
		cmd.Stdout = primary
		cmd.Stderr = &stderr
	}

	res.Started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		res.Stopped = time.Now().UTC()
		res.Err = fmt.Errorf("%w: %w", model.ErrSpawn, err)
		return res
	}
	stop := context.AfterFunc(runCtx, func() {
		_ = kill()
	})
	waitErr := cmd.Wait()
	stop()
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		_ = kill()
	}
	res.Stopped = time.Now().UTC()
	res.State = cmd.ProcessState
	if stamper != nil {
		_ = stamper.Close()
	}
	res.Stdout = stdout.Bytes()
	res.Stderr = stderr.Bytes()

	switch {
	case killed.Load() && ctx.Err() != nil:
		res.Err = ctx.Err()
	case killed.Load():
		res.Err = fmt.Errorf("%w: command %q timed out after %s", model.ErrTimeout, c.Job, c.Timeout)
	case notFound(res.State, res.Stdout, res.Stderr):
		msg := bytes.TrimSpace(res.Stderr)
		if len(msg) == 0 {
			msg = bytes.TrimSpace(res.Stdout)
		}
		res.Err = fmt.Errorf("%w: command %q exited with %d: %s",
			model.ErrSpawn, c.Job, res.State.ExitCode(), msg)
	case waitErr != nil && !isExit(waitErr):
		slog.WarnContext(ctx, "waiting for command", "job", c.Job, "error", waitErr)
	}

	if c.TotalTime && res.Err == nil && res.State != nil {
		res.Stderr = append(res.Stderr, timeReport(res.State, res.Stopped.Sub(res.Started))...)
	}
	return res
}

// shellDiagnostics are the messages of sh when it cannot find or execute a
// command, e.g. "sh: 1: foo: not found" or "sh: ./a.lp: Permission denied".
var shellDiagnostics = [][]byte{
	[]byte("not found"),
	[]byte("No such file or directory"),
	[]byte("Permission denied"),
	[]byte("cannot execute"),
}

// notFound reports the shell exit codes for a command which could not be
// found (127) or executed (126). The exit code alone is not enough, the
// command itself may return it, so the shell diagnostic must be present too.
func notFound(state *os.ProcessState, outputs ...[]byte) bool {
	if state == nil {
		return false
	}
	if code := state.ExitCode(); code != 126 && code != 127 {
		return false
	}
	for _, out := range outputs {
		for _, diag := range shellDiagnostics {
			if bytes.Contains(out, diag) {
				return true
			}
		}
	}
	return false
}

func isExit(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}
