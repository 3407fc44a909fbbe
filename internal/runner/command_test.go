package runner_test

import (
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ElianF/AutoCommand/internal/model"
	"github.com/ElianF/AutoCommand/internal/runner"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
}

func TestCommand_Modes(t *testing.T) {
	t.Parallel()
	requireShell(t)

	var testCases = []struct {
		mode   model.Mode
		stdout func(t *testing.T, s string)
		stderr string
	}{
		{model.ModeMerge, func(t *testing.T, s string) {
			require.Contains(t, s, "A")
			require.Contains(t, s, "B")
		}, ""},
		{model.ModeSwap, func(t *testing.T, s string) {
			require.Equal(t, "B", s)
		}, "A"},
		{model.ModeNormal, func(t *testing.T, s string) {
			require.Equal(t, "A", s)
		}, "B"},
	}

	for _, tt := range testCases {
		t.Run(string(tt.mode), func(t *testing.T) {
			t.Parallel()
			cmd := runner.Command{
				Job:     "printf A; printf B >&2",
				Mode:    tt.mode,
				Timeout: 10 * time.Second,
			}
			res := cmd.Run(t.Context())
			require.NoError(t, res.Err)
			require.True(t, res.Terminated())
			tt.stdout(t, string(res.Stdout))
			require.Equal(t, tt.stderr, string(res.Stderr))
			require.Equal(t, 0, res.State.ExitCode())
		})
	}
}

func TestCommand_Args(t *testing.T) {
	t.Parallel()
	cmd := runner.Command{Job: "echo 'a b' | wc -c"}
	require.Equal(t, []string{"/bin/sh", "-c", "echo 'a b' | wc -c"}, cmd.Args())
	cmd.Shell = "/bin/bash"
	require.Equal(t, "/bin/bash", cmd.Args()[0])
}

func TestCommand_ExitCode(t *testing.T) {
	t.Parallel()
	requireShell(t)
	res := runner.Command{Job: "echo out; exit 3", Mode: model.ModeNormal, Timeout: 10 * time.Second}.Run(t.Context())
	require.NoError(t, res.Err)
	require.Equal(t, 3, res.State.ExitCode())
	require.Equal(t, "out\n", string(res.Stdout))
}

func TestCommand_ExitCodeOfShell(t *testing.T) {
	t.Parallel()
	requireShell(t)

	for _, code := range []string{"126", "127"} {
		t.Run(code, func(t *testing.T) {
			t.Parallel()
			res := runner.Command{Job: model.Job("echo done; exit " + code), Mode: model.ModeMerge, Timeout: 10 * time.Second}.Run(t.Context())
			require.NoError(t, res.Err)
			require.True(t, res.Terminated())
			require.Equal(t, code, strconv.Itoa(res.State.ExitCode()))
			require.Equal(t, "done\n", string(res.Stdout))
		})
	}
}

func TestCommand_BackgroundWriter(t *testing.T) {
	t.Parallel()
	requireShell(t)

	t.Run("drained", func(t *testing.T) {
		t.Parallel()
		cmd := runner.Command{
			Job:     "(sleep 1; echo late) & echo early",
			Mode:    model.ModeNormal,
			Timeout: 10 * time.Second,
		}
		res := cmd.Run(t.Context())
		require.NoError(t, res.Err)
		require.True(t, res.Terminated())
		require.Equal(t, "early\nlate\n", string(res.Stdout))
	})

	t.Run("killed at deadline", func(t *testing.T) {
		t.Parallel()
		cmd := runner.Command{
			Job:     "(sleep 30; echo late) & echo early",
			Mode:    model.ModeNormal,
			Timeout: 500 * time.Millisecond,
		}
		start := time.Now()
		res := cmd.Run(t.Context())
		require.Less(t, time.Since(start), 3*time.Second)
		require.ErrorIs(t, res.Err, model.ErrTimeout)
		require.False(t, res.Terminated())
		require.Equal(t, "early\n", string(res.Stdout))
	})
}

func TestCommand_Timeout(t *testing.T) {
	t.Parallel()
	requireShell(t)

	// the background sleep holds the stdout pipe open: unless the whole
	// process group is killed, Run waits for it
	cmd := runner.Command{
		Job:     "sleep 30 & sleep 30",
		Mode:    model.ModeNormal,
		Timeout: 300 * time.Millisecond,
	}
	start := time.Now()
	res := cmd.Run(t.Context())
	require.Less(t, time.Since(start), 3*time.Second)
	require.ErrorIs(t, res.Err, model.ErrTimeout)
	require.False(t, res.Terminated())

	stdout, stderr := res.Slots()
	require.Empty(t, stdout)
	require.True(t, strings.HasPrefix(string(stderr), runner.ErrorTag+" "))
	require.Contains(t, string(stderr), "timed out")
}

func TestCommand_NotFound(t *testing.T) {
	t.Parallel()
	requireShell(t)

	for _, job := range []model.Job{"./does-not-exist ./data/a.lp", "no-such-binary-anywhere --help"} {
		t.Run(string(job), func(t *testing.T) {
			res := runner.Command{Job: job, Mode: model.ModeMerge, Timeout: 10 * time.Second}.Run(t.Context())
			require.ErrorIs(t, res.Err, model.ErrSpawn)
			_, stderr := res.Slots()
			require.Contains(t, string(stderr), runner.ErrorTag)
			require.Contains(t, string(stderr), string(job))
		})
	}

	t.Run("shell missing", func(t *testing.T) {
		res := runner.Command{Job: "true", Shell: "/does/not/exist/sh", Timeout: time.Second}.Run(t.Context())
		require.ErrorIs(t, res.Err, model.ErrSpawn)
		require.Contains(t, res.Err.Error(), "no such file or directory")
		require.Nil(t, res.State)
	})
}

func TestCommand_Canceled(t *testing.T) {
	t.Parallel()
	requireShell(t)
	ctx, cancel := context.WithCancel(t.Context())
	time.AfterFunc(200*time.Millisecond, cancel)
	res := runner.Command{Job: "sleep 30", Mode: model.ModeNormal, Timeout: time.Minute}.Run(ctx)
	require.ErrorIs(t, res.Err, context.Canceled)
}

var stampRx = regexp.MustCompile(`^\d+\.\d{9} (.*)$`)

func TestCommand_StepTime(t *testing.T) {
	t.Parallel()
	requireShell(t)

	var testCases = []struct {
		mode model.Mode
		job  model.Job
	}{
		{model.ModeNormal, `printf 'a\nb\nc'; echo noise >&2`},
		{model.ModeSwap, `printf 'a\nb\nc' >&2; echo noise`},
	}
	for _, tt := range testCases {
		t.Run(string(tt.mode), func(t *testing.T) {
			t.Parallel()
			res := runner.Command{Job: tt.job, Mode: tt.mode, StepTime: true, Timeout: 10 * time.Second}.Run(t.Context())
			require.NoError(t, res.Err)

			lines := strings.Split(strings.TrimSuffix(string(res.Stdout), "\n"), "\n")
			require.Len(t, lines, 3)
			for i, want := range []string{"a", "b", "c"} {
				m := stampRx.FindStringSubmatch(lines[i])
				require.NotNil(t, m, lines[i])
				require.Equal(t, want, m[1])
			}
			require.Equal(t, "noise\n", string(res.Stderr))
		})
	}
}

func TestCommand_TotalTime(t *testing.T) {
	t.Parallel()
	requireShell(t)
	totalRx := regexp.MustCompile(`(\d+\.\d+)user (\d+\.\d+)system (\d+:\d+\.\d+)elapsed (\d+)%CPU`)

	res := runner.Command{Job: "echo hi", Mode: model.ModeNormal, TotalTime: true, Timeout: 10 * time.Second}.Run(t.Context())
	require.NoError(t, res.Err)
	require.Equal(t, "hi\n", string(res.Stdout))
	require.Regexp(t, totalRx, string(res.Stderr))
	require.Contains(t, string(res.Stderr), "pagefaults")
}
