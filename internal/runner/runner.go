package runner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ElianF/AutoCommand/internal/model"
	"github.com/ElianF/AutoCommand/internal/store"
)

// Options apply to every job executed by a Runner.
type Options struct {
	Mode      model.Mode
	Timeout   time.Duration
	StepTime  bool
	TotalTime bool
	Dedup     model.DedupPolicy
	Race      model.RacePolicy
	Shell     string
}

// Runner executes jobs and records them in a Store. A single Runner is shared
// by all workers of a run; the Store is only touched while holding the Lock.
type Runner struct {
	store *store.Store
	lock  *store.Lock
	opts  Options
}

func New(s *store.Store, lock *store.Lock, opts Options) *Runner {
	if opts.Dedup == "" {
		opts.Dedup = model.DedupTerminated
	}
	if opts.Race == "" {
		opts.Race = model.RaceOptimistic
	}
	if opts.Mode == "" {
		opts.Mode = model.ModeMerge
	}
	return &Runner{
		store: s,
		lock:  lock,
		opts:  opts,
	}
}

// Outcome describes what Execute did with a job.
type Outcome struct {
	Job        model.Job
	Index      int // -1 if nothing was recorded
	Skipped    bool
	Terminated bool
	Err        error // model.ErrSpawn or model.ErrTimeout, recorded in the store
	Started    time.Time
	Stopped    time.Time
}

func (r *Runner) Command(job model.Job) Command {
	return Command{
		Job:       job,
		Mode:      r.opts.Mode,
		Timeout:   r.opts.Timeout,
		StepTime:  r.opts.StepTime,
		TotalTime: r.opts.TotalTime,
		Shell:     r.opts.Shell,
	}
}

// Execute runs job unless the store already has it. The lock is held for the
// dedup check and for the append, but not while the job runs.
// Failures of the job itself are recorded and reported in Outcome.Err; the
// returned error is reserved for store failures and cancellation.
func (r *Runner) Execute(ctx context.Context, job model.Job) (Outcome, error) {
	outcome := Outcome{Job: job, Index: -1}

	var skip bool
	err := r.lock.Do(func() error {
		var err error
		skip, err = r.store.Contains(job, r.opts.Dedup)
		if err != nil || skip {
			return err
		}
		if r.opts.Race == model.RaceStrict {
			skip = !r.store.Claim(job)
		}
		return nil
	})
	if err != nil {
		return outcome, err
	}
	if skip {
		slog.DebugContext(ctx, "job already recorded: skipping", "job", job)
		outcome.Skipped = true
		return outcome, nil
	}

	slog.InfoContext(ctx, "job started", "job", job)
	res := r.Command(job).Run(ctx)
	outcome.Started, outcome.Stopped = res.Started, res.Stopped

	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(res.Err, ctxErr) {
		r.release(job)
		slog.WarnContext(ctx, "job interrupted: not recorded", "job", job)
		return outcome, ctxErr
	}

	stdout, stderr := res.Slots()
	record := model.Record{Job: job, Terminated: res.Terminated()}
	err = r.lock.Do(func() error {
		if r.opts.Race == model.RaceStrict {
			defer r.store.Release(job)
		}
		var err error
		outcome.Index, err = r.store.Append(record, stdout, stderr, r.opts.Dedup)
		return err
	})
	switch {
	case errors.Is(err, model.ErrDuplicate):
		slog.WarnContext(ctx, "job recorded meanwhile by another worker: result dropped", "job", job)
		outcome.Skipped = true
		return outcome, nil
	case err != nil:
		return outcome, err
	}

	outcome.Terminated = record.Terminated
	outcome.Err = res.Err
	attrs := []any{
		"job", job,
		"index", outcome.Index,
		"terminated", outcome.Terminated,
		"duration", res.Stopped.Sub(res.Started),
	}
	if res.Err != nil {
		slog.ErrorContext(ctx, "job failed", append(attrs, "error", res.Err)...)
	} else {
		slog.InfoContext(ctx, "job finished", append(attrs, "exit_code", res.State.ExitCode())...)
	}
	return outcome, nil
}

func (r *Runner) release(job model.Job) {
	if r.opts.Race != model.RaceStrict {
		return
	}
	err := r.lock.Do(func() error {
		r.store.Release(job)
		return nil
	})
	if err != nil {
		slog.Error("releasing job claim", "job", job, "error", err)
	}
}
