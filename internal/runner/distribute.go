package runner

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/ElianF/AutoCommand/internal/model"
	"github.com/ElianF/AutoCommand/internal/parallel"
)

// Summary counts what happened to the jobs of one run.
type Summary struct {
	Executed int // recorded as terminated
	Failed   int // recorded as not terminated
	Skipped  int // already in the store
}

func (s *Summary) add(o Outcome) {
	switch {
	case o.Skipped:
		s.Skipped++
	case o.Terminated:
		s.Executed++
	default:
		s.Failed++
	}
}

func (s Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("executed", s.Executed),
		slog.Int("failed", s.Failed),
		slog.Int("skipped", s.Skipped),
	)
}

// Sequential executes jobs one after the other in the calling goroutine, so
// indices follow the order of jobs. It stops on the first error of the job
// source or the store, or when ctx is canceled.
func (r *Runner) Sequential(ctx context.Context, jobs iter.Seq2[model.Job, error]) (Summary, error) {
	var summary Summary
	for job, err := range jobs {
		if err != nil {
			return summary, fmt.Errorf("reading jobs: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		outcome, err := r.Execute(ctx, job)
		if err != nil {
			return summary, err
		}
		summary.add(outcome)
	}
	return summary, nil
}

// Parallel executes jobs on a pool of at most workers goroutines. Indices are
// assigned in completion order. A failing job never stops the pool, an error
// of the job source or the store does.
func (r *Runner) Parallel(ctx context.Context, jobs iter.Seq2[model.Job, error], workers int) (Summary, error) {
	var summary Summary
	pool := parallel.NewMap(ctx, workers, r.Execute)
	for outcome, err := range pool.Iter(jobs) {
		if err != nil {
			return summary, err
		}
		summary.add(outcome)
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}
