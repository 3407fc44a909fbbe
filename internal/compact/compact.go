// Package compact prunes the job list after a partially failed run.
//
// A job which did not terminate (spawn failure or timeout) is assumed to have
// failed because of the resource named by its last argument, typically an
// input file. Every pending job referencing the same resource would fail the
// same way, so it is removed from the job list. The store is cleared
// afterwards and the reduced list can be run from scratch. This is a
// heuristic: a removed job is not proven to be blocked.
package compact

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ElianF/AutoCommand/internal/jobs"
	"github.com/ElianF/AutoCommand/internal/model"
	"github.com/ElianF/AutoCommand/internal/store"
)

// Plan is the result of compaction.
type Plan struct {
	Tokens  []string    // resources of non-terminated jobs, in index order
	Kept    []model.Job // pending jobs which stay, in list order
	Removed []model.Job // pending jobs referencing one of Tokens
}

// Token returns the resource a job refers to: its last whitespace delimited field.
func Token(job model.Job) string {
	fields := job.Fields()
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// NewPlan splits pending into kept and removed jobs according to the
// non-terminated records.
func NewPlan(records map[int]model.Record, pending []model.Job) Plan {
	var plan Plan
	seen := make(map[string]struct{})
	for _, index := range store.Indices(records) {
		r := records[index]
		if r.Terminated {
			continue
		}
		token := Token(r.Job)
		if token == "" {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		plan.Tokens = append(plan.Tokens, token)
	}

	plan.Kept = make([]model.Job, 0, len(pending))
	for _, job := range pending {
		if references(job, plan.Tokens) {
			plan.Removed = append(plan.Removed, job)
			continue
		}
		plan.Kept = append(plan.Kept, job)
	}
	return plan
}

func references(job model.Job, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(string(job), token) {
			return true
		}
	}
	return false
}

// Compact rewrites the job list at jobsPath without the jobs blocked by a
// non-terminated record, then clears the store. Everything happens under lock.
func Compact(ctx context.Context, s *store.Store, lock *store.Lock, jobsPath string) (Plan, error) {
	var plan Plan
	err := lock.Do(func() error {
		records, err := s.Records()
		if err != nil {
			return err
		}
		pending, err := jobs.Read(jobsPath)
		if err != nil {
			return err
		}

		plan = NewPlan(records, pending)
		for _, job := range plan.Removed {
			slog.InfoContext(ctx, "removing job", "job", job)
		}
		if err := jobs.Write(jobsPath, plan.Kept); err != nil {
			return err
		}
		if err := s.Clear(); err != nil {
			return fmt.Errorf("clearing store: %w", err)
		}
		return nil
	})
	if err != nil {
		return Plan{}, err
	}
	slog.InfoContext(ctx, "compaction finished",
		"blocking", plan.Tokens,
		"kept", len(plan.Kept),
		"removed", len(plan.Removed),
	)
	return plan, nil
}
