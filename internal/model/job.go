package model

import (
	"fmt"
	"strings"
)

// Job is one shell command line. Two jobs are the same job iff their text is equal.
type Job string

func (j Job) String() string {
	return string(j)
}

// Fields returns the whitespace separated words of the command line.
func (j Job) Fields() []string {
	return strings.Fields(string(j))
}

// Record is the persisted outcome of a job. Terminated is true when the
// process was spawned and returned, regardless of its exit code.
type Record struct {
	Job        Job  `json:"job"`
	Terminated bool `json:"terminated"`
}

// Mode says how the two streams of a job map to the stdout and stderr slots.
type Mode string

const (
	ModeMerge  Mode = "merge"  // stderr blended into stdout
	ModeSwap   Mode = "swap"   // stderr in the stdout slot and vice versa
	ModeNormal Mode = "normal" // both streams unmodified
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeMerge, ModeSwap, ModeNormal:
		return m, nil
	default:
		return "", fmt.Errorf("unsupported mode %q: possible values (merge,swap,normal)", s)
	}
}

// DedupPolicy selects which prior records make a job count as already done.
type DedupPolicy string

const (
	// DedupTerminated skips only jobs which terminated, a failed job is retried on the next run.
	DedupTerminated DedupPolicy = "terminated"
	// DedupAny skips every job present in the store.
	DedupAny DedupPolicy = "any"
)

func ParseDedupPolicy(s string) (DedupPolicy, error) {
	switch p := DedupPolicy(s); p {
	case DedupTerminated, DedupAny:
		return p, nil
	case "":
		return DedupTerminated, nil
	default:
		return "", fmt.Errorf("unsupported dedup policy %q: possible values (terminated,any)", s)
	}
}

// Matches reports if the record makes job a duplicate under the policy p.
func (p DedupPolicy) Matches(job Job, r Record) bool {
	if r.Job != job {
		return false
	}
	return p == DedupAny || r.Terminated
}

// RacePolicy controls the window between the dedup check and the append.
type RacePolicy string

const (
	// RaceOptimistic releases the lock while the job runs. Two workers may
	// execute the same job, only the first one gets recorded.
	RaceOptimistic RacePolicy = "optimistic"
	// RaceStrict claims the job during the dedup check, so no other worker
	// starts it until it gets recorded. Job starts are serialized.
	RaceStrict RacePolicy = "strict"
)

func ParseRacePolicy(s string) (RacePolicy, error) {
	switch p := RacePolicy(s); p {
	case RaceOptimistic, RaceStrict:
		return p, nil
	case "":
		return RaceOptimistic, nil
	default:
		return "", fmt.Errorf("unsupported race policy %q: possible values (optimistic,strict)", s)
	}
}
