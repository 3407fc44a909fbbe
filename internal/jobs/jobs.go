// Package jobs reads and writes the job list: one shell command line per line.
package jobs

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"strings"

	"github.com/ElianF/AutoCommand/internal/fsutil"
	"github.com/ElianF/AutoCommand/internal/model"
)

// Load returns the jobs from path which start with prefix. An empty prefix
// matches every job. The file is read each time the sequence is iterated, so
// it can be ranged over more than once. A read error is yielded once and
// ends the sequence.
func Load(path, prefix string) iter.Seq2[model.Job, error] {
	return func(yield func(model.Job, error) bool) {
		jobs, err := Read(path)
		if err != nil {
			yield("", err)
			return
		}
		for _, job := range jobs {
			if !strings.HasPrefix(string(job), prefix) {
				continue
			}
			if !yield(job, nil) {
				return
			}
		}
	}
}

// Read returns every job from path in file order. Leading and trailing
// whitespace of the whole file is trimmed and empty lines are dropped.
func Read(path string) ([]model.Job, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("job list %s: %w", path, err)
		}
		return nil, fmt.Errorf("reading job list: %w", err)
	}
	return Parse(string(b)), nil
}

// Parse splits the content of a job list.
func Parse(content string) []model.Job {
	lines := strings.Split(strings.TrimSpace(content), "\n")
	ret := make([]model.Job, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		ret = append(ret, model.Job(line))
	}
	return ret
}

// Write atomically replaces the job list at path.
func Write(path string, jobs []model.Job) error {
	lines := make([]string, len(jobs))
	for i, job := range jobs {
		lines[i] = string(job)
	}
	if err := fsutil.WriteFileAtomic(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return fmt.Errorf("writing job list: %w", err)
	}
	return nil
}
