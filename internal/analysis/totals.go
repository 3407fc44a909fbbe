package analysis

import (
	"cmp"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ElianF/AutoCommand/internal/model"
	"github.com/ElianF/AutoCommand/internal/store"
)

// usageRx matches the report appended by the total-time option. The optional
// leading timestamp is added when step time is on as well.
var usageRx = regexp.MustCompile(`(?:\d+\.\d+ )?(\d+\.\d+)user (\d+\.\d+)system (\d+:\d+\.\d+)elapsed (\d+)%CPU`)

// Usage is the resource usage of a whole job.
type Usage struct {
	User    float64 // seconds
	System  float64 // seconds
	Elapsed time.Duration
	CPU     int // percent
}

// ParseUsage finds the first resource usage report in text.
func ParseUsage(text string) (Usage, bool) {
	m := usageRx.FindStringSubmatch(text)
	if m == nil {
		return Usage{}, false
	}
	var u Usage
	var err error
	if u.User, err = strconv.ParseFloat(m[1], 64); err != nil {
		return Usage{}, false
	}
	if u.System, err = strconv.ParseFloat(m[2], 64); err != nil {
		return Usage{}, false
	}
	minutes, seconds, _ := strings.Cut(m[3], ":")
	mins, err := strconv.Atoi(minutes)
	if err != nil {
		return Usage{}, false
	}
	secs, err := strconv.ParseFloat(seconds, 64)
	if err != nil {
		return Usage{}, false
	}
	u.Elapsed = time.Duration(mins)*time.Minute + time.Duration(secs*float64(time.Second))
	if u.CPU, err = strconv.Atoi(m[4]); err != nil {
		return Usage{}, false
	}
	return u, true
}

// Buckets classifies input files: test name -> subtest label -> file tokens.
type Buckets map[string]map[string][]string

func LoadBuckets(path string) (Buckets, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bucket classification: %w", err)
	}
	var buckets Buckets
	if err := json.Unmarshal(b, &buckets); err != nil {
		return nil, fmt.Errorf("parsing bucket classification %s: %w", path, err)
	}
	return buckets, nil
}

// Classify returns the first (test, subtest) listing token. Tests and
// subtests are visited in sorted order so the result does not depend on map
// iteration.
func (b Buckets) Classify(token string) (test, subtest string, ok bool) {
	for _, test := range sortedKeys(b) {
		subtests := b[test]
		for _, subtest := range sortedKeys(subtests) {
			if slices.Contains(subtests[subtest], token) {
				return test, subtest, true
			}
		}
	}
	return "", "", false
}

// FileToken returns the last field of job starting with a dot, which is the
// relative path of the input file. Falls back to the last field.
func FileToken(job model.Job) string {
	fields := strings.Split(string(job), " ")
	for i := len(fields) - 1; i >= 0; i-- {
		if strings.HasPrefix(fields[i], ".") {
			return fields[i]
		}
	}
	return fields[len(fields)-1]
}

// Labeler names the series a job belongs to. The first matching rule wins,
// without a match the first field of the job is used.
type Labeler []model.Label

func (l Labeler) Label(job model.Job) string {
	text := string(job)
	for _, rule := range l {
		if rule.Prefix != "" && !strings.HasPrefix(text, rule.Prefix) {
			continue
		}
		if !allContained(text, rule.Contains) {
			continue
		}
		if anyContained(text, rule.Excludes) {
			continue
		}
		return rule.Label
	}
	first, _, _ := strings.Cut(text, " ")
	return first
}

func allContained(s string, subs []string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}

func anyContained(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Aggregate is the mean over repeated runs of one subtest.
type Aggregate struct {
	Test      string  `json:"test"`
	Label     string  `json:"label"`
	Subtest   string  `json:"subtest"`
	Samples   int     `json:"samples"`
	MeanUser  float64 `json:"mean_user"`  // seconds
	MeanLines float64 `json:"mean_lines"` // lines of the stdout slot
}

type sample struct {
	user  float64
	lines int
}

type groupKey struct {
	test, label, subtest string
}

// Totals runs the total analysis over every terminated job of the store.
// Jobs without a usage report or whose file token is not classified are
// left out. The result is sorted by test, label and subtest.
func Totals(s *store.Store, buckets Buckets, labeler Labeler) ([]Aggregate, error) {
	records, err := s.Records()
	if err != nil {
		return nil, err
	}

	groups := make(map[groupKey][]sample)
	for _, index := range store.Indices(records) {
		r := records[index]
		if !r.Terminated {
			continue
		}
		stdout, stderr, err := s.Output(index)
		if err != nil {
			return nil, fmt.Errorf("reading output of %d: %w", index, err)
		}
		lines := len(splitLines(stdout))

		for _, text := range []string{string(stderr), string(stdout)} {
			usage, ok := ParseUsage(text)
			if !ok {
				continue
			}
			if test, subtest, ok := buckets.Classify(FileToken(r.Job)); ok {
				key := groupKey{test: test, label: labeler.Label(r.Job), subtest: subtest}
				groups[key] = append(groups[key], sample{user: usage.User, lines: lines})
			}
			break
		}
	}

	ret := make([]Aggregate, 0, len(groups))
	for key, samples := range groups {
		var user float64
		var lines int
		for _, s := range samples {
			user += s.user
			lines += s.lines
		}
		n := float64(len(samples))
		ret = append(ret, Aggregate{
			Test:      key.test,
			Label:     key.label,
			Subtest:   key.subtest,
			Samples:   len(samples),
			MeanUser:  user / n,
			MeanLines: float64(lines) / n,
		})
	}
	slices.SortFunc(ret, func(a, b Aggregate) int {
		return cmp.Or(
			cmp.Compare(a.Test, b.Test),
			cmp.Compare(a.Label, b.Label),
			compareSubtests(a.Subtest, b.Subtest),
		)
	})
	return ret, nil
}

// compareSubtests orders numeric labels numerically and everything else
// lexicographically after them.
func compareSubtests(a, b string) int {
	x, errA := strconv.ParseFloat(a, 64)
	y, errB := strconv.ParseFloat(b, 64)
	switch {
	case errA == nil && errB == nil:
		return cmp.Or(cmp.Compare(x, y), cmp.Compare(a, b))
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	default:
		return cmp.Compare(a, b)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
