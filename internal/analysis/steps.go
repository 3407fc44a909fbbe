package analysis

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ElianF/AutoCommand/internal/model"
	"github.com/ElianF/AutoCommand/internal/store"
)

// DefaultStepPattern matches the debug lines printed by the grounder for
// every derived atom, e.g.
//
//	[src/main.rs:120:9] format!("{} = valid", atom.to_string()) = "edge(1,2) = valid"
const DefaultStepPattern = `\[src(?:\\|/)main\.rs:\d+:\d+\] format!\("\{\} = (?:valid|forbidden)", atom\.to_string\(\)\) = "(?P<predicate>\w+)\(.+\) = (?P<verdict>valid|forbidden)"`

// Grammar extracts an event from a log line. The pattern must define the
// named groups predicate and verdict and is matched at the start of the line.
type Grammar struct {
	rx        *regexp.Regexp
	predicate int
	verdict   int
	legal     string
}

// NewGrammar compiles pattern. An empty pattern selects DefaultStepPattern,
// an empty legal word "valid".
func NewGrammar(pattern, legal string) (Grammar, error) {
	if pattern == "" {
		pattern = DefaultStepPattern
	}
	if legal == "" {
		legal = "valid"
	}
	rx, err := regexp.Compile(`^(?:` + pattern + `)`)
	if err != nil {
		return Grammar{}, fmt.Errorf("compiling step pattern: %w", err)
	}
	g := Grammar{
		rx:        rx,
		predicate: rx.SubexpIndex("predicate"),
		verdict:   rx.SubexpIndex("verdict"),
		legal:     legal,
	}
	if g.predicate < 0 || g.verdict < 0 {
		return Grammar{}, fmt.Errorf("step pattern %q must define groups predicate and verdict", pattern)
	}
	return g, nil
}

// Match returns the predicate of line and whether its verdict is legal.
func (g Grammar) Match(line string) (predicate string, legal bool, ok bool) {
	m := g.rx.FindStringSubmatch(line)
	if m == nil {
		return "", false, false
	}
	return m[g.predicate], m[g.verdict] == g.legal, true
}

// Point is one matched line: the number of lines matched before it, the time
// elapsed since the previous line and the legality of the event.
type Point struct {
	Step  int     `json:"step"`
	Delta float64 `json:"delta"`
	Legal bool    `json:"legal"`
}

// StepSeries holds the per predicate time series of one job.
type StepSeries struct {
	Index  int                `json:"index"`
	Job    model.Job          `json:"job"`
	Slot   string             `json:"slot"`
	Series map[string][]Point `json:"series"`
}

// StepsOf pairs consecutive timestamped lines. The second line of every pair
// is matched against g; lines which do not match are skipped. A line without
// a valid timestamp ends the timestamped region.
func StepsOf(lines []string, g Grammar) map[string][]Point {
	series := make(map[string][]Point)
	step := 0
	for i := 1; i < len(lines); i++ {
		t1, _, err := splitStamp(lines[i-1])
		if err != nil {
			break
		}
		t2, line, err := splitStamp(lines[i])
		if err != nil {
			break
		}
		predicate, legal, ok := g.Match(line)
		if !ok {
			continue
		}
		series[predicate] = append(series[predicate], Point{
			Step:  step,
			Delta: t2.Sub(t1).Seconds(),
			Legal: legal,
		})
		step++
	}
	return series
}

// Steps runs the step analysis over every terminated job of the store. The
// stderr slot is tried before the stdout slot; the first one starting with a
// timestamp and yielding a series is used. Jobs without one are left out.
func Steps(s *store.Store, g Grammar) ([]StepSeries, error) {
	records, err := s.Records()
	if err != nil {
		return nil, err
	}
	var ret []StepSeries
	for _, index := range store.Indices(records) {
		r := records[index]
		if !r.Terminated {
			continue
		}
		stdout, stderr, err := s.Output(index)
		if err != nil {
			return nil, fmt.Errorf("reading output of %d: %w", index, err)
		}
		for _, slot := range []struct {
			name string
			data []byte
		}{{"stderr", stderr}, {"stdout", stdout}} {
			lines := splitLines(slot.data)
			if len(lines) == 0 {
				continue
			}
			if _, _, err := splitStamp(lines[0]); err != nil {
				continue
			}
			if series := StepsOf(lines, g); len(series) > 0 {
				ret = append(ret, StepSeries{Index: index, Job: r.Job, Slot: slot.name, Series: series})
				break
			}
		}
	}
	return ret, nil
}

func splitLines(b []byte) []string {
	text := strings.TrimSpace(string(b))
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// splitStamp splits "<seconds>.<nanoseconds> rest" into the time and the rest.
func splitStamp(line string) (time.Time, string, error) {
	stamp, rest, ok := strings.Cut(line, " ")
	if !ok {
		return time.Time{}, "", fmt.Errorf("no timestamp in %q", line)
	}
	t, err := parseStamp(stamp)
	if err != nil {
		return time.Time{}, "", err
	}
	return t, rest, nil
}

// stampRx is the format written by the step-time option: unix seconds and
// exactly nine digits of nanoseconds.
var stampRx = regexp.MustCompile(`^(\d+)\.(\d{9})$`)

func parseStamp(s string) (time.Time, error) {
	m := stampRx.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	sec, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	nsec, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return time.Unix(sec, nsec), nil
}
