// Package analysis derives timing series from the captured output of
// finished jobs. It only reads the store; the results are written as JSON
// files and optionally into a sqlite database for external plotting.
package analysis

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
)

// WriteJSON stores every step series as steps/<index>.json and the totals
// of each test as totals/<test>.json below dir, replacing the results of a
// previous analysis. Test names are path escaped.
func WriteJSON(dir string, steps []StepSeries, totals []Aggregate) error {
	stepsDir := filepath.Join(dir, "steps")
	totalsDir := filepath.Join(dir, "totals")
	for _, d := range []string{stepsDir, totalsDir} {
		if err := os.RemoveAll(d); err != nil {
			return fmt.Errorf("removing previous results %s: %w", d, err)
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	for _, s := range steps {
		if err := writeJSON(filepath.Join(stepsDir, strconv.Itoa(s.Index)+".json"), s); err != nil {
			return err
		}
	}

	byTest := make(map[string][]Aggregate)
	for _, a := range totals {
		byTest[a.Test] = append(byTest[a.Test], a)
	}
	for test, aggregates := range byTest {
		if err := writeJSON(filepath.Join(totalsDir, url.PathEscape(test)+".json"), aggregates); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// WriteSummary prints the totals as an aligned table.
func WriteSummary(w io.Writer, totals []Aggregate) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TEST\tLABEL\tSUBTEST\tRUNS\tUSER [s]\tLINES")
	for _, a := range totals {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.4f\t%.1f\n", a.Test, a.Label, a.Subtest, a.Samples, a.MeanUser, a.MeanLines)
	}
	return tw.Flush()
}
