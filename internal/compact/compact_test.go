package compact_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ElianF/AutoCommand/internal/compact"
	"github.com/ElianF/AutoCommand/internal/jobs"
	"github.com/ElianF/AutoCommand/internal/model"
	"github.com/ElianF/AutoCommand/internal/store"
	"github.com/stretchr/testify/require"
)

func TestToken(t *testing.T) {
	t.Parallel()
	require.Equal(t, "./data/x.lp", compact.Token("gringo --text ./data/x.lp"))
	require.Equal(t, "./data/x.lp", compact.Token("gringo ./data/x.lp  "))
	require.Equal(t, "true", compact.Token("true"))
	require.Equal(t, "", compact.Token("   "))
}

func TestNewPlan(t *testing.T) {
	t.Parallel()

	var testCases = []struct {
		scenario string
		records  map[int]model.Record
		pending  []model.Job
		kept     []model.Job
		removed  []model.Job
	}{
		{
			scenario: "two of three reference the failing resource",
			records: map[int]model.Record{
				0: {Job: "gringo --text X", Terminated: false},
			},
			pending: []model.Job{"dlv X", "dlv Y", "java -jar alpha.jar -i X"},
			kept:    []model.Job{"dlv Y"},
			removed: []model.Job{"dlv X", "java -jar alpha.jar -i X"},
		},
		{
			scenario: "terminated records block nothing",
			records: map[int]model.Record{
				0: {Job: "gringo X", Terminated: true},
				1: {Job: "false Y", Terminated: true},
			},
			pending: []model.Job{"dlv X", "dlv Y"},
			kept:    []model.Job{"dlv X", "dlv Y"},
		},
		{
			scenario: "empty store",
			pending:  []model.Job{"dlv X"},
			kept:     []model.Job{"dlv X"},
		},
		{
			scenario: "several failures",
			records: map[int]model.Record{
				4: {Job: "gringo ./data/a.lp", Terminated: false},
				7: {Job: "dlv ./data/b.lp", Terminated: false},
				9: {Job: "dlv ./data/a.lp", Terminated: false},
			},
			pending: []model.Job{"gringo ./data/a.lp", "gringo ./data/b.lp", "gringo ./data/c.lp"},
			kept:    []model.Job{"gringo ./data/c.lp"},
			removed: []model.Job{"gringo ./data/a.lp", "gringo ./data/b.lp"},
		},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			plan := compact.NewPlan(tt.records, tt.pending)
			require.Equal(t, tt.kept, plan.Kept)
			require.Equal(t, tt.removed, plan.Removed)
		})
	}

	plan := compact.NewPlan(map[int]model.Record{
		2: {Job: "dlv ./b", Terminated: false},
		1: {Job: "gringo ./a", Terminated: false},
		3: {Job: "clingo ./a", Terminated: false},
	}, nil)
	require.Equal(t, []string{"./a", "./b"}, plan.Tokens)
}

func TestCompact(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := store.Init(filepath.Join(dir, "storage"))
	require.NoError(t, err)

	for _, r := range []model.Record{
		{Job: "gringo ./data/a.lp", Terminated: true},
		{Job: "gringo ./data/b.lp", Terminated: false},
	} {
		_, err := s.Append(r, []byte("out"), []byte("err"), model.DedupAny)
		require.NoError(t, err)
	}

	jobsPath := filepath.Join(dir, "jobs")
	require.NoError(t, os.WriteFile(jobsPath, []byte(
		"gringo ./data/a.lp\ngringo ./data/b.lp\ndlv ./data/b.lp\ndlv ./data/c.lp\n"), 0o644))

	plan, err := compact.Compact(t.Context(), s, store.NewLock(s.Dir()), jobsPath)
	require.NoError(t, err)
	require.Equal(t, []string{"./data/b.lp"}, plan.Tokens)
	require.Equal(t, []model.Job{"gringo ./data/b.lp", "dlv ./data/b.lp"}, plan.Removed)

	got, err := jobs.Read(jobsPath)
	require.NoError(t, err)
	require.Equal(t, []model.Job{"gringo ./data/a.lp", "dlv ./data/c.lp"}, got)

	records, err := s.Records()
	require.NoError(t, err)
	require.Empty(t, records)
	entries, err := os.ReadDir(filepath.Join(s.Dir(), "stdout"))
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestCompact_NoStore(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := store.Init(dir)
	require.NoError(t, err)
	require.NoError(t, os.Remove(s.DatabasePath()))

	jobsPath := filepath.Join(dir, "jobs")
	require.NoError(t, os.WriteFile(jobsPath, []byte("true"), 0o644))
	_, err = compact.Compact(t.Context(), s, store.NewLock(dir), jobsPath)
	require.ErrorIs(t, err, model.ErrStoreInit)

	got, err := jobs.Read(jobsPath)
	require.NoError(t, err)
	require.Equal(t, []model.Job{"true"}, got)
}
