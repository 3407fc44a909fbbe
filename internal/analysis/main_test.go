package analysis_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/ElianF/AutoCommand/internal/model"
	"github.com/ElianF/AutoCommand/internal/store"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Init(t.TempDir())
	require.NoError(t, err)
	return s
}

func appendJob(t *testing.T, s *store.Store, job string, terminated bool, stdout, stderr string) int {
	t.Helper()
	index, err := s.Append(model.Record{Job: model.Job(job), Terminated: terminated}, []byte(stdout), []byte(stderr), model.DedupAny)
	require.NoError(t, err)
	return index
}

func dbg(predicate, verdict string) string {
	return fmt.Sprintf(`[src/main.rs:42:5] format!("{} = %s", atom.to_string()) = "%s(1,2) = %s"`, verdict, predicate, verdict)
}

func lines(l ...string) string {
	return strings.Join(l, "\n") + "\n"
}
