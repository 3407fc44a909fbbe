// Package store persists job records and their captured output.
//
// Layout of the storage directory:
//
//	database.json   {"<index>": {"job": "...", "terminated": true}, ...}
//	stdout/<index>  raw bytes of the stdout slot
//	stderr/<index>  raw bytes of the stderr slot
//	.lock           execution lock, see Lock
//
// database.json is rewritten as a whole on every append. All methods except
// Open, Init, Records and Output must be called with the Lock held.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/ElianF/AutoCommand/internal/fsutil"
	"github.com/ElianF/AutoCommand/internal/model"
)

const (
	databaseFile = "database.json"
	stdoutDir    = "stdout"
	stderrDir    = "stderr"
	analysisDir  = "analysis"
)

type Store struct {
	dir    string
	claims map[model.Job]struct{}
}

// Init creates the storage layout with an empty database. An existing valid
// database is left untouched.
func Init(dir string) (*Store, error) {
	for _, d := range []string{dir, filepath.Join(dir, stdoutDir), filepath.Join(dir, stderrDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", d, err)
		}
	}
	s := newStore(dir)
	_, err := os.Stat(s.DatabasePath())
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := s.write(nil); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("%w: %w", model.ErrStoreInit, err)
	}
	if _, err := s.Records(); err != nil {
		return nil, err
	}
	return s, nil
}

// Open opens an initialized store. A missing or malformed database.json or
// missing output directories return model.ErrStoreInit.
func Open(dir string) (*Store, error) {
	s := newStore(dir)
	if _, err := s.Records(); err != nil {
		return nil, err
	}
	for _, d := range []string{s.stdoutDir(), s.stderrDir()} {
		info, err := os.Stat(d)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", model.ErrStoreInit, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%w: %s is not a directory", model.ErrStoreInit, d)
		}
	}
	return s, nil
}

func newStore(dir string) *Store {
	return &Store{
		dir:    dir,
		claims: make(map[model.Job]struct{}),
	}
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) DatabasePath() string {
	return filepath.Join(s.dir, databaseFile)
}

func (s *Store) AnalysisDir() string {
	return filepath.Join(s.dir, analysisDir)
}

func (s *Store) stdoutDir() string {
	return filepath.Join(s.dir, stdoutDir)
}

func (s *Store) stderrDir() string {
	return filepath.Join(s.dir, stderrDir)
}

// Records returns a snapshot of the database.
func (s *Store) Records() (map[int]model.Record, error) {
	b, err := os.ReadFile(s.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrStoreInit, err)
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", model.ErrStoreInit, s.DatabasePath(), err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %s: not a JSON object", model.ErrStoreInit, s.DatabasePath())
	}
	return doc, nil
}

// Indices returns the indices of records in ascending order.
func Indices(records map[int]model.Record) []int {
	ret := make([]int, 0, len(records))
	for i := range records {
		ret = append(ret, i)
	}
	slices.Sort(ret)
	return ret
}

// Contains reports whether job is already recorded according to policy.
func (s *Store) Contains(job model.Job, policy model.DedupPolicy) (bool, error) {
	records, err := s.Records()
	if err != nil {
		return false, err
	}
	return contains(records, job, policy), nil
}

func contains(records map[int]model.Record, job model.Job, policy model.DedupPolicy) bool {
	for _, r := range records {
		if policy.Matches(job, r) {
			return true
		}
	}
	return false
}

// NextIndex returns 0 for an empty store and max index + 1 otherwise.
func (s *Store) NextIndex() (int, error) {
	records, err := s.Records()
	if err != nil {
		return 0, err
	}
	return nextIndex(records), nil
}

func nextIndex(records map[int]model.Record) int {
	if len(records) == 0 {
		return 0
	}
	return slices.Max(Indices(records)) + 1
}

// Append records the outcome of a job under the next free index and stores
// its captured output. The database is read again first, so a job recorded
// meanwhile by another worker is not recorded twice: model.ErrDuplicate is
// returned and nothing is written.
func (s *Store) Append(record model.Record, stdout, stderr []byte, policy model.DedupPolicy) (int, error) {
	records, err := s.Records()
	if err != nil {
		return -1, err
	}
	if contains(records, record.Job, policy) {
		return -1, model.ErrDuplicate
	}

	index := nextIndex(records)
	name := strconv.Itoa(index)
	if err := os.WriteFile(filepath.Join(s.stdoutDir(), name), stdout, 0o644); err != nil {
		return -1, fmt.Errorf("writing stdout of %d: %w", index, err)
	}
	if err := os.WriteFile(filepath.Join(s.stderrDir(), name), stderr, 0o644); err != nil {
		return -1, fmt.Errorf("writing stderr of %d: %w", index, err)
	}

	records[index] = record
	if err := s.write(records); err != nil {
		return -1, err
	}
	return index, nil
}

// Output returns the captured stdout and stderr of index.
func (s *Store) Output(index int) (stdout, stderr []byte, err error) {
	name := strconv.Itoa(index)
	stdout, err = os.ReadFile(filepath.Join(s.stdoutDir(), name))
	if err != nil {
		return nil, nil, err
	}
	stderr, err = os.ReadFile(filepath.Join(s.stderrDir(), name))
	if err != nil {
		return nil, nil, err
	}
	return stdout, stderr, nil
}

// Claim marks job as being executed. It returns false if the job is claimed
// already. Claims live in memory only, so they are not visible to other processes.
func (s *Store) Claim(job model.Job) bool {
	if _, ok := s.claims[job]; ok {
		return false
	}
	s.claims[job] = struct{}{}
	return true
}

func (s *Store) Release(job model.Job) {
	delete(s.claims, job)
}

// Clear empties the database and removes all captured output and analysis results.
func (s *Store) Clear() error {
	var errs []error
	for _, d := range []string{s.stdoutDir(), s.stderrDir(), s.AnalysisDir()} {
		errs = append(errs, removeFiles(d))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("clearing outputs: %w", err)
	}
	return s.write(nil)
}

func removeFiles(dir string) error {
	var errs []error
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.Type().IsRegular() {
			errs = append(errs, os.Remove(path))
		}
		return nil
	})
	return errors.Join(append(errs, err)...)
}

func (s *Store) write(records map[int]model.Record) error {
	b, err := json.MarshalIndent(document(records), "", "    ")
	if err != nil {
		return fmt.Errorf("encoding database: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.DatabasePath(), b, 0o644); err != nil {
		return fmt.Errorf("writing database: %w", err)
	}
	return nil
}

// document is the on-disk form of the database: a JSON object keyed by
// decimal indices in ascending order. Values written by old versions of the
// tool are bare job strings, these are read as terminated records.
type document map[int]model.Record

func (d document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for n, i := range Indices(d) {
		if n > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(strconv.Itoa(i)))
		buf.WriteByte(':')
		b, err := json.Marshal(d[i])
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (d *document) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == nil {
		*d = nil
		return nil
	}
	doc := make(document, len(raw))
	for key, value := range raw {
		index, err := strconv.Atoi(key)
		if err != nil || index < 0 {
			return fmt.Errorf("invalid index %q", key)
		}
		var record model.Record
		var legacy string
		if err := json.Unmarshal(value, &legacy); err == nil {
			record = model.Record{Job: model.Job(legacy), Terminated: true}
		} else if err := json.Unmarshal(value, &record); err != nil {
			return fmt.Errorf("record %d: %w", index, err)
		}
		doc[index] = record
	}
	*d = doc
	return nil
}
