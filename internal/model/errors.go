package model

import (
	"errors"
)

var (
	// ErrStoreInit means the result store is missing or corrupt. It is the
	// only error which aborts a run.
	ErrStoreInit = errors.New("result store not initialized")
	// ErrSpawn means the shell or the executable referenced by a job could
	// not be started.
	ErrSpawn = errors.New("command not found")
	// ErrTimeout means the job exceeded its timeout and was killed.
	ErrTimeout = errors.New("command timed out")
	// ErrDuplicate means the job is already recorded in the store.
	ErrDuplicate = errors.New("job already recorded")
)
