package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// Lock is the execution lock of a run. It is created once and shared by all
// workers. Critical sections are serialized inside the process by a mutex and
// across processes sharing the same storage directory by flock(2) on
// <storage>/.lock.
type Lock struct {
	mx   sync.Mutex
	path string
}

func NewLock(dir string) *Lock {
	return &Lock{path: filepath.Join(dir, ".lock")}
}

// Do runs fn while holding the lock.
func (l *Lock) Do(fn func() error) error {
	l.mx.Lock()
	defer l.mx.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("opening lock file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	for {
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("acquiring lock %s: %w", l.path, err)
	}
	defer func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	}()

	return fn()
}
