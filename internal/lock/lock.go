// Package lock provides the daemon singleton lock and the in-process plus
// cross-process guards around sakina's shared files.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrLocked means another process holds the lock.
var ErrLocked = errors.New("lock held by another process")

// MutexMap hands out one mutex per key.
type MutexMap struct {
	mu      sync.Mutex
	mutexes map[string]*sync.Mutex
}

func NewMutexMap() *MutexMap {
	return &MutexMap{
		mutexes: make(map[string]*sync.Mutex),
	}
}

func (m *MutexMap) Lock(key string) {
	m.getMutex(key).Lock()
}

func (m *MutexMap) Unlock(key string) {
	m.getMutex(key).Unlock()
}

func (m *MutexMap) getMutex(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	if mu, ok := m.mutexes[key]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	m.mutexes[key] = mu
	return mu
}

// FileLock is an flock(2) advisory lock on a file. TryLock is the daemon
// singleton lock and records the owner PID; Lock blocks and is used around
// read-modify-write cycles on shared state files.
type FileLock struct {
	path    string
	file    *os.File
	pidFile bool
}

func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

func (fl *FileLock) open() (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(fl.path), 0700); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return f, nil
}

// TryLock acquires the lock without blocking and writes the PID into the file.
func (fl *FileLock) TryLock() error {
	f, err := fl.open()
	if err != nil {
		return err
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			if pid := fl.HolderPID(); pid > 0 {
				return fmt.Errorf("%w (pid %d)", ErrLocked, pid)
			}
			return ErrLocked
		}
		return fmt.Errorf("acquire lock: %w", err)
	}

	fail := func(step string, err error) error {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return fmt.Errorf("%s lock file: %w", step, err)
	}
	if err := f.Truncate(0); err != nil {
		return fail("truncate", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fail("seek", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fail("write PID to", err)
	}
	if err := f.Sync(); err != nil {
		return fail("sync", err)
	}

	fl.file = f
	fl.pidFile = true
	return nil
}

// HolderPID reads the PID written by the current TryLock holder, or 0.
func (fl *FileLock) HolderPID() int {
	data, err := os.ReadFile(fl.path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// Lock blocks until the exclusive lock is held.
func (fl *FileLock) Lock() error {
	f, err := fl.open()
	if err != nil {
		return err
	}
	for {
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("acquire lock: %w", err)
	}
	fl.file = f
	fl.pidFile = false
	return nil
}

// Unlock releases the lock. The PID file written by TryLock is removed; lock
// files taken with Lock stay in place so concurrent waiters keep locking the
// same inode.
func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}

	if err := unix.Flock(int(fl.file.Fd()), unix.LOCK_UN); err != nil {
		fl.file.Close()
		fl.file = nil
		return fmt.Errorf("release lock: %w", err)
	}

	if err := fl.file.Close(); err != nil {
		fl.file = nil
		return fmt.Errorf("close lock file: %w", err)
	}

	if fl.pidFile {
		os.Remove(fl.path)
	}
	fl.file = nil
	return nil
}

// Guard serializes access to named resources across goroutines (MutexMap)
// and across processes (one lock file per name under dir).
type Guard struct {
	dir  string
	keys *MutexMap
}

func NewGuard(dir string) *Guard {
	return &Guard{dir: dir, keys: NewMutexMap()}
}

// With runs fn while holding both locks for name.
func (g *Guard) With(name string, fn func() error) error {
	g.keys.Lock(name)
	defer g.keys.Unlock(name)

	fl := NewFileLock(filepath.Join(g.dir, name+".lock"))
	if err := fl.Lock(); err != nil {
		return err
	}
	defer fl.Unlock()

	return fn()
}
