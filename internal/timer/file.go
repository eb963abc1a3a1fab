package timer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/msageha/sakina/internal/lock"
	"github.com/msageha/sakina/internal/model"
	yamlutil "github.com/msageha/sakina/internal/yaml"
)

const lockName = "timers"

type registryFile struct {
	SchemaVersion int     `yaml:"schema_version"`
	FileType      string  `yaml:"file_type"`
	Timers        []Timer `yaml:"timers"`
	UpdatedAt     string  `yaml:"updated_at,omitempty"`
}

// FileTimers keeps registered timers in state/timers.yaml. The daemon's
// dispatcher fires them; timers that came due while no daemon was running
// fire as soon as one starts.
type FileTimers struct {
	home    string
	path    string
	guard   *lock.Guard
	changed chan struct{}
}

func NewFileTimers(home, path string, guard *lock.Guard) *FileTimers {
	return &FileTimers{home: home, path: path, guard: guard, changed: make(chan struct{}, 1)}
}

// Changed is signalled after every in-process registry mutation.
func (f *FileTimers) Changed() <-chan struct{} { return f.changed }

func (f *FileTimers) notify() {
	select {
	case f.changed <- struct{}{}:
	default:
	}
}

func (f *FileTimers) load() (registryFile, error) {
	reg := registryFile{SchemaVersion: yamlutil.CurrentSchemaVersion, FileType: yamlutil.FileTypeTimers}
	_, err := yamlutil.LoadOrRecover(f.home, f.path, yamlutil.FileTypeTimers, &reg)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return reg, fmt.Errorf("load timer registry: %w", err)
	}
	return reg, nil
}

func (f *FileTimers) update(fn func(reg *registryFile)) error {
	err := f.guard.With(lockName, func() error {
		reg, err := f.load()
		if err != nil {
			return err
		}
		fn(&reg)
		SortByFireAt(reg.Timers)
		reg.SchemaVersion = yamlutil.CurrentSchemaVersion
		reg.FileType = yamlutil.FileTypeTimers
		reg.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
		if err := yamlutil.AtomicWrite(f.path, &reg); err != nil {
			return fmt.Errorf("write timer registry: %w", err)
		}
		return nil
	})
	if err == nil {
		f.notify()
	}
	return err
}

func (f *FileTimers) Register(_ context.Context, fireAt time.Time, id int, payload model.TimerPayload) error {
	return f.update(func(reg *registryFile) {
		kept := reg.Timers[:0]
		for _, t := range reg.Timers {
			if t.ID != id {
				kept = append(kept, t)
			}
		}
		reg.Timers = append(kept, Timer{ID: id, FireAt: fireAt, Payload: payload})
	})
}

func (f *FileTimers) Cancel(_ context.Context, id int) error {
	return f.CancelMany(context.Background(), []int{id})
}

// CancelMany removes a batch of ids in one registry write.
func (f *FileTimers) CancelMany(_ context.Context, ids []int) error {
	drop := make(map[int]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	return f.update(func(reg *registryFile) {
		kept := reg.Timers[:0]
		for _, t := range reg.Timers {
			if !drop[t.ID] {
				kept = append(kept, t)
			}
		}
		reg.Timers = kept
	})
}

func (f *FileTimers) Registered(_ context.Context) ([]Timer, error) {
	reg, err := f.load()
	if err != nil {
		return nil, err
	}
	if reg.Timers == nil {
		return []Timer{}, nil
	}
	return reg.Timers, nil
}

// NextFireAt returns the earliest registered fire time.
func (f *FileTimers) NextFireAt(ctx context.Context) (time.Time, bool, error) {
	timers, err := f.Registered(ctx)
	if err != nil || len(timers) == 0 {
		return time.Time{}, false, err
	}
	SortByFireAt(timers)
	return timers[0].FireAt, true, nil
}

// ClaimDue removes and returns every timer due at now. Claiming before firing
// means a crash mid-fire drops that timer instead of firing it twice; the
// reschedule that follows every fire re-arms whatever is still needed.
func (f *FileTimers) ClaimDue(_ context.Context, now time.Time) ([]Timer, error) {
	var due []Timer
	err := f.update(func(reg *registryFile) {
		kept := reg.Timers[:0]
		for _, t := range reg.Timers {
			if !t.FireAt.After(now) {
				due = append(due, t)
				continue
			}
			kept = append(kept, t)
		}
		reg.Timers = kept
	})
	if err != nil {
		return nil, err
	}
	SortByFireAt(due)
	return due, nil
}
