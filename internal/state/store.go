// Package state owns the durable scheduling record: the prayer snapshot, the
// global flag, the current-silence fields and the pending session log.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"

	"github.com/msageha/sakina/internal/lock"
	"github.com/msageha/sakina/internal/logging"
	"github.com/msageha/sakina/internal/model"
	yamlutil "github.com/msageha/sakina/internal/yaml"
)

const lockName = "state"

// Store reads and writes state/scheduling.yaml. All mutations run under the
// "state" guard, so concurrent activations (daemon Layer 1, alarm fires, CLI)
// never lose each other's writes.
type Store struct {
	home   string
	path   string
	guard  *lock.Guard
	logger *logging.Logger
	now    func() time.Time
}

func NewStore(home, path string, guard *lock.Guard, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Store{home: home, path: path, guard: guard, logger: logger, now: time.Now}
}

// Path returns the state file location.
func (s *Store) Path() string { return s.path }

func emptyState() model.SchedulingState {
	return model.SchedulingState{
		SchemaVersion:   yamlutil.CurrentSchemaVersion,
		FileType:        yamlutil.FileTypeSchedulingState,
		Prayers:         []model.Prayer{},
		PendingSessions: []model.Session{},
	}
}

// Load returns the stored state. Missing or unreadable state is never an
// error: it loads as the empty default, and a corrupt file is quarantined and
// restored from its backup where possible.
func (s *Store) Load() model.SchedulingState {
	st := emptyState()
	how, err := yamlutil.LoadOrRecover(s.home, s.path, yamlutil.FileTypeSchedulingState, &st)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		return emptyState()
	default:
		s.logger.Warn("state unreadable, using empty default path=%s error=%v", s.path, err)
		return emptyState()
	}
	if how != yamlutil.NotRecovered {
		s.logger.Warn("state was corrupt, quarantined and recovered from %s path=%s", how, s.path)
	}
	normalize(&st)
	return st
}

func normalize(st *model.SchedulingState) {
	st.SchemaVersion = yamlutil.CurrentSchemaVersion
	st.FileType = yamlutil.FileTypeSchedulingState
	if st.Prayers == nil {
		st.Prayers = []model.Prayer{}
	}
	if st.PendingSessions == nil {
		st.PendingSessions = []model.Session{}
	}
	// A half-written current-silence record is worse than none.
	if _, ok := st.Current(); !ok {
		st.ClearCurrent()
	}
}

// Update runs fn on the freshly loaded state and writes the result
// atomically. If fn returns an error nothing is written.
func (s *Store) Update(fn func(st *model.SchedulingState) error) error {
	return s.guard.With(lockName, func() error {
		st := s.Load()
		if err := fn(&st); err != nil {
			return err
		}
		normalize(&st)
		st.UpdatedAt = s.now().UTC().Format(time.RFC3339)
		if err := yamlutil.AtomicWrite(s.path, &st); err != nil {
			return fmt.Errorf("write state: %w", err)
		}
		return nil
	})
}

// SavePrayers stores the latest prayer snapshot and global flag. It must run
// before every reschedule so contexts without the live prayer set (boot,
// alarm fires) reschedule from the newest data.
func (s *Store) SavePrayers(prayers []model.Prayer, active bool) error {
	return s.Update(func(st *model.SchedulingState) error {
		st.Prayers = model.ClonePrayers(prayers)
		st.IsGloballyActive = active
		return nil
	})
}

// AppendSession adds a session to the pending log, assigning an id if needed.
func (s *Store) AppendSession(sess model.Session) (model.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if !sess.EndTime.After(sess.StartTime) {
		sess.EndTime = sess.StartTime.Add(time.Second)
	}
	err := s.Update(func(st *model.SchedulingState) error {
		st.PendingSessions = append(st.PendingSessions, sess)
		return nil
	})
	return sess, err
}

// PendingSessions returns the pending log in append order.
func (s *Store) PendingSessions() []model.Session {
	return s.Load().PendingSessions
}

// PendingSessionsJSON is the drain API's wire form.
func (s *Store) PendingSessionsJSON() ([]byte, error) {
	return json.Marshal(s.PendingSessions())
}

// ClearPendingSessions empties the pending log.
func (s *Store) ClearPendingSessions() error {
	return s.Update(func(st *model.SchedulingState) error {
		st.PendingSessions = []model.Session{}
		return nil
	})
}

// RemovePending drops the given session ids, keeping anything appended since
// they were read.
func (s *Store) RemovePending(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	return s.Update(func(st *model.SchedulingState) error {
		kept := st.PendingSessions[:0]
		for _, sess := range st.PendingSessions {
			if !drop[sess.ID] {
				kept = append(kept, sess)
			}
		}
		st.PendingSessions = kept
		return nil
	})
}

// SetGlobalActive flips the global flag without touching the prayer snapshot.
func (s *Store) SetGlobalActive(active bool) error {
	return s.Update(func(st *model.SchedulingState) error {
		st.IsGloballyActive = active
		return nil
	})
}

// BeginSilence records the current-silence window and clears
// last_system_disable_at, since the app now owns the silence again.
func (s *Store) BeginSilence(cs model.CurrentSilence) error {
	return s.Update(func(st *model.SchedulingState) error {
		st.SetCurrent(cs)
		st.LastSystemDisableAt = nil
		return nil
	})
}

// CloseSilence ends a silence window in one write: it builds the session from
// the current-silence record (or from fallback when the record is absent or
// belongs to another prayer), appends it to the pending log and clears the
// record if it was the one closed. A completed close stamps last_system_disable_at with end; an
// interrupted one clears it, since silence was already off by the user's hand.
func (s *Store) CloseSilence(fallback model.CurrentSilence, end time.Time, status model.SessionStatus, source model.SessionSource) (model.Session, error) {
	var sess model.Session
	err := s.Update(func(st *model.SchedulingState) error {
		cs, ok := st.Current()
		own := ok && (fallback.Prayer == "" || cs.Prayer == fallback.Prayer)
		if !own {
			cs = fallback
		}
		if cs.DurationMinutes <= 0 {
			cs.DurationMinutes = fallback.DurationMinutes
		}
		sess = model.Session{
			ID:              uuid.NewString(),
			PrayerName:      cs.Prayer,
			StartTime:       cs.Start,
			EndTime:         end,
			DurationMinutes: cs.DurationMinutes,
			Status:          status,
			Source:          source,
		}
		if !sess.EndTime.After(sess.StartTime) {
			sess.EndTime = sess.StartTime.Add(time.Second)
		}
		st.PendingSessions = append(st.PendingSessions, sess)
		if own {
			st.ClearCurrent()
		}
		if status == model.SessionInterrupted {
			st.LastSystemDisableAt = nil
			return nil
		}
		stamp := end
		st.LastSystemDisableAt = &stamp
		return nil
	})
	return sess, err
}
