// Package history is the durable session history that the pending log drains
// into.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/msageha/sakina/internal/logging"
	"github.com/msageha/sakina/internal/model"

	_ "modernc.org/sqlite"
)

// Fixed-width UTC timestamps so string comparison in SQL orders correctly.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// PendingLog is the source of a drain; *state.Store satisfies it.
type PendingLog interface {
	PendingSessions() []model.Session
	RemovePending(ids []string) error
}

type Store struct {
	db      *sql.DB
	pending PendingLog
	dedupe  bool
	group   singleflight.Group
	logger  *logging.Logger
}

// DrainResult counts what a drain did with each pending session.
type DrainResult struct {
	Imported   int `json:"imported"`
	Duplicates int `json:"duplicates"`
}

func Open(dbPath string, pending PendingLog, dedupe bool, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, pending: pending, dedupe: dedupe, logger: logger}
	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
  id TEXT PRIMARY KEY,
  prayer_name TEXT NOT NULL,
  start_time TEXT NOT NULL,
  end_time TEXT NOT NULL,
  duration_minutes INTEGER NOT NULL,
  status TEXT NOT NULL,
  source TEXT,
  drained_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_start ON sessions(start_time);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// Drain moves every pending session into history. Concurrent drains share one
// run. Only the drained ids are removed from the pending log, so sessions
// appended meanwhile survive; a crash between commit and removal is repaired
// by the next drain, which skips ids already stored.
func (s *Store) Drain(ctx context.Context) (DrainResult, error) {
	v, err, shared := s.group.Do("drain", func() (any, error) {
		return s.drain(ctx)
	})
	if shared {
		s.logger.Debug("drain coalesced with a running one")
	}
	res, _ := v.(DrainResult)
	return res, err
}

func (s *Store) drain(ctx context.Context) (DrainResult, error) {
	var res DrainResult
	pending := s.pending.PendingSessions()
	if len(pending) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin drain: %w", err)
	}
	defer tx.Rollback()

	drainedAt := time.Now().UTC().Format(timeLayout)
	ids := make([]string, 0, len(pending))
	for _, sess := range pending {
		ids = append(ids, sess.ID)
		if s.dedupe {
			dup, err := overlapsStored(ctx, tx, sess)
			if err != nil {
				return res, err
			}
			if dup {
				s.logger.Info("duplicate session dropped prayer=%s start=%s source=%s", sess.PrayerName, sess.StartTime.Format(time.RFC3339), sess.Source)
				res.Duplicates++
				continue
			}
		}
		r, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO sessions (id, prayer_name, start_time, end_time, duration_minutes, status, source, drained_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID,
			sess.PrayerName,
			sess.StartTime.UTC().Format(timeLayout),
			sess.EndTime.UTC().Format(timeLayout),
			sess.DurationMinutes,
			string(sess.Status),
			string(sess.Source),
			drainedAt,
		)
		if err != nil {
			return res, fmt.Errorf("insert session %s: %w", sess.ID, err)
		}
		if n, _ := r.RowsAffected(); n == 0 {
			res.Duplicates++
			continue
		}
		res.Imported++
	}
	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit drain: %w", err)
	}
	if err := s.pending.RemovePending(ids); err != nil {
		return res, fmt.Errorf("clear drained sessions: %w", err)
	}
	s.logger.Info("drained imported=%d duplicates=%d", res.Imported, res.Duplicates)
	return res, nil
}

// overlapsStored reports whether history already has a session that overlaps
// sess in time and shares at least one prayer name. Both layers can record
// the same window; the first one stored wins.
func overlapsStored(ctx context.Context, tx *sql.Tx, sess model.Session) (bool, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT prayer_name FROM sessions WHERE id <> ? AND start_time < ? AND end_time > ?`,
		sess.ID,
		sess.EndTime.UTC().Format(timeLayout),
		sess.StartTime.UTC().Format(timeLayout),
	)
	if err != nil {
		return false, fmt.Errorf("query overlapping sessions: %w", err)
	}
	defer rows.Close()

	names := nameSet(sess.PrayerName)
	for rows.Next() {
		var stored string
		if err := rows.Scan(&stored); err != nil {
			return false, fmt.Errorf("scan session: %w", err)
		}
		for n := range nameSet(stored) {
			if names[n] {
				return true, nil
			}
		}
	}
	return false, rows.Err()
}

func nameSet(joined string) map[string]bool {
	set := map[string]bool{}
	for _, n := range strings.Split(joined, ",") {
		if n = strings.TrimSpace(n); n != "" {
			set[n] = true
		}
	}
	return set
}

// List returns up to limit sessions, newest first. limit <= 0 means all.
func (s *Store) List(ctx context.Context, limit int) ([]model.Session, error) {
	q := `SELECT id, prayer_name, start_time, end_time, duration_minutes, status, COALESCE(source, '') FROM sessions ORDER BY start_time DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := []model.Session{}
	for rows.Next() {
		var (
			sess       model.Session
			start, end string
			status     string
			source     string
		)
		if err := rows.Scan(&sess.ID, &sess.PrayerName, &start, &end, &sess.DurationMinutes, &status, &source); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if sess.StartTime, err = time.Parse(timeLayout, start); err != nil {
			return nil, fmt.Errorf("parse start of %s: %w", sess.ID, err)
		}
		if sess.EndTime, err = time.Parse(timeLayout, end); err != nil {
			return nil, fmt.Errorf("parse end of %s: %w", sess.ID, err)
		}
		sess.Status = model.SessionStatus(status)
		sess.Source = model.SessionSource(source)
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Count returns the number of stored sessions.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}
