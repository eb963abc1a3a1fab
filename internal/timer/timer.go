// Package timer registers wake-capable one-shot timers that outlive the
// process that armed them.
package timer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/msageha/sakina/internal/model"
)

// Timer is one registered one-shot wake-up.
type Timer struct {
	ID      int                `yaml:"id" json:"id"`
	FireAt  time.Time          `yaml:"fire_at" json:"fire_at"`
	Payload model.TimerPayload `yaml:"payload" json:"payload"`
}

// Timers is the OS timer registration capability. Register replaces any timer
// with the same id. Cancel of an absent id is a no-op.
type Timers interface {
	Register(ctx context.Context, fireAt time.Time, id int, payload model.TimerPayload) error
	Cancel(ctx context.Context, id int) error
	Registered(ctx context.Context) ([]Timer, error)
}

// SortByFireAt orders timers by fire time, then id.
func SortByFireAt(timers []Timer) {
	sort.Slice(timers, func(i, j int) bool {
		if timers[i].FireAt.Equal(timers[j].FireAt) {
			return timers[i].ID < timers[j].ID
		}
		return timers[i].FireAt.Before(timers[j].FireAt)
	})
}

// BatchCanceller is implemented by backends that cancel many ids in one write.
type BatchCanceller interface {
	CancelMany(ctx context.Context, ids []int) error
}

// CancelAll cancels every id, in one batch when the backend supports it.
// Individual failures do not stop the sweep; they are joined.
func CancelAll(ctx context.Context, t Timers, ids []int) error {
	if b, ok := t.(BatchCanceller); ok {
		return b.CancelMany(ctx, ids)
	}
	var errs []error
	for _, id := range ids {
		if err := t.Cancel(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("cancel timer %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// IDs returns the ids of timers, in order.
func IDs(timers []Timer) []int {
	ids := make([]int, len(timers))
	for i, t := range timers {
		ids[i] = t.ID
	}
	return ids
}
