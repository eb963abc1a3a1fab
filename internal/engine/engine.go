// Package engine coordinates the two scheduling layers behind one interface.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/msageha/sakina/internal/logging"
	"github.com/msageha/sakina/internal/model"
)

// Engine is one scheduling layer.
type Engine interface {
	Name() string
	// Available is false when the layer cannot run on this platform or host.
	Available(ctx context.Context) bool
	Arm(ctx context.Context, snap model.Snapshot) error
	Stop(ctx context.Context) error
}

// StateStore is the durable prayer snapshot; *state.Store satisfies it.
type StateStore interface {
	Load() model.SchedulingState
	SavePrayers(prayers []model.Prayer, active bool) error
}

// Coordinator serializes reschedules across both layers: the in-process loop
// is stopped and the durable timers rebuilt before either runs again.
type Coordinator struct {
	mu      sync.Mutex
	store   StateStore
	durable Engine
	loop    Engine
	logger  *logging.Logger
}

// NewCoordinator wires the durable layer (required) and the in-process loop
// (nil when the host cannot keep one alive).
func NewCoordinator(store StateStore, durable, loop Engine, logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Coordinator{store: store, durable: durable, loop: loop, logger: logger}
}

// Reschedule syncs the prayer set, stops the loop, arms the durable layer,
// then arms the loop if it is available. Every step runs even when an earlier
// one failed; a later call supersedes an earlier one.
func (c *Coordinator) Reschedule(ctx context.Context, prayers []model.Prayer, active bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := model.NewSnapshot(prayers, active)
	var errs []error

	if err := c.store.SavePrayers(snap.Prayers, snap.IsGloballyActive); err != nil {
		c.logger.Error("save prayers failed error=%v", err)
		errs = append(errs, fmt.Errorf("save prayers: %w", err))
	}

	if c.loop != nil {
		if err := c.loop.Stop(ctx); err != nil {
			c.logger.Warn("stop %s failed error=%v", c.loop.Name(), err)
			errs = append(errs, fmt.Errorf("stop %s: %w", c.loop.Name(), err))
		}
	}

	if err := c.durable.Arm(ctx, snap); err != nil {
		c.logger.Error("arm %s failed error=%v", c.durable.Name(), err)
		errs = append(errs, fmt.Errorf("arm %s: %w", c.durable.Name(), err))
	}

	switch {
	case c.loop == nil:
		c.logger.Warn("in-process loop not linked, durable timers only")
	case !c.loop.Available(ctx):
		c.logger.Warn("%s unavailable, durable timers only", c.loop.Name())
	default:
		if err := c.loop.Arm(ctx, snap); err != nil {
			c.logger.Warn("arm %s failed error=%v", c.loop.Name(), err)
			errs = append(errs, fmt.Errorf("arm %s: %w", c.loop.Name(), err))
		}
	}

	c.logger.Info("reschedule complete prayers=%d active=%t", len(snap.Prayers), snap.IsGloballyActive)
	return errors.Join(errs...)
}

// RescheduleStored reruns Reschedule from the durable snapshot, for contexts
// without the live prayer set (boot, clock change, timer fires).
func (c *Coordinator) RescheduleStored(ctx context.Context) error {
	st := c.store.Load()
	return c.Reschedule(ctx, st.Prayers, st.IsGloballyActive)
}

// Stop stops both layers.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.loop != nil {
		if err := c.loop.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.durable.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
