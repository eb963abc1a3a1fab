// Package sysevents turns system signals that invalidate absolute wake times
// into bus events: wall-clock jumps, timezone changes, resume from sleep and
// edits to the prayers or config files.
package sysevents

import (
	"context"
	"sync"

	"github.com/msageha/sakina/internal/logging"
)

// Source is a long-running producer. Run blocks until ctx is cancelled or the
// source cannot continue.
type Source interface {
	Name() string
	Run(ctx context.Context) error
}

// Start runs every source on its own goroutine tracked by wg. A source that
// fails is logged and left stopped; the others keep running.
func Start(ctx context.Context, wg *sync.WaitGroup, logger *logging.Logger, sources ...Source) {
	if logger == nil {
		logger = logging.Discard()
	}
	for _, src := range sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.Error("event source panicked source=%s panic=%v", src.Name(), r)
				}
			}()
			logger.Debug("event source started source=%s", src.Name())
			if err := src.Run(ctx); err != nil {
				logger.Warn("event source stopped source=%s error=%v", src.Name(), err)
				return
			}
			logger.Debug("event source stopped source=%s", src.Name())
		}(src)
	}
}
