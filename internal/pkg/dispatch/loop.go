package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/ohowland/cgc_dispatch/internal/pkg/msg"
)

// Loop runs d once immediately and then on every tick of interval. Any
// message on trigger runs it early. Loop returns when ctx is done or trigger
// is closed. Failed runs are logged and the loop continues. A non-positive
// interval is an ErrInvalidConfig and nothing runs.
func Loop(ctx context.Context, d Dispatcher, interval time.Duration, opts RunOptions, trigger <-chan msg.Msg) error {
	if interval <= 0 {
		return fmt.Errorf("%w: loop interval %s must be positive", ErrInvalidConfig, interval)
	}
	log := logr.FromContextOrDiscard(ctx).WithName("Loop").WithValues("routine", d.Name())
	log.Info("starting", "interval", interval)

	run := func() {
		if err := d.Run(ctx, opts); err != nil && !errors.Is(err, context.Canceled) {
			log.Error(err, "run failed", "exitCode", d.ExitCode())
		}
	}
	run()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("stopped")
			return ctx.Err()
		case m, ok := <-trigger:
			if !ok {
				log.Info("trigger closed")
				return nil
			}
			log.V(1).Info("triggered", "sender", m.PID().String(), "topic", m.Topic().String())
			run()
		case <-ticker.C:
			run()
		}
	}
}
