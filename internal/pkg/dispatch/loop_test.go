package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_dispatch/internal/pkg/msg"
	"gotest.tools/v3/assert"
)

type countingDispatcher struct {
	*Routine
	mux  sync.Mutex
	runs int
	ran  chan struct{}
}

func (d *countingDispatcher) Run(context.Context, RunOptions) error {
	d.mux.Lock()
	d.runs++
	d.mux.Unlock()
	d.ran <- struct{}{}
	return errors.New("always fails")
}

func TestLoopTriggerAndStop(t *testing.T) {
	d := &countingDispatcher{
		Routine: singleGenRoutine(t, singleGenSystem(t)),
		ran:     make(chan struct{}, 8),
	}
	trigger := make(chan msg.Msg)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Loop(ctx, d, time.Hour, RunOptions{}, trigger)
	}()

	<-d.ran
	trigger <- msg.New(uuid.New(), msg.Status, nil)
	<-d.ran

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	d.mux.Lock()
	defer d.mux.Unlock()
	assert.Equal(t, d.runs, 2)
}

func TestLoopTriggerClosed(t *testing.T) {
	d := &countingDispatcher{
		Routine: singleGenRoutine(t, singleGenSystem(t)),
		ran:     make(chan struct{}, 8),
	}
	trigger := make(chan msg.Msg)
	close(trigger)

	err := Loop(context.Background(), d, time.Hour, RunOptions{}, trigger)
	assert.NilError(t, err)
	assert.Equal(t, d.runs, 1)
}

func TestLoopRejectsNonPositiveInterval(t *testing.T) {
	for _, interval := range []time.Duration{0, -time.Second} {
		d := &countingDispatcher{
			Routine: singleGenRoutine(t, singleGenSystem(t)),
			ran:     make(chan struct{}, 8),
		}
		err := Loop(context.Background(), d, interval, RunOptions{}, nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
		assert.Equal(t, d.runs, 0)
	}
}
