package dispatch

import "time"

// Recorder observes routine setups and solves.
type Recorder interface {
	ObserveSetup(routine string, elapsed time.Duration, err error)
	ObserveSolve(routine, status string, iterations int, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveSetup(string, time.Duration, error) {}

func (nopRecorder) ObserveSolve(string, string, int, time.Duration) {}
