// Package dispatch runs symbolic dispatch routines: it resolves their
// declarations against live device data, compiles them, solves the resulting
// program and writes the solution back.
package dispatch

import (
	"context"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_dispatch/internal/pkg/msg"
)

// Dispatcher is the lifecycle surface shared by every routine.
type Dispatcher interface {
	msg.Publisher
	PID() uuid.UUID
	Name() string
	Setup(context.Context) error
	IsSetup() bool
	Solve(context.Context, SolveOptions) error
	Unpack(context.Context, UnpackOptions) error
	Run(context.Context, RunOptions) error
	DC2AC(context.Context) error
	State() State
	ExitCode() int
	Err() error
	Report() StatusReport
}

var _ Dispatcher = (*Routine)(nil)
