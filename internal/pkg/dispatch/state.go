package dispatch

// State is the lifecycle position of a routine.
type State int

const (
	Uninitialized State = iota
	SetUp
	Solved
	Failed
)

func (s State) String() string {
	switch s {
	case SetUp:
		return "setup"
	case Solved:
		return "solved"
	case Failed:
		return "failed"
	}
	return "uninitialized"
}

// Exit codes reported by ExitCode. Solver outcomes other than optimal report
// the solver status value.
const (
	ExitOK          = 0
	ExitSetupFailed = -1
	ExitNotRun      = -2
	ExitUnknown     = -3
)
