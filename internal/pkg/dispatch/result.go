package dispatch

import (
	"time"

	"github.com/google/uuid"
)

// StatusReport is published on msg.Status at every state change.
type StatusReport struct {
	Routine  string    `json:"routine" bson:"routine"`
	PID      uuid.UUID `json:"pid" bson:"pid"`
	State    string    `json:"state" bson:"state"`
	ExitCode int       `json:"exit_code" bson:"exit_code"`
	Err      string    `json:"error,omitempty" bson:"error,omitempty"`
}

// Result is published on msg.Result by Unpack.
type Result struct {
	Routine    string                 `json:"routine" bson:"routine"`
	PID        uuid.UUID              `json:"pid" bson:"pid"`
	Status     string                 `json:"status" bson:"status"`
	Objective  float64                `json:"objective" bson:"objective"`
	Iterations int                    `json:"iterations" bson:"iterations"`
	Runtime    time.Duration          `json:"runtime" bson:"runtime"`
	Period     *int                   `json:"period,omitempty" bson:"period,omitempty"`
	Vars       map[string][][]float64 `json:"vars" bson:"vars"`
	Time       time.Time              `json:"time" bson:"time"`
}
