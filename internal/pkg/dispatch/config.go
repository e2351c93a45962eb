package dispatch

import (
	"fmt"
	"math"

	"github.com/ohowland/cgc_dispatch/internal/pkg/solver"
)

// Config holds the settings of one routine. A routine keeps its own copy;
// changing a Config after New has no effect on it.
type Config struct {
	// Interval is the length of one dispatch slot in hours.
	Interval float64 `yaml:"interval" mapstructure:"interval"`

	// Period is the default slot written back by Unpack for multi-period
	// variables. Nil leaves them in the routine only.
	Period *int `yaml:"period" mapstructure:"period"`

	Solver solver.Options `yaml:"solver" mapstructure:"solver"`
}

// DefaultConfig returns a one hour interval and the default solver options.
func DefaultConfig() Config {
	return Config{
		Interval: 1,
		Solver:   solver.DefaultOptions(),
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Interval <= 0 || math.IsInf(c.Interval, 0) || math.IsNaN(c.Interval) {
		return fmt.Errorf("%w: interval %g must be positive", ErrInvalidConfig, c.Interval)
	}
	if c.Solver.MaxIter < 0 {
		return fmt.Errorf("%w: solver max_iter %d", ErrInvalidConfig, c.Solver.MaxIter)
	}
	if c.Solver.TimeLimit < 0 {
		return fmt.Errorf("%w: solver time_limit %s", ErrInvalidConfig, c.Solver.TimeLimit)
	}
	if c.Solver.Alpha < 0 || c.Solver.Alpha >= 2 {
		return fmt.Errorf("%w: solver alpha %g outside [0, 2)", ErrInvalidConfig, c.Solver.Alpha)
	}
	return nil
}

func (c Config) clone() Config {
	if c.Period != nil {
		p := *c.Period
		c.Period = &p
	}
	return c
}
