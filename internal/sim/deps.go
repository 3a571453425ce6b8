package sim

import (
	"time"

	"go.uber.org/zap"

	"breach-and-hold/server/internal/telemetry"
)

// Deps carries shared infrastructure dependencies required by the simulation engine.
type Deps struct {
	Logger  *zap.Logger
	Metrics telemetry.Metrics
	Clock   Clock
}

// Clock abstracts wall-clock access so loop tests can drive time manually.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts functions into the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock for ClockFunc.
func (f ClockFunc) Now() time.Time {
	if f == nil {
		return time.Time{}
	}
	return f()
}

// SystemClock reads the system time.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }
