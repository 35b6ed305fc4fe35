package telemetry

import (
	"math"
	"sync/atomic"
)

// DefaultThreshold is the change threshold used until a subscriber sends a
// new one.
const DefaultThreshold = 0.1

// Threshold is the shared minimum diff an axis must exceed to be flagged as
// changed. Reads and writes are atomic; any float64 is accepted, including
// zero and negative values.
type Threshold struct {
	bits atomic.Uint64
}

// NewThreshold returns a Threshold holding v.
func NewThreshold(v float64) *Threshold {
	t := &Threshold{}
	t.Store(v)
	return t
}

// Load returns the current threshold.
func (t *Threshold) Load() float64 {
	return math.Float64frombits(t.bits.Load())
}

// Store replaces the threshold and returns the previous value.
func (t *Threshold) Store(v float64) float64 {
	return math.Float64frombits(t.bits.Swap(math.Float64bits(v)))
}
