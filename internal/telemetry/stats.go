package telemetry

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"sync"
)

var (
	// ErrNoReadings is returned when an update carries no axis values.
	ErrNoReadings = errors.New("telemetry: reading has no axes")

	// ErrInvalidReading is returned for NaN or infinite axis values, which
	// would break the min <= current <= max invariant.
	ErrInvalidReading = errors.New("telemetry: axis value is not finite")
)

// AxisStats holds the running statistics of one axis.
// Diff and Changed are only meaningful when HasDiff is true, which happens
// once the axis has seen at least two samples.
type AxisStats struct {
	Current float64
	Min     float64
	Max     float64
	Diff    float64
	Changed bool
	HasDiff bool
}

// StreamState is a point-in-time copy of one stream's axis statistics.
type StreamState struct {
	Stream  string
	Axes    map[string]AxisStats
	Samples int
}

// Labels returns the axis labels in sorted order.
func (s StreamState) Labels() []string {
	return slices.Sorted(maps.Keys(s.Axes))
}

func (s StreamState) clone() StreamState {
	s.Axes = maps.Clone(s.Axes)
	return s
}

type streamEntry struct {
	mu    sync.Mutex
	state StreamState
}

// Tracker maintains running min/max/current/diff per labeled axis for each
// stream and flags axes whose signed diff exceeds the shared threshold.
// Each stream is updated as a whole under its own lock.
type Tracker struct {
	threshold *Threshold

	mu      sync.RWMutex
	streams map[string]*streamEntry
}

// NewTracker creates a Tracker that compares diffs against threshold.
func NewTracker(threshold *Threshold) *Tracker {
	if threshold == nil {
		threshold = NewThreshold(DefaultThreshold)
	}
	return &Tracker{
		threshold: threshold,
		streams:   make(map[string]*streamEntry),
	}
}

// Update folds one reading into the stream's state and returns a copy of the
// result. The first reading of a stream (or of a new axis) initializes
// current, min and max to the reading and produces no diff.
//
// For later readings diff = previous current - reading, and the axis is
// flagged when diff > threshold. The comparison is signed: a drop larger than
// the threshold is flagged, a rise of any size is not.
func (t *Tracker) Update(streamID string, readings map[string]float64) (StreamState, error) {
	if len(readings) == 0 {
		return StreamState{}, ErrNoReadings
	}
	for label, v := range readings {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return StreamState{}, fmt.Errorf("%w: %s.%s = %v", ErrInvalidReading, streamID, label, v)
		}
	}

	e := t.entry(streamID)
	e.mu.Lock()
	defer e.mu.Unlock()

	threshold := t.threshold.Load()

	// Work on a copy and swap it in at the end so current never moves ahead
	// of diff/changed for an observer of the committed state.
	next := e.state.clone()
	if next.Axes == nil {
		next.Axes = make(map[string]AxisStats, len(readings))
	}
	next.Stream = streamID

	for label, v := range readings {
		prev, seen := next.Axes[label]
		if !seen {
			next.Axes[label] = AxisStats{Current: v, Min: v, Max: v}
			continue
		}
		diff := prev.Current - v
		next.Axes[label] = AxisStats{
			Current: v,
			Min:     math.Min(prev.Min, v),
			Max:     math.Max(prev.Max, v),
			Diff:    diff,
			Changed: diff > threshold,
			HasDiff: true,
		}
	}
	next.Samples++

	e.state = next
	return next.clone(), nil
}

// Snapshot returns a copy of one stream's state.
func (t *Tracker) Snapshot(streamID string) (StreamState, bool) {
	t.mu.RLock()
	e, ok := t.streams[streamID]
	t.mu.RUnlock()
	if !ok {
		return StreamState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone(), true
}

// Snapshots returns copies of every stream's state keyed by stream ID.
func (t *Tracker) Snapshots() map[string]StreamState {
	t.mu.RLock()
	entries := maps.Clone(t.streams)
	t.mu.RUnlock()

	out := make(map[string]StreamState, len(entries))
	for id, e := range entries {
		e.mu.Lock()
		out[id] = e.state.clone()
		e.mu.Unlock()
	}
	return out
}

// Reset discards the state of every stream. The next reading of each stream
// is treated as its first.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.streams = make(map[string]*streamEntry)
	t.mu.Unlock()
}

// ResetStream discards one stream's state. It reports whether the stream existed.
func (t *Tracker) ResetStream(streamID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.streams[streamID]
	delete(t.streams, streamID)
	return ok
}

func (t *Tracker) entry(streamID string) *streamEntry {
	t.mu.RLock()
	e, ok := t.streams[streamID]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.streams[streamID]; !ok {
		e = &streamEntry{}
		t.streams[streamID] = e
	}
	return e
}
