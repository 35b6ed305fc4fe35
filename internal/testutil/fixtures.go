// Package testutil holds fixtures and helpers shared by package tests.
package testutil

import (
	"time"

	"github.com/HerbHall/tagwatch/internal/telemetry"
)

// NewRecord returns a first-sample accelerometer record, suitable for test
// fixtures. Override individual fields with options.
func NewRecord(opts ...func(*telemetry.ChangeRecord)) telemetry.ChangeRecord {
	r := telemetry.ChangeRecord{
		Stream: telemetry.StreamAccelerometer,
		Axes: map[string]telemetry.AxisStats{
			"X": {Current: 0, Min: 0, Max: 0},
			"Y": {Current: 0, Min: 0, Max: 0},
			"Z": {Current: 1, Min: 1, Max: 1},
		},
		Timestamp:   time.Now().UTC(),
		DataVersion: telemetry.DataVersion,
		DataType:    telemetry.TypeAccel,
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// WithStream sets the stream and type tag.
func WithStream(stream, typeTag string) func(*telemetry.ChangeRecord) {
	return func(r *telemetry.ChangeRecord) {
		r.Stream = stream
		r.DataType = typeTag
	}
}

// WithAxis replaces one axis.
func WithAxis(name string, a telemetry.AxisStats) func(*telemetry.ChangeRecord) {
	return func(r *telemetry.ChangeRecord) {
		axes := make(map[string]telemetry.AxisStats, len(r.Axes)+1)
		for k, v := range r.Axes {
			axes[k] = v
		}
		axes[name] = a
		r.Axes = axes
		r.ChangeDetected = false
		for _, v := range axes {
			r.ChangeDetected = r.ChangeDetected || (v.HasDiff && v.Changed)
		}
	}
}

// WithDrop makes axis name a flagged drop from prev to cur.
func WithDrop(name string, prev, cur float64) func(*telemetry.ChangeRecord) {
	return WithAxis(name, telemetry.AxisStats{
		Current: cur,
		Min:     min(prev, cur),
		Max:     max(prev, cur),
		Diff:    prev - cur,
		Changed: true,
		HasDiff: true,
	})
}

// WithTimestamp pins the record time.
func WithTimestamp(ts time.Time) func(*telemetry.ChangeRecord) {
	return func(r *telemetry.ChangeRecord) { r.Timestamp = ts }
}
