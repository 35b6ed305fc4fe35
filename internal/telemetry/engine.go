// Package telemetry is the sensor state engine: per-stream axis statistics,
// the change policy, record stamping, and hand-off of records to the cloud
// and live sinks over the event bus.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/HerbHall/tagwatch/pkg/plugin"
	"go.uber.org/zap"
)

// Bus topics published by the Engine. Both carry a ChangeRecord payload.
const (
	// TopicRecord is published for every processed reading.
	TopicRecord = "telemetry.record"
	// TopicChange is published only for records with ChangeDetected set.
	TopicChange = "telemetry.change"
)

// Stream identifiers produced by the device pipeline.
const (
	StreamAccelerometer = "accelerometer"
	StreamHumidity      = "humidity"
)

// Reading is one raw sample for a stream.
type Reading struct {
	Stream string
	Type   string // record type tag, e.g. TypeAccel
	Axes   map[string]float64
}

// AccelerometerReading builds the reading for an accelerometer axis triple.
func AccelerometerReading(x, y, z float64) Reading {
	return Reading{
		Stream: StreamAccelerometer,
		Type:   TypeAccel,
		Axes:   map[string]float64{"X": x, "Y": y, "Z": z},
	}
}

// HumidityReading builds the reading for a temperature/humidity pair.
func HumidityReading(temperature, humidity float64) Reading {
	return Reading{
		Stream: StreamHumidity,
		Type:   TypeTempAndHum,
		Axes:   map[string]float64{"Temperature": temperature, "Humidity": humidity},
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithThreshold sets the initial change threshold.
func WithThreshold(v float64) Option {
	return func(e *Engine) { e.threshold.Store(v) }
}

// WithVersioner overrides the record stamper (tests pin the clock with it).
func WithVersioner(v Versioner) Option {
	return func(e *Engine) { e.versioner = v }
}

// Engine owns the threshold and all stream state. Process calls are
// serialized so records for a stream leave in the order readings arrived.
type Engine struct {
	threshold *Threshold
	tracker   *Tracker
	versioner Versioner
	bus       plugin.Publisher
	logger    *zap.Logger

	mu sync.Mutex
}

// NewEngine creates an Engine that publishes records on bus.
// A nil bus is allowed; records are then only returned to the caller.
func NewEngine(bus plugin.Publisher, logger *zap.Logger, opts ...Option) *Engine {
	th := NewThreshold(DefaultThreshold)
	e := &Engine{
		threshold: th,
		tracker:   NewTracker(th),
		versioner: NewVersioner(),
		bus:       bus,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	thresholdGauge.Set(e.threshold.Load())
	return e
}

// Process runs one reading through the pipeline: update the stream, build
// the stamped record, offer it to the cloud gate when a change was detected,
// and hand it to the live subscribers unconditionally.
func (e *Engine) Process(ctx context.Context, r Reading) (ChangeRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := e.tracker.Update(r.Stream, r.Axes)
	if err != nil {
		return ChangeRecord{}, fmt.Errorf("update stream %q: %w", r.Stream, err)
	}

	rec := Aggregate(state, r.Type, e.versioner)
	readingsTotal.WithLabelValues(r.Stream).Inc()

	if rec.ChangeDetected {
		changesTotal.WithLabelValues(r.Stream).Inc()
		e.logger.Debug("change detected",
			zap.String("stream", r.Stream),
			zap.Int("samples", state.Samples),
		)
		e.publish(ctx, TopicChange, rec)
	}
	e.publish(ctx, TopicRecord, rec)

	return rec, nil
}

func (e *Engine) publish(ctx context.Context, topic string, rec ChangeRecord) {
	if e.bus == nil {
		return
	}
	err := e.bus.Publish(ctx, plugin.Event{
		Topic:     topic,
		Source:    "telemetry",
		Timestamp: time.Now(),
		Payload:   rec,
	})
	if err != nil {
		e.logger.Warn("record publish failed",
			zap.String("topic", topic),
			zap.String("stream", rec.Stream),
			zap.Error(err),
		)
	}
}

// Threshold returns the current change threshold.
func (e *Engine) Threshold() float64 {
	return e.threshold.Load()
}

// SetThreshold replaces the change threshold. The value is taken as is; a
// negative threshold also flags flat and slightly rising samples.
func (e *Engine) SetThreshold(v float64) {
	prev := e.threshold.Store(v)
	thresholdGauge.Set(v)
	e.logger.Info("threshold changed",
		zap.Float64("previous", prev),
		zap.Float64("threshold", v),
	)
}

// Reset clears every stream's state.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tracker.Reset()
	resetsTotal.Inc()
	e.logger.Info("stream state cleared")
}

// ResetStream clears one stream's state and reports whether it existed.
func (e *Engine) ResetStream(streamID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracker.ResetStream(streamID)
}

// Snapshot returns a copy of one stream's state.
func (e *Engine) Snapshot(streamID string) (StreamState, bool) {
	return e.tracker.Snapshot(streamID)
}

// Streams returns copies of every stream's state.
func (e *Engine) Streams() map[string]StreamState {
	return e.tracker.Snapshots()
}
