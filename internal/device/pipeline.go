package device

import (
	"context"

	"github.com/HerbHall/tagwatch/internal/telemetry"
	"go.uber.org/zap"
)

var _ Listener = (*Pipeline)(nil)

// Pipeline is the Listener that turns device events into engine readings.
// Key presses and disconnects are logged only.
type Pipeline struct {
	ctx    context.Context
	proc   Processor
	logger *zap.Logger
}

// NewPipeline creates a listener feeding proc. ctx bounds every Process call.
func NewPipeline(ctx context.Context, proc Processor, logger *zap.Logger) *Pipeline {
	return &Pipeline{ctx: ctx, proc: proc, logger: logger}
}

func (p *Pipeline) AccelerometerChange(x, y, z float64) {
	if p.proc == nil {
		return
	}
	if _, err := p.proc.Process(p.ctx, telemetry.AccelerometerReading(x, y, z)); err != nil {
		p.logger.Warn("accelerometer reading rejected", zap.Error(err))
	}
}

func (p *Pipeline) KeyChange(left, right, reedRelay bool) {
	p.logger.Info("key change",
		zap.Bool("left", left),
		zap.Bool("right", right),
		zap.Bool("reed_relay", reedRelay),
	)
}

func (p *Pipeline) Disconnected(err error) {
	p.logger.Warn("device disconnected", zap.Error(err))
}
