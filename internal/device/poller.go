package device

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/HerbHall/tagwatch/internal/telemetry"
	"go.uber.org/zap"
)

// Poller reads humidity from a device on a fixed interval and hands each
// sample to the processor. A failed read skips that tick.
type Poller struct {
	device   Device
	proc     Processor
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoller creates a poller for device. The interval is fixed for the
// poller's lifetime.
func NewPoller(device Device, proc Processor, interval time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		device:   device,
		proc:     proc,
		interval: interval,
		logger:   logger,
	}
}

// Start begins polling. It returns immediately.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	loopCtx := p.ctx

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				p.tick(loopCtx)
			}
		}
	}()
}

// Stop cancels the timer and waits for an in-flight tick to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

// Running reports whether the polling loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctx != nil && p.ctx.Err() == nil
}

func (p *Poller) tick(ctx context.Context) {
	readCtx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	temperature, humidity, err := p.device.ReadHumidity(readCtx)
	if err != nil {
		readErrorsTotal.Inc()
		level := zap.WarnLevel
		if errors.Is(err, ErrNoReading) {
			level = zap.DebugLevel
		}
		p.logger.Log(level, "humidity read failed, skipping tick",
			zap.String("device_id", p.device.ID()),
			zap.Error(err),
		)
		return
	}

	if p.proc == nil {
		return
	}
	if _, err := p.proc.Process(ctx, telemetry.HumidityReading(temperature, humidity)); err != nil {
		p.logger.Warn("humidity reading rejected", zap.Error(err))
	}
}
