// Package sim is a simulated SensorTag driver for development and tests.
// The simulated tag walks its accelerometer axes randomly and reports a
// slowly drifting temperature and humidity.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/HerbHall/tagwatch/internal/device"
	"github.com/HerbHall/tagwatch/pkg/plugin"
	"go.uber.org/zap"
)

var (
	_ device.Driver = (*Driver)(nil)
	_ device.Device = (*Tag)(nil)
)

// Config controls the simulated tag.
type Config struct {
	DeviceID    string
	Interval    time.Duration // accelerometer notification period
	Seed        uint64
	FailConnect bool
	// FailSteps lists setup step names (device.StepEnableHumidity, ...)
	// that return an error.
	FailSteps []string
}

// DefaultConfig returns the default simulation settings.
func DefaultConfig() Config {
	return Config{
		DeviceID: "sim-sensortag",
		Interval: 100 * time.Millisecond,
		Seed:     1,
	}
}

// Factory builds a sim driver from plugins.device.sim.
func Factory(cfg plugin.Config, logger *zap.Logger) (device.Driver, error) {
	c := DefaultConfig()
	if cfg != nil {
		if id := cfg.GetString("device_id"); id != "" {
			c.DeviceID = id
		}
		if d := cfg.GetDuration("interval"); d > 0 {
			c.Interval = d
		}
		if cfg.IsSet("seed") {
			c.Seed = uint64(cfg.GetInt("seed"))
		}
		c.FailConnect = cfg.GetBool("fail_connect")
	}
	if c.Interval <= 0 {
		return nil, errors.New("sim interval must be positive")
	}
	return New(c, logger), nil
}

// Driver discovers a single simulated tag.
type Driver struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a sim driver.
func New(cfg Config, logger *zap.Logger) *Driver {
	return &Driver{cfg: cfg, logger: logger}
}

func (d *Driver) Name() string { return "sim" }

// Discover returns a fresh simulated tag.
func (d *Driver) Discover(ctx context.Context) (device.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return NewTag(d.cfg, d.logger), nil
}

func (d *Driver) Close() error { return nil }

// Tag is a simulated SensorTag.
type Tag struct {
	cfg    Config
	logger *zap.Logger
	fail   map[string]bool

	mu          sync.Mutex
	rng         *rand.Rand
	connected   bool
	accelOn     bool
	accelNotify bool
	humidityOn  bool
	keyNotify   bool
	listener    device.Listener
	x, y, z     float64
	temperature float64
	humidity    float64
	ticks       int

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewTag creates a disconnected simulated tag.
func NewTag(cfg Config, logger *zap.Logger) *Tag {
	fail := make(map[string]bool, len(cfg.FailSteps))
	for _, s := range cfg.FailSteps {
		fail[s] = true
	}
	return &Tag{
		cfg:         cfg,
		logger:      logger,
		fail:        fail,
		rng:         rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x5eed)),
		z:           1,
		temperature: 21,
		humidity:    45,
	}
}

func (t *Tag) ID() string { return t.cfg.DeviceID }

func (t *Tag) ConnectAndSetUp(_ context.Context) error {
	if t.cfg.FailConnect {
		return errors.New("simulated connect failure")
	}
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

func (t *Tag) EnableAccelerometer(_ context.Context) error {
	return t.enable(device.StepEnableAccelerometer, &t.accelOn)
}

func (t *Tag) NotifyAccelerometer(_ context.Context) error {
	return t.enable(device.StepNotifyAccelerometer, &t.accelNotify)
}

func (t *Tag) EnableHumidity(_ context.Context) error {
	return t.enable(device.StepEnableHumidity, &t.humidityOn)
}

func (t *Tag) NotifySimpleKey(_ context.Context) error {
	return t.enable(device.StepNotifySimpleKey, &t.keyNotify)
}

func (t *Tag) enable(step string, flag *bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return device.ErrNotConnected
	}
	if t.fail[step] {
		return fmt.Errorf("simulated %s failure", step)
	}
	*flag = true
	return nil
}

// ReadHumidity returns the next drifting temperature/humidity pair.
func (t *Tag) ReadHumidity(_ context.Context) (float64, float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return 0, 0, device.ErrNotConnected
	}
	if !t.humidityOn {
		return 0, 0, device.ErrNoReading
	}
	t.temperature += t.rng.NormFloat64() * 0.1
	t.humidity = min(max(t.humidity+t.rng.NormFloat64()*0.5, 0), 100)
	return t.temperature, t.humidity, nil
}

// Listen attaches l and starts accelerometer notifications if they were
// enabled during setup.
func (t *Tag) Listen(l device.Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listener = l
	if t.stop != nil || !t.accelOn || !t.accelNotify {
		return
	}
	t.stop = make(chan struct{})
	t.wg.Add(1)
	go t.emit(t.stop)
}

func (t *Tag) Disconnect(_ context.Context) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return device.ErrNotConnected
	}
	t.connected = false
	stop := t.stop
	t.stop = nil
	l := t.listener
	t.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	t.wg.Wait()
	if l != nil {
		l.Disconnected(nil)
	}
	return nil
}

func (t *Tag) emit(stop <-chan struct{}) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.step()
		}
	}
}

// step advances the simulation one notification period and delivers the
// events outside the lock.
func (t *Tag) step() {
	t.mu.Lock()
	t.ticks++
	t.x += t.rng.NormFloat64() * 0.05
	t.y += t.rng.NormFloat64() * 0.05
	t.z += t.rng.NormFloat64() * 0.05
	x, y, z := t.x, t.y, t.z
	press := t.keyNotify && t.ticks%50 == 0
	l := t.listener
	t.mu.Unlock()

	if l == nil {
		return
	}
	l.AccelerometerChange(x, y, z)
	if press {
		l.KeyChange(true, false, false)
	}
}
