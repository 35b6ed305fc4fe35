package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/HerbHall/tagwatch/pkg/plugin"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HTTPProvider  = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
)

// Config holds the plugins.device settings.
type Config struct {
	Driver       string        `mapstructure:"driver"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// DefaultConfig returns the default device settings.
func DefaultConfig() Config {
	return Config{
		Driver:       "sim",
		PollInterval: time.Second,
	}
}

// Module owns the device sequencer and the humidity poller.
type Module struct {
	proc      Processor
	factories map[string]DriverFactory
	logger    *zap.Logger
	cfg       Config
	driver    Driver
	seq       *Sequencer

	mu     sync.Mutex
	poller *Poller
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the device module. proc receives readings; factories maps
// driver names to constructors.
func New(proc Processor, factories map[string]DriverFactory) *Module {
	return &Module{proc: proc, factories: factories}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "device",
		Version:      "0.1.0",
		Description:  "Discovers a SensorTag, enables its sensors and feeds readings to the engine",
		Dependencies: []string{"cloud", "live"},
		Roles:        []string{"source"},
		Required:     true,
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.cfg = DefaultConfig()

	var driverCfg plugin.Config
	if c := deps.Config; c != nil {
		if d := c.GetString("driver"); d != "" {
			m.cfg.Driver = d
		}
		if d := c.GetDuration("poll_interval"); d > 0 {
			m.cfg.PollInterval = d
		}
		driverCfg = c.Sub(m.cfg.Driver)
	}

	factory, ok := m.factories[m.cfg.Driver]
	if !ok {
		return fmt.Errorf("unknown device driver %q (available: %v)", m.cfg.Driver, m.driverNames())
	}
	driver, err := factory(driverCfg, m.logger.Named(m.cfg.Driver))
	if err != nil {
		return fmt.Errorf("create %s driver: %w", m.cfg.Driver, err)
	}
	m.driver = driver

	m.logger.Info("device module initialized",
		zap.String("driver", m.cfg.Driver),
		zap.Duration("poll_interval", m.cfg.PollInterval),
	)
	return nil
}

// Start launches discovery and setup in the background and returns.
func (m *Module) Start(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	listener := NewPipeline(ctx, m.proc, m.logger)
	m.seq = NewSequencer(m.driver, listener, m.logger, OnDevice(func(d Device) {
		m.startPoller(ctx, d)
	}))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.seq.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("device pipeline inert", zap.Error(err))
		}
	}()
	return nil
}

// Stop cancels setup, stops the poller and releases the device.
func (m *Module) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	m.mu.Lock()
	poller := m.poller
	m.poller = nil
	m.mu.Unlock()
	if poller != nil {
		poller.Stop()
	}

	var errs []error
	if m.seq != nil {
		if d := m.seq.Device(); d != nil {
			if err := d.Disconnect(ctx); err != nil && !errors.Is(err, ErrNotConnected) {
				errs = append(errs, fmt.Errorf("disconnect %s: %w", d.ID(), err))
			}
		}
	}
	if m.driver != nil {
		if err := m.driver.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close driver: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: http.MethodGet, Path: "/state", Handler: m.handleState},
	}
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	if m.seq == nil {
		return plugin.HealthStatus{Status: "degraded", Message: "not started"}
	}
	st := m.seq.Status()
	switch m.seq.State() {
	case StateListening:
		return plugin.HealthStatus{Status: "healthy", Message: "listening to " + st.DeviceID}
	case StateFailed:
		return plugin.HealthStatus{Status: "unhealthy", Message: st.Error}
	default:
		return plugin.HealthStatus{Status: "degraded", Message: "device " + st.State}
	}
}

// Ready returns nil once the device is listening.
func (m *Module) Ready(_ context.Context) error {
	if m.seq == nil {
		return errors.New("device module not started")
	}
	if s := m.seq.State(); s != StateListening {
		return fmt.Errorf("device %s", s)
	}
	return nil
}

// Sequencer returns the running sequencer, or nil before Start.
func (m *Module) Sequencer() *Sequencer { return m.seq }

func (m *Module) startPoller(ctx context.Context, d Device) {
	p := NewPoller(d, m.proc, m.cfg.PollInterval, m.logger.Named("poller"))
	m.mu.Lock()
	m.poller = p
	m.mu.Unlock()
	p.Start(ctx)
}

func (m *Module) handleState(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if m.seq == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(Status{State: StateIdle.String(), Driver: m.cfg.Driver})
		return
	}
	_ = json.NewEncoder(w).Encode(m.seq.Status())
}

func (m *Module) driverNames() []string {
	names := make([]string, 0, len(m.factories))
	for name := range m.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
