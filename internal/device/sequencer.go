package device

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// State is a sequencer state.
type State int

const (
	StateIdle State = iota
	StateDiscovering
	StateConnecting
	StateEnabling
	StateListening
	StateFailed
)

var stateNames = [...]string{
	StateIdle:        "idle",
	StateDiscovering: "discovering",
	StateConnecting:  "connecting",
	StateEnabling:    "enabling",
	StateListening:   "listening",
	StateFailed:      "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// StepReport records how one setup step went.
type StepReport struct {
	Name   string `json:"name"`
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// Status is a point-in-time view of the sequencer.
type Status struct {
	State    string       `json:"state"`
	Step     string       `json:"step,omitempty"`
	DeviceID string       `json:"device_id,omitempty"`
	Driver   string       `json:"driver"`
	Error    string       `json:"error,omitempty"`
	Steps    []StepReport `json:"steps"`
}

// Sequencer drives one device from discovery to listening. It runs each
// step after the previous one returns and attaches the listener only after
// the last step, so no reading reaches the pipeline during setup.
type Sequencer struct {
	driver   Driver
	steps    []Step
	listener Listener
	onDevice func(Device)
	logger   *zap.Logger

	mu      sync.RWMutex
	state   State
	step    string
	device  Device
	err     error
	reports []StepReport
}

// SequencerOption configures a Sequencer.
type SequencerOption func(*Sequencer)

// WithSteps replaces DefaultSteps.
func WithSteps(steps []Step) SequencerOption {
	return func(s *Sequencer) { s.steps = steps }
}

// OnDevice registers a hook called once a device has been discovered,
// before setup starts.
func OnDevice(fn func(Device)) SequencerOption {
	return func(s *Sequencer) { s.onDevice = fn }
}

// NewSequencer creates a sequencer in StateIdle.
func NewSequencer(driver Driver, listener Listener, logger *zap.Logger, opts ...SequencerOption) *Sequencer {
	s := &Sequencer{
		driver:   driver,
		steps:    DefaultSteps(),
		listener: listener,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setState(StateIdle, "")
	return s
}

// Run discovers a device and brings it up. It returns nil once the listener
// is attached. A strict step failure leaves the sequencer in StateFailed for
// good; there is no retry.
func (s *Sequencer) Run(ctx context.Context) error {
	s.setState(StateDiscovering, "")
	s.logger.Info("discovering device", zap.String("driver", s.driver.Name()))

	dev, err := s.driver.Discover(ctx)
	if err != nil {
		s.setState(StateIdle, "")
		return fmt.Errorf("discover: %w", err)
	}

	s.mu.Lock()
	s.device = dev
	s.mu.Unlock()
	s.logger.Info("device discovered", zap.String("device_id", dev.ID()))
	if s.onDevice != nil {
		s.onDevice(dev)
	}

	for i, step := range s.steps {
		if i == 0 {
			s.setState(StateConnecting, step.Name)
		} else {
			s.setState(StateEnabling, step.Name)
		}

		stepErr := step.Run(ctx, dev)
		result := Evaluate(step.Policy, stepErr)
		s.report(step.Name, result, stepErr)

		switch result {
		case StepFatal:
			s.mu.Lock()
			s.err = stepErr
			s.mu.Unlock()
			s.setState(StateFailed, step.Name)
			s.logger.Error("device setup failed",
				zap.String("device_id", dev.ID()),
				zap.String("step", step.Name),
				zap.Error(stepErr),
			)
			return fmt.Errorf("%s: %w", step.Name, stepErr)
		case StepWarning:
			s.logger.Warn("device setup step failed, continuing",
				zap.String("device_id", dev.ID()),
				zap.String("step", step.Name),
				zap.Error(stepErr),
			)
		default:
			s.logger.Debug("device setup step done", zap.String("step", step.Name))
		}
	}

	dev.Listen(s.listener)
	s.setState(StateListening, "")
	s.logger.Info("device listening", zap.String("device_id", dev.ID()))
	return nil
}

// State returns the current state.
func (s *Sequencer) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Device returns the discovered device, or nil before discovery.
func (s *Sequencer) Device() Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.device
}

// Status returns a copy of the sequencer's progress.
func (s *Sequencer) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		State:  s.state.String(),
		Step:   s.step,
		Driver: s.driver.Name(),
		Steps:  append([]StepReport(nil), s.reports...),
	}
	if s.device != nil {
		st.DeviceID = s.device.ID()
	}
	if s.err != nil {
		st.Error = s.err.Error()
	}
	return st
}

func (s *Sequencer) setState(state State, step string) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.step = step
	s.mu.Unlock()

	stateGauge.WithLabelValues(prev.String()).Set(0)
	stateGauge.WithLabelValues(state.String()).Set(1)
}

func (s *Sequencer) report(name string, result StepResult, err error) {
	r := StepReport{Name: name, Result: result.String()}
	if err != nil {
		r.Error = err.Error()
	}
	s.mu.Lock()
	s.reports = append(s.reports, r)
	s.mu.Unlock()
	stepResultsTotal.WithLabelValues(name, result.String()).Inc()
}
