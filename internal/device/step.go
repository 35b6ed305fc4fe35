package device

import "context"

// StepResult is the outcome of one setup step after its policy is applied.
type StepResult int

const (
	StepOK StepResult = iota
	StepWarning
	StepFatal
)

func (r StepResult) String() string {
	switch r {
	case StepOK:
		return "ok"
	case StepWarning:
		return "warning"
	case StepFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// FailurePolicy decides what a step error means for the sequence.
type FailurePolicy int

const (
	// Lenient steps log their error and let the sequence continue.
	Lenient FailurePolicy = iota
	// Strict steps stop the sequence on error.
	Strict
)

// Step is one setup call.
type Step struct {
	Name   string
	Policy FailurePolicy
	Run    func(ctx context.Context, d Device) error
}

// Evaluate maps a step error to a result under policy.
func Evaluate(policy FailurePolicy, err error) StepResult {
	switch {
	case err == nil:
		return StepOK
	case policy == Strict:
		return StepFatal
	default:
		return StepWarning
	}
}

// Step names used in logs, metrics and the status route.
const (
	StepConnect             = "connect"
	StepEnableAccelerometer = "enable_accelerometer"
	StepNotifyAccelerometer = "notify_accelerometer"
	StepEnableHumidity      = "enable_humidity"
	StepNotifySimpleKey     = "notify_simple_key"
)

// DefaultSteps is the SensorTag bring-up: a strict connect followed by
// lenient capability enables.
func DefaultSteps() []Step {
	return []Step{
		{Name: StepConnect, Policy: Strict, Run: func(ctx context.Context, d Device) error { return d.ConnectAndSetUp(ctx) }},
		{Name: StepEnableAccelerometer, Policy: Lenient, Run: func(ctx context.Context, d Device) error { return d.EnableAccelerometer(ctx) }},
		{Name: StepNotifyAccelerometer, Policy: Lenient, Run: func(ctx context.Context, d Device) error { return d.NotifyAccelerometer(ctx) }},
		{Name: StepEnableHumidity, Policy: Lenient, Run: func(ctx context.Context, d Device) error { return d.EnableHumidity(ctx) }},
		{Name: StepNotifySimpleKey, Policy: Lenient, Run: func(ctx context.Context, d Device) error { return d.NotifySimpleKey(ctx) }},
	}
}
