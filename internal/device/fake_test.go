package device

import (
	"context"
	"sync"

	"github.com/HerbHall/tagwatch/internal/telemetry"
)

// fakeDevice records calls in order and fails the steps listed in errs.
type fakeDevice struct {
	mu       sync.Mutex
	calls    []string
	errs     map[string]error
	listener Listener

	readErrs []error // consumed per ReadHumidity call; nil entry means success
	reads    int
}

func newFakeDevice(errs map[string]error) *fakeDevice {
	if errs == nil {
		errs = map[string]error{}
	}
	return &fakeDevice{errs: errs}
}

func (f *fakeDevice) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.errs[name]
}

func (f *fakeDevice) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeDevice) ID() string { return "fake-tag" }

func (f *fakeDevice) ConnectAndSetUp(context.Context) error { return f.record(StepConnect) }
func (f *fakeDevice) EnableAccelerometer(context.Context) error {
	return f.record(StepEnableAccelerometer)
}
func (f *fakeDevice) NotifyAccelerometer(context.Context) error {
	return f.record(StepNotifyAccelerometer)
}
func (f *fakeDevice) EnableHumidity(context.Context) error  { return f.record(StepEnableHumidity) }
func (f *fakeDevice) NotifySimpleKey(context.Context) error { return f.record(StepNotifySimpleKey) }

func (f *fakeDevice) ReadHumidity(context.Context) (float64, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.reads
	f.reads++
	if i < len(f.readErrs) && f.readErrs[i] != nil {
		return 0, 0, f.readErrs[i]
	}
	return 20 + float64(i), 50, nil
}

func (f *fakeDevice) Listen(l Listener) {
	_ = f.record("listen")
	f.mu.Lock()
	f.listener = l
	f.mu.Unlock()
}

func (f *fakeDevice) Disconnect(context.Context) error { return f.record("disconnect") }

// emit delivers an accelerometer event if a listener is attached.
func (f *fakeDevice) emit(x, y, z float64) bool {
	f.mu.Lock()
	l := f.listener
	f.mu.Unlock()
	if l == nil {
		return false
	}
	l.AccelerometerChange(x, y, z)
	return true
}

// fakeDriver hands out one device, or blocks until ctx is done when dev is nil.
type fakeDriver struct {
	dev *fakeDevice
}

func (d *fakeDriver) Name() string { return "fake" }

func (d *fakeDriver) Discover(ctx context.Context) (Device, error) {
	if d.dev == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return d.dev, nil
}

func (d *fakeDriver) Close() error { return nil }

// recordingProcessor captures readings.
type recordingProcessor struct {
	mu       sync.Mutex
	readings []telemetry.Reading
	err      error
}

func (p *recordingProcessor) Process(_ context.Context, r telemetry.Reading) (telemetry.ChangeRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readings = append(p.readings, r)
	return telemetry.ChangeRecord{Stream: r.Stream}, p.err
}

func (p *recordingProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.readings)
}

func (p *recordingProcessor) all() []telemetry.Reading {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]telemetry.Reading(nil), p.readings...)
}
