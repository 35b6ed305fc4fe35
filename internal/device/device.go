// Package device brings a SensorTag online and feeds its readings into the
// telemetry engine. Drivers (simulated, MQTT gateway) live in subpackages
// and are selected by name at startup.
package device

import (
	"context"
	"errors"

	"github.com/HerbHall/tagwatch/internal/telemetry"
	"github.com/HerbHall/tagwatch/pkg/plugin"
	"go.uber.org/zap"
)

var (
	// ErrNoReading is returned by ReadHumidity when the sensor had no sample.
	ErrNoReading = errors.New("no reading available")
	// ErrNotConnected is returned for calls on a device that is not connected.
	ErrNotConnected = errors.New("device not connected")
)

// Listener receives raw device events. A device delivers nothing until a
// listener is attached with Listen.
type Listener interface {
	AccelerometerChange(x, y, z float64)
	KeyChange(left, right, reedRelay bool)
	Disconnected(err error)
}

// Device is one discovered SensorTag. Setup calls are issued one at a time
// by the Sequencer, in declared order.
type Device interface {
	ID() string
	ConnectAndSetUp(ctx context.Context) error
	EnableAccelerometer(ctx context.Context) error
	NotifyAccelerometer(ctx context.Context) error
	EnableHumidity(ctx context.Context) error
	NotifySimpleKey(ctx context.Context) error
	ReadHumidity(ctx context.Context) (temperature, humidity float64, err error)
	Listen(l Listener)
	Disconnect(ctx context.Context) error
}

// Driver discovers devices.
type Driver interface {
	Name() string
	// Discover blocks until a device is found or ctx is done.
	Discover(ctx context.Context) (Device, error)
	Close() error
}

// DriverFactory builds a driver from its plugins.device.<name> section.
// cfg may be nil.
type DriverFactory func(cfg plugin.Config, logger *zap.Logger) (Driver, error)

// Processor is the telemetry entry point readings are handed to.
type Processor interface {
	Process(ctx context.Context, r telemetry.Reading) (telemetry.ChangeRecord, error)
}
