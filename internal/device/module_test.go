package device_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HerbHall/tagwatch/internal/config"
	"github.com/HerbHall/tagwatch/internal/device"
	"github.com/HerbHall/tagwatch/internal/device/sim"
	"github.com/HerbHall/tagwatch/internal/event"
	"github.com/HerbHall/tagwatch/internal/telemetry"
	"github.com/HerbHall/tagwatch/pkg/plugin"
	"github.com/HerbHall/tagwatch/pkg/plugin/plugintest"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var drivers = map[string]device.DriverFactory{"sim": sim.Factory}

func TestContract(t *testing.T) {
	plugintest.TestPluginContract(t, func() plugin.Plugin { return device.New(nil, drivers) })
}

func TestInfo_DependsOnSinks(t *testing.T) {
	info := device.New(nil, drivers).Info()
	if info.Name != "device" {
		t.Errorf("Name = %q, want device", info.Name)
	}
	if !info.Required {
		t.Error("Required = false, want true (no readings without the device)")
	}
	if len(info.Dependencies) != 2 || info.Dependencies[0] != "cloud" || info.Dependencies[1] != "live" {
		t.Errorf("Dependencies = %v, want [cloud live]", info.Dependencies)
	}
}

func initDevice(t *testing.T, proc device.Processor, settings map[string]any) (*device.Module, error) {
	t.Helper()
	v := viper.New()
	for k, val := range settings {
		v.Set(k, val)
	}
	m := device.New(proc, drivers)
	err := m.Init(context.Background(), plugin.Dependencies{Config: config.New(v), Logger: zap.NewNop()})
	return m, err
}

func TestInit_UnknownDriver(t *testing.T) {
	if _, err := initDevice(t, nil, map[string]any{"driver": "bluez"}); err == nil {
		t.Fatal("Init accepted an unknown driver")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestModule_SimulatedTagFeedsEngine(t *testing.T) {
	bus := event.NewBus(zap.NewNop())
	engine := telemetry.NewEngine(bus, zap.NewNop())

	var accel, humidity atomic.Int64
	bus.Subscribe(telemetry.TopicRecord, func(_ context.Context, ev plugin.Event) {
		switch ev.Payload.(telemetry.ChangeRecord).DataType {
		case telemetry.TypeAccel:
			accel.Add(1)
		case telemetry.TypeTempAndHum:
			humidity.Add(1)
		}
	})

	m, err := initDevice(t, engine, map[string]any{
		"poll_interval": "10ms",
		"sim.interval":  "5ms",
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, "listening", func() bool { return m.Ready(ctx) == nil })
	waitFor(t, "accelerometer records", func() bool { return accel.Load() >= 3 })
	waitFor(t, "humidity records", func() bool { return humidity.Load() >= 2 })

	if got := m.Health(ctx).Status; got != "healthy" {
		t.Errorf("Health().Status = %q, want healthy", got)
	}
	if _, ok := engine.Snapshot(telemetry.StreamAccelerometer); !ok {
		t.Error("engine has no accelerometer stream")
	}

	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	n := accel.Load() + humidity.Load()
	time.Sleep(30 * time.Millisecond)
	if got := accel.Load() + humidity.Load(); got != n {
		t.Errorf("records grew from %d to %d after Stop", n, got)
	}
}

func TestModule_FailedConnectLeavesPipelineInert(t *testing.T) {
	m, err := initDevice(t, nil, map[string]any{"sim.fail_connect": true})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = m.Stop(ctx) })

	waitFor(t, "failed state", func() bool { return m.Sequencer().State() == device.StateFailed })

	if err := m.Ready(ctx); err == nil {
		t.Error("Ready() = nil for a failed device")
	}
	if got := m.Health(ctx).Status; got != "unhealthy" {
		t.Errorf("Health().Status = %q, want unhealthy", got)
	}

	routes := m.Routes()
	if len(routes) != 1 || routes[0].Path != "/state" {
		t.Fatalf("Routes() = %+v, want /state", routes)
	}
	rec := httptest.NewRecorder()
	routes[0].Handler(rec, httptest.NewRequest(http.MethodGet, "/state", nil))
	var st device.Status
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.State != "failed" || st.Error == "" || st.Driver != "sim" {
		t.Errorf("state body = %+v, want failed sim with error", st)
	}
}
