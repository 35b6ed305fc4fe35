package event

import (
	"context"
	"testing"
	"time"

	"github.com/HerbHall/tagwatch/pkg/plugin"
	"go.uber.org/zap"
)

func testEvent(topic string) plugin.Event {
	return plugin.Event{Topic: topic, Source: "test", Timestamp: time.Now(), Payload: 42}
}

func TestBus_PublishReachesTopicHandlersInOrder(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var calls []string
	bus.Subscribe("telemetry.record", func(_ context.Context, _ plugin.Event) { calls = append(calls, "first") })
	bus.Subscribe("telemetry.record", func(_ context.Context, _ plugin.Event) { calls = append(calls, "second") })
	bus.Subscribe("telemetry.change", func(_ context.Context, _ plugin.Event) { calls = append(calls, "other") })

	if err := bus.Publish(context.Background(), testEvent("telemetry.record")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	want := []string{"first", "second"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, calls[i], want[i])
		}
	}
}

func TestBus_PayloadIsDelivered(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var got any
	bus.Subscribe("t", func(_ context.Context, ev plugin.Event) { got = ev.Payload })
	_ = bus.Publish(context.Background(), testEvent("t"))

	if got != 42 {
		t.Errorf("payload = %v, want 42", got)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var first, second int
	unsub := bus.Subscribe("t", func(_ context.Context, _ plugin.Event) { first++ })
	bus.Subscribe("t", func(_ context.Context, _ plugin.Event) { second++ })

	unsub()
	unsub()
	_ = bus.Publish(context.Background(), testEvent("t"))

	if first != 0 {
		t.Errorf("unsubscribed handler called %d times", first)
	}
	if second != 1 {
		t.Errorf("remaining handler calls = %d, want 1", second)
	}
}

func TestBus_PanickingHandlerDoesNotStopDelivery(t *testing.T) {
	bus := NewBus(zap.NewNop())

	delivered := false
	bus.Subscribe("t", func(_ context.Context, _ plugin.Event) { panic("boom") })
	bus.Subscribe("t", func(_ context.Context, _ plugin.Event) { delivered = true })

	if err := bus.Publish(context.Background(), testEvent("t")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !delivered {
		t.Error("handler after a panicking handler was not called")
	}
}

func TestBus_UnsubscribeDuringPublish(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var unsub func()
	calls := 0
	unsub = bus.Subscribe("t", func(_ context.Context, _ plugin.Event) {
		calls++
		unsub()
	})

	_ = bus.Publish(context.Background(), testEvent("t"))
	_ = bus.Publish(context.Background(), testEvent("t"))

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
