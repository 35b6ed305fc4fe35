package testutil

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
)

// StartBroker runs an in-process MQTT broker on a free loopback port and
// returns it with its tcp:// URL. The broker's inline client is enabled so
// tests can Publish and Subscribe on it directly. It is closed on cleanup.
func StartBroker(t testing.TB) (*mochi.Server, string) {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	server := mochi.New(&mochi.Options{
		InlineClient: true,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		t.Fatalf("broker hook: %v", err)
	}
	tcp := listeners.NewTCP(listeners.Config{Type: "tcp", ID: "test", Address: addr})
	if err := server.AddListener(tcp); err != nil {
		t.Fatalf("broker listener: %v", err)
	}
	if err := server.Serve(); err != nil {
		t.Fatalf("broker serve: %v", err)
	}
	t.Cleanup(func() { _ = server.Close() })

	return server, "tcp://" + addr
}

// WaitFor polls cond until it holds or five seconds pass.
func WaitFor(t testing.TB, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
