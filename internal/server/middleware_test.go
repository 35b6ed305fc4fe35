package server

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/HerbHall/tagwatch/internal/version"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"
)

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// loggedMux wraps a mux carrying the telemetry-shaped routes with
// RequestIDMiddleware and LoggingMiddleware, the way New orders them.
func loggedMux(t *testing.T) (http.Handler, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", okHandler)
	mux.HandleFunc("GET /api/v1/streams/{stream}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"stream":"accel"}`))
	})

	h := Chain(mux, RequestIDMiddleware, LoggingMiddleware(zap.New(core), []string{"/healthz"}))
	return h, logs
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
	}{
		{name: "generated", incoming: ""},
		{name: "propagated", incoming: "dashboard-7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/threshold", http.NoBody)
			if tt.incoming != "" {
				req.Header.Set("X-Request-ID", tt.incoming)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			got := w.Header().Get("X-Request-ID")
			if got != seen {
				t.Errorf("header %q and context %q disagree", got, seen)
			}
			if tt.incoming != "" && got != tt.incoming {
				t.Errorf("X-Request-ID = %q, want %q", got, tt.incoming)
			}
			if tt.incoming == "" {
				if _, err := uuid.Parse(got); err != nil {
					t.Errorf("X-Request-ID = %q, want a UUID: %v", got, err)
				}
			}
		})
	}
}

func TestLoggingMiddleware_StreamRoute(t *testing.T) {
	h, logs := loggedMux(t)
	const route = "GET /api/v1/streams/{stream}"
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, route, "200"))

	for _, stream := range []string{"accel", "gyro"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/streams/"+stream, http.NoBody))
	}

	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, route, "200")) - before; got != 2 {
		t.Errorf("requests for %q = %v, want 2 (one series for all streams)", route, got)
	}

	entries := logs.FilterMessage("http request").All()
	if len(entries) != 2 {
		t.Fatalf("logged %d requests, want 2", len(entries))
	}
	fields := entries[1].ContextMap()
	if fields["stream"] != "gyro" {
		t.Errorf("stream = %v, want gyro", fields["stream"])
	}
	if fields["route"] != route {
		t.Errorf("route = %v, want %q", fields["route"], route)
	}
	if fields["bytes"] != int64(len(`{"stream":"accel"}`)) {
		t.Errorf("bytes = %v, want %d", fields["bytes"], len(`{"stream":"accel"}`))
	}
	if fields["request_id"] == "" {
		t.Error("request_id is empty")
	}
}

func TestLoggingMiddleware_QuietAndUnmatched(t *testing.T) {
	h, logs := loggedMux(t)

	tests := []struct {
		path      string
		wantLogs  int
		wantRoute string
	}{
		{path: "/healthz", wantLogs: 0},
		{path: "/nope", wantLogs: 1, wantRoute: unmatchedRoute},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			logs.TakeAll()
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, http.NoBody))

			entries := logs.TakeAll()
			if len(entries) != tt.wantLogs {
				t.Fatalf("logged %d entries, want %d", len(entries), tt.wantLogs)
			}
			if tt.wantLogs > 0 && entries[0].ContextMap()["route"] != tt.wantRoute {
				t.Errorf("route = %v, want %q", entries[0].ContextMap()["route"], tt.wantRoute)
			}
		})
	}
}

// hijackRecorder is a ResponseRecorder that supports Hijack, standing in
// for a websocket upgrade.
type hijackRecorder struct {
	*httptest.ResponseRecorder
	peer net.Conn
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.peer = client
	return server, bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server)), nil
}

func TestLoggingMiddleware_WebsocketSession(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, _ *http.Request) {
		conn, _, err := http.NewResponseController(w).Hijack()
		if err != nil {
			t.Errorf("Hijack: %v", err)
			return
		}
		_ = conn.Close()
	})
	h := LoggingMiddleware(zap.New(core), nil)(mux)

	rec := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", http.NoBody))
	if rec.peer != nil {
		_ = rec.peer.Close()
	}

	if n := logs.FilterMessage("websocket session ended").Len(); n != 1 {
		t.Fatalf("session log entries = %d, want 1", n)
	}
	if n := logs.FilterMessage("http request").Len(); n != 0 {
		t.Errorf("plain request entries = %d, want 0", n)
	}
	if got := logs.All()[0].ContextMap()["status"]; got != int64(http.StatusSwitchingProtocols) {
		t.Errorf("status = %v, want 101", got)
	}
}

func TestSecurityAndVersionHeaders(t *testing.T) {
	h := Chain(http.HandlerFunc(okHandler), SecurityHeadersMiddleware, VersionHeaderMiddleware)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/streams", http.NoBody))

	tests := []struct {
		header string
		want   string
	}{
		{"X-Content-Type-Options", "nosniff"},
		{"X-Frame-Options", "DENY"},
		{"Content-Security-Policy", "default-src 'self'; connect-src 'self' ws: wss:"},
		{"Referrer-Policy", "strict-origin-when-cross-origin"},
		{"X-Tagwatch-Version", version.Short()},
	}

	for _, tt := range tests {
		if got := w.Header().Get(tt.header); got != tt.want {
			t.Errorf("%s = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
		wantType   string
	}{
		{
			name:       "panic becomes problem",
			handler:    func(http.ResponseWriter, *http.Request) { panic("engine exploded") },
			wantStatus: http.StatusInternalServerError,
			wantType:   "application/problem+json",
		},
		{
			name:       "normal request untouched",
			handler:    okHandler,
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			RecoveryMiddleware(zap.NewNop())(tt.handler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/reset", http.NoBody))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if ct := w.Header().Get("Content-Type"); tt.wantType != "" && ct != tt.wantType {
				t.Errorf("Content-Type = %q, want %q", ct, tt.wantType)
			}
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		addrs []string
		want  []int
	}{
		{
			name:  "second request over burst",
			path:  "/api/v1/threshold",
			addrs: []string{"10.0.0.1:1", "10.0.0.1:2"},
			want:  []int{http.StatusOK, http.StatusTooManyRequests},
		},
		{
			name:  "clients have separate buckets",
			path:  "/api/v1/threshold",
			addrs: []string{"10.0.0.1:1", "10.0.0.2:1"},
			want:  []int{http.StatusOK, http.StatusOK},
		},
		{
			name:  "exempt websocket path",
			path:  "/ws",
			addrs: []string{"10.0.0.1:1", "10.0.0.1:1", "10.0.0.1:1"},
			want:  []int{http.StatusOK, http.StatusOK, http.StatusOK},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RateLimitMiddleware(0.001, 1, []string{"/healthz", "/ws"})(http.HandlerFunc(okHandler))
			for i, addr := range tt.addrs {
				req := httptest.NewRequest(http.MethodGet, tt.path, http.NoBody)
				req.RemoteAddr = addr
				w := httptest.NewRecorder()
				h.ServeHTTP(w, req)
				if w.Code != tt.want[i] {
					t.Fatalf("request %d: status = %d, want %d", i, w.Code, tt.want[i])
				}
				if w.Code == http.StatusTooManyRequests && w.Header().Get("Retry-After") == "" {
					t.Error("429 without Retry-After")
				}
			}
		})
	}
}

func TestClientLimiter_SweepsIdleBuckets(t *testing.T) {
	l := newClientLimiter(rate.Limit(1), 1)
	t0 := l.lastSweep

	l.allow("10.0.0.1", t0)
	l.allow("10.0.0.2", t0.Add(limiterIdle/2))
	if n := len(l.buckets); n != 2 {
		t.Fatalf("buckets = %d, want 2", n)
	}

	// 10.0.0.1 has been idle a full period; 10.0.0.2 only half of one.
	l.allow("10.0.0.3", t0.Add(limiterIdle+time.Second))
	if _, ok := l.buckets["10.0.0.1"]; ok {
		t.Error("idle bucket 10.0.0.1 survived the sweep")
	}
	if _, ok := l.buckets["10.0.0.2"]; !ok {
		t.Error("recent bucket 10.0.0.2 was swept")
	}
}

func TestChain(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name+"-in")
				next.ServeHTTP(w, r)
				order = append(order, name+"-out")
			})
		}
	}
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		order = append(order, "handler")
	})

	Chain(inner, tag("outer"), tag("inner")).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	want := []string{"outer-in", "inner-in", "handler", "inner-out", "outer-out"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{name: "socket peer", remote: "192.168.1.100:12345", want: "192.168.1.100"},
		{name: "first forwarded hop", remote: "127.0.0.1:1", xff: "203.0.113.50, 70.41.3.18", want: "203.0.113.50"},
		{name: "peer without port", remote: "pipe", want: "pipe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatusWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec, status: http.StatusOK}

	sw.WriteHeader(http.StatusAccepted)
	sw.WriteHeader(http.StatusNotFound)
	_, _ = sw.Write([]byte(`{"status":"Done"}`))

	if sw.status != http.StatusAccepted {
		t.Errorf("status = %d, want %d (first WriteHeader wins)", sw.status, http.StatusAccepted)
	}
	if sw.bytes != len(`{"status":"Done"}`) {
		t.Errorf("bytes = %d, want %d", sw.bytes, len(`{"status":"Done"}`))
	}
	if got := sw.Unwrap(); got != rec {
		t.Errorf("Unwrap = %T, want the wrapped recorder", got)
	}
	if _, _, err := sw.Hijack(); err == nil {
		t.Error("Hijack on a recorder succeeded, want error")
	}
}
