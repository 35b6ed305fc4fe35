// Package live pushes every change record to connected websocket
// subscribers and accepts threshold updates from them.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/HerbHall/tagwatch/internal/telemetry"
	"github.com/HerbHall/tagwatch/pkg/plugin"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
	_ plugin.HTTPProvider    = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
	_ plugin.Validator       = (*Module)(nil)
)

// Config holds the plugins.live settings.
type Config struct {
	Path         string        `mapstructure:"path"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	ReadLimit    int64         `mapstructure:"read_limit"`
}

// DefaultConfig returns the default live router settings.
func DefaultConfig() Config {
	return Config{
		Path:         "/ws",
		SendBuffer:   64,
		WriteTimeout: 5 * time.Second,
		ReadLimit:    4096,
	}
}

// Module is the live broadcast router.
type Module struct {
	logger    *zap.Logger
	cfg       Config
	threshold ThresholdSetter
	hub       *Hub
	handler   *Handler
}

// New creates the live module. threshold receives subscriber updates and
// may be nil.
func New(threshold ThresholdSetter) *Module {
	return &Module{threshold: threshold}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "live",
		Version:     "0.1.0",
		Description: "Streams change records to websocket subscribers",
		Roles:       []string{"sink"},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.cfg = DefaultConfig()
	if c := deps.Config; c != nil {
		if p := c.GetString("path"); p != "" {
			m.cfg.Path = p
		}
		if n := c.GetInt("send_buffer"); n > 0 {
			m.cfg.SendBuffer = n
		}
		if d := c.GetDuration("write_timeout"); d > 0 {
			m.cfg.WriteTimeout = d
		}
		if c.IsSet("read_limit") {
			m.cfg.ReadLimit = int64(c.GetInt("read_limit"))
		}
	}

	m.hub = NewHub(m.logger)
	m.handler = NewHandler(m.hub, m.threshold, m.cfg, m.logger)

	m.logger.Info("live module initialized",
		zap.String("path", m.cfg.Path),
		zap.Int("send_buffer", m.cfg.SendBuffer),
	)
	return nil
}

// ValidateConfig implements plugin.Validator.
func (m *Module) ValidateConfig() error {
	if !strings.HasPrefix(m.cfg.Path, "/") {
		return fmt.Errorf("live path %q must start with /", m.cfg.Path)
	}
	if m.cfg.ReadLimit < 1 {
		return fmt.Errorf("live read_limit %d must be positive", m.cfg.ReadLimit)
	}
	return nil
}

func (m *Module) Start(_ context.Context) error {
	m.logger.Info("live module started")
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	if m.hub != nil {
		m.hub.CloseAll()
	}
	return nil
}

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: telemetry.TopicRecord, Handler: m.handleRecord},
	}
}

// RegisterRoutes mounts the websocket endpoint at the configured path.
func (m *Module) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET "+m.cfg.Path, m.handler)
}

// StreamingPaths lists the websocket path so the server does not rate
// limit subscriber sessions.
func (m *Module) StreamingPaths() []string {
	return []string{m.cfg.Path}
}

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: http.MethodGet, Path: "/clients", Handler: m.handleClients},
	}
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	n := 0
	if m.hub != nil {
		n = m.hub.ClientCount()
	}
	return plugin.HealthStatus{
		Status:  "healthy",
		Details: map[string]string{"clients": strconv.Itoa(n)},
	}
}

// Hub returns the subscriber hub.
func (m *Module) Hub() *Hub { return m.hub }

func (m *Module) handleRecord(_ context.Context, event plugin.Event) {
	if m.hub == nil {
		return
	}
	switch rec := event.Payload.(type) {
	case telemetry.ChangeRecord:
		m.hub.Broadcast(rec)
	case *telemetry.ChangeRecord:
		if rec != nil {
			m.hub.Broadcast(*rec)
		}
	default:
		m.logger.Warn("unexpected record event payload",
			zap.String("topic", event.Topic),
			zap.String("type", fmt.Sprintf("%T", event.Payload)),
		)
	}
}

func (m *Module) handleClients(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"clients": m.hub.ClientCount()})
}
