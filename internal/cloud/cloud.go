// Package cloud implements the publish gate in front of the cloud telemetry
// endpoint. Change records are forwarded over MQTT while the broker
// connection is up and dropped, not queued, while it is down.
package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/HerbHall/tagwatch/internal/telemetry"
	"github.com/HerbHall/tagwatch/pkg/plugin"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
	_ plugin.Validator       = (*Module)(nil)
)

// publisher is the part of the paho client the gate sends through.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) pahomqtt.Token
}

// envelope is the device event body expected by the cloud endpoint.
type envelope struct {
	D telemetry.ChangeRecord `json:"d"`
}

// Module is the cloud sink. It subscribes to change events on the bus and
// hands each one to TryPublish.
type Module struct {
	logger    *zap.Logger
	cfg       Config
	mu        sync.RWMutex
	client    pahomqtt.Client
	pub       publisher
	connected atomic.Bool

	// inflight holds one slot per send the broker has not accepted yet.
	inflight chan struct{}
}

// New creates an unconfigured cloud module.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "cloud",
		Version:     "0.1.0",
		Description: "Forwards change records to the cloud telemetry endpoint over MQTT",
		Roles:       []string{"sink"},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.cfg = DefaultConfig()
	m.cfg.apply(deps.Config)
	if m.cfg.MaxInFlight > 0 {
		m.inflight = make(chan struct{}, m.cfg.MaxInFlight)
	}

	if m.cfg.BrokerURL == "" {
		m.logger.Warn("cloud broker URL not configured; change records will be suppressed")
	}

	m.logger.Info("cloud module initialized",
		zap.String("broker_url", m.cfg.BrokerURL),
		zap.String("client_id", m.cfg.ClientID),
		zap.String("topic", m.cfg.Topic()),
		zap.Int("qos", m.cfg.QoS),
	)
	return nil
}

// ValidateConfig implements plugin.Validator.
func (m *Module) ValidateConfig() error {
	return m.cfg.validate()
}

func (m *Module) Start(_ context.Context) error {
	if m.cfg.BrokerURL == "" {
		m.logger.Info("cloud module started (no-op: no broker configured)")
		return nil
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(m.cfg.BrokerURL).
		SetClientID(m.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(m.cfg.Timeout).
		SetWriteTimeout(m.cfg.Timeout).
		SetOnConnectHandler(func(pahomqtt.Client) { m.setConnected(true, nil) }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { m.setConnected(false, err) })

	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		opts.SetPassword(m.cfg.Password) //nolint:gosec // G101: config field
	}

	client := pahomqtt.NewClient(opts)
	m.mu.Lock()
	m.client = client
	m.pub = client
	m.mu.Unlock()

	token := client.Connect()
	switch {
	case !token.WaitTimeout(m.cfg.Timeout):
		m.logger.Warn("cloud connection timed out; will keep retrying in background")
	case token.Error() != nil:
		m.logger.Warn("cloud connection failed; will keep retrying in background",
			zap.Error(token.Error()),
		)
	}
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		m.client.Disconnect(250)
		m.logger.Info("cloud disconnected")
	}
	m.client = nil
	m.pub = nil
	m.connected.Store(false)
	connectedGauge.Set(0)
	return nil
}

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: telemetry.TopicChange, Handler: m.handleChange},
	}
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	if m.cfg.BrokerURL == "" {
		return plugin.HealthStatus{
			Status:  "healthy",
			Message: "no broker configured (publishes suppressed)",
		}
	}
	if !m.Connected() {
		return plugin.HealthStatus{
			Status:  "degraded",
			Message: "not connected to cloud broker",
		}
	}
	return plugin.HealthStatus{
		Status:  "healthy",
		Message: "connected to " + m.cfg.BrokerURL,
	}
}

// Connected reports the current cloud connection state.
func (m *Module) Connected() bool {
	return m.connected.Load()
}

// TryPublish offers rec to the cloud endpoint and reports whether a send was
// attempted. It never waits on the broker: the send runs in the background,
// and a record is dropped when the connection is down or MaxInFlight sends
// are still waiting for the broker.
func (m *Module) TryPublish(rec telemetry.ChangeRecord) bool {
	if !m.connected.Load() {
		publishTotal.WithLabelValues("suppressed").Inc()
		m.logger.Debug("cloud publish suppressed: not connected",
			zap.String("stream", rec.Stream),
		)
		return false
	}

	m.mu.RLock()
	pub := m.pub
	m.mu.RUnlock()
	if pub == nil || m.inflight == nil {
		publishTotal.WithLabelValues("suppressed").Inc()
		return false
	}

	payload, err := json.Marshal(envelope{D: rec})
	if err != nil {
		m.logger.Warn("failed to marshal cloud payload",
			zap.String("stream", rec.Stream),
			zap.Error(err),
		)
		return false
	}

	select {
	case m.inflight <- struct{}{}:
	default:
		publishTotal.WithLabelValues("dropped").Inc()
		m.logger.Warn("cloud broker not keeping up, dropping change record",
			zap.String("stream", rec.Stream),
			zap.Int("in_flight", cap(m.inflight)),
		)
		return false
	}

	topic, qos := m.cfg.Topic(), byte(m.cfg.QoS)
	go func() {
		defer func() { <-m.inflight }()
		pub.Publish(topic, qos, false, payload)
	}()

	publishTotal.WithLabelValues("attempted").Inc()
	m.logger.Debug("cloud publish attempted",
		zap.String("topic", topic),
		zap.String("stream", rec.Stream),
	)
	return true
}

func (m *Module) handleChange(_ context.Context, event plugin.Event) {
	switch rec := event.Payload.(type) {
	case telemetry.ChangeRecord:
		m.TryPublish(rec)
	case *telemetry.ChangeRecord:
		if rec != nil {
			m.TryPublish(*rec)
		}
	default:
		m.logger.Warn("unexpected change event payload",
			zap.String("topic", event.Topic),
			zap.String("type", fmt.Sprintf("%T", event.Payload)),
		)
	}
}

func (m *Module) setConnected(up bool, cause error) {
	m.connected.Store(up)
	if up {
		connectedGauge.Set(1)
		m.logger.Info("cloud connected", zap.String("broker_url", m.cfg.BrokerURL))
		return
	}
	connectedGauge.Set(0)
	m.logger.Warn("cloud connection lost", zap.Error(cause))
}
