// Package gateway is a device driver for SensorTags bridged to MQTT by a BLE
// gateway. The gateway announces tags it can reach, executes setup commands
// and relays sensor notifications as JSON messages.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/HerbHall/tagwatch/internal/device"
	"github.com/HerbHall/tagwatch/pkg/plugin"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	_ device.Driver = (*Driver)(nil)
	_ device.Device = (*Tag)(nil)
)

// Factory builds a gateway driver from plugins.device.gateway.
func Factory(cfg plugin.Config, logger *zap.Logger) (device.Driver, error) {
	c := DefaultConfig()
	c.apply(cfg)
	if c.BrokerURL == "" {
		return nil, errors.New("gateway broker_url is required")
	}
	if c.ClientID == "" {
		c.ClientID = "tagwatch-" + uuid.NewString()[:8]
	}
	return New(c, logger), nil
}

// Driver discovers tags announced on the gateway broker.
type Driver struct {
	cfg       Config
	logger    *zap.Logger
	announced chan string

	mu     sync.Mutex
	client pahomqtt.Client
	tags   map[string]*Tag
}

// New creates a gateway driver. It connects on the first Discover.
func New(cfg Config, logger *zap.Logger) *Driver {
	return &Driver{
		cfg:       cfg,
		logger:    logger,
		announced: make(chan string, 8),
		tags:      make(map[string]*Tag),
	}
}

func (d *Driver) Name() string { return "gateway" }

// Discover waits for the gateway to announce a tag and subscribes to its
// topics.
func (d *Driver) Discover(ctx context.Context) (device.Device, error) {
	client, err := d.connect()
	if err != nil {
		return nil, err
	}

	var id string
	select {
	case id = <-d.announced:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	tag := newTag(id, d)
	d.mu.Lock()
	d.tags[id] = tag
	d.mu.Unlock()

	token := client.Subscribe(d.cfg.tagTopic(id, "+"), 1, tag.route)
	if !token.WaitTimeout(d.cfg.Timeout) {
		return nil, fmt.Errorf("subscribe to tag %s: timed out", id)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("subscribe to tag %s: %w", id, err)
	}
	return tag, nil
}

// Close disconnects from the gateway broker.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		d.client.Disconnect(250)
		d.client = nil
	}
	return nil
}

func (d *Driver) connect() (pahomqtt.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		return d.client, nil
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(d.cfg.BrokerURL).
		SetClientID(d.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(d.cfg.Timeout).
		SetOnConnectHandler(d.onConnect)
	if d.cfg.Username != "" {
		opts.SetUsername(d.cfg.Username)
		opts.SetPassword(d.cfg.Password) //nolint:gosec // G101: config field
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(d.cfg.Timeout) {
		return nil, fmt.Errorf("connect to gateway %s: timed out", d.cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to gateway %s: %w", d.cfg.BrokerURL, err)
	}
	d.client = client
	d.logger.Info("connected to gateway broker", zap.String("broker_url", d.cfg.BrokerURL))
	return client, nil
}

// onConnect (re)subscribes to announcements after every connect.
func (d *Driver) onConnect(client pahomqtt.Client) {
	client.Subscribe(d.cfg.announceTopic(), 1, d.handleAnnounce)

	d.mu.Lock()
	defer d.mu.Unlock()
	for id, tag := range d.tags {
		client.Subscribe(d.cfg.tagTopic(id, "+"), 1, tag.route)
	}
}

func (d *Driver) handleAnnounce(_ pahomqtt.Client, msg pahomqtt.Message) {
	var a announce
	if err := json.Unmarshal(msg.Payload(), &a); err != nil || a.ID == "" {
		d.logger.Warn("ignoring malformed announcement", zap.ByteString("payload", msg.Payload()))
		return
	}
	select {
	case d.announced <- a.ID:
		d.logger.Debug("tag announced", zap.String("device_id", a.ID))
	default:
	}
}

func (d *Driver) publisher() pahomqtt.Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.client
}

// Tag is a SensorTag reached through the gateway.
type Tag struct {
	id     string
	driver *Driver
	logger *zap.Logger

	mu       sync.Mutex
	pending  map[string]chan ack
	listener device.Listener
}

func newTag(id string, d *Driver) *Tag {
	return &Tag{
		id:      id,
		driver:  d,
		logger:  d.logger.With(zap.String("device_id", id)),
		pending: make(map[string]chan ack),
	}
}

func (t *Tag) ID() string { return t.id }

func (t *Tag) ConnectAndSetUp(ctx context.Context) error {
	_, err := t.call(ctx, OpConnect)
	return err
}

func (t *Tag) EnableAccelerometer(ctx context.Context) error {
	_, err := t.call(ctx, OpEnableAccelerometer)
	return err
}

func (t *Tag) NotifyAccelerometer(ctx context.Context) error {
	_, err := t.call(ctx, OpNotifyAccelerometer)
	return err
}

func (t *Tag) EnableHumidity(ctx context.Context) error {
	_, err := t.call(ctx, OpEnableHumidity)
	return err
}

func (t *Tag) NotifySimpleKey(ctx context.Context) error {
	_, err := t.call(ctx, OpNotifySimpleKey)
	return err
}

func (t *Tag) ReadHumidity(ctx context.Context) (float64, float64, error) {
	a, err := t.call(ctx, OpReadHumidity)
	if err != nil {
		return 0, 0, err
	}
	if a.Temperature == nil || a.Humidity == nil {
		return 0, 0, device.ErrNoReading
	}
	return *a.Temperature, *a.Humidity, nil
}

func (t *Tag) Listen(l device.Listener) {
	t.mu.Lock()
	t.listener = l
	t.mu.Unlock()
}

func (t *Tag) Disconnect(ctx context.Context) error {
	_, err := t.call(ctx, OpDisconnect)
	if client := t.driver.publisher(); client != nil {
		client.Unsubscribe(t.driver.cfg.tagTopic(t.id, "+"))
	}
	return err
}

// call publishes a command and waits for the gateway's ack.
func (t *Tag) call(ctx context.Context, op string) (ack, error) {
	client := t.driver.publisher()
	if client == nil {
		return ack{}, device.ErrNotConnected
	}

	req := uuid.NewString()
	ch := make(chan ack, 1)
	t.mu.Lock()
	t.pending[req] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, req)
		t.mu.Unlock()
	}()

	payload, err := json.Marshal(command{Req: req, Op: op})
	if err != nil {
		return ack{}, fmt.Errorf("%s: %w", op, err)
	}
	token := client.Publish(t.driver.cfg.tagTopic(t.id, "cmd"), 1, false, payload)
	if !token.WaitTimeout(t.driver.cfg.Timeout) {
		return ack{}, fmt.Errorf("%s: publish timed out", op)
	}
	if err := token.Error(); err != nil {
		return ack{}, fmt.Errorf("%s: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.driver.cfg.Timeout)
	defer cancel()
	select {
	case a := <-ch:
		if a.Error != "" {
			return a, fmt.Errorf("%s: %s", op, a.Error)
		}
		return a, nil
	case <-ctx.Done():
		return ack{}, fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

// route dispatches messages on <prefix>/<id>/+.
func (t *Tag) route(_ pahomqtt.Client, msg pahomqtt.Message) {
	leaf := msg.Topic()[strings.LastIndexByte(msg.Topic(), '/')+1:]

	t.mu.Lock()
	l := t.listener
	t.mu.Unlock()

	switch leaf {
	case "ack":
		var a ack
		if err := json.Unmarshal(msg.Payload(), &a); err != nil {
			t.logger.Warn("malformed gateway ack", zap.Error(err))
			return
		}
		t.mu.Lock()
		ch, ok := t.pending[a.Req]
		t.mu.Unlock()
		if ok {
			select {
			case ch <- a:
			default:
			}
		}
	case "accel":
		if l == nil {
			return
		}
		var e accelEvent
		if err := json.Unmarshal(msg.Payload(), &e); err != nil {
			t.logger.Warn("malformed accelerometer event", zap.Error(err))
			return
		}
		l.AccelerometerChange(e.X, e.Y, e.Z)
	case "key":
		if l == nil {
			return
		}
		var e keyEvent
		if err := json.Unmarshal(msg.Payload(), &e); err != nil {
			t.logger.Warn("malformed key event", zap.Error(err))
			return
		}
		l.KeyChange(e.Left, e.Right, e.ReedRelay)
	case "disconnect":
		var e disconnectEvent
		_ = json.Unmarshal(msg.Payload(), &e)
		var cause error
		if e.Reason != "" {
			cause = errors.New(e.Reason)
		}
		if l != nil {
			l.Disconnected(cause)
			return
		}
		t.logger.Warn("tag disconnected before listening", zap.String("reason", e.Reason))
	}
}
