package cloud

import (
	"fmt"
	"time"

	"github.com/HerbHall/tagwatch/pkg/plugin"
)

// Config holds the cloud publisher settings read from plugins.cloud.
type Config struct {
	BrokerURL string        `mapstructure:"broker_url"`
	ClientID  string        `mapstructure:"client_id"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"` //nolint:gosec // G101: config field name, not a credential
	Event     string        `mapstructure:"event"`
	Format    string        `mapstructure:"format"`
	QoS       int           `mapstructure:"qos"`
	Timeout   time.Duration `mapstructure:"timeout"`

	// MaxInFlight bounds sends the broker has not accepted yet. Records
	// offered beyond it are dropped.
	MaxInFlight int `mapstructure:"max_in_flight"`
}

// DefaultConfig returns the Watson IoT quickstart defaults. An empty broker
// URL leaves the gate permanently disconnected.
func DefaultConfig() Config {
	return Config{
		BrokerURL:   "",
		ClientID:    "d:quickstart:sensortag:tagwatch",
		Event:       "status",
		Format:      "json",
		QoS:         2,
		Timeout:     10 * time.Second,
		MaxInFlight: 32,
	}
}

// Topic is the device event topic records are published on.
func (c Config) Topic() string {
	return "iot-2/evt/" + c.Event + "/fmt/" + c.Format
}

func (c *Config) apply(src plugin.Config) {
	if src == nil {
		return
	}
	if u := src.GetString("broker_url"); u != "" {
		c.BrokerURL = u
	}
	if id := src.GetString("client_id"); id != "" {
		c.ClientID = id
	}
	if u := src.GetString("username"); u != "" {
		c.Username = u
	}
	if p := src.GetString("password"); p != "" {
		c.Password = p
	}
	if e := src.GetString("event"); e != "" {
		c.Event = e
	}
	if f := src.GetString("format"); f != "" {
		c.Format = f
	}
	if src.IsSet("qos") {
		c.QoS = src.GetInt("qos")
	}
	if d := src.GetDuration("timeout"); d > 0 {
		c.Timeout = d
	}
	if src.IsSet("max_in_flight") {
		c.MaxInFlight = src.GetInt("max_in_flight")
	}
}

func (c Config) validate() error {
	if c.QoS < 0 || c.QoS > 2 {
		return fmt.Errorf("cloud qos %d out of range 0..2", c.QoS)
	}
	if c.MaxInFlight < 1 {
		return fmt.Errorf("cloud max_in_flight %d must be at least 1", c.MaxInFlight)
	}
	if c.Event == "" || c.Format == "" {
		return fmt.Errorf("cloud event and format must be set (got %q, %q)", c.Event, c.Format)
	}
	return nil
}
