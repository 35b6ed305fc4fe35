package gateway

import (
	"time"

	"github.com/HerbHall/tagwatch/pkg/plugin"
)

// Config holds the plugins.device.gateway settings.
type Config struct {
	BrokerURL   string        `mapstructure:"broker_url"`
	ClientID    string        `mapstructure:"client_id"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"` //nolint:gosec // G101: config field name, not a credential
	TopicPrefix string        `mapstructure:"topic_prefix"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// DefaultConfig returns the default gateway settings.
func DefaultConfig() Config {
	return Config{
		BrokerURL:   "tcp://localhost:1883",
		TopicPrefix: "sensortag",
		Timeout:     10 * time.Second,
	}
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
	if p := src.GetString("topic_prefix"); p != "" {
		c.TopicPrefix = p
	}
	if d := src.GetDuration("timeout"); d > 0 {
		c.Timeout = d
	}
}

// Topic layout, relative to TopicPrefix:
//
//	announce           gateway -> tagwatch  {"id": "..."}
//	<id>/cmd           tagwatch -> gateway  {"req": "...", "op": "..."}
//	<id>/ack           gateway -> tagwatch  {"req": "...", "error": "...", ...}
//	<id>/accel         gateway -> tagwatch  {"x": 0, "y": 0, "z": 0}
//	<id>/key           gateway -> tagwatch  {"left": false, "right": false, "reedRelay": false}
//	<id>/disconnect    gateway -> tagwatch  {"reason": "..."}
func (c Config) announceTopic() string {
	return c.TopicPrefix + "/announce"
}

func (c Config) tagTopic(id, leaf string) string {
	return c.TopicPrefix + "/" + id + "/" + leaf
}
