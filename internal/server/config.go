package server

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ConfigFrom reads the server section of v.
func ConfigFrom(v *viper.Viper) Config {
	c := Config{
		Host:            v.GetString("server.host"),
		Port:            v.GetInt("server.port"),
		ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return c
}

// Addr returns the listen address as host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
