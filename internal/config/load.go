package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from an optional YAML file and TW_-prefixed
// environment variables, on top of built-in defaults.
func Load(configPath string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("tagwatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/tagwatch")
	}

	// TW_SERVER_PORT=3001, TW_PLUGINS_CLOUD_BROKER_URL=ssl://...
	v.SetEnvPrefix("TW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	return v, nil
}

// SetDefaults registers every tagwatch default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("telemetry.threshold", 0.1)
	v.SetDefault("telemetry.data_version", "v1")

	v.SetDefault("plugins.cloud.broker_url", "")
	v.SetDefault("plugins.cloud.client_id", "d:quickstart:sensortag:tagwatch")
	v.SetDefault("plugins.cloud.event", "status")
	v.SetDefault("plugins.cloud.format", "json")
	v.SetDefault("plugins.cloud.qos", 2)
	v.SetDefault("plugins.cloud.timeout", "10s")
	v.SetDefault("plugins.cloud.max_in_flight", 32)

	v.SetDefault("plugins.live.path", "/ws")
	v.SetDefault("plugins.live.send_buffer", 64)
	v.SetDefault("plugins.live.write_timeout", "5s")
	v.SetDefault("plugins.live.read_limit", 4096)

	v.SetDefault("plugins.device.driver", "sim")
	v.SetDefault("plugins.device.poll_interval", "1s")
	v.SetDefault("plugins.device.sim.interval", "100ms")
	v.SetDefault("plugins.device.gateway.broker_url", "tcp://localhost:1883")
	v.SetDefault("plugins.device.gateway.topic_prefix", "sensortag")
	v.SetDefault("plugins.device.gateway.timeout", "10s")
}
