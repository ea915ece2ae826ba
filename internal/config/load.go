package config

import (
	"fmt"

	"github.com/spf13/viper"
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sync.interval_seconds", 300)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.initial_retry_delay", "2s")
	v.SetDefault("sync.max_retry_delay", "5m")
	v.SetDefault("sync.backoff_multiplier", 2.0)
	v.SetDefault("sync.conflict_window_seconds", 300)
	v.SetDefault("sync.debounce_millis", 500)
	v.SetDefault("sync.message_max_retries", 3)

	v.SetDefault("state_storage.type", "sqlite")
	v.SetDefault("state_storage.file_path", "sync_state.db")

	v.SetDefault("remote.request_timeout", "30s")

	v.SetDefault("realtime.reconnect_base_delay", "2s")
	v.SetDefault("realtime.reconnect_max_delay", "30s")
	v.SetDefault("realtime.reconnect_multiplier", 1.5)
	v.SetDefault("realtime.reconnect_max_attempts", 5)
	v.SetDefault("realtime.subscribe_timeout", "10s")

	v.SetDefault("connectivity.probe_interval", "15s")

	v.SetDefault("scheduler.enabled", true)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
