package config

import (
	"time"
)

type Config struct {
	Sync         SyncConfig         `mapstructure:"sync"`
	StateStorage StateStorage       `mapstructure:"state_storage"`
	Remote       RemoteConfig       `mapstructure:"remote"`
	Realtime     RealtimeConfig     `mapstructure:"realtime"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// SyncConfig tunes the orchestrator. Read-only after construction.
type SyncConfig struct {
	IntervalSeconds       int      `mapstructure:"interval_seconds"`
	MaxRetries            int      `mapstructure:"max_retries"`
	InitialRetryDelay     string   `mapstructure:"initial_retry_delay"`
	MaxRetryDelay         string   `mapstructure:"max_retry_delay"`
	BackoffMultiplier     float64  `mapstructure:"backoff_multiplier"`
	ConflictWindowSeconds int      `mapstructure:"conflict_window_seconds"`
	DebounceMillis        int      `mapstructure:"debounce_millis"`
	MessageMaxRetries     int      `mapstructure:"message_max_retries"`
	Tables                []string `mapstructure:"tables"`
}

func (s SyncConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

func (s SyncConfig) ConflictWindow() time.Duration {
	return time.Duration(s.ConflictWindowSeconds) * time.Second
}

func (s SyncConfig) GetInitialRetryDelay() time.Duration {
	d, _ := time.ParseDuration(s.InitialRetryDelay)
	return d
}

func (s SyncConfig) GetMaxRetryDelay() time.Duration {
	d, _ := time.ParseDuration(s.MaxRetryDelay)
	return d
}

func (s SyncConfig) Debounce() time.Duration {
	return time.Duration(s.DebounceMillis) * time.Millisecond
}

type StateStorage struct {
	Type     string `mapstructure:"type"` // sqlite, mysql or memory
	FilePath string `mapstructure:"file_path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type RemoteConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	AuthToken      string `mapstructure:"auth_token"`
	RequestTimeout string `mapstructure:"request_timeout"`
}

func (r RemoteConfig) GetRequestTimeout() time.Duration {
	d, _ := time.ParseDuration(r.RequestTimeout)
	return d
}

type RealtimeConfig struct {
	URL                  string  `mapstructure:"url"`
	AuthToken            string  `mapstructure:"auth_token"`
	ReconnectBaseDelay   string  `mapstructure:"reconnect_base_delay"`
	ReconnectMaxDelay    string  `mapstructure:"reconnect_max_delay"`
	ReconnectMultiplier  float64 `mapstructure:"reconnect_multiplier"`
	ReconnectMaxAttempts int     `mapstructure:"reconnect_max_attempts"`
	SubscribeTimeout     string  `mapstructure:"subscribe_timeout"`
}

func (r RealtimeConfig) GetReconnectBaseDelay() time.Duration {
	d, _ := time.ParseDuration(r.ReconnectBaseDelay)
	return d
}

func (r RealtimeConfig) GetReconnectMaxDelay() time.Duration {
	d, _ := time.ParseDuration(r.ReconnectMaxDelay)
	return d
}

func (r RealtimeConfig) GetSubscribeTimeout() time.Duration {
	d, _ := time.ParseDuration(r.SubscribeTimeout)
	return d
}

type ConnectivityConfig struct {
	ProbeURL      string `mapstructure:"probe_url"`
	ProbeInterval string `mapstructure:"probe_interval"`
}

func (c ConnectivityConfig) GetProbeInterval() time.Duration {
	d, _ := time.ParseDuration(c.ProbeInterval)
	return d
}

type SchedulerConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type ServerConfig struct {
	Port         int      `mapstructure:"port"`
	Host         string   `mapstructure:"host"`
	AuthToken    string   `mapstructure:"auth_token"`
	ReadTimeout  string   `mapstructure:"read_timeout"`
	WriteTimeout string   `mapstructure:"write_timeout"`
	CorsOrigins  []string `mapstructure:"cors_origins"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
