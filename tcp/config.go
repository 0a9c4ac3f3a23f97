package tcp

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config bundles the tunable knobs a deployment is expected to override,
// expressed in the units operators actually write in config files
// (milliseconds, seconds, byte counts) rather than [time.Duration] values,
// and loaded the same way as the rest of this stack's YAML-configured
// components.
type Config struct {
	InitialRTOMillis   int  `yaml:"initial_rto_ms"`
	MaxRTOMillis       int  `yaml:"max_rto_ms"`
	MaxRetries         int  `yaml:"max_retries"`
	TimeWaitMillis     int  `yaml:"time_wait_ms"`
	DefaultRecvWindow  int  `yaml:"default_recv_window"`
	MaxConnections     int  `yaml:"max_connections"`
	TCPNoDelay         bool `yaml:"tcp_nodelay"`
	FinWait2TimeoutMs  int  `yaml:"fin_wait2_timeout_ms"`
	KeepaliveIdleS     int  `yaml:"keepalive_idle_s"`
	KeepaliveProbes    int  `yaml:"keepalive_probes"`
	KeepaliveIntervalS int  `yaml:"keepalive_interval_s"`
	MaxPersistProbes   int  `yaml:"max_persist_probes"`
	MaxHalfOpen        int  `yaml:"max_half_open"`
}

// DefaultConfig returns the conventional defaults named in this package's
// configuration reference: 1s initial RTO backing off to 64s, 9 retries
// before giving up, 60s TIME-WAIT, and keepalive left at the traditional
// BSD/Linux idle period.
func DefaultConfig() Config {
	return Config{
		InitialRTOMillis:   1000,
		MaxRTOMillis:       64000,
		MaxRetries:         9,
		TimeWaitMillis:     60000,
		DefaultRecvWindow:  65536,
		MaxConnections:     16,
		TCPNoDelay:         false,
		FinWait2TimeoutMs:  60000,
		KeepaliveIdleS:     7200,
		KeepaliveProbes:    9,
		KeepaliveIntervalS: 75,
		MaxPersistProbes:   12,
		MaxHalfOpen:        8,
	}
}

// LoadConfig reads and parses a YAML configuration file at path, starting
// from [DefaultConfig] so a file only needs to set the knobs it wants to
// override.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("tcp: reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("tcp: parsing config: %w", err)
	}
	return cfg, nil
}

// TimerConfig converts the millisecond/second knobs of Config into the
// [time.Duration]-based parameters the retransmission, persist and
// keepalive timers consume directly.
func (c Config) TimerConfig() TimerConfig {
	return TimerConfig{
		InitialRTO:        time.Duration(c.InitialRTOMillis) * time.Millisecond,
		MaxRTO:            time.Duration(c.MaxRTOMillis) * time.Millisecond,
		MaxRetries:        c.MaxRetries,
		TimeWaitDuration:  time.Duration(c.TimeWaitMillis) * time.Millisecond,
		DelayedACKTimeout: DefaultTimerConfig().DelayedACKTimeout,
		FinWait2Timeout:   time.Duration(c.FinWait2TimeoutMs) * time.Millisecond,
		KeepaliveIdle:     time.Duration(c.KeepaliveIdleS) * time.Second,
		KeepaliveInterval: time.Duration(c.KeepaliveIntervalS) * time.Second,
		KeepaliveProbes:   c.KeepaliveProbes,
		MaxPersistProbes:  c.MaxPersistProbes,
	}
}
