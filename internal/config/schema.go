package config

import (
	"log/slog"
	"strings"
	"time"
)

// Config is the top-level YAML structure.
type Config struct {
	Version    string         `yaml:"version"`
	Server     ServerConf     `yaml:"server"`
	Logging    LoggingConf    `yaml:"logging"`
	Engine     EngineConf     `yaml:"engine"`
	Stream     StreamConf     `yaml:"stream"`
	Poller     PollerConf     `yaml:"poller"`
	Thresholds ThresholdsConf `yaml:"thresholds"`
	Capacity   CapacityConf   `yaml:"capacity"`
	Alerts     AlertsConf     `yaml:"alerts"`
}

type ServerConf struct {
	Addr              string `yaml:"addr"`
	ShutdownTimeoutMs int    `yaml:"shutdown_timeout_ms"`
}

func (s ServerConf) ShutdownTimeout() time.Duration { return ms(s.ShutdownTimeoutMs) }

type LoggingConf struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// SlogLevel maps Level onto slog; unknown values fall back to info.
func (l LoggingConf) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(l.Level))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// EngineConf holds the loop queue size.
type EngineConf struct {
	QueueDepth int `yaml:"queue_depth"`
}

// StreamConf configures the push channel and highlight behaviour.
type StreamConf struct {
	URL                string `yaml:"url"`
	Topic              string `yaml:"topic"`
	Autostart          bool   `yaml:"autostart"`
	HighlightMs        int    `yaml:"highlight_ms"`
	HighlightMatch     string `yaml:"highlight_match"`
	ReconnectInitialMs int    `yaml:"reconnect_initial_ms"`
	ReconnectMaxMs     int    `yaml:"reconnect_max_ms"`
	ReadLimitBytes     int64  `yaml:"read_limit_bytes"`
}

func (s StreamConf) Highlight() time.Duration        { return ms(s.HighlightMs) }
func (s StreamConf) ReconnectInitial() time.Duration { return ms(s.ReconnectInitialMs) }
func (s StreamConf) ReconnectMax() time.Duration     { return ms(s.ReconnectMaxMs) }

type PollerConf struct {
	URL        string `yaml:"url"`
	IntervalMs int    `yaml:"interval_ms"`
	TimeoutMs  int    `yaml:"timeout_ms"`
	Autostart  bool   `yaml:"autostart"`
}

func (p PollerConf) Interval() time.Duration { return ms(p.IntervalMs) }
func (p PollerConf) Timeout() time.Duration  { return ms(p.TimeoutMs) }

// ThresholdsConf points at the backend's thresholds endpoint. An empty URL
// disables the pass-through.
type ThresholdsConf struct {
	URL       string `yaml:"url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

func (t ThresholdsConf) Timeout() time.Duration { return ms(t.TimeoutMs) }

// CapacityConf bounds the in-memory collections.
type CapacityConf struct {
	Events     int `yaml:"events"`
	Timeseries int `yaml:"timeseries"`
	Alerts     int `yaml:"alerts"`
}

type AlertsConf struct {
	TTLMs int         `yaml:"ttl_ms"`
	Rules []AlertRule `yaml:"rules"`
}

func (a AlertsConf) TTL() time.Duration { return ms(a.TTLMs) }

// AlertRule raises an alert with Title when the When expression matches
// an ingested event.
type AlertRule struct {
	ID       string `yaml:"id"`
	When     string `yaml:"when"`
	Title    string `yaml:"title"`
	Severity string `yaml:"severity"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Version: "v1",
		Server:  ServerConf{Addr: ":8080", ShutdownTimeoutMs: 15000},
		Logging: LoggingConf{Level: "info"},
		Engine:  EngineConf{QueueDepth: 4096},
		Stream: StreamConf{
			URL:                "ws://localhost:5000/stream",
			Topic:              "event",
			Autostart:          true,
			HighlightMs:        1000,
			HighlightMatch:     "id",
			ReconnectInitialMs: 500,
			ReconnectMaxMs:     15000,
			ReadLimitBytes:     1 << 20,
		},
		Poller: PollerConf{
			URL:        "http://localhost:5000/metrics",
			IntervalMs: 3000,
			TimeoutMs:  2500,
			Autostart:  true,
		},
		Thresholds: ThresholdsConf{URL: "http://localhost:5000/config", TimeoutMs: 5000},
		Capacity:   CapacityConf{Events: 500, Timeseries: 120, Alerts: 5},
		Alerts: AlertsConf{
			TTLMs: 5000,
			Rules: []AlertRule{{
				ID:       "fraud_reject",
				When:     `decision == "REJECT"`,
				Title:    "🚨 Fraud Alert",
				Severity: "error",
			}},
		},
	}
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
