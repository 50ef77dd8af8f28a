package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/alert"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/rule"
)

// Validate checks the config for:
//   - Required fields and positive durations and capacities
//   - Well-formed endpoint URLs
//   - Duplicate alert rule IDs, unparseable expressions and unknown severities
//
// Every problem is reported, not just the first.
func Validate(cfg *Config) error {
	if cfg.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if cfg.Server.Addr == "" {
		add("server.addr is required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "debug", "info", "warn", "error":
	default:
		add("logging.level %q must be one of debug, info, warn, error", cfg.Logging.Level)
	}
	positive(add, "server.shutdown_timeout_ms", cfg.Server.ShutdownTimeoutMs)
	positive(add, "engine.queue_depth", cfg.Engine.QueueDepth)

	validateURL(add, "stream.url", cfg.Stream.URL, cfg.Stream.Autostart, "ws", "wss", "http", "https")
	if cfg.Stream.Topic == "" {
		add("stream.topic is required")
	}
	positive(add, "stream.highlight_ms", cfg.Stream.HighlightMs)
	positive(add, "stream.reconnect_initial_ms", cfg.Stream.ReconnectInitialMs)
	if cfg.Stream.ReconnectMaxMs < cfg.Stream.ReconnectInitialMs {
		add("stream.reconnect_max_ms (%d) must be >= reconnect_initial_ms (%d)", cfg.Stream.ReconnectMaxMs, cfg.Stream.ReconnectInitialMs)
	}
	if cfg.Stream.ReadLimitBytes <= 0 {
		add("stream.read_limit_bytes must be > 0")
	}
	switch cfg.Stream.HighlightMatch {
	case "id", "entry":
	default:
		add("stream.highlight_match %q must be id or entry", cfg.Stream.HighlightMatch)
	}

	validateURL(add, "poller.url", cfg.Poller.URL, cfg.Poller.Autostart, "http", "https")
	positive(add, "poller.interval_ms", cfg.Poller.IntervalMs)
	positive(add, "poller.timeout_ms", cfg.Poller.TimeoutMs)

	validateURL(add, "thresholds.url", cfg.Thresholds.URL, false, "http", "https")
	positive(add, "thresholds.timeout_ms", cfg.Thresholds.TimeoutMs)

	positive(add, "capacity.events", cfg.Capacity.Events)
	positive(add, "capacity.timeseries", cfg.Capacity.Timeseries)
	positive(add, "capacity.alerts", cfg.Capacity.Alerts)
	positive(add, "alerts.ttl_ms", cfg.Alerts.TTLMs)

	ids := make(map[string]int)
	for i, r := range cfg.Alerts.Rules {
		if r.ID == "" {
			add("alerts.rules[%d]: id is required", i)
		} else if prev, ok := ids[r.ID]; ok {
			add("duplicate alert rule id %q (rules[%d] and rules[%d])", r.ID, prev, i)
		} else {
			ids[r.ID] = i
		}
		if r.When == "" {
			add("alerts.rules[%d]: when is required", i)
		} else if _, err := rule.Compile(r.When); err != nil {
			add("alerts.rules[%d]: %s", i, err)
		}
		if r.Title == "" {
			add("alerts.rules[%d]: title is required", i)
		}
		if _, err := alert.ParseSeverity(r.Severity); err != nil {
			add("alerts.rules[%d]: %s", i, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// CompileRules turns the configured alert rules into alert.Rule values.
// The config must already have passed Validate.
func (a AlertsConf) CompileRules() ([]alert.Rule, error) {
	out := make([]alert.Rule, 0, len(a.Rules))
	for _, r := range a.Rules {
		pred, err := rule.Compile(r.When)
		if err != nil {
			return nil, fmt.Errorf("alert rule %s: %w", r.ID, err)
		}
		sev, err := alert.ParseSeverity(r.Severity)
		if err != nil {
			return nil, fmt.Errorf("alert rule %s: %w", r.ID, err)
		}
		out = append(out, alert.Rule{ID: r.ID, When: pred, Title: r.Title, Severity: sev})
	}
	return out, nil
}

func positive(add func(string, ...any), field string, v int) {
	if v <= 0 {
		add("%s must be > 0", field)
	}
}

func validateURL(add func(string, ...any), field, raw string, required bool, schemes ...string) {
	if raw == "" {
		if required {
			add("%s is required", field)
		}
		return
	}
	u, err := url.Parse(raw)
	if err != nil {
		add("%s: %s", field, err)
		return
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				add("%s %q has no host", field, raw)
			}
			return
		}
	}
	add("%s %q: scheme must be one of %s", field, raw, strings.Join(schemes, ", "))
}
