package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RFA_"

// Loader reads a YAML config file, applies environment overrides and
// watches the file for changes.
type Loader struct {
	path     string
	logger   atomic.Pointer[slog.Logger]
	mu       sync.RWMutex
	current  *Config
	onChange []func(*Config)
	watcher  *fsnotify.Watcher
}

// NewLoader creates a Loader and performs the initial load. An empty path
// yields the defaults plus environment overrides.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{path: path}
	l.SetLogger(slog.Default().With("component", "config"))
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// SetLogger replaces the logger used for reload warnings. The loader is
// built before logging is configured, so callers set it once the handler
// is in place.
func (l *Loader) SetLogger(lg *slog.Logger) { l.logger.Store(lg) }

// Path returns the watched file, empty when running on defaults.
func (l *Loader) Path() string { return l.path }

// Config returns the current (latest) configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked whenever the config reloads.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts a background goroutine that hot-reloads the config on file changes.
// Call the returned stop function to clean up.
func (l *Loader) Watch() (stop func(), err error) {
	if l.path == "" {
		return func() {}, nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := w.Add(l.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", l.path, err)
	}
	l.watcher = w

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if _, err := l.Reload(); err != nil {
						l.logger.Load().Warn("hot-reload skipped", "err", err)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.logger.Load().Warn("config watcher error", "err", err)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

// Reload forces an immediate re-read of the config file. An invalid file
// leaves the current config in place.
func (l *Loader) Reload() (*Config, error) {
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	callbacks := make([]func(*Config), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()
	for _, fn := range callbacks {
		fn(cfg)
	}
	return cfg, nil
}

func (l *Loader) load() (*Config, error) {
	cfg := Default()
	if l.path != "" {
		data, err := os.ReadFile(l.path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", l.path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", l.path, err)
		}
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	var errs []string
	str := func(name string, dst *string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		v := os.Getenv(EnvPrefix + name)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s%s: %s", EnvPrefix, name, err))
			return
		}
		*dst = n
	}
	flag := func(name string, dst *bool) {
		v := os.Getenv(EnvPrefix + name)
		if v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s%s: %s", EnvPrefix, name, err))
			return
		}
		*dst = b
	}

	str("SERVER_ADDR", &cfg.Server.Addr)
	str("LOG_LEVEL", &cfg.Logging.Level)
	if v := os.Getenv(EnvPrefix + "LOG_FORMAT"); v != "" {
		cfg.Logging.JSON = strings.EqualFold(v, "json")
	}
	num("ENGINE_QUEUE_DEPTH", &cfg.Engine.QueueDepth)
	str("STREAM_URL", &cfg.Stream.URL)
	str("STREAM_TOPIC", &cfg.Stream.Topic)
	flag("STREAM_AUTOSTART", &cfg.Stream.Autostart)
	num("STREAM_HIGHLIGHT_MS", &cfg.Stream.HighlightMs)
	str("STREAM_HIGHLIGHT_MATCH", &cfg.Stream.HighlightMatch)
	str("POLLER_URL", &cfg.Poller.URL)
	num("POLLER_INTERVAL_MS", &cfg.Poller.IntervalMs)
	flag("POLLER_AUTOSTART", &cfg.Poller.Autostart)
	str("THRESHOLDS_URL", &cfg.Thresholds.URL)
	num("ALERTS_TTL_MS", &cfg.Alerts.TTLMs)

	if len(errs) > 0 {
		return fmt.Errorf("environment overrides:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
