// Package engine owns the dashboard state and serialises every mutation
// onto a single loop goroutine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/alert"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/clock"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/config"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/event"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/eventlog"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/ingest"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/metrics"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/poller"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/series"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/upstream"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/view"
)

// ErrNoThresholds is returned when no thresholds endpoint is configured.
var ErrNoThresholds = errors.New("engine: thresholds endpoint not configured")

// ThresholdsService reads and updates the backend's score thresholds.
type ThresholdsService interface {
	Get(ctx context.Context) (upstream.Thresholds, error)
	Update(ctx context.Context, t upstream.Thresholds) (upstream.Thresholds, error)
}

// Options wires an Engine. Channel and Fetcher are required.
type Options struct {
	Channel    ingest.Channel
	Fetcher    poller.Fetcher
	Thresholds ThresholdsService
	Clock      clock.Clock
	Logger     *slog.Logger

	QueueDepth         int
	EventCapacity      int
	TimeseriesCapacity int
	AlertCapacity      int
	AlertTTL           time.Duration
	AlertRules         []alert.Rule

	Topic          string
	Highlight      time.Duration
	HighlightMatch ingest.HighlightMatch
	PollInterval   time.Duration
	// Spawn runs metrics fetches; defaults to a new goroutine.
	Spawn func(fn func())
}

// OptionsFromConfig maps cfg onto Options. Channel, Fetcher and Thresholds
// are left for the caller.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	rules, err := cfg.Alerts.CompileRules()
	if err != nil {
		return Options{}, err
	}
	return Options{
		QueueDepth:         cfg.Engine.QueueDepth,
		EventCapacity:      cfg.Capacity.Events,
		TimeseriesCapacity: cfg.Capacity.Timeseries,
		AlertCapacity:      cfg.Capacity.Alerts,
		AlertTTL:           cfg.Alerts.TTL(),
		AlertRules:         rules,
		Topic:              cfg.Stream.Topic,
		Highlight:          cfg.Stream.Highlight(),
		HighlightMatch:     ingest.HighlightMatch(cfg.Stream.HighlightMatch),
		PollInterval:       cfg.Poller.Interval(),
	}, nil
}

// Engine is the state object behind the dashboard. All methods are safe
// for concurrent use; components below it are touched only on the loop.
type Engine struct {
	loop       *Loop
	clock      clock.Clock
	logger     *slog.Logger
	notify     *notifier
	thresholds ThresholdsService
	closed     atomic.Bool

	log       *eventlog.Log
	series    *series.Buffer
	alerts    *alert.Manager
	ingestor  *ingest.Ingestor
	poller    *poller.Poller
	projector *view.Projector

	lastStream ingest.State
}

// New builds the components and starts the loop. Ingestion and polling
// start stopped.
func New(opts Options) (*Engine, error) {
	if opts.Channel == nil || opts.Fetcher == nil {
		return nil, fmt.Errorf("engine: channel and fetcher are required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 4096
	}

	e := &Engine{
		loop:       NewLoop(opts.QueueDepth),
		clock:      opts.Clock,
		logger:     opts.Logger.With("component", "engine"),
		notify:     newNotifier(),
		thresholds: opts.Thresholds,
		projector:  view.NewProjector(),
	}
	dispatch := func(fn func()) { e.loop.Post(fn) }

	e.log = eventlog.New(opts.Clock, capacityOr(opts.EventCapacity, eventlog.DefaultCapacity))
	e.series = series.New(capacityOr(opts.TimeseriesCapacity, series.DefaultCapacity))

	e.alerts = alert.NewManager(opts.Clock, dispatch, alert.Options{
		Capacity: opts.AlertCapacity,
		TTL:      opts.AlertTTL,
		Rules:    opts.AlertRules,
		Logger:   opts.Logger.With("component", "alerts"),
	})
	e.alerts.OnChange(func() { e.notify.publish(KindAlerts) })

	e.ingestor = ingest.New(opts.Channel, e.log, opts.Clock, dispatch, ingest.Options{
		Topic:          opts.Topic,
		Highlight:      opts.Highlight,
		HighlightMatch: opts.HighlightMatch,
		Logger:         opts.Logger.With("component", "ingest"),
	})
	e.ingestor.Subscribe(e.alerts)
	e.ingestor.OnChange(func() {
		if s := e.ingestor.State(); s != e.lastStream {
			e.lastStream = s
			e.notify.publish(KindStream)
			return
		}
		e.notify.publish(KindEvents)
	})

	e.poller = poller.New(opts.Fetcher, e.series, opts.Clock, dispatch, poller.Options{
		Interval: opts.PollInterval,
		Logger:   opts.Logger.With("component", "poller"),
		Spawn:    opts.Spawn,
	})
	e.poller.OnChange(func() { e.notify.publish(KindTimeseries) })

	return e, nil
}

func capacityOr(n, def int) int {
	if n > 0 {
		return n
	}
	return def
}

// do runs fn on the loop, mapping a stopped loop to ErrClosed.
func (e *Engine) do(ctx context.Context, fn func()) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.loop.Do(ctx, fn)
}

// ── Queries ──────────────────────────────────────────────────────────────────

// Versions identify the revision of each collection.
type Versions struct {
	Events     uint64 `json:"events"`
	Timeseries uint64 `json:"timeseries"`
	Alerts     uint64 `json:"alerts"`
	Changes    uint64 `json:"changes"`
}

// State is a consistent copy of everything the dashboard renders.
type State struct {
	Events       []event.DecisionEvent     `json:"events"`
	View         []event.DecisionEvent     `json:"view"`
	Params       view.Params               `json:"params"`
	Timeseries   []event.AggregateSnapshot `json:"timeseries"`
	Latest       *event.AggregateSnapshot  `json:"latest"`
	Alerts       []alert.Alert             `json:"alerts"`
	Stream       ingest.State              `json:"stream"`
	StreamActive bool                      `json:"stream_active"`
	Polling      bool                      `json:"polling"`
	Versions     Versions                  `json:"versions"`
}

// State returns a snapshot of the whole engine.
func (e *Engine) State(ctx context.Context) (State, error) {
	var s State
	err := e.do(ctx, func() {
		s = State{
			Events:       e.log.Snapshot(),
			View:         e.viewCopy(),
			Params:       e.projector.Params(),
			Timeseries:   e.series.Chronological(),
			Alerts:       e.alerts.List(),
			Stream:       e.ingestor.State(),
			StreamActive: e.ingestor.Active(),
			Polling:      e.poller.Active(),
			Versions: Versions{
				Events:     e.log.Version(),
				Timeseries: e.series.Version(),
				Alerts:     e.alerts.Version(),
				Changes:    e.notify.version(),
			},
		}
		if latest, ok := e.poller.Latest(); ok {
			s.Latest = &latest
		}
	})
	return s, err
}

func (e *Engine) viewCopy() []event.DecisionEvent {
	v := e.projector.View(e.log)
	out := make([]event.DecisionEvent, len(v))
	copy(out, v)
	return out
}

// View returns the projected events under the current view parameters.
func (e *Engine) View(ctx context.Context) ([]event.DecisionEvent, view.Params, error) {
	var (
		out []event.DecisionEvent
		p   view.Params
	)
	err := e.do(ctx, func() {
		out = e.viewCopy()
		p = e.projector.Params()
	})
	return out, p, err
}

// Events returns the raw log, newest first.
func (e *Engine) Events(ctx context.Context) ([]event.DecisionEvent, error) {
	var out []event.DecisionEvent
	err := e.do(ctx, func() { out = e.log.Snapshot() })
	return out, err
}

// Event returns the newest entry with id.
func (e *Engine) Event(ctx context.Context, id string) (event.DecisionEvent, bool, error) {
	var (
		ev    event.DecisionEvent
		found bool
	)
	err := e.do(ctx, func() { ev, found = e.log.Find(id) })
	return ev, found, err
}

// Timeseries returns the sampled points, oldest first.
func (e *Engine) Timeseries(ctx context.Context) ([]event.AggregateSnapshot, error) {
	var out []event.AggregateSnapshot
	err := e.do(ctx, func() { out = e.series.Chronological() })
	return out, err
}

// Latest returns the most recent successful metrics sample.
func (e *Engine) Latest(ctx context.Context) (event.AggregateSnapshot, bool, error) {
	var (
		s  event.AggregateSnapshot
		ok bool
	)
	err := e.do(ctx, func() { s, ok = e.poller.Latest() })
	return s, ok, err
}

// Alerts returns the live alerts, newest first.
func (e *Engine) Alerts(ctx context.Context) ([]alert.Alert, error) {
	var out []alert.Alert
	err := e.do(ctx, func() { out = e.alerts.List() })
	return out, err
}

// ViewParams returns the active view parameters.
func (e *Engine) ViewParams(ctx context.Context) (view.Params, error) {
	var p view.Params
	err := e.do(ctx, func() { p = e.projector.Params() })
	return p, err
}

// ── Commands ─────────────────────────────────────────────────────────────────

// SetView replaces the view parameters. The decision filter is validated.
func (e *Engine) SetView(ctx context.Context, p view.Params) (view.Params, error) {
	f, err := view.ParseFilter(string(p.Decision))
	if err != nil {
		return view.Params{}, err
	}
	p.Decision = f
	var out view.Params
	err = e.do(ctx, func() {
		if e.projector.SetParams(p) {
			e.notify.publish(KindView)
		}
		out = e.projector.Params()
	})
	return out, err
}

// ToggleSort flips the score sort direction.
func (e *Engine) ToggleSort(ctx context.Context) (view.Params, error) {
	var out view.Params
	err := e.do(ctx, func() {
		e.projector.ToggleSort()
		e.notify.publish(KindView)
		out = e.projector.Params()
	})
	return out, err
}

// Dismiss removes an alert. It reports whether the alert existed.
func (e *Engine) Dismiss(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := e.do(ctx, func() { ok = e.alerts.Dismiss(id) })
	return ok, err
}

// StartIngest connects the push channel.
func (e *Engine) StartIngest(ctx context.Context) error {
	var startErr error
	if err := e.do(ctx, func() { startErr = e.ingestor.Start(ctx) }); err != nil {
		return err
	}
	return startErr
}

// StopIngest disconnects the push channel and cancels highlight timers.
func (e *Engine) StopIngest(ctx context.Context) error {
	return e.do(ctx, e.ingestor.Stop)
}

// StartPolling begins sampling the metrics endpoint.
func (e *Engine) StartPolling(ctx context.Context) error {
	return e.do(ctx, func() { e.poller.Start(ctx) })
}

// StopPolling cancels the schedule and any in-flight fetch.
func (e *Engine) StopPolling(ctx context.Context) error {
	return e.do(ctx, e.poller.Stop)
}

// RefreshNow triggers an immediate metrics fetch. It reports false when
// polling is stopped or a fetch is outstanding.
func (e *Engine) RefreshNow(ctx context.Context) (bool, error) {
	var ok bool
	err := e.do(ctx, func() { ok = e.poller.RefreshNow() })
	return ok, err
}

// Reconfigure applies the hot-reloadable settings of cfg: alert rules and
// TTL, poll interval and highlight behaviour. Capacities, URLs and the
// queue depth need a restart.
func (e *Engine) Reconfigure(ctx context.Context, cfg *config.Config) error {
	rules, err := cfg.Alerts.CompileRules()
	if err != nil {
		return err
	}
	return e.do(ctx, func() {
		e.alerts.SetRules(rules)
		e.alerts.SetTTL(cfg.Alerts.TTL())
		e.poller.SetInterval(cfg.Poller.Interval())
		e.ingestor.SetHighlight(cfg.Stream.Highlight(), ingest.HighlightMatch(cfg.Stream.HighlightMatch))
		e.notify.publish(KindConfig)
		e.logger.Info("configuration applied", "rules", len(rules), "poll_interval", cfg.Poller.Interval())
	})
}

// Thresholds reads the backend thresholds.
func (e *Engine) Thresholds(ctx context.Context) (upstream.Thresholds, error) {
	if e.thresholds == nil {
		return upstream.Thresholds{}, ErrNoThresholds
	}
	return e.thresholds.Get(ctx)
}

// UpdateThresholds writes the backend thresholds and returns the accepted
// pair.
func (e *Engine) UpdateThresholds(ctx context.Context, t upstream.Thresholds) (upstream.Thresholds, error) {
	if e.thresholds == nil {
		return upstream.Thresholds{}, ErrNoThresholds
	}
	return e.thresholds.Update(ctx, t)
}

// Subscribe returns a channel of change notifications and a function that
// cancels the subscription. A subscriber that falls buf changes behind
// misses changes rather than blocking the engine.
func (e *Engine) Subscribe(buf int) (<-chan Change, func()) {
	return e.notify.subscribe(buf)
}

// QueueUtilization returns queue used / capacity (0–1).
func (e *Engine) QueueUtilization() float64 {
	util := 0.0
	if e.loop.QueueCap() > 0 {
		util = float64(e.loop.QueueLen()) / float64(e.loop.QueueCap())
	}
	metrics.LoopQueueUtilization.Set(util)
	return util
}

// Close stops ingestion, polling and alert timers, then the loop. It is
// idempotent. If ctx ends before the loop gets to the teardown, the
// teardown runs here once the loop has exited, so the stream channel and
// timers never outlive the engine.
func (e *Engine) Close(ctx context.Context) error {
	if e.closed.Swap(true) {
		return nil
	}
	tornDown := false
	teardown := func() {
		e.ingestor.Stop()
		e.poller.Stop()
		e.alerts.Close()
		tornDown = true
	}
	err := e.loop.Do(ctx, teardown)
	e.loop.Stop()
	if !tornDown {
		e.logger.Warn("loop did not run teardown, stopping components directly", "err", err)
		teardown()
	}
	e.notify.closeAll()
	e.logger.Info("engine closed")
	return nil
}
