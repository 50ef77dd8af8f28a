package alert

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/clock"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/event"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/metrics"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/timers"
)

const (
	DefaultCapacity = 5
	DefaultTTL      = 5 * time.Second
)

// Manager owns the bounded alert list and one expiry timer per alert.
// It must only be used from the engine loop.
type Manager struct {
	clock    clock.Clock
	timers   *timers.Registry
	logger   *slog.Logger
	rules    []Rule
	capacity int
	ttl      time.Duration

	alerts   []Alert // newest-first
	expiry   map[string]timers.Handle
	version  uint64
	onChange func()
}

// Options configures a Manager. Zero values fall back to the defaults.
type Options struct {
	Capacity int
	TTL      time.Duration
	Rules    []Rule
	Logger   *slog.Logger
}

// NewManager creates a Manager whose expiry timers fire through dispatch.
func NewManager(c clock.Clock, dispatch timers.Dispatch, opts Options) *Manager {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Rules == nil {
		opts.Rules = DefaultRules()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	m := &Manager{
		clock:    c,
		timers:   timers.New(c, dispatch),
		logger:   opts.Logger,
		rules:    opts.Rules,
		capacity: opts.Capacity,
		ttl:      opts.TTL,
		expiry:   make(map[string]timers.Handle),
	}
	m.timers.OnChange(func(n int) { metrics.TimersPending.WithLabelValues("alerts").Set(float64(n)) })
	return m
}

// OnChange registers a hook called after every mutation of the list.
func (m *Manager) OnChange(fn func()) { m.onChange = fn }

// Observe evaluates ev against the rules and raises at most one alert.
func (m *Manager) Observe(ev event.DecisionEvent) {
	for _, r := range m.rules {
		ok, err := r.When.Match(ev)
		if err != nil {
			m.logger.Debug("alert rule evaluation failed", "rule", r.ID, "event_id", ev.ID, "err", err)
			continue
		}
		if ok {
			m.raise(ev, r)
			return
		}
	}
}

func (m *Manager) raise(ev event.DecisionEvent, r Rule) Alert {
	a := Alert{
		ID:        newID(),
		Title:     r.Title,
		Body:      body(ev),
		Severity:  r.Severity,
		CreatedAt: m.clock.Now(),
		EventID:   ev.ID,
		Rule:      r.ID,
	}

	m.alerts = append([]Alert{a}, m.alerts...)
	for len(m.alerts) > m.capacity {
		oldest := m.alerts[len(m.alerts)-1]
		m.alerts = m.alerts[:len(m.alerts)-1]
		m.timers.Cancel(m.expiry[oldest.ID])
		delete(m.expiry, oldest.ID)
	}

	id := a.ID
	m.expiry[id] = m.timers.Schedule(m.ttl, func() { m.expire(id) })

	metrics.AlertsRaised.WithLabelValues(string(a.Severity)).Inc()
	m.logger.Info("alert raised", "alert_id", a.ID, "rule", r.ID, "event_id", ev.ID, "score", ev.Score)
	m.changed()
	return a
}

// expire runs from the expiry timer. The alert may already be gone.
func (m *Manager) expire(id string) {
	delete(m.expiry, id)
	if m.remove(id) {
		m.changed()
	}
}

// Dismiss removes the alert now and cancels its expiry timer.
func (m *Manager) Dismiss(id string) bool {
	if !m.remove(id) {
		return false
	}
	m.timers.Cancel(m.expiry[id])
	delete(m.expiry, id)
	m.changed()
	return true
}

func (m *Manager) remove(id string) bool {
	for i, a := range m.alerts {
		if a.ID == id {
			m.alerts = append(m.alerts[:i:i], m.alerts[i+1:]...)
			return true
		}
	}
	return false
}

// List returns the alerts newest-first.
func (m *Manager) List() []Alert {
	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// Len returns the number of live alerts.
func (m *Manager) Len() int { return len(m.alerts) }

// PendingTimers returns the number of outstanding expiry timers. It always
// equals Len.
func (m *Manager) PendingTimers() int { return m.timers.Pending() }

// Version increases on every mutation.
func (m *Manager) Version() uint64 { return m.version }

// SetRules replaces the trigger rules for subsequent events.
func (m *Manager) SetRules(rules []Rule) { m.rules = rules }

// SetTTL changes the lifetime of alerts raised from now on.
func (m *Manager) SetTTL(d time.Duration) {
	if d > 0 {
		m.ttl = d
	}
}

// Close cancels every expiry timer and drops all alerts.
func (m *Manager) Close() {
	m.timers.CancelAll()
	m.expiry = make(map[string]timers.Handle)
	if len(m.alerts) > 0 {
		m.alerts = nil
		m.changed()
	}
}

func (m *Manager) changed() {
	m.version++
	metrics.AlertsActive.Set(float64(len(m.alerts)))
	if m.onChange != nil {
		m.onChange()
	}
}

// newID returns a time-ordered unique id (UUIDv7 embeds the creation
// millisecond), so bursts within one millisecond never collide.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
