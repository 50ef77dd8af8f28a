// Package poller samples the aggregate metrics endpoint on a fixed
// interval and feeds the timeseries buffer.
package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/clock"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/event"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/metrics"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/series"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/timers"
)

// DefaultInterval between fetches.
const DefaultInterval = 3 * time.Second

// Fetcher retrieves one aggregate snapshot.
type Fetcher interface {
	Fetch(ctx context.Context) (event.AggregateSnapshot, error)
}

// Options configures a Poller.
type Options struct {
	Interval time.Duration
	Logger   *slog.Logger
	// Spawn runs a fetch off the owner's executor. Defaults to a new
	// goroutine.
	Spawn func(fn func())
}

// Poller must only be used from the engine loop. Fetches run on their own
// goroutine and post their result back through dispatch.
type Poller struct {
	fetcher  Fetcher
	series   *series.Buffer
	clock    clock.Clock
	dispatch timers.Dispatch
	spawn    func(fn func())
	timers   *timers.Registry
	logger   *slog.Logger

	interval time.Duration
	tick     timers.Handle

	active   bool
	gen      uint64
	inflight bool
	ctx      context.Context
	cancel   context.CancelFunc

	latest    event.AggregateSnapshot
	hasLatest bool
	onChange  func()
}

// New creates a stopped Poller.
func New(f Fetcher, buf *series.Buffer, c clock.Clock, dispatch timers.Dispatch, opts Options) *Poller {
	if dispatch == nil {
		dispatch = func(fn func()) { fn() }
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Spawn == nil {
		opts.Spawn = func(fn func()) { go fn() }
	}
	p := &Poller{
		fetcher:  f,
		series:   buf,
		clock:    c,
		dispatch: dispatch,
		spawn:    opts.Spawn,
		timers:   timers.New(c, dispatch),
		logger:   opts.Logger,
		interval: opts.Interval,
	}
	p.timers.OnChange(func(n int) { metrics.TimersPending.WithLabelValues("poller").Set(float64(n)) })
	return p
}

// OnChange registers a hook called after a successful sample.
func (p *Poller) OnChange(fn func()) { p.onChange = fn }

func (p *Poller) Active() bool            { return p.active }
func (p *Poller) Interval() time.Duration { return p.interval }

// Latest returns the most recent successful snapshot.
func (p *Poller) Latest() (event.AggregateSnapshot, bool) { return p.latest, p.hasLatest }

// Start fetches immediately and then once per interval. Calling Start while
// active is a no-op. In-flight requests outlive ctx's cancellation and end
// on Stop.
func (p *Poller) Start(ctx context.Context) {
	if p.active {
		return
	}
	p.active = true
	p.gen++
	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	p.logger.Info("metrics polling started", "interval", p.interval)
	p.fetch()
	p.schedule()
}

// Stop cancels the schedule and any in-flight request. A fetch that
// completes afterwards is discarded. Stop is idempotent.
func (p *Poller) Stop() {
	if !p.active {
		return
	}
	p.active = false
	p.gen++
	p.cancel()
	p.inflight = false
	p.timers.CancelAll()
	p.logger.Info("metrics polling stopped")
}

// RefreshNow triggers an out-of-band fetch. It reports false when stopped
// or when a fetch is already outstanding.
func (p *Poller) RefreshNow() bool {
	if !p.active {
		return false
	}
	return p.fetch()
}

// SetInterval changes the cadence; an active schedule is re-armed from now.
func (p *Poller) SetInterval(d time.Duration) {
	if d <= 0 || d == p.interval {
		return
	}
	p.interval = d
	if p.active {
		p.timers.Cancel(p.tick)
		p.schedule()
	}
}

func (p *Poller) schedule() {
	p.tick = p.timers.Schedule(p.interval, func() {
		p.fetch()
		p.schedule()
	})
}

func (p *Poller) fetch() bool {
	if p.inflight {
		metrics.PollsTotal.WithLabelValues("skipped").Inc()
		p.logger.Debug("metrics fetch still outstanding, skipping tick")
		return false
	}
	p.inflight = true
	gen, ctx, started := p.gen, p.ctx, p.clock.Now()
	p.spawn(func() {
		snap, err := p.fetcher.Fetch(ctx)
		p.dispatch(func() { p.complete(gen, started, snap, err) })
	})
	return true
}

func (p *Poller) complete(gen uint64, started time.Time, snap event.AggregateSnapshot, err error) {
	if !p.active || gen != p.gen {
		metrics.PollsTotal.WithLabelValues("stale").Inc()
		return
	}
	p.inflight = false
	now := p.clock.Now()
	metrics.PollDuration.Observe(float64(now.Sub(started)) / float64(time.Millisecond))

	if err != nil {
		metrics.PollsTotal.WithLabelValues("error").Inc()
		p.logger.Warn("metrics fetch failed", "err", err)
		return
	}
	metrics.PollsTotal.WithLabelValues("success").Inc()

	snap.CapturedAt = now
	p.series.Append(snap)
	p.latest = snap
	p.hasLatest = true
	metrics.TimeseriesSize.Set(float64(p.series.Len()))
	if p.onChange != nil {
		p.onChange()
	}
}
