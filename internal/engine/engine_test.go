package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/clock"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/config"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/event"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/ingest"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/upstream"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/view"
)

type fakeChannel struct {
	mu      sync.Mutex
	handler ingest.Handler
	closes  int
}

func (f *fakeChannel) Connect(_ context.Context, _ string, h ingest.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeChannel) h() ingest.Handler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler
}

type countingFetcher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *countingFetcher) Fetch(context.Context) (event.AggregateSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return event.AggregateSnapshot{}, f.err
	}
	return event.AggregateSnapshot{Total: int64(f.calls * 10), Approved: int64(f.calls * 6), Rejected: int64(f.calls), AvgLatencyMs: 8}, nil
}

type fixture struct {
	clock   *clock.Fake
	ch      *fakeChannel
	fetcher *countingFetcher
	eng     *Engine
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		clock:   clock.NewFake(time.Unix(1_700_000_000, 0)),
		ch:      &fakeChannel{},
		fetcher: &countingFetcher{},
	}
	opts := Options{
		Channel: f.ch,
		Fetcher: f.fetcher,
		Clock:   f.clock,
		// fetch on the loop so completions are queued before the command returns
		Spawn: func(fn func()) { fn() },
	}
	for _, m := range mutate {
		m(&opts)
	}
	eng, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	f.eng = eng
	t.Cleanup(func() { _ = eng.Close(context.Background()) })
	return f
}

func (f *fixture) push(t *testing.T, id, decision string, score float64) {
	t.Helper()
	f.ch.h().Message([]byte(fmt.Sprintf(`{"id":%q,"decision":%q,"score":%v,"latency_ms":3}`, id, decision, score)))
}

// sync waits until everything posted so far has run, plus anything those
// closures posted in turn (timer fire, then fetch completion).
func (f *fixture) sync(t *testing.T) {
	t.Helper()
	for i := 0; i < 2; i++ {
		if err := f.eng.loop.Do(context.Background(), func() {}); err != nil {
			t.Fatal(err)
		}
	}
}

func (f *fixture) state(t *testing.T) State {
	t.Helper()
	s, err := f.eng.State(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestEngine_IngestHighlightAndAlert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.eng.StartIngest(ctx); err != nil {
		t.Fatal(err)
	}
	f.ch.h().Connected()
	f.push(t, "t-1", "REJECT", 0.97)
	f.push(t, "t-2", "APPROVE", 0.12)

	s := f.state(t)
	if s.Stream != ingest.Connected || !s.StreamActive {
		t.Errorf("unexpected stream state %s", s.Stream)
	}
	if len(s.Events) != 2 || !s.Events[0].IsNew || !s.Events[1].IsNew {
		t.Fatalf("expected two highlighted events, got %+v", s.Events)
	}
	if len(s.Alerts) != 1 || s.Alerts[0].EventID != "t-1" {
		t.Fatalf("expected one alert for t-1, got %+v", s.Alerts)
	}

	f.clock.Advance(time.Second)
	s = f.state(t)
	for _, e := range s.Events {
		if e.IsNew {
			t.Errorf("%s still highlighted after 1000ms", e.ID)
		}
	}
	if len(s.Alerts) != 1 {
		t.Error("alert should outlive the highlight")
	}

	f.clock.Advance(4 * time.Second)
	if s = f.state(t); len(s.Alerts) != 0 {
		t.Error("alert should expire after 5000ms")
	}
}

func TestEngine_AlertCapacityAndDismiss(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.eng.StartIngest(ctx)
	for i := 0; i < 7; i++ {
		f.push(t, fmt.Sprintf("r-%d", i), "REJECT", 0.9)
	}
	alerts, err := f.eng.Alerts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 5 || alerts[0].EventID != "r-6" || alerts[4].EventID != "r-2" {
		t.Fatalf("expected newest five alerts, got %+v", alerts)
	}
	var pending int
	_ = f.eng.loop.Do(ctx, func() { pending = f.eng.alerts.PendingTimers() })
	if pending != 5 {
		t.Errorf("evicted alerts must cancel their timers, pending=%d", pending)
	}

	ok, err := f.eng.Dismiss(ctx, alerts[0].ID)
	if err != nil || !ok {
		t.Fatalf("Dismiss = %v, %v", ok, err)
	}
	if ok, _ := f.eng.Dismiss(ctx, alerts[0].ID); ok {
		t.Error("second dismiss should report false")
	}
	f.clock.Advance(5 * time.Second)
	if alerts, _ := f.eng.Alerts(ctx); len(alerts) != 0 {
		t.Errorf("remaining alerts should expire, got %d", len(alerts))
	}
}

func TestEngine_PollingFeedsTimeseries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, _, err := f.eng.Latest(ctx); err != nil {
		t.Fatal(err)
	}
	if err := f.eng.StartPolling(ctx); err != nil {
		t.Fatal(err)
	}
	f.sync(t)

	latest, ok, _ := f.eng.Latest(ctx)
	if !ok || latest.Total != 10 {
		t.Fatalf("expected immediate sample, got %+v (ok=%v)", latest, ok)
	}

	f.clock.Advance(3 * time.Second)
	f.sync(t)
	f.clock.Advance(3 * time.Second)
	f.sync(t)

	pts, _ := f.eng.Timeseries(ctx)
	if len(pts) != 3 || pts[0].Total != 10 || pts[2].Total != 30 {
		t.Errorf("expected three chronological points, got %+v", pts)
	}

	if ok, _ := f.eng.RefreshNow(ctx); !ok {
		t.Error("RefreshNow should fetch while idle")
	}
	f.sync(t)

	if err := f.eng.StopPolling(ctx); err != nil {
		t.Fatal(err)
	}
	if ok, _ := f.eng.RefreshNow(ctx); ok {
		t.Error("RefreshNow should be refused after stop")
	}
	f.clock.Advance(time.Minute)
	f.sync(t)
	if pts, _ := f.eng.Timeseries(ctx); len(pts) != 4 {
		t.Errorf("no samples expected after stop, got %d", len(pts))
	}
}

func TestEngine_ViewCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.eng.StartIngest(ctx)
	f.push(t, "a", "APPROVE", 0.1)
	f.push(t, "b", "REJECT", 0.9)
	f.push(t, "c", "REVIEW", 0.5)

	got, p, err := f.eng.View(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !p.SortDesc || got[0].ID != "b" || got[2].ID != "a" {
		t.Errorf("default view should sort by score descending, got %v", ids(got))
	}

	if _, err := f.eng.SetView(ctx, view.Params{Decision: "bogus"}); err == nil {
		t.Error("expected invalid filter error")
	}
	if _, err := f.eng.SetView(ctx, view.Params{Decision: "review", SortDesc: true}); err != nil {
		t.Fatal(err)
	}
	if got, _, _ = f.eng.View(ctx); len(got) != 1 || got[0].ID != "c" {
		t.Errorf("filter not applied: %v", ids(got))
	}

	_, _ = f.eng.SetView(ctx, view.Params{SortDesc: true})
	p, _ = f.eng.ToggleSort(ctx)
	if p.SortDesc {
		t.Fatal("toggle should switch to ascending")
	}
	if got, _, _ = f.eng.View(ctx); got[0].ID != "a" {
		t.Errorf("ascending view expected, got %v", ids(got))
	}

	// the returned slice is a copy
	got[0].ID = "mutated"
	if again, _, _ := f.eng.View(ctx); again[0].ID != "a" {
		t.Error("View must return a copy")
	}

	ev, found, _ := f.eng.Event(ctx, "c")
	if !found || ev.Decision != event.Review {
		t.Errorf("Event(c) = %+v, %v", ev, found)
	}
}

func ids(evs []event.DecisionEvent) []string {
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.ID
	}
	return out
}

func TestEngine_StopIngestCancelsHighlights(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.eng.StartIngest(ctx)
	h := f.ch.h()
	h.Message([]byte(`{"id":"x","decision":"APPROVE","score":0.2}`))

	if err := f.eng.StopIngest(ctx); err != nil {
		t.Fatal(err)
	}
	if f.clock.Pending() != 0 {
		t.Errorf("highlight timers should be cancelled, %d pending", f.clock.Pending())
	}
	h.Message([]byte(`{"id":"late","decision":"APPROVE","score":0.2}`))
	s := f.state(t)
	if len(s.Events) != 1 || s.Events[0].IsNew || s.StreamActive {
		t.Errorf("unexpected state after stop: %+v", s)
	}
}

func TestEngine_Notifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	changes, cancel := f.eng.Subscribe(64)
	defer cancel()

	_ = f.eng.StartIngest(ctx)
	f.push(t, "r", "REJECT", 0.99)
	_, _ = f.eng.ToggleSort(ctx)

	seen := map[Kind]bool{}
	var last uint64
	timeout := time.After(2 * time.Second)
	for !(seen[KindStream] && seen[KindEvents] && seen[KindAlerts] && seen[KindView]) {
		select {
		case c := <-changes:
			if c.Version <= last {
				t.Fatalf("versions must increase: %d after %d", c.Version, last)
			}
			last = c.Version
			seen[c.Kind] = true
		case <-timeout:
			t.Fatalf("missing notifications, saw %v", seen)
		}
	}
}

func TestEngine_Reconfigure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cfg := config.Default()
	cfg.Alerts.TTLMs = 1000
	cfg.Alerts.Rules = []config.AlertRule{{ID: "slow", When: "latency_ms > 100", Title: "Slow decision", Severity: "info"}}
	if err := f.eng.Reconfigure(ctx, &cfg); err != nil {
		t.Fatal(err)
	}

	_ = f.eng.StartIngest(ctx)
	f.ch.h().Message([]byte(`{"id":"fast","decision":"REJECT","score":0.99,"latency_ms":5}`))
	f.ch.h().Message([]byte(`{"id":"slow","decision":"APPROVE","score":0.1,"latency_ms":250}`))
	alerts, _ := f.eng.Alerts(ctx)
	if len(alerts) != 1 || alerts[0].Rule != "slow" || alerts[0].Title != "Slow decision" {
		t.Fatalf("new rules not applied: %+v", alerts)
	}
	f.clock.Advance(time.Second)
	if alerts, _ = f.eng.Alerts(ctx); len(alerts) != 0 {
		t.Error("new TTL not applied")
	}

	cfg.Alerts.Rules[0].When = "latency_ms >"
	if err := f.eng.Reconfigure(ctx, &cfg); err == nil {
		t.Error("expected compile error")
	}
}

type stubThresholds struct{ t upstream.Thresholds }

func (s *stubThresholds) Get(context.Context) (upstream.Thresholds, error) { return s.t, nil }
func (s *stubThresholds) Update(_ context.Context, t upstream.Thresholds) (upstream.Thresholds, error) {
	if err := t.Validate(); err != nil {
		return upstream.Thresholds{}, err
	}
	s.t = t
	return t, nil
}

func TestEngine_Thresholds(t *testing.T) {
	f := newFixture(t)
	if _, err := f.eng.Thresholds(context.Background()); !errors.Is(err, ErrNoThresholds) {
		t.Errorf("expected ErrNoThresholds, got %v", err)
	}

	stub := &stubThresholds{t: upstream.Thresholds{Review: 0.7, Reject: 0.9}}
	g := newFixture(t, func(o *Options) { o.Thresholds = stub })
	got, err := g.eng.UpdateThresholds(context.Background(), upstream.Thresholds{Review: 0.5, Reject: 0.8})
	if err != nil || got.Review != 0.5 {
		t.Errorf("UpdateThresholds = %+v, %v", got, err)
	}
}

func TestEngine_Close(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.eng.StartIngest(ctx)
	_ = f.eng.StartPolling(ctx)
	f.push(t, "r", "REJECT", 0.99)
	changes, _ := f.eng.Subscribe(1)

	if err := f.eng.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if f.clock.Pending() != 0 {
		t.Errorf("every timer should be cancelled on close, %d pending", f.clock.Pending())
	}
	if f.ch.closes != 1 {
		t.Errorf("channel should be closed once, got %d", f.ch.closes)
	}
	if _, err := f.eng.State(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := f.eng.Close(ctx); err != nil {
		t.Errorf("Close must be idempotent, got %v", err)
	}
	for range changes {
	}
	// late callbacks after close are dropped
	f.ch.h().Message([]byte(`{"id":"late","decision":"REJECT","score":0.99}`))
}

func TestEngine_CloseWithExpiredContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.eng.StartIngest(ctx)
	_ = f.eng.StartPolling(ctx)
	f.push(t, "r", "REJECT", 0.99)
	f.sync(t)

	expired, cancel := context.WithCancel(ctx)
	cancel()
	if err := f.eng.Close(expired); err != nil {
		t.Fatalf("Close = %v, want nil once components are stopped", err)
	}
	if f.ch.closes != 1 {
		t.Errorf("channel should be closed even with an expired context, got %d closes", f.ch.closes)
	}
	if f.clock.Pending() != 0 {
		t.Errorf("%d timers still pending after close", f.clock.Pending())
	}
	if _, err := f.eng.State(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestNew_RequiresChannelAndFetcher(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("expected error")
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Stream.HighlightMatch = "entry"
	opts, err := OptionsFromConfig(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	if opts.EventCapacity != 500 || opts.HighlightMatch != ingest.MatchEntry || opts.PollInterval != 3*time.Second || len(opts.AlertRules) != 1 {
		t.Errorf("unexpected options %+v", opts)
	}
}
