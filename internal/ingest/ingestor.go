// Package ingest owns the push-channel lifecycle and feeds normalised
// decision events into the event log and its observers.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/clock"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/event"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/eventlog"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/metrics"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/timers"
)

// DefaultHighlight is how long a new event keeps its IsNew flag.
const DefaultHighlight = time.Second

// State of the push channel as seen by the ingestor.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Handler receives channel lifecycle callbacks and raw messages. Channels
// may call it from any goroutine.
type Handler interface {
	Connecting()
	Connected()
	Disconnected(err error)
	Message(data []byte)
}

// Channel is a push channel subscribed to one topic. Reconnection policy
// belongs to the channel.
type Channel interface {
	Connect(ctx context.Context, topic string, h Handler) error
	Close() error
}

// Observer is notified of every event accepted into the log.
type Observer interface {
	Observe(ev event.DecisionEvent)
}

// HighlightMatch selects how the highlight timer finds its entry.
type HighlightMatch string

const (
	// MatchID clears the newest still-flagged entry carrying the event id.
	MatchID HighlightMatch = "id"
	// MatchEntry clears exactly the entry that was inserted.
	MatchEntry HighlightMatch = "entry"
)

// Options configures an Ingestor.
type Options struct {
	Topic          string
	Highlight      time.Duration
	HighlightMatch HighlightMatch
	Logger         *slog.Logger
}

// Ingestor must only be used from the engine loop; Channel callbacks are
// re-dispatched onto it.
type Ingestor struct {
	ch        Channel
	log       *eventlog.Log
	dispatch  timers.Dispatch
	timers    *timers.Registry
	observers []Observer
	logger    *slog.Logger

	topic     string
	highlight time.Duration
	match     HighlightMatch

	state    State
	active   bool
	gen      uint64
	onChange func()
}

// New creates a stopped Ingestor.
func New(ch Channel, log *eventlog.Log, c clock.Clock, dispatch timers.Dispatch, opts Options) *Ingestor {
	if dispatch == nil {
		dispatch = func(fn func()) { fn() }
	}
	if opts.Topic == "" {
		opts.Topic = "event"
	}
	if opts.Highlight <= 0 {
		opts.Highlight = DefaultHighlight
	}
	if opts.HighlightMatch == "" {
		opts.HighlightMatch = MatchID
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	in := &Ingestor{
		ch:        ch,
		log:       log,
		dispatch:  dispatch,
		timers:    timers.New(c, dispatch),
		logger:    opts.Logger,
		topic:     opts.Topic,
		highlight: opts.Highlight,
		match:     opts.HighlightMatch,
	}
	in.timers.OnChange(func(n int) { metrics.TimersPending.WithLabelValues("highlight").Set(float64(n)) })
	return in
}

// Subscribe adds an observer for accepted events.
func (in *Ingestor) Subscribe(o Observer) { in.observers = append(in.observers, o) }

// OnChange registers a hook called after the log or state changes.
func (in *Ingestor) OnChange(fn func()) { in.onChange = fn }

// State returns the current channel state.
func (in *Ingestor) State() State { return in.state }

// Active reports whether ingestion has been started and not stopped.
func (in *Ingestor) Active() bool { return in.active }

// SetHighlight changes the highlight window and matching mode for events
// ingested from now on.
func (in *Ingestor) SetHighlight(d time.Duration, m HighlightMatch) {
	if d > 0 {
		in.highlight = d
	}
	if m == MatchID || m == MatchEntry {
		in.match = m
	}
}

// Start connects the channel. Calling Start while active is a no-op.
func (in *Ingestor) Start(ctx context.Context) error {
	if in.active {
		return nil
	}
	in.active = true
	in.gen++
	in.setState(Connecting)
	if err := in.ch.Connect(ctx, in.topic, &handler{in: in, gen: in.gen}); err != nil {
		in.active = false
		in.gen++
		in.setState(Disconnected)
		return err
	}
	in.logger.Info("stream ingestion started", "topic", in.topic)
	return nil
}

// Stop closes the channel, cancels pending highlight timers and clears any
// highlight they would have cleared. Late channel callbacks become no-ops.
// Stop is idempotent.
func (in *Ingestor) Stop() {
	if !in.active {
		return
	}
	in.active = false
	in.gen++
	if err := in.ch.Close(); err != nil {
		in.logger.Warn("closing stream channel", "err", err)
	}
	n := in.timers.CancelAll()
	in.log.ClearAllNew()
	in.setState(Disconnected)
	in.logger.Info("stream ingestion stopped", "cancelled_timers", n)
}

// PendingTimers returns the number of highlight timers outstanding.
func (in *Ingestor) PendingTimers() int { return in.timers.Pending() }

// Ingest handles one raw message: decode, append, notify observers and
// schedule the highlight clear. Malformed messages are dropped.
func (in *Ingestor) Ingest(data []byte) (event.DecisionEvent, bool) {
	ev, err := event.Decode(data)
	if err != nil {
		metrics.EventsMalformed.Inc()
		in.logger.Debug("discarding push message", "err", err, "bytes", len(data))
		return event.DecisionEvent{}, false
	}

	stamped, ref := in.log.Append(ev)
	metrics.EventsIngested.WithLabelValues(string(stamped.Decision)).Inc()
	metrics.EventLogSize.Set(float64(in.log.Len()))

	for _, o := range in.observers {
		o.Observe(stamped)
	}

	if in.match == MatchEntry {
		in.timers.Schedule(in.highlight, func() {
			if in.log.ClearNewFlagRef(ref) {
				in.changed()
			}
		})
	} else {
		id := stamped.ID
		in.timers.Schedule(in.highlight, func() {
			if in.log.ClearNewFlag(id) {
				in.changed()
			}
		})
	}

	in.changed()
	return stamped, true
}

func (in *Ingestor) setState(s State) {
	if in.state == s {
		return
	}
	in.state = s
	metrics.StreamState.Set(float64(s))
	in.changed()
}

func (in *Ingestor) changed() {
	if in.onChange != nil {
		in.onChange()
	}
}

// handler binds channel callbacks to one activation of the ingestor.
type handler struct {
	in  *Ingestor
	gen uint64
}

func (h *handler) run(fn func()) {
	h.in.dispatch(func() {
		if !h.in.active || h.in.gen != h.gen {
			return
		}
		fn()
	})
}

func (h *handler) Connecting() {
	h.run(func() { h.in.setState(Connecting) })
}

func (h *handler) Connected() {
	h.run(func() {
		h.in.setState(Connected)
		h.in.logger.Info("stream connected", "topic", h.in.topic)
	})
}

func (h *handler) Disconnected(err error) {
	h.run(func() {
		if h.in.state == Connected {
			metrics.StreamDisconnects.Inc()
		}
		h.in.setState(Disconnected)
		if err != nil && !errors.Is(err, context.Canceled) {
			h.in.logger.Warn("stream disconnected", "err", err)
		}
	})
}

func (h *handler) Message(data []byte) {
	h.run(func() { h.in.Ingest(data) })
}
