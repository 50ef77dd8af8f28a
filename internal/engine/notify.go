package engine

import "sync"

// Kind names the part of the state that changed.
type Kind string

const (
	KindEvents     Kind = "events"
	KindStream     Kind = "stream"
	KindTimeseries Kind = "timeseries"
	KindAlerts     Kind = "alerts"
	KindView       Kind = "view"
	KindConfig     Kind = "config"
)

// Change is one notification. Version increases with every change across
// all kinds.
type Change struct {
	Kind    Kind   `json:"kind"`
	Version uint64 `json:"version"`
}

// notifier fans changes out to subscribers without blocking the loop; a
// subscriber whose buffer is full misses the change.
type notifier struct {
	mu     sync.Mutex
	seq    uint64
	subs   map[chan Change]struct{}
	closed bool
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[chan Change]struct{})}
}

func (n *notifier) subscribe(buf int) (<-chan Change, func()) {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan Change, buf)
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	n.subs[ch] = struct{}{}
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			if _, ok := n.subs[ch]; ok {
				delete(n.subs, ch)
				close(ch)
			}
			n.mu.Unlock()
		})
	}
}

func (n *notifier) publish(k Kind) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	c := Change{Kind: k, Version: n.seq}
	for ch := range n.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

func (n *notifier) version() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.seq
}

// closeAll closes every subscriber channel.
func (n *notifier) closeAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	for ch := range n.subs {
		delete(n.subs, ch)
		close(ch)
	}
}
