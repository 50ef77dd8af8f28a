package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

type recordingHandler struct {
	mu         sync.Mutex
	connecting int
	connected  int
	disconnect int
	messages   chan []byte
	up         chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{messages: make(chan []byte, 16), up: make(chan struct{}, 16)}
}

func (r *recordingHandler) Connecting() {
	r.mu.Lock()
	r.connecting++
	r.mu.Unlock()
}

func (r *recordingHandler) Connected() {
	r.mu.Lock()
	r.connected++
	r.mu.Unlock()
	r.up <- struct{}{}
}

func (r *recordingHandler) Disconnected(error) {
	r.mu.Lock()
	r.disconnect++
	r.mu.Unlock()
}

func (r *recordingHandler) Message(data []byte) { r.messages <- data }

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

func TestWSChannel_SubscribesAndDeliversEvents(t *testing.T) {
	subs := make(chan subscribeFrame, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()

		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var f subscribeFrame
		_ = json.Unmarshal(data, &f)
		subs <- f

		frames := []string{
			`{"topic":"event","data":{"id":"t-1","decision":"REJECT","score":0.9}}`,
			`{"topic":"other","data":{"id":"skip"}}`,
			`{"id":"t-2","decision":"APPROVE","score":0.1}`,
		}
		for _, fr := range frames {
			if err := conn.Write(ctx, websocket.MessageText, []byte(fr)); err != nil {
				return
			}
		}
		<-ctx.Done()
	}))
	defer srv.Close()

	c, err := NewWSChannel(wsURL(srv), Options{})
	if err != nil {
		t.Fatal(err)
	}
	h := newRecordingHandler()
	if err := c.Connect(context.Background(), "event", h); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	waitFor(t, h.up)
	if f := waitFor(t, subs); f.Type != "subscribe" || len(f.Topics) != 1 || f.Topics[0] != "event" {
		t.Errorf("unexpected subscribe frame %+v", f)
	}

	first := waitFor(t, h.messages)
	if !strings.Contains(string(first), `"t-1"`) || strings.Contains(string(first), `"topic"`) {
		t.Errorf("envelope should be unwrapped, got %s", first)
	}
	second := waitFor(t, h.messages)
	if !strings.Contains(string(second), `"t-2"`) {
		t.Errorf("expected bare event t-2, got %s", second)
	}
}

func TestWSChannel_ReconnectsAfterDrop(t *testing.T) {
	var mu sync.Mutex
	accepts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		accepts++
		n := accepts
		mu.Unlock()
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
		if n == 1 {
			conn.Close(websocket.StatusGoingAway, "restart")
			return
		}
		<-r.Context().Done()
		conn.CloseNow()
	}))
	defer srv.Close()

	c, err := NewWSChannel(wsURL(srv), Options{ReconnectInitial: 10 * time.Millisecond, ReconnectMax: 20 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	h := newRecordingHandler()
	if err := c.Connect(context.Background(), "event", h); err != nil {
		t.Fatal(err)
	}

	waitFor(t, h.up)
	waitFor(t, h.up)

	h.mu.Lock()
	if h.disconnect < 1 || h.connecting < 2 {
		t.Errorf("expected a disconnect and a second attempt, got disconnects=%d connecting=%d", h.disconnect, h.connecting)
	}
	h.mu.Unlock()

	done := c.done
	c.Close()
	waitFor(t, done)
}

func TestWSChannel_ConnectTwice(t *testing.T) {
	c, err := NewWSChannel("ws://127.0.0.1:1/stream", Options{ReconnectInitial: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	h := newRecordingHandler()
	if err := c.Connect(context.Background(), "event", h); err != nil {
		t.Fatal(err)
	}
	if err := c.Connect(context.Background(), "event", h); err != ErrAlreadyConnected {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}
	done := c.done
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, done)
	if err := c.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	if err := c.Connect(context.Background(), "event", h); err != nil {
		t.Errorf("Connect after Close should succeed, got %v", err)
	}
	c.Close()
}

func TestNewWSChannel_RejectsScheme(t *testing.T) {
	if _, err := NewWSChannel("ftp://example.com", Options{}); err == nil {
		t.Error("expected scheme error")
	}
}

func TestUnwrap(t *testing.T) {
	cases := []struct {
		name  string
		frame string
		want  string
		ok    bool
	}{
		{"envelope", `{"topic":"event","data":{"id":"a"}}`, `{"id":"a"}`, true},
		{"other topic", `{"topic":"metrics","data":{"id":"a"}}`, "", false},
		{"bare", `{"id":"a","decision":"REVIEW"}`, `{"id":"a","decision":"REVIEW"}`, true},
		{"not json", `hello`, `hello`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Unwrap("event", []byte(tc.frame))
			if ok != tc.ok || string(got) != tc.want {
				t.Errorf("Unwrap = %q, %v; want %q, %v", got, ok, tc.want, tc.ok)
			}
		})
	}
}
