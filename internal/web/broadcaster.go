package web

import (
	"encoding/json"
	"regexp"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/einoj/muskrat/internal/logic/sensor"
)

// StatusEvent is one line of the status stream.
type StatusEvent struct {
	Time  string `json:"t"`
	Level string `json:"l,omitempty"`
	Msg   string `json:"msg"`
}

// StatusBroadcaster fans status lines out to SSE clients.
type StatusBroadcaster struct {
	clock clock.Clock

	mu      sync.RWMutex
	clients map[chan string]struct{}
}

// NewStatusBroadcaster creates a broadcaster stamping events with wall time.
func NewStatusBroadcaster() *StatusBroadcaster {
	return NewStatusBroadcasterWithClock(clock.New())
}

// NewStatusBroadcasterWithClock creates a broadcaster stamping events with clk.
func NewStatusBroadcasterWithClock(clk clock.Clock) *StatusBroadcaster {
	return &StatusBroadcaster{
		clock:   clk,
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel of JSON events and its cleanup function.
// The caller must call cleanup when the client goes away.
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Clients returns the number of subscribers.
func (b *StatusBroadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast sends {"t":...,"l":level,"msg":msg} to every client.
// A client whose buffer is full misses the event.
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	data, err := json.Marshal(StatusEvent{
		Time:  b.clock.Now().Format("2006-01-02T15:04:05.000Z07:00"),
		Level: level,
		Msg:   msg,
	})
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

// logTag matches the level tag the debug logger puts after its prefix and timestamp.
var logTag = regexp.MustCompile(`\[(INFO|LIVE|VERBOSE|TRACE|GPIO|ADC|PWM|ERROR|TELEMETRY)\]`)

// levelOf derives an event level from a debug log line.
func levelOf(line string) string {
	m := logTag.FindStringSubmatch(line)
	if m == nil {
		return "info"
	}
	return strings.ToLower(m[1])
}

// BroadcastWriter returns an io.Writer that broadcasts every non-empty
// write, so the debug log can be teed into the status stream.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(string(p), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			w.b.Broadcast(levelOf(line), line)
		}
	}
	return len(p), nil
}

// FrameSink publishes reported frames to the status stream as "telemetry" events.
type FrameSink struct {
	B *StatusBroadcaster
}

func (s FrameSink) Report(f sensor.Frame) error {
	s.B.Broadcast("telemetry", f.Raw.String())
	return nil
}

func (s FrameSink) Close() error { return nil }
