package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// subscriberBuffer is the number of log lines held for a slow SSE client.
const subscriberBuffer = 64

// StatusEvent is one log line sent over SSE.
type StatusEvent struct {
	Time  string `json:"t"`
	Level string `json:"l,omitempty"`
	Msg   string `json:"msg"`
}

// StatusBroadcaster fans log lines out to SSE clients.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel of JSON-encoded StatusEvents and a cleanup
// function to call when the client goes away.
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, subscriberBuffer)
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

// Broadcast sends msg to every subscriber. A subscriber whose buffer is full
// misses the line.
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	data, err := json.Marshal(StatusEvent{
		Time:  time.Now().Format(time.RFC3339),
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

// Subscribers returns the number of connected SSE clients.
func (b *StatusBroadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// logTags maps the tags written by the debug package to SSE levels.
var logTags = []struct{ tag, level string }{
	{"[ERROR] ", "error"},
	{"[INFO] ", "info"},
	{"[LIVE] ", "live"},
	{"[VERBOSE] ", "verbose"},
	{"[TRACE] ", "trace"},
	{"[GPIO] ", "trace"},
}

// splitLogLine extracts the level tag of a debug line and returns the text
// that follows it. Lines without a tag are "info".
func splitLogLine(line string) (level, msg string) {
	for _, t := range logTags {
		if i := strings.Index(line, t.tag); i >= 0 {
			return t.level, strings.TrimSpace(line[i+len(t.tag):])
		}
	}
	return "info", line
}

// BroadcastWriter adapts b to io.Writer for debug.SetOutput. Each write is
// one log line.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	line := strings.TrimSpace(string(p))
	if line != "" {
		w.b.Broadcast(splitLogLine(line))
	}
	return len(p), nil
}
