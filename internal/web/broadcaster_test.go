package web

import (
	"encoding/json"
	"testing"
	"time"
)

func receive(t *testing.T, ch <-chan string) StatusEvent {
	t.Helper()
	select {
	case msg := <-ch:
		var evt StatusEvent
		if err := json.Unmarshal([]byte(msg), &evt); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast")
	}
	return StatusEvent{}
}

func TestBroadcaster_SubscribeAndReceive(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	b.Broadcast("live", "carriage: stopped -> traveling")

	evt := receive(t, ch)
	if evt.Msg != "carriage: stopped -> traveling" || evt.Level != "live" {
		t.Errorf("event = %+v", evt)
	}
	if evt.Time == "" {
		t.Error("event should have a timestamp")
	}
}

func TestBroadcaster_MultipleSubscribers(t *testing.T) {
	b := NewStatusBroadcaster()
	ch1, unsub1 := b.Subscribe()
	defer unsub1()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()

	if n := b.Subscribers(); n != 2 {
		t.Errorf("Subscribers() = %d, want 2", n)
	}
	b.Broadcast("info", "multi")

	for i, ch := range []<-chan string{ch1, ch2} {
		if evt := receive(t, ch); evt.Msg != "multi" {
			t.Errorf("subscriber %d: msg = %q, want \"multi\"", i, evt.Msg)
		}
	}
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	unsub()
	unsub()

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
	if n := b.Subscribers(); n != 0 {
		t.Errorf("Subscribers() = %d, want 0", n)
	}
	b.Broadcast("info", "after unsub")
}

func TestBroadcaster_FullChannelDropsMessage(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	for i := 0; i < subscriberBuffer; i++ {
		b.Broadcast("info", "fill")
	}
	b.Broadcast("info", "overflow")

	if got := len(ch); got != subscriberBuffer {
		t.Errorf("buffered = %d, want %d", got, subscriberBuffer)
	}
}

func TestSplitLogLine(t *testing.T) {
	cases := []struct {
		line      string
		wantLevel string
		wantMsg   string
	}{
		{"[SlideGo] 2026/10/19 10:00:00.000001 [INFO] Engine running", "info", "Engine running"},
		{"[SlideGo] 2026/10/19 10:00:00.000001 [LIVE] carriage: stopped -> traveling", "live", "carriage: stopped -> traveling"},
		{"[SlideGo] 2026/10/19 10:00:00.000001 [VERBOSE] Step 1: Initializing", "verbose", "Step 1: Initializing"},
		{"[SlideGo] 2026/10/19 10:00:00.000001 [ERROR] motion: start move: boom", "error", "motion: start move: boom"},
		{"[SlideGo] 2026/10/19 10:00:00.000001 [GPIO] WritePin pin=17 value=true", "trace", "WritePin pin=17 value=true"},
		{"web server listening on :8080", "info", "web server listening on :8080"},
	}
	for _, tc := range cases {
		t.Run(tc.wantLevel, func(t *testing.T) {
			level, msg := splitLogLine(tc.line)
			if level != tc.wantLevel || msg != tc.wantMsg {
				t.Errorf("splitLogLine(%q) = %q, %q; want %q, %q", tc.line, level, msg, tc.wantLevel, tc.wantMsg)
			}
		})
	}
}

func TestBroadcastWriter_Write(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	line := "[SlideGo] 2026/10/19 10:00:00.000001 [LIVE] Shutter triggered (image 1/5)\n"
	w := BroadcastWriter(b)
	n, err := w.Write([]byte(line))
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if n != len(line) {
		t.Errorf("n = %d, want %d", n, len(line))
	}

	evt := receive(t, ch)
	if evt.Level != "live" || evt.Msg != "Shutter triggered (image 1/5)" {
		t.Errorf("event = %+v", evt)
	}
}

func TestBroadcastWriter_EmptyWriteIgnored(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	BroadcastWriter(b).Write([]byte("   \n"))

	select {
	case <-ch:
		t.Error("expected no message for whitespace-only write")
	case <-time.After(50 * time.Millisecond):
	}
}
