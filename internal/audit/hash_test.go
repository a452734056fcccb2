package audit

import (
	"context"
	"strings"
	"testing"
	"time"
)

func chainOf(n int) []Event {
	events := make([]Event, n)
	prev := GenesisHash
	for i := range events {
		events[i] = Event{
			EventID:   "evt_" + strings.Repeat("x", i+1),
			Timestamp: time.Date(2025, 3, 1, 12, 0, i, 0, time.UTC),
			EventType: EventTypeToolExecution,
			PrevHash:  prev,
			Session:   Session{ID: "sess"},
			Tool:      &ToolExecution{Name: "web_search"},
		}
		events[i].EventHash = ComputeEventHash(&events[i])
		prev = events[i].EventHash
	}
	return events
}

func TestComputeEventHash(t *testing.T) {
	ev := &Event{
		EventID:   "evt_1",
		Timestamp: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
		EventType: EventTypeQueryOutcome,
		PrevHash:  GenesisHash,
		Session:   Session{ID: "sess"},
		Input:     Input{UserQuery: "Bilhete Único"},
	}

	h := ComputeEventHash(ev)
	if len(h) != 64 {
		t.Fatalf("hash length = %d, want 64", len(h))
	}
	if ComputeEventHash(ev) != h {
		t.Error("hash should be deterministic")
	}

	ev.EventHash = "ignored"
	if ComputeEventHash(ev) != h {
		t.Error("EventHash must not feed into its own hash")
	}

	inOtherZone := *ev
	inOtherZone.Timestamp = ev.Timestamp.In(time.FixedZone("BRT", -3*3600))
	if ComputeEventHash(&inOtherZone) != h {
		t.Error("hash should not depend on the timestamp's location")
	}

	changed := *ev
	changed.Input.UserQuery = "Bilhete Unico"
	if ComputeEventHash(&changed) == h {
		t.Error("different content should hash differently")
	}
}

func TestVerifyChain(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]Event)
		want   int
	}{
		{"valid", func([]Event) {}, -1},
		{"tampered content", func(e []Event) { e[2].Tool.Name = "read_url" }, 2},
		{"broken link", func(e []Event) {
			e[1].PrevHash = GenesisHash
			e[1].EventHash = ComputeEventHash(&e[1])
		}, 1},
		{"first not genesis", func(e []Event) {
			e[0].PrevHash = "abc"
			e[0].EventHash = ComputeEventHash(&e[0])
		}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := chainOf(4)
			tt.mutate(events)
			got, err := VerifyChain(events)
			if got != tt.want {
				t.Errorf("VerifyChain = %d (%v), want %d", got, err, tt.want)
			}
			if (err != nil) != (tt.want >= 0) {
				t.Errorf("err = %v", err)
			}
		})
	}
}

func TestVerifyChainStatus(t *testing.T) {
	if s := VerifyChainStatus(nil); !s.Valid || s.TotalEvents != 0 {
		t.Errorf("empty chain status = %+v", s)
	}

	events := chainOf(3)
	s := VerifyChainStatus(events)
	if !s.Valid || s.FirstEventID != events[0].EventID || s.LastHash != events[2].EventHash {
		t.Errorf("status = %+v", s)
	}
}

func TestTraceID(t *testing.T) {
	id := NewTraceID()
	if !strings.HasPrefix(id, "tr_") || len(id) != 15 {
		t.Errorf("NewTraceID = %q", id)
	}
	ctx := WithTraceID(context.Background(), id)
	if got := TraceIDFromContext(ctx); got != id {
		t.Errorf("TraceIDFromContext = %q, want %q", got, id)
	}
	if got := TraceIDFromContext(context.Background()); got != "" {
		t.Errorf("empty context gave %q", got)
	}
}
