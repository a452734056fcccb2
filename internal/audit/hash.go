package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// GenesisHash is the PrevHash of the first event in the chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ComputeEventHash hashes the canonical JSON of an event, EventHash excluded.
func ComputeEventHash(event *Event) string {
	hashInput := struct {
		EventID   string         `json:"event_id"`
		Timestamp string         `json:"timestamp"`
		EventType EventType      `json:"event_type"`
		TraceID   string         `json:"trace_id,omitempty"`
		PrevHash  string         `json:"prev_hash,omitempty"`
		Session   Session        `json:"session"`
		Input     Input          `json:"input"`
		Tool      *ToolExecution `json:"tool,omitempty"`
		Outcome   *Outcome       `json:"outcome,omitempty"`
	}{
		EventID:   event.EventID,
		Timestamp: event.Timestamp.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
		EventType: event.EventType,
		TraceID:   event.TraceID,
		PrevHash:  event.PrevHash,
		Session:   event.Session,
		Input:     event.Input,
		Tool:      event.Tool,
		Outcome:   event.Outcome,
	}

	data, err := json.Marshal(hashInput)
	if err != nil {
		data = []byte(event.EventID)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyChain checks each event's own hash and its link to the previous one.
// Events must be in insertion order. It returns the index of the first
// broken event, or -1.
func VerifyChain(events []Event) (int, error) {
	for i := range events {
		ev := &events[i]
		if ComputeEventHash(ev) != ev.EventHash {
			return i, fmt.Errorf("event %s has invalid hash", ev.EventID)
		}

		want := GenesisHash
		if i > 0 {
			want = events[i-1].EventHash
		}
		if ev.PrevHash != want {
			return i, fmt.Errorf("event %s has broken chain link", ev.EventID)
		}
	}
	return -1, nil
}

// ChainStatus reports the integrity of the audit chain.
type ChainStatus struct {
	Valid        bool   `json:"valid"`
	TotalEvents  int    `json:"total_events"`
	BrokenAt     int    `json:"broken_at"` // -1 when valid
	Error        string `json:"error,omitempty"`
	FirstEventID string `json:"first_event_id,omitempty"`
	LastEventID  string `json:"last_event_id,omitempty"`
	LastHash     string `json:"last_hash,omitempty"`
}

// VerifyChainStatus verifies events and summarizes the result.
func VerifyChainStatus(events []Event) ChainStatus {
	status := ChainStatus{TotalEvents: len(events), BrokenAt: -1, Valid: true}
	if len(events) == 0 {
		return status
	}

	status.FirstEventID = events[0].EventID
	status.LastEventID = events[len(events)-1].EventID
	status.LastHash = events[len(events)-1].EventHash

	if brokenAt, err := VerifyChain(events); err != nil {
		status.Valid = false
		status.BrokenAt = brokenAt
		status.Error = err.Error()
	}
	return status
}
