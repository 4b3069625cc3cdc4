package auditlog

import (
	"context"
	"net"
	"testing"
	"time"
)

func validEvent() Event {
	return Event{
		OccurredAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Actor:        "alice",
		Action:       "run.create",
		ResourceType: "run",
		ResourceID:   "run-1",
		RequestID:    "req-1",
		IP:           net.ParseIP("10.0.0.1"),
		UserAgent:    "curl/8",
		Payload:      map[string]any{"seed": 42},
	}
}

func TestEventValidate(t *testing.T) {
	if err := validEvent().Validate(); err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}
	for _, mutate := range []func(*Event){
		func(e *Event) { e.OccurredAt = time.Time{} },
		func(e *Event) { e.Actor = " " },
		func(e *Event) { e.Action = "" },
		func(e *Event) { e.ResourceType = "" },
		func(e *Event) { e.ResourceID = "" },
	} {
		event := validEvent()
		mutate(&event)
		if err := event.Validate(); err == nil {
			t.Fatalf("invalid event accepted: %+v", event)
		}
	}
}

func TestIntegritySHA256IsStable(t *testing.T) {
	payload := []byte(`{"seed":42}`)
	a, err := IntegritySHA256(validEvent(), payload)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	b, err := IntegritySHA256(validEvent(), payload)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if a != b {
		t.Fatalf("identical events hashed differently: %s vs %s", a, b)
	}

	changed := validEvent()
	changed.ResourceID = "run-2"
	c, err := IntegritySHA256(changed, payload)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if a == c {
		t.Fatalf("different events hashed identically")
	}
}

func TestInsertRequiresQueryer(t *testing.T) {
	if _, err := Insert(context.Background(), nil, validEvent()); err == nil {
		t.Fatalf("expected error for nil queryer")
	}
}

func TestNewRecorderGuards(t *testing.T) {
	if NewRecorder(nil, nil) != nil {
		t.Fatalf("recorder without deps must be nil")
	}
	var r *Recorder
	// Recording through a nil recorder is a no-op, not a panic.
	r.Record(context.Background(), validEvent())
}
