package jobs

import (
	"fmt"
	"testing"
)

func TestEventLogAppendAssignsSequence(t *testing.T) {
	el := NewEventLog("job-1")

	first := el.Append(EventTypeJobSubmitted, "job accepted", nil)
	second := el.Append(EventTypeProgress, "Generating patient 5/10", map[string]any{"progress": 50})

	if first.Seq != 0 || second.Seq != 1 {
		t.Errorf("expected sequences 0 and 1, got %d and %d", first.Seq, second.Seq)
	}
	if first.EventID != "evt_0" {
		t.Errorf("expected event id evt_0, got %s", first.EventID)
	}
	if first.JobID != "job-1" {
		t.Errorf("expected job id job-1, got %s", first.JobID)
	}
	if second.Type != EventTypeProgress {
		t.Errorf("expected PROGRESS type, got %s", second.Type)
	}
	if el.Len() != 2 {
		t.Errorf("expected 2 retained events, got %d", el.Len())
	}
}

func TestEventLogTail(t *testing.T) {
	el := NewEventLog("job-1")
	for i := 0; i < 5; i++ {
		el.Append(EventTypeProgress, fmt.Sprintf("step %d", i), nil)
	}

	t.Run("from start", func(t *testing.T) {
		events := el.Tail(0, 10)
		if len(events) != 5 {
			t.Fatalf("expected 5 events, got %d", len(events))
		}
		if events[0].Seq != 0 || events[4].Seq != 4 {
			t.Errorf("expected sequences 0..4, got %d..%d", events[0].Seq, events[4].Seq)
		}
	})

	t.Run("with cursor", func(t *testing.T) {
		events := el.Tail(3, 10)
		if len(events) != 2 {
			t.Fatalf("expected 2 events, got %d", len(events))
		}
		if events[0].Seq != 3 {
			t.Errorf("expected first sequence 3, got %d", events[0].Seq)
		}
	})

	t.Run("with limit", func(t *testing.T) {
		events := el.Tail(0, 2)
		if len(events) != 2 {
			t.Fatalf("expected 2 events, got %d", len(events))
		}
		if events[1].Seq != 1 {
			t.Errorf("expected second sequence 1, got %d", events[1].Seq)
		}
	})

	t.Run("cursor past end", func(t *testing.T) {
		if events := el.Tail(5, 10); events != nil {
			t.Errorf("expected nil, got %d events", len(events))
		}
	})

	t.Run("zero limit", func(t *testing.T) {
		if events := el.Tail(0, 0); events != nil {
			t.Errorf("expected nil, got %d events", len(events))
		}
	})
}

func TestEventLogEviction(t *testing.T) {
	el := NewEventLogWithLimit("job-1", 4)
	for i := 0; i < 10; i++ {
		el.Append(EventTypeProgress, fmt.Sprintf("step %d", i), nil)
	}

	if el.Len() != 4 {
		t.Fatalf("expected ring to hold 4 events, got %d", el.Len())
	}

	// Sequences stay absolute after eviction.
	events := el.Snapshot()
	if events[0].Seq != 6 || events[3].Seq != 9 {
		t.Errorf("expected retained sequences 6..9, got %d..%d", events[0].Seq, events[3].Seq)
	}

	// A cursor older than the ring resumes from the oldest retained
	// entry rather than failing.
	tail := el.Tail(0, 10)
	if len(tail) != 4 {
		t.Fatalf("expected 4 events for stale cursor, got %d", len(tail))
	}
	if tail[0].Seq != 6 {
		t.Errorf("expected resume at sequence 6, got %d", tail[0].Seq)
	}

	if el.NextSeq() != 10 {
		t.Errorf("expected next sequence 10, got %d", el.NextSeq())
	}
}

func TestParseEventID(t *testing.T) {
	el := NewEventLog("job-1")
	for i := 0; i < 20; i++ {
		el.Append(EventTypeProgress, "tick", nil)
	}
	ev := el.Snapshot()[17]

	seq, ok := ParseEventID(ev.EventID)
	if !ok {
		t.Fatalf("expected %s to parse", ev.EventID)
	}
	if seq != ev.Seq {
		t.Errorf("expected sequence %d, got %d", ev.Seq, seq)
	}

	for _, bad := range []string{"", "evt_", "evt_zz", "17", "run_11", "evt_-3"} {
		if _, ok := ParseEventID(bad); ok {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}
