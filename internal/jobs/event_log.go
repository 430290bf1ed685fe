package jobs

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// EventType represents the type of job event.
type EventType string

const (
	EventTypeJobSubmitted    EventType = "JOB_SUBMITTED"
	EventTypeStateTransition EventType = "STATE_TRANSITION"
	EventTypeProgress        EventType = "PROGRESS"
	EventTypeEventsGenerated EventType = "EVENTS_GENERATED"
	EventTypeArtifactWritten EventType = "ARTIFACT_WRITTEN"
	EventTypeJobCompleted    EventType = "JOB_COMPLETED"
	EventTypeJobFailed       EventType = "JOB_FAILED"
	EventTypeJobCancelled    EventType = "JOB_CANCELLED"
)

// JobEvent is a single entry in a job's event log.
type JobEvent struct {
	EventID     string         `json:"event_id"`
	JobID       string         `json:"job_id"`
	Seq         int64          `json:"seq"`
	TimestampMs int64          `json:"ts_ms"`
	Type        EventType      `json:"type"`
	Message     string         `json:"message"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// DefaultMaxEventsPerLog bounds each job's in-memory event log.
const DefaultMaxEventsPerLog = 256

// EventLog is a bounded ring of job events. When full, the oldest
// entries are evicted; sequence numbers stay absolute so a consumer's
// cursor remains valid across eviction.
type EventLog struct {
	mu    sync.RWMutex
	jobID string
	ring  []JobEvent
	start int   // ring index of the oldest entry
	count int   // entries currently held
	seq   int64 // sequence assigned to the next entry
}

// NewEventLog creates a new event log with the default ring size.
func NewEventLog(jobID string) *EventLog {
	return NewEventLogWithLimit(jobID, DefaultMaxEventsPerLog)
}

// NewEventLogWithLimit creates a new event log with a custom ring size.
func NewEventLogWithLimit(jobID string, maxEvents int) *EventLog {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEventsPerLog
	}
	return &EventLog{
		jobID: jobID,
		ring:  make([]JobEvent, maxEvents),
	}
}

// Append adds an event to the log, evicting the oldest entry if full.
func (el *EventLog) Append(typ EventType, message string, payload map[string]any) JobEvent {
	el.mu.Lock()
	defer el.mu.Unlock()

	ev := JobEvent{
		JobID:       el.jobID,
		Seq:         el.seq,
		EventID:     fmt.Sprintf("evt_%x", el.seq),
		TimestampMs: time.Now().UnixMilli(),
		Type:        typ,
		Message:     message,
		Payload:     payload,
	}
	el.seq++

	if el.count < len(el.ring) {
		el.ring[(el.start+el.count)%len(el.ring)] = ev
		el.count++
	} else {
		el.ring[el.start] = ev
		el.start = (el.start + 1) % len(el.ring)
	}
	return ev
}

// Tail returns up to limit events with sequence >= cursor, oldest
// first. Events evicted from the ring are gone; a cursor older than
// the ring simply resumes from the oldest retained entry.
func (el *EventLog) Tail(cursor int64, limit int) []JobEvent {
	el.mu.RLock()
	defer el.mu.RUnlock()

	if limit <= 0 || el.count == 0 {
		return nil
	}

	oldest := el.ring[el.start].Seq
	if cursor < oldest {
		cursor = oldest
	}
	offset := int(cursor - oldest)
	if offset >= el.count {
		return nil
	}

	n := el.count - offset
	if n > limit {
		n = limit
	}
	out := make([]JobEvent, n)
	for i := 0; i < n; i++ {
		out[i] = el.ring[(el.start+offset+i)%len(el.ring)]
	}
	return out
}

// Snapshot returns all retained events oldest first.
func (el *EventLog) Snapshot() []JobEvent {
	el.mu.RLock()
	defer el.mu.RUnlock()

	out := make([]JobEvent, el.count)
	for i := 0; i < el.count; i++ {
		out[i] = el.ring[(el.start+i)%len(el.ring)]
	}
	return out
}

// Len returns the number of retained events.
func (el *EventLog) Len() int {
	el.mu.RLock()
	defer el.mu.RUnlock()
	return el.count
}

// NextSeq returns the sequence the next appended event will receive.
// A consumer starting at NextSeq sees only events appended afterwards.
func (el *EventLog) NextSeq() int64 {
	el.mu.RLock()
	defer el.mu.RUnlock()
	return el.seq
}

// ParseEventID recovers the sequence from an event id of the form
// evt_<hex>. Used by the SSE resume path (Last-Event-ID).
func ParseEventID(id string) (int64, bool) {
	hex, ok := strings.CutPrefix(id, "evt_")
	if !ok {
		return 0, false
	}
	seq, err := strconv.ParseInt(hex, 16, 64)
	if err != nil || seq < 0 {
		return 0, false
	}
	return seq, true
}
