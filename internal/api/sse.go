package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/casgen-dev/casgen/internal/auth"
	"github.com/casgen-dev/casgen/internal/jobs"
)

const (
	sseHeartbeatInterval = 15 * time.Second
	ssePollInterval      = 100 * time.Millisecond
	sseEventBatchLimit   = 100
)

// handleJobEvents streams a job's event log as server-sent events. The
// replay position comes from Last-Event-ID, then ?cursor, then a
// numeric ?since sequence. A heartbeat comment goes out every 15s and
// the stream closes once the job is terminal and the log is drained.
//
// Event logs live in process memory. After a restart (or handle
// eviction) the history is gone and the endpoint reports 404; the job
// record itself remains the durable source of truth.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodGet {
		s.writeMethodNotAllowed(w, r.Method, "GET")
		return
	}

	key := auth.KeyFromContext(r.Context())
	job, err := s.manager.Get(r.Context(), key.ID, jobID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	eventLog := s.manager.Events(jobID)
	if eventLog == nil {
		s.writeError(w, http.StatusNotFound, ErrorBody{
			Code:    codeNotFound,
			Message: "no event log is held for this job on this instance",
		})
		return
	}

	cursor, errBody := resumeCursor(r)
	if errBody != nil {
		s.writeError(w, http.StatusUnprocessableEntity, *errBody)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, ErrorBody{
			Code:    codeGenerationError,
			Message: "streaming unsupported by this connection",
		})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// If the job finished before this consumer connected, replay what
	// remains and close at the first empty poll.
	sawTerminal := job.Status.Terminal()

	ctx := r.Context()
	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()
	poll := time.NewTicker(ssePollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ":keepalive\n\n")
			flusher.Flush()
		case <-poll.C:
			events := eventLog.Tail(cursor, sseEventBatchLimit)
			for _, ev := range events {
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\n", ev.Type)
				fmt.Fprintf(w, "id: %s\n", ev.EventID)
				fmt.Fprintf(w, "data: %s\n\n", data)
				cursor = ev.Seq + 1

				switch ev.Type {
				case jobs.EventTypeJobCompleted, jobs.EventTypeJobFailed, jobs.EventTypeJobCancelled:
					sawTerminal = true
				}
			}
			if len(events) > 0 {
				flusher.Flush()
				continue
			}
			if sawTerminal {
				return
			}
		}
	}
}

// resumeCursor picks the first sequence to replay. Both event-id forms
// resume after the named event; since is an absolute sequence.
func resumeCursor(r *http.Request) (int64, *ErrorBody) {
	if id := r.Header.Get("Last-Event-ID"); id != "" {
		seq, ok := jobs.ParseEventID(id)
		if !ok {
			return 0, &ErrorBody{
				Code:    codeValidationError,
				Message: "Last-Event-ID must look like evt_<hex>",
				Details: map[string]any{"last_event_id": id},
			}
		}
		return seq + 1, nil
	}
	if id := r.URL.Query().Get("cursor"); id != "" {
		seq, ok := jobs.ParseEventID(id)
		if !ok {
			return 0, &ErrorBody{
				Code:    codeValidationError,
				Message: "cursor must look like evt_<hex>",
				Details: map[string]any{"cursor": id},
			}
		}
		return seq + 1, nil
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		seq, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || seq < 0 {
			return 0, &ErrorBody{
				Code:    codeValidationError,
				Message: "since must be a non-negative integer sequence",
				Details: map[string]any{"since": raw},
			}
		}
		return seq, nil
	}
	return 0, nil
}
