package auth

import (
	"math"
	"sync"
	"time"
)

// windowTracker keeps exact per-key admission timestamps for the
// minute and hour sliding windows. Windows live in process memory:
// the service runs single-process and the durable store stays
// authoritative only for daily and lifetime counters.
type windowTracker struct {
	mu    sync.Mutex
	byKey map[string]*keyWindows
}

type keyWindows struct {
	minute []time.Time
	hour   []time.Time
}

func newWindowTracker() *windowTracker {
	return &windowTracker{byKey: make(map[string]*keyWindows)}
}

// Reserve admits the request into both windows or returns the seconds
// until the binding window frees a slot. Check and record happen under
// one lock so concurrent admissions cannot overshoot a limit. A limit
// of zero or less means the window is unbounded.
func (t *windowTracker) Reserve(keyID string, perMinute, perHour int, now time.Time) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.byKey[keyID]
	if !ok {
		w = &keyWindows{}
		t.byKey[keyID] = w
	}
	w.minute = prune(w.minute, now.Add(-time.Minute))
	w.hour = prune(w.hour, now.Add(-time.Hour))

	if perMinute > 0 && len(w.minute) >= perMinute {
		return retryAfterSeconds(w.minute[0], time.Minute, now), false
	}
	if perHour > 0 && len(w.hour) >= perHour {
		return retryAfterSeconds(w.hour[0], time.Hour, now), false
	}

	w.minute = append(w.minute, now)
	w.hour = append(w.hour, now)
	return 0, true
}

// Forget drops the tracked windows for a key. Used when a key is
// deleted so a re-issued id starts clean.
func (t *windowTracker) Forget(keyID string) {
	t.mu.Lock()
	delete(t.byKey, keyID)
	t.mu.Unlock()
}

// prune drops timestamps at or before the cutoff. Slices are
// append-ordered, so the survivors form a suffix.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append(stamps[:0], stamps[i:]...)
}

// retryAfterSeconds is the wait until the oldest admission leaves the
// window, rounded up and never less than one second.
func retryAfterSeconds(oldest time.Time, span time.Duration, now time.Time) int {
	secs := int(math.Ceil(oldest.Add(span).Sub(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
