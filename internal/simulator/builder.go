package simulator

import (
	"time"

	"github.com/casgen-dev/casgen/internal/types"
)

// builder accumulates one casualty's mutable state while the chain walk
// runs. The simulator only ever hands out the frozen value, so downstream
// writers can share patients across goroutines without copying.
type builder struct {
	p types.Patient
}

func newBuilder(id int, event types.CasualtyEvent) *builder {
	return &builder{p: types.Patient{ID: id, EventID: event.ID}}
}

func (b *builder) appendEvent(ev types.TimelineEvent) {
	ev.HoursSinceInjury = ev.Timestamp.Sub(b.p.InjuryTimestamp).Hours()
	b.p.Timeline = append(b.p.Timeline, ev)
}

func (b *builder) appendTreatments(applied []types.AppliedTreatment) {
	b.p.Treatments = append(b.p.Treatments, applied...)
}

// terminate records the outcome event and the derived outcome fields.
func (b *builder) terminate(kind types.EventType, f types.Facility, at time.Time, status types.FinalStatus) {
	b.appendEvent(types.TimelineEvent{EventType: kind, Facility: f, Timestamp: at})
	b.p.FinalStatus = status
	b.p.LastFacility = f
	b.p.HoursToOutcome = at.Sub(b.p.InjuryTimestamp).Hours()
}

// freeze returns the completed patient. The builder must not be touched
// afterwards.
func (b *builder) freeze() *types.Patient {
	return &b.p
}
