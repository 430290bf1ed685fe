package jobs

import "github.com/casgen-dev/casgen/internal/types"

var allowedTransitions = map[types.JobStatus]map[types.JobStatus]struct{}{
	types.JobPending: {
		types.JobRunning:   {},
		types.JobCancelled: {},
		types.JobFailed:    {},
	},
	types.JobRunning: {
		types.JobCompleted: {},
		types.JobFailed:    {},
		types.JobCancelled: {},
	},
}

// CanTransition reports whether a status transition is valid. Terminal
// statuses admit no outgoing transitions.
func CanTransition(from, to types.JobStatus) bool {
	allowed, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}
