package registry

import (
	"time"

	"github.com/sentryscan/controller/internal/models"
)

// Event is a liveness-affecting signal fed into the state machine.
type Event int

const (
	// EventHeartbeat is any accepted heartbeat from the agent, regardless
	// of its prior state (except tombstoned, which is terminal).
	EventHeartbeat Event = iota
	// EventOfflineTimeout fires when an online agent has missed
	// interval*(1+miss_until_inactive) seconds of heartbeats.
	EventOfflineTimeout
	// EventInactiveTimeout fires when an offline agent has stayed offline
	// for more than 24 hours since its last heartbeat.
	EventInactiveTimeout
	// EventTombstone fires on admin deletion.
	EventTombstone
)

const inactiveThreshold = 24 * time.Hour

// Transition is the pure liveness state machine (spec §4.1). It never
// touches the clock or the database — callers derive the Event from
// elapsed time and feed it in, so the function is trivially testable and
// the only place that reasons about ordering is the caller's sweep.
func Transition(current models.LivenessState, event Event) models.LivenessState {
	if current == models.LivenessTombstoned {
		// Terminal: a tombstoned agent never transitions back, even on
		// a heartbeat — it has already received its deregistration signal.
		return models.LivenessTombstoned
	}

	switch event {
	case EventHeartbeat:
		// Pending has exactly one documented exit: an admin authorizing the
		// agent. A heartbeat alone must not promote it to online, or
		// list(filter=liveness:pending) loses pending agents on their
		// second heartbeat before anyone has authorized them.
		if current == models.LivenessPending {
			return models.LivenessPending
		}
		return models.LivenessOnline
	case EventOfflineTimeout:
		if current == models.LivenessOnline {
			return models.LivenessOffline
		}
		return current
	case EventInactiveTimeout:
		if current == models.LivenessOffline {
			return models.LivenessInactive
		}
		return current
	case EventTombstone:
		return models.LivenessTombstoned
	default:
		return current
	}
}

// EventForElapsed derives the sweep Event for an agent from how long it has
// been since its last heartbeat, given its effective interval and
// miss_until_inactive multiplier. Returns ok=false when no transition
// applies (the agent is current).
func EventForElapsed(current models.LivenessState, elapsed time.Duration, intervalSeconds int, missUntilInactive int) (Event, bool) {
	offlineThreshold := time.Duration(intervalSeconds) * time.Second * time.Duration(1+missUntilInactive)

	switch current {
	case models.LivenessOnline:
		if elapsed > offlineThreshold {
			return EventOfflineTimeout, true
		}
	case models.LivenessOffline:
		if elapsed > inactiveThreshold {
			return EventInactiveTimeout, true
		}
	}
	return EventHeartbeat, false
}
