package registry

import (
	"testing"
	"time"

	"github.com/sentryscan/controller/internal/models"
)

func TestTransition_TombstonedIsTerminal(t *testing.T) {
	events := []Event{EventHeartbeat, EventOfflineTimeout, EventInactiveTimeout, EventTombstone}
	for _, e := range events {
		if got := Transition(models.LivenessTombstoned, e); got != models.LivenessTombstoned {
			t.Errorf("Transition(tombstoned, %v) = %v, want tombstoned", e, got)
		}
	}
}

func TestTransition_HeartbeatRestoresOnline(t *testing.T) {
	for _, from := range []models.LivenessState{
		models.LivenessOnline, models.LivenessOffline, models.LivenessInactive,
	} {
		if got := Transition(from, EventHeartbeat); got != models.LivenessOnline {
			t.Errorf("Transition(%v, heartbeat) = %v, want online", from, got)
		}
	}
}

func TestTransition_HeartbeatNeverPromotesPending(t *testing.T) {
	// Authorize() is the only documented exit from pending (spec §4.1); a
	// heartbeat from a still-unauthorized agent must not advance it.
	if got := Transition(models.LivenessPending, EventHeartbeat); got != models.LivenessPending {
		t.Errorf("Transition(pending, heartbeat) = %v, want pending", got)
	}
}

func TestTransition_OfflineTimeoutOnlyFromOnline(t *testing.T) {
	if got := Transition(models.LivenessOnline, EventOfflineTimeout); got != models.LivenessOffline {
		t.Errorf("online -> offline timeout = %v, want offline", got)
	}
	for _, from := range []models.LivenessState{models.LivenessPending, models.LivenessOffline, models.LivenessInactive} {
		if got := Transition(from, EventOfflineTimeout); got != from {
			t.Errorf("Transition(%v, offline-timeout) = %v, want unchanged %v", from, got, from)
		}
	}
}

func TestTransition_InactiveTimeoutOnlyFromOffline(t *testing.T) {
	if got := Transition(models.LivenessOffline, EventInactiveTimeout); got != models.LivenessInactive {
		t.Errorf("offline -> inactive timeout = %v, want inactive", got)
	}
	for _, from := range []models.LivenessState{models.LivenessPending, models.LivenessOnline, models.LivenessInactive} {
		if got := Transition(from, EventInactiveTimeout); got != from {
			t.Errorf("Transition(%v, inactive-timeout) = %v, want unchanged %v", from, got, from)
		}
	}
}

func TestTransition_TombstoneFromAnyState(t *testing.T) {
	for _, from := range []models.LivenessState{
		models.LivenessPending, models.LivenessOnline, models.LivenessOffline, models.LivenessInactive,
	} {
		if got := Transition(from, EventTombstone); got != models.LivenessTombstoned {
			t.Errorf("Transition(%v, tombstone) = %v, want tombstoned", from, got)
		}
	}
}

func TestEventForElapsed_OnlineBeforeThreshold(t *testing.T) {
	_, ok := EventForElapsed(models.LivenessOnline, 5*time.Minute, 600, 1)
	if ok {
		t.Error("expected no transition before offline threshold elapses")
	}
}

func TestEventForElapsed_OnlineAfterThreshold(t *testing.T) {
	// interval=600, miss=1 -> threshold is 1200s; spec scenario uses 1200+epsilon
	elapsed := 1200*time.Second + time.Second
	event, ok := EventForElapsed(models.LivenessOnline, elapsed, 600, 1)
	if !ok || event != EventOfflineTimeout {
		t.Errorf("EventForElapsed = (%v, %v), want (OfflineTimeout, true)", event, ok)
	}
}

func TestEventForElapsed_OfflineAfter24Hours(t *testing.T) {
	elapsed := 24*time.Hour + time.Second
	event, ok := EventForElapsed(models.LivenessOffline, elapsed, 600, 1)
	if !ok || event != EventInactiveTimeout {
		t.Errorf("EventForElapsed = (%v, %v), want (InactiveTimeout, true)", event, ok)
	}
}

func TestEventForElapsed_OfflineBefore24Hours(t *testing.T) {
	_, ok := EventForElapsed(models.LivenessOffline, 23*time.Hour, 600, 1)
	if ok {
		t.Error("expected no transition before 24h inactive threshold")
	}
}

// Property: starting from online, a fixed sequence of heartbeat, offline
// and inactive events never brings the state back to pending. Transition
// carries no timestamp, so last_heartbeat monotonicity is not checked here.
func TestTransition_NeverReturnsToPendingAfterOnline(t *testing.T) {
	state := models.LivenessOnline
	sequence := []Event{EventHeartbeat, EventOfflineTimeout, EventHeartbeat, EventOfflineTimeout, EventInactiveTimeout, EventHeartbeat}
	for _, e := range sequence {
		state = Transition(state, e)
		if state == models.LivenessPending {
			t.Fatalf("state regressed to pending after reaching online")
		}
	}
}
