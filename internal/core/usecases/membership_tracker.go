package usecases

import (
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/geotrack/internal/core/domain"
)

// zoneState is the membership machine for one (user, zone) pair.
type zoneState struct {
	inside     bool
	enteredAt  time.Time
	dwellFired bool
	streak     int // consecutive readings contradicting the current side
}

// MembershipTracker tracks one user's zone membership. It is owned by a
// single processing lane and must not be shared across goroutines.
//
// Transitions are damped with hysteresis: a flip requires N consecutive
// contrary readings, so a single jittery ping at a boundary emits nothing.
type MembershipTracker struct {
	userID     string
	hysteresis int
	dwell      time.Duration
	zones      map[string]*zoneState
}

// NewMembershipTracker creates a tracker for one user. hysteresis is the
// consecutive-reading count needed to flip membership (minimum 1).
func NewMembershipTracker(userID string, hysteresis int, dwell time.Duration) *MembershipTracker {
	if hysteresis < 1 {
		hysteresis = 1
	}
	return &MembershipTracker{
		userID:     userID,
		hysteresis: hysteresis,
		dwell:      dwell,
		zones:      make(map[string]*zoneState),
	}
}

// Evaluate applies one ping against the zone snapshot and returns the emitted
// events in order. Pings must arrive in non-decreasing timestamp order.
func (t *MembershipTracker) Evaluate(p *domain.LocationPing, snap *Snapshot) []domain.GeofenceEvent {
	var events []domain.GeofenceEvent

	candidates := snap.Candidates(p.Location)
	seen := make(map[string]bool, len(candidates))

	for _, zone := range candidates {
		seen[zone.ID] = true
		reading := zone.Geometry.Contains(p.Location)
		events = t.step(events, zone, p, reading)
	}

	// Zones the user is tracked in but that were not candidates this ping:
	// either the user moved away (an outside reading) or the zone was
	// deactivated (state is dropped without an event).
	for zoneID, st := range t.zones {
		if seen[zoneID] {
			continue
		}
		zone := snap.ByID(zoneID)
		if zone == nil {
			delete(t.zones, zoneID)
			continue
		}
		if st.inside || st.streak > 0 {
			events = t.step(events, zone, p, false)
		}
	}

	return events
}

// step advances one zone's state machine with a single reading.
func (t *MembershipTracker) step(events []domain.GeofenceEvent, zone *domain.GeofenceZone, p *domain.LocationPing, reading bool) []domain.GeofenceEvent {
	st, ok := t.zones[zone.ID]
	if !ok {
		st = &zoneState{}
		t.zones[zone.ID] = st
	}

	if reading == st.inside {
		st.streak = 0
		if st.inside && !st.dwellFired && p.Time.Sub(st.enteredAt) >= t.dwell {
			st.dwellFired = true
			events = append(events, t.event(zone, p, domain.EventDwell, int64(p.Time.Sub(st.enteredAt).Seconds())))
		}
		return events
	}

	st.streak++
	if st.streak < t.hysteresis {
		return events
	}

	// Confirmed flip.
	st.streak = 0
	st.inside = reading
	if reading {
		st.enteredAt = p.Time
		st.dwellFired = false
		events = append(events, t.event(zone, p, domain.EventEnter, 0))
	} else {
		dwellSec := int64(p.Time.Sub(st.enteredAt).Seconds())
		events = append(events, t.event(zone, p, domain.EventExit, dwellSec))
	}
	return events
}

func (t *MembershipTracker) event(zone *domain.GeofenceZone, p *domain.LocationPing, typ domain.EventType, dwellSec int64) domain.GeofenceEvent {
	return domain.GeofenceEvent{
		ID:           uuid.NewString(),
		UserID:       t.userID,
		ZoneID:       zone.ID,
		ZoneName:     zone.Name,
		ZoneCategory: zone.Category,
		TaskID:       p.TaskID,
		Type:         typ,
		Time:         p.Time,
		Location:     p.Location,
		DwellSeconds: dwellSec,
	}
}

// InsideAnySince returns the earliest confirmed entry time among zones the
// user is currently inside. Used for the dwell-at-destination trip end.
func (t *MembershipTracker) InsideAnySince() (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, st := range t.zones {
		if !st.inside {
			continue
		}
		if !found || st.enteredAt.Before(earliest) {
			earliest = st.enteredAt
			found = true
		}
	}
	return earliest, found
}

// InsideCategory reports whether the user is confirmed inside any zone of the
// given category.
func (t *MembershipTracker) InsideCategory(snap *Snapshot, cat domain.ZoneCategory) bool {
	for zoneID, st := range t.zones {
		if !st.inside {
			continue
		}
		if z := snap.ByID(zoneID); z != nil && z.Category == cat {
			return true
		}
	}
	return false
}
