package usecases

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/geotrack/internal/core/domain"
)

// TripConfig tunes trip segmentation.
type TripConfig struct {
	MinMovementM     float64       // segments shorter than this are GPS jitter and ignored
	Inactivity       time.Duration // ping silence before an open trip is auto-closed
	DestinationDwell time.Duration // confirmed dwell inside a zone that ends a trip
	MaxRoutePoints   int           // polyline decimation cap
}

// TripAggregator maintains one user's open trip. Like the membership tracker
// it is owned by a single lane and sees pings in timestamp order.
type TripAggregator struct {
	userID string
	cfg    TripConfig

	open         *domain.Trip
	lastPoint    *domain.GeoPoint // last confident position folded into the trip
	lastPointAt  time.Time
	lastActivity time.Time // timestamp of the newest applied ping
}

// NewTripAggregator creates an aggregator for one user.
func NewTripAggregator(userID string, cfg TripConfig) *TripAggregator {
	if cfg.MaxRoutePoints <= 0 {
		cfg.MaxRoutePoints = 500
	}
	return &TripAggregator{userID: userID, cfg: cfg}
}

// OpenTrip returns the currently open trip, or nil.
func (a *TripAggregator) OpenTrip() *domain.Trip {
	return a.open
}

// LastKnown returns the last confident position seen, or nil.
func (a *TripAggregator) LastKnown() *domain.GeoPoint {
	return a.lastPoint
}

// Start opens a trip. A nil loc means no confident position is known yet; the
// trip starts blind and the first confident ping establishes the baseline.
// Starting while one is already open is ambiguous and leaves the open trip
// untouched.
func (a *TripAggregator) Start(taskID string, trigger domain.TripTrigger, at time.Time, loc *domain.GeoPoint) (*domain.Trip, error) {
	if a.open != nil {
		return nil, fmt.Errorf("%w: trip %s already open for user %s", domain.ErrAmbiguousTripSignal, a.open.ID, a.userID)
	}

	now := time.Now()
	a.open = &domain.Trip{
		ID:           uuid.NewString(),
		UserID:       a.userID,
		TaskID:       taskID,
		Status:       domain.TripActive,
		StartTime:    at,
		StartTrigger: trigger,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if loc != nil {
		pt := *loc
		a.open.StartLocation = pt
		a.open.Route = []domain.GeoPoint{pt}
		a.lastPoint = &pt
		a.lastPointAt = at
	}
	if at.After(a.lastActivity) {
		a.lastActivity = at
	}
	return a.open, nil
}

// End closes the open trip at the given time and place.
func (a *TripAggregator) End(trigger domain.TripTrigger, at time.Time, loc *domain.GeoPoint) (*domain.Trip, error) {
	if a.open == nil {
		return nil, fmt.Errorf("%w: user %s", domain.ErrNoOpenTrip, a.userID)
	}
	return a.close(domain.TripCompleted, trigger, at, loc), nil
}

// Cancel discards the open trip. Stats accumulated so far are retained on the
// cancelled record.
func (a *TripAggregator) Cancel(at time.Time) (*domain.Trip, error) {
	if a.open == nil {
		return nil, fmt.Errorf("%w: user %s", domain.ErrNoOpenTrip, a.userID)
	}
	return a.close(domain.TripCancelled, domain.TriggerExplicit, at, a.lastPoint), nil
}

// Observe folds one ping into the open trip and reports whether the trip
// record changed. If the gap since the previous activity exceeds the
// inactivity timeout, the trip is closed retroactively at the last activity
// and returned; the current ping is not part of it.
func (a *TripAggregator) Observe(p *domain.LocationPing, lowConfidence bool) (closed *domain.Trip, changed bool) {
	defer func() {
		if p.Time.After(a.lastActivity) {
			a.lastActivity = p.Time
		}
		if !lowConfidence {
			loc := p.Location
			a.lastPoint = &loc
			a.lastPointAt = p.Time
		}
	}()

	if a.open == nil {
		return nil, false
	}

	if !a.lastActivity.IsZero() && p.Time.Sub(a.lastActivity) >= a.cfg.Inactivity {
		t := a.close(domain.TripCompleted, domain.TriggerInactivity, a.lastActivity, a.lastPoint)
		t.InferredEnd = true
		return t, true
	}

	if lowConfidence {
		return nil, false
	}

	if a.lastPoint != nil {
		seg := a.lastPoint.DistanceM(p.Location)
		if seg >= a.cfg.MinMovementM {
			a.open.DistanceKm += seg / 1000
			a.appendRoute(p.Location)

			if dt := p.Time.Sub(a.lastPointAt); dt > 0 {
				segSpeed := (seg / 1000) / dt.Hours()
				if segSpeed > a.open.MaxSpeedKmh {
					a.open.MaxSpeedKmh = segSpeed
				}
			}
			changed = true
		}
	} else {
		// Blind start: this ping is the trip's first known position. No
		// segment to accumulate.
		a.open.StartLocation = p.Location
		a.appendRoute(p.Location)
		changed = true
	}

	if p.SpeedKmh != nil && *p.SpeedKmh > a.open.MaxSpeedKmh {
		a.open.MaxSpeedKmh = *p.SpeedKmh
		changed = true
	}

	if changed {
		a.refreshDerived(p.Time)
	}
	return nil, changed
}

func (a *TripAggregator) close(status domain.TripStatus, trigger domain.TripTrigger, at time.Time, loc *domain.GeoPoint) *domain.Trip {
	t := a.open
	a.open = nil

	t.Status = status
	t.EndTrigger = trigger
	end := at
	t.EndTime = &end
	if loc != nil {
		endLoc := *loc
		t.EndLocation = &endLoc
	}
	a.refreshDerivedOn(t, at)
	t.UpdatedAt = time.Now()
	return t
}

func (a *TripAggregator) refreshDerived(at time.Time) {
	a.refreshDerivedOn(a.open, at)
	a.open.UpdatedAt = time.Now()
}

func (a *TripAggregator) refreshDerivedOn(t *domain.Trip, at time.Time) {
	dur := at.Sub(t.StartTime)
	if dur < 0 {
		dur = 0
	}
	t.DurationMin = dur.Minutes()
	if dur > 0 {
		t.AvgSpeedKmh = t.DistanceKm / dur.Hours()
	}
}

// appendRoute adds a point to the polyline, thinning it once the cap is hit
// so the record stays bounded on very long trips.
func (a *TripAggregator) appendRoute(p domain.GeoPoint) {
	if len(a.open.Route) >= a.cfg.MaxRoutePoints {
		thinned := make([]domain.GeoPoint, 0, len(a.open.Route)/2+1)
		for i := 0; i < len(a.open.Route); i += 2 {
			thinned = append(thinned, a.open.Route[i])
		}
		a.open.Route = thinned
	}
	a.open.Route = append(a.open.Route, p)
}
