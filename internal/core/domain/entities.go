package domain

import (
	"fmt"
	"time"
)

// ZoneCategory classifies what a geofence zone represents.
type ZoneCategory string

const (
	ZoneOffice   ZoneCategory = "office"
	ZoneCustomer ZoneCategory = "customer"
	ZoneSite     ZoneCategory = "site"
)

// GeofenceZone is a named geographic region watched by the engine.
type GeofenceZone struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Category   ZoneCategory `json:"category"`
	Geometry   Geometry     `json:"geometry"`
	CustomerID string       `json:"customer_id,omitempty"`
	Active     bool         `json:"active"`
	CreatedAt  time.Time    `json:"created_at"`
}

// LocationPing is a raw GPS reading submitted by a field engineer's device.
type LocationPing struct {
	UserID        string    `json:"user_id"`
	TaskID        string    `json:"task_id,omitempty"`
	Time          time.Time `json:"time"`
	Location      GeoPoint  `json:"location"`
	AccuracyM     *float64  `json:"accuracy_m,omitempty"`
	SpeedKmh      *float64  `json:"speed_kmh,omitempty"`
	HeadingDeg    *float64  `json:"heading_deg,omitempty"`
	AltitudeM     *float64  `json:"altitude_m,omitempty"`
	BatteryLevel  *int      `json:"battery_level,omitempty"`
	NetworkStatus string    `json:"network_status,omitempty"`

	// Optional reference points supplied by the mobile client, used for the
	// tracking history distances.
	OfficeRef   *GeoPoint `json:"office_ref,omitempty"`
	CustomerRef *GeoPoint `json:"customer_ref,omitempty"`
}

// Validate rejects structurally broken pings. now and futureSkew bound how far
// ahead of the wall clock a timestamp may be.
func (p *LocationPing) Validate(now time.Time, futureSkew time.Duration) error {
	if p.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidPing)
	}
	if p.Time.IsZero() {
		return fmt.Errorf("%w: time is required", ErrInvalidPing)
	}
	if !p.Location.Valid() {
		return fmt.Errorf("%w: coordinates out of range (%f, %f)", ErrInvalidPing, p.Location.Lat, p.Location.Lon)
	}
	if p.Time.After(now.Add(futureSkew)) {
		return fmt.Errorf("%w: timestamp %s is in the future", ErrInvalidPing, p.Time.Format(time.RFC3339))
	}
	if p.AccuracyM != nil && *p.AccuracyM < 0 {
		return fmt.Errorf("%w: accuracy must not be negative", ErrInvalidPing)
	}
	return nil
}

// LowConfidence reports whether the reading's accuracy is worse than the
// given threshold. Low-confidence pings still drive zone membership but are
// excluded from trip distance accumulation.
func (p *LocationPing) LowConfidence(thresholdM float64) bool {
	return p.AccuracyM != nil && *p.AccuracyM > thresholdM
}

// EventType is the kind of zone membership transition.
type EventType string

const (
	EventEnter EventType = "enter"
	EventExit  EventType = "exit"
	EventDwell EventType = "dwell"
)

// GeofenceEvent records a membership transition for a (user, zone) pair.
type GeofenceEvent struct {
	ID           string       `json:"id"`
	UserID       string       `json:"user_id"`
	ZoneID       string       `json:"zone_id"`
	ZoneName     string       `json:"zone_name,omitempty"`
	ZoneCategory ZoneCategory `json:"zone_category,omitempty"`
	TaskID       string       `json:"task_id,omitempty"`
	Type         EventType    `json:"type"`
	Time         time.Time    `json:"time"`
	Location     GeoPoint     `json:"location"`
	DwellSeconds int64        `json:"dwell_seconds,omitempty"` // on exit and dwell events
}

// TripStatus is the lifecycle state of a trip.
type TripStatus string

const (
	TripActive    TripStatus = "active"
	TripCompleted TripStatus = "completed"
	TripCancelled TripStatus = "cancelled"
)

// TripTrigger records what opened or closed a trip.
type TripTrigger string

const (
	TriggerExplicit   TripTrigger = "explicit"
	TriggerOfficeExit TripTrigger = "office_exit"
	TriggerDwell      TripTrigger = "destination_dwell"
	TriggerInactivity TripTrigger = "inactivity"
)

// Trip is a contiguous span of travel with aggregated stats.
type Trip struct {
	ID            string      `json:"id"`
	UserID        string      `json:"user_id"`
	TaskID        string      `json:"task_id,omitempty"`
	Status        TripStatus  `json:"status"`
	StartTime     time.Time   `json:"start_time"`
	StartLocation GeoPoint    `json:"start_location"`
	StartTrigger  TripTrigger `json:"start_trigger"`
	EndTime       *time.Time  `json:"end_time,omitempty"`
	EndLocation   *GeoPoint   `json:"end_location,omitempty"`
	EndTrigger    TripTrigger `json:"end_trigger,omitempty"`
	DistanceKm    float64     `json:"distance_km"`
	DurationMin   float64     `json:"duration_min"`
	AvgSpeedKmh   float64     `json:"avg_speed_kmh"`
	MaxSpeedKmh   float64     `json:"max_speed_kmh"`
	InferredEnd   bool        `json:"inferred_end"`
	Audited       bool        `json:"audited"`
	Route         []GeoPoint  `json:"route,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Open reports whether the trip is still accumulating.
func (t *Trip) Open() bool {
	return t.Status == TripActive
}

// MovementType classifies what the engineer was doing at a point in time.
type MovementType string

const (
	MovementTraveling  MovementType = "traveling"
	MovementAtLocation MovementType = "at_location"
	MovementStationary MovementType = "stationary"
)

// TrackingEntry is one row of the per-engineer tracking history, derived from
// an accepted ping.
type TrackingEntry struct {
	ID                 string       `json:"id"`
	UserID             string       `json:"user_id"`
	TaskID             string       `json:"task_id,omitempty"`
	Time               time.Time    `json:"time"`
	Location           GeoPoint     `json:"location"`
	Movement           MovementType `json:"movement"`
	DistanceOfficeKm   *float64     `json:"distance_office_km,omitempty"`
	DistanceCustomerKm *float64     `json:"distance_customer_km,omitempty"`
	SpeedKmh           *float64     `json:"speed_kmh,omitempty"`
	AccuracyM          *float64     `json:"accuracy_m,omitempty"`
	BatteryLevel       *int         `json:"battery_level,omitempty"`
	NetworkStatus      string       `json:"network_status,omitempty"`
}

// TrackingStats aggregates a user's tracking history over a period.
type TrackingStats struct {
	UserID           string    `json:"user_id"`
	From             time.Time `json:"from"`
	To               time.Time `json:"to"`
	TotalDistanceKm  float64   `json:"total_distance_km"`
	AvgSpeedKmh      float64   `json:"avg_speed_kmh"`
	TimeAtCustomer   int64     `json:"time_at_customer_sec"`
	TimeInTransit    int64     `json:"time_in_transit_sec"`
	EntryCount       int       `json:"entry_count"`
	TripsCompleted   int       `json:"trips_completed"`
	TripsInferredEnd int       `json:"trips_inferred_end"`
}
