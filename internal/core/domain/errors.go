package domain

import "errors"

var (
	// ErrInvalidPing marks a ping that failed structural validation
	// (coordinates out of range, missing user, timestamp too far in the future).
	ErrInvalidPing = errors.New("invalid ping")

	// ErrDuplicatePing marks a ping whose (user, timestamp) was already applied.
	ErrDuplicatePing = errors.New("duplicate ping")

	// ErrStalePing marks a ping older than the reorder window. It is kept in
	// raw history but excluded from stateful processing.
	ErrStalePing = errors.New("stale ping")

	// ErrInvalidZoneGeometry marks a zone shape rejected at creation time.
	ErrInvalidZoneGeometry = errors.New("invalid zone geometry")

	// ErrAmbiguousTripSignal marks a trip control signal that contradicts the
	// current trip state, e.g. starting while a trip is already open.
	ErrAmbiguousTripSignal = errors.New("ambiguous trip signal")

	// ErrNoOpenTrip marks an end/cancel signal with no trip to act on.
	ErrNoOpenTrip = errors.New("no open trip")

	// ErrZoneNotFound marks a lookup of a missing or inactive zone.
	ErrZoneNotFound = errors.New("zone not found")

	// ErrTripNotFound marks a lookup of a missing trip.
	ErrTripNotFound = errors.New("trip not found")
)
