package usecases_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/fieldops/geotrack/internal/core/domain"
	"github.com/fieldops/geotrack/internal/core/usecases"
)

func testTripConfig() usecases.TripConfig {
	return usecases.TripConfig{
		MinMovementM:     10,
		Inactivity:       30 * time.Minute,
		DestinationDwell: 3 * time.Minute,
		MaxRoutePoints:   500,
	}
}

// latAtKm returns a latitude the given number of kilometers north of start.
func latAtKm(startLat, km float64) float64 {
	return startLat + km/111.19492664
}

func TestTripDistanceMonotonicAndJitterFiltered(t *testing.T) {
	agg := usecases.NewTripAggregator("eng-1", testTripConfig())
	start := domain.GeoPoint{Lat: 43.0, Lon: -2.9}

	if _, err := agg.Start("task-1", domain.TriggerExplicit, t0, &start); err != nil {
		t.Fatalf("start: %v", err)
	}

	prev := 0.0
	for i := 1; i <= 5; i++ {
		p := pingAt("eng-1", t0.Add(time.Duration(i)*time.Minute), latAtKm(43.0, float64(i)), -2.9)
		_, _ = agg.Observe(p, false)
		got := agg.OpenTrip().DistanceKm
		if got < prev {
			t.Fatalf("distance decreased: %f -> %f", prev, got)
		}
		prev = got
	}
	if prev < 4.9 || prev > 5.1 {
		t.Errorf("distance after 5km walk = %fkm", prev)
	}

	// A 3m wiggle is GPS jitter and must not accumulate.
	jitter := pingAt("eng-1", t0.Add(6*time.Minute), latAtKm(43.0, 5)+0.000027, -2.9)
	_, changed := agg.Observe(jitter, false)
	if changed {
		t.Error("sub-threshold movement should not change the trip")
	}
	if agg.OpenTrip().DistanceKm != prev {
		t.Errorf("jitter accumulated: %f -> %f", prev, agg.OpenTrip().DistanceKm)
	}
}

func TestTripAverageSpeed(t *testing.T) {
	agg := usecases.NewTripAggregator("eng-1", testTripConfig())
	start := domain.GeoPoint{Lat: 43.0, Lon: -2.9}

	if _, err := agg.Start("", domain.TriggerExplicit, t0, &start); err != nil {
		t.Fatalf("start: %v", err)
	}

	// 10km in 10 minutes, in 1km steps.
	for i := 1; i <= 10; i++ {
		p := pingAt("eng-1", t0.Add(time.Duration(i)*time.Minute), latAtKm(43.0, float64(i)), -2.9)
		_, _ = agg.Observe(p, false)
	}

	end := domain.GeoPoint{Lat: latAtKm(43.0, 10), Lon: -2.9}
	trip, err := agg.End(domain.TriggerExplicit, t0.Add(10*time.Minute), &end)
	if err != nil {
		t.Fatalf("end: %v", err)
	}

	if math.Abs(trip.DistanceKm-10) > 0.1 {
		t.Errorf("distance = %fkm, want ~10", trip.DistanceKm)
	}
	if math.Abs(trip.DurationMin-10) > 0.01 {
		t.Errorf("duration = %fmin, want 10", trip.DurationMin)
	}
	if trip.AvgSpeedKmh < 55 || trip.AvgSpeedKmh > 65 {
		t.Errorf("avg speed = %fkm/h, want ~60", trip.AvgSpeedKmh)
	}
	if trip.MaxSpeedKmh < trip.AvgSpeedKmh-0.01 {
		t.Errorf("max speed %f below average %f", trip.MaxSpeedKmh, trip.AvgSpeedKmh)
	}
}

func TestTripFrozenAfterClose(t *testing.T) {
	agg := usecases.NewTripAggregator("eng-1", testTripConfig())
	start := domain.GeoPoint{Lat: 43.0, Lon: -2.9}
	_, _ = agg.Start("", domain.TriggerExplicit, t0, &start)

	_, _ = agg.Observe(pingAt("eng-1", t0.Add(time.Minute), latAtKm(43.0, 1), -2.9), false)
	trip, err := agg.End(domain.TriggerExplicit, t0.Add(2*time.Minute), nil)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	frozen := trip.DistanceKm

	// Later pings must not touch the closed record.
	_, _ = agg.Observe(pingAt("eng-1", t0.Add(3*time.Minute), latAtKm(43.0, 2), -2.9), false)
	if trip.DistanceKm != frozen {
		t.Errorf("closed trip mutated: %f -> %f", frozen, trip.DistanceKm)
	}
	if agg.OpenTrip() != nil {
		t.Error("no trip should be open after End")
	}
}

func TestTripInactivityAutoClose(t *testing.T) {
	agg := usecases.NewTripAggregator("eng-1", testTripConfig())
	start := domain.GeoPoint{Lat: 43.0, Lon: -2.9}
	_, _ = agg.Start("", domain.TriggerOfficeExit, t0, &start)
	_, _ = agg.Observe(pingAt("eng-1", t0.Add(time.Minute), latAtKm(43.0, 1), -2.9), false)

	// Next ping after a 40 minute silence: the trip closes at the last
	// activity, flagged as inferred, and the new ping is not part of it.
	late := pingAt("eng-1", t0.Add(41*time.Minute), latAtKm(43.0, 20), -2.9)
	closed, _ := agg.Observe(late, false)
	if closed == nil {
		t.Fatal("expected inactivity close")
	}
	if !closed.InferredEnd {
		t.Error("inactivity close must set InferredEnd")
	}
	if closed.EndTrigger != domain.TriggerInactivity {
		t.Errorf("end trigger = %s", closed.EndTrigger)
	}
	if closed.EndTime == nil || !closed.EndTime.Equal(t0.Add(time.Minute)) {
		t.Errorf("end time = %v, want last activity %v", closed.EndTime, t0.Add(time.Minute))
	}
	if closed.DistanceKm > 1.1 {
		t.Errorf("jump after silence accumulated into trip: %fkm", closed.DistanceKm)
	}
	if agg.OpenTrip() != nil {
		t.Error("no trip should remain open")
	}
}

func TestTripBlindStartFirstFixIsBaseline(t *testing.T) {
	agg := usecases.NewTripAggregator("eng-1", testTripConfig())

	// No position known yet: the user taps "depart" before the device's
	// first ping.
	if _, err := agg.Start("task-1", domain.TriggerExplicit, t0, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := agg.OpenTrip(); len(got.Route) != 0 {
		t.Errorf("blind start seeded route with %d points", len(got.Route))
	}

	// The first confident fix becomes the trip's start location. It must not
	// count as a segment from the zero coordinate.
	first := pingAt("eng-1", t0.Add(10*time.Second), 12.9716, 77.5946)
	_, changed := agg.Observe(first, false)
	if !changed {
		t.Fatal("first fix should update the open trip")
	}

	trip := agg.OpenTrip()
	if trip.DistanceKm != 0 {
		t.Errorf("first fix accumulated %fkm", trip.DistanceKm)
	}
	if trip.MaxSpeedKmh != 0 {
		t.Errorf("first fix produced max speed %fkm/h", trip.MaxSpeedKmh)
	}
	if trip.StartLocation.Lat != 12.9716 || trip.StartLocation.Lon != 77.5946 {
		t.Errorf("start location = %+v, want the first fix", trip.StartLocation)
	}
	if len(trip.Route) != 1 {
		t.Errorf("route has %d points after baseline, want 1", len(trip.Route))
	}

	// Movement after the baseline accumulates normally.
	_, _ = agg.Observe(pingAt("eng-1", t0.Add(70*time.Second), latAtKm(12.9716, 1), 77.5946), false)
	if d := agg.OpenTrip().DistanceKm; math.Abs(d-1) > 0.05 {
		t.Errorf("distance after 1km leg = %fkm", d)
	}
}

func TestTripBlindStartIgnoresLowConfidenceFix(t *testing.T) {
	agg := usecases.NewTripAggregator("eng-1", testTripConfig())
	_, _ = agg.Start("", domain.TriggerExplicit, t0, nil)

	_, changed := agg.Observe(pingAt("eng-1", t0.Add(10*time.Second), 12.9716, 77.5946), true)
	if changed {
		t.Error("low-confidence fix must not seed the baseline")
	}
	if len(agg.OpenTrip().Route) != 0 {
		t.Error("low-confidence fix entered the route")
	}
}

func TestTripCancelKeepsStats(t *testing.T) {
	agg := usecases.NewTripAggregator("eng-1", testTripConfig())
	_, _ = agg.Start("", domain.TriggerExplicit, t0, &domain.GeoPoint{Lat: 43.0, Lon: -2.9})
	_, _ = agg.Observe(pingAt("eng-1", t0.Add(time.Minute), latAtKm(43.0, 2), -2.9), false)

	trip, err := agg.Cancel(t0.Add(2 * time.Minute))
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if trip.Status != domain.TripCancelled {
		t.Errorf("status = %s, want cancelled", trip.Status)
	}
	if trip.DistanceKm < 1.9 {
		t.Errorf("cancel dropped accumulated stats: %fkm", trip.DistanceKm)
	}
}

func TestTripDoubleStartIsAmbiguous(t *testing.T) {
	agg := usecases.NewTripAggregator("eng-1", testTripConfig())
	first, err := agg.Start("", domain.TriggerExplicit, t0, &domain.GeoPoint{Lat: 43, Lon: -2.9})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	_, err = agg.Start("", domain.TriggerExplicit, t0.Add(time.Minute), &domain.GeoPoint{Lat: 43, Lon: -2.9})
	if !errors.Is(err, domain.ErrAmbiguousTripSignal) {
		t.Fatalf("double start should be ambiguous, got %v", err)
	}
	if agg.OpenTrip() != first {
		t.Error("double start must leave the first trip untouched")
	}
}

func TestTripEndWithoutOpen(t *testing.T) {
	agg := usecases.NewTripAggregator("eng-1", testTripConfig())
	if _, err := agg.End(domain.TriggerExplicit, t0, nil); !errors.Is(err, domain.ErrNoOpenTrip) {
		t.Errorf("end without open trip: got %v", err)
	}
	if _, err := agg.Cancel(t0); !errors.Is(err, domain.ErrNoOpenTrip) {
		t.Errorf("cancel without open trip: got %v", err)
	}
}

func TestLowConfidencePingsExcludedFromDistance(t *testing.T) {
	agg := usecases.NewTripAggregator("eng-1", testTripConfig())
	_, _ = agg.Start("", domain.TriggerExplicit, t0, &domain.GeoPoint{Lat: 43.0, Lon: -2.9})

	// A wildly inaccurate reading 5km away must not count.
	_, changed := agg.Observe(pingAt("eng-1", t0.Add(time.Minute), latAtKm(43.0, 5), -2.9), true)
	if changed {
		t.Error("low-confidence ping changed the trip")
	}
	if agg.OpenTrip().DistanceKm != 0 {
		t.Errorf("low-confidence ping accumulated %fkm", agg.OpenTrip().DistanceKm)
	}
}

func TestRouteDecimationBounded(t *testing.T) {
	cfg := testTripConfig()
	cfg.MaxRoutePoints = 16
	agg := usecases.NewTripAggregator("eng-1", cfg)
	_, _ = agg.Start("", domain.TriggerExplicit, t0, &domain.GeoPoint{Lat: 43.0, Lon: -2.9})

	for i := 1; i <= 100; i++ {
		p := pingAt("eng-1", t0.Add(time.Duration(i)*time.Second), latAtKm(43.0, float64(i)*0.02), -2.9)
		_, _ = agg.Observe(p, false)
	}
	if n := len(agg.OpenTrip().Route); n > 17 {
		t.Errorf("route grew to %d points, cap is 16", n)
	}
}
