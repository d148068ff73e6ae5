package usecases

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/fieldops/geotrack/internal/core/domain"
	"github.com/fieldops/geotrack/internal/core/ports"
	"github.com/fieldops/geotrack/internal/pkg/metrics"
)

// EngineConfig tunes the ingestion pipeline.
type EngineConfig struct {
	Lanes              int
	AccuracyThresholdM float64
	Hysteresis         int
	DwellThreshold     time.Duration
	ReorderWindow      time.Duration
	FutureSkew         time.Duration
	IdleEvict          time.Duration
	Trip               TripConfig
}

// Pipeline fans pings out to per-user ordered lanes. Each user hashes to
// exactly one lane, so all state mutation and derived persistence for a user
// happens on a single goroutine in timestamp order.
type Pipeline struct {
	cfg      EngineConfig
	catalog  *ZoneCatalog
	pings    ports.PingRepository
	events   ports.EventRepository
	trips    ports.TripRepository
	tracking ports.TrackingRepository
	pub      ports.EventPublisher

	now   func() time.Time
	lanes []*lane
	wg    sync.WaitGroup
}

// NewPipeline wires the pipeline. Call Run before submitting.
func NewPipeline(
	cfg EngineConfig,
	catalog *ZoneCatalog,
	pings ports.PingRepository,
	events ports.EventRepository,
	trips ports.TripRepository,
	tracking ports.TrackingRepository,
	pub ports.EventPublisher,
) *Pipeline {
	if cfg.Lanes <= 0 {
		cfg.Lanes = 16
	}
	p := &Pipeline{
		cfg:      cfg,
		catalog:  catalog,
		pings:    pings,
		events:   events,
		trips:    trips,
		tracking: tracking,
		pub:      pub,
		now:      time.Now,
	}
	for i := 0; i < cfg.Lanes; i++ {
		p.lanes = append(p.lanes, newLane(i, p))
	}
	return p
}

// Run starts the lane goroutines and blocks until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	for _, l := range p.lanes {
		p.wg.Add(1)
		go func(l *lane) {
			defer p.wg.Done()
			l.run(ctx)
		}(l)
	}
	<-ctx.Done()
	p.wg.Wait()
}

// Submit validates a ping and enqueues it on the owner lane. Validation
// failures are returned synchronously; duplicate and stale handling happens
// in the lane and is not an error for the caller.
func (p *Pipeline) Submit(ctx context.Context, ping *domain.LocationPing) error {
	if err := ping.Validate(p.now(), p.cfg.FutureSkew); err != nil {
		metrics.PingsRejected.WithLabelValues(rejectReason(err)).Inc()
		return err
	}
	metrics.PingsAccepted.Inc()

	l := p.laneFor(ping.UserID)
	select {
	case l.in <- laneMsg{ping: ping}:
		metrics.LaneDepth.WithLabelValues(strconv.Itoa(l.id)).Set(float64(len(l.in)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartTrip opens a trip for the user. Runs on the user's lane so it cannot
// race with ping processing.
func (p *Pipeline) StartTrip(ctx context.Context, userID, taskID string) (*domain.Trip, error) {
	return p.control(ctx, userID, tripControl{action: ctrlStart, taskID: taskID})
}

// EndTrip closes the user's open trip.
func (p *Pipeline) EndTrip(ctx context.Context, userID string) (*domain.Trip, error) {
	return p.control(ctx, userID, tripControl{action: ctrlEnd})
}

// CancelTrip cancels the user's open trip, keeping accumulated stats.
func (p *Pipeline) CancelTrip(ctx context.Context, userID string) (*domain.Trip, error) {
	return p.control(ctx, userID, tripControl{action: ctrlCancel})
}

func (p *Pipeline) control(ctx context.Context, userID string, ctrl tripControl) (*domain.Trip, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", domain.ErrInvalidPing)
	}
	ctrl.userID = userID
	ctrl.reply = make(chan tripControlResult, 1)

	l := p.laneFor(userID)
	select {
	case l.in <- laneMsg{ctrl: &ctrl}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-ctrl.reply:
		return res.trip, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pipeline) laneFor(userID string) *lane {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return p.lanes[int(h.Sum32())%len(p.lanes)]
}

func rejectReason(err error) string {
	switch {
	case err == nil:
		return "none"
	default:
		return "invalid"
	}
}

// ---------------------------------------------------------------------------
// Lane
// ---------------------------------------------------------------------------

type tripAction int

const (
	ctrlStart tripAction = iota
	ctrlEnd
	ctrlCancel
)

type tripControl struct {
	userID string
	taskID string
	action tripAction
	reply  chan tripControlResult
}

type tripControlResult struct {
	trip *domain.Trip
	err  error
}

type laneMsg struct {
	ping *domain.LocationPing
	ctrl *tripControl
}

// userState is everything one lane holds for one user.
type userState struct {
	membership *MembershipTracker
	trips      *TripAggregator

	pending     []*domain.LocationPing // reorder buffer, sorted by timestamp
	maxSeen     time.Time              // newest timestamp observed for this user
	lastApplied time.Time              // watermark: newest timestamp applied to state
	seen        map[int64]struct{}     // unix-nano of observed pings, for dedup
	touchedAt   time.Time              // wall clock, for idle eviction
}

type lane struct {
	id   int
	in   chan laneMsg
	p    *Pipeline
	user map[string]*userState
	msgs int
}

func newLane(id int, p *Pipeline) *lane {
	return &lane{
		id:   id,
		in:   make(chan laneMsg, 1024),
		p:    p,
		user: make(map[string]*userState),
	}
}

func (l *lane) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-l.in:
			if m.ping != nil {
				l.handlePing(ctx, m.ping)
			} else if m.ctrl != nil {
				l.handleControl(ctx, m.ctrl)
			}
			metrics.LaneDepth.WithLabelValues(strconv.Itoa(l.id)).Set(float64(len(l.in)))
			l.msgs++
			if l.msgs%512 == 0 {
				l.evictIdle()
			}
		}
	}
}

func (l *lane) state(userID string) *userState {
	u, ok := l.user[userID]
	if !ok {
		u = &userState{
			membership: NewMembershipTracker(userID, l.p.cfg.Hysteresis, l.p.cfg.DwellThreshold),
			trips:      NewTripAggregator(userID, l.p.cfg.Trip),
			seen:       make(map[int64]struct{}),
		}
		l.user[userID] = u
	}
	u.touchedAt = l.p.now()
	return u
}

// handlePing stages a ping in the reorder buffer and applies everything
// that has fallen out of the reorder window, oldest first.
func (l *lane) handlePing(ctx context.Context, ping *domain.LocationPing) {
	u := l.state(ping.UserID)
	key := ping.Time.UnixNano()

	if _, dup := u.seen[key]; dup {
		metrics.PingsDuplicate.Inc()
		return
	}
	u.seen[key] = struct{}{}

	// Older than something already applied: too late to insert in order.
	// Keep it in raw history, flagged, and move on.
	if !u.lastApplied.IsZero() && ping.Time.Before(u.lastApplied) {
		metrics.PingsStale.Inc()
		if err := l.p.pings.Insert(ctx, ping, true); err != nil {
			l.laneErr("store stale ping", ping.UserID, err)
		}
		return
	}

	u.pending = append(u.pending, ping)
	sort.Slice(u.pending, func(i, j int) bool { return u.pending[i].Time.Before(u.pending[j].Time) })
	if ping.Time.After(u.maxSeen) {
		u.maxSeen = ping.Time
	}

	l.flush(ctx, u, u.maxSeen.Add(-l.p.cfg.ReorderWindow))
	l.pruneSeen(u)
}

// flush applies all staged pings at or before the watermark.
func (l *lane) flush(ctx context.Context, u *userState, watermark time.Time) {
	for len(u.pending) > 0 && !u.pending[0].Time.After(watermark) {
		ping := u.pending[0]
		u.pending = u.pending[1:]
		l.apply(ctx, u, ping)
	}
}

// apply runs one ping through the raw store and the stateful trackers.
// The watermark only advances after the derived writes were attempted, so a
// crash replays the ping rather than skipping it.
func (l *lane) apply(ctx context.Context, u *userState, ping *domain.LocationPing) {
	if err := l.p.pings.Insert(ctx, ping, false); err != nil {
		l.laneErr("store ping", ping.UserID, err)
	}

	lowConf := ping.LowConfidence(l.p.cfg.AccuracyThresholdM)
	if lowConf {
		metrics.PingsLowConfidence.Inc()
	}

	snap := l.p.catalog.Snapshot()
	events := u.membership.Evaluate(ping, snap)
	for i := range events {
		ev := &events[i]
		if err := l.p.events.Insert(ctx, ev); err != nil {
			l.laneErr("store zone event", ping.UserID, err)
		}
		if err := l.p.pub.PublishZoneEvent(ctx, ev); err != nil {
			l.laneErr("publish zone event", ping.UserID, err)
		}
		metrics.ZoneEvents.WithLabelValues(string(ev.Type)).Inc()
	}

	// Inactivity auto-close happens before the current ping can touch the trip.
	closed, changed := u.trips.Observe(ping, lowConf)
	if closed != nil {
		l.persistTrip(ctx, closed)
		metrics.TripsClosed.WithLabelValues(string(domain.TriggerInactivity)).Inc()
	}

	// Leaving an office zone with no open trip starts one implicitly.
	if u.trips.OpenTrip() == nil {
		for i := range events {
			ev := &events[i]
			if ev.Type == domain.EventExit && ev.ZoneCategory == domain.ZoneOffice {
				trip, err := u.trips.Start(ping.TaskID, domain.TriggerOfficeExit, ping.Time, &ping.Location)
				if err == nil {
					l.persistTrip(ctx, trip)
					metrics.TripsOpened.WithLabelValues(string(domain.TriggerOfficeExit)).Inc()
				}
				break
			}
		}
	}

	// Confirmed dwell inside any zone entered after the trip started ends it.
	if open := u.trips.OpenTrip(); open != nil {
		if since, ok := u.membership.InsideAnySince(); ok &&
			since.After(open.StartTime) &&
			ping.Time.Sub(since) >= l.p.cfg.Trip.DestinationDwell {
			if ended, err := u.trips.End(domain.TriggerDwell, ping.Time, &ping.Location); err == nil {
				l.persistTrip(ctx, ended)
				metrics.TripsClosed.WithLabelValues(string(domain.TriggerDwell)).Inc()
				changed = false
			}
		}
	}

	if changed {
		if open := u.trips.OpenTrip(); open != nil {
			l.persistTrip(ctx, open)
		}
	}

	entry := BuildTrackingEntry(ping, u.membership.InsideCategory(snap, domain.ZoneCustomer) ||
		u.membership.InsideCategory(snap, domain.ZoneSite))
	if err := l.p.tracking.Append(ctx, entry); err != nil {
		l.laneErr("append tracking entry", ping.UserID, err)
	}

	u.lastApplied = ping.Time
}

func (l *lane) handleControl(ctx context.Context, ctrl *tripControl) {
	u := l.state(ctrl.userID)

	// A control signal is a barrier: everything staged applies first so the
	// trip decision sees the newest state.
	l.flush(ctx, u, u.maxSeen)

	now := l.p.now()
	var trip *domain.Trip
	var err error

	switch ctrl.action {
	case ctrlStart:
		trip, err = u.trips.Start(ctrl.taskID, domain.TriggerExplicit, now, u.trips.LastKnown())
		if err == nil {
			metrics.TripsOpened.WithLabelValues(string(domain.TriggerExplicit)).Inc()
		}
	case ctrlEnd:
		trip, err = u.trips.End(domain.TriggerExplicit, now, u.trips.LastKnown())
		if err == nil {
			metrics.TripsClosed.WithLabelValues(string(domain.TriggerExplicit)).Inc()
		}
	case ctrlCancel:
		trip, err = u.trips.Cancel(now)
	}

	if err == nil && trip != nil {
		l.persistTrip(ctx, trip)
	}
	ctrl.reply <- tripControlResult{trip: trip, err: err}
}

func (l *lane) persistTrip(ctx context.Context, trip *domain.Trip) {
	if err := l.p.trips.Upsert(ctx, trip); err != nil {
		l.laneErr("upsert trip", trip.UserID, err)
	}
	if err := l.p.pub.PublishTripUpdate(ctx, trip); err != nil {
		l.laneErr("publish trip", trip.UserID, err)
	}
}

func (l *lane) laneErr(op, userID string, err error) {
	metrics.LaneErrors.Inc()
	slog.Warn("lane operation failed", "op", op, "user_id", userID, "lane", l.id, "error", err)
}

// pruneSeen drops dedup keys older than twice the reorder window so the set
// stays bounded for chatty devices.
func (l *lane) pruneSeen(u *userState) {
	if len(u.seen) < 4096 {
		return
	}
	horizon := u.maxSeen.Add(-2 * l.p.cfg.ReorderWindow).UnixNano()
	for k := range u.seen {
		if k < horizon {
			delete(u.seen, k)
		}
	}
}

// evictIdle drops state for users silent longer than the eviction horizon.
// A returning user starts from a fresh Outside state.
func (l *lane) evictIdle() {
	if l.p.cfg.IdleEvict <= 0 {
		return
	}
	cutoff := l.p.now().Add(-l.p.cfg.IdleEvict)
	for id, u := range l.user {
		if u.touchedAt.Before(cutoff) && len(u.pending) == 0 && u.trips.OpenTrip() == nil {
			delete(l.user, id)
		}
	}
}
