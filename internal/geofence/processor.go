// Package geofence implements the per-vehicle arrival/departure state
// machine evaluated for every accepted position report.
package geofence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fleettrack/internal/events"
	"fleettrack/internal/geo"
	"fleettrack/internal/metrics"
	"fleettrack/internal/model"
	"fleettrack/internal/routes"
	"fleettrack/internal/state"
)

// Params are the detection thresholds. Dwell counts demand N consecutive
// qualifying samples; the speed gates tell "stopped at the dock" apart from
// slow traffic passing the fence.
type Params struct {
	ArriveRadiusM     float64
	DepartExitRadiusM float64
	ArriveMaxSpeedKph float64
	DepartMinSpeedKph float64
	ArriveDwellPings  int
	DepartDwellPings  int
}

func DefaultParams() Params {
	return Params{
		ArriveRadiusM:     150,
		DepartExitRadiusM: 200,
		ArriveMaxSpeedKph: 15,
		DepartMinSpeedKph: 8,
		ArriveDwellPings:  2,
		DepartDwellPings:  2,
	}
}

// Processor advances DriverState for each report and emits domain events.
// Writes go through the conditional-version path with a bounded retry, so
// racing consumers cannot silently overwrite each other.
type Processor struct {
	States  state.Store
	Routes  routes.Resolver
	Bus     *events.Bus
	Params  Params
	Timeout time.Duration // bound on every external call
	Retries int           // conditional-write attempts
}

func NewProcessor(st state.Store, rs routes.Resolver, bus *events.Bus, params Params) *Processor {
	return &Processor{
		States:  st,
		Routes:  rs,
		Bus:     bus,
		Params:  params,
		Timeout: 5 * time.Second,
		Retries: 3,
	}
}

// pendingEvent is a domain event decided during evaluation; it is emitted
// only after the state write succeeds.
type pendingEvent struct {
	eventType string
	detail    map[string]any
}

// ProcessReport applies one report to the driver's state machine. An error
// return means the caller should leave the message for redelivery.
func (p *Processor) ProcessReport(ctx context.Context, rep model.PositionReport) error {
	p.Bus.Emit(ctx, model.EventGPSReceived,
		map[string]any{"eventId": rep.EventID, "driverId": rep.DriverID}, "logistics.ingest")

	var lastErr error
	for attempt := 0; attempt < p.Retries; attempt++ {
		err := p.evaluateOnce(ctx, rep)
		if err == nil {
			return nil
		}
		if errors.Is(err, state.ErrVersionConflict) {
			metrics.VersionConflicts.Inc()
			lastErr = err
			continue
		}
		return err
	}
	return fmt.Errorf("driver %s: conditional write kept losing: %w", rep.DriverID, lastErr)
}

func (p *Processor) evaluateOnce(ctx context.Context, rep model.PositionReport) error {
	st, err := p.loadState(ctx, rep.DriverID)
	if err != nil {
		return err
	}

	next := st
	next.LastLat = rep.Lat
	next.LastLng = rep.Lng
	next.LastUpdateAt = rep.Timestamp

	upd := state.Update{
		LastLat:      state.F64(rep.Lat),
		LastLng:      state.F64(rep.Lng),
		LastUpdateAt: state.Str(rep.Timestamp),
	}

	route, err := p.bindRoute(ctx, &next, &upd)
	if err != nil {
		return err
	}

	var pending []pendingEvent
	if route.RouteID != "" && len(route.Stops) > 0 {
		pending = p.evaluateGeofence(rep, route, &next, &upd)
	}

	wctx, cancel := p.bounded(ctx)
	_, err = p.States.ApplyVersioned(wctx, rep.DriverID, st.Version, upd)
	cancel()
	if err != nil {
		return err
	}
	for _, ev := range pending {
		metrics.Transitions.WithLabelValues(ev.eventType).Inc()
		p.Bus.Emit(ctx, ev.eventType, ev.detail, "logistics.detector")
	}
	return nil
}

// loadState fetches the driver's state, lazily defaulting to IDLE with
// version 0 on first contact.
func (p *Processor) loadState(ctx context.Context, driverID string) (model.DriverState, error) {
	ctx, cancel := p.bounded(ctx)
	defer cancel()
	st, err := p.States.Get(ctx, driverID)
	if errors.Is(err, state.ErrNotFound) {
		return model.NewDriverState(driverID), nil
	}
	if err != nil {
		return model.DriverState{}, fmt.Errorf("load state for %s: %w", driverID, err)
	}
	return st, nil
}

// bindRoute resolves the route the driver is working: the one already bound
// in state, else the TMS's current route for the driver (EN_ROUTE first,
// then earliest PLANNED). Finding none is a legitimate no-op.
func (p *Processor) bindRoute(ctx context.Context, next *model.DriverState, upd *state.Update) (model.Route, error) {
	ctx, cancel := p.bounded(ctx)
	defer cancel()
	if next.RouteID != "" {
		r, err := p.Routes.GetRoute(ctx, next.RouteID)
		if errors.Is(err, routes.ErrNotFound) {
			return model.Route{}, nil
		}
		if err != nil {
			return model.Route{}, fmt.Errorf("resolve route %s: %w", next.RouteID, err)
		}
		return r, nil
	}
	r, err := p.Routes.GetCurrentRouteForDriver(ctx, next.DriverID)
	if errors.Is(err, routes.ErrNotFound) {
		return model.Route{}, nil
	}
	if err != nil {
		return model.Route{}, fmt.Errorf("resolve current route for %s: %w", next.DriverID, err)
	}
	next.RouteID = r.RouteID
	next.CurrentStopIndex = 0
	next.Phase = model.PhaseEnroute
	upd.RouteID = state.Str(r.RouteID)
	upd.CurrentStopIndex = state.Int(0)
	upd.Phase = state.Str(model.PhaseEnroute)
	return r, nil
}

// evaluateGeofence runs the hysteresis counters and the single active
// transition branch for the current phase, mutating next/upd and returning
// the events to emit once the write lands.
func (p *Processor) evaluateGeofence(rep model.PositionReport, route model.Route, next *model.DriverState, upd *state.Update) []pendingEvent {
	idx := next.CurrentStopIndex
	if idx > len(route.Stops)-1 {
		idx = len(route.Stops) - 1
	}
	stop := route.Stops[idx]
	speed := rep.Speed()

	dist := geo.HaversineMeters(rep.Lat, rep.Lng, stop.Lat, stop.Lng)
	isInside := dist <= p.radiusFor(stop, next.Phase)

	// consecutive-run dwell counting: one contrary sample clears the
	// opposing run
	if isInside {
		next.InsideCount++
		next.OutsideCount = 0
	} else {
		next.OutsideCount++
		next.InsideCount = 0
	}
	upd.InsideCount = state.Int(next.InsideCount)
	upd.OutsideCount = state.Int(next.OutsideCount)

	if next.Phase != model.PhaseAtStop {
		arrived := isInside && speed <= p.Params.ArriveMaxSpeedKph && next.InsideCount >= p.Params.ArriveDwellPings
		if !arrived {
			return nil
		}
		next.Phase = model.PhaseAtStop
		next.ArrivedAt = rep.Timestamp
		next.OutsideCount = 0
		upd.Phase = state.Str(model.PhaseAtStop)
		upd.ArrivedAt = state.Str(rep.Timestamp)
		upd.OutsideCount = state.Int(0)
		eventType := model.EventArrivedDelivery
		if stop.Type == model.StopPickup {
			eventType = model.EventArrivedPickup
		}
		return []pendingEvent{{eventType: eventType, detail: map[string]any{
			"eventId": rep.EventID, "driverId": rep.DriverID, "routeId": next.RouteID,
			"stopId": stop.ID, "stopIndex": idx, "lat": rep.Lat, "lng": rep.Lng,
			"occurredAt": rep.Timestamp,
		}}}
	}

	departed := !isInside && speed >= p.Params.DepartMinSpeedKph && next.OutsideCount >= p.Params.DepartDwellPings
	if !departed {
		return nil
	}
	next.DepartedAt = rep.Timestamp
	next.InsideCount = 0
	upd.DepartedAt = state.Str(rep.Timestamp)
	upd.InsideCount = state.Int(0)
	if idx+1 < len(route.Stops) {
		next.CurrentStopIndex = idx + 1
		next.Phase = model.PhaseEnroute
		upd.CurrentStopIndex = state.Int(idx + 1)
		upd.Phase = state.Str(model.PhaseEnroute)
	} else {
		next.Phase = model.PhaseCompleted
		upd.Phase = state.Str(model.PhaseCompleted)
	}
	return []pendingEvent{{eventType: model.EventDepartedStop, detail: map[string]any{
		"eventId": rep.EventID, "driverId": rep.DriverID, "routeId": next.RouteID,
		"stopId": stop.ID, "stopIndex": idx, "occurredAt": rep.Timestamp,
	}}}
}

// radiusFor picks the geofence boundary for the phase: a tight entry radius
// while approaching, a looser exit radius while at the stop, so jitter at
// the boundary cannot flap the phase.
func (p *Processor) radiusFor(stop model.Stop, phase string) float64 {
	entry := stop.RadiusM
	if entry <= 0 {
		entry = p.Params.ArriveRadiusM
	}
	if phase != model.PhaseAtStop {
		return entry
	}
	exit := p.Params.DepartExitRadiusM
	if exit < entry {
		exit = entry
	}
	return exit
}

// bounded caps an external call so a hung dependency turns into a
// retryable failure instead of stalling the partition.
func (p *Processor) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.Timeout)
}
