// Package routes holds the TMS-owned route/driver records and the
// read-only resolver the geofence processor binds routes through.
package routes

import (
	"context"
	"errors"
	"sort"

	"fleettrack/internal/model"
)

var ErrNotFound = errors.New("not found")

// Resolver is the processor's read-only view. Absence of a route is not an
// error condition for callers; they treat ErrNotFound as "not yet
// assigned".
type Resolver interface {
	GetRoute(ctx context.Context, routeID string) (model.Route, error)
	GetCurrentRouteForDriver(ctx context.Context, driverID string) (model.Route, error)
}

// Store is the full TMS surface: the resolver plus the CRUD used by the
// HTTP handlers and the TMS webhook.
type Store interface {
	Resolver
	CreateDriver(ctx context.Context, name string) (model.Driver, error)
	GetDriver(ctx context.Context, id string) (model.Driver, error)
	CreateRoute(ctx context.Context, in CreateRouteInput) (model.Route, error)
	// UpsertRoute replaces the stored snapshot wholesale (TMS webhook).
	UpsertRoute(ctx context.Context, r model.Route) (model.Route, error)
	SetStatus(ctx context.Context, routeID, status string) (model.Route, error)
	ListRoutes(ctx context.Context) ([]model.Route, error)
	ListRoutesForDriver(ctx context.Context, driverID string) ([]model.Route, error)
}

// CreateRouteInput is the POST /v1/routes payload.
type CreateRouteInput struct {
	DriverID   string      `json:"driverId"`
	ShipmentID string      `json:"shipmentId,omitempty"`
	Stops      []StopInput `json:"stops"`
}

type StopInput struct {
	Type     string  `json:"type"`
	Name     string  `json:"name,omitempty"`
	Sequence int     `json:"sequence,omitempty"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	RadiusM  float64 `json:"radiusM,omitempty"`
}

// pickCurrent applies the binding precedence: an EN_ROUTE route wins; else
// the PLANNED route with the earliest updatedAt; COMPLETED and CANCELLED
// are ignored.
func pickCurrent(list []model.Route) (model.Route, bool) {
	var planned []model.Route
	for _, r := range list {
		switch r.Status {
		case model.RouteEnRoute:
			return r, true
		case model.RoutePlanned:
			planned = append(planned, r)
		}
	}
	if len(planned) == 0 {
		return model.Route{}, false
	}
	sort.SliceStable(planned, func(i, j int) bool {
		return planned[i].UpdatedAt < planned[j].UpdatedAt
	})
	return planned[0], true
}

// sortStops orders stops by sequence in place.
func sortStops(stops []model.Stop) {
	sort.SliceStable(stops, func(i, j int) bool {
		return stops[i].Sequence < stops[j].Sequence
	})
}
