package api

import (
	"fmt"
	"time"

	"fleettrack/internal/model"
)

func validateReport(rep *model.PositionReport) error {
	if len(rep.EventID) < 8 {
		return fmt.Errorf("eventId must be at least 8 characters")
	}
	if rep.DriverID == "" {
		return fmt.Errorf("driverId is required")
	}
	if _, err := time.Parse(time.RFC3339, rep.Timestamp); err != nil {
		return fmt.Errorf("timestamp must be RFC3339: %v", err)
	}
	if rep.Lat < -90 || rep.Lat > 90 {
		return fmt.Errorf("lat must be within [-90, 90]")
	}
	if rep.Lng < -180 || rep.Lng > 180 {
		return fmt.Errorf("lng must be within [-180, 180]")
	}
	if rep.SpeedKph != nil && *rep.SpeedKph < 0 {
		return fmt.Errorf("speedKph must be >= 0")
	}
	return nil
}

func validateRouteUpdate(r *model.Route) error {
	if r.RouteID == "" {
		return fmt.Errorf("routeId is required")
	}
	if r.DriverID == "" {
		return fmt.Errorf("driverId is required")
	}
	switch r.Status {
	case "", model.RoutePlanned, model.RouteEnRoute, model.RouteCompleted, model.RouteCancelled:
	default:
		return fmt.Errorf("unknown status: %s", r.Status)
	}
	for i, s := range r.Stops {
		if s.Type != model.StopPickup && s.Type != model.StopDelivery {
			return fmt.Errorf("stops[%d].type must be PICKUP or DELIVERY", i)
		}
		if s.Lat < -90 || s.Lat > 90 || s.Lng < -180 || s.Lng > 180 {
			return fmt.Errorf("stops[%d] has out-of-range coordinates", i)
		}
		if s.RadiusM < 0 {
			return fmt.Errorf("stops[%d].radiusM must be >= 0", i)
		}
	}
	return nil
}
