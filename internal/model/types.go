package model

// Core domain types shared across the ingress, queue and processor.

// Stop types.
const (
	StopPickup   = "PICKUP"
	StopDelivery = "DELIVERY"
)

// Route statuses as reported by the TMS.
const (
	RoutePlanned   = "PLANNED"
	RouteEnRoute   = "EN_ROUTE"
	RouteCompleted = "COMPLETED"
	RouteCancelled = "CANCELLED"
)

// Driver phases. IDLE is the initial phase; COMPLETED is terminal for the
// bound route (binding a new route moves the driver back to ENROUTE).
const (
	PhaseIdle      = "IDLE"
	PhaseEnroute   = "ENROUTE"
	PhaseAtStop    = "AT_STOP"
	PhaseCompleted = "COMPLETED"
)

// Domain event types published on the event bus.
const (
	EventGPSReceived     = "gps.received"
	EventTMSUpdated      = "tms.updated"
	EventArrivedPickup   = "driver.arrived.pickup"
	EventArrivedDelivery = "driver.arrived.delivery"
	EventDepartedStop    = "driver.departed.stop"
)

// PositionReport is a single raw GPS ping as accepted at the ingress.
// SpeedKph is a pointer so an absent field is distinguishable from 0.
type PositionReport struct {
	EventID   string   `json:"eventId"`
	DriverID  string   `json:"driverId"`
	Timestamp string   `json:"timestamp"`
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	SpeedKph  *float64 `json:"speedKph,omitempty"`
}

// Speed returns the reported speed, treating an absent field as 0.
func (p PositionReport) Speed() float64 {
	if p.SpeedKph == nil {
		return 0
	}
	return *p.SpeedKph
}

// Stop is one geofenced waypoint on a route, ordered by Sequence.
type Stop struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	Name     string  `json:"name,omitempty"`
	Sequence int     `json:"sequence"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	RadiusM  float64 `json:"radiusM,omitempty"`
}

// Route is a read-only snapshot owned by the TMS. Stops are kept sorted by
// Sequence.
type Route struct {
	RouteID    string `json:"routeId"`
	DriverID   string `json:"driverId"`
	ShipmentID string `json:"shipmentId,omitempty"`
	Status     string `json:"status"`
	Stops      []Stop `json:"stops"`
	UpdatedAt  string `json:"updatedAt,omitempty"`
}

// DriverState is the per-vehicle state machine record. It is owned
// exclusively by the geofence processor; Version increases on every
// persisted mutation.
type DriverState struct {
	DriverID         string  `json:"driverId"`
	RouteID          string  `json:"routeId,omitempty"`
	CurrentStopIndex int     `json:"currentStopIndex"`
	Phase            string  `json:"phase"`
	LastLat          float64 `json:"lastLat"`
	LastLng          float64 `json:"lastLng"`
	LastUpdateAt     string  `json:"lastUpdateAt,omitempty"`
	ArrivedAt        string  `json:"arrivedAt,omitempty"`
	DepartedAt       string  `json:"departedAt,omitempty"`
	InsideCount      int     `json:"insideCount"`
	OutsideCount     int     `json:"outsideCount"`
	Version          int64   `json:"version"`
}

// NewDriverState returns the lazily-created default state for a driver.
func NewDriverState(driverID string) DriverState {
	return DriverState{DriverID: driverID, Phase: PhaseIdle}
}

// Envelope is the queue message wrapper: {type:"gps", payload, receivedAt}.
type Envelope struct {
	Type       string         `json:"type"`
	Payload    PositionReport `json:"payload"`
	ReceivedAt string         `json:"receivedAt"`
}

// Driver is a TMS-owned driver record.
type Driver struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
