package routes

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleettrack/internal/model"
)

// Memory is the in-process Store used when no DATABASE_URL is set.
type Memory struct {
	mu      sync.Mutex
	drivers map[string]model.Driver
	routes  map[string]model.Route
	byDrv   map[string][]string // driverId -> route ids, insertion order
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		drivers: map[string]model.Driver{},
		routes:  map[string]model.Route{},
		byDrv:   map[string][]string{},
		now:     time.Now,
	}
}

func (m *Memory) CreateDriver(ctx context.Context, name string) (model.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := model.Driver{ID: uuid.New().String(), Name: name}
	m.drivers[d.ID] = d
	return d, nil
}

func (m *Memory) GetDriver(ctx context.Context, id string) (model.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return model.Driver{}, ErrNotFound
	}
	return d, nil
}

func (m *Memory) CreateRoute(ctx context.Context, in CreateRouteInput) (model.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drivers[in.DriverID]; !ok {
		return model.Route{}, ErrNotFound
	}
	r := model.Route{
		RouteID:    uuid.New().String(),
		DriverID:   in.DriverID,
		ShipmentID: in.ShipmentID,
		Status:     model.RoutePlanned,
		UpdatedAt:  m.now().UTC().Format(time.RFC3339),
	}
	for i, s := range in.Stops {
		seq := s.Sequence
		if seq == 0 {
			seq = i + 1
		}
		r.Stops = append(r.Stops, model.Stop{
			ID: uuid.New().String(), Type: s.Type, Name: s.Name, Sequence: seq,
			Lat: s.Lat, Lng: s.Lng, RadiusM: s.RadiusM,
		})
	}
	sortStops(r.Stops)
	m.routes[r.RouteID] = r
	m.byDrv[r.DriverID] = append(m.byDrv[r.DriverID], r.RouteID)
	return r, nil
}

func (m *Memory) UpsertRoute(ctx context.Context, r model.Route) (model.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sortStops(r.Stops)
	if r.UpdatedAt == "" {
		r.UpdatedAt = m.now().UTC().Format(time.RFC3339)
	}
	if old, ok := m.routes[r.RouteID]; !ok {
		m.byDrv[r.DriverID] = append(m.byDrv[r.DriverID], r.RouteID)
	} else if old.DriverID != r.DriverID {
		m.byDrv[old.DriverID] = remove(m.byDrv[old.DriverID], r.RouteID)
		m.byDrv[r.DriverID] = append(m.byDrv[r.DriverID], r.RouteID)
	}
	m.routes[r.RouteID] = r
	return r, nil
}

func (m *Memory) SetStatus(ctx context.Context, routeID, status string) (model.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[routeID]
	if !ok {
		return model.Route{}, ErrNotFound
	}
	r.Status = status
	r.UpdatedAt = m.now().UTC().Format(time.RFC3339)
	m.routes[routeID] = r
	return r, nil
}

func (m *Memory) GetRoute(ctx context.Context, routeID string) (model.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[routeID]
	if !ok {
		return model.Route{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) GetCurrentRouteForDriver(ctx context.Context, driverID string) (model.Route, error) {
	m.mu.Lock()
	list := make([]model.Route, 0, len(m.byDrv[driverID]))
	for _, id := range m.byDrv[driverID] {
		list = append(list, m.routes[id])
	}
	m.mu.Unlock()
	r, ok := pickCurrent(list)
	if !ok {
		return model.Route{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) ListRoutes(ctx context.Context) ([]model.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Route, 0, len(m.routes))
	for _, r := range m.routes {
		out = append(out, r)
	}
	return out, nil
}

func (m *Memory) ListRoutesForDriver(ctx context.Context, driverID string) ([]model.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Route, 0, len(m.byDrv[driverID]))
	for _, id := range m.byDrv[driverID] {
		out = append(out, m.routes[id])
	}
	return out, nil
}

func remove(ids []string, id string) []string {
	for i := range ids {
		if ids[i] == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
