package state

import (
	"context"
	"sync"

	"fleettrack/internal/model"
)

// Memory is the in-process Store used when no DATABASE_URL is set.
type Memory struct {
	mu      sync.Mutex
	drivers map[string]model.DriverState
}

func NewMemory() *Memory {
	return &Memory{drivers: map[string]model.DriverState{}}
}

func (m *Memory) Get(ctx context.Context, driverID string) (model.DriverState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.drivers[driverID]
	if !ok {
		return model.DriverState{}, ErrNotFound
	}
	return st, nil
}

func (m *Memory) Put(ctx context.Context, st model.DriverState) (model.DriverState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.drivers[st.DriverID]; ok {
		st.Version = cur.Version + 1
	} else {
		st.Version++
	}
	m.drivers[st.DriverID] = st
	return st, nil
}

func (m *Memory) Apply(ctx context.Context, driverID string, upd Update) (model.DriverState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.drivers[driverID]
	if !ok {
		cur = model.NewDriverState(driverID)
	}
	next := apply(cur, upd)
	next.Version = cur.Version + 1
	m.drivers[driverID] = next
	return next, nil
}

func (m *Memory) ApplyVersioned(ctx context.Context, driverID string, expected int64, upd Update) (model.DriverState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.drivers[driverID]
	if !ok {
		if expected != 0 {
			return model.DriverState{}, ErrVersionConflict
		}
		cur = model.NewDriverState(driverID)
	}
	if cur.Version != expected {
		return model.DriverState{}, ErrVersionConflict
	}
	next := apply(cur, upd)
	next.Version = cur.Version + 1
	m.drivers[driverID] = next
	return next, nil
}
