// Package state persists per-driver geofence state with optimistic
// versioning.
package state

import (
	"context"
	"errors"

	"fleettrack/internal/model"
)

var (
	ErrNotFound = errors.New("driver state not found")
	// ErrVersionConflict is returned when a conditional write loses the
	// race; callers re-read and retry.
	ErrVersionConflict = errors.New("driver state version conflict")
)

// Update names the fields a single write may touch. Nil means "leave
// unchanged", closing the lost-update hole of ad-hoc whole-record merges.
type Update struct {
	RouteID          *string
	CurrentStopIndex *int
	Phase            *string
	LastLat          *float64
	LastLng          *float64
	LastUpdateAt     *string
	ArrivedAt        *string
	DepartedAt       *string
	InsideCount      *int
	OutsideCount     *int
}

// Store is the DriverState persistence contract. Every successful write
// increments Version by exactly one.
type Store interface {
	Get(ctx context.Context, driverID string) (model.DriverState, error)
	// Put fully replaces (or creates) the record, bumping Version.
	Put(ctx context.Context, st model.DriverState) (model.DriverState, error)
	// Apply upserts the given fields unconditionally.
	Apply(ctx context.Context, driverID string, upd Update) (model.DriverState, error)
	// ApplyVersioned writes only if the stored Version still equals
	// expected, else ErrVersionConflict.
	ApplyVersioned(ctx context.Context, driverID string, expected int64, upd Update) (model.DriverState, error)
}

// apply merges upd into st without touching Version; the store impls own
// the increment.
func apply(st model.DriverState, upd Update) model.DriverState {
	if upd.RouteID != nil {
		st.RouteID = *upd.RouteID
	}
	if upd.CurrentStopIndex != nil {
		st.CurrentStopIndex = *upd.CurrentStopIndex
	}
	if upd.Phase != nil {
		st.Phase = *upd.Phase
	}
	if upd.LastLat != nil {
		st.LastLat = *upd.LastLat
	}
	if upd.LastLng != nil {
		st.LastLng = *upd.LastLng
	}
	if upd.LastUpdateAt != nil {
		st.LastUpdateAt = *upd.LastUpdateAt
	}
	if upd.ArrivedAt != nil {
		st.ArrivedAt = *upd.ArrivedAt
	}
	if upd.DepartedAt != nil {
		st.DepartedAt = *upd.DepartedAt
	}
	if upd.InsideCount != nil {
		st.InsideCount = *upd.InsideCount
	}
	if upd.OutsideCount != nil {
		st.OutsideCount = *upd.OutsideCount
	}
	return st
}

// Helper constructors for optional fields.
func Str(s string) *string   { return &s }
func Int(i int) *int         { return &i }
func F64(f float64) *float64 { return &f }
