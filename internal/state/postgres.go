package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"fleettrack/internal/model"
)

// Postgres keeps one row per driver in driver_states and relies on a
// version-conditional UPDATE for the optimistic path.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// NewPostgresFromDB wraps an existing handle (shared with the route store).
func NewPostgresFromDB(db *sql.DB) *Postgres { return &Postgres{db: db} }

// Migrate creates the driver_states table if missing (dev helper).
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS driver_states (
    driver_id          text PRIMARY KEY,
    route_id           text,
    current_stop_index int NOT NULL DEFAULT 0,
    phase              text NOT NULL DEFAULT 'IDLE',
    last_lat           double precision NOT NULL DEFAULT 0,
    last_lng           double precision NOT NULL DEFAULT 0,
    last_update_at     text,
    arrived_at         text,
    departed_at        text,
    inside_count       int NOT NULL DEFAULT 0,
    outside_count      int NOT NULL DEFAULT 0,
    version            bigint NOT NULL DEFAULT 0
)`)
	return err
}

const stateColumns = `driver_id, COALESCE(route_id,''), current_stop_index, phase, last_lat, last_lng,
    COALESCE(last_update_at,''), COALESCE(arrived_at,''), COALESCE(departed_at,''), inside_count, outside_count, version`

func (p *Postgres) Get(ctx context.Context, driverID string) (model.DriverState, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+stateColumns+` FROM driver_states WHERE driver_id=$1`, driverID)
	return scanState(row)
}

func (p *Postgres) Put(ctx context.Context, st model.DriverState) (model.DriverState, error) {
	row := p.db.QueryRowContext(ctx, `
INSERT INTO driver_states (driver_id, route_id, current_stop_index, phase, last_lat, last_lng,
    last_update_at, arrived_at, departed_at, inside_count, outside_count, version)
VALUES ($1, NULLIF($2,''), $3, $4, $5, $6, NULLIF($7,''), NULLIF($8,''), NULLIF($9,''), $10, $11, 1)
ON CONFLICT (driver_id) DO UPDATE SET
    route_id=EXCLUDED.route_id, current_stop_index=EXCLUDED.current_stop_index, phase=EXCLUDED.phase,
    last_lat=EXCLUDED.last_lat, last_lng=EXCLUDED.last_lng, last_update_at=EXCLUDED.last_update_at,
    arrived_at=EXCLUDED.arrived_at, departed_at=EXCLUDED.departed_at,
    inside_count=EXCLUDED.inside_count, outside_count=EXCLUDED.outside_count,
    version=driver_states.version+1
RETURNING `+stateColumns,
		st.DriverID, st.RouteID, st.CurrentStopIndex, st.Phase, st.LastLat, st.LastLng,
		st.LastUpdateAt, st.ArrivedAt, st.DepartedAt, st.InsideCount, st.OutsideCount)
	return scanState(row)
}

func (p *Postgres) Apply(ctx context.Context, driverID string, upd Update) (model.DriverState, error) {
	// read-modify-write inside a transaction with a row lock; the
	// unconditional path does not need a version check
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.DriverState{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+stateColumns+` FROM driver_states WHERE driver_id=$1 FOR UPDATE`, driverID)
	cur, err := scanState(row)
	if errors.Is(err, ErrNotFound) {
		cur = model.NewDriverState(driverID)
	} else if err != nil {
		return model.DriverState{}, err
	}
	next := apply(cur, upd)
	next.Version = cur.Version + 1
	if err := upsertState(ctx, tx, next); err != nil {
		return model.DriverState{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.DriverState{}, err
	}
	return next, nil
}

func (p *Postgres) ApplyVersioned(ctx context.Context, driverID string, expected int64, upd Update) (model.DriverState, error) {
	if expected == 0 {
		// first write for this driver: creation must be conditional too
		next := apply(model.NewDriverState(driverID), upd)
		next.Version = 1
		res, err := p.db.ExecContext(ctx, `
INSERT INTO driver_states (driver_id, route_id, current_stop_index, phase, last_lat, last_lng,
    last_update_at, arrived_at, departed_at, inside_count, outside_count, version)
VALUES ($1, NULLIF($2,''), $3, $4, $5, $6, NULLIF($7,''), NULLIF($8,''), NULLIF($9,''), $10, $11, 1)
ON CONFLICT (driver_id) DO NOTHING`,
			next.DriverID, next.RouteID, next.CurrentStopIndex, next.Phase, next.LastLat, next.LastLng,
			next.LastUpdateAt, next.ArrivedAt, next.DepartedAt, next.InsideCount, next.OutsideCount)
		if err != nil {
			return model.DriverState{}, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return model.DriverState{}, ErrVersionConflict
		}
		return next, nil
	}

	sets := []string{"version = version + 1"}
	args := []any{driverID, expected}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if upd.RouteID != nil {
		add("route_id", *upd.RouteID)
	}
	if upd.CurrentStopIndex != nil {
		add("current_stop_index", *upd.CurrentStopIndex)
	}
	if upd.Phase != nil {
		add("phase", *upd.Phase)
	}
	if upd.LastLat != nil {
		add("last_lat", *upd.LastLat)
	}
	if upd.LastLng != nil {
		add("last_lng", *upd.LastLng)
	}
	if upd.LastUpdateAt != nil {
		add("last_update_at", *upd.LastUpdateAt)
	}
	if upd.ArrivedAt != nil {
		add("arrived_at", *upd.ArrivedAt)
	}
	if upd.DepartedAt != nil {
		add("departed_at", *upd.DepartedAt)
	}
	if upd.InsideCount != nil {
		add("inside_count", *upd.InsideCount)
	}
	if upd.OutsideCount != nil {
		add("outside_count", *upd.OutsideCount)
	}
	row := p.db.QueryRowContext(ctx, `
UPDATE driver_states SET `+strings.Join(sets, ", ")+`
WHERE driver_id=$1 AND version=$2
RETURNING `+stateColumns, args...)
	st, err := scanState(row)
	if errors.Is(err, ErrNotFound) {
		return model.DriverState{}, ErrVersionConflict
	}
	return st, err
}

func upsertState(ctx context.Context, tx *sql.Tx, st model.DriverState) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO driver_states (driver_id, route_id, current_stop_index, phase, last_lat, last_lng,
    last_update_at, arrived_at, departed_at, inside_count, outside_count, version)
VALUES ($1, NULLIF($2,''), $3, $4, $5, $6, NULLIF($7,''), NULLIF($8,''), NULLIF($9,''), $10, $11, $12)
ON CONFLICT (driver_id) DO UPDATE SET
    route_id=EXCLUDED.route_id, current_stop_index=EXCLUDED.current_stop_index, phase=EXCLUDED.phase,
    last_lat=EXCLUDED.last_lat, last_lng=EXCLUDED.last_lng, last_update_at=EXCLUDED.last_update_at,
    arrived_at=EXCLUDED.arrived_at, departed_at=EXCLUDED.departed_at,
    inside_count=EXCLUDED.inside_count, outside_count=EXCLUDED.outside_count, version=EXCLUDED.version`,
		st.DriverID, st.RouteID, st.CurrentStopIndex, st.Phase, st.LastLat, st.LastLng,
		st.LastUpdateAt, st.ArrivedAt, st.DepartedAt, st.InsideCount, st.OutsideCount, st.Version)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (model.DriverState, error) {
	var st model.DriverState
	err := row.Scan(&st.DriverID, &st.RouteID, &st.CurrentStopIndex, &st.Phase, &st.LastLat, &st.LastLng,
		&st.LastUpdateAt, &st.ArrivedAt, &st.DepartedAt, &st.InsideCount, &st.OutsideCount, &st.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DriverState{}, ErrNotFound
	}
	if err != nil {
		return model.DriverState{}, err
	}
	return st, nil
}
