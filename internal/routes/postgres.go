package routes

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"fleettrack/internal/model"
)

// Postgres persists drivers, routes and stops.
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

func NewPostgresFromDB(db *sql.DB) *Postgres { return &Postgres{db: db} }

// DB exposes the handle so the state store can share the connection pool.
func (p *Postgres) DB() *sql.DB { return p.db }

// Migrate creates the TMS tables if missing (dev helper).
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS drivers (
    id   text PRIMARY KEY,
    name text NOT NULL
);
CREATE TABLE IF NOT EXISTS routes (
    id          text PRIMARY KEY,
    driver_id   text NOT NULL,
    shipment_id text,
    status      text NOT NULL,
    updated_at  text
);
CREATE TABLE IF NOT EXISTS route_stops (
    id        text PRIMARY KEY,
    route_id  text NOT NULL REFERENCES routes(id) ON DELETE CASCADE,
    type      text NOT NULL,
    name      text,
    sequence  int NOT NULL,
    lat       double precision NOT NULL,
    lng       double precision NOT NULL,
    radius_m  double precision NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS route_stops_route_idx ON route_stops(route_id, sequence);
CREATE INDEX IF NOT EXISTS routes_driver_idx ON routes(driver_id)`)
	return err
}

func (p *Postgres) CreateDriver(ctx context.Context, name string) (model.Driver, error) {
	d := model.Driver{ID: uuid.New().String(), Name: name}
	_, err := p.db.ExecContext(ctx, `INSERT INTO drivers (id, name) VALUES ($1,$2)`, d.ID, d.Name)
	if err != nil {
		return model.Driver{}, err
	}
	return d, nil
}

func (p *Postgres) GetDriver(ctx context.Context, id string) (model.Driver, error) {
	var d model.Driver
	err := p.db.QueryRowContext(ctx, `SELECT id, name FROM drivers WHERE id=$1`, id).Scan(&d.ID, &d.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Driver{}, ErrNotFound
	}
	return d, err
}

func (p *Postgres) CreateRoute(ctx context.Context, in CreateRouteInput) (model.Route, error) {
	if _, err := p.GetDriver(ctx, in.DriverID); err != nil {
		return model.Route{}, err
	}
	r := model.Route{
		RouteID:    uuid.New().String(),
		DriverID:   in.DriverID,
		ShipmentID: in.ShipmentID,
		Status:     model.RoutePlanned,
		UpdatedAt:  time.Now().UTC().Format(time.RFC3339),
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
	return p.UpsertRoute(ctx, r)
}

func (p *Postgres) UpsertRoute(ctx context.Context, r model.Route) (model.Route, error) {
	sortStops(r.Stops)
	if r.UpdatedAt == "" {
		r.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Route{}, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO routes (id, driver_id, shipment_id, status, updated_at) VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET driver_id=EXCLUDED.driver_id, shipment_id=EXCLUDED.shipment_id,
    status=EXCLUDED.status, updated_at=EXCLUDED.updated_at`,
		r.RouteID, r.DriverID, nullIfEmpty(r.ShipmentID), r.Status, r.UpdatedAt)
	if err != nil {
		return model.Route{}, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM route_stops WHERE route_id=$1`, r.RouteID); err != nil {
		return model.Route{}, err
	}
	for i := range r.Stops {
		s := &r.Stops[i]
		if s.ID == "" {
			s.ID = uuid.New().String()
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO route_stops (id, route_id, type, name, sequence, lat, lng, radius_m)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			s.ID, r.RouteID, s.Type, nullIfEmpty(s.Name), s.Sequence, s.Lat, s.Lng, s.RadiusM)
		if err != nil {
			return model.Route{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return model.Route{}, err
	}
	return r, nil
}

func (p *Postgres) SetStatus(ctx context.Context, routeID, status string) (model.Route, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE routes SET status=$2, updated_at=$3 WHERE id=$1`,
		routeID, status, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return model.Route{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Route{}, ErrNotFound
	}
	return p.GetRoute(ctx, routeID)
}

func (p *Postgres) GetRoute(ctx context.Context, routeID string) (model.Route, error) {
	var r model.Route
	err := p.db.QueryRowContext(ctx,
		`SELECT id, driver_id, COALESCE(shipment_id,''), status, COALESCE(updated_at,'') FROM routes WHERE id=$1`,
		routeID).Scan(&r.RouteID, &r.DriverID, &r.ShipmentID, &r.Status, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Route{}, ErrNotFound
	}
	if err != nil {
		return model.Route{}, err
	}
	r.Stops, err = p.stops(ctx, routeID)
	return r, err
}

func (p *Postgres) GetCurrentRouteForDriver(ctx context.Context, driverID string) (model.Route, error) {
	list, err := p.ListRoutesForDriver(ctx, driverID)
	if err != nil {
		return model.Route{}, err
	}
	r, ok := pickCurrent(list)
	if !ok {
		return model.Route{}, ErrNotFound
	}
	return r, nil
}

func (p *Postgres) ListRoutes(ctx context.Context) ([]model.Route, error) {
	return p.list(ctx, `SELECT id, driver_id, COALESCE(shipment_id,''), status, COALESCE(updated_at,'') FROM routes`)
}

func (p *Postgres) ListRoutesForDriver(ctx context.Context, driverID string) ([]model.Route, error) {
	return p.list(ctx,
		`SELECT id, driver_id, COALESCE(shipment_id,''), status, COALESCE(updated_at,'') FROM routes WHERE driver_id=$1`,
		driverID)
}

func (p *Postgres) list(ctx context.Context, query string, args ...any) ([]model.Route, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Route
	for rows.Next() {
		var r model.Route
		if err := rows.Scan(&r.RouteID, &r.DriverID, &r.ShipmentID, &r.Status, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Stops, err = p.stops(ctx, out[i].RouteID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (p *Postgres) stops(ctx context.Context, routeID string) ([]model.Stop, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, type, COALESCE(name,''), sequence, lat, lng, radius_m FROM route_stops WHERE route_id=$1 ORDER BY sequence`,
		routeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Stop
	for rows.Next() {
		var s model.Stop
		if err := rows.Scan(&s.ID, &s.Type, &s.Name, &s.Sequence, &s.Lat, &s.Lng, &s.RadiusM); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
