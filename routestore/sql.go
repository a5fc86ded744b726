package routestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/theoremus-urban-solutions/departures/model"
)

// Schema creates the routes table. It is valid for PostgreSQL and MySQL.
const Schema = `CREATE TABLE IF NOT EXISTS routes (
	id                VARCHAR(64) PRIMARY KEY,
	name              VARCHAR(255) NOT NULL,
	origin_id         VARCHAR(64) NOT NULL DEFAULT '',
	origin_name       VARCHAR(255) NOT NULL DEFAULT '',
	origin_lat        DOUBLE PRECISION NULL,
	origin_lon        DOUBLE PRECISION NULL,
	destination_id    VARCHAR(64) NOT NULL DEFAULT '',
	destination_name  VARCHAR(255) NOT NULL DEFAULT '',
	destination_lat   DOUBLE PRECISION NULL,
	destination_lon   DOUBLE PRECISION NULL,
	favorite          BOOLEAN NOT NULL DEFAULT FALSE,
	refresh_interval  VARCHAR(16) NOT NULL DEFAULT 'default',
	usage_count       INTEGER NOT NULL DEFAULT 0,
	last_used_at      TIMESTAMP NULL
)`

const selectRoutes = `SELECT id, name, origin_id, origin_name, origin_lat, origin_lon,
	destination_id, destination_name, destination_lat, destination_lon,
	favorite, refresh_interval, usage_count, last_used_at FROM routes`

type routeRow struct {
	ID              string          `db:"id"`
	Name            string          `db:"name"`
	OriginID        string          `db:"origin_id"`
	OriginName      string          `db:"origin_name"`
	OriginLat       sql.NullFloat64 `db:"origin_lat"`
	OriginLon       sql.NullFloat64 `db:"origin_lon"`
	DestinationID   string          `db:"destination_id"`
	DestinationName string          `db:"destination_name"`
	DestinationLat  sql.NullFloat64 `db:"destination_lat"`
	DestinationLon  sql.NullFloat64 `db:"destination_lon"`
	Favorite        bool            `db:"favorite"`
	RefreshInterval string          `db:"refresh_interval"`
	UsageCount      int             `db:"usage_count"`
	LastUsedAt      sql.NullTime    `db:"last_used_at"`
}

func rowPlace(id, name string, lat, lon sql.NullFloat64) model.Place {
	p := model.Place{ID: id, Name: name}
	if lat.Valid && lon.Valid {
		la, lo := lat.Float64, lon.Float64
		p.Latitude, p.Longitude = &la, &lo
	}
	return p
}

func (r routeRow) route() (model.Route, error) {
	iv, err := model.ParseRefreshInterval(r.RefreshInterval)
	if err != nil {
		return model.Route{}, fmt.Errorf("route %s: %w", r.ID, err)
	}
	out := model.Route{
		ID:              r.ID,
		Name:            r.Name,
		Origin:          rowPlace(r.OriginID, r.OriginName, r.OriginLat, r.OriginLon),
		Destination:     rowPlace(r.DestinationID, r.DestinationName, r.DestinationLat, r.DestinationLon),
		Favorite:        r.Favorite,
		RefreshInterval: iv,
		UsageCount:      r.UsageCount,
	}
	if r.LastUsedAt.Valid {
		out.LastUsedAt = r.LastUsedAt.Time
	}
	return out, nil
}

// SQLStore reads routes from a SQL database.
type SQLStore struct {
	db *sqlx.DB
}

var _ Repository = (*SQLStore)(nil)

// OpenSQL connects with driver "postgres" or "mysql". MySQL DSNs need
// parseTime=true.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	switch driver {
	case "postgres", "mysql":
	default:
		return nil, fmt.Errorf("unsupported route store driver %q", driver)
	}
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	return NewSQLStore(db), nil
}

func NewSQLStore(db *sqlx.DB) *SQLStore { return &SQLStore{db: db} }

// Migrate creates the routes table if needed.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create routes table: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) List(ctx context.Context) ([]model.Route, error) {
	var rows []routeRow
	if err := s.db.SelectContext(ctx, &rows, selectRoutes+" ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	out := make([]model.Route, 0, len(rows))
	for _, row := range rows {
		r, err := row.route()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (model.Route, error) {
	var row routeRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(selectRoutes+" WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Route{}, fmt.Errorf("%w: %s", ErrRouteNotFound, id)
	}
	if err != nil {
		return model.Route{}, fmt.Errorf("get route %s: %w", id, err)
	}
	return row.route()
}

// IncrementUsage relies on the database to serialise concurrent updates of
// the same row.
func (s *SQLStore) IncrementUsage(ctx context.Context, id string, at time.Time) (model.Route, error) {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE routes SET usage_count = usage_count + 1, last_used_at = ? WHERE id = ?"),
		at.UTC(), id)
	if err != nil {
		return model.Route{}, fmt.Errorf("increment usage of %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return model.Route{}, fmt.Errorf("%w: %s", ErrRouteNotFound, id)
	}
	return s.Get(ctx, id)
}
