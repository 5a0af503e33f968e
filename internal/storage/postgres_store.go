package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/example/ride-lifecycle/internal/models"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Migrate executes every *.sql file in dir in lexical order.
func (p *PostgresStore) Migrate(ctx context.Context, dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	applied := make([]string, 0, len(files))
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return applied, err
		}
		if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
			return applied, fmt.Errorf("migration %s: %w", filepath.Base(f), err)
		}
		applied = append(applied, filepath.Base(f))
	}
	return applied, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

type rideRow struct {
	ID                 string          `db:"id"`
	RiderID            string          `db:"rider_id"`
	RiderName          string          `db:"rider_name"`
	DriverID           sql.NullString  `db:"driver_id"`
	DriverName         sql.NullString  `db:"driver_name"`
	PickupAddress      string          `db:"pickup_address"`
	PickupLat          sql.NullFloat64 `db:"pickup_lat"`
	PickupLon          sql.NullFloat64 `db:"pickup_lon"`
	DropoffAddress     string          `db:"dropoff_address"`
	DropoffLat         sql.NullFloat64 `db:"dropoff_lat"`
	DropoffLon         sql.NullFloat64 `db:"dropoff_lon"`
	Status             string          `db:"status"`
	RequestedAt        time.Time       `db:"requested_at"`
	PickUpAt           sql.NullTime    `db:"pick_up_at"`
	CompletedAt        sql.NullTime    `db:"completed_at"`
	CancelledAt        sql.NullTime    `db:"cancelled_at"`
	CancellationReason sql.NullString  `db:"cancellation_reason"`
	Fare               sql.NullFloat64 `db:"fare"`
	UpdatedAt          time.Time       `db:"updated_at"`
}

const rideColumns = `id, rider_id, rider_name, driver_id, driver_name,
	pickup_address, pickup_lat, pickup_lon, dropoff_address, dropoff_lat, dropoff_lon,
	status, requested_at, pick_up_at, completed_at, cancelled_at, cancellation_reason, fare, updated_at`

func (row rideRow) toModel() (*models.Ride, error) {
	status, err := models.ParseStatus(row.Status)
	if err != nil {
		return nil, fmt.Errorf("ride %s: %w", row.ID, err)
	}
	r := &models.Ride{
		ID:                 row.ID,
		Rider:              models.PartyRef{ID: row.RiderID, Name: row.RiderName},
		Pickup:             models.Location{Address: row.PickupAddress, Coord: coordFrom(row.PickupLat, row.PickupLon)},
		Dropoff:            models.Location{Address: row.DropoffAddress, Coord: coordFrom(row.DropoffLat, row.DropoffLon)},
		Status:             status,
		RequestedAt:        row.RequestedAt,
		PickUpAt:           timeFrom(row.PickUpAt),
		CompletedAt:        timeFrom(row.CompletedAt),
		CancelledAt:        timeFrom(row.CancelledAt),
		CancellationReason: row.CancellationReason.String,
		UpdatedAt:          row.UpdatedAt,
	}
	if row.DriverID.Valid {
		r.Driver = &models.PartyRef{ID: row.DriverID.String, Name: row.DriverName.String}
	}
	if row.Fare.Valid {
		f := row.Fare.Float64
		r.Fare = &f
	}
	return r, nil
}

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	plat, plon := coordArgs(r.Pickup.Coord)
	dlat, dlon := coordArgs(r.Dropoff.Coord)
	_, err := p.db.ExecContext(ctx, `INSERT INTO rides(id, rider_id, rider_name, pickup_address, pickup_lat, pickup_lon,
		dropoff_address, dropoff_lat, dropoff_lon, status, requested_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		r.ID, r.Rider.ID, r.Rider.Name, r.Pickup.Address, plat, plon,
		r.Dropoff.Address, dlat, dlon, r.Status.String(), r.RequestedAt, r.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	var row rideRow
	err := p.db.GetContext(ctx, &row, `SELECT `+rideColumns+` FROM rides WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// Transition relies on the WHERE status guard for compare-and-set and on the
// rides_one_active_per_driver partial index for the single-active-ride rule.
func (p *PostgresStore) Transition(ctx context.Context, t Transition) (*models.Ride, error) {
	var driverID, driverName *string
	if t.Driver != nil {
		driverID, driverName = &t.Driver.ID, &t.Driver.Name
	}
	var reason *string
	if t.Reason != "" {
		reason = &t.Reason
	}
	var row rideRow
	err := p.db.GetContext(ctx, &row, `UPDATE rides SET
			status = $1,
			driver_id = COALESCE($2, driver_id),
			driver_name = COALESCE($3, driver_name),
			pick_up_at = CASE WHEN $1 = 'ONGOING' THEN $4 ELSE pick_up_at END,
			completed_at = CASE WHEN $1 = 'COMPLETED' THEN $4 ELSE completed_at END,
			cancelled_at = CASE WHEN $1 = 'CANCELLED' THEN $4 ELSE cancelled_at END,
			cancellation_reason = COALESCE($5, cancellation_reason),
			fare = COALESCE($6, fare),
			updated_at = $4
		WHERE id = $7 AND status = $8
		RETURNING `+rideColumns,
		t.To.String(), driverID, driverName, t.At, reason, t.Fare, t.RideID, t.From.String())
	switch {
	case err == nil:
		return row.toModel()
	case isUniqueViolation(err):
		cur, gerr := p.GetRide(ctx, t.RideID)
		if gerr != nil {
			return nil, gerr
		}
		return cur, ErrDriverBusy
	case errors.Is(err, sql.ErrNoRows):
		cur, gerr := p.GetRide(ctx, t.RideID)
		if gerr != nil {
			return nil, gerr
		}
		return cur, ErrStatusConflict
	default:
		return nil, err
	}
}

func (p *PostgresStore) ListRides(ctx context.Context, q Query) ([]*models.Ride, error) {
	var (
		conds []string
		args  []any
	)
	if q.RiderID != "" {
		args = append(args, q.RiderID)
		conds = append(conds, fmt.Sprintf("rider_id = $%d", len(args)))
	}
	if q.DriverID != "" {
		args = append(args, q.DriverID)
		conds = append(conds, fmt.Sprintf("driver_id = $%d", len(args)))
	}
	if len(q.Statuses) > 0 {
		ss := make([]string, len(q.Statuses))
		for i, s := range q.Statuses {
			ss[i] = s.String()
		}
		args = append(args, pq.Array(ss))
		conds = append(conds, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	query := `SELECT ` + rideColumns + ` FROM rides`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY requested_at ASC, id ASC`

	var rows []rideRow
	if err := p.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]*models.Ride, 0, len(rows))
	for _, row := range rows {
		r, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func coordArgs(c *models.Coord) (*float64, *float64) {
	if c == nil {
		return nil, nil
	}
	lat, lon := c.Lat, c.Lon
	return &lat, &lon
}

func coordFrom(lat, lon sql.NullFloat64) *models.Coord {
	if !lat.Valid || !lon.Valid {
		return nil
	}
	return &models.Coord{Lat: lat.Float64, Lon: lon.Float64}
}

func timeFrom(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
