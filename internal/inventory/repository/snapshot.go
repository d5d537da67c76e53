package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmstock/pharmstock-backend/pkg/database"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
)

// Trend directions
const (
	TrendImproving = "IMPROVING"
	TrendStable    = "STABLE"
	TrendWorsening = "WORSENING"
)

// TrendSnapshot is one immutable daily record of the expiry state of the
// whole inventory. At most one snapshot exists per calendar date.
type TrendSnapshot struct {
	ID               string          `db:"id" json:"id"`
	SnapshotDate     time.Time       `db:"snapshot_date" json:"snapshot_date"`
	ExpiredCount     int             `db:"expired_count" json:"expired_count"`
	Expiring7Count   int             `db:"expiring_7_count" json:"expiring_7_count"`
	Expiring30Count  int             `db:"expiring_30_count" json:"expiring_30_count"`
	Expiring60Count  int             `db:"expiring_60_count" json:"expiring_60_count"`
	Expiring90Count  int             `db:"expiring_90_count" json:"expiring_90_count"`
	ExpiredValue     decimal.Decimal `db:"expired_value" json:"expired_value"`
	Expiring7Value   decimal.Decimal `db:"expiring_7_value" json:"expiring_7_value"`
	Expiring30Value  decimal.Decimal `db:"expiring_30_value" json:"expiring_30_value"`
	Expiring60Value  decimal.Decimal `db:"expiring_60_value" json:"expiring_60_value"`
	Expiring90Value  decimal.Decimal `db:"expiring_90_value" json:"expiring_90_value"`
	AvgDaysToExpiry  float64         `db:"avg_days_to_expiry" json:"avg_days_to_expiry"`
	CriticalCategory *string         `db:"critical_category" json:"critical_category,omitempty"`
	CriticalCount    int             `db:"critical_count" json:"critical_count"`
	TrendDirection   string          `db:"trend_direction" json:"trend_direction"`
	TrendPercent     float64         `db:"trend_percent" json:"trend_percent"`
	ActiveBatchCount int             `db:"active_batch_count" json:"active_batch_count"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// SnapshotRepository handles trend snapshot persistence
type SnapshotRepository struct {
	db *database.DB
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *database.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Insert creates a snapshot for its date. If a snapshot for that date
// already exists (including a concurrent capture that won the race), the
// existing row is returned unchanged and inserted reports false.
func (r *SnapshotRepository) Insert(ctx context.Context, snapshot *TrendSnapshot) (*TrendSnapshot, bool, error) {
	if snapshot.ID == "" {
		snapshot.ID = uuid.New().String()
	}

	query := `
		INSERT INTO expiry_trend_snapshots (
			id, snapshot_date,
			expired_count, expiring_7_count, expiring_30_count, expiring_60_count, expiring_90_count,
			expired_value, expiring_7_value, expiring_30_value, expiring_60_value, expiring_90_value,
			avg_days_to_expiry, critical_category, critical_count,
			trend_direction, trend_percent, active_batch_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING created_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		snapshot.ID, snapshot.SnapshotDate,
		snapshot.ExpiredCount, snapshot.Expiring7Count, snapshot.Expiring30Count,
		snapshot.Expiring60Count, snapshot.Expiring90Count,
		snapshot.ExpiredValue, snapshot.Expiring7Value, snapshot.Expiring30Value,
		snapshot.Expiring60Value, snapshot.Expiring90Value,
		snapshot.AvgDaysToExpiry, snapshot.CriticalCategory, snapshot.CriticalCount,
		snapshot.TrendDirection, snapshot.TrendPercent, snapshot.ActiveBatchCount,
	).Scan(&snapshot.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err, "snapshot_date") {
			existing, getErr := r.GetByDate(ctx, snapshot.SnapshotDate)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		if appErr := database.MapPQError(err); appErr != nil {
			return nil, false, appErr
		}
		return nil, false, err
	}

	return snapshot, true, nil
}

// GetByDate gets the snapshot for a calendar date
func (r *SnapshotRepository) GetByDate(ctx context.Context, date time.Time) (*TrendSnapshot, error) {
	var snapshot TrendSnapshot
	query := `SELECT * FROM expiry_trend_snapshots WHERE snapshot_date = $1`
	if err := r.db.GetContext(ctx, &snapshot, query, dateOnly(date)); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("snapshot")
		}
		return nil, err
	}
	return &snapshot, nil
}

// ListRange lists snapshots with snapshot_date in [from, to], ascending
func (r *SnapshotRepository) ListRange(ctx context.Context, from, to time.Time) ([]*TrendSnapshot, error) {
	var snapshots []*TrendSnapshot
	query := `
		SELECT * FROM expiry_trend_snapshots
		WHERE snapshot_date >= $1 AND snapshot_date <= $2
		ORDER BY snapshot_date
	`
	if err := r.db.SelectContext(ctx, &snapshots, query, dateOnly(from), dateOnly(to)); err != nil {
		return nil, err
	}
	return snapshots, nil
}

// ListBefore lists up to limit snapshots with snapshot_date strictly before
// the given date, most recent first. Used to build the trend baseline.
func (r *SnapshotRepository) ListBefore(ctx context.Context, date time.Time, limit int) ([]*TrendSnapshot, error) {
	var snapshots []*TrendSnapshot
	query := `
		SELECT * FROM expiry_trend_snapshots
		WHERE snapshot_date < $1
		ORDER BY snapshot_date DESC
		LIMIT $2
	`
	if err := r.db.SelectContext(ctx, &snapshots, query, dateOnly(date), limit); err != nil {
		return nil, err
	}
	return snapshots, nil
}

// DeleteByDate removes the snapshot for a calendar date. Used only by
// recompute, which immediately writes a replacement.
func (r *SnapshotRepository) DeleteByDate(ctx context.Context, date time.Time) error {
	query := `DELETE FROM expiry_trend_snapshots WHERE snapshot_date = $1`
	_, err := r.db.ExecContext(ctx, query, dateOnly(date))
	return err
}

// Latest gets the most recent snapshot, if any
func (r *SnapshotRepository) Latest(ctx context.Context) (*TrendSnapshot, error) {
	var snapshot TrendSnapshot
	query := `SELECT * FROM expiry_trend_snapshots ORDER BY snapshot_date DESC LIMIT 1`
	if err := r.db.GetContext(ctx, &snapshot, query); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("snapshot")
		}
		return nil, err
	}
	return &snapshot, nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
