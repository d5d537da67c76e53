package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/pharmstock/pharmstock-backend/pkg/database"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
)

// Batch statuses
const (
	BatchStatusActive      = "ACTIVE"
	BatchStatusDepleted    = "DEPLETED"
	BatchStatusExpired     = "EXPIRED"
	BatchStatusQuarantined = "QUARANTINED"
)

// Batch represents one manufactured lot of one product. A batch is never
// physically deleted; the audit trail survives through status transitions.
type Batch struct {
	ID              string              `db:"id" json:"id"`
	ProductID       string              `db:"product_id" json:"product_id"`
	BatchNumber     string              `db:"batch_number" json:"batch_number"`
	Quantity        int                 `db:"quantity" json:"quantity"`
	InitialQuantity int                 `db:"initial_quantity" json:"initial_quantity"`
	ExpiryDate      time.Time           `db:"expiry_date" json:"expiry_date"`
	ManufactureDate *time.Time          `db:"manufacture_date" json:"manufacture_date,omitempty"`
	CostPerUnit     decimal.NullDecimal `db:"cost_per_unit" json:"cost_per_unit,omitempty"`
	Status          string              `db:"status" json:"status"`
	CreatedAt       time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time           `db:"updated_at" json:"updated_at"`
}

// Value returns the monetary value of the remaining quantity. A missing
// cost-per-unit counts as zero.
func (b *Batch) Value() decimal.Decimal {
	if !b.CostPerUnit.Valid {
		return decimal.Zero
	}
	return b.CostPerUnit.Decimal.Mul(decimal.NewFromInt(int64(b.Quantity)))
}

// DaysUntilExpiry returns the number of whole days between asOf and the
// batch's expiry date. Negative for expired batches.
func (b *Batch) DaysUntilExpiry(asOf time.Time) int {
	return int(b.ExpiryDate.Sub(asOf.Truncate(24*time.Hour)).Hours() / 24)
}

// Consumption is one row of the per-batch consumption ledger returned by the
// FIFO engine for audit and traceability.
type Consumption struct {
	ID          string    `db:"id" json:"id"`
	ProductID   string    `db:"product_id" json:"product_id"`
	BatchID     string    `db:"batch_id" json:"batch_id"`
	BatchNumber string    `db:"batch_number" json:"batch_number"`
	Consumed    int       `db:"consumed" json:"consumed"`
	Remaining   int       `db:"remaining" json:"remaining"`
	Reason      string    `db:"reason" json:"reason"`
	PerformedBy string    `db:"performed_by" json:"performed_by"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// BatchRepository handles batch persistence
type BatchRepository struct {
	db *database.DB
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db *database.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create creates a new batch
func (r *BatchRepository) Create(ctx context.Context, batch *Batch) error {
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}
	if batch.Status == "" {
		batch.Status = BatchStatusActive
	}
	if batch.InitialQuantity == 0 {
		batch.InitialQuantity = batch.Quantity
	}

	query := `
		INSERT INTO batches (
			id, product_id, batch_number, quantity, initial_quantity,
			expiry_date, manufacture_date, cost_per_unit, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		batch.ID, batch.ProductID, batch.BatchNumber, batch.Quantity,
		batch.InitialQuantity, batch.ExpiryDate, batch.ManufactureDate,
		batch.CostPerUnit, batch.Status,
	).Scan(&batch.CreatedAt, &batch.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// CreateTx creates a new batch inside an existing transaction
func (r *BatchRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, batch *Batch) error {
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}
	if batch.Status == "" {
		batch.Status = BatchStatusActive
	}
	if batch.InitialQuantity == 0 {
		batch.InitialQuantity = batch.Quantity
	}

	query := `
		INSERT INTO batches (
			id, product_id, batch_number, quantity, initial_quantity,
			expiry_date, manufacture_date, cost_per_unit, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`

	err := tx.QueryRowxContext(ctx, query,
		batch.ID, batch.ProductID, batch.BatchNumber, batch.Quantity,
		batch.InitialQuantity, batch.ExpiryDate, batch.ManufactureDate,
		batch.CostPerUnit, batch.Status,
	).Scan(&batch.CreatedAt, &batch.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// GetByID gets a batch by ID
func (r *BatchRepository) GetByID(ctx context.Context, id string) (*Batch, error) {
	var batch Batch
	query := `SELECT * FROM batches WHERE id = $1`
	if err := r.db.GetContext(ctx, &batch, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("batch")
		}
		return nil, err
	}
	return &batch, nil
}

// GetByProductAndNumber gets a batch by its (product, batch number) identity
func (r *BatchRepository) GetByProductAndNumber(ctx context.Context, productID, batchNumber string) (*Batch, error) {
	var batch Batch
	query := `SELECT * FROM batches WHERE product_id = $1 AND batch_number = $2`
	if err := r.db.GetContext(ctx, &batch, query, productID, batchNumber); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("batch")
		}
		return nil, err
	}
	return &batch, nil
}

// ListByProduct lists all batches for a product, earliest expiry first
func (r *BatchRepository) ListByProduct(ctx context.Context, productID string) ([]*Batch, error) {
	var batches []*Batch
	query := `
		SELECT * FROM batches
		WHERE product_id = $1
		ORDER BY expiry_date, id
	`
	if err := r.db.SelectContext(ctx, &batches, query, productID); err != nil {
		return nil, err
	}
	return batches, nil
}

// ListActiveByProductForUpdate lists a product's ACTIVE batches in FIFO order
// (ascending expiry date, id as deterministic tie-break) and locks the rows
// for the duration of the transaction. The lock prevents two concurrent
// consumptions from reading the same quantities and both committing.
func (r *BatchRepository) ListActiveByProductForUpdate(ctx context.Context, tx *sqlx.Tx, productID string) ([]*Batch, error) {
	var batches []*Batch
	query := `
		SELECT * FROM batches
		WHERE product_id = $1 AND status = $2
		ORDER BY expiry_date, id
		FOR UPDATE
	`
	if err := tx.SelectContext(ctx, &batches, query, productID, BatchStatusActive); err != nil {
		return nil, err
	}
	return batches, nil
}

// GetByIDForUpdate gets a batch by ID and locks its row
func (r *BatchRepository) GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*Batch, error) {
	var batch Batch
	query := `SELECT * FROM batches WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &batch, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("batch")
		}
		return nil, err
	}
	return &batch, nil
}

// UpdateQuantityStatusTx writes a batch's quantity and status inside an
// existing transaction.
func (r *BatchRepository) UpdateQuantityStatusTx(ctx context.Context, tx *sqlx.Tx, batchID string, quantity int, status string) error {
	query := `UPDATE batches SET quantity = $2, status = $3, updated_at = NOW() WHERE id = $1`
	result, err := tx.ExecContext(ctx, query, batchID, quantity, status)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("batch")
	}

	return nil
}

// UpdateStatusTx writes a batch's status inside an existing transaction
func (r *BatchRepository) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, batchID string, status string) error {
	query := `UPDATE batches SET status = $2, updated_at = NOW() WHERE id = $1`
	result, err := tx.ExecContext(ctx, query, batchID, status)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("batch")
	}

	return nil
}

// SumOnHandByProductTx recomputes a product's aggregate quantity as the sum
// over its ACTIVE and QUARANTINED batches. Quarantined stock is still
// on-hand, just unsellable.
func (r *BatchRepository) SumOnHandByProductTx(ctx context.Context, tx *sqlx.Tx, productID string) (int, error) {
	var total sql.NullInt64
	query := `
		SELECT SUM(quantity) FROM batches
		WHERE product_id = $1 AND status IN ($2, $3)
	`
	if err := tx.GetContext(ctx, &total, query, productID, BatchStatusActive, BatchStatusQuarantined); err != nil {
		return 0, err
	}
	if !total.Valid {
		return 0, nil
	}
	return int(total.Int64), nil
}

// ListAllActive lists all ACTIVE batches across products, earliest expiry first
func (r *BatchRepository) ListAllActive(ctx context.Context) ([]*Batch, error) {
	var batches []*Batch
	query := `SELECT * FROM batches WHERE status = $1 ORDER BY expiry_date, id`
	if err := r.db.SelectContext(ctx, &batches, query, BatchStatusActive); err != nil {
		return nil, err
	}
	return batches, nil
}

// ListExpiredActive lists ACTIVE batches whose expiry date is before asOf.
// Used by the auto-quarantine sweep; already EXPIRED or QUARANTINED batches
// are excluded so the sweep stays idempotent.
func (r *BatchRepository) ListExpiredActive(ctx context.Context, asOf time.Time) ([]*Batch, error) {
	var batches []*Batch
	query := `
		SELECT * FROM batches
		WHERE status = $1 AND expiry_date < $2
		ORDER BY expiry_date, id
	`
	if err := r.db.SelectContext(ctx, &batches, query, BatchStatusActive, asOf); err != nil {
		return nil, err
	}
	return batches, nil
}

// ListExpiringWithin lists ACTIVE batches expiring within the given number of
// days from asOf (exclusive of already-expired batches)
func (r *BatchRepository) ListExpiringWithin(ctx context.Context, asOf time.Time, days int) ([]*Batch, error) {
	var batches []*Batch
	query := `
		SELECT * FROM batches
		WHERE status = $1 AND quantity > 0
		AND expiry_date >= $2 AND expiry_date <= $2 + INTERVAL '1 day' * $3
		ORDER BY expiry_date, id
	`
	if err := r.db.SelectContext(ctx, &batches, query, BatchStatusActive, asOf, days); err != nil {
		return nil, err
	}
	return batches, nil
}

// InsertConsumptionTx appends one consumption ledger row inside an existing
// transaction.
func (r *BatchRepository) InsertConsumptionTx(ctx context.Context, tx *sqlx.Tx, c *Consumption) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}

	query := `
		INSERT INTO batch_consumptions (
			id, product_id, batch_id, batch_number, consumed, remaining, reason, performed_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	return tx.QueryRowxContext(ctx, query,
		c.ID, c.ProductID, c.BatchID, c.BatchNumber, c.Consumed, c.Remaining,
		c.Reason, c.PerformedBy,
	).Scan(&c.CreatedAt)
}

// ListConsumptionsByProduct lists the consumption ledger for a product,
// newest first
func (r *BatchRepository) ListConsumptionsByProduct(ctx context.Context, productID string, page, perPage int) ([]*Consumption, int64, error) {
	var total int64
	countQuery := `SELECT COUNT(*) FROM batch_consumptions WHERE product_id = $1`
	if err := r.db.GetContext(ctx, &total, countQuery, productID); err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage
	var ledger []*Consumption
	query := `
		SELECT * FROM batch_consumptions
		WHERE product_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	if err := r.db.SelectContext(ctx, &ledger, query, productID, perPage, offset); err != nil {
		return nil, 0, err
	}

	return ledger, total, nil
}
