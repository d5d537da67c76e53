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

// Quarantine record statuses
const (
	QuarantineStatusPendingReview = "PENDING_REVIEW"
	QuarantineStatusDisposed      = "DISPOSED"
	QuarantineStatusReturned      = "RETURNED"
	QuarantineStatusReleased      = "RELEASED"
)

// Quarantine actions
const (
	QuarantineActionDispose = "DISPOSE"
	QuarantineActionReturn  = "RETURN"
	QuarantineActionRelease = "RELEASE"
)

// QuarantineRecord tracks a batch pulled out of circulation pending review.
// A batch has at most one open (PENDING_REVIEW) record at a time; the
// database enforces this with a partial unique index.
type QuarantineRecord struct {
	ID            string              `db:"id" json:"id"`
	BatchID       string              `db:"batch_id" json:"batch_id"`
	ProductID     string              `db:"product_id" json:"product_id"`
	Quantity      int                 `db:"quantity" json:"quantity"`
	Reason        string              `db:"reason" json:"reason"`
	Status        string              `db:"status" json:"status"`
	EstimatedLoss decimal.NullDecimal `db:"estimated_loss" json:"estimated_loss,omitempty"`
	CreatedBy     string              `db:"created_by" json:"created_by"`
	ResolvedBy    *string             `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolvedAt    *time.Time          `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt     time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time           `db:"updated_at" json:"updated_at"`
}

// QuarantineAction is one append-only entry in a record's action history.
type QuarantineAction struct {
	ID          string    `db:"id" json:"id"`
	RecordID    string    `db:"record_id" json:"record_id"`
	Action      string    `db:"action" json:"action"`
	Notes       string    `db:"notes" json:"notes"`
	PerformedBy string    `db:"performed_by" json:"performed_by"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// QuarantineRepository handles quarantine persistence
type QuarantineRepository struct {
	db *database.DB
}

// NewQuarantineRepository creates a new quarantine repository
func NewQuarantineRepository(db *database.DB) *QuarantineRepository {
	return &QuarantineRepository{db: db}
}

// CreateTx creates a quarantine record inside an existing transaction. The
// partial unique index on open records turns a double-quarantine race into a
// typed conflict.
func (r *QuarantineRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, record *QuarantineRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	record.Status = QuarantineStatusPendingReview

	query := `
		INSERT INTO quarantine_records (
			id, batch_id, product_id, quantity, reason, status, estimated_loss, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`

	err := tx.QueryRowxContext(ctx, query,
		record.ID, record.BatchID, record.ProductID, record.Quantity,
		record.Reason, record.Status, record.EstimatedLoss, record.CreatedBy,
	).Scan(&record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err, "open_quarantine") {
			return errors.AlreadyQuarantined(record.BatchID)
		}
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// GetByID gets a quarantine record by ID
func (r *QuarantineRepository) GetByID(ctx context.Context, id string) (*QuarantineRecord, error) {
	var record QuarantineRecord
	query := `SELECT * FROM quarantine_records WHERE id = $1`
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("quarantine record")
		}
		return nil, err
	}
	return &record, nil
}

// GetByIDForUpdate gets a quarantine record by ID and locks its row
func (r *QuarantineRepository) GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*QuarantineRecord, error) {
	var record QuarantineRecord
	query := `SELECT * FROM quarantine_records WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &record, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("quarantine record")
		}
		return nil, err
	}
	return &record, nil
}

// GetOpenByBatch gets the open quarantine record for a batch, if any
func (r *QuarantineRepository) GetOpenByBatch(ctx context.Context, batchID string) (*QuarantineRecord, error) {
	var record QuarantineRecord
	query := `SELECT * FROM quarantine_records WHERE batch_id = $1 AND status = $2`
	if err := r.db.GetContext(ctx, &record, query, batchID, QuarantineStatusPendingReview); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("open quarantine record")
		}
		return nil, err
	}
	return &record, nil
}

// ResolveTx closes a quarantine record inside an existing transaction,
// stamping who resolved it and when. Only PENDING_REVIEW records can be
// resolved; the WHERE clause makes concurrent double-resolution a no-op for
// the loser, surfaced as a conflict.
func (r *QuarantineRepository) ResolveTx(ctx context.Context, tx *sqlx.Tx, recordID, status, resolvedBy string) error {
	query := `
		UPDATE quarantine_records
		SET status = $2, resolved_by = $3, resolved_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $4
	`
	result, err := tx.ExecContext(ctx, query, recordID, status, resolvedBy, QuarantineStatusPendingReview)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.Conflict("quarantine record is not pending review")
	}

	return nil
}

// AppendActionTx appends one action history entry inside an existing
// transaction.
func (r *QuarantineRepository) AppendActionTx(ctx context.Context, tx *sqlx.Tx, action *QuarantineAction) error {
	if action.ID == "" {
		action.ID = uuid.New().String()
	}

	query := `
		INSERT INTO quarantine_actions (id, record_id, action, notes, performed_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	return tx.QueryRowxContext(ctx, query,
		action.ID, action.RecordID, action.Action, action.Notes, action.PerformedBy,
	).Scan(&action.CreatedAt)
}

// ListActions lists a record's action history, oldest first
func (r *QuarantineRepository) ListActions(ctx context.Context, recordID string) ([]*QuarantineAction, error) {
	var actions []*QuarantineAction
	query := `SELECT * FROM quarantine_actions WHERE record_id = $1 ORDER BY created_at, id`
	if err := r.db.SelectContext(ctx, &actions, query, recordID); err != nil {
		return nil, err
	}
	return actions, nil
}

// List lists quarantine records, optionally filtered by status, newest first
func (r *QuarantineRepository) List(ctx context.Context, status string, page, perPage int) ([]*QuarantineRecord, int64, error) {
	countQuery := `SELECT COUNT(*) FROM quarantine_records WHERE ($1 = '' OR status = $1)`
	var total int64
	if err := r.db.GetContext(ctx, &total, countQuery, status); err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage
	var records []*QuarantineRecord
	query := `
		SELECT * FROM quarantine_records
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	if err := r.db.SelectContext(ctx, &records, query, status, perPage, offset); err != nil {
		return nil, 0, err
	}

	return records, total, nil
}

// SumOpenLoss totals the estimated loss across open quarantine records
func (r *QuarantineRepository) SumOpenLoss(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	query := `SELECT SUM(estimated_loss) FROM quarantine_records WHERE status = $1`
	if err := r.db.GetContext(ctx, &total, query, QuarantineStatusPendingReview); err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}
