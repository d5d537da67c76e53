package service

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/pharmstock/pharmstock-backend/internal/inventory/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/messaging"
)

// Adjustment types
const (
	AdjustmentAdd        = "ADD"
	AdjustmentConsume    = "CONSUME"
	AdjustmentAdjust     = "ADJUST"
	AdjustmentQuarantine = "QUARANTINE"
)

// AdjustInput is the payload for a single-batch stock adjustment
type AdjustInput struct {
	BatchID     string `json:"batch_id" validate:"required,uuid"`
	Type        string `json:"type" validate:"required,oneof=ADD CONSUME ADJUST QUARANTINE"`
	Quantity    int    `json:"quantity" validate:"gte=0"`
	Reason      string `json:"reason" validate:"required,max=500"`
	PerformedBy string `json:"-"`
}

// Adjust applies a single stock adjustment to one batch and recomputes the
// product aggregate in the same transaction.
//
//	ADD        quantity += n, status back to ACTIVE
//	CONSUME    quantity -= n, DEPLETED at zero, fails if n exceeds the batch
//	ADJUST     quantity = n (stock-take correction), status recomputed
//	QUARANTINE opens a quarantine episode; quantity untouched
func (s *BatchService) Adjust(ctx context.Context, input AdjustInput) (*repository.Batch, error) {
	if input.PerformedBy == "" {
		input.PerformedBy = "system"
	}

	if input.Type == AdjustmentQuarantine {
		record, err := s.quarantine.QuarantineBatch(ctx, QuarantineInput{
			BatchID:     input.BatchID,
			Reason:      input.Reason,
			PerformedBy: input.PerformedBy,
		})
		if err != nil {
			return nil, err
		}
		return s.batches.GetByID(ctx, record.BatchID)
	}

	if input.Type != AdjustmentAdd && input.Type != AdjustmentConsume && input.Type != AdjustmentAdjust {
		return nil, errors.BadRequest("unknown adjustment type: " + input.Type)
	}
	if input.Quantity <= 0 && input.Type != AdjustmentAdjust {
		return nil, errors.BadRequest("quantity must be positive")
	}
	if input.Quantity < 0 {
		return nil, errors.BadRequest("quantity must not be negative")
	}

	var batch *repository.Batch
	var product *repository.Product

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		var err error
		batch, err = s.batches.GetByIDForUpdate(ctx, tx, input.BatchID)
		if err != nil {
			return err
		}

		newQuantity, status, err := applyAdjustment(batch, input.Type, input.Quantity)
		if err != nil {
			return err
		}

		if err := s.batches.UpdateQuantityStatusTx(ctx, tx, batch.ID, newQuantity, status); err != nil {
			return err
		}
		batch.Quantity = newQuantity
		batch.Status = status

		product, err = s.recomputeProductQuantityTx(ctx, tx, batch.ProductID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publisher.StockAdjusted(ctx, messaging.StockAdjustedEvent{
		ProductID:      batch.ProductID,
		BatchID:        batch.ID,
		BatchNumber:    batch.BatchNumber,
		AdjustmentType: input.Type,
		Quantity:       input.Quantity,
		NewQuantity:    batch.Quantity,
		PerformedBy:    input.PerformedBy,
		Reason:         input.Reason,
	})
	s.notifyIfLow(ctx, product)

	s.logger.Info().
		Str("batch_id", batch.ID).
		Str("type", input.Type).
		Int("quantity", input.Quantity).
		Int("new_quantity", batch.Quantity).
		Msg("batch adjusted")

	return batch, nil
}

// applyAdjustment computes the post-adjustment quantity and status for a
// batch without mutating it. Pure so the state machine is testable without a
// database.
func applyAdjustment(batch *repository.Batch, adjustmentType string, quantity int) (int, string, error) {
	switch adjustmentType {
	case AdjustmentAdd:
		newQuantity := batch.Quantity + quantity
		if newQuantity > batch.InitialQuantity {
			return 0, "", errors.BadRequest("quantity would exceed the batch's initial quantity")
		}
		return newQuantity, repository.BatchStatusActive, nil
	case AdjustmentConsume:
		if quantity > batch.Quantity {
			return 0, "", errors.InsufficientBatchStock(batch.ID, quantity, batch.Quantity)
		}
		newQuantity := batch.Quantity - quantity
		if newQuantity == 0 {
			return newQuantity, repository.BatchStatusDepleted, nil
		}
		return newQuantity, batch.Status, nil
	case AdjustmentAdjust:
		if quantity > batch.InitialQuantity {
			return 0, "", errors.BadRequest("quantity would exceed the batch's initial quantity")
		}
		if quantity == 0 {
			return 0, repository.BatchStatusDepleted, nil
		}
		return quantity, repository.BatchStatusActive, nil
	default:
		return 0, "", errors.BadRequest("unknown adjustment type: " + adjustmentType)
	}
}
