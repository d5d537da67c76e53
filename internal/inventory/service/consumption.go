package service

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/pharmstock/pharmstock-backend/internal/inventory/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/messaging"
)

// ConsumeInput is the payload for a FIFO stock-out
type ConsumeInput struct {
	ProductID   string `json:"product_id" validate:"required,uuid"`
	Quantity    int    `json:"quantity" validate:"required,gt=0"`
	Reason      string `json:"reason" validate:"required,max=500"`
	PerformedBy string `json:"-"`
}

// ConsumeResult reports how a consumption was allocated across batches
type ConsumeResult struct {
	ProductID      string                    `json:"product_id"`
	Requested      int                       `json:"requested"`
	QuantityOnHand int                       `json:"quantity_on_hand"`
	Ledger         []*repository.Consumption `json:"ledger"`
}

// batchAllocation is one planned deduction against a single batch
type batchAllocation struct {
	batch    *repository.Batch
	consumed int
}

// planAllocation allocates the requested quantity across batches in the
// order given, which callers must have sorted earliest-expiry-first. It
// mutates nothing; the caller applies the plan. Fails with insufficient
// stock when the batches cannot cover the request.
func planAllocation(batches []*repository.Batch, requested int) ([]batchAllocation, error) {
	available := 0
	for _, b := range batches {
		available += b.Quantity
	}
	if available < requested {
		return nil, errors.InsufficientStock(requested, available)
	}

	var plan []batchAllocation
	remaining := requested
	for _, b := range batches {
		if remaining == 0 {
			break
		}
		if b.Quantity == 0 {
			continue
		}
		take := b.Quantity
		if take > remaining {
			take = remaining
		}
		plan = append(plan, batchAllocation{batch: b, consumed: take})
		remaining -= take
	}

	return plan, nil
}

// Consume deducts the requested quantity from the product's ACTIVE batches in
// FIFO (earliest-expiry-first) order. The allocation is all-or-nothing: if
// total availability is below the request, no batch is touched. The batch
// rows are locked for the duration of the transaction so two concurrent
// consumptions cannot both commit against the same quantities.
func (s *BatchService) Consume(ctx context.Context, input ConsumeInput) (*ConsumeResult, error) {
	if input.Quantity <= 0 {
		return nil, errors.BadRequest("quantity must be positive")
	}
	if input.PerformedBy == "" {
		input.PerformedBy = "system"
	}

	product, err := s.products.GetByID(ctx, input.ProductID)
	if err != nil {
		return nil, err
	}

	result := &ConsumeResult{
		ProductID: input.ProductID,
		Requested: input.Quantity,
	}

	err = s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		batches, err := s.batches.ListActiveByProductForUpdate(ctx, tx, input.ProductID)
		if err != nil {
			return err
		}

		plan, err := planAllocation(batches, input.Quantity)
		if err != nil {
			return err
		}

		for _, alloc := range plan {
			newQuantity := alloc.batch.Quantity - alloc.consumed
			status := repository.BatchStatusActive
			if newQuantity == 0 {
				status = repository.BatchStatusDepleted
			}

			if err := s.batches.UpdateQuantityStatusTx(ctx, tx, alloc.batch.ID, newQuantity, status); err != nil {
				return err
			}

			entry := &repository.Consumption{
				ProductID:   input.ProductID,
				BatchID:     alloc.batch.ID,
				BatchNumber: alloc.batch.BatchNumber,
				Consumed:    alloc.consumed,
				Remaining:   newQuantity,
				Reason:      input.Reason,
				PerformedBy: input.PerformedBy,
			}
			if err := s.batches.InsertConsumptionTx(ctx, tx, entry); err != nil {
				return err
			}
			result.Ledger = append(result.Ledger, entry)
		}

		updated, err := s.recomputeProductQuantityTx(ctx, tx, input.ProductID)
		if err != nil {
			return err
		}
		result.QuantityOnHand = updated.QuantityOnHand
		product = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publisher.StockConsumed(ctx, messaging.StockConsumedEvent{
		ProductID:   product.ID,
		ProductName: product.Name,
		Quantity:    input.Quantity,
		BatchCount:  len(result.Ledger),
		Reason:      input.Reason,
		PerformedBy: input.PerformedBy,
	})
	s.notifyIfLow(ctx, product)

	s.logger.Info().
		Str("product_id", input.ProductID).
		Int("quantity", input.Quantity).
		Int("batches", len(result.Ledger)).
		Msg("stock consumed")

	return result, nil
}
