package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/pharmstock/pharmstock-backend/internal/inventory/events"
	"github.com/pharmstock/pharmstock-backend/internal/inventory/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/database"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
	"github.com/pharmstock/pharmstock-backend/pkg/messaging"
)

// BatchService owns the batch lifecycle: creation from goods receipts or
// manual entry, FIFO consumption, and single-batch adjustments.
type BatchService struct {
	db         *database.DB
	products   *repository.ProductRepository
	batches    *repository.BatchRepository
	quarantine *QuarantineService
	publisher  *events.Publisher
	logger     *logger.Logger
}

// NewBatchService creates a new batch service
func NewBatchService(
	db *database.DB,
	products *repository.ProductRepository,
	batches *repository.BatchRepository,
	quarantine *QuarantineService,
	publisher *events.Publisher,
	log *logger.Logger,
) *BatchService {
	return &BatchService{
		db:         db,
		products:   products,
		batches:    batches,
		quarantine: quarantine,
		publisher:  publisher,
		logger:     log.WithComponent("batch-service"),
	}
}

// CreateBatchInput is the payload for batch creation, whether from a goods
// receipt hand-off or manual entry.
type CreateBatchInput struct {
	ProductID       string           `json:"product_id" validate:"required,uuid"`
	BatchNumber     string           `json:"batch_number" validate:"required,max=100"`
	Quantity        int              `json:"quantity" validate:"required,gt=0"`
	ExpiryDate      time.Time        `json:"expiry_date" validate:"required"`
	ManufactureDate *time.Time       `json:"manufacture_date,omitempty"`
	CostPerUnit     *decimal.Decimal `json:"cost_per_unit,omitempty"`
}

// CreateBatch creates a new ACTIVE batch and recomputes the product's
// aggregate on-hand quantity. Batch numbers are unique per product; a
// duplicate fails with a conflict rather than merging quantities.
func (s *BatchService) CreateBatch(ctx context.Context, input CreateBatchInput) (*repository.Batch, error) {
	if input.Quantity <= 0 {
		return nil, errors.BadRequest("quantity must be positive")
	}
	if input.ExpiryDate.IsZero() {
		return nil, errors.BadRequest("expiry date is required")
	}
	if input.CostPerUnit != nil && input.CostPerUnit.IsNegative() {
		return nil, errors.BadRequest("cost per unit must not be negative")
	}

	product, err := s.products.GetByID(ctx, input.ProductID)
	if err != nil {
		return nil, err
	}

	batch := &repository.Batch{
		ProductID:       input.ProductID,
		BatchNumber:     input.BatchNumber,
		Quantity:        input.Quantity,
		InitialQuantity: input.Quantity,
		ExpiryDate:      input.ExpiryDate,
		ManufactureDate: input.ManufactureDate,
		Status:          repository.BatchStatusActive,
	}
	if input.CostPerUnit != nil {
		batch.CostPerUnit = decimal.NewNullDecimal(*input.CostPerUnit)
	} else if product.CostPerUnit.Valid {
		batch.CostPerUnit = product.CostPerUnit
	}

	err = s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := s.batches.CreateTx(ctx, tx, batch); err != nil {
			return err
		}
		_, err := s.recomputeProductQuantityTx(ctx, tx, batch.ProductID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publisher.BatchCreated(ctx, messaging.BatchCreatedEvent{
		BatchID:     batch.ID,
		ProductID:   product.ID,
		ProductName: product.Name,
		BatchNumber: batch.BatchNumber,
		Quantity:    batch.Quantity,
		ExpiryDate:  batch.ExpiryDate,
	})

	s.logger.Info().
		Str("batch_id", batch.ID).
		Str("product_id", batch.ProductID).
		Str("batch_number", batch.BatchNumber).
		Int("quantity", batch.Quantity).
		Msg("batch created")

	return batch, nil
}

// GetBatch gets a batch by ID
func (s *BatchService) GetBatch(ctx context.Context, id string) (*repository.Batch, error) {
	return s.batches.GetByID(ctx, id)
}

// ListBatches lists a product's batches, earliest expiry first
func (s *BatchService) ListBatches(ctx context.Context, productID string) ([]*repository.Batch, error) {
	if _, err := s.products.GetByID(ctx, productID); err != nil {
		return nil, err
	}
	return s.batches.ListByProduct(ctx, productID)
}

// ListExpiring lists ACTIVE batches expiring within the given number of days
func (s *BatchService) ListExpiring(ctx context.Context, days int) ([]*repository.Batch, error) {
	if days <= 0 {
		return nil, errors.BadRequest("days must be positive")
	}
	return s.batches.ListExpiringWithin(ctx, time.Now().UTC(), days)
}

// ListConsumptions lists the consumption ledger for a product, newest first
func (s *BatchService) ListConsumptions(ctx context.Context, productID string, page, perPage int) ([]*repository.Consumption, int64, error) {
	return s.batches.ListConsumptionsByProduct(ctx, productID, page, perPage)
}

// recomputeProductQuantityTx recomputes the product aggregate as the sum over
// ACTIVE and QUARANTINED batches and writes it back to the product record.
// Returns the updated product so callers can run the low-stock check after
// commit.
func (s *BatchService) recomputeProductQuantityTx(ctx context.Context, tx *sqlx.Tx, productID string) (*repository.Product, error) {
	total, err := s.batches.SumOnHandByProductTx(ctx, tx, productID)
	if err != nil {
		return nil, err
	}
	if err := s.products.SetQuantityOnHandTx(ctx, tx, productID, total); err != nil {
		return nil, err
	}

	product, err := s.products.GetByIDTx(ctx, tx, productID)
	if err != nil {
		return nil, err
	}
	product.QuantityOnHand = total
	return product, nil
}

// notifyIfLow publishes a stock.low event when a product's aggregate has
// fallen below its configured minimum.
func (s *BatchService) notifyIfLow(ctx context.Context, product *repository.Product) {
	if product.MinStock <= 0 || product.QuantityOnHand >= product.MinStock {
		return
	}
	s.publisher.StockLow(ctx, messaging.StockLowEvent{
		ProductID:    product.ID,
		ProductName:  product.Name,
		CurrentStock: product.QuantityOnHand,
		MinStock:     product.MinStock,
	})
}
