package consumers

import (
	"context"
	"fmt"

	"github.com/pharmstock/pharmstock-backend/internal/inventory/service"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
	"github.com/pharmstock/pharmstock-backend/pkg/messaging"
)

// receiptQueue buffers accepted goods receipts for the batch engine
const receiptQueue = "inventory.receipts"

// ReceiptConsumer turns accepted goods-receipt lines from the procurement
// workflow into new batches. This is the sole external entry point that
// increases stock outside manual ADD adjustments.
type ReceiptConsumer struct {
	consumer *messaging.Consumer
	batches  *service.BatchService
	logger   *logger.Logger
}

// NewReceiptConsumer creates a consumer bound to the procurement exchange
func NewReceiptConsumer(rmq *messaging.RabbitMQ, batches *service.BatchService, log *logger.Logger) (*ReceiptConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, receiptQueue, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create receipt consumer: %w", err)
	}

	if err := consumer.Subscribe(messaging.ExchangeProcurementEvents, messaging.EventReceiptAccepted); err != nil {
		return nil, fmt.Errorf("failed to subscribe receipt consumer: %w", err)
	}

	rc := &ReceiptConsumer{
		consumer: consumer,
		batches:  batches,
		logger:   log.WithComponent("receipt-consumer"),
	}
	consumer.RegisterHandler(messaging.EventReceiptAccepted, rc.handleReceiptAccepted)

	return rc, nil
}

// Start begins consuming in the background until the context is cancelled
func (c *ReceiptConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

// handleReceiptAccepted creates a batch for an accepted receipt line. A
// duplicate batch number means the receipt was already processed (redelivery
// after an ack loss); it is acked without side effects.
func (c *ReceiptConsumer) handleReceiptAccepted(ctx context.Context, event *messaging.Event) error {
	var payload messaging.ReceiptAcceptedEvent
	if err := event.UnmarshalData(&payload); err != nil {
		return fmt.Errorf("failed to unmarshal receipt event: %w", err)
	}

	batch, err := c.batches.CreateBatch(ctx, service.CreateBatchInput{
		ProductID:       payload.ProductID,
		BatchNumber:     payload.BatchNumber,
		Quantity:        payload.Quantity,
		ExpiryDate:      payload.ExpiryDate,
		ManufactureDate: payload.ManufactureDate,
		CostPerUnit:     payload.CostPerUnit,
	})
	if err != nil {
		if errors.Is(err, errors.ErrConflict) {
			c.logger.Warn().
				Str("receipt_id", payload.ReceiptID).
				Str("product_id", payload.ProductID).
				Str("batch_number", payload.BatchNumber).
				Msg("batch already exists for receipt, skipping")
			return nil
		}
		return fmt.Errorf("failed to create batch for receipt %s: %w", payload.ReceiptID, err)
	}

	c.logger.Info().
		Str("receipt_id", payload.ReceiptID).
		Str("batch_id", batch.ID).
		Int("quantity", batch.Quantity).
		Msg("batch created from goods receipt")

	return nil
}
