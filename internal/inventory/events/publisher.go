package events

import (
	"context"

	"github.com/pharmstock/pharmstock-backend/pkg/logger"
	"github.com/pharmstock/pharmstock-backend/pkg/messaging"
)

// Publisher publishes inventory domain events. All publishes are best
// effort: a broker failure is logged and swallowed so the database commit
// that preceded it stands.
type Publisher struct {
	publisher *messaging.Publisher
	logger    *logger.Logger
}

// NewPublisher creates a new inventory event publisher
func NewPublisher(publisher *messaging.Publisher, log *logger.Logger) *Publisher {
	return &Publisher{
		publisher: publisher,
		logger:    log.WithComponent("inventory-events"),
	}
}

// BatchCreated publishes an inventory.batch.created event
func (p *Publisher) BatchCreated(ctx context.Context, payload messaging.BatchCreatedEvent) {
	p.publish(ctx, messaging.EventBatchCreated, payload)
}

// StockConsumed publishes an inventory.stock.consumed event
func (p *Publisher) StockConsumed(ctx context.Context, payload messaging.StockConsumedEvent) {
	p.publish(ctx, messaging.EventStockConsumed, payload)
}

// StockAdjusted publishes an inventory.stock.adjusted event
func (p *Publisher) StockAdjusted(ctx context.Context, payload messaging.StockAdjustedEvent) {
	p.publish(ctx, messaging.EventStockAdjusted, payload)
}

// StockLow publishes an inventory.stock.low event when a product's on-hand
// quantity drops below its minimum
func (p *Publisher) StockLow(ctx context.Context, payload messaging.StockLowEvent) {
	p.publish(ctx, messaging.EventStockLow, payload)
}

// BatchExpiring publishes an inventory.batch.expiring event
func (p *Publisher) BatchExpiring(ctx context.Context, payload messaging.BatchExpiringEvent) {
	p.publish(ctx, messaging.EventBatchExpiring, payload)
}

// QuarantineCreated publishes an inventory.quarantine.created event
func (p *Publisher) QuarantineCreated(ctx context.Context, payload messaging.QuarantineCreatedEvent) {
	p.publish(ctx, messaging.EventQuarantineCreated, payload)
}

// QuarantineClosed publishes an inventory.quarantine.closed event
func (p *Publisher) QuarantineClosed(ctx context.Context, payload messaging.QuarantineClosedEvent) {
	p.publish(ctx, messaging.EventQuarantineClosed, payload)
}

// SnapshotCaptured publishes an inventory.snapshot.captured event
func (p *Publisher) SnapshotCaptured(ctx context.Context, payload messaging.SnapshotCapturedEvent) {
	p.publish(ctx, messaging.EventSnapshotCaptured, payload)
}

func (p *Publisher) publish(ctx context.Context, eventType string, data interface{}) {
	if p.publisher == nil {
		return
	}

	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.WithError(err).Error().Str("event_type", eventType).Msg("failed to publish event")
	}
}
