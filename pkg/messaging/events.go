package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	// Batch lifecycle events
	EventBatchCreated  = "inventory.batch.created"
	EventStockConsumed = "inventory.stock.consumed"
	EventStockAdjusted = "inventory.stock.adjusted"
	EventStockLow      = "inventory.stock.low"
	EventBatchExpiring = "inventory.batch.expiring"

	// Quarantine events
	EventQuarantineCreated = "inventory.quarantine.created"
	EventQuarantineClosed  = "inventory.quarantine.closed"

	// Analytics events
	EventSnapshotCaptured = "inventory.snapshot.captured"

	// Inbound events from the procurement workflow
	EventReceiptAccepted = "procurement.receipt.accepted"
)

// Exchange names
const (
	ExchangeInventoryEvents   = "inventory.events"
	ExchangeProcurementEvents = "procurement.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Batch Events
//
// Event payloads carry the stable parameter set the notification layer renders
// into user-facing messages (product name, batch number, quantity, days until
// expiry, reason). The core never formats or delivers messages itself.

// BatchCreatedEvent is published when a batch is created from a goods receipt
// or manual entry
type BatchCreatedEvent struct {
	BatchID     string    `json:"batch_id"`
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name"`
	BatchNumber string    `json:"batch_number"`
	Quantity    int       `json:"quantity"`
	ExpiryDate  time.Time `json:"expiry_date"`
}

// StockConsumedEvent is published after a successful FIFO consumption
type StockConsumedEvent struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	BatchCount  int    `json:"batch_count"`
	Reason      string `json:"reason"`
	PerformedBy string `json:"performed_by"`
}

// StockAdjustedEvent is published when a single batch is adjusted
type StockAdjustedEvent struct {
	ProductID      string `json:"product_id"`
	BatchID        string `json:"batch_id"`
	BatchNumber    string `json:"batch_number"`
	AdjustmentType string `json:"adjustment_type"`
	Quantity       int    `json:"quantity"`
	NewQuantity    int    `json:"new_quantity"`
	PerformedBy    string `json:"performed_by"`
	Reason         string `json:"reason"`
}

// StockLowEvent is published when a product's aggregate quantity falls below
// its minimum stock level
type StockLowEvent struct {
	ProductID    string `json:"product_id"`
	ProductName  string `json:"product_name"`
	CurrentStock int    `json:"current_stock"`
	MinStock     int    `json:"min_stock"`
}

// BatchExpiringEvent is published when a batch is nearing expiry
type BatchExpiringEvent struct {
	ProductID       string    `json:"product_id"`
	ProductName     string    `json:"product_name"`
	BatchID         string    `json:"batch_id"`
	BatchNumber     string    `json:"batch_number"`
	ExpiryDate      time.Time `json:"expiry_date"`
	DaysUntilExpiry int       `json:"days_until_expiry"`
	Quantity        int       `json:"quantity"`
}

// Quarantine Events

// QuarantineCreatedEvent is published when a quarantine episode opens
type QuarantineCreatedEvent struct {
	QuarantineID  string          `json:"quarantine_id"`
	BatchID       string          `json:"batch_id"`
	BatchNumber   string          `json:"batch_number"`
	ProductID     string          `json:"product_id"`
	ProductName   string          `json:"product_name"`
	Quantity      int             `json:"quantity"`
	Reason        string          `json:"reason"`
	EstimatedLoss decimal.Decimal `json:"estimated_loss"`
	PerformedBy   string          `json:"performed_by"`
}

// QuarantineClosedEvent is published when a quarantine episode is resolved
type QuarantineClosedEvent struct {
	QuarantineID string `json:"quarantine_id"`
	BatchID      string `json:"batch_id"`
	BatchNumber  string `json:"batch_number"`
	ProductID    string `json:"product_id"`
	ProductName  string `json:"product_name"`
	Action       string `json:"action"`
	PerformedBy  string `json:"performed_by"`
}

// Analytics Events

// SnapshotCapturedEvent is published after a daily expiry snapshot is stored
type SnapshotCapturedEvent struct {
	SnapshotDate   string `json:"snapshot_date"`
	ExpiredCount   int    `json:"expired_count"`
	Expiring30Days int    `json:"expiring_30_days"`
	TrendDirection string `json:"trend_direction"`
}

// Inbound Events

// ReceiptAcceptedEvent is consumed from the procurement workflow when a goods
// receipt line is accepted. This is the sole external entry point that
// increases batch quantity outside manual ADD adjustments.
type ReceiptAcceptedEvent struct {
	ReceiptID       string           `json:"receipt_id"`
	ProductID       string           `json:"product_id"`
	BatchNumber     string           `json:"batch_number"`
	Quantity        int              `json:"quantity"`
	ExpiryDate      time.Time        `json:"expiry_date"`
	ManufactureDate *time.Time       `json:"manufacture_date,omitempty"`
	CostPerUnit     *decimal.Decimal `json:"cost_per_unit,omitempty"`
	AcceptedBy      string           `json:"accepted_by"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), time.Now().Nanosecond()%10000)
}
