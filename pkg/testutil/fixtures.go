package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductFixture represents test product data
type ProductFixture struct {
	ID          string
	Name        string
	Category    string
	Unit        string
	CostPerUnit *decimal.Decimal
	MinStock    int
	IsActive    bool
}

// BatchFixture represents test batch data
type BatchFixture struct {
	ID              string
	ProductID       string
	BatchNumber     string
	Quantity        int
	InitialQuantity int
	ExpiryDate      time.Time
	CostPerUnit     *decimal.Decimal
	Status          string
}

// FixtureFactory creates test fixtures with sensible defaults
type FixtureFactory struct {
	sequence int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{sequence: 0}
}

// nextSeq returns the next sequence number for unique values
func (f *FixtureFactory) nextSeq() int {
	f.sequence++
	return f.sequence
}

// Product creates a product fixture with defaults
func (f *FixtureFactory) Product(opts ...func(*ProductFixture)) ProductFixture {
	seq := f.nextSeq()
	cost := decimal.NewFromFloat(4.50)

	product := ProductFixture{
		ID:          uuid.New().String(),
		Name:        fmt.Sprintf("Test Product %d", seq),
		Category:    "Analgesics",
		Unit:        "box",
		CostPerUnit: &cost,
		MinStock:    10,
		IsActive:    true,
	}

	for _, opt := range opts {
		opt(&product)
	}

	return product
}

// WithCategory sets the product category
func WithCategory(category string) func(*ProductFixture) {
	return func(p *ProductFixture) {
		p.Category = category
	}
}

// WithMinStock sets the product minimum stock level
func WithMinStock(min int) func(*ProductFixture) {
	return func(p *ProductFixture) {
		p.MinStock = min
	}
}

// WithCost sets the product cost per unit
func WithCost(cost decimal.Decimal) func(*ProductFixture) {
	return func(p *ProductFixture) {
		p.CostPerUnit = &cost
	}
}

// Batch creates a batch fixture with defaults: 100 units expiring in 180
// days, ACTIVE
func (f *FixtureFactory) Batch(productID string, opts ...func(*BatchFixture)) BatchFixture {
	seq := f.nextSeq()

	batch := BatchFixture{
		ID:              uuid.New().String(),
		ProductID:       productID,
		BatchNumber:     fmt.Sprintf("LOT-%04d", seq),
		Quantity:        100,
		InitialQuantity: 100,
		ExpiryDate:      time.Now().UTC().AddDate(0, 0, 180).Truncate(24 * time.Hour),
		Status:          "ACTIVE",
	}

	for _, opt := range opts {
		opt(&batch)
	}

	return batch
}

// WithQuantity sets batch quantity and initial quantity together
func WithQuantity(quantity int) func(*BatchFixture) {
	return func(b *BatchFixture) {
		b.Quantity = quantity
		b.InitialQuantity = quantity
	}
}

// WithExpiry sets the batch expiry date
func WithExpiry(expiry time.Time) func(*BatchFixture) {
	return func(b *BatchFixture) {
		b.ExpiryDate = expiry
	}
}

// ExpiringIn sets the batch expiry the given number of days from now
func ExpiringIn(days int) func(*BatchFixture) {
	return func(b *BatchFixture) {
		b.ExpiryDate = time.Now().UTC().AddDate(0, 0, days).Truncate(24 * time.Hour)
	}
}

// WithBatchNumber sets the batch number
func WithBatchNumber(number string) func(*BatchFixture) {
	return func(b *BatchFixture) {
		b.BatchNumber = number
	}
}

// WithBatchCost sets the batch cost per unit
func WithBatchCost(cost decimal.Decimal) func(*BatchFixture) {
	return func(b *BatchFixture) {
		b.CostPerUnit = &cost
	}
}

// WithStatus sets the batch status
func WithStatus(status string) func(*BatchFixture) {
	return func(b *BatchFixture) {
		b.Status = status
	}
}
