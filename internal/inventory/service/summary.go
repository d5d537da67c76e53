package service

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pharmstock/pharmstock-backend/internal/inventory/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
)

// SummaryService provides read-only dashboard aggregations. It depends on
// the stores, never the other way around.
type SummaryService struct {
	products   *repository.ProductRepository
	batches    *repository.BatchRepository
	quarantine *repository.QuarantineRepository
	snapshots  *repository.SnapshotRepository
	logger     *logger.Logger
}

// NewSummaryService creates a new summary service
func NewSummaryService(
	products *repository.ProductRepository,
	batches *repository.BatchRepository,
	quarantine *repository.QuarantineRepository,
	snapshots *repository.SnapshotRepository,
	log *logger.Logger,
) *SummaryService {
	return &SummaryService{
		products:   products,
		batches:    batches,
		quarantine: quarantine,
		snapshots:  snapshots,
		logger:     log.WithComponent("summary-service"),
	}
}

// Summary is the current expiry-risk state of the inventory
type Summary struct {
	AsOf               time.Time       `json:"as_of"`
	ActiveBatches      int             `json:"active_batches"`
	ExpiredCount       int             `json:"expired_count"`
	Expiring7Count     int             `json:"expiring_7_count"`
	Expiring30Count    int             `json:"expiring_30_count"`
	ValueAtRisk30Days  decimal.Decimal `json:"value_at_risk_30_days"`
	ValueAtRisk90Days  decimal.Decimal `json:"value_at_risk_90_days"`
	OpenQuarantineLoss decimal.Decimal `json:"open_quarantine_loss"`
	TrendDirection     string          `json:"trend_direction"`
	TrendPercent       float64         `json:"trend_percent"`
	CriticalItems      []CriticalItem  `json:"critical_items"`
}

// CriticalItem is one near-term-expiry batch surfaced on the dashboard
type CriticalItem struct {
	ProductID       string          `json:"product_id"`
	ProductName     string          `json:"product_name"`
	Category        string          `json:"category"`
	BatchID         string          `json:"batch_id"`
	BatchNumber     string          `json:"batch_number"`
	Quantity        int             `json:"quantity"`
	ExpiryDate      time.Time       `json:"expiry_date"`
	DaysUntilExpiry int             `json:"days_until_expiry"`
	ValueAtRisk     decimal.Decimal `json:"value_at_risk"`
}

// criticalItemLimit caps the dashboard's critical-items list
const criticalItemLimit = 20

// GetSummary computes the live dashboard view from current batches. The
// trend fields come from the latest stored snapshot; with no snapshots yet
// the trend reads STABLE.
func (s *SummaryService) GetSummary(ctx context.Context) (*Summary, error) {
	now := dateOnlyUTC(time.Now().UTC())

	batches, err := s.batches.ListAllActive(ctx)
	if err != nil {
		return nil, err
	}

	products, err := s.products.GetAllActive(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*repository.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	summary := &Summary{
		AsOf:           now,
		ActiveBatches:  len(batches),
		TrendDirection: repository.TrendStable,
		CriticalItems:  []CriticalItem{},
	}

	for _, batch := range batches {
		days := batch.DaysUntilExpiry(now)
		value := batch.Value()

		switch {
		case days < 0:
			summary.ExpiredCount++
			continue
		case days == 0:
			continue
		}

		if days <= 7 {
			summary.Expiring7Count++
		}
		if days <= 30 {
			summary.Expiring30Count++
			summary.ValueAtRisk30Days = summary.ValueAtRisk30Days.Add(value)

			item := CriticalItem{
				ProductID:       batch.ProductID,
				BatchID:         batch.ID,
				BatchNumber:     batch.BatchNumber,
				Quantity:        batch.Quantity,
				ExpiryDate:      batch.ExpiryDate,
				DaysUntilExpiry: days,
				ValueAtRisk:     value,
			}
			if product, ok := byID[batch.ProductID]; ok {
				item.ProductName = product.Name
				item.Category = product.Category
			}
			summary.CriticalItems = append(summary.CriticalItems, item)
		}
		if days <= 90 {
			summary.ValueAtRisk90Days = summary.ValueAtRisk90Days.Add(value)
		}
	}

	sort.Slice(summary.CriticalItems, func(i, j int) bool {
		a, b := summary.CriticalItems[i], summary.CriticalItems[j]
		if a.DaysUntilExpiry != b.DaysUntilExpiry {
			return a.DaysUntilExpiry < b.DaysUntilExpiry
		}
		return a.BatchID < b.BatchID
	})
	if len(summary.CriticalItems) > criticalItemLimit {
		summary.CriticalItems = summary.CriticalItems[:criticalItemLimit]
	}

	loss, err := s.quarantine.SumOpenLoss(ctx)
	if err != nil {
		return nil, err
	}
	summary.OpenQuarantineLoss = loss

	latest, err := s.snapshots.Latest(ctx)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			return nil, err
		}
	} else {
		summary.TrendDirection = latest.TrendDirection
		summary.TrendPercent = latest.TrendPercent
	}

	return summary, nil
}
