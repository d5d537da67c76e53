package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmstock/pharmstock-backend/internal/inventory/repository"
)

func batchExpiringOn(productID string, quantity int, expiry time.Time, cost float64) *repository.Batch {
	return &repository.Batch{
		ID:              productID + "-" + expiry.Format("20060102"),
		ProductID:       productID,
		Quantity:        quantity,
		InitialQuantity: quantity,
		ExpiryDate:      expiry,
		CostPerUnit:     decimal.NewNullDecimal(decimal.NewFromFloat(cost)),
		Status:          repository.BatchStatusActive,
	}
}

func TestBuildSnapshot_Horizons(t *testing.T) {
	asOf := date(2026, 3, 1)
	batches := []*repository.Batch{
		batchExpiringOn("p1", 10, date(2026, 2, 20), 2), // expired
		batchExpiringOn("p1", 10, date(2026, 3, 5), 2),  // 4 days out
		batchExpiringOn("p2", 10, date(2026, 3, 20), 3), // 19 days out
		batchExpiringOn("p2", 10, date(2026, 4, 15), 3), // 45 days out
		batchExpiringOn("p3", 10, date(2026, 5, 10), 1), // 70 days out
		batchExpiringOn("p3", 10, date(2026, 9, 1), 1),  // beyond 90 days
	}
	categories := map[string]string{"p1": "Analgesics", "p2": "Antibiotics", "p3": "Vitamins"}

	snap := buildSnapshot(asOf, batches, categories)

	assert.Equal(t, asOf, snap.SnapshotDate)
	assert.Equal(t, 6, snap.ActiveBatchCount)

	assert.Equal(t, 1, snap.ExpiredCount)
	assert.True(t, snap.ExpiredValue.Equal(decimal.NewFromInt(20)))

	assert.Equal(t, 1, snap.Expiring7Count)
	assert.Equal(t, 2, snap.Expiring30Count)
	assert.Equal(t, 3, snap.Expiring60Count)
	assert.Equal(t, 4, snap.Expiring90Count)

	assert.True(t, snap.Expiring7Value.Equal(decimal.NewFromInt(20)))
	assert.True(t, snap.Expiring30Value.Equal(decimal.NewFromInt(50)))
	assert.True(t, snap.Expiring60Value.Equal(decimal.NewFromInt(80)))
	assert.True(t, snap.Expiring90Value.Equal(decimal.NewFromInt(90)))

	// 4, 19, 45, 70, 184 days across the non-expired batches
	assert.InDelta(t, (4.0+19+45+70+184)/5, snap.AvgDaysToExpiry, 1e-9)

	require.NotNil(t, snap.CriticalCategory)
	assert.Equal(t, "Analgesics", *snap.CriticalCategory, "ties resolve to the lowest category name")
	assert.Equal(t, 1, snap.CriticalCount)
}

func TestBuildSnapshot_ExpiryOnSnapshotDate(t *testing.T) {
	asOf := date(2026, 3, 1)
	batches := []*repository.Batch{
		batchExpiringOn("p1", 5, asOf, 2),
	}

	snap := buildSnapshot(asOf, batches, map[string]string{"p1": "Analgesics"})

	// a batch expiring today is neither expired nor inside a horizon,
	// but still counts toward the average
	assert.Equal(t, 0, snap.ExpiredCount)
	assert.Equal(t, 0, snap.Expiring7Count)
	assert.Equal(t, 0, snap.Expiring30Count)
	assert.Equal(t, 0.0, snap.AvgDaysToExpiry)
	assert.Equal(t, 1, snap.ActiveBatchCount)
	assert.Nil(t, snap.CriticalCategory)
}

func TestBuildSnapshot_Empty(t *testing.T) {
	snap := buildSnapshot(date(2026, 3, 1), nil, nil)

	assert.Equal(t, 0, snap.ActiveBatchCount)
	assert.Equal(t, 0, snap.ExpiredCount)
	assert.Equal(t, 0.0, snap.AvgDaysToExpiry)
	assert.Nil(t, snap.CriticalCategory)
	assert.Equal(t, repository.TrendStable, snap.TrendDirection)
}

func TestCriticalCategory(t *testing.T) {
	tests := []struct {
		name      string
		counts    map[string]int
		want      string
		wantCount int
	}{
		{"clear winner", map[string]int{"Analgesics": 2, "Antibiotics": 5}, "Antibiotics", 5},
		{"tie breaks low", map[string]int{"Vitamins": 3, "Antibiotics": 3}, "Antibiotics", 3},
		{"unknown category excluded", map[string]int{"": 9, "Vitamins": 1}, "Vitamins", 1},
		{"empty", map[string]int{}, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			category, count := criticalCategory(tt.counts)
			assert.Equal(t, tt.want, category)
			assert.Equal(t, tt.wantCount, count)
		})
	}
}

func TestClassifyTrend(t *testing.T) {
	window := func(counts ...int) []*repository.TrendSnapshot {
		members := make([]*repository.TrendSnapshot, 0, len(counts))
		for i, c := range counts {
			members = append(members, snapshotOn(date(2026, 2, 20+i), c, 0, repository.TrendStable))
		}
		return members
	}

	tests := []struct {
		name        string
		expired     int
		window      []*repository.TrendSnapshot
		wantTrend   string
		wantPercent float64
	}{
		{"no baseline", 5, nil, repository.TrendStable, 0},
		{"zero baseline no expiries", 0, window(0, 0, 0), repository.TrendStable, 0},
		{"zero baseline with expiries", 3, window(0, 0, 0), repository.TrendWorsening, 100},
		{"worsening", 12, window(10, 10, 10), repository.TrendWorsening, 20},
		{"improving", 8, window(10, 10, 10), repository.TrendImproving, -20},
		{"inside threshold", 11, window(10, 10, 10), repository.TrendStable, 10},
		{"sparse baseline", 6, window(4), repository.TrendWorsening, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trend, percent := classifyTrend(tt.expired, tt.window)
			assert.Equal(t, tt.wantTrend, trend)
			assert.InDelta(t, tt.wantPercent, percent, 1e-9)
		})
	}
}
