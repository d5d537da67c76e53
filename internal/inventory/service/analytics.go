package service

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pharmstock/pharmstock-backend/internal/inventory/events"
	"github.com/pharmstock/pharmstock-backend/internal/inventory/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
	"github.com/pharmstock/pharmstock-backend/pkg/messaging"
)

// predictionWindowDays is the trailing window the moving-average forecast
// reads from.
const predictionWindowDays = 90

// AnalyticsService owns the daily snapshot engine and the trend/prediction
// reads over snapshot history.
type AnalyticsService struct {
	products  *repository.ProductRepository
	batches   *repository.BatchRepository
	snapshots *repository.SnapshotRepository
	publisher *events.Publisher
	logger    *logger.Logger
}

// NewAnalyticsService creates a new analytics service
func NewAnalyticsService(
	products *repository.ProductRepository,
	batches *repository.BatchRepository,
	snapshots *repository.SnapshotRepository,
	publisher *events.Publisher,
	log *logger.Logger,
) *AnalyticsService {
	return &AnalyticsService{
		products:  products,
		batches:   batches,
		snapshots: snapshots,
		publisher: publisher,
		logger:    log.WithComponent("analytics-service"),
	}
}

// CaptureSnapshot computes and stores the expiry snapshot for the given
// calendar date. Idempotent: if a snapshot already exists for the date
// (including one written by a concurrent capture), the stored row is
// returned unchanged without recomputation.
func (s *AnalyticsService) CaptureSnapshot(ctx context.Context, date time.Time) (*repository.TrendSnapshot, error) {
	date = dateOnlyUTC(date)

	if existing, err := s.snapshots.GetByDate(ctx, date); err == nil {
		return existing, nil
	} else if !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	snapshot, err := s.computeSnapshot(ctx, date)
	if err != nil {
		return nil, err
	}

	stored, inserted, err := s.snapshots.Insert(ctx, snapshot)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// concurrent capture won the insert race
		return stored, nil
	}

	s.publisher.SnapshotCaptured(ctx, messaging.SnapshotCapturedEvent{
		SnapshotDate:   stored.SnapshotDate.Format("2006-01-02"),
		ExpiredCount:   stored.ExpiredCount,
		Expiring30Days: stored.Expiring30Count,
		TrendDirection: stored.TrendDirection,
	})

	s.logger.Info().
		Str("snapshot_date", stored.SnapshotDate.Format("2006-01-02")).
		Int("expired_count", stored.ExpiredCount).
		Str("trend", stored.TrendDirection).
		Msg("snapshot captured")

	return stored, nil
}

// RecomputeSnapshot discards any stored snapshot for the date and captures a
// fresh one. The one sanctioned way to mutate snapshot history, for
// operator-initiated corrections after backfilled batch data.
func (s *AnalyticsService) RecomputeSnapshot(ctx context.Context, date time.Time) (*repository.TrendSnapshot, error) {
	date = dateOnlyUTC(date)

	if err := s.snapshots.DeleteByDate(ctx, date); err != nil {
		return nil, err
	}

	snapshot, err := s.computeSnapshot(ctx, date)
	if err != nil {
		return nil, err
	}

	stored, _, err := s.snapshots.Insert(ctx, snapshot)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("snapshot_date", date.Format("2006-01-02")).
		Msg("snapshot recomputed")

	return stored, nil
}

// computeSnapshot reads the ACTIVE batches and builds the snapshot row for
// the date, including the trend classification against the prior week.
func (s *AnalyticsService) computeSnapshot(ctx context.Context, date time.Time) (*repository.TrendSnapshot, error) {
	batches, err := s.batches.ListAllActive(ctx)
	if err != nil {
		return nil, err
	}

	categories, err := s.productCategories(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := buildSnapshot(date, batches, categories)

	baseline, err := s.snapshots.ListBefore(ctx, date, 7)
	if err != nil {
		return nil, err
	}
	weekAgo := date.AddDate(0, 0, -7)
	var window []*repository.TrendSnapshot
	for _, prior := range baseline {
		if !prior.SnapshotDate.Before(weekAgo) {
			window = append(window, prior)
		}
	}
	snapshot.TrendDirection, snapshot.TrendPercent = classifyTrend(snapshot.ExpiredCount, window)

	return snapshot, nil
}

func (s *AnalyticsService) productCategories(ctx context.Context) (map[string]string, error) {
	products, err := s.products.GetAllActive(ctx)
	if err != nil {
		return nil, err
	}
	categories := make(map[string]string, len(products))
	for _, p := range products {
		categories[p.ID] = p.Category
	}
	return categories, nil
}

// buildSnapshot computes all per-date aggregates from the ACTIVE batch set.
// Pure so the horizon arithmetic is testable without a database.
func buildSnapshot(date time.Time, batches []*repository.Batch, categories map[string]string) *repository.TrendSnapshot {
	snapshot := &repository.TrendSnapshot{
		SnapshotDate:     date,
		ActiveBatchCount: len(batches),
		TrendDirection:   repository.TrendStable,
	}

	categoryCounts := make(map[string]int)
	var daysSum float64
	var nonExpired int

	for _, batch := range batches {
		value := batch.Value()
		days := batch.DaysUntilExpiry(date)

		if days < 0 {
			snapshot.ExpiredCount++
			snapshot.ExpiredValue = snapshot.ExpiredValue.Add(value)
			continue
		}

		daysSum += float64(days)
		nonExpired++

		// a batch expiring on the snapshot date itself is not yet expired
		// and not inside any forward horizon
		if days == 0 {
			continue
		}

		if days <= 7 {
			snapshot.Expiring7Count++
			snapshot.Expiring7Value = snapshot.Expiring7Value.Add(value)
		}
		if days <= 30 {
			snapshot.Expiring30Count++
			snapshot.Expiring30Value = snapshot.Expiring30Value.Add(value)
			categoryCounts[categories[batch.ProductID]]++
		}
		if days <= 60 {
			snapshot.Expiring60Count++
			snapshot.Expiring60Value = snapshot.Expiring60Value.Add(value)
		}
		if days <= 90 {
			snapshot.Expiring90Count++
			snapshot.Expiring90Value = snapshot.Expiring90Value.Add(value)
		}
	}

	if nonExpired > 0 {
		snapshot.AvgDaysToExpiry = daysSum / float64(nonExpired)
	}

	if category, count := criticalCategory(categoryCounts); count > 0 {
		snapshot.CriticalCategory = &category
		snapshot.CriticalCount = count
	}

	return snapshot
}

// criticalCategory picks the category with the most batches expiring within
// 30 days. Ties resolve to the lexicographically lowest category name so the
// result is deterministic.
func criticalCategory(counts map[string]int) (string, int) {
	names := make([]string, 0, len(counts))
	for name := range counts {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	best := ""
	bestCount := 0
	for _, name := range names {
		if counts[name] > bestCount {
			best = name
			bestCount = counts[name]
		}
	}
	return best, bestCount
}

// classifyTrend compares today's expired count against the mean over the
// prior-week snapshots. No baseline reads STABLE at zero percent.
func classifyTrend(expiredCount int, window []*repository.TrendSnapshot) (string, float64) {
	if len(window) == 0 {
		return repository.TrendStable, 0
	}

	avg := meanExpired(window)
	if avg == 0 {
		if expiredCount > 0 {
			return repository.TrendWorsening, 100
		}
		return repository.TrendStable, 0
	}

	percent := (float64(expiredCount) - avg) / avg * 100
	switch {
	case percent > 10:
		return repository.TrendWorsening, percent
	case percent < -10:
		return repository.TrendImproving, percent
	default:
		return repository.TrendStable, percent
	}
}

// GetSnapshot gets the stored snapshot for a date
func (s *AnalyticsService) GetSnapshot(ctx context.Context, date time.Time) (*repository.TrendSnapshot, error) {
	return s.snapshots.GetByDate(ctx, date)
}

// GetTrendSeries aggregates stored snapshots over [from, to] at the
// requested granularity.
func (s *AnalyticsService) GetTrendSeries(ctx context.Context, from, to time.Time, granularity string) ([]TrendPoint, error) {
	if to.Before(from) {
		return nil, errors.BadRequest("date range end precedes start")
	}

	snapshots, err := s.snapshots.ListRange(ctx, from, to)
	if err != nil {
		return nil, err
	}

	return Aggregate(snapshots, granularity)
}

// GetPrediction forecasts expiry counts for the next daysAhead days using
// the trailing 90 days of snapshots.
func (s *AnalyticsService) GetPrediction(ctx context.Context, daysAhead int) (*Prediction, error) {
	now := dateOnlyUTC(time.Now().UTC())

	snapshots, err := s.snapshots.ListRange(ctx, now.AddDate(0, 0, -predictionWindowDays), now)
	if err != nil {
		return nil, err
	}

	return Predict(snapshots, now, daysAhead)
}

// ExportRow is one flattened row of trend history for external CSV
// formatting.
type ExportRow struct {
	Date            string          `json:"date"`
	ExpiredCount    int             `json:"expired_count"`
	Expiring30Count int             `json:"expiring_30_count"`
	ExpiredValue    decimal.Decimal `json:"expired_value"`
	Expiring30Value decimal.Decimal `json:"expiring_30_value"`
	TrendDirection  string          `json:"trend_direction"`
	TrendPercent    float64         `json:"trend_percent"`
}

// ExportTrendHistory returns the stored snapshot history over [from, to] as
// ordered flat rows.
func (s *AnalyticsService) ExportTrendHistory(ctx context.Context, from, to time.Time) ([]ExportRow, error) {
	snapshots, err := s.snapshots.ListRange(ctx, from, to)
	if err != nil {
		return nil, err
	}

	rows := make([]ExportRow, 0, len(snapshots))
	for _, snap := range snapshots {
		rows = append(rows, ExportRow{
			Date:            snap.SnapshotDate.Format("2006-01-02"),
			ExpiredCount:    snap.ExpiredCount,
			Expiring30Count: snap.Expiring30Count,
			ExpiredValue:    snap.ExpiredValue,
			Expiring30Value: snap.Expiring30Value,
			TrendDirection:  snap.TrendDirection,
			TrendPercent:    snap.TrendPercent,
		})
	}
	return rows, nil
}

func dateOnlyUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
