package service

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pharmstock/pharmstock-backend/internal/inventory/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
)

// Granularities for trend aggregation
const (
	GranularityDaily   = "DAILY"
	GranularityWeekly  = "WEEKLY"
	GranularityMonthly = "MONTHLY"
)

// Risk levels for expiry predictions
const (
	RiskLow      = "LOW"
	RiskMedium   = "MEDIUM"
	RiskHigh     = "HIGH"
	RiskCritical = "CRITICAL"
)

// TrendPoint is one aggregated point in a trend series. Period is the
// snapshot date for DAILY, the Monday of the ISO week for WEEKLY, and the
// first of the month for MONTHLY.
type TrendPoint struct {
	Period          time.Time       `json:"period"`
	Label           string          `json:"label"`
	ExpiredCount    float64         `json:"expired_count"`
	Expiring30Days  float64         `json:"expiring_30_days"`
	ExpiredValue    decimal.Decimal `json:"expired_value"`
	Expiring30Value decimal.Decimal `json:"expiring_30_value"`
	TrendDirection  string          `json:"trend_direction"`
	SampleSize      int             `json:"sample_size"`
}

// Prediction is a short-horizon expiry forecast derived by moving average
// over the trailing snapshot window.
type Prediction struct {
	DaysAhead     int               `json:"days_ahead"`
	Points        []PredictionPoint `json:"points"`
	TotalExpected float64           `json:"total_expected"`
	RiskLevel     string            `json:"risk_level"`
	Confidence    float64           `json:"confidence"`
	SampleSize    int               `json:"sample_size"`
}

// PredictionPoint is the estimate for one future day
type PredictionPoint struct {
	Date     time.Time `json:"date"`
	Expected float64   `json:"expected"`
	Lower    float64   `json:"lower"`
	Upper    float64   `json:"upper"`
}

// Aggregate converts daily snapshots into a series at the requested
// granularity. Pure: it reads the rows and builds points, nothing more.
//
//	DAILY    one point per snapshot, carrying its stored trend direction
//	WEEKLY   ISO weeks (Monday start); counts averaged, values summed,
//	         trend from first-half vs second-half expired counts
//	MONTHLY  calendar months; counts and values summed, trend by majority
//	         vote of the daily directions with a 1.5x threshold
func Aggregate(snapshots []*repository.TrendSnapshot, granularity string) ([]TrendPoint, error) {
	switch granularity {
	case GranularityDaily:
		return aggregateDaily(snapshots), nil
	case GranularityWeekly:
		return aggregateBuckets(snapshots, weekBucket, weeklyPoint), nil
	case GranularityMonthly:
		return aggregateBuckets(snapshots, monthBucket, monthlyPoint), nil
	default:
		return nil, errors.BadRequest("unknown granularity: " + granularity)
	}
}

func aggregateDaily(snapshots []*repository.TrendSnapshot) []TrendPoint {
	points := make([]TrendPoint, 0, len(snapshots))
	for _, s := range snapshots {
		points = append(points, TrendPoint{
			Period:          s.SnapshotDate,
			Label:           s.SnapshotDate.Format("2006-01-02"),
			ExpiredCount:    float64(s.ExpiredCount),
			Expiring30Days:  float64(s.Expiring30Count),
			ExpiredValue:    s.ExpiredValue,
			Expiring30Value: s.Expiring30Value,
			TrendDirection:  s.TrendDirection,
			SampleSize:      1,
		})
	}
	return points
}

// aggregateBuckets groups snapshots by bucket start date and emits one point
// per bucket in chronological order.
func aggregateBuckets(
	snapshots []*repository.TrendSnapshot,
	bucket func(time.Time) time.Time,
	build func(start time.Time, members []*repository.TrendSnapshot) TrendPoint,
) []TrendPoint {
	groups := make(map[time.Time][]*repository.TrendSnapshot)
	for _, s := range snapshots {
		start := bucket(s.SnapshotDate)
		groups[start] = append(groups[start], s)
	}

	starts := make([]time.Time, 0, len(groups))
	for start := range groups {
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	points := make([]TrendPoint, 0, len(starts))
	for _, start := range starts {
		members := groups[start]
		sort.Slice(members, func(i, j int) bool {
			return members[i].SnapshotDate.Before(members[j].SnapshotDate)
		})
		points = append(points, build(start, members))
	}
	return points
}

// weekBucket returns the Monday of the ISO week containing t
func weekBucket(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return time.Date(t.Year(), t.Month(), t.Day()-offset, 0, 0, 0, 0, time.UTC)
}

func monthBucket(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func weeklyPoint(start time.Time, members []*repository.TrendSnapshot) TrendPoint {
	year, week := start.ISOWeek()
	point := TrendPoint{
		Period:     start,
		Label:      fmt.Sprintf("%d-W%02d", year, week),
		SampleSize: len(members),
	}

	var expired, expiring float64
	for _, s := range members {
		expired += float64(s.ExpiredCount)
		expiring += float64(s.Expiring30Count)
		point.ExpiredValue = point.ExpiredValue.Add(s.ExpiredValue)
		point.Expiring30Value = point.Expiring30Value.Add(s.Expiring30Value)
	}
	n := float64(len(members))
	point.ExpiredCount = expired / n
	point.Expiring30Days = expiring / n
	point.TrendDirection = halfSplitTrend(members)
	return point
}

// halfSplitTrend compares the average expired count of the first half of the
// week against the second half. A swing above 10% in either direction moves
// the trend off STABLE. Days in the middle of an odd-length week land in the
// second half.
func halfSplitTrend(members []*repository.TrendSnapshot) string {
	if len(members) < 2 {
		return repository.TrendStable
	}

	mid := len(members) / 2
	firstAvg := meanExpired(members[:mid])
	secondAvg := meanExpired(members[mid:])

	if firstAvg == 0 {
		if secondAvg > 0 {
			return repository.TrendWorsening
		}
		return repository.TrendStable
	}

	change := (secondAvg - firstAvg) / firstAvg * 100
	switch {
	case change > 10:
		return repository.TrendWorsening
	case change < -10:
		return repository.TrendImproving
	default:
		return repository.TrendStable
	}
}

func meanExpired(members []*repository.TrendSnapshot) float64 {
	if len(members) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range members {
		sum += float64(s.ExpiredCount)
	}
	return sum / float64(len(members))
}

func monthlyPoint(start time.Time, members []*repository.TrendSnapshot) TrendPoint {
	point := TrendPoint{
		Period:         start,
		Label:          start.Format("2006-01"),
		TrendDirection: majorityTrend(members),
		SampleSize:     len(members),
	}

	for _, s := range members {
		point.ExpiredCount += float64(s.ExpiredCount)
		point.Expiring30Days += float64(s.Expiring30Count)
		point.ExpiredValue = point.ExpiredValue.Add(s.ExpiredValue)
		point.Expiring30Value = point.Expiring30Value.Add(s.Expiring30Value)
	}
	return point
}

// majorityTrend votes across the daily trend directions. A non-stable
// direction wins only when it beats the opposite direction by a 1.5x margin;
// otherwise the month reads STABLE. The margin keeps months from flapping
// between directions on near-ties.
func majorityTrend(members []*repository.TrendSnapshot) string {
	var worsening, improving float64
	for _, s := range members {
		switch s.TrendDirection {
		case repository.TrendWorsening:
			worsening++
		case repository.TrendImproving:
			improving++
		}
	}

	switch {
	case worsening > improving*1.5 && worsening > 0:
		return repository.TrendWorsening
	case improving > worsening*1.5 && improving > 0:
		return repository.TrendImproving
	default:
		return repository.TrendStable
	}
}

// Predict forecasts expired counts for the next daysAhead days from the
// given trailing-window snapshots (callers pass the last 90 days). The point
// estimate for every future day is the window mean, with a 20% band as
// bounds. Fewer than 7 snapshots yields a zero-confidence placeholder. Pure.
func Predict(snapshots []*repository.TrendSnapshot, from time.Time, daysAhead int) (*Prediction, error) {
	if daysAhead <= 0 {
		return nil, errors.BadRequest("days ahead must be positive")
	}

	if len(snapshots) < 7 {
		return &Prediction{
			DaysAhead:  daysAhead,
			Points:     []PredictionPoint{},
			RiskLevel:  RiskLow,
			Confidence: 0,
			SampleSize: len(snapshots),
		}, nil
	}

	mean := meanExpired(snapshots)

	points := make([]PredictionPoint, 0, daysAhead)
	total := 0.0
	for day := 1; day <= daysAhead; day++ {
		points = append(points, PredictionPoint{
			Date:     from.AddDate(0, 0, day),
			Expected: mean,
			Lower:    mean * 0.8,
			Upper:    mean * 1.2,
		})
		total += mean
	}

	confidence := 50 + 0.5*float64(len(snapshots))
	if confidence > 95 {
		confidence = 95
	}

	return &Prediction{
		DaysAhead:     daysAhead,
		Points:        points,
		TotalExpected: total,
		RiskLevel:     riskLevel(total),
		Confidence:    confidence,
		SampleSize:    len(snapshots),
	}, nil
}

// riskLevel buckets the summed predicted expiry over the horizon
func riskLevel(totalExpected float64) string {
	switch {
	case totalExpected < 10:
		return RiskLow
	case totalExpected < 50:
		return RiskMedium
	case totalExpected < 100:
		return RiskHigh
	default:
		return RiskCritical
	}
}
