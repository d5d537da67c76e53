package service_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmstock/pharmstock-backend/internal/inventory/events"
	"github.com/pharmstock/pharmstock-backend/internal/inventory/repository"
	"github.com/pharmstock/pharmstock-backend/internal/inventory/service"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/testutil"
)

// ============================================================================
// INTEGRATION TESTS: Batch Lifecycle against real PostgreSQL
// ============================================================================

var suite *testutil.IntegrationSuite

func TestMain(m *testing.M) {
	ctx := context.Background()
	var err error

	suite, err = testutil.NewIntegrationSuite(ctx)
	if err != nil {
		panic("failed to create integration suite: " + err.Error())
	}

	code := m.Run()
	testutil.TerminateContainer(ctx)
	os.Exit(code)
}

type services struct {
	batches    *service.BatchService
	quarantine *service.QuarantineService
	analytics  *service.AnalyticsService
	summary    *service.SummaryService

	productRepo    *repository.ProductRepository
	batchRepo      *repository.BatchRepository
	quarantineRepo *repository.QuarantineRepository
	snapshotRepo   *repository.SnapshotRepository
}

func newServices() *services {
	productRepo := repository.NewProductRepository(suite.DB)
	batchRepo := repository.NewBatchRepository(suite.DB)
	quarantineRepo := repository.NewQuarantineRepository(suite.DB)
	snapshotRepo := repository.NewSnapshotRepository(suite.DB)
	publisher := events.NewPublisher(nil, suite.Logger)

	quarantine := service.NewQuarantineService(
		suite.DB, productRepo, batchRepo, quarantineRepo, publisher, suite.Logger, 30)
	batches := service.NewBatchService(
		suite.DB, productRepo, batchRepo, quarantine, publisher, suite.Logger)
	analytics := service.NewAnalyticsService(
		productRepo, batchRepo, snapshotRepo, publisher, suite.Logger)
	summary := service.NewSummaryService(
		productRepo, batchRepo, quarantineRepo, snapshotRepo, suite.Logger)

	return &services{
		batches:        batches,
		quarantine:     quarantine,
		analytics:      analytics,
		summary:        summary,
		productRepo:    productRepo,
		batchRepo:      batchRepo,
		quarantineRepo: quarantineRepo,
		snapshotRepo:   snapshotRepo,
	}
}

func seedProduct(t *testing.T, ctx context.Context, fixture testutil.ProductFixture) {
	t.Helper()
	_, err := suite.RawDB.ExecContext(ctx, `
		INSERT INTO products (id, name, category, unit, cost_per_unit, min_stock, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, fixture.ID, fixture.Name, fixture.Category, fixture.Unit,
		fixture.CostPerUnit, fixture.MinStock, fixture.IsActive)
	require.NoError(t, err)
}

func seedBatch(t *testing.T, ctx context.Context, fixture testutil.BatchFixture) {
	t.Helper()
	_, err := suite.RawDB.ExecContext(ctx, `
		INSERT INTO batches (id, product_id, batch_number, quantity, initial_quantity,
			expiry_date, cost_per_unit, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, fixture.ID, fixture.ProductID, fixture.BatchNumber, fixture.Quantity,
		fixture.InitialQuantity, fixture.ExpiryDate, fixture.CostPerUnit, fixture.Status)
	require.NoError(t, err)
}

func getBatch(t *testing.T, ctx context.Context, svcs *services, id string) *repository.Batch {
	t.Helper()
	batch, err := svcs.batchRepo.GetByID(ctx, id)
	require.NoError(t, err)
	return batch
}

// ============================================================================
// TEST: FIFO consumption
// ============================================================================

func TestConsume_DrainsEarliestExpiryFirst(t *testing.T) {
	ctx := context.Background()
	suite.Reset(t, ctx)
	svcs := newServices()

	product := suite.Fixtures.Product()
	seedProduct(t, ctx, product)

	// deliberately seeded out of expiry order
	late := suite.Fixtures.Batch(product.ID, testutil.ExpiringIn(90), testutil.WithQuantity(20))
	early := suite.Fixtures.Batch(product.ID, testutil.ExpiringIn(10), testutil.WithQuantity(30))
	seedBatch(t, ctx, late)
	seedBatch(t, ctx, early)

	result, err := svcs.batches.Consume(ctx, service.ConsumeInput{
		ProductID:   product.ID,
		Quantity:    35,
		Reason:      "dispensed",
		PerformedBy: "pharmacist-1",
	})
	require.NoError(t, err)

	assert.Equal(t, 35, result.Requested)
	assert.Equal(t, 15, result.QuantityOnHand)

	require.Len(t, result.Ledger, 2)
	assert.Equal(t, early.ID, result.Ledger[0].BatchID, "nearest expiry drains first")
	assert.Equal(t, 30, result.Ledger[0].Consumed)
	assert.Equal(t, 0, result.Ledger[0].Remaining)
	assert.Equal(t, late.ID, result.Ledger[1].BatchID)
	assert.Equal(t, 5, result.Ledger[1].Consumed)
	assert.Equal(t, 15, result.Ledger[1].Remaining)

	assert.Equal(t, repository.BatchStatusDepleted, getBatch(t, ctx, svcs, early.ID).Status)

	survivor := getBatch(t, ctx, svcs, late.ID)
	assert.Equal(t, repository.BatchStatusActive, survivor.Status)
	assert.Equal(t, 15, survivor.Quantity)

	// aggregate written back onto the product
	stored, err := svcs.productRepo.GetByID(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 15, stored.QuantityOnHand)

	ledger, total, err := svcs.batches.ListConsumptions(ctx, product.ID, 1, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, ledger, 2)
}

func TestConsume_InsufficientStockLeavesBatchesUntouched(t *testing.T) {
	ctx := context.Background()
	suite.Reset(t, ctx)
	svcs := newServices()

	product := suite.Fixtures.Product()
	seedProduct(t, ctx, product)

	a := suite.Fixtures.Batch(product.ID, testutil.ExpiringIn(10), testutil.WithQuantity(30))
	b := suite.Fixtures.Batch(product.ID, testutil.ExpiringIn(20), testutil.WithQuantity(20))
	seedBatch(t, ctx, a)
	seedBatch(t, ctx, b)

	_, err := svcs.batches.Consume(ctx, service.ConsumeInput{
		ProductID: product.ID,
		Quantity:  60,
		Reason:    "dispensed",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "60", appErr.Details["requested"])
	assert.Equal(t, "50", appErr.Details["available"])

	// all-or-nothing: no partial drain
	assert.Equal(t, 30, getBatch(t, ctx, svcs, a.ID).Quantity)
	assert.Equal(t, 20, getBatch(t, ctx, svcs, b.ID).Quantity)

	_, total, err := svcs.batches.ListConsumptions(ctx, product.ID, 1, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)
}

func TestConsume_SkipsQuarantinedBatches(t *testing.T) {
	ctx := context.Background()
	suite.Reset(t, ctx)
	svcs := newServices()

	product := suite.Fixtures.Product()
	seedProduct(t, ctx, product)

	held := suite.Fixtures.Batch(product.ID, testutil.ExpiringIn(5), testutil.WithQuantity(50),
		testutil.WithStatus(repository.BatchStatusQuarantined))
	free := suite.Fixtures.Batch(product.ID, testutil.ExpiringIn(60), testutil.WithQuantity(50))
	seedBatch(t, ctx, held)
	seedBatch(t, ctx, free)

	result, err := svcs.batches.Consume(ctx, service.ConsumeInput{
		ProductID: product.ID,
		Quantity:  40,
		Reason:    "dispensed",
	})
	require.NoError(t, err)

	require.Len(t, result.Ledger, 1)
	assert.Equal(t, free.ID, result.Ledger[0].BatchID)
	assert.Equal(t, 50, getBatch(t, ctx, svcs, held.ID).Quantity, "quarantined stock is untouchable")
}

// ============================================================================
// TEST: quarantine workflow
// ============================================================================

func TestQuarantine_SecondOpenEpisodeConflicts(t *testing.T) {
	ctx := context.Background()
	suite.Reset(t, ctx)
	svcs := newServices()

	product := suite.Fixtures.Product()
	seedProduct(t, ctx, product)
	batch := suite.Fixtures.Batch(product.ID)
	seedBatch(t, ctx, batch)

	_, err := svcs.quarantine.QuarantineBatch(ctx, service.QuarantineInput{
		BatchID: batch.ID,
		Reason:  "damaged packaging",
	})
	require.NoError(t, err)

	assert.Equal(t, repository.BatchStatusQuarantined, getBatch(t, ctx, svcs, batch.ID).Status)

	_, err = svcs.quarantine.QuarantineBatch(ctx, service.QuarantineInput{
		BatchID: batch.ID,
		Reason:  "damaged packaging again",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestQuarantine_ReleaseRestoresBatch(t *testing.T) {
	ctx := context.Background()
	suite.Reset(t, ctx)
	svcs := newServices()

	product := suite.Fixtures.Product()
	seedProduct(t, ctx, product)
	batch := suite.Fixtures.Batch(product.ID, testutil.WithQuantity(80))
	seedBatch(t, ctx, batch)

	record, err := svcs.quarantine.QuarantineBatch(ctx, service.QuarantineInput{
		BatchID:     batch.ID,
		Reason:      "suspected temperature excursion",
		PerformedBy: "qa-lead",
	})
	require.NoError(t, err)
	assert.Equal(t, repository.QuarantineStatusPendingReview, record.Status)
	assert.Equal(t, 80, record.Quantity)

	resolved, err := svcs.quarantine.ProcessAction(ctx, service.ActionInput{
		RecordID:    record.ID,
		Action:      repository.QuarantineActionRelease,
		Notes:       "cold chain log reviewed, within tolerance",
		PerformedBy: "qa-lead",
	})
	require.NoError(t, err)

	assert.Equal(t, repository.QuarantineStatusReleased, resolved.Status)
	require.NotNil(t, resolved.ResolvedBy)
	assert.Equal(t, "qa-lead", *resolved.ResolvedBy)
	assert.NotNil(t, resolved.ResolvedAt)

	restored := getBatch(t, ctx, svcs, batch.ID)
	assert.Equal(t, repository.BatchStatusActive, restored.Status)
	assert.Equal(t, 80, restored.Quantity, "release keeps the held quantity")

	// action history carries the full episode
	_, actions, err := svcs.quarantine.GetRecord(ctx, record.ID)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, "QUARANTINE", actions[0].Action)
	assert.Equal(t, repository.QuarantineActionRelease, actions[1].Action)

	// a closed episode is terminal
	_, err = svcs.quarantine.ProcessAction(ctx, service.ActionInput{
		RecordID: record.ID,
		Action:   repository.QuarantineActionDispose,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestQuarantine_DisposeWritesOffBatch(t *testing.T) {
	ctx := context.Background()
	suite.Reset(t, ctx)
	svcs := newServices()

	product := suite.Fixtures.Product()
	seedProduct(t, ctx, product)
	cost := decimal.NewFromFloat(2.50)
	batch := suite.Fixtures.Batch(product.ID, testutil.WithQuantity(40), testutil.WithBatchCost(cost))
	seedBatch(t, ctx, batch)

	record, err := svcs.quarantine.QuarantineBatch(ctx, service.QuarantineInput{
		BatchID: batch.ID,
		Reason:  "recall notice",
	})
	require.NoError(t, err)
	require.True(t, record.EstimatedLoss.Valid)
	assert.True(t, record.EstimatedLoss.Decimal.Equal(decimal.NewFromInt(100)))

	_, err = svcs.quarantine.ProcessAction(ctx, service.ActionInput{
		RecordID: record.ID,
		Action:   repository.QuarantineActionDispose,
	})
	require.NoError(t, err)

	disposed := getBatch(t, ctx, svcs, batch.ID)
	assert.Equal(t, repository.BatchStatusExpired, disposed.Status)
	assert.Equal(t, 0, disposed.Quantity)

	stored, err := svcs.productRepo.GetByID(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.QuantityOnHand)
}

// ============================================================================
// TEST: expiry sweep
// ============================================================================

func TestSweep_QuarantinesExpiredBatchesOnce(t *testing.T) {
	ctx := context.Background()
	suite.Reset(t, ctx)
	svcs := newServices()

	product := suite.Fixtures.Product()
	seedProduct(t, ctx, product)

	expired := suite.Fixtures.Batch(product.ID, testutil.ExpiringIn(-3), testutil.WithQuantity(25))
	imminent := suite.Fixtures.Batch(product.ID, testutil.ExpiringIn(10))
	fresh := suite.Fixtures.Batch(product.ID, testutil.ExpiringIn(120))
	seedBatch(t, ctx, expired)
	seedBatch(t, ctx, imminent)
	seedBatch(t, ctx, fresh)

	result, err := svcs.quarantine.AutoQuarantineExpiredBatches(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Quarantined)
	assert.Equal(t, 1, result.Notified, "only the batch inside the alert horizon")

	// the sweep marks the batch EXPIRED; QUARANTINED is reserved for
	// manually held stock
	assert.Equal(t, repository.BatchStatusExpired, getBatch(t, ctx, svcs, expired.ID).Status)
	assert.Equal(t, repository.BatchStatusActive, getBatch(t, ctx, svcs, fresh.ID).Status)

	open, err := svcs.quarantineRepo.GetOpenByBatch(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, service.AutoQuarantineReason, open.Reason)
	assert.Equal(t, repository.QuarantineStatusPendingReview, open.Status)

	// second sweep finds nothing new and does not re-alert the same batch
	again, err := svcs.quarantine.AutoQuarantineExpiredBatches(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Quarantined)
	assert.Equal(t, 0, again.Notified)

	records, total, err := svcs.quarantine.ListRecords(ctx, repository.QuarantineStatusPendingReview, 1, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Len(t, records, 1)
}

// ============================================================================
// TEST: snapshot idempotency
// ============================================================================

func TestCaptureSnapshot_IdempotentPerDate(t *testing.T) {
	ctx := context.Background()
	suite.Reset(t, ctx)
	svcs := newServices()

	product := suite.Fixtures.Product()
	seedProduct(t, ctx, product)
	seedBatch(t, ctx, suite.Fixtures.Batch(product.ID, testutil.ExpiringIn(-2), testutil.WithQuantity(10)))
	seedBatch(t, ctx, suite.Fixtures.Batch(product.ID, testutil.ExpiringIn(14), testutil.WithQuantity(10)))

	today := time.Now().UTC()

	first, err := svcs.analytics.CaptureSnapshot(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, 1, first.ExpiredCount)
	assert.Equal(t, 1, first.Expiring30Count)
	assert.Equal(t, 2, first.ActiveBatchCount)

	// expired stock drained before the second capture; the stored row
	// must win regardless
	_, err = suite.RawDB.ExecContext(ctx,
		`UPDATE batches SET quantity = 0, status = 'DEPLETED' WHERE product_id = $1`, product.ID)
	require.NoError(t, err)

	second, err := svcs.analytics.CaptureSnapshot(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.ExpiredCount, second.ExpiredCount)
	assert.Equal(t, first.ActiveBatchCount, second.ActiveBatchCount)
}

func TestRecomputeSnapshot_ReplacesStoredRow(t *testing.T) {
	ctx := context.Background()
	suite.Reset(t, ctx)
	svcs := newServices()

	product := suite.Fixtures.Product()
	seedProduct(t, ctx, product)

	today := time.Now().UTC()

	first, err := svcs.analytics.CaptureSnapshot(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, 0, first.ActiveBatchCount)

	// backfilled batch data lands after the capture
	seedBatch(t, ctx, suite.Fixtures.Batch(product.ID, testutil.ExpiringIn(20)))

	recomputed, err := svcs.analytics.RecomputeSnapshot(ctx, today)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, recomputed.ID)
	assert.Equal(t, 1, recomputed.ActiveBatchCount)
	assert.Equal(t, 1, recomputed.Expiring30Count)

	stored, err := svcs.analytics.GetSnapshot(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, recomputed.ID, stored.ID)
}

// ============================================================================
// TEST: dashboard summary
// ============================================================================

func TestSummary_ReportsLiveExpiryRisk(t *testing.T) {
	ctx := context.Background()
	suite.Reset(t, ctx)
	svcs := newServices()

	product := suite.Fixtures.Product()
	seedProduct(t, ctx, product)

	cost := decimal.NewFromInt(2)
	seedBatch(t, ctx, suite.Fixtures.Batch(product.ID,
		testutil.ExpiringIn(5), testutil.WithQuantity(10), testutil.WithBatchCost(cost)))
	seedBatch(t, ctx, suite.Fixtures.Batch(product.ID,
		testutil.ExpiringIn(45), testutil.WithQuantity(10), testutil.WithBatchCost(cost)))

	summary, err := svcs.summary.GetSummary(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.ActiveBatches)
	assert.Equal(t, 0, summary.ExpiredCount)
	assert.Equal(t, 1, summary.Expiring7Count)
	assert.Equal(t, 1, summary.Expiring30Count)
	assert.True(t, summary.ValueAtRisk30Days.Equal(decimal.NewFromInt(20)))
	assert.True(t, summary.ValueAtRisk90Days.Equal(decimal.NewFromInt(40)))
	require.Len(t, summary.CriticalItems, 1, "only the batch inside the 30-day window surfaces")
	assert.Equal(t, product.ID, summary.CriticalItems[0].ProductID)
}
