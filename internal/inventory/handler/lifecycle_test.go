package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmstock/pharmstock-backend/internal/inventory/events"
	"github.com/pharmstock/pharmstock-backend/internal/inventory/handler"
	"github.com/pharmstock/pharmstock-backend/internal/inventory/repository"
	"github.com/pharmstock/pharmstock-backend/internal/inventory/service"
	"github.com/pharmstock/pharmstock-backend/pkg/httputil"
	"github.com/pharmstock/pharmstock-backend/pkg/testutil"
)

var suite *testutil.IntegrationSuite

func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	suite, err = testutil.NewIntegrationSuite(ctx)
	if err != nil {
		log.Fatalf("failed to create integration suite: %v", err)
	}
	defer testutil.TerminateContainer(ctx)

	os.Exit(m.Run())
}

func newTestRouter() chi.Router {
	productRepo := repository.NewProductRepository(suite.DB)
	batchRepo := repository.NewBatchRepository(suite.DB)
	quarantineRepo := repository.NewQuarantineRepository(suite.DB)
	snapshotRepo := repository.NewSnapshotRepository(suite.DB)
	publisher := events.NewPublisher(nil, suite.Logger)

	quarantineSvc := service.NewQuarantineService(
		suite.DB, productRepo, batchRepo, quarantineRepo, publisher, suite.Logger, 30)
	batchSvc := service.NewBatchService(
		suite.DB, productRepo, batchRepo, quarantineSvc, publisher, suite.Logger)
	analyticsSvc := service.NewAnalyticsService(
		productRepo, batchRepo, snapshotRepo, publisher, suite.Logger)
	summarySvc := service.NewSummaryService(
		productRepo, batchRepo, quarantineRepo, snapshotRepo, suite.Logger)

	r := chi.NewRouter()
	r.Use(httputil.Actor)
	r.Route("/api/v1/inventory", func(r chi.Router) {
		handler.NewBatchHandler(batchSvc, suite.Logger).Routes(r)
		handler.NewQuarantineHandler(quarantineSvc, suite.Logger).Routes(r)
		handler.NewAnalyticsHandler(analyticsSvc, summarySvc, suite.Logger).Routes(r)
	})
	return r
}

func seedProduct(t *testing.T, ctx context.Context) testutil.ProductFixture {
	t.Helper()
	product := suite.Fixtures.Product()
	_, err := suite.RawDB.ExecContext(ctx, `
		INSERT INTO products (id, name, category, unit, cost_per_unit, min_stock, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, product.ID, product.Name, product.Category, product.Unit,
		product.CostPerUnit, product.MinStock, product.IsActive)
	require.NoError(t, err)
	return product
}

func doJSON(t *testing.T, router chi.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor", "test-operator")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) httputil.Response {
	t.Helper()
	var resp httputil.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestBatchEndpoints_CreateAndConsume(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	suite.Reset(t, ctx)
	router := newTestRouter()
	product := seedProduct(t, ctx)

	expiry := time.Now().UTC().AddDate(0, 0, 90).Format("2006-01-02")
	rr := doJSON(t, router, "POST", "/api/v1/inventory/batches", map[string]interface{}{
		"product_id":   product.ID,
		"batch_number": "LOT-HTTP-1",
		"quantity":     50,
		"expiry_date":  expiry + "T00:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rr.Code, "unexpected status code. Body: %s", rr.Body.String())

	resp := decodeEnvelope(t, rr)
	assert.True(t, resp.Success)
	created, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "LOT-HTTP-1", created["batch_number"])
	assert.Equal(t, "ACTIVE", created["status"])

	// duplicate batch number conflicts instead of merging
	rr = doJSON(t, router, "POST", "/api/v1/inventory/batches", map[string]interface{}{
		"product_id":   product.ID,
		"batch_number": "LOT-HTTP-1",
		"quantity":     10,
		"expiry_date":  expiry + "T00:00:00Z",
	})
	assert.Equal(t, http.StatusConflict, rr.Code, "Body: %s", rr.Body.String())

	rr = doJSON(t, router, "POST", fmt.Sprintf("/api/v1/inventory/products/%s/consume", product.ID),
		map[string]interface{}{
			"product_id": product.ID,
			"quantity":   20,
			"reason":     "dispensed to ward",
		})
	require.Equal(t, http.StatusOK, rr.Code, "Body: %s", rr.Body.String())

	resp = decodeEnvelope(t, rr)
	result, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 30, result["quantity_on_hand"])

	// over-drawing the remaining stock reports the shortfall
	rr = doJSON(t, router, "POST", fmt.Sprintf("/api/v1/inventory/products/%s/consume", product.ID),
		map[string]interface{}{
			"product_id": product.ID,
			"quantity":   31,
			"reason":     "dispensed to ward",
		})
	require.Equal(t, http.StatusConflict, rr.Code, "Body: %s", rr.Body.String())

	resp = decodeEnvelope(t, rr)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INSUFFICIENT_STOCK", resp.Error.Code)
	assert.Equal(t, "31", resp.Error.Details["requested"])
	assert.Equal(t, "30", resp.Error.Details["available"])
}

func TestQuarantineEndpoints_FullEpisode(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	suite.Reset(t, ctx)
	router := newTestRouter()
	product := seedProduct(t, ctx)

	batch := suite.Fixtures.Batch(product.ID)
	_, err := suite.RawDB.ExecContext(ctx, `
		INSERT INTO batches (id, product_id, batch_number, quantity, initial_quantity, expiry_date, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, batch.ID, batch.ProductID, batch.BatchNumber, batch.Quantity,
		batch.InitialQuantity, batch.ExpiryDate, batch.Status)
	require.NoError(t, err)

	rr := doJSON(t, router, "POST", "/api/v1/inventory/quarantine", map[string]interface{}{
		"batch_id": batch.ID,
		"reason":   "damaged packaging",
	})
	require.Equal(t, http.StatusCreated, rr.Code, "Body: %s", rr.Body.String())

	resp := decodeEnvelope(t, rr)
	record, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	recordID, _ := record["id"].(string)
	require.NotEmpty(t, recordID)
	assert.Equal(t, "PENDING_REVIEW", record["status"])
	assert.Equal(t, "test-operator", record["created_by"])

	rr = doJSON(t, router, "POST", "/api/v1/inventory/quarantine/"+recordID+"/actions",
		map[string]interface{}{
			"action": "RELEASE",
			"notes":  "inspection passed",
		})
	require.Equal(t, http.StatusOK, rr.Code, "Body: %s", rr.Body.String())

	resp = decodeEnvelope(t, rr)
	resolved, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "RELEASED", resolved["status"])

	// detail view returns the record with its action history
	rr = doJSON(t, router, "GET", "/api/v1/inventory/quarantine/"+recordID, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	resp = decodeEnvelope(t, rr)
	detail, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	actions, ok := detail["actions"].([]interface{})
	require.True(t, ok)
	assert.Len(t, actions, 2)
}

func TestAnalyticsEndpoints_SnapshotAndTrends(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	suite.Reset(t, ctx)
	router := newTestRouter()
	product := seedProduct(t, ctx)

	batch := suite.Fixtures.Batch(product.ID, testutil.ExpiringIn(14))
	_, err := suite.RawDB.ExecContext(ctx, `
		INSERT INTO batches (id, product_id, batch_number, quantity, initial_quantity, expiry_date, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, batch.ID, batch.ProductID, batch.BatchNumber, batch.Quantity,
		batch.InitialQuantity, batch.ExpiryDate, batch.Status)
	require.NoError(t, err)

	rr := doJSON(t, router, "POST", "/api/v1/inventory/analytics/snapshots", nil)
	require.Equal(t, http.StatusOK, rr.Code, "Body: %s", rr.Body.String())

	resp := decodeEnvelope(t, rr)
	snap, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 1, snap["expiring_30_count"])
	assert.EqualValues(t, 1, snap["active_batch_count"])

	from := time.Now().UTC().AddDate(0, 0, -7).Format("2006-01-02")
	to := time.Now().UTC().Format("2006-01-02")
	rr = doJSON(t, router, "GET",
		"/api/v1/inventory/analytics/trends?from="+from+"&to="+to+"&granularity=DAILY", nil)
	require.Equal(t, http.StatusOK, rr.Code, "Body: %s", rr.Body.String())

	resp = decodeEnvelope(t, rr)
	points, ok := resp.Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, points, 1)

	rr = doJSON(t, router, "GET", "/api/v1/inventory/dashboard/summary", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	resp = decodeEnvelope(t, rr)
	summary, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 1, summary["active_batches"])
	assert.EqualValues(t, 1, summary["expiring_30_count"])
}
