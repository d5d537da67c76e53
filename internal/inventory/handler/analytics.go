package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pharmstock/pharmstock-backend/internal/inventory/service"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/httputil"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
)

// AnalyticsHandler exposes snapshots, trend series, predictions and the
// dashboard summary over HTTP
type AnalyticsHandler struct {
	analytics *service.AnalyticsService
	summary   *service.SummaryService
	logger    *logger.Logger
}

// NewAnalyticsHandler creates a new analytics handler
func NewAnalyticsHandler(analytics *service.AnalyticsService, summary *service.SummaryService, log *logger.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		analytics: analytics,
		summary:   summary,
		logger:    log.WithComponent("analytics-handler"),
	}
}

// Routes registers the analytics routes
func (h *AnalyticsHandler) Routes(r chi.Router) {
	r.Route("/analytics", func(r chi.Router) {
		r.Post("/snapshots", h.Capture)
		r.Post("/snapshots/{date}/recompute", h.Recompute)
		r.Get("/snapshots/{date}", h.GetSnapshot)
		r.Get("/trends", h.Trends)
		r.Get("/trends/export", h.Export)
		r.Get("/predictions", h.Predict)
	})
	r.Get("/dashboard/summary", h.Summary)
}

// Capture handles POST /analytics/snapshots?date=2025-06-01, the manual
// trigger for the daily capture. Date defaults to today.
func (h *AnalyticsHandler) Capture(w http.ResponseWriter, r *http.Request) {
	date := time.Now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httputil.Error(w, errors.BadRequest("date must be formatted YYYY-MM-DD"))
			return
		}
		date = parsed
	}

	snapshot, err := h.analytics.CaptureSnapshot(r.Context(), date)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, snapshot)
}

// Recompute handles POST /analytics/snapshots/{date}/recompute
func (h *AnalyticsHandler) Recompute(w http.ResponseWriter, r *http.Request) {
	date, err := time.Parse("2006-01-02", chi.URLParam(r, "date"))
	if err != nil {
		httputil.Error(w, errors.BadRequest("date must be formatted YYYY-MM-DD"))
		return
	}

	snapshot, err := h.analytics.RecomputeSnapshot(r.Context(), date)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, snapshot)
}

// GetSnapshot handles GET /analytics/snapshots/{date}
func (h *AnalyticsHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	date, err := time.Parse("2006-01-02", chi.URLParam(r, "date"))
	if err != nil {
		httputil.Error(w, errors.BadRequest("date must be formatted YYYY-MM-DD"))
		return
	}

	snapshot, err := h.analytics.GetSnapshot(r.Context(), date)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, snapshot)
}

// Trends handles GET /analytics/trends?from=...&to=...&granularity=WEEKLY
func (h *AnalyticsHandler) Trends(w http.ResponseWriter, r *http.Request) {
	from, to, err := dateRange(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	granularity := r.URL.Query().Get("granularity")
	if granularity == "" {
		granularity = service.GranularityDaily
	}

	points, err := h.analytics.GetTrendSeries(r.Context(), from, to, granularity)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, points)
}

// Export handles GET /analytics/trends/export?from=...&to=..., returning the
// ordered flat rows an external formatter turns into CSV
func (h *AnalyticsHandler) Export(w http.ResponseWriter, r *http.Request) {
	from, to, err := dateRange(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	rows, err := h.analytics.ExportTrendHistory(r.Context(), from, to)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, rows)
}

// Predict handles GET /analytics/predictions?days=14
func (h *AnalyticsHandler) Predict(w http.ResponseWriter, r *http.Request) {
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httputil.Error(w, errors.BadRequest("days must be an integer"))
			return
		}
		days = parsed
	}

	prediction, err := h.analytics.GetPrediction(r.Context(), days)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, prediction)
}

// Summary handles GET /dashboard/summary
func (h *AnalyticsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.summary.GetSummary(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, summary)
}

// dateRange reads from/to query params, defaulting to the trailing 30 days
func dateRange(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now

	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.BadRequest("from must be formatted YYYY-MM-DD")
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.BadRequest("to must be formatted YYYY-MM-DD")
		}
		to = parsed
	}

	return from, to, nil
}
