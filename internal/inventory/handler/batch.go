package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pharmstock/pharmstock-backend/internal/inventory/service"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/httputil"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
)

// BatchHandler exposes batch lifecycle operations over HTTP
type BatchHandler struct {
	batches *service.BatchService
	logger  *logger.Logger
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(batches *service.BatchService, log *logger.Logger) *BatchHandler {
	return &BatchHandler{
		batches: batches,
		logger:  log.WithComponent("batch-handler"),
	}
}

// Routes registers the batch routes
func (h *BatchHandler) Routes(r chi.Router) {
	r.Route("/batches", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/expiring", h.ListExpiring)
		r.Get("/{id}", h.Get)
		r.Post("/{id}/adjust", h.Adjust)
	})
	r.Route("/products/{productID}", func(r chi.Router) {
		r.Get("/batches", h.ListByProduct)
		r.Post("/consume", h.Consume)
		r.Get("/consumptions", h.ListConsumptions)
	})
}

// Create handles POST /batches
func (h *BatchHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input service.CreateBatchInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&input); err != nil {
		httputil.Error(w, err)
		return
	}

	batch, err := h.batches.CreateBatch(r.Context(), input)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, batch)
}

// Get handles GET /batches/{id}
func (h *BatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	batch, err := h.batches.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, batch)
}

// ListByProduct handles GET /products/{productID}/batches
func (h *BatchHandler) ListByProduct(w http.ResponseWriter, r *http.Request) {
	batches, err := h.batches.ListBatches(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, batches)
}

// ListExpiring handles GET /batches/expiring?days=30
func (h *BatchHandler) ListExpiring(w http.ResponseWriter, r *http.Request) {
	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httputil.Error(w, errors.BadRequest("days must be an integer"))
			return
		}
		days = parsed
	}

	batches, err := h.batches.ListExpiring(r.Context(), days)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, batches)
}

// Consume handles POST /products/{productID}/consume
func (h *BatchHandler) Consume(w http.ResponseWriter, r *http.Request) {
	var input service.ConsumeInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}
	input.ProductID = chi.URLParam(r, "productID")
	input.PerformedBy = httputil.GetActor(r.Context())

	if err := httputil.Validate(&input); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.batches.Consume(r.Context(), input)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// Adjust handles POST /batches/{id}/adjust
func (h *BatchHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	var input service.AdjustInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}
	input.BatchID = chi.URLParam(r, "id")
	input.PerformedBy = httputil.GetActor(r.Context())

	if err := httputil.Validate(&input); err != nil {
		httputil.Error(w, err)
		return
	}

	batch, err := h.batches.Adjust(r.Context(), input)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, batch)
}

// ListConsumptions handles GET /products/{productID}/consumptions
func (h *BatchHandler) ListConsumptions(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)

	ledger, total, err := h.batches.ListConsumptions(r.Context(), chi.URLParam(r, "productID"), page, perPage)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, ledger, &httputil.Meta{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages(total, perPage),
	})
}

// pagination reads page/per_page query params with sane bounds
func pagination(r *http.Request) (int, int) {
	page := 1
	perPage := 20

	if raw := r.URL.Query().Get("page"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			page = parsed
		}
	}
	if raw := r.URL.Query().Get("per_page"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			perPage = parsed
		}
	}

	return page, perPage
}

func totalPages(total int64, perPage int) int {
	if perPage == 0 {
		return 0
	}
	pages := int(total) / perPage
	if int(total)%perPage != 0 {
		pages++
	}
	return pages
}
