package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pharmstock/pharmstock-backend/internal/inventory/repository"
	"github.com/pharmstock/pharmstock-backend/internal/inventory/service"
	"github.com/pharmstock/pharmstock-backend/pkg/httputil"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
)

// QuarantineHandler exposes the quarantine workflow over HTTP
type QuarantineHandler struct {
	quarantine *service.QuarantineService
	logger     *logger.Logger
}

// NewQuarantineHandler creates a new quarantine handler
func NewQuarantineHandler(quarantine *service.QuarantineService, log *logger.Logger) *QuarantineHandler {
	return &QuarantineHandler{
		quarantine: quarantine,
		logger:     log.WithComponent("quarantine-handler"),
	}
}

// Routes registers the quarantine routes
func (h *QuarantineHandler) Routes(r chi.Router) {
	r.Route("/quarantine", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Post("/{id}/actions", h.ProcessAction)
		r.Post("/sweep", h.Sweep)
	})
}

// Create handles POST /quarantine
func (h *QuarantineHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input service.QuarantineInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}
	input.PerformedBy = httputil.GetActor(r.Context())

	if err := httputil.Validate(&input); err != nil {
		httputil.Error(w, err)
		return
	}

	record, err := h.quarantine.QuarantineBatch(r.Context(), input)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, record)
}

// Get handles GET /quarantine/{id}, returning the record with its action
// history
func (h *QuarantineHandler) Get(w http.ResponseWriter, r *http.Request) {
	record, actions, err := h.quarantine.GetRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"record":  record,
		"actions": actions,
	})
}

// List handles GET /quarantine?status=PENDING_REVIEW
func (h *QuarantineHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)
	status := r.URL.Query().Get("status")

	records, total, err := h.quarantine.ListRecords(r.Context(), status, page, perPage)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	if records == nil {
		records = []*repository.QuarantineRecord{}
	}

	httputil.JSONWithMeta(w, http.StatusOK, records, &httputil.Meta{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages(total, perPage),
	})
}

// ProcessAction handles POST /quarantine/{id}/actions
func (h *QuarantineHandler) ProcessAction(w http.ResponseWriter, r *http.Request) {
	var input service.ActionInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}
	input.RecordID = chi.URLParam(r, "id")
	input.PerformedBy = httputil.GetActor(r.Context())

	if err := httputil.Validate(&input); err != nil {
		httputil.Error(w, err)
		return
	}

	record, err := h.quarantine.ProcessAction(r.Context(), input)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, record)
}

// Sweep handles POST /quarantine/sweep, the manual trigger for the daily
// expiry sweep
func (h *QuarantineHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.quarantine.AutoQuarantineExpiredBatches(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}
