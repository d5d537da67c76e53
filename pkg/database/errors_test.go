package database

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/lib/pq"

	"github.com/pharmstock/pharmstock-backend/pkg/errors"
)

func TestMapPQError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantNil    bool
		wantCode   string
		wantStatus int
	}{
		{
			name:    "non-pq error passes through",
			err:     fmt.Errorf("connection reset"),
			wantNil: true,
		},
		{
			name:       "duplicate batch number",
			err:        &pq.Error{Code: "23505", Constraint: "batches_product_batch_number_key"},
			wantCode:   "CONFLICT",
			wantStatus: http.StatusConflict,
		},
		{
			name:       "duplicate snapshot date",
			err:        &pq.Error{Code: "23505", Constraint: "expiry_trend_snapshots_snapshot_date_key"},
			wantCode:   "CONFLICT",
			wantStatus: http.StatusConflict,
		},
		{
			name:       "second open quarantine",
			err:        &pq.Error{Code: "23505", Constraint: "open_quarantine_per_batch_idx"},
			wantCode:   "CONFLICT",
			wantStatus: http.StatusConflict,
		},
		{
			name:       "negative quantity check",
			err:        &pq.Error{Code: "23514", Constraint: "batches_quantity_non_negative"},
			wantCode:   "VALIDATION_ERROR",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "quantity above initial check",
			err:        &pq.Error{Code: "23514", Constraint: "batches_quantity_within_initial"},
			wantCode:   "VALIDATION_ERROR",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid status check",
			err:        &pq.Error{Code: "23514", Constraint: "batches_status_valid"},
			wantCode:   "VALIDATION_ERROR",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing product reference",
			err:        &pq.Error{Code: "23503", Constraint: "batches_product_id_fkey"},
			wantCode:   "BAD_REQUEST",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapPQError(tt.err)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("MapPQError() = %v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("MapPQError() = nil, want AppError")
			}
			if got.Code != tt.wantCode {
				t.Errorf("Code = %v, want %v", got.Code, tt.wantCode)
			}
			if got.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %v, want %v", got.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	dup := &pq.Error{Code: "23505", Constraint: "open_quarantine_per_batch_idx"}

	if !IsUniqueViolation(dup, "open_quarantine") {
		t.Error("expected match on constraint substring")
	}
	if !IsUniqueViolation(dup, "") {
		t.Error("expected match on any unique violation")
	}
	if IsUniqueViolation(dup, "batch_number") {
		t.Error("unexpected match on unrelated constraint")
	}
	if IsUniqueViolation(fmt.Errorf("not a pq error"), "") {
		t.Error("unexpected match on non-pq error")
	}
	if IsUniqueViolation(&pq.Error{Code: "23514"}, "") {
		t.Error("unexpected match on check violation")
	}
}

// keep the mapping honest about the sentinel chain
func TestMapPQError_WrapsSentinels(t *testing.T) {
	conflict := MapPQError(&pq.Error{Code: "23505", Constraint: "batches_product_batch_number_key"})
	if !errors.Is(conflict, errors.ErrConflict) {
		t.Error("unique violation should wrap ErrConflict")
	}

	validation := MapPQError(&pq.Error{Code: "23514", Constraint: "batches_quantity_non_negative"})
	if !errors.Is(validation, errors.ErrValidation) {
		t.Error("check violation should wrap ErrValidation")
	}
}
