package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmstock/pharmstock-backend/internal/inventory/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
)

func TestResolveAction_FromPendingReview(t *testing.T) {
	tests := []struct {
		action           string
		wantRecordStatus string
		wantQuantity     int
		wantBatchStatus  string
	}{
		{
			action:           repository.QuarantineActionDispose,
			wantRecordStatus: repository.QuarantineStatusDisposed,
			wantQuantity:     0,
			wantBatchStatus:  repository.BatchStatusExpired,
		},
		{
			action:           repository.QuarantineActionReturn,
			wantRecordStatus: repository.QuarantineStatusReturned,
			wantQuantity:     0,
			wantBatchStatus:  repository.BatchStatusDepleted,
		},
		{
			action:           repository.QuarantineActionRelease,
			wantRecordStatus: repository.QuarantineStatusReleased,
			wantQuantity:     -1, // keep current quantity
			wantBatchStatus:  repository.BatchStatusActive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			recordStatus, quantity, batchStatus, err := resolveAction(repository.QuarantineStatusPendingReview, tt.action)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRecordStatus, recordStatus)
			assert.Equal(t, tt.wantQuantity, quantity)
			assert.Equal(t, tt.wantBatchStatus, batchStatus)
		})
	}
}

func TestResolveAction_ClosedStatesAreTerminal(t *testing.T) {
	closed := []string{
		repository.QuarantineStatusDisposed,
		repository.QuarantineStatusReturned,
		repository.QuarantineStatusReleased,
	}
	actions := []string{
		repository.QuarantineActionDispose,
		repository.QuarantineActionReturn,
		repository.QuarantineActionRelease,
	}

	for _, status := range closed {
		for _, action := range actions {
			t.Run(status+"_"+action, func(t *testing.T) {
				_, _, _, err := resolveAction(status, action)
				require.Error(t, err)
				assert.True(t, errors.Is(err, errors.ErrInvalidTransition))

				var appErr *errors.AppError
				require.True(t, errors.As(err, &appErr))
				assert.Equal(t, status, appErr.Details["current_status"])
				assert.Equal(t, action, appErr.Details["action"])
			})
		}
	}
}

func TestResolveAction_UnknownAction(t *testing.T) {
	_, _, _, err := resolveAction(repository.QuarantineStatusPendingReview, "INCINERATE")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))
}

func TestExpiringNotificationDedup(t *testing.T) {
	s := &QuarantineService{lastNotified: make(map[string]time.Time)}

	today := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	tomorrow := today.AddDate(0, 0, 1)

	assert.False(t, s.alreadyNotified("batch-1", today))
	s.markNotified("batch-1", today)

	// repeat sweeps on the same day stay silent
	assert.True(t, s.alreadyNotified("batch-1", today))
	assert.False(t, s.alreadyNotified("batch-2", today))

	// a new day alerts again and prunes yesterday's entries
	assert.False(t, s.alreadyNotified("batch-1", tomorrow))
	s.markNotified("batch-2", tomorrow)
	assert.True(t, s.alreadyNotified("batch-2", tomorrow))
	assert.Len(t, s.lastNotified, 1)
}
