package service

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/pharmstock/pharmstock-backend/internal/inventory/events"
	"github.com/pharmstock/pharmstock-backend/internal/inventory/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/database"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
	"github.com/pharmstock/pharmstock-backend/pkg/messaging"
)

// AutoQuarantineReason marks quarantine records opened by the expiry sweep
const AutoQuarantineReason = "Automatic: expired"

// QuarantineService owns the quarantine workflow: opening episodes, resolving
// them, and the scheduled expiry sweep.
type QuarantineService struct {
	db         *database.DB
	products   *repository.ProductRepository
	batches    *repository.BatchRepository
	quarantine *repository.QuarantineRepository
	publisher  *events.Publisher
	logger     *logger.Logger

	expiryImminentDays int

	// notifyMu guards lastNotified, which dedupes batch.expiring events to
	// one per batch per calendar day across sweep runs
	notifyMu     sync.Mutex
	lastNotified map[string]time.Time
}

// NewQuarantineService creates a new quarantine service
func NewQuarantineService(
	db *database.DB,
	products *repository.ProductRepository,
	batches *repository.BatchRepository,
	quarantine *repository.QuarantineRepository,
	publisher *events.Publisher,
	log *logger.Logger,
	expiryImminentDays int,
) *QuarantineService {
	if expiryImminentDays <= 0 {
		expiryImminentDays = 30
	}
	return &QuarantineService{
		db:                 db,
		products:           products,
		batches:            batches,
		quarantine:         quarantine,
		publisher:          publisher,
		logger:             log.WithComponent("quarantine-service"),
		expiryImminentDays: expiryImminentDays,
		lastNotified:       make(map[string]time.Time),
	}
}

// QuarantineInput is the payload for opening a quarantine episode
type QuarantineInput struct {
	BatchID     string `json:"batch_id" validate:"required,uuid"`
	Reason      string `json:"reason" validate:"required,max=500"`
	PerformedBy string `json:"-"`
}

// ActionInput is the payload for resolving a quarantine episode
type ActionInput struct {
	RecordID    string `json:"-"`
	Action      string `json:"action" validate:"required,oneof=DISPOSE RETURN RELEASE"`
	Notes       string `json:"notes" validate:"max=1000"`
	PerformedBy string `json:"-"`
}

// QuarantineBatch pulls a batch out of circulation pending review. The batch
// keeps its quantity (quarantined stock is on-hand, just unsellable) and
// moves to QUARANTINED. At most one open episode may exist per batch.
func (s *QuarantineService) QuarantineBatch(ctx context.Context, input QuarantineInput) (*repository.QuarantineRecord, error) {
	if input.PerformedBy == "" {
		input.PerformedBy = "system"
	}

	var record *repository.QuarantineRecord
	var batch *repository.Batch
	var product *repository.Product

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		var err error
		batch, err = s.batches.GetByIDForUpdate(ctx, tx, input.BatchID)
		if err != nil {
			return err
		}
		if batch.Status == repository.BatchStatusQuarantined {
			return errors.AlreadyQuarantined(batch.ID)
		}

		product, err = s.products.GetByIDTx(ctx, tx, batch.ProductID)
		if err != nil {
			return err
		}

		record = &repository.QuarantineRecord{
			BatchID:       batch.ID,
			ProductID:     batch.ProductID,
			Quantity:      batch.Quantity,
			Reason:        input.Reason,
			EstimatedLoss: estimatedLoss(batch),
			CreatedBy:     input.PerformedBy,
		}
		if err := s.quarantine.CreateTx(ctx, tx, record); err != nil {
			return err
		}

		if err := s.batches.UpdateStatusTx(ctx, tx, batch.ID, repository.BatchStatusQuarantined); err != nil {
			return err
		}
		batch.Status = repository.BatchStatusQuarantined

		return s.quarantine.AppendActionTx(ctx, tx, &repository.QuarantineAction{
			RecordID:    record.ID,
			Action:      "QUARANTINE",
			Notes:       input.Reason,
			PerformedBy: input.PerformedBy,
		})
	})
	if err != nil {
		return nil, err
	}

	s.publisher.QuarantineCreated(ctx, messaging.QuarantineCreatedEvent{
		QuarantineID:  record.ID,
		BatchID:       batch.ID,
		BatchNumber:   batch.BatchNumber,
		ProductID:     product.ID,
		ProductName:   product.Name,
		Quantity:      record.Quantity,
		Reason:        record.Reason,
		EstimatedLoss: record.EstimatedLoss.Decimal,
		PerformedBy:   input.PerformedBy,
	})

	s.logger.Info().
		Str("batch_id", batch.ID).
		Str("quarantine_id", record.ID).
		Str("reason", input.Reason).
		Msg("batch quarantined")

	return record, nil
}

// ProcessAction resolves an open quarantine episode. DISPOSE and RETURN
// permanently remove the quantity from usable stock; RELEASE restores the
// batch to ACTIVE with its quantity untouched. Valid only from
// PENDING_REVIEW.
func (s *QuarantineService) ProcessAction(ctx context.Context, input ActionInput) (*repository.QuarantineRecord, error) {
	if input.PerformedBy == "" {
		input.PerformedBy = "system"
	}

	var record *repository.QuarantineRecord
	var batch *repository.Batch
	var product *repository.Product

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		var err error
		record, err = s.quarantine.GetByIDForUpdate(ctx, tx, input.RecordID)
		if err != nil {
			return err
		}

		recordStatus, batchQuantity, batchStatus, err := resolveAction(record.Status, input.Action)
		if err != nil {
			return err
		}

		batch, err = s.batches.GetByIDForUpdate(ctx, tx, record.BatchID)
		if err != nil {
			return err
		}
		if batchQuantity < 0 {
			batchQuantity = batch.Quantity
		}

		product, err = s.products.GetByIDTx(ctx, tx, batch.ProductID)
		if err != nil {
			return err
		}

		if err := s.quarantine.ResolveTx(ctx, tx, record.ID, recordStatus, input.PerformedBy); err != nil {
			return err
		}
		record.Status = recordStatus
		record.ResolvedBy = &input.PerformedBy
		now := time.Now().UTC()
		record.ResolvedAt = &now

		if err := s.batches.UpdateQuantityStatusTx(ctx, tx, batch.ID, batchQuantity, batchStatus); err != nil {
			return err
		}
		batch.Quantity = batchQuantity
		batch.Status = batchStatus

		if err := s.quarantine.AppendActionTx(ctx, tx, &repository.QuarantineAction{
			RecordID:    record.ID,
			Action:      input.Action,
			Notes:       input.Notes,
			PerformedBy: input.PerformedBy,
		}); err != nil {
			return err
		}

		total, err := s.batches.SumOnHandByProductTx(ctx, tx, batch.ProductID)
		if err != nil {
			return err
		}
		return s.products.SetQuantityOnHandTx(ctx, tx, batch.ProductID, total)
	})
	if err != nil {
		return nil, err
	}

	s.publisher.QuarantineClosed(ctx, messaging.QuarantineClosedEvent{
		QuarantineID: record.ID,
		BatchID:      batch.ID,
		BatchNumber:  batch.BatchNumber,
		ProductID:    product.ID,
		ProductName:  product.Name,
		Action:       input.Action,
		PerformedBy:  input.PerformedBy,
	})

	s.logger.Info().
		Str("quarantine_id", record.ID).
		Str("action", input.Action).
		Str("batch_id", batch.ID).
		Msg("quarantine resolved")

	return record, nil
}

// resolveAction maps a quarantine action applied in the given record state
// to the resulting record status, batch quantity (-1 means keep the current
// quantity) and batch status. Pure so transition legality is testable
// without a database.
func resolveAction(currentStatus, action string) (recordStatus string, batchQuantity int, batchStatus string, err error) {
	if currentStatus != repository.QuarantineStatusPendingReview {
		return "", 0, "", errors.InvalidTransition(currentStatus, action)
	}

	switch action {
	case repository.QuarantineActionDispose:
		return repository.QuarantineStatusDisposed, 0, repository.BatchStatusExpired, nil
	case repository.QuarantineActionReturn:
		return repository.QuarantineStatusReturned, 0, repository.BatchStatusDepleted, nil
	case repository.QuarantineActionRelease:
		return repository.QuarantineStatusReleased, -1, repository.BatchStatusActive, nil
	default:
		return "", 0, "", errors.InvalidTransition(currentStatus, action)
	}
}

// GetRecord gets a quarantine record with its action history
func (s *QuarantineService) GetRecord(ctx context.Context, id string) (*repository.QuarantineRecord, []*repository.QuarantineAction, error) {
	record, err := s.quarantine.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	actions, err := s.quarantine.ListActions(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return record, actions, nil
}

// ListRecords lists quarantine records, optionally filtered by status
func (s *QuarantineService) ListRecords(ctx context.Context, status string, page, perPage int) ([]*repository.QuarantineRecord, int64, error) {
	return s.quarantine.List(ctx, status, page, perPage)
}

// SweepResult reports what an expiry sweep did
type SweepResult struct {
	Quarantined int `json:"quarantined"`
	Skipped     int `json:"skipped"`
	Notified    int `json:"notified"`
}

// AutoQuarantineExpiredBatches finds ACTIVE batches whose expiry date has
// passed, marks each EXPIRED and opens a quarantine episode for it. The
// sweep is idempotent: batches already EXPIRED or QUARANTINED are not
// selected, and a per-batch failure is logged and skipped so one bad batch
// does not abort the rest. Also emits batch.expiring events for batches
// inside the imminent-expiry horizon.
func (s *QuarantineService) AutoQuarantineExpiredBatches(ctx context.Context) (*SweepResult, error) {
	now := time.Now().UTC()
	result := &SweepResult{}

	expired, err := s.batches.ListExpiredActive(ctx, now)
	if err != nil {
		return nil, err
	}

	for _, batch := range expired {
		err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
			locked, err := s.batches.GetByIDForUpdate(ctx, tx, batch.ID)
			if err != nil {
				return err
			}
			// re-check under lock: a concurrent sweep or manual action may
			// have moved the batch already
			if locked.Status != repository.BatchStatusActive {
				result.Skipped++
				return nil
			}

			record := &repository.QuarantineRecord{
				BatchID:       locked.ID,
				ProductID:     locked.ProductID,
				Quantity:      locked.Quantity,
				Reason:        AutoQuarantineReason,
				EstimatedLoss: estimatedLoss(locked),
				CreatedBy:     "system",
			}
			if err := s.quarantine.CreateTx(ctx, tx, record); err != nil {
				return err
			}

			if err := s.batches.UpdateStatusTx(ctx, tx, locked.ID, repository.BatchStatusExpired); err != nil {
				return err
			}

			if err := s.quarantine.AppendActionTx(ctx, tx, &repository.QuarantineAction{
				RecordID:    record.ID,
				Action:      "QUARANTINE",
				Notes:       AutoQuarantineReason,
				PerformedBy: "system",
			}); err != nil {
				return err
			}

			result.Quarantined++
			return nil
		})
		if err != nil {
			if errors.Is(err, errors.ErrConflict) {
				result.Skipped++
				continue
			}
			s.logger.WithError(err).Error().
				Str("batch_id", batch.ID).
				Msg("expiry sweep failed for batch, skipping")
			result.Skipped++
		}
	}

	notified, err := s.notifyExpiring(ctx, now)
	if err != nil {
		s.logger.WithError(err).Error().Msg("failed to publish expiring-batch events")
	}
	result.Notified = notified

	s.logger.Info().
		Int("quarantined", result.Quarantined).
		Int("skipped", result.Skipped).
		Int("notified", result.Notified).
		Msg("expiry sweep complete")

	return result, nil
}

// notifyExpiring emits batch.expiring events for ACTIVE batches inside the
// imminent-expiry horizon, at most once per batch per calendar day. The
// manual sweep endpoint can run any number of times without re-alerting.
func (s *QuarantineService) notifyExpiring(ctx context.Context, now time.Time) (int, error) {
	expiring, err := s.batches.ListExpiringWithin(ctx, now, s.expiryImminentDays)
	if err != nil {
		return 0, err
	}

	day := dateOnlyUTC(now)
	notified := 0
	names := make(map[string]string)
	for _, batch := range expiring {
		if s.alreadyNotified(batch.ID, day) {
			continue
		}

		name, ok := names[batch.ProductID]
		if !ok {
			product, err := s.products.GetByID(ctx, batch.ProductID)
			if err != nil {
				s.logger.WithError(err).Warn().Str("product_id", batch.ProductID).Msg("skipping expiring-batch event")
				continue
			}
			name = product.Name
			names[batch.ProductID] = name
		}

		s.publisher.BatchExpiring(ctx, messaging.BatchExpiringEvent{
			ProductID:       batch.ProductID,
			ProductName:     name,
			BatchID:         batch.ID,
			BatchNumber:     batch.BatchNumber,
			ExpiryDate:      batch.ExpiryDate,
			DaysUntilExpiry: batch.DaysUntilExpiry(now),
			Quantity:        batch.Quantity,
		})
		s.markNotified(batch.ID, day)
		notified++
	}

	return notified, nil
}

func (s *QuarantineService) alreadyNotified(batchID string, day time.Time) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	last, ok := s.lastNotified[batchID]
	return ok && last.Equal(day)
}

// markNotified records that the batch was alerted on the given day. Entries
// from earlier days are pruned here so the map only ever holds today's
// alerted batches.
func (s *QuarantineService) markNotified(batchID string, day time.Time) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	for id, last := range s.lastNotified {
		if last.Before(day) {
			delete(s.lastNotified, id)
		}
	}
	s.lastNotified[batchID] = day
}

// estimatedLoss computes quantity x cost-per-unit for a batch. Missing cost
// data yields a null loss rather than a misleading zero.
func estimatedLoss(batch *repository.Batch) decimal.NullDecimal {
	if !batch.CostPerUnit.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(batch.CostPerUnit.Decimal.Mul(decimal.NewFromInt(int64(batch.Quantity))))
}
