package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/tourledger/pkg/catalog"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/ledger"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/notification"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/purchase"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/replacement"
	"go.uber.org/zap"
)

// ExpiryWorker expires replacement requests nobody accepted before the
// cutoff and refunds the tourists booked on the cancelled tour.
type ExpiryWorker struct {
	replacements Replacements
	catalog      Catalog
	purchases    Purchases
	bonus        Ledger
	sender       notification.Sender
	logger       *zap.Logger
	metrics      *Metrics
}

// NewExpiryWorker wires an ExpiryWorker.
func NewExpiryWorker(replacements Replacements, tours Catalog, purchases Purchases, bonus Ledger, sender notification.Sender, options ...WorkerOption) (*ExpiryWorker, error) {
	if replacements == nil {
		return nil, fmt.Errorf("%w: replacements dependency is nil", ErrInvalidWorkerConfig)
	}
	if tours == nil {
		return nil, fmt.Errorf("%w: catalog dependency is nil", ErrInvalidWorkerConfig)
	}
	if purchases == nil {
		return nil, fmt.Errorf("%w: purchases dependency is nil", ErrInvalidWorkerConfig)
	}
	if bonus == nil {
		return nil, fmt.Errorf("%w: ledger dependency is nil", ErrInvalidWorkerConfig)
	}
	if sender == nil {
		return nil, fmt.Errorf("%w: sender dependency is nil", ErrInvalidWorkerConfig)
	}
	resolved := applyWorkerOptions(options)
	return &ExpiryWorker{
		replacements: replacements,
		catalog:      tours,
		purchases:    purchases,
		bonus:        bonus,
		sender:       sender,
		logger:       resolved.logger,
		metrics:      resolved.metrics,
	}, nil
}

// RefundIdempotencyKey identifies the refund of one purchase for a cancelled tour.
func RefundIdempotencyKey(tourID string, purchaseID string) string {
	return fmt.Sprintf("%s:%s:%s", refundIdempotencyPrefix, tourID, purchaseID)
}

// RunOnce expires pending requests whose tour starts within 24 hours of now,
// then settles every expired request whose refunds are still open. A request
// is expired before any refund is issued, and settlement is recorded only
// after all refunds and the cancellation notice went through, so a crash at
// any point is finished by a later tick.
func (worker *ExpiryWorker) RunOnce(ctx context.Context, now time.Time) (ExpiryReport, error) {
	report := ExpiryReport{}
	pending, err := worker.replacements.PendingReplacements(ctx)
	if err != nil {
		return report, fmt.Errorf("list pending replacements: %w", err)
	}
	cutoff := now.Add(expiryCutoff)
	for _, candidate := range pending {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		worker.expire(ctx, candidate, cutoff, &report)
	}

	unsettled, err := worker.replacements.ExpiredUnsettled(ctx)
	if err != nil {
		return report, fmt.Errorf("list unsettled replacements: %w", err)
	}
	for _, expired := range unsettled {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		worker.settle(ctx, expired, &report)
	}
	if report.Expired > 0 || report.Settled > 0 || report.Failed > 0 {
		worker.logger.Info("expiry tick finished",
			zap.Int("expired", report.Expired),
			zap.Int("refunded", report.Refunded),
			zap.Int("settled", report.Settled),
			zap.Int("failed", report.Failed),
		)
	}
	return report, nil
}

func (worker *ExpiryWorker) expire(ctx context.Context, candidate replacement.Replacement, cutoff time.Time, report *ExpiryReport) {
	tour, err := worker.catalog.GetTour(ctx, candidate.TourID)
	if errors.Is(err, catalog.ErrTourNotFound) {
		worker.logger.Warn("pending replacement without tour", zap.String("replacement_id", candidate.ID), zap.String("tour_id", candidate.TourID))
		return
	}
	if err != nil {
		report.Failed++
		worker.metrics.observeItem(JobExpiry, outcomeFailed)
		worker.logger.Error("load tour for pending replacement", zap.String("replacement_id", candidate.ID), zap.Error(err))
		return
	}
	if tour.Date.After(cutoff) {
		return
	}
	if _, err := worker.replacements.ExpireReplacement(ctx, candidate.ID); err != nil {
		if errors.Is(err, replacement.ErrInvalidTransition) {
			worker.logger.Info("replacement left pending before expiry", zap.String("replacement_id", candidate.ID))
			return
		}
		report.Failed++
		worker.metrics.observeItem(JobExpiry, outcomeFailed)
		worker.logger.Error("expire replacement", zap.String("replacement_id", candidate.ID), zap.Error(err))
		return
	}
	report.Expired++
	worker.logger.Info("cancelling tour without replacement guide",
		zap.String("replacement_id", candidate.ID),
		zap.String("tour_id", tour.ID),
		zap.String("tour_name", tour.Name),
	)
}

func (worker *ExpiryWorker) settle(ctx context.Context, expired replacement.Replacement, report *ExpiryReport) {
	tour, err := worker.catalog.GetTour(ctx, expired.TourID)
	if errors.Is(err, catalog.ErrTourNotFound) {
		worker.logger.Warn("expired replacement without tour, nothing to refund", zap.String("replacement_id", expired.ID), zap.String("tour_id", expired.TourID))
		worker.markSettled(ctx, expired, report)
		return
	}
	if err != nil {
		report.Failed++
		worker.metrics.observeItem(JobExpiry, outcomeFailed)
		worker.logger.Error("load tour for expired replacement", zap.String("replacement_id", expired.ID), zap.Error(err))
		return
	}
	purchases, err := worker.purchases.ListCompletedForTour(ctx, tour.ID)
	if err != nil {
		report.Failed++
		worker.metrics.observeItem(JobExpiry, outcomeFailed)
		worker.logger.Error("list purchases for cancelled tour", zap.String("tour_id", tour.ID), zap.Error(err))
		return
	}

	refunded := true
	touristIDs := make([]string, 0, len(purchases))
	seen := make(map[string]struct{}, len(purchases))
	for _, record := range purchases {
		if ctx.Err() != nil {
			return
		}
		if _, ok := seen[record.TouristID]; !ok {
			seen[record.TouristID] = struct{}{}
			touristIDs = append(touristIDs, record.TouristID)
		}
		if err := worker.refund(ctx, expired, tour, record); err != nil {
			refunded = false
			report.Failed++
			worker.metrics.observeItem(JobExpiry, outcomeFailed)
			worker.logger.Error("refund tourist",
				zap.String("tourist_id", record.TouristID),
				zap.String("purchase_id", record.ID),
				zap.String("tour_id", tour.ID),
				zap.Error(err),
			)
			continue
		}
		report.Refunded++
	}
	if !refunded {
		return
	}

	if len(touristIDs) > 0 {
		cancellation := notification.TourCancellation{
			TourID:       tour.ID,
			TourName:     tour.Name,
			OriginalDate: tour.Date,
			Reason:       notification.CancellationReasonNoReplacement,
			RefundAmount: tour.Price,
		}
		if err := worker.sender.SendTourCancellation(ctx, touristIDs, cancellation); err != nil {
			report.Failed++
			worker.metrics.observeItem(JobExpiry, outcomeFailed)
			worker.logger.Warn("send tour cancellation", zap.String("tour_id", tour.ID), zap.Int("tourists", len(touristIDs)), zap.Error(err))
			return
		}
	}
	worker.markSettled(ctx, expired, report)
}

// refund credits the tour price once per purchase. A duplicate idempotency
// key means an earlier tick already committed this refund.
func (worker *ExpiryWorker) refund(ctx context.Context, expired replacement.Replacement, tour catalog.Tour, record purchase.Purchase) error {
	if !tour.Price.IsPositive() {
		return nil
	}
	touristID, err := ledger.NewTouristID(record.TouristID)
	if err != nil {
		return err
	}
	amount, err := ledger.NewPositivePoints(tour.Price)
	if err != nil {
		return err
	}
	metadata, err := json.Marshal(map[string]string{"replacement_id": expired.ID, "tour_name": tour.Name})
	if err != nil {
		return fmt.Errorf("encode refund metadata: %w", err)
	}
	reference := ledger.Reference{
		TourID:         tour.ID,
		PurchaseID:     record.ID,
		IdempotencyKey: RefundIdempotencyKey(tour.ID, record.ID),
		Metadata:       string(metadata),
	}
	_, err = worker.bonus.Credit(ctx, touristID, amount, refundReason, reference)
	if errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
		worker.logger.Info("refund already issued", zap.String("purchase_id", record.ID), zap.String("tour_id", tour.ID))
		return nil
	}
	if err != nil {
		return err
	}
	worker.metrics.observeItem(JobExpiry, outcomeSucceeded)
	worker.logger.Info("refunded tourist",
		zap.String("tourist_id", record.TouristID),
		zap.String("purchase_id", record.ID),
		zap.String("tour_id", tour.ID),
		zap.String("amount", tour.Price.StringFixed(2)),
	)
	return nil
}

func (worker *ExpiryWorker) markSettled(ctx context.Context, expired replacement.Replacement, report *ExpiryReport) {
	if err := worker.replacements.MarkRefundsSettled(ctx, expired.ID); err != nil {
		report.Failed++
		worker.metrics.observeItem(JobExpiry, outcomeFailed)
		worker.logger.Error("mark refunds settled", zap.String("replacement_id", expired.ID), zap.Error(err))
		return
	}
	report.Settled++
}
