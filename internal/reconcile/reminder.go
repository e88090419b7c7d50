package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/tourledger/pkg/catalog"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/notification"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/purchase"
	"go.uber.org/zap"
)

var ErrInvalidWorkerConfig = errors.New("invalid worker config")

// WorkerOption configures a worker.
type WorkerOption func(*workerOptions)

type workerOptions struct {
	logger  *zap.Logger
	metrics *Metrics
}

// WithLogger sets the worker logger.
func WithLogger(logger *zap.Logger) WorkerOption {
	return func(options *workerOptions) {
		if logger != nil {
			options.logger = logger
		}
	}
}

// WithMetrics records per-item outcomes.
func WithMetrics(metrics *Metrics) WorkerOption {
	return func(options *workerOptions) {
		options.metrics = metrics
	}
}

func applyWorkerOptions(options []WorkerOption) workerOptions {
	resolved := workerOptions{logger: zap.NewNop()}
	for _, option := range options {
		if option != nil {
			option(&resolved)
		}
	}
	return resolved
}

// ReminderWorker sends one reminder per purchased tour about two days
// before the tour starts.
type ReminderWorker struct {
	catalog   Catalog
	purchases Purchases
	sender    notification.Sender
	logger    *zap.Logger
	metrics   *Metrics
}

// NewReminderWorker wires a ReminderWorker.
func NewReminderWorker(tours Catalog, purchases Purchases, sender notification.Sender, options ...WorkerOption) (*ReminderWorker, error) {
	if tours == nil {
		return nil, fmt.Errorf("%w: catalog dependency is nil", ErrInvalidWorkerConfig)
	}
	if purchases == nil {
		return nil, fmt.Errorf("%w: purchases dependency is nil", ErrInvalidWorkerConfig)
	}
	if sender == nil {
		return nil, fmt.Errorf("%w: sender dependency is nil", ErrInvalidWorkerConfig)
	}
	resolved := applyWorkerOptions(options)
	return &ReminderWorker{
		catalog:   tours,
		purchases: purchases,
		sender:    sender,
		logger:    resolved.logger,
		metrics:   resolved.metrics,
	}, nil
}

// ReminderWindow returns the inclusive range of tour dates a tick at now covers.
func ReminderWindow(now time.Time) (time.Time, time.Time) {
	target := now.Add(reminderLeadTime)
	return target.Add(-reminderTolerance), target.Add(reminderTolerance)
}

// RunOnce scans the reminder window once. Only the tour listing can fail the
// tick; per-purchase failures are logged, counted and retried next tick.
func (worker *ReminderWorker) RunOnce(ctx context.Context, now time.Time) (ReminderReport, error) {
	from, to := ReminderWindow(now)
	tours, err := worker.catalog.ListPublishedBetween(ctx, from, to)
	if err != nil {
		return ReminderReport{}, fmt.Errorf("list tours in reminder window: %w", err)
	}
	report := ReminderReport{Tours: len(tours)}
	for _, tour := range tours {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		worker.remindTour(ctx, tour, now, &report)
	}
	if report.Sent > 0 || report.Failed > 0 {
		worker.logger.Info("reminder tick finished",
			zap.Int("tours", report.Tours),
			zap.Int("sent", report.Sent),
			zap.Int("failed", report.Failed),
		)
	}
	return report, nil
}

func (worker *ReminderWorker) remindTour(ctx context.Context, tour catalog.Tour, now time.Time, report *ReminderReport) {
	purchases, err := worker.purchases.ListUnremindedForTour(ctx, tour.ID)
	if err != nil {
		report.Failed++
		worker.metrics.observeItem(JobReminders, outcomeFailed)
		worker.logger.Error("list unreminded purchases", zap.String("tour_id", tour.ID), zap.Error(err))
		return
	}
	if len(purchases) == 0 {
		return
	}
	keyPoints, err := worker.catalog.KeyPoints(ctx, tour.ID)
	if err != nil {
		report.Failed += len(purchases)
		worker.metrics.observeItem(JobReminders, outcomeFailed)
		worker.logger.Error("load key points", zap.String("tour_id", tour.ID), zap.Error(err))
		return
	}
	keyPointNames := make([]string, 0, len(keyPoints))
	for _, keyPoint := range keyPoints {
		keyPointNames = append(keyPointNames, keyPoint.Name)
	}

	for _, record := range purchases {
		if ctx.Err() != nil {
			return
		}
		reminder := notification.TourReminder{
			PurchaseID:      record.ID,
			TourID:          tour.ID,
			TourName:        tour.Name,
			TourDescription: tour.Description,
			TourDate:        tour.Date,
			KeyPoints:       keyPointNames,
		}
		if err := worker.sender.SendTourReminder(ctx, record.TouristID, reminder); err != nil {
			report.Failed++
			worker.metrics.observeItem(JobReminders, outcomeFailed)
			worker.logger.Warn("send tour reminder",
				zap.String("purchase_id", record.ID),
				zap.String("tour_id", tour.ID),
				zap.Error(err),
			)
			continue
		}
		err := worker.purchases.MarkReminderSent(ctx, record.ID, tour.ID, now)
		switch {
		case err == nil:
			report.Sent++
			worker.metrics.observeItem(JobReminders, outcomeSucceeded)
		case errors.Is(err, purchase.ErrReminderAlreadySent):
			report.Skipped++
			worker.metrics.observeItem(JobReminders, outcomeSkipped)
			worker.logger.Info("reminder already marked", zap.String("purchase_id", record.ID), zap.String("tour_id", tour.ID))
		default:
			report.Failed++
			worker.metrics.observeItem(JobReminders, outcomeFailed)
			worker.logger.Error("mark reminder sent",
				zap.String("purchase_id", record.ID),
				zap.String("tour_id", tour.ID),
				zap.Error(err),
			)
		}
	}
}
