// Package reconcile runs the periodic scans that send tour reminders and
// expire unanswered replacement requests.
package reconcile

import (
	"context"
	"time"

	"github.com/MarkoPoloResearchLab/tourledger/pkg/catalog"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/ledger"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/purchase"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/replacement"
)

const (
	JobReminders = "tour_reminders"
	JobExpiry    = "replacement_expiry"

	reminderLeadTime  = 48 * time.Hour
	reminderTolerance = 30 * time.Minute
	expiryCutoff      = 24 * time.Hour

	refundReason            = "tour cancellation refund"
	refundIdempotencyPrefix = "tour-cancellation"
)

// Catalog reads the tours the workers scan.
type Catalog interface {
	GetTour(ctx context.Context, tourID string) (catalog.Tour, error)
	ListPublishedBetween(ctx context.Context, from time.Time, to time.Time) ([]catalog.Tour, error)
	KeyPoints(ctx context.Context, tourID string) ([]catalog.KeyPoint, error)
}

// Purchases exposes the purchase queries and the per-tour reminder marker.
type Purchases interface {
	ListUnremindedForTour(ctx context.Context, tourID string) ([]purchase.Purchase, error)
	ListCompletedForTour(ctx context.Context, tourID string) ([]purchase.Purchase, error)
	MarkReminderSent(ctx context.Context, purchaseID string, tourID string, at time.Time) error
}

// Replacements is the slice of the replacement workflow reserved for expiry.
type Replacements interface {
	PendingReplacements(ctx context.Context) ([]replacement.Replacement, error)
	ExpiredUnsettled(ctx context.Context) ([]replacement.Replacement, error)
	ExpireReplacement(ctx context.Context, replacementID string) (replacement.Replacement, error)
	MarkRefundsSettled(ctx context.Context, replacementID string) error
}

// Ledger credits refunds.
type Ledger interface {
	Credit(ctx context.Context, touristID ledger.TouristID, amount ledger.PositivePoints, reason string, reference ledger.Reference) (ledger.Account, error)
}

// ReminderReport counts what one reminder tick did.
type ReminderReport struct {
	Tours   int
	Sent    int
	Skipped int
	Failed  int
}

// ExpiryReport counts what one expiry tick did.
type ExpiryReport struct {
	Expired  int
	Refunded int
	Settled  int
	Failed   int
}
