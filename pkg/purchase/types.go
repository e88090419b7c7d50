package purchase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tourledger/pkg/catalog"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/ledger"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a purchase.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// ParseStatus validates a stored status.
func ParseStatus(raw string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case StatusCompleted, StatusCancelled, StatusRefunded:
		return status, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidPurchase, raw)
	}
}

// Purchase is an immutable record of a multi-tour checkout.
type Purchase struct {
	ID              string
	TouristID       string
	TourIDs         []string
	TotalAmount     decimal.Decimal
	BonusPointsUsed decimal.Decimal
	FinalAmount     decimal.Decimal
	PurchasedAt     time.Time
	Status          Status
	ReminderSent    bool
}

// NewPurchase validates the amounts and snapshots the tour ids.
func NewPurchase(id string, touristID string, tourIDs []string, total decimal.Decimal, bonusPoints decimal.Decimal, purchasedAt time.Time) (Purchase, error) {
	if strings.TrimSpace(id) == "" {
		return Purchase{}, fmt.Errorf("%w: empty id", ErrInvalidPurchase)
	}
	if strings.TrimSpace(touristID) == "" {
		return Purchase{}, fmt.Errorf("%w: empty tourist id", ErrInvalidPurchase)
	}
	if len(tourIDs) == 0 {
		return Purchase{}, fmt.Errorf("%w: at least one tour is required", ErrInvalidPurchase)
	}
	snapshot := make([]string, 0, len(tourIDs))
	for _, tourID := range tourIDs {
		if strings.TrimSpace(tourID) == "" {
			return Purchase{}, fmt.Errorf("%w: empty tour id", ErrInvalidPurchase)
		}
		snapshot = append(snapshot, tourID)
	}
	if total.IsNegative() {
		return Purchase{}, fmt.Errorf("%w: total must not be negative", ErrInvalidPurchase)
	}
	if bonusPoints.IsNegative() {
		return Purchase{}, ErrInvalidBonusPoints
	}
	if bonusPoints.GreaterThan(total) {
		return Purchase{}, ErrBonusExceedsTotal
	}
	return Purchase{
		ID:              id,
		TouristID:       touristID,
		TourIDs:         snapshot,
		TotalAmount:     total,
		BonusPointsUsed: bonusPoints,
		FinalAmount:     total.Sub(bonusPoints),
		PurchasedAt:     purchasedAt,
		Status:          StatusCompleted,
		ReminderSent:    false,
	}, nil
}

// Contains reports whether the purchase covers tourID.
func (purchase Purchase) Contains(tourID string) bool {
	for _, candidate := range purchase.TourIDs {
		if candidate == tourID {
			return true
		}
	}
	return false
}

// Cart is the tourist's pending selection.
type Cart struct {
	TouristID string
	TourIDs   []string
}

// Page is one page of purchase history, newest first.
type Page struct {
	Purchases []Purchase
	Page      int
	PageSize  int
	Total     int64
}

// Store persists purchases.
type Store interface {
	Create(ctx context.Context, purchase Purchase) error
	Get(ctx context.Context, purchaseID string) (Purchase, error)
	ListByTourist(ctx context.Context, touristID string, offset int, limit int) ([]Purchase, int64, error)
}

// TourReader looks up catalog tours.
type TourReader interface {
	GetTour(ctx context.Context, tourID string) (catalog.Tour, error)
}

// CartGateway reads and clears shopping carts.
type CartGateway interface {
	GetCart(ctx context.Context, touristID string) (Cart, error)
	ClearCart(ctx context.Context, touristID string) error
}

// Ledger is the part of the bonus ledger a purchase needs.
type Ledger interface {
	GetOrCreate(ctx context.Context, touristID ledger.TouristID) (ledger.Account, error)
	Debit(ctx context.Context, touristID ledger.TouristID, amount ledger.PositivePoints, reason string, reference ledger.Reference) (ledger.Account, error)
}

// Dispatcher runs a send without waiting for it.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, send func(ctx context.Context) error)
}
