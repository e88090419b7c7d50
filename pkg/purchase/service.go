// Package purchase turns a tourist's cart into a completed purchase.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tourledger/pkg/catalog"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/fault"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/ledger"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/notification"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/paging"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const notificationPurchaseConfirmation = "purchase_confirmation"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// WithLogger sets the logger for best-effort step failures.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(service *Service) {
		if logger != nil {
			service.logger = logger
		}
	}
}

// WithDispatcher replaces the background dispatcher used for confirmations.
func WithDispatcher(dispatcher Dispatcher) ServiceOption {
	return func(service *Service) {
		if dispatcher != nil {
			service.dispatcher = dispatcher
		}
	}
}

// WithIDGenerator replaces the purchase id generator.
func WithIDGenerator(generate func() string) ServiceOption {
	return func(service *Service) {
		if generate != nil {
			service.newID = generate
		}
	}
}

// Service orchestrates checkout across the cart, catalog, ledger, and notifier.
type Service struct {
	store      Store
	tours      TourReader
	carts      CartGateway
	bonus      Ledger
	sender     notification.Sender
	nowFn      func() time.Time
	newID      func() string
	logger     *zap.Logger
	dispatcher Dispatcher
}

// NewService wires a Service.
func NewService(store Store, tours TourReader, carts CartGateway, bonus Ledger, sender notification.Sender, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if tours == nil {
		return nil, fmt.Errorf("%w: tour reader dependency is nil", ErrInvalidServiceConfig)
	}
	if carts == nil {
		return nil, fmt.Errorf("%w: cart gateway dependency is nil", ErrInvalidServiceConfig)
	}
	if bonus == nil {
		return nil, fmt.Errorf("%w: ledger dependency is nil", ErrInvalidServiceConfig)
	}
	if sender == nil {
		return nil, fmt.Errorf("%w: notification sender dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:  store,
		tours:  tours,
		carts:  carts,
		bonus:  bonus,
		sender: sender,
		nowFn:  now,
		newID:  uuid.NewString,
		logger: zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.dispatcher == nil {
		service.dispatcher = notification.NewAsyncDispatcher(service.logger, 0)
	}
	return service, nil
}

// ProcessPurchase buys every tour in the tourist's cart.
//
// When the bonus debit fails after the purchase was stored, the purchase is
// returned together with a *fault.CaveatError.
func (service *Service) ProcessPurchase(ctx context.Context, touristID string, bonusPointsToUse decimal.Decimal) (Purchase, error) {
	tourist, err := ledger.NewTouristID(touristID)
	if err != nil {
		return Purchase{}, err
	}
	if bonusPointsToUse.IsNegative() {
		return Purchase{}, ErrInvalidBonusPoints
	}

	cart, err := service.carts.GetCart(ctx, tourist.String())
	if err != nil {
		return Purchase{}, err
	}
	tourIDs := uniqueTourIDs(cart.TourIDs)
	if len(tourIDs) == 0 {
		return Purchase{}, ErrEmptyCart
	}

	now := service.nowFn()
	tours, total, err := service.validateTours(ctx, tourIDs, now)
	if err != nil {
		return Purchase{}, err
	}

	if bonusPointsToUse.IsPositive() {
		account, err := service.bonus.GetOrCreate(ctx, tourist)
		if err != nil {
			return Purchase{}, err
		}
		if bonusPointsToUse.GreaterThan(account.Balance) {
			return Purchase{}, fmt.Errorf("%w: available %s, requested %s", ErrInsufficientPoints, account.Balance, bonusPointsToUse)
		}
		if bonusPointsToUse.GreaterThan(total) {
			return Purchase{}, fmt.Errorf("%w: total %s, requested %s", ErrBonusExceedsTotal, total, bonusPointsToUse)
		}
	}

	purchase, err := NewPurchase(service.newID(), tourist.String(), tourIDs, total, bonusPointsToUse, now)
	if err != nil {
		return Purchase{}, err
	}
	if err := service.store.Create(ctx, purchase); err != nil {
		return Purchase{}, err
	}

	var caveat error
	if bonusPointsToUse.IsPositive() {
		if debitErr := service.debit(ctx, tourist, purchase); debitErr != nil {
			service.logger.Error("bonus debit failed after purchase was stored",
				zap.String("purchase_id", purchase.ID),
				zap.String("tourist_id", purchase.TouristID),
				zap.String("bonus_points", bonusPointsToUse.String()),
				zap.Error(debitErr),
			)
			caveat = &fault.CaveatError{Stage: StageBonusDebit, Err: debitErr}
		}
	}

	if err := service.carts.ClearCart(ctx, tourist.String()); err != nil {
		service.logger.Warn("cart clear failed", zap.String("tourist_id", purchase.TouristID), zap.Error(err))
	}

	service.dispatchConfirmation(ctx, purchase, tours)
	service.logger.Info("purchase completed",
		zap.String("purchase_id", purchase.ID),
		zap.String("tourist_id", purchase.TouristID),
		zap.Int("tours", len(purchase.TourIDs)),
		zap.String("final_amount", purchase.FinalAmount.String()),
	)
	return purchase, caveat
}

// GetPurchaseHistory lists the tourist's purchases newest first.
func (service *Service) GetPurchaseHistory(ctx context.Context, touristID string, page int, pageSize int) (Page, error) {
	tourist, err := ledger.NewTouristID(touristID)
	if err != nil {
		return Page{}, err
	}
	request, err := paging.New(page, pageSize)
	if err != nil {
		return Page{}, err
	}
	purchases, total, err := service.store.ListByTourist(ctx, tourist.String(), request.Offset(), request.Size)
	if err != nil {
		return Page{}, err
	}
	return Page{Purchases: purchases, Page: request.Page, PageSize: request.Size, Total: total}, nil
}

// GetPurchase returns one of the tourist's purchases. Purchases owned by other
// tourists are reported as missing.
func (service *Service) GetPurchase(ctx context.Context, touristID string, purchaseID string) (Purchase, error) {
	tourist, err := ledger.NewTouristID(touristID)
	if err != nil {
		return Purchase{}, err
	}
	purchase, err := service.store.Get(ctx, strings.TrimSpace(purchaseID))
	if err != nil {
		return Purchase{}, err
	}
	if purchase.TouristID != tourist.String() {
		return Purchase{}, ErrPurchaseNotFound
	}
	return purchase, nil
}

func (service *Service) validateTours(ctx context.Context, tourIDs []string, now time.Time) ([]catalog.Tour, decimal.Decimal, error) {
	tours := make([]catalog.Tour, 0, len(tourIDs))
	total := decimal.Zero
	for _, tourID := range tourIDs {
		tour, err := service.tours.GetTour(ctx, tourID)
		if err != nil {
			if errors.Is(err, catalog.ErrTourNotFound) {
				return nil, decimal.Zero, fmt.Errorf("%w: %s", catalog.ErrTourNotFound, tourID)
			}
			return nil, decimal.Zero, err
		}
		if !tour.IsPublished() {
			return nil, decimal.Zero, fmt.Errorf("%w: %s", ErrTourNotPublished, tour.Name)
		}
		if !tour.StartsAfter(now) {
			return nil, decimal.Zero, fmt.Errorf("%w: %s", ErrTourAlreadyStarted, tour.Name)
		}
		tours = append(tours, tour)
		total = total.Add(tour.Price)
	}
	return tours, total, nil
}

func (service *Service) debit(ctx context.Context, tourist ledger.TouristID, purchase Purchase) error {
	points, err := ledger.NewPositivePoints(purchase.BonusPointsUsed)
	if err != nil {
		return err
	}
	_, err = service.bonus.Debit(ctx, tourist, points, "Payment for purchase "+purchase.ID, ledger.Reference{
		PurchaseID:     purchase.ID,
		IdempotencyKey: "purchase:" + purchase.ID,
	})
	return err
}

func (service *Service) dispatchConfirmation(ctx context.Context, purchase Purchase, tours []catalog.Tour) {
	names := make([]string, 0, len(tours))
	for _, tour := range tours {
		names = append(names, tour.Name)
	}
	data := notification.PurchaseConfirmation{
		PurchaseID:      purchase.ID,
		TourNames:       names,
		TotalAmount:     purchase.TotalAmount,
		BonusPointsUsed: purchase.BonusPointsUsed,
		FinalAmount:     purchase.FinalAmount,
		PurchasedAt:     purchase.PurchasedAt,
	}
	touristID := purchase.TouristID
	service.dispatcher.Dispatch(ctx, notificationPurchaseConfirmation, func(sendCtx context.Context) error {
		return service.sender.SendPurchaseConfirmation(sendCtx, touristID, data)
	})
}

func uniqueTourIDs(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	unique := make([]string, 0, len(raw))
	for _, tourID := range raw {
		trimmed := strings.TrimSpace(tourID)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		unique = append(unique, trimmed)
	}
	return unique
}
