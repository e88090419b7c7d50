package replacement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tourledger/pkg/catalog"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/paging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store persists replacements. Transition and Accept must only succeed while
// the stored status still equals from; Accept also moves tour authorship to
// the accepting guide in the same transaction.
type Store interface {
	Create(ctx context.Context, replacement Replacement) error
	Get(ctx context.Context, replacementID string) (Replacement, error)
	HasPending(ctx context.Context, tourID string) (bool, error)
	Transition(ctx context.Context, updated Replacement, from Status) error
	Accept(ctx context.Context, updated Replacement) error
	ListPending(ctx context.Context) ([]Replacement, error)
	ListExpiredUnsettled(ctx context.Context) ([]Replacement, error)
	ListByOriginalGuide(ctx context.Context, guideID string, offset int, limit int) ([]Replacement, int64, error)
	MarkRefundsSettled(ctx context.Context, replacementID string, at time.Time) error
}

// Tours reads catalog tours.
type Tours interface {
	GetTour(ctx context.Context, tourID string) (catalog.Tour, error)
	ListByAuthor(ctx context.Context, authorID string) ([]catalog.Tour, error)
}

// Details pairs a replacement with its tour.
type Details struct {
	Replacement Replacement
	Tour        catalog.Tour
}

// Page is one page of replacements with their tours.
type Page struct {
	Items    []Details
	Page     int
	PageSize int
	Total    int64
}

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(service *Service) {
		if logger != nil {
			service.logger = logger
		}
	}
}

// WithIDGenerator replaces the replacement id generator.
func WithIDGenerator(generate func() string) ServiceOption {
	return func(service *Service) {
		if generate != nil {
			service.newID = generate
		}
	}
}

// Service runs the replacement workflow.
type Service struct {
	store  Store
	tours  Tours
	nowFn  func() time.Time
	newID  func() string
	logger *zap.Logger
}

// NewService wires a Service.
func NewService(store Store, tours Tours, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if tours == nil {
		return nil, fmt.Errorf("%w: tours dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:  store,
		tours:  tours,
		nowFn:  now,
		newID:  uuid.NewString,
		logger: zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// RequestReplacement opens a pending request for a tour the guide owns.
func (service *Service) RequestReplacement(ctx context.Context, guideID string, tourID string) (Replacement, error) {
	guideID = strings.TrimSpace(guideID)
	tour, err := service.tours.GetTour(ctx, strings.TrimSpace(tourID))
	if err != nil {
		return Replacement{}, err
	}
	if tour.AuthorID != guideID {
		return Replacement{}, ErrNotTourOwner
	}
	if !tour.IsPublished() {
		return Replacement{}, ErrTourNotPublished
	}
	now := service.nowFn()
	if !tour.StartsAfter(now) {
		return Replacement{}, ErrTourAlreadyStarted
	}
	pending, err := service.store.HasPending(ctx, tour.ID)
	if err != nil {
		return Replacement{}, err
	}
	if pending {
		return Replacement{}, ErrPendingReplacementExists
	}
	replacement, err := NewReplacement(service.newID(), tour.ID, guideID, now)
	if err != nil {
		return Replacement{}, err
	}
	if err := service.store.Create(ctx, replacement); err != nil {
		return Replacement{}, err
	}
	service.logger.Info("replacement requested", zap.String("replacement_id", replacement.ID), zap.String("tour_id", tour.ID), zap.String("guide_id", guideID))
	return replacement, nil
}

// CancelReplacementRequest withdraws a pending request. Only its requester may cancel.
func (service *Service) CancelReplacementRequest(ctx context.Context, guideID string, replacementID string) (Replacement, error) {
	replacement, err := service.store.Get(ctx, strings.TrimSpace(replacementID))
	if err != nil {
		return Replacement{}, err
	}
	if replacement.OriginalGuideID != strings.TrimSpace(guideID) {
		return Replacement{}, ErrNotRequester
	}
	cancelled, err := replacement.Cancel(service.nowFn())
	if err != nil {
		return Replacement{}, err
	}
	if err := service.store.Transition(ctx, cancelled, StatusPending); err != nil {
		return Replacement{}, err
	}
	service.logger.Info("replacement cancelled", zap.String("replacement_id", cancelled.ID))
	return cancelled, nil
}

// AcceptReplacement hands the tour to the accepting guide.
func (service *Service) AcceptReplacement(ctx context.Context, guideID string, replacementID string) (Replacement, error) {
	guideID = strings.TrimSpace(guideID)
	replacement, err := service.store.Get(ctx, strings.TrimSpace(replacementID))
	if err != nil {
		return Replacement{}, err
	}
	now := service.nowFn()
	accepted, err := replacement.Accept(guideID, now)
	if err != nil {
		return Replacement{}, err
	}
	tour, err := service.tours.GetTour(ctx, replacement.TourID)
	if err != nil {
		return Replacement{}, err
	}
	if !tour.StartsAfter(now) {
		return Replacement{}, ErrTourAlreadyStarted
	}
	guideTours, err := service.tours.ListByAuthor(ctx, guideID)
	if err != nil {
		return Replacement{}, err
	}
	for _, guideTour := range guideTours {
		if guideTour.ID != tour.ID && guideTour.SameDay(tour) {
			return Replacement{}, fmt.Errorf("%w: %s", ErrScheduleConflict, guideTour.Name)
		}
	}
	if err := service.store.Accept(ctx, accepted); err != nil {
		return Replacement{}, err
	}
	service.logger.Info("replacement accepted",
		zap.String("replacement_id", accepted.ID),
		zap.String("tour_id", accepted.TourID),
		zap.String("from_guide_id", accepted.OriginalGuideID),
		zap.String("to_guide_id", accepted.ReplacementGuideID),
	)
	return accepted, nil
}

// GetAvailableReplacements lists pending requests the guide could take,
// soonest tour first.
func (service *Service) GetAvailableReplacements(ctx context.Context, guideID string, page int, pageSize int) (Page, error) {
	guideID = strings.TrimSpace(guideID)
	request, err := paging.New(page, pageSize)
	if err != nil {
		return Page{}, err
	}
	now := service.nowFn()
	pending, err := service.store.ListPending(ctx)
	if err != nil {
		return Page{}, err
	}
	guideTours, err := service.tours.ListByAuthor(ctx, guideID)
	if err != nil {
		return Page{}, err
	}
	busyDays := make([]time.Time, 0, len(guideTours))
	for _, guideTour := range guideTours {
		if guideTour.StartsAfter(now) {
			busyDays = append(busyDays, guideTour.Date)
		}
	}

	available := make([]Details, 0, len(pending))
	for _, replacement := range pending {
		if replacement.OriginalGuideID == guideID {
			continue
		}
		tour, err := service.tours.GetTour(ctx, replacement.TourID)
		if errors.Is(err, catalog.ErrTourNotFound) {
			continue
		}
		if err != nil {
			return Page{}, err
		}
		if !tour.StartsAfter(now) || collides(tour.Date, busyDays) {
			continue
		}
		available = append(available, Details{Replacement: replacement, Tour: tour})
	}
	sort.SliceStable(available, func(left, right int) bool {
		return available[left].Tour.Date.Before(available[right].Tour.Date)
	})
	return Page{
		Items:    paging.Window(available, request),
		Page:     request.Page,
		PageSize: request.Size,
		Total:    int64(len(available)),
	}, nil
}

// GetMyReplacementRequests lists the guide's own requests, newest first.
func (service *Service) GetMyReplacementRequests(ctx context.Context, guideID string, page int, pageSize int) (Page, error) {
	request, err := paging.New(page, pageSize)
	if err != nil {
		return Page{}, err
	}
	replacements, total, err := service.store.ListByOriginalGuide(ctx, strings.TrimSpace(guideID), request.Offset(), request.Size)
	if err != nil {
		return Page{}, err
	}
	items := make([]Details, 0, len(replacements))
	for _, replacement := range replacements {
		tour, err := service.tours.GetTour(ctx, replacement.TourID)
		if err != nil && !errors.Is(err, catalog.ErrTourNotFound) {
			return Page{}, err
		}
		items = append(items, Details{Replacement: replacement, Tour: tour})
	}
	return Page{Items: items, Page: request.Page, PageSize: request.Size, Total: total}, nil
}

// GetReplacementDetails returns a replacement together with its tour.
func (service *Service) GetReplacementDetails(ctx context.Context, replacementID string) (Details, error) {
	replacement, err := service.store.Get(ctx, strings.TrimSpace(replacementID))
	if err != nil {
		return Details{}, err
	}
	tour, err := service.tours.GetTour(ctx, replacement.TourID)
	if err != nil {
		return Details{}, err
	}
	return Details{Replacement: replacement, Tour: tour}, nil
}

// PendingReplacements lists every pending request.
func (service *Service) PendingReplacements(ctx context.Context) ([]Replacement, error) {
	return service.store.ListPending(ctx)
}

// ExpiredUnsettled lists expired requests whose refund cascade has not finished.
func (service *Service) ExpiredUnsettled(ctx context.Context) ([]Replacement, error) {
	return service.store.ListExpiredUnsettled(ctx)
}

// ExpireReplacement moves a pending request to expired. It is reserved for
// the expiry reconciliation.
func (service *Service) ExpireReplacement(ctx context.Context, replacementID string) (Replacement, error) {
	replacement, err := service.store.Get(ctx, strings.TrimSpace(replacementID))
	if err != nil {
		return Replacement{}, err
	}
	expired, err := replacement.MarkAsExpired(service.nowFn())
	if err != nil {
		return Replacement{}, err
	}
	if err := service.store.Transition(ctx, expired, StatusPending); err != nil {
		return Replacement{}, err
	}
	service.logger.Info("replacement expired", zap.String("replacement_id", expired.ID), zap.String("tour_id", expired.TourID))
	return expired, nil
}

// MarkRefundsSettled records that every refund for an expired request was issued.
func (service *Service) MarkRefundsSettled(ctx context.Context, replacementID string) error {
	return service.store.MarkRefundsSettled(ctx, strings.TrimSpace(replacementID), service.nowFn())
}

func collides(date time.Time, busyDays []time.Time) bool {
	for _, busy := range busyDays {
		if catalog.SameDate(date, busy) {
			return true
		}
	}
	return false
}
