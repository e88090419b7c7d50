package problem

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tourledger/pkg/catalog"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/paging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store persists problems. Transition must only succeed while the stored
// status still equals from.
type Store interface {
	Create(ctx context.Context, problem Problem) error
	Get(ctx context.Context, problemID string) (Problem, error)
	Transition(ctx context.Context, updated Problem, from Status) error
	ListByTourist(ctx context.Context, touristID string, offset int, limit int) ([]Problem, int64, error)
	ListByTours(ctx context.Context, tourIDs []string, offset int, limit int) ([]Problem, int64, error)
	ListUnderReview(ctx context.Context, offset int, limit int) ([]Problem, int64, error)
}

// Tours reads catalog tours.
type Tours interface {
	GetTour(ctx context.Context, tourID string) (catalog.Tour, error)
	ListByAuthor(ctx context.Context, authorID string) ([]catalog.Tour, error)
}

// Purchases answers purchase-ownership questions.
type Purchases interface {
	HasCompletedPurchase(ctx context.Context, touristID string, tourID string) (bool, error)
}

// ReportInput is a tourist's problem report.
type ReportInput struct {
	TourID      string
	Title       string
	Description string
}

// Page is one page of problems.
type Page struct {
	Problems []Problem
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

// WithIDGenerator replaces the problem id generator.
func WithIDGenerator(generate func() string) ServiceOption {
	return func(service *Service) {
		if generate != nil {
			service.newID = generate
		}
	}
}

// Service runs the problem workflow.
type Service struct {
	store     Store
	tours     Tours
	purchases Purchases
	nowFn     func() time.Time
	newID     func() string
	logger    *zap.Logger
}

// NewService wires a Service.
func NewService(store Store, tours Tours, purchases Purchases, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if tours == nil {
		return nil, fmt.Errorf("%w: tours dependency is nil", ErrInvalidServiceConfig)
	}
	if purchases == nil {
		return nil, fmt.Errorf("%w: purchases dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:     store,
		tours:     tours,
		purchases: purchases,
		nowFn:     now,
		newID:     uuid.NewString,
		logger:    zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Report opens a pending problem on a tour the tourist purchased.
func (service *Service) Report(ctx context.Context, touristID string, input ReportInput) (Problem, error) {
	touristID = strings.TrimSpace(touristID)
	if touristID == "" {
		return Problem{}, fmt.Errorf("%w: empty tourist id", ErrInvalidProblem)
	}
	tour, err := service.tours.GetTour(ctx, strings.TrimSpace(input.TourID))
	if err != nil {
		return Problem{}, err
	}
	purchased, err := service.purchases.HasCompletedPurchase(ctx, touristID, tour.ID)
	if err != nil {
		return Problem{}, err
	}
	if !purchased {
		return Problem{}, ErrNotPurchased
	}
	problem, err := NewProblem(service.newID(), tour.ID, touristID, input.Title, input.Description, service.nowFn())
	if err != nil {
		return Problem{}, err
	}
	if err := service.store.Create(ctx, problem); err != nil {
		return Problem{}, err
	}
	service.logger.Info("problem reported", zap.String("problem_id", problem.ID), zap.String("tour_id", tour.ID), zap.String("tourist_id", touristID))
	return problem, nil
}

// Resolve closes a pending problem. Only the tour author may resolve.
func (service *Service) Resolve(ctx context.Context, guideID string, problemID string) (Problem, error) {
	return service.guideTransition(ctx, guideID, problemID, EventResolve)
}

// SendToAdministrator escalates a pending problem. Only the tour author may escalate.
func (service *Service) SendToAdministrator(ctx context.Context, guideID string, problemID string) (Problem, error) {
	return service.guideTransition(ctx, guideID, problemID, EventSendToAdministrator)
}

// ReturnToGuide sends a problem under review back to the guide.
func (service *Service) ReturnToGuide(ctx context.Context, problemID string) (Problem, error) {
	return service.administratorTransition(ctx, problemID, EventReturnToGuide)
}

// Reject closes a problem under review without resolution.
func (service *Service) Reject(ctx context.Context, problemID string) (Problem, error) {
	return service.administratorTransition(ctx, problemID, EventReject)
}

// Get returns a single problem.
func (service *Service) Get(ctx context.Context, problemID string) (Problem, error) {
	return service.store.Get(ctx, strings.TrimSpace(problemID))
}

// TouristProblems lists the problems a tourist reported, newest first.
func (service *Service) TouristProblems(ctx context.Context, touristID string, page int, pageSize int) (Page, error) {
	request, err := paging.New(page, pageSize)
	if err != nil {
		return Page{}, err
	}
	problems, total, err := service.store.ListByTourist(ctx, strings.TrimSpace(touristID), request.Offset(), request.Size)
	if err != nil {
		return Page{}, err
	}
	return Page{Problems: problems, Page: request.Page, PageSize: request.Size, Total: total}, nil
}

// GuideProblems lists problems on tours the guide authors, newest first.
func (service *Service) GuideProblems(ctx context.Context, guideID string, page int, pageSize int) (Page, error) {
	request, err := paging.New(page, pageSize)
	if err != nil {
		return Page{}, err
	}
	tours, err := service.tours.ListByAuthor(ctx, strings.TrimSpace(guideID))
	if err != nil {
		return Page{}, err
	}
	if len(tours) == 0 {
		return Page{Problems: []Problem{}, Page: request.Page, PageSize: request.Size}, nil
	}
	tourIDs := make([]string, 0, len(tours))
	for _, tour := range tours {
		tourIDs = append(tourIDs, tour.ID)
	}
	problems, total, err := service.store.ListByTours(ctx, tourIDs, request.Offset(), request.Size)
	if err != nil {
		return Page{}, err
	}
	return Page{Problems: problems, Page: request.Page, PageSize: request.Size, Total: total}, nil
}

// ProblemsUnderReview lists the administrator queue, most recently escalated first.
func (service *Service) ProblemsUnderReview(ctx context.Context, page int, pageSize int) (Page, error) {
	request, err := paging.New(page, pageSize)
	if err != nil {
		return Page{}, err
	}
	problems, total, err := service.store.ListUnderReview(ctx, request.Offset(), request.Size)
	if err != nil {
		return Page{}, err
	}
	return Page{Problems: problems, Page: request.Page, PageSize: request.Size, Total: total}, nil
}

func (service *Service) guideTransition(ctx context.Context, guideID string, problemID string, event Event) (Problem, error) {
	problem, err := service.store.Get(ctx, strings.TrimSpace(problemID))
	if err != nil {
		return Problem{}, err
	}
	tour, err := service.tours.GetTour(ctx, problem.TourID)
	if err != nil {
		return Problem{}, err
	}
	if tour.AuthorID != strings.TrimSpace(guideID) {
		return Problem{}, ErrNotTourOwner
	}
	return service.apply(ctx, problem, event)
}

func (service *Service) administratorTransition(ctx context.Context, problemID string, event Event) (Problem, error) {
	problem, err := service.store.Get(ctx, strings.TrimSpace(problemID))
	if err != nil {
		return Problem{}, err
	}
	return service.apply(ctx, problem, event)
}

func (service *Service) apply(ctx context.Context, problem Problem, event Event) (Problem, error) {
	updated, err := problem.Apply(event, service.nowFn())
	if err != nil {
		return Problem{}, err
	}
	if err := service.store.Transition(ctx, updated, problem.Status); err != nil {
		return Problem{}, err
	}
	service.logger.Info("problem transitioned",
		zap.String("problem_id", updated.ID),
		zap.String("event", string(event)),
		zap.String("from", string(problem.Status)),
		zap.String("to", string(updated.Status)),
	)
	return updated, nil
}
