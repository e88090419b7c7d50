package problem

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/tourledger/pkg/catalog"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/fault"
	"github.com/shopspring/decimal"
)

func TestReportRequiresPurchase(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)

	_, err := fixture.service.Report(context.Background(), "tourist-2", ReportInput{TourID: "tour-1", Title: "Noise", Description: "Too loud"})
	if !errors.Is(err, ErrNotPurchased) || fault.Classify(err) != fault.CategoryForbidden {
		test.Fatalf("expected forbidden ErrNotPurchased, got %v", err)
	}
}

func TestReportUnknownTour(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)

	_, err := fixture.service.Report(context.Background(), "tourist-1", ReportInput{TourID: "missing", Title: "Noise", Description: "Too loud"})
	if !errors.Is(err, catalog.ErrTourNotFound) {
		test.Fatalf("expected ErrTourNotFound, got %v", err)
	}
}

func TestFullWorkflow(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	ctx := context.Background()

	reported, err := fixture.service.Report(ctx, "tourist-1", ReportInput{TourID: "tour-1", Title: "Noise", Description: "Too loud"})
	if err != nil {
		test.Fatalf("report: %v", err)
	}
	if reported.Status != StatusPending {
		test.Fatalf("expected pending, got %s", reported.Status)
	}
	escalated, err := fixture.service.SendToAdministrator(ctx, "guide-1", reported.ID)
	if err != nil || escalated.Status != StatusUnderReview {
		test.Fatalf("escalate: %v (%s)", err, escalated.Status)
	}
	returned, err := fixture.service.ReturnToGuide(ctx, reported.ID)
	if err != nil || returned.Status != StatusPending {
		test.Fatalf("return: %v (%s)", err, returned.Status)
	}
	resolved, err := fixture.service.Resolve(ctx, "guide-1", reported.ID)
	if err != nil || resolved.Status != StatusResolved {
		test.Fatalf("resolve: %v (%s)", err, resolved.Status)
	}
	if _, err := fixture.service.SendToAdministrator(ctx, "guide-1", reported.ID); !errors.Is(err, ErrInvalidTransition) {
		test.Fatalf("expected resolved problem to stay terminal, got %v", err)
	}
}

func TestGuideOwnershipCheckedBeforeState(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	problem := mustProblem(test)
	problem.Status = StatusResolved
	fixture.store.problems[problem.ID] = problem

	_, err := fixture.service.Resolve(context.Background(), "guide-2", problem.ID)
	if !errors.Is(err, ErrNotTourOwner) {
		test.Fatalf("expected ErrNotTourOwner before state guard, got %v", err)
	}
}

func TestAdministratorTransitionsFromWrongStateFail(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	problem := mustProblem(test)
	fixture.store.problems[problem.ID] = problem

	if _, err := fixture.service.Reject(context.Background(), problem.ID); !errors.Is(err, ErrInvalidTransition) {
		test.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := fixture.service.ReturnToGuide(context.Background(), "missing"); !errors.Is(err, ErrProblemNotFound) {
		test.Fatalf("expected ErrProblemNotFound, got %v", err)
	}
}

func TestConcurrentTransitionsApplyOnce(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	problem := mustProblem(test)
	fixture.store.problems[problem.ID] = problem

	var (
		group     sync.WaitGroup
		successes int
		conflicts int
		mu        sync.Mutex
	)
	for attempt := 0; attempt < 8; attempt++ {
		group.Add(1)
		go func() {
			defer group.Done()
			_, err := fixture.service.Resolve(context.Background(), "guide-1", problem.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrInvalidTransition):
				conflicts++
			default:
				test.Errorf("unexpected error: %v", err)
			}
		}()
	}
	group.Wait()
	if successes != 1 || conflicts != 7 {
		test.Fatalf("expected one success and seven conflicts, got %d/%d", successes, conflicts)
	}
}

func TestListings(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	ctx := context.Background()
	first, err := fixture.service.Report(ctx, "tourist-1", ReportInput{TourID: "tour-1", Title: "A", Description: "a"})
	if err != nil {
		test.Fatalf("report: %v", err)
	}
	second, err := fixture.service.Report(ctx, "tourist-1", ReportInput{TourID: "tour-1", Title: "B", Description: "b"})
	if err != nil {
		test.Fatalf("report: %v", err)
	}
	if _, err := fixture.service.SendToAdministrator(ctx, "guide-1", first.ID); err != nil {
		test.Fatalf("escalate: %v", err)
	}

	mine, err := fixture.service.TouristProblems(ctx, "tourist-1", 0, 10)
	if err != nil || mine.Total != 2 || mine.Problems[0].ID != second.ID {
		test.Fatalf("unexpected tourist problems %+v (%v)", mine, err)
	}
	guide, err := fixture.service.GuideProblems(ctx, "guide-1", 0, 10)
	if err != nil || guide.Total != 2 {
		test.Fatalf("unexpected guide problems %+v (%v)", guide, err)
	}
	other, err := fixture.service.GuideProblems(ctx, "guide-2", 0, 10)
	if err != nil || other.Total != 0 {
		test.Fatalf("expected no problems for guide without tours, got %+v (%v)", other, err)
	}
	queue, err := fixture.service.ProblemsUnderReview(ctx, 0, 10)
	if err != nil || queue.Total != 1 || queue.Problems[0].ID != first.ID {
		test.Fatalf("unexpected review queue %+v (%v)", queue, err)
	}
}

type serviceFixture struct {
	store   *memoryStore
	service *Service
}

func newServiceFixture(test *testing.T) *serviceFixture {
	test.Helper()
	store := &memoryStore{problems: map[string]Problem{}}
	tours := &stubTours{tours: map[string]catalog.Tour{
		"tour-1": {ID: "tour-1", AuthorID: "guide-1", Name: "Harbor", Difficulty: 1, Category: 1, Price: decimal.NewFromInt(60), State: catalog.StateComplete},
	}}
	purchases := stubPurchases{"tourist-1/tour-1": true}
	clock := &tickingClock{current: reportedAt}
	counter := 0
	var counterMu sync.Mutex
	service, err := NewService(store, tours, purchases, clock.Now, WithIDGenerator(func() string {
		counterMu.Lock()
		defer counterMu.Unlock()
		counter++
		return "problem-" + string(rune('a'+counter))
	}))
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return &serviceFixture{store: store, service: service}
}

type tickingClock struct {
	mu      sync.Mutex
	current time.Time
}

func (clock *tickingClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.current = clock.current.Add(time.Minute)
	return clock.current
}

type memoryStore struct {
	mu       sync.Mutex
	problems map[string]Problem
}

func (store *memoryStore) Create(_ context.Context, problem Problem) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.problems[problem.ID] = problem
	return nil
}

func (store *memoryStore) Get(_ context.Context, problemID string) (Problem, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	problem, ok := store.problems[problemID]
	if !ok {
		return Problem{}, ErrProblemNotFound
	}
	return problem, nil
}

func (store *memoryStore) Transition(_ context.Context, updated Problem, from Status) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	current, ok := store.problems[updated.ID]
	if !ok {
		return ErrProblemNotFound
	}
	if current.Status != from {
		return ErrInvalidTransition
	}
	store.problems[updated.ID] = updated
	return nil
}

func (store *memoryStore) ListByTourist(_ context.Context, touristID string, offset int, limit int) ([]Problem, int64, error) {
	return store.filter(func(problem Problem) bool { return problem.TouristID == touristID }, offset, limit, byReportedAt)
}

func (store *memoryStore) ListByTours(_ context.Context, tourIDs []string, offset int, limit int) ([]Problem, int64, error) {
	wanted := map[string]bool{}
	for _, tourID := range tourIDs {
		wanted[tourID] = true
	}
	return store.filter(func(problem Problem) bool { return wanted[problem.TourID] }, offset, limit, byReportedAt)
}

func (store *memoryStore) ListUnderReview(_ context.Context, offset int, limit int) ([]Problem, int64, error) {
	return store.filter(func(problem Problem) bool { return problem.Status == StatusUnderReview }, offset, limit, func(left, right Problem) bool {
		return left.ReviewRequestedAt.After(*right.ReviewRequestedAt)
	})
}

func byReportedAt(left, right Problem) bool {
	return left.ReportedAt.After(right.ReportedAt)
}

func (store *memoryStore) filter(keep func(Problem) bool, offset int, limit int, less func(left, right Problem) bool) ([]Problem, int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	matched := make([]Problem, 0)
	for _, problem := range store.problems {
		if keep(problem) {
			matched = append(matched, problem)
		}
	}
	sort.Slice(matched, func(left, right int) bool { return less(matched[left], matched[right]) })
	total := int64(len(matched))
	if offset >= len(matched) {
		return []Problem{}, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

type stubTours struct {
	tours map[string]catalog.Tour
}

func (tours *stubTours) GetTour(_ context.Context, tourID string) (catalog.Tour, error) {
	tour, ok := tours.tours[tourID]
	if !ok {
		return catalog.Tour{}, catalog.ErrTourNotFound
	}
	return tour, nil
}

func (tours *stubTours) ListByAuthor(_ context.Context, authorID string) ([]catalog.Tour, error) {
	owned := make([]catalog.Tour, 0)
	for _, tour := range tours.tours {
		if tour.AuthorID == authorID {
			owned = append(owned, tour)
		}
	}
	return owned, nil
}

type stubPurchases map[string]bool

func (purchases stubPurchases) HasCompletedPurchase(_ context.Context, touristID string, tourID string) (bool, error) {
	return purchases[touristID+"/"+tourID], nil
}
