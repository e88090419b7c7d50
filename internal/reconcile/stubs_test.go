package reconcile

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/tourledger/pkg/catalog"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/ledger"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/notification"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/purchase"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/replacement"
	"github.com/shopspring/decimal"
)

var (
	tickNow       = time.Date(2026, time.August, 10, 12, 0, 0, 0, time.UTC)
	errTransient  = errors.New("transient failure")
	errStoreBroke = errors.New("store unavailable")
)

type stubCatalog struct {
	mu        sync.Mutex
	tours     map[string]catalog.Tour
	keyPoints map[string][]catalog.KeyPoint
	windows   [][2]time.Time
	listErr   error
}

func newStubCatalog(tours ...catalog.Tour) *stubCatalog {
	stub := &stubCatalog{tours: map[string]catalog.Tour{}, keyPoints: map[string][]catalog.KeyPoint{}}
	for _, tour := range tours {
		stub.tours[tour.ID] = tour
	}
	return stub
}

func (stub *stubCatalog) GetTour(_ context.Context, tourID string) (catalog.Tour, error) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	tour, ok := stub.tours[tourID]
	if !ok {
		return catalog.Tour{}, catalog.ErrTourNotFound
	}
	return tour, nil
}

func (stub *stubCatalog) ListPublishedBetween(_ context.Context, from time.Time, to time.Time) ([]catalog.Tour, error) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.windows = append(stub.windows, [2]time.Time{from, to})
	if stub.listErr != nil {
		return nil, stub.listErr
	}
	matched := make([]catalog.Tour, 0)
	for _, tour := range stub.tours {
		if tour.IsPublished() && !tour.Date.Before(from) && !tour.Date.After(to) {
			matched = append(matched, tour)
		}
	}
	sort.Slice(matched, func(left, right int) bool { return matched[left].ID < matched[right].ID })
	return matched, nil
}

func (stub *stubCatalog) KeyPoints(_ context.Context, tourID string) ([]catalog.KeyPoint, error) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	return stub.keyPoints[tourID], nil
}

type stubPurchases struct {
	mu        sync.Mutex
	purchases []purchase.Purchase
	reminded  map[string]bool
	markErr   error
}

func newStubPurchases(purchases ...purchase.Purchase) *stubPurchases {
	return &stubPurchases{purchases: purchases, reminded: map[string]bool{}}
}

func (stub *stubPurchases) ListUnremindedForTour(_ context.Context, tourID string) ([]purchase.Purchase, error) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	matched := make([]purchase.Purchase, 0)
	for _, record := range stub.purchases {
		if record.Status == purchase.StatusCompleted && record.Contains(tourID) && !stub.reminded[record.ID+"/"+tourID] {
			matched = append(matched, record)
		}
	}
	return matched, nil
}

func (stub *stubPurchases) ListCompletedForTour(_ context.Context, tourID string) ([]purchase.Purchase, error) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	matched := make([]purchase.Purchase, 0)
	for _, record := range stub.purchases {
		if record.Status == purchase.StatusCompleted && record.Contains(tourID) {
			matched = append(matched, record)
		}
	}
	return matched, nil
}

func (stub *stubPurchases) MarkReminderSent(_ context.Context, purchaseID string, tourID string, _ time.Time) error {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	if stub.markErr != nil {
		return stub.markErr
	}
	key := purchaseID + "/" + tourID
	if stub.reminded[key] {
		return purchase.ErrReminderAlreadySent
	}
	stub.reminded[key] = true
	return nil
}

type cancellationCall struct {
	touristIDs []string
	data       notification.TourCancellation
}

type recordingSender struct {
	mu                   sync.Mutex
	reminders            map[string][]notification.TourReminder
	cancellations        []cancellationCall
	failReminders        map[string]int
	failCancellations    int
	cancellationAttempts int
}

func newRecordingSender() *recordingSender {
	return &recordingSender{reminders: map[string][]notification.TourReminder{}, failReminders: map[string]int{}}
}

func (sender *recordingSender) SendPurchaseConfirmation(context.Context, string, notification.PurchaseConfirmation) error {
	return nil
}

func (sender *recordingSender) SendTourReminder(_ context.Context, touristID string, data notification.TourReminder) error {
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if sender.failReminders[touristID] > 0 {
		sender.failReminders[touristID]--
		return errTransient
	}
	sender.reminders[touristID] = append(sender.reminders[touristID], data)
	return nil
}

func (sender *recordingSender) SendTourCancellation(_ context.Context, touristIDs []string, data notification.TourCancellation) error {
	sender.mu.Lock()
	defer sender.mu.Unlock()
	sender.cancellationAttempts++
	if sender.failCancellations > 0 {
		sender.failCancellations--
		return errTransient
	}
	sender.cancellations = append(sender.cancellations, cancellationCall{touristIDs: append([]string(nil), touristIDs...), data: data})
	return nil
}

func (sender *recordingSender) reminderCount(touristID string) int {
	sender.mu.Lock()
	defer sender.mu.Unlock()
	return len(sender.reminders[touristID])
}

type stubReplacements struct {
	mu           sync.Mutex
	replacements map[string]replacement.Replacement
	expireErr    error
}

func newStubReplacements(replacements ...replacement.Replacement) *stubReplacements {
	stub := &stubReplacements{replacements: map[string]replacement.Replacement{}}
	for _, record := range replacements {
		stub.replacements[record.ID] = record
	}
	return stub
}

func (stub *stubReplacements) filter(keep func(replacement.Replacement) bool) []replacement.Replacement {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	matched := make([]replacement.Replacement, 0)
	for _, record := range stub.replacements {
		if keep(record) {
			matched = append(matched, record)
		}
	}
	sort.Slice(matched, func(left, right int) bool { return matched[left].ID < matched[right].ID })
	return matched
}

func (stub *stubReplacements) PendingReplacements(context.Context) ([]replacement.Replacement, error) {
	return stub.filter(func(record replacement.Replacement) bool { return record.Status == replacement.StatusPending }), nil
}

func (stub *stubReplacements) ExpiredUnsettled(context.Context) ([]replacement.Replacement, error) {
	return stub.filter(func(record replacement.Replacement) bool {
		return record.Status == replacement.StatusExpired && !record.RefundsSettled()
	}), nil
}

func (stub *stubReplacements) ExpireReplacement(_ context.Context, replacementID string) (replacement.Replacement, error) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	if stub.expireErr != nil {
		return replacement.Replacement{}, stub.expireErr
	}
	current, ok := stub.replacements[replacementID]
	if !ok {
		return replacement.Replacement{}, replacement.ErrReplacementNotFound
	}
	expired, err := current.MarkAsExpired(tickNow)
	if err != nil {
		return replacement.Replacement{}, err
	}
	stub.replacements[replacementID] = expired
	return expired, nil
}

func (stub *stubReplacements) MarkRefundsSettled(_ context.Context, replacementID string) error {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	current := stub.replacements[replacementID]
	if current.Status != replacement.StatusExpired {
		return replacement.ErrInvalidTransition
	}
	stamp := tickNow
	current.RefundsSettledAt = &stamp
	stub.replacements[replacementID] = current
	return nil
}

func (stub *stubReplacements) get(replacementID string) replacement.Replacement {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	return stub.replacements[replacementID]
}

type creditCall struct {
	touristID string
	amount    decimal.Decimal
	reason    string
	reference ledger.Reference
}

type stubLedger struct {
	mu       sync.Mutex
	keys     map[string]bool
	credits  []creditCall
	failures map[string]int
}

func newStubLedger() *stubLedger {
	return &stubLedger{keys: map[string]bool{}, failures: map[string]int{}}
}

func (stub *stubLedger) Credit(_ context.Context, touristID ledger.TouristID, amount ledger.PositivePoints, reason string, reference ledger.Reference) (ledger.Account, error) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	if stub.failures[touristID.String()] > 0 {
		stub.failures[touristID.String()]--
		return ledger.Account{}, errTransient
	}
	if stub.keys[reference.IdempotencyKey] {
		return ledger.Account{}, ledger.ErrDuplicateIdempotencyKey
	}
	stub.keys[reference.IdempotencyKey] = true
	stub.credits = append(stub.credits, creditCall{touristID: touristID.String(), amount: amount.Decimal(), reason: reason, reference: reference})
	return ledger.Account{TouristID: touristID}, nil
}

func (stub *stubLedger) creditsFor(touristID string) []creditCall {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	matched := make([]creditCall, 0)
	for _, call := range stub.credits {
		if call.touristID == touristID {
			matched = append(matched, call)
		}
	}
	return matched
}

func publishedTour(id string, date time.Time, price int64) catalog.Tour {
	return catalog.Tour{
		ID:          id,
		AuthorID:    "guide-1",
		Name:        "Tour " + id,
		Description: "Walk around " + id,
		Difficulty:  2,
		Category:    1,
		Price:       decimal.NewFromInt(price),
		Date:        date,
		State:       catalog.StateComplete,
	}
}

func completedPurchase(id string, touristID string, tourIDs ...string) purchase.Purchase {
	return purchase.Purchase{
		ID:          id,
		TouristID:   touristID,
		TourIDs:     tourIDs,
		TotalAmount: decimal.NewFromInt(100),
		FinalAmount: decimal.NewFromInt(100),
		PurchasedAt: tickNow.Add(-72 * time.Hour),
		Status:      purchase.StatusCompleted,
	}
}

func pendingReplacement(id string, tourID string) replacement.Replacement {
	return replacement.Replacement{
		ID:              id,
		TourID:          tourID,
		OriginalGuideID: "guide-1",
		Status:          replacement.StatusPending,
		RequestedAt:     tickNow.Add(-96 * time.Hour),
	}
}
