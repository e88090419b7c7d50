package gormstore

import (
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/tourledger/pkg/catalog"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/purchase"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func mustStorePurchase(test *testing.T, store *PurchaseStore, id string, touristID string, tourIDs []string, at time.Time) purchase.Purchase {
	test.Helper()
	record, err := purchase.NewPurchase(id, touristID, tourIDs, decimal.NewFromInt(150), decimal.NewFromInt(30), at)
	require.NoError(test, err)
	require.NoError(test, store.Create(testContext(test), record))
	return record
}

func TestPurchaseStoreRoundTrip(test *testing.T) {
	test.Parallel()
	store := NewPurchaseStore(openTestDB(test))
	ctx := testContext(test)
	created := mustStorePurchase(test, store, "purchase-1", "tourist-1", []string{"tour-b", "tour-a"}, baseTime)

	loaded, err := store.Get(ctx, created.ID)
	require.NoError(test, err)
	require.Equal(test, []string{"tour-b", "tour-a"}, loaded.TourIDs)
	require.True(test, loaded.TotalAmount.Equal(decimal.NewFromInt(150)))
	require.True(test, loaded.BonusPointsUsed.Equal(decimal.NewFromInt(30)))
	require.True(test, loaded.FinalAmount.Equal(decimal.NewFromInt(120)))
	require.Equal(test, purchase.StatusCompleted, loaded.Status)
	require.False(test, loaded.ReminderSent)
	require.True(test, loaded.PurchasedAt.Equal(baseTime))

	_, err = store.Get(ctx, "missing")
	require.ErrorIs(test, err, purchase.ErrPurchaseNotFound)
}

func TestPurchaseStoreListsNewestFirst(test *testing.T) {
	test.Parallel()
	store := NewPurchaseStore(openTestDB(test))
	ctx := testContext(test)
	for index, id := range []string{"purchase-1", "purchase-2", "purchase-3"} {
		mustStorePurchase(test, store, id, "tourist-1", []string{"tour-1"}, baseTime.Add(time.Duration(index)*time.Hour))
	}
	mustStorePurchase(test, store, "purchase-other", "tourist-2", []string{"tour-1"}, baseTime)

	page, total, err := store.ListByTourist(ctx, "tourist-1", 0, 2)
	require.NoError(test, err)
	require.EqualValues(test, 3, total)
	require.Len(test, page, 2)
	require.Equal(test, "purchase-3", page[0].ID)
	require.Equal(test, "purchase-2", page[1].ID)

	rest, _, err := store.ListByTourist(ctx, "tourist-1", 2, 2)
	require.NoError(test, err)
	require.Len(test, rest, 1)
	require.Equal(test, "purchase-1", rest[0].ID)
}

func TestPurchaseStoreOwnershipQuery(test *testing.T) {
	test.Parallel()
	store := NewPurchaseStore(openTestDB(test))
	ctx := testContext(test)
	mustStorePurchase(test, store, "purchase-1", "tourist-1", []string{"tour-1", "tour-2"}, baseTime)

	owned, err := store.HasCompletedPurchase(ctx, "tourist-1", "tour-2")
	require.NoError(test, err)
	require.True(test, owned)
	owned, err = store.HasCompletedPurchase(ctx, "tourist-1", "tour-3")
	require.NoError(test, err)
	require.False(test, owned)
	owned, err = store.HasCompletedPurchase(ctx, "tourist-2", "tour-1")
	require.NoError(test, err)
	require.False(test, owned)
}

func TestPurchaseStoreReminderMarkers(test *testing.T) {
	test.Parallel()
	store := NewPurchaseStore(openTestDB(test))
	ctx := testContext(test)
	mustStorePurchase(test, store, "purchase-1", "tourist-1", []string{"tour-1", "tour-2"}, baseTime)
	mustStorePurchase(test, store, "purchase-2", "tourist-2", []string{"tour-1"}, baseTime.Add(time.Minute))

	pending, err := store.ListUnremindedForTour(ctx, "tour-1")
	require.NoError(test, err)
	require.Len(test, pending, 2)

	require.NoError(test, store.MarkReminderSent(ctx, "purchase-1", "tour-1", baseTime))
	require.ErrorIs(test, store.MarkReminderSent(ctx, "purchase-1", "tour-1", baseTime), purchase.ErrReminderAlreadySent)
	require.ErrorIs(test, store.MarkReminderSent(ctx, "purchase-1", "tour-9", baseTime), purchase.ErrPurchaseNotFound)

	pending, err = store.ListUnremindedForTour(ctx, "tour-1")
	require.NoError(test, err)
	require.Len(test, pending, 1)
	require.Equal(test, "purchase-2", pending[0].ID)

	partially, err := store.Get(ctx, "purchase-1")
	require.NoError(test, err)
	require.False(test, partially.ReminderSent, "one tour still unreminded")
	require.NoError(test, store.MarkReminderSent(ctx, "purchase-1", "tour-2", baseTime))
	fully, err := store.Get(ctx, "purchase-1")
	require.NoError(test, err)
	require.True(test, fully.ReminderSent)

	completed, err := store.ListCompletedForTour(ctx, "tour-1")
	require.NoError(test, err)
	require.Len(test, completed, 2)
}

func TestCatalogStoreQueries(test *testing.T) {
	test.Parallel()
	db := openTestDB(test)
	catalogStore := NewCatalogStore(db)
	ctx := testContext(test)
	windowStart := baseTime.Add(47*time.Hour + 30*time.Minute)
	windowEnd := baseTime.Add(48*time.Hour + 30*time.Minute)
	seedTour(test, db, "tour-start", "guide-1", windowStart, catalog.StateComplete)
	seedTour(test, db, "tour-end", "guide-1", windowEnd, catalog.StateComplete)
	seedTour(test, db, "tour-after", "guide-2", windowEnd.Add(time.Second), catalog.StateComplete)
	seedTour(test, db, "tour-draft", "guide-2", windowStart.Add(time.Minute), catalog.StateDraft)

	tours, err := catalogStore.ListPublishedBetween(ctx, windowStart, windowEnd)
	require.NoError(test, err)
	require.Len(test, tours, 2)
	require.Equal(test, "tour-start", tours[0].ID)
	require.Equal(test, "tour-end", tours[1].ID)

	owned, err := catalogStore.ListByAuthor(ctx, "guide-2")
	require.NoError(test, err)
	require.Len(test, owned, 2)

	tour, err := catalogStore.GetTour(ctx, "tour-start")
	require.NoError(test, err)
	require.True(test, tour.Price.Equal(decimal.NewFromInt(75)))
	require.True(test, tour.Date.Equal(windowStart))
	require.True(test, tour.IsPublished())
	_, err = catalogStore.GetTour(ctx, "missing")
	require.ErrorIs(test, err, catalog.ErrTourNotFound)

	require.NoError(test, catalogStore.AddKeyPoint(ctx, catalog.KeyPoint{TourID: "tour-start", Name: "Fish market", Order: 2}))
	require.NoError(test, catalogStore.AddKeyPoint(ctx, catalog.KeyPoint{TourID: "tour-start", Name: "Clock tower", Order: 1}))
	keyPoints, err := catalogStore.KeyPoints(ctx, "tour-start")
	require.NoError(test, err)
	require.Len(test, keyPoints, 2)
	require.Equal(test, "Clock tower", keyPoints[0].Name)

	require.Error(test, catalogStore.SaveTour(ctx, catalog.Tour{ID: "bad"}))
}

func TestCartStore(test *testing.T) {
	test.Parallel()
	cart := NewCartStore(openTestDB(test))
	ctx := testContext(test)
	require.NoError(test, cart.AddToCart(ctx, "tourist-1", "tour-2", baseTime))
	require.NoError(test, cart.AddToCart(ctx, "tourist-1", "tour-1", baseTime.Add(time.Minute)))
	require.NoError(test, cart.AddToCart(ctx, "tourist-1", "tour-2", baseTime.Add(time.Hour)))

	loaded, err := cart.GetCart(ctx, "tourist-1")
	require.NoError(test, err)
	require.Equal(test, []string{"tour-2", "tour-1"}, loaded.TourIDs)

	require.NoError(test, cart.ClearCart(ctx, "tourist-1"))
	loaded, err = cart.GetCart(ctx, "tourist-1")
	require.NoError(test, err)
	require.Empty(test, loaded.TourIDs)
}
