package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/tourledger/pkg/purchase"
	"gorm.io/gorm"
)

// PurchaseStore implements purchase.Store and the purchase queries of the
// problem workflow and the reconciliation workers.
type PurchaseStore struct {
	db *gorm.DB
}

var _ purchase.Store = (*PurchaseStore)(nil)

// NewPurchaseStore returns a PurchaseStore backed by gorm.DB.
func NewPurchaseStore(db *gorm.DB) *PurchaseStore {
	return &PurchaseStore{db: db}
}

func (store *PurchaseStore) Create(ctx context.Context, record purchase.Purchase) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		row := Purchase{
			PurchaseID:      record.ID,
			TouristID:       record.TouristID,
			TotalAmount:     record.TotalAmount,
			BonusPointsUsed: record.BonusPointsUsed,
			FinalAmount:     record.FinalAmount,
			Status:          string(record.Status),
			PurchasedAt:     record.PurchasedAt.UTC(),
		}
		if err := transaction.Create(&row).Error; err != nil {
			return wrapStoreError(errorSubjectPurchase, errorCodeCreate, err)
		}
		tours := make([]PurchaseTour, 0, len(record.TourIDs))
		for sortOrder, tourID := range record.TourIDs {
			tours = append(tours, PurchaseTour{PurchaseID: row.PurchaseID, TourID: tourID, SortOrder: sortOrder})
		}
		if err := transaction.Create(&tours).Error; err != nil {
			return wrapStoreError(errorSubjectPurchase, errorCodeCreate, err)
		}
		return nil
	})
}

func (store *PurchaseStore) Get(ctx context.Context, purchaseID string) (purchase.Purchase, error) {
	var row Purchase
	err := store.db.WithContext(ctx).Where("purchase_id = ?", purchaseID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return purchase.Purchase{}, wrapStoreError(errorSubjectPurchase, errorCodeGet, purchase.ErrPurchaseNotFound)
		}
		return purchase.Purchase{}, wrapStoreError(errorSubjectPurchase, errorCodeGet, err)
	}
	purchases, err := store.hydrate(ctx, []Purchase{row})
	if err != nil {
		return purchase.Purchase{}, err
	}
	return purchases[0], nil
}

func (store *PurchaseStore) ListByTourist(ctx context.Context, touristID string, offset int, limit int) ([]purchase.Purchase, int64, error) {
	query := store.db.WithContext(ctx).Model(&Purchase{}).Where("tourist_id = ?", touristID)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, wrapStoreError(errorSubjectPurchase, errorCodeCount, err)
	}
	var rows []Purchase
	err := store.db.WithContext(ctx).
		Where("tourist_id = ?", touristID).
		Order("purchased_at DESC").
		Order("purchase_id DESC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, 0, wrapStoreError(errorSubjectPurchase, errorCodeList, err)
	}
	purchases, err := store.hydrate(ctx, rows)
	if err != nil {
		return nil, 0, err
	}
	return purchases, total, nil
}

// HasCompletedPurchase reports whether the tourist holds a completed purchase
// containing tourID.
func (store *PurchaseStore) HasCompletedPurchase(ctx context.Context, touristID string, tourID string) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&Purchase{}).
		Joins("JOIN purchase_tours ON purchase_tours.purchase_id = purchases.purchase_id").
		Where("purchases.tourist_id = ? AND purchases.status = ? AND purchase_tours.tour_id = ?", touristID, string(purchase.StatusCompleted), tourID).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectPurchase, errorCodeLookup, err)
	}
	return count > 0, nil
}

// ListCompletedForTour returns every completed purchase containing tourID.
func (store *PurchaseStore) ListCompletedForTour(ctx context.Context, tourID string) ([]purchase.Purchase, error) {
	return store.listForTour(ctx, tourID, false)
}

// ListUnremindedForTour returns completed purchases containing tourID whose
// reminder for that tour has not been sent.
func (store *PurchaseStore) ListUnremindedForTour(ctx context.Context, tourID string) ([]purchase.Purchase, error) {
	return store.listForTour(ctx, tourID, true)
}

// MarkReminderSent records the reminder for one tour of a purchase. It fails
// with purchase.ErrReminderAlreadySent when the marker is already set.
func (store *PurchaseStore) MarkReminderSent(ctx context.Context, purchaseID string, tourID string, at time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&PurchaseTour{}).
		Where("purchase_id = ? AND tour_id = ? AND reminder_sent_at IS NULL", purchaseID, tourID).
		Update("reminder_sent_at", at.UTC())
	if result.Error != nil {
		return wrapStoreError(errorSubjectReminder, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := store.db.WithContext(ctx).Model(&PurchaseTour{}).Where("purchase_id = ? AND tour_id = ?", purchaseID, tourID).Count(&count).Error; err != nil {
			return wrapStoreError(errorSubjectReminder, errorCodeLookup, err)
		}
		if count == 0 {
			return wrapStoreError(errorSubjectReminder, errorCodeUpdate, purchase.ErrPurchaseNotFound)
		}
		return wrapStoreError(errorSubjectReminder, errorCodeUpdate, purchase.ErrReminderAlreadySent)
	}
	return nil
}

func (store *PurchaseStore) listForTour(ctx context.Context, tourID string, unremindedOnly bool) ([]purchase.Purchase, error) {
	query := store.db.WithContext(ctx).
		Model(&Purchase{}).
		Joins("JOIN purchase_tours ON purchase_tours.purchase_id = purchases.purchase_id").
		Where("purchases.status = ? AND purchase_tours.tour_id = ?", string(purchase.StatusCompleted), tourID)
	if unremindedOnly {
		query = query.Where("purchase_tours.reminder_sent_at IS NULL")
	}
	var rows []Purchase
	if err := query.Order("purchases.purchased_at ASC").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectPurchase, errorCodeList, err)
	}
	return store.hydrate(ctx, rows)
}

func (store *PurchaseStore) hydrate(ctx context.Context, rows []Purchase) ([]purchase.Purchase, error) {
	if len(rows) == 0 {
		return []purchase.Purchase{}, nil
	}
	purchaseIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		purchaseIDs = append(purchaseIDs, row.PurchaseID)
	}
	var tourRows []PurchaseTour
	err := store.db.WithContext(ctx).
		Where("purchase_id IN ?", purchaseIDs).
		Order("sort_order ASC").
		Find(&tourRows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectPurchase, errorCodeList, err)
	}
	toursByPurchase := make(map[string][]PurchaseTour, len(rows))
	for _, tourRow := range tourRows {
		toursByPurchase[tourRow.PurchaseID] = append(toursByPurchase[tourRow.PurchaseID], tourRow)
	}

	purchases := make([]purchase.Purchase, 0, len(rows))
	for _, row := range rows {
		status, err := purchase.ParseStatus(row.Status)
		if err != nil {
			return nil, wrapStoreError(errorSubjectPurchase, errorCodeInvalid, err)
		}
		tours := toursByPurchase[row.PurchaseID]
		tourIDs := make([]string, 0, len(tours))
		reminded := len(tours) > 0
		for _, tourRow := range tours {
			tourIDs = append(tourIDs, tourRow.TourID)
			if tourRow.ReminderSentAt == nil {
				reminded = false
			}
		}
		purchases = append(purchases, purchase.Purchase{
			ID:              row.PurchaseID,
			TouristID:       row.TouristID,
			TourIDs:         tourIDs,
			TotalAmount:     row.TotalAmount,
			BonusPointsUsed: row.BonusPointsUsed,
			FinalAmount:     row.FinalAmount,
			PurchasedAt:     row.PurchasedAt,
			Status:          status,
			ReminderSent:    reminded,
		})
	}
	return purchases, nil
}
