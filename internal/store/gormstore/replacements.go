package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/tourledger/pkg/catalog"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/replacement"
	"gorm.io/gorm"
)

// ReplacementStore implements replacement.Store using GORM.
type ReplacementStore struct {
	db *gorm.DB
}

var _ replacement.Store = (*ReplacementStore)(nil)

// NewReplacementStore returns a ReplacementStore backed by gorm.DB.
func NewReplacementStore(db *gorm.DB) *ReplacementStore {
	return &ReplacementStore{db: db}
}

func (store *ReplacementStore) Create(ctx context.Context, record replacement.Replacement) error {
	row := TourReplacement{
		ReplacementID:   record.ID,
		TourID:          record.TourID,
		OriginalGuideID: record.OriginalGuideID,
		Status:          string(record.Status),
		RequestedAt:     record.RequestedAt.UTC(),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err, constraintPendingReplacement) {
		return wrapStoreError(errorSubjectReplacement, errorCodeDuplicate, replacement.ErrPendingReplacementExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectReplacement, errorCodeCreate, err)
	}
	return nil
}

func (store *ReplacementStore) Get(ctx context.Context, replacementID string) (replacement.Replacement, error) {
	return getReplacement(ctx, store.db, replacementID)
}

func (store *ReplacementStore) HasPending(ctx context.Context, tourID string) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&TourReplacement{}).
		Where("tour_id = ? AND status = ?", tourID, string(replacement.StatusPending)).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectReplacement, errorCodeLookup, err)
	}
	return count > 0, nil
}

// Transition writes updated only while the stored status is still from.
func (store *ReplacementStore) Transition(ctx context.Context, updated replacement.Replacement, from replacement.Status) error {
	return transitionReplacement(ctx, store.db, updated, from)
}

// Accept records the acceptance and hands the tour to the accepting guide in
// one transaction.
func (store *ReplacementStore) Accept(ctx context.Context, updated replacement.Replacement) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		if err := transitionReplacement(ctx, transaction, updated, replacement.StatusPending); err != nil {
			return err
		}
		result := transaction.
			Model(&Tour{}).
			Where("tour_id = ?", updated.TourID).
			Updates(map[string]interface{}{
				"author_id":  updated.ReplacementGuideID,
				"updated_at": time.Now().UTC(),
			})
		if result.Error != nil {
			return wrapStoreError(errorSubjectTour, errorCodeUpdate, result.Error)
		}
		if result.RowsAffected == 0 {
			return wrapStoreError(errorSubjectTour, errorCodeUpdate, catalog.ErrTourNotFound)
		}
		return nil
	})
}

// ListPending returns pending requests, oldest first.
func (store *ReplacementStore) ListPending(ctx context.Context) ([]replacement.Replacement, error) {
	return store.find(ctx, store.db.WithContext(ctx).Where("status = ?", string(replacement.StatusPending)).Order("requested_at ASC"))
}

// ListExpiredUnsettled returns expired requests whose refunds are not settled.
func (store *ReplacementStore) ListExpiredUnsettled(ctx context.Context) ([]replacement.Replacement, error) {
	return store.find(ctx, store.db.WithContext(ctx).
		Where("status = ? AND refunds_settled_at IS NULL", string(replacement.StatusExpired)).
		Order("expired_at ASC"))
}

func (store *ReplacementStore) ListByOriginalGuide(ctx context.Context, guideID string, offset int, limit int) ([]replacement.Replacement, int64, error) {
	var total int64
	err := store.db.WithContext(ctx).Model(&TourReplacement{}).Where("original_guide_id = ?", guideID).Count(&total).Error
	if err != nil {
		return nil, 0, wrapStoreError(errorSubjectReplacement, errorCodeCount, err)
	}
	replacements, err := store.find(ctx, store.db.WithContext(ctx).
		Where("original_guide_id = ?", guideID).
		Order("requested_at DESC").
		Order("replacement_id DESC").
		Offset(offset).
		Limit(limit))
	if err != nil {
		return nil, 0, err
	}
	return replacements, total, nil
}

// MarkRefundsSettled stamps an expired request as settled. Settling twice is a no-op.
func (store *ReplacementStore) MarkRefundsSettled(ctx context.Context, replacementID string, at time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&TourReplacement{}).
		Where("replacement_id = ? AND status = ? AND refunds_settled_at IS NULL", replacementID, string(replacement.StatusExpired)).
		Update("refunds_settled_at", at.UTC())
	if result.Error != nil {
		return wrapStoreError(errorSubjectReplacement, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}
	current, err := store.Get(ctx, replacementID)
	if err != nil {
		return err
	}
	if current.Status != replacement.StatusExpired {
		return wrapStoreError(errorSubjectReplacement, errorCodeUpdate, replacement.ErrInvalidTransition)
	}
	return nil
}

func (store *ReplacementStore) find(ctx context.Context, query *gorm.DB) ([]replacement.Replacement, error) {
	var rows []TourReplacement
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectReplacement, errorCodeList, err)
	}
	replacements := make([]replacement.Replacement, 0, len(rows))
	for _, row := range rows {
		mapped, err := mapReplacement(row)
		if err != nil {
			return nil, err
		}
		replacements = append(replacements, mapped)
	}
	return replacements, nil
}

func getReplacement(ctx context.Context, db *gorm.DB, replacementID string) (replacement.Replacement, error) {
	var row TourReplacement
	err := db.WithContext(ctx).Where("replacement_id = ?", replacementID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return replacement.Replacement{}, wrapStoreError(errorSubjectReplacement, errorCodeGet, replacement.ErrReplacementNotFound)
		}
		return replacement.Replacement{}, wrapStoreError(errorSubjectReplacement, errorCodeGet, err)
	}
	return mapReplacement(row)
}

func transitionReplacement(ctx context.Context, db *gorm.DB, updated replacement.Replacement, from replacement.Status) error {
	result := db.WithContext(ctx).
		Model(&TourReplacement{}).
		Where("replacement_id = ? AND status = ?", updated.ID, string(from)).
		Updates(map[string]interface{}{
			"status":               string(updated.Status),
			"replacement_guide_id": optionalString(updated.ReplacementGuideID),
			"accepted_at":          updated.AcceptedAt,
			"cancelled_at":         updated.CancelledAt,
			"expired_at":           updated.ExpiredAt,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectReplacement, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := getReplacement(ctx, db, updated.ID); err != nil {
			return err
		}
		return wrapStoreError(errorSubjectReplacement, errorCodeUpdateStatus, replacement.ErrInvalidTransition)
	}
	return nil
}

func mapReplacement(row TourReplacement) (replacement.Replacement, error) {
	status, err := replacement.ParseStatus(row.Status)
	if err != nil {
		return replacement.Replacement{}, wrapStoreError(errorSubjectReplacement, errorCodeInvalid, err)
	}
	return replacement.Replacement{
		ID:                 row.ReplacementID,
		TourID:             row.TourID,
		OriginalGuideID:    row.OriginalGuideID,
		ReplacementGuideID: stringOrEmpty(row.ReplacementGuideID),
		Status:             status,
		RequestedAt:        row.RequestedAt,
		AcceptedAt:         row.AcceptedAt,
		CancelledAt:        row.CancelledAt,
		ExpiredAt:          row.ExpiredAt,
		RefundsSettledAt:   row.RefundsSettledAt,
	}, nil
}
