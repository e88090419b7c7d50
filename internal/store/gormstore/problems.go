package gormstore

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/tourledger/pkg/problem"
	"gorm.io/gorm"
)

// ProblemStore implements problem.Store using GORM.
type ProblemStore struct {
	db *gorm.DB
}

var _ problem.Store = (*ProblemStore)(nil)

// NewProblemStore returns a ProblemStore backed by gorm.DB.
func NewProblemStore(db *gorm.DB) *ProblemStore {
	return &ProblemStore{db: db}
}

func (store *ProblemStore) Create(ctx context.Context, record problem.Problem) error {
	row := TourProblem{
		ProblemID:         record.ID,
		TourID:            record.TourID,
		TouristID:         record.TouristID,
		Title:             record.Title,
		Description:       record.Description,
		Status:            string(record.Status),
		ReportedAt:        record.ReportedAt.UTC(),
		ResolvedAt:        record.ResolvedAt,
		ReviewRequestedAt: record.ReviewRequestedAt,
		RejectedAt:        record.RejectedAt,
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapStoreError(errorSubjectProblem, errorCodeCreate, err)
	}
	return nil
}

func (store *ProblemStore) Get(ctx context.Context, problemID string) (problem.Problem, error) {
	var row TourProblem
	err := store.db.WithContext(ctx).Where("problem_id = ?", problemID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return problem.Problem{}, wrapStoreError(errorSubjectProblem, errorCodeGet, problem.ErrProblemNotFound)
		}
		return problem.Problem{}, wrapStoreError(errorSubjectProblem, errorCodeGet, err)
	}
	return mapProblem(row)
}

// Transition writes updated only while the stored status is still from.
func (store *ProblemStore) Transition(ctx context.Context, updated problem.Problem, from problem.Status) error {
	result := store.db.WithContext(ctx).
		Model(&TourProblem{}).
		Where("problem_id = ? AND status = ?", updated.ID, string(from)).
		Updates(map[string]interface{}{
			"status":              string(updated.Status),
			"resolved_at":         updated.ResolvedAt,
			"review_requested_at": updated.ReviewRequestedAt,
			"rejected_at":         updated.RejectedAt,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectProblem, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := store.Get(ctx, updated.ID); err != nil {
			return err
		}
		return wrapStoreError(errorSubjectProblem, errorCodeUpdateStatus, problem.ErrInvalidTransition)
	}
	return nil
}

func (store *ProblemStore) ListByTourist(ctx context.Context, touristID string, offset int, limit int) ([]problem.Problem, int64, error) {
	return store.list(ctx, store.db.WithContext(ctx).Where("tourist_id = ?", touristID), "reported_at DESC", offset, limit)
}

func (store *ProblemStore) ListByTours(ctx context.Context, tourIDs []string, offset int, limit int) ([]problem.Problem, int64, error) {
	if len(tourIDs) == 0 {
		return []problem.Problem{}, 0, nil
	}
	return store.list(ctx, store.db.WithContext(ctx).Where("tour_id IN ?", tourIDs), "reported_at DESC", offset, limit)
}

func (store *ProblemStore) ListUnderReview(ctx context.Context, offset int, limit int) ([]problem.Problem, int64, error) {
	return store.list(ctx, store.db.WithContext(ctx).Where("status = ?", string(problem.StatusUnderReview)), "review_requested_at DESC", offset, limit)
}

func (store *ProblemStore) list(ctx context.Context, scope *gorm.DB, order string, offset int, limit int) ([]problem.Problem, int64, error) {
	var total int64
	if err := scope.Session(&gorm.Session{}).Model(&TourProblem{}).Count(&total).Error; err != nil {
		return nil, 0, wrapStoreError(errorSubjectProblem, errorCodeCount, err)
	}
	var rows []TourProblem
	err := scope.Session(&gorm.Session{}).
		Order(order).
		Order("problem_id DESC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, 0, wrapStoreError(errorSubjectProblem, errorCodeList, err)
	}
	problems := make([]problem.Problem, 0, len(rows))
	for _, row := range rows {
		mapped, err := mapProblem(row)
		if err != nil {
			return nil, 0, err
		}
		problems = append(problems, mapped)
	}
	return problems, total, nil
}

func mapProblem(row TourProblem) (problem.Problem, error) {
	status, err := problem.ParseStatus(row.Status)
	if err != nil {
		return problem.Problem{}, wrapStoreError(errorSubjectProblem, errorCodeInvalid, err)
	}
	return problem.Problem{
		ID:                row.ProblemID,
		TourID:            row.TourID,
		TouristID:         row.TouristID,
		Title:             row.Title,
		Description:       row.Description,
		Status:            status,
		ReportedAt:        row.ReportedAt,
		ResolvedAt:        row.ResolvedAt,
		ReviewRequestedAt: row.ReviewRequestedAt,
		RejectedAt:        row.RejectedAt,
	}, nil
}
