package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/tourledger/pkg/catalog"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/purchase"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CatalogStore reads and seeds tours and their key points.
type CatalogStore struct {
	db *gorm.DB
}

var _ purchase.TourReader = (*CatalogStore)(nil)

// NewCatalogStore returns a CatalogStore backed by gorm.DB.
func NewCatalogStore(db *gorm.DB) *CatalogStore {
	return &CatalogStore{db: db}
}

// SaveTour validates and upserts a tour.
func (store *CatalogStore) SaveTour(ctx context.Context, tour catalog.Tour) error {
	if err := tour.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	row := Tour{
		TourID:      tour.ID,
		AuthorID:    tour.AuthorID,
		Name:        tour.Name,
		Description: tour.Description,
		Difficulty:  tour.Difficulty,
		Category:    tour.Category,
		Price:       tour.Price,
		Date:        tour.Date.UTC(),
		State:       string(tour.State),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tour_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"author_id", "name", "description", "difficulty", "category", "price", "tour_date", "state", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectTour, errorCodeCreate, err)
	}
	return nil
}

// AddKeyPoint stores a key point of a tour.
func (store *CatalogStore) AddKeyPoint(ctx context.Context, keyPoint catalog.KeyPoint) error {
	row := KeyPoint{
		KeyPointID:  keyPoint.ID,
		TourID:      keyPoint.TourID,
		Name:        keyPoint.Name,
		Description: keyPoint.Description,
		SortOrder:   keyPoint.Order,
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapStoreError(errorSubjectTour, errorCodeCreate, err)
	}
	return nil
}

func (store *CatalogStore) GetTour(ctx context.Context, tourID string) (catalog.Tour, error) {
	var row Tour
	err := store.db.WithContext(ctx).Where("tour_id = ?", tourID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return catalog.Tour{}, wrapStoreError(errorSubjectTour, errorCodeGet, catalog.ErrTourNotFound)
		}
		return catalog.Tour{}, wrapStoreError(errorSubjectTour, errorCodeGet, err)
	}
	return mapTour(row)
}

// ListByAuthor returns the guide's tours, soonest first.
func (store *CatalogStore) ListByAuthor(ctx context.Context, authorID string) ([]catalog.Tour, error) {
	var rows []Tour
	err := store.db.WithContext(ctx).Where("author_id = ?", authorID).Order("tour_date ASC").Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTour, errorCodeList, err)
	}
	return mapTours(rows)
}

// ListPublishedBetween returns published tours dated within [from, to].
func (store *CatalogStore) ListPublishedBetween(ctx context.Context, from time.Time, to time.Time) ([]catalog.Tour, error) {
	var rows []Tour
	err := store.db.WithContext(ctx).
		Where("state = ? AND tour_date >= ? AND tour_date <= ?", string(catalog.StateComplete), from.UTC(), to.UTC()).
		Order("tour_date ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTour, errorCodeList, err)
	}
	return mapTours(rows)
}

// KeyPoints returns the tour's key points in order.
func (store *CatalogStore) KeyPoints(ctx context.Context, tourID string) ([]catalog.KeyPoint, error) {
	var rows []KeyPoint
	err := store.db.WithContext(ctx).Where("tour_id = ?", tourID).Order("sort_order ASC").Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTour, errorCodeList, err)
	}
	keyPoints := make([]catalog.KeyPoint, 0, len(rows))
	for _, row := range rows {
		keyPoints = append(keyPoints, catalog.KeyPoint{
			ID:          row.KeyPointID,
			TourID:      row.TourID,
			Name:        row.Name,
			Description: row.Description,
			Order:       row.SortOrder,
		})
	}
	return keyPoints, nil
}

func mapTours(rows []Tour) ([]catalog.Tour, error) {
	tours := make([]catalog.Tour, 0, len(rows))
	for _, row := range rows {
		tour, err := mapTour(row)
		if err != nil {
			return nil, err
		}
		tours = append(tours, tour)
	}
	return tours, nil
}

func mapTour(row Tour) (catalog.Tour, error) {
	state, err := catalog.ParseState(row.State)
	if err != nil {
		return catalog.Tour{}, wrapStoreError(errorSubjectTour, errorCodeInvalid, err)
	}
	return catalog.Tour{
		ID:          row.TourID,
		AuthorID:    row.AuthorID,
		Name:        row.Name,
		Description: row.Description,
		Difficulty:  row.Difficulty,
		Category:    row.Category,
		Price:       row.Price,
		Date:        row.Date.UTC(),
		State:       state,
	}, nil
}

// CartStore implements purchase.CartGateway on the cart_items table.
type CartStore struct {
	db *gorm.DB
}

var _ purchase.CartGateway = (*CartStore)(nil)

// NewCartStore returns a CartStore backed by gorm.DB.
func NewCartStore(db *gorm.DB) *CartStore {
	return &CartStore{db: db}
}

// AddToCart puts a tour in the tourist's cart. Adding it twice is a no-op.
func (store *CartStore) AddToCart(ctx context.Context, touristID string, tourID string, at time.Time) error {
	row := CartItem{TouristID: touristID, TourID: tourID, AddedAt: at.UTC()}
	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectCart, errorCodeCreate, err)
	}
	return nil
}

func (store *CartStore) GetCart(ctx context.Context, touristID string) (purchase.Cart, error) {
	var rows []CartItem
	err := store.db.WithContext(ctx).Where("tourist_id = ?", touristID).Order("added_at ASC").Order("tour_id ASC").Find(&rows).Error
	if err != nil {
		return purchase.Cart{}, wrapStoreError(errorSubjectCart, errorCodeList, err)
	}
	tourIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		tourIDs = append(tourIDs, row.TourID)
	}
	return purchase.Cart{TouristID: touristID, TourIDs: tourIDs}, nil
}

func (store *CartStore) ClearCart(ctx context.Context, touristID string) error {
	if err := store.db.WithContext(ctx).Where("tourist_id = ?", touristID).Delete(&CartItem{}).Error; err != nil {
		return wrapStoreError(errorSubjectCart, errorCodeUpdate, err)
	}
	return nil
}
