package gormstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account mirrors the bonus_accounts table.
type Account struct {
	TouristID string          `gorm:"primaryKey"`
	Balance   decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	CreatedAt time.Time       `gorm:"not null"`
	UpdatedAt time.Time       `gorm:"not null"`
}

func (Account) TableName() string { return "bonus_accounts" }

// LedgerTransaction mirrors the bonus_transactions table.
type LedgerTransaction struct {
	TransactionID     string          `gorm:"primaryKey"`
	TouristID         string          `gorm:"not null;index:idx_bonus_tx_tourist_created,priority:1;uniqueIndex:uniq_bonus_tx_idempotency,priority:1"`
	Kind              string          `gorm:"not null"`
	Amount            decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Reason            string          `gorm:"not null"`
	RelatedTourID     *string         `gorm:"index"`
	RelatedPurchaseID *string         `gorm:"index"`
	IdempotencyKey    *string         `gorm:"uniqueIndex:uniq_bonus_tx_idempotency,priority:2"`
	Metadata          datatypes.JSON  `gorm:"not null"`
	CreatedAt         time.Time       `gorm:"not null;index:idx_bonus_tx_tourist_created,priority:2"`
}

func (LedgerTransaction) TableName() string { return "bonus_transactions" }

func (transaction *LedgerTransaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}

// Purchase mirrors the purchases table.
type Purchase struct {
	PurchaseID      string          `gorm:"primaryKey"`
	TouristID       string          `gorm:"not null;index:idx_purchases_tourist_purchased,priority:1"`
	TotalAmount     decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	BonusPointsUsed decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	FinalAmount     decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Status          string          `gorm:"not null;index"`
	PurchasedAt     time.Time       `gorm:"not null;index:idx_purchases_tourist_purchased,priority:2"`
}

func (Purchase) TableName() string { return "purchases" }

func (purchase *Purchase) BeforeCreate(tx *gorm.DB) error {
	if purchase.PurchaseID == "" {
		purchase.PurchaseID = uuid.NewString()
	}
	return nil
}

// PurchaseTour is one tour of a purchase, with its reminder marker.
type PurchaseTour struct {
	PurchaseID     string `gorm:"primaryKey"`
	TourID         string `gorm:"primaryKey;index"`
	SortOrder      int    `gorm:"not null"`
	ReminderSentAt *time.Time
}

func (PurchaseTour) TableName() string { return "purchase_tours" }

// Tour mirrors the tours table.
type Tour struct {
	TourID      string          `gorm:"primaryKey"`
	AuthorID    string          `gorm:"not null;index"`
	Name        string          `gorm:"not null"`
	Description string          `gorm:"not null"`
	Difficulty  int             `gorm:"not null"`
	Category    int             `gorm:"not null"`
	Price       decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Date        time.Time       `gorm:"column:tour_date;not null;index"`
	State       string          `gorm:"not null;index"`
	CreatedAt   time.Time       `gorm:"not null"`
	UpdatedAt   time.Time       `gorm:"not null"`
}

func (Tour) TableName() string { return "tours" }

// KeyPoint mirrors the key_points table.
type KeyPoint struct {
	KeyPointID  string `gorm:"primaryKey"`
	TourID      string `gorm:"not null;index:idx_key_points_tour_sort_order,priority:1"`
	Name        string `gorm:"not null"`
	Description string `gorm:"not null"`
	SortOrder   int    `gorm:"not null;index:idx_key_points_tour_sort_order,priority:2"`
}

func (KeyPoint) TableName() string { return "key_points" }

func (keyPoint *KeyPoint) BeforeCreate(tx *gorm.DB) error {
	if keyPoint.KeyPointID == "" {
		keyPoint.KeyPointID = uuid.NewString()
	}
	return nil
}

// CartItem mirrors the cart_items table.
type CartItem struct {
	TouristID string    `gorm:"primaryKey"`
	TourID    string    `gorm:"primaryKey"`
	AddedAt   time.Time `gorm:"not null"`
}

func (CartItem) TableName() string { return "cart_items" }

// TourProblem mirrors the tour_problems table.
type TourProblem struct {
	ProblemID         string    `gorm:"primaryKey"`
	TourID            string    `gorm:"not null;index"`
	TouristID         string    `gorm:"not null;index"`
	Title             string    `gorm:"not null"`
	Description       string    `gorm:"not null"`
	Status            string    `gorm:"not null;index"`
	ReportedAt        time.Time `gorm:"not null"`
	ResolvedAt        *time.Time
	ReviewRequestedAt *time.Time
	RejectedAt        *time.Time
}

func (TourProblem) TableName() string { return "tour_problems" }

// TourReplacement mirrors the tour_replacements table. At most one pending
// row may exist per tour.
type TourReplacement struct {
	ReplacementID      string    `gorm:"primaryKey"`
	TourID             string    `gorm:"not null;index;uniqueIndex:uniq_replacements_pending_tour,where:status = 'pending'"`
	OriginalGuideID    string    `gorm:"not null;index"`
	ReplacementGuideID *string   `gorm:"index"`
	Status             string    `gorm:"not null;index"`
	RequestedAt        time.Time `gorm:"not null"`
	AcceptedAt         *time.Time
	CancelledAt        *time.Time
	ExpiredAt          *time.Time
	RefundsSettledAt   *time.Time
}

func (TourReplacement) TableName() string { return "tour_replacements" }

// Models lists every table for schema migration.
func Models() []any {
	return []any{
		&Account{},
		&LedgerTransaction{},
		&Purchase{},
		&PurchaseTour{},
		&Tour{},
		&KeyPoint{},
		&CartItem{},
		&TourProblem{},
		&TourReplacement{},
	}
}
