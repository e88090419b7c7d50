// Package notification defines the messages the booking core sends to tourists.
package notification

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CancellationReasonNoReplacement explains an expired replacement request.
const CancellationReasonNoReplacement = "The tour guide could not find a replacement guide."

// PurchaseConfirmation summarizes a completed purchase.
type PurchaseConfirmation struct {
	PurchaseID      string          `json:"purchase_id"`
	TourNames       []string        `json:"tour_names"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	BonusPointsUsed decimal.Decimal `json:"bonus_points_used"`
	FinalAmount     decimal.Decimal `json:"final_amount"`
	PurchasedAt     time.Time       `json:"purchased_at"`
}

// TourReminder announces a tour starting in about two days.
type TourReminder struct {
	PurchaseID      string    `json:"purchase_id"`
	TourID          string    `json:"tour_id"`
	TourName        string    `json:"tour_name"`
	TourDescription string    `json:"tour_description"`
	TourDate        time.Time `json:"tour_date"`
	KeyPoints       []string  `json:"key_points"`
}

// TourCancellation tells tourists a tour will not run and what they were refunded.
type TourCancellation struct {
	TourID       string          `json:"tour_id"`
	TourName     string          `json:"tour_name"`
	OriginalDate time.Time       `json:"original_date"`
	Reason       string          `json:"reason"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
}

// Sender delivers notifications. A nil error means the message was accepted.
type Sender interface {
	SendPurchaseConfirmation(ctx context.Context, touristID string, data PurchaseConfirmation) error
	SendTourReminder(ctx context.Context, touristID string, data TourReminder) error
	SendTourCancellation(ctx context.Context, touristIDs []string, data TourCancellation) error
}
