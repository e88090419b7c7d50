package httpapi

import (
	"time"

	"github.com/MarkoPoloResearchLab/tourledger/pkg/catalog"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/ledger"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/problem"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/purchase"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/replacement"
	"github.com/shopspring/decimal"
)

type purchaseRequest struct {
	BonusPoints *decimal.Decimal `json:"bonus_points"`
}

type expireRequest struct {
	Points         *decimal.Decimal `json:"points"`
	Reason         string           `json:"reason"`
	IdempotencyKey string           `json:"idempotency_key"`
}

type problemRequest struct {
	TourID      string `json:"tour_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type replacementRequest struct {
	TourID string `json:"tour_id"`
}

type pagePayload struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
}

func newPagePayload(page int, pageSize int, total int64) pagePayload {
	return pagePayload{Page: page, PageSize: pageSize, Total: total}
}

type accountPayload struct {
	TouristID string          `json:"tourist_id"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func newAccountPayload(account ledger.Account) accountPayload {
	return accountPayload{TouristID: account.TouristID.String(), Balance: account.Balance, UpdatedAt: account.UpdatedAt}
}

type transactionPayload struct {
	ID                string          `json:"id"`
	Kind              string          `json:"kind"`
	Amount            decimal.Decimal `json:"amount"`
	Reason            string          `json:"reason"`
	RelatedTourID     string          `json:"related_tour_id,omitempty"`
	RelatedPurchaseID string          `json:"related_purchase_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

func newTransactionPayload(transaction ledger.Transaction) transactionPayload {
	return transactionPayload{
		ID:                transaction.ID,
		Kind:              transaction.Kind.String(),
		Amount:            transaction.Amount,
		Reason:            transaction.Reason,
		RelatedTourID:     transaction.RelatedTourID,
		RelatedPurchaseID: transaction.RelatedPurchaseID,
		CreatedAt:         transaction.CreatedAt,
	}
}

type auditPayload struct {
	TouristID    string          `json:"tourist_id"`
	Balance      decimal.Decimal `json:"balance"`
	Replayed     decimal.Decimal `json:"replayed"`
	Transactions int64           `json:"transactions"`
	Consistent   bool            `json:"consistent"`
}

type purchasePayload struct {
	ID              string          `json:"id"`
	TourIDs         []string        `json:"tour_ids"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	BonusPointsUsed decimal.Decimal `json:"bonus_points_used"`
	FinalAmount     decimal.Decimal `json:"final_amount"`
	Status          string          `json:"status"`
	PurchasedAt     time.Time       `json:"purchased_at"`
}

func newPurchasePayload(item purchase.Purchase) purchasePayload {
	return purchasePayload{
		ID:              item.ID,
		TourIDs:         item.TourIDs,
		TotalAmount:     item.TotalAmount,
		BonusPointsUsed: item.BonusPointsUsed,
		FinalAmount:     item.FinalAmount,
		Status:          string(item.Status),
		PurchasedAt:     item.PurchasedAt,
	}
}

type problemPayload struct {
	ID          string     `json:"id"`
	TourID      string     `json:"tour_id"`
	TouristID   string     `json:"tourist_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	ReportedAt  time.Time  `json:"reported_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	EscalatedAt *time.Time `json:"escalated_at,omitempty"`
	RejectedAt  *time.Time `json:"rejected_at,omitempty"`
}

func newProblemPayload(item problem.Problem) problemPayload {
	return problemPayload{
		ID:          item.ID,
		TourID:      item.TourID,
		TouristID:   item.TouristID,
		Title:       item.Title,
		Description: item.Description,
		Status:      string(item.Status),
		ReportedAt:  item.ReportedAt,
		ResolvedAt:  item.ResolvedAt,
		EscalatedAt: item.ReviewRequestedAt,
		RejectedAt:  item.RejectedAt,
	}
}

type replacementPayload struct {
	ID                 string     `json:"id"`
	TourID             string     `json:"tour_id"`
	OriginalGuideID    string     `json:"original_guide_id"`
	ReplacementGuideID string     `json:"replacement_guide_id,omitempty"`
	Status             string     `json:"status"`
	RequestedAt        time.Time  `json:"requested_at"`
	AcceptedAt         *time.Time `json:"accepted_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	ExpiredAt          *time.Time `json:"expired_at,omitempty"`
}

func newReplacementPayload(item replacement.Replacement) replacementPayload {
	return replacementPayload{
		ID:                 item.ID,
		TourID:             item.TourID,
		OriginalGuideID:    item.OriginalGuideID,
		ReplacementGuideID: item.ReplacementGuideID,
		Status:             string(item.Status),
		RequestedAt:        item.RequestedAt,
		AcceptedAt:         item.AcceptedAt,
		CancelledAt:        item.CancelledAt,
		ExpiredAt:          item.ExpiredAt,
	}
}

type tourPayload struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	AuthorID string          `json:"author_id"`
	Date     time.Time       `json:"date"`
	Price    decimal.Decimal `json:"price"`
}

type replacementDetailsPayload struct {
	replacementPayload
	Tour *tourPayload `json:"tour,omitempty"`
}

func newReplacementDetailsPayload(details replacement.Details) replacementDetailsPayload {
	payload := replacementDetailsPayload{replacementPayload: newReplacementPayload(details.Replacement)}
	if details.Tour.ID != "" {
		payload.Tour = newTourPayload(details.Tour)
	}
	return payload
}

func newTourPayload(tour catalog.Tour) *tourPayload {
	return &tourPayload{ID: tour.ID, Name: tour.Name, AuthorID: tour.AuthorID, Date: tour.Date, Price: tour.Price}
}
